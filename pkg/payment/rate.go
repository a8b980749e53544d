package payment

import (
	"fmt"
	"math/big"
)

// AssetInfo describes the asset a channel is denominated in (spec §4.8).
type AssetInfo struct {
	AssetID  string
	Symbol   string
	Decimals uint8
}

// RateProvider supplies the USD price of one asset unit, in picoUSD, plus
// the asset's decimals (spec §4.3, §4.8). Implementations MAY cache for up
// to N seconds (30s reference); pkg/blockchain's implementation does.
type RateProvider interface {
	GetPricePicoUSD(assetID string) (*big.Int, error)
	GetAssetInfo(assetID string) (*AssetInfo, error)
}

// ConvertUSDToAsset applies spec §4.3/P4's conversion:
//
//	assetAmount = ceil(costPicoUSD * 10^decimals / pricePicoUSD)
//
// using exact integer arithmetic throughout so the payee is never
// under-billed by truncation.
func ConvertUSDToAsset(costPicoUSD *big.Int, pricePicoUSD *big.Int, decimals uint8) (*big.Int, error) {
	if costPicoUSD == nil || costPicoUSD.Sign() == 0 {
		return big.NewInt(0), nil
	}
	if costPicoUSD.Sign() < 0 {
		return nil, fmt.Errorf("payment: ConvertUSDToAsset: negative costPicoUSD")
	}
	if pricePicoUSD == nil || pricePicoUSD.Sign() <= 0 {
		return nil, fmt.Errorf("payment: ConvertUSDToAsset: pricePicoUSD must be positive")
	}

	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	numerator := new(big.Int).Mul(costPicoUSD, scale)

	quotient, remainder := new(big.Int).QuoRem(numerator, pricePicoUSD, new(big.Int))
	if remainder.Sign() != 0 {
		quotient.Add(quotient, big.NewInt(1))
	}
	return quotient, nil
}
