package payment

import (
	"fmt"
	"math/big"

	"github.com/nuwa-protocol/subrav-go/pkg/model"
)

// BillingStrategy computes a cost in picoUSD for a matched rule (spec
// §4.3). Evaluate is a pure function of ctx; it must not mutate ctx.
type BillingStrategy interface {
	// Evaluate returns the cost, in picoUSD, of the request described by ctx.
	Evaluate(ctx *model.BillingContext) (*big.Int, error)
	// IsDeferred reports whether this strategy's cost can only be computed
	// after the business handler has run (PerToken, FinalCost) as opposed to
	// up front (PerRequest).
	IsDeferred() bool
}

// StrategyForRule returns the BillingStrategy implementation for rule's
// configured kind.
func StrategyForRule(rule *model.BillingRule) (BillingStrategy, error) {
	if rule == nil {
		return nil, fmt.Errorf("payment: StrategyForRule: nil rule")
	}
	switch rule.Strategy.Kind {
	case model.StrategyPerRequest:
		return PerRequestStrategy{Price: rule.Strategy.PricePicoUSD}, nil
	case model.StrategyPerToken:
		return PerTokenStrategy{UnitPrice: rule.Strategy.UnitPricePicoUSD, UsageKey: rule.Strategy.UsageKey}, nil
	case model.StrategyFinalCost:
		return FinalCostStrategy{}, nil
	default:
		return nil, fmt.Errorf("payment: unknown strategy kind %q", rule.Strategy.Kind)
	}
}

// PerRequestStrategy charges a fixed price per request, independent of
// usage (spec §4.3).
type PerRequestStrategy struct {
	Price *big.Int
}

func (s PerRequestStrategy) Evaluate(*model.BillingContext) (*big.Int, error) {
	if s.Price == nil {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(s.Price), nil
}

func (PerRequestStrategy) IsDeferred() bool { return false }

// PerTokenStrategy charges unitPrice × usage, where usage is read from
// ctx.Meta.Usage[UsageKey] after the business handler has populated it
// (spec §4.3). Supported usage value types are any integer kind or
// *big.Int.
type PerTokenStrategy struct {
	UnitPrice *big.Int
	UsageKey  string
}

func (s PerTokenStrategy) Evaluate(ctx *model.BillingContext) (*big.Int, error) {
	if ctx == nil || ctx.Meta.Usage == nil {
		return big.NewInt(0), nil
	}
	raw, ok := ctx.Meta.Usage[s.UsageKey]
	if !ok {
		return big.NewInt(0), nil
	}
	count, err := toBigInt(raw)
	if err != nil {
		return nil, fmt.Errorf("payment: PerTokenStrategy: usage[%s]: %w", s.UsageKey, err)
	}
	unit := s.UnitPrice
	if unit == nil {
		unit = big.NewInt(0)
	}
	return new(big.Int).Mul(unit, count), nil
}

func (PerTokenStrategy) IsDeferred() bool { return true }

// FinalCostStrategy reads a handler-computed cost directly from
// ctx.Meta.Usage["finalCostPicoUSD"] (spec §4.3).
type FinalCostStrategy struct{}

const finalCostUsageKey = "finalCostPicoUSD"

func (FinalCostStrategy) Evaluate(ctx *model.BillingContext) (*big.Int, error) {
	if ctx == nil || ctx.Meta.Usage == nil {
		return big.NewInt(0), nil
	}
	raw, ok := ctx.Meta.Usage[finalCostUsageKey]
	if !ok {
		return big.NewInt(0), nil
	}
	cost, err := toBigInt(raw)
	if err != nil {
		return nil, fmt.Errorf("payment: FinalCostStrategy: %s: %w", finalCostUsageKey, err)
	}
	return cost, nil
}

func (FinalCostStrategy) IsDeferred() bool { return true }

func toBigInt(v any) (*big.Int, error) {
	switch n := v.(type) {
	case *big.Int:
		return new(big.Int).Set(n), nil
	case int:
		return big.NewInt(int64(n)), nil
	case int64:
		return big.NewInt(n), nil
	case uint64:
		return new(big.Int).SetUint64(n), nil
	default:
		return nil, fmt.Errorf("unsupported usage value type %T", v)
	}
}
