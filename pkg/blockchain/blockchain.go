// Package blockchain provides the EVM adapter for the payment-channel
// contract (spec §4.8). It initializes an Ethereum client, binds a generic
// contract through bind.BoundContract (there is no abigen output for this
// contract shape, so the ABI is hand-maintained in abi.go), and exposes the
// narrow read/write surface the core payment engine and the claim scheduler
// depend on.
package blockchain

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"
)

var (
	// HashPrefix32Bytes is the standard Ethereum personal-sign prefix for 32-byte
	// messages: "\x19Ethereum Signed Message:\n32".
	HashPrefix32Bytes = []byte("\x19Ethereum Signed Message:\n32")
)

// EVMClient holds a connected ethclient.Client and a generic bound contract
// instance for the payment-channel contract.
type EVMClient struct {
	Client   *ethclient.Client
	Address  common.Address
	Contract *bind.BoundContract
	ABI      abi.ABI
}

// InitEvm dials an Ethereum endpoint and binds the payment-channel contract
// at contractAddress using the package's hand-maintained ABI.
func InitEvm(endpoint string, contractAddress common.Address) (*EVMClient, error) {
	parsedABI, err := abi.JSON(strings.NewReader(paymentChannelABI))
	if err != nil {
		zap.L().Error("failed to parse payment channel ABI", zap.Error(err))
		return nil, err
	}

	client, err := ethclient.Dial(endpoint)
	if err != nil {
		zap.L().Error("failed to dial ethereum endpoint", zap.String("endpoint", endpoint), zap.Error(err))
		return nil, err
	}

	bound := bind.NewBoundContract(contractAddress, parsedABI, client, client, client)

	return &EVMClient{
		Client:   client,
		Address:  contractAddress,
		Contract: bound,
		ABI:      parsedABI,
	}, nil
}

// Close releases the underlying RPC connection.
func (eth *EVMClient) Close() {
	if eth.Client != nil {
		eth.Client.Close()
	}
}
