package payerclient

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"

	"github.com/nuwa-protocol/subrav-go/pkg/model"
)

// Contract is the narrow slice of the payment-channel contract interface
// (spec §4.8) a payer needs to bring a channel to a usable state. It is
// satisfied by *pkg/blockchain.Contract without modification; the payee
// side (pkg/payment.ContractClient, pkg/payment.ClaimSubmitter) narrows the
// same concrete type along a different seam.
type Contract interface {
	GetChannelInfo(ctx context.Context, channelID string) (*model.ChannelInfo, error)
	GetSubChannel(ctx context.Context, channelID, vmIDFragment string) (*model.SubChannelInfo, error)
	GetChannelStatus(ctx context.Context, channelID string) (model.ChannelStatus, error)
	GetChainID(ctx context.Context) (uint64, error)

	OpenChannel(ctx context.Context, payerDID, payeeDID, assetID string, deposit *big.Int, txOpts *bind.TransactOpts) (common.Hash, string, error)
	OpenChannelWithSubChannel(ctx context.Context, payerDID, payeeDID, assetID string, deposit *big.Int, vmIDFragment string, publicKey []byte, txOpts *bind.TransactOpts) (common.Hash, string, error)
	AuthorizeSubChannel(ctx context.Context, channelID, vmIDFragment string, publicKey []byte, methodType string, txOpts *bind.TransactOpts) (common.Hash, error)
	CloseChannel(ctx context.Context, channelID string, txOpts *bind.TransactOpts) (common.Hash, error)
}
