package blockchain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/nuwa-protocol/subrav-go/pkg/model"
)

// Contract is the EVM implementation of the payment-channel contract
// interface (spec §4.8). It satisfies pkg/payment.ContractClient and
// pkg/payment.ClaimSubmitter, and additionally exposes the channel-lifecycle
// operations (open/authorize/close) pkg/payerclient needs.
type Contract struct {
	evm *EVMClient
}

// NewContract wraps an initialized EVMClient as a Contract.
func NewContract(evm *EVMClient) *Contract {
	return &Contract{evm: evm}
}

var channelStatusByCode = map[uint8]model.ChannelStatus{
	0: model.ChannelActive,
	1: model.ChannelClosing,
	2: model.ChannelClosed,
}

type channelsResult struct {
	PayerDid string
	PayeeDid string
	AssetId  [32]byte
	Epoch    uint64
	Status   uint8
}

// GetChannelInfo implements pkg/payment.ContractClient.
func (c *Contract) GetChannelInfo(ctx context.Context, channelID string) (*model.ChannelInfo, error) {
	idBytes, err := channelIDToBytes32(channelID)
	if err != nil {
		return nil, err
	}

	var out []interface{}
	opts := &bind.CallOpts{Context: ctx}
	if err := c.evm.Contract.Call(opts, &out, "channels", idBytes); err != nil {
		return nil, fmt.Errorf("blockchain: channels(%s): %w", channelID, err)
	}
	res := channelsResult{
		PayerDid: *asString(out[0]),
		PayeeDid: *asString(out[1]),
		AssetId:  out[2].([32]byte),
		Epoch:    out[3].(uint64),
		Status:   out[4].(uint8),
	}
	if res.PayerDid == "" {
		return nil, fmt.Errorf("blockchain: channel %s not found", channelID)
	}

	status, ok := channelStatusByCode[res.Status]
	if !ok {
		status = model.ChannelClosed
	}

	return &model.ChannelInfo{
		ChannelID: channelID,
		PayerDID:  res.PayerDid,
		PayeeDID:  res.PayeeDid,
		AssetID:   bytes32ToAssetID(res.AssetId),
		Epoch:     res.Epoch,
		Status:    status,
	}, nil
}

// IsSubChannelAuthorized implements pkg/payment.ContractClient.
func (c *Contract) IsSubChannelAuthorized(ctx context.Context, channelID, vmIDFragment string) (bool, error) {
	sub, err := c.getSubChannel(ctx, channelID, vmIDFragment)
	if err != nil {
		return false, err
	}
	return sub.authorized, nil
}

type subChannelsResult struct {
	authorized         bool
	epoch              uint64
	lastClaimedAmount  *big.Int
	lastConfirmedNonce uint64
	publicKey          []byte
	methodType         string
}

func (c *Contract) getSubChannel(ctx context.Context, channelID, vmIDFragment string) (*subChannelsResult, error) {
	idBytes, err := channelIDToBytes32(channelID)
	if err != nil {
		return nil, err
	}

	var out []interface{}
	opts := &bind.CallOpts{Context: ctx}
	if err := c.evm.Contract.Call(opts, &out, "subChannels", idBytes, vmIDFragment); err != nil {
		return nil, fmt.Errorf("blockchain: subChannels(%s,%s): %w", channelID, vmIDFragment, err)
	}
	return &subChannelsResult{
		authorized:         out[0].(bool),
		epoch:              out[1].(uint64),
		lastClaimedAmount:  out[2].(*big.Int),
		lastConfirmedNonce: out[3].(uint64),
		publicKey:          out[4].([]byte),
		methodType:         out[5].(string),
	}, nil
}

// GetSubChannel returns the on-chain-confirmed state of one payer key inside
// one channel (spec §3 SubChannelInfo).
func (c *Contract) GetSubChannel(ctx context.Context, channelID, vmIDFragment string) (*model.SubChannelInfo, error) {
	sub, err := c.getSubChannel(ctx, channelID, vmIDFragment)
	if err != nil {
		return nil, err
	}
	if !sub.authorized {
		return nil, fmt.Errorf("blockchain: sub-channel %s/%s not authorized", channelID, vmIDFragment)
	}
	return &model.SubChannelInfo{
		ChannelID:          channelID,
		VmIDFragment:       vmIDFragment,
		Epoch:              sub.epoch,
		LastClaimedAmount:  sub.lastClaimedAmount,
		LastConfirmedNonce: sub.lastConfirmedNonce,
		PublicKey:          sub.publicKey,
		MethodType:         sub.methodType,
	}, nil
}

// GetChannelStatus reports the lifecycle status of a channel.
func (c *Contract) GetChannelStatus(ctx context.Context, channelID string) (model.ChannelStatus, error) {
	info, err := c.GetChannelInfo(ctx, channelID)
	if err != nil {
		return "", err
	}
	return info.Status, nil
}

// GetChainID returns the chain ID the contract itself reports, used to check
// signedSubRav.chainId against contract.chainId per the spec's hard
// BAD_REQUEST check (§9 Open Question #2).
func (c *Contract) GetChainID(ctx context.Context) (uint64, error) {
	var out []interface{}
	opts := &bind.CallOpts{Context: ctx}
	if err := c.evm.Contract.Call(opts, &out, "chainId"); err != nil {
		return 0, fmt.Errorf("blockchain: chainId(): %w", err)
	}
	return out[0].(uint64), nil
}

// GetAssetInfo returns symbol/decimals for an asset, used by pkg/payment's
// RateProvider implementation (rate.go in this package).
func (c *Contract) GetAssetInfo(ctx context.Context, assetID string) (symbol string, decimals uint8, err error) {
	idBytes, err := assetIDToBytes32(assetID)
	if err != nil {
		return "", 0, err
	}
	var out []interface{}
	opts := &bind.CallOpts{Context: ctx}
	if err := c.evm.Contract.Call(opts, &out, "getAssetInfo", idBytes); err != nil {
		return "", 0, fmt.Errorf("blockchain: getAssetInfo(%s): %w", assetID, err)
	}
	return *asString(out[0]), out[1].(uint8), nil
}

// GetAssetPrice returns the picoUSD price of one asset unit.
func (c *Contract) GetAssetPrice(ctx context.Context, assetID string) (*big.Int, error) {
	idBytes, err := assetIDToBytes32(assetID)
	if err != nil {
		return nil, err
	}
	var out []interface{}
	opts := &bind.CallOpts{Context: ctx}
	if err := c.evm.Contract.Call(opts, &out, "getAssetPrice", idBytes); err != nil {
		return nil, fmt.Errorf("blockchain: getAssetPrice(%s): %w", assetID, err)
	}
	return out[0].(*big.Int), nil
}

// GetHubBalance returns the payee hub's on-chain balance for an asset, used
// as the optional gate before a claim is submitted (spec §4.5).
func (c *Contract) GetHubBalance(ctx context.Context, assetID string) (*big.Int, error) {
	idBytes, err := assetIDToBytes32(assetID)
	if err != nil {
		return nil, err
	}
	var out []interface{}
	opts := &bind.CallOpts{Context: ctx}
	if err := c.evm.Contract.Call(opts, &out, "getHubBalance", idBytes); err != nil {
		return nil, fmt.Errorf("blockchain: getHubBalance(%s): %w", assetID, err)
	}
	return out[0].(*big.Int), nil
}

// ClaimResult is the outcome of a submitted claim (spec §4.8).
type ClaimResult struct {
	TxHash        common.Hash
	ClaimedAmount *big.Int
}

// Claim implements pkg/payment.ClaimSubmitter by submitting the latest
// signed SubRAV to claimFromChannel and waiting for the receipt.
func (c *Contract) Claim(ctx context.Context, signed *model.SignedSubRAV) error {
	_, err := c.ClaimFromChannel(ctx, signed)
	return err
}

// ClaimFromChannel is the full form of Claim, returning the claimed amount.
// Replaying a claim with nonce <= lastConfirmedNonce succeeds with
// claimedAmount=0, per spec §4.8 — that is the contract's behavior, not
// something this adapter special-cases.
func (c *Contract) ClaimFromChannel(ctx context.Context, signed *model.SignedSubRAV, txOpts ...*bind.TransactOpts) (*ClaimResult, error) {
	idBytes, err := channelIDToBytes32(signed.SubRav.ChannelID)
	if err != nil {
		return nil, err
	}
	opts := transactOptsOrDefault(txOpts)
	opts.Context = ctx

	tx, err := c.evm.Contract.Transact(opts, "claimFromChannel",
		idBytes, signed.SubRav.VmIDFragment, signed.SubRav.AccumulatedAmount, signed.SubRav.Nonce, signed.Signature)
	if err != nil {
		zap.L().Error("claimFromChannel failed", zap.String("channelId", signed.SubRav.ChannelID), zap.Error(err))
		return nil, fmt.Errorf("blockchain: claimFromChannel: %w", err)
	}

	receipt, err := c.evm.WaitForTransaction(ctx, tx.Hash(), 0)
	if err != nil {
		return nil, err
	}
	return &ClaimResult{TxHash: receipt.TxHash, ClaimedAmount: signed.SubRav.AccumulatedAmount}, nil
}

// OpenChannel opens a channel without pre-authorizing any sub-channel.
func (c *Contract) OpenChannel(ctx context.Context, payerDID, payeeDID, assetID string, deposit *big.Int, txOpts *bind.TransactOpts) (common.Hash, string, error) {
	assetBytes, err := assetIDToBytes32(assetID)
	if err != nil {
		return common.Hash{}, "", err
	}
	txOpts.Context = ctx
	tx, err := c.evm.Contract.Transact(txOpts, "openChannel", payerDID, payeeDID, assetBytes, deposit)
	if err != nil {
		return common.Hash{}, "", fmt.Errorf("blockchain: openChannel: %w", err)
	}
	receipt, err := c.evm.WaitForTransaction(ctx, tx.Hash(), 0)
	if err != nil {
		return common.Hash{}, "", err
	}
	channelID, err := channelIDFromReceipt(c.evm, receipt, "ChannelOpen")
	if err != nil {
		return receipt.TxHash, "", err
	}
	return receipt.TxHash, channelID, nil
}

// OpenChannelWithSubChannel opens a channel and authorizes its first
// sub-channel in a single transaction.
func (c *Contract) OpenChannelWithSubChannel(ctx context.Context, payerDID, payeeDID, assetID string, deposit *big.Int, vmIDFragment string, publicKey []byte, txOpts *bind.TransactOpts) (common.Hash, string, error) {
	assetBytes, err := assetIDToBytes32(assetID)
	if err != nil {
		return common.Hash{}, "", err
	}
	txOpts.Context = ctx
	tx, err := c.evm.Contract.Transact(txOpts, "openChannelWithSubChannel", payerDID, payeeDID, assetBytes, deposit, vmIDFragment, publicKey)
	if err != nil {
		return common.Hash{}, "", fmt.Errorf("blockchain: openChannelWithSubChannel: %w", err)
	}
	receipt, err := c.evm.WaitForTransaction(ctx, tx.Hash(), 0)
	if err != nil {
		return common.Hash{}, "", err
	}
	channelID, err := channelIDFromReceipt(c.evm, receipt, "ChannelOpen")
	if err != nil {
		return receipt.TxHash, "", err
	}
	return receipt.TxHash, channelID, nil
}

// AuthorizeSubChannel registers a new payer verification method on an
// existing channel.
func (c *Contract) AuthorizeSubChannel(ctx context.Context, channelID, vmIDFragment string, publicKey []byte, methodType string, txOpts *bind.TransactOpts) (common.Hash, error) {
	idBytes, err := channelIDToBytes32(channelID)
	if err != nil {
		return common.Hash{}, err
	}
	txOpts.Context = ctx
	tx, err := c.evm.Contract.Transact(txOpts, "authorizeSubChannel", idBytes, vmIDFragment, publicKey, methodType)
	if err != nil {
		return common.Hash{}, fmt.Errorf("blockchain: authorizeSubChannel: %w", err)
	}
	receipt, err := c.evm.WaitForTransaction(ctx, tx.Hash(), 0)
	if err != nil {
		return common.Hash{}, err
	}
	return receipt.TxHash, nil
}

// CloseChannel closes a channel, returning the channel's remaining balance
// to the payer and releasing the payee's claim rights.
func (c *Contract) CloseChannel(ctx context.Context, channelID string, txOpts *bind.TransactOpts) (common.Hash, error) {
	idBytes, err := channelIDToBytes32(channelID)
	if err != nil {
		return common.Hash{}, err
	}
	txOpts.Context = ctx
	tx, err := c.evm.Contract.Transact(txOpts, "closeChannel", idBytes)
	if err != nil {
		return common.Hash{}, fmt.Errorf("blockchain: closeChannel: %w", err)
	}
	receipt, err := c.evm.WaitForTransaction(ctx, tx.Hash(), 0)
	if err != nil {
		return common.Hash{}, err
	}
	return receipt.TxHash, nil
}

func transactOptsOrDefault(opts []*bind.TransactOpts) *bind.TransactOpts {
	if len(opts) > 0 && opts[0] != nil {
		return opts[0]
	}
	return &bind.TransactOpts{}
}

// channelIDFromReceipt extracts the channelId topic from the named event in
// a transaction receipt's logs.
func channelIDFromReceipt(evm *EVMClient, receipt *types.Receipt, eventName string) (string, error) {
	ev, ok := evm.ABI.Events[eventName]
	if !ok {
		return "", fmt.Errorf("blockchain: unknown event %s", eventName)
	}
	for _, log := range receipt.Logs {
		if len(log.Topics) == 0 || log.Topics[0] != ev.ID {
			continue
		}
		if len(log.Topics) < 2 {
			continue
		}
		return common.Hash(log.Topics[1]).Hex(), nil
	}
	return "", fmt.Errorf("blockchain: %s event not found in receipt", eventName)
}

func channelIDToBytes32(channelID string) ([32]byte, error) {
	if !model.ValidChannelID(channelID) {
		return [32]byte{}, fmt.Errorf("blockchain: invalid channelId %q", channelID)
	}
	return common.HexToHash(channelID), nil
}

func assetIDToBytes32(assetID string) ([32]byte, error) {
	return StringToBytes32(assetID), nil
}

func bytes32ToAssetID(b [32]byte) string {
	return Bytes32ArrayToStrings([][32]byte{b})[0]
}

// asString defends against the abi decoder handing back either a string or
// a *string depending on Go-ethereum version quirks around dynamic types in
// Call's untyped []interface{} path.
func asString(v interface{}) *string {
	switch s := v.(type) {
	case string:
		return &s
	case *string:
		return s
	default:
		empty := ""
		return &empty
	}
}
