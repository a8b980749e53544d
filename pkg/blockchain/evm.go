package blockchain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// BindOpts carries pre-built bind.* opts used for calls, txs, and filters.
// Contexts embedded into these opts are also used as the operation context.
type BindOpts struct {
	Call     *bind.CallOpts
	Transact *bind.TransactOpts
	Filter   *bind.FilterOpts
}

// ctxFromBind extracts a non-nil Context from BindOpts (Call → Transact).
// If none are set, it returns context.TODO() to force explicit context
// propagation by callers.
func ctxFromBind(opts *BindOpts) context.Context {
	switch {
	case opts != nil && opts.Call != nil && opts.Call.Context != nil:
		return opts.Call.Context
	case opts != nil && opts.Transact != nil && opts.Transact.Context != nil:
		return opts.Transact.Context
	default:
		return context.TODO()
	}
}

// withTimeout returns ctx if d <= 0, otherwise returns a child context with timeout d.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}

// GetCallOpts builds bind.CallOpts with a fixed block number and context.
func GetCallOpts(fromAddress common.Address, currentBlockNumber *int64, ctx context.Context) *bind.CallOpts {
	opts := &bind.CallOpts{Pending: false, From: fromAddress, Context: ctx}
	if currentBlockNumber != nil {
		opts.BlockNumber = bigFromInt64(*currentBlockNumber)
	}
	return opts
}

// GetFilterOpts builds bind.FilterOpts from genesis (Start=0) to
// currentBlockNumber using ctx.
func GetFilterOpts(currentBlockNumber uint64, ctx context.Context) *bind.FilterOpts {
	return &bind.FilterOpts{Start: 0, End: &currentBlockNumber, Context: ctx}
}

// GetCurrentBlockNumber returns the latest block number using the provided context.
func (eth *EVMClient) GetCurrentBlockNumber(ctx context.Context) (uint64, error) {
	header, err := eth.Client.HeaderByNumber(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("blockchain: header by number: %w", err)
	}
	return header.Number.Uint64(), nil
}

// WaitForTransaction polls for a transaction receipt with exponential backoff,
// until a receipt is available, the context is done, or a non-retryable error
// occurs. If maxBackoff is non-zero, backoff will not exceed it. It returns an
// error if the transaction reverted.
func (eth *EVMClient) WaitForTransaction(ctx context.Context, txHash common.Hash, maxBackoff time.Duration) (*types.Receipt, error) {
	backoff := time.Second
	for {
		receipt, err := eth.Client.TransactionReceipt(ctx, txHash)
		switch {
		case err == nil:
			if receipt.Status == types.ReceiptStatusFailed {
				return nil, fmt.Errorf("blockchain: tx reverted: %s", txHash)
			}
			return receipt, nil
		case errors.Is(err, ethereum.NotFound):
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			if maxBackoff == 0 || backoff < maxBackoff {
				backoff *= 2
			}
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return nil, err
		default:
			return nil, fmt.Errorf("blockchain: receipt error: %w", err)
		}
	}
}

func bigFromInt64(v int64) *big.Int {
	return big.NewInt(v)
}
