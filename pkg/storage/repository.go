package storage

import (
	"context"
	"math/big"
	"time"

	"github.com/nuwa-protocol/subrav-go/pkg/model"
)

// ChannelFilter narrows ChannelRepository.ListChannelMetadata. A zero value
// matches every channel.
type ChannelFilter struct {
	PayerDID string
	PayeeDID string
	Status   model.ChannelStatus
}

// Page requests a slice of a channel listing.
type Page struct {
	Offset int
	Limit  int
}

// SubChannelPatch carries the fields the claim scheduler and billing
// pipeline update after a successful claim or a fresh on-chain read; a nil
// field leaves the stored value untouched.
type SubChannelPatch struct {
	LastClaimedAmount  *big.Int
	LastConfirmedNonce *uint64
	PublicKey          []byte
	MethodType         *string
	LastUpdated        *time.Time
}

// ChannelRepository is the payee's cache of on-chain channel and sub-channel
// state (spec §4.2). All methods take a context because a durable backend
// (SQL, browser-indexed store) may block on I/O; the in-memory
// implementation never does.
type ChannelRepository interface {
	SetChannelMetadata(ctx context.Context, info *model.ChannelInfo) error
	GetChannelMetadata(ctx context.Context, channelID string) (*model.ChannelInfo, error)
	ListChannelMetadata(ctx context.Context, filter ChannelFilter, page Page) ([]*model.ChannelInfo, error)
	UpdateSubChannelState(ctx context.Context, channelID, vmIDFragment string, patch SubChannelPatch) error
	GetSubChannelState(ctx context.Context, channelID, vmIDFragment string) (*model.SubChannelInfo, error)
}

// RAVRepository is the payee's durable log of signed SubRAVs (spec §4.2).
// Save must be idempotent under a repeated (channelId, vmIdFragment, nonce).
type RAVRepository interface {
	Save(ctx context.Context, signed *model.SignedSubRAV) error
	GetLatest(ctx context.Context, channelID, vmIDFragment string) (*model.SignedSubRAV, error)
	List(ctx context.Context, channelID string) ([]*model.SignedSubRAV, error)
	MarkAsClaimed(ctx context.Context, channelID, vmIDFragment string, upToNonce uint64) error
	GetUnclaimed(ctx context.Context, channelID string) (map[string]*model.SignedSubRAV, error)
}

// PendingSubRAVRepository stores the payee-emitted unsigned proposal per
// sub-channel (spec §4.2). At most one entry exists per (channelId,
// vmIdFragment); Save overwrites any prior entry for that key.
type PendingSubRAVRepository interface {
	Save(ctx context.Context, pending *model.PendingProposal) error
	Find(ctx context.Context, channelID string, nonce uint64) (*model.PendingProposal, error)
	FindLatestBySubChannel(ctx context.Context, channelID, vmIDFragment string) (*model.PendingProposal, error)
	Remove(ctx context.Context, channelID, vmIDFragment string) error
	Cleanup(ctx context.Context, olderThan time.Time) (int, error)
}
