package storage

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/nuwa-protocol/subrav-go/pkg/model"
)

func subChannelKey(channelID, vmIDFragment string) string {
	return channelID + "#" + vmIDFragment
}

// MemoryChannelRepository is the reference ChannelRepository implementation.
// A single mutex guards both maps; every method holds it for the duration
// of its read or write, the same mutual-exclusion discipline the upstream
// EVM client applies to its own channel-id bookkeeping.
type MemoryChannelRepository struct {
	mu          sync.RWMutex
	channels    map[string]*model.ChannelInfo
	subChannels map[string]*model.SubChannelInfo
}

// NewMemoryChannelRepository constructs an empty MemoryChannelRepository.
func NewMemoryChannelRepository() *MemoryChannelRepository {
	return &MemoryChannelRepository{
		channels:    make(map[string]*model.ChannelInfo),
		subChannels: make(map[string]*model.SubChannelInfo),
	}
}

func (r *MemoryChannelRepository) SetChannelMetadata(_ context.Context, info *model.ChannelInfo) error {
	if info == nil {
		return fmt.Errorf("storage: SetChannelMetadata: nil ChannelInfo")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *info
	r.channels[info.ChannelID] = &cp
	return nil
}

func (r *MemoryChannelRepository) GetChannelMetadata(_ context.Context, channelID string) (*model.ChannelInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.channels[channelID]
	if !ok {
		return nil, model.NewProtocolError(model.ErrNotFound, "channel %s not found", channelID)
	}
	cp := *info
	return &cp, nil
}

func (r *MemoryChannelRepository) ListChannelMetadata(_ context.Context, filter ChannelFilter, page Page) ([]*model.ChannelInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	matched := make([]*model.ChannelInfo, 0, len(r.channels))
	for _, info := range r.channels {
		if filter.PayerDID != "" && info.PayerDID != filter.PayerDID {
			continue
		}
		if filter.PayeeDID != "" && info.PayeeDID != filter.PayeeDID {
			continue
		}
		if filter.Status != "" && info.Status != filter.Status {
			continue
		}
		cp := *info
		matched = append(matched, &cp)
	}

	if page.Limit <= 0 {
		return matched, nil
	}
	start := page.Offset
	if start > len(matched) {
		start = len(matched)
	}
	end := start + page.Limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], nil
}

func (r *MemoryChannelRepository) UpdateSubChannelState(_ context.Context, channelID, vmIDFragment string, patch SubChannelPatch) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := subChannelKey(channelID, vmIDFragment)
	state, ok := r.subChannels[key]
	if !ok {
		state = &model.SubChannelInfo{ChannelID: channelID, VmIDFragment: vmIDFragment}
		r.subChannels[key] = state
	}
	if patch.LastClaimedAmount != nil {
		state.LastClaimedAmount = new(big.Int).Set(patch.LastClaimedAmount)
	}
	if patch.LastConfirmedNonce != nil {
		state.LastConfirmedNonce = *patch.LastConfirmedNonce
	}
	if patch.PublicKey != nil {
		state.PublicKey = patch.PublicKey
	}
	if patch.MethodType != nil {
		state.MethodType = *patch.MethodType
	}
	if patch.LastUpdated != nil {
		state.LastUpdated = patch.LastUpdated
	} else {
		now := time.Now()
		state.LastUpdated = &now
	}
	return nil
}

func (r *MemoryChannelRepository) GetSubChannelState(_ context.Context, channelID, vmIDFragment string) (*model.SubChannelInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	state, ok := r.subChannels[subChannelKey(channelID, vmIDFragment)]
	if !ok {
		return nil, model.NewProtocolError(model.ErrNotFound, "sub-channel %s/%s not found", channelID, vmIDFragment)
	}
	cp := *state
	return &cp, nil
}

// MemoryRAVRepository is the reference RAVRepository implementation.
type MemoryRAVRepository struct {
	mu      sync.RWMutex
	latest  map[string]*model.SignedSubRAV   // subChannelKey -> latest signed RAV
	history map[string][]*model.SignedSubRAV // channelId -> all signed RAVs, nonce ascending
	claimed map[string]uint64                // subChannelKey -> highest claimed nonce
}

// NewMemoryRAVRepository constructs an empty MemoryRAVRepository.
func NewMemoryRAVRepository() *MemoryRAVRepository {
	return &MemoryRAVRepository{
		latest:  make(map[string]*model.SignedSubRAV),
		history: make(map[string][]*model.SignedSubRAV),
		claimed: make(map[string]uint64),
	}
}

// Save stores signed, idempotently: a repeat of an already-stored
// (channelId, vmIdFragment, nonce) is a no-op rather than an error (spec
// §4.2).
func (r *MemoryRAVRepository) Save(_ context.Context, signed *model.SignedSubRAV) error {
	if signed == nil {
		return fmt.Errorf("storage: Save: nil SignedSubRAV")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	key := subChannelKey(signed.SubRav.ChannelID, signed.SubRav.VmIDFragment)
	if cur, ok := r.latest[key]; ok {
		if cur.SubRav.Nonce == signed.SubRav.Nonce {
			return nil
		}
		if signed.SubRav.Nonce < cur.SubRav.Nonce {
			return model.NewProtocolError(model.ErrRAVConflict,
				"nonce %d is behind the latest stored nonce %d for %s", signed.SubRav.Nonce, cur.SubRav.Nonce, key)
		}
	}

	cp := *signed
	r.latest[key] = &cp
	r.history[signed.SubRav.ChannelID] = append(r.history[signed.SubRav.ChannelID], &cp)
	return nil
}

func (r *MemoryRAVRepository) GetLatest(_ context.Context, channelID, vmIDFragment string) (*model.SignedSubRAV, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	signed, ok := r.latest[subChannelKey(channelID, vmIDFragment)]
	if !ok {
		return nil, nil
	}
	cp := *signed
	return &cp, nil
}

func (r *MemoryRAVRepository) List(_ context.Context, channelID string) ([]*model.SignedSubRAV, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entries := r.history[channelID]
	out := make([]*model.SignedSubRAV, len(entries))
	for i, e := range entries {
		cp := *e
		out[i] = &cp
	}
	return out, nil
}

func (r *MemoryRAVRepository) MarkAsClaimed(_ context.Context, channelID, vmIDFragment string, upToNonce uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := subChannelKey(channelID, vmIDFragment)
	if cur := r.claimed[key]; upToNonce > cur {
		r.claimed[key] = upToNonce
	}
	return nil
}

// GetUnclaimed returns, for each sub-channel of channelID, its latest signed
// SubRAV if that SubRAV's nonce is ahead of what's been claimed.
func (r *MemoryRAVRepository) GetUnclaimed(_ context.Context, channelID string) (map[string]*model.SignedSubRAV, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]*model.SignedSubRAV)
	for _, entry := range r.history[channelID] {
		key := subChannelKey(entry.SubRav.ChannelID, entry.SubRav.VmIDFragment)
		latest := r.latest[key]
		if latest != nil && latest.SubRav.Nonce > r.claimed[key] {
			cp := *latest
			out[entry.SubRav.VmIDFragment] = &cp
		}
	}
	return out, nil
}

// MemoryPendingSubRAVRepository is the reference PendingSubRAVRepository
// implementation. At most one entry is kept per sub-channel, enforcing P3.
type MemoryPendingSubRAVRepository struct {
	mu      sync.RWMutex
	bySub   map[string]*model.PendingProposal // subChannelKey -> pending
	byNonce map[string]*model.PendingProposal // channelId+nonce -> pending, for Find
}

// NewMemoryPendingSubRAVRepository constructs an empty repository.
func NewMemoryPendingSubRAVRepository() *MemoryPendingSubRAVRepository {
	return &MemoryPendingSubRAVRepository{
		bySub:   make(map[string]*model.PendingProposal),
		byNonce: make(map[string]*model.PendingProposal),
	}
}

func nonceKey(channelID string, nonce uint64) string {
	return fmt.Sprintf("%s#%d", channelID, nonce)
}

// Save overwrites any existing pending proposal for pending's sub-channel,
// upholding P3 (at most one pending per sub-channel).
func (r *MemoryPendingSubRAVRepository) Save(_ context.Context, pending *model.PendingProposal) error {
	if pending == nil {
		return fmt.Errorf("storage: Save: nil PendingProposal")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	key := subChannelKey(pending.ChannelID, pending.VmIDFragment)
	if prior, ok := r.bySub[key]; ok {
		delete(r.byNonce, nonceKey(prior.ChannelID, prior.Nonce))
	}
	cp := *pending
	r.bySub[key] = &cp
	r.byNonce[nonceKey(pending.ChannelID, pending.Nonce)] = &cp
	return nil
}

func (r *MemoryPendingSubRAVRepository) Find(_ context.Context, channelID string, nonce uint64) (*model.PendingProposal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byNonce[nonceKey(channelID, nonce)]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (r *MemoryPendingSubRAVRepository) FindLatestBySubChannel(_ context.Context, channelID, vmIDFragment string) (*model.PendingProposal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.bySub[subChannelKey(channelID, vmIDFragment)]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (r *MemoryPendingSubRAVRepository) Remove(_ context.Context, channelID, vmIDFragment string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := subChannelKey(channelID, vmIDFragment)
	if prior, ok := r.bySub[key]; ok {
		delete(r.byNonce, nonceKey(prior.ChannelID, prior.Nonce))
		delete(r.bySub, key)
	}
	return nil
}

// Cleanup removes pending proposals created before olderThan and reports how
// many were removed.
func (r *MemoryPendingSubRAVRepository) Cleanup(_ context.Context, olderThan time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for key, p := range r.bySub {
		if p.CreatedAt.Before(olderThan) {
			delete(r.bySub, key)
			delete(r.byNonce, nonceKey(p.ChannelID, p.Nonce))
			removed++
		}
	}
	return removed, nil
}
