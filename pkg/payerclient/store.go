package payerclient

import (
	"context"
	"sync"

	"github.com/nuwa-protocol/subrav-go/pkg/model"
)

// HostState is the persisted half of a Client's fields (spec §4.6): the
// channel/sub-channel snapshot, the pending proposal awaiting a signature,
// and the highest nonce ever observed from this payee. Everything else
// (in-flight requests, discovery cache) is process-local and rebuilt on
// restart.
type HostState struct {
	ChannelID            string
	ChannelInfo          *model.ChannelInfo
	SubChannelInfo       *model.SubChannelInfo
	PendingSubRAV        *model.PendingProposal
	HighestObservedNonce uint64
}

// StateStore persists one HostState per host, the way pkg/storage persists
// the payee's channel cache. Implementations must be safe for concurrent
// use; Client serializes its own access per host via an internal mutex, but
// a shared store may back multiple hosts.
type StateStore interface {
	Load(ctx context.Context, host string) (*HostState, error)
	Save(ctx context.Context, host string, state *HostState) error
}

// MemoryStateStore is an in-process StateStore, grounded on
// pkg/storage's in-memory repositories (map + mutex, no I/O).
type MemoryStateStore struct {
	mu    sync.Mutex
	byKey map[string]*HostState
}

// NewMemoryStateStore returns an empty MemoryStateStore.
func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{byKey: make(map[string]*HostState)}
}

// Load returns a copy of the stored state for host, or nil if none exists.
func (m *MemoryStateStore) Load(ctx context.Context, host string) (*HostState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byKey[host]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

// Save stores a copy of state under host.
func (m *MemoryStateStore) Save(ctx context.Context, host string, state *HostState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *state
	m.byKey[host] = &cp
	return nil
}
