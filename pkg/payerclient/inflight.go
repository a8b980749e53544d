package payerclient

import (
	"errors"
	"math/big"
	"sync"
	"time"
)

// ErrInFlightTimeout is returned to a caller whose request's individual
// timeout elapsed before afterResponse resolved it (spec §4.6).
var ErrInFlightTimeout = errors.New("payerclient: in-flight request timed out")

// ErrInFlightClosed is returned to every still-pending caller when rejectAll
// runs, e.g. on client shutdown.
var ErrInFlightClosed = errors.New("payerclient: in-flight tracker closed")

const (
	defaultInFlightTimeout = 5 * time.Second
	maxInFlightTimeout     = 30 * time.Second
	recentlyRejectedTTL    = time.Minute
)

// PaymentInfo is what afterResponse resolves an in-flight request with once
// the payee's envelope confirms the charge (spec §4.6).
type PaymentInfo struct {
	Cost         *big.Int
	CostUsd      *big.Int
	Nonce        uint64
	ChannelID    string
	VmIDFragment string
	AssetID      string
	Timestamp    time.Time
	ServiceTxRef string
}

type inflightResult struct {
	info *PaymentInfo
	err  error
}

type inflightEntry struct {
	ch    chan inflightResult
	timer *time.Timer
	once  sync.Once
}

func (e *inflightEntry) settle(res inflightResult) {
	e.once.Do(func() {
		e.timer.Stop()
		e.ch <- res
		close(e.ch)
	})
}

// inFlightTracker maps clientTxRef to the pending caller awaiting
// afterResponse, with a per-request timeout and a short memory of recently
// rejected refs so a late, stale response is dropped rather than resolving
// the wrong (or a reused) entry (spec §4.6).
type inFlightTracker struct {
	mu       sync.Mutex
	entries  map[string]*inflightEntry
	rejected map[string]time.Time
}

func newInFlightTracker() *inFlightTracker {
	return &inFlightTracker{
		entries:  make(map[string]*inflightEntry),
		rejected: make(map[string]time.Time),
	}
}

// register creates a new in-flight entry for clientTxRef and returns a
// channel that receives exactly one inflightResult: from resolve, reject,
// or the timeout firing on its own. A zero or negative timeout is clamped
// to [defaultInFlightTimeout, maxInFlightTimeout].
func (t *inFlightTracker) register(clientTxRef string, timeout time.Duration) <-chan inflightResult {
	if timeout <= 0 {
		timeout = defaultInFlightTimeout
	}
	if timeout > maxInFlightTimeout {
		timeout = maxInFlightTimeout
	}

	entry := &inflightEntry{ch: make(chan inflightResult, 1)}
	t.mu.Lock()
	t.entries[clientTxRef] = entry
	t.mu.Unlock()

	entry.timer = time.AfterFunc(timeout, func() {
		t.drop(clientTxRef)
		entry.settle(inflightResult{err: ErrInFlightTimeout})
	})
	return entry.ch
}

// drop removes clientTxRef from the live map and marks it recently
// rejected, so a response that arrives after the caller has stopped
// listening is silently ignored instead of panicking on a closed channel.
func (t *inFlightTracker) drop(clientTxRef string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, clientTxRef)
	t.rejected[clientTxRef] = time.Now()
	for ref, at := range t.rejected {
		if time.Since(at) > recentlyRejectedTTL {
			delete(t.rejected, ref)
		}
	}
}

// isRecentlyRejected reports whether clientTxRef was dropped (timed out,
// rejected, or already resolved) within the last recentlyRejectedTTL.
func (t *inFlightTracker) isRecentlyRejected(clientTxRef string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.rejected[clientTxRef]
	return ok
}

// resolve completes clientTxRef's in-flight request with info. Reports
// false if no such request is pending (already resolved, rejected, or
// unknown).
func (t *inFlightTracker) resolve(clientTxRef string, info *PaymentInfo) bool {
	t.mu.Lock()
	entry, ok := t.entries[clientTxRef]
	if ok {
		delete(t.entries, clientTxRef)
	}
	t.mu.Unlock()
	if !ok {
		return false
	}
	entry.settle(inflightResult{info: info})
	return true
}

// reject completes clientTxRef's in-flight request with err.
func (t *inFlightTracker) reject(clientTxRef string, err error) bool {
	t.mu.Lock()
	entry, ok := t.entries[clientTxRef]
	if ok {
		delete(t.entries, clientTxRef)
	}
	t.mu.Unlock()
	if !ok {
		return false
	}
	entry.settle(inflightResult{err: err})
	return true
}

// extendTimeout pushes clientTxRef's deadline out by extra, for handlers
// that signal they need more time (spec §4.6).
func (t *inFlightTracker) extendTimeout(clientTxRef string, extra time.Duration) bool {
	t.mu.Lock()
	entry, ok := t.entries[clientTxRef]
	t.mu.Unlock()
	if !ok {
		return false
	}
	entry.timer.Reset(extra)
	return true
}

// rejectAll rejects every still-pending request with err, e.g. on shutdown.
func (t *inFlightTracker) rejectAll(err error) {
	t.mu.Lock()
	entries := t.entries
	t.entries = make(map[string]*inflightEntry)
	t.mu.Unlock()
	for _, entry := range entries {
		entry.settle(inflightResult{err: err})
	}
}

// resolveAllAsFree resolves every still-pending request with a zero-cost
// PaymentInfo, used when the payer downgrades to an unauthenticated/free
// path mid-flight.
func (t *inFlightTracker) resolveAllAsFree() {
	t.mu.Lock()
	entries := t.entries
	t.entries = make(map[string]*inflightEntry)
	t.mu.Unlock()
	for _, entry := range entries {
		entry.settle(inflightResult{info: &PaymentInfo{Cost: big.NewInt(0), CostUsd: big.NewInt(0), Timestamp: time.Now()}})
	}
}
