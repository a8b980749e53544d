package payment

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nuwa-protocol/subrav-go/pkg/model"
	"github.com/nuwa-protocol/subrav-go/pkg/storage"
)

// errInsufficientHubBalance is the sentinel lastError recorded when
// RequireHubBalance is set and the hub's on-chain balance can't cover a
// claim (spec §4.5's hub-balance precondition).
var errInsufficientHubBalance = errors.New("payment: scheduler: insufficient hub balance")

// HubBalanceChecker is the narrow slice of the contract the scheduler needs
// for the optional hub-balance precondition (spec §4.5, §4.8 getHubBalance).
type HubBalanceChecker interface {
	GetHubBalance(ctx context.Context, assetID string) (*big.Int, error)
}

// ClaimSubmitter settles a sub-channel's latest unclaimed RAV on-chain (spec
// §4.8's claim operation). pkg/blockchain's contract adapter implements it.
type ClaimSubmitter interface {
	Claim(ctx context.Context, signed *model.SignedSubRAV) error
}

// SubChannelStatus reports a sub-channel's claim-queue state (spec §4.5).
type SubChannelStatus struct {
	Queued         bool
	InFlight       bool
	LastQueued     time.Time
	LastError      error
	RetryCount     int
	UnclaimedDelta *big.Int
}

// schedulerEntry tracks one sub-channel's accumulated-but-unclaimed delta and
// claim-attempt bookkeeping.
type schedulerEntry struct {
	channelID    string
	vmIDFragment string
	delta        *big.Int
	queued       bool
	inFlight     bool
	lastQueued   time.Time
	lastError    error
	retryCount   int
}

// Scheduler is the reactive claim scheduler of spec §4.5: it watches the
// delta between a sub-channel's latest submitted RAV and its last on-chain
// claim, and queues a claim once that delta crosses a threshold, deduping
// concurrent triggers for the same sub-channel (P6).
type Scheduler struct {
	Submitter      ClaimSubmitter
	RAVs           storage.RAVRepository
	Channels       storage.ChannelRepository
	Threshold      *big.Int
	Concurrency    int
	RetryBaseDelay time.Duration
	MaxRetries     int
	Logger         *zap.Logger

	// MaxConcurrentClaims bounds the number of distinct sub-channels tracked
	// at once (queued or in flight); a brand-new key arriving once the cap
	// is reached is rejected until a slot frees (spec §4.5 maybeQueue). Zero
	// means unbounded. Defaults to Concurrency when left zero by NewScheduler.
	MaxConcurrentClaims int
	// HubBalance, when set together with RequireHubBalance, gates each claim
	// attempt on the payee hub's on-chain balance for the sub-channel's
	// asset (spec §4.5).
	HubBalance                 HubBalanceChecker
	RequireHubBalance          bool
	InsufficientFundsBackoff   time.Duration
	CountInsufficientAsFailure bool

	mu       sync.Mutex
	entries  map[string]*schedulerEntry
	sem      chan struct{}
	wg       sync.WaitGroup
	stopped  bool
	stopOnce sync.Once

	successCount           int
	failedCount            int
	skippedCount           int
	insufficientFundsCount int
	backoffCount           int
	processedCount         int
	totalProcessing        time.Duration
}

// NewScheduler builds a Scheduler. threshold is the minimum unclaimed delta
// (asset units) that triggers a claim; concurrency bounds how many claims
// run at once.
func NewScheduler(submitter ClaimSubmitter, ravs storage.RAVRepository, channels storage.ChannelRepository, threshold *big.Int, concurrency int, logger *zap.Logger) *Scheduler {
	if concurrency <= 0 {
		concurrency = 4
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		Submitter:                submitter,
		RAVs:                     ravs,
		Channels:                 channels,
		Threshold:                threshold,
		Concurrency:              concurrency,
		RetryBaseDelay:           2 * time.Second,
		MaxRetries:               5,
		Logger:                   logger,
		MaxConcurrentClaims:      concurrency,
		InsufficientFundsBackoff: 10 * time.Second,
		entries:                  make(map[string]*schedulerEntry),
		sem:                      make(chan struct{}, concurrency),
	}
}

// MaybeQueue is called by the payment processor after persisting a submitted
// SubRAV (spec §4.4 Step C). It queues a claim attempt for (channelID,
// vmIDFragment) if delta meets the threshold and nothing is already queued
// or in flight for that sub-channel (P6: no duplicate concurrent claims).
func (s *Scheduler) MaybeQueue(channelID, vmIDFragment string, delta *big.Int) {
	key := subChannelKey(channelID, vmIDFragment)
	if delta == nil || s.Threshold == nil || delta.Cmp(s.Threshold) < 0 {
		s.mu.Lock()
		s.skippedCount++
		s.mu.Unlock()
		return
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	e, ok := s.entries[key]
	if !ok {
		if s.MaxConcurrentClaims > 0 && s.activeCountLocked() >= s.MaxConcurrentClaims {
			s.skippedCount++
			s.mu.Unlock()
			return
		}
		e = &schedulerEntry{channelID: channelID, vmIDFragment: vmIDFragment}
		s.entries[key] = e
	}
	e.delta = delta
	if e.queued || e.inFlight {
		s.mu.Unlock()
		return
	}
	e.queued = true
	e.lastQueued = time.Now()
	s.mu.Unlock()

	s.wg.Add(1)
	go s.runClaim(key, e)
}

// activeCountLocked counts sub-channels currently queued or in flight. mu
// must be held by the caller.
func (s *Scheduler) activeCountLocked() int {
	n := 0
	for _, e := range s.entries {
		if e.queued || e.inFlight {
			n++
		}
	}
	return n
}

// TriggerClaim imperatively claims every unclaimed sub-channel of channelID,
// regardless of threshold (spec §4.5), e.g. on channel-close or an
// operator-initiated flush. It claims each sub-channel in turn, collecting
// rather than stopping at the first failure, and returns a joined error
// naming every sub-channel that failed to claim.
func (s *Scheduler) TriggerClaim(ctx context.Context, channelID string) error {
	unclaimed, err := s.RAVs.GetUnclaimed(ctx, channelID)
	if err != nil {
		return err
	}

	var errs []error
	for vmIDFragment, signed := range unclaimed {
		if signed == nil {
			continue
		}
		if err := s.Submitter.Claim(ctx, signed); err != nil {
			s.Logger.Error("triggered claim failed",
				zap.String("channelId", channelID),
				zap.String("vmIdFragment", vmIDFragment),
				zap.Error(err),
			)
			errs = append(errs, fmt.Errorf("%s: %w", vmIDFragment, err))
			continue
		}
		now := time.Now()
		_ = s.Channels.UpdateSubChannelState(ctx, channelID, vmIDFragment, storage.SubChannelPatch{
			LastClaimedAmount:  signed.SubRav.AccumulatedAmount,
			LastConfirmedNonce: &signed.SubRav.Nonce,
			LastUpdated:        &now,
		})
	}
	return errors.Join(errs...)
}

// GetStatus returns the scheduler's view of one sub-channel's claim state.
func (s *Scheduler) GetStatus(channelID, vmIDFragment string) SubChannelStatus {
	key := subChannelKey(channelID, vmIDFragment)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return SubChannelStatus{}
	}
	return SubChannelStatus{
		Queued:         e.queued,
		InFlight:       e.inFlight,
		LastQueued:     e.lastQueued,
		LastError:      e.lastError,
		RetryCount:     e.retryCount,
		UnclaimedDelta: e.delta,
	}
}

// Destroy stops accepting new claims and waits for in-flight ones to drain.
func (s *Scheduler) Destroy() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.stopped = true
		s.mu.Unlock()
		s.wg.Wait()
	})
}

func (s *Scheduler) runClaim(key string, e *schedulerEntry) {
	defer s.wg.Done()

	s.sem <- struct{}{}
	defer func() { <-s.sem }()

	s.mu.Lock()
	e.inFlight = true
	e.queued = false
	s.mu.Unlock()

	started := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var lastErr error
	var claimed *model.SignedSubRAV
	for attempt := 0; attempt <= s.MaxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(s.RetryBaseDelay * time.Duration(1<<uint(attempt-1)))
		}
		signed, err := s.RAVs.GetLatest(ctx, e.channelID, e.vmIDFragment)
		if err != nil {
			lastErr = err
			continue
		}
		if signed == nil {
			lastErr = nil
			break
		}

		if s.RequireHubBalance && s.HubBalance != nil {
			sufficient, herr := s.hasSufficientHubBalance(ctx, e, signed)
			if herr != nil {
				lastErr = herr
				continue
			}
			if !sufficient {
				s.mu.Lock()
				s.insufficientFundsCount++
				s.backoffCount++
				s.mu.Unlock()
				lastErr = errInsufficientHubBalance
				if !s.CountInsufficientAsFailure {
					time.Sleep(s.InsufficientFundsBackoff)
				}
				continue
			}
		}

		if err := s.Submitter.Claim(ctx, signed); err != nil {
			lastErr = err
			continue
		}
		lastErr = nil
		claimed = signed
		now := time.Now()
		_ = s.Channels.UpdateSubChannelState(ctx, e.channelID, e.vmIDFragment, storage.SubChannelPatch{
			LastClaimedAmount:  signed.SubRav.AccumulatedAmount,
			LastConfirmedNonce: &signed.SubRav.Nonce,
			LastUpdated:        &now,
		})
		break
	}
	elapsed := time.Since(started)

	s.mu.Lock()
	e.inFlight = false
	e.lastError = lastErr
	if lastErr != nil {
		e.retryCount++
		if !errors.Is(lastErr, errInsufficientHubBalance) || s.CountInsufficientAsFailure {
			s.failedCount++
		}
	} else {
		e.retryCount = 0
		e.delta = big.NewInt(0)
		if claimed != nil {
			s.successCount++
		}
	}
	s.processedCount++
	s.totalProcessing += elapsed
	s.mu.Unlock()

	if lastErr != nil {
		s.Logger.Error("claim failed",
			zap.String("channelId", e.channelID),
			zap.String("vmIdFragment", e.vmIDFragment),
			zap.Error(lastErr),
		)
	}
}

// hasSufficientHubBalance looks up the sub-channel's channel-level asset id
// and compares the hub's on-chain balance against the amount this claim
// would realize (spec §4.5's hub-balance precondition).
func (s *Scheduler) hasSufficientHubBalance(ctx context.Context, e *schedulerEntry, signed *model.SignedSubRAV) (bool, error) {
	info, err := s.Channels.GetChannelMetadata(ctx, e.channelID)
	if err != nil {
		return false, err
	}
	balance, err := s.HubBalance.GetHubBalance(ctx, info.AssetID)
	if err != nil {
		return false, err
	}
	required := signed.SubRav.AccumulatedAmount
	if e.delta != nil {
		required = e.delta
	}
	return balance.Cmp(required) >= 0, nil
}

// SchedulerPolicy mirrors the configurable knobs of spec §4.5 for
// introspection via GetAggregateStatus.
type SchedulerPolicy struct {
	MinClaimAmount             *big.Int
	MaxConcurrentClaims        int
	MaxRetries                 int
	RetryDelayMs               int64
	InsufficientFundsBackoffMs int64
	RequireHubBalance          bool
	CountInsufficientAsFailure bool
}

// AggregateStatus is the scheduler-wide introspection surface of spec §4.5
// (getStatus): counts across every sub-channel plus the active policy.
type AggregateStatus struct {
	Active                 int
	Queued                 int
	SuccessCount           int
	FailedCount            int
	SkippedCount           int
	InsufficientFundsCount int
	BackoffCount           int
	AvgProcessingTimeMs    float64
	Policy                 SchedulerPolicy
}

// GetAggregateStatus returns the scheduler's process-wide counters (spec
// §4.5 getStatus), as opposed to GetStatus's single-sub-channel view.
func (s *Scheduler) GetAggregateStatus() AggregateStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	var active, queued int
	for _, e := range s.entries {
		if e.inFlight {
			active++
		} else if e.queued {
			queued++
		}
	}
	var avgMs float64
	if s.processedCount > 0 {
		avgMs = float64(s.totalProcessing.Milliseconds()) / float64(s.processedCount)
	}
	return AggregateStatus{
		Active:                 active,
		Queued:                 queued,
		SuccessCount:           s.successCount,
		FailedCount:            s.failedCount,
		SkippedCount:           s.skippedCount,
		InsufficientFundsCount: s.insufficientFundsCount,
		BackoffCount:           s.backoffCount,
		AvgProcessingTimeMs:    avgMs,
		Policy: SchedulerPolicy{
			MinClaimAmount:             s.Threshold,
			MaxConcurrentClaims:        s.MaxConcurrentClaims,
			MaxRetries:                 s.MaxRetries,
			RetryDelayMs:               s.RetryBaseDelay.Milliseconds(),
			InsufficientFundsBackoffMs: s.InsufficientFundsBackoff.Milliseconds(),
			RequireHubBalance:          s.RequireHubBalance,
			CountInsufficientAsFailure: s.CountInsufficientAsFailure,
		},
	}
}
