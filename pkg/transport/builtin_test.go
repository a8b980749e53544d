package transport

import (
	"context"
	"math/big"
	"sync"
	"testing"

	"github.com/nuwa-protocol/subrav-go/pkg/model"
	"github.com/nuwa-protocol/subrav-go/pkg/payment"
	"github.com/nuwa-protocol/subrav-go/pkg/storage"
)

func TestBuiltinRulesCoverAllSixOperations(t *testing.T) {
	rules := BuiltinRules()
	ids := map[string]model.BillingRule{}
	for _, r := range rules {
		ids[r.ID] = r
	}
	for _, id := range []string{OpDiscover, OpHealth, OpRecovery, OpCommit, OpAdminStatus, OpClaimTrigger} {
		if _, ok := ids[id]; !ok {
			t.Fatalf("expected built-in rule %s", id)
		}
	}
	if !ids[OpRecovery].AuthRequired || !ids[OpCommit].AuthRequired {
		t.Fatalf("expected nuwa.recovery and nuwa.commit to require auth")
	}
	if !ids[OpAdminStatus].AdminOnly || !ids[OpClaimTrigger].AdminOnly {
		t.Fatalf("expected nuwa.admin.* to be admin-only")
	}
	if ids[OpDiscover].AuthRequired || ids[OpDiscover].AdminOnly {
		t.Fatalf("expected nuwa.discover to need no auth")
	}
}

func TestRecoveryHandlerReturnsKnownState(t *testing.T) {
	channels := storage.NewMemoryChannelRepository()
	pending := storage.NewMemoryPendingSubRAVRepository()
	const channelID = "0xcd00000000000000000000000000000000000000000000000000000000000002"

	if err := channels.SetChannelMetadata(context.Background(), &model.ChannelInfo{ChannelID: channelID, PayerDID: "did:key:payer"}); err != nil {
		t.Fatalf("SetChannelMetadata: %v", err)
	}
	if err := pending.Save(context.Background(), &model.PendingProposal{ChannelID: channelID, VmIDFragment: "key-1", Nonce: 2, AccumulatedAmount: big.NewInt(100)}); err != nil {
		t.Fatalf("Save pending: %v", err)
	}

	handler := RecoveryHandler(channels, pending, 1)
	result, err := handler(context.Background(), map[string]any{"channelId": channelID, "vmIdFragment": "key-1"})
	if err != nil {
		t.Fatalf("RecoveryHandler: %v", err)
	}
	if result["channel"] == nil {
		t.Fatalf("expected channel in recovery result, got %+v", result)
	}
	pendingRav, ok := result["pendingSubRav"].(*model.SubRAV)
	if !ok || pendingRav == nil || pendingRav.Nonce != 2 {
		t.Fatalf("expected pendingSubRav with nonce=2, got %+v", result["pendingSubRav"])
	}
}

func TestAdminStatusHandlerReportsSchedulerCounters(t *testing.T) {
	ravs := storage.NewMemoryRAVRepository()
	channels := storage.NewMemoryChannelRepository()
	submitter := noopClaimSubmitter{}
	sched := payment.NewScheduler(submitter, ravs, channels, big.NewInt(100), 2, nil)
	defer sched.Destroy()

	handler := AdminStatusHandler(sched)
	result, err := handler(context.Background(), map[string]any{})
	if err != nil {
		t.Fatalf("AdminStatusHandler: %v", err)
	}
	if _, ok := result["active"]; !ok {
		t.Fatalf("expected active field in admin status result, got %+v", result)
	}
}

func TestAdminClaimTriggerHandlerRequiresChannelID(t *testing.T) {
	ravs := storage.NewMemoryRAVRepository()
	channels := storage.NewMemoryChannelRepository()
	submitter := noopClaimSubmitter{}
	sched := payment.NewScheduler(submitter, ravs, channels, big.NewInt(100), 2, nil)
	defer sched.Destroy()

	handler := AdminClaimTriggerHandler(sched)
	if _, err := handler(context.Background(), map[string]any{}); err == nil {
		t.Fatalf("expected error when channelId is missing")
	}
}

func TestAdminClaimTriggerHandlerClaimsAllSubChannels(t *testing.T) {
	const channelID = "0xcd00000000000000000000000000000000000000000000000000000000000002"
	ravs := storage.NewMemoryRAVRepository()
	channels := storage.NewMemoryChannelRepository()
	submitter := &countingClaimSubmitter{}
	sched := payment.NewScheduler(submitter, ravs, channels, big.NewInt(1000000), 2, nil)
	defer sched.Destroy()

	rav1, err := model.NewSubRAV(1, 1, channelID, 1, "key-1", big.NewInt(10), 1)
	if err != nil {
		t.Fatalf("NewSubRAV: %v", err)
	}
	rav2, err := model.NewSubRAV(1, 1, channelID, 1, "key-2", big.NewInt(20), 1)
	if err != nil {
		t.Fatalf("NewSubRAV: %v", err)
	}
	if err := ravs.Save(context.Background(), &model.SignedSubRAV{SubRav: *rav1, Signature: make([]byte, 65)}); err != nil {
		t.Fatalf("save key-1: %v", err)
	}
	if err := ravs.Save(context.Background(), &model.SignedSubRAV{SubRav: *rav2, Signature: make([]byte, 65)}); err != nil {
		t.Fatalf("save key-2: %v", err)
	}

	handler := AdminClaimTriggerHandler(sched)
	if _, err := handler(context.Background(), map[string]any{"channelId": channelID}); err != nil {
		t.Fatalf("AdminClaimTriggerHandler: %v", err)
	}
	if submitter.count() != 2 {
		t.Fatalf("expected both sub-channels claimed, got %d", submitter.count())
	}
}

type countingClaimSubmitter struct {
	mu sync.Mutex
	n  int
}

func (c *countingClaimSubmitter) Claim(ctx context.Context, signed *model.SignedSubRAV) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
	return nil
}

func (c *countingClaimSubmitter) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

type noopClaimSubmitter struct{}

func (noopClaimSubmitter) Claim(ctx context.Context, signed *model.SignedSubRAV) error { return nil }
