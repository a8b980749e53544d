package payerclient

import (
	"context"
	"math/big"
	"testing"
	"time"
)

func TestInFlightTrackerResolveDeliversPaymentInfo(t *testing.T) {
	tr := newInFlightTracker()
	ch := tr.register("ref-1", time.Second)

	info := &PaymentInfo{Cost: big.NewInt(100)}
	if !tr.resolve("ref-1", info) {
		t.Fatalf("expected resolve to find the pending entry")
	}

	res := <-ch
	if res.err != nil {
		t.Fatalf("unexpected error: %v", res.err)
	}
	if res.info.Cost.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("expected cost 100, got %s", res.info.Cost)
	}
	if tr.resolve("ref-1", info) {
		t.Fatalf("expected second resolve on the same ref to be a no-op")
	}
}

func TestInFlightTrackerTimeoutRejects(t *testing.T) {
	tr := newInFlightTracker()
	ch := tr.register("ref-2", 20*time.Millisecond)

	select {
	case res := <-ch:
		if res.err != ErrInFlightTimeout {
			t.Fatalf("expected ErrInFlightTimeout, got %v", res.err)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for the tracker's own timeout")
	}

	if !tr.isRecentlyRejected("ref-2") {
		t.Fatalf("expected ref-2 to be marked recently rejected after timing out")
	}
}

func TestInFlightTrackerRejectAll(t *testing.T) {
	tr := newInFlightTracker()
	ch1 := tr.register("a", time.Minute)
	ch2 := tr.register("b", time.Minute)

	tr.rejectAll(ErrInFlightClosed)

	for _, ch := range []<-chan inflightResult{ch1, ch2} {
		res := <-ch
		if res.err != ErrInFlightClosed {
			t.Fatalf("expected ErrInFlightClosed, got %v", res.err)
		}
	}
}

func TestInFlightTrackerResolveAllAsFree(t *testing.T) {
	tr := newInFlightTracker()
	ch := tr.register("free-1", time.Minute)

	tr.resolveAllAsFree()

	res := <-ch
	if res.err != nil {
		t.Fatalf("unexpected error: %v", res.err)
	}
	if res.info.Cost.Sign() != 0 {
		t.Fatalf("expected zero cost, got %s", res.info.Cost)
	}
}

func TestInFlightTrackerExtendTimeout(t *testing.T) {
	tr := newInFlightTracker()
	ch := tr.register("ext-1", 30*time.Millisecond)
	if !tr.extendTimeout("ext-1", 300*time.Millisecond) {
		t.Fatalf("expected extendTimeout to find the pending entry")
	}

	select {
	case <-ch:
		t.Fatalf("expected the extended entry to still be pending after the original timeout")
	case <-time.After(80 * time.Millisecond):
	}

	select {
	case res := <-ch:
		if res.err != ErrInFlightTimeout {
			t.Fatalf("expected eventual timeout, got %v", res.err)
		}
	case <-time.After(time.Second):
		t.Fatalf("entry never timed out after extension")
	}
}

func TestPendingRequestWaitRespectsCallerContext(t *testing.T) {
	tr := newInFlightTracker()
	ch := tr.register("ctx-1", time.Minute)
	pr := &PendingRequest{clientTxRef: "ctx-1", ch: ch, tracker: tr}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := pr.Wait(ctx); err == nil {
		t.Fatalf("expected Wait to report the cancelled context")
	}
}
