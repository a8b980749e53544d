package payerclient

import (
	"context"
	"math/big"
	"testing"

	"github.com/nuwa-protocol/subrav-go/pkg/model"
)

func TestMemoryStateStoreRoundTrip(t *testing.T) {
	store := NewMemoryStateStore()
	ctx := context.Background()

	if st, err := store.Load(ctx, "svc.example.com"); err != nil || st != nil {
		t.Fatalf("expected no state for an unknown host, got %+v, %v", st, err)
	}

	want := &HostState{
		ChannelID:            "0xcd00000000000000000000000000000000000000000000000000000000000002",
		PendingSubRAV:        &model.PendingProposal{ChannelID: "0xcd00000000000000000000000000000000000000000000000000000000000002", Nonce: 3, AccumulatedAmount: big.NewInt(300)},
		HighestObservedNonce: 3,
	}
	if err := store.Save(ctx, "svc.example.com", want); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := store.Load(ctx, "svc.example.com")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.ChannelID != want.ChannelID || got.HighestObservedNonce != want.HighestObservedNonce {
		t.Fatalf("loaded state mismatch: got %+v", got)
	}

	// Mutating the returned copy must not corrupt the store.
	got.ChannelID = "mutated"
	got2, _ := store.Load(ctx, "svc.example.com")
	if got2.ChannelID != want.ChannelID {
		t.Fatalf("expected store to be unaffected by caller mutation, got %+v", got2)
	}
}
