package payerclient

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/nuwa-protocol/subrav-go/pkg/model"
	"github.com/nuwa-protocol/subrav-go/pkg/subrav"
	"github.com/nuwa-protocol/subrav-go/pkg/transport"
)

const testChannelID = "0xcd00000000000000000000000000000000000000000000000000000000000002"

type fakeSigner struct{ pk *ecdsa.PrivateKey }

func (f fakeSigner) Sign(keyID string, rav *model.SubRAV) (*model.SignedSubRAV, error) {
	return subrav.SignWithKey(rav, f.pk)
}

type fakeContract struct {
	mu                sync.Mutex
	channelInfo       *model.ChannelInfo
	subChannelInfo    *model.SubChannelInfo
	openCalls         int
	authorizeCalls    int
	subChannelAfter   int // authorizeSubChannel makes the sub-channel visible after this many GetSubChannel calls
	getSubChannelHits int
}

func (c *fakeContract) GetChannelInfo(ctx context.Context, channelID string) (*model.ChannelInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channelInfo, nil
}

func (c *fakeContract) GetSubChannel(ctx context.Context, channelID, vmIDFragment string) (*model.SubChannelInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.getSubChannelHits++
	if c.subChannelInfo != nil || c.getSubChannelHits > c.subChannelAfter {
		if c.subChannelInfo == nil {
			c.subChannelInfo = &model.SubChannelInfo{ChannelID: channelID, VmIDFragment: vmIDFragment}
		}
		return c.subChannelInfo, nil
	}
	return nil, nil
}

func (c *fakeContract) GetChannelStatus(ctx context.Context, channelID string) (model.ChannelStatus, error) {
	return model.ChannelActive, nil
}

func (c *fakeContract) GetChainID(ctx context.Context) (uint64, error) { return 4, nil }

func (c *fakeContract) OpenChannel(ctx context.Context, payerDID, payeeDID, assetID string, deposit *big.Int, txOpts *bind.TransactOpts) (common.Hash, string, error) {
	return common.Hash{}, testChannelID, nil
}

func (c *fakeContract) OpenChannelWithSubChannel(ctx context.Context, payerDID, payeeDID, assetID string, deposit *big.Int, vmIDFragment string, publicKey []byte, txOpts *bind.TransactOpts) (common.Hash, string, error) {
	c.mu.Lock()
	c.openCalls++
	c.channelInfo = &model.ChannelInfo{ChannelID: testChannelID, PayerDID: payerDID, PayeeDID: payeeDID, AssetID: assetID, Status: model.ChannelActive}
	c.mu.Unlock()
	return common.Hash{}, testChannelID, nil
}

func (c *fakeContract) AuthorizeSubChannel(ctx context.Context, channelID, vmIDFragment string, publicKey []byte, methodType string, txOpts *bind.TransactOpts) (common.Hash, error) {
	c.mu.Lock()
	c.authorizeCalls++
	c.mu.Unlock()
	return common.Hash{}, nil
}

func (c *fakeContract) CloseChannel(ctx context.Context, channelID string, txOpts *bind.TransactOpts) (common.Hash, error) {
	return common.Hash{}, nil
}

func newTestClient(t *testing.T, baseURL string) (*Client, *fakeContract, *ecdsa.PrivateKey) {
	t.Helper()
	pk, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	contract := &fakeContract{}
	cfg := Config{
		Host:           "svc.example.com",
		BaseURL:        baseURL,
		PayerDID:       "did:key:payer",
		PayeeDID:       "did:key:payee",
		DefaultAssetID: "eth:native",
		KeyID:          "key-1",
		VmIDFragment:   "key-1",
		ChainID:        4,
		InitialDeposit: big.NewInt(1_000_000),
		TxOpts:         &bind.TransactOpts{},
	}
	client := NewClient(cfg, contract, fakeSigner{pk: pk}, NewMemoryStateStore())
	return client, contract, pk
}

func TestClientBeforeRequestRequiresChannelReady(t *testing.T) {
	client, _, _ := newTestClient(t, "http://unused")
	_, _, err := client.BeforeRequest(context.Background(), http.MethodGet, "http://svc.example.com/x", nil, time.Second)
	if err == nil {
		t.Fatalf("expected an error before EnsureChannelReady has run")
	}
}

func TestClientAcceptPendingMonotonicGuard(t *testing.T) {
	client, _, _ := newTestClient(t, "http://unused")

	rav := &model.SubRAV{ChannelID: testChannelID, VmIDFragment: "key-1", Nonce: 2, AccumulatedAmount: big.NewInt(200)}
	if !client.acceptPending(rav) {
		t.Fatalf("expected the first proposal to be accepted")
	}
	if client.highestObservedNonce != 2 {
		t.Fatalf("expected highestObservedNonce=2, got %d", client.highestObservedNonce)
	}

	stale := &model.SubRAV{ChannelID: testChannelID, VmIDFragment: "key-1", Nonce: 2, AccumulatedAmount: big.NewInt(999)}
	if client.acceptPending(stale) {
		t.Fatalf("expected a proposal with nonce <= highestObservedNonce to be dropped")
	}

	wrongFragment := &model.SubRAV{ChannelID: testChannelID, VmIDFragment: "other-key", Nonce: 5, AccumulatedAmount: big.NewInt(500)}
	if client.acceptPending(wrongFragment) {
		t.Fatalf("expected a proposal for a different vmIdFragment to be dropped")
	}

	fresh := &model.SubRAV{ChannelID: testChannelID, VmIDFragment: "key-1", Nonce: 7, AccumulatedAmount: big.NewInt(700)}
	if !client.acceptPending(fresh) {
		t.Fatalf("expected a higher-nonce proposal to be accepted")
	}
	if client.pendingSubRAV.Nonce != 7 {
		t.Fatalf("expected pendingSubRAV.Nonce=7, got %d", client.pendingSubRAV.Nonce)
	}
}

func TestClientEnsureChannelReadyOpensNewChannelWhenRecoveryFindsNothing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(recoveryResponseBody{})
	}))
	defer srv.Close()

	client, contract, _ := newTestClient(t, srv.URL)
	if err := client.EnsureChannelReady(context.Background()); err != nil {
		t.Fatalf("EnsureChannelReady: %v", err)
	}
	if contract.openCalls != 1 {
		t.Fatalf("expected openChannelWithSubChannel to be called once, got %d", contract.openCalls)
	}
	if client.channelID != testChannelID {
		t.Fatalf("expected channelID to be set from the open call, got %q", client.channelID)
	}
	if client.subChannelInfo == nil {
		t.Fatalf("expected subChannelInfo to be populated after waitForSubChannel")
	}
}

func TestClientEnsureChannelReadyRecoversExistingChannel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := recoveryResponseBody{
			Channel:       &model.ChannelInfo{ChannelID: testChannelID, PayerDID: "did:key:payer", PayeeDID: "did:key:payee", AssetID: "eth:native", Status: model.ChannelActive},
			SubChannel:    &model.SubChannelInfo{ChannelID: testChannelID, VmIDFragment: "key-1", LastConfirmedNonce: 5},
			PendingSubRav: &model.SubRAV{ChannelID: testChannelID, VmIDFragment: "key-1", Nonce: 6, AccumulatedAmount: big.NewInt(600)},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	client, contract, _ := newTestClient(t, srv.URL)
	if err := client.EnsureChannelReady(context.Background()); err != nil {
		t.Fatalf("EnsureChannelReady: %v", err)
	}
	if contract.openCalls != 0 || contract.authorizeCalls != 0 {
		t.Fatalf("expected no on-chain calls when recovery already has a sub-channel")
	}
	if client.pendingSubRAV == nil || client.pendingSubRAV.Nonce != 6 {
		t.Fatalf("expected the recovered pending proposal to be accepted, got %+v", client.pendingSubRAV)
	}
}

func TestClientBeforeRequestAfterResponseRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := recoveryResponseBody{
			Channel:    &model.ChannelInfo{ChannelID: testChannelID, AssetID: "eth:native", Status: model.ChannelActive},
			SubChannel: &model.SubChannelInfo{ChannelID: testChannelID, VmIDFragment: "key-1"},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	client, _, _ := newTestClient(t, srv.URL)
	if err := client.EnsureChannelReady(context.Background()); err != nil {
		t.Fatalf("EnsureChannelReady: %v", err)
	}

	header, pending, err := client.BeforeRequest(context.Background(), http.MethodPost, srv.URL+"/chat", big.NewInt(1_000_000), time.Second)
	if err != nil {
		t.Fatalf("BeforeRequest: %v", err)
	}
	if header.Get(transport.HeaderName) == "" {
		t.Fatalf("expected an envelope header")
	}

	// Simulate the payee's response: it proposes nonce=1, amount=100, and
	// confirms cost=100 against the handshake this client just signed.
	respPayload := &transport.ResponsePayload{
		Version:      1,
		ClientTxRef:  pending.ClientTxRef(),
		ServiceTxRef: "svc-tx-1",
		SubRav:       &model.SubRAV{ChannelID: testChannelID, VmIDFragment: "key-1", Nonce: 1, AccumulatedAmount: big.NewInt(100)},
		Cost:         big.NewInt(100),
		CostUsd:      big.NewInt(1_000_000),
	}
	raw, err := transport.EncodeResponsePayload(respPayload)
	if err != nil {
		t.Fatalf("EncodeResponsePayload: %v", err)
	}
	respHeader := make(http.Header)
	respHeader.Set(transport.HeaderName, transport.EncodeHeaderValue(raw))

	if err := client.AfterResponse(context.Background(), respHeader); err != nil {
		t.Fatalf("AfterResponse: %v", err)
	}

	info, err := pending.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if info.Cost.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("expected cost=100, got %s", info.Cost)
	}
	if client.pendingSubRAV == nil || client.pendingSubRAV.Nonce != 1 {
		t.Fatalf("expected the new proposal (nonce=1) to become pendingSubRAV, got %+v", client.pendingSubRAV)
	}
}

func TestClientCommitSubRAVClearsMatchingPending(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(commitResponseBody{Committed: true})
	}))
	defer srv.Close()

	client, _, pk := newTestClient(t, srv.URL)
	rav := &model.SubRAV{Version: 1, ChainID: 4, ChannelID: testChannelID, VmIDFragment: "key-1", Nonce: 3, AccumulatedAmount: big.NewInt(300)}
	client.pendingSubRAV = &model.PendingProposal{ChannelID: testChannelID, VmIDFragment: "key-1", Nonce: 3, AccumulatedAmount: big.NewInt(300)}

	signed, err := subrav.SignWithKey(rav, pk)
	if err != nil {
		t.Fatalf("SignWithKey: %v", err)
	}
	if err := client.CommitSubRAV(context.Background(), signed); err != nil {
		t.Fatalf("CommitSubRAV: %v", err)
	}
	if client.pendingSubRAV != nil {
		t.Fatalf("expected pendingSubRAV to be cleared after a matching commit")
	}
}
