package transport

import (
	"context"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/nuwa-protocol/subrav-go/pkg/model"
)

type fakeProcessor struct {
	mu          sync.Mutex
	preErr      *model.ProtocolError
	rule        *model.BillingRule
	cost        *big.Int
	persistCall int
}

func (f *fakeProcessor) PreProcess(ctx context.Context, bc *model.BillingContext) error {
	bc.Rule = f.rule
	if f.preErr != nil {
		bc.State.Error = f.preErr
		return f.preErr
	}
	return nil
}

func (f *fakeProcessor) Settle(bc *model.BillingContext, handlerErr error) error {
	bc.State.Cost = f.cost
	bc.State.CostUsd = big.NewInt(0)
	return nil
}

func (f *fakeProcessor) Persist(ctx context.Context, bc *model.BillingContext) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.persistCall++
	return nil
}

func (f *fakeProcessor) persistCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.persistCall
}

func TestMiddlewareFreeRequestSkipsEnvelope(t *testing.T) {
	proc := &fakeProcessor{rule: nil}
	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	})
	mw := NewMiddleware(proc, func(r *http.Request) (*model.BillingContext, error) {
		return &model.BillingContext{}, nil
	}, next, nil)

	req := httptest.NewRequest(http.MethodGet, "/free", nil)
	rec := httptest.NewRecorder()
	mw.ServeHTTP(rec, req)

	if !called {
		t.Fatalf("expected handler to run for free request")
	}
	if rec.Header().Get(HeaderName) != "" {
		t.Fatalf("expected no envelope header on a free request")
	}
}

func TestMiddlewareBilledRequestWritesEnvelopeBeforeBody(t *testing.T) {
	proc := &fakeProcessor{rule: &model.BillingRule{ID: "billed"}, cost: big.NewInt(10)}
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("hello"))
	})
	mw := NewMiddleware(proc, func(r *http.Request) (*model.BillingContext, error) {
		return &model.BillingContext{}, nil
	}, next, nil)

	req := httptest.NewRequest(http.MethodGet, "/billed", nil)
	rec := httptest.NewRecorder()
	mw.ServeHTTP(rec, req)

	if rec.Header().Get(HeaderName) == "" {
		t.Fatalf("expected envelope header on a billed request")
	}
	if rec.Body.String() != "hello" {
		t.Fatalf("expected body to pass through, got %q", rec.Body.String())
	}

	raw, err := DecodeHeaderValue(rec.Header().Get(HeaderName))
	if err != nil {
		t.Fatalf("DecodeHeaderValue: %v", err)
	}
	resp, err := DecodeResponsePayload(raw)
	if err != nil {
		t.Fatalf("DecodeResponsePayload: %v", err)
	}
	if resp.Cost.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("expected cost 10, got %s", resp.Cost)
	}

	// Persist is scheduled asynchronously after flush; give it a moment.
	deadline := time.Now().Add(time.Second)
	for proc.persistCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if proc.persistCount() == 0 {
		t.Fatalf("expected Persist to be called after response flush")
	}
}

func TestMiddlewareRejectedRequestMapsErrorToStatus(t *testing.T) {
	proc := &fakeProcessor{rule: &model.BillingRule{ID: "billed"}, preErr: model.NewProtocolError(model.ErrPaymentRequired, "sign proposal")}
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("handler must not run when preProcess rejects the request")
	})
	mw := NewMiddleware(proc, func(r *http.Request) (*model.BillingContext, error) {
		return &model.BillingContext{}, nil
	}, next, nil)

	req := httptest.NewRequest(http.MethodGet, "/billed", nil)
	rec := httptest.NewRecorder()
	mw.ServeHTTP(rec, req)

	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("expected 402, got %d", rec.Code)
	}
}

func TestMiddlewarePanicInHandlerStillSettles(t *testing.T) {
	proc := &fakeProcessor{rule: &model.BillingRule{ID: "billed"}, cost: big.NewInt(0)}
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})
	mw := NewMiddleware(proc, func(r *http.Request) (*model.BillingContext, error) {
		return &model.BillingContext{}, nil
	}, next, nil)

	req := httptest.NewRequest(http.MethodGet, "/billed", nil)
	rec := httptest.NewRecorder()
	mw.ServeHTTP(rec, req)

	if rec.Header().Get(HeaderName) == "" {
		t.Fatalf("expected envelope header even after a handler panic")
	}
}
