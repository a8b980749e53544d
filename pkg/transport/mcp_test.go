package transport

import (
	"context"
	"math/big"
	"testing"

	"github.com/nuwa-protocol/subrav-go/pkg/model"
)

func TestMCPAdapterFreeToolCallSkipsPaymentEmbed(t *testing.T) {
	proc := &fakeProcessor{rule: nil}
	adapter := NewMCPAdapter(proc, func(ctx context.Context, toolName string, params map[string]any) (*model.BillingContext, error) {
		return &model.BillingContext{}, nil
	}, nil)

	called := false
	result, err := adapter.HandleToolCall(context.Background(), "echo", map[string]any{"text": "hi"}, func(ctx context.Context, params map[string]any) (map[string]any, error) {
		called = true
		return map[string]any{"text": params["text"]}, nil
	})
	if err != nil {
		t.Fatalf("HandleToolCall: %v", err)
	}
	if !called {
		t.Fatalf("expected handler to run")
	}
	if _, ok := result[MCPPaymentParam]; ok {
		t.Fatalf("expected no payment embed on a free tool call")
	}
}

func TestMCPAdapterBilledToolCallEmbedsPayment(t *testing.T) {
	proc := &fakeProcessor{rule: &model.BillingRule{ID: "billed"}, cost: big.NewInt(5)}
	adapter := NewMCPAdapter(proc, func(ctx context.Context, toolName string, params map[string]any) (*model.BillingContext, error) {
		return &model.BillingContext{}, nil
	}, nil)

	result, err := adapter.HandleToolCall(context.Background(), "chat", map[string]any{"prompt": "hi"}, func(ctx context.Context, params map[string]any) (map[string]any, error) {
		return map[string]any{"reply": "hello"}, nil
	})
	if err != nil {
		t.Fatalf("HandleToolCall: %v", err)
	}
	embedded, ok := result[MCPPaymentParam].(map[string]any)
	if !ok {
		t.Fatalf("expected %s field in result, got %+v", MCPPaymentParam, result)
	}
	if embedded["cost"] != "5" {
		t.Fatalf("expected cost=5, got %+v", embedded["cost"])
	}
	content, ok := result["content"].([]any)
	if !ok || len(content) != 1 {
		t.Fatalf("expected one resource content item, got %+v", result["content"])
	}
}

func TestMCPAdapterRejectedCallMarksIsError(t *testing.T) {
	proc := &fakeProcessor{rule: &model.BillingRule{ID: "billed"}, preErr: model.NewProtocolError(model.ErrBadRequest, "bad nonce")}
	adapter := NewMCPAdapter(proc, func(ctx context.Context, toolName string, params map[string]any) (*model.BillingContext, error) {
		return &model.BillingContext{}, nil
	}, nil)

	result, err := adapter.HandleToolCall(context.Background(), "chat", map[string]any{}, func(ctx context.Context, params map[string]any) (map[string]any, error) {
		t.Fatalf("handler must not run when preProcess rejects the request")
		return nil, nil
	})
	if err != nil {
		t.Fatalf("HandleToolCall itself should not error: %v", err)
	}
	if isErr, _ := result["isError"].(bool); !isErr {
		t.Fatalf("expected isError=true, got %+v", result)
	}
}

func TestExtractPaymentStripsReservedKeys(t *testing.T) {
	params := map[string]any{
		MCPAuthParam:    "did-auth-token",
		MCPPaymentParam: map[string]any{"version": float64(1), "clientTxRef": "ref-1"},
		"other":         "kept",
	}
	payload, ok, err := extractPayment(params)
	if err != nil {
		t.Fatalf("extractPayment: %v", err)
	}
	if !ok {
		t.Fatalf("expected payment to be present")
	}
	if payload.ClientTxRef != "ref-1" {
		t.Fatalf("expected clientTxRef ref-1, got %q", payload.ClientTxRef)
	}
	clean := stripPaymentKeys(params)
	if _, ok := clean[MCPAuthParam]; ok {
		t.Fatalf("expected %s stripped", MCPAuthParam)
	}
	if _, ok := clean[MCPPaymentParam]; ok {
		t.Fatalf("expected %s stripped", MCPPaymentParam)
	}
	if clean["other"] != "kept" {
		t.Fatalf("expected non-reserved keys preserved")
	}
}
