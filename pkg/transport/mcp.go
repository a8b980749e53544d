package transport

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/nuwa-protocol/subrav-go/pkg/model"
)

// Reserved MCP tool-parameter keys (spec §4.7, §6).
const (
	MCPAuthParam    = "__nuwa_auth"
	MCPPaymentParam = "__nuwa_payment"
)

// MCPResourceURI and MCPResourceMimeType identify the payment payload when
// it is embedded as a content item instead of a structured result field
// (spec §6).
const (
	MCPResourceURI      = "nuwa:payment"
	MCPResourceMimeType = "application/vnd.nuwa.payment+json"
)

// ResourceContent is the content-item shape spec §6 allows for embedding
// the response payload in an MCP tool result.
type ResourceContent struct {
	Type     string        `json:"type"`
	Resource ResourceBlock `json:"resource"`
}

// ResourceBlock is the inner "resource" object of a ResourceContent item.
type ResourceBlock struct {
	URI      string `json:"uri"`
	MimeType string `json:"mimeType"`
	Text     string `json:"text"`
}

// ToolHandler runs the business logic of one MCP tool call; params and the
// returned result are the tool's own arguments/output, stripped of the two
// reserved payment keys.
type ToolHandler func(ctx context.Context, params map[string]any) (map[string]any, error)

// MCPAdapter is the payee-side MCP adapter of spec §4.7: the same
// preProcess/handler/settle/persist pipeline as the HTTP Middleware, but
// operating on tool-call parameter maps instead of an http.Request.
type MCPAdapter struct {
	Processor    Processor
	BuildContext func(ctx context.Context, toolName string, params map[string]any) (*model.BillingContext, error)
	Logger       *zap.Logger
}

// NewMCPAdapter builds an MCPAdapter. A nil logger installs a no-op one.
func NewMCPAdapter(processor Processor, buildContext func(ctx context.Context, toolName string, params map[string]any) (*model.BillingContext, error), logger *zap.Logger) *MCPAdapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MCPAdapter{Processor: processor, BuildContext: buildContext, Logger: logger}
}

// extractPayment pulls the reserved payment key out of params, decoding it
// via the same JSON shape the HTTP envelope uses (spec §6: "a single codec
// serves both transports").
func extractPayment(params map[string]any) (*RequestPayload, bool, error) {
	raw, ok := params[MCPPaymentParam]
	if !ok || raw == nil {
		return nil, false, nil
	}
	encoded, err := json.Marshal(raw)
	if err != nil {
		return nil, true, fmt.Errorf("transport: marshal %s: %w", MCPPaymentParam, err)
	}
	payload, err := DecodeRequestPayload(encoded)
	if err != nil {
		return nil, true, err
	}
	return payload, true, nil
}

// HandleToolCall runs the MCP payee pipeline around handler: extract the
// envelope from the reserved parameter keys, preProcess, invoke handler,
// settle, embed the response envelope in both the structured field and a
// resource content item, and schedule persist.
func (a *MCPAdapter) HandleToolCall(ctx context.Context, toolName string, params map[string]any, handler ToolHandler) (map[string]any, error) {
	bc, err := a.BuildContext(ctx, toolName, params)
	if err != nil {
		return nil, err
	}

	payload, hasPayment, err := extractPayment(params)
	if err != nil {
		return a.errorResult(bc, "", model.NewProtocolError(model.ErrBadRequest, "malformed payment payload: %v", err)), nil
	}
	clientTxRef := ""
	if hasPayment {
		bc.SignedSubRav = payload.SignedSubRav
		bc.ClientTxRef = payload.ClientTxRef
		bc.MaxAmount = payload.MaxAmount
		clientTxRef = payload.ClientTxRef
	}

	if err := a.Processor.PreProcess(ctx, bc); err != nil {
		return a.errorResult(bc, clientTxRef, bc.State.Error), nil
	}

	if bc.Rule == nil {
		return a.runHandler(ctx, params, handler)
	}

	result, handlerErr := a.runHandlerCaptured(ctx, params, handler)
	_ = a.Processor.Settle(bc, handlerErr)

	resp := ResponseFromState(bc, clientTxRef, "")
	a.embedPayment(result, resp)

	go func() {
		if err := a.Processor.Persist(context.Background(), bc); err != nil {
			a.Logger.Error("persist billing state", zap.Error(err))
		}
	}()

	return result, handlerErr
}

func (a *MCPAdapter) runHandler(ctx context.Context, params map[string]any, handler ToolHandler) (map[string]any, error) {
	return handler(ctx, stripPaymentKeys(params))
}

// runHandlerCaptured shields the business handler the same way the HTTP
// adapter does, so a panic still allows Settle to run with cost 0.
func (a *MCPAdapter) runHandlerCaptured(ctx context.Context, params map[string]any, handler ToolHandler) (result map[string]any, handlerErr error) {
	defer func() {
		if rec := recover(); rec != nil {
			handlerErr = fmt.Errorf("transport: business handler panicked: %v", rec)
			a.Logger.Error("recovered panic in business handler", zap.Any("panic", rec))
			result = map[string]any{}
		}
	}()
	result, handlerErr = handler(ctx, stripPaymentKeys(params))
	if result == nil {
		result = map[string]any{}
	}
	return result, handlerErr
}

func stripPaymentKeys(params map[string]any) map[string]any {
	clean := make(map[string]any, len(params))
	for k, v := range params {
		if k == MCPAuthParam || k == MCPPaymentParam {
			continue
		}
		clean[k] = v
	}
	return clean
}

func (a *MCPAdapter) embedPayment(result map[string]any, resp *ResponsePayload) {
	raw, err := EncodeResponsePayload(resp)
	if err != nil {
		a.Logger.Error("encode MCP payment payload", zap.Error(err))
		return
	}
	var asMap map[string]any
	if err := json.Unmarshal(raw, &asMap); err != nil {
		a.Logger.Error("re-decode MCP payment payload", zap.Error(err))
		return
	}
	result[MCPPaymentParam] = asMap

	content, _ := result["content"].([]any)
	content = append(content, ResourceContent{
		Type: "resource",
		Resource: ResourceBlock{
			URI:      MCPResourceURI,
			MimeType: MCPResourceMimeType,
			Text:     string(raw),
		},
	})
	result["content"] = content
}

func (a *MCPAdapter) errorResult(bc *model.BillingContext, clientTxRef string, perr *model.ProtocolError) map[string]any {
	if perr == nil {
		perr = model.NewProtocolError(model.ErrInternal, "unknown error")
	}
	resp := &ResponsePayload{Version: 1, ClientTxRef: clientTxRef, Error: perr}
	if perr.Pending != nil {
		resp.SubRav = perr.Pending.AsSubRAV(chainIDOf(bc))
	}
	result := map[string]any{"isError": true}
	a.embedPayment(result, resp)
	return result
}
