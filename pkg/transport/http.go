package transport

import (
	"bytes"
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/nuwa-protocol/subrav-go/pkg/model"
)

// Processor is the slice of pkg/payment.Processor the HTTP and MCP adapters
// need (spec §4.4, §4.7).
type Processor interface {
	PreProcess(ctx context.Context, bc *model.BillingContext) error
	Settle(bc *model.BillingContext, handlerErr error) error
	Persist(ctx context.Context, bc *model.BillingContext) error
}

// ContextBuilder builds the base BillingContext for an incoming HTTP
// request — DID-auth verification, Meta.Path/Method/Custom, ServiceID and
// AssetID — before the envelope's payment fields are layered on top.
type ContextBuilder func(r *http.Request) (*model.BillingContext, error)

// HasPaymentData reports whether h carries the payment envelope header
// (spec §6, case-insensitive; http.Header.Get already canonicalizes keys).
func HasPaymentData(h http.Header) bool {
	return h.Get(HeaderName) != ""
}

// ParseRequestHeader extracts and decodes the envelope from an incoming
// request's headers. ok is false when the header is absent, meaning the
// caller should treat the request as carrying no payment envelope at all
// (distinct from a present-but-malformed header, which is an error).
func ParseRequestHeader(h http.Header) (payload *RequestPayload, ok bool, err error) {
	value := h.Get(HeaderName)
	if value == "" {
		return nil, false, nil
	}
	raw, err := DecodeHeaderValue(value)
	if err != nil {
		return nil, true, err
	}
	payload, err = DecodeRequestPayload(raw)
	if err != nil {
		return nil, true, err
	}
	return payload, true, nil
}

// WriteResponseHeader encodes p and sets it as the envelope header on w.
// Must be called before the first byte of the body is written.
func WriteResponseHeader(h http.Header, p *ResponsePayload) error {
	raw, err := EncodeResponsePayload(p)
	if err != nil {
		return fmt.Errorf("transport: encode response header: %w", err)
	}
	h.Set(HeaderName, EncodeHeaderValue(raw))
	return nil
}

// Middleware is the payee-side HTTP adapter of spec §4.7: it extracts the
// envelope, runs PreProcess, invokes the business handler, settles before
// the response is flushed, and schedules Persist after.
type Middleware struct {
	Processor    Processor
	BuildContext ContextBuilder
	Next         http.Handler
	Logger       *zap.Logger
}

// NewMiddleware builds a Middleware. A nil logger installs a no-op one.
func NewMiddleware(processor Processor, buildContext ContextBuilder, next http.Handler, logger *zap.Logger) *Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Middleware{Processor: processor, BuildContext: buildContext, Next: next, Logger: logger}
}

// bufferedResponseWriter captures the handler's response so Settle can run,
// and the envelope header can be set, before anything reaches the wire
// (spec §4.7 step 6: "synchronously calls settle and writes the response
// header before body flush").
type bufferedResponseWriter struct {
	header     http.Header
	body       bytes.Buffer
	statusCode int
}

func newBufferedResponseWriter() *bufferedResponseWriter {
	return &bufferedResponseWriter{header: make(http.Header), statusCode: http.StatusOK}
}

func (b *bufferedResponseWriter) Header() http.Header { return b.header }

func (b *bufferedResponseWriter) Write(p []byte) (int, error) { return b.body.Write(p) }

func (b *bufferedResponseWriter) WriteHeader(code int) { b.statusCode = code }

func (m *Middleware) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	bc, err := m.BuildContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	payload, hasPayment, err := ParseRequestHeader(r.Header)
	if err != nil {
		bc.State.Error = model.NewProtocolError(model.ErrBadRequest, "malformed payment envelope: %v", err)
		m.writeError(w, bc, "")
		return
	}
	clientTxRef := ""
	if hasPayment {
		bc.SignedSubRav = payload.SignedSubRav
		bc.ClientTxRef = payload.ClientTxRef
		bc.MaxAmount = payload.MaxAmount
		clientTxRef = payload.ClientTxRef
	}

	if err := m.Processor.PreProcess(r.Context(), bc); err != nil {
		m.writeError(w, bc, clientTxRef)
		return
	}
	if bc.Rule == nil {
		// No rule matched: free, unbilled request. Run the handler directly,
		// no envelope is emitted.
		m.Next.ServeHTTP(w, r)
		return
	}

	buf := newBufferedResponseWriter()
	handlerErr := m.runHandler(buf, r)

	_ = m.Processor.Settle(bc, handlerErr)

	resp := ResponseFromState(bc, clientTxRef, "")
	if err := WriteResponseHeader(w.Header(), resp); err != nil {
		m.Logger.Error("encode response envelope", zap.Error(err))
	}
	for k, vs := range buf.header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(buf.statusCode)
	_, _ = w.Write(buf.body.Bytes())

	go func() {
		if err := m.Processor.Persist(context.Background(), bc); err != nil {
			m.Logger.Error("persist billing state", zap.Error(err))
		}
	}()
}

// runHandler invokes Next, recovering a panic into an error so that Settle
// still runs with cost 0 (spec §4.7 step 7's "must be shielded").
func (m *Middleware) runHandler(w http.ResponseWriter, r *http.Request) (handlerErr error) {
	defer func() {
		if rec := recover(); rec != nil {
			handlerErr = fmt.Errorf("transport: business handler panicked: %v", rec)
			m.Logger.Error("recovered panic in business handler", zap.Any("panic", rec))
		}
	}()
	m.Next.ServeHTTP(w, r)
	return nil
}

func (m *Middleware) writeError(w http.ResponseWriter, bc *model.BillingContext, clientTxRef string) {
	perr := bc.State.Error
	if perr == nil {
		perr = model.NewProtocolError(model.ErrInternal, "unknown error")
	}
	resp := &ResponsePayload{Version: 1, ClientTxRef: clientTxRef, Error: perr}
	if perr.Pending != nil {
		resp.SubRav = perr.Pending.AsSubRAV(chainIDOf(bc))
	}
	if err := WriteResponseHeader(w.Header(), resp); err != nil {
		m.Logger.Error("encode error envelope", zap.Error(err))
	}
	w.WriteHeader(HTTPStatusForKind(perr.Kind))
	body, _ := EncodeResponsePayload(resp)
	_, _ = w.Write(body)
}
