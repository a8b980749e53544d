package transport

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/nuwa-protocol/subrav-go/pkg/model"
)

// HeaderName is the HTTP header carrying the payment envelope (spec §6).
// Header lookups must be case-insensitive; net/http.Header.Get already
// canonicalizes the key, so callers going through http.Header get this for
// free.
const HeaderName = "X-Payment-Channel-Data"

// subRAVWire mirrors the JSON shape of spec §6: every numeric field is a
// decimal string to survive a round trip through JSON without losing
// precision on a u64/u256 value.
type subRAVWire struct {
	Version           string `json:"version"`
	ChainID           string `json:"chainId"`
	ChannelID         string `json:"channelId"`
	ChannelEpoch      string `json:"channelEpoch"`
	VmIDFragment      string `json:"vmIdFragment"`
	AccumulatedAmount string `json:"accumulatedAmount"`
	Nonce             string `json:"nonce"`
}

// signedSubRAVWire mirrors the signedSubRav field of the request payload.
type signedSubRAVWire struct {
	SubRav    subRAVWire `json:"subRav"`
	Signature string     `json:"signature"`
}

// errorWire mirrors the error field of the response payload.
type errorWire struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

// RequestPayload is the decoded form of the request-side envelope JSON
// (spec §6): `{version, clientTxRef, maxAmount?, signedSubRav?}`.
type RequestPayload struct {
	Version      int
	ClientTxRef  string
	MaxAmount    *big.Int
	SignedSubRav *model.SignedSubRAV
}

// requestWire is RequestPayload's JSON-on-the-wire shape.
type requestWire struct {
	Version      int               `json:"version"`
	ClientTxRef  string            `json:"clientTxRef"`
	MaxAmount    string            `json:"maxAmount,omitempty"`
	SignedSubRav *signedSubRAVWire `json:"signedSubRav,omitempty"`
}

// ResponsePayload is the decoded form of the response-side envelope JSON
// (spec §6): `{version, clientTxRef?, serviceTxRef?, subRav?, cost?,
// costUsd?, error?}`.
type ResponsePayload struct {
	Version      int
	ClientTxRef  string
	ServiceTxRef string
	SubRav       *model.SubRAV
	Cost         *big.Int
	CostUsd      *big.Int
	Error        *model.ProtocolError
}

// responseWire is ResponsePayload's JSON-on-the-wire shape.
type responseWire struct {
	Version      int         `json:"version"`
	ClientTxRef  string      `json:"clientTxRef,omitempty"`
	ServiceTxRef string      `json:"serviceTxRef,omitempty"`
	SubRav       *subRAVWire `json:"subRav,omitempty"`
	Cost         string      `json:"cost,omitempty"`
	CostUsd      string      `json:"costUsd,omitempty"`
	Error        *errorWire  `json:"error,omitempty"`
}

func subRAVToWire(s *model.SubRAV) *subRAVWire {
	if s == nil {
		return nil
	}
	amount := s.AccumulatedAmount
	if amount == nil {
		amount = big.NewInt(0)
	}
	return &subRAVWire{
		Version:           fmt.Sprintf("%d", s.Version),
		ChainID:           fmt.Sprintf("%d", s.ChainID),
		ChannelID:         s.ChannelID,
		ChannelEpoch:      fmt.Sprintf("%d", s.ChannelEpoch),
		VmIDFragment:      s.VmIDFragment,
		AccumulatedAmount: amount.String(),
		Nonce:             fmt.Sprintf("%d", s.Nonce),
	}
}

func subRAVFromWire(w *subRAVWire) (*model.SubRAV, error) {
	if w == nil {
		return nil, nil
	}
	var version uint64
	if _, err := fmt.Sscanf(w.Version, "%d", &version); err != nil {
		return nil, fmt.Errorf("transport: subRav.version %q: %w", w.Version, err)
	}
	var chainID, epoch, nonce uint64
	if _, err := fmt.Sscanf(w.ChainID, "%d", &chainID); err != nil {
		return nil, fmt.Errorf("transport: subRav.chainId %q: %w", w.ChainID, err)
	}
	if _, err := fmt.Sscanf(w.ChannelEpoch, "%d", &epoch); err != nil {
		return nil, fmt.Errorf("transport: subRav.channelEpoch %q: %w", w.ChannelEpoch, err)
	}
	if _, err := fmt.Sscanf(w.Nonce, "%d", &nonce); err != nil {
		return nil, fmt.Errorf("transport: subRav.nonce %q: %w", w.Nonce, err)
	}
	amount, ok := new(big.Int).SetString(w.AccumulatedAmount, 10)
	if !ok {
		return nil, fmt.Errorf("transport: subRav.accumulatedAmount %q is not a decimal integer", w.AccumulatedAmount)
	}
	return &model.SubRAV{
		Version:           uint8(version),
		ChainID:           chainID,
		ChannelID:         w.ChannelID,
		ChannelEpoch:      epoch,
		VmIDFragment:      w.VmIDFragment,
		AccumulatedAmount: amount,
		Nonce:             nonce,
	}, nil
}

func bigIntString(v *big.Int) string {
	if v == nil {
		return ""
	}
	return v.String()
}

func parseBigIntField(name, s string) (*big.Int, error) {
	if s == "" {
		return nil, nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("transport: %s %q is not a decimal integer", name, s)
	}
	return v, nil
}

// EncodeRequestPayload renders p to the JSON bytes carried by the envelope
// (pre-base64; the HTTP adapter base64url-encodes this, the MCP adapter
// embeds it as-is in __nuwa_payment).
func EncodeRequestPayload(p *RequestPayload) ([]byte, error) {
	w := requestWire{Version: p.Version, ClientTxRef: p.ClientTxRef, MaxAmount: bigIntString(p.MaxAmount)}
	if p.SignedSubRav != nil {
		w.SignedSubRav = &signedSubRAVWire{
			SubRav:    *subRAVToWire(&p.SignedSubRav.SubRav),
			Signature: base64.RawURLEncoding.EncodeToString(p.SignedSubRav.Signature),
		}
	}
	return json.Marshal(w)
}

// DecodeRequestPayload parses the JSON bytes produced by EncodeRequestPayload.
func DecodeRequestPayload(raw []byte) (*RequestPayload, error) {
	var w requestWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("transport: decode request payload: %w", err)
	}
	p := &RequestPayload{Version: w.Version, ClientTxRef: w.ClientTxRef}
	maxAmount, err := parseBigIntField("maxAmount", w.MaxAmount)
	if err != nil {
		return nil, err
	}
	p.MaxAmount = maxAmount
	if w.SignedSubRav != nil {
		subRav, err := subRAVFromWire(&w.SignedSubRav.SubRav)
		if err != nil {
			return nil, err
		}
		sig, err := base64.RawURLEncoding.DecodeString(w.SignedSubRav.Signature)
		if err != nil {
			return nil, fmt.Errorf("transport: decode signature: %w", err)
		}
		p.SignedSubRav = &model.SignedSubRAV{SubRav: *subRav, Signature: sig}
	}
	return p, nil
}

// EncodeResponsePayload renders p to the JSON bytes carried by the envelope.
func EncodeResponsePayload(p *ResponsePayload) ([]byte, error) {
	w := responseWire{
		Version:      p.Version,
		ClientTxRef:  p.ClientTxRef,
		ServiceTxRef: p.ServiceTxRef,
		SubRav:       subRAVToWire(p.SubRav),
		Cost:         bigIntString(p.Cost),
		CostUsd:      bigIntString(p.CostUsd),
	}
	if p.Error != nil {
		w.Error = &errorWire{Code: string(p.Error.Kind), Message: p.Error.Message}
	}
	return json.Marshal(w)
}

// DecodeResponsePayload parses the JSON bytes produced by EncodeResponsePayload.
func DecodeResponsePayload(raw []byte) (*ResponsePayload, error) {
	var w responseWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("transport: decode response payload: %w", err)
	}
	p := &ResponsePayload{Version: w.Version, ClientTxRef: w.ClientTxRef, ServiceTxRef: w.ServiceTxRef}
	subRav, err := subRAVFromWire(w.SubRav)
	if err != nil {
		return nil, err
	}
	p.SubRav = subRav
	cost, err := parseBigIntField("cost", w.Cost)
	if err != nil {
		return nil, err
	}
	p.Cost = cost
	costUsd, err := parseBigIntField("costUsd", w.CostUsd)
	if err != nil {
		return nil, err
	}
	p.CostUsd = costUsd
	if w.Error != nil {
		p.Error = &model.ProtocolError{Kind: model.ErrorKind(w.Error.Code), Message: w.Error.Message}
	}
	return p, nil
}

// EncodeHeaderValue base64url-encodes raw JSON with no padding, per spec §6.
func EncodeHeaderValue(raw []byte) string {
	return base64.RawURLEncoding.EncodeToString(raw)
}

// DecodeHeaderValue reverses EncodeHeaderValue.
func DecodeHeaderValue(value string) ([]byte, error) {
	raw, err := base64.RawURLEncoding.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("transport: decode header value: %w", err)
	}
	return raw, nil
}

// ResponseFromState builds a ResponsePayload from a BillingContext's final
// state, after PreProcess/Settle have run (spec §6). clientTxRef is taken
// from the request so the payer can correlate the response even when
// bc.ClientTxRef was never set (e.g. a rejected request before that field
// was read).
func ResponseFromState(bc *model.BillingContext, clientTxRef, serviceTxRef string) *ResponsePayload {
	resp := &ResponsePayload{Version: 1, ClientTxRef: clientTxRef, ServiceTxRef: serviceTxRef}
	if bc.State.Error != nil {
		resp.Error = bc.State.Error
		if bc.State.Error.Pending != nil {
			resp.SubRav = bc.State.Error.Pending.AsSubRAV(chainIDOf(bc))
		}
		return resp
	}
	resp.Cost = bc.State.Cost
	resp.CostUsd = bc.State.CostUsd
	resp.SubRav = bc.State.UnsignedSubRav
	return resp
}

func chainIDOf(bc *model.BillingContext) uint64 {
	if bc.SignedSubRav != nil {
		return bc.SignedSubRav.SubRav.ChainID
	}
	if bc.State.Verified != nil {
		return bc.State.Verified.SubRav.ChainID
	}
	return 0
}
