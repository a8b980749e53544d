package model

import (
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"time"
)

// SupportedVersions lists the SubRAV wire versions this build accepts when
// decoding or verifying. Encoding a SubRAV with an unsupported version is
// permitted (forward-compatible proposers); see pkg/subrav.
var SupportedVersions = map[uint8]bool{1: true}

// channelIDPattern enforces invariant I6: a 66-char 0x-prefixed lowercase
// hex string (32 bytes).
var channelIDPattern = regexp.MustCompile(`^0x[0-9a-f]{64}$`)

// ValidChannelID reports whether id satisfies invariant I6.
func ValidChannelID(id string) bool {
	return channelIDPattern.MatchString(id)
}

// SubRAV is an immutable Sub-channel Receipt And Voucher: a cumulative
// balance the payer authorizes the payee to eventually claim on-chain for
// one sub-channel (channelId, vmIdFragment) at one nonce. See spec §3.
type SubRAV struct {
	Version           uint8
	ChainID           uint64
	ChannelID         string
	ChannelEpoch      uint64
	VmIDFragment      string
	AccumulatedAmount *big.Int
	Nonce             uint64
}

// NewSubRAV constructs a SubRAV, enforcing I6 on the channel id. It does not
// enforce I5 (version gate) — that is a decode-time/verify-time concern, per
// spec §4.1's version policy, so that forward-compatible proposers can still
// construct and encode a SubRAV carrying an unfamiliar version.
func NewSubRAV(version uint8, chainID uint64, channelID string, epoch uint64, vmIDFragment string, amount *big.Int, nonce uint64) (*SubRAV, error) {
	if !ValidChannelID(channelID) {
		return nil, fmt.Errorf("subrav: invalid channelId %q: want 0x + 64 lowercase hex chars", channelID)
	}
	if amount == nil {
		amount = big.NewInt(0)
	}
	if amount.Sign() < 0 {
		return nil, errors.New("subrav: accumulatedAmount must be non-negative")
	}
	return &SubRAV{
		Version:           version,
		ChainID:           chainID,
		ChannelID:         channelID,
		ChannelEpoch:      epoch,
		VmIDFragment:      vmIDFragment,
		AccumulatedAmount: new(big.Int).Set(amount),
		Nonce:             nonce,
	}, nil
}

// Handshake builds the nonce=0, amount=0 SubRAV a payer signs on its very
// first call over a newly opened sub-channel (spec §3 Lifecycle, §4.4).
func Handshake(chainID uint64, channelID string, epoch uint64, vmIDFragment string) (*SubRAV, error) {
	return NewSubRAV(1, chainID, channelID, epoch, vmIDFragment, big.NewInt(0), 0)
}

// Next returns the SubRAV that would follow s after charging delta
// additional asset units, i.e. nonce+1 and accumulatedAmount+delta, holding
// channelId/epoch/vmIdFragment/chainId fixed.
func (s *SubRAV) Next(delta *big.Int) *SubRAV {
	amt := new(big.Int).Set(s.AccumulatedAmount)
	if delta != nil {
		amt.Add(amt, delta)
	}
	return &SubRAV{
		Version:           s.Version,
		ChainID:           s.ChainID,
		ChannelID:         s.ChannelID,
		ChannelEpoch:      s.ChannelEpoch,
		VmIDFragment:      s.VmIDFragment,
		AccumulatedAmount: amt,
		Nonce:             s.Nonce + 1,
	}
}

// SameSubChannel reports whether s and o identify the same
// (channelId, vmIdFragment) sub-channel.
func (s *SubRAV) SameSubChannel(o *SubRAV) bool {
	return o != nil && s.ChannelID == o.ChannelID && s.VmIDFragment == o.VmIDFragment
}

// SignedSubRAV pairs a SubRAV with the payer's signature over its canonical
// encoding (pkg/subrav.Encode).
type SignedSubRAV struct {
	SubRav    SubRAV
	Signature []byte
}

// ChannelStatus is the lifecycle state of an on-chain payment channel.
type ChannelStatus string

const (
	ChannelActive  ChannelStatus = "active"
	ChannelClosing ChannelStatus = "closing"
	ChannelClosed  ChannelStatus = "closed"
)

// ChannelInfo is a cached snapshot of on-chain channel metadata (spec §3).
type ChannelInfo struct {
	ChannelID string
	PayerDID  string
	PayeeDID  string
	AssetID   string
	Epoch     uint64
	Status    ChannelStatus
}

// SubChannelInfo reflects the last on-chain-confirmed state of one payer key
// inside one channel (spec §3).
type SubChannelInfo struct {
	ChannelID          string
	VmIDFragment       string
	Epoch              uint64
	LastClaimedAmount  *big.Int
	LastConfirmedNonce uint64
	PublicKey          []byte
	MethodType         string
	LastUpdated        *time.Time
}

// PendingProposal is the payee-emitted, unsigned next SubRAV awaiting the
// payer's signature on the next request (spec §3).
type PendingProposal struct {
	ChannelID         string
	VmIDFragment      string
	Nonce             uint64
	AccumulatedAmount *big.Int
	Epoch             uint64
	CreatedAt         time.Time
}

// AsSubRAV converts p to the unsigned SubRAV it represents, for encoding or
// comparison against a submitted signed SubRAV.
func (p *PendingProposal) AsSubRAV(chainID uint64) *SubRAV {
	return &SubRAV{
		Version:           1,
		ChainID:           chainID,
		ChannelID:         p.ChannelID,
		ChannelEpoch:      p.Epoch,
		VmIDFragment:      p.VmIDFragment,
		AccumulatedAmount: new(big.Int).Set(p.AccumulatedAmount),
		Nonce:             p.Nonce,
	}
}

// RuleMatch is the predicate half of a BillingRule: a request matches when
// every non-empty field here equals the corresponding value in RequestMeta,
// with PathRegex compiled and matched against Path. A rule with Default=true
// carries no RuleMatch and is selected when nothing else does.
type RuleMatch struct {
	Path      string
	PathRegex string
	Method    string
	Custom    map[string]string
}

// StrategyKind identifies a registered BillingStrategy implementation.
type StrategyKind string

const (
	StrategyPerRequest StrategyKind = "per_request"
	StrategyPerToken   StrategyKind = "per_token"
	StrategyFinalCost  StrategyKind = "final_cost"
)

// StrategyConfig configures one of the billing strategies of spec §4.3.
type StrategyConfig struct {
	Kind StrategyKind

	// PerRequest
	PricePicoUSD *big.Int

	// PerToken
	UnitPricePicoUSD *big.Int
	UsageKey         string
}

// BillingRule selects a StrategyConfig for matching requests (spec §3, §4.3).
// Rules are evaluated in declared (insertion) order; Default rules are
// sorted last and used only if no non-default rule matches.
type BillingRule struct {
	ID              string
	When            *RuleMatch
	Default         bool
	Strategy        StrategyConfig
	AuthRequired    bool
	AdminOnly       bool
	PaymentRequired bool
}

// RequestMeta carries the request-shaped facts the rule matcher and billing
// strategies read: routing info, freeform equality keys, and usage counters
// a business handler populates for deferred strategies.
type RequestMeta struct {
	Path   string
	Method string
	Custom map[string]string
	Usage  map[string]any
}

// ErrorKind is the transport-independent error taxonomy of spec §7.
type ErrorKind string

const (
	ErrUnauthorized       ErrorKind = "UNAUTHORIZED"
	ErrForbidden          ErrorKind = "FORBIDDEN"
	ErrPaymentRequired    ErrorKind = "PAYMENT_REQUIRED"
	ErrInsufficientFunds  ErrorKind = "INSUFFICIENT_FUNDS"
	ErrRAVConflict        ErrorKind = "RAV_CONFLICT"
	ErrBadRequest         ErrorKind = "BAD_REQUEST"
	ErrNotFound           ErrorKind = "NOT_FOUND"
	ErrServiceUnavailable ErrorKind = "SERVICE_UNAVAILABLE"
	ErrInternal           ErrorKind = "INTERNAL_ERROR"
)

// ProtocolError is the tagged-result error type used across every process or
// network boundary in this module (spec §9 "Exceptions vs. results").
type ProtocolError struct {
	Kind    ErrorKind
	Message string
	// Pending, when set, is surfaced alongside ErrPaymentRequired so the
	// payer can sign it on its next request without an extra round trip.
	Pending *PendingProposal
}

func (e *ProtocolError) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// NewProtocolError builds a ProtocolError of the given kind.
func NewProtocolError(kind ErrorKind, format string, args ...any) *ProtocolError {
	return &ProtocolError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// BillingState is the mutable, in-progress portion of a BillingContext,
// populated as the payee pipeline (pkg/payment) advances through
// preProcess → settle → persist.
type BillingState struct {
	ChannelInfo     *ChannelInfo
	SubChannelState *SubChannelInfo
	Cost            *big.Int // asset units
	CostUsd         *big.Int // picoUSD
	UnsignedSubRav  *SubRAV
	ResponsePayload *ResponsePayload
	Error           *ProtocolError
	// Verified holds the submitted SignedSubRAV once Step A has verified it;
	// nil if no SubRAV was submitted or verification hasn't run yet.
	Verified *SignedSubRAV
}

// BillingContext is the in-flight, per-request state threaded through the
// payee pipeline (spec §3).
type BillingContext struct {
	ServiceID    string
	AssetID      string
	Rule         *BillingRule
	PayerDID     string
	KeyID        string
	SignedSubRav *SignedSubRAV
	MaxAmount    *big.Int
	ClientTxRef  string
	Meta         RequestMeta
	State        BillingState
}

// ResponsePayload is the transport-agnostic shape of the response envelope
// body (spec §6); pkg/transport renders it to HTTP header / MCP JSON.
type ResponsePayload struct {
	Version     int
	ClientTxRef string
	ServiceTxRef string
	SubRav      *SubRAV
	Cost        *big.Int
	CostUsd     *big.Int
	Error       *ProtocolError
}
