package payerclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nuwa-protocol/subrav-go/pkg/model"
	"github.com/nuwa-protocol/subrav-go/pkg/subrav"
	"github.com/nuwa-protocol/subrav-go/pkg/transport"
)

// DIDAuthHeaderName is the HTTP header beforeRequest attaches a DID-auth
// token under. Spec §6 only names a reserved key for the MCP transport
// (__nuwa_auth); the HTTP equivalent is an implementation choice recorded
// in DESIGN.md.
const DIDAuthHeaderName = "X-DID-Auth"

const (
	defaultSubChannelPollAttempts = 10
	defaultSubChannelPollDelay    = 500 * time.Millisecond
)

// Config configures a Client (spec §4.6's per-host field list), mirroring
// pkg/config.Config's plain, JSON-taggable struct style.
type Config struct {
	Host           string
	BaseURL        string
	PayerDID       string
	PayeeDID       string
	DefaultAssetID string
	KeyID          string
	VmIDFragment   string
	PublicKey      []byte
	MethodType     string
	InitialDeposit *big.Int
	ChainID        uint64

	HTTPClient *http.Client
	DIDAuth    DIDAuthSigner
	Logger     *zap.Logger
	// TxOpts authorizes the on-chain transactions ensureChannelReady issues
	// (openChannelWithSubChannel, authorizeSubChannel). Built the way
	// pkg/blockchain.GetTransactOpts builds one from a private key; nil
	// means this Client can recover and use an existing channel but cannot
	// open or authorize a new one.
	TxOpts *bind.TransactOpts
}

// Client is the per-host payer-side state machine of spec §4.6.
type Client struct {
	cfg      Config
	contract Contract
	signer   subrav.Signer
	store    StateStore
	inflight *inFlightTracker
	logger   *zap.Logger

	mu                   sync.Mutex
	channelID            string
	channelInfo          *model.ChannelInfo
	subChannelInfo       *model.SubChannelInfo
	pendingSubRAV        *model.PendingProposal
	highestObservedNonce uint64
	discovery            *transport.DiscoveryDocument

	readyMu   sync.Mutex
	readyCall *readyCall
}

type readyCall struct {
	done chan struct{}
	err  error
}

// NewClient builds a Client. contract and signer are required; store
// defaults to a fresh MemoryStateStore and cfg.HTTPClient to
// http.DefaultClient when nil.
func NewClient(cfg Config, contract Contract, signer subrav.Signer, store StateStore) *Client {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if cfg.DIDAuth == nil {
		cfg.DIDAuth = NoDIDAuth{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if store == nil {
		store = NewMemoryStateStore()
	}
	return &Client{
		cfg:      cfg,
		contract: contract,
		signer:   signer,
		store:    store,
		inflight: newInFlightTracker(),
		logger:   logger,
	}
}

// PendingRequest is the caller's handle on a single in-flight request
// (spec §4.6's clientTxRef → {resolve, reject, timeoutId, context} map
// entry).
type PendingRequest struct {
	clientTxRef string
	ch          <-chan inflightResult
	tracker     *inFlightTracker
}

// ClientTxRef returns the request's correlation id, for attaching to the
// outgoing envelope.
func (p *PendingRequest) ClientTxRef() string { return p.clientTxRef }

// Wait blocks until afterResponse resolves this request, its individual
// timeout elapses, or ctx is cancelled.
func (p *PendingRequest) Wait(ctx context.Context) (*PaymentInfo, error) {
	select {
	case res := <-p.ch:
		return res.info, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ExtendTimeout pushes this request's deadline out by extra (spec §4.6).
func (p *PendingRequest) ExtendTimeout(extra time.Duration) bool {
	return p.tracker.extendTimeout(p.clientTxRef, extra)
}

// Close rejects this request if it is still pending, e.g. because the
// caller gave up without waiting.
func (p *PendingRequest) Close(err error) {
	p.tracker.reject(p.clientTxRef, err)
}

// Shutdown rejects every in-flight request, for an orderly close.
func (c *Client) Shutdown(err error) {
	if err == nil {
		err = ErrInFlightClosed
	}
	c.inflight.rejectAll(err)
}

// ResolveAllAsFree resolves every in-flight request with a zero-cost
// PaymentInfo, e.g. when the caller downgrades to a free route mid-flight.
func (c *Client) ResolveAllAsFree() {
	c.inflight.resolveAllAsFree()
}

// snapshot returns a HostState copy of the Client's persisted fields.
func (c *Client) snapshot() *HostState {
	return &HostState{
		ChannelID:            c.channelID,
		ChannelInfo:          c.channelInfo,
		SubChannelInfo:       c.subChannelInfo,
		PendingSubRAV:        c.pendingSubRAV,
		HighestObservedNonce: c.highestObservedNonce,
	}
}

func (c *Client) persist(ctx context.Context) error {
	c.mu.Lock()
	snap := c.snapshot()
	c.mu.Unlock()
	return c.store.Save(ctx, c.cfg.Host, snap)
}

// EnsureChannelReady brings the channel (and, if cfg.VmIDFragment is set,
// the sub-channel) to a usable state: load persisted state, else recover
// from the payee, else open a new channel on-chain (spec §4.6). Concurrent
// callers share a single in-flight attempt.
func (c *Client) EnsureChannelReady(ctx context.Context) error {
	c.readyMu.Lock()
	if c.readyCall != nil {
		call := c.readyCall
		c.readyMu.Unlock()
		<-call.done
		return call.err
	}

	c.mu.Lock()
	ready := c.channelID != "" && c.subChannelInfo != nil
	c.mu.Unlock()
	if ready {
		c.readyMu.Unlock()
		return nil
	}

	call := &readyCall{done: make(chan struct{})}
	c.readyCall = call
	c.readyMu.Unlock()

	err := c.doEnsureChannelReady(ctx)
	call.err = err
	close(call.done)

	c.readyMu.Lock()
	c.readyCall = nil
	c.readyMu.Unlock()
	return err
}

func (c *Client) doEnsureChannelReady(ctx context.Context) error {
	if st, err := c.store.Load(ctx, c.cfg.Host); err == nil && st != nil && st.ChannelID != "" {
		c.mu.Lock()
		c.channelID = st.ChannelID
		c.channelInfo = st.ChannelInfo
		c.subChannelInfo = st.SubChannelInfo
		c.pendingSubRAV = st.PendingSubRAV
		c.highestObservedNonce = st.HighestObservedNonce
		c.mu.Unlock()
		if c.subChannelInfo != nil {
			return nil
		}
	}

	c.mu.Lock()
	channelID := c.channelID
	c.mu.Unlock()

	if channelID == "" {
		resp, err := c.recoverFromService(ctx)
		if err != nil {
			c.logger.Warn("recoverFromService failed, falling back to opening a new channel", zap.Error(err))
		} else if resp.Channel != nil {
			c.mu.Lock()
			c.channelInfo = resp.Channel
			c.channelID = resp.Channel.ChannelID
			c.subChannelInfo = resp.SubChannel
			c.mu.Unlock()
			if resp.PendingSubRav != nil {
				c.acceptPending(resp.PendingSubRav)
			}
		}
	}

	c.mu.Lock()
	channelID = c.channelID
	hasSubChannel := c.subChannelInfo != nil
	c.mu.Unlock()

	if channelID == "" {
		if err := c.openNewChannel(ctx); err != nil {
			return err
		}
	} else if !hasSubChannel && c.cfg.VmIDFragment != "" {
		if err := c.authorizeAndWaitSubChannel(ctx, channelID); err != nil {
			return err
		}
	}

	return c.persist(ctx)
}

func (c *Client) openNewChannel(ctx context.Context) error {
	if c.cfg.TxOpts == nil {
		return fmt.Errorf("payerclient: opening a channel requires Config.TxOpts")
	}
	_, channelID, err := c.contract.OpenChannelWithSubChannel(ctx, c.cfg.PayerDID, c.cfg.PayeeDID, c.cfg.DefaultAssetID, c.cfg.InitialDeposit, c.cfg.VmIDFragment, c.cfg.PublicKey, c.cfg.TxOpts)
	if err != nil {
		return fmt.Errorf("payerclient: openChannelWithSubChannel: %w", err)
	}
	info, err := c.contract.GetChannelInfo(ctx, channelID)
	if err != nil {
		return fmt.Errorf("payerclient: getChannelInfo after open: %w", err)
	}
	c.mu.Lock()
	c.channelID = channelID
	c.channelInfo = info
	c.mu.Unlock()
	return c.waitForSubChannel(ctx, channelID)
}

func (c *Client) authorizeAndWaitSubChannel(ctx context.Context, channelID string) error {
	if c.cfg.TxOpts == nil {
		return fmt.Errorf("payerclient: authorizing a sub-channel requires Config.TxOpts")
	}
	if _, err := c.contract.AuthorizeSubChannel(ctx, channelID, c.cfg.VmIDFragment, c.cfg.PublicKey, c.cfg.MethodType, c.cfg.TxOpts); err != nil {
		return fmt.Errorf("payerclient: authorizeSubChannel: %w", err)
	}
	return c.waitForSubChannel(ctx, channelID)
}

// waitForSubChannel polls getSubChannel with a bounded retry until the
// authorization is visible on-chain (spec §4.6 ensureChannelReady).
func (c *Client) waitForSubChannel(ctx context.Context, channelID string) error {
	for attempt := 0; attempt < defaultSubChannelPollAttempts; attempt++ {
		info, err := c.contract.GetSubChannel(ctx, channelID, c.cfg.VmIDFragment)
		if err == nil && info != nil {
			c.mu.Lock()
			c.subChannelInfo = info
			c.mu.Unlock()
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(defaultSubChannelPollDelay):
		}
	}
	return fmt.Errorf("payerclient: sub-channel %s/%s not visible after %d attempts", channelID, c.cfg.VmIDFragment, defaultSubChannelPollAttempts)
}

// DiscoverService fetches and caches the payee's well-known discovery
// document, falling back to transport.DefaultBasePath on failure (spec
// §4.6 discoverService).
func (c *Client) DiscoverService(ctx context.Context) (*transport.DiscoveryDocument, error) {
	doc, err := transport.FetchDiscoveryDocument(c.cfg.HTTPClient, c.cfg.BaseURL)
	if err != nil {
		c.logger.Warn("discoverService failed, falling back to default basePath", zap.Error(err))
		return nil, err
	}
	c.mu.Lock()
	c.discovery = doc
	c.mu.Unlock()
	return doc, nil
}

func (c *Client) basePath() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.discovery != nil && c.discovery.BasePath != "" {
		return c.discovery.BasePath
	}
	return transport.DefaultBasePath
}

// BeforeRequest signs the pending proposal (or, on the very first call,
// synthesizes the handshake SubRAV) and registers an in-flight entry keyed
// by a fresh clientTxRef (spec §4.6). EnsureChannelReady must have run
// first. The returned header should be copied onto the outgoing request
// alongside a DID-auth token for (method, url).
func (c *Client) BeforeRequest(ctx context.Context, method, url string, maxAmount *big.Int, timeout time.Duration) (http.Header, *PendingRequest, error) {
	c.mu.Lock()
	if c.channelID == "" || c.channelInfo == nil {
		c.mu.Unlock()
		return nil, nil, fmt.Errorf("payerclient: EnsureChannelReady must succeed before BeforeRequest")
	}
	var rav *model.SubRAV
	var err error
	if c.pendingSubRAV != nil {
		rav = c.pendingSubRAV.AsSubRAV(c.cfg.ChainID)
	} else {
		rav, err = model.Handshake(c.cfg.ChainID, c.channelID, c.channelInfo.Epoch, c.cfg.VmIDFragment)
	}
	c.mu.Unlock()
	if err != nil {
		return nil, nil, fmt.Errorf("payerclient: build proposal: %w", err)
	}

	signed, err := c.signer.Sign(c.cfg.KeyID, rav)
	if err != nil {
		return nil, nil, fmt.Errorf("payerclient: sign proposal: %w", err)
	}

	clientTxRef := uuid.New().String()
	payload := &transport.RequestPayload{Version: 1, ClientTxRef: clientTxRef, MaxAmount: maxAmount, SignedSubRav: signed}
	raw, err := transport.EncodeRequestPayload(payload)
	if err != nil {
		return nil, nil, fmt.Errorf("payerclient: encode envelope: %w", err)
	}

	header := make(http.Header)
	header.Set(transport.HeaderName, transport.EncodeHeaderValue(raw))
	if token, err := c.cfg.DIDAuth.SignRequest(method, url); err != nil {
		return nil, nil, fmt.Errorf("payerclient: did-auth: %w", err)
	} else if token != "" {
		header.Set(DIDAuthHeaderName, token)
	}

	ch := c.inflight.register(clientTxRef, timeout)
	return header, &PendingRequest{clientTxRef: clientTxRef, ch: ch, tracker: c.inflight}, nil
}

// AfterResponse parses the envelope header from a response, applies the
// monotonic guard to any new pending proposal it carries, persists, and
// resolves the matching in-flight request (spec §4.6). A response with no
// envelope header is a no-op.
func (c *Client) AfterResponse(ctx context.Context, h http.Header) error {
	if !transport.HasPaymentData(h) {
		return nil
	}
	raw, err := transport.DecodeHeaderValue(h.Get(transport.HeaderName))
	if err != nil {
		return fmt.Errorf("payerclient: decode envelope: %w", err)
	}
	resp, err := transport.DecodeResponsePayload(raw)
	if err != nil {
		return fmt.Errorf("payerclient: decode response payload: %w", err)
	}
	return c.applyResponse(ctx, resp)
}

func (c *Client) applyResponse(ctx context.Context, resp *transport.ResponsePayload) error {
	if c.inflight.isRecentlyRejected(resp.ClientTxRef) {
		return nil
	}

	if resp.SubRav != nil {
		c.acceptPending(resp.SubRav)
	}

	if resp.Error != nil {
		if err := c.persist(ctx); err != nil {
			c.logger.Error("persist after error response", zap.Error(err))
		}
		c.inflight.reject(resp.ClientTxRef, resp.Error)
		return nil
	}

	if err := c.persist(ctx); err != nil {
		c.logger.Error("persist after response", zap.Error(err))
	}

	c.mu.Lock()
	assetID := ""
	if c.channelInfo != nil {
		assetID = c.channelInfo.AssetID
	}
	c.mu.Unlock()

	c.inflight.resolve(resp.ClientTxRef, &PaymentInfo{
		Cost:         resp.Cost,
		CostUsd:      resp.CostUsd,
		Nonce:        pendingNonce(resp.SubRav),
		ChannelID:    c.channelID,
		VmIDFragment: c.cfg.VmIDFragment,
		AssetID:      assetID,
		Timestamp:    time.Now(),
		ServiceTxRef: resp.ServiceTxRef,
	})
	return nil
}

func pendingNonce(rav *model.SubRAV) uint64 {
	if rav == nil {
		return 0
	}
	return rav.Nonce
}

// acceptPending applies the monotonic guard of spec §4.6: a new proposal is
// accepted only if it is for this client's own sub-channel and its nonce
// exceeds both the current pending proposal's nonce and
// highestObservedNonce.
func (c *Client) acceptPending(rav *model.SubRAV) bool {
	if rav == nil || rav.VmIDFragment != c.cfg.VmIDFragment {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	floor := c.highestObservedNonce
	if c.pendingSubRAV != nil && c.pendingSubRAV.Nonce > floor {
		floor = c.pendingSubRAV.Nonce
	}
	if rav.Nonce <= floor {
		return false
	}
	c.pendingSubRAV = &model.PendingProposal{
		ChannelID:         rav.ChannelID,
		VmIDFragment:      rav.VmIDFragment,
		Nonce:             rav.Nonce,
		AccumulatedAmount: new(big.Int).Set(rav.AccumulatedAmount),
		Epoch:             rav.ChannelEpoch,
		CreatedAt:         time.Now(),
	}
	c.highestObservedNonce = rav.Nonce
	return true
}

// ---- recovery / commit RPCs ----

type recoveryRequestBody struct {
	ChannelID    string `json:"channelId,omitempty"`
	VmIDFragment string `json:"vmIdFragment,omitempty"`
}

type wireError struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

type recoveryResponseBody struct {
	Channel       *model.ChannelInfo    `json:"channel,omitempty"`
	SubChannel    *model.SubChannelInfo `json:"subChannel,omitempty"`
	PendingSubRav *model.SubRAV         `json:"pendingSubRav,omitempty"`
	Error         *wireError            `json:"error,omitempty"`
}

type commitRequestBody struct {
	SignedSubRav json.RawMessage `json:"signedSubRav"`
}

type commitResponseBody struct {
	Committed bool       `json:"committed,omitempty"`
	Error     *wireError `json:"error,omitempty"`
}

// postJSON POSTs body as JSON to basePath()+path, attaching a DID-auth
// token, and decodes the JSON response into out.
func (c *Client) postJSON(ctx context.Context, path string, body, out any) (int, error) {
	buf, err := json.Marshal(body)
	if err != nil {
		return 0, fmt.Errorf("payerclient: encode request: %w", err)
	}
	url := c.cfg.BaseURL + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token, err := c.cfg.DIDAuth.SignRequest(http.MethodPost, url); err != nil {
		return 0, fmt.Errorf("payerclient: did-auth: %w", err)
	} else if token != "" {
		req.Header.Set(DIDAuthHeaderName, token)
	}

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("payerclient: decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

// recoverFromService is ensureChannelReady's authenticated lookup against
// the payee's nuwa.recovery operation (spec §4.6). The wire shape here is
// this package's own RPC design — spec §6 fixes the billing envelope and
// discovery document bit-exactly but leaves nuwa.recovery/nuwa.commit's
// HTTP transport (as opposed to MCP tool-call) framing unspecified.
func (c *Client) recoverFromService(ctx context.Context) (*recoveryResponseBody, error) {
	var resp recoveryResponseBody
	status, err := c.postJSON(ctx, c.basePath()+"/recovery", recoveryRequestBody{ChannelID: c.channelID, VmIDFragment: c.cfg.VmIDFragment}, &resp)
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, &model.ProtocolError{Kind: model.ErrorKind(resp.Error.Code), Message: resp.Error.Message}
	}
	if status >= 400 {
		return nil, fmt.Errorf("payerclient: recovery failed: status %d", status)
	}
	return &resp, nil
}

// signedSubRavJSON renders signed through the same wire codec the billing
// envelope uses (spec §4.7's "a single codec serves both transports"),
// extracting just the signedSubRav sub-object.
func signedSubRavJSON(signed *model.SignedSubRAV) (json.RawMessage, error) {
	raw, err := transport.EncodeRequestPayload(&transport.RequestPayload{Version: 1, SignedSubRav: signed})
	if err != nil {
		return nil, err
	}
	var asMap map[string]json.RawMessage
	if err := json.Unmarshal(raw, &asMap); err != nil {
		return nil, err
	}
	return asMap["signedSubRav"], nil
}

// CommitSubRAV finalizes a signed proposal without an accompanying
// billable call (spec §4.6 commitSubRAV). On success, if signed matches
// this client's current pending proposal, the pending proposal is cleared.
func (c *Client) CommitSubRAV(ctx context.Context, signed *model.SignedSubRAV) error {
	payload, err := signedSubRavJSON(signed)
	if err != nil {
		return fmt.Errorf("payerclient: encode signed SubRAV: %w", err)
	}
	var resp commitResponseBody
	status, err := c.postJSON(ctx, c.basePath()+"/commit", commitRequestBody{SignedSubRav: payload}, &resp)
	if err != nil {
		return err
	}
	if resp.Error != nil {
		return &model.ProtocolError{Kind: model.ErrorKind(resp.Error.Code), Message: resp.Error.Message}
	}
	if status >= 400 {
		return fmt.Errorf("payerclient: commit failed: status %d", status)
	}

	c.mu.Lock()
	if c.pendingSubRAV != nil && c.pendingSubRAV.ChannelID == signed.SubRav.ChannelID &&
		c.pendingSubRAV.VmIDFragment == signed.SubRav.VmIDFragment &&
		c.pendingSubRAV.Nonce == signed.SubRav.Nonce {
		c.pendingSubRAV = nil
	}
	c.mu.Unlock()
	return c.persist(ctx)
}
