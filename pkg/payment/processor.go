package payment

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/nuwa-protocol/subrav-go/pkg/model"
	"github.com/nuwa-protocol/subrav-go/pkg/storage"
	"github.com/nuwa-protocol/subrav-go/pkg/subrav"
)

// ClaimNotifier is the slice of the claim scheduler (scheduler.go) the
// processor drives after persisting a submitted SubRAV (spec §4.4 Step C,
// §4.5).
type ClaimNotifier interface {
	MaybeQueue(channelID, vmIDFragment string, delta *big.Int)
}

// channelIDHintKey and vmIDFragmentHintKey let a caller that has no
// SignedSubRav yet (e.g. a free discovery call before any sub-channel
// exists) still identify the sub-channel via an out-of-band host→channel
// mapping it owns; pkg/transport is expected to populate these into
// RequestMeta.Custom when it has that mapping. This keeps the mapping a
// transport concern, per spec §4.4 step 3, without adding a field to
// model.BillingContext.
const (
	channelIDHintKey    = "__channelId"
	vmIDFragmentHintKey = "__vmIdFragment"
)

// Processor runs the payee side of the SubRAV protocol: matching a billing
// rule, verifying any submitted SignedSubRAV, computing cost, and
// persisting the result (spec §4.4).
type Processor struct {
	Matcher   *Matcher
	Rates     RateProvider
	Contract  ContractClient
	Resolver  subrav.DIDResolver
	Channels  storage.ChannelRepository
	RAVs      storage.RAVRepository
	Pending   storage.PendingSubRAVRepository
	Scheduler ClaimNotifier
	AdminDIDs map[string]bool
	// ChainID is the chain this payee's contract client is bound to. A
	// submitted SubRAV carrying a different chainId is always rejected
	// (spec §9 Open Question: chainId mismatch is a hard BAD_REQUEST).
	ChainID uint64

	locks *keyedMutex
}

// NewProcessor builds a Processor from its collaborators.
func NewProcessor(matcher *Matcher, rates RateProvider, contract ContractClient, resolver subrav.DIDResolver, channels storage.ChannelRepository, ravs storage.RAVRepository, pending storage.PendingSubRAVRepository, scheduler ClaimNotifier, adminDIDs map[string]bool, chainID uint64) *Processor {
	return &Processor{
		Matcher:   matcher,
		Rates:     rates,
		Contract:  contract,
		Resolver:  resolver,
		Channels:  channels,
		RAVs:      ravs,
		Pending:   pending,
		Scheduler: scheduler,
		AdminDIDs: adminDIDs,
		ChainID:   chainID,
		locks:     newKeyedMutex(),
	}
}

func subChannelKey(channelID, vmIDFragment string) string {
	return channelID + "/" + vmIDFragment
}

func (p *Processor) isAdmin(did string) bool {
	return did != "" && p.AdminDIDs != nil && p.AdminDIDs[did]
}

// reject records perr on ctx.State.Error and returns it, so every call site
// can simply `return p.reject(ctx, ...)`.
func reject(ctx *model.BillingContext, perr *model.ProtocolError) error {
	ctx.State.Error = perr
	return perr
}

// PreProcess runs spec §4.4 steps 1-6: rule matching, channel/sub-channel
// lookup, RAV verification against I1, and (for non-deferred strategies)
// the tentative maxAmount ceiling check. It serializes with any other
// in-flight request for the same sub-channel.
//
// A nil return with ctx.Rule == nil means no rule matched: the caller must
// treat the request as free and skip Settle/Persist. A nil return with
// ctx.Rule set means billing applies and Settle should run after the
// business handler. A non-nil return is always a *model.ProtocolError
// already recorded on ctx.State.Error.
func (p *Processor) PreProcess(rctx context.Context, bc *model.BillingContext) error {
	rule := p.Matcher.Match(bc.Meta)
	if rule == nil {
		return nil
	}
	bc.Rule = rule

	channelID, vmFragment := subChannelIdentity(bc)
	if channelID == "" || vmFragment == "" {
		return reject(bc, model.NewProtocolError(model.ErrBadRequest, "cannot determine sub-channel identity for request"))
	}

	unlock := p.locks.lock(subChannelKey(channelID, vmFragment))
	defer unlock()

	channelInfo, err := p.Contract.GetChannelInfo(rctx, channelID)
	if err != nil {
		return reject(bc, model.NewProtocolError(model.ErrNotFound, "channel %s: %v", channelID, err))
	}
	if channelInfo.Status == model.ChannelClosed {
		return reject(bc, model.NewProtocolError(model.ErrBadRequest, "channel %s is closed", channelID))
	}
	if bc.SignedSubRav != nil && channelInfo.Epoch != bc.SignedSubRav.SubRav.ChannelEpoch {
		return reject(bc, model.NewProtocolError(model.ErrBadRequest, "epoch mismatch: channel is at %d, submitted SubRAV carries %d", channelInfo.Epoch, bc.SignedSubRav.SubRav.ChannelEpoch))
	}
	if bc.SignedSubRav != nil && p.ChainID != 0 && bc.SignedSubRav.SubRav.ChainID != p.ChainID {
		return reject(bc, model.NewProtocolError(model.ErrBadRequest, "chainId mismatch: expected %d, submitted SubRAV carries %d", p.ChainID, bc.SignedSubRav.SubRav.ChainID))
	}
	bc.State.ChannelInfo = channelInfo
	if bc.PayerDID == "" {
		bc.PayerDID = channelInfo.PayerDID
	}

	authorized, err := p.Contract.IsSubChannelAuthorized(rctx, channelID, vmFragment)
	if err != nil || !authorized {
		return reject(bc, model.NewProtocolError(model.ErrNotFound, "sub-channel %s/%s is not authorized", channelID, vmFragment))
	}

	subState, err := p.Channels.GetSubChannelState(rctx, channelID, vmFragment)
	if err != nil {
		subState = &model.SubChannelInfo{ChannelID: channelID, VmIDFragment: vmFragment, Epoch: channelInfo.Epoch}
	}
	bc.State.SubChannelState = subState

	pending, _ := p.Pending.FindLatestBySubChannel(rctx, channelID, vmFragment)

	if pending != nil && bc.SignedSubRav == nil {
		if rule.PaymentRequired {
			perr := model.NewProtocolError(model.ErrPaymentRequired, "sign pending proposal for nonce %d before retrying", pending.Nonce)
			perr.Pending = pending
			return reject(bc, perr)
		}
	}

	if pending != nil && bc.SignedSubRav != nil {
		if bc.SignedSubRav.SubRav.Nonce != pending.Nonce || bc.SignedSubRav.SubRav.AccumulatedAmount.Cmp(pending.AccumulatedAmount) != 0 {
			_ = p.Pending.Remove(rctx, channelID, vmFragment)
			return reject(bc, model.NewProtocolError(model.ErrRAVConflict, "submitted SubRAV does not match the outstanding pending proposal"))
		}
	}

	if bc.SignedSubRav != nil {
		if err := p.verifySubRav(rctx, bc); err != nil {
			return reject(bc, asProtocolError(err))
		}
		bc.State.Verified = bc.SignedSubRav
	} else if rule.PaymentRequired {
		return reject(bc, model.NewProtocolError(model.ErrPaymentRequired, "signed SubRAV required for this request"))
	}

	if rule.AuthRequired && bc.PayerDID == "" {
		return reject(bc, model.NewProtocolError(model.ErrUnauthorized, "authentication required"))
	}
	if rule.AdminOnly && !p.isAdmin(bc.PayerDID) {
		return reject(bc, model.NewProtocolError(model.ErrForbidden, "admin access required"))
	}

	strategy, err := StrategyForRule(rule)
	if err != nil {
		return reject(bc, model.NewProtocolError(model.ErrInternal, "%v", err))
	}
	if !strategy.IsDeferred() {
		if err := p.checkMaxAmount(bc, strategy); err != nil {
			return reject(bc, err.(*model.ProtocolError))
		}
	}

	return nil
}

// checkMaxAmount evaluates a non-deferred strategy's cost up front and
// rejects the request if it would exceed ctx.MaxAmount (spec §4.4 step 6).
func (p *Processor) checkMaxAmount(bc *model.BillingContext, strategy BillingStrategy) error {
	if bc.MaxAmount == nil {
		return nil
	}
	costUSD, err := strategy.Evaluate(bc)
	if err != nil {
		return model.NewProtocolError(model.ErrInternal, "evaluate cost: %v", err)
	}
	assetInfo, err := p.Rates.GetAssetInfo(bc.State.ChannelInfo.AssetID)
	if err != nil {
		return model.NewProtocolError(model.ErrServiceUnavailable, "asset info unavailable: %v", err)
	}
	price, err := p.Rates.GetPricePicoUSD(bc.State.ChannelInfo.AssetID)
	if err != nil {
		return model.NewProtocolError(model.ErrServiceUnavailable, "price unavailable: %v", err)
	}
	costAsset, err := ConvertUSDToAsset(costUSD, price, assetInfo.Decimals)
	if err != nil {
		return model.NewProtocolError(model.ErrInternal, "convert cost: %v", err)
	}
	if costAsset.Cmp(bc.MaxAmount) > 0 {
		return model.NewProtocolError(model.ErrBadRequest, "cost %s exceeds maxAmount %s", costAsset, bc.MaxAmount)
	}
	return nil
}

// verifySubRav enforces I1 (monotonic nonce/amount) against the latest
// stored RAV, then checks the signature (spec §4.4 Step A, P2).
func (p *Processor) verifySubRav(rctx context.Context, bc *model.BillingContext) error {
	signed := bc.SignedSubRav
	latest, _ := p.RAVs.GetLatest(rctx, signed.SubRav.ChannelID, signed.SubRav.VmIDFragment)
	if latest != nil {
		if signed.SubRav.Nonce <= latest.SubRav.Nonce {
			return model.NewProtocolError(model.ErrBadRequest, "nonce %d must be greater than latest stored nonce %d", signed.SubRav.Nonce, latest.SubRav.Nonce)
		}
		if signed.SubRav.AccumulatedAmount.Cmp(latest.SubRav.AccumulatedAmount) < 0 {
			return model.NewProtocolError(model.ErrBadRequest, "accumulatedAmount must be non-decreasing")
		}
	}
	if err := subrav.Verify(p.Resolver, bc.PayerDID, signed.SubRav.VmIDFragment, signed); err != nil {
		return model.NewProtocolError(model.ErrBadRequest, "signature verification failed: %v", err)
	}
	return nil
}

// Settle computes the final cost and the next unsigned proposal, to be run
// synchronously right before the response is written (spec §4.4 Step B). If
// handlerErr is non-nil the business handler failed: Settle charges zero and
// emits no new proposal, leaving any prior pending proposal untouched.
func (p *Processor) Settle(bc *model.BillingContext, handlerErr error) error {
	if bc.Rule == nil {
		return nil
	}
	if handlerErr != nil {
		bc.State.Cost = big.NewInt(0)
		bc.State.CostUsd = big.NewInt(0)
		return nil
	}

	strategy, err := StrategyForRule(bc.Rule)
	if err != nil {
		perr := model.NewProtocolError(model.ErrInternal, "%v", err)
		bc.State.Error = perr
		return perr
	}
	costUSD, err := strategy.Evaluate(bc)
	if err != nil {
		perr := model.NewProtocolError(model.ErrInternal, "evaluate cost: %v", err)
		bc.State.Error = perr
		return perr
	}

	assetInfo, err := p.Rates.GetAssetInfo(bc.State.ChannelInfo.AssetID)
	if err != nil {
		perr := model.NewProtocolError(model.ErrServiceUnavailable, "asset info unavailable: %v", err)
		bc.State.Error = perr
		return perr
	}
	price, err := p.Rates.GetPricePicoUSD(bc.State.ChannelInfo.AssetID)
	if err != nil {
		perr := model.NewProtocolError(model.ErrServiceUnavailable, "price unavailable: %v", err)
		bc.State.Error = perr
		return perr
	}
	costAsset, err := ConvertUSDToAsset(costUSD, price, assetInfo.Decimals)
	if err != nil {
		perr := model.NewProtocolError(model.ErrInternal, "convert cost: %v", err)
		bc.State.Error = perr
		return perr
	}
	bc.State.Cost = costAsset
	bc.State.CostUsd = costUSD

	// Without a previously verified SignedSubRav we have neither a chainId
	// nor a base nonce/amount to extend, so there is nothing sound to
	// propose next; this happens only for a matched-but-free request with
	// no submission at all.
	if bc.State.Verified == nil {
		return nil
	}

	channelID, vmFragment := subChannelIdentity(bc)
	unsigned, err := model.NewSubRAV(
		1,
		bc.State.Verified.SubRav.ChainID,
		channelID,
		bc.State.ChannelInfo.Epoch,
		vmFragment,
		new(big.Int).Add(bc.State.Verified.SubRav.AccumulatedAmount, costAsset),
		bc.State.Verified.SubRav.Nonce+1,
	)
	if err != nil {
		perr := model.NewProtocolError(model.ErrInternal, "%v", err)
		bc.State.Error = perr
		return perr
	}
	bc.State.UnsignedSubRav = unsigned
	bc.State.ResponsePayload = &model.ResponsePayload{
		Version:     1,
		ClientTxRef: bc.ClientTxRef,
		SubRav:      unsigned,
		Cost:        costAsset,
		CostUsd:     costUSD,
	}
	return nil
}

// Persist saves the submitted SignedSubRAV and the newly emitted pending
// proposal, then notifies the claim scheduler (spec §4.4 Step C). It is safe
// to run asynchronously after the response has been flushed to the caller.
func (p *Processor) Persist(rctx context.Context, bc *model.BillingContext) error {
	if bc.State.Verified != nil {
		if err := p.RAVs.Save(rctx, bc.State.Verified); err != nil {
			return fmt.Errorf("payment: persist: save RAV: %w", err)
		}
	}
	if bc.State.UnsignedSubRav == nil {
		return nil
	}

	pending := &model.PendingProposal{
		ChannelID:         bc.State.UnsignedSubRav.ChannelID,
		VmIDFragment:      bc.State.UnsignedSubRav.VmIDFragment,
		Nonce:             bc.State.UnsignedSubRav.Nonce,
		AccumulatedAmount: bc.State.UnsignedSubRav.AccumulatedAmount,
		Epoch:             bc.State.UnsignedSubRav.ChannelEpoch,
		CreatedAt:         time.Now(),
	}
	if err := p.Pending.Save(rctx, pending); err != nil {
		return fmt.Errorf("payment: persist: save pending proposal: %w", err)
	}

	if p.Scheduler != nil && bc.State.Verified != nil {
		lastClaimed := big.NewInt(0)
		if bc.State.SubChannelState != nil && bc.State.SubChannelState.LastClaimedAmount != nil {
			lastClaimed = bc.State.SubChannelState.LastClaimedAmount
		}
		delta := new(big.Int).Sub(bc.State.Verified.SubRav.AccumulatedAmount, lastClaimed)
		p.Scheduler.MaybeQueue(bc.State.Verified.SubRav.ChannelID, bc.State.Verified.SubRav.VmIDFragment, delta)
	}
	return nil
}

// Commit verifies and durably stores a signed SubRAV outside the normal
// request/response pipeline, letting a payer finalize an outstanding
// proposal without making another billable call (spec §4.6 commitSubRAV,
// §6 nuwa.commit). It enforces the same I1 monotonicity and signature
// checks PreProcess applies to a submitted SubRAV.
func (p *Processor) Commit(rctx context.Context, payerDID string, signed *model.SignedSubRAV) error {
	if signed == nil {
		return model.NewProtocolError(model.ErrBadRequest, "commit: signed SubRAV required")
	}
	if p.ChainID != 0 && signed.SubRav.ChainID != p.ChainID {
		return model.NewProtocolError(model.ErrBadRequest, "chainId mismatch: expected %d, submitted SubRAV carries %d", p.ChainID, signed.SubRav.ChainID)
	}
	channelID, vmFragment := signed.SubRav.ChannelID, signed.SubRav.VmIDFragment

	unlock := p.locks.lock(subChannelKey(channelID, vmFragment))
	defer unlock()

	latest, _ := p.RAVs.GetLatest(rctx, channelID, vmFragment)
	if latest != nil {
		if signed.SubRav.Nonce <= latest.SubRav.Nonce {
			return model.NewProtocolError(model.ErrBadRequest, "nonce %d must be greater than latest stored nonce %d", signed.SubRav.Nonce, latest.SubRav.Nonce)
		}
		if signed.SubRav.AccumulatedAmount.Cmp(latest.SubRav.AccumulatedAmount) < 0 {
			return model.NewProtocolError(model.ErrBadRequest, "accumulatedAmount must be non-decreasing")
		}
	}
	if err := subrav.Verify(p.Resolver, payerDID, vmFragment, signed); err != nil {
		return model.NewProtocolError(model.ErrBadRequest, "signature verification failed: %v", err)
	}
	if err := p.RAVs.Save(rctx, signed); err != nil {
		return fmt.Errorf("payment: commit: save RAV: %w", err)
	}

	pending, _ := p.Pending.FindLatestBySubChannel(rctx, channelID, vmFragment)
	if pending != nil && pending.Nonce == signed.SubRav.Nonce {
		_ = p.Pending.Remove(rctx, channelID, vmFragment)
	}

	if p.Scheduler != nil {
		lastClaimed := big.NewInt(0)
		if state, err := p.Channels.GetSubChannelState(rctx, channelID, vmFragment); err == nil && state != nil && state.LastClaimedAmount != nil {
			lastClaimed = state.LastClaimedAmount
		}
		delta := new(big.Int).Sub(signed.SubRav.AccumulatedAmount, lastClaimed)
		p.Scheduler.MaybeQueue(channelID, vmFragment, delta)
	}
	return nil
}

// subChannelIdentity resolves (channelId, vmIdFragment) from the submitted
// SignedSubRav, falling back to a transport-supplied hint (see
// channelIDHintKey) when no SubRAV has been submitted yet.
func subChannelIdentity(bc *model.BillingContext) (string, string) {
	if bc.SignedSubRav != nil {
		return bc.SignedSubRav.SubRav.ChannelID, bc.SignedSubRav.SubRav.VmIDFragment
	}
	if bc.Meta.Custom == nil {
		return "", ""
	}
	return bc.Meta.Custom[channelIDHintKey], bc.Meta.Custom[vmIDFragmentHintKey]
}

func asProtocolError(err error) *model.ProtocolError {
	if perr, ok := err.(*model.ProtocolError); ok {
		return perr
	}
	return model.NewProtocolError(model.ErrBadRequest, "%v", err)
}
