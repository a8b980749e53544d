package transport

import (
	"context"
	"encoding/base64"
	"fmt"
	"math/big"

	"github.com/nuwa-protocol/subrav-go/pkg/model"
	"github.com/nuwa-protocol/subrav-go/pkg/payment"
	"github.com/nuwa-protocol/subrav-go/pkg/storage"
)

// OpKey is the RequestMeta.Custom key BuiltinRules matches on to identify a
// built-in operation (spec §6's rule-identified free operations).
const OpKey = "op"

const (
	OpDiscover     = "nuwa.discover"
	OpHealth       = "nuwa.health"
	OpRecovery     = "nuwa.recovery"
	OpCommit       = "nuwa.commit"
	OpAdminStatus  = "nuwa.admin.status"
	OpClaimTrigger = "nuwa.admin.claim-trigger"
)

// BuiltinRules returns the six always-free, rule-identified operations of
// spec §6: nuwa.discover and nuwa.health need no authentication; nuwa.recovery
// and nuwa.commit require a verified payer DID; the two nuwa.admin.* ops are
// admin-only. Every rule uses the zero-price PerRequest strategy so the
// normal billing pipeline still runs preProcess/settle/persist around them
// without ever proposing a cost.
func BuiltinRules() []model.BillingRule {
	zero := model.StrategyConfig{Kind: model.StrategyPerRequest, PricePicoUSD: big.NewInt(0)}
	op := func(id string, authRequired, adminOnly bool) model.BillingRule {
		return model.BillingRule{
			ID:           id,
			When:         &model.RuleMatch{Custom: map[string]string{OpKey: id}},
			Strategy:     zero,
			AuthRequired: authRequired,
			AdminOnly:    adminOnly,
		}
	}
	return []model.BillingRule{
		op(OpDiscover, false, false),
		op(OpHealth, false, false),
		op(OpRecovery, true, false),
		op(OpCommit, true, false),
		op(OpAdminStatus, false, true),
		op(OpClaimTrigger, false, true),
	}
}

// RecoveryResult is the response shape of nuwa.recovery (spec §4.6
// ensureChannelReady's recoverFromService call): `{channel?, subChannel?,
// pendingSubRav?}`.
type RecoveryResult struct {
	Channel       *model.ChannelInfo    `json:"channel,omitempty"`
	SubChannel    *model.SubChannelInfo `json:"subChannel,omitempty"`
	PendingSubRav *model.SubRAV         `json:"pendingSubRav,omitempty"`
}

// RecoveryHandler implements nuwa.recovery: given a channel id the payer
// already believes is theirs (or none, if it has lost all local state), it
// returns whatever channel/sub-channel/pending state the payee can find for
// that payer DID so the payer can rebuild its local cache (spec §4.6).
func RecoveryHandler(channels storage.ChannelRepository, pending storage.PendingSubRAVRepository, chainID uint64) ToolHandler {
	return func(ctx context.Context, params map[string]any) (map[string]any, error) {
		channelID, _ := params["channelId"].(string)
		vmIDFragment, _ := params["vmIdFragment"].(string)
		if channelID == "" {
			return map[string]any{}, nil
		}
		info, err := channels.GetChannelMetadata(ctx, channelID)
		if err != nil {
			return map[string]any{}, nil
		}
		result := RecoveryResult{Channel: info}
		if vmIDFragment != "" {
			if sub, err := channels.GetSubChannelState(ctx, channelID, vmIDFragment); err == nil {
				result.SubChannel = sub
			}
			if p, err := pending.FindLatestBySubChannel(ctx, channelID, vmIDFragment); err == nil && p != nil {
				result.PendingSubRav = p.AsSubRAV(chainID)
			}
		}
		return map[string]any{
			"channel":       result.Channel,
			"subChannel":    result.SubChannel,
			"pendingSubRav": result.PendingSubRav,
		}, nil
	}
}

// CommitHandler implements nuwa.commit: it runs the same Processor.Commit
// path the payee exposes for finalizing a proposal outside the normal
// request/response pipeline.
func CommitHandler(processor *payment.Processor, payerDIDOf func(ctx context.Context) string) ToolHandler {
	return func(ctx context.Context, params map[string]any) (map[string]any, error) {
		raw, ok := params["signedSubRav"]
		if !ok {
			return nil, fmt.Errorf("transport: nuwa.commit: missing signedSubRav")
		}
		wireMap, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("transport: nuwa.commit: signedSubRav must be an object")
		}
		signed, err := decodeSignedSubRavParam(wireMap)
		if err != nil {
			return nil, fmt.Errorf("transport: nuwa.commit: %w", err)
		}
		if err := processor.Commit(ctx, payerDIDOf(ctx), signed); err != nil {
			return nil, err
		}
		return map[string]any{"committed": true}, nil
	}
}

// AdminStatusHandler implements nuwa.admin.status: the scheduler's
// process-wide counters and active policy (spec §4.5 getStatus, §6
// nuwa.admin.status).
func AdminStatusHandler(scheduler *payment.Scheduler) ToolHandler {
	return func(ctx context.Context, params map[string]any) (map[string]any, error) {
		agg := scheduler.GetAggregateStatus()
		return map[string]any{
			"active":                 agg.Active,
			"queued":                 agg.Queued,
			"successCount":           agg.SuccessCount,
			"failedCount":            agg.FailedCount,
			"skippedCount":           agg.SkippedCount,
			"insufficientFundsCount": agg.InsufficientFundsCount,
			"backoffCount":           agg.BackoffCount,
			"avgProcessingTimeMs":    agg.AvgProcessingTimeMs,
		}, nil
	}
}

// AdminClaimTriggerHandler implements nuwa.admin.claim-trigger: force an
// immediate claim attempt for every unclaimed sub-channel of a channel,
// regardless of threshold (spec §4.5 TriggerClaim, §6
// nuwa.admin.claim-trigger).
func AdminClaimTriggerHandler(scheduler *payment.Scheduler) ToolHandler {
	return func(ctx context.Context, params map[string]any) (map[string]any, error) {
		channelID, _ := params["channelId"].(string)
		if channelID == "" {
			return nil, fmt.Errorf("transport: nuwa.admin.claim-trigger: channelId is required")
		}
		if err := scheduler.TriggerClaim(ctx, channelID); err != nil {
			return nil, err
		}
		return map[string]any{"triggered": true}, nil
	}
}

func decodeSignedSubRavParam(m map[string]any) (*model.SignedSubRAV, error) {
	subRavMap, _ := m["subRav"].(map[string]any)
	sig, _ := m["signature"].(string)
	w := subRAVWire{
		Version:           stringField(subRavMap, "version"),
		ChainID:           stringField(subRavMap, "chainId"),
		ChannelID:         stringField(subRavMap, "channelId"),
		ChannelEpoch:      stringField(subRavMap, "channelEpoch"),
		VmIDFragment:      stringField(subRavMap, "vmIdFragment"),
		AccumulatedAmount: stringField(subRavMap, "accumulatedAmount"),
		Nonce:             stringField(subRavMap, "nonce"),
	}
	subRav, err := subRAVFromWire(&w)
	if err != nil {
		return nil, err
	}
	sigBytes, err := base64.RawURLEncoding.DecodeString(sig)
	if err != nil {
		return nil, fmt.Errorf("decode signature: %w", err)
	}
	return &model.SignedSubRAV{SubRav: *subRav, Signature: sigBytes}, nil
}

func stringField(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}
