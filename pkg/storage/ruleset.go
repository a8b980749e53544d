package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/nuwa-protocol/subrav-go/pkg/model"
)

// DiscoveryMirror is the published, content-addressed mirror of a payee's
// well-known discovery document (spec §6's "Well-known discovery"),
// published alongside a rule bundle so it can be fetched without trusting
// the payee's live HTTP endpoint.
type DiscoveryMirror struct {
	Version             int    `json:"version"`
	ServiceID           string `json:"serviceId"`
	ServiceDID          string `json:"serviceDid"`
	Network             string `json:"network"`
	DefaultAssetID      string `json:"defaultAssetId"`
	DefaultPricePicoUSD string `json:"defaultPricePicoUSD,omitempty"`
	BasePath            string `json:"basePath"`
}

// RuleSetLoader fetches and publishes a payee's billing-rule bundle and
// well-known discovery mirror through a content-addressed RuleBundleReader
// (IPFS or Lighthouse/Filecoin, via *Client). Operators update pricing by
// republishing the bundle at a new CID and pointing config at it, without a
// redeploy of the payee process.
type RuleSetLoader struct {
	reader RuleBundleReader
}

// NewRuleSetLoader wraps reader (typically *Client) as a RuleSetLoader.
func NewRuleSetLoader(reader RuleBundleReader) *RuleSetLoader {
	return &RuleSetLoader{reader: reader}
}

// LoadRules fetches the rule bundle at uri and decodes it as a JSON array of
// model.BillingRule.
func (l *RuleSetLoader) LoadRules(ctx context.Context, uri string) ([]model.BillingRule, error) {
	raw, err := l.reader.ReadFile(ctx, uri)
	if err != nil {
		return nil, fmt.Errorf("storage: LoadRules: %w", err)
	}
	var rules []model.BillingRule
	if err := json.Unmarshal(raw, &rules); err != nil {
		zap.L().Error("failed to decode rule bundle", zap.String("uri", uri), zap.Error(err))
		return nil, fmt.Errorf("storage: LoadRules: decode %s: %w", uri, err)
	}
	return rules, nil
}

// PublishRules serializes rules to JSON and uploads them, returning the
// resulting content-addressed URI.
func (l *RuleSetLoader) PublishRules(ctx context.Context, rules []model.BillingRule) (string, error) {
	uri, err := l.reader.UploadJSON(ctx, rules)
	if err != nil {
		return "", fmt.Errorf("storage: PublishRules: %w", err)
	}
	return uri, nil
}

// LoadDiscoveryMirror fetches and decodes a mirrored well-known discovery
// document.
func (l *RuleSetLoader) LoadDiscoveryMirror(ctx context.Context, uri string) (*DiscoveryMirror, error) {
	raw, err := l.reader.ReadFile(ctx, uri)
	if err != nil {
		return nil, fmt.Errorf("storage: LoadDiscoveryMirror: %w", err)
	}
	var doc DiscoveryMirror
	if err := json.Unmarshal(raw, &doc); err != nil {
		zap.L().Error("failed to decode discovery mirror", zap.String("uri", uri), zap.Error(err))
		return nil, fmt.Errorf("storage: LoadDiscoveryMirror: decode %s: %w", uri, err)
	}
	return &doc, nil
}

// PublishDiscoveryMirror serializes doc to JSON and uploads it, returning
// the resulting content-addressed URI.
func (l *RuleSetLoader) PublishDiscoveryMirror(ctx context.Context, doc *DiscoveryMirror) (string, error) {
	uri, err := l.reader.UploadJSON(ctx, doc)
	if err != nil {
		return "", fmt.Errorf("storage: PublishDiscoveryMirror: %w", err)
	}
	return uri, nil
}
