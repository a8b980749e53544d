package blockchain

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/nuwa-protocol/subrav-go/pkg/payment"
)

// defaultRateCacheTTL is the reference cache lifetime from spec §4.8 ("MAY
// cache for up to N seconds (30s reference)").
const defaultRateCacheTTL = 30 * time.Second

type rateCacheEntry struct {
	info        *payment.AssetInfo
	price       *big.Int
	lastUpdated time.Time
}

// RateProvider implements pkg/payment.RateProvider on top of the on-chain
// asset price/info reads, with a bounded-lifetime cache so every billed
// request doesn't round-trip to the chain.
type RateProvider struct {
	contract *Contract
	ttl      time.Duration
	ctx      context.Context

	mu    sync.Mutex
	cache map[string]*rateCacheEntry
}

// NewRateProvider wraps a Contract as a pkg/payment.RateProvider. ctx is used
// for the underlying chain reads (rate lookups are not request-scoped); pass
// context.Background() unless the caller has a narrower lifetime in mind.
func NewRateProvider(contract *Contract, ctx context.Context) *RateProvider {
	return &RateProvider{
		contract: contract,
		ttl:      defaultRateCacheTTL,
		ctx:      ctx,
		cache:    make(map[string]*rateCacheEntry),
	}
}

func (r *RateProvider) entry(assetID string) (*rateCacheEntry, error) {
	r.mu.Lock()
	e, ok := r.cache[assetID]
	r.mu.Unlock()
	if ok && time.Since(e.lastUpdated) < r.ttl {
		return e, nil
	}

	symbol, decimals, err := r.contract.GetAssetInfo(r.ctx, assetID)
	if err != nil {
		return nil, err
	}
	price, err := r.contract.GetAssetPrice(r.ctx, assetID)
	if err != nil {
		return nil, err
	}

	fresh := &rateCacheEntry{
		info:        &payment.AssetInfo{AssetID: assetID, Symbol: symbol, Decimals: decimals},
		price:       price,
		lastUpdated: time.Now(),
	}
	r.mu.Lock()
	r.cache[assetID] = fresh
	r.mu.Unlock()
	return fresh, nil
}

// GetPricePicoUSD implements pkg/payment.RateProvider.
func (r *RateProvider) GetPricePicoUSD(assetID string) (*big.Int, error) {
	e, err := r.entry(assetID)
	if err != nil {
		return nil, err
	}
	return e.price, nil
}

// GetAssetInfo implements pkg/payment.RateProvider.
func (r *RateProvider) GetAssetInfo(assetID string) (*payment.AssetInfo, error) {
	e, err := r.entry(assetID)
	if err != nil {
		return nil, err
	}
	return e.info, nil
}

// GetLastUpdated reports when assetID's cache entry was last refreshed from
// the chain, or the zero time if it has never been fetched.
func (r *RateProvider) GetLastUpdated(assetID string) time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.cache[assetID]
	if !ok {
		return time.Time{}
	}
	return e.lastUpdated
}

// ClearCache discards all cached asset price/info entries, forcing the next
// lookup for every asset back to the chain.
func (r *RateProvider) ClearCache() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache = make(map[string]*rateCacheEntry)
}
