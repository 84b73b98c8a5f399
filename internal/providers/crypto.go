package providers

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"

	"arbees/pkg/types"
)

// coingeckoSimplePrice is the slice of CoinGecko's public simple/price
// response this provider reads: {"bitcoin": {"usd": 67000.5}}.
type coingeckoSimplePrice map[string]map[string]float64

// assetCoingeckoID maps the tickers this system trades to CoinGecko's
// coin ids, the provider table the mod.rs doc comment names CoinGecko as
// the intended crypto feed.
var assetCoingeckoID = map[string]string{
	"BTC": "bitcoin",
	"ETH": "ethereum",
	"SOL": "solana",
}

// CryptoProvider is the EventProvider for crypto price-target markets.
// Unlike sports, crypto markets have no discrete "event" with a status
// lifecycle; LiveEvents/ScheduledEvents return empty and every call goes
// through EventState, which reports the asset's current spot price.
// Grounded on original_source/rust_core/src/providers/mod.rs's doc
// comment naming CoinGecko/Binance as crypto feeds; HTTP plumbing follows
// the teacher's internal/exchange.Client resty pattern.
type CryptoProvider struct {
	http   *resty.Client
	logger *slog.Logger
}

// NewCryptoProvider returns a provider backed by CoinGecko's public API.
func NewCryptoProvider(logger *slog.Logger) *CryptoProvider {
	client := resty.New().
		SetBaseURL("https://api.coingecko.com/api/v3").
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		})
	return &CryptoProvider{http: client, logger: logger.With("provider", "crypto")}
}

// LiveEvents always returns empty: crypto price-target markets have no
// discrete live/scheduled lifecycle the way sports games do.
func (p *CryptoProvider) LiveEvents(ctx context.Context) ([]types.EventInfo, error) {
	return nil, nil
}

// ScheduledEvents always returns empty, for the same reason as LiveEvents.
func (p *CryptoProvider) ScheduledEvents(ctx context.Context, days int) ([]types.EventInfo, error) {
	return nil, nil
}

// EventState treats eventID as an asset ticker (e.g. "BTC") and returns
// its current spot price. TargetPrice/TargetDate/AnnualizedVolPct are left
// for the caller to fill in from market metadata, since CoinGecko's spot
// endpoint carries neither.
func (p *CryptoProvider) EventState(ctx context.Context, eventID string) (types.EventState, error) {
	coinID, ok := assetCoingeckoID[eventID]
	if !ok {
		return types.EventState{}, fmt.Errorf("no CoinGecko mapping for asset %q", eventID)
	}

	var result coingeckoSimplePrice
	resp, err := p.http.R().
		SetContext(ctx).
		SetQueryParam("ids", coinID).
		SetQueryParam("vs_currencies", "usd").
		SetResult(&result).
		Get("/simple/price")
	if err != nil {
		return types.EventState{}, fmt.Errorf("coingecko simple price: %w", err)
	}
	if resp.StatusCode() != 200 {
		return types.EventState{}, fmt.Errorf("coingecko simple price: status %d", resp.StatusCode())
	}

	price, ok := result[coinID]["usd"]
	if !ok {
		return types.EventState{}, fmt.Errorf("coingecko response missing price for %q", coinID)
	}

	return types.EventState{
		EventInfo: types.EventInfo{
			EventID:    eventID,
			MarketType: types.MarketType{Kind: types.MarketTypeCrypto},
			EntityA:    eventID,
			Status:     types.EventLive,
		},
		Crypto: &types.CryptoState{CurrentPrice: price},
	}, nil
}

// Name identifies this provider for logs and the registry.
func (p *CryptoProvider) Name() string {
	return "crypto:coingecko"
}
