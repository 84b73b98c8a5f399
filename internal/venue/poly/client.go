// Package poly's client places FAK (fill-and-kill) orders for venue P.
package poly

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"arbees/internal/config"
	"arbees/internal/execution"
	"arbees/pkg/types"
)

// polyFeeRate is venue P's realised-notional fee (spec §3/§9: applied by
// the executor at fill time, not present in C3's fee table).
const polyFeeRate = 0.02

// Client is venue P's REST executor: it implements execution.VenueExecutor
// by signing and submitting one FAK order per ExecutionRequest. Grounded
// on the teacher's internal/exchange/client.go's PostOrders, trimmed to
// the single-order FAK path the execution engine needs (no book reads,
// no batch cancels — those belong to the market-making collaborator this
// spec does not include).
type Client struct {
	http   *resty.Client
	auth   *Auth
	rl     *TokenBucket
	dryRun bool
	logger *slog.Logger
}

// NewClient builds a venue P client from the shared config's venue
// section. dryRun forces every placement to report a synthetic fill
// without any HTTP call, matching the teacher's DryRun switch.
func NewClient(cfg config.VenuesConfig, auth *Auth, dryRun bool, logger *slog.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(cfg.PolyCLOBBaseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json")

	return &Client{
		http:   httpClient,
		auth:   auth,
		rl:     NewTokenBucket(350, 50),
		dryRun: dryRun,
		logger: logger.With("component", "venue_poly"),
	}
}

// Place implements execution.VenueExecutor. Per spec §4.11's placement
// switch, a No side request sells the YES token at (1 - limit_price)
// rather than buying a separate No token, since token_id as resolved by
// the signal processor already names the market's YES outcome token.
func (c *Client) Place(ctx context.Context, req types.ExecutionRequest) (execution.Fill, error) {
	side := BUY
	price := req.LimitPrice
	if req.Side == types.SideNo {
		side = SELL
		price = 1 - req.LimitPrice
	}

	order := UserOrder{
		TokenID:    req.TokenID,
		Price:      price,
		Size:       req.Size,
		Side:       side,
		OrderType:  OrderTypeFAK,
		TickSize:   Tick001,
		Expiration: 0,
	}

	if c.dryRun {
		notional := req.Size * price
		return execution.Fill{
			OrderID:   "paper-poly-" + req.RequestID,
			FilledQty: req.Size,
			AvgPrice:  price,
			Fees:      notional * polyFeeRate,
		}, nil
	}

	if err := c.rl.Wait(ctx); err != nil {
		return execution.Fill{}, fmt.Errorf("rate limit wait: %w", err)
	}

	payload := c.buildOrderPayload(order)
	body, err := json.Marshal(payload)
	if err != nil {
		return execution.Fill{}, fmt.Errorf("marshal order: %w", err)
	}
	headers, err := c.auth.L2Headers("POST", "/orders", string(body))
	if err != nil {
		return execution.Fill{}, fmt.Errorf("l2 headers: %w", err)
	}

	var result OrderResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetBody(payload).
		SetResult(&result).
		Post("/orders")
	if err != nil {
		return execution.Fill{}, fmt.Errorf("post order: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return execution.Fill{}, fmt.Errorf("post order: status %d: %s", resp.StatusCode(), resp.String())
	}
	if !result.Success {
		return execution.Fill{Rejected: true, Reason: result.ErrorMsg}, nil
	}

	filledQty, _ := strconv.ParseFloat(result.FilledSize, 64)
	avgPrice, _ := strconv.ParseFloat(result.AvgPrice, 64)
	if avgPrice == 0 {
		avgPrice = price
	}
	notional := filledQty * avgPrice

	return execution.Fill{
		OrderID:   result.OrderID,
		FilledQty: filledQty,
		AvgPrice:  avgPrice,
		Fees:      notional * polyFeeRate,
	}, nil
}

// buildOrderPayload converts a high-level order into the signed on-chain
// payload the REST API expects.
func (c *Client) buildOrderPayload(order UserOrder) OrderPayload {
	makerAmt, takerAmt := PriceToAmounts(order.Price, order.Size, order.Side, order.TickSize)
	return OrderPayload{
		Order: SignedOrder{
			Maker:         c.auth.FunderAddress().Hex(),
			Signer:        c.auth.Address().Hex(),
			Taker:         "0x0000000000000000000000000000000000000000",
			TokenID:       order.TokenID,
			MakerAmount:   makerAmt,
			TakerAmount:   takerAmt,
			Side:          order.Side,
			Expiration:    fmt.Sprintf("%d", order.Expiration),
			Nonce:         "0",
			FeeRateBps:    fmt.Sprintf("%d", order.FeeRateBps),
			SignatureType: c.auth.sigType,
		},
		Owner:     c.auth.creds.ApiKey,
		OrderType: order.OrderType,
	}
}

// DeriveAPIKey bootstraps L2 credentials via L1 authentication, mirroring
// the teacher's one-time startup call.
func (c *Client) DeriveAPIKey(ctx context.Context) (*Credentials, error) {
	headers, err := c.auth.L1Headers(0)
	if err != nil {
		return nil, fmt.Errorf("l1 headers: %w", err)
	}
	var result Credentials
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetResult(&result).
		Get("/auth/derive-api-key")
	if err != nil {
		return nil, fmt.Errorf("derive api key: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("derive api key: status %d: %s", resp.StatusCode(), resp.String())
	}
	c.auth.SetCredentials(result)
	c.logger.Info("venue P api key derived", "api_key", result.ApiKey)
	return &result, nil
}
