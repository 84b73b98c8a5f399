// Package poly implements venue P's (Polymarket) signing client: the
// out-of-core collaborator spec §1 calls out as "cryptographic order
// signing for venue P" — its interface (execution.VenueExecutor) is part
// of the core, its wire format and EIP-712 mechanics are not. Grounded on
// the teacher's internal/exchange package (REST client, L1/L2 auth,
// token-bucket rate limiting), adapted here to place a single FAK order
// per ExecutionRequest instead of maintaining resting GTC quotes.
package poly

import "math/big"

// Side is the CLOB order direction: BUY or SELL. An ExecutionRequest's
// OrderSide (Yes/No) is translated to a CLOB Side plus, for No, a price
// inversion (spec §4.11's placement note: "sell YES at 1 − yes_price").
type Side string

const (
	BUY  Side = "BUY"
	SELL Side = "SELL"
)

// OrderType enumerates the order lifecycles the CLOB API accepts. The
// execution engine only ever places FAK orders (fill-and-kill): execute
// whatever liquidity is available immediately, cancel the remainder.
type OrderType string

const (
	OrderTypeFAK OrderType = "FAK"
)

// SignatureType identifies the signing scheme for the CTF exchange
// contract.
type SignatureType int

const (
	SigEOA        SignatureType = 0
	SigProxy      SignatureType = 1
	SigGnosisSafe SignatureType = 2
)

// TickSize is the price granularity for a market; it determines maker/
// taker amount rounding precision.
type TickSize string

const (
	Tick01    TickSize = "0.1"
	Tick001   TickSize = "0.01"
	Tick0001  TickSize = "0.001"
	Tick00001 TickSize = "0.0001"
)

// AmountDecimals returns the rounding precision for USDC amounts at this
// tick size.
func (t TickSize) AmountDecimals() int {
	switch t {
	case Tick01:
		return 3
	case Tick001:
		return 4
	case Tick0001:
		return 5
	case Tick00001:
		return 6
	default:
		return 4
	}
}

// UserOrder is the high-level order the client signs and submits.
type UserOrder struct {
	TokenID    string
	Price      float64
	Size       float64
	Side       Side
	OrderType  OrderType
	TickSize   TickSize
	Expiration int64
	FeeRateBps int
}

// SignedOrder is the on-chain order format the CLOB API expects.
// MakerAmount/TakerAmount are 6-decimal USDC units (1e6 = $1).
type SignedOrder struct {
	Salt          string        `json:"salt"`
	Maker         string        `json:"maker"`
	Signer        string        `json:"signer"`
	Taker         string        `json:"taker"`
	TokenID       string        `json:"tokenId"`
	MakerAmount   *big.Int      `json:"makerAmount"`
	TakerAmount   *big.Int      `json:"takerAmount"`
	Side          Side          `json:"side"`
	Expiration    string        `json:"expiration"`
	Nonce         string        `json:"nonce"`
	FeeRateBps    string        `json:"feeRateBps"`
	SignatureType SignatureType `json:"signatureType"`
	Signature     string        `json:"signature"`
}

// OrderPayload is the REST request body for POST /orders.
type OrderPayload struct {
	Order     SignedOrder `json:"order"`
	Owner     string      `json:"owner"`
	OrderType OrderType   `json:"orderType"`
}

// OrderResponse is the REST response for one submitted order. FilledSize
// and AvgPrice are best-effort fields the FAK endpoint echoes back for
// the immediately-matched portion; a production client would reconcile
// against the user WebSocket trade feed instead (out of core scope here,
// spec §1's venue WebSocket clients).
type OrderResponse struct {
	Success    bool   `json:"success"`
	ErrorMsg   string `json:"errorMsg"`
	OrderID    string `json:"orderID"`
	Status     string `json:"status"`
	FilledSize string `json:"takingAmount"`
	AvgPrice   string `json:"price"`
}

// Credentials holds the L2 API key triplet returned by derive-api-key.
type Credentials struct {
	ApiKey     string `json:"apiKey"`
	Secret     string `json:"secret"`
	Passphrase string `json:"passphrase"`
}
