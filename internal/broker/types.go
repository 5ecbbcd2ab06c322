// Package broker defines the brokerage adapter boundary: the types the rest
// of the system exchanges with the broker and the Adapter interface a concrete
// bridge must satisfy. The wire protocol itself lives behind that interface.
package broker

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const (
	RightCall = "C"
	RightPut  = "P"
)

// OptionContract is one leg of an option chain, with live quote fields.
type OptionContract struct {
	Symbol       string  `json:"symbol"`
	Expiration   string  `json:"expiration"` // YYYY-MM-DD
	Strike       float64 `json:"strike"`
	Right        string  `json:"right"` // "C" | "P"
	Bid          float64 `json:"bid"`
	Ask          float64 `json:"ask"`
	Last         float64 `json:"last"`
	Delta        float64 `json:"delta"`
	OpenInterest int     `json:"open_interest"`
	Volume       int     `json:"volume"`
}

// Mid returns (bid+ask)/2, falling back to the last trade when the quote is
// one-sided or missing.
func (c OptionContract) Mid() float64 {
	if c.Bid > 0 && c.Ask > 0 {
		return (c.Bid + c.Ask) / 2
	}
	return c.Last
}

// SpreadPct is the bid/ask spread as a fraction of mid; 0 when unquotable.
func (c OptionContract) SpreadPct() float64 {
	mid := c.Mid()
	if mid <= 0 || c.Ask <= 0 || c.Bid <= 0 {
		return 0
	}
	return (c.Ask - c.Bid) / mid
}

// DTE is calendar days until expiration, floored at 0.
func (c OptionContract) DTE(now time.Time) int {
	exp, err := time.Parse("2006-01-02", c.Expiration)
	if err != nil {
		return 0
	}
	d := int(exp.Sub(now.Truncate(24*time.Hour)).Hours() / 24)
	if d < 0 {
		return 0
	}
	return d
}

// Key identifies a contract across broker positions and local orders.
func (c OptionContract) Key() string {
	return strings.ToUpper(fmt.Sprintf("%s|%s|%g|%s", c.Symbol, c.Expiration, c.Strike, c.Right))
}

// SubmitRequest carries everything the bridge needs to place a paper order.
type SubmitRequest struct {
	OrderID    string  `json:"order_id"`
	Symbol     string  `json:"symbol"`
	Action     string  `json:"action"` // CALL | PUT
	Side       string  `json:"side"`   // BUY | SELL
	Quantity   int     `json:"quantity"`
	LimitPrice float64 `json:"limit_price"`
	Expiration string  `json:"expiration"`
	Strike     float64 `json:"strike"`
	Right      string  `json:"right"`
}

// OrderStatusUpdate is the broker-reported truth for one local order.
type OrderStatusUpdate struct {
	Status        string  `json:"status"`
	BrokerOrderID string  `json:"broker_order_id"`
	Filled        float64 `json:"filled"`
	Remaining     float64 `json:"remaining"`
	AvgFillPrice  float64 `json:"avg_fill_price"`
	Source        string  `json:"source"`
}

// Position is one row of the broker positions snapshot.
type Position struct {
	Symbol      string  `json:"symbol"`
	SecType     string  `json:"sec_type"` // "OPT" | "STK"
	Expiration  string  `json:"expiration,omitempty"`
	Strike      float64 `json:"strike,omitempty"`
	Right       string  `json:"right,omitempty"`
	Position    float64 `json:"position"`
	MarketPrice float64 `json:"market_price,omitempty"`
}

// ContractKey mirrors OptionContract.Key for OPT positions; empty otherwise.
func (p Position) ContractKey() string {
	if !strings.EqualFold(p.SecType, "OPT") {
		return ""
	}
	return strings.ToUpper(fmt.Sprintf("%s|%s|%g|%s", p.Symbol, p.Expiration, p.Strike, p.Right))
}

type AccountSnapshot struct {
	NetLiquidation float64 `json:"net_liquidation"`
	RealizedPnL    float64 `json:"realized_pnl"`
	UnrealizedPnL  float64 `json:"unrealized_pnl"`
	Source         string  `json:"source"`
	AccountCode    string  `json:"account_code"`
}

type ConnectionStatus struct {
	Reachable    bool   `json:"reachable"`
	Host         string `json:"host"`
	Port         int    `json:"port"`
	DetectedMode string `json:"detected_mode"` // "paper" | "live" | ""
}

// Adapter is the full brokerage surface the gateway consumes.
type Adapter interface {
	SubmitPaperOrder(ctx context.Context, req SubmitRequest) (brokerRef string, err error)
	RefreshOrderStatuses(ctx context.Context, orderIDs []string) (map[string]OrderStatusUpdate, error)
	GetPositionsSnapshot(ctx context.Context) ([]Position, error)
	GetAccountSnapshot(ctx context.Context) (AccountSnapshot, error)
	GetOptionMidPrice(ctx context.Context, contract OptionContract) (float64, error)
	GetConnectionStatus(ctx context.Context) (ConnectionStatus, error)
}
