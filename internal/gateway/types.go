// Package gateway orchestrates the order lifecycle: proposing orders from
// decisions, approval and risk gating, broker submission, status/account
// reconciliation, and the exit-automation sweep.
package gateway

import (
	"time"

	"strike/internal/broker"
	"strike/internal/decision"
	"strike/internal/pkg/throttle"
)

type IntentType string

const (
	IntentEntry IntentType = "ENTRY"
	IntentExit  IntentType = "EXIT"
)

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

type Status string

const (
	StatusPendingApproval Status = "PENDING_APPROVAL"
	StatusSubmittedPaper  Status = "SUBMITTED_PAPER"
	StatusSubmittedLive   Status = "SUBMITTED_LIVE"
	StatusFilled          Status = "FILLED"
	StatusCancelled       Status = "CANCELLED"
	StatusBlockedRisk     Status = "BLOCKED_RISK"
	StatusRejectedByUser  Status = "REJECTED_BY_USER"
	StatusExited          Status = "EXITED"
)

// Terminal reports whether the state machine allows no further transitions.
// FILLED entries still transition to EXITED, so FILLED is not terminal.
func (s Status) Terminal() bool {
	switch s {
	case StatusCancelled, StatusBlockedRisk, StatusRejectedByUser, StatusExited:
		return true
	}
	return false
}

func (s Status) submitted() bool {
	return s == StatusSubmittedPaper || s == StatusSubmittedLive
}

// OrderIntent is the unit of trading state. It is created by ProposeOrder or
// by exit automation, mutated only by the gateway, and never deleted.
type OrderIntent struct {
	ID            string                 `json:"id"`
	CreatedAt     time.Time              `json:"created_at"`
	UpdatedAt     time.Time              `json:"updated_at"`
	IntentType    IntentType             `json:"intent_type"`
	Side          Side                   `json:"side"`
	Symbol        string                 `json:"symbol"`
	Action        decision.Action        `json:"action"`
	Contract      broker.OptionContract  `json:"contract"`
	Quantity      int                    `json:"quantity"`
	LimitPrice    float64                `json:"limit_price"`
	Status        Status                 `json:"status"`
	RiskNotes     []string               `json:"risk_notes,omitempty"`
	Decision      *decision.DecisionCard `json:"decision,omitempty"`
	ParentOrderID string                 `json:"parent_order_id,omitempty"`
	ExitReason    string                 `json:"exit_reason,omitempty"`
	BrokerOrderID string                 `json:"broker_order_id,omitempty"`
	FilledQty     float64                `json:"filled_qty"`
	AvgFillPrice  float64                `json:"avg_fill_price"`
}

// addRiskNote appends a note unless an identical one is already present, so
// repeated polls never produce repeated notes. Reports whether it was added.
func (o *OrderIntent) addRiskNote(note string) bool {
	for _, n := range o.RiskNotes {
		if n == note {
			return false
		}
	}
	o.RiskNotes = append(o.RiskNotes, note)
	return true
}

// entryPrice is the basis for PnL math: average fill when known, the limit
// price otherwise.
func (o *OrderIntent) entryPrice() float64 {
	if o.AvgFillPrice > 0 {
		return o.AvgFillPrice
	}
	return o.LimitPrice
}

// remainingQuantity is the contract count an EXIT should close.
func (o *OrderIntent) remainingQuantity() int {
	if o.FilledQty > 0 {
		return int(o.FilledQty)
	}
	return o.Quantity
}

// OpenPosition is the gateway's view of a filled, not yet exited entry.
type OpenPosition struct {
	OrderID      string                `json:"order_id"`
	Symbol       string                `json:"symbol"`
	Contract     broker.OptionContract `json:"contract"`
	Quantity     int                   `json:"quantity"`
	AvgFillPrice float64               `json:"avg_fill_price"`
	OpenedAt     time.Time             `json:"opened_at"`
}

// ConnectivityState is the most recent broker reachability transition.
type ConnectivityState struct {
	Reachable    bool      `json:"reachable"`
	DetectedMode string    `json:"detected_mode,omitempty"`
	ChangedAt    time.Time `json:"changed_at"`
}

// RuntimeStatus is the read-only diagnostic snapshot of the gateway.
type RuntimeStatus struct {
	Refresh           throttle.Status   `json:"refresh"`
	AccountSync       throttle.Status   `json:"account_sync"`
	ExitSweep         throttle.Status   `json:"exit_sweep"`
	Connectivity      ConnectivityState `json:"connectivity"`
	StartupReconciled bool              `json:"startup_reconciled"`
}
