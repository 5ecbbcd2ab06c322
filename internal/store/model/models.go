package model

import "gorm.io/datatypes"

// OrderModel maps to the 'orders' table. It is the persisted form of a
// gateway.OrderIntent; structured fields travel as JSON blobs.
type OrderModel struct {
	ID            int64          `gorm:"column:id;primaryKey"`
	OrderID       string         `gorm:"column:order_id;uniqueIndex"`
	IntentType    string         `gorm:"column:intent_type"`
	Side          string         `gorm:"column:side"`
	Symbol        string         `gorm:"column:symbol"`
	Action        string         `gorm:"column:action"`
	ContractJSON  datatypes.JSON `gorm:"column:contract_json;type:TEXT"`
	Quantity      int            `gorm:"column:quantity"`
	LimitPrice    float64        `gorm:"column:limit_price"`
	Status        string         `gorm:"column:status;index"`
	RiskNotesJSON datatypes.JSON `gorm:"column:risk_notes_json;type:TEXT"`
	DecisionJSON  datatypes.JSON `gorm:"column:decision_json;type:TEXT"`
	ParentOrderID string         `gorm:"column:parent_order_id;index"`
	ExitReason    string         `gorm:"column:exit_reason"`
	BrokerOrderID string         `gorm:"column:broker_order_id"`
	FilledQty     float64        `gorm:"column:filled_qty"`
	AvgFillPrice  float64        `gorm:"column:avg_fill_price"`
	CreatedAtUnix int64          `gorm:"column:created_at"`
	UpdatedAtUnix int64          `gorm:"column:updated_at"`
}

func (OrderModel) TableName() string { return "orders" }

// EventModel maps to the append-only 'event_log' table.
type EventModel struct {
	ID        int64          `gorm:"column:id;primaryKey"`
	Name      string         `gorm:"column:name;index"`
	Payload   datatypes.JSON `gorm:"column:payload;type:TEXT"`
	Timestamp int64          `gorm:"column:timestamp"`
}

func (EventModel) TableName() string { return "event_log" }

// PolicySnapshotModel holds the single persisted trading-policy snapshot.
type PolicySnapshotModel struct {
	ID            int64          `gorm:"column:id;primaryKey"`
	PolicyJSON    datatypes.JSON `gorm:"column:policy_json;type:TEXT"`
	UpdatedAtUnix int64          `gorm:"column:updated_at"`
}

func (PolicySnapshotModel) TableName() string { return "policy_snapshot" }
