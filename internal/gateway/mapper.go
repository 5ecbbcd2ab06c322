package gateway

import (
	"encoding/json"
	"fmt"
	"time"

	"strike/internal/decision"
	"strike/internal/store/model"
)

func toModel(o *OrderIntent) (*model.OrderModel, error) {
	contractJSON, err := json.Marshal(o.Contract)
	if err != nil {
		return nil, fmt.Errorf("marshal contract: %w", err)
	}
	notesJSON, err := json.Marshal(o.RiskNotes)
	if err != nil {
		return nil, fmt.Errorf("marshal risk notes: %w", err)
	}
	var decisionJSON []byte
	if o.Decision != nil {
		decisionJSON, err = json.Marshal(o.Decision)
		if err != nil {
			return nil, fmt.Errorf("marshal decision: %w", err)
		}
	}
	return &model.OrderModel{
		OrderID:       o.ID,
		CreatedAtUnix: o.CreatedAt.Unix(),
		UpdatedAtUnix: o.UpdatedAt.Unix(),
		IntentType:    string(o.IntentType),
		Side:          string(o.Side),
		Symbol:        o.Symbol,
		Action:        string(o.Action),
		ContractJSON:  contractJSON,
		Quantity:      o.Quantity,
		LimitPrice:    o.LimitPrice,
		Status:        string(o.Status),
		RiskNotesJSON: notesJSON,
		DecisionJSON:  decisionJSON,
		ParentOrderID: o.ParentOrderID,
		ExitReason:    o.ExitReason,
		BrokerOrderID: o.BrokerOrderID,
		FilledQty:     o.FilledQty,
		AvgFillPrice:  o.AvgFillPrice,
	}, nil
}

func fromModel(m *model.OrderModel) (*OrderIntent, error) {
	o := &OrderIntent{
		ID:            m.OrderID,
		CreatedAt:     time.Unix(m.CreatedAtUnix, 0),
		UpdatedAt:     time.Unix(m.UpdatedAtUnix, 0),
		IntentType:    IntentType(m.IntentType),
		Side:          Side(m.Side),
		Symbol:        m.Symbol,
		Action:        decision.Action(m.Action),
		Quantity:      m.Quantity,
		LimitPrice:    m.LimitPrice,
		Status:        Status(m.Status),
		ParentOrderID: m.ParentOrderID,
		ExitReason:    m.ExitReason,
		BrokerOrderID: m.BrokerOrderID,
		FilledQty:     m.FilledQty,
		AvgFillPrice:  m.AvgFillPrice,
	}
	if len(m.ContractJSON) > 0 {
		if err := json.Unmarshal(m.ContractJSON, &o.Contract); err != nil {
			return nil, fmt.Errorf("unmarshal contract for %s: %w", m.OrderID, err)
		}
	}
	if len(m.RiskNotesJSON) > 0 {
		if err := json.Unmarshal(m.RiskNotesJSON, &o.RiskNotes); err != nil {
			return nil, fmt.Errorf("unmarshal risk notes for %s: %w", m.OrderID, err)
		}
	}
	if len(m.DecisionJSON) > 0 {
		o.Decision = &decision.DecisionCard{}
		if err := json.Unmarshal(m.DecisionJSON, o.Decision); err != nil {
			return nil, fmt.Errorf("unmarshal decision for %s: %w", m.OrderID, err)
		}
	}
	return o, nil
}

func fromModels(ms []model.OrderModel) ([]*OrderIntent, error) {
	out := make([]*OrderIntent, 0, len(ms))
	for i := range ms {
		o, err := fromModel(&ms[i])
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, nil
}
