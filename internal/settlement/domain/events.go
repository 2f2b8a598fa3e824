package domain

import "time"

// 结算事件类型
const (
	EventCreated           = "SettlementCreated"
	EventApproved          = "SettlementApproved"
	EventRejected          = "SettlementRejected"
	EventReportsRequested  = "SettlementAwaitingReports"
	EventReconciled        = "SettlementReconciled"
	EventClosed            = "SettlementClosed"
	EventPaid              = "SettlementPaid"
	EventAwaitingTollPay   = "SettlementAwaitingTollPayment"
	EventTransitionUnknown = "SettlementTransition"
)

// SettlementEvent 结算状态变更事件，提交后发布
type SettlementEvent struct {
	Type         string    `json:"type"`
	SettlementID string    `json:"settlement_id"`
	Kind         Kind      `json:"kind"`
	From         State     `json:"from,omitempty"`
	To           State     `json:"to"`
	Actor        string    `json:"actor"`
	OccurredAt   time.Time `json:"occurred_at"`
}

func eventFor(to State) string {
	switch to {
	case StateApproved:
		return EventApproved
	case StateRejected:
		return EventRejected
	case StateAwaitingReports:
		return EventReportsRequested
	case StateAwaitingClose:
		return EventReconciled
	case StateClosed:
		return EventClosed
	case StatePaid:
		return EventPaid
	case StateAwaitingPayment:
		return EventAwaitingTollPay
	default:
		return EventTransitionUnknown
	}
}
