package domain

// Side represents the direction of a position (long or short).
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// IsValid reports whether s is one of the known sides.
func (s Side) IsValid() bool {
	return s == SideLong || s == SideShort
}

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideLong {
		return SideShort
	}
	return SideLong
}

// SideFromSize derives the side from a signed exchange position or trade size.
// Positive sizes are long, negative sizes are short.
func SideFromSize(size float64) Side {
	if size > 0 {
		return SideLong
	}
	return SideShort
}

// OrderType represents the kind of protective trigger order.
type OrderType string

const (
	OrderTypeStopLoss   OrderType = "stop_loss"
	OrderTypeTakeProfit OrderType = "take_profit"
)

// OrderStatus represents the lifecycle state of a trigger order in the ledger.
type OrderStatus string

const (
	OrderStatusActive    OrderStatus = "active"
	OrderStatusTriggered OrderStatus = "triggered"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// TradeType distinguishes opening fills from closing fills.
type TradeType string

const (
	TradeTypeOpen  TradeType = "open"
	TradeTypeClose TradeType = "close"
)

// TradeStatusFilled is the only status the reconciliation pass writes.
const TradeStatusFilled = "filled"

// CloseReason indicates why a position was closed.
type CloseReason string

const (
	CloseReasonStopLoss   CloseReason = "stop_loss_triggered"
	CloseReasonTakeProfit CloseReason = "take_profit_triggered"
	CloseReasonUnknown    CloseReason = "unknown"
)

// CloseReasonFor maps a fired trigger order type to the close reason it implies.
func CloseReasonFor(t OrderType) CloseReason {
	if t == OrderTypeStopLoss {
		return CloseReasonStopLoss
	}
	return CloseReasonTakeProfit
}

// Trigger types recorded on close events.
const (
	TriggerTypeExchangeOrder  = "exchange_order"
	TriggerTypeReconciliation = "reconciliation"
)
