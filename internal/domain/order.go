package domain

import "time"

// TriggerOrder is a conditional stop-loss or take-profit order ("price order")
// resting on the exchange, as recorded in the ledger.
type TriggerOrder struct {
	OrderID      string      // Exchange-assigned id, unique
	Symbol       string      // Ledger symbol
	Side         Side        // Side of the position the order protects
	Type         OrderType   // stop_loss or take_profit
	TriggerPrice float64     // Price at which the order fires
	OrderPrice   float64     // Limit price, 0 for market triggers
	Quantity     float64     // Quantity covered by the order
	Status       OrderStatus // active, triggered or cancelled
	CreatedAt    time.Time
	UpdatedAt    time.Time
	TriggeredAt  *time.Time // Set once the order is confirmed fired
}

// IsActive reports whether the order is still resting on the exchange according to the ledger.
func (o *TriggerOrder) IsActive() bool {
	return o.Status == OrderStatusActive
}
