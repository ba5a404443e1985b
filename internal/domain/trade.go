package domain

import "time"

// Trade is an append-only trade history row.
type Trade struct {
	ID        int64     // Unique identifier for the row (from DB)
	OrderID   string    // Exchange trade/order id the row was derived from
	Symbol    string    // Ledger symbol
	Side      Side      // Side of the position the trade belongs to
	Type      TradeType // open or close
	Price     float64
	Quantity  float64
	Leverage  int
	PNL       float64
	Fee       float64
	Timestamp time.Time
	Status    string
}

// CloseEvent records exactly one reconciled closure of a position. Write-once.
type CloseEvent struct {
	ID             int64 // Unique identifier for the row (from DB)
	Symbol         string
	Side           Side
	CloseReason    CloseReason
	TriggerType    string
	TriggerPrice   float64
	ClosePrice     float64
	EntryPrice     float64
	Quantity       float64
	Leverage       int
	PNL            float64
	PNLPercent     float64
	Fee            float64
	TriggerOrderID string
	CloseTradeID   string
	OrderID        string
	CreatedAt      time.Time
	Processed      bool
}
