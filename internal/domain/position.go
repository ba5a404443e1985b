package domain

// Position represents an open leveraged position tracked by the ledger.
// Positions are uniquely keyed by (Symbol, Side).
type Position struct {
	Symbol     string  // Ledger symbol (e.g., "BTC_USDT")
	Side       Side    // long or short
	EntryPrice float64 // Average entry price
	Quantity   float64 // Absolute position size, always > 0
	Leverage   int     // Leverage used for the position, >= 1

	// Protective levels and the exchange order ids backing them (nullable in DB)
	StopLoss          *float64 `db:"stop_loss"`
	ProfitTarget      *float64 `db:"profit_target"`
	StopLossOrderID   *string  `db:"sl_order_id"`
	TakeProfitOrderID *string  `db:"tp_order_id"`
}

// Key returns the (symbol, side) identity of the position.
func (p *Position) Key() PositionKey {
	return PositionKey{Symbol: p.Symbol, Side: p.Side}
}

// PositionKey identifies a position in the ledger and in the exchange index.
type PositionKey struct {
	Symbol string `json:"symbol"`
	Side   Side   `json:"side"`
}

func (k PositionKey) String() string {
	return k.Symbol + "_" + string(k.Side)
}
