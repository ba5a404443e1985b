package ports

import (
	"context"
	"time"

	"riskLedger/internal/domain"
)

// ExchangePosition is the canonical form of a live position reported by the exchange.
type ExchangePosition struct {
	Contract   string  // Exchange contract id (e.g., "BTCUSDT")
	Size       float64 // Signed size: positive for long, negative for short
	EntryPrice float64
	MarkPrice  float64
	Leverage   int
}

// ExchangeOrder is the canonical form of an active trigger order on the exchange.
type ExchangeOrder struct {
	ID           string
	Contract     string
	Type         domain.OrderType
	TriggerPrice float64
	Quantity     float64
	CreatedAt    time.Time
}

// ExchangeTrade is the canonical form of a fill from the account trade history.
type ExchangeTrade struct {
	ID        string
	OrderID   string
	Contract  string
	Size      float64 // Signed size: positive for buys, negative for sells
	Price     float64
	Fee       float64
	Timestamp time.Time
}

// ProtectionResult is returned by SetPositionStopLoss.
type ProtectionResult struct {
	Success           bool
	StopLossOrderID   string // Empty when no stop-loss was placed
	TakeProfitOrderID string // Empty when no take-profit was placed
	Message           string
}

// ContractNormalizer converts between ledger symbols and exchange contract ids.
type ContractNormalizer interface {
	// NormalizeContract converts a ledger symbol (e.g., "BTC_USDT") into a contract id.
	NormalizeContract(symbol string) string
	// ExtractSymbol converts a contract id back into a ledger symbol.
	ExtractSymbol(contract string) string
}

// ExchangeStateSource is the authoritative view of positions, trigger orders and fills.
// Implementations normalize raw exchange payloads into the canonical records above.
type ExchangeStateSource interface {
	ContractNormalizer

	// GetPositions returns all positions of the account. Zero-size entries may be included.
	GetPositions(ctx context.Context) ([]ExchangePosition, error)

	// GetPriceOrders returns the currently active trigger orders for a contract.
	GetPriceOrders(ctx context.Context, contract string) ([]ExchangeOrder, error)

	// GetMyTrades returns up to limit recent account fills for a contract, oldest first.
	GetMyTrades(ctx context.Context, contract string, limit int) ([]ExchangeTrade, error)

	// CalculatePnl returns the realized PnL in quote currency for closing quantity at closePrice.
	// Contract-specific settlement and multipliers are the implementation's concern.
	CalculatePnl(entryPrice, closePrice, quantity float64, side domain.Side, contract string) float64

	// SetPositionStopLoss replaces the protective orders of the live position on contract.
	// A nil level cancels that side of the bracket without replacing it.
	SetPositionStopLoss(ctx context.Context, contract string, stopLoss, takeProfit *float64) (*ProtectionResult, error)
}

// MarketDataSource provides historical candles for indicator calculations.
type MarketDataSource interface {
	ContractNormalizer

	// GetKlines retrieves up to limit recent closed klines, oldest first.
	GetKlines(ctx context.Context, contract string, interval string, limit int) ([]*domain.Kline, error)
}
