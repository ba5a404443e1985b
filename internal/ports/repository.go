package ports

import (
	"context"
	"time"

	"riskLedger/internal/domain"
)

// PositionRepository stores the open positions of the ledger.
type PositionRepository interface {
	// CreatePosition inserts a position. Fails with ErrDuplicateEntry when (symbol, side) exists.
	CreatePosition(ctx context.Context, pos *domain.Position) error
	// FindAllPositions retrieves every position in the ledger.
	FindAllPositions(ctx context.Context) ([]*domain.Position, error)
	// FindPosition retrieves the position for (symbol, side).
	// Returns nil, nil if not found.
	FindPosition(ctx context.Context, symbol string, side domain.Side) (*domain.Position, error)
	// DeletePosition removes the (symbol, side) row. Deleting a missing row is not an error.
	DeletePosition(ctx context.Context, symbol string, side domain.Side) error
}

// TriggerOrderRepository stores trigger ("price") orders.
type TriggerOrderRepository interface {
	// CreateTriggerOrder inserts a new trigger order row.
	CreateTriggerOrder(ctx context.Context, order *domain.TriggerOrder) error
	// FindActiveTriggerOrders retrieves the active orders for (symbol, side) in insertion order.
	FindActiveTriggerOrders(ctx context.Context, symbol string, side domain.Side) ([]*domain.TriggerOrder, error)
	// FindTriggerOrder retrieves an order by id. Returns nil, nil if not found.
	FindTriggerOrder(ctx context.Context, orderID string) (*domain.TriggerOrder, error)
	// MarkTriggered transitions an active order to triggered.
	MarkTriggered(ctx context.Context, orderID string, at time.Time) error
}

// TradeRepository stores the append-only trade history.
type TradeRepository interface {
	// CreateTrade saves a new trade record and returns its assigned ID.
	CreateTrade(ctx context.Context, trade *domain.Trade) (int64, error)
	// FindTradesBySymbol retrieves the most recent trades for a symbol, up to a limit.
	FindTradesBySymbol(ctx context.Context, symbol string, limit int) ([]*domain.Trade, error)
}

// CloseEventRepository stores reconciled position closures.
type CloseEventRepository interface {
	// CreateCloseEvent saves a close event and returns its assigned ID.
	CreateCloseEvent(ctx context.Context, event *domain.CloseEvent) (int64, error)
	// FindUnprocessedCloseEvents retrieves close events not yet handed to downstream consumers.
	FindUnprocessedCloseEvents(ctx context.Context, limit int) ([]*domain.CloseEvent, error)
	// MarkCloseEventProcessed flags a close event as consumed.
	MarkCloseEventProcessed(ctx context.Context, id int64) error
}

// ProtectionUpdate describes a replacement of the protective orders of one position.
type ProtectionUpdate struct {
	Symbol            string
	Side              domain.Side
	Quantity          float64
	StopLoss          *float64
	TakeProfit        *float64
	StopLossOrderID   string // Empty when no stop-loss order was created
	TakeProfitOrderID string // Empty when no take-profit order was created
	At                time.Time
}

// ProtectionRepository applies stop-loss/take-profit replacements atomically within the ledger.
type ProtectionRepository interface {
	// ReplaceProtection cancels every active trigger order of (symbol, side), inserts rows for the
	// supplied order ids and updates the position's protective fields, in one transaction.
	// It returns ErrNotFound and writes nothing when no such position exists.
	ReplaceProtection(ctx context.Context, update ProtectionUpdate) error
}

// LedgerStore is the full persistence surface used by the core.
type LedgerStore interface {
	PositionRepository
	TriggerOrderRepository
	TradeRepository
	CloseEventRepository
	ProtectionRepository

	// Ping verifies ledger connectivity.
	Ping(ctx context.Context) error
	// Close releases the underlying connection.
	Close() error
}

// Orders builds the active trigger order rows for the sides actually supplied.
func (u ProtectionUpdate) Orders() []*domain.TriggerOrder {
	orders := make([]*domain.TriggerOrder, 0, 2)
	if u.StopLoss != nil && u.StopLossOrderID != "" {
		orders = append(orders, &domain.TriggerOrder{
			OrderID: u.StopLossOrderID, Symbol: u.Symbol, Side: u.Side, Type: domain.OrderTypeStopLoss,
			TriggerPrice: *u.StopLoss, Quantity: u.Quantity, Status: domain.OrderStatusActive,
			CreatedAt: u.At, UpdatedAt: u.At,
		})
	}
	if u.TakeProfit != nil && u.TakeProfitOrderID != "" {
		orders = append(orders, &domain.TriggerOrder{
			OrderID: u.TakeProfitOrderID, Symbol: u.Symbol, Side: u.Side, Type: domain.OrderTypeTakeProfit,
			TriggerPrice: *u.TakeProfit, Quantity: u.Quantity, Status: domain.OrderStatusActive,
			CreatedAt: u.At, UpdatedAt: u.At,
		})
	}
	return orders
}
