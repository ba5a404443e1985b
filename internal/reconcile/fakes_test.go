package reconcile

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"riskLedger/internal/domain"
	"riskLedger/internal/ports"
)

// mockLogger implements ports.Logger for testing
type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

// memLedger is an in-memory Ledger that counts mutations.
type memLedger struct {
	mu        sync.Mutex
	positions []*domain.Position
	orders    []*domain.TriggerOrder
	trades    []*domain.Trade
	events    []*domain.CloseEvent
	writes    int

	failFindAll     error
	failCloseEvent  error
	failDelete      error
	failMarkTrigger error
}

func (l *memLedger) CreatePosition(ctx context.Context, pos *domain.Position) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.writes++
	l.positions = append(l.positions, pos)
	return nil
}

func (l *memLedger) FindAllPositions(ctx context.Context) ([]*domain.Position, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failFindAll != nil {
		return nil, l.failFindAll
	}
	return append([]*domain.Position(nil), l.positions...), nil
}

func (l *memLedger) FindPosition(ctx context.Context, symbol string, side domain.Side) (*domain.Position, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, p := range l.positions {
		if p.Symbol == symbol && p.Side == side {
			return p, nil
		}
	}
	return nil, nil
}

func (l *memLedger) DeletePosition(ctx context.Context, symbol string, side domain.Side) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failDelete != nil {
		return l.failDelete
	}
	l.writes++
	kept := l.positions[:0]
	for _, p := range l.positions {
		if p.Symbol != symbol || p.Side != side {
			kept = append(kept, p)
		}
	}
	l.positions = kept
	return nil
}

func (l *memLedger) CreateTriggerOrder(ctx context.Context, order *domain.TriggerOrder) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.writes++
	l.orders = append(l.orders, order)
	return nil
}

func (l *memLedger) FindActiveTriggerOrders(ctx context.Context, symbol string, side domain.Side) ([]*domain.TriggerOrder, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []*domain.TriggerOrder
	for _, o := range l.orders {
		if o.Symbol == symbol && o.Side == side && o.IsActive() {
			out = append(out, o)
		}
	}
	return out, nil
}

func (l *memLedger) FindTriggerOrder(ctx context.Context, orderID string) (*domain.TriggerOrder, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, o := range l.orders {
		if o.OrderID == orderID {
			return o, nil
		}
	}
	return nil, nil
}

func (l *memLedger) MarkTriggered(ctx context.Context, orderID string, at time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failMarkTrigger != nil {
		return l.failMarkTrigger
	}
	l.writes++
	for _, o := range l.orders {
		if o.OrderID == orderID && o.IsActive() {
			o.Status = domain.OrderStatusTriggered
			o.TriggeredAt = &at
			o.UpdatedAt = at
		}
	}
	return nil
}

func (l *memLedger) CreateTrade(ctx context.Context, trade *domain.Trade) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.writes++
	trade.ID = int64(len(l.trades) + 1)
	l.trades = append(l.trades, trade)
	return trade.ID, nil
}

func (l *memLedger) FindTradesBySymbol(ctx context.Context, symbol string, limit int) ([]*domain.Trade, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []*domain.Trade
	for _, t := range l.trades {
		if t.Symbol == symbol {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (l *memLedger) CreateCloseEvent(ctx context.Context, event *domain.CloseEvent) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failCloseEvent != nil {
		return 0, l.failCloseEvent
	}
	l.writes++
	event.ID = int64(len(l.events) + 1)
	l.events = append(l.events, event)
	return event.ID, nil
}

func (l *memLedger) FindUnprocessedCloseEvents(ctx context.Context, limit int) ([]*domain.CloseEvent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []*domain.CloseEvent
	for _, e := range l.events {
		if !e.Processed {
			out = append(out, e)
		}
	}
	return out, nil
}

func (l *memLedger) MarkCloseEventProcessed(ctx context.Context, id int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.writes++
	for _, e := range l.events {
		if e.ID == id {
			e.Processed = true
		}
	}
	return nil
}

// fakeExchange is a scripted ports.ExchangeStateSource.
type fakeExchange struct {
	positions    []ports.ExchangePosition
	positionsErr error
	orders       map[string][]ports.ExchangeOrder
	ordersErr    error
	trades       map[string][]ports.ExchangeTrade
	tradesErr    error

	orderCalls int
	tradeCalls int
	lastLimit  int
}

func (f *fakeExchange) NormalizeContract(symbol string) string { return strings.ReplaceAll(symbol, "_", "") }
func (f *fakeExchange) ExtractSymbol(contract string) string {
	return strings.TrimSuffix(contract, "USDT") + "_USDT"
}

func (f *fakeExchange) GetPositions(ctx context.Context) ([]ports.ExchangePosition, error) {
	return f.positions, f.positionsErr
}

func (f *fakeExchange) GetPriceOrders(ctx context.Context, contract string) ([]ports.ExchangeOrder, error) {
	f.orderCalls++
	if f.ordersErr != nil {
		return nil, f.ordersErr
	}
	return f.orders[contract], nil
}

func (f *fakeExchange) GetMyTrades(ctx context.Context, contract string, limit int) ([]ports.ExchangeTrade, error) {
	f.tradeCalls++
	f.lastLimit = limit
	if f.tradesErr != nil {
		return nil, f.tradesErr
	}
	return f.trades[contract], nil
}

// CalculatePnl uses linear USDT-margined settlement.
func (f *fakeExchange) CalculatePnl(entryPrice, closePrice, quantity float64, side domain.Side, contract string) float64 {
	if side == domain.SideShort {
		return (entryPrice - closePrice) * quantity
	}
	return (closePrice - entryPrice) * quantity
}

func (f *fakeExchange) SetPositionStopLoss(ctx context.Context, contract string, stopLoss, takeProfit *float64) (*ports.ProtectionResult, error) {
	return nil, ports.ErrOrderPlacementFailed
}
