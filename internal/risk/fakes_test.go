package risk

import (
	"context"
	"errors"
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

type normalizer struct{}

func (normalizer) NormalizeContract(symbol string) string { return strings.ReplaceAll(symbol, "_", "") }
func (normalizer) ExtractSymbol(contract string) string {
	return strings.TrimSuffix(contract, "USDT") + "_USDT"
}

// fakeMarket serves a fixed kline series.
type fakeMarket struct {
	normalizer
	klines []*domain.Kline
	err    error

	lastContract string
	lastInterval string
	lastLimit    int
}

func (f *fakeMarket) GetKlines(ctx context.Context, contract, interval string, limit int) ([]*domain.Kline, error) {
	f.lastContract, f.lastInterval, f.lastLimit = contract, interval, limit
	if f.err != nil {
		return nil, f.err
	}
	return f.klines, nil
}

// bars builds n klines around mid with the given high-low range and close at mid.
func bars(n int, mid, rng float64) []*domain.Kline {
	out := make([]*domain.Kline, n)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range out {
		out[i] = &domain.Kline{
			OpenTime: start.Add(time.Duration(i) * time.Hour),
			Contract: "BTCUSDT", Interval: "1h",
			Open: mid, High: mid + rng/2, Low: mid - rng/2, Close: mid,
		}
	}
	return out
}

// fakeExchange is an in-memory ports.ExchangeStateSource.
type fakeExchange struct {
	normalizer
	positions    []ports.ExchangePosition
	positionsErr error
	placeResult  *ports.ProtectionResult
	placeErr     error

	placedContract string
	placedSL       *float64
	placedTP       *float64
}

func (f *fakeExchange) GetPositions(ctx context.Context) ([]ports.ExchangePosition, error) {
	return f.positions, f.positionsErr
}

func (f *fakeExchange) GetPriceOrders(ctx context.Context, contract string) ([]ports.ExchangeOrder, error) {
	return nil, nil
}

func (f *fakeExchange) GetMyTrades(ctx context.Context, contract string, limit int) ([]ports.ExchangeTrade, error) {
	return nil, nil
}

func (f *fakeExchange) CalculatePnl(entryPrice, closePrice, quantity float64, side domain.Side, contract string) float64 {
	return 0
}

func (f *fakeExchange) SetPositionStopLoss(ctx context.Context, contract string, stopLoss, takeProfit *float64) (*ports.ProtectionResult, error) {
	f.placedContract, f.placedSL, f.placedTP = contract, stopLoss, takeProfit
	if f.placeErr != nil {
		return nil, f.placeErr
	}
	if f.placeResult != nil {
		return f.placeResult, nil
	}
	res := &ports.ProtectionResult{Success: true, Message: "protective orders placed"}
	if stopLoss != nil {
		res.StopLossOrderID = "sl-1"
	}
	if takeProfit != nil {
		res.TakeProfitOrderID = "tp-1"
	}
	return res, nil
}

// fakeStore records protection replacements.
type fakeStore struct {
	mu         sync.Mutex
	positions  map[domain.PositionKey]*domain.Position
	replaceErr error
	updates    []ports.ProtectionUpdate
}

func (s *fakeStore) FindPosition(ctx context.Context, symbol string, side domain.Side) (*domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.positions[domain.PositionKey{Symbol: symbol, Side: side}], nil
}

func (s *fakeStore) ReplaceProtection(ctx context.Context, u ports.ProtectionUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.replaceErr != nil {
		return s.replaceErr
	}
	s.updates = append(s.updates, u)
	return nil
}

var errBoom = errors.New("boom")
