package app

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"riskLedger/internal/adapters/sqlite"
	"riskLedger/internal/domain"
	"riskLedger/internal/ports"
	"riskLedger/internal/reconcile"
	"riskLedger/internal/risk"
)

// venue is an in-memory ExchangeStateSource for end-to-end guard tests.
type venue struct {
	positions []ports.ExchangePosition
	trades    map[string][]ports.ExchangeTrade
	placed    []string // Contracts whose protection was replaced
}

func (v *venue) NormalizeContract(symbol string) string { return strings.ReplaceAll(symbol, "_", "") }

func (v *venue) ExtractSymbol(contract string) string {
	return strings.TrimSuffix(contract, "USDT") + "_USDT"
}

func (v *venue) GetPositions(ctx context.Context) ([]ports.ExchangePosition, error) {
	return v.positions, nil
}

func (v *venue) GetPriceOrders(ctx context.Context, contract string) ([]ports.ExchangeOrder, error) {
	return nil, nil
}

func (v *venue) GetMyTrades(ctx context.Context, contract string, limit int) ([]ports.ExchangeTrade, error) {
	return v.trades[contract], nil
}

func (v *venue) CalculatePnl(entryPrice, closePrice, quantity float64, side domain.Side, contract string) float64 {
	if side == domain.SideShort {
		return (entryPrice - closePrice) * quantity
	}
	return (closePrice - entryPrice) * quantity
}

func (v *venue) SetPositionStopLoss(ctx context.Context, contract string, stopLoss, takeProfit *float64) (*ports.ProtectionResult, error) {
	v.placed = append(v.placed, contract)
	return &ports.ProtectionResult{Success: true, StopLossOrderID: "sl-new"}, nil
}

// A long whose stop fired sits next to the short that replaced it on the same symbol.
// Trailing the short must not swallow the long's close event.
func TestGuardService_TrailingAfterFlippedPosition(t *testing.T) {
	ctx := context.Background()
	created := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	repo, err := sqlite.NewRepository(sqlite.Config{DBPath: filepath.Join(t.TempDir(), "ledger.db"), Logger: &mockLogger{}})
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	require.NoError(t, repo.CreatePosition(ctx, &domain.Position{
		Symbol: "BTC_USDT", Side: domain.SideLong, EntryPrice: 60000, Quantity: 1, Leverage: 10,
		StopLoss: float(58000),
	}))
	require.NoError(t, repo.CreateTriggerOrder(ctx, &domain.TriggerOrder{
		OrderID: "sl-old", Symbol: "BTC_USDT", Side: domain.SideLong, Type: domain.OrderTypeStopLoss,
		TriggerPrice: 58000, Quantity: 1, Status: domain.OrderStatusActive, CreatedAt: created, UpdatedAt: created,
	}))
	require.NoError(t, repo.CreatePosition(ctx, &domain.Position{
		Symbol: "BTC_USDT", Side: domain.SideShort, EntryPrice: 57900, Quantity: 1, Leverage: 10,
		StopLoss: float(59500),
	}))

	ex := &venue{
		positions: []ports.ExchangePosition{{Contract: "BTCUSDT", Size: -1, EntryPrice: 57900, MarkPrice: 56000}},
		trades: map[string][]ports.ExchangeTrade{"BTCUSDT": {
			{ID: "fill-1", Contract: "BTCUSDT", Size: -1, Price: 57950, Fee: 0.58, Timestamp: created.Add(5 * time.Minute)},
		}},
	}

	logger := &mockLogger{}
	engine, err := reconcile.NewEngine(reconcile.Config{Ledger: repo, Exchange: ex, Logger: logger})
	require.NoError(t, err)
	updater, err := risk.NewUpdater(risk.UpdaterConfig{Exchange: ex, Store: repo, Logger: logger})
	require.NoError(t, err)
	trailing := &mockTrailing{newStop: map[string]float64{"BTC_USDT": 58500}}

	svc, err := NewGuardService(testConfig(true), logger, ex, repo, engine, trailing, updater)
	require.NoError(t, err)

	require.NoError(t, svc.RunTrailingCycle(ctx))

	report := svc.LastReport()
	require.NotNil(t, report)
	assert.Equal(t, 1, report.CloseEvents)
	assert.Equal(t, 1, report.OrdersTriggered)
	assert.Equal(t, 1, report.PositionsDeleted)
	assert.Equal(t, 1, countMsg(logger.infoMsgs, "Position closed"))

	old, err := repo.FindTriggerOrder(ctx, "sl-old")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusTriggered, old.Status)

	gone, err := repo.FindPosition(ctx, "BTC_USDT", domain.SideLong)
	require.NoError(t, err)
	assert.Nil(t, gone)

	// The live short was trailed after the repair.
	require.Len(t, trailing.requests, 1)
	assert.Equal(t, domain.SideShort, trailing.requests[0].Side)
	assert.Equal(t, []string{"BTCUSDT"}, ex.placed)

	short, err := repo.FindPosition(ctx, "BTC_USDT", domain.SideShort)
	require.NoError(t, err)
	require.NotNil(t, short)
	require.NotNil(t, short.StopLoss)
	assert.Equal(t, 58500.0, *short.StopLoss)

	active, err := repo.FindActiveTriggerOrders(ctx, "BTC_USDT", domain.SideShort)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "sl-new", active[0].OrderID)
}
