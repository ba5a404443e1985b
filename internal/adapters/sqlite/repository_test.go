package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"riskLedger/internal/domain"
	"riskLedger/internal/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockLogger implements ports.Logger for testing
type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

// setupTestDB creates a temporary database for testing
func setupTestDB(t *testing.T) *Repository {
	t.Helper()

	repo, err := NewRepository(Config{
		DBPath: filepath.Join(t.TempDir(), "ledger.db"),
		Logger: &mockLogger{},
	})
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func f64(v float64) *float64 { return &v }
func str(v string) *string   { return &v }

func TestRepository_CreateAndFindPosition(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(*Repository) error
		pos     *domain.Position
		wantErr error
	}{
		{
			name: "valid position with protection",
			pos: &domain.Position{
				Symbol: "ETH_USDT", Side: domain.SideLong, EntryPrice: 2000, Quantity: 1, Leverage: 4,
				StopLoss: f64(1900), ProfitTarget: f64(2200), StopLossOrderID: str("sl-1"),
			},
		},
		{
			name: "valid position without protection",
			pos:  &domain.Position{Symbol: "ETH_USDT", Side: domain.SideShort, EntryPrice: 2000, Quantity: 2, Leverage: 1},
		},
		{
			name: "duplicate symbol and side",
			setup: func(r *Repository) error {
				return r.CreatePosition(context.Background(), &domain.Position{
					Symbol: "ETH_USDT", Side: domain.SideLong, EntryPrice: 1990, Quantity: 1, Leverage: 4,
				})
			},
			pos:     &domain.Position{Symbol: "ETH_USDT", Side: domain.SideLong, EntryPrice: 2100, Quantity: 1, Leverage: 4},
			wantErr: ports.ErrDuplicateEntry,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := setupTestDB(t)
			ctx := context.Background()

			if tt.setup != nil {
				require.NoError(t, tt.setup(repo))
			}

			err := repo.CreatePosition(ctx, tt.pos)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)

			found, err := repo.FindPosition(ctx, tt.pos.Symbol, tt.pos.Side)
			require.NoError(t, err)
			require.NotNil(t, found)
			assert.Equal(t, tt.pos, found)
		})
	}
}

func TestRepository_FindPositionMissingAndDelete(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	found, err := repo.FindPosition(ctx, "BTC_USDT", domain.SideLong)
	require.NoError(t, err)
	assert.Nil(t, found)

	require.NoError(t, repo.CreatePosition(ctx, &domain.Position{Symbol: "BTC_USDT", Side: domain.SideLong, EntryPrice: 60000, Quantity: 1, Leverage: 10}))
	require.NoError(t, repo.CreatePosition(ctx, &domain.Position{Symbol: "BTC_USDT", Side: domain.SideShort, EntryPrice: 61000, Quantity: 1, Leverage: 10}))

	require.NoError(t, repo.DeletePosition(ctx, "BTC_USDT", domain.SideLong))
	// Deleting twice is not an error.
	require.NoError(t, repo.DeletePosition(ctx, "BTC_USDT", domain.SideLong))

	all, err := repo.FindAllPositions(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, domain.SideShort, all[0].Side)
}

func TestRepository_TriggerOrders(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	for _, o := range []*domain.TriggerOrder{
		{OrderID: "1", Symbol: "BTC_USDT", Side: domain.SideLong, Type: domain.OrderTypeStopLoss, TriggerPrice: 58000, Quantity: 1, Status: domain.OrderStatusActive, CreatedAt: now, UpdatedAt: now},
		{OrderID: "2", Symbol: "BTC_USDT", Side: domain.SideLong, Type: domain.OrderTypeTakeProfit, TriggerPrice: 65000, Quantity: 1, Status: domain.OrderStatusActive, CreatedAt: now, UpdatedAt: now},
		{OrderID: "3", Symbol: "BTC_USDT", Side: domain.SideShort, Type: domain.OrderTypeStopLoss, TriggerPrice: 63000, Quantity: 1, Status: domain.OrderStatusActive, CreatedAt: now, UpdatedAt: now},
	} {
		require.NoError(t, repo.CreateTriggerOrder(ctx, o))
	}

	err := repo.CreateTriggerOrder(ctx, &domain.TriggerOrder{OrderID: "1", Symbol: "BTC_USDT", Side: domain.SideLong, Type: domain.OrderTypeStopLoss, Status: domain.OrderStatusActive, CreatedAt: now, UpdatedAt: now})
	assert.ErrorIs(t, err, ports.ErrDuplicateEntry)

	active, err := repo.FindActiveTriggerOrders(ctx, "BTC_USDT", domain.SideLong)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "1", active[0].OrderID)
	assert.Equal(t, "2", active[1].OrderID)

	firedAt := now.Add(5 * time.Minute)
	require.NoError(t, repo.MarkTriggered(ctx, "1", firedAt))

	o, err := repo.FindTriggerOrder(ctx, "1")
	require.NoError(t, err)
	require.NotNil(t, o)
	assert.Equal(t, domain.OrderStatusTriggered, o.Status)
	require.NotNil(t, o.TriggeredAt)
	assert.True(t, firedAt.Equal(*o.TriggeredAt))

	// A triggered order is immutable.
	require.NoError(t, repo.MarkTriggered(ctx, "1", firedAt.Add(time.Hour)))
	o, err = repo.FindTriggerOrder(ctx, "1")
	require.NoError(t, err)
	assert.True(t, firedAt.Equal(*o.TriggeredAt))

	active, err = repo.FindActiveTriggerOrders(ctx, "BTC_USDT", domain.SideLong)
	require.NoError(t, err)
	assert.Len(t, active, 1)

	missing, err := repo.FindTriggerOrder(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestRepository_Trades(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		id, err := repo.CreateTrade(ctx, &domain.Trade{
			OrderID: "t", Symbol: "BTC_USDT", Side: domain.SideLong, Type: domain.TradeTypeClose,
			Price: 57950, Quantity: 1, Leverage: 10, PNL: -2050, Fee: 1.5,
			Timestamp: base.Add(time.Duration(i) * time.Minute), Status: domain.TradeStatusFilled,
		})
		require.NoError(t, err)
		assert.Positive(t, id)
	}

	trades, err := repo.FindTradesBySymbol(ctx, "BTC_USDT", 2)
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.True(t, trades[0].Timestamp.After(trades[1].Timestamp))
	assert.Equal(t, domain.TradeTypeClose, trades[0].Type)
	assert.Equal(t, domain.TradeStatusFilled, trades[0].Status)
}

func TestRepository_CloseEvents(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	ev := &domain.CloseEvent{
		Symbol: "BTC_USDT", Side: domain.SideLong, CloseReason: domain.CloseReasonStopLoss,
		TriggerType: domain.TriggerTypeExchangeOrder, TriggerPrice: 58000, ClosePrice: 57950,
		EntryPrice: 60000, Quantity: 1, Leverage: 10, PNL: -2050, PNLPercent: -34.17,
		TriggerOrderID: "1", CloseTradeID: "99", OrderID: "1",
	}
	id, err := repo.CreateCloseEvent(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, id, ev.ID)
	assert.False(t, ev.CreatedAt.IsZero())

	pending, err := repo.FindUnprocessedCloseEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "99", pending[0].CloseTradeID)
	assert.Equal(t, domain.CloseReasonStopLoss, pending[0].CloseReason)
	assert.False(t, pending[0].Processed)

	require.NoError(t, repo.MarkCloseEventProcessed(ctx, id))
	pending, err = repo.FindUnprocessedCloseEvents(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	assert.ErrorIs(t, repo.MarkCloseEventProcessed(ctx, id+100), ports.ErrNotFound)
}

func TestRepository_ReplaceProtection(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()
	now := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)

	require.NoError(t, repo.CreatePosition(ctx, &domain.Position{
		Symbol: "BTC_USDT", Side: domain.SideLong, EntryPrice: 60000, Quantity: 1, Leverage: 10,
		StopLoss: f64(58000), StopLossOrderID: str("old-sl"),
	}))
	require.NoError(t, repo.CreateTriggerOrder(ctx, &domain.TriggerOrder{
		OrderID: "old-sl", Symbol: "BTC_USDT", Side: domain.SideLong, Type: domain.OrderTypeStopLoss,
		TriggerPrice: 58000, Quantity: 1, Status: domain.OrderStatusActive, CreatedAt: now, UpdatedAt: now,
	}))

	err := repo.ReplaceProtection(ctx, ports.ProtectionUpdate{
		Symbol: "BTC_USDT", Side: domain.SideLong, Quantity: 1,
		StopLoss: f64(59000), StopLossOrderID: "new-sl", At: now.Add(time.Minute),
	})
	require.NoError(t, err)

	old, err := repo.FindTriggerOrder(ctx, "old-sl")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, old.Status)

	active, err := repo.FindActiveTriggerOrders(ctx, "BTC_USDT", domain.SideLong)
	require.NoError(t, err)
	require.Len(t, active, 1, "only the supplied side gets a new row")
	assert.Equal(t, "new-sl", active[0].OrderID)
	assert.Equal(t, 59000.0, active[0].TriggerPrice)

	pos, err := repo.FindPosition(ctx, "BTC_USDT", domain.SideLong)
	require.NoError(t, err)
	assert.Equal(t, 59000.0, *pos.StopLoss)
	assert.Equal(t, "new-sl", *pos.StopLossOrderID)
	assert.Nil(t, pos.ProfitTarget)
	assert.Nil(t, pos.TakeProfitOrderID)
}

func TestRepository_ReplaceProtectionRollsBack(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()
	now := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)

	require.NoError(t, repo.CreateTriggerOrder(ctx, &domain.TriggerOrder{
		OrderID: "old-sl", Symbol: "BTC_USDT", Side: domain.SideLong, Type: domain.OrderTypeStopLoss,
		TriggerPrice: 58000, Quantity: 1, Status: domain.OrderStatusActive, CreatedAt: now, UpdatedAt: now,
	}))

	// Reusing an existing order id fails the insert and must leave the cancel undone.
	err := repo.ReplaceProtection(ctx, ports.ProtectionUpdate{
		Symbol: "BTC_USDT", Side: domain.SideLong, Quantity: 1,
		StopLoss: f64(59000), StopLossOrderID: "old-sl", At: now,
	})
	assert.ErrorIs(t, err, ports.ErrDuplicateEntry)

	o, err := repo.FindTriggerOrder(ctx, "old-sl")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusActive, o.Status)
}

func TestRepository_ReplaceProtectionKeepsOtherSide(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()
	now := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)

	require.NoError(t, repo.CreatePosition(ctx, &domain.Position{Symbol: "BTC_USDT", Side: domain.SideLong, EntryPrice: 60000, Quantity: 1, Leverage: 10}))
	require.NoError(t, repo.CreatePosition(ctx, &domain.Position{Symbol: "BTC_USDT", Side: domain.SideShort, EntryPrice: 57900, Quantity: 1, Leverage: 10}))
	require.NoError(t, repo.CreateTriggerOrder(ctx, &domain.TriggerOrder{
		OrderID: "long-sl", Symbol: "BTC_USDT", Side: domain.SideLong, Type: domain.OrderTypeStopLoss,
		TriggerPrice: 58000, Quantity: 1, Status: domain.OrderStatusActive, CreatedAt: now, UpdatedAt: now,
	}))

	require.NoError(t, repo.ReplaceProtection(ctx, ports.ProtectionUpdate{
		Symbol: "BTC_USDT", Side: domain.SideShort, Quantity: 1,
		StopLoss: f64(58500), StopLossOrderID: "short-sl", At: now.Add(time.Minute),
	}))

	long, err := repo.FindTriggerOrder(ctx, "long-sl")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusActive, long.Status, "the long side's order is not touched")

	active, err := repo.FindActiveTriggerOrders(ctx, "BTC_USDT", domain.SideShort)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "short-sl", active[0].OrderID)
}

func TestRepository_ReplaceProtectionWithoutPosition(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()
	now := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)

	err := repo.ReplaceProtection(ctx, ports.ProtectionUpdate{
		Symbol: "BTC_USDT", Side: domain.SideLong, Quantity: 1,
		StopLoss: f64(59000), StopLossOrderID: "new-sl", At: now,
	})
	assert.ErrorIs(t, err, ports.ErrNotFound)

	o, err := repo.FindTriggerOrder(ctx, "new-sl")
	require.NoError(t, err)
	assert.Nil(t, o, "no trigger row without a position")
}
