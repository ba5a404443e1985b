package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"riskLedger/internal/domain"
	"riskLedger/internal/ports"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

func TestWrap_KeepsSentinelAndCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := wrap(cause, ports.ErrQueryFailed, "failed to query position %s", "BTC_USDT")

	assert.ErrorIs(t, err, ports.ErrQueryFailed)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "failed to query position BTC_USDT")
}

func TestIsUniqueViolation(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"unique violation", &pgconn.PgError{Code: "23505"}, true},
		{"wrapped unique violation", errors.Wrap(&pgconn.PgError{Code: "23505"}, "insert"), true},
		{"other pg error", &pgconn.PgError{Code: "23503"}, false},
		{"plain error", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isUniqueViolation(tt.err))
		})
	}
}

func TestNullIfEmpty(t *testing.T) {
	assert.Nil(t, nullIfEmpty(""))
	require.NotNil(t, nullIfEmpty("sl-1"))
	assert.Equal(t, "sl-1", *nullIfEmpty("sl-1"))
}

// TestRepository_Integration runs against a live database when TEST_DATABASE_URL is set.
func TestRepository_Integration(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()

	repo, err := NewRepository(ctx, Config{DSN: dsn, Logger: &mockLogger{}})
	require.NoError(t, err)
	defer repo.Close()

	symbol := "IT" + time.Now().Format("150405") + "_USDT"
	now := time.Now().UTC().Truncate(time.Millisecond)
	sl := 58000.0

	require.NoError(t, repo.CreatePosition(ctx, &domain.Position{Symbol: symbol, Side: domain.SideLong, EntryPrice: 60000, Quantity: 1, Leverage: 10}))
	defer repo.DeletePosition(ctx, symbol, domain.SideLong)

	err = repo.CreatePosition(ctx, &domain.Position{Symbol: symbol, Side: domain.SideLong, EntryPrice: 60000, Quantity: 1, Leverage: 10})
	assert.ErrorIs(t, err, ports.ErrDuplicateEntry)

	orderID := symbol + "-sl"
	require.NoError(t, repo.ReplaceProtection(ctx, ports.ProtectionUpdate{
		Symbol: symbol, Side: domain.SideLong, Quantity: 1, StopLoss: &sl, StopLossOrderID: orderID, At: now,
	}))

	pos, err := repo.FindPosition(ctx, symbol, domain.SideLong)
	require.NoError(t, err)
	require.NotNil(t, pos.StopLoss)
	assert.Equal(t, sl, *pos.StopLoss)

	active, err := repo.FindActiveTriggerOrders(ctx, symbol, domain.SideLong)
	require.NoError(t, err)
	require.Len(t, active, 1)

	require.NoError(t, repo.MarkTriggered(ctx, orderID, now.Add(time.Minute)))
	o, err := repo.FindTriggerOrder(ctx, orderID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusTriggered, o.Status)
}
