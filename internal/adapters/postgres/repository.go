package postgres

import (
	"context"
	"fmt"
	"time"

	"riskLedger/internal/domain"
	"riskLedger/internal/ports"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

// Repository implements ports.LedgerStore on PostgreSQL through a pgx pool.
type Repository struct {
	pool   *pgxpool.Pool
	logger ports.Logger
}

// Config holds configuration for the Postgres repository.
type Config struct {
	DSN      string
	MaxConns int32
	Logger   ports.Logger
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// NewRepository connects to Postgres and makes sure the ledger schema exists.
func NewRepository(ctx context.Context, cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Postgres repository")
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, wrap(err, ports.ErrDBConnection, "unable to parse database config")
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	} else {
		poolConfig.MaxConns = 5
	}
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, poolConfig)
	if err != nil {
		return nil, wrap(err, ports.ErrDBConnection, "unable to create connection pool")
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, wrap(err, ports.ErrDBConnection, "unable to ping database")
	}

	repo := &Repository{pool: pool, logger: cfg.Logger}
	if err := repo.initializeSchema(ctx); err != nil {
		pool.Close()
		cfg.Logger.Error(ctx, err, "Postgres repository initialization failed")
		return nil, err
	}
	cfg.Logger.Info(ctx, "Postgres ledger connection established", map[string]interface{}{
		"host": poolConfig.ConnConfig.Host, "database": poolConfig.ConnConfig.Database,
	})
	return repo, nil
}

func (r *Repository) initializeSchema(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS positions (
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			entry_price DOUBLE PRECISION NOT NULL,
			quantity DOUBLE PRECISION NOT NULL,
			leverage INTEGER NOT NULL DEFAULT 1,
			stop_loss DOUBLE PRECISION,
			profit_target DOUBLE PRECISION,
			sl_order_id TEXT,
			tp_order_id TEXT,
			PRIMARY KEY (symbol, side)
		)`,
		`CREATE TABLE IF NOT EXISTS price_orders (
			id BIGSERIAL PRIMARY KEY,
			order_id TEXT NOT NULL UNIQUE,
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			type TEXT NOT NULL,
			trigger_price DOUBLE PRECISION NOT NULL,
			order_price DOUBLE PRECISION NOT NULL DEFAULT 0,
			quantity DOUBLE PRECISION NOT NULL,
			status TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			triggered_at TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS trades (
			id BIGSERIAL PRIMARY KEY,
			order_id TEXT NOT NULL,
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			type TEXT NOT NULL,
			price DOUBLE PRECISION NOT NULL,
			quantity DOUBLE PRECISION NOT NULL,
			leverage INTEGER NOT NULL,
			pnl DOUBLE PRECISION NOT NULL DEFAULT 0,
			fee DOUBLE PRECISION NOT NULL DEFAULT 0,
			timestamp TIMESTAMPTZ NOT NULL,
			status TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS position_close_events (
			id BIGSERIAL PRIMARY KEY,
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			close_reason TEXT NOT NULL,
			trigger_type TEXT NOT NULL,
			trigger_price DOUBLE PRECISION NOT NULL,
			close_price DOUBLE PRECISION NOT NULL,
			entry_price DOUBLE PRECISION NOT NULL,
			quantity DOUBLE PRECISION NOT NULL,
			leverage INTEGER NOT NULL,
			pnl DOUBLE PRECISION NOT NULL,
			pnl_percent DOUBLE PRECISION NOT NULL,
			fee DOUBLE PRECISION NOT NULL DEFAULT 0,
			trigger_order_id TEXT,
			close_trade_id TEXT,
			order_id TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			processed BOOLEAN NOT NULL DEFAULT FALSE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_price_orders_symbol_side_status ON price_orders (symbol, side, status)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_symbol_timestamp ON trades (symbol, timestamp DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_close_events_unprocessed ON position_close_events (id) WHERE NOT processed`,
	}
	for _, m := range migrations {
		if _, err := r.pool.Exec(ctx, m); err != nil {
			return wrap(err, ports.ErrQueryFailed, "failed to execute schema initialization")
		}
	}
	return nil
}

// Ping verifies the ledger connection.
func (r *Repository) Ping(ctx context.Context) error {
	if err := r.pool.Ping(ctx); err != nil {
		return wrap(err, ports.ErrDBConnection, "Ping failed")
	}
	return nil
}

// Close releases the pool.
func (r *Repository) Close() error {
	r.logger.Info(context.Background(), "Closing Postgres ledger pool")
	r.pool.Close()
	return nil
}

// inTx runs fn inside a read-committed transaction, committing only when fn succeeds.
func (r *Repository) inTx(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) (err error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return wrap(err, ports.ErrDBConnection, "failed to begin tx")
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		} else if err != nil {
			_ = tx.Rollback(ctx)
		} else {
			err = tx.Commit(ctx)
			if err != nil {
				err = wrap(err, ports.ErrUpdateFailed, "failed to commit tx")
			}
		}
	}()

	return fn(ctx, tx)
}

// --- PositionRepository Implementation ---

// CreatePosition saves a new position.
func (r *Repository) CreatePosition(ctx context.Context, pos *domain.Position) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO positions (symbol, side, entry_price, quantity, leverage, stop_loss, profit_target, sl_order_id, tp_order_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		pos.Symbol, string(pos.Side), pos.EntryPrice, pos.Quantity, pos.Leverage,
		pos.StopLoss, pos.ProfitTarget, pos.StopLossOrderID, pos.TakeProfitOrderID)
	if err != nil {
		if isUniqueViolation(err) {
			return wrap(err, ports.ErrDuplicateEntry, "position %s/%s", pos.Symbol, pos.Side)
		}
		return wrap(err, ports.ErrQueryFailed, "failed to insert position %s/%s", pos.Symbol, pos.Side)
	}
	r.logger.Debug(ctx, "Position created", map[string]interface{}{"symbol": pos.Symbol, "side": pos.Side})
	return nil
}

const positionColumns = `symbol, side, entry_price, quantity, leverage, stop_loss, profit_target, sl_order_id, tp_order_id`

// FindAllPositions retrieves all positions ordered by symbol and side.
func (r *Repository) FindAllPositions(ctx context.Context) ([]*domain.Position, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+positionColumns+` FROM positions ORDER BY symbol, side`)
	if err != nil {
		return nil, wrap(err, ports.ErrQueryFailed, "failed to query all positions")
	}
	defer rows.Close()

	positions := make([]*domain.Position, 0)
	for rows.Next() {
		pos, err := scanPosition(rows)
		if err != nil {
			return nil, wrap(err, ports.ErrQueryFailed, "failed to scan position")
		}
		positions = append(positions, pos)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap(err, ports.ErrQueryFailed, "error iterating position rows")
	}
	return positions, nil
}

// FindPosition retrieves the position for (symbol, side), if any.
func (r *Repository) FindPosition(ctx context.Context, symbol string, side domain.Side) (*domain.Position, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+positionColumns+` FROM positions WHERE symbol = $1 AND side = $2`, symbol, string(side))
	pos, err := scanPosition(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, wrap(err, ports.ErrQueryFailed, "failed to query position %s/%s", symbol, side)
	}
	return pos, nil
}

// DeletePosition removes the (symbol, side) position.
func (r *Repository) DeletePosition(ctx context.Context, symbol string, side domain.Side) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM positions WHERE symbol = $1 AND side = $2`, symbol, string(side))
	if err != nil {
		return wrap(err, ports.ErrDeleteFailed, "failed to delete position %s/%s", symbol, side)
	}
	r.logger.Debug(ctx, "Position deleted", map[string]interface{}{"symbol": symbol, "side": side, "rows": tag.RowsAffected()})
	return nil
}

// --- TriggerOrderRepository Implementation ---

const orderColumns = `order_id, symbol, side, type, trigger_price, order_price, quantity, status, created_at, updated_at, triggered_at`

// CreateTriggerOrder saves a new trigger order row.
func (r *Repository) CreateTriggerOrder(ctx context.Context, order *domain.TriggerOrder) error {
	return insertTriggerOrder(ctx, r.pool, order)
}

func insertTriggerOrder(ctx context.Context, q querier, o *domain.TriggerOrder) error {
	_, err := q.Exec(ctx, `INSERT INTO price_orders (`+orderColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		o.OrderID, o.Symbol, string(o.Side), string(o.Type), o.TriggerPrice, o.OrderPrice, o.Quantity,
		string(o.Status), o.CreatedAt, o.UpdatedAt, o.TriggeredAt)
	if err != nil {
		if isUniqueViolation(err) {
			return wrap(err, ports.ErrDuplicateEntry, "trigger order %s", o.OrderID)
		}
		return wrap(err, ports.ErrQueryFailed, "failed to insert trigger order %s", o.OrderID)
	}
	return nil
}

// FindActiveTriggerOrders retrieves the active orders for (symbol, side) in insertion order.
func (r *Repository) FindActiveTriggerOrders(ctx context.Context, symbol string, side domain.Side) ([]*domain.TriggerOrder, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+orderColumns+` FROM price_orders WHERE symbol = $1 AND side = $2 AND status = $3 ORDER BY id`,
		symbol, string(side), string(domain.OrderStatusActive))
	if err != nil {
		return nil, wrap(err, ports.ErrQueryFailed, "failed to query active orders for %s/%s", symbol, side)
	}
	defer rows.Close()

	orders := make([]*domain.TriggerOrder, 0)
	for rows.Next() {
		o, err := scanTriggerOrder(rows)
		if err != nil {
			return nil, wrap(err, ports.ErrQueryFailed, "failed to scan trigger order")
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap(err, ports.ErrQueryFailed, "error iterating trigger order rows")
	}
	return orders, nil
}

// FindTriggerOrder retrieves an order by its exchange id.
func (r *Repository) FindTriggerOrder(ctx context.Context, orderID string) (*domain.TriggerOrder, error) {
	o, err := scanTriggerOrder(r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM price_orders WHERE order_id = $1`, orderID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, wrap(err, ports.ErrQueryFailed, "failed to query trigger order %s", orderID)
	}
	return o, nil
}

// MarkTriggered transitions an active order to triggered.
func (r *Repository) MarkTriggered(ctx context.Context, orderID string, at time.Time) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE price_orders SET status = $1, triggered_at = $2, updated_at = $2 WHERE order_id = $3 AND status = $4`,
		string(domain.OrderStatusTriggered), at, orderID, string(domain.OrderStatusActive))
	if err != nil {
		return wrap(err, ports.ErrUpdateFailed, "failed to mark order %s triggered", orderID)
	}
	if tag.RowsAffected() == 0 {
		r.logger.Warn(ctx, "MarkTriggered matched no active order", map[string]interface{}{"orderID": orderID})
	}
	return nil
}

// --- TradeRepository Implementation ---

// CreateTrade saves a new trade record and returns its assigned ID.
func (r *Repository) CreateTrade(ctx context.Context, t *domain.Trade) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `
		INSERT INTO trades (order_id, symbol, side, type, price, quantity, leverage, pnl, fee, timestamp, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11) RETURNING id`,
		t.OrderID, t.Symbol, string(t.Side), string(t.Type), t.Price, t.Quantity, t.Leverage, t.PNL, t.Fee,
		t.Timestamp, t.Status).Scan(&id)
	if err != nil {
		return 0, wrap(err, ports.ErrQueryFailed, "failed to insert trade for symbol %s", t.Symbol)
	}
	t.ID = id
	r.logger.Debug(ctx, "Trade recorded", map[string]interface{}{"tradeID": id, "symbol": t.Symbol, "pnl": t.PNL})
	return id, nil
}

// FindTradesBySymbol retrieves the most recent trades for a given symbol, up to a limit.
func (r *Repository) FindTradesBySymbol(ctx context.Context, symbol string, limit int) ([]*domain.Trade, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, order_id, symbol, side, type, price, quantity, leverage, pnl, fee, timestamp, status
		FROM trades WHERE symbol = $1 ORDER BY timestamp DESC, id DESC LIMIT $2`, symbol, limit)
	if err != nil {
		return nil, wrap(err, ports.ErrQueryFailed, "failed to query trades for symbol %s", symbol)
	}
	defer rows.Close()

	trades := make([]*domain.Trade, 0)
	for rows.Next() {
		t := &domain.Trade{}
		var side, typ string
		if err := rows.Scan(&t.ID, &t.OrderID, &t.Symbol, &side, &typ, &t.Price, &t.Quantity,
			&t.Leverage, &t.PNL, &t.Fee, &t.Timestamp, &t.Status); err != nil {
			return nil, wrap(err, ports.ErrQueryFailed, "failed to scan trade")
		}
		t.Side = domain.Side(side)
		t.Type = domain.TradeType(typ)
		trades = append(trades, t)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap(err, ports.ErrQueryFailed, "error iterating trade rows")
	}
	return trades, nil
}

// --- CloseEventRepository Implementation ---

// CreateCloseEvent saves a close event and returns its assigned ID.
func (r *Repository) CreateCloseEvent(ctx context.Context, ev *domain.CloseEvent) (int64, error) {
	createdAt := ev.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	var id int64
	err := r.pool.QueryRow(ctx, `
		INSERT INTO position_close_events (symbol, side, close_reason, trigger_type, trigger_price, close_price,
			entry_price, quantity, leverage, pnl, pnl_percent, fee, trigger_order_id, close_trade_id, order_id,
			created_at, processed)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17) RETURNING id`,
		ev.Symbol, string(ev.Side), string(ev.CloseReason), ev.TriggerType, ev.TriggerPrice, ev.ClosePrice,
		ev.EntryPrice, ev.Quantity, ev.Leverage, ev.PNL, ev.PNLPercent, ev.Fee,
		nullIfEmpty(ev.TriggerOrderID), nullIfEmpty(ev.CloseTradeID), nullIfEmpty(ev.OrderID),
		createdAt, ev.Processed).Scan(&id)
	if err != nil {
		return 0, wrap(err, ports.ErrQueryFailed, "failed to insert close event for %s/%s", ev.Symbol, ev.Side)
	}
	ev.ID = id
	ev.CreatedAt = createdAt
	r.logger.Debug(ctx, "Close event recorded", map[string]interface{}{"eventID": id, "symbol": ev.Symbol, "reason": ev.CloseReason})
	return id, nil
}

// FindUnprocessedCloseEvents retrieves the oldest unprocessed close events, up to a limit.
func (r *Repository) FindUnprocessedCloseEvents(ctx context.Context, limit int) ([]*domain.CloseEvent, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, symbol, side, close_reason, trigger_type, trigger_price, close_price, entry_price, quantity,
			leverage, pnl, pnl_percent, fee, COALESCE(trigger_order_id, ''), COALESCE(close_trade_id, ''),
			COALESCE(order_id, ''), created_at, processed
		FROM position_close_events WHERE NOT processed ORDER BY id LIMIT $1`, limit)
	if err != nil {
		return nil, wrap(err, ports.ErrQueryFailed, "failed to query unprocessed close events")
	}
	defer rows.Close()

	events := make([]*domain.CloseEvent, 0)
	for rows.Next() {
		ev := &domain.CloseEvent{}
		var side, reason string
		if err := rows.Scan(&ev.ID, &ev.Symbol, &side, &reason, &ev.TriggerType, &ev.TriggerPrice, &ev.ClosePrice,
			&ev.EntryPrice, &ev.Quantity, &ev.Leverage, &ev.PNL, &ev.PNLPercent, &ev.Fee,
			&ev.TriggerOrderID, &ev.CloseTradeID, &ev.OrderID, &ev.CreatedAt, &ev.Processed); err != nil {
			return nil, wrap(err, ports.ErrQueryFailed, "failed to scan close event")
		}
		ev.Side = domain.Side(side)
		ev.CloseReason = domain.CloseReason(reason)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap(err, ports.ErrQueryFailed, "error iterating close event rows")
	}
	return events, nil
}

// MarkCloseEventProcessed flags a close event as consumed.
func (r *Repository) MarkCloseEventProcessed(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `UPDATE position_close_events SET processed = TRUE WHERE id = $1`, id)
	if err != nil {
		return wrap(err, ports.ErrUpdateFailed, "failed to mark close event %d processed", id)
	}
	if tag.RowsAffected() == 0 {
		return errors.Wrapf(ports.ErrNotFound, "close event %d", id)
	}
	return nil
}

// --- ProtectionRepository Implementation ---

// ReplaceProtection cancels the active orders of (symbol, side), records the new ones and updates the position.
// Nothing is written when the ledger holds no position for (symbol, side).
func (r *Repository) ReplaceProtection(ctx context.Context, u ports.ProtectionUpdate) error {
	err := r.inTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`UPDATE price_orders SET status = $1, updated_at = $2 WHERE symbol = $3 AND side = $4 AND status = $5`,
			string(domain.OrderStatusCancelled), u.At, u.Symbol, string(u.Side), string(domain.OrderStatusActive)); err != nil {
			return wrap(err, ports.ErrUpdateFailed, "cancel active orders")
		}
		for _, o := range u.Orders() {
			if err := insertTriggerOrder(ctx, tx, o); err != nil {
				return err
			}
		}
		tag, err := tx.Exec(ctx,
			`UPDATE positions SET stop_loss = $1, profit_target = $2, sl_order_id = $3, tp_order_id = $4
			 WHERE symbol = $5 AND side = $6`,
			u.StopLoss, u.TakeProfit, nullIfEmpty(u.StopLossOrderID), nullIfEmpty(u.TakeProfitOrderID),
			u.Symbol, string(u.Side))
		if err != nil {
			return wrap(err, ports.ErrUpdateFailed, "update position protection")
		}
		if tag.RowsAffected() == 0 {
			r.logger.Warn(ctx, "ReplaceProtection: no ledger position, protection not recorded", map[string]interface{}{
				"symbol": u.Symbol, "side": u.Side, "slOrderID": u.StopLossOrderID, "tpOrderID": u.TakeProfitOrderID,
			})
			return errors.Wrapf(ports.ErrNotFound, "position %s %s", u.Symbol, u.Side)
		}
		return nil
	})
	if err != nil {
		return errors.WithMessage(err, "ReplaceProtection failed")
	}
	r.logger.Debug(ctx, "Protection replaced", map[string]interface{}{
		"symbol": u.Symbol, "side": u.Side, "slOrderID": u.StopLossOrderID, "tpOrderID": u.TakeProfitOrderID,
	})
	return nil
}

// --- helpers ---

func scanPosition(row pgx.Row) (*domain.Position, error) {
	p := &domain.Position{}
	var side string
	if err := row.Scan(&p.Symbol, &side, &p.EntryPrice, &p.Quantity, &p.Leverage,
		&p.StopLoss, &p.ProfitTarget, &p.StopLossOrderID, &p.TakeProfitOrderID); err != nil {
		return nil, err
	}
	p.Side = domain.Side(side)
	return p, nil
}

func scanTriggerOrder(row pgx.Row) (*domain.TriggerOrder, error) {
	o := &domain.TriggerOrder{}
	var side, typ, status string
	if err := row.Scan(&o.OrderID, &o.Symbol, &side, &typ, &o.TriggerPrice, &o.OrderPrice, &o.Quantity,
		&status, &o.CreatedAt, &o.UpdatedAt, &o.TriggeredAt); err != nil {
		return nil, err
	}
	o.Side = domain.Side(side)
	o.Type = domain.OrderType(typ)
	o.Status = domain.OrderStatus(status)
	return o, nil
}

// wrap annotates err with a ledger sentinel so callers can match it with errors.Is.
func wrap(err error, sentinel error, format string, args ...interface{}) error {
	return errors.Wrapf(fmt.Errorf("%w: %w", sentinel, err), format, args...)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
