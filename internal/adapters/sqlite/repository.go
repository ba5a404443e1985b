package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"riskLedger/internal/domain"
	"riskLedger/internal/ports"

	"github.com/mattn/go-sqlite3" // SQLite driver
)

// Repository implements ports.LedgerStore using SQLite.
type Repository struct {
	db     *sql.DB
	logger ports.Logger
}

// Config holds configuration for the SQLite repository.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewRepository creates a new SQLite repository instance.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite repository")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/trading.db" // Default path
	}

	dsn := dbPath + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"
	if dbPath == ":memory:" {
		dsn = "file::memory:?cache=shared&_busy_timeout=5000"
	} else {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
			cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
			return nil, err
		}
		cfg.Logger.Debug(context.Background(), "Data directory checked/created", map[string]interface{}{"path": filepath.Dir(dbPath)})
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		err = fmt.Errorf("failed to open database at '%s': %w: %w", dbPath, ports.ErrDBConnection, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("failed to ping database at '%s': %w: %w", dbPath, ports.ErrDBConnection, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// A single connection serialises writers and keeps in-memory databases alive.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	cfg.Logger.Info(context.Background(), "SQLite ledger connection established", map[string]interface{}{"path": dbPath})

	repo := &Repository{db: db, logger: cfg.Logger}
	if err := repo.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}
	cfg.Logger.Debug(context.Background(), "Ledger schema initialized/verified")

	return repo, nil
}

// initializeSchema creates the four ledger tables if they don't exist.
func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS positions (
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		entry_price REAL NOT NULL,
		quantity REAL NOT NULL,
		leverage INTEGER NOT NULL DEFAULT 1,
		stop_loss REAL DEFAULT NULL,
		profit_target REAL DEFAULT NULL,
		sl_order_id TEXT DEFAULT NULL,
		tp_order_id TEXT DEFAULT NULL,
		PRIMARY KEY (symbol, side)
	);

	CREATE TABLE IF NOT EXISTS price_orders (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		order_id TEXT NOT NULL UNIQUE,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		type TEXT NOT NULL,
		trigger_price REAL NOT NULL,
		order_price REAL NOT NULL DEFAULT 0,
		quantity REAL NOT NULL,
		status TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		triggered_at TIMESTAMP DEFAULT NULL
	);

	CREATE TABLE IF NOT EXISTS trades (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		order_id TEXT NOT NULL,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		type TEXT NOT NULL,
		price REAL NOT NULL,
		quantity REAL NOT NULL,
		leverage INTEGER NOT NULL,
		pnl REAL NOT NULL DEFAULT 0,
		fee REAL NOT NULL DEFAULT 0,
		timestamp TIMESTAMP NOT NULL,
		status TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS position_close_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		close_reason TEXT NOT NULL,
		trigger_type TEXT NOT NULL,
		trigger_price REAL NOT NULL,
		close_price REAL NOT NULL,
		entry_price REAL NOT NULL,
		quantity REAL NOT NULL,
		leverage INTEGER NOT NULL,
		pnl REAL NOT NULL,
		pnl_percent REAL NOT NULL,
		fee REAL NOT NULL DEFAULT 0,
		trigger_order_id TEXT NULL,
		close_trade_id TEXT NULL,
		order_id TEXT NULL,
		created_at TIMESTAMP NOT NULL,
		processed INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_price_orders_symbol_side_status ON price_orders (symbol, side, status);
	CREATE INDEX IF NOT EXISTS idx_trades_symbol_timestamp ON trades (symbol, timestamp);
	CREATE INDEX IF NOT EXISTS idx_close_events_processed ON position_close_events (processed, id);
	`
	_, err := r.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// Ping verifies the ledger connection.
func (r *Repository) Ping(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("Ping failed: %w: %w", ports.ErrDBConnection, err)
	}
	return nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	if r.db != nil {
		r.logger.Info(context.Background(), "Closing SQLite ledger connection")
		return r.db.Close()
	}
	return nil
}

// --- PositionRepository Implementation ---

// CreatePosition saves a new position.
func (r *Repository) CreatePosition(ctx context.Context, pos *domain.Position) error {
	const query = `
	INSERT INTO positions (symbol, side, entry_price, quantity, leverage, stop_loss, profit_target, sl_order_id, tp_order_id)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		pos.Symbol, string(pos.Side), pos.EntryPrice, pos.Quantity, pos.Leverage,
		nullFloat(pos.StopLoss), nullFloat(pos.ProfitTarget), nullString(pos.StopLossOrderID), nullString(pos.TakeProfitOrderID))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("position %s/%s: %w: %w", pos.Symbol, pos.Side, ports.ErrDuplicateEntry, err)
		}
		return fmt.Errorf("failed to insert position %s/%s: %w: %w", pos.Symbol, pos.Side, ports.ErrQueryFailed, err)
	}
	r.logger.Debug(ctx, "Position created", map[string]interface{}{"symbol": pos.Symbol, "side": pos.Side})
	return nil
}

const positionColumns = `symbol, side, entry_price, quantity, leverage, stop_loss, profit_target, sl_order_id, tp_order_id`

// FindAllPositions retrieves all positions ordered by symbol and side.
func (r *Repository) FindAllPositions(ctx context.Context) ([]*domain.Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions ORDER BY symbol, side`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query all positions: %w: %w", ports.ErrQueryFailed, err)
	}
	defer rows.Close()

	positions := make([]*domain.Position, 0)
	for rows.Next() {
		pos, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan position during FindAllPositions: %w: %w", ports.ErrQueryFailed, err)
		}
		positions = append(positions, pos)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating position rows: %w: %w", ports.ErrQueryFailed, err)
	}
	return positions, nil
}

// FindPosition retrieves the position for (symbol, side), if any.
func (r *Repository) FindPosition(ctx context.Context, symbol string, side domain.Side) (*domain.Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions WHERE symbol = ? AND side = ?`

	pos, err := scanPosition(r.db.QueryRowContext(ctx, query, symbol, string(side)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not an error, just not found
		}
		return nil, fmt.Errorf("failed to query position %s/%s: %w: %w", symbol, side, ports.ErrQueryFailed, err)
	}
	return pos, nil
}

// DeletePosition removes the (symbol, side) position.
func (r *Repository) DeletePosition(ctx context.Context, symbol string, side domain.Side) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM positions WHERE symbol = ? AND side = ?`, symbol, string(side))
	if err != nil {
		return fmt.Errorf("failed to delete position %s/%s: %w: %w", symbol, side, ports.ErrDeleteFailed, err)
	}
	n, _ := result.RowsAffected()
	r.logger.Debug(ctx, "Position deleted", map[string]interface{}{"symbol": symbol, "side": side, "rows": n})
	return nil
}

// --- Helper Scan Functions ---

// scanner defines an interface compatible with *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

// scanPosition scans a row into a domain.Position struct.
func scanPosition(s scanner) (*domain.Position, error) {
	p := &domain.Position{}
	var side string
	var stopLoss, profitTarget sql.NullFloat64
	var slOrderID, tpOrderID sql.NullString
	err := s.Scan(&p.Symbol, &side, &p.EntryPrice, &p.Quantity, &p.Leverage,
		&stopLoss, &profitTarget, &slOrderID, &tpOrderID)
	if err != nil {
		return nil, err // Handle sql.ErrNoRows in the caller
	}
	p.Side = domain.Side(side)
	p.StopLoss = floatPtr(stopLoss)
	p.ProfitTarget = floatPtr(profitTarget)
	p.StopLossOrderID = stringPtr(slOrderID)
	p.TakeProfitOrderID = stringPtr(tpOrderID)
	return p, nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nullString(v *string) sql.NullString {
	if v == nil || *v == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func stringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
