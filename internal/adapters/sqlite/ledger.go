package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"riskLedger/internal/domain"
	"riskLedger/internal/ports"
)

// --- TriggerOrderRepository Implementation ---

const orderColumns = `order_id, symbol, side, type, trigger_price, order_price, quantity, status, created_at, updated_at, triggered_at`

// CreateTriggerOrder saves a new trigger order row.
func (r *Repository) CreateTriggerOrder(ctx context.Context, order *domain.TriggerOrder) error {
	return insertTriggerOrder(ctx, r.db, order)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func insertTriggerOrder(ctx context.Context, db execer, order *domain.TriggerOrder) error {
	query := `INSERT INTO price_orders (` + orderColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	var triggeredAt sql.NullTime
	if order.TriggeredAt != nil {
		triggeredAt = sql.NullTime{Time: *order.TriggeredAt, Valid: true}
	}
	_, err := db.ExecContext(ctx, query,
		order.OrderID, order.Symbol, string(order.Side), string(order.Type), order.TriggerPrice, order.OrderPrice,
		order.Quantity, string(order.Status), order.CreatedAt, order.UpdatedAt, triggeredAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("trigger order %s: %w: %w", order.OrderID, ports.ErrDuplicateEntry, err)
		}
		return fmt.Errorf("failed to insert trigger order %s: %w: %w", order.OrderID, ports.ErrQueryFailed, err)
	}
	return nil
}

// FindActiveTriggerOrders retrieves the active orders for (symbol, side) in insertion order.
func (r *Repository) FindActiveTriggerOrders(ctx context.Context, symbol string, side domain.Side) ([]*domain.TriggerOrder, error) {
	query := `SELECT ` + orderColumns + ` FROM price_orders WHERE symbol = ? AND side = ? AND status = ? ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query, symbol, string(side), string(domain.OrderStatusActive))
	if err != nil {
		return nil, fmt.Errorf("failed to query active orders for %s/%s: %w: %w", symbol, side, ports.ErrQueryFailed, err)
	}
	defer rows.Close()

	orders := make([]*domain.TriggerOrder, 0)
	for rows.Next() {
		o, err := scanTriggerOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trigger order: %w: %w", ports.ErrQueryFailed, err)
		}
		orders = append(orders, o)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trigger order rows: %w: %w", ports.ErrQueryFailed, err)
	}
	return orders, nil
}

// FindTriggerOrder retrieves an order by its exchange id.
func (r *Repository) FindTriggerOrder(ctx context.Context, orderID string) (*domain.TriggerOrder, error) {
	query := `SELECT ` + orderColumns + ` FROM price_orders WHERE order_id = ?`

	o, err := scanTriggerOrder(r.db.QueryRowContext(ctx, query, orderID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query trigger order %s: %w: %w", orderID, ports.ErrQueryFailed, err)
	}
	return o, nil
}

// MarkTriggered transitions an active order to triggered. Non-active orders are left untouched.
func (r *Repository) MarkTriggered(ctx context.Context, orderID string, at time.Time) error {
	const query = `UPDATE price_orders SET status = ?, triggered_at = ?, updated_at = ? WHERE order_id = ? AND status = ?`

	result, err := r.db.ExecContext(ctx, query,
		string(domain.OrderStatusTriggered), at, at, orderID, string(domain.OrderStatusActive))
	if err != nil {
		return fmt.Errorf("failed to mark order %s triggered: %w: %w", orderID, ports.ErrUpdateFailed, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		r.logger.Warn(ctx, "MarkTriggered matched no active order", map[string]interface{}{"orderID": orderID})
	}
	return nil
}

// --- TradeRepository Implementation ---

// CreateTrade saves a new trade record and returns its assigned ID.
func (r *Repository) CreateTrade(ctx context.Context, trade *domain.Trade) (int64, error) {
	const query = `
	INSERT INTO trades (order_id, symbol, side, type, price, quantity, leverage, pnl, fee, timestamp, status)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	result, err := r.db.ExecContext(ctx, query,
		trade.OrderID, trade.Symbol, string(trade.Side), string(trade.Type), trade.Price, trade.Quantity,
		trade.Leverage, trade.PNL, trade.Fee, trade.Timestamp, trade.Status)
	if err != nil {
		return 0, fmt.Errorf("failed to insert trade for symbol %s: %w: %w", trade.Symbol, ports.ErrQueryFailed, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for trade %s: %w: %w", trade.Symbol, ports.ErrQueryFailed, err)
	}
	trade.ID = id
	r.logger.Debug(ctx, "Trade recorded", map[string]interface{}{"tradeID": id, "symbol": trade.Symbol, "pnl": trade.PNL})
	return id, nil
}

// FindTradesBySymbol retrieves the most recent trades for a given symbol, up to a limit.
func (r *Repository) FindTradesBySymbol(ctx context.Context, symbol string, limit int) ([]*domain.Trade, error) {
	const query = `
	SELECT id, order_id, symbol, side, type, price, quantity, leverage, pnl, fee, timestamp, status
	FROM trades
	WHERE symbol = ? ORDER BY timestamp DESC, id DESC LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades for symbol %s: %w: %w", symbol, ports.ErrQueryFailed, err)
	}
	defer rows.Close()

	trades := make([]*domain.Trade, 0)
	for rows.Next() {
		t := &domain.Trade{}
		var side, typ string
		if err := rows.Scan(&t.ID, &t.OrderID, &t.Symbol, &side, &typ, &t.Price, &t.Quantity,
			&t.Leverage, &t.PNL, &t.Fee, &t.Timestamp, &t.Status); err != nil {
			return nil, fmt.Errorf("failed to scan trade during FindTradesBySymbol: %w: %w", ports.ErrQueryFailed, err)
		}
		t.Side = domain.Side(side)
		t.Type = domain.TradeType(typ)
		trades = append(trades, t)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trade rows: %w: %w", ports.ErrQueryFailed, err)
	}
	return trades, nil
}

// --- CloseEventRepository Implementation ---

const closeEventColumns = `symbol, side, close_reason, trigger_type, trigger_price, close_price, entry_price,
	quantity, leverage, pnl, pnl_percent, fee, trigger_order_id, close_trade_id, order_id, created_at, processed`

// CreateCloseEvent saves a close event and returns its assigned ID.
func (r *Repository) CreateCloseEvent(ctx context.Context, ev *domain.CloseEvent) (int64, error) {
	query := `INSERT INTO position_close_events (` + closeEventColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	createdAt := ev.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	result, err := r.db.ExecContext(ctx, query,
		ev.Symbol, string(ev.Side), string(ev.CloseReason), ev.TriggerType, ev.TriggerPrice, ev.ClosePrice,
		ev.EntryPrice, ev.Quantity, ev.Leverage, ev.PNL, ev.PNLPercent, ev.Fee,
		nullString(&ev.TriggerOrderID), nullString(&ev.CloseTradeID), nullString(&ev.OrderID), createdAt, ev.Processed)
	if err != nil {
		return 0, fmt.Errorf("failed to insert close event for %s/%s: %w: %w", ev.Symbol, ev.Side, ports.ErrQueryFailed, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for close event: %w: %w", ports.ErrQueryFailed, err)
	}
	ev.ID = id
	ev.CreatedAt = createdAt
	r.logger.Debug(ctx, "Close event recorded", map[string]interface{}{"eventID": id, "symbol": ev.Symbol, "reason": ev.CloseReason})
	return id, nil
}

// FindUnprocessedCloseEvents retrieves the oldest unprocessed close events, up to a limit.
func (r *Repository) FindUnprocessedCloseEvents(ctx context.Context, limit int) ([]*domain.CloseEvent, error) {
	query := `SELECT id, ` + closeEventColumns + ` FROM position_close_events WHERE processed = 0 ORDER BY id LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query unprocessed close events: %w: %w", ports.ErrQueryFailed, err)
	}
	defer rows.Close()

	events := make([]*domain.CloseEvent, 0)
	for rows.Next() {
		ev := &domain.CloseEvent{}
		var side, reason string
		var triggerOrderID, closeTradeID, orderID sql.NullString
		if err := rows.Scan(&ev.ID, &ev.Symbol, &side, &reason, &ev.TriggerType, &ev.TriggerPrice, &ev.ClosePrice,
			&ev.EntryPrice, &ev.Quantity, &ev.Leverage, &ev.PNL, &ev.PNLPercent, &ev.Fee,
			&triggerOrderID, &closeTradeID, &orderID, &ev.CreatedAt, &ev.Processed); err != nil {
			return nil, fmt.Errorf("failed to scan close event: %w: %w", ports.ErrQueryFailed, err)
		}
		ev.Side = domain.Side(side)
		ev.CloseReason = domain.CloseReason(reason)
		ev.TriggerOrderID = triggerOrderID.String
		ev.CloseTradeID = closeTradeID.String
		ev.OrderID = orderID.String
		events = append(events, ev)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating close event rows: %w: %w", ports.ErrQueryFailed, err)
	}
	return events, nil
}

// MarkCloseEventProcessed flags a close event as consumed.
func (r *Repository) MarkCloseEventProcessed(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, `UPDATE position_close_events SET processed = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to mark close event %d processed: %w: %w", id, ports.ErrUpdateFailed, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("close event %d: %w", id, ports.ErrNotFound)
	}
	return nil
}

// --- ProtectionRepository Implementation ---

// ReplaceProtection cancels the active orders of (symbol, side), records the new ones and updates the position.
// Nothing is written when the ledger holds no position for (symbol, side).
func (r *Repository) ReplaceProtection(ctx context.Context, u ports.ProtectionUpdate) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ReplaceProtection failed: %w: %w", ports.ErrDBConnection, err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				r.logger.Error(ctx, rbErr, "ReplaceProtection rollback failed")
			}
		}
	}()

	if _, err = tx.ExecContext(ctx,
		`UPDATE price_orders SET status = ?, updated_at = ? WHERE symbol = ? AND side = ? AND status = ?`,
		string(domain.OrderStatusCancelled), u.At, u.Symbol, string(u.Side), string(domain.OrderStatusActive)); err != nil {
		return fmt.Errorf("ReplaceProtection cancel failed: %w: %w", ports.ErrUpdateFailed, err)
	}

	for _, o := range u.Orders() {
		if err = insertTriggerOrder(ctx, tx, o); err != nil {
			return fmt.Errorf("ReplaceProtection insert failed: %w", err)
		}
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE positions SET stop_loss = ?, profit_target = ?, sl_order_id = ?, tp_order_id = ? WHERE symbol = ? AND side = ?`,
		nullFloat(u.StopLoss), nullFloat(u.TakeProfit), nullString(&u.StopLossOrderID), nullString(&u.TakeProfitOrderID),
		u.Symbol, string(u.Side))
	if err != nil {
		return fmt.Errorf("ReplaceProtection position update failed: %w: %w", ports.ErrUpdateFailed, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		r.logger.Warn(ctx, "ReplaceProtection: no ledger position, protection not recorded", map[string]interface{}{
			"symbol": u.Symbol, "side": u.Side, "slOrderID": u.StopLossOrderID, "tpOrderID": u.TakeProfitOrderID,
		})
		err = fmt.Errorf("ReplaceProtection failed: position %s %s: %w", u.Symbol, u.Side, ports.ErrNotFound)
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("ReplaceProtection commit failed: %w: %w", ports.ErrUpdateFailed, err)
	}
	r.logger.Debug(ctx, "Protection replaced", map[string]interface{}{
		"symbol": u.Symbol, "side": u.Side, "slOrderID": u.StopLossOrderID, "tpOrderID": u.TakeProfitOrderID,
	})
	return nil
}

func scanTriggerOrder(s scanner) (*domain.TriggerOrder, error) {
	o := &domain.TriggerOrder{}
	var side, typ, status string
	var triggeredAt sql.NullTime
	err := s.Scan(&o.OrderID, &o.Symbol, &side, &typ, &o.TriggerPrice, &o.OrderPrice, &o.Quantity,
		&status, &o.CreatedAt, &o.UpdatedAt, &triggeredAt)
	if err != nil {
		return nil, err
	}
	o.Side = domain.Side(side)
	o.Type = domain.OrderType(typ)
	o.Status = domain.OrderStatus(status)
	if triggeredAt.Valid {
		t := triggeredAt.Time
		o.TriggeredAt = &t
	}
	return o, nil
}
