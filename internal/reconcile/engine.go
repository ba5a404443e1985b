package reconcile

import (
	"context"
	"fmt"
	"math"
	"time"

	"riskLedger/internal/domain"
	"riskLedger/internal/ports"

	"github.com/google/uuid"
)

// DefaultTradeHistoryLimit bounds the fills fetched per orphaned contract.
const DefaultTradeHistoryLimit = 500

// Ledger is the persistence surface a reconciliation pass reads and repairs.
type Ledger interface {
	ports.PositionRepository
	ports.TriggerOrderRepository
	ports.TradeRepository
	ports.CloseEventRepository
}

// Report summarizes one reconciliation pass.
type Report struct {
	RunID                  string               `json:"runId"`
	StartedAt              time.Time            `json:"startedAt"`
	FinishedAt             time.Time            `json:"finishedAt"`
	LedgerPositions        int                  `json:"ledgerPositions"`
	ExchangePositions      int                  `json:"exchangePositions"` // Non-zero positions only
	Orphans                []domain.PositionKey `json:"orphans"`
	CloseEvents            int                  `json:"closeEvents"` // Every close event written, estimated and unexplained included
	EstimatedCloseEvents   int                  `json:"estimatedCloseEvents"`
	UnexplainedCloseEvents int                  `json:"unexplainedCloseEvents"`
	TradesRecorded         int                  `json:"tradesRecorded"`
	OrdersTriggered        int                  `json:"ordersTriggered"`
	PositionsDeleted       int                  `json:"positionsDeleted"`
	QueryFailures          int                  `json:"queryFailures"` // Recoverable exchange query failures
}

// Engine detects ledger positions that no longer exist on the exchange and repairs them,
// reconstructing close events from fired trigger orders and the account trade history.
type Engine struct {
	ledger            Ledger
	exchange          ports.ExchangeStateSource
	logger            ports.Logger
	tradeHistoryLimit int
	recordUnexplained bool
	now               func() time.Time
}

// Config holds the dependencies and options of an Engine.
type Config struct {
	Ledger                  Ledger
	Exchange                ports.ExchangeStateSource
	Logger                  ports.Logger
	TradeHistoryLimit       int              // Defaults to DefaultTradeHistoryLimit
	RecordUnexplainedCloses bool             // Write a close_reason=unknown event for orphans without trigger orders
	Now                     func() time.Time // Defaults to time.Now
}

// NewEngine creates a new reconciliation engine.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Ledger == nil || cfg.Exchange == nil || cfg.Logger == nil {
		return nil, fmt.Errorf("ledger, exchange and logger are required")
	}
	limit := cfg.TradeHistoryLimit
	if limit <= 0 {
		limit = DefaultTradeHistoryLimit
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		ledger:            cfg.Ledger,
		exchange:          cfg.Exchange,
		logger:            cfg.Logger,
		tradeHistoryLimit: limit,
		recordUnexplained: cfg.RecordUnexplainedCloses,
		now:               now,
	}, nil
}

// Run executes one sequential reconciliation pass.
//
// Exchange query failures for trigger orders or trade history are logged and skipped.
// A failed exchange position query and any ledger failure abort the pass; the partial
// report is returned alongside the error.
func (e *Engine) Run(ctx context.Context) (*Report, error) {
	op := "Reconcile"
	rep := &Report{RunID: uuid.NewString(), StartedAt: e.now().UTC()}
	fields := map[string]interface{}{"runID": rep.RunID}
	e.logger.Info(ctx, "Reconciliation pass started", fields)

	positions, err := e.ledger.FindAllPositions(ctx)
	if err != nil {
		return e.finish(rep), fmt.Errorf("%s failed: %w: %w", op, ports.ErrReconcileAborted, err)
	}
	rep.LedgerPositions = len(positions)

	index, err := e.exchangeIndex(ctx)
	if err != nil {
		return e.finish(rep), fmt.Errorf("%s failed: cannot determine orphans: %w", op, err)
	}
	rep.ExchangePositions = len(index)

	orphans := make([]*domain.Position, 0)
	for _, pos := range positions {
		if _, ok := index[pos.Key()]; !ok {
			orphans = append(orphans, pos)
			rep.Orphans = append(rep.Orphans, pos.Key())
			e.logger.Warn(ctx, "Ledger position missing on exchange", map[string]interface{}{
				"runID": rep.RunID, "symbol": pos.Symbol, "side": pos.Side,
			})
		}
	}

	if len(orphans) == 0 {
		e.logger.Info(ctx, "All ledger positions exist on the exchange, nothing to reconcile", map[string]interface{}{
			"runID": rep.RunID, "ledgerPositions": rep.LedgerPositions, "exchangePositions": rep.ExchangePositions,
		})
		return e.finish(rep), nil
	}

	for _, pos := range orphans {
		if err := e.reconcilePosition(ctx, rep, pos); err != nil {
			return e.finish(rep), fmt.Errorf("%s failed: %w: %w", op, ports.ErrReconcileAborted, err)
		}
	}

	e.finish(rep)
	e.logger.Info(ctx, "Reconciliation pass finished", map[string]interface{}{
		"runID":          rep.RunID,
		"orphans":        len(rep.Orphans),
		"closeEvents":    rep.CloseEvents,
		"estimated":      rep.EstimatedCloseEvents,
		"tradesRecorded": rep.TradesRecorded,
		"ordersFired":    rep.OrdersTriggered,
		"deleted":        rep.PositionsDeleted,
		"queryFailures":  rep.QueryFailures,
		"duration":       rep.FinishedAt.Sub(rep.StartedAt).String(),
	})
	return rep, nil
}

func (e *Engine) finish(rep *Report) *Report {
	rep.FinishedAt = e.now().UTC()
	return rep
}

// exchangeIndex keys the non-zero exchange positions by (ledger symbol, side).
func (e *Engine) exchangeIndex(ctx context.Context) (map[domain.PositionKey]ports.ExchangePosition, error) {
	positions, err := e.exchange.GetPositions(ctx)
	if err != nil {
		return nil, err
	}
	index := make(map[domain.PositionKey]ports.ExchangePosition, len(positions))
	for _, p := range positions {
		if p.Size == 0 {
			continue
		}
		key := domain.PositionKey{Symbol: e.exchange.ExtractSymbol(p.Contract), Side: domain.SideFromSize(p.Size)}
		index[key] = p
	}
	return index, nil
}

// reconcilePosition explains and deletes one orphaned position. Only ledger errors are returned.
func (e *Engine) reconcilePosition(ctx context.Context, rep *Report, pos *domain.Position) error {
	contract := e.exchange.NormalizeContract(pos.Symbol)
	fields := map[string]interface{}{"runID": rep.RunID, "symbol": pos.Symbol, "side": pos.Side, "contract": contract}
	history := &tradeHistory{engine: e, contract: contract}

	orders, err := e.ledger.FindActiveTriggerOrders(ctx, pos.Symbol, pos.Side)
	if err != nil {
		return err
	}

	if len(orders) == 0 {
		e.logger.Info(ctx, "Orphaned position has no active trigger orders", fields)
		if e.recordUnexplained {
			if err := e.recordUnexplainedClose(ctx, rep, pos, history); err != nil {
				return err
			}
		}
	} else if err := e.resolveOrders(ctx, rep, pos, orders, history); err != nil {
		return err
	}

	if err := e.ledger.DeletePosition(ctx, pos.Symbol, pos.Side); err != nil {
		return err
	}
	rep.PositionsDeleted++
	e.logger.Info(ctx, "Orphaned position deleted", fields)
	return nil
}

// resolveOrders marks every ledger order absent from the exchange as fired and records its close.
func (e *Engine) resolveOrders(ctx context.Context, rep *Report, pos *domain.Position, orders []*domain.TriggerOrder, history *tradeHistory) error {
	live, err := e.exchange.GetPriceOrders(ctx, history.contract)
	if err != nil {
		rep.QueryFailures++
		e.logger.Error(ctx, err, "Failed to query exchange trigger orders, leaving them active", map[string]interface{}{
			"runID": rep.RunID, "symbol": pos.Symbol, "side": pos.Side, "orders": len(orders),
		})
		return nil
	}
	onExchange := make(map[string]bool, len(live))
	for _, o := range live {
		onExchange[o.ID] = true
	}

	for _, order := range orders {
		if onExchange[order.OrderID] {
			e.logger.Info(ctx, "Trigger order still active on exchange", map[string]interface{}{
				"runID": rep.RunID, "orderID": order.OrderID, "type": order.Type,
			})
			continue
		}
		if err := e.resolveFiredOrder(ctx, rep, pos, order, history); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) resolveFiredOrder(ctx context.Context, rep *Report, pos *domain.Position, order *domain.TriggerOrder, history *tradeHistory) error {
	fields := map[string]interface{}{
		"runID": rep.RunID, "symbol": pos.Symbol, "side": pos.Side, "orderID": order.OrderID, "type": order.Type,
	}
	e.logger.Info(ctx, "Trigger order gone from exchange, presumed fired", fields)

	trades, err := history.get(ctx)
	if err != nil {
		rep.QueryFailures++
		e.logger.Error(ctx, err, "Failed to query trade history, close event not recorded", fields)
	} else if trade, ok := closingTrade(trades, order.CreatedAt, pos.Side); ok {
		if err := e.recordConfirmedClose(ctx, rep, pos, order, trade); err != nil {
			return err
		}
	} else {
		if err := e.recordEstimatedClose(ctx, rep, pos, order); err != nil {
			return err
		}
	}

	if err := e.ledger.MarkTriggered(ctx, order.OrderID, e.now().UTC()); err != nil {
		return err
	}
	rep.OrdersTriggered++
	return nil
}

// newCloseEvent prices the closure of pos at closePrice.
func (e *Engine) newCloseEvent(pos *domain.Position, closePrice float64) *domain.CloseEvent {
	qty := math.Abs(pos.Quantity)
	return &domain.CloseEvent{
		Symbol:     pos.Symbol,
		Side:       pos.Side,
		ClosePrice: closePrice,
		EntryPrice: pos.EntryPrice,
		Quantity:   qty,
		Leverage:   pos.Leverage,
		PNL:        e.exchange.CalculatePnl(pos.EntryPrice, closePrice, qty, pos.Side, e.exchange.NormalizeContract(pos.Symbol)),
		PNLPercent: pnlPercent(pos.EntryPrice, closePrice, pos.Leverage, pos.Side),
		CreatedAt:  e.now().UTC(),
	}
}

func (e *Engine) recordConfirmedClose(ctx context.Context, rep *Report, pos *domain.Position, order *domain.TriggerOrder, trade ports.ExchangeTrade) error {
	event := e.newCloseEvent(pos, trade.Price)
	event.CloseReason = domain.CloseReasonFor(order.Type)
	event.TriggerType = domain.TriggerTypeExchangeOrder
	event.TriggerPrice = order.TriggerPrice
	event.Fee = trade.Fee
	event.TriggerOrderID = order.OrderID
	event.CloseTradeID = trade.ID
	event.OrderID = order.OrderID
	if _, err := e.ledger.CreateCloseEvent(ctx, event); err != nil {
		return err
	}
	rep.CloseEvents++

	tradeOrderID := trade.ID
	if tradeOrderID == "" {
		tradeOrderID = order.OrderID
	}
	if _, err := e.ledger.CreateTrade(ctx, &domain.Trade{
		OrderID:   tradeOrderID,
		Symbol:    pos.Symbol,
		Side:      pos.Side,
		Type:      domain.TradeTypeClose,
		Price:     trade.Price,
		Quantity:  event.Quantity,
		Leverage:  pos.Leverage,
		PNL:       event.PNL,
		Fee:       trade.Fee,
		Timestamp: trade.Timestamp.UTC(),
		Status:    domain.TradeStatusFilled,
	}); err != nil {
		return err
	}
	rep.TradesRecorded++

	e.logger.Info(ctx, "Close event recorded from trade history", map[string]interface{}{
		"runID": rep.RunID, "symbol": pos.Symbol, "side": pos.Side, "orderID": order.OrderID,
		"tradeID": trade.ID, "closePrice": trade.Price, "pnl": event.PNL, "pnlPercent": event.PNLPercent,
	})
	return nil
}

// recordEstimatedClose prices the closure at the trigger price. No trade row is written
// because no fill confirms it.
func (e *Engine) recordEstimatedClose(ctx context.Context, rep *Report, pos *domain.Position, order *domain.TriggerOrder) error {
	event := e.newCloseEvent(pos, order.TriggerPrice)
	event.CloseReason = domain.CloseReasonFor(order.Type)
	event.TriggerType = domain.TriggerTypeExchangeOrder
	event.TriggerPrice = order.TriggerPrice
	event.TriggerOrderID = order.OrderID
	event.CloseTradeID = estimatedTradeID(order.OrderID)
	event.OrderID = order.OrderID
	if _, err := e.ledger.CreateCloseEvent(ctx, event); err != nil {
		return err
	}
	rep.CloseEvents++
	rep.EstimatedCloseEvents++

	e.logger.Warn(ctx, "No closing trade found, close event estimated at trigger price", map[string]interface{}{
		"runID": rep.RunID, "symbol": pos.Symbol, "side": pos.Side, "orderID": order.OrderID,
		"triggerPrice": order.TriggerPrice, "pnl": event.PNL, "pnlPercent": event.PNLPercent,
	})
	return nil
}

// recordUnexplainedClose keeps a trace of positions closed outside the trigger orders,
// priced from the latest closing fill or at entry when none is available.
func (e *Engine) recordUnexplainedClose(ctx context.Context, rep *Report, pos *domain.Position, history *tradeHistory) error {
	closePrice := pos.EntryPrice
	var tradeID string
	var fee float64

	trades, err := history.get(ctx)
	if err != nil {
		rep.QueryFailures++
		e.logger.Error(ctx, err, "Failed to query trade history, unexplained close priced at entry", map[string]interface{}{
			"runID": rep.RunID, "symbol": pos.Symbol, "side": pos.Side,
		})
	} else if t, ok := latestClosingTrade(trades, pos.Side); ok {
		closePrice, tradeID, fee = t.Price, t.ID, t.Fee
	}

	event := e.newCloseEvent(pos, closePrice)
	event.CloseReason = domain.CloseReasonUnknown
	event.TriggerType = domain.TriggerTypeReconciliation
	event.Fee = fee
	event.CloseTradeID = tradeID
	if _, err := e.ledger.CreateCloseEvent(ctx, event); err != nil {
		return err
	}
	rep.CloseEvents++
	rep.UnexplainedCloseEvents++

	e.logger.Warn(ctx, "Unexplained close recorded", map[string]interface{}{
		"runID": rep.RunID, "symbol": pos.Symbol, "side": pos.Side, "closePrice": closePrice, "tradeID": tradeID,
	})
	return nil
}

// tradeHistory fetches a contract's fills at most once per orphaned position.
type tradeHistory struct {
	engine   *Engine
	contract string
	fetched  bool
	trades   []ports.ExchangeTrade
	err      error
}

func (h *tradeHistory) get(ctx context.Context) ([]ports.ExchangeTrade, error) {
	if !h.fetched {
		h.trades, h.err = h.engine.exchange.GetMyTrades(ctx, h.contract, h.engine.tradeHistoryLimit)
		h.fetched = true
	}
	return h.trades, h.err
}
