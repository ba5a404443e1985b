package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"riskLedger/config"
	"riskLedger/internal/domain"
	"riskLedger/internal/ports"
	"riskLedger/internal/reconcile"
	"riskLedger/internal/risk"
)

const (
	closeEventBatchSize = 100 // Close events drained per pass
)

// Ledger is the part of the ledger the guard service reads directly.
type Ledger interface {
	Ping(ctx context.Context) error
	FindAllPositions(ctx context.Context) ([]*domain.Position, error)
	FindUnprocessedCloseEvents(ctx context.Context, limit int) ([]*domain.CloseEvent, error)
	MarkCloseEventProcessed(ctx context.Context, id int64) error
}

// PositionSource lists live exchange positions.
type PositionSource interface {
	GetPositions(ctx context.Context) ([]ports.ExchangePosition, error)
	ExtractSymbol(contract string) string
}

// Reconciler runs one reconciliation pass.
type Reconciler interface {
	Run(ctx context.Context) (*reconcile.Report, error)
}

// TrailingEvaluator proposes trailing stop moves.
type TrailingEvaluator interface {
	Evaluate(ctx context.Context, req risk.TrailingRequest) (*risk.TrailingDecision, error)
}

// StopLossUpdater replaces the protective orders of a live position.
type StopLossUpdater interface {
	UpdatePositionStopLoss(ctx context.Context, symbol string, stopLoss, takeProfit *float64) (*risk.UpdateResult, error)
}

// GuardService keeps the ledger consistent with the exchange and trails open stops.
type GuardService struct {
	cfg        *config.Config
	logger     ports.Logger
	exchange   PositionSource
	ledger     Ledger
	reconciler Reconciler
	trailing   TrailingEvaluator // Nil when trailing is disabled
	updater    StopLossUpdater   // Nil when trailing is disabled

	mu         sync.Mutex // Serializes reconciliation passes and trailing cycles
	lastReport *reconcile.Report
}

// NewGuardService creates a new guard service instance.
func NewGuardService(
	cfg *config.Config,
	logger ports.Logger,
	exchange PositionSource,
	ledger Ledger,
	reconciler Reconciler,
	trailing TrailingEvaluator,
	updater StopLossUpdater,
) (*GuardService, error) {

	// Validate dependencies
	if cfg == nil || logger == nil || exchange == nil || ledger == nil || reconciler == nil {
		return nil, fmt.Errorf("missing required dependencies for GuardService")
	}
	if cfg.ReconcileInterval <= 0 {
		return nil, fmt.Errorf("configuration ReconcileInterval must be positive")
	}
	if cfg.Risk.EnableTrailingStopLoss {
		if trailing == nil || updater == nil {
			return nil, fmt.Errorf("trailing stop-loss is enabled but no evaluator or updater was supplied")
		}
		if cfg.TrailingCheckInterval <= 0 {
			return nil, fmt.Errorf("configuration TrailingCheckInterval must be positive")
		}
	}

	return &GuardService{
		cfg:        cfg,
		logger:     logger,
		exchange:   exchange,
		ledger:     ledger,
		reconciler: reconciler,
		trailing:   trailing,
		updater:    updater,
	}, nil
}

// Start runs the guard loop until the context is canceled or a shutdown signal arrives.
func (s *GuardService) Start(ctx context.Context) error {
	s.logger.Info(ctx, "Starting Guard Service...")

	// Create a context that can be canceled by signals
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Handle graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			s.logger.Info(ctx, "Received shutdown signal", map[string]interface{}{"signal": sig.String()})
			cancel() // Cancel the main context
		case <-ctx.Done():
		}
	}()

	if err := s.ledger.Ping(ctx); err != nil {
		s.logger.Error(ctx, err, "Ledger is unreachable")
		return fmt.Errorf("failed to reach ledger: %w", err)
	}

	// Repair any drift left by a previous run before trailing anything.
	if _, err := s.RunReconcile(ctx); err != nil {
		s.logger.Error(ctx, err, "Initial reconciliation failed, retrying on the next tick")
	}

	reconcileTicker := time.NewTicker(s.cfg.ReconcileInterval)
	defer reconcileTicker.Stop()

	var trailingC <-chan time.Time
	if s.cfg.Risk.EnableTrailingStopLoss {
		trailingTicker := time.NewTicker(s.cfg.TrailingCheckInterval)
		defer trailingTicker.Stop()
		trailingC = trailingTicker.C
		s.logger.Info(ctx, "Trailing stop-loss maintenance enabled", map[string]interface{}{
			"interval": s.cfg.TrailingCheckInterval.String(),
		})
	}

	s.logger.Info(ctx, "Guard Service running", map[string]interface{}{"reconcileInterval": s.cfg.ReconcileInterval.String()})
	for {
		select {
		case <-ctx.Done():
			s.logger.Info(ctx, "Guard Service stopped.")
			return nil
		case <-reconcileTicker.C:
			if _, err := s.RunReconcile(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error(ctx, err, "Reconciliation pass failed")
			}
		case <-trailingC:
			if err := s.RunTrailingCycle(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error(ctx, err, "Trailing stop cycle failed")
			}
		}
	}
}

// RunReconcile runs one reconciliation pass and drains the close events it produced.
func (s *GuardService) RunReconcile(ctx context.Context) (*reconcile.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reconcileLocked(ctx)
}

// LastReport returns the report of the most recent reconciliation pass, if any.
func (s *GuardService) LastReport() *reconcile.Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastReport
}

// reconcileLocked assumes s.mu is held.
func (s *GuardService) reconcileLocked(ctx context.Context) (*reconcile.Report, error) {
	report, err := s.reconciler.Run(ctx)
	if report != nil {
		s.lastReport = report
	}
	if err != nil {
		return report, err
	}
	if err := s.drainCloseEvents(ctx); err != nil {
		return report, err
	}
	return report, nil
}

// drainCloseEvents hands unprocessed close events to the log and marks them consumed.
func (s *GuardService) drainCloseEvents(ctx context.Context) error {
	op := "drainCloseEvents"
	events, err := s.ledger.FindUnprocessedCloseEvents(ctx, closeEventBatchSize)
	if err != nil {
		return fmt.Errorf("%s failed: %w", op, err)
	}
	for _, ev := range events {
		s.logger.Info(ctx, "Position closed", map[string]interface{}{
			"eventID":      ev.ID,
			"symbol":       ev.Symbol,
			"side":         ev.Side,
			"reason":       ev.CloseReason,
			"triggerType":  ev.TriggerType,
			"entryPrice":   ev.EntryPrice,
			"closePrice":   ev.ClosePrice,
			"quantity":     ev.Quantity,
			"pnl":          ev.PNL,
			"pnlPercent":   ev.PNLPercent,
			"closeTradeID": ev.CloseTradeID,
		})
		if err := s.ledger.MarkCloseEventProcessed(ctx, ev.ID); err != nil {
			return fmt.Errorf("%s failed: %w", op, err)
		}
	}
	return nil
}

// RunTrailingCycle tightens the stop of every protected position that still exists on the exchange.
// Stale ledger positions (missing on the exchange) are reconciled first, so their fired trigger
// orders become close events before any protection on the same symbol is replaced.
func (s *GuardService) RunTrailingCycle(ctx context.Context) error {
	op := "RunTrailingCycle"
	if s.trailing == nil || s.updater == nil {
		return fmt.Errorf("%s failed: %w: trailing stop-loss is disabled", op, ports.ErrConfigurationError)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	positions, err := s.ledger.FindAllPositions(ctx)
	if err != nil {
		return fmt.Errorf("%s failed: %w", op, err)
	}
	if len(positions) == 0 {
		return nil
	}

	live, err := s.exchange.GetPositions(ctx)
	if err != nil {
		return fmt.Errorf("%s failed: %w", op, err)
	}
	index := make(map[domain.PositionKey]ports.ExchangePosition, len(live))
	for _, p := range live {
		if p.Size != 0 {
			index[domain.PositionKey{Symbol: s.exchange.ExtractSymbol(p.Contract), Side: domain.SideFromSize(p.Size)}] = p
		}
	}

	if stale := countStale(positions, index); stale > 0 {
		s.logger.Warn(ctx, op+": stale ledger positions found, reconciling before trailing", map[string]interface{}{"stale": stale})
		if _, err := s.reconcileLocked(ctx); err != nil {
			return fmt.Errorf("%s failed: %w", op, err)
		}
		if positions, err = s.ledger.FindAllPositions(ctx); err != nil {
			return fmt.Errorf("%s failed: %w", op, err)
		}
	}

	for _, pos := range positions {
		ex, ok := index[pos.Key()]
		if !ok || pos.StopLoss == nil || ex.MarkPrice <= 0 {
			continue
		}
		s.trailPosition(ctx, pos, ex.MarkPrice)
	}
	return nil
}

func countStale(positions []*domain.Position, live map[domain.PositionKey]ports.ExchangePosition) int {
	n := 0
	for _, pos := range positions {
		if _, ok := live[pos.Key()]; !ok {
			n++
		}
	}
	return n
}

// trailPosition evaluates and applies one trailing move. Failures are per-position and only logged.
func (s *GuardService) trailPosition(ctx context.Context, pos *domain.Position, markPrice float64) {
	fields := map[string]interface{}{"symbol": pos.Symbol, "side": pos.Side, "markPrice": markPrice, "currentStop": *pos.StopLoss}

	d, err := s.trailing.Evaluate(ctx, risk.TrailingRequest{
		Symbol:          pos.Symbol,
		Side:            pos.Side,
		EntryPrice:      pos.EntryPrice,
		CurrentPrice:    markPrice,
		CurrentStopLoss: *pos.StopLoss,
		Timeframe:       s.cfg.DefaultTimeframe,
	})
	if err != nil {
		s.logger.Warn(ctx, "Trailing evaluation failed", mergeFields(fields, map[string]interface{}{"error": err.Error()}))
		return
	}
	if !d.ShouldUpdate {
		s.logger.Debug(ctx, "Trailing stop unchanged", mergeFields(fields, map[string]interface{}{"reason": d.Reason}))
		return
	}

	res, err := s.updater.UpdatePositionStopLoss(ctx, pos.Symbol, d.NewStopLoss, pos.ProfitTarget)
	if err != nil {
		s.logger.Error(ctx, err, "Failed to move trailing stop", mergeFields(fields, map[string]interface{}{"newStop": *d.NewStopLoss}))
		return
	}
	s.logger.Info(ctx, "Trailing stop moved", mergeFields(fields, map[string]interface{}{
		"newStop": *d.NewStopLoss, "slOrderID": res.StopLossOrderID, "ledgerUpdated": res.LedgerUpdated,
	}))
}

func mergeFields(base, extra map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}
