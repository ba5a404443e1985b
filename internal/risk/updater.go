package risk

import (
	"context"
	"fmt"
	"math"
	"time"

	"riskLedger/internal/domain"
	"riskLedger/internal/ports"
)

// ProtectionStore is the ledger surface the updater needs.
type ProtectionStore interface {
	FindPosition(ctx context.Context, symbol string, side domain.Side) (*domain.Position, error)
	ports.ProtectionRepository
}

// UpdateResult reports what was placed on the exchange.
type UpdateResult struct {
	Symbol            string
	Side              domain.Side
	StopLoss          *float64
	TakeProfit        *float64
	StopLossOrderID   string
	TakeProfitOrderID string
	LedgerUpdated     bool // False when the exchange changed but the ledger write failed
	Message           string
}

// Updater replaces the protective orders of a live position.
//
// The exchange is mutated first and is authoritative. The ledger write that follows is
// best-effort: its failure is logged and left for the reconciliation pass to repair.
type Updater struct {
	exchange ports.ExchangeStateSource
	store    ProtectionStore
	logger   ports.Logger
	now      func() time.Time
}

// UpdaterConfig holds the dependencies of an Updater.
type UpdaterConfig struct {
	Exchange ports.ExchangeStateSource
	Store    ProtectionStore
	Logger   ports.Logger
	Now      func() time.Time // Defaults to time.Now
}

// NewUpdater creates a new protective-order updater.
func NewUpdater(cfg UpdaterConfig) (*Updater, error) {
	if cfg.Exchange == nil || cfg.Store == nil || cfg.Logger == nil {
		return nil, fmt.Errorf("exchange, store and logger are required")
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Updater{exchange: cfg.Exchange, store: cfg.Store, logger: cfg.Logger, now: now}, nil
}

// UpdatePositionStopLoss sets new stop-loss/take-profit levels on symbol's live position.
// A nil takeProfit keeps the profit target recorded in the ledger.
func (u *Updater) UpdatePositionStopLoss(ctx context.Context, symbol string, stopLoss, takeProfit *float64) (*UpdateResult, error) {
	op := "UpdatePositionStopLoss"
	contract := u.exchange.NormalizeContract(symbol)

	positions, err := u.exchange.GetPositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w", op, err)
	}
	var live *ports.ExchangePosition
	for i := range positions {
		if positions[i].Size != 0 && u.exchange.ExtractSymbol(positions[i].Contract) == symbol {
			live = &positions[i]
			break
		}
	}
	if live == nil {
		return nil, fmt.Errorf("%s failed: %w: no open position for %s", op, ports.ErrPositionNotFound, symbol)
	}
	side := domain.SideFromSize(live.Size)

	if takeProfit == nil {
		pos, err := u.store.FindPosition(ctx, symbol, side)
		if err != nil {
			u.logger.Warn(ctx, op+": could not read existing profit target", map[string]interface{}{"symbol": symbol, "error": err.Error()})
		} else if pos != nil && pos.ProfitTarget != nil {
			tp := *pos.ProfitTarget
			takeProfit = &tp
			u.logger.Info(ctx, op+": keeping existing profit target", map[string]interface{}{"symbol": symbol, "takeProfit": tp})
		}
	}

	placed, err := u.exchange.SetPositionStopLoss(ctx, contract, stopLoss, takeProfit)
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w", op, err)
	}
	if placed == nil || !placed.Success {
		msg := "exchange rejected the protective orders"
		if placed != nil && placed.Message != "" {
			msg = placed.Message
		}
		return nil, fmt.Errorf("%s failed: %w: %s", op, ports.ErrOrderPlacementFailed, msg)
	}

	res := &UpdateResult{
		Symbol:            symbol,
		Side:              side,
		StopLoss:          stopLoss,
		TakeProfit:        takeProfit,
		StopLossOrderID:   placed.StopLossOrderID,
		TakeProfitOrderID: placed.TakeProfitOrderID,
		Message:           placed.Message,
	}

	err = u.store.ReplaceProtection(ctx, ports.ProtectionUpdate{
		Symbol:            symbol,
		Side:              side,
		Quantity:          math.Abs(live.Size),
		StopLoss:          stopLoss,
		TakeProfit:        takeProfit,
		StopLossOrderID:   placed.StopLossOrderID,
		TakeProfitOrderID: placed.TakeProfitOrderID,
		At:                u.now().UTC(),
	})
	if err != nil {
		u.logger.Error(ctx, err, op+": ledger update failed after exchange update; reconciliation will repair", map[string]interface{}{
			"symbol": symbol, "side": side, "slOrderID": placed.StopLossOrderID, "tpOrderID": placed.TakeProfitOrderID,
		})
		return res, nil
	}

	res.LedgerUpdated = true
	u.logger.Info(ctx, op+" successful", map[string]interface{}{
		"symbol": symbol, "side": side, "slOrderID": placed.StopLossOrderID, "tpOrderID": placed.TakeProfitOrderID,
	})
	return res, nil
}
