package reconcile

import (
	"time"

	"riskLedger/internal/domain"
	"riskLedger/internal/ports"
)

// closes reports whether a fill of the given signed size reduces a position on side.
// Longs are closed by sells (negative size), shorts by buys (positive size).
func closes(size float64, side domain.Side) bool {
	if side == domain.SideLong {
		return size < 0
	}
	return size > 0
}

// closingTrade selects the earliest fill strictly after since whose direction closes side.
// Trades with equal timestamps keep their history order.
func closingTrade(trades []ports.ExchangeTrade, since time.Time, side domain.Side) (ports.ExchangeTrade, bool) {
	var best ports.ExchangeTrade
	found := false
	for _, t := range trades {
		if !t.Timestamp.After(since) || !closes(t.Size, side) {
			continue
		}
		if !found || t.Timestamp.Before(best.Timestamp) {
			best, found = t, true
		}
	}
	return best, found
}

// latestClosingTrade returns the most recent fill in the closing direction, regardless of time.
func latestClosingTrade(trades []ports.ExchangeTrade, side domain.Side) (ports.ExchangeTrade, bool) {
	var best ports.ExchangeTrade
	found := false
	for _, t := range trades {
		if !closes(t.Size, side) {
			continue
		}
		if !found || !t.Timestamp.Before(best.Timestamp) {
			best, found = t, true
		}
	}
	return best, found
}

// pnlPercent is the leveraged return on margin: price change percent times leverage.
func pnlPercent(entry, exit float64, leverage int, side domain.Side) float64 {
	if entry == 0 {
		return 0
	}
	change := (exit - entry) / entry
	if side == domain.SideShort {
		change = (entry - exit) / entry
	}
	if leverage < 1 {
		leverage = 1
	}
	return change * 100 * float64(leverage)
}

// estimatedTradeID is the close trade id recorded when no fill confirms a fired order.
func estimatedTradeID(orderID string) string {
	return "estimated_" + orderID
}
