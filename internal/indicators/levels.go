package indicators

import (
	"context"
	"fmt"

	"riskLedger/internal/domain"
	"riskLedger/internal/ports"
)

// swingWidth is the number of bars on each side a swing point must dominate.
const swingWidth = 2

// SupportResistance locates the nearest structural level beyond a reference price.
type SupportResistance struct {
	BaseIndicator
}

// NewSupportResistance creates a level finder over the last lookback klines.
func NewSupportResistance(lookback int) *SupportResistance {
	return &SupportResistance{BaseIndicator{Config: IndicatorConfig{Period: lookback}}}
}

// Name returns the name of the indicator
func (s *SupportResistance) Name() string { return "SupportResistance" }

// window returns the last lookback klines.
func (s *SupportResistance) window(klines []*domain.Kline) ([]*domain.Kline, error) {
	if err := checkData(s.Name(), klines, s.Config.Period); err != nil {
		return nil, err
	}
	return klines[len(klines)-s.Config.Period:], nil
}

// Support returns the highest swing low strictly below price. When no swing low qualifies
// it falls back to the lowest low of the window, if that is below price.
func (s *SupportResistance) Support(ctx context.Context, klines []*domain.Kline, price float64) (float64, bool, error) {
	w, err := s.window(klines)
	if err != nil {
		return 0, false, err
	}

	best, found := 0.0, false
	for i := swingWidth; i < len(w)-swingWidth; i++ {
		if !isSwingLow(w, i) || w[i].Low >= price {
			continue
		}
		if !found || w[i].Low > best {
			best, found = w[i].Low, true
		}
	}
	if found {
		return best, true, nil
	}

	lowest := w[0].Low
	for _, k := range w[1:] {
		if k.Low < lowest {
			lowest = k.Low
		}
	}
	if lowest < price {
		return lowest, true, nil
	}
	return 0, false, nil
}

// Resistance returns the lowest swing high strictly above price, falling back to the
// highest high of the window.
func (s *SupportResistance) Resistance(ctx context.Context, klines []*domain.Kline, price float64) (float64, bool, error) {
	w, err := s.window(klines)
	if err != nil {
		return 0, false, err
	}

	best, found := 0.0, false
	for i := swingWidth; i < len(w)-swingWidth; i++ {
		if !isSwingHigh(w, i) || w[i].High <= price {
			continue
		}
		if !found || w[i].High < best {
			best, found = w[i].High, true
		}
	}
	if found {
		return best, true, nil
	}

	highest := w[0].High
	for _, k := range w[1:] {
		if k.High > highest {
			highest = k.High
		}
	}
	if highest > price {
		return highest, true, nil
	}
	return 0, false, nil
}

// Level returns the support (long) or resistance (short) level beyond price.
func (s *SupportResistance) Level(ctx context.Context, klines []*domain.Kline, price float64, side domain.Side) (float64, bool, error) {
	switch side {
	case domain.SideLong:
		return s.Support(ctx, klines, price)
	case domain.SideShort:
		return s.Resistance(ctx, klines, price)
	default:
		return 0, false, fmt.Errorf("%s: %w: side %q", s.Name(), ports.ErrInvalidRequest, side)
	}
}

func isSwingLow(w []*domain.Kline, i int) bool {
	for j := i - swingWidth; j <= i+swingWidth; j++ {
		if j != i && w[j].Low <= w[i].Low {
			return false
		}
	}
	return true
}

func isSwingHigh(w []*domain.Kline, i int) bool {
	for j := i - swingWidth; j <= i+swingWidth; j++ {
		if j != i && w[j].High >= w[i].High {
			return false
		}
	}
	return true
}
