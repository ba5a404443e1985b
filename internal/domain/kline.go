package domain

import (
	"math"
	"time"
)

// Kline represents a single closed candlestick for a contract.
type Kline struct {
	OpenTime  time.Time
	CloseTime time.Time
	Contract  string // Exchange contract id (e.g., "BTCUSDT")
	Interval  string // e.g., "1h"
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// Range returns the intrabar high-low range.
func (k *Kline) Range() float64 {
	return k.High - k.Low
}

// TrueRange returns the greatest of the intrabar range and the gaps to the previous close.
func (k *Kline) TrueRange(prevClose float64) float64 {
	return math.Max(k.Range(), math.Max(math.Abs(k.High-prevClose), math.Abs(k.Low-prevClose)))
}
