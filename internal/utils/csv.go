package utils

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"riskLedger/internal/domain"
)

var klineHeader = []string{"open_time", "close_time", "contract", "interval", "open", "high", "low", "close", "volume", "true_range"}

// WriteKlinesCSV writes klines (oldest first) with their true range, the input of the ATR stop.
// The first row's true range is its plain high-low range.
func WriteKlinesCSV(w io.Writer, klines []*domain.Kline) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(klineHeader); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	for i, k := range klines {
		tr := k.Range()
		if i > 0 {
			tr = k.TrueRange(klines[i-1].Close)
		}
		row := []string{
			k.OpenTime.UTC().Format(time.RFC3339),
			k.CloseTime.UTC().Format(time.RFC3339),
			k.Contract,
			k.Interval,
			formatFloat(k.Open),
			formatFloat(k.High),
			formatFloat(k.Low),
			formatFloat(k.Close),
			formatFloat(k.Volume),
			formatFloat(tr),
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("write kline %d: %w", i, err)
		}
	}
	writer.Flush()
	return writer.Error()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
