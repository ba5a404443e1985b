package binanceclient

import (
	"strings"

	"riskLedger/internal/domain"

	"github.com/shopspring/decimal"
)

// quoteAssets are the settlement assets recognised when splitting a contract id.
var quoteAssets = []string{"USDT", "USDC", "BUSD"}

// NormalizeContract converts a ledger symbol ("BTC_USDT", "btc/usdt", "BTC") into a Binance contract id.
func (c *Client) NormalizeContract(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	s = strings.NewReplacer("_", "", "/", "", "-", "").Replace(s)
	for _, q := range quoteAssets {
		if strings.HasSuffix(s, q) && len(s) > len(q) {
			return s
		}
	}
	return s + "USDT"
}

// ExtractSymbol converts a contract id ("BTCUSDT") back into a ledger symbol ("BTC_USDT").
func (c *Client) ExtractSymbol(contract string) string {
	s := strings.ToUpper(strings.TrimSpace(contract))
	if strings.Contains(s, "_") {
		return s
	}
	for _, q := range quoteAssets {
		if strings.HasSuffix(s, q) && len(s) > len(q) {
			return strings.TrimSuffix(s, q) + "_" + q
		}
	}
	return s
}

// CalculatePnl returns the realized PnL of a linear USDⓈ-M contract in quote currency.
// Binance linear contracts have a multiplier of 1, so contract is unused.
func (c *Client) CalculatePnl(entryPrice, closePrice, quantity float64, side domain.Side, contract string) float64 {
	entry := decimal.NewFromFloat(entryPrice)
	exit := decimal.NewFromFloat(closePrice)
	qty := decimal.NewFromFloat(quantity).Abs()

	diff := exit.Sub(entry)
	if side == domain.SideShort {
		diff = diff.Neg()
	}
	pnl, _ := diff.Mul(qty).Round(8).Float64()
	return pnl
}
