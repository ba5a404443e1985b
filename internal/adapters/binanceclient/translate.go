package binanceclient

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"riskLedger/internal/domain"
	"riskLedger/internal/ports"

	"github.com/adshao/go-binance/v2/futures"
)

// --- Translation Helpers ---

func parseFloat(field, value string) (float64, error) {
	if value == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing %s '%s': %w", field, value, err)
	}
	return f, nil
}

func translatePositionRisk(pos *futures.PositionRisk) (*ports.ExchangePosition, error) {
	if pos == nil {
		return nil, errors.New("received nil position risk")
	}
	size, err := parseFloat("positionAmt", pos.PositionAmt)
	if err != nil {
		return nil, err
	}
	entry, err := parseFloat("entryPrice", pos.EntryPrice)
	if err != nil {
		return nil, err
	}
	mark, err := parseFloat("markPrice", pos.MarkPrice)
	if err != nil {
		return nil, err
	}
	leverage, _ := strconv.Atoi(pos.Leverage) // Leverage is string in go-binance
	if leverage < 1 {
		leverage = 1
	}

	return &ports.ExchangePosition{
		Contract:   pos.Symbol,
		Size:       size,
		EntryPrice: entry,
		MarkPrice:  mark,
		Leverage:   leverage,
	}, nil
}

// triggerOrderType maps Binance conditional order types onto ledger order types.
// Non-trigger orders report ok=false.
func triggerOrderType(t futures.OrderType) (domain.OrderType, bool) {
	switch t {
	case futures.OrderTypeStopMarket, futures.OrderTypeStop:
		return domain.OrderTypeStopLoss, true
	case futures.OrderTypeTakeProfitMarket, futures.OrderTypeTakeProfit:
		return domain.OrderTypeTakeProfit, true
	default:
		return "", false
	}
}

func translateOrder(o *futures.Order) (*ports.ExchangeOrder, bool, error) {
	if o == nil {
		return nil, false, errors.New("received nil order")
	}
	typ, ok := triggerOrderType(o.Type)
	if !ok {
		return nil, false, nil
	}
	stop, err := parseFloat("stopPrice", o.StopPrice)
	if err != nil {
		return nil, false, err
	}
	qty, err := parseFloat("origQty", o.OrigQuantity)
	if err != nil {
		return nil, false, err
	}
	return &ports.ExchangeOrder{
		ID:           strconv.FormatInt(o.OrderID, 10),
		Contract:     o.Symbol,
		Type:         typ,
		TriggerPrice: stop,
		Quantity:     qty,
		CreatedAt:    time.UnixMilli(o.Time),
	}, true, nil
}

func translateAccountTrade(t *futures.AccountTrade) (*ports.ExchangeTrade, error) {
	if t == nil {
		return nil, errors.New("received nil account trade")
	}
	price, err := parseFloat("price", t.Price)
	if err != nil {
		return nil, err
	}
	qty, err := parseFloat("qty", t.Quantity)
	if err != nil {
		return nil, err
	}
	fee, err := parseFloat("commission", t.Commission)
	if err != nil {
		return nil, err
	}
	if t.Side == futures.SideTypeSell {
		qty = -qty
	}
	return &ports.ExchangeTrade{
		ID:        strconv.FormatInt(t.ID, 10),
		OrderID:   strconv.FormatInt(t.OrderID, 10),
		Contract:  t.Symbol,
		Size:      qty,
		Price:     price,
		Fee:       fee,
		Timestamp: time.UnixMilli(t.Time),
	}, nil
}

func translateBinanceKline(bk *futures.Kline, contract, interval string) (*domain.Kline, error) {
	if bk == nil {
		return nil, errors.New("received nil historical kline")
	}
	open, err := parseFloat("open price", bk.Open)
	if err != nil {
		return nil, err
	}
	high, err := parseFloat("high price", bk.High)
	if err != nil {
		return nil, err
	}
	low, err := parseFloat("low price", bk.Low)
	if err != nil {
		return nil, err
	}
	cls, err := parseFloat("close price", bk.Close)
	if err != nil {
		return nil, err
	}
	vol, err := parseFloat("volume", bk.Volume)
	if err != nil {
		return nil, err
	}

	return &domain.Kline{
		OpenTime:  time.UnixMilli(bk.OpenTime),
		CloseTime: time.UnixMilli(bk.CloseTime),
		Contract:  contract, // Use passed contract as it's not in futures.Kline
		Interval:  interval,
		Open:      open,
		High:      high,
		Low:       low,
		Close:     cls,
		Volume:    vol,
	}, nil
}
