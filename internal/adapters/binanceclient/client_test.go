package binanceclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"riskLedger/internal/domain"
	"riskLedger/internal/ports"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockLogger implements ports.Logger for testing
type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

// fakeExchange serves canned futures API responses and records mutating calls.
type fakeExchange struct {
	mu        sync.Mutex
	positions string
	openOrds  string
	trades    string
	cancelled []string
	created   []string // "TYPE@stopPrice"
}

func (f *fakeExchange) handler(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	params := requestParams(r)
	w.Header().Set("Content-Type", "application/json")

	switch {
	case strings.HasSuffix(r.URL.Path, "/positionRisk"):
		fmt.Fprint(w, f.positions)
	case strings.HasSuffix(r.URL.Path, "/openOrders"):
		fmt.Fprint(w, f.openOrds)
	case strings.HasSuffix(r.URL.Path, "/userTrades"):
		fmt.Fprint(w, f.trades)
	case strings.HasSuffix(r.URL.Path, "/exchangeInfo"):
		fmt.Fprint(w, `{"symbols":[{"symbol":"BTCUSDT","pricePrecision":1},{"symbol":"ETHUSDT","pricePrecision":2}]}`)
	case strings.HasSuffix(r.URL.Path, "/klines"):
		fmt.Fprint(w, `[[1700000000000,"100.0","110.0","95.0","105.0","12.5",1700003599999,"0",10,"0","0","0"],
			[1700003600000,"105.0","108.0","101.0","102.0","8.0",1700007199999,"0",10,"0","0","0"]]`)
	case strings.HasSuffix(r.URL.Path, "/order") && r.Method == http.MethodDelete:
		f.cancelled = append(f.cancelled, params.Get("orderId"))
		fmt.Fprintf(w, `{"orderId":%s,"symbol":"BTCUSDT","status":"CANCELED"}`, params.Get("orderId"))
	case strings.HasSuffix(r.URL.Path, "/order") && r.Method == http.MethodPost:
		f.created = append(f.created, params.Get("type")+"@"+params.Get("stopPrice"))
		fmt.Fprintf(w, `{"orderId":%d,"symbol":"BTCUSDT","status":"NEW"}`, 900+len(f.created))
	default:
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"code":-1121,"msg":"Invalid symbol."}`)
	}
}

// requestParams merges query and body parameters. go-binance sends signed DELETE parameters
// in the body, which http.Request.ParseForm ignores for that method.
func requestParams(r *http.Request) url.Values {
	params := r.URL.Query()
	body, err := io.ReadAll(r.Body)
	if err != nil || len(body) == 0 {
		return params
	}
	form, err := url.ParseQuery(string(body))
	if err != nil {
		return params
	}
	for k, vs := range form {
		for _, v := range vs {
			params.Add(k, v)
		}
	}
	return params
}

func setupClient(t *testing.T, fx *fakeExchange) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(fx.handler))
	t.Cleanup(srv.Close)

	c, err := New(Config{APIKey: "key", SecretKey: "secret", BaseURL: srv.URL, Logger: &mockLogger{}})
	require.NoError(t, err)
	return c
}

func TestClient_GetPositions(t *testing.T) {
	fx := &fakeExchange{positions: `[
		{"symbol":"BTCUSDT","positionAmt":"0.5","entryPrice":"60000","markPrice":"61000","leverage":"10"},
		{"symbol":"ETHUSDT","positionAmt":"-2","entryPrice":"3000","markPrice":"2900","leverage":"5"},
		{"symbol":"SOLUSDT","positionAmt":"0","entryPrice":"0","markPrice":"150","leverage":"20"}]`}
	c := setupClient(t, fx)

	positions, err := c.GetPositions(context.Background())
	require.NoError(t, err)
	require.Len(t, positions, 3)
	assert.Equal(t, ports.ExchangePosition{Contract: "BTCUSDT", Size: 0.5, EntryPrice: 60000, MarkPrice: 61000, Leverage: 10}, positions[0])
	assert.Equal(t, -2.0, positions[1].Size)
	assert.Equal(t, 0.0, positions[2].Size)
}

func TestClient_GetPriceOrdersKeepsOnlyTriggers(t *testing.T) {
	fx := &fakeExchange{openOrds: `[
		{"orderId":11,"symbol":"BTCUSDT","type":"STOP_MARKET","stopPrice":"58000","origQty":"0","time":1700000000000},
		{"orderId":12,"symbol":"BTCUSDT","type":"TAKE_PROFIT_MARKET","stopPrice":"65000","origQty":"0","time":1700000000000},
		{"orderId":13,"symbol":"BTCUSDT","type":"LIMIT","price":"50000","origQty":"1","time":1700000000000}]`}
	c := setupClient(t, fx)

	orders, err := c.GetPriceOrders(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, "11", orders[0].ID)
	assert.Equal(t, domain.OrderTypeStopLoss, orders[0].Type)
	assert.Equal(t, 58000.0, orders[0].TriggerPrice)
	assert.Equal(t, domain.OrderTypeTakeProfit, orders[1].Type)
}

func TestClient_GetMyTradesSignsSize(t *testing.T) {
	fx := &fakeExchange{trades: `[
		{"id":1,"orderId":5,"symbol":"BTCUSDT","side":"BUY","price":"60000","qty":"1","commission":"0.6","time":1700000000000},
		{"id":2,"orderId":11,"symbol":"BTCUSDT","side":"SELL","price":"57950","qty":"1","commission":"0.58","time":1700000300000}]`}
	c := setupClient(t, fx)

	trades, err := c.GetMyTrades(context.Background(), "BTCUSDT", 500)
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, 1.0, trades[0].Size)
	assert.Equal(t, -1.0, trades[1].Size)
	assert.Equal(t, "11", trades[1].OrderID)
	assert.Equal(t, 0.58, trades[1].Fee)
	assert.Equal(t, time.UnixMilli(1700000300000), trades[1].Timestamp)
}

func TestClient_GetKlines(t *testing.T) {
	c := setupClient(t, &fakeExchange{})

	klines, err := c.GetKlines(context.Background(), "BTCUSDT", "1h", 2)
	require.NoError(t, err)
	require.Len(t, klines, 2)
	assert.Equal(t, "BTCUSDT", klines[0].Contract)
	assert.Equal(t, "1h", klines[0].Interval)
	assert.Equal(t, 110.0, klines[0].High)
	assert.Equal(t, 102.0, klines[1].Close)
}

func TestClient_SetPositionStopLoss(t *testing.T) {
	fx := &fakeExchange{
		positions: `[{"symbol":"BTCUSDT","positionAmt":"1","entryPrice":"60000","markPrice":"61000","leverage":"10"}]`,
		openOrds:  `[{"orderId":11,"symbol":"BTCUSDT","type":"STOP_MARKET","stopPrice":"58000","origQty":"0","time":1700000000000}]`,
	}
	c := setupClient(t, fx)
	sl, tp := 59123.456, 65000.0

	res, err := c.SetPositionStopLoss(context.Background(), "BTCUSDT", &sl, &tp)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "901", res.StopLossOrderID)
	assert.Equal(t, "902", res.TakeProfitOrderID)
	assert.Equal(t, []string{"11"}, fx.cancelled)
	assert.Equal(t, []string{"STOP_MARKET@59123.5", "TAKE_PROFIT_MARKET@65000.0"}, fx.created)
}

func TestClient_SetPositionStopLossWithoutPosition(t *testing.T) {
	fx := &fakeExchange{positions: `[{"symbol":"BTCUSDT","positionAmt":"0","entryPrice":"0","markPrice":"61000","leverage":"10"}]`}
	c := setupClient(t, fx)
	sl := 59000.0

	res, err := c.SetPositionStopLoss(context.Background(), "BTCUSDT", &sl, nil)
	assert.ErrorIs(t, err, ports.ErrPositionNotFound)
	require.NotNil(t, res)
	assert.False(t, res.Success)
	assert.Empty(t, fx.created)
}

func TestClient_HandleError(t *testing.T) {
	c := &Client{logger: &mockLogger{}}
	ctx := context.Background()

	tests := []struct {
		name string
		err  error
		want error
	}{
		{"rate limited", &common.APIError{Code: -1003, Message: "Too many requests"}, ports.ErrRateLimited},
		{"order missing", &common.APIError{Code: -2013, Message: "Order does not exist"}, ports.ErrOrderNotFound},
		{"bad key", &common.APIError{Code: -2015, Message: "Invalid API-key"}, ports.ErrInvalidAPIKeys},
		{"timeout", context.DeadlineExceeded, ports.ErrTimeout},
		{"refused", errors.New("dial tcp: connection refused"), ports.ErrConnectionFailed},
		{"refused is unavailable", errors.New("dial tcp: connection refused"), ports.ErrExchangeUnavailable},
		{"dial error", &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("network is unreachable")}, ports.ErrConnectionFailed},
		{"net timeout", &net.DNSError{Err: "i/o timeout", Name: "fapi.binance.com", IsTimeout: true}, ports.ErrTimeout},
		{"other", errors.New("weird"), ports.ErrUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.handleError(ctx, tt.err, "Op")
			assert.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, err, tt.err)
		})
	}
	assert.NoError(t, c.handleError(ctx, nil, "Op"))
}

func TestTriggerOrderType(t *testing.T) {
	typ, ok := triggerOrderType(futures.OrderTypeStopMarket)
	assert.True(t, ok)
	assert.Equal(t, domain.OrderTypeStopLoss, typ)

	typ, ok = triggerOrderType(futures.OrderTypeTakeProfit)
	assert.True(t, ok)
	assert.Equal(t, domain.OrderTypeTakeProfit, typ)

	_, ok = triggerOrderType(futures.OrderTypeLimit)
	assert.False(t, ok)
}
