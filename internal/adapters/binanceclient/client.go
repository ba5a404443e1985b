package binanceclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"

	"riskLedger/internal/domain"
	"riskLedger/internal/ports"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
)

const (
	// Base URLs
	baseURLProduction = "https://fapi.binance.com"
	baseURLTestnet    = "https://testnet.binancefuture.com"
)

var (
	_ ports.ExchangeStateSource = (*Client)(nil)
	_ ports.MarketDataSource    = (*Client)(nil)
)

// Client implements ports.ExchangeStateSource and ports.MarketDataSource for Binance USDⓈ-M futures.
type Client struct {
	futuresClient *futures.Client
	logger        ports.Logger

	mu             sync.RWMutex
	pricePrecision map[string]int // contract -> price decimals, filled lazily from exchange info
}

// Config holds configuration specific to the Binance client adapter.
type Config struct {
	APIKey     string
	SecretKey  string
	UseTestnet bool
	BaseURL    string // Overrides the production/testnet URL when set
	Logger     ports.Logger
}

// New creates a new Binance client adapter.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Binance client")
	}
	if cfg.APIKey == "" || cfg.SecretKey == "" {
		cfg.Logger.Warn(context.Background(), "APIKey or SecretKey is empty. Client will only work for public endpoints.")
	}

	client := futures.NewClient(cfg.APIKey, cfg.SecretKey)

	// Set BaseURL directly instead of using global futures.UseTestnet
	switch {
	case cfg.BaseURL != "":
		client.BaseURL = cfg.BaseURL
	case cfg.UseTestnet:
		client.BaseURL = baseURLTestnet
	default:
		client.BaseURL = baseURLProduction
	}
	cfg.Logger.Info(context.Background(), "Binance client configured", map[string]interface{}{
		"baseURL": client.BaseURL, "testnet": cfg.UseTestnet,
	})

	return &Client{
		futuresClient:  client,
		logger:         cfg.Logger,
		pricePrecision: make(map[string]int),
	}, nil
}

// handleError translates common Binance API errors into standardized ports errors.
func (c *Client) handleError(ctx context.Context, err error, operation string) error {
	if err == nil {
		return nil
	}

	fields := map[string]interface{}{"operation": operation, "originalError": err.Error()}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		fields["apiErrorCode"] = apiErr.Code
		fields["apiErrorMessage"] = apiErr.Message

		finalErr := fmt.Errorf("%s failed: %w: %w", operation, mapAPIError(apiErr.Code), err)
		c.logger.Error(ctx, err, fmt.Sprintf("%s failed with API error", operation), fields)
		return finalErr
	}

	// Handle non-API errors (network, context cancellation, etc.)
	var finalErr error
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrTimeout, err)
	} else if errors.Is(err, context.Canceled) {
		finalErr = fmt.Errorf("%s operation canceled: %w: %w", operation, ports.ErrContextCanceled, err)
	} else if netErr != nil || isTransportFailure(err) {
		// Transport failure: no response from the exchange.
		finalErr = fmt.Errorf("%s failed: %w: %w: %w", operation, ports.ErrConnectionFailed, ports.ErrExchangeUnavailable, err)
	} else {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrUnknown, err)
	}

	c.logger.Error(ctx, err, fmt.Sprintf("%s failed", operation), fields)
	return finalErr
}

func isTransportFailure(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "use of closed network connection") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset by peer") ||
		strings.Contains(msg, "no such host")
}

// mapAPIError maps Binance error codes to ports errors.
func mapAPIError(code int64) error {
	switch code {
	case -1001, -1007, -1016: // Disconnected, backend timeout, service shutting down
		return ports.ErrExchangeUnavailable
	case -1003: // Too many requests
		return ports.ErrRateLimited
	case -1021: // Timestamp for this request is outside of the recvWindow
		return ports.ErrTimeout
	case -1022: // Signature for this request is not valid
		return ports.ErrAuthenticationFailed
	case -1101, -1102, -1103, -1104, -1105, -1106, -1111, -1115, -1116, -1117, -1120, -1121, -1125, -1127, -1128, -1130:
		return ports.ErrInvalidRequest
	case -2010, -2019, -2021, -2022: // New order rejected, margin insufficient, would trigger immediately, reduce-only rejected
		return ports.ErrOrderPlacementFailed
	case -2011: // Cancel order rejected
		return ports.ErrOrderCancelFailed
	case -2013: // Order does not exist
		return ports.ErrOrderNotFound
	case -2014, -2015: // API-key format invalid / invalid key, IP or permissions
		return ports.ErrInvalidAPIKeys
	case -4003, -4014, -4015: // Qty, price or leverage out of range
		return ports.ErrInvalidRequest
	case -4044: // Position not found
		return ports.ErrPositionNotFound
	default:
		return ports.ErrUnknown
	}
}

// Ping checks the connectivity to the exchange API.
func (c *Client) Ping(ctx context.Context) error {
	op := "Ping"
	if err := c.futuresClient.NewPingService().Do(ctx); err != nil {
		return c.handleError(ctx, err, op)
	}
	c.logger.Debug(ctx, op+" successful")
	return nil
}

// GetPositions retrieves every position of the account, zero-size entries included.
func (c *Client) GetPositions(ctx context.Context) ([]ports.ExchangePosition, error) {
	op := "GetPositions"
	risks, err := c.futuresClient.NewGetPositionRiskService().Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	positions := make([]ports.ExchangePosition, 0, len(risks))
	for _, r := range risks {
		pos, err := translatePositionRisk(r)
		if err != nil {
			return nil, c.handleError(ctx, err, op)
		}
		positions = append(positions, *pos)
	}
	c.logger.Debug(ctx, op+" successful", map[string]interface{}{"count": len(positions)})
	return positions, nil
}

// getPosition returns the non-zero position on contract, or nil when flat.
func (c *Client) getPosition(ctx context.Context, contract string) (*ports.ExchangePosition, error) {
	op := "GetPosition"
	risks, err := c.futuresClient.NewGetPositionRiskService().Symbol(contract).Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	for _, r := range risks {
		pos, err := translatePositionRisk(r)
		if err != nil {
			return nil, c.handleError(ctx, err, op)
		}
		if pos.Size != 0 {
			return pos, nil
		}
	}
	return nil, nil
}

// GetPriceOrders retrieves the active trigger (stop/take-profit) orders on contract.
func (c *Client) GetPriceOrders(ctx context.Context, contract string) ([]ports.ExchangeOrder, error) {
	op := "GetPriceOrders"
	open, err := c.futuresClient.NewListOpenOrdersService().Symbol(contract).Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	orders := make([]ports.ExchangeOrder, 0, len(open))
	for _, o := range open {
		eo, ok, err := translateOrder(o)
		if err != nil {
			return nil, c.handleError(ctx, err, op)
		}
		if ok {
			orders = append(orders, *eo)
		}
	}
	return orders, nil
}

// GetMyTrades retrieves up to limit recent account fills on contract, oldest first.
func (c *Client) GetMyTrades(ctx context.Context, contract string, limit int) ([]ports.ExchangeTrade, error) {
	op := "GetMyTrades"
	svc := c.futuresClient.NewListAccountTradeService().Symbol(contract)
	if limit > 0 {
		svc = svc.Limit(limit)
	}
	fills, err := svc.Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	trades := make([]ports.ExchangeTrade, 0, len(fills))
	for _, f := range fills {
		t, err := translateAccountTrade(f)
		if err != nil {
			return nil, c.handleError(ctx, err, op)
		}
		trades = append(trades, *t)
	}
	return trades, nil
}

// GetKlines retrieves historical klines/candlestick data for the given contract.
func (c *Client) GetKlines(ctx context.Context, contract string, interval string, limit int) ([]*domain.Kline, error) {
	op := "GetKlines"
	binanceKlines, err := c.futuresClient.NewKlinesService().Symbol(contract).Interval(interval).Limit(limit).Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	domainKlines := make([]*domain.Kline, 0, len(binanceKlines))
	for _, bk := range binanceKlines {
		dk, err := translateBinanceKline(bk, contract, interval)
		if err != nil {
			return nil, c.handleError(ctx, fmt.Errorf("failed to translate historical kline: %w", err), op)
		}
		domainKlines = append(domainKlines, dk)
	}
	return domainKlines, nil
}

// CancelOrder cancels an open order on Binance.
func (c *Client) CancelOrder(ctx context.Context, contract string, orderID string) error {
	op := "CancelOrder"
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return fmt.Errorf("%s failed: %w: order id %q", op, ports.ErrInvalidRequest, orderID)
	}
	c.logger.Debug(ctx, "Attempting to cancel order", map[string]interface{}{"contract": contract, "orderID": orderID})

	res, err := c.futuresClient.NewCancelOrderService().Symbol(contract).OrderID(id).Do(ctx)
	if err != nil {
		return c.handleError(ctx, err, op)
	}
	c.logger.Info(ctx, op+" successful", map[string]interface{}{"contract": contract, "orderID": orderID, "status": res.Status})
	return nil
}

// getPricePrecision returns the number of price decimals for contract, caching exchange info.
func (c *Client) getPricePrecision(ctx context.Context, contract string) (int, error) {
	c.mu.RLock()
	p, ok := c.pricePrecision[contract]
	c.mu.RUnlock()
	if ok {
		return p, nil
	}

	info, err := c.futuresClient.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return 0, c.handleError(ctx, err, "GetExchangeInfo")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range info.Symbols {
		c.pricePrecision[s.Symbol] = s.PricePrecision
	}
	p, ok = c.pricePrecision[contract]
	if !ok {
		return 0, fmt.Errorf("GetExchangeInfo failed: %w: unknown contract %s", ports.ErrInvalidRequest, contract)
	}
	return p, nil
}
