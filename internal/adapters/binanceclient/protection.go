package binanceclient

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"riskLedger/internal/domain"
	"riskLedger/internal/ports"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SetPositionStopLoss replaces the protective orders of the live position on contract.
// Existing stop/take-profit orders are cancelled first; new close-position orders are placed
// for each non-nil level. On a partial failure the result carries the ids already placed.
func (c *Client) SetPositionStopLoss(ctx context.Context, contract string, stopLoss, takeProfit *float64) (*ports.ProtectionResult, error) {
	op := "SetPositionStopLoss"

	pos, err := c.getPosition(ctx, contract)
	if err != nil {
		return nil, err
	}
	if pos == nil {
		return &ports.ProtectionResult{Message: "no open position on " + contract},
			fmt.Errorf("%s failed: %w: %s", op, ports.ErrPositionNotFound, contract)
	}
	side := domain.SideFromSize(pos.Size)

	if err := c.cancelProtectiveOrders(ctx, contract); err != nil {
		return &ports.ProtectionResult{Message: "failed to cancel existing protective orders"}, err
	}

	precision, err := c.getPricePrecision(ctx, contract)
	if err != nil {
		return &ports.ProtectionResult{Message: "failed to resolve price precision"}, err
	}

	result := &ports.ProtectionResult{}
	if stopLoss != nil {
		id, err := c.placeCloseOrder(ctx, contract, side, futures.OrderTypeStopMarket, *stopLoss, precision, "sl")
		if err != nil {
			result.Message = "stop-loss placement failed"
			return result, err
		}
		result.StopLossOrderID = id
	}
	if takeProfit != nil {
		id, err := c.placeCloseOrder(ctx, contract, side, futures.OrderTypeTakeProfitMarket, *takeProfit, precision, "tp")
		if err != nil {
			result.Message = "take-profit placement failed"
			return result, err
		}
		result.TakeProfitOrderID = id
	}

	result.Success = true
	result.Message = "protective orders updated"
	c.logger.Info(ctx, op+" successful", map[string]interface{}{
		"contract": contract, "side": side, "slOrderID": result.StopLossOrderID, "tpOrderID": result.TakeProfitOrderID,
	})
	return result, nil
}

// cancelProtectiveOrders cancels every resting stop/take-profit order on contract.
func (c *Client) cancelProtectiveOrders(ctx context.Context, contract string) error {
	orders, err := c.GetPriceOrders(ctx, contract)
	if err != nil {
		return err
	}
	for _, o := range orders {
		if err := c.CancelOrder(ctx, contract, o.ID); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) placeCloseOrder(ctx context.Context, contract string, side domain.Side, typ futures.OrderType,
	price float64, precision int, prefix string) (string, error) {
	op := "Place" + string(typ)

	// Closing a long sells, closing a short buys.
	orderSide := futures.SideTypeSell
	if side == domain.SideShort {
		orderSide = futures.SideTypeBuy
	}
	stopPrice := formatPrice(price, precision)

	order, err := c.futuresClient.NewCreateOrderService().
		Symbol(contract).
		Side(orderSide).
		Type(typ).
		StopPrice(stopPrice).
		ClosePosition(true).
		WorkingType(futures.WorkingTypeMarkPrice).
		NewClientOrderID(newClientOrderID(prefix)).
		Do(ctx)
	if err != nil {
		return "", c.handleError(ctx, err, op)
	}

	id := strconv.FormatInt(order.OrderID, 10)
	c.logger.Info(ctx, op+" successful", map[string]interface{}{
		"contract": contract, "side": orderSide, "stopPrice": stopPrice, "orderID": id,
	})
	return id, nil
}

// formatPrice rounds price to the contract's tick precision.
func formatPrice(price float64, precision int) string {
	return decimal.NewFromFloat(price).Round(int32(precision)).StringFixed(int32(precision))
}

// newClientOrderID builds a Binance-compatible client order id (max 36 chars).
func newClientOrderID(prefix string) string {
	return prefix + "-" + strings.ReplaceAll(uuid.NewString(), "-", "")
}
