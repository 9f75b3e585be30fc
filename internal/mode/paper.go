package mode

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/v0-strategy-engine/signal-engine/internal/exchange"
	"github.com/v0-strategy-engine/signal-engine/pkg/types"
)

// paperAdapter wraps a live exchange.Adapter, reading real market data but
// synthesizing fills instead of sending orders, for PAPER mode (spec
// §4.10's "no real orders, simulated fills against live prices").
type paperAdapter struct {
	inner exchange.Adapter
}

// NewPaperAdapter builds the exchange.Adapter a PAPER-mode engine should be
// constructed with; it is read-only against inner and never reaches the
// exchange for order placement or cancellation.
func NewPaperAdapter(inner exchange.Adapter) exchange.Adapter {
	return &paperAdapter{inner: inner}
}

func (p *paperAdapter) Name() string { return "paper:" + p.inner.Name() }

func (p *paperAdapter) GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return p.inner.GetPrice(ctx, symbol)
}

func (p *paperAdapter) GetHistoricalData(ctx context.Context, symbol string, tf types.Timeframe, limit int) ([]types.OHLCV, error) {
	return p.inner.GetHistoricalData(ctx, symbol, tf, limit)
}

func (p *paperAdapter) PlaceOrder(ctx context.Context, order *types.Order) (*types.Order, error) {
	price, err := p.inner.GetPrice(ctx, order.Symbol)
	if err != nil {
		return nil, fmt.Errorf("paper fill: %w", err)
	}
	order.ID = fmt.Sprintf("paper-%d", time.Now().UnixNano())
	order.Status = types.OrderStatusFilled
	order.FilledQty = order.Quantity
	order.AvgFillPrice = price
	return order, nil
}

func (p *paperAdapter) CancelOrder(ctx context.Context, symbol, orderID string) (bool, error) {
	return true, nil
}

func (p *paperAdapter) GetBalance(ctx context.Context, asset string) (decimal.Decimal, decimal.Decimal, error) {
	return p.inner.GetBalance(ctx, asset)
}

func (p *paperAdapter) SubscribeTicker(ctx context.Context, symbols []string, cb func(string, decimal.Decimal)) error {
	return p.inner.SubscribeTicker(ctx, symbols, cb)
}

func (p *paperAdapter) SubscribeTrades(ctx context.Context, symbols []string, cb func(string, decimal.Decimal, decimal.Decimal)) error {
	return p.inner.SubscribeTrades(ctx, symbols, cb)
}

func (p *paperAdapter) SubscribeOrderBook(ctx context.Context, symbols []string, cb func(string, *types.OrderBook)) error {
	return p.inner.SubscribeOrderBook(ctx, symbols, cb)
}
