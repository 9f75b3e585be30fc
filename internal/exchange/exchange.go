// Package exchange defines the uniform contract the core trades through,
// consumed by the execution engine and trading mode manager. Concrete
// exchange adapters implement Adapter; the core never imports an adapter
// package directly except at wiring time.
// Grounded on the shape of internal/execution/adapters/binance.go.
package exchange

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/v0-strategy-engine/signal-engine/pkg/types"
)

// Adapter is the exchange contract (spec §6 "Exchange adapter contract").
type Adapter interface {
	Name() string

	GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
	GetHistoricalData(ctx context.Context, symbol string, timeframe types.Timeframe, limit int) ([]types.OHLCV, error)
	PlaceOrder(ctx context.Context, order *types.Order) (*types.Order, error)
	CancelOrder(ctx context.Context, symbol, orderID string) (bool, error)
	GetBalance(ctx context.Context, asset string) (free, locked decimal.Decimal, err error)

	SubscribeTicker(ctx context.Context, symbols []string, callback func(symbol string, price decimal.Decimal)) error
	SubscribeTrades(ctx context.Context, symbols []string, callback func(symbol string, price, quantity decimal.Decimal)) error
	SubscribeOrderBook(ctx context.Context, symbols []string, callback func(symbol string, book *types.OrderBook)) error
}
