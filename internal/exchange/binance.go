package exchange

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/v0-strategy-engine/signal-engine/internal/execution/adapters"
	"github.com/v0-strategy-engine/signal-engine/pkg/types"
)

// binanceAdapter reconciles adapters.BinanceAdapter's native signatures with
// the uniform Adapter contract: CancelOrder takes symbol and orderID
// separately here and composes Binance's "SYMBOL:ORDERID" format internally,
// and GetBalance surfaces both free and locked amounts instead of free only.
type binanceAdapter struct {
	inner *adapters.BinanceAdapter
}

// NewBinanceAdapter wraps a configured BinanceAdapter to satisfy Adapter.
func NewBinanceAdapter(inner *adapters.BinanceAdapter) Adapter {
	return &binanceAdapter{inner: inner}
}

func (b *binanceAdapter) Name() string { return "binance" }

func (b *binanceAdapter) GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return b.inner.GetPrice(ctx, symbol)
}

func (b *binanceAdapter) GetHistoricalData(ctx context.Context, symbol string, timeframe types.Timeframe, limit int) ([]types.OHLCV, error) {
	return b.inner.GetHistoricalData(ctx, symbol, timeframe, limit)
}

func (b *binanceAdapter) PlaceOrder(ctx context.Context, order *types.Order) (*types.Order, error) {
	return b.inner.PlaceOrder(ctx, order)
}

func (b *binanceAdapter) CancelOrder(ctx context.Context, symbol, orderID string) (bool, error) {
	err := b.inner.CancelOrder(ctx, fmt.Sprintf("%s:%s", symbol, orderID))
	if err != nil {
		return false, err
	}
	return true, nil
}

func (b *binanceAdapter) GetBalance(ctx context.Context, asset string) (free, locked decimal.Decimal, err error) {
	account, err := b.inner.GetAccount(ctx)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	for _, balance := range account.Balances {
		if balance.Asset == asset {
			return balance.Free, balance.Locked, nil
		}
	}
	return decimal.Zero, decimal.Zero, nil
}

func (b *binanceAdapter) SubscribeTicker(ctx context.Context, symbols []string, callback func(symbol string, price decimal.Decimal)) error {
	return b.inner.SubscribeToTicker(ctx, symbols, func(ticker *adapters.BinanceTicker) {
		callback(ticker.Symbol, ticker.LastPrice)
	})
}

func (b *binanceAdapter) SubscribeTrades(ctx context.Context, symbols []string, callback func(symbol string, price, quantity decimal.Decimal)) error {
	return b.inner.SubscribeToTrades(ctx, symbols, func(trade *adapters.BinanceTrade) {
		callback(trade.Symbol, trade.Price, trade.Quantity)
	})
}

func (b *binanceAdapter) SubscribeOrderBook(ctx context.Context, symbols []string, callback func(symbol string, book *types.OrderBook)) error {
	return b.inner.SubscribeToOrderBook(ctx, symbols, 20, callback)
}
