package broker

import (
	"context"

	"github.com/shopspring/decimal"
)

// OrderRequest asks the brokerage to place one notional order.
type OrderRequest struct {
	Symbol string
	// Side is "BUY" or "SELL".
	Side string
	// NotionalUSD is the dollar amount to trade.
	NotionalUSD decimal.Decimal
}

// OrderResult is the brokerage's answer. Filled=false with an empty Err
// means the order was accepted but not (yet) filled; the execution layer
// treats only Filled orders as succeeded.
type OrderResult struct {
	OrderID   string
	Filled    bool
	FilledUSD decimal.Decimal
	Err       string
}

// Client is the brokerage black box. Order routing, fills and the
// WebSocket stream behind it are out of scope here; the coordination
// layer only needs order IDs, fill status and errors back.
type Client interface {
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
}
