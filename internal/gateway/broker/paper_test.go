package broker

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaperFillsAtNotional(t *testing.T) {
	p := NewPaper()
	res, err := p.PlaceOrder(context.Background(), OrderRequest{
		Symbol:      "AAPL",
		Side:        "BUY",
		NotionalUSD: decimal.NewFromInt(250),
	})
	require.NoError(t, err)
	assert.True(t, res.Filled)
	assert.True(t, res.FilledUSD.Equal(decimal.NewFromInt(250)))
	assert.NotEmpty(t, res.OrderID)

	other, err := p.PlaceOrder(context.Background(), OrderRequest{Symbol: "MSFT", Side: "SELL", NotionalUSD: decimal.NewFromInt(10)})
	require.NoError(t, err)
	assert.NotEqual(t, res.OrderID, other.OrderID)
}

func TestPaperHonorsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewPaper().PlaceOrder(ctx, OrderRequest{Symbol: "AAPL", Side: "BUY", NotionalUSD: decimal.NewFromInt(1)})
	assert.Error(t, err)
}
