package broker

import (
	"context"

	"tradeflow/internal/logger"

	"github.com/google/uuid"
)

// Paper is a simulated brokerage that fills every order at its notional
// value. Used for dry runs and as the default client in tests.
type Paper struct{}

func NewPaper() *Paper { return &Paper{} }

func (p *Paper) PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error) {
	if err := ctx.Err(); err != nil {
		return OrderResult{}, err
	}
	id := "paper-" + uuid.NewString()
	logger.Debugf("broker: paper fill %s %s %s order=%s", req.Side, req.Symbol, req.NotionalUSD, id)
	return OrderResult{
		OrderID:   id,
		Filled:    true,
		FilledUSD: req.NotionalUSD,
	}, nil
}

var _ Client = (*Paper)(nil)
