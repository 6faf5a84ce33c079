package fetcher

import (
	"context"
	"math/big"

	"github.com/shopspring/decimal"
)

// TreasuryBalanceFetcher reads a project's live treasury balance. It returns
// the balance in base units and the block it was read at.
type TreasuryBalanceFetcher interface {
	FetchBalance(ctx context.Context, projectID int64) (*big.Int, uint64, error)
}

// PriceFetcher quotes the treasury asset in a reference currency.
type PriceFetcher interface {
	FetchPrice(ctx context.Context) (decimal.Decimal, error)
}
