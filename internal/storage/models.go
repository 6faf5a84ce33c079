package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// Project is the indexer's current view of a project on one chain. Cross-chain
// deployments of the same project share a SuckerGroupID. Coefficients and
// balance are base-unit integers kept in their textual form.
type Project struct {
	ChainID       int64
	ProjectID     int64
	SuckerGroupID string
	TokenSymbol   string
	Decimals      int32
	CashoutA      string
	CashoutB      string
	Balance       string
}

// IssuanceAlert records an emitted upcoming-change alert. A change is alerted
// at most once per (chain, project, change time).
type IssuanceAlert struct {
	ID              int64
	ChainID         int64
	ProjectID       int64
	ChangeAt        time.Time
	ChangeType      string
	CurrentIssuance decimal.Decimal
	NextIssuance    decimal.Decimal
	Channels        []string
	CreatedAt       time.Time
}
