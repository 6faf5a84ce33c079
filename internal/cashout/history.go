package cashout

import (
	"math/big"
	"sort"

	"tokenscope/internal/issuance"
	"tokenscope/internal/numeric"
)

// Source records which reconstruction path produced a point.
type Source string

const (
	SourceSnapshot Source = "snapshot"
	SourceReplay   Source = "replay"
)

// Snapshot is an indexer-produced record of treasury and curve state on one
// chain. Numeric fields keep their wire representation.
type Snapshot struct {
	ChainID        int64
	Timestamp      int64 // seconds
	CashoutA       any
	CashoutB       any
	Balance        any
	TotalSupply    any
	CashOutTaxRate int64
}

// PayEvent is a single contribution to the treasury.
type PayEvent struct {
	ChainID               int64
	Timestamp             int64 // seconds
	Amount                any
	EffectiveTokenCount   any
	NewlyIssuedTokenCount any
	RulesetID             any
}

// Point is one sample of a cash-out value series. Value is the amount
// redeemable for one whole token (1e18 units) at that time.
type Point struct {
	ChainID   int64    `json:"chainId"`
	Timestamp int64    `json:"timestamp"` // unix ms
	Balance   *big.Int `json:"balance"`
	Supply    *big.Int `json:"supply"`
	Value     *big.Int `json:"value"`
	Source    Source   `json:"source"`
}

// Series is the chronologically ordered history of one chain.
type Series struct {
	ChainID int64   `json:"chainId"`
	Points  []Point `json:"points"`
}

// HistoryInput bundles everything ReconstructHistory may draw on.
type HistoryInput struct {
	Snapshots []Snapshot
	Rulesets  []issuance.ParsedRuleset
	Events    []PayEvent
	CashoutA  any // current coefficients, used only by event replay
	CashoutB  any
	Fees      Fees
}

// ReconstructHistory prefers snapshots whenever any exist, ignoring payment
// events entirely, and otherwise replays payment events.
func ReconstructHistory(in HistoryInput) []Series {
	if len(in.Snapshots) > 0 {
		return FromSnapshots(in.Snapshots, in.Fees)
	}
	return ReplayEvents(ReplayInput{
		Rulesets: in.Rulesets,
		Events:   in.Events,
		CashoutA: in.CashoutA,
		CashoutB: in.CashoutB,
		Fees:     in.Fees,
	})
}

// FromSnapshots values every snapshot with its own balance and coefficients.
// Series are ordered by chain id, points by timestamp.
func FromSnapshots(snapshots []Snapshot, fees Fees) []Series {
	byChain := make(map[int64][]Snapshot)
	for _, snap := range snapshots {
		byChain[snap.ChainID] = append(byChain[snap.ChainID], snap)
	}

	out := make([]Series, 0, len(byChain))
	for _, chainID := range sortedKeys(byChain) {
		rows := byChain[chainID]
		sort.SliceStable(rows, func(i, j int) bool { return rows[i].Timestamp < rows[j].Timestamp })

		points := make([]Point, 0, len(rows))
		for _, snap := range rows {
			balance := numeric.BigIntOrZero(snap.Balance)
			points = append(points, Point{
				ChainID:   chainID,
				Timestamp: snap.Timestamp * 1000,
				Balance:   balance,
				Supply:    numeric.BigIntOrZero(snap.TotalSupply),
				Value: ComputeCashOutValue(
					balance,
					numeric.BigIntOrZero(snap.CashoutA),
					numeric.BigIntOrZero(snap.CashoutB),
					fees,
				),
				Source: SourceSnapshot,
			})
		}
		out = append(out, Series{ChainID: chainID, Points: points})
	}
	return out
}

// Latest returns the most recent value of every series, keyed by chain id.
func Latest(series []Series) map[int64]*big.Int {
	out := make(map[int64]*big.Int, len(series))
	for _, s := range series {
		if n := len(s.Points); n > 0 {
			out[s.ChainID] = s.Points[n-1].Value
		}
	}
	return out
}

// Total sums the latest value of every chain.
func Total(series []Series) *big.Int {
	total := new(big.Int)
	for _, v := range Latest(series) {
		total.Add(total, v)
	}
	return total
}

func sortedKeys[V any](m map[int64]V) []int64 {
	keys := make([]int64, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
