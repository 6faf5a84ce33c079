package cashout

import (
	"encoding/json"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tokenscope/internal/issuance"
)

func bi(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic("bad big int " + s)
	}
	return v
}

func feeOff(amount *big.Int, percent uint64) *big.Int {
	return applyFeeBig(amount, percent)
}

func TestComputeCashOutValueZeroCases(t *testing.T) {
	fees := DefaultFees()
	for _, coeff := range [][2]string{{"0", "0"}, {"1000000000000000000", "0"}, {"0", "5"}, {"123", "456"}} {
		v := ComputeCashOutValue(new(big.Int), bi(coeff[0]), bi(coeff[1]), fees)
		assert.Equal(t, 0, v.Sign())
	}
	for _, bal := range []string{"1", "67890", "1000000000000000000000000"} {
		v := ComputeCashOutValue(bi(bal), new(big.Int), new(big.Int), fees)
		assert.Equal(t, 0, v.Sign())
	}
	assert.Equal(t, 0, ComputeCashOutValue(nil, nil, nil, fees).Sign())
	assert.Equal(t, 0, ComputeCashOutValue(big.NewInt(-10), big.NewInt(5), nil, fees).Sign())
}

func TestComputeCashOutValueLinearOnly(t *testing.T) {
	fees := DefaultFees()
	balance := big.NewInt(67890)
	a := bi("1000000000000000000")

	got := ComputeCashOutValue(balance, a, new(big.Int), fees)

	want := feeOff(feeOff(balance, ProtocolFeePercent), DefaultSecondaryFeePercent)
	assert.Equal(t, want.String(), got.String())
	assert.Equal(t, "64539", got.String())

	// The quadratic term rounds to zero at this scale, so b does not matter.
	withB := ComputeCashOutValue(balance, a, bi("1000000000000000000"), fees)
	assert.Equal(t, got.String(), withB.String())
}

func TestComputeCashOutValueQuadraticUsesSquaredScale(t *testing.T) {
	fees := Fees{}
	balance := bi("2000000000000000000") // 2e18
	b := bi("1000000000000000000")       // 1e18

	got := ComputeCashOutValue(balance, new(big.Int), b, fees)

	net := feeOff(balance, ProtocolFeePercent) // 1.95e18
	want := new(big.Int).Mul(net, net)
	want.Mul(want, b)
	want.Quo(want, bi("1000000000000000000000000000000000000"))
	assert.Equal(t, want.String(), got.String())
	assert.Equal(t, "3802500000000000000", got.String())
}

func TestComputeCashOutValueFeeOrderMatters(t *testing.T) {
	fees := Fees{SecondaryFeePercent: 100}
	balance := bi("1000000000000000000000")
	a := bi("500000000000000000")
	b := bi("500000000000000")

	got := ComputeCashOutValue(balance, a, b, fees)
	assert.Equal(t, "866531250000000000000", got.String())

	curve := func(net *big.Int) *big.Int {
		linear := new(big.Int).Quo(new(big.Int).Mul(a, net), bigWad)
		quad := new(big.Int).Mul(net, net)
		quad.Mul(quad, b).Quo(quad, bigWad2)
		return linear.Add(linear, quad)
	}
	swapped := feeOff(curve(feeOff(balance, 100)), ProtocolFeePercent)
	assert.NotEqual(t, swapped.String(), got.String())
}

func TestComputeCashOutValueBeyondUint256(t *testing.T) {
	fees := DefaultFees()
	huge := new(big.Int).Lsh(big.NewInt(1), 200)
	a := bi("1000000000000000000")

	got := ComputeCashOutValue(huge, a, a, fees)
	want := computeBig(huge, a, a, fees)
	assert.Equal(t, want.String(), got.String())
	assert.Positive(t, got.Sign())
}

func TestComputeCashOutValueUint256MatchesBig(t *testing.T) {
	fees := Fees{SecondaryFeePercent: 35}
	balance := bi("123456789012345678901234")
	a := bi("734000000000000000")
	b := bi("266000000000000000")

	fast, ok := computeUint256(balance, a, b, fees)
	require.True(t, ok)
	assert.Equal(t, computeBig(balance, a, b, fees).String(), fast.ToBig().String())
}

func TestFromSnapshotsGroupsAndSorts(t *testing.T) {
	snaps := []Snapshot{
		{ChainID: 10, Timestamp: 200, Balance: "1000", CashoutA: "1000000000000000000", TotalSupply: "5"},
		{ChainID: 1, Timestamp: 300, Balance: "2000", CashoutA: "1000000000000000000"},
		{ChainID: 1, Timestamp: 100, Balance: "1000", CashoutA: "1000000000000000000"},
		{ChainID: 1, Timestamp: 150, Balance: "garbage", CashoutA: "1000000000000000000"},
	}

	series := FromSnapshots(snaps, Fees{})
	require.Len(t, series, 2)
	assert.Equal(t, int64(1), series[0].ChainID)
	assert.Equal(t, int64(10), series[1].ChainID)

	pts := series[0].Points
	require.Len(t, pts, 3)
	assert.Equal(t, []int64{100_000, 150_000, 300_000}, []int64{pts[0].Timestamp, pts[1].Timestamp, pts[2].Timestamp})
	assert.Equal(t, "975", pts[0].Value.String())
	assert.Equal(t, 0, pts[1].Value.Sign())
	assert.Equal(t, "1950", pts[2].Value.String())
	assert.Equal(t, SourceSnapshot, pts[0].Source)
	assert.Equal(t, "5", series[1].Points[0].Supply.String())
}

func TestReconstructHistoryPrefersSnapshots(t *testing.T) {
	in := HistoryInput{
		Snapshots: []Snapshot{{ChainID: 1, Timestamp: 10, Balance: "1000", CashoutA: "1000000000000000000"}},
		Rulesets:  []issuance.ParsedRuleset{{ChainID: 1, RulesetID: 1, Start: 0}},
		Events: []PayEvent{
			{ChainID: 1, Timestamp: 5, Amount: "999999"},
			{ChainID: 2, Timestamp: 6, Amount: "1"},
		},
		CashoutA: "1000000000000000000",
	}

	series := ReconstructHistory(in)
	require.Len(t, series, 1)
	require.Len(t, series[0].Points, 1)
	assert.Equal(t, SourceSnapshot, series[0].Points[0].Source)
	assert.Equal(t, "1000", series[0].Points[0].Balance.String())
}

func TestReplayEventsRequiresRulesets(t *testing.T) {
	series := ReconstructHistory(HistoryInput{
		Events:   []PayEvent{{ChainID: 1, Timestamp: 5, Amount: "100"}},
		CashoutA: "1000000000000000000",
	})
	assert.Empty(t, series)
}

func TestReplayEventsAccumulates(t *testing.T) {
	in := ReplayInput{
		Rulesets: []issuance.ParsedRuleset{
			{ChainID: 1, RulesetID: 100, Start: 100, ReservedPercent: 5000},
			{ChainID: 1, RulesetID: 200, Start: 200},
			{ChainID: 2, RulesetID: 1, Start: 0, Duration: 0, Weight: 0},
		},
		Events: []PayEvent{
			{ChainID: 1, Timestamp: 250, Amount: "300", NewlyIssuedTokenCount: "30"},
			{ChainID: 1, Timestamp: 150, Amount: "1000", EffectiveTokenCount: "10"},
			{ChainID: 1, Timestamp: 160, Amount: "not-a-number", EffectiveTokenCount: "99"},
			{ChainID: 2, Timestamp: 10, Amount: "40"},
		},
		CashoutA: "1000000000000000000",
		Fees:     Fees{},
	}

	series := ReplayEvents(in)
	require.Len(t, series, 2)

	chain1 := series[0].Points
	require.Len(t, chain1, 2, "unparseable amount is skipped")
	assert.Equal(t, int64(150_000), chain1[0].Timestamp)
	assert.Equal(t, "1000", chain1[0].Balance.String())
	assert.Equal(t, "20", chain1[0].Supply.String(), "50% reserved doubles the mint")
	assert.Equal(t, "975", chain1[0].Value.String())
	assert.Equal(t, "1300", chain1[1].Balance.String())
	assert.Equal(t, "50", chain1[1].Supply.String())
	assert.Equal(t, SourceReplay, chain1[1].Source)

	chain2 := series[1].Points
	require.Len(t, chain2, 1, "zero-weight zero-duration ruleset still emits")
	assert.Equal(t, "40", chain2[0].Balance.String())
}

func TestTimelineMatchFallsBackToPriorID(t *testing.T) {
	tl := newTimelines([]issuance.ParsedRuleset{
		{ChainID: 1, RulesetID: 10, Start: 1000, ReservedPercent: 1},
		{ChainID: 1, RulesetID: 20, Start: 2000, ReservedPercent: 2},
		{ChainID: 5, RulesetID: 15, Start: 0, ReservedPercent: 9},
	})[1]

	rs, ok := tl.match(PayEvent{Timestamp: 2500, RulesetID: 10})
	require.True(t, ok)
	assert.Equal(t, int64(20), rs.RulesetID, "timestamp match wins")

	rs, ok = tl.match(PayEvent{Timestamp: 500, RulesetID: 17})
	require.True(t, ok)
	assert.Equal(t, int64(10), rs.RulesetID, "nearest prior id on the same chain")

	_, ok = tl.match(PayEvent{Timestamp: 500, RulesetID: 5})
	assert.False(t, ok)
}

func TestTimelineMatchCoercesWireIDs(t *testing.T) {
	tl := newTimelines(issuance.ParseRulesets([]issuance.RawRuleset{
		{ChainID: 1, RulesetID: "10", Start: "1000"},
		{ChainID: 1, RulesetID: json.Number("20"), Start: "2000"},
	}))[1]

	for _, id := range []any{"17", json.Number("17"), int64(17), big.NewInt(17)} {
		rs, ok := tl.match(PayEvent{Timestamp: 500, RulesetID: id})
		require.True(t, ok, "%T", id)
		assert.Equal(t, int64(10), rs.RulesetID, "%T", id)
	}
}

func TestLatestAndTotal(t *testing.T) {
	series := []Series{
		{ChainID: 1, Points: []Point{{Value: big.NewInt(1)}, {Value: big.NewInt(4)}}},
		{ChainID: 2, Points: []Point{{Value: big.NewInt(6)}}},
		{ChainID: 3},
	}
	latest := Latest(series)
	assert.Len(t, latest, 2)
	assert.Equal(t, int64(4), latest[1].Int64())
	assert.Equal(t, int64(10), Total(series).Int64())
}
