package issuance

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func end(ms int64) *int64 { return &ms }

// twoStages: stage 1 starts at 0 with weight 2 and halves every 10s until
// 2000s, stage 2 starts at 3000s... with stage 1's end pinned at 2000s.
func twoStages() []Stage {
	return []Stage{
		{Stage: 1, Start: 0, End: end(2_000_000), Duration: 10, Weight: 2, WeightCutPercent: 0.5},
		{Stage: 2, Start: 3_000_000, Weight: 1},
	}
}

func TestParseRulesetScalesFixedPoint(t *testing.T) {
	parsed := ParseRuleset(RawRuleset{
		ChainID:          1,
		ProjectID:        7,
		RulesetID:        "1700000000",
		Start:            "1700000000",
		Duration:         86400,
		Weight:           "1000000000000000000000",
		WeightCutPercent: "50000000",
		ReservedPercent:  "3000",
		CashOutTaxRate:   int64(6000),
	})

	assert.Equal(t, int64(1700000000), parsed.RulesetID)
	assert.Equal(t, int64(1700000000), parsed.Start)
	assert.Equal(t, int64(86400), parsed.Duration)
	assert.InDelta(t, 1000.0, parsed.Weight, 1e-9)
	assert.InDelta(t, 0.05, parsed.WeightCutPercent, 1e-12)
	assert.Equal(t, int64(3000), parsed.ReservedPercent)
	assert.Equal(t, int64(6000), parsed.CashOutTaxRate)
}

func TestParseRulesetCoercesGarbageToZero(t *testing.T) {
	parsed := ParseRuleset(RawRuleset{
		Start:            "soon",
		Duration:         math.NaN(),
		Weight:           math.Inf(1),
		WeightCutPercent: "??",
		ReservedPercent:  struct{}{},
	})
	assert.Zero(t, parsed.Start)
	assert.Zero(t, parsed.Duration)
	assert.Zero(t, parsed.Weight)
	assert.Zero(t, parsed.WeightCutPercent)
	assert.Zero(t, parsed.ReservedPercent)
}

func TestBuildStagesOrdersAndLinks(t *testing.T) {
	stages := BuildStages([]ParsedRuleset{
		{RulesetID: 3, Start: 300, Weight: 3},
		{RulesetID: 1, Start: 100, Weight: 1, WeightCutPercent: 1.5},
		{RulesetID: 2, Start: 100, Weight: 2},
	})

	require.Len(t, stages, 2)
	assert.Equal(t, 1, stages[0].Stage)
	assert.Equal(t, int64(100_000), stages[0].Start)
	assert.Equal(t, 2.0, stages[0].Weight, "later ruleset id wins on equal start")
	require.NotNil(t, stages[0].End)
	assert.Equal(t, int64(300_000), *stages[0].End)
	assert.Equal(t, 2, stages[1].Stage)
	assert.Nil(t, stages[1].End)

	assert.Nil(t, BuildStages(nil))
}

func TestBuildStagesClampsCut(t *testing.T) {
	stages := BuildStages([]ParsedRuleset{{Start: 1, Weight: 1, WeightCutPercent: 1.5}})
	require.Len(t, stages, 1)
	assert.Equal(t, 1.0, stages[0].WeightCutPercent)
}

func TestFindActiveStageIndex(t *testing.T) {
	stages := twoStages()

	assert.Equal(t, 0, FindActiveStageIndex(stages, 1))
	assert.Equal(t, 1, FindActiveStageIndex(stages, 3100))
	assert.Equal(t, NoActiveStage, FindActiveStageIndex(stages, 2500), "gap between stages")
	assert.Equal(t, NoActiveStage, FindActiveStageIndex(stages, -5))
	assert.Equal(t, NoActiveStage, FindActiveStageIndex(nil, 10))
}

func TestWeightAtTimestamp(t *testing.T) {
	stage := twoStages()[0]

	assert.Equal(t, 2.0, WeightAtTimestamp(stage, 0))
	assert.Equal(t, 2.0, WeightAtTimestamp(stage, 9))
	assert.Equal(t, 1.0, WeightAtTimestamp(stage, 15))
	assert.Equal(t, 0.5, WeightAtTimestamp(stage, 20))
}

func TestWeightAtTimestampNoBackwardExtrapolation(t *testing.T) {
	stage := Stage{Start: 100_000, Duration: 10, Weight: 4, WeightCutPercent: 0.25}
	for _, ts := range []int64{-1000, 0, 50, 99} {
		assert.Equal(t, 4.0, WeightAtTimestamp(stage, ts))
	}
}

func TestWeightAtTimestampMonotone(t *testing.T) {
	stage := Stage{Start: 0, Duration: 7, Weight: 100, WeightCutPercent: 0.1}
	prev := WeightAtTimestamp(stage, 0)
	assert.Equal(t, 100.0, prev)
	for ts := int64(1); ts < 500; ts++ {
		w := WeightAtTimestamp(stage, ts)
		assert.LessOrEqual(t, w, prev)
		prev = w
	}
}

func TestWeightAtTimestampWithoutDecay(t *testing.T) {
	assert.Equal(t, 5.0, WeightAtTimestamp(Stage{Duration: 0, Weight: 5, WeightCutPercent: 0.5}, 1000))
	assert.Equal(t, 5.0, WeightAtTimestamp(Stage{Duration: 10, Weight: 5}, 1000))
}

func TestAddPointDeduplicates(t *testing.T) {
	var series []Point
	series = AddPoint(series, 10, 2)
	series = AddPoint(series, 10, 4)
	require.Len(t, series, 1)
	assert.Equal(t, 0.25, series[0].IssuancePrice)

	series = AddPoint(series, 11, 1)
	assert.Len(t, series, 2)
}

func TestAddPointRejectsInvalidWeights(t *testing.T) {
	var series []Point
	for _, w := range []float64{0, -1, math.NaN(), math.Inf(1), math.SmallestNonzeroFloat64} {
		series = AddPoint(series, 1, w)
	}
	assert.Empty(t, series)
}

func TestBuildChartDataStepsAndClips(t *testing.T) {
	stages := []Stage{
		{Stage: 1, Start: 0, End: end(30_000), Duration: 10, Weight: 2, WeightCutPercent: 0.5},
		{Stage: 2, Start: 30_000, Weight: 1},
	}

	series := BuildChartData(stages, 45)
	want := []Point{
		{Timestamp: 0, IssuancePrice: 0.5},
		{Timestamp: 10_000, IssuancePrice: 1},
		{Timestamp: 20_000, IssuancePrice: 2},
		{Timestamp: 30_000, IssuancePrice: 1}, // stage 2 start overwrites stage 1 boundary
		{Timestamp: 45_000, IssuancePrice: 1},
	}
	assert.Equal(t, want, series)
}

func TestBuildChartDataBounded(t *testing.T) {
	stages := twoStages()
	for _, horizon := range []int64{0, 5, 15, 1999, 2000, 2500, 3000, 10_000} {
		series := BuildChartData(stages, horizon)
		for i, p := range series {
			assert.LessOrEqual(t, p.Timestamp, horizon*1000)
			if i > 0 {
				assert.Greater(t, p.Timestamp, series[i-1].Timestamp)
			}
		}
	}
}

func TestBuildChartDataEmpty(t *testing.T) {
	assert.Empty(t, BuildChartData(nil, 100))
	assert.Empty(t, BuildChartData([]Stage{{Start: 100_000, Weight: 1}}, 50))
}

func TestBuildChartDataCapsCycles(t *testing.T) {
	stage := Stage{Stage: 1, Start: 0, Duration: 1, Weight: 1, WeightCutPercent: 1e-9}
	series := BuildChartData([]Stage{stage}, 1_000_000)
	require.NotEmpty(t, series)
	assert.LessOrEqual(t, len(series), maxCyclesPerStage+2)

	last := series[len(series)-1]
	assert.Equal(t, int64(1_000_000_000), last.Timestamp)
	assert.InDelta(t, 1/WeightAtTimestamp(stage, 1_000_000), last.IssuancePrice, 1e-9)
}

func TestBuildSummaryNoStages(t *testing.T) {
	assert.Equal(t, Summary{}, BuildSummary(nil, NoActiveStage, 100))
}

func TestBuildSummaryBeforeFirstStage(t *testing.T) {
	stages := twoStages()
	stages[0].Start = 1_000_000
	summary := BuildSummary(stages, FindActiveStageIndex(stages, 10), 10)

	require.NotNil(t, summary.CurrentIssuance)
	assert.Equal(t, 2.0, *summary.CurrentIssuance)
	assert.Equal(t, 2.0, *summary.NextIssuance)
	assert.Equal(t, int64(1_000_000), *summary.NextChangeAt)
	assert.Equal(t, ChangeStage, summary.NextChangeType)
	assert.Nil(t, summary.ActiveStage)
	assert.Equal(t, 1, *summary.NextStage)
}

func TestBuildSummaryInGapReportsFollowingStage(t *testing.T) {
	stages := twoStages()
	summary := BuildSummary(stages, FindActiveStageIndex(stages, 2500), 2500)
	assert.Equal(t, ChangeStage, summary.NextChangeType)
	assert.Equal(t, 2, *summary.NextStage)
	assert.Equal(t, int64(3_000_000), *summary.NextChangeAt)
}

func TestBuildSummaryNextCut(t *testing.T) {
	stages := twoStages()
	summary := BuildSummary(stages, 0, 15)

	assert.Equal(t, 1.0, *summary.CurrentIssuance)
	assert.Equal(t, 0.5, *summary.NextIssuance)
	assert.Equal(t, int64(20_000), *summary.NextChangeAt)
	assert.Equal(t, ChangeCut, summary.NextChangeType)
	assert.Equal(t, 1, *summary.ActiveStage)

	price, ok := summary.CurrentPrice()
	require.True(t, ok)
	assert.Equal(t, 1.0, price)
}

func TestBuildSummaryStageChangeWhenCutReachesEnd(t *testing.T) {
	stages := []Stage{
		{Stage: 1, Start: 0, End: end(20_000), Duration: 10, Weight: 2, WeightCutPercent: 0.5},
		{Stage: 2, Start: 20_000, Weight: 7, ReservedPercent: 2000},
	}
	summary := BuildSummary(stages, 0, 15)

	assert.Equal(t, ChangeStage, summary.NextChangeType)
	assert.Equal(t, 7.0, *summary.NextIssuance)
	assert.Equal(t, int64(20_000), *summary.NextChangeAt)
	assert.Equal(t, 2, *summary.NextStage)
}

func TestBuildSummaryOpenEndedWithoutDecay(t *testing.T) {
	stages := []Stage{{Stage: 1, Start: 0, Weight: 3, ReservedPercent: 100}}
	summary := BuildSummary(stages, 0, 1000)

	assert.Equal(t, 3.0, *summary.CurrentIssuance)
	assert.Equal(t, int64(100), *summary.ReservedPercent)
	assert.Nil(t, summary.NextIssuance)
	assert.Nil(t, summary.NextChangeAt)
	assert.Equal(t, ChangeNone, summary.NextChangeType)

	raw, err := json.Marshal(summary)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"nextChangeType":null`)
}
