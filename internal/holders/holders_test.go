package holders

import (
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func at(v int64) *int64 { return &v }

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestChooseBucketLadder(t *testing.T) {
	assert.Equal(t, seconds(time.Minute), ChooseBucket(0, 0))
	assert.Equal(t, seconds(time.Minute), ChooseBucket(100, 50))
	assert.Equal(t, seconds(time.Minute), ChooseBucket(0, 60*60))
	assert.Equal(t, seconds(5*time.Minute), ChooseBucket(0, 10*60*60))
	assert.Equal(t, seconds(time.Hour), ChooseBucket(0, 9*24*60*60))
	assert.Equal(t, seconds(7*24*time.Hour), ChooseBucket(0, 3*365*24*60*60))
}

func TestChooseBucketNeverExceedsCap(t *testing.T) {
	spans := []int64{1, 59, 60, 14_340, 14_400, 86_400, 1_000_000, 31_536_000, 145_152_000, 10 * 31_536_000, 100 * 31_536_000}
	for _, start := range []int64{0, 37, 1_700_000_123} {
		for _, span := range spans {
			width := ChooseBucket(start, start+span)
			assert.LessOrEqual(t, BucketCount(start, start+span, width), int64(MaxBuckets), "span %d", span)
		}
	}
}

func TestChooseBucketBeyondDurationRange(t *testing.T) {
	week := seconds(7 * 24 * time.Hour)
	cases := [][2]int64{
		{0, 1 << 50},
		{1_700_000_000, 1_700_000_000_000_000},
		{math.MinInt64 / 2, math.MaxInt64 / 2},
		{math.MinInt64, math.MaxInt64},
	}
	for _, c := range cases {
		done := make(chan int64, 1)
		go func() { done <- ChooseBucket(c[0], c[1]) }()

		select {
		case width := <-done:
			assert.Positive(t, width, "span %v", c)
			assert.Zero(t, width%week, "span %v", c)
			assert.LessOrEqual(t, BucketCount(c[0], c[1], width), int64(MaxBuckets), "span %v", c)
		case <-time.After(5 * time.Second):
			t.Fatalf("ChooseBucket(%d, %d) did not return", c[0], c[1])
		}
	}
}

func TestChooseBucketSmallestWeekMultiple(t *testing.T) {
	week := seconds(7 * 24 * time.Hour)
	span := 1000 * week
	width := ChooseBucket(0, span)
	require.LessOrEqual(t, BucketCount(0, span, width), int64(MaxBuckets))
	assert.Greater(t, BucketCount(0, span, width-week), int64(MaxBuckets))
}

func TestAggregateWithMalformedTimestamp(t *testing.T) {
	participants := []Participant{
		{Address: "0xa", Balance: "1", FirstOwned: at(1_700_000_000), CreatedAt: 1_700_000_000},
		{Address: "0xb", Balance: "1", FirstOwned: at(1_700_000_000_000_000), CreatedAt: 1_700_000_000},
	}
	payments := []Payment{{Payer: "0xa", Amount: "5", Timestamp: 1_700_000_000}}

	points := Aggregate(participants, payments, 1_700_000_100)
	require.NotEmpty(t, points)
	assert.LessOrEqual(t, len(points), MaxBuckets+1)
	assert.Equal(t, 2, points[len(points)-1].Holders)
}

func TestActivationTime(t *testing.T) {
	p := Participant{FirstOwned: at(50), CreatedAt: 10}
	assert.Equal(t, int64(40), ActivationTime(p, at(40)))
	assert.Equal(t, int64(50), ActivationTime(p, at(60)))
	assert.Equal(t, int64(50), ActivationTime(p, nil))
	assert.Equal(t, int64(70), ActivationTime(Participant{CreatedAt: 10}, at(70)))
	assert.Equal(t, int64(10), ActivationTime(Participant{CreatedAt: 10}, nil))
}

func TestMedian(t *testing.T) {
	assert.True(t, Median(nil).IsZero())
	assert.True(t, dec("5").Equal(Median([]decimal.Decimal{dec("5")})))
	assert.True(t, dec("2").Equal(Median([]decimal.Decimal{dec("3"), dec("1"), dec("2")})))
	assert.True(t, dec("2.5").Equal(Median([]decimal.Decimal{dec("4"), dec("1"), dec("3"), dec("2")})))

	in := []decimal.Decimal{dec("9"), dec("1")}
	Median(in)
	assert.True(t, dec("9").Equal(in[0]), "input must not be reordered")
}

func TestAggregateEmptyInputs(t *testing.T) {
	holder := []Participant{{Address: "0xa", Balance: "1", CreatedAt: 0}}
	pay := []Payment{{Payer: "0xa", Amount: "1", Timestamp: 0}}
	assert.Empty(t, Aggregate(nil, pay, 100))
	assert.Empty(t, Aggregate(holder, nil, 100))
	assert.Empty(t, Aggregate([]Participant{{Address: "0xa", Balance: "0"}}, pay, 100))
}

func TestAggregateBucketsAndForwardFills(t *testing.T) {
	participants := []Participant{
		{Address: "0xA", Balance: "10", FirstOwned: at(0)},
		{Address: "0xb", Balance: "5", CreatedAt: 180},
		{Address: "0xc", Balance: "1", FirstOwned: at(600)},
		{Address: "0xgone", Balance: "0", FirstOwned: at(0)},
	}
	payments := []Payment{
		{Payer: "0xa", Amount: "100", Timestamp: 30},
		{Payer: "0xB", Amount: "40", Timestamp: 200},
		{Payer: "0xgone", Amount: "1000", Timestamp: 240},
		{Payer: "0xa", Amount: "20", Timestamp: 610},
		{Payer: "0xc", Amount: "bogus", Timestamp: 620},
	}

	// Span 0..620s fits in 1m buckets.
	points := Aggregate(participants, payments, 630)
	require.Len(t, points, 11)

	assert.Equal(t, int64(0), points[0].Timestamp)
	assert.Equal(t, 1, points[0].Holders)
	assert.True(t, dec("100").Equal(points[0].MedianContribution))

	assert.Equal(t, int64(60_000), points[1].Timestamp)
	assert.Equal(t, 1, points[1].Holders, "forward-filled")
	assert.True(t, dec("100").Equal(points[1].MedianContribution))

	// 0xb has no FirstOwned, so it activates at its first payment (200s).
	assert.Equal(t, 2, points[3].Holders)
	assert.True(t, dec("70").Equal(points[3].MedianContribution))

	last := points[10]
	assert.Equal(t, int64(600_000), last.Timestamp)
	assert.Equal(t, 3, last.Holders)
	// 0xc contributed nothing parseable and is excluded from the median.
	assert.True(t, dec("80").Equal(last.MedianContribution))

	for i := 1; i < len(points); i++ {
		assert.GreaterOrEqual(t, points[i].Holders, points[i-1].Holders)
		assert.Greater(t, points[i].Timestamp, points[i-1].Timestamp)
	}
}

func TestAggregateTrailingPoint(t *testing.T) {
	participants := []Participant{{Address: "0xa", Balance: "1", FirstOwned: at(0)}}
	payments := []Payment{{Payer: "0xa", Amount: "3", Timestamp: 10}}

	points := Aggregate(participants, payments, 59)
	require.Len(t, points, 1, "now inside the last bucket adds nothing")

	points = Aggregate(participants, payments, 3600)
	require.Len(t, points, 2)
	assert.Equal(t, int64(3_600_000), points[1].Timestamp)
	assert.Equal(t, 1, points[1].Holders)
	assert.True(t, dec("3").Equal(points[1].MedianContribution))
}
