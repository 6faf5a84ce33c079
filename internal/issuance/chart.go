package issuance

import "tokenscope/internal/numeric"

// maxCyclesPerStage bounds how many cycle boundaries a single stage emits.
// A stage with a short duration and a long horizon would otherwise produce
// millions of points; past the bound the stage jumps straight to its end.
const maxCyclesPerStage = 10000

// Point is one sample of the issuance price chart.
type Point struct {
	Timestamp     int64   `json:"timestamp"` // unix ms
	IssuancePrice float64 `json:"issuancePrice"`
}

// AddPoint appends the price implied by weight at tSec. Non-positive or
// non-finite weights are dropped. A point sharing the previous point's
// millisecond timestamp replaces its price instead of appending.
func AddPoint(series []Point, tSec int64, weight float64) []Point {
	if !numeric.IsFinite(weight) || weight <= 0 {
		return series
	}
	price := 1 / weight
	if !numeric.IsFinite(price) {
		return series
	}

	ts := tSec * 1000
	if n := len(series); n > 0 && series[n-1].Timestamp == ts {
		series[n-1].IssuancePrice = price
		return series
	}
	return append(series, Point{Timestamp: ts, IssuancePrice: price})
}

// BuildChartData walks stages in order up to horizonSec and emits a point at
// every stage start and decay boundary, plus a closing point at each stage's
// clipped end. A stage emits at most maxCyclesPerStage boundaries; past that
// it jumps to its clipped end carrying the exact WeightAtTimestamp value.
func BuildChartData(stages []Stage, horizonSec int64) []Point {
	var series []Point
	horizonMs := horizonSec * 1000

	for _, stage := range stages {
		if stage.Start > horizonMs {
			break
		}

		endMs := horizonMs
		if stage.End != nil && *stage.End < endMs {
			endMs = *stage.End
		}
		startSec := stage.StartSec()
		endSec := endMs / 1000

		weight := stage.Weight
		series = AddPoint(series, startSec, weight)
		last := startSec

		if stage.decays() {
			factor := 1 - stage.WeightCutPercent
			for n := int64(1); ; n++ {
				boundary := startSec + n*stage.Duration
				if boundary > endSec {
					break
				}
				if n > maxCyclesPerStage {
					weight = WeightAtTimestamp(stage, endSec)
					break
				}
				weight *= factor
				series = AddPoint(series, boundary, weight)
				last = boundary
				if weight <= 0 {
					break
				}
			}
		}

		if last < endSec {
			series = AddPoint(series, endSec, weight)
		}
	}

	return series
}
