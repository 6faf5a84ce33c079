package issuance

import "math"

// NoActiveStage is returned by FindActiveStageIndex when no stage covers the
// queried time.
const NoActiveStage = -1

// Stage is a normalised ruleset window. Start and End are unix milliseconds;
// a nil End marks the open-ended final stage.
type Stage struct {
	Stage            int     `json:"stage"`
	Start            int64   `json:"start"`
	End              *int64  `json:"end"`
	Duration         int64   `json:"duration"`
	Weight           float64 `json:"weight"`
	WeightCutPercent float64 `json:"weightCutPercent"`
	ReservedPercent  int64   `json:"reservedPercent"`
	CashOutTaxRate   int64   `json:"cashOutTaxRate"`
}

// StartSec returns the stage start in seconds.
func (s Stage) StartSec() int64 {
	return s.Start / 1000
}

// Contains reports whether nowSec falls in [Start, End).
func (s Stage) Contains(nowSec int64) bool {
	nowMs := nowSec * 1000
	if nowMs < s.Start {
		return false
	}
	return s.End == nil || nowMs < *s.End
}

func (s Stage) decays() bool {
	return s.Duration > 0 && s.WeightCutPercent > 0
}

// cyclesAt counts whole decay cycles elapsed at tSec. Callers guarantee tSec
// is not before the stage start.
func (s Stage) cyclesAt(tSec int64) int64 {
	if !s.decays() {
		return 0
	}
	elapsedMs := tSec*1000 - s.Start
	if elapsedMs <= 0 {
		return 0
	}
	return elapsedMs / (s.Duration * 1000)
}

// FindActiveStageIndex returns the index of the stage containing nowSec, or
// NoActiveStage when nowSec precedes every stage or sits in a gap. The scan
// runs backwards since queries are usually near the newest stage.
func FindActiveStageIndex(stages []Stage, nowSec int64) int {
	for i := len(stages) - 1; i >= 0; i-- {
		if stages[i].Contains(nowSec) {
			return i
		}
	}
	return NoActiveStage
}

// WeightAtTimestamp returns the stage weight after every whole decay cycle
// elapsed by tSec. Times before the stage start return the base weight.
func WeightAtTimestamp(stage Stage, tSec int64) float64 {
	if tSec*1000 < stage.Start {
		return stage.Weight
	}
	cycles := stage.cyclesAt(tSec)
	if cycles == 0 {
		return stage.Weight
	}
	return stage.Weight * math.Pow(1-stage.WeightCutPercent, float64(cycles))
}
