package issuance

import (
	"encoding/json"
	"math"
)

// ChangeType names what triggers the next issuance change.
type ChangeType string

const (
	ChangeNone  ChangeType = ""
	ChangeCut   ChangeType = "cut"
	ChangeStage ChangeType = "stage"
)

// MarshalJSON renders ChangeNone as null.
func (c ChangeType) MarshalJSON() ([]byte, error) {
	if c == ChangeNone {
		return []byte("null"), nil
	}
	return json.Marshal(string(c))
}

// Summary describes the issuance rate in force at a point in time and the
// next scheduled change. Nil fields mean "not applicable".
type Summary struct {
	CurrentIssuance *float64   `json:"currentIssuance"`
	NextIssuance    *float64   `json:"nextIssuance"`
	NextChangeAt    *int64     `json:"nextChangeAt"` // unix ms
	NextChangeType  ChangeType `json:"nextChangeType"`
	ReservedPercent *int64     `json:"reservedPercent"`
	ActiveStage     *int       `json:"activeStage"`
	NextStage       *int       `json:"nextStage"`
}

// CurrentPrice returns the base-currency price of one token at the current
// issuance weight.
func (s Summary) CurrentPrice() (float64, bool) {
	if s.CurrentIssuance == nil || *s.CurrentIssuance <= 0 {
		return 0, false
	}
	price := 1 / *s.CurrentIssuance
	if math.IsInf(price, 0) || math.IsNaN(price) {
		return 0, false
	}
	return price, true
}

// BuildSummary derives the summary at nowSec. activeIdx is the result of
// FindActiveStageIndex for the same time.
func BuildSummary(stages []Stage, activeIdx int, nowSec int64) Summary {
	if len(stages) == 0 {
		return Summary{}
	}

	if activeIdx < 0 || activeIdx >= len(stages) {
		return upcomingSummary(stages, nowSec)
	}

	stage := stages[activeIdx]
	current := WeightAtTimestamp(stage, nowSec)
	summary := Summary{
		CurrentIssuance: ptr(current),
		ReservedPercent: ptr(stage.ReservedPercent),
		ActiveStage:     ptr(stage.Stage),
	}

	if stage.decays() {
		next := stage.cyclesAt(nowSec) + 1
		boundary := stage.Start + next*stage.Duration*1000
		if stage.End == nil || boundary < *stage.End {
			summary.NextIssuance = ptr(stage.Weight * math.Pow(1-stage.WeightCutPercent, float64(next)))
			summary.NextChangeAt = ptr(boundary)
			summary.NextChangeType = ChangeCut
			summary.NextStage = ptr(stage.Stage)
			return summary
		}
	}

	if activeIdx+1 < len(stages) {
		following := stages[activeIdx+1]
		summary.NextIssuance = ptr(following.Weight)
		summary.NextChangeAt = ptr(following.Start)
		summary.NextChangeType = ChangeStage
		summary.NextStage = ptr(following.Stage)
	}
	return summary
}

// upcomingSummary reports the next stage to begin when nothing is active yet.
// Its weight is both the current and the next issuance.
func upcomingSummary(stages []Stage, nowSec int64) Summary {
	nowMs := nowSec * 1000

	upcoming := -1
	for i, stage := range stages {
		if stage.Start > nowMs {
			upcoming = i
			break
		}
	}
	if upcoming < 0 {
		// Only reachable with overlapping or unordered stages.
		upcoming = 0
	}

	stage := stages[upcoming]
	return Summary{
		CurrentIssuance: ptr(stage.Weight),
		NextIssuance:    ptr(stage.Weight),
		NextChangeAt:    ptr(stage.Start),
		NextChangeType:  ChangeStage,
		ReservedPercent: ptr(stage.ReservedPercent),
		NextStage:       ptr(stage.Stage),
	}
}

func ptr[T any](v T) *T {
	return &v
}
