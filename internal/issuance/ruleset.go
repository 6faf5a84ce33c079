// Package issuance models the issuance schedule of a continuous-issuance token:
// rulesets normalised into stages, discrete per-cycle weight decay, dense
// price charts and a forward-looking summary of the next change.
//
// Every function in this package is pure and total. Malformed input degrades
// to empty results or zero values; nothing here returns an error.
package issuance

import (
	"sort"

	"tokenscope/internal/numeric"
)

const (
	// WeightDecimals is the fixed-point scale of a raw ruleset weight.
	WeightDecimals = 18
	// WeightCutDecimals is the fixed-point scale of a raw weight cut percent.
	WeightCutDecimals = 9
)

// RawRuleset is a ruleset row as delivered by the indexer. Numeric fields keep
// their wire representation (NUMERIC strings, JSON numbers, big ints).
type RawRuleset struct {
	ChainID          int64
	ProjectID        int64
	RulesetID        any
	Start            any // chain timestamp, seconds
	Duration         any // seconds, 0 disables decay
	Weight           any // tokens per base unit, 1e18 fixed point
	WeightCutPercent any // fraction cut per cycle, 1e9 fixed point
	ReservedPercent  any // parts per 10000
	CashOutTaxRate   any // parts per 10000
}

// ParsedRuleset is a RawRuleset with every field coerced and scaled.
type ParsedRuleset struct {
	ChainID          int64   `json:"chainId"`
	ProjectID        int64   `json:"projectId"`
	RulesetID        int64   `json:"rulesetId"`
	Start            int64   `json:"start"`
	Duration         int64   `json:"duration"`
	Weight           float64 `json:"weight"`
	WeightCutPercent float64 `json:"weightCutPercent"`
	ReservedPercent  int64   `json:"reservedPercent"`
	CashOutTaxRate   int64   `json:"cashOutTaxRate"`
}

// ParseRuleset coerces a raw ruleset. Unparseable values become 0.
func ParseRuleset(raw RawRuleset) ParsedRuleset {
	weight := numeric.DecimalOrZero(raw.Weight).Shift(-WeightDecimals).InexactFloat64()
	cut := numeric.DecimalOrZero(raw.WeightCutPercent).Shift(-WeightCutDecimals).InexactFloat64()
	if !numeric.IsFinite(weight) {
		weight = 0
	}
	if !numeric.IsFinite(cut) {
		cut = 0
	}

	return ParsedRuleset{
		ChainID:          raw.ChainID,
		ProjectID:        raw.ProjectID,
		RulesetID:        numeric.Int(raw.RulesetID),
		Start:            numeric.Int(raw.Start),
		Duration:         numeric.Int(raw.Duration),
		Weight:           weight,
		WeightCutPercent: cut,
		ReservedPercent:  numeric.Int(raw.ReservedPercent),
		CashOutTaxRate:   numeric.Int(raw.CashOutTaxRate),
	}
}

// ParseRulesets parses every raw row in order.
func ParseRulesets(raws []RawRuleset) []ParsedRuleset {
	out := make([]ParsedRuleset, 0, len(raws))
	for _, raw := range raws {
		out = append(out, ParseRuleset(raw))
	}
	return out
}

// BuildStages orders rulesets by start time and turns them into contiguous
// stages. Rulesets sharing a start collapse into one stage, the highest
// ruleset id winning. The final stage is open-ended.
func BuildStages(rulesets []ParsedRuleset) []Stage {
	if len(rulesets) == 0 {
		return nil
	}

	ordered := make([]ParsedRuleset, len(rulesets))
	copy(ordered, rulesets)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Start != ordered[j].Start {
			return ordered[i].Start < ordered[j].Start
		}
		return ordered[i].RulesetID < ordered[j].RulesetID
	})

	collapsed := ordered[:0]
	for _, rs := range ordered {
		if n := len(collapsed); n > 0 && collapsed[n-1].Start == rs.Start {
			collapsed[n-1] = rs
			continue
		}
		collapsed = append(collapsed, rs)
	}

	stages := make([]Stage, len(collapsed))
	for i, rs := range collapsed {
		stages[i] = Stage{
			Stage:            i + 1,
			Start:            rs.Start * 1000,
			Duration:         rs.Duration,
			Weight:           rs.Weight,
			WeightCutPercent: clampFraction(rs.WeightCutPercent),
			ReservedPercent:  rs.ReservedPercent,
			CashOutTaxRate:   rs.CashOutTaxRate,
		}
		if i > 0 {
			end := stages[i].Start
			stages[i-1].End = &end
		}
	}
	return stages
}

func clampFraction(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	default:
		return f
	}
}
