package cashout

import (
	"math/big"
	"sort"

	"tokenscope/internal/issuance"
	"tokenscope/internal/numeric"
)

// reservedDenominator is the scale of ReservedPercent.
const reservedDenominator = 10_000

// ReplayInput drives the payment-event fallback.
type ReplayInput struct {
	Rulesets []issuance.ParsedRuleset
	Events   []PayEvent
	CashoutA any
	CashoutB any
	Fees     Fees
}

// ReplayEvents rebuilds balance and supply per chain by replaying payments in
// timestamp order, valuing each step with the project's current coefficients.
// An empty ruleset list yields no series. Events whose amount cannot be
// coerced are skipped.
func ReplayEvents(in ReplayInput) []Series {
	if len(in.Rulesets) == 0 {
		return nil
	}

	a := numeric.BigIntOrZero(in.CashoutA)
	b := numeric.BigIntOrZero(in.CashoutB)
	timelines := newTimelines(in.Rulesets)

	byChain := make(map[int64][]PayEvent)
	for _, ev := range in.Events {
		byChain[ev.ChainID] = append(byChain[ev.ChainID], ev)
	}

	out := make([]Series, 0, len(byChain))
	for _, chainID := range sortedKeys(byChain) {
		events := byChain[chainID]
		sort.SliceStable(events, func(i, j int) bool { return events[i].Timestamp < events[j].Timestamp })

		timeline := timelines[chainID]
		balance := new(big.Int)
		supply := new(big.Int)
		points := make([]Point, 0, len(events))

		for _, ev := range events {
			amount, ok := numeric.BigInt(ev.Amount)
			if !ok || amount.Sign() < 0 {
				continue
			}

			balance = new(big.Int).Add(balance, amount)
			minted := issuedTokens(ev)
			if rs, found := timeline.match(ev); found {
				minted = grossUpReserved(minted, rs.ReservedPercent)
			}
			supply = new(big.Int).Add(supply, minted)

			points = append(points, Point{
				ChainID:   chainID,
				Timestamp: ev.Timestamp * 1000,
				Balance:   balance,
				Supply:    supply,
				Value:     ComputeCashOutValue(balance, a, b, in.Fees),
				Source:    SourceReplay,
			})
		}

		if len(points) > 0 {
			out = append(out, Series{ChainID: chainID, Points: points})
		}
	}
	return out
}

// issuedTokens prefers the newly minted count, which excludes tokens routed
// through secondary markets, and falls back to the effective count.
func issuedTokens(ev PayEvent) *big.Int {
	if minted := numeric.BigIntOrZero(ev.NewlyIssuedTokenCount); minted.Sign() > 0 {
		return minted
	}
	return numeric.BigIntOrZero(ev.EffectiveTokenCount)
}

// grossUpReserved adds the reserved mint implied by a payer receiving
// beneficiary tokens under reservedPercent.
func grossUpReserved(beneficiary *big.Int, reservedPercent int64) *big.Int {
	if reservedPercent <= 0 || reservedPercent >= reservedDenominator || beneficiary.Sign() == 0 {
		return beneficiary
	}
	reserved := new(big.Int).Mul(beneficiary, big.NewInt(reservedPercent))
	reserved.Quo(reserved, big.NewInt(reservedDenominator-reservedPercent))
	return new(big.Int).Add(beneficiary, reserved)
}

// timeline holds one chain's rulesets ordered by start and by id. Ruleset ids
// are only ever compared within a chain.
type timeline struct {
	byStart []issuance.ParsedRuleset
	byID    []issuance.ParsedRuleset
}

func newTimelines(rulesets []issuance.ParsedRuleset) map[int64]timeline {
	grouped := make(map[int64][]issuance.ParsedRuleset)
	for _, rs := range rulesets {
		grouped[rs.ChainID] = append(grouped[rs.ChainID], rs)
	}

	out := make(map[int64]timeline, len(grouped))
	for chainID, list := range grouped {
		byStart := append([]issuance.ParsedRuleset(nil), list...)
		sort.SliceStable(byStart, func(i, j int) bool {
			if byStart[i].Start != byStart[j].Start {
				return byStart[i].Start < byStart[j].Start
			}
			return byStart[i].RulesetID < byStart[j].RulesetID
		})
		byID := append([]issuance.ParsedRuleset(nil), list...)
		sort.SliceStable(byID, func(i, j int) bool { return byID[i].RulesetID < byID[j].RulesetID })
		out[chainID] = timeline{byStart: byStart, byID: byID}
	}
	return out
}

// match returns the ruleset active at the event timestamp, or failing that
// the ruleset with the greatest id not above the event's ruleset id.
func (t timeline) match(ev PayEvent) (issuance.ParsedRuleset, bool) {
	if i := sort.Search(len(t.byStart), func(i int) bool { return t.byStart[i].Start > ev.Timestamp }); i > 0 {
		return t.byStart[i-1], true
	}

	id := numeric.Int(ev.RulesetID)
	if i := sort.Search(len(t.byID), func(i int) bool { return t.byID[i].RulesetID > id }); i > 0 {
		return t.byID[i-1], true
	}
	return issuance.ParsedRuleset{}, false
}
