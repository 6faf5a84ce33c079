package holders

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"tokenscope/internal/numeric"
)

// Participant is a holder row. FirstOwned and CreatedAt are unix seconds.
type Participant struct {
	Address    string
	Balance    any
	FirstOwned *int64
	CreatedAt  int64
}

// Payment is a contribution attributed to a payer address.
type Payment struct {
	Payer     string
	Amount    any
	Timestamp int64 // seconds
}

// DataPoint is one sample of the holder history.
type DataPoint struct {
	Timestamp          int64           `json:"timestamp"` // unix ms
	Holders            int             `json:"holders"`
	MedianContribution decimal.Decimal `json:"medianContribution"`
}

type contribution struct {
	holder string
	amount decimal.Decimal
}

// ActivationTime resolves when a holder joined: the earlier of FirstOwned and
// their earliest payment, or CreatedAt when neither is known.
func ActivationTime(p Participant, earliestPayment *int64) int64 {
	switch {
	case p.FirstOwned != nil && earliestPayment != nil:
		return min(*p.FirstOwned, *earliestPayment)
	case p.FirstOwned != nil:
		return *p.FirstOwned
	case earliestPayment != nil:
		return *earliestPayment
	default:
		return p.CreatedAt
	}
}

// Aggregate buckets holder activations and payments and returns the
// cumulative holder count and median contribution per bucket, forward-filled
// across quiet buckets. When nowSec lies in a later bucket than the last
// activity, a final point at nowSec carries the last values forward.
//
// Only holders with a positive balance count. Payments from addresses that are
// not current holders are ignored.
func Aggregate(participants []Participant, payments []Payment, nowSec int64) []DataPoint {
	if len(participants) == 0 || len(payments) == 0 {
		return nil
	}

	current := make(map[string]Participant)
	for _, p := range participants {
		if bal, ok := numeric.Decimal(p.Balance); !ok || !bal.IsPositive() {
			continue
		}
		current[normalizeAddress(p.Address)] = p
	}
	if len(current) == 0 {
		return nil
	}

	matched := make([]Payment, 0, len(payments))
	earliest := make(map[string]int64)
	for _, pay := range payments {
		payer := normalizeAddress(pay.Payer)
		if _, ok := current[payer]; !ok {
			continue
		}
		pay.Payer = payer
		matched = append(matched, pay)
		if ts, seen := earliest[payer]; !seen || pay.Timestamp < ts {
			earliest[payer] = pay.Timestamp
		}
	}

	activations := make(map[string]int64, len(current))
	var minTs, maxTs int64
	first := true
	observe := func(ts int64) {
		if first {
			minTs, maxTs, first = ts, ts, false
			return
		}
		minTs = min(minTs, ts)
		maxTs = max(maxTs, ts)
	}

	for addr, p := range current {
		var paid *int64
		if ts, ok := earliest[addr]; ok {
			paid = &ts
		}
		activations[addr] = ActivationTime(p, paid)
		observe(activations[addr])
	}
	for _, pay := range matched {
		observe(pay.Timestamp)
	}

	width := ChooseBucket(minTs, maxTs)
	joined := make(map[int64][]string)
	for addr, ts := range activations {
		b := floorDiv(ts, width)
		joined[b] = append(joined[b], addr)
	}
	paid := make(map[int64][]contribution)
	for _, pay := range matched {
		b := floorDiv(pay.Timestamp, width)
		paid[b] = append(paid[b], contribution{holder: pay.Payer, amount: numeric.DecimalOrZero(pay.Amount)})
	}

	firstBucket, lastBucket := floorDiv(minTs, width), floorDiv(maxTs, width)
	acc := newAccumulator()
	points := make([]DataPoint, 0, lastBucket-firstBucket+2)

	for b := firstBucket; b <= lastBucket; b++ {
		acc.activate(joined[b])
		acc.contribute(paid[b])
		points = append(points, DataPoint{
			Timestamp:          b * width * 1000,
			Holders:            acc.holders(),
			MedianContribution: acc.median(),
		})
	}

	if floorDiv(nowSec, width) > lastBucket {
		last := points[len(points)-1]
		points = append(points, DataPoint{
			Timestamp:          nowSec * 1000,
			Holders:            last.Holders,
			MedianContribution: last.MedianContribution,
		})
	}
	return points
}

// accumulator carries the running state of a bucket walk. Holders are never
// removed once active.
type accumulator struct {
	active      map[string]struct{}
	contributed map[string]decimal.Decimal
	lastMedian  decimal.Decimal
	dirty       bool
}

func newAccumulator() *accumulator {
	return &accumulator{
		active:      make(map[string]struct{}),
		contributed: make(map[string]decimal.Decimal),
	}
}

func (a *accumulator) activate(addrs []string) {
	for _, addr := range addrs {
		if _, ok := a.active[addr]; !ok {
			a.active[addr] = struct{}{}
			a.dirty = true
		}
	}
}

func (a *accumulator) contribute(items []contribution) {
	for _, c := range items {
		a.contributed[c.holder] = a.contributed[c.holder].Add(c.amount)
		a.dirty = true
	}
}

func (a *accumulator) holders() int {
	return len(a.active)
}

// median recomputes only after new activity; quiet buckets reuse the last
// value.
func (a *accumulator) median() decimal.Decimal {
	if !a.dirty {
		return a.lastMedian
	}
	values := make([]decimal.Decimal, 0, len(a.active))
	for addr := range a.active {
		if amt, ok := a.contributed[addr]; ok && amt.IsPositive() {
			values = append(values, amt)
		}
	}
	a.lastMedian = Median(values)
	a.dirty = false
	return a.lastMedian
}

// Median returns the middle value of values, the mean of the two middle values
// for even counts, or zero for an empty set. values is not modified.
func Median(values []decimal.Decimal) decimal.Decimal {
	if len(values) == 0 {
		return decimal.Zero
	}
	sorted := make([]decimal.Decimal, len(values))
	copy(sorted, values)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].LessThan(sorted[j]) })

	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return sorted[mid-1].Add(sorted[mid]).Div(decimal.NewFromInt(2))
}

func normalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}
