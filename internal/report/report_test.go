package report

import (
	"context"
	"errors"
	"math/big"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tokenscope/internal/cache"
	"tokenscope/internal/cashout"
	"tokenscope/internal/holders"
	"tokenscope/internal/issuance"
	"tokenscope/internal/storage"
)

type fakeStore struct {
	project      *storage.Project
	rulesets     []issuance.RawRuleset
	snapshots    []cashout.Snapshot
	events       []cashout.PayEvent
	participants []holders.Participant
	payments     []holders.Payment
	eventsErr    error

	rulesetCalls atomic.Int32
}

func (f *fakeStore) GetProject(_ context.Context, chainID, projectID int64) (storage.Project, error) {
	if f.project == nil || f.project.ChainID != chainID || f.project.ProjectID != projectID {
		return storage.Project{}, storage.ErrNotFound
	}
	return *f.project, nil
}

func (f *fakeStore) ListRulesets(context.Context, int64, int64) ([]issuance.RawRuleset, error) {
	f.rulesetCalls.Add(1)
	return f.rulesets, nil
}

func (f *fakeStore) ListGroupRulesets(context.Context, string) ([]issuance.RawRuleset, error) {
	return f.rulesets, nil
}

func (f *fakeStore) ListCashoutSnapshots(context.Context, string) ([]cashout.Snapshot, error) {
	return f.snapshots, nil
}

func (f *fakeStore) ListPayEvents(context.Context, string) ([]cashout.PayEvent, error) {
	return f.events, f.eventsErr
}

func (f *fakeStore) ListParticipants(context.Context, string) ([]holders.Participant, error) {
	return f.participants, nil
}

func (f *fakeStore) ListHolderPayments(context.Context, string) ([]holders.Payment, error) {
	return f.payments, nil
}

func (f *fakeStore) stores() Stores {
	return Stores{Projects: f, Rulesets: f, Snapshots: f, PayEvents: f, Participants: f}
}

func newTestReader(t *testing.T, f *fakeStore, memo *cache.Memo) *Reader {
	t.Helper()
	pool := pond.NewPool(4)
	t.Cleanup(pool.StopAndWait)
	return NewReader(f.stores(), Options{
		Fees: cashout.DefaultFees(),
		Memo: memo,
		Pool: pool,
		Now:  func() time.Time { return time.Unix(2000, 0) },
	}, zerolog.Nop())
}

func testProject() *storage.Project {
	return &storage.Project{
		ChainID:       1,
		ProjectID:     7,
		SuckerGroupID: "group-7",
		TokenSymbol:   "REV",
		Decimals:      18,
		CashoutA:      "1000000000000000000",
		CashoutB:      "0",
	}
}

func TestIssuanceReport(t *testing.T) {
	f := &fakeStore{rulesets: []issuance.RawRuleset{{
		ChainID:   1,
		ProjectID: 7,
		RulesetID: "1",
		Start:     "1000",
		Weight:    "2000000000000000000",
	}}}
	r := newTestReader(t, f, nil)

	rep, err := r.Issuance(context.Background(), 1, 7, 0)
	require.NoError(t, err)

	require.Len(t, rep.Stages, 1)
	require.NotNil(t, rep.Summary.CurrentIssuance)
	assert.InDelta(t, 2.0, *rep.Summary.CurrentIssuance, 1e-12)
	assert.Equal(t, []issuance.Point{
		{Timestamp: 1_000_000, IssuancePrice: 0.5},
		{Timestamp: 2_000_000, IssuancePrice: 0.5},
	}, rep.Chart)
	assert.Equal(t, int64(2_000_000), rep.GeneratedAt)
}

func TestIssuanceReportMemoized(t *testing.T) {
	f := &fakeStore{rulesets: []issuance.RawRuleset{{ChainID: 1, ProjectID: 7, RulesetID: "1", Start: "1000", Weight: "1000000000000000000"}}}
	memo := cache.NewMemo(cache.NewMemory(), time.Minute, zerolog.Nop(), nil)
	r := newTestReader(t, f, memo)

	first, err := r.Issuance(context.Background(), 1, 7, time.Hour)
	require.NoError(t, err)
	second, err := r.Issuance(context.Background(), 1, 7, time.Hour)
	require.NoError(t, err)

	assert.Equal(t, int32(1), f.rulesetCalls.Load())
	assert.Equal(t, first.Chart, second.Chart)
	assert.Equal(t, first.Summary.CurrentIssuance, second.Summary.CurrentIssuance)
	assert.Equal(t, 1, r.PurgeExpired(), "live entries survive a purge")
}

func TestPurgeExpiredWithoutMemo(t *testing.T) {
	r := newTestReader(t, &fakeStore{}, nil)
	assert.Equal(t, 0, r.PurgeExpired())
}

func TestCashOutReportFromSnapshots(t *testing.T) {
	f := &fakeStore{
		project: testProject(),
		snapshots: []cashout.Snapshot{{
			ChainID:   1,
			Timestamp: 1500,
			CashoutA:  "1000000000000000000",
			CashoutB:  "0",
			Balance:   "1000000000000000000",
		}},
	}
	r := newTestReader(t, f, nil)

	rep, err := r.CashOut(context.Background(), 1, 7)
	require.NoError(t, err)

	want, _ := new(big.Int).SetString("950625000000000000", 10)
	require.Len(t, rep.Series, 1)
	assert.Equal(t, "group-7", rep.SuckerGroupID)
	assert.Equal(t, 0, want.Cmp(rep.Latest[1]))
	assert.Equal(t, 0, want.Cmp(rep.Total))
}

func TestCashOutReportPropagatesFetchErrors(t *testing.T) {
	boom := errors.New("boom")
	f := &fakeStore{project: testProject(), eventsErr: boom}
	r := newTestReader(t, f, nil)

	_, err := r.CashOut(context.Background(), 1, 7)
	require.ErrorIs(t, err, boom)
}

func TestReportProjectNotFound(t *testing.T) {
	r := newTestReader(t, &fakeStore{}, nil)

	_, err := r.CashOut(context.Background(), 1, 7)
	require.ErrorIs(t, err, ErrProjectNotFound)
	_, err = r.Holders(context.Background(), 1, 7)
	require.ErrorIs(t, err, ErrProjectNotFound)
}

func TestHoldersReport(t *testing.T) {
	owned := int64(1000)
	f := &fakeStore{
		project: testProject(),
		participants: []holders.Participant{
			{Address: "0xA", Balance: "10", FirstOwned: &owned, CreatedAt: 1000},
		},
		payments: []holders.Payment{
			{Payer: "0xa", Amount: "5", Timestamp: 1000},
		},
	}
	r := newTestReader(t, f, nil)

	rep, err := r.Holders(context.Background(), 1, 7)
	require.NoError(t, err)
	require.NotEmpty(t, rep.Points)
	assert.Equal(t, 1, rep.Points[0].Holders)
	assert.Equal(t, "5", rep.Points[0].MedianContribution.String())
	assert.Equal(t, int64(2_000_000), rep.Points[len(rep.Points)-1].Timestamp)
}
