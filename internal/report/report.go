// Package report composes stored indexer data with the analytics engines.
// Reads for one project are fetched concurrently on a shared worker pool and
// memoized per (kind, chain, project).
package report

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/rs/zerolog"

	"tokenscope/internal/cache"
	"tokenscope/internal/cashout"
	"tokenscope/internal/holders"
	"tokenscope/internal/issuance"
	"tokenscope/internal/metrics"
	"tokenscope/internal/storage"
)

// ErrProjectNotFound is returned when the project is not indexed on the chain.
var ErrProjectNotFound = errors.New("report: project not found")

const (
	KindIssuance = "issuance"
	KindCashOut  = "cashout"
	KindHolders  = "holders"
)

// Stores groups the readers a Reader draws on.
type Stores struct {
	Projects     storage.ProjectReader
	Rulesets     storage.RulesetReader
	Snapshots    storage.SnapshotReader
	PayEvents    storage.PayEventReader
	Participants storage.ParticipantReader
}

// StoresFrom uses one implementation for every reader.
func StoresFrom(s *storage.Store) Stores {
	return Stores{Projects: s, Rulesets: s, Snapshots: s, PayEvents: s, Participants: s}
}

// Options tune a Reader. Zero values fall back to defaults.
type Options struct {
	Fees    cashout.Fees
	Memo    *cache.Memo
	Pool    pond.Pool
	Metrics *metrics.Metrics
	Now     func() time.Time
}

// Reader serves issuance, cash-out and holder reports.
type Reader struct {
	stores  Stores
	fees    cashout.Fees
	memo    *cache.Memo
	pool    pond.Pool
	metrics *metrics.Metrics
	now     func() time.Time
	logger  zerolog.Logger
}

// NewReader wires stores and options into a Reader.
func NewReader(stores Stores, opts Options, logger zerolog.Logger) *Reader {
	pool := opts.Pool
	if pool == nil {
		pool = pond.NewPool(8, pond.WithQueueSize(64))
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Reader{
		stores:  stores,
		fees:    opts.Fees,
		memo:    opts.Memo,
		pool:    pool,
		metrics: opts.Metrics,
		now:     now,
		logger:  logger.With().Str("component", "report").Logger(),
	}
}

// IssuanceReport is the issuance schedule of one deployment.
type IssuanceReport struct {
	ChainID     int64            `json:"chainId"`
	ProjectID   int64            `json:"projectId"`
	GeneratedAt int64            `json:"generatedAt"` // unix ms
	Stages      []issuance.Stage `json:"stages"`
	Chart       []issuance.Point `json:"chart"`
	Summary     issuance.Summary `json:"summary"`
}

// CashOutReport is the cash-out history of a project across its chains.
type CashOutReport struct {
	ChainID       int64              `json:"chainId"`
	ProjectID     int64              `json:"projectId"`
	SuckerGroupID string             `json:"suckerGroupId"`
	TokenSymbol   string             `json:"tokenSymbol"`
	Decimals      int32              `json:"decimals"`
	Series        []cashout.Series   `json:"series"`
	Latest        map[int64]*big.Int `json:"latest"`
	Total         *big.Int           `json:"total"`
}

// HoldersReport is the holder activity history of a project.
type HoldersReport struct {
	ChainID       int64               `json:"chainId"`
	ProjectID     int64               `json:"projectId"`
	SuckerGroupID string              `json:"suckerGroupId"`
	Points        []holders.DataPoint `json:"points"`
}

// PurgeExpired drops expired memoized reports held in process and returns how
// many remain.
func (r *Reader) PurgeExpired() int {
	return r.memo.Purge()
}

// Issuance builds stages, the chart up to now+horizon, and the summary at now.
func (r *Reader) Issuance(ctx context.Context, chainID, projectID int64, horizon time.Duration) (IssuanceReport, error) {
	key := cache.Key(KindIssuance, itoa(chainID), itoa(projectID), itoa(int64(horizon/time.Second)))
	return cache.Memoize(ctx, r.memo, key, func(ctx context.Context) (IssuanceReport, error) {
		defer r.metrics.ObserveReport(KindIssuance, time.Now())

		raws, err := r.stores.Rulesets.ListRulesets(ctx, chainID, projectID)
		if err != nil {
			return IssuanceReport{}, fmt.Errorf("issuance %d/%d: %w", chainID, projectID, err)
		}

		now := r.now()
		nowSec := now.Unix()
		stages := issuance.BuildStages(issuance.ParseRulesets(raws))
		active := issuance.FindActiveStageIndex(stages, nowSec)

		rep := IssuanceReport{
			ChainID:     chainID,
			ProjectID:   projectID,
			GeneratedAt: now.UnixMilli(),
			Stages:      stages,
			Chart:       issuance.BuildChartData(stages, nowSec+int64(horizon/time.Second)),
			Summary:     issuance.BuildSummary(stages, active, nowSec),
		}
		r.logger.Debug().
			Int64("chain_id", chainID).
			Int64("project_id", projectID).
			Int("stages", len(stages)).
			Int("points", len(rep.Chart)).
			Msg("built issuance report")
		return rep, nil
	})
}

// CashOut reconstructs the per-chain cash-out value history of the project's
// sucker group.
func (r *Reader) CashOut(ctx context.Context, chainID, projectID int64) (CashOutReport, error) {
	key := cache.Key(KindCashOut, itoa(chainID), itoa(projectID))
	return cache.Memoize(ctx, r.memo, key, func(ctx context.Context) (CashOutReport, error) {
		defer r.metrics.ObserveReport(KindCashOut, time.Now())

		project, err := r.project(ctx, chainID, projectID)
		if err != nil {
			return CashOutReport{}, err
		}

		var (
			snapshots []cashout.Snapshot
			raws      []issuance.RawRuleset
			events    []cashout.PayEvent
		)
		group := r.pool.NewGroupContext(ctx)
		groupCtx := group.Context()
		group.SubmitErr(
			func() (err error) {
				snapshots, err = r.stores.Snapshots.ListCashoutSnapshots(groupCtx, project.SuckerGroupID)
				return err
			},
			func() (err error) {
				raws, err = r.stores.Rulesets.ListGroupRulesets(groupCtx, project.SuckerGroupID)
				return err
			},
			func() (err error) {
				events, err = r.stores.PayEvents.ListPayEvents(groupCtx, project.SuckerGroupID)
				return err
			},
		)
		if err := group.Wait(); err != nil {
			return CashOutReport{}, fmt.Errorf("cashout %d/%d: %w", chainID, projectID, err)
		}

		series := cashout.ReconstructHistory(cashout.HistoryInput{
			Snapshots: snapshots,
			Rulesets:  issuance.ParseRulesets(raws),
			Events:    events,
			CashoutA:  project.CashoutA,
			CashoutB:  project.CashoutB,
			Fees:      r.fees,
		})

		r.logger.Debug().
			Int64("chain_id", chainID).
			Int64("project_id", projectID).
			Int("snapshots", len(snapshots)).
			Int("events", len(events)).
			Int("series", len(series)).
			Msg("built cashout report")

		return CashOutReport{
			ChainID:       chainID,
			ProjectID:     projectID,
			SuckerGroupID: project.SuckerGroupID,
			TokenSymbol:   project.TokenSymbol,
			Decimals:      project.Decimals,
			Series:        series,
			Latest:        cashout.Latest(series),
			Total:         cashout.Total(series),
		}, nil
	})
}

// Holders aggregates holder counts and median contributions over time.
func (r *Reader) Holders(ctx context.Context, chainID, projectID int64) (HoldersReport, error) {
	key := cache.Key(KindHolders, itoa(chainID), itoa(projectID))
	return cache.Memoize(ctx, r.memo, key, func(ctx context.Context) (HoldersReport, error) {
		defer r.metrics.ObserveReport(KindHolders, time.Now())

		project, err := r.project(ctx, chainID, projectID)
		if err != nil {
			return HoldersReport{}, err
		}

		var (
			participants []holders.Participant
			payments     []holders.Payment
		)
		group := r.pool.NewGroupContext(ctx)
		groupCtx := group.Context()
		group.SubmitErr(
			func() (err error) {
				participants, err = r.stores.Participants.ListParticipants(groupCtx, project.SuckerGroupID)
				return err
			},
			func() (err error) {
				payments, err = r.stores.Participants.ListHolderPayments(groupCtx, project.SuckerGroupID)
				return err
			},
		)
		if err := group.Wait(); err != nil {
			return HoldersReport{}, fmt.Errorf("holders %d/%d: %w", chainID, projectID, err)
		}

		return HoldersReport{
			ChainID:       chainID,
			ProjectID:     projectID,
			SuckerGroupID: project.SuckerGroupID,
			Points:        holders.Aggregate(participants, payments, r.now().Unix()),
		}, nil
	})
}

func (r *Reader) project(ctx context.Context, chainID, projectID int64) (storage.Project, error) {
	project, err := r.stores.Projects.GetProject(ctx, chainID, projectID)
	if errors.Is(err, storage.ErrNotFound) {
		return storage.Project{}, fmt.Errorf("%w: %d on chain %d", ErrProjectNotFound, projectID, chainID)
	}
	if err != nil {
		return storage.Project{}, fmt.Errorf("load project %d/%d: %w", chainID, projectID, err)
	}
	return project, nil
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}
