package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"tokenscope/internal/alerting"
	"tokenscope/internal/config"
	"tokenscope/internal/issuance"
	"tokenscope/internal/metrics"
	"tokenscope/internal/report"
	"tokenscope/internal/scheduler"
	"tokenscope/internal/storage"
)

// IssuanceSource supplies issuance reports.
type IssuanceSource interface {
	Issuance(ctx context.Context, chainID, projectID int64, horizon time.Duration) (report.IssuanceReport, error)
}

// Expirer drops expired memoized reads.
type Expirer interface {
	PurgeExpired() int
}

// Deps are the collaborators of the watch service. Only Reports is required.
type Deps struct {
	Scheduler  *scheduler.Scheduler
	Reports    IssuanceSource
	Expirer    Expirer
	Projects   storage.ProjectReader
	AlertStore storage.AlertStore
	Locker     storage.AdvisoryLocker
	Notifier   alerting.Notifier
	Metrics    *metrics.Metrics
}

// Service watches configured projects and alerts ahead of issuance changes.
type Service struct {
	scheduler  *scheduler.Scheduler
	reports    IssuanceSource
	expirer    Expirer
	projects   storage.ProjectReader
	alertStore storage.AlertStore
	notifier   alerting.Notifier
	locker     storage.AdvisoryLocker
	metrics    *metrics.Metrics
	logger     zerolog.Logger
	now        func() time.Time

	watched   []config.ProjectRef
	leadTime  time.Duration
	retention time.Duration
	channels  []string
	alertsOn  bool
	lockKey   int64
}

// New constructs the watch service.
func New(cfg *config.Config, deps Deps, logger zerolog.Logger) *Service {
	return &Service{
		scheduler:  deps.Scheduler,
		reports:    deps.Reports,
		expirer:    deps.Expirer,
		projects:   deps.Projects,
		alertStore: deps.AlertStore,
		notifier:   deps.Notifier,
		locker:     deps.Locker,
		metrics:    deps.Metrics,
		logger:     logger.With().Str("component", "service").Logger(),
		now:        func() time.Time { return time.Now().UTC() },
		watched:    cfg.Projects,
		leadTime:   cfg.Alerting.LeadTime,
		retention:  cfg.Alerting.Retention,
		channels:   cfg.Alerting.Channels,
		alertsOn:   cfg.Alerting.Enabled,
		lockKey:    cfg.Scheduler.AdvisoryLockKey,
	}
}

// Run begins the aligned watch loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	if s.reports == nil {
		return fmt.Errorf("report reader not configured")
	}
	if len(s.watched) == 0 {
		s.logger.Warn().Msg("no projects configured; ticks will be idle")
	}
	return s.scheduler.Run(ctx, s.ProcessBucket)
}

// ProcessBucket evaluates every watched project once.
func (s *Service) ProcessBucket(ctx context.Context, bucket time.Time) (err error) {
	defer func() { s.metrics.ObserveTick(err) }()

	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Time("bucket", bucket).Msg("skip bucket because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	now := s.now()
	var errs []error
	for _, ref := range s.watched {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.evaluate(ctx, ref, now); err != nil {
			s.logger.Error().Err(err).
				Int64("chain_id", ref.ChainID).
				Int64("project_id", ref.ProjectID).
				Msg("project evaluation failed")
			errs = append(errs, err)
		}
	}

	s.pruneAlerts(ctx, now)
	s.purgeCache()
	return errors.Join(errs...)
}

func (s *Service) evaluate(ctx context.Context, ref config.ProjectRef, now time.Time) error {
	rep, err := s.reports.Issuance(ctx, ref.ChainID, ref.ProjectID, 0)
	if err != nil {
		return fmt.Errorf("issuance %d/%d: %w", ref.ChainID, ref.ProjectID, err)
	}

	sum := summaryAt(rep.Stages, now)
	log := s.logger.With().Int64("chain_id", ref.ChainID).Int64("project_id", ref.ProjectID).Logger()
	if sum.NextChangeAt == nil || sum.NextChangeType == issuance.ChangeNone {
		log.Debug().Msg("no scheduled issuance change")
		return nil
	}

	changeAt := time.UnixMilli(*sum.NextChangeAt).UTC()
	until := changeAt.Sub(now)
	if until <= 0 || until > s.leadTime {
		log.Debug().Time("change_at", changeAt).Dur("until", until).Msg("issuance change outside lead time")
		return nil
	}

	note := s.notification(ctx, ref, sum, now)

	log.Info().
		Str("change_type", note.ChangeType).
		Time("change_at", changeAt).
		Str("current", note.CurrentIssuance.String()).
		Str("next", note.NextIssuance.String()).
		Msg("issuance change approaching")

	if !s.alertsOn || s.notifier == nil {
		return nil
	}

	if s.alertStore != nil {
		_, inserted, err := s.alertStore.InsertIssuanceAlert(ctx, storage.IssuanceAlert{
			ChainID:         ref.ChainID,
			ProjectID:       ref.ProjectID,
			ChangeAt:        changeAt,
			ChangeType:      note.ChangeType,
			CurrentIssuance: note.CurrentIssuance,
			NextIssuance:    note.NextIssuance,
			Channels:        s.channels,
		})
		if err != nil {
			return fmt.Errorf("record alert: %w", err)
		}
		if !inserted {
			log.Debug().Time("change_at", changeAt).Msg("change already alerted")
			return nil
		}
	}

	if err := s.notifier.Notify(ctx, note); err != nil {
		return fmt.Errorf("dispatch alert: %w", err)
	}
	s.metrics.ObserveAlert(note.ChangeType)
	return nil
}

// Preview builds the notification for the project's next change without
// applying the lead time or recording it. ok is false when no change is scheduled.
func (s *Service) Preview(ctx context.Context, ref config.ProjectRef) (note alerting.Notification, ok bool, err error) {
	rep, err := s.reports.Issuance(ctx, ref.ChainID, ref.ProjectID, 0)
	if err != nil {
		return alerting.Notification{}, false, fmt.Errorf("issuance %d/%d: %w", ref.ChainID, ref.ProjectID, err)
	}
	now := s.now()
	sum := summaryAt(rep.Stages, now)
	if sum.NextChangeAt == nil || sum.NextChangeType == issuance.ChangeNone {
		return alerting.Notification{}, false, nil
	}
	return s.notification(ctx, ref, sum, now), true, nil
}

// summaryAt rebuilds the summary at now. The report may be memoized, so its
// own summary can lag behind a boundary that passed since it was cached.
func summaryAt(stages []issuance.Stage, now time.Time) issuance.Summary {
	nowSec := now.Unix()
	return issuance.BuildSummary(stages, issuance.FindActiveStageIndex(stages, nowSec), nowSec)
}

func (s *Service) notification(ctx context.Context, ref config.ProjectRef, sum issuance.Summary, now time.Time) alerting.Notification {
	return alerting.Notification{
		ChainID:         ref.ChainID,
		ProjectID:       ref.ProjectID,
		TokenSymbol:     s.tokenSymbol(ctx, ref),
		ChangeType:      string(sum.NextChangeType),
		ChangeAt:        time.UnixMilli(*sum.NextChangeAt).UTC(),
		Now:             now,
		CurrentIssuance: floatDecimal(sum.CurrentIssuance),
		NextIssuance:    floatDecimal(sum.NextIssuance),
		ReservedPercent: sum.ReservedPercent,
		ActiveStage:     sum.ActiveStage,
		NextStage:       sum.NextStage,
		Channels:        s.channels,
	}
}

func (s *Service) tokenSymbol(ctx context.Context, ref config.ProjectRef) string {
	if s.projects == nil {
		return ""
	}
	project, err := s.projects.GetProject(ctx, ref.ChainID, ref.ProjectID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.logger.Warn().Err(err).Int64("project_id", ref.ProjectID).Msg("failed to load project metadata")
		}
		return ""
	}
	return project.TokenSymbol
}

func (s *Service) pruneAlerts(ctx context.Context, now time.Time) {
	if s.alertStore == nil || s.retention <= 0 {
		return
	}
	if err := s.alertStore.DeleteAlertsBefore(ctx, now.Add(-s.retention)); err != nil {
		s.logger.Warn().Err(err).Msg("failed to prune alert history")
	}
}

func (s *Service) purgeCache() {
	if s.expirer == nil {
		return
	}
	remaining := s.expirer.PurgeExpired()
	s.logger.Debug().Int("cache_entries", remaining).Msg("purged expired cache entries")
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}

func floatDecimal(v *float64) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return decimal.NewFromFloat(*v)
}
