package app

import (
	"context"
	"errors"
	"fmt"

	"tokenscope/internal/config"
	"tokenscope/internal/service"
)

// SimulateAlert sends the alert for a project's next issuance change right
// away, regardless of the configured lead time. Nothing is recorded.
func (a *App) SimulateAlert(ctx context.Context, opts ProjectOptions) error {
	if !a.Config.Alerting.Enabled {
		return errors.New("alerting is disabled")
	}

	notifier := a.newNotifier()
	if notifier == nil {
		return errors.New("no alert channel configured")
	}

	store, closeStore, err := a.requireStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	reader, closeReader, err := a.newReader(ctx, store, nil)
	if err != nil {
		return err
	}
	defer closeReader()

	svc := service.New(a.Config, service.Deps{Reports: reader, Projects: store}, a.Logger)
	note, ok, err := svc.Preview(ctx, config.ProjectRef{ChainID: opts.ChainID, ProjectID: opts.ProjectID})
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("project %d on chain %d has no scheduled issuance change", opts.ProjectID, opts.ChainID)
	}

	note.AdditionalMsg = "(simulated)"
	a.Logger.Info().
		Int64("chain_id", opts.ChainID).
		Int64("project_id", opts.ProjectID).
		Str("change_type", note.ChangeType).
		Time("change_at", note.ChangeAt).
		Msg("sending simulated alert")
	return notifier.Notify(ctx, note)
}
