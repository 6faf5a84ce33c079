package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"tokenscope/internal/cashout"
	"tokenscope/internal/holders"
	"tokenscope/internal/issuance"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
	// ErrNotFound is returned when a single-row lookup matches nothing.
	ErrNotFound = errors.New("storage: not found")
)

const (
	getProjectSQL = `SELECT
        chain_id,
        project_id,
        sucker_group_id,
        token_symbol,
        decimals,
        cashout_a::text,
        cashout_b::text,
        balance::text
    FROM projects
    WHERE chain_id = $1
      AND project_id = $2;`

	listRulesetsSQL = `SELECT
        chain_id,
        project_id,
        ruleset_id::text,
        start::text,
        duration::text,
        weight::text,
        weight_cut_percent::text,
        reserved_percent::text,
        cash_out_tax_rate::text
    FROM rulesets
    WHERE chain_id = $1
      AND project_id = $2
    ORDER BY start, ruleset_id;`

	listGroupRulesetsSQL = `SELECT
        r.chain_id,
        r.project_id,
        r.ruleset_id::text,
        r.start::text,
        r.duration::text,
        r.weight::text,
        r.weight_cut_percent::text,
        r.reserved_percent::text,
        r.cash_out_tax_rate::text
    FROM rulesets r
    JOIN projects p
      ON p.chain_id = r.chain_id
     AND p.project_id = r.project_id
    WHERE p.sucker_group_id = $1
    ORDER BY r.chain_id, r.start, r.ruleset_id;`

	listCashoutSnapshotsSQL = `SELECT
        chain_id,
        timestamp,
        cashout_a::text,
        cashout_b::text,
        balance::text,
        total_supply::text,
        cash_out_tax_rate
    FROM cashout_snapshots
    WHERE sucker_group_id = $1
    ORDER BY chain_id, timestamp;`

	listPayEventsSQL = `SELECT
        chain_id,
        timestamp,
        amount::text,
        effective_token_count::text,
        newly_issued_token_count::text,
        ruleset_id::text
    FROM pay_events
    WHERE sucker_group_id = $1
    ORDER BY timestamp, chain_id;`

	listParticipantsSQL = `SELECT
        lower(address),
        SUM(balance)::text,
        MIN(first_owned),
        MIN(created_at)
    FROM participants
    WHERE sucker_group_id = $1
    GROUP BY lower(address);`

	listHolderPaymentsSQL = `SELECT
        payer,
        amount::text,
        timestamp
    FROM pay_events
    WHERE sucker_group_id = $1
    ORDER BY timestamp;`

	insertIssuanceAlertSQL = `INSERT INTO issuance_alerts (
        chain_id,
        project_id,
        change_at,
        change_type,
        current_issuance,
        next_issuance,
        channels
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7
    )
    ON CONFLICT (chain_id, project_id, change_at) DO NOTHING
    RETURNING id, created_at;`

	listRecentAlertsSQL = `SELECT
        id,
        chain_id,
        project_id,
        change_at,
        change_type,
        current_issuance::text,
        next_issuance::text,
        channels,
        created_at
    FROM issuance_alerts
    WHERE chain_id = $1 AND project_id = $2
    ORDER BY change_at DESC
    LIMIT $3;`

	deleteAlertsBeforeSQL = `DELETE FROM issuance_alerts WHERE created_at < $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// ProjectReader resolves a project's current state.
type ProjectReader interface {
	GetProject(ctx context.Context, chainID, projectID int64) (Project, error)
}

// RulesetReader lists rulesets either for one deployment or across every
// chain of a sucker group.
type RulesetReader interface {
	ListRulesets(ctx context.Context, chainID, projectID int64) ([]issuance.RawRuleset, error)
	ListGroupRulesets(ctx context.Context, suckerGroupID string) ([]issuance.RawRuleset, error)
}

// SnapshotReader lists cash-out snapshots for a sucker group.
type SnapshotReader interface {
	ListCashoutSnapshots(ctx context.Context, suckerGroupID string) ([]cashout.Snapshot, error)
}

// PayEventReader lists treasury payments for a sucker group.
type PayEventReader interface {
	ListPayEvents(ctx context.Context, suckerGroupID string) ([]cashout.PayEvent, error)
}

// ParticipantReader lists holders and the payments attributed to them.
type ParticipantReader interface {
	ListParticipants(ctx context.Context, suckerGroupID string) ([]holders.Participant, error)
	ListHolderPayments(ctx context.Context, suckerGroupID string) ([]holders.Payment, error)
}

// AlertStore persists emitted issuance alerts.
type AlertStore interface {
	// InsertIssuanceAlert stores alert and reports whether it was new.
	InsertIssuanceAlert(ctx context.Context, alert IssuanceAlert) (IssuanceAlert, bool, error)
	ListRecentAlerts(ctx context.Context, chainID, projectID int64, limit int) ([]IssuanceAlert, error)
	DeleteAlertsBefore(ctx context.Context, olderThan time.Time) error
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// A failed unlock is released with the session when the connection closes.
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

// GetProject returns ErrNotFound when the project is not indexed on chainID.
func (s *Store) GetProject(ctx context.Context, chainID, projectID int64) (Project, error) {
	pool, err := s.getPool()
	if err != nil {
		return Project{}, err
	}

	var (
		p       Project
		a, b    sql.NullString
		balance sql.NullString
	)
	scanErr := pool.QueryRow(ctx, getProjectSQL, chainID, projectID).Scan(
		&p.ChainID,
		&p.ProjectID,
		&p.SuckerGroupID,
		&p.TokenSymbol,
		&p.Decimals,
		&a,
		&b,
		&balance,
	)
	if errors.Is(scanErr, pgx.ErrNoRows) {
		return Project{}, ErrNotFound
	}
	if scanErr != nil {
		return Project{}, fmt.Errorf("get project %d on chain %d: %w", projectID, chainID, scanErr)
	}
	p.CashoutA, p.CashoutB, p.Balance = a.String, b.String, balance.String
	return p, nil
}

// ListRulesets lists the rulesets of one deployment ordered by start.
func (s *Store) ListRulesets(ctx context.Context, chainID, projectID int64) ([]issuance.RawRuleset, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, queryErr := pool.Query(ctx, listRulesetsSQL, chainID, projectID)
	if queryErr != nil {
		return nil, fmt.Errorf("list rulesets: %w", queryErr)
	}
	return collect(rows, scanRuleset)
}

// ListGroupRulesets lists the rulesets of every chain in a sucker group.
func (s *Store) ListGroupRulesets(ctx context.Context, suckerGroupID string) ([]issuance.RawRuleset, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, queryErr := pool.Query(ctx, listGroupRulesetsSQL, suckerGroupID)
	if queryErr != nil {
		return nil, fmt.Errorf("list group rulesets: %w", queryErr)
	}
	return collect(rows, scanRuleset)
}

// ListCashoutSnapshots lists snapshots ordered by chain then time.
func (s *Store) ListCashoutSnapshots(ctx context.Context, suckerGroupID string) ([]cashout.Snapshot, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, queryErr := pool.Query(ctx, listCashoutSnapshotsSQL, suckerGroupID)
	if queryErr != nil {
		return nil, fmt.Errorf("list cashout snapshots: %w", queryErr)
	}
	return collect(rows, func(rows pgx.Rows) (cashout.Snapshot, error) {
		var (
			snap                  cashout.Snapshot
			a, b, balance, supply sql.NullString
			taxRate               sql.NullInt64
		)
		if err := rows.Scan(&snap.ChainID, &snap.Timestamp, &a, &b, &balance, &supply, &taxRate); err != nil {
			return cashout.Snapshot{}, err
		}
		snap.CashoutA = nullable(a)
		snap.CashoutB = nullable(b)
		snap.Balance = nullable(balance)
		snap.TotalSupply = nullable(supply)
		snap.CashOutTaxRate = taxRate.Int64
		return snap, nil
	})
}

// ListPayEvents lists payments ordered by time.
func (s *Store) ListPayEvents(ctx context.Context, suckerGroupID string) ([]cashout.PayEvent, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, queryErr := pool.Query(ctx, listPayEventsSQL, suckerGroupID)
	if queryErr != nil {
		return nil, fmt.Errorf("list pay events: %w", queryErr)
	}
	return collect(rows, func(rows pgx.Rows) (cashout.PayEvent, error) {
		var (
			ev                             cashout.PayEvent
			amount, effective, newly, rsID sql.NullString
		)
		if err := rows.Scan(&ev.ChainID, &ev.Timestamp, &amount, &effective, &newly, &rsID); err != nil {
			return cashout.PayEvent{}, err
		}
		ev.Amount = nullable(amount)
		ev.EffectiveTokenCount = nullable(effective)
		ev.NewlyIssuedTokenCount = nullable(newly)
		ev.RulesetID = nullable(rsID)
		return ev, nil
	})
}

// ListParticipants merges the per-chain rows of each wallet in the group.
func (s *Store) ListParticipants(ctx context.Context, suckerGroupID string) ([]holders.Participant, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, queryErr := pool.Query(ctx, listParticipantsSQL, suckerGroupID)
	if queryErr != nil {
		return nil, fmt.Errorf("list participants: %w", queryErr)
	}
	return collect(rows, func(rows pgx.Rows) (holders.Participant, error) {
		var (
			p          holders.Participant
			balance    sql.NullString
			firstOwned sql.NullInt64
		)
		if err := rows.Scan(&p.Address, &balance, &firstOwned, &p.CreatedAt); err != nil {
			return holders.Participant{}, err
		}
		p.Balance = nullable(balance)
		if firstOwned.Valid {
			v := firstOwned.Int64
			p.FirstOwned = &v
		}
		return p, nil
	})
}

// ListHolderPayments lists the payer and amount of every payment in the group.
func (s *Store) ListHolderPayments(ctx context.Context, suckerGroupID string) ([]holders.Payment, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, queryErr := pool.Query(ctx, listHolderPaymentsSQL, suckerGroupID)
	if queryErr != nil {
		return nil, fmt.Errorf("list holder payments: %w", queryErr)
	}
	return collect(rows, func(rows pgx.Rows) (holders.Payment, error) {
		var (
			pay    holders.Payment
			amount sql.NullString
		)
		if err := rows.Scan(&pay.Payer, &amount, &pay.Timestamp); err != nil {
			return holders.Payment{}, err
		}
		pay.Amount = nullable(amount)
		return pay, nil
	})
}

// InsertIssuanceAlert returns false without error when the change was already alerted.
func (s *Store) InsertIssuanceAlert(ctx context.Context, alert IssuanceAlert) (IssuanceAlert, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return IssuanceAlert{}, false, err
	}

	row := pool.QueryRow(ctx, insertIssuanceAlertSQL,
		alert.ChainID,
		alert.ProjectID,
		alert.ChangeAt,
		alert.ChangeType,
		alert.CurrentIssuance.String(),
		alert.NextIssuance.String(),
		alert.Channels,
	)
	scanErr := row.Scan(&alert.ID, &alert.CreatedAt)
	if errors.Is(scanErr, pgx.ErrNoRows) {
		return IssuanceAlert{}, false, nil
	}
	if scanErr != nil {
		return IssuanceAlert{}, false, fmt.Errorf("insert issuance alert: %w", scanErr)
	}
	return alert, true, nil
}

// ListRecentAlerts lists a project's alerts, latest change first.
func (s *Store) ListRecentAlerts(ctx context.Context, chainID, projectID int64, limit int) ([]IssuanceAlert, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, queryErr := pool.Query(ctx, listRecentAlertsSQL, chainID, projectID, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent alerts: %w", queryErr)
	}
	return collect(rows, func(rows pgx.Rows) (IssuanceAlert, error) {
		var (
			rec                 IssuanceAlert
			currentStr, nextStr string
		)
		if err := rows.Scan(
			&rec.ID,
			&rec.ChainID,
			&rec.ProjectID,
			&rec.ChangeAt,
			&rec.ChangeType,
			&currentStr,
			&nextStr,
			&rec.Channels,
			&rec.CreatedAt,
		); err != nil {
			return IssuanceAlert{}, err
		}
		var convErr error
		if rec.CurrentIssuance, convErr = decimal.NewFromString(currentStr); convErr != nil {
			return IssuanceAlert{}, fmt.Errorf("parse current issuance: %w", convErr)
		}
		if rec.NextIssuance, convErr = decimal.NewFromString(nextStr); convErr != nil {
			return IssuanceAlert{}, fmt.Errorf("parse next issuance: %w", convErr)
		}
		return rec, nil
	})
}

// DeleteAlertsBefore deletes historical alerts.
func (s *Store) DeleteAlertsBefore(ctx context.Context, olderThan time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, deleteAlertsBeforeSQL, olderThan); execErr != nil {
		return fmt.Errorf("delete alerts before: %w", execErr)
	}
	return nil
}

func scanRuleset(rows pgx.Rows) (issuance.RawRuleset, error) {
	var rs issuance.RawRuleset
	var id, start, duration, weight, cut, rsv, tax sql.NullString
	if err := rows.Scan(&rs.ChainID, &rs.ProjectID, &id, &start, &duration, &weight, &cut, &rsv, &tax); err != nil {
		return issuance.RawRuleset{}, err
	}
	rs.RulesetID = nullable(id)
	rs.Start = nullable(start)
	rs.Duration = nullable(duration)
	rs.Weight = nullable(weight)
	rs.WeightCutPercent = nullable(cut)
	rs.ReservedPercent = nullable(rsv)
	rs.CashOutTaxRate = nullable(tax)
	return rs, nil
}

func collect[T any](rows pgx.Rows, scan func(pgx.Rows) (T, error)) ([]T, error) {
	defer rows.Close()

	out := make([]T, 0)
	for rows.Next() {
		item, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

// nullable keeps SQL NULL as a nil wire value so engine coercion sees it.
func nullable(s sql.NullString) any {
	if !s.Valid {
		return nil
	}
	return s.String
}
