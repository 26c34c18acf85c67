package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/refi-monitor/internal/alert"
	"github.com/sells-group/refi-monitor/internal/db"
	"github.com/sells-group/refi-monitor/internal/engine"
	"github.com/sells-group/refi-monitor/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

const (
	pgPropertyColumns = `id, owner_id, name, address, credit_tier, original_principal::text, current_balance::text,
	annual_rate_percent::text, term_months, monthly_payment::text, origination_date, property_value::text,
	created_at, updated_at`
	pgAlertColumns = `id, property_id, template_kind, inputs, loan_terms, state, snooze_until, created_at, updated_at`
)

// preparedStatements lists queries to prepare on each new connection for
// the hot path of an evaluation pass.
var preparedStatements = map[string]string{
	"get_property":     `SELECT ` + pgPropertyColumns + ` FROM properties WHERE id = $1`,
	"list_alerts":      `SELECT ` + pgAlertColumns + ` FROM alerts WHERE property_id = $1 ORDER BY created_at, id`,
	"save_alert_state": `UPDATE alerts SET state = $1, snooze_until = $2, updated_at = $3 WHERE id = $4`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS properties (
	id                  TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	owner_id            TEXT NOT NULL DEFAULT '',
	name                TEXT NOT NULL,
	address             TEXT NOT NULL DEFAULT '',
	credit_tier         TEXT NOT NULL DEFAULT '',
	original_principal  NUMERIC(14,2) NOT NULL,
	current_balance     NUMERIC(14,2) NOT NULL DEFAULT 0,
	annual_rate_percent NUMERIC(7,4) NOT NULL,
	term_months         INTEGER NOT NULL CHECK (term_months > 0),
	monthly_payment     NUMERIC(12,2) NOT NULL DEFAULT 0,
	origination_date    TIMESTAMPTZ NOT NULL,
	property_value      NUMERIC(14,2) NOT NULL DEFAULT 0,
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at          TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS alerts (
	id            TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	property_id   TEXT NOT NULL REFERENCES properties(id) ON DELETE CASCADE,
	template_kind TEXT NOT NULL,
	inputs        JSONB NOT NULL,
	loan_terms    JSONB NOT NULL DEFAULT '[]',
	state         TEXT NOT NULL DEFAULT 'active',
	snooze_until  TIMESTAMPTZ,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	CHECK (state <> 'snoozed' OR snooze_until IS NOT NULL)
);

CREATE TABLE IF NOT EXISTS rate_snapshots (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	source     TEXT NOT NULL,
	fetched_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS rate_quotes (
	snapshot_id TEXT NOT NULL REFERENCES rate_snapshots(id) ON DELETE CASCADE,
	term_months INTEGER NOT NULL,
	rate        NUMERIC(7,4) NOT NULL,
	credit_tier TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (snapshot_id, term_months, credit_tier)
);

CREATE TABLE IF NOT EXISTS alert_decisions (
	id           TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	alert_id     TEXT NOT NULL,
	property_id  TEXT NOT NULL,
	from_state   TEXT NOT NULL,
	to_state     TEXT NOT NULL,
	triggered    BOOLEAN NOT NULL DEFAULT false,
	payload      JSONB NOT NULL,
	evaluated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_properties_owner ON properties(owner_id);
CREATE INDEX IF NOT EXISTS idx_alerts_property ON alerts(property_id);
CREATE INDEX IF NOT EXISTS idx_rate_snapshots_fetched ON rate_snapshots(fetched_at DESC);
CREATE INDEX IF NOT EXISTS idx_alert_decisions_alert ON alert_decisions(alert_id, evaluated_at DESC);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// --- Properties ---

func (s *PostgresStore) CreateProperty(ctx context.Context, p model.Property) (*model.Property, error) {
	p.CreditTier = model.NormalizeTier(p.CreditTier)
	if err := validateProperty(p); err != nil {
		return nil, err
	}
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now

	_, err := s.pool.Exec(ctx,
		`INSERT INTO properties (id, owner_id, name, address, credit_tier, original_principal, current_balance,
		 annual_rate_percent, term_months, monthly_payment, origination_date, property_value, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		p.ID, p.OwnerID, p.Name, p.Address, p.CreditTier,
		p.OriginalPrincipal.String(), p.CurrentBalance.String(), p.AnnualRatePercent.String(),
		p.TermMonths, p.MonthlyPayment.String(), p.OriginationDate.UTC(), p.PropertyValue.String(),
		p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert property")
	}
	return &p, nil
}

func (s *PostgresStore) GetProperty(ctx context.Context, id string) (*model.Property, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+pgPropertyColumns+` FROM properties WHERE id = $1`, id)
	p, err := scanPgProperty(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound("property", id)
		}
		return nil, eris.Wrapf(err, "postgres: get property %s", id)
	}
	return p, nil
}

func (s *PostgresStore) ListProperties(ctx context.Context, filter PropertyFilter) ([]model.Property, error) {
	query := `SELECT ` + pgPropertyColumns + ` FROM properties WHERE true`
	args := []any{}
	argIdx := 1

	if filter.OwnerID != "" {
		query += fmt.Sprintf(` AND owner_id = $%d`, argIdx)
		args = append(args, filter.OwnerID)
		argIdx++
	}
	query += ` ORDER BY created_at, id`

	limit := filter.Limit
	if limit <= 0 {
		limit = 1000
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list properties")
	}
	defer rows.Close()

	var out []model.Property
	for rows.Next() {
		p, err := scanPgProperty(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan property")
		}
		out = append(out, *p)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list properties iterate")
}

func (s *PostgresStore) UpdateProperty(ctx context.Context, p model.Property) error {
	p.CreditTier = model.NormalizeTier(p.CreditTier)
	if err := validateProperty(p); err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE properties SET owner_id = $1, name = $2, address = $3, credit_tier = $4, original_principal = $5,
		 current_balance = $6, annual_rate_percent = $7, term_months = $8, monthly_payment = $9,
		 origination_date = $10, property_value = $11, updated_at = $12 WHERE id = $13`,
		p.OwnerID, p.Name, p.Address, p.CreditTier, p.OriginalPrincipal.String(),
		p.CurrentBalance.String(), p.AnnualRatePercent.String(), p.TermMonths, p.MonthlyPayment.String(),
		p.OriginationDate.UTC(), p.PropertyValue.String(), time.Now().UTC(), p.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update property %s", p.ID)
	}
	if tag.RowsAffected() == 0 {
		return notFound("property", p.ID)
	}
	return nil
}

// DeleteProperty removes the property; its alerts go with it via ON DELETE CASCADE.
func (s *PostgresStore) DeleteProperty(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM properties WHERE id = $1`, id)
	if err != nil {
		return eris.Wrapf(err, "postgres: delete property %s", id)
	}
	if tag.RowsAffected() == 0 {
		return notFound("property", id)
	}
	return nil
}

func (s *PostgresStore) GetLoanFacts(ctx context.Context, propertyID string, asOf time.Time) (*model.LoanFacts, error) {
	p, err := s.GetProperty(ctx, propertyID)
	if err != nil {
		return nil, err
	}
	return loanFacts(p, asOf)
}

// --- Alerts ---

func (s *PostgresStore) CreateAlert(ctx context.Context, a *alert.Instance) error {
	inputs, terms, err := encodeAlert(a)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO alerts (`+pgAlertColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		a.ID, a.PropertyID, string(a.TemplateKind), inputs, terms,
		string(a.State), timestamptz(a.SnoozeUntil), a.CreatedAt.UTC(), a.UpdatedAt.UTC(),
	)
	return eris.Wrapf(err, "postgres: insert alert %s", a.ID)
}

func (s *PostgresStore) GetAlert(ctx context.Context, id string) (*alert.Instance, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+pgAlertColumns+` FROM alerts WHERE id = $1`, id)
	a, err := scanPgAlert(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound("alert", id)
		}
		return nil, eris.Wrapf(err, "postgres: get alert %s", id)
	}
	return a, nil
}

func (s *PostgresStore) ListAlerts(ctx context.Context, propertyID string) ([]alert.Instance, error) {
	return s.listAlerts(ctx,
		`SELECT `+pgAlertColumns+` FROM alerts WHERE property_id = $1 ORDER BY created_at, id`, propertyID)
}

func (s *PostgresStore) ListAllAlerts(ctx context.Context) ([]alert.Instance, error) {
	return s.listAlerts(ctx, `SELECT `+pgAlertColumns+` FROM alerts ORDER BY property_id, created_at, id`)
}

func (s *PostgresStore) listAlerts(ctx context.Context, query string, args ...any) ([]alert.Instance, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list alerts")
	}
	defer rows.Close()

	var out []alert.Instance
	for rows.Next() {
		a, err := scanPgAlert(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan alert")
		}
		out = append(out, *a)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list alerts iterate")
}

func (s *PostgresStore) DeleteAlert(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM alerts WHERE id = $1`, id)
	if err != nil {
		return eris.Wrapf(err, "postgres: delete alert %s", id)
	}
	if tag.RowsAffected() == 0 {
		return notFound("alert", id)
	}
	return nil
}

func (s *PostgresStore) SaveAlertState(ctx context.Context, alertID string, state alert.State, snoozeUntil *time.Time, at time.Time) error {
	if state != alert.StateSnoozed {
		snoozeUntil = nil
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE alerts SET state = $1, snooze_until = $2, updated_at = $3 WHERE id = $4`,
		string(state), timestamptz(snoozeUntil), at.UTC(), alertID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: save alert state %s", alertID)
	}
	if tag.RowsAffected() == 0 {
		return notFound("alert", alertID)
	}
	return nil
}

// SwapAlertState applies change only if the alert is still in change.From
// as of change.Seen. Otherwise it returns ErrStale.
func (s *PostgresStore) SwapAlertState(ctx context.Context, change StateChange) error {
	until := change.SnoozeUntil
	if change.To != alert.StateSnoozed {
		until = nil
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE alerts SET state = $1, snooze_until = $2, updated_at = $3 WHERE id = $4 AND state = $5 AND updated_at = $6`,
		string(change.To), timestamptz(until), change.At.UTC(), change.AlertID, string(change.From), change.Seen.UTC(),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: swap alert state %s", change.AlertID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrStale, "alert %s", change.AlertID)
	}
	return nil
}

// --- Rate snapshots ---

var quoteColumns = []string{"snapshot_id", "term_months", "rate", "credit_tier"}

func (s *PostgresStore) SaveSnapshot(ctx context.Context, snap model.Snapshot) (string, error) {
	if err := snap.Validate(); err != nil {
		return "", err
	}
	id := uuid.New().String()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", eris.Wrap(err, "postgres: begin save snapshot")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx,
		`INSERT INTO rate_snapshots (id, source, fetched_at) VALUES ($1, $2, $3)`,
		id, snap.Source, snap.FetchedAt.UTC(),
	); err != nil {
		return "", eris.Wrap(err, "postgres: insert snapshot")
	}

	rows := make([][]any, 0, len(snap.Quotes))
	for _, q := range snap.Quotes {
		rows = append(rows, []any{id, q.TermMonths, q.AnnualRatePercent.String(), q.CreditTier})
	}
	if _, err := db.CopyFrom(ctx, tx, "rate_quotes", quoteColumns, rows); err != nil {
		return "", eris.Wrap(err, "postgres: copy quotes")
	}

	if err := tx.Commit(ctx); err != nil {
		return "", eris.Wrap(err, "postgres: commit snapshot")
	}
	return id, nil
}

func (s *PostgresStore) LatestSnapshot(ctx context.Context) (*model.Snapshot, error) {
	var id string
	var snap model.Snapshot
	err := s.pool.QueryRow(ctx,
		`SELECT id, source, fetched_at FROM rate_snapshots ORDER BY fetched_at DESC LIMIT 1`,
	).Scan(&id, &snap.Source, &snap.FetchedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound("rate snapshot", "latest")
		}
		return nil, eris.Wrap(err, "postgres: latest snapshot")
	}

	rows, err := s.pool.Query(ctx,
		`SELECT term_months, rate::text, credit_tier FROM rate_quotes WHERE snapshot_id = $1 ORDER BY term_months, credit_tier`,
		id,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list quotes")
	}
	defer rows.Close()

	for rows.Next() {
		var q model.RateQuote
		var rate string
		if err := rows.Scan(&q.TermMonths, &rate, &q.CreditTier); err != nil {
			return nil, eris.Wrap(err, "postgres: scan quote")
		}
		if q.AnnualRatePercent, err = parseDecimal("rate", rate); err != nil {
			return nil, err
		}
		snap.Quotes = append(snap.Quotes, q)
	}
	return &snap, eris.Wrap(rows.Err(), "postgres: list quotes iterate")
}

// --- Decisions ---

var decisionColumns = []string{"id", "alert_id", "property_id", "from_state", "to_state", "triggered", "payload", "evaluated_at"}

func (s *PostgresStore) RecordDecisions(ctx context.Context, decisions []engine.Decision) error {
	rows := make([][]any, 0, len(decisions))
	for _, d := range decisions {
		payload, err := json.Marshal(d)
		if err != nil {
			return eris.Wrapf(err, "postgres: marshal decision for alert %s", d.AlertID)
		}
		rows = append(rows, []any{
			uuid.New().String(), d.AlertID, d.PropertyID,
			string(d.Transition.From), string(d.Transition.To), d.Triggered, payload, d.EvaluatedAt.UTC(),
		})
	}
	_, err := db.CopyFrom(ctx, s.pool, "alert_decisions", decisionColumns, rows)
	return eris.Wrap(err, "postgres: record decisions")
}

func (s *PostgresStore) ListDecisions(ctx context.Context, alertID string, limit int) ([]engine.Decision, error) {
	query := `SELECT payload FROM alert_decisions WHERE true`
	args := []any{}
	argIdx := 1
	if alertID != "" {
		query += fmt.Sprintf(` AND alert_id = $%d`, argIdx)
		args = append(args, alertID)
		argIdx++
	}
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` ORDER BY evaluated_at DESC LIMIT $%d`, argIdx)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list decisions")
	}
	defer rows.Close()

	var out []engine.Decision
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, eris.Wrap(err, "postgres: scan decision")
		}
		var d engine.Decision
		if err := json.Unmarshal(payload, &d); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal decision")
		}
		out = append(out, d)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list decisions iterate")
}

// helpers

func timestamptz(t *time.Time) pgtype.Timestamptz {
	if t == nil {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: t.UTC(), Valid: true}
}

func scanPgProperty(row pgx.Row) (*model.Property, error) {
	var p model.Property
	var pd propertyDecimals
	if err := row.Scan(&p.ID, &p.OwnerID, &p.Name, &p.Address, &p.CreditTier,
		&pd.principal, &pd.balance, &pd.rate, &p.TermMonths, &pd.payment,
		&p.OriginationDate, &pd.value, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	if err := pd.apply(&p); err != nil {
		return nil, err
	}
	return &p, nil
}

func scanPgAlert(row pgx.Row) (*alert.Instance, error) {
	var a alert.Instance
	var kind, state string
	var inputs, terms []byte
	var snooze pgtype.Timestamptz
	if err := row.Scan(&a.ID, &a.PropertyID, &kind, &inputs, &terms, &state, &snooze, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	if snooze.Valid {
		t := snooze.Time.UTC()
		a.SnoozeUntil = &t
	}
	if err := decodeAlert(&a, kind, state, inputs, terms); err != nil {
		return nil, err
	}
	return &a, nil
}
