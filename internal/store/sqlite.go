package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/refi-monitor/internal/alert"
	"github.com/sells-group/refi-monitor/internal/engine"
	"github.com/sells-group/refi-monitor/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS properties (
	id                  TEXT PRIMARY KEY,
	owner_id            TEXT NOT NULL DEFAULT '',
	name                TEXT NOT NULL,
	address             TEXT NOT NULL DEFAULT '',
	credit_tier         TEXT NOT NULL DEFAULT '',
	original_principal  TEXT NOT NULL,
	current_balance     TEXT NOT NULL DEFAULT '0',
	annual_rate_percent TEXT NOT NULL,
	term_months         INTEGER NOT NULL,
	monthly_payment     TEXT NOT NULL DEFAULT '0',
	origination_date    DATETIME NOT NULL,
	property_value      TEXT NOT NULL DEFAULT '0',
	created_at          DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at          DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS alerts (
	id            TEXT PRIMARY KEY,
	property_id   TEXT NOT NULL REFERENCES properties(id) ON DELETE CASCADE,
	template_kind TEXT NOT NULL,
	inputs        TEXT NOT NULL,
	loan_terms    TEXT NOT NULL DEFAULT '[]',
	state         TEXT NOT NULL DEFAULT 'active',
	snooze_until  DATETIME,
	created_at    DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at    DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS rate_snapshots (
	id         TEXT PRIMARY KEY,
	source     TEXT NOT NULL,
	fetched_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS rate_quotes (
	snapshot_id TEXT NOT NULL REFERENCES rate_snapshots(id) ON DELETE CASCADE,
	term_months INTEGER NOT NULL,
	rate        TEXT NOT NULL,
	credit_tier TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (snapshot_id, term_months, credit_tier)
);

CREATE TABLE IF NOT EXISTS alert_decisions (
	id           TEXT PRIMARY KEY,
	alert_id     TEXT NOT NULL,
	property_id  TEXT NOT NULL,
	from_state   TEXT NOT NULL,
	to_state     TEXT NOT NULL,
	triggered    INTEGER NOT NULL DEFAULT 0,
	payload      TEXT NOT NULL,
	evaluated_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_properties_owner ON properties(owner_id);
CREATE INDEX IF NOT EXISTS idx_alerts_property ON alerts(property_id);
CREATE INDEX IF NOT EXISTS idx_rate_snapshots_fetched ON rate_snapshots(fetched_at);
CREATE INDEX IF NOT EXISTS idx_alert_decisions_alert ON alert_decisions(alert_id, evaluated_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Properties ---

const sqlitePropertyColumns = `id, owner_id, name, address, credit_tier, original_principal, current_balance,
	annual_rate_percent, term_months, monthly_payment, origination_date, property_value, created_at, updated_at`

func (s *SQLiteStore) CreateProperty(ctx context.Context, p model.Property) (*model.Property, error) {
	p.CreditTier = model.NormalizeTier(p.CreditTier)
	if err := validateProperty(p); err != nil {
		return nil, err
	}
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO properties (`+sqlitePropertyColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.OwnerID, p.Name, p.Address, p.CreditTier,
		p.OriginalPrincipal.String(), p.CurrentBalance.String(), p.AnnualRatePercent.String(),
		p.TermMonths, p.MonthlyPayment.String(), p.OriginationDate.UTC(), p.PropertyValue.String(),
		p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert property")
	}
	return &p, nil
}

func (s *SQLiteStore) GetProperty(ctx context.Context, id string) (*model.Property, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqlitePropertyColumns+` FROM properties WHERE id = ?`, id,
	)
	p, err := scanSQLiteProperty(row)
	if err == sql.ErrNoRows {
		return nil, notFound("property", id)
	}
	return p, err
}

func (s *SQLiteStore) ListProperties(ctx context.Context, filter PropertyFilter) ([]model.Property, error) {
	query := `SELECT ` + sqlitePropertyColumns + ` FROM properties WHERE 1=1`
	var args []any

	if filter.OwnerID != "" {
		query += ` AND owner_id = ?`
		args = append(args, filter.OwnerID)
	}
	query += ` ORDER BY created_at, id`

	limit := filter.Limit
	if limit <= 0 {
		limit = 1000
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list properties")
	}
	defer rows.Close()

	var out []model.Property
	for rows.Next() {
		p, err := scanSQLiteProperty(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list properties iterate")
}

func (s *SQLiteStore) UpdateProperty(ctx context.Context, p model.Property) error {
	p.CreditTier = model.NormalizeTier(p.CreditTier)
	if err := validateProperty(p); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE properties SET owner_id = ?, name = ?, address = ?, credit_tier = ?, original_principal = ?,
		 current_balance = ?, annual_rate_percent = ?, term_months = ?, monthly_payment = ?,
		 origination_date = ?, property_value = ?, updated_at = ? WHERE id = ?`,
		p.OwnerID, p.Name, p.Address, p.CreditTier, p.OriginalPrincipal.String(),
		p.CurrentBalance.String(), p.AnnualRatePercent.String(), p.TermMonths, p.MonthlyPayment.String(),
		p.OriginationDate.UTC(), p.PropertyValue.String(), time.Now().UTC(), p.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update property %s", p.ID)
	}
	return checkRowsAffected(res, "property", p.ID)
}

// DeleteProperty removes the property and every alert it owns.
func (s *SQLiteStore) DeleteProperty(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin delete property")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM alerts WHERE property_id = ?`, id); err != nil {
		return eris.Wrapf(err, "sqlite: delete alerts of property %s", id)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM properties WHERE id = ?`, id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: delete property %s", id)
	}
	if err := checkRowsAffected(res, "property", id); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit delete property")
}

func (s *SQLiteStore) GetLoanFacts(ctx context.Context, propertyID string, asOf time.Time) (*model.LoanFacts, error) {
	p, err := s.GetProperty(ctx, propertyID)
	if err != nil {
		return nil, err
	}
	return loanFacts(p, asOf)
}

// --- Alerts ---

const sqliteAlertColumns = `id, property_id, template_kind, inputs, loan_terms, state, snooze_until, created_at, updated_at`

func (s *SQLiteStore) CreateAlert(ctx context.Context, a *alert.Instance) error {
	inputs, terms, err := encodeAlert(a)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO alerts (`+sqliteAlertColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.PropertyID, string(a.TemplateKind), string(inputs), string(terms),
		string(a.State), nullTime(a.SnoozeUntil), a.CreatedAt.UTC(), a.UpdatedAt.UTC(),
	)
	return eris.Wrapf(err, "sqlite: insert alert %s", a.ID)
}

func (s *SQLiteStore) GetAlert(ctx context.Context, id string) (*alert.Instance, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteAlertColumns+` FROM alerts WHERE id = ?`, id)
	a, err := scanSQLiteAlert(row)
	if err == sql.ErrNoRows {
		return nil, notFound("alert", id)
	}
	return a, err
}

func (s *SQLiteStore) ListAlerts(ctx context.Context, propertyID string) ([]alert.Instance, error) {
	return s.listAlerts(ctx,
		`SELECT `+sqliteAlertColumns+` FROM alerts WHERE property_id = ? ORDER BY created_at, id`, propertyID)
}

func (s *SQLiteStore) ListAllAlerts(ctx context.Context) ([]alert.Instance, error) {
	return s.listAlerts(ctx, `SELECT `+sqliteAlertColumns+` FROM alerts ORDER BY property_id, created_at, id`)
}

func (s *SQLiteStore) listAlerts(ctx context.Context, query string, args ...any) ([]alert.Instance, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list alerts")
	}
	defer rows.Close()

	var out []alert.Instance
	for rows.Next() {
		a, err := scanSQLiteAlert(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list alerts iterate")
}

func (s *SQLiteStore) DeleteAlert(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM alerts WHERE id = ?`, id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: delete alert %s", id)
	}
	return checkRowsAffected(res, "alert", id)
}

func (s *SQLiteStore) SaveAlertState(ctx context.Context, alertID string, state alert.State, snoozeUntil *time.Time, at time.Time) error {
	if state != alert.StateSnoozed {
		snoozeUntil = nil
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE alerts SET state = ?, snooze_until = ?, updated_at = ? WHERE id = ?`,
		string(state), nullTime(snoozeUntil), at.UTC(), alertID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: save alert state %s", alertID)
	}
	return checkRowsAffected(res, "alert", alertID)
}

// SwapAlertState applies change only if the alert is still in change.From
// as of change.Seen. Otherwise it returns ErrStale.
func (s *SQLiteStore) SwapAlertState(ctx context.Context, change StateChange) error {
	until := change.SnoozeUntil
	if change.To != alert.StateSnoozed {
		until = nil
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE alerts SET state = ?, snooze_until = ?, updated_at = ? WHERE id = ? AND state = ? AND updated_at = ?`,
		string(change.To), nullTime(until), change.At.UTC(), change.AlertID, string(change.From), change.Seen.UTC(),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: swap alert state %s", change.AlertID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrStale, "alert %s", change.AlertID)
	}
	return nil
}

// --- Rate snapshots ---

func (s *SQLiteStore) SaveSnapshot(ctx context.Context, snap model.Snapshot) (string, error) {
	if err := snap.Validate(); err != nil {
		return "", err
	}
	id := uuid.New().String()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", eris.Wrap(err, "sqlite: begin save snapshot")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO rate_snapshots (id, source, fetched_at) VALUES (?, ?, ?)`,
		id, snap.Source, snap.FetchedAt.UTC(),
	); err != nil {
		return "", eris.Wrap(err, "sqlite: insert snapshot")
	}
	for _, q := range snap.Quotes {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO rate_quotes (snapshot_id, term_months, rate, credit_tier) VALUES (?, ?, ?, ?)`,
			id, q.TermMonths, q.AnnualRatePercent.String(), q.CreditTier,
		); err != nil {
			return "", eris.Wrapf(err, "sqlite: insert quote %s", q.Key())
		}
	}
	if err := tx.Commit(); err != nil {
		return "", eris.Wrap(err, "sqlite: commit snapshot")
	}
	return id, nil
}

func (s *SQLiteStore) LatestSnapshot(ctx context.Context) (*model.Snapshot, error) {
	var id string
	var snap model.Snapshot
	err := s.db.QueryRowContext(ctx,
		`SELECT id, source, fetched_at FROM rate_snapshots ORDER BY fetched_at DESC LIMIT 1`,
	).Scan(&id, &snap.Source, &snap.FetchedAt)
	if err == sql.ErrNoRows {
		return nil, notFound("rate snapshot", "latest")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: latest snapshot")
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT term_months, rate, credit_tier FROM rate_quotes WHERE snapshot_id = ? ORDER BY term_months, credit_tier`,
		id,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list quotes")
	}
	defer rows.Close()

	for rows.Next() {
		var q model.RateQuote
		var rate string
		if err := rows.Scan(&q.TermMonths, &rate, &q.CreditTier); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan quote")
		}
		if q.AnnualRatePercent, err = parseDecimal("rate", rate); err != nil {
			return nil, err
		}
		snap.Quotes = append(snap.Quotes, q)
	}
	return &snap, eris.Wrap(rows.Err(), "sqlite: list quotes iterate")
}

// --- Decisions ---

func (s *SQLiteStore) RecordDecisions(ctx context.Context, decisions []engine.Decision) error {
	if len(decisions) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin record decisions")
	}
	defer tx.Rollback() //nolint:errcheck

	for _, d := range decisions {
		payload, err := json.Marshal(d)
		if err != nil {
			return eris.Wrapf(err, "sqlite: marshal decision for alert %s", d.AlertID)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO alert_decisions (id, alert_id, property_id, from_state, to_state, triggered, payload, evaluated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			uuid.New().String(), d.AlertID, d.PropertyID, string(d.Transition.From), string(d.Transition.To),
			d.Triggered, string(payload), d.EvaluatedAt.UTC(),
		); err != nil {
			return eris.Wrapf(err, "sqlite: insert decision for alert %s", d.AlertID)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit decisions")
}

func (s *SQLiteStore) ListDecisions(ctx context.Context, alertID string, limit int) ([]engine.Decision, error) {
	query := `SELECT payload FROM alert_decisions WHERE 1=1`
	var args []any
	if alertID != "" {
		query += ` AND alert_id = ?`
		args = append(args, alertID)
	}
	if limit <= 0 {
		limit = 100
	}
	query += ` ORDER BY evaluated_at DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list decisions")
	}
	defer rows.Close()

	var out []engine.Decision
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan decision")
		}
		var d engine.Decision
		if err := json.Unmarshal([]byte(payload), &d); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal decision")
		}
		out = append(out, d)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list decisions iterate")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return notFound(entity, id)
	}
	return nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSQLiteProperty(row scannable) (*model.Property, error) {
	var p model.Property
	var pd propertyDecimals
	err := row.Scan(&p.ID, &p.OwnerID, &p.Name, &p.Address, &p.CreditTier,
		&pd.principal, &pd.balance, &pd.rate, &p.TermMonths, &pd.payment,
		&p.OriginationDate, &pd.value, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan property")
	}
	if err := pd.apply(&p); err != nil {
		return nil, err
	}
	return &p, nil
}

func scanSQLiteAlert(row scannable) (*alert.Instance, error) {
	var a alert.Instance
	var kind, state, inputs, terms string
	var snooze sql.NullTime
	err := row.Scan(&a.ID, &a.PropertyID, &kind, &inputs, &terms, &state, &snooze, &a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan alert")
	}
	if snooze.Valid {
		t := snooze.Time.UTC()
		a.SnoozeUntil = &t
	}
	if err := decodeAlert(&a, kind, state, []byte(inputs), []byte(terms)); err != nil {
		return nil, err
	}
	return &a, nil
}
