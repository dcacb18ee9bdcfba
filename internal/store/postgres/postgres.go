package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/everkeep/everkeep/server/internal/model"
	"github.com/everkeep/everkeep/server/internal/store"
)

// Open opens a PostgreSQL connection using the pgx stdlib driver and verifies connectivity.
func Open(dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres DSN is empty")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// NewWithDB constructs a native Postgres store backed directly by database/sql.
func NewWithDB(db *sql.DB) store.Store { return &pgStore{db: db} }

type pgStore struct{ db *sql.DB }

func (s *pgStore) Conditions() store.Conditions { return &conditions{db: s.db} }
func (s *pgStore) Schedules() store.Schedules   { return &schedules{db: s.db} }

// HealthPing implements health.Pinger for the Postgres-backed store.
func (s *pgStore) HealthPing(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS conditions (
    condition_id        TEXT PRIMARY KEY,
    message_id          TEXT NOT NULL UNIQUE,
    owner_id            TEXT NOT NULL,
    kind                TEXT NOT NULL,
    active              BOOLEAN NOT NULL DEFAULT FALSE,
    last_checked        TIMESTAMPTZ,
    hours_threshold     INT,
    minutes_threshold   INT,
    trigger_date        TIMESTAMPTZ,
    reminder_lead_times JSONB NOT NULL DEFAULT '[]',
    recipients          JSONB NOT NULL DEFAULT '[]',
    keep_armed          BOOLEAN NOT NULL DEFAULT FALSE,
    version             BIGINT NOT NULL DEFAULT 1,
    creation_time       TIMESTAMPTZ NOT NULL DEFAULT now(),
    update_time         TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS schedule_entries (
    entry_id        TEXT PRIMARY KEY,
    message_id      TEXT NOT NULL,
    condition_id    TEXT NOT NULL,
    scheduled_at    TIMESTAMPTZ NOT NULL,
    kind            TEXT NOT NULL,
    status          TEXT NOT NULL DEFAULT 'pending',
    priority        TEXT NOT NULL DEFAULT 'normal',
    retry           TEXT NOT NULL DEFAULT 'standard',
    attempts        INT NOT NULL DEFAULT 0,
    last_attempt_at TIMESTAMPTZ,
    creation_time   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_schedule_due ON schedule_entries (status, scheduled_at);
CREATE INDEX IF NOT EXISTS idx_schedule_message ON schedule_entries (message_id, status);
`

// EnsureSchema creates the engine's tables when they do not exist. Safe to
// call repeatedly; deployments that manage migrations externally can skip it.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, schemaDDL)
	return err
}

// --- Conditions ---
type conditions struct{ db *sql.DB }

const conditionCols = `condition_id, message_id, owner_id, kind, active, last_checked,
       hours_threshold, minutes_threshold, trigger_date, reminder_lead_times,
       recipients, keep_armed, version, creation_time, update_time`

func (c *conditions) Create(ctx context.Context, m *model.Condition) (*model.Condition, error) {
	leads, err := json.Marshal(leadsOrEmpty(m.ReminderLeadTimes))
	if err != nil {
		return nil, err
	}
	rcpts, err := json.Marshal(recipientsOrEmpty(m.Recipients))
	if err != nil {
		return nil, err
	}
	var created, updated time.Time
	row := c.db.QueryRowContext(ctx, `
        INSERT INTO conditions (condition_id, message_id, owner_id, kind, active, last_checked,
            hours_threshold, minutes_threshold, trigger_date, reminder_lead_times, recipients, keep_armed, version)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,1)
        RETURNING creation_time, update_time
    `, m.ConditionID, m.MessageID, m.OwnerID, m.Kind, m.Active, m.LastChecked,
		m.HoursThreshold, m.MinutesThreshold, m.TriggerDate, leads, rcpts, m.KeepArmed)
	if err := row.Scan(&created, &updated); err != nil {
		return nil, err
	}
	out := *m
	out.Version = 1
	out.CreationTime = created
	out.UpdateTime = updated
	return &out, nil
}

func (c *conditions) Get(ctx context.Context, conditionID string) (*model.Condition, error) {
	row := c.db.QueryRowContext(ctx,
		`SELECT `+conditionCols+` FROM conditions WHERE condition_id=$1`, conditionID)
	return scanCondition(row)
}

func (c *conditions) GetByMessage(ctx context.Context, messageID string) (*model.Condition, error) {
	row := c.db.QueryRowContext(ctx,
		`SELECT `+conditionCols+` FROM conditions WHERE message_id=$1`, messageID)
	return scanCondition(row)
}

func (c *conditions) ListActive(ctx context.Context) ([]*model.Condition, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT `+conditionCols+` FROM conditions WHERE active ORDER BY creation_time ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*model.Condition
	for rows.Next() {
		m, err := scanCondition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Update writes the condition guarded by its version. A mismatch means a
// concurrent writer won; the caller gets model.ErrConflict and may retry
// from a fresh read.
func (c *conditions) Update(ctx context.Context, m *model.Condition) (*model.Condition, error) {
	leads, err := json.Marshal(leadsOrEmpty(m.ReminderLeadTimes))
	if err != nil {
		return nil, err
	}
	rcpts, err := json.Marshal(recipientsOrEmpty(m.Recipients))
	if err != nil {
		return nil, err
	}
	var updated time.Time
	row := c.db.QueryRowContext(ctx, `
        UPDATE conditions
        SET active=$1, last_checked=$2, hours_threshold=$3, minutes_threshold=$4,
            trigger_date=$5, reminder_lead_times=$6, recipients=$7, keep_armed=$8,
            version=version+1, update_time=now()
        WHERE condition_id=$9 AND version=$10
        RETURNING update_time
    `, m.Active, m.LastChecked, m.HoursThreshold, m.MinutesThreshold,
		m.TriggerDate, leads, rcpts, m.KeepArmed, m.ConditionID, m.Version)
	if err := row.Scan(&updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, versionMismatch(ctx, c.db, m.ConditionID)
		}
		return nil, err
	}
	out := *m
	out.Version = m.Version + 1
	out.UpdateTime = updated
	return &out, nil
}

// versionMismatch distinguishes a missing row from a lost race.
func versionMismatch(ctx context.Context, db *sql.DB, conditionID string) error {
	var n int
	if err := db.QueryRowContext(ctx,
		`SELECT 1 FROM conditions WHERE condition_id=$1`, conditionID).Scan(&n); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.ErrNotFound
		}
		return err
	}
	return model.ErrConflict
}

type rowScanner interface{ Scan(dest ...any) error }

func scanCondition(row rowScanner) (*model.Condition, error) {
	var m model.Condition
	var leads, rcpts []byte
	err := row.Scan(&m.ConditionID, &m.MessageID, &m.OwnerID, &m.Kind, &m.Active, &m.LastChecked,
		&m.HoursThreshold, &m.MinutesThreshold, &m.TriggerDate, &leads,
		&rcpts, &m.KeepArmed, &m.Version, &m.CreationTime, &m.UpdateTime)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(leads, &m.ReminderLeadTimes); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(rcpts, &m.Recipients); err != nil {
		return nil, err
	}
	return &m, nil
}

func leadsOrEmpty(v []int) []int {
	if v == nil {
		return []int{}
	}
	return v
}

func recipientsOrEmpty(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

// --- Schedules ---
type schedules struct{ db *sql.DB }

const entryCols = `entry_id, message_id, condition_id, scheduled_at, kind, status,
       priority, retry, attempts, last_attempt_at, creation_time`

const claimDueSQL = `
WITH due AS (
    SELECT entry_id
    FROM schedule_entries
    WHERE status = 'pending' AND scheduled_at <= $1
    ORDER BY scheduled_at ASC
    FOR UPDATE SKIP LOCKED
    LIMIT $2
)
UPDATE schedule_entries e
SET status = 'processing', last_attempt_at = $1
FROM due
WHERE e.entry_id = due.entry_id
RETURNING e.entry_id, e.message_id, e.condition_id, e.scheduled_at, e.kind, e.status,
          e.priority, e.retry, e.attempts, e.last_attempt_at, e.creation_time`

func (s *schedules) Insert(ctx context.Context, entries []*model.ScheduleEntry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := insertEntries(ctx, tx, entries); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *schedules) Replace(ctx context.Context, messageID string, entries []*model.ScheduleEntry) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
        UPDATE schedule_entries SET status='obsolete'
        WHERE message_id=$1 AND status IN ('pending','processing')
    `, messageID); err != nil {
		return err
	}
	if err := insertEntries(ctx, tx, entries); err != nil {
		return err
	}
	return tx.Commit()
}

func insertEntries(ctx context.Context, tx *sql.Tx, entries []*model.ScheduleEntry) error {
	stmt, err := tx.PrepareContext(ctx, `
        INSERT INTO schedule_entries (entry_id, message_id, condition_id, scheduled_at,
            kind, status, priority, retry, attempts, last_attempt_at, creation_time)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,now())
    `)
	if err != nil {
		return err
	}
	defer func() { _ = stmt.Close() }()

	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx, e.EntryID, e.MessageID, e.ConditionID, e.ScheduledAt,
			e.Kind, e.Status, e.Priority, e.Retry, e.Attempts, e.LastAttemptAt); err != nil {
			return err
		}
	}
	return nil
}

func (s *schedules) MarkObsolete(ctx context.Context, messageID string) (int, error) {
	res, err := s.db.ExecContext(ctx, `
        UPDATE schedule_entries SET status='obsolete'
        WHERE message_id=$1 AND status IN ('pending','processing')
    `, messageID)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *schedules) ClaimDue(ctx context.Context, now time.Time, limit int) ([]*model.ScheduleEntry, error) {
	rows, err := s.db.QueryContext(ctx, claimDueSQL, now.UTC(), limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanEntries(rows)
}

func (s *schedules) Complete(ctx context.Context, entryID string, outcome model.EntryStatus) error {
	if outcome != model.StatusSent && outcome != model.StatusFailed {
		return fmt.Errorf("complete %s: invalid outcome %q", entryID, outcome)
	}
	res, err := s.db.ExecContext(ctx, `
        UPDATE schedule_entries SET status=$1, attempts=attempts+1
        WHERE entry_id=$2 AND status='processing'
    `, outcome, entryID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ErrNotFound
	}
	return nil
}

func (s *schedules) Get(ctx context.Context, entryID string) (*model.ScheduleEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+entryCols+` FROM schedule_entries WHERE entry_id=$1`, entryID)
	e, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrNotFound
		}
		return nil, err
	}
	return e, nil
}

func (s *schedules) ListByMessage(ctx context.Context, messageID string) ([]*model.ScheduleEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT `+entryCols+` FROM schedule_entries
        WHERE message_id=$1 ORDER BY creation_time ASC, scheduled_at ASC
    `, messageID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanEntries(rows)
}

func (s *schedules) ListByStatus(ctx context.Context, status model.EntryStatus, limit int) ([]*model.ScheduleEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT `+entryCols+` FROM schedule_entries
        WHERE status=$1 ORDER BY scheduled_at ASC LIMIT $2
    `, status, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanEntries(rows)
}

func (s *schedules) LiveFinal(ctx context.Context, messageID string) (*model.ScheduleEntry, error) {
	row := s.db.QueryRowContext(ctx, `
        SELECT `+entryCols+` FROM schedule_entries
        WHERE message_id=$1 AND kind='final_delivery' AND status != 'obsolete'
        ORDER BY creation_time DESC LIMIT 1
    `, messageID)
	e, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return e, nil
}

func (s *schedules) ResetStuck(ctx context.Context, olderThan time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
        UPDATE schedule_entries SET status='pending'
        WHERE status='processing' AND last_attempt_at IS NOT NULL AND last_attempt_at < $1
    `, olderThan.UTC())
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func scanEntry(row rowScanner) (*model.ScheduleEntry, error) {
	var e model.ScheduleEntry
	if err := row.Scan(&e.EntryID, &e.MessageID, &e.ConditionID, &e.ScheduledAt, &e.Kind,
		&e.Status, &e.Priority, &e.Retry, &e.Attempts, &e.LastAttemptAt, &e.CreationTime); err != nil {
		return nil, err
	}
	return &e, nil
}

func scanEntries(rows *sql.Rows) ([]*model.ScheduleEntry, error) {
	var out []*model.ScheduleEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
