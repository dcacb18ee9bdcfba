// Package sqlite provides the local/dev store driver. SQLite has no
// FOR UPDATE SKIP LOCKED, so the claim primitive runs as an immediate
// transaction; the database-level writer lock gives the same exclusivity.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/everkeep/everkeep/server/internal/model"
	"github.com/everkeep/everkeep/server/internal/store"
)

// Open opens (or creates) a SQLite database at the given path and enables
// WAL journal mode.
func Open(path string) (*sql.DB, error) {
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// NewWithDB constructs a SQLite store from an existing connection.
func NewWithDB(db *sql.DB) store.Store { return &liteStore{db: db} }

type liteStore struct{ db *sql.DB }

func (s *liteStore) Conditions() store.Conditions { return &conditions{db: s.db} }
func (s *liteStore) Schedules() store.Schedules   { return &schedules{db: s.db} }

// HealthPing implements health.Pinger.
func (s *liteStore) HealthPing(ctx context.Context) error { return s.db.PingContext(ctx) }

const schemaDDL = `
CREATE TABLE IF NOT EXISTS conditions (
    condition_id        TEXT PRIMARY KEY,
    message_id          TEXT NOT NULL UNIQUE,
    owner_id            TEXT NOT NULL,
    kind                TEXT NOT NULL,
    active              INTEGER NOT NULL DEFAULT 0,
    last_checked        TIMESTAMP,
    hours_threshold     INTEGER,
    minutes_threshold   INTEGER,
    trigger_date        TIMESTAMP,
    reminder_lead_times TEXT NOT NULL DEFAULT '[]',
    recipients          TEXT NOT NULL DEFAULT '[]',
    keep_armed          INTEGER NOT NULL DEFAULT 0,
    version             INTEGER NOT NULL DEFAULT 1,
    creation_time       TIMESTAMP NOT NULL,
    update_time         TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS schedule_entries (
    entry_id        TEXT PRIMARY KEY,
    message_id      TEXT NOT NULL,
    condition_id    TEXT NOT NULL,
    scheduled_at    TIMESTAMP NOT NULL,
    kind            TEXT NOT NULL,
    status          TEXT NOT NULL DEFAULT 'pending',
    priority        TEXT NOT NULL DEFAULT 'normal',
    retry           TEXT NOT NULL DEFAULT 'standard',
    attempts        INTEGER NOT NULL DEFAULT 0,
    last_attempt_at TIMESTAMP,
    creation_time   TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_schedule_due ON schedule_entries (status, scheduled_at);
CREATE INDEX IF NOT EXISTS idx_schedule_message ON schedule_entries (message_id, status);
`

// EnsureSchema creates the engine's tables when they do not exist.
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
	now := time.Now().UTC()
	_, err = c.db.ExecContext(ctx, `
        INSERT INTO conditions (condition_id, message_id, owner_id, kind, active, last_checked,
            hours_threshold, minutes_threshold, trigger_date, reminder_lead_times, recipients,
            keep_armed, version, creation_time, update_time)
        VALUES (?,?,?,?,?,?,?,?,?,?,?,?,1,?,?)
    `, m.ConditionID, m.MessageID, m.OwnerID, m.Kind, m.Active, m.LastChecked,
		m.HoursThreshold, m.MinutesThreshold, m.TriggerDate, string(leads), string(rcpts),
		m.KeepArmed, now, now)
	if err != nil {
		return nil, err
	}
	out := *m
	out.Version = 1
	out.CreationTime = now
	out.UpdateTime = now
	return &out, nil
}

func (c *conditions) Get(ctx context.Context, conditionID string) (*model.Condition, error) {
	row := c.db.QueryRowContext(ctx,
		`SELECT `+conditionCols+` FROM conditions WHERE condition_id=?`, conditionID)
	return scanCondition(row)
}

func (c *conditions) GetByMessage(ctx context.Context, messageID string) (*model.Condition, error) {
	row := c.db.QueryRowContext(ctx,
		`SELECT `+conditionCols+` FROM conditions WHERE message_id=?`, messageID)
	return scanCondition(row)
}

func (c *conditions) ListActive(ctx context.Context) ([]*model.Condition, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT `+conditionCols+` FROM conditions WHERE active=1 ORDER BY creation_time ASC`)
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

func (c *conditions) Update(ctx context.Context, m *model.Condition) (*model.Condition, error) {
	leads, err := json.Marshal(leadsOrEmpty(m.ReminderLeadTimes))
	if err != nil {
		return nil, err
	}
	rcpts, err := json.Marshal(recipientsOrEmpty(m.Recipients))
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	res, err := c.db.ExecContext(ctx, `
        UPDATE conditions
        SET active=?, last_checked=?, hours_threshold=?, minutes_threshold=?,
            trigger_date=?, reminder_lead_times=?, recipients=?, keep_armed=?,
            version=version+1, update_time=?
        WHERE condition_id=? AND version=?
    `, m.Active, m.LastChecked, m.HoursThreshold, m.MinutesThreshold,
		m.TriggerDate, string(leads), string(rcpts), m.KeepArmed, now, m.ConditionID, m.Version)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := c.Get(ctx, m.ConditionID); errors.Is(err, model.ErrNotFound) {
			return nil, model.ErrNotFound
		}
		return nil, model.ErrConflict
	}
	out := *m
	out.Version = m.Version + 1
	out.UpdateTime = now
	return &out, nil
}

type rowScanner interface{ Scan(dest ...any) error }

func scanCondition(row rowScanner) (*model.Condition, error) {
	var m model.Condition
	var leads, rcpts string
	err := row.Scan(&m.ConditionID, &m.MessageID, &m.OwnerID, &m.Kind, &m.Active, &m.LastChecked,
		&m.HoursThreshold, &m.MinutesThreshold, &m.TriggerDate, &leads,
		&rcpts, &m.KeepArmed, &m.Version, &m.CreationTime, &m.UpdateTime)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal([]byte(leads), &m.ReminderLeadTimes); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(rcpts), &m.Recipients); err != nil {
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
        WHERE message_id=? AND status IN ('pending','processing')
    `, messageID); err != nil {
		return err
	}
	if err := insertEntries(ctx, tx, entries); err != nil {
		return err
	}
	return tx.Commit()
}

func insertEntries(ctx context.Context, tx *sql.Tx, entries []*model.ScheduleEntry) error {
	for _, e := range entries {
		created := e.CreationTime
		if created.IsZero() {
			created = time.Now().UTC()
		}
		if _, err := tx.ExecContext(ctx, `
            INSERT INTO schedule_entries (entry_id, message_id, condition_id, scheduled_at,
                kind, status, priority, retry, attempts, last_attempt_at, creation_time)
            VALUES (?,?,?,?,?,?,?,?,?,?,?)
        `, e.EntryID, e.MessageID, e.ConditionID, e.ScheduledAt.UTC(), e.Kind, e.Status,
			e.Priority, e.Retry, e.Attempts, e.LastAttemptAt, created); err != nil {
			return err
		}
	}
	return nil
}

func (s *schedules) MarkObsolete(ctx context.Context, messageID string) (int, error) {
	res, err := s.db.ExecContext(ctx, `
        UPDATE schedule_entries SET status='obsolete'
        WHERE message_id=? AND status IN ('pending','processing')
    `, messageID)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *schedules) ClaimDue(ctx context.Context, now time.Time, limit int) ([]*model.ScheduleEntry, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `
        SELECT `+entryCols+` FROM schedule_entries
        WHERE status='pending' AND scheduled_at <= ?
        ORDER BY scheduled_at ASC LIMIT ?
    `, now.UTC(), limit)
	if err != nil {
		return nil, err
	}
	claimed, err := scanEntries(rows)
	_ = rows.Close()
	if err != nil {
		return nil, err
	}

	stamp := now.UTC()
	for _, e := range claimed {
		if _, err := tx.ExecContext(ctx, `
            UPDATE schedule_entries SET status='processing', last_attempt_at=?
            WHERE entry_id=?
        `, stamp, e.EntryID); err != nil {
			return nil, err
		}
		e.Status = model.StatusProcessing
		e.LastAttemptAt = &stamp
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return claimed, nil
}

func (s *schedules) Complete(ctx context.Context, entryID string, outcome model.EntryStatus) error {
	if outcome != model.StatusSent && outcome != model.StatusFailed {
		return fmt.Errorf("complete %s: invalid outcome %q", entryID, outcome)
	}
	res, err := s.db.ExecContext(ctx, `
        UPDATE schedule_entries SET status=?, attempts=attempts+1
        WHERE entry_id=? AND status='processing'
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
		`SELECT `+entryCols+` FROM schedule_entries WHERE entry_id=?`, entryID)
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
        WHERE message_id=? ORDER BY creation_time ASC, scheduled_at ASC
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
        WHERE status=? ORDER BY scheduled_at ASC LIMIT ?
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
        WHERE message_id=? AND kind='final_delivery' AND status != 'obsolete'
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
        WHERE status='processing' AND last_attempt_at IS NOT NULL AND last_attempt_at < ?
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
