package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"remindbot/internal/reminder"
	logx "remindbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsSQL string

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for sqlite driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer; statements are serialized on one connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.ExecContext(context.Background(), migrationsSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	log.Debug("sqlite store opened", logx.String("path", path))
	return &sqliteStore{db: db, log: log}, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	return s.db.PingContext(ctx)
}

const reminderColumns = `id, owner_chat, thread_id, text, spans, timezone, schedule, status,
	next_run_at, last_run_at, lock_owner, lock_acquired_at, lock_expires_at, created_at, updated_at`

func (s *sqliteStore) CreateReminder(ctx context.Context, r *reminder.Reminder) error {
	if r == nil {
		return errors.New("nil reminder")
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Status == "" {
		r.Status = reminder.StatusScheduled
	}
	now := time.Now()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now

	sched, err := json.Marshal(r.Schedule)
	if err != nil {
		return err
	}
	var spans any
	if len(r.Content.Spans) > 0 {
		b, err := json.Marshal(r.Content.Spans)
		if err != nil {
			return err
		}
		spans = string(b)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO reminders(id, owner_chat, thread_id, text, spans, timezone, kind, schedule, status,
			next_run_at, last_run_at, created_at, updated_at)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		r.ID, r.OwnerChat, r.ThreadID, r.Content.Text, spans, r.Timezone, string(r.Schedule.Kind), string(sched), string(r.Status),
		millisPtr(r.NextRunAt), millisPtr(r.LastRunAt), r.CreatedAt.UnixMilli(), r.UpdatedAt.UnixMilli(),
	)
	return err
}

func (s *sqliteStore) GetReminder(ctx context.Context, id string) (reminder.Reminder, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+reminderColumns+` FROM reminders WHERE id = ?`, id)
	r, err := scanReminder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return reminder.Reminder{}, ErrNotFound
	}
	return r, err
}

func (s *sqliteStore) ListReminders(ctx context.Context, ownerChat int64, limit int) ([]reminder.Reminder, error) {
	if limit <= 0 {
		limit = 100
	}
	q := `SELECT ` + reminderColumns + ` FROM reminders`
	args := []any{}
	if ownerChat != 0 {
		q += ` WHERE owner_chat = ?`
		args = append(args, ownerChat)
	}
	q += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)
	return s.queryReminders(ctx, q, args...)
}

func (s *sqliteStore) DueReminders(ctx context.Context, now time.Time, limit int) ([]reminder.Reminder, error) {
	if limit <= 0 {
		limit = 25
	}
	return s.queryReminders(ctx,
		`SELECT `+reminderColumns+` FROM reminders
		 WHERE status = ? AND next_run_at IS NOT NULL AND next_run_at <= ?
		 ORDER BY next_run_at ASC LIMIT ?`,
		string(reminder.StatusScheduled), now.UnixMilli(), limit,
	)
}

func (s *sqliteStore) queryReminders(ctx context.Context, q string, args ...any) ([]reminder.Reminder, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []reminder.Reminder
	for rows.Next() {
		r, err := scanReminder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) UpdateReminderState(ctx context.Context, id string, u StateUpdate) (bool, error) {
	at := u.At
	if at.IsZero() {
		at = time.Now()
	}
	q := `UPDATE reminders SET status = ?, next_run_at = ?, last_run_at = COALESCE(?, last_run_at), updated_at = ?
	      WHERE id = ?`
	args := []any{string(u.Status), millisPtr(u.NextRunAt), millisPtr(u.LastRunAt), at.UnixMilli(), id}
	if u.OwnerChat != 0 {
		q += ` AND owner_chat = ?`
		args = append(args, u.OwnerChat)
	}
	if u.LockOwner != "" {
		q += ` AND lock_owner = ?`
		args = append(args, u.LockOwner)
	}
	return s.execAffected(ctx, q, args...)
}

func (s *sqliteStore) CancelReminder(ctx context.Context, id string, ownerChat int64) (bool, error) {
	q := `UPDATE reminders SET status = ?, updated_at = ? WHERE id = ? AND status = ?`
	args := []any{string(reminder.StatusCancelled), time.Now().UnixMilli(), id, string(reminder.StatusScheduled)}
	if ownerChat != 0 {
		q += ` AND owner_chat = ?`
		args = append(args, ownerChat)
	}
	return s.execAffected(ctx, q, args...)
}

func (s *sqliteStore) LockReminder(ctx context.Context, id, owner string, now time.Time, ttl time.Duration) (bool, error) {
	nowMS := now.UnixMilli()
	return s.execAffected(ctx,
		`UPDATE reminders SET
			lock_acquired_at = CASE WHEN lock_owner = ? AND lock_expires_at > ? THEN lock_acquired_at ELSE ? END,
			lock_owner = ?,
			lock_expires_at = ?
		 WHERE id = ? AND (lock_owner IS NULL OR lock_expires_at IS NULL OR lock_expires_at <= ? OR lock_owner = ?)`,
		owner, nowMS, nowMS,
		owner,
		now.Add(ttl).UnixMilli(),
		id, nowMS, owner,
	)
}

func (s *sqliteStore) UnlockReminder(ctx context.Context, id, owner string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE reminders SET lock_owner = NULL, lock_acquired_at = NULL, lock_expires_at = NULL
		 WHERE id = ? AND lock_owner = ?`,
		id, owner,
	)
	return err
}

func (s *sqliteStore) AcquireLease(ctx context.Context, key, owner string, now time.Time, ttl time.Duration) (bool, error) {
	nowMS := now.UnixMilli()
	return s.execAffected(ctx,
		`INSERT INTO leases(key, owner_id, acquired_at, expires_at) VALUES(?,?,?,?)
		 ON CONFLICT(key) DO UPDATE SET
			acquired_at = CASE WHEN leases.owner_id = excluded.owner_id AND leases.expires_at > ? THEN leases.acquired_at ELSE excluded.acquired_at END,
			owner_id = excluded.owner_id,
			expires_at = excluded.expires_at
		 WHERE leases.expires_at <= ? OR leases.owner_id = excluded.owner_id`,
		key, owner, nowMS, now.Add(ttl).UnixMilli(),
		nowMS,
		nowMS,
	)
}

func (s *sqliteStore) ReleaseLease(ctx context.Context, key, owner string, now time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE leases SET expires_at = ? WHERE key = ? AND owner_id = ? AND expires_at > ?`,
		now.UnixMilli(), key, owner, now.UnixMilli(),
	)
	return err
}

func (s *sqliteStore) GetLease(ctx context.Context, key string) (Lease, error) {
	var (
		l        Lease
		acquired int64
		expires  int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT key, owner_id, acquired_at, expires_at FROM leases WHERE key = ?`, key,
	).Scan(&l.Key, &l.OwnerID, &acquired, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return Lease{}, ErrNotFound
	}
	if err != nil {
		return Lease{}, err
	}
	l.AcquiredAt = time.UnixMilli(acquired)
	l.ExpiresAt = time.UnixMilli(expires)
	return l, nil
}

func (s *sqliteStore) PruneLeases(ctx context.Context, expiredBefore time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM leases WHERE expires_at < ?`, expiredBefore.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(at, actor_id, chat_id, action, reminder_id, ok, err, meta) VALUES(?,?,?,?,?,?,?,?)`,
		e.At.Format(time.RFC3339Nano), e.ActorID, e.ChatID, e.Action, e.ReminderID, e.OK, nullStr(e.Error), nullStr(e.Meta),
	)
	return err
}

func (s *sqliteStore) Stats(ctx context.Context) (Stats, error) {
	st := Stats{ByStatus: map[reminder.Status]int64{}}
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM reminders GROUP BY status`)
	if err != nil {
		return st, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			status string
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			return st, err
		}
		st.ByStatus[reminder.Status(status)] = n
	}
	if err := rows.Err(); err != nil {
		return st, err
	}
	now := time.Now().UnixMilli()
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM reminders WHERE status = ? AND next_run_at <= ?`,
		string(reminder.StatusScheduled), now,
	).Scan(&st.Due); err != nil {
		return st, err
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM leases WHERE expires_at > ?`, now).Scan(&st.Leases); err != nil {
		return st, err
	}
	return st, nil
}

func (s *sqliteStore) execAffected(ctx context.Context, q string, args ...any) (bool, error) {
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReminder(sc rowScanner) (reminder.Reminder, error) {
	var (
		r                       reminder.Reminder
		spans, lockOwner        sql.NullString
		sched, status           string
		next, last              sql.NullInt64
		lockAcquired, lockUntil sql.NullInt64
		created, updated        int64
	)
	err := sc.Scan(&r.ID, &r.OwnerChat, &r.ThreadID, &r.Content.Text, &spans, &r.Timezone, &sched, &status,
		&next, &last, &lockOwner, &lockAcquired, &lockUntil, &created, &updated)
	if err != nil {
		return reminder.Reminder{}, err
	}
	if spans.Valid && spans.String != "" {
		_ = json.Unmarshal([]byte(spans.String), &r.Content.Spans)
	}
	// An undecodable schedule surfaces as an unknown kind so the dispatcher retires it.
	if err := json.Unmarshal([]byte(sched), &r.Schedule); err != nil {
		r.Schedule = reminder.Schedule{}
	}
	r.Status = reminder.Status(status)
	r.NextRunAt = timePtr(next)
	r.LastRunAt = timePtr(last)
	if lockOwner.Valid && lockOwner.String != "" {
		r.Lock = &reminder.Lock{OwnerID: lockOwner.String}
		if lockAcquired.Valid {
			r.Lock.AcquiredAt = time.UnixMilli(lockAcquired.Int64)
		}
		if lockUntil.Valid {
			r.Lock.ExpiresAt = time.UnixMilli(lockUntil.Int64)
		}
	}
	r.CreatedAt = time.UnixMilli(created)
	r.UpdatedAt = time.UnixMilli(updated)
	return r, nil
}

func millisPtr(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.UnixMilli()
}

func timePtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64)
	return &t
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
