package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	logx "github.com/destryteeter/botlab/pkg/logx"
	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsSQL string

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	for _, pragma := range []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()),
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			log.Warn("sqlite pragma failed", logx.String("pragma", pragma), logx.Err(err))
		}
	}

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, migrationsSQL)
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) LoadState(ctx context.Context, key string) ([]byte, bool, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM state WHERE key = ?`, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (s *sqliteStore) SaveState(ctx context.Context, key string, data []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO state(key, data, updated_at) VALUES(?,?,?)
		 ON CONFLICT(key) DO UPDATE SET data=excluded.data, updated_at=excluded.updated_at`,
		key, data, time.Now().UnixMilli(),
	)
	return err
}

func (s *sqliteStore) PutTimer(ctx context.Context, rec TimerRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO timers(id, owner, reference, argument, fire_at, created_at) VALUES(?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET owner=excluded.owner, reference=excluded.reference,
		   argument=excluded.argument, fire_at=excluded.fire_at`,
		rec.ID, rec.Owner, rec.Reference, rec.Argument, rec.FireAt.UnixNano(), rec.CreatedAt.UnixNano(),
	)
	return err
}

func (s *sqliteStore) DeleteTimers(ctx context.Context, reference string) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM timers WHERE reference = ?`, reference)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *sqliteStore) CountTimers(ctx context.Context, reference string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM timers WHERE reference = ?`, reference).Scan(&n)
	return n, err
}

func (s *sqliteStore) PopNextTimer(ctx context.Context, now time.Time) (TimerRecord, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return TimerRecord{}, false, err
	}
	defer func() { _ = tx.Rollback() }()

	var (
		rec           TimerRecord
		fire, created int64
	)
	err = tx.QueryRowContext(ctx,
		`SELECT id, owner, reference, argument, fire_at, created_at FROM timers
		 WHERE fire_at <= ? ORDER BY fire_at, created_at, id LIMIT 1`, now.UnixNano(),
	).Scan(&rec.ID, &rec.Owner, &rec.Reference, &rec.Argument, &fire, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return TimerRecord{}, false, nil
	}
	if err != nil {
		return TimerRecord{}, false, err
	}
	rec.FireAt = time.Unix(0, fire)
	rec.CreatedAt = time.Unix(0, created)

	if _, err := tx.ExecContext(ctx, `DELETE FROM timers WHERE id = ?`, rec.ID); err != nil {
		return TimerRecord{}, false, err
	}
	if err := tx.Commit(); err != nil {
		return TimerRecord{}, false, err
	}
	return rec, true, nil
}

func (s *sqliteStore) NextTimer(ctx context.Context) (time.Time, bool, error) {
	var next sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MIN(fire_at) FROM timers`).Scan(&next); err != nil {
		return time.Time{}, false, err
	}
	if !next.Valid {
		return time.Time{}, false, nil
	}
	return time.Unix(0, next.Int64), true, nil
}

func (s *sqliteStore) SetAdminContent(ctx context.Context, orgID int64, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO admin_content(org_id, key, value) VALUES(?,?,?)
		 ON CONFLICT(org_id, key) DO UPDATE SET value=excluded.value`,
		orgID, key, value,
	)
	return err
}

func (s *sqliteStore) GetAdminContent(ctx context.Context, orgID int64, key string) ([]byte, bool, error) {
	var v []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM admin_content WHERE org_id = ? AND key = ?`, orgID, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (s *sqliteStore) DeleteAdminContent(ctx context.Context, orgID int64, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM admin_content WHERE org_id = ? AND key = ?`, orgID, key)
	return err
}

func (s *sqliteStore) AppendInvocation(ctx context.Context, e InvocationEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO invocations(at, triggers, kinds, executed, saved, took_ms, err, timer, reference)
		 VALUES(?,?,?,?,?,?,?,?,?)`,
		e.At.Format(time.RFC3339Nano), e.Trigger, e.Kinds, e.Executed, e.Saved, e.TookMS,
		nullStr(e.Error), e.Timer, nullStr(e.Reference),
	)
	return err
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
