// Package store is the controller's durable state: intents, policies,
// metric history, and audit log, per spec.md §4.7.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	_ "modernc.org/sqlite"

	ierrors "github.com/ibnctl/ibnctl/internal/errors"
	"github.com/ibnctl/ibnctl/internal/logging"
	"github.com/ibnctl/ibnctl/internal/model"
)

// writeJob is one Intent-status-mutating unit of work, executed by the
// single writer goroutine.
type writeJob struct {
	fn    func(*sql.Tx) error
	reply chan error
}

// Store is the controller's SQLite-backed durable store. All writes that
// mutate Intent/Policy status go through one writer goroutine (single
// writer path, spec.md §4.7); metric ingestion is a separately concurrent
// path against its own table.
type Store struct {
	db      *sql.DB
	logger  *logging.Logger
	writeCh chan writeJob
	done    chan struct{}
}

// Open opens (creating if absent) the SQLite database at path, runs
// pending migrations, and starts the single writer goroutine. Modeled on
// the teacher's querylog.Store.Open DSN convention.
func Open(path string, logger *logging.Logger) (*Store, error) {
	if logger == nil {
		logger = logging.New(logging.DefaultConfig())
	}

	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, ierrors.Wrap(err, ierrors.KindStoreUnavailable, "store: open database")
	}

	s := &Store{db: db, logger: logger, writeCh: make(chan writeJob), done: make(chan struct{})}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	go s.runWriter()
	return s, nil
}

// Close stops the writer goroutine and closes the database.
func (s *Store) Close() error {
	close(s.writeCh)
	<-s.done
	return s.db.Close()
}

func (s *Store) runWriter() {
	defer close(s.done)
	for job := range s.writeCh {
		job.reply <- s.runInTx(job.fn)
	}
}

func (s *Store) runInTx(fn func(*sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return ierrors.Wrap(err, ierrors.KindStoreUnavailable, "store: begin transaction")
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return ierrors.Wrap(err, ierrors.KindStoreUnavailable, "store: commit transaction")
	}
	return nil
}

// write submits fn to the single writer goroutine and blocks for its
// result, or returns ctx's error if it's canceled first.
func (s *Store) write(ctx context.Context, fn func(*sql.Tx) error) error {
	reply := make(chan error, 1)
	select {
	case s.writeCh <- writeJob{fn: fn, reply: reply}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(migrations[0].stmts[0]); err != nil {
		return ierrors.Wrap(err, ierrors.KindStoreUnavailable, "store: create schema_version table")
	}

	var current int
	row := s.db.QueryRow(`SELECT version FROM schema_version LIMIT 1`)
	switch err := row.Scan(&current); {
	case err == sql.ErrNoRows:
		current = 0
	case err != nil:
		return ierrors.Wrap(err, ierrors.KindStoreUnavailable, "store: read schema_version")
	}

	tx, err := s.db.Begin()
	if err != nil {
		return ierrors.Wrap(err, ierrors.KindStoreUnavailable, "store: begin migration")
	}
	defer tx.Rollback()

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		for _, stmt := range m.stmts {
			if _, err := tx.Exec(stmt); err != nil {
				return ierrors.Wrapf(err, ierrors.KindStoreUnavailable, "store: migration %d", m.version)
			}
		}
		current = m.version
	}

	if _, err := tx.Exec(`DELETE FROM schema_version`); err != nil {
		return ierrors.Wrap(err, ierrors.KindStoreUnavailable, "store: reset schema_version")
	}
	if _, err := tx.Exec(`INSERT INTO schema_version (version) VALUES (?)`, currentSchemaVersion); err != nil {
		return ierrors.Wrap(err, ierrors.KindStoreUnavailable, "store: write schema_version")
	}

	if err := tx.Commit(); err != nil {
		return ierrors.Wrap(err, ierrors.KindStoreUnavailable, "store: commit migration")
	}

	s.logger.Info("store migrated", "schema_version", currentSchemaVersion)
	return nil
}

// SchemaCurrent reports whether the store's schema is at the version this
// build expects, satisfying spec.md §4.7's "Orchestrator refuses to serve
// until schema is current".
func (s *Store) SchemaCurrent() (bool, error) {
	var version int
	row := s.db.QueryRow(`SELECT version FROM schema_version LIMIT 1`)
	if err := row.Scan(&version); err != nil {
		return false, ierrors.Wrap(err, ierrors.KindStoreUnavailable, "store: read schema_version")
	}
	return version == currentSchemaVersion, nil
}

func marshalJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", ierrors.Wrap(err, ierrors.KindInternal, "store: marshal")
	}
	return string(b), nil
}

func unmarshalJSON[T any](raw string) (T, error) {
	var v T
	if raw == "" {
		return v, nil
	}
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return v, ierrors.Wrap(err, ierrors.KindInternal, "store: unmarshal")
	}
	return v, nil
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UnixMilli()
}

func timeFromMillis(ms sql.NullInt64) time.Time {
	if !ms.Valid || ms.Int64 == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms.Int64)
}
