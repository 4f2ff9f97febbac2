// Package store persists computed digests to SQLite for later lookup and
// reporting, the way ClusterCockpit-cc-backend's internal/repository
// package persists job records: sqlx over a migrated, squirrel-built
// schema, with every query logged through the wrapped driver.
package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/charmbracelet/log"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	sqlitedriver "github.com/mattn/go-sqlite3"
	"github.com/qustavo/sqlhooks/v2"

	"github.com/go-pyzor/pyzordigest"
)

//go:embed migrations/*
var migrationFiles embed.FS

// Record is one computed digest as stored in the digests table.
type Record struct {
	ID         int64     `db:"id"`
	Digest     string    `db:"digest"`
	Source     string    `db:"source"`
	Lines      int       `db:"lines"`
	Stats      uint32    `db:"stats"`
	Verdict    string    `db:"verdict"`
	ComputedAt time.Time `db:"computed_at"`
}

// Store wraps a migrated SQLite database for digest history.
type Store struct {
	db *sqlx.DB
}

// queryLogger implements sqlhooks.Hooks, logging every query through
// charmbracelet/log the way sqlhooks is meant to be used: wrap the driver
// once, get logging/tracing for free on every *sql.DB built from it.
type queryLogger struct{}

func (queryLogger) Before(ctx context.Context, query string, args ...interface{}) (context.Context, error) {
	return context.WithValue(ctx, hookStartKey{}, time.Now()), nil
}

func (queryLogger) After(ctx context.Context, query string, args ...interface{}) (context.Context, error) {
	start, _ := ctx.Value(hookStartKey{}).(time.Time)
	log.Debug("store: query", "sql", query, "duration", time.Since(start))
	return ctx, nil
}

type hookStartKey struct{}

// Open migrates and opens dsn (a SQLite file path, or ":memory:" for tests).
func Open(dsn string) (*Store, error) {
	driverName := registerHookedDriver()

	db, err := sqlx.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("store: opening %s: %w", dsn, err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("store: pinging %s: %w", dsn, err)
	}

	if err := migrateUp(db.DB); err != nil {
		return nil, err
	}

	return &Store{db: db}, nil
}

func registerHookedDriver() string {
	const name = "sqlite3-pyzordigest"
	for _, d := range sql.Drivers() {
		if d == name {
			return name
		}
	}
	sql.Register(name, sqlhooks.Wrap(&sqlitedriver.SQLiteDriver{}, queryLogger{}))
	return name
}

func migrateUp(db *sql.DB) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("store: migration driver: %w", err)
	}
	src, err := iofs.New(migrationFiles, "migrations/sqlite3")
	if err != nil {
		return fmt.Errorf("store: migration source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("store: migration: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("store: running migrations: %w", err)
	}
	return nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Insert records a computed digest.
func (s *Store) Insert(ctx context.Context, r Record) error {
	query, args, err := sq.Insert("digests").
		Columns("digest", "source", "lines", "stats", "verdict", "computed_at").
		Values(r.Digest, r.Source, r.Lines, r.Stats, r.Verdict, r.ComputedAt.Unix()).
		ToSql()
	if err != nil {
		return fmt.Errorf("store: building insert: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("store: inserting record: %w", err)
	}
	return nil
}

// Recent returns the n most recently computed records.
func (s *Store) Recent(ctx context.Context, n int) ([]Record, error) {
	query, args, err := sq.Select("id", "digest", "source", "lines", "stats", "verdict", "computed_at").
		From("digests").
		OrderBy("computed_at DESC").
		Limit(uint64(n)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("store: building select: %w", err)
	}

	var rows []struct {
		Record
		ComputedAt int64 `db:"computed_at"`
	}
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("store: querying recent records: %w", err)
	}

	out := make([]Record, 0, len(rows))
	for _, row := range rows {
		rec := row.Record
		rec.ComputedAt = time.Unix(row.ComputedAt, 0).UTC()
		out = append(out, rec)
	}
	return out, nil
}

// ByVerdict returns recent records matching a given policy verdict.
func (s *Store) ByVerdict(ctx context.Context, verdict string, n int) ([]Record, error) {
	query, args, err := sq.Select("id", "digest", "source", "lines", "stats", "verdict", "computed_at").
		From("digests").
		Where(sq.Eq{"verdict": verdict}).
		OrderBy("computed_at DESC").
		Limit(uint64(n)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("store: building select: %w", err)
	}

	var rows []struct {
		Record
		ComputedAt int64 `db:"computed_at"`
	}
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("store: querying by verdict: %w", err)
	}

	out := make([]Record, 0, len(rows))
	for _, row := range rows {
		rec := row.Record
		rec.ComputedAt = time.Unix(row.ComputedAt, 0).UTC()
		out = append(out, rec)
	}
	return out, nil
}

// PurgeOlderThan deletes records computed before cutoff and returns the
// number of rows removed.
func (s *Store) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	query, args, err := sq.Delete("digests").
		Where(sq.Lt{"computed_at": cutoff.Unix()}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("store: building delete: %w", err)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("store: purging old records: %w", err)
	}
	return res.RowsAffected()
}

// RecordFromDigest builds a Record from a freshly computed digest.
func RecordFromDigest(digest, source string, d *pyzordigest.Digester, verdict string, now time.Time) Record {
	return Record{
		Digest:     digest,
		Source:     source,
		Lines:      d.Lines(),
		Stats:      uint32(d.Stats()),
		Verdict:    verdict,
		ComputedAt: now,
	}
}
