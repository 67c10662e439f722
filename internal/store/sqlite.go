package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/bcdatalab/equitymap/internal/model"
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
CREATE TABLE IF NOT EXISTS location_cache (
	key         TEXT PRIMARY KEY,
	latitude    REAL NOT NULL,
	longitude   REAL NOT NULL,
	resolved_at DATETIME NOT NULL DEFAULT (datetime('now')),
	source      TEXT NOT NULL DEFAULT 'external_service'
);

CREATE INDEX IF NOT EXISTS idx_location_cache_source ON location_cache(source);

CREATE TABLE IF NOT EXISTS resolve_runs (
	id          TEXT PRIMARY KEY,
	started_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	duration_ms INTEGER NOT NULL DEFAULT 0,
	total       INTEGER NOT NULL DEFAULT 0,
	cached      INTEGER NOT NULL DEFAULT 0,
	resolved    INTEGER NOT NULL DEFAULT 0,
	failed      INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_resolve_runs_started_at ON resolve_runs(started_at DESC);

CREATE TABLE IF NOT EXISTS districts (
	name      TEXT PRIMARY KEY,
	feature   TEXT NOT NULL,
	loaded_at DATETIME NOT NULL DEFAULT (datetime('now'))
);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Get(ctx context.Context, key string) (*model.CoordinateRecord, error) {
	var rec model.CoordinateRecord
	err := s.db.QueryRowContext(ctx,
		`SELECT key, latitude, longitude, resolved_at, source FROM location_cache WHERE key = ?`,
		key,
	).Scan(&rec.Key, &rec.Latitude, &rec.Longitude, &rec.ResolvedAt, &rec.Source)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(markUnavailable(err), "sqlite: get coordinate %q", key)
	}
	return &rec, nil
}

func (s *SQLiteStore) Put(ctx context.Context, rec model.CoordinateRecord) error {
	if rec.Key == "" {
		return ErrEmptyKey
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO location_cache (key, latitude, longitude, resolved_at, source)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (key) DO UPDATE SET latitude = excluded.latitude,
		   longitude = excluded.longitude, resolved_at = excluded.resolved_at,
		   source = excluded.source`,
		rec.Key, rec.Latitude, rec.Longitude, rec.ResolvedAt, string(rec.Source),
	)
	if err != nil {
		return eris.Wrapf(markUnavailable(err), "sqlite: put coordinate %q", rec.Key)
	}
	return nil
}

func (s *SQLiteStore) PutBatch(ctx context.Context, recs []model.CoordinateRecord) error {
	if len(recs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(markUnavailable(err), "sqlite: begin put batch")
	}
	defer tx.Rollback() //nolint:errcheck

	for _, rec := range recs {
		if rec.Key == "" {
			return ErrEmptyKey
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO location_cache (key, latitude, longitude, resolved_at, source)
			 VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT (key) DO UPDATE SET latitude = excluded.latitude,
			   longitude = excluded.longitude, resolved_at = excluded.resolved_at,
			   source = excluded.source`,
			rec.Key, rec.Latitude, rec.Longitude, rec.ResolvedAt, string(rec.Source),
		)
		if err != nil {
			return eris.Wrapf(markUnavailable(err), "sqlite: put coordinate %q", rec.Key)
		}
	}
	if err := tx.Commit(); err != nil {
		return eris.Wrap(markUnavailable(err), "sqlite: commit put batch")
	}
	return nil
}

func (s *SQLiteStore) ListKeys(ctx context.Context) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key FROM location_cache`)
	if err != nil {
		return nil, eris.Wrap(markUnavailable(err), "sqlite: list coordinate keys")
	}
	defer rows.Close()

	keys := make(map[string]bool)
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, eris.Wrap(markUnavailable(err), "sqlite: scan coordinate key")
		}
		keys[key] = true
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(markUnavailable(err), "sqlite: iterate coordinate keys")
	}
	return keys, nil
}

func (s *SQLiteStore) Stats(ctx context.Context) (*model.CacheStats, error) {
	stats := &model.CacheStats{BySource: make(map[model.CoordinateSource]int)}

	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM location_cache`,
	).Scan(&stats.Total)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: cache totals")
	}

	// MIN/MAX on a DATETIME column loses the decltype the driver needs to
	// return time.Time, so bound rows are fetched directly.
	var oldest time.Time
	err = s.db.QueryRowContext(ctx,
		`SELECT resolved_at FROM location_cache ORDER BY resolved_at ASC LIMIT 1`,
	).Scan(&oldest)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, eris.Wrap(err, "sqlite: oldest resolved_at")
	default:
		stats.OldestResolvedAt = &oldest
	}

	var newest time.Time
	err = s.db.QueryRowContext(ctx,
		`SELECT resolved_at FROM location_cache ORDER BY resolved_at DESC LIMIT 1`,
	).Scan(&newest)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, eris.Wrap(err, "sqlite: newest resolved_at")
	default:
		stats.NewestResolvedAt = &newest
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT source, COUNT(*) FROM location_cache GROUP BY source`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: cache source breakdown")
	}
	defer rows.Close()

	for rows.Next() {
		var src string
		var n int
		if err := rows.Scan(&src, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan source count")
		}
		stats.BySource[model.CoordinateSource(src)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: iterate source counts")
	}

	err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM resolve_runs`).Scan(&stats.ResolveRuns)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: count resolve runs")
	}
	return stats, nil
}

func (s *SQLiteStore) LogResolveRun(ctx context.Context, run model.ResolveRun) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO resolve_runs (id, started_at, duration_ms, total, cached, resolved, failed)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.StartedAt, run.Duration.Milliseconds(),
		run.Total, run.Cached, run.Resolved, run.Failed,
	)
	return eris.Wrap(err, "sqlite: insert resolve run")
}

func (s *SQLiteStore) ListResolveRuns(ctx context.Context, limit int) ([]model.ResolveRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, started_at, duration_ms, total, cached, resolved, failed
		 FROM resolve_runs ORDER BY started_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list resolve runs")
	}
	defer rows.Close()

	var runs []model.ResolveRun
	for rows.Next() {
		var run model.ResolveRun
		var durationMs int64
		if err := rows.Scan(&run.ID, &run.StartedAt, &durationMs,
			&run.Total, &run.Cached, &run.Resolved, &run.Failed); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan resolve run")
		}
		run.Duration = time.Duration(durationMs) * time.Millisecond
		runs = append(runs, run)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list resolve runs iterate")
}

func (s *SQLiteStore) PutDistrict(ctx context.Context, d model.District) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO districts (name, feature, loaded_at) VALUES (?, ?, ?)
		 ON CONFLICT (name) DO UPDATE SET feature = excluded.feature,
		   loaded_at = excluded.loaded_at`,
		d.Name, d.Feature, d.LoadedAt,
	)
	return eris.Wrapf(err, "sqlite: put district %q", d.Name)
}

func (s *SQLiteStore) ListDistricts(ctx context.Context) ([]model.District, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, feature, loaded_at FROM districts ORDER BY name`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list districts")
	}
	defer rows.Close()

	var districts []model.District
	for rows.Next() {
		var d model.District
		if err := rows.Scan(&d.Name, &d.Feature, &d.LoadedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan district")
		}
		districts = append(districts, d)
	}
	return districts, eris.Wrap(rows.Err(), "sqlite: list districts iterate")
}
