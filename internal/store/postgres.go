package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/bcdatalab/equitymap/internal/db"
	"github.com/bcdatalab/equitymap/internal/model"
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

// preparedStatements lists queries to prepare on each new connection for
// the hot coordinate-cache path.
var preparedStatements = map[string]string{
	"get_coordinate": `SELECT key, latitude, longitude, resolved_at, source FROM location_cache WHERE key = $1`,
	"put_coordinate": `INSERT INTO location_cache (key, latitude, longitude, resolved_at, source)
	 VALUES ($1, $2, $3, $4, $5)
	 ON CONFLICT (key) DO UPDATE SET latitude = $2, longitude = $3, resolved_at = $4, source = $5`,
	"list_coordinate_keys": `SELECT key FROM location_cache`,
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

// Pool returns the underlying database pool for subsystems that need direct
// query access.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS location_cache (
	key         TEXT PRIMARY KEY,
	latitude    DOUBLE PRECISION NOT NULL,
	longitude   DOUBLE PRECISION NOT NULL,
	resolved_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	source      TEXT NOT NULL DEFAULT 'external_service'
);

CREATE INDEX IF NOT EXISTS idx_location_cache_source ON location_cache(source);

CREATE TABLE IF NOT EXISTS resolve_runs (
	id          TEXT PRIMARY KEY,
	started_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	duration_ms BIGINT NOT NULL DEFAULT 0,
	total       INTEGER NOT NULL DEFAULT 0,
	cached      INTEGER NOT NULL DEFAULT 0,
	resolved    INTEGER NOT NULL DEFAULT 0,
	failed      INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_resolve_runs_started_at ON resolve_runs(started_at DESC);

CREATE TABLE IF NOT EXISTS districts (
	name      TEXT PRIMARY KEY,
	feature   TEXT NOT NULL,
	loaded_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
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

func (s *PostgresStore) Get(ctx context.Context, key string) (*model.CoordinateRecord, error) {
	var rec model.CoordinateRecord
	err := s.pool.QueryRow(ctx,
		`SELECT key, latitude, longitude, resolved_at, source FROM location_cache WHERE key = $1`,
		key,
	).Scan(&rec.Key, &rec.Latitude, &rec.Longitude, &rec.ResolvedAt, &rec.Source)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(markUnavailable(err), "postgres: get coordinate %q", key)
	}
	return &rec, nil
}

func (s *PostgresStore) Put(ctx context.Context, rec model.CoordinateRecord) error {
	if rec.Key == "" {
		return ErrEmptyKey
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO location_cache (key, latitude, longitude, resolved_at, source)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (key) DO UPDATE SET latitude = $2, longitude = $3, resolved_at = $4, source = $5`,
		rec.Key, rec.Latitude, rec.Longitude, rec.ResolvedAt, string(rec.Source),
	)
	if err != nil {
		return eris.Wrapf(markUnavailable(err), "postgres: put coordinate %q", rec.Key)
	}
	return nil
}

func (s *PostgresStore) PutBatch(ctx context.Context, recs []model.CoordinateRecord) error {
	if len(recs) == 0 {
		return nil
	}

	rows := make([][]any, 0, len(recs))
	for _, rec := range recs {
		if rec.Key == "" {
			return ErrEmptyKey
		}
		rows = append(rows, []any{rec.Key, rec.Latitude, rec.Longitude, rec.ResolvedAt, string(rec.Source)})
	}

	_, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "location_cache",
		Columns:      []string{"key", "latitude", "longitude", "resolved_at", "source"},
		ConflictKeys: []string{"key"},
	}, rows)
	if err != nil {
		return eris.Wrap(markUnavailable(err), "postgres: put coordinate batch")
	}
	return nil
}

func (s *PostgresStore) ListKeys(ctx context.Context) (map[string]bool, error) {
	rows, err := s.pool.Query(ctx, `SELECT key FROM location_cache`)
	if err != nil {
		return nil, eris.Wrap(markUnavailable(err), "postgres: list coordinate keys")
	}
	defer rows.Close()

	keys := make(map[string]bool)
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, eris.Wrap(markUnavailable(err), "postgres: scan coordinate key")
		}
		keys[key] = true
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(markUnavailable(err), "postgres: iterate coordinate keys")
	}
	return keys, nil
}

func (s *PostgresStore) Stats(ctx context.Context) (*model.CacheStats, error) {
	stats := &model.CacheStats{BySource: make(map[model.CoordinateSource]int)}

	var oldest, newest *time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*), MIN(resolved_at), MAX(resolved_at) FROM location_cache`,
	).Scan(&stats.Total, &oldest, &newest)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: cache totals")
	}
	stats.OldestResolvedAt = oldest
	stats.NewestResolvedAt = newest

	rows, err := s.pool.Query(ctx,
		`SELECT source, COUNT(*) FROM location_cache GROUP BY source`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: cache source breakdown")
	}
	defer rows.Close()

	for rows.Next() {
		var src string
		var n int
		if err := rows.Scan(&src, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan source count")
		}
		stats.BySource[model.CoordinateSource(src)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate source counts")
	}

	err = s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM resolve_runs`).Scan(&stats.ResolveRuns)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: count resolve runs")
	}
	return stats, nil
}

func (s *PostgresStore) LogResolveRun(ctx context.Context, run model.ResolveRun) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO resolve_runs (id, started_at, duration_ms, total, cached, resolved, failed)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		run.ID, run.StartedAt, run.Duration.Milliseconds(),
		run.Total, run.Cached, run.Resolved, run.Failed,
	)
	return eris.Wrap(err, "postgres: insert resolve run")
}

func (s *PostgresStore) ListResolveRuns(ctx context.Context, limit int) ([]model.ResolveRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, started_at, duration_ms, total, cached, resolved, failed
		 FROM resolve_runs ORDER BY started_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list resolve runs")
	}
	defer rows.Close()

	var runs []model.ResolveRun
	for rows.Next() {
		var run model.ResolveRun
		var durationMs int64
		if err := rows.Scan(&run.ID, &run.StartedAt, &durationMs,
			&run.Total, &run.Cached, &run.Resolved, &run.Failed); err != nil {
			return nil, eris.Wrap(err, "postgres: scan resolve run")
		}
		run.Duration = time.Duration(durationMs) * time.Millisecond
		runs = append(runs, run)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list resolve runs iterate")
}

func (s *PostgresStore) PutDistrict(ctx context.Context, d model.District) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO districts (name, feature, loaded_at) VALUES ($1, $2, $3)
		 ON CONFLICT (name) DO UPDATE SET feature = $2, loaded_at = $3`,
		d.Name, d.Feature, d.LoadedAt,
	)
	return eris.Wrapf(err, "postgres: put district %q", d.Name)
}

func (s *PostgresStore) ListDistricts(ctx context.Context) ([]model.District, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT name, feature, loaded_at FROM districts ORDER BY name`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list districts")
	}
	defer rows.Close()

	var districts []model.District
	for rows.Next() {
		var d model.District
		if err := rows.Scan(&d.Name, &d.Feature, &d.LoadedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan district")
		}
		districts = append(districts, d)
	}
	return districts, eris.Wrap(rows.Err(), "postgres: list districts iterate")
}
