package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/vindex/vindex/internal/db"
	"github.com/vindex/vindex/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
	now     func() time.Time
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32
	MinConns int32
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
CREATE TABLE IF NOT EXISTS global_wines (
	id              TEXT PRIMARY KEY,
	winery          TEXT NOT NULL,
	wine_name       TEXT NOT NULL,
	vintage         TEXT NOT NULL,
	winery_key      TEXT NOT NULL,
	wine_name_key   TEXT NOT NULL,
	vintage_key     TEXT NOT NULL,
	grapes          JSONB NOT NULL DEFAULT '[]'::jsonb,
	region          TEXT NOT NULL DEFAULT 'Unknown',
	country         TEXT NOT NULL DEFAULT 'Unknown',
	alcohol_content DOUBLE PRECISION,
	type            TEXT NOT NULL DEFAULT 'RED',
	image_url       TEXT,
	source          TEXT NOT NULL,
	validated       BOOLEAN NOT NULL DEFAULT false,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS uq_global_wines_key ON global_wines(winery_key, wine_name_key, vintage_key);
CREATE INDEX IF NOT EXISTS idx_global_wines_validated ON global_wines(validated);
`

// Migrate creates the global_wines table and its indexes.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) clock() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now()
}

func (s *PostgresStore) FindByKey(ctx context.Context, key model.Key) (*model.WineRecord, error) {
	k := key.Normalized()
	row := s.pool.QueryRow(ctx,
		`SELECT `+selectColumns+` FROM global_wines
		 WHERE winery_key = $1 AND wine_name_key = $2 AND vintage_key = $3`,
		k.Winery, k.WineName, k.Vintage,
	)
	rec, err := scanPostgres(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: find by key %s", k)
	}
	return rec, nil
}

func (s *PostgresStore) Save(ctx context.Context, rec *model.WineRecord) (*model.WineRecord, error) {
	out := prepare(rec, s.clock())
	args, err := insertArgs(&out)
	if err != nil {
		return nil, err
	}

	var id string
	err = s.pool.QueryRow(ctx,
		`INSERT INTO global_wines (`+joinColumns(insertColumns)+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		 ON CONFLICT (winery_key, wine_name_key, vintage_key) DO NOTHING
		 RETURNING id`,
		args...,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) || db.IsUniqueViolation(err) {
		return nil, ErrConflict
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: save wine")
	}
	return &out, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*model.WineRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+selectColumns+` FROM global_wines WHERE id = $1`, id)
	rec, err := scanPostgres(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get wine %s", id)
	}
	return rec, nil
}

func (s *PostgresStore) FindByWineryContains(ctx context.Context, q string) ([]model.WineRecord, error) {
	term := searchTerm(q)
	if term == "" {
		return []model.WineRecord{}, nil
	}
	return s.list(ctx, "find by winery",
		`SELECT `+selectColumns+` FROM global_wines
		 WHERE strpos(winery_key, $1) > 0
		 ORDER BY winery_key, wine_name_key, vintage_key`,
		term,
	)
}

func (s *PostgresStore) FindByNameContains(ctx context.Context, q string) ([]model.WineRecord, error) {
	term := searchTerm(q)
	if term == "" {
		return []model.WineRecord{}, nil
	}
	return s.list(ctx, "find by name",
		`SELECT `+selectColumns+` FROM global_wines
		 WHERE strpos(wine_name_key, $1) > 0
		 ORDER BY winery_key, wine_name_key, vintage_key`,
		term,
	)
}

func (s *PostgresStore) FindAllValidated(ctx context.Context) ([]model.WineRecord, error) {
	return s.list(ctx, "find validated",
		`SELECT `+selectColumns+` FROM global_wines
		 WHERE validated = true
		 ORDER BY winery_key, wine_name_key, vintage_key`,
	)
}

func (s *PostgresStore) list(ctx context.Context, op, query string, args ...any) ([]model.WineRecord, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: %s", op)
	}
	defer rows.Close()

	out := []model.WineRecord{}
	for rows.Next() {
		rec, err := scanPostgres(rows)
		if err != nil {
			return nil, eris.Wrapf(err, "postgres: %s: scan", op)
		}
		out = append(out, *rec)
	}
	return out, eris.Wrapf(rows.Err(), "postgres: %s: iterate", op)
}

func (s *PostgresStore) TouchImage(ctx context.Context, id, url string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE global_wines SET image_url = $1, updated_at = $2 WHERE id = $3`,
		url, s.clock().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: touch image %s", id)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Import bulk-loads records through a temp table, skipping natural-key
// duplicates (including duplicates within recs).
func (s *PostgresStore) Import(ctx context.Context, recs []model.WineRecord) (int64, error) {
	now := s.clock()
	rows := make([][]any, 0, len(recs))
	for i := range recs {
		out := prepare(&recs[i], now)
		args, err := insertArgs(&out)
		if err != nil {
			return 0, err
		}
		rows = append(rows, args)
	}

	n, err := db.BulkInsertIgnore(ctx, s.pool, db.InsertConfig{
		Table:        "global_wines",
		Columns:      insertColumns,
		ConflictKeys: conflictColumns,
	}, rows)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: import")
	}
	return n, nil
}

// insertArgs returns rec's values in insertColumns order.
func insertArgs(rec *model.WineRecord) ([]any, error) {
	grapes, err := encodeGrapes(rec.Grapes)
	if err != nil {
		return nil, err
	}
	k := rec.Key().Normalized()
	return []any{
		rec.ID, rec.Winery, rec.WineName, rec.Vintage,
		k.Winery, k.WineName, k.Vintage,
		grapes, rec.Region, rec.Country, rec.AlcoholContent, string(rec.Type),
		rec.ImageURL, string(rec.Source), rec.Validated, rec.CreatedAt, rec.UpdatedAt,
	}, nil
}

func scanPostgres(row pgx.Row) (*model.WineRecord, error) {
	var (
		rec                model.WineRecord
		grapes             []byte
		wineType, source   string
		alcohol            *float64
		imageURL           *string
		createdAt, updated time.Time
	)
	if err := row.Scan(
		&rec.ID, &rec.Winery, &rec.WineName, &rec.Vintage, &grapes,
		&rec.Region, &rec.Country, &alcohol, &wineType, &imageURL,
		&source, &rec.Validated, &createdAt, &updated,
	); err != nil {
		return nil, err
	}
	g, err := decodeGrapes(grapes)
	if err != nil {
		return nil, err
	}
	rec.Grapes = g
	rec.AlcoholContent = alcohol
	rec.ImageURL = imageURL
	rec.Type = model.WineType(wineType)
	rec.Source = model.Source(source)
	rec.CreatedAt = createdAt.UTC()
	rec.UpdatedAt = updated.UTC()
	return &rec, nil
}
