package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite" // register sqlite driver

	"github.com/vindex/vindex/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLite opens a SQLite database at dsn.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// A single connection keeps the pragmas below in effect and serializes writers.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS global_wines (
	id              TEXT PRIMARY KEY,
	winery          TEXT NOT NULL,
	wine_name       TEXT NOT NULL,
	vintage         TEXT NOT NULL,
	winery_key      TEXT NOT NULL,
	wine_name_key   TEXT NOT NULL,
	vintage_key     TEXT NOT NULL,
	grapes          TEXT NOT NULL DEFAULT '[]',
	region          TEXT NOT NULL DEFAULT 'Unknown',
	country         TEXT NOT NULL DEFAULT 'Unknown',
	alcohol_content REAL,
	type            TEXT NOT NULL DEFAULT 'RED',
	image_url       TEXT,
	source          TEXT NOT NULL,
	validated       INTEGER NOT NULL DEFAULT 0,
	created_at      TEXT NOT NULL,
	updated_at      TEXT NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS uq_global_wines_key ON global_wines(winery_key, wine_name_key, vintage_key);
CREATE INDEX IF NOT EXISTS idx_global_wines_validated ON global_wines(validated);
`

// Migrate creates the global_wines table and its indexes.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) clock() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now()
}

const insertSQLite = `INSERT INTO global_wines (id, winery, wine_name, vintage, winery_key, wine_name_key, vintage_key, grapes, region, country, alcohol_content, type, image_url, source, validated, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (winery_key, wine_name_key, vintage_key) DO NOTHING`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// insertOne inserts rec and reports whether a row was written.
func insertOne(ctx context.Context, ex execer, rec *model.WineRecord) (bool, error) {
	args, err := sqliteArgs(rec)
	if err != nil {
		return false, err
	}
	res, err := ex.ExecContext(ctx, insertSQLite, args...)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: insert wine")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n > 0, nil
}

func (s *SQLiteStore) FindByKey(ctx context.Context, key model.Key) (*model.WineRecord, error) {
	k := key.Normalized()
	row := s.db.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM global_wines
		 WHERE winery_key = ? AND wine_name_key = ? AND vintage_key = ?`,
		k.Winery, k.WineName, k.Vintage,
	)
	rec, err := scanSQLite(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: find by key %s", k)
	}
	return rec, nil
}

func (s *SQLiteStore) Save(ctx context.Context, rec *model.WineRecord) (*model.WineRecord, error) {
	out := prepare(rec, s.clock())
	inserted, err := insertOne(ctx, s.db, &out)
	if err != nil {
		return nil, err
	}
	if !inserted {
		return nil, ErrConflict
	}
	return &out, nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*model.WineRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM global_wines WHERE id = ?`, id)
	rec, err := scanSQLite(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get wine %s", id)
	}
	return rec, nil
}

func (s *SQLiteStore) FindByWineryContains(ctx context.Context, q string) ([]model.WineRecord, error) {
	term := searchTerm(q)
	if term == "" {
		return []model.WineRecord{}, nil
	}
	return s.list(ctx, "find by winery",
		`SELECT `+selectColumns+` FROM global_wines
		 WHERE instr(winery_key, ?) > 0
		 ORDER BY winery_key, wine_name_key, vintage_key`,
		term,
	)
}

func (s *SQLiteStore) FindByNameContains(ctx context.Context, q string) ([]model.WineRecord, error) {
	term := searchTerm(q)
	if term == "" {
		return []model.WineRecord{}, nil
	}
	return s.list(ctx, "find by name",
		`SELECT `+selectColumns+` FROM global_wines
		 WHERE instr(wine_name_key, ?) > 0
		 ORDER BY winery_key, wine_name_key, vintage_key`,
		term,
	)
}

func (s *SQLiteStore) FindAllValidated(ctx context.Context) ([]model.WineRecord, error) {
	return s.list(ctx, "find validated",
		`SELECT `+selectColumns+` FROM global_wines
		 WHERE validated = 1
		 ORDER BY winery_key, wine_name_key, vintage_key`,
	)
}

func (s *SQLiteStore) list(ctx context.Context, op, query string, args ...any) ([]model.WineRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: %s", op)
	}
	defer rows.Close() //nolint:errcheck

	out := []model.WineRecord{}
	for rows.Next() {
		rec, err := scanSQLite(rows)
		if err != nil {
			return nil, eris.Wrapf(err, "sqlite: %s: scan", op)
		}
		out = append(out, *rec)
	}
	return out, eris.Wrapf(rows.Err(), "sqlite: %s: iterate", op)
}

func (s *SQLiteStore) TouchImage(ctx context.Context, id, url string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE global_wines SET image_url = ?, updated_at = ? WHERE id = ?`,
		url, formatTime(s.clock()), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: touch image %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Import inserts recs in one transaction, skipping natural-key duplicates.
func (s *SQLiteStore) Import(ctx context.Context, recs []model.WineRecord) (int64, error) {
	if len(recs) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: import: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	now := s.clock()
	var n int64
	for i := range recs {
		out := prepare(&recs[i], now)
		inserted, err := insertOne(ctx, tx, &out)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: import row %d", i)
		}
		if inserted {
			n++
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: import: commit tx")
	}
	return n, nil
}

func sqliteArgs(rec *model.WineRecord) ([]any, error) {
	grapes, err := encodeGrapes(rec.Grapes)
	if err != nil {
		return nil, err
	}
	k := rec.Key().Normalized()
	return []any{
		rec.ID, rec.Winery, rec.WineName, rec.Vintage,
		k.Winery, k.WineName, k.Vintage,
		string(grapes), rec.Region, rec.Country, rec.AlcoholContent, string(rec.Type),
		rec.ImageURL, string(rec.Source), rec.Validated, formatTime(rec.CreatedAt), formatTime(rec.UpdatedAt),
	}, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// scannable abstracts *sql.Row and *sql.Rows.
type scannable interface {
	Scan(dest ...any) error
}

func scanSQLite(row scannable) (*model.WineRecord, error) {
	var (
		rec                  model.WineRecord
		grapes               string
		wineType, source     string
		alcohol              sql.NullFloat64
		imageURL             sql.NullString
		createdAt, updatedAt string
	)
	if err := row.Scan(
		&rec.ID, &rec.Winery, &rec.WineName, &rec.Vintage, &grapes,
		&rec.Region, &rec.Country, &alcohol, &wineType, &imageURL,
		&source, &rec.Validated, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	g, err := decodeGrapes([]byte(grapes))
	if err != nil {
		return nil, err
	}
	rec.Grapes = g
	if alcohol.Valid {
		rec.AlcoholContent = model.Float(alcohol.Float64)
	}
	if imageURL.Valid {
		rec.ImageURL = model.String(imageURL.String)
	}
	rec.Type = model.WineType(wineType)
	rec.Source = model.Source(source)
	if rec.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, eris.Wrap(err, "sqlite: parse created_at")
	}
	if rec.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, eris.Wrap(err, "sqlite: parse updated_at")
	}
	return &rec, nil
}
