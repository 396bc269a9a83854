// Package store persists discovered wines in the global catalog.
package store

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/vindex/vindex/internal/config"
	"github.com/vindex/vindex/internal/model"
)

var (
	// ErrConflict is returned by Save when a record with the same natural
	// key already exists.
	ErrConflict = eris.New("store: natural key already exists")

	// ErrNotFound is returned when a record id does not exist.
	ErrNotFound = eris.New("store: record not found")
)

// Store is the persistence interface for the global wine catalog.
type Store interface {
	// FindByKey looks a record up by its case-normalized natural key.
	// A miss returns (nil, nil).
	FindByKey(ctx context.Context, key model.Key) (*model.WineRecord, error)

	// Save inserts a new record. ID and timestamps are assigned when unset.
	// A natural-key collision returns ErrConflict and leaves the existing
	// record untouched.
	Save(ctx context.Context, rec *model.WineRecord) (*model.WineRecord, error)

	Get(ctx context.Context, id string) (*model.WineRecord, error)
	// Contains-queries ignore case; a blank q matches nothing.
	FindByWineryContains(ctx context.Context, q string) ([]model.WineRecord, error)
	FindByNameContains(ctx context.Context, q string) ([]model.WineRecord, error)
	FindAllValidated(ctx context.Context) ([]model.WineRecord, error)

	// TouchImage sets the image URL and bumps updated_at. It is the only
	// mutation allowed after creation.
	TouchImage(ctx context.Context, id, url string) error

	// Import inserts records in bulk, skipping natural-key duplicates, and
	// returns the number inserted.
	Import(ctx context.Context, recs []model.WineRecord) (int64, error)

	Migrate(ctx context.Context) error
	Close() error
}

// DefaultSQLitePath is used when the sqlite driver has no database_url.
const DefaultSQLitePath = "vindex.db"

// Open returns the Store selected by cfg.Driver.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch cfg.Driver {
	case "postgres", "":
		s, err := NewPostgres(ctx, cfg.DatabaseURL, &PoolConfig{MaxConns: cfg.MaxConns, MinConns: cfg.MinConns})
		if err != nil {
			return nil, err
		}
		return s, nil
	case "sqlite":
		dsn := cfg.DatabaseURL
		if dsn == "" {
			dsn = DefaultSQLitePath
		}
		s, err := NewSQLite(dsn)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, eris.Errorf("store: unknown driver %q", cfg.Driver)
	}
}

// prepare returns a copy of rec ready for insertion.
func prepare(rec *model.WineRecord, now time.Time) model.WineRecord {
	out := *rec
	if out.ID == "" {
		out.ID = uuid.NewString()
	}
	if out.CreatedAt.IsZero() {
		out.CreatedAt = now
	}
	if out.UpdatedAt.IsZero() {
		out.UpdatedAt = out.CreatedAt
	}
	out.CreatedAt = out.CreatedAt.UTC()
	out.UpdatedAt = out.UpdatedAt.UTC()
	if out.Grapes == nil {
		out.Grapes = []string{}
	} else {
		out.Grapes = append([]string(nil), out.Grapes...)
	}
	if out.Vintage == "" {
		out.Vintage = model.NonVintage
	}
	if out.Region == "" {
		out.Region = model.Unknown
	}
	if out.Country == "" {
		out.Country = model.Unknown
	}
	if out.Type == "" {
		out.Type = model.WineTypeRed
	}
	return out
}

// insertColumns is the column order shared by single and bulk inserts.
var insertColumns = []string{
	"id", "winery", "wine_name", "vintage",
	"winery_key", "wine_name_key", "vintage_key",
	"grapes", "region", "country", "alcohol_content", "type",
	"image_url", "source", "validated", "created_at", "updated_at",
}

func joinColumns(cols []string) string {
	return strings.Join(cols, ", ")
}

// conflictColumns form the unique natural-key index.
var conflictColumns = []string{"winery_key", "wine_name_key", "vintage_key"}

// selectColumns is the column list read back by every query.
const selectColumns = `id, winery, wine_name, vintage, grapes, region, country, alcohol_content, type, image_url, source, validated, created_at, updated_at`

func encodeGrapes(grapes []string) ([]byte, error) {
	if grapes == nil {
		grapes = []string{}
	}
	b, err := json.Marshal(grapes)
	if err != nil {
		return nil, eris.Wrap(err, "store: marshal grapes")
	}
	return b, nil
}

func decodeGrapes(raw []byte) ([]string, error) {
	grapes := []string{}
	if len(raw) == 0 {
		return grapes, nil
	}
	if err := json.Unmarshal(raw, &grapes); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal grapes")
	}
	if grapes == nil {
		grapes = []string{}
	}
	return grapes, nil
}

// searchTerm folds a contains-query the same way key columns are folded.
func searchTerm(q string) string {
	return model.Key{Winery: q}.Normalized().Winery
}
