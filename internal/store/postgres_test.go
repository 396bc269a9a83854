package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vindex/vindex/internal/model"
)

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock, now: func() time.Time { return fixedNow }}
	return s, mock
}

var wineColumns = []string{
	"id", "winery", "wine_name", "vintage", "grapes", "region", "country",
	"alcohol_content", "type", "image_url", "source", "validated", "created_at", "updated_at",
}

func taborRow(mock pgxmock.PgxPoolIface) *pgxmock.Rows {
	return mock.NewRows(wineColumns).AddRow(
		"w-1", "Tabor Winery", "Adama", "2018", []byte(`["Cabernet Sauvignon"]`), "Galilee", "Israel",
		model.Float(14), "RED", (*string)(nil), "HEURISTIC", true, fixedNow, fixedNow,
	)
}

func taborRecord() *model.WineRecord {
	return &model.WineRecord{
		Winery:         "Tabor Winery",
		WineName:       "Adama",
		Vintage:        "2018",
		Grapes:         []string{"Cabernet Sauvignon"},
		Region:         "Galilee",
		Country:        "Israel",
		AlcoholContent: model.Float(14),
		Type:           model.WineTypeRed,
		Source:         model.SourceHeuristic,
		Validated:      true,
	}
}

func TestPostgresStore_FindByKey_Hit(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT .* FROM global_wines\s+WHERE winery_key = \$1 AND wine_name_key = \$2 AND vintage_key = \$3`).
		WithArgs("tabor winery", "adama", "2018").
		WillReturnRows(taborRow(mock))

	rec, err := s.FindByKey(context.Background(), model.Key{Winery: " TABOR Winery", WineName: "adama ", Vintage: "2018"})
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "w-1", rec.ID)
	assert.Equal(t, []string{"Cabernet Sauvignon"}, rec.Grapes)
	assert.Equal(t, model.WineTypeRed, rec.Type)
	assert.Equal(t, model.SourceHeuristic, rec.Source)
	require.NotNil(t, rec.AlcoholContent)
	assert.InDelta(t, 14.0, *rec.AlcoholContent, 0.0001)
	assert.Nil(t, rec.ImageURL)
	assert.True(t, rec.Validated)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FindByKey_Miss(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT .* FROM global_wines`).
		WithArgs("yarden", "chardonnay", "nv").
		WillReturnError(pgx.ErrNoRows)

	rec, err := s.FindByKey(context.Background(), model.Key{Winery: "Yarden", WineName: "Chardonnay"})
	require.NoError(t, err)
	assert.Nil(t, rec)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FindByKey_Error(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT .* FROM global_wines`).
		WithArgs("a", "b", "nv").
		WillReturnError(fmt.Errorf("connection refused"))

	_, err := s.FindByKey(context.Background(), model.Key{Winery: "a", WineName: "b"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres: find by key")
}

func TestPostgresStore_Save(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`INSERT INTO global_wines .* ON CONFLICT \(winery_key, wine_name_key, vintage_key\) DO NOTHING\s+RETURNING id`).
		WithArgs(
			pgxmock.AnyArg(), "Tabor Winery", "Adama", "2018",
			"tabor winery", "adama", "2018",
			[]byte(`["Cabernet Sauvignon"]`), "Galilee", "Israel", model.Float(14), "RED",
			(*string)(nil), "HEURISTIC", true, fixedNow, fixedNow,
		).
		WillReturnRows(mock.NewRows([]string{"id"}).AddRow("generated"))

	in := taborRecord()
	saved, err := s.Save(context.Background(), in)
	require.NoError(t, err)
	assert.NotEmpty(t, saved.ID)
	assert.Empty(t, in.ID, "input is not mutated")
	assert.Equal(t, fixedNow, saved.CreatedAt)
	assert.Equal(t, fixedNow, saved.UpdatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Save_Conflict(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`INSERT INTO global_wines`).WillReturnError(pgx.ErrNoRows)

	_, err := s.Save(context.Background(), taborRecord())
	assert.ErrorIs(t, err, ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Save_UniqueViolation(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`INSERT INTO global_wines`).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "global_wines_pkey"})

	_, err := s.Save(context.Background(), taborRecord())
	assert.ErrorIs(t, err, ErrConflict)
}

func TestPostgresStore_Save_Error(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`INSERT INTO global_wines`).WillReturnError(fmt.Errorf("disk full"))

	_, err := s.Save(context.Background(), taborRecord())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrConflict)
	assert.Contains(t, err.Error(), "postgres: save wine")
}

func TestPostgresStore_Get(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT .* FROM global_wines WHERE id = \$1`).
		WithArgs("w-1").
		WillReturnRows(taborRow(mock))

	rec, err := s.Get(context.Background(), "w-1")
	require.NoError(t, err)
	assert.Equal(t, "Tabor Winery", rec.Winery)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Get_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT .* FROM global_wines WHERE id = \$1`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresStore_FindByWineryContains(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`WHERE strpos\(winery_key, \$1\) > 0\s+ORDER BY winery_key, wine_name_key, vintage_key`).
		WithArgs("tabor").
		WillReturnRows(taborRow(mock))

	recs, err := s.FindByWineryContains(context.Background(), " TABOR ")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "Adama", recs[0].WineName)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FindByNameContains_Empty(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`WHERE strpos\(wine_name_key, \$1\) > 0`).
		WithArgs("nothing").
		WillReturnRows(mock.NewRows(wineColumns))

	recs, err := s.FindByNameContains(context.Background(), "Nothing")
	require.NoError(t, err)
	assert.NotNil(t, recs)
	assert.Empty(t, recs)
}

func TestPostgresStore_ContainsBlankQuerySkipsDatabase(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	byWinery, err := s.FindByWineryContains(context.Background(), "  ")
	require.NoError(t, err)
	assert.NotNil(t, byWinery)
	assert.Empty(t, byWinery)

	byName, err := s.FindByNameContains(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, byName)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FindAllValidated(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`WHERE validated = true`).WillReturnRows(taborRow(mock))

	recs, err := s.FindAllValidated(context.Background())
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestPostgresStore_TouchImage(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE global_wines SET image_url = \$1, updated_at = \$2 WHERE id = \$3`).
		WithArgs("https://img.example/a.png", fixedNow, "w-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`UPDATE global_wines`).
		WithArgs("https://img.example/a.png", fixedNow, "missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	require.NoError(t, s.TouchImage(context.Background(), "w-1", "https://img.example/a.png"))
	assert.ErrorIs(t, s.TouchImage(context.Background(), "missing", "https://img.example/a.png"), ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Import(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE "_tmp_insert_global_wines"`).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_insert_global_wines"}, insertColumns).
		WillReturnResult(2)
	mock.ExpectExec(`INSERT INTO "global_wines" .* ON CONFLICT \("winery_key", "wine_name_key", "vintage_key"\) DO NOTHING`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	n, err := s.Import(context.Background(), []model.WineRecord{*taborRecord(), *taborRecord()})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS global_wines`).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPrepare_Defaults(t *testing.T) {
	out := prepare(&model.WineRecord{Winery: "W", WineName: "N"}, fixedNow)
	assert.NotEmpty(t, out.ID)
	assert.Equal(t, model.NonVintage, out.Vintage)
	assert.Equal(t, model.Unknown, out.Region)
	assert.Equal(t, model.Unknown, out.Country)
	assert.Equal(t, model.WineTypeRed, out.Type)
	assert.Equal(t, []string{}, out.Grapes)
	assert.Equal(t, fixedNow, out.CreatedAt)
}
