package discovery

import (
	"context"
	"errors"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/vindex/vindex/internal/config"
	"github.com/vindex/vindex/internal/extract"
	"github.com/vindex/vindex/internal/model"
	"github.com/vindex/vindex/internal/resilience"
	"github.com/vindex/vindex/internal/store"
	"github.com/vindex/vindex/pkg/serper"
	"github.com/vindex/vindex/pkg/serper/mocks"
)

type extractorFunc func(ctx context.Context, in extract.Input, payload *serper.SearchResponse) (*model.WineRecord, error)

func (f extractorFunc) Name() string { return "func" }

func (f extractorFunc) Extract(ctx context.Context, in extract.Input, payload *serper.SearchResponse) (*model.WineRecord, error) {
	return f(ctx, in, payload)
}

func testConfig() *config.Config {
	return &config.Config{
		Serper:    config.SerperConfig{TimeoutMs: 2000},
		Discovery: config.DiscoveryConfig{ValidateBeforeSave: true},
	}
}

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "discovery.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func organic(title, snippet string) *serper.SearchResponse {
	return &serper.SearchResponse{Organic: []serper.OrganicResult{
		{Title: title, Link: "https://example.com/wine", Snippet: snippet, Position: 1},
	}}
}

func taborResponse() *serper.SearchResponse {
	return organic("Tabor Adama 2018", "Tabor Adama 2018, Cabernet Sauvignon, Galilee, 14% alcohol")
}

func TestDiscover_EndToEndAndIdempotent(t *testing.T) {
	search := mocks.NewMockClient(t)
	search.On("TextSearch", mock.Anything, "Tabor Winery Adama 2018 wine").Return(taborResponse(), nil).Once()
	search.On("ImageSearch", mock.Anything, "Tabor Winery Adama 2018 wine bottle").
		Return("https://img.example/adama.jpg", nil).Once()

	cfg := testConfig()
	cfg.Discovery.EnrichImages = true
	svc := New(cfg, newTestStore(t), search, extract.NewHeuristic(nil), nil)

	rec, err := svc.Discover(context.Background(), "Tabor Winery", "Adama", "2018")
	require.NoError(t, err)
	assert.Equal(t, "Tabor Winery", rec.Winery)
	assert.Equal(t, "Adama", rec.WineName)
	assert.Equal(t, "2018", rec.Vintage)
	assert.Equal(t, []string{"Cabernet Sauvignon"}, rec.Grapes)
	assert.Equal(t, "Galilee", rec.Region)
	require.NotNil(t, rec.AlcoholContent)
	assert.InDelta(t, 14.0, *rec.AlcoholContent, 0.0001)
	assert.Equal(t, model.WineTypeRed, rec.Type)
	assert.True(t, rec.Validated)
	require.NotNil(t, rec.ImageURL)
	assert.Equal(t, "https://img.example/adama.jpg", *rec.ImageURL)

	again, err := svc.Discover(context.Background(), " tabor winery ", "ADAMA", "2018")
	require.NoError(t, err)
	assert.Equal(t, rec.ID, again.ID)
	assert.True(t, rec.CreatedAt.Equal(again.CreatedAt))
}

func TestDiscover_VintageBounds(t *testing.T) {
	next := strconv.Itoa(time.Now().Year() + 1)
	for _, vintage := range []string{"1850", next} {
		t.Run(vintage, func(t *testing.T) {
			search := mocks.NewMockClient(t)
			search.On("TextSearch", mock.Anything, mock.Anything).
				Return(organic("Old wine", "A red wine"), nil)
			st := newTestStore(t)
			svc := New(testConfig(), st, search, extract.NewHeuristic(nil), nil)

			_, err := svc.Discover(context.Background(), "Old Winery", "Relic", vintage)
			require.Error(t, err)
			assert.True(t, IsDiscoveryFailed(err))
			assert.ErrorIs(t, err, ErrValidationRejected)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, 3, verr.Rule)

			all, err := st.FindByWineryContains(context.Background(), "")
			require.NoError(t, err)
			assert.Empty(t, all, "rejected candidates are not persisted")
		})
	}
}

func TestDiscover_NonVintageCaseInsensitive(t *testing.T) {
	search := mocks.NewMockClient(t)
	search.On("TextSearch", mock.Anything, "Yarden Brut wine").
		Return(organic("Yarden Brut", "Sparkling wine from the Golan Heights"), nil).Once()
	svc := New(testConfig(), newTestStore(t), search, extract.NewHeuristic(nil), nil)

	rec, err := svc.Discover(context.Background(), "Yarden", "Brut", "nv")
	require.NoError(t, err)
	assert.True(t, rec.Validated)
	assert.Equal(t, model.WineTypeSparkling, rec.Type)

	again, err := svc.Discover(context.Background(), "Yarden", "Brut", "Nv")
	require.NoError(t, err)
	assert.Equal(t, rec.ID, again.ID)

	blank, err := svc.Discover(context.Background(), "Yarden", "Brut", "")
	require.NoError(t, err)
	assert.Equal(t, rec.ID, blank.ID, "blank vintage is NV")
}

func TestDiscover_AlcoholTolerance(t *testing.T) {
	tests := []struct {
		name    string
		alcohol *float64
		wantErr bool
	}{
		{"absent", nil, false},
		{"too high", model.Float(25), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			search := mocks.NewMockClient(t)
			search.On("TextSearch", mock.Anything, mock.Anything).Return(taborResponse(), nil)
			ex := extractorFunc(func(_ context.Context, in extract.Input, _ *serper.SearchResponse) (*model.WineRecord, error) {
				return &model.WineRecord{
					Winery: in.Winery, WineName: in.WineName, Vintage: in.Vintage,
					AlcoholContent: tt.alcohol, Source: model.SourceAI,
				}, nil
			})
			svc := New(testConfig(), newTestStore(t), search, ex, nil)

			rec, err := svc.Discover(context.Background(), "Tabor Winery", "Adama", "2018")
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrValidationRejected)
				return
			}
			require.NoError(t, err)
			assert.Nil(t, rec.AlcoholContent)
			assert.True(t, rec.Validated)
		})
	}
}

func TestDiscover_SearchFailures(t *testing.T) {
	t.Run("unavailable", func(t *testing.T) {
		search := mocks.NewMockClient(t)
		search.On("TextSearch", mock.Anything, mock.Anything).Return(nil, errors.New("serper: unexpected status 401"))
		svc := New(testConfig(), newTestStore(t), search, extract.NewHeuristic(nil), nil)

		_, err := svc.Discover(context.Background(), "Tabor Winery", "Adama", "2018")
		assert.ErrorIs(t, err, ErrSearchUnavailable)
		assert.True(t, IsDiscoveryFailed(err))
		var de *DiscoveryError
		require.ErrorAs(t, err, &de)
		assert.Equal(t, StageSearching, de.Stage)
		assert.Contains(t, de.Reason, "401")
	})

	t.Run("no results", func(t *testing.T) {
		search := mocks.NewMockClient(t)
		search.On("TextSearch", mock.Anything, mock.Anything).Return(&serper.SearchResponse{}, nil)
		svc := New(testConfig(), newTestStore(t), search, extract.NewHeuristic(nil), nil)

		_, err := svc.Discover(context.Background(), "Tabor Winery", "Adama", "2018")
		assert.ErrorIs(t, err, ErrNoSearchResults)
		assert.NotErrorIs(t, err, ErrSearchUnavailable)
	})

	t.Run("retried through guard", func(t *testing.T) {
		search := mocks.NewMockClient(t)
		search.On("TextSearch", mock.Anything, mock.Anything).
			Return(nil, resilience.NewTransientError(errors.New("serper: unexpected status 503"), 503)).Once()
		search.On("TextSearch", mock.Anything, mock.Anything).Return(taborResponse(), nil).Once()
		guard := resilience.NewGuard("serper", "search",
			resilience.RetryConfig{MaxAttempts: 2, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond},
			resilience.FromBreakerConfig(5, 30))
		svc := New(testConfig(), newTestStore(t), search, extract.NewHeuristic(nil), guard)

		rec, err := svc.Discover(context.Background(), "Tabor Winery", "Adama", "2018")
		require.NoError(t, err)
		assert.True(t, rec.Validated)
	})
}

func TestDiscover_ExtractionFailure(t *testing.T) {
	search := mocks.NewMockClient(t)
	search.On("TextSearch", mock.Anything, mock.Anything).Return(taborResponse(), nil)
	ex := extract.NewStructured(completer(func(context.Context, string) (string, error) {
		return "Sorry, I cannot help with that.", nil
	}), nil)
	svc := New(testConfig(), newTestStore(t), search, ex, nil)

	_, err := svc.Discover(context.Background(), "Tabor Winery", "Adama", "2018")
	assert.ErrorIs(t, err, ErrExtractionFailed)
	assert.True(t, IsDiscoveryFailed(err))
}

type completer func(ctx context.Context, prompt string) (string, error)

func (c completer) Complete(ctx context.Context, prompt string) (string, error) { return c(ctx, prompt) }

func TestDiscover_BlankInputRejectedWithoutCalls(t *testing.T) {
	search := mocks.NewMockClient(t)
	svc := New(testConfig(), newTestStore(t), search, extract.NewHeuristic(nil), nil)

	_, err := svc.Discover(context.Background(), "  ", "Adama", "2018")
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, 1, verr.Rule)

	_, err = svc.Discover(context.Background(), "Tabor", "", "2018")
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, 2, verr.Rule)

	search.AssertNotCalled(t, "TextSearch", mock.Anything, mock.Anything)
}

func TestDiscover_ValidationDisabled(t *testing.T) {
	search := mocks.NewMockClient(t)
	search.On("TextSearch", mock.Anything, mock.Anything).Return(organic("x", "A red wine"), nil)
	cfg := testConfig()
	cfg.Discovery.ValidateBeforeSave = false
	svc := New(cfg, newTestStore(t), search, extract.NewHeuristic(nil), nil)

	rec, err := svc.Discover(context.Background(), "Old Winery", "Relic", "1850")
	require.NoError(t, err)
	assert.False(t, rec.Validated)
}

func TestDiscover_EnrichmentFailureIgnored(t *testing.T) {
	search := mocks.NewMockClient(t)
	search.On("TextSearch", mock.Anything, mock.Anything).Return(taborResponse(), nil)
	search.On("ImageSearch", mock.Anything, mock.Anything).Return("", errors.New("timeout"))
	cfg := testConfig()
	cfg.Discovery.EnrichImages = true
	svc := New(cfg, newTestStore(t), search, extract.NewHeuristic(nil), nil)

	rec, err := svc.Discover(context.Background(), "Tabor Winery", "Adama", "2018")
	require.NoError(t, err)
	assert.Nil(t, rec.ImageURL)
	assert.True(t, rec.Validated)
}

func TestDiscover_ExtractedKeyAnchoredToRequest(t *testing.T) {
	search := mocks.NewMockClient(t)
	search.On("TextSearch", mock.Anything, mock.Anything).Return(taborResponse(), nil)
	ex := extractorFunc(func(context.Context, extract.Input, *serper.SearchResponse) (*model.WineRecord, error) {
		return &model.WineRecord{Winery: "Tabor", WineName: "Adama II", Vintage: "2019", Source: model.SourceAI}, nil
	})
	svc := New(testConfig(), newTestStore(t), search, ex, nil)

	rec, err := svc.Discover(context.Background(), "Tabor Winery", "Adama", "2018")
	require.NoError(t, err)
	assert.Equal(t, "Tabor Winery", rec.Winery)
	assert.Equal(t, "Adama", rec.WineName)
	assert.Equal(t, "2018", rec.Vintage)
}

func TestAnchorKey_KeepsDisplayCasing(t *testing.T) {
	rec := &model.WineRecord{Winery: "TABOR WINERY", WineName: "adama", Vintage: "2018"}
	anchorKey(rec, extract.Input{Winery: "tabor winery", WineName: "Adama", Vintage: "2018"})
	assert.Equal(t, "TABOR WINERY", rec.Winery)
	assert.Equal(t, "adama", rec.WineName)
}

// barrierSearch holds every TextSearch until n callers have arrived, so all
// of them pass the cache check before any of them persists.
type barrierSearch struct {
	arrived sync.WaitGroup
}

func newBarrierSearch(n int) *barrierSearch {
	b := &barrierSearch{}
	b.arrived.Add(n)
	return b
}

func (b *barrierSearch) TextSearch(context.Context, string) (*serper.SearchResponse, error) {
	b.arrived.Done()
	b.arrived.Wait()
	return taborResponse(), nil
}

func (b *barrierSearch) ImageSearch(context.Context, string) (string, error) { return "", nil }

func TestDiscover_ConcurrentRaceAcrossInstances(t *testing.T) {
	st := newTestStore(t)
	search := newBarrierSearch(2)

	// Two services model two processes: no shared singleflight group.
	a := New(testConfig(), st, search, extract.NewHeuristic(nil), nil)
	b := New(testConfig(), st, search, extract.NewHeuristic(nil), nil)

	var (
		wg      sync.WaitGroup
		results [2]*model.WineRecord
		errs    [2]error
	)
	for i, svc := range []*Service{a, b} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = svc.Discover(context.Background(), "Tabor Winery", "Adama", "2018")
		}()
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, results[0].ID, results[1].ID)

	all, err := st.FindByWineryContains(context.Background(), "tabor")
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestDiscover_ConcurrentSameInstance(t *testing.T) {
	st := newTestStore(t)
	search := mocks.NewMockClient(t)
	search.On("TextSearch", mock.Anything, mock.Anything).Return(taborResponse(), nil).Maybe()
	svc := New(testConfig(), st, search, extract.NewHeuristic(nil), nil)

	const callers = 6
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		ids = map[string]int{}
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec, err := svc.Discover(context.Background(), "Tabor Winery", "Adama", "2018")
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			ids[rec.ID]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, ids, 1)
	all, err := st.FindAllValidated(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestDiscover_StoreFaultIsInternal(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, st.Close())
	svc := New(testConfig(), st, mocks.NewMockClient(t), extract.NewHeuristic(nil), nil)

	_, err := svc.Discover(context.Background(), "Tabor Winery", "Adama", "2018")
	require.Error(t, err)
	assert.False(t, IsDiscoveryFailed(err))
	assert.Contains(t, err.Error(), "discovery: cache check")
}

func TestDiscover_CallerCancelledIsInternal(t *testing.T) {
	search := mocks.NewMockClient(t)
	search.On("TextSearch", mock.Anything, mock.Anything).Return(func(ctx context.Context, _ string) (*serper.SearchResponse, error) {
		return nil, ctx.Err()
	}).Maybe()
	svc := New(testConfig(), newTestStore(t), search, extract.NewHeuristic(nil), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := svc.Discover(ctx, "Tabor Winery", "Adama", "2018")
	require.Error(t, err)
	assert.False(t, IsDiscoveryFailed(err))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestService_ReadOperations(t *testing.T) {
	st := newTestStore(t)
	svc := New(testConfig(), st, mocks.NewMockClient(t), extract.NewHeuristic(nil), nil)
	ctx := context.Background()

	saved, err := st.Save(ctx, &model.WineRecord{
		Winery: "Tabor Winery", WineName: "Adama", Vintage: "2018", Source: model.SourceManual, Validated: true,
	})
	require.NoError(t, err)
	_, err = st.Save(ctx, &model.WineRecord{Winery: "Recanati", WineName: "Marawi", Vintage: "2021", Source: model.SourceAI})
	require.NoError(t, err)

	got, err := svc.Get(ctx, saved.ID)
	require.NoError(t, err)
	assert.Equal(t, "Adama", got.WineName)

	_, err = svc.Get(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)

	byWinery, err := svc.SearchByWinery(ctx, " tabor ")
	require.NoError(t, err)
	assert.Len(t, byWinery, 1)

	byName, err := svc.SearchByName(ctx, "MARA")
	require.NoError(t, err)
	require.Len(t, byName, 1)
	assert.Equal(t, "Recanati", byName[0].Winery)

	validated, err := svc.ListValidated(ctx)
	require.NoError(t, err)
	require.Len(t, validated, 1)
	assert.Equal(t, saved.ID, validated[0].ID)
}

func TestService_Import(t *testing.T) {
	st := newTestStore(t)
	svc := New(testConfig(), st, mocks.NewMockClient(t), extract.NewHeuristic(nil), nil)
	ctx := context.Background()

	_, err := st.Save(ctx, &model.WineRecord{Winery: "Tabor Winery", WineName: "Adama", Vintage: "2018", Source: model.SourceAI})
	require.NoError(t, err)

	res, err := svc.Import(ctx, []model.WineRecord{
		{Winery: "TABOR WINERY", WineName: "adama", Vintage: "2018"},
		{Winery: "Castel", WineName: "Grand Vin", Vintage: "2017", AlcoholContent: model.Float(14)},
		{Winery: "Castel", WineName: "Petit Castel", Vintage: "1850"},
		{Winery: "Castel", WineName: "La Vie", Vintage: ""},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Inserted)
	assert.Equal(t, int64(1), res.Skipped)
	assert.Equal(t, 1, res.Rejected)

	got, err := st.FindByKey(ctx, model.Key{Winery: "castel", WineName: "grand vin", Vintage: "2017"})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, model.SourceImport, got.Source)
	assert.True(t, got.Validated)

	nv, err := st.FindByKey(ctx, model.Key{Winery: "Castel", WineName: "La Vie", Vintage: "NV"})
	require.NoError(t, err)
	require.NotNil(t, nv)
}

// gatedSearch blocks every text search until release is closed.
type gatedSearch struct {
	entered chan struct{}
	release chan struct{}
	calls   atomic.Int32
}

func newGatedSearch() *gatedSearch {
	return &gatedSearch{entered: make(chan struct{}, 8), release: make(chan struct{})}
}

func (g *gatedSearch) TextSearch(context.Context, string) (*serper.SearchResponse, error) {
	g.calls.Add(1)
	g.entered <- struct{}{}
	<-g.release
	return taborResponse(), nil
}

func (g *gatedSearch) ImageSearch(context.Context, string) (string, error) { return "", nil }

func TestDiscover_CancelledCallerDoesNotFailOthers(t *testing.T) {
	st := newTestStore(t)
	search := newGatedSearch()
	svc := New(testConfig(), st, search, extract.NewHeuristic(nil), nil)

	ctx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := svc.Discover(ctx, "Tabor Winery", "Adama", "2018")
		firstErr <- err
	}()
	<-search.entered

	cancel()
	err := <-firstErr
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, IsDiscoveryFailed(err))

	type result struct {
		rec *model.WineRecord
		err error
	}
	second := make(chan result, 1)
	go func() {
		rec, err := svc.Discover(context.Background(), "tabor winery", "ADAMA", "2018")
		second <- result{rec, err}
	}()
	time.Sleep(50 * time.Millisecond)
	close(search.release)

	got := <-second
	require.NoError(t, got.err)
	require.NotNil(t, got.rec)
	assert.Equal(t, "Tabor Winery", got.rec.Winery)
	assert.Equal(t, int32(1), search.calls.Load(), "second caller joins the running search")

	saved, err := st.FindByKey(context.Background(), got.rec.Key())
	require.NoError(t, err)
	require.NotNil(t, saved)
	assert.Equal(t, got.rec.ID, saved.ID)
}

func TestDiscover_NonFiniteAlcoholFromModelNotSaved(t *testing.T) {
	search := mocks.NewMockClient(t)
	search.On("TextSearch", mock.Anything, mock.Anything).Return(taborResponse(), nil).Once()
	ex := extract.NewStructured(completer(func(context.Context, string) (string, error) {
		return `{"winery":"Tabor Winery","wineName":"Adama","vintage":"2018","alcoholContent":"NaN"}`, nil
	}), nil)
	svc := New(testConfig(), newTestStore(t), search, ex, nil)

	rec, err := svc.Discover(context.Background(), "Tabor Winery", "Adama", "2018")
	require.NoError(t, err)
	assert.Nil(t, rec.AlcoholContent)
	assert.True(t, rec.Validated)
}

func TestService_RefreshImage(t *testing.T) {
	st := newTestStore(t)
	search := mocks.NewMockClient(t)
	search.On("ImageSearch", mock.Anything, "Tabor Winery Adama 2018 wine bottle").
		Return("https://img.example/adama.jpg", nil).Once()
	svc := New(testConfig(), st, search, extract.NewHeuristic(nil), nil)

	saved, err := st.Save(context.Background(), &model.WineRecord{
		Winery: "Tabor Winery", WineName: "Adama", Vintage: "2018", Source: model.SourceImport, Validated: true,
	})
	require.NoError(t, err)

	rec, found, err := svc.RefreshImage(context.Background(), saved.ID)
	require.NoError(t, err)
	assert.True(t, found)
	require.NotNil(t, rec.ImageURL)
	assert.Equal(t, "https://img.example/adama.jpg", *rec.ImageURL)

	stored, err := st.Get(context.Background(), saved.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.ImageURL)
	assert.Equal(t, "https://img.example/adama.jpg", *stored.ImageURL)

	_, _, err = svc.RefreshImage(context.Background(), "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestService_RefreshImage_NoneFound(t *testing.T) {
	st := newTestStore(t)
	search := mocks.NewMockClient(t)
	search.On("ImageSearch", mock.Anything, mock.Anything).Return("", nil).Once()
	svc := New(testConfig(), st, search, extract.NewHeuristic(nil), nil)

	saved, err := st.Save(context.Background(), &model.WineRecord{Winery: "Yarden", WineName: "Merlot", Vintage: "2019", Source: model.SourceImport})
	require.NoError(t, err)

	rec, found, err := svc.RefreshImage(context.Background(), saved.ID)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, rec.ImageURL)
}

func TestService_BackfillImages(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	for _, r := range []model.WineRecord{
		{Winery: "Tabor Winery", WineName: "Adama", Vintage: "2018", Validated: true, Source: model.SourceImport},
		{Winery: "Yarden", WineName: "Merlot", Vintage: "2019", Validated: true, Source: model.SourceImport, ImageURL: model.String("https://img.example/has.jpg")},
		{Winery: "Recanati", WineName: "Carignan", Vintage: "2020", Validated: true, Source: model.SourceImport},
		{Winery: "Unvalidated", WineName: "Wine", Vintage: "2020", Source: model.SourceImport},
	} {
		_, err := st.Save(ctx, &r)
		require.NoError(t, err)
	}

	search := mocks.NewMockClient(t)
	search.On("ImageSearch", mock.Anything, "Tabor Winery Adama 2018 wine bottle").Return("https://img.example/adama.jpg", nil).Once()
	search.On("ImageSearch", mock.Anything, "Recanati Carignan 2020 wine bottle").Return("", errors.New("quota")).Once()
	svc := New(testConfig(), st, search, extract.NewHeuristic(nil), nil)

	n, err := svc.BackfillImages(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestService_SearchCircuit(t *testing.T) {
	st := newTestStore(t)
	assert.Equal(t, "disabled", New(testConfig(), st, mocks.NewMockClient(t), extract.NewHeuristic(nil), nil).SearchCircuit())

	guard := resilience.NewGuard("serper", "search", resilience.RetryConfig{MaxAttempts: 1}, resilience.BreakerConfig{FailureThreshold: 1})
	search := mocks.NewMockClient(t)
	search.On("TextSearch", mock.Anything, mock.Anything).Return(nil, errors.New("serper down")).Once()
	svc := New(testConfig(), st, search, extract.NewHeuristic(nil), guard)
	assert.Equal(t, "closed", svc.SearchCircuit())

	_, err := svc.Discover(context.Background(), "Tabor Winery", "Adama", "2018")
	assert.ErrorIs(t, err, ErrSearchUnavailable)
	assert.Equal(t, "open", svc.SearchCircuit())
}
