// Package discovery resolves a (winery, wine name, vintage) triple into a
// validated catalog record, searching the web only for wines not yet known.
package discovery

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/vindex/vindex/internal/config"
	"github.com/vindex/vindex/internal/extract"
	"github.com/vindex/vindex/internal/metrics"
	"github.com/vindex/vindex/internal/model"
	"github.com/vindex/vindex/internal/resilience"
	"github.com/vindex/vindex/internal/store"
	"github.com/vindex/vindex/pkg/serper"
)

// Service runs the discovery pipeline:
// cache check, search, extract, validate, enrich, persist.
type Service struct {
	store     store.Store
	search    serper.Client
	extractor extract.Extractor
	guard     *resilience.Guard
	validator Validator
	enricher  *ImageEnricher

	searchTimeout      time.Duration
	imageTimeout       time.Duration
	validateBeforeSave bool

	group singleflight.Group
}

// New creates a Service. guard may be nil, in which case searches are not
// retried.
func New(
	cfg *config.Config,
	st store.Store,
	search serper.Client,
	ex extract.Extractor,
	guard *resilience.Guard,
) *Service {
	s := &Service{
		store:              st,
		search:             search,
		extractor:          ex,
		guard:              guard,
		searchTimeout:      cfg.Serper.Timeout(),
		imageTimeout:       cfg.Discovery.ImageTimeout(),
		validateBeforeSave: cfg.Discovery.ValidateBeforeSave,
	}
	if cfg.Discovery.EnrichImages {
		s.enricher = &ImageEnricher{Search: search, Timeout: cfg.Discovery.ImageTimeout()}
	}
	return s
}

// Discover returns the catalog record for the wine, discovering and
// persisting it first if it is not yet known. Recoverable failures are
// returned as *DiscoveryError; anything else is an internal fault.
func (s *Service) Discover(ctx context.Context, winery, name, vintage string) (*model.WineRecord, error) {
	in := extract.Input{
		Winery:   strings.TrimSpace(winery),
		WineName: strings.TrimSpace(name),
		Vintage:  strings.TrimSpace(vintage),
	}
	if in.Vintage == "" {
		in.Vintage = model.NonVintage
	}
	if err := s.checkInput(in); err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		metrics.RecordOutcome(metrics.OutcomeError)
		return nil, eris.Wrap(err, "discovery: request")
	}

	// The shared run ignores caller cancellation; each caller stops waiting
	// on its own ctx. Search, LLM and image timeouts bound the run.
	key := model.Key{Winery: in.Winery, WineName: in.WineName, Vintage: in.Vintage}.Normalized()
	ch := s.group.DoChan(key.String(), func() (any, error) {
		return s.discover(context.WithoutCancel(ctx), in)
	})

	select {
	case <-ctx.Done():
		metrics.RecordOutcome(metrics.OutcomeError)
		return nil, eris.Wrap(ctx.Err(), "discovery: waiting for result")
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			zap.L().Debug("discovery: shared in-flight result", zap.String("key", key.String()))
		}
		rec := *res.Val.(*model.WineRecord)
		return &rec, nil
	}
}

func (s *Service) checkInput(in extract.Input) error {
	var verr *ValidationError
	switch {
	case in.Winery == "":
		verr = &ValidationError{Rule: 1, Reason: "winery is blank"}
	case in.WineName == "":
		verr = &ValidationError{Rule: 2, Reason: "wine name is blank"}
	default:
		return nil
	}
	metrics.RecordOutcome(metrics.OutcomeFailed)
	return newFailure(StageValidating, ErrValidationRejected, verr)
}

func (s *Service) discover(ctx context.Context, in extract.Input) (*model.WineRecord, error) {
	log := zap.L().With(
		zap.String("winery", in.Winery),
		zap.String("wine_name", in.WineName),
		zap.String("vintage", in.Vintage),
	)
	key := model.Key{Winery: in.Winery, WineName: in.WineName, Vintage: in.Vintage}

	start := time.Now()
	cached, err := s.store.FindByKey(ctx, key)
	metrics.ObserveStage(string(StageCacheCheck), start)
	if err != nil {
		metrics.RecordOutcome(metrics.OutcomeError)
		return nil, eris.Wrap(err, "discovery: cache check")
	}
	if cached != nil {
		log.Debug("discovery: cache hit", zap.String("id", cached.ID))
		metrics.RecordOutcome(metrics.OutcomeCacheHit)
		return cached, nil
	}

	fail := func(stage Stage, sentinel, cause error) (*model.WineRecord, error) {
		f := newFailure(stage, sentinel, cause)
		log.Warn("discovery: failed", zap.String("stage", string(stage)), zap.String("reason", f.Reason))
		metrics.RecordOutcome(metrics.OutcomeFailed)
		return nil, f
	}

	// Searching.
	start = time.Now()
	payload, err := s.textSearch(ctx, BuildQuery(in.Winery, in.WineName, in.Vintage))
	metrics.ObserveStage(string(StageSearching), start)
	if err != nil {
		return fail(StageSearching, ErrSearchUnavailable, err)
	}
	if payload == nil || len(payload.Organic) == 0 {
		return fail(StageSearching, ErrNoSearchResults, nil)
	}

	// Extracting.
	start = time.Now()
	rec, err := s.extractor.Extract(ctx, in, payload)
	metrics.ObserveStage(string(StageExtracting), start)
	if err != nil {
		return fail(StageExtracting, ErrExtractionFailed, err)
	}
	anchorKey(rec, in)

	// Validating.
	if s.validateBeforeSave {
		if err := s.validator.Validate(rec); err != nil {
			return fail(StageValidating, ErrValidationRejected, err)
		}
	}

	// Enriching.
	if s.enricher != nil {
		start = time.Now()
		s.enricher.Enrich(ctx, rec)
		metrics.ObserveStage(string(StageEnriching), start)
	}

	// Persisting.
	start = time.Now()
	saved, err := s.store.Save(ctx, rec)
	metrics.ObserveStage(string(StagePersisting), start)
	if errors.Is(err, store.ErrConflict) {
		existing, findErr := s.store.FindByKey(ctx, key)
		if findErr != nil {
			metrics.RecordOutcome(metrics.OutcomeError)
			return nil, eris.Wrap(findErr, "discovery: re-read after conflict")
		}
		if existing == nil {
			metrics.RecordOutcome(metrics.OutcomeError)
			return nil, eris.Errorf("discovery: conflict on %s but no record found", key.Normalized())
		}
		log.Info("discovery: lost insert race, returning existing record", zap.String("id", existing.ID))
		metrics.RecordOutcome(metrics.OutcomeConflict)
		return existing, nil
	}
	if err != nil {
		metrics.RecordOutcome(metrics.OutcomeError)
		return nil, eris.Wrap(err, "discovery: save")
	}

	log.Info("discovery: wine discovered",
		zap.String("id", saved.ID),
		zap.String("extractor", s.extractor.Name()),
		zap.String("source", string(saved.Source)),
	)
	metrics.RecordOutcome(metrics.OutcomeDiscovered)
	return saved, nil
}

func (s *Service) textSearch(ctx context.Context, query string) (*serper.SearchResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, s.searchTimeout)
	defer cancel()

	if s.guard == nil {
		return s.search.TextSearch(ctx, query)
	}
	return resilience.Call(ctx, s.guard, func(ctx context.Context) (*serper.SearchResponse, error) {
		return s.search.TextSearch(ctx, query)
	})
}

// anchorKey keeps the stored natural key equal to the requested one. The
// extractor's display casing is kept when it folds to the same key.
func anchorKey(rec *model.WineRecord, in extract.Input) {
	want := model.Key{Winery: in.Winery, WineName: in.WineName, Vintage: in.Vintage}.Normalized()
	if rec.Key().Normalized() == want {
		return
	}
	zap.L().Debug("discovery: extracted key differs from request, using request key",
		zap.String("extracted", rec.Key().String()),
		zap.String("requested", want.String()),
	)
	rec.Winery = in.Winery
	rec.WineName = in.WineName
	rec.Vintage = in.Vintage
}

// SearchCircuit reports the state of the search circuit breaker, or
// "disabled" when searches are unguarded.
func (s *Service) SearchCircuit() string {
	if s.guard == nil {
		return "disabled"
	}
	return s.guard.Breaker.State().String()
}

// Get returns the record with the given id.
func (s *Service) Get(ctx context.Context, id string) (*model.WineRecord, error) {
	return s.store.Get(ctx, id)
}

// SearchByWinery returns records whose winery contains q, ignoring case.
func (s *Service) SearchByWinery(ctx context.Context, q string) ([]model.WineRecord, error) {
	return s.store.FindByWineryContains(ctx, strings.TrimSpace(q))
}

// SearchByName returns records whose wine name contains q, ignoring case.
func (s *Service) SearchByName(ctx context.Context, q string) ([]model.WineRecord, error) {
	return s.store.FindByNameContains(ctx, strings.TrimSpace(q))
}

// ListValidated returns every validated record.
func (s *Service) ListValidated(ctx context.Context) ([]model.WineRecord, error) {
	return s.store.FindAllValidated(ctx)
}

// RefreshImage looks up a bottle image for the stored record and saves it
// with TouchImage. It reports whether an image was found; the image search
// runs even when enrichment during discovery is disabled.
func (s *Service) RefreshImage(ctx context.Context, id string) (*model.WineRecord, bool, error) {
	rec, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}

	enricher := s.enricher
	if enricher == nil {
		enricher = &ImageEnricher{Search: s.search, Timeout: s.imageTimeout}
	}
	if !enricher.Enrich(ctx, rec) {
		return rec, false, nil
	}

	if err := s.store.TouchImage(ctx, rec.ID, *rec.ImageURL); err != nil {
		return nil, false, eris.Wrapf(err, "discovery: touch image %s", rec.ID)
	}
	updated, err := s.store.Get(ctx, rec.ID)
	if err != nil {
		return nil, false, eris.Wrap(err, "discovery: re-read after image update")
	}
	zap.L().Info("discovery: image updated", zap.String("id", rec.ID), zap.String("image_url", *rec.ImageURL))
	return updated, true, nil
}

// BackfillImages runs RefreshImage for every validated record without an
// image and returns how many were updated.
func (s *Service) BackfillImages(ctx context.Context) (int, error) {
	recs, err := s.store.FindAllValidated(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "discovery: backfill images")
	}
	updated := 0
	for _, rec := range recs {
		if rec.ImageURL != nil {
			continue
		}
		if err := ctx.Err(); err != nil {
			return updated, eris.Wrap(err, "discovery: backfill images")
		}
		_, ok, err := s.RefreshImage(ctx, rec.ID)
		if err != nil {
			return updated, err
		}
		if ok {
			updated++
		}
	}
	return updated, nil
}
