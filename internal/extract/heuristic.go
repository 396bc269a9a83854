package extract

import (
	"context"

	"github.com/vindex/vindex/internal/catalog"
	"github.com/vindex/vindex/internal/model"
	"github.com/vindex/vindex/pkg/serper"
)

// Heuristic extracts details from the top organic result with keyword
// matching. It needs no external service and fails only when the payload
// has no organic results.
type Heuristic struct {
	catalog *catalog.Catalog
}

// NewHeuristic creates a Heuristic extractor. A nil catalog uses the
// built-in one.
func NewHeuristic(c *catalog.Catalog) *Heuristic {
	if c == nil {
		c = catalog.Default()
	}
	return &Heuristic{catalog: c}
}

// Name implements Extractor.
func (h *Heuristic) Name() string { return "heuristic" }

// Extract implements Extractor.
func (h *Heuristic) Extract(_ context.Context, in Input, payload *serper.SearchResponse) (*model.WineRecord, error) {
	if !hasResults(payload) {
		return nil, failedf("heuristic: no organic results")
	}

	top := payload.Organic[0]
	snippet := plainText(top.Snippet)
	title := plainText(top.Title)

	rec := newRecord(in, model.SourceHeuristic)
	rec.Grapes = h.catalog.MatchGrapes(snippet)
	rec.AlcoholContent = Alcohol(snippet)
	rec.Type = h.catalog.ClassifyType(snippet)

	region, ok := h.catalog.MatchRegion(snippet)
	if !ok {
		region, ok = h.catalog.MatchRegion(title)
	}
	if ok {
		rec.Region = region.Name
		rec.Country = region.Country
	}

	return rec, nil
}
