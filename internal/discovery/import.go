package discovery

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/vindex/vindex/internal/model"
)

// ImportResult summarizes a bulk import.
type ImportResult struct {
	Inserted int64
	Skipped  int64 // natural-key duplicates
	Rejected int   // failed validation
}

// Import validates recs and bulk-inserts the accepted ones with Source
// IMPORT. Duplicates of existing records are skipped, never overwritten.
func (s *Service) Import(ctx context.Context, recs []model.WineRecord) (ImportResult, error) {
	var res ImportResult
	accepted := make([]model.WineRecord, 0, len(recs))
	for i := range recs {
		rec := recs[i]
		rec.Winery = strings.TrimSpace(rec.Winery)
		rec.WineName = strings.TrimSpace(rec.WineName)
		rec.Vintage = strings.TrimSpace(rec.Vintage)
		if rec.Vintage == "" {
			rec.Vintage = model.NonVintage
		}
		if rec.Source == "" {
			rec.Source = model.SourceImport
		}
		if err := s.validator.Validate(&rec); err != nil {
			zap.L().Warn("discovery: import row rejected",
				zap.Int("row", i),
				zap.String("winery", rec.Winery),
				zap.String("wine_name", rec.WineName),
				zap.Error(err),
			)
			res.Rejected++
			continue
		}
		accepted = append(accepted, rec)
	}

	n, err := s.store.Import(ctx, accepted)
	if err != nil {
		return res, eris.Wrap(err, "discovery: import")
	}
	res.Inserted = n
	res.Skipped = int64(len(accepted)) - n
	return res, nil
}
