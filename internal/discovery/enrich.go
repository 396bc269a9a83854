package discovery

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/vindex/vindex/internal/model"
	"github.com/vindex/vindex/pkg/serper"
)

// ImageEnricher attaches a bottle image URL to a record. It never fails the
// record: search errors and empty results leave ImageURL unset.
type ImageEnricher struct {
	Search  serper.Client
	Timeout time.Duration
}

// Enrich looks up a bottle image for rec and reports whether one was set.
func (e *ImageEnricher) Enrich(ctx context.Context, rec *model.WineRecord) bool {
	if e == nil || e.Search == nil {
		return false
	}
	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}

	query := BuildImageQuery(rec.Winery, rec.WineName, rec.Vintage)
	url, err := e.Search.ImageSearch(ctx, query)
	if err != nil {
		zap.L().Warn("discovery: image search failed",
			zap.String("query", query),
			zap.Error(err),
		)
		return false
	}
	if url == "" {
		zap.L().Debug("discovery: no image found", zap.String("query", query))
		return false
	}
	rec.ImageURL = model.String(url)
	return true
}
