// Package extract turns a web search payload into a candidate wine record.
package extract

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/vindex/vindex/internal/model"
	"github.com/vindex/vindex/pkg/serper"
)

// ErrExtractionFailed is wrapped by every extraction failure.
var ErrExtractionFailed = eris.New("extraction failed")

// Input is the user-supplied identity of the wine being discovered.
type Input struct {
	Winery   string
	WineName string
	Vintage  string
}

// Extractor builds a candidate record from search results. Implementations
// return an error wrapping ErrExtractionFailed when no record can be built.
type Extractor interface {
	Name() string
	Extract(ctx context.Context, in Input, payload *serper.SearchResponse) (*model.WineRecord, error)
}

func failedf(format string, args ...any) error {
	return eris.Wrapf(ErrExtractionFailed, format, args...)
}

// vintageOrNV returns the trimmed vintage, or NV when blank.
func vintageOrNV(v string) string {
	if v = strings.TrimSpace(v); v == "" {
		return model.NonVintage
	}
	return v
}

func newRecord(in Input, source model.Source) *model.WineRecord {
	return &model.WineRecord{
		Winery:   strings.TrimSpace(in.Winery),
		WineName: strings.TrimSpace(in.WineName),
		Vintage:  vintageOrNV(in.Vintage),
		Grapes:   []string{},
		Region:   model.Unknown,
		Country:  model.Unknown,
		Type:     model.WineTypeRed,
		Source:   source,
	}
}

func hasResults(payload *serper.SearchResponse) bool {
	return payload != nil && len(payload.Organic) > 0
}
