package extract

import (
	"context"

	"go.uber.org/zap"

	"github.com/vindex/vindex/internal/catalog"
	"github.com/vindex/vindex/internal/config"
	"github.com/vindex/vindex/internal/model"
	"github.com/vindex/vindex/pkg/serper"
)

// Fallback tries Primary and, when it fails, Secondary on the same payload.
type Fallback struct {
	Primary   Extractor
	Secondary Extractor
}

// Name implements Extractor.
func (f *Fallback) Name() string { return f.Primary.Name() + "+" + f.Secondary.Name() }

// Extract implements Extractor.
func (f *Fallback) Extract(ctx context.Context, in Input, payload *serper.SearchResponse) (*model.WineRecord, error) {
	rec, err := f.Primary.Extract(ctx, in, payload)
	if err == nil {
		return rec, nil
	}
	if ctx.Err() != nil {
		return nil, err
	}

	zap.L().Warn("extract: primary strategy failed, falling back",
		zap.String("primary", f.Primary.Name()),
		zap.String("secondary", f.Secondary.Name()),
		zap.Error(err),
	)
	return f.Secondary.Extract(ctx, in, payload)
}

// New selects an extractor for the configured strategy.
//
//   - heuristic: keyword matching only.
//   - llm: the language model only; its failures are not masked.
//   - auto: the language model with heuristic fallback, or heuristic alone
//     when no completer is configured.
func New(cfg config.ExtractionConfig, completer Completer, c *catalog.Catalog) Extractor {
	heuristic := NewHeuristic(c)
	if completer == nil || cfg.Strategy == config.StrategyHeuristic {
		return heuristic
	}

	structured := NewStructured(completer, c)
	structured.Timeout = cfg.Timeout()
	if cfg.Strategy == config.StrategyLLM {
		return structured
	}
	return &Fallback{Primary: structured, Secondary: heuristic}
}
