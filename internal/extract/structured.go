package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/vindex/vindex/internal/catalog"
	"github.com/vindex/vindex/internal/model"
	"github.com/vindex/vindex/pkg/serper"
)

// Completer sends a prompt to a language model and returns its text reply.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Structured asks a language model to turn the search payload into a JSON
// wine description.
type Structured struct {
	completer Completer
	catalog   *catalog.Catalog

	// Timeout bounds each model call. Zero means no extra bound.
	Timeout time.Duration
}

// NewStructured creates a Structured extractor. The catalog classifies the
// wine type when the model leaves it out; nil uses the built-in catalog.
func NewStructured(completer Completer, c *catalog.Catalog) *Structured {
	if c == nil {
		c = catalog.Default()
	}
	return &Structured{completer: completer, catalog: c}
}

// Name implements Extractor.
func (s *Structured) Name() string { return "llm" }

// Extract implements Extractor.
func (s *Structured) Extract(ctx context.Context, in Input, payload *serper.SearchResponse) (*model.WineRecord, error) {
	if !hasResults(payload) {
		return nil, failedf("llm: no organic results")
	}

	prompt, err := buildPrompt(in, payload)
	if err != nil {
		return nil, failedf("llm: build prompt: %v", err)
	}

	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}

	text, err := s.completer.Complete(ctx, prompt)
	if err != nil {
		return nil, failedf("llm: complete: %v", err)
	}

	rec, err := parseResponse(text, in)
	if err != nil {
		zap.L().Debug("llm: unparseable response", zap.String("response", truncate(text, 500)), zap.Error(err))
		return nil, err
	}
	if rec.Type == "" {
		rec.Type = s.catalog.ClassifyType(topSnippet(payload))
	}
	return rec, nil
}

const promptTemplate = `Extract structured wine information from the following search results.
Return ONLY a valid JSON object with these exact fields (no markdown, no extra text):
{
    "winery": "string",
    "wineName": "string",
    "vintage": "string (year or 'NV')",
    "grapes": ["array", "of", "grape", "varieties"],
    "region": "string",
    "country": "string",
    "alcoholContent": "number (5-22)",
    "type": "one of RED, WHITE, ROSÉ, SPARKLING, DESSERT, FORTIFIED"
}

Wine to find:
- Winery: %s
- Wine Name: %s
- Vintage: %s

Search Results:
%s

If information is missing, use reasonable defaults:
- For vintage: use 'NV' if not found
- For grapes: use empty array if not found
- For alcohol content: estimate 12.5 for red wines, 11.5 for white wines if not found
- For region: use the primary region if not found

Return ONLY the JSON object, nothing else.`

func buildPrompt(in Input, payload *serper.SearchResponse) (string, error) {
	results := struct {
		KnowledgeGraph *serper.KnowledgeGraph `json:"knowledgeGraph,omitempty"`
		Organic        []serper.OrganicResult `json:"organic"`
	}{payload.KnowledgeGraph, payload.Organic}

	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(promptTemplate,
		strings.TrimSpace(in.Winery),
		strings.TrimSpace(in.WineName),
		vintageOrNV(in.Vintage),
		data,
	), nil
}

// llmWine mirrors the JSON object requested in the prompt. Pointer and
// flexible fields distinguish "omitted" from "empty".
type llmWine struct {
	Winery         *string    `json:"winery"`
	WineName       *string    `json:"wineName"`
	Vintage        flexString `json:"vintage"`
	Grapes         []string   `json:"grapes"`
	Region         *string    `json:"region"`
	Country        *string    `json:"country"`
	AlcoholContent flexFloat  `json:"alcoholContent"`
	Type           *string    `json:"type"`
}

// flexString accepts a JSON string or number.
type flexString struct {
	Value string
	Set   bool
}

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		if err := json.Unmarshal(b, &f.Value); err != nil {
			return err
		}
	} else {
		var n json.Number
		if err := json.Unmarshal(b, &n); err != nil {
			return err
		}
		f.Value = n.String()
	}
	f.Value = strings.TrimSpace(f.Value)
	f.Set = f.Value != ""
	return nil
}

// flexFloat accepts a JSON number or a numeric string such as "13.5%".
// Anything else leaves it unset.
type flexFloat struct {
	Value float64
	Set   bool
}

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "%"))
		if v, err := strconv.ParseFloat(s, 64); err == nil && !math.IsNaN(v) && !math.IsInf(v, 0) {
			f.Value, f.Set = v, true
		}
		return nil
	}
	if err := json.Unmarshal(b, &f.Value); err != nil {
		return err
	}
	f.Set = true
	return nil
}

// parseResponse decodes a model reply, falling back to the input values
// for omitted identity fields and to Unknown for region and country.
func parseResponse(text string, in Input) (*model.WineRecord, error) {
	cleaned := cleanJSON(text)
	if cleaned == "" || cleaned[0] != '{' {
		return nil, failedf("llm: response contains no JSON object")
	}

	var w llmWine
	if err := json.Unmarshal([]byte(cleaned), &w); err != nil {
		return nil, failedf("llm: parse json: %v", err)
	}

	rec := newRecord(in, model.SourceAI)
	rec.Type = ""
	if v := nonBlank(w.Winery); v != "" {
		rec.Winery = v
	}
	if v := nonBlank(w.WineName); v != "" {
		rec.WineName = v
	}
	if w.Vintage.Set {
		rec.Vintage = w.Vintage.Value
	}
	if v := nonBlank(w.Region); v != "" {
		rec.Region = v
	}
	if v := nonBlank(w.Country); v != "" {
		rec.Country = v
	}
	if w.AlcoholContent.Set {
		rec.AlcoholContent = model.Float(w.AlcoholContent.Value)
	}
	if v := nonBlank(w.Type); v != "" {
		rec.Type = model.ParseWineType(v)
	}

	seen := make(map[string]bool, len(w.Grapes))
	for _, g := range w.Grapes {
		g = strings.TrimSpace(g)
		key := strings.ToLower(g)
		if g == "" || seen[key] {
			continue
		}
		seen[key] = true
		rec.Grapes = append(rec.Grapes, g)
	}
	return rec, nil
}

// cleanJSON extracts a JSON object from text that may contain markdown
// code fences or surrounding prose.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}
	return strings.TrimSpace(text)
}

func nonBlank(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}

func topSnippet(payload *serper.SearchResponse) string {
	if !hasResults(payload) {
		return ""
	}
	return plainText(payload.Organic[0].Snippet)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
