package catalog

import (
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/vindex/vindex/internal/model"
)

type span struct{ start, end int }

func overlaps(spans []span, s span) bool {
	for _, o := range spans {
		if s.start < o.end && o.start < s.end {
			return true
		}
	}
	return false
}

// MatchGrapes returns the catalog grapes mentioned in text, title-cased per word,
// deduplicated, in order of first appearance. A grape name that only occurs
// inside a longer matched name ("grenache" in "grenache blanc") is not
// reported on its own.
func (c *Catalog) MatchGrapes(text string) []string {
	lower := strings.ToLower(text)

	names := make([]string, 0, len(c.Grapes))
	for _, g := range c.Grapes {
		if g = strings.ToLower(strings.TrimSpace(g)); g != "" {
			names = append(names, g)
		}
	}
	sort.SliceStable(names, func(i, j int) bool { return len(names[i]) > len(names[j]) })

	type hit struct {
		pos  int
		name string
	}
	var hits []hit
	var taken []span
	for _, name := range names {
		first := -1
		for from := 0; from < len(lower); {
			i := strings.Index(lower[from:], name)
			if i < 0 {
				break
			}
			s := span{from + i, from + i + len(name)}
			if !overlaps(taken, s) {
				taken = append(taken, s)
				if first < 0 {
					first = s.start
				}
			}
			from = s.end
		}
		if first >= 0 {
			hits = append(hits, hit{first, name})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].pos < hits[j].pos })

	title := cases.Title(language.Und)
	out := make([]string, 0, len(hits))
	seen := make(map[string]bool, len(hits))
	for _, h := range hits {
		if seen[h.name] {
			continue
		}
		seen[h.name] = true
		out = append(out, title.String(h.name))
	}
	return out
}

// MatchRegion returns the catalog region that appears earliest in text. When two
// regions start at the same position the longer one wins.
func (c *Catalog) MatchRegion(text string) (Region, bool) {
	lower := strings.ToLower(text)
	best, bestPos := Region{}, -1
	for _, r := range c.Regions {
		i := strings.Index(lower, strings.ToLower(r.Name))
		if i < 0 {
			continue
		}
		if bestPos < 0 || i < bestPos || (i == bestPos && len(r.Name) > len(best.Name)) {
			best, bestPos = r, i
		}
	}
	return best, bestPos >= 0
}

// ClassifyType classifies text by the first type rule with a keyword present.
// Text without any indicator is RED.
func (c *Catalog) ClassifyType(text string) model.WineType {
	lower := strings.ToLower(text)
	for _, rule := range c.Types {
		for _, kw := range rule.Keywords {
			if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
				return rule.Type
			}
		}
	}
	return model.WineTypeRed
}
