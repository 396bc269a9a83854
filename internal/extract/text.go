package extract

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/vindex/vindex/internal/model"
)

// plainText strips markup from a search snippet and collapses whitespace.
// Serper sometimes returns highlighted fragments such as <b>Merlot</b>.
func plainText(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return strings.Join(strings.Fields(s), " ")
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return strings.Join(strings.Fields(s), " ")
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}

var alcoholPattern = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*%\s*(alcohol|alc|vol|abv|content)?`)

// Alcohol returns the alcohol percentage mentioned in text, or nil.
//
// Percentages labelled with a context word ("14% alcohol", "13.5% vol")
// are preferred; otherwise the first percentage within the plausible
// alcohol range is used. Values outside the range are skipped, which keeps
// grape-blend shares such as "Cabernet Sauvignon 60%" from matching.
func Alcohol(text string) *float64 {
	var firstBare *float64
	for _, m := range alcoholPattern.FindAllStringSubmatch(text, -1) {
		v, err := strconv.ParseFloat(m[1], 64)
		if err != nil || v < model.MinAlcohol || v > model.MaxAlcohol {
			continue
		}
		if m[2] != "" {
			return model.Float(v)
		}
		if firstBare == nil {
			firstBare = model.Float(v)
		}
	}
	return firstBare
}
