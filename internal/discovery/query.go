package discovery

import (
	"strings"

	"github.com/vindex/vindex/internal/model"
)

// BuildQuery returns the web search query for a wine. The vintage is
// included unless it is blank or NV.
func BuildQuery(winery, name, vintage string) string {
	v := strings.TrimSpace(vintage)
	if v != "" && !model.IsNonVintage(v) {
		return winery + " " + name + " " + v + " wine"
	}
	return winery + " " + name + " wine"
}

// BuildImageQuery returns the image search query for a wine bottle.
func BuildImageQuery(winery, name, vintage string) string {
	return BuildQuery(winery, name, vintage) + " bottle"
}
