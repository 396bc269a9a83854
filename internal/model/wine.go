package model

import (
	"strings"
	"time"

	"golang.org/x/text/cases"
)

// Unknown is the placeholder for unresolved region and country values.
const Unknown = "Unknown"

// NonVintage is the vintage token for wines blended across harvest years.
const NonVintage = "NV"

// Plausible alcohol-by-volume range, in percent.
const (
	MinAlcohol = 5.0
	MaxAlcohol = 22.0
)

// WineType classifies a wine by style.
type WineType string

const (
	WineTypeRed       WineType = "RED"
	WineTypeWhite     WineType = "WHITE"
	WineTypeRose      WineType = "ROSÉ"
	WineTypeSparkling WineType = "SPARKLING"
	WineTypeDessert   WineType = "DESSERT"
	WineTypeFortified WineType = "FORTIFIED"
)

// ParseWineType maps free text onto a WineType. Matching is case-insensitive
// and accepts "ROSE" without the accent. Unrecognized input yields RED.
func ParseWineType(s string) WineType {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "WHITE":
		return WineTypeWhite
	case "ROSÉ", "ROSE":
		return WineTypeRose
	case "SPARKLING":
		return WineTypeSparkling
	case "DESSERT":
		return WineTypeDessert
	case "FORTIFIED":
		return WineTypeFortified
	default:
		return WineTypeRed
	}
}

// Source records how a wine record came to exist.
type Source string

const (
	SourceAI        Source = "AI"
	SourceHeuristic Source = "HEURISTIC"
	SourceManual    Source = "MANUAL"
	SourceImport    Source = "IMPORT"
)

// WineRecord is a discovered, validated wine held in the global catalog.
type WineRecord struct {
	ID             string    `json:"id"`
	Winery         string    `json:"winery"`
	WineName       string    `json:"wineName"`
	Vintage        string    `json:"vintage"`
	Grapes         []string  `json:"grapes"`
	Region         string    `json:"region"`
	Country        string    `json:"country"`
	AlcoholContent *float64  `json:"alcoholContent,omitempty"`
	Type           WineType  `json:"type"`
	ImageURL       *string   `json:"imageUrl,omitempty"`
	Source         Source    `json:"source"`
	Validated      bool      `json:"validated"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// Key returns the record's natural key as stored.
func (w *WineRecord) Key() Key {
	return Key{Winery: w.Winery, WineName: w.WineName, Vintage: w.Vintage}
}

// Key is the natural key of a WineRecord: (winery, wine name, vintage).
type Key struct {
	Winery   string
	WineName string
	Vintage  string
}

// Normalized returns the case-folded, trimmed key used for lookups and for
// the store's uniqueness constraint. An empty vintage normalizes to "nv".
func (k Key) Normalized() Key {
	v := strings.TrimSpace(k.Vintage)
	if v == "" {
		v = NonVintage
	}
	folder := cases.Fold()
	return Key{
		Winery:   folder.String(strings.TrimSpace(k.Winery)),
		WineName: folder.String(strings.TrimSpace(k.WineName)),
		Vintage:  folder.String(v),
	}
}

// String renders the key for logs.
func (k Key) String() string {
	return k.Winery + " / " + k.WineName + " / " + k.Vintage
}

// IsNonVintage reports whether v is the NV token, ignoring case.
func IsNonVintage(v string) bool {
	return strings.EqualFold(strings.TrimSpace(v), NonVintage)
}

// Float returns a pointer to f.
func Float(f float64) *float64 { return &f }

// String returns a pointer to s.
func String(s string) *string { return &s }
