// Package catalog holds the keyword tables used to recognize grape
// varieties, wine regions and wine styles in free text.
package catalog

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/vindex/vindex/internal/model"
)

// Catalog is a read-only keyword table. It is safe for concurrent use once
// built.
type Catalog struct {
	Grapes  []string   `yaml:"grapes"`
	Regions []Region   `yaml:"regions"`
	Types   []TypeRule `yaml:"types"`
}

// Region is a named wine region and the country it belongs to.
type Region struct {
	Name    string `yaml:"name"`
	Country string `yaml:"country"`
}

// TypeRule maps indicator keywords to a wine type. Rules are checked in
// order; the first rule with a matching keyword wins.
type TypeRule struct {
	Type     model.WineType `yaml:"type"`
	Keywords []string       `yaml:"keywords"`
}

// Default returns the built-in catalog.
func Default() *Catalog {
	c := &Catalog{
		Grapes:  append([]string(nil), defaultGrapes...),
		Regions: append([]Region(nil), defaultRegions...),
		Types:   make([]TypeRule, len(defaultTypes)),
	}
	for i, r := range defaultTypes {
		c.Types[i] = TypeRule{Type: r.Type, Keywords: append([]string(nil), r.Keywords...)}
	}
	return c
}

// Load returns the default catalog merged with the YAML file at path.
// An empty path returns Default().
func Load(path string) (*Catalog, error) {
	c := Default()
	if path == "" {
		return c, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "catalog: read %s", path)
	}

	var override Catalog
	if err := yaml.Unmarshal(data, &override); err != nil {
		return nil, eris.Wrap(err, "catalog: parse")
	}
	c.Merge(&override)
	return c, nil
}

// Merge appends entries from o that c does not already contain. Type
// keywords join the rule for the same type, or form a new lowest-priority
// rule.
func (c *Catalog) Merge(o *Catalog) {
	seen := make(map[string]bool, len(c.Grapes))
	for _, g := range c.Grapes {
		seen[strings.ToLower(g)] = true
	}
	for _, g := range o.Grapes {
		g = strings.TrimSpace(g)
		if g == "" || seen[strings.ToLower(g)] {
			continue
		}
		seen[strings.ToLower(g)] = true
		c.Grapes = append(c.Grapes, g)
	}

	regions := make(map[string]bool, len(c.Regions))
	for _, r := range c.Regions {
		regions[strings.ToLower(r.Name)] = true
	}
	for _, r := range o.Regions {
		r.Name = strings.TrimSpace(r.Name)
		if r.Name == "" || regions[strings.ToLower(r.Name)] {
			continue
		}
		if r.Country == "" {
			r.Country = model.Unknown
		}
		regions[strings.ToLower(r.Name)] = true
		c.Regions = append(c.Regions, r)
	}

	for _, rule := range o.Types {
		rule.Type = model.ParseWineType(string(rule.Type))
		idx := -1
		for i := range c.Types {
			if c.Types[i].Type == rule.Type {
				idx = i
				break
			}
		}
		if idx < 0 {
			c.Types = append(c.Types, TypeRule{Type: rule.Type})
			idx = len(c.Types) - 1
		}
		c.Types[idx].Keywords = append(c.Types[idx].Keywords, rule.Keywords...)
	}
}

var defaultGrapes = []string{
	"cabernet sauvignon",
	"merlot",
	"pinot noir",
	"syrah",
	"shiraz",
	"chardonnay",
	"sauvignon blanc",
	"riesling",
	"pinot grigio",
	"pinot gris",
	"chenin blanc",
	"viognier",
	"tempranillo",
	"sangiovese",
	"nebbiolo",
	"barbera",
	"cabernet franc",
	"petit verdot",
	"petite sirah",
	"malbec",
	"carménère",
	"grenache",
	"grenache blanc",
	"garnacha",
	"cinsault",
	"mourvèdre",
	"carignan",
	"zinfandel",
	"primitivo",
	"gewürztraminer",
	"sémillon",
	"marsanne",
	"roussanne",
	"albariño",
	"grüner veltliner",
	"touriga nacional",
	"argaman",
	"marselan",
	"colombard",
	"muscat",
}

var defaultRegions = []Region{
	{"Upper Galilee", "Israel"},
	{"Galilee", "Israel"},
	{"Golan Heights", "Israel"},
	{"Judean Hills", "Israel"},
	{"Shomron", "Israel"},
	{"Samson", "Israel"},
	{"Negev", "Israel"},
	{"Bordeaux", "France"},
	{"Burgundy", "France"},
	{"Bourgogne", "France"},
	{"Champagne", "France"},
	{"Rhône", "France"},
	{"Loire", "France"},
	{"Alsace", "France"},
	{"Provence", "France"},
	{"Languedoc", "France"},
	{"Tuscany", "Italy"},
	{"Toscana", "Italy"},
	{"Piedmont", "Italy"},
	{"Piemonte", "Italy"},
	{"Veneto", "Italy"},
	{"Sicily", "Italy"},
	{"Rioja", "Spain"},
	{"Ribera del Duero", "Spain"},
	{"Priorat", "Spain"},
	{"Douro", "Portugal"},
	{"Napa Valley", "USA"},
	{"Sonoma", "USA"},
	{"Paso Robles", "USA"},
	{"Willamette Valley", "USA"},
	{"Barossa Valley", "Australia"},
	{"McLaren Vale", "Australia"},
	{"Marlborough", "New Zealand"},
	{"Mendoza", "Argentina"},
	{"Maipo Valley", "Chile"},
	{"Colchagua", "Chile"},
	{"Stellenbosch", "South Africa"},
	{"Mosel", "Germany"},
}

// White first, then rosé, then sparkling; dessert and fortified follow.
var defaultTypes = []TypeRule{
	{model.WineTypeWhite, []string{"white wine", "white blend", "chardonnay", "sauvignon blanc", "riesling", "pinot grigio", "pinot gris", "chenin blanc", "viognier", "gewürztraminer"}},
	{model.WineTypeRose, []string{"rosé", "rose wine", "rosado", "rosato"}},
	{model.WineTypeSparkling, []string{"sparkling", "champagne", "prosecco", "crémant", "cremant", "méthode traditionnelle"}},
	{model.WineTypeDessert, []string{"dessert wine", "late harvest", "ice wine", "icewine", "sauternes", "tokaji"}},
	{model.WineTypeFortified, []string{"fortified", "port wine", "sherry", "madeira", "marsala"}},
}
