package main

import (
	"encoding/csv"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/vindex/vindex/internal/model"
)

// csvHeader maps normalized header names to column indexes.
type csvHeader map[string]int

func readHeader(r *csv.Reader) (csvHeader, error) {
	row, err := r.Read()
	if err == io.EOF {
		return nil, eris.New("csv: empty file")
	}
	if err != nil {
		return nil, eris.Wrap(err, "csv: read header")
	}
	h := make(csvHeader, len(row))
	for i, name := range row {
		key := strings.ToLower(strings.TrimSpace(name))
		key = strings.TrimPrefix(key, "\ufeff")
		key = strings.NewReplacer(" ", "", "_", "", "-", "").Replace(key)
		h[key] = i
	}
	for _, required := range []string{"winery", "winename"} {
		if _, ok := h[required]; !ok {
			return nil, eris.Errorf("csv: missing required column %q", required)
		}
	}
	return h, nil
}

func (h csvHeader) get(row []string, col string) string {
	i, ok := h[col]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func newCSVReader(r io.Reader) *csv.Reader {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	return cr
}

// readDiscoverRequests parses winery,wine_name[,vintage] rows.
func readDiscoverRequests(r io.Reader) ([]discoverRequest, error) {
	cr := newCSVReader(r)
	h, err := readHeader(cr)
	if err != nil {
		return nil, err
	}

	var out []discoverRequest
	for {
		row, err := cr.Read()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			// *csv.ParseError already names the line.
			return nil, eris.Wrap(err, "csv: read row")
		}
		req := discoverRequest{
			Winery:   h.get(row, "winery"),
			WineName: h.get(row, "winename"),
			Vintage:  h.get(row, "vintage"),
		}
		if req.Winery == "" && req.WineName == "" {
			continue
		}
		out = append(out, req)
	}
}

// readImportRecords parses full catalog rows. Grapes are separated by ";"
// or "|"; alcohol may carry a trailing "%".
func readImportRecords(r io.Reader) ([]model.WineRecord, error) {
	cr := newCSVReader(r)
	h, err := readHeader(cr)
	if err != nil {
		return nil, err
	}

	var out []model.WineRecord
	for {
		row, err := cr.Read()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			// *csv.ParseError already names the line.
			return nil, eris.Wrap(err, "csv: read row")
		}

		rec := model.WineRecord{
			Winery:   h.get(row, "winery"),
			WineName: h.get(row, "winename"),
			Vintage:  h.get(row, "vintage"),
			Grapes:   splitGrapes(h.get(row, "grapes")),
			Region:   h.get(row, "region"),
			Country:  h.get(row, "country"),
			Source:   model.SourceImport,
		}
		if rec.Winery == "" && rec.WineName == "" {
			continue
		}
		if t := h.get(row, "type"); t != "" {
			rec.Type = model.ParseWineType(t)
		}
		if a := strings.TrimSuffix(h.get(row, "alcohol"), "%"); a != "" {
			v, err := strconv.ParseFloat(strings.TrimSpace(a), 64)
			if err == nil && (math.IsNaN(v) || math.IsInf(v, 0)) {
				err = eris.New("not a finite number")
			}
			if err != nil {
				line, _ := cr.FieldPos(0)
				return nil, eris.Wrapf(err, "csv: line %d: alcohol %q", line, a)
			}
			rec.AlcoholContent = model.Float(v)
		}
		if u := h.get(row, "imageurl"); u != "" {
			rec.ImageURL = model.String(u)
		}
		out = append(out, rec)
	}
}

func splitGrapes(s string) []string {
	out := []string{}
	for _, g := range strings.FieldsFunc(s, func(r rune) bool { return r == ';' || r == '|' }) {
		if g = strings.TrimSpace(g); g != "" {
			out = append(out, g)
		}
	}
	return out
}
