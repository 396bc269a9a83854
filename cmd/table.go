package main

import (
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/vindex/vindex/internal/model"
)

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

func renderTable(headers []string, rows [][]string, aligns []columnAlignment) string {
	columns := len(headers)
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, columns)
	for i, h := range headers {
		header[i] = h
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, columns)
		for i := range r {
			if i < len(row) {
				r[i] = row[i]
			} else {
				r[i] = ""
			}
		}
		tw.AppendRow(r)
	}

	configs := make([]table.ColumnConfig, 0, columns)
	for i := 0; i < columns; i++ {
		align := text.AlignLeft
		if i < len(aligns) && aligns[i] == alignRight {
			align = text.AlignRight
		}
		configs = append(configs, table.ColumnConfig{Number: i + 1, Align: align, AlignHeader: text.AlignLeft})
	}
	tw.SetColumnConfigs(configs)

	return tw.Render()
}

var wineHeaders = []string{"ID", "Winery", "Wine", "Vintage", "Type", "Grapes", "Region", "Country", "ABV", "Validated"}

var wineAligns = []columnAlignment{
	alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft,
}

func renderWines(recs []model.WineRecord) string {
	rows := make([][]string, 0, len(recs))
	for _, r := range recs {
		abv := ""
		if r.AlcoholContent != nil {
			abv = strconv.FormatFloat(*r.AlcoholContent, 'f', 1, 64) + "%"
		}
		rows = append(rows, []string{
			r.ID, r.Winery, r.WineName, r.Vintage, string(r.Type),
			strings.Join(r.Grapes, ", "), r.Region, r.Country, abv, strconv.FormatBool(r.Validated),
		})
	}
	return renderTable(wineHeaders, rows, wineAligns)
}
