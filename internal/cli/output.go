package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/guptarohit/asciigraph"
	"github.com/jedib0t/go-pretty/v6/table"
)

func newTable(w io.Writer, header table.Row) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(header)
	return t
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// plot renders one or more series. Empty input renders nothing.
func plot(w io.Writer, caption string, series ...[]float64) {
	var data [][]float64
	for _, s := range series {
		if len(s) > 0 {
			data = append(data, s)
		}
	}
	if len(data) == 0 {
		return
	}

	width := 0
	for _, s := range data {
		if len(s) > width {
			width = len(s)
		}
	}
	if width < 20 {
		width = 20
	}
	if width > 100 {
		width = 100
	}

	opts := []asciigraph.Option{
		asciigraph.Height(10),
		asciigraph.Width(width),
		asciigraph.Caption(caption),
	}
	if len(data) > 1 {
		opts = append(opts, asciigraph.SeriesColors(asciigraph.Green, asciigraph.Red))
	}
	fmt.Fprintln(w, asciigraph.PlotMany(data, opts...))
}
