package main

import (
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/mrsinham/drrforge/internal/pipeline"
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
	for i := range columns {
		header[i] = headers[i]
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, columns)
		for i := range columns {
			if i < len(row) {
				r[i] = row[i]
			} else {
				r[i] = ""
			}
		}
		tw.AppendRow(r)
	}

	configs := make([]table.ColumnConfig, 0, columns)
	for i := range columns {
		align := text.AlignLeft
		if i < len(aligns) && aligns[i] == alignRight {
			align = text.AlignRight
		}
		configs = append(configs, table.ColumnConfig{
			Number:      i + 1,
			Align:       align,
			AlignHeader: text.AlignLeft,
		})
	}
	tw.SetColumnConfigs(configs)

	return tw.Render()
}

// printReport writes one row per processed item.
func printReport(w io.Writer, r *pipeline.Report) {
	if len(r.Results) == 0 {
		fmt.Fprintln(w, "Nothing to process")
		return
	}
	rows := make([][]string, 0, len(r.Results))
	for _, res := range r.Results {
		size := ""
		if res.Bytes > 0 {
			size = humanize.Bytes(uint64(res.Bytes))
		}
		detail := res.Output
		if res.Err != "" {
			detail = res.Err
		}
		rows = append(rows, []string{
			res.Key,
			string(res.Status),
			size,
			res.Duration.Round(timeRounding(res.Duration)).String(),
			detail,
		})
	}
	fmt.Fprintln(w, renderTable(
		[]string{"Item", "Status", "Size", "Time", "Output / error"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignLeft},
	))
}

func printSummary(w io.Writer, r *pipeline.Report, outputDir string) {
	title := "Generation"
	if r.Stage == pipeline.StageCrop {
		title = "Crop"
	}
	var total int64
	for _, res := range r.Results {
		total += res.Bytes
	}
	fmt.Fprintf(w, "\n✓ %s complete!\n", title)
	fmt.Fprintf(w, "  Output directory: %s\n", outputDir)
	fmt.Fprintf(w, "  Written: %d of %d (%s)\n", r.Succeeded(), len(r.Results), humanize.Bytes(uint64(total)))
	if n := r.Count(pipeline.StatusFailed); n > 0 {
		fmt.Fprintf(w, "  Failed:  %d\n", n)
	}
	if n := r.Count(pipeline.StatusSkipped); n > 0 {
		fmt.Fprintf(w, "  Skipped: %d\n", n)
	}
}

func timeRounding(d time.Duration) time.Duration {
	if d >= time.Second {
		return 100 * time.Millisecond
	}
	return time.Millisecond
}
