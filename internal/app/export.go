package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	chart "github.com/wcharczuk/go-chart/v2"

	"tokenscope/internal/holders"
	"tokenscope/internal/issuance"
	"tokenscope/internal/report"
)

// Export renders a report series as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)
	opts.Horizon = a.Config.ResolveHorizon(opts.Horizon)

	store, closeStore, err := a.requireStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	reader, closeReader, err := a.newReader(ctx, store, nil)
	if err != nil {
		return err
	}
	defer closeReader()

	var table exportTable
	switch strings.ToLower(opts.Series) {
	case report.KindIssuance:
		rep, err := reader.Issuance(ctx, opts.ChainID, opts.ProjectID, opts.Horizon)
		if err != nil {
			return err
		}
		table = issuanceTable(downsample(rep.Chart, opts.MaxPoints))
	case report.KindCashOut:
		rep, err := reader.CashOut(ctx, opts.ChainID, opts.ProjectID)
		if err != nil {
			return err
		}
		table = cashOutTable(rep, opts.MaxPoints)
	case report.KindHolders:
		rep, err := reader.Holders(ctx, opts.ChainID, opts.ProjectID)
		if err != nil {
			return err
		}
		table = holdersTable(downsample(rep.Points, opts.MaxPoints))
	default:
		return fmt.Errorf("unknown series %q (want issuance, cashout or holders)", opts.Series)
	}

	if len(table.rows) == 0 {
		a.Logger.Info().Str("series", opts.Series).Msg("no data points to export")
		return nil
	}
	a.Logger.Info().Str("series", opts.Series).Int("exported", len(table.rows)).Msg("exporting series")

	if opts.CSVPath != "" {
		if err := writeCSV(opts.CSVPath, table); err != nil {
			return err
		}
	}
	if opts.PNGPath != "" {
		if err := writePNG(opts.PNGPath, table); err != nil {
			return err
		}
	}
	return nil
}

// exportTable is a series flattened for CSV along with its chart lines.
type exportTable struct {
	header []string
	rows   [][]string
	title  string
	lines  []chartLine
}

type chartLine struct {
	name      string
	x         []time.Time
	y         []float64
	secondary bool
}

func issuanceTable(points []issuance.Point) exportTable {
	line := chartLine{name: "Issuance price"}
	rows := make([][]string, 0, len(points))
	for _, p := range points {
		ts := time.UnixMilli(p.Timestamp).UTC()
		rows = append(rows, []string{ts.Format(time.RFC3339), strconv.FormatFloat(p.IssuancePrice, 'g', -1, 64)})
		line.x = append(line.x, ts)
		line.y = append(line.y, p.IssuancePrice)
	}
	return exportTable{
		header: []string{"timestamp", "issuance_price"},
		rows:   rows,
		title:  "Issuance price",
		lines:  []chartLine{line},
	}
}

func cashOutTable(rep report.CashOutReport, maxPoints int) exportTable {
	table := exportTable{
		header: []string{"timestamp", "chain_id", "balance", "supply", "cash_out_value", "source"},
		title:  fmt.Sprintf("Cash-out value (%s)", rep.TokenSymbol),
	}
	perChain := maxPoints
	if n := len(rep.Series); n > 1 && maxPoints > 0 {
		perChain = max(maxPoints/n, 2)
	}
	for _, s := range rep.Series {
		line := chartLine{name: fmt.Sprintf("Chain %d", s.ChainID)}
		for _, p := range downsample(s.Points, perChain) {
			ts := time.UnixMilli(p.Timestamp).UTC()
			value := decimal.NewFromBigInt(p.Value, -rep.Decimals)
			table.rows = append(table.rows, []string{
				ts.Format(time.RFC3339),
				strconv.FormatInt(p.ChainID, 10),
				p.Balance.String(),
				p.Supply.String(),
				p.Value.String(),
				string(p.Source),
			})
			line.x = append(line.x, ts)
			line.y = append(line.y, value.InexactFloat64())
		}
		table.lines = append(table.lines, line)
	}
	return table
}

func holdersTable(points []holders.DataPoint) exportTable {
	count := chartLine{name: "Holders"}
	median := chartLine{name: "Median contribution", secondary: true}
	rows := make([][]string, 0, len(points))
	for _, p := range points {
		ts := time.UnixMilli(p.Timestamp).UTC()
		rows = append(rows, []string{ts.Format(time.RFC3339), strconv.Itoa(p.Holders), p.MedianContribution.String()})
		count.x = append(count.x, ts)
		count.y = append(count.y, float64(p.Holders))
		median.x = append(median.x, ts)
		median.y = append(median.y, p.MedianContribution.InexactFloat64())
	}
	return exportTable{
		header: []string{"timestamp", "holders", "median_contribution"},
		rows:   rows,
		title:  "Holders",
		lines:  []chartLine{count, median},
	}
}

// downsample keeps at most max evenly spaced items, always including the
// first and last.
func downsample[T any](items []T, max int) []T {
	if max <= 0 || len(items) <= max {
		return items
	}
	if max == 1 {
		return items[len(items)-1:]
	}

	result := make([]T, 0, max)
	step := float64(len(items)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(items) {
			idx = len(items) - 1
		}
		result = append(result, items[idx])
	}
	return result
}

func writeCSV(path string, table exportTable) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write(table.header); err != nil {
		return err
	}
	if err := writer.WriteAll(table.rows); err != nil {
		return err
	}
	return writer.Error()
}

func writePNG(path string, table exportTable) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	valueFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.4g")
	}

	graph := chart.Chart{
		Title:  table.title,
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			ValueFormatter: valueFormatter,
		},
	}

	for _, line := range table.lines {
		if len(line.x) < 2 {
			continue
		}
		series := chart.TimeSeries{
			Name:    line.name,
			XValues: line.x,
			YValues: line.y,
		}
		if line.secondary {
			series.YAxis = chart.YAxisSecondary
			graph.YAxisSecondary = chart.YAxis{ValueFormatter: valueFormatter}
		}
		graph.Series = append(graph.Series, series)
	}
	if len(graph.Series) == 0 {
		return errors.New("not enough data points to render a chart")
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
