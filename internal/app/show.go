package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/big"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"tokenscope/internal/cashout"
	"tokenscope/internal/issuance"
	"tokenscope/internal/numeric"
	"tokenscope/internal/report"
	"tokenscope/internal/storage"
)

// Show prints the issuance schedule, summary and cash-out values of a project.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
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

	out := os.Stdout
	horizon := a.Config.ResolveHorizon(opts.Horizon)

	iss, err := reader.Issuance(ctx, opts.ChainID, opts.ProjectID, horizon)
	if err != nil {
		return err
	}
	if len(iss.Stages) == 0 {
		fmt.Fprintf(out, "no rulesets found for project %d on chain %d\n", opts.ProjectID, opts.ChainID)
	} else {
		writeStages(out, iss.Stages)
		fmt.Fprintln(out)
		writeSummary(out, iss.Summary)
	}

	co, err := reader.CashOut(ctx, opts.ChainID, opts.ProjectID)
	switch {
	case errors.Is(err, report.ErrProjectNotFound):
		fmt.Fprintln(out, "\nproject metadata not indexed; cash-out unavailable")
	case err != nil:
		return err
	default:
		fmt.Fprintln(out)
		writeCashOut(out, co)
		if opts.Live {
			a.showLive(ctx, out, store, co)
		}
	}

	if opts.Alerts > 0 {
		alerts, err := store.ListRecentAlerts(ctx, opts.ChainID, opts.ProjectID, opts.Alerts)
		if err != nil {
			return err
		}
		fmt.Fprintln(out)
		writeAlerts(out, alerts)
	}
	return nil
}

func writeStages(out io.Writer, stages []issuance.Stage) {
	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Stage\tStart (UTC)\tEnd (UTC)\tCycle\tWeight\tCut%\tReserved%\tCash-out tax%")
	for _, s := range stages {
		end := "-"
		if s.End != nil {
			end = formatMillis(*s.End)
		}
		cycle := "-"
		if s.Duration > 0 {
			cycle = (time.Duration(s.Duration) * time.Second).String()
		}
		fmt.Fprintf(writer, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			s.Stage,
			formatMillis(s.Start),
			end,
			cycle,
			strconv.FormatFloat(s.Weight, 'f', 4, 64),
			strconv.FormatFloat(s.WeightCutPercent*100, 'f', 2, 64),
			formatBasisPoints(s.ReservedPercent),
			formatBasisPoints(s.CashOutTaxRate),
		)
	}
	writer.Flush()
}

func writeSummary(out io.Writer, sum issuance.Summary) {
	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(writer, "Active stage\t%s\n", formatIntPtr(sum.ActiveStage))
	fmt.Fprintf(writer, "Current issuance\t%s\n", formatFloatPtr(sum.CurrentIssuance))
	if price, ok := sum.CurrentPrice(); ok {
		fmt.Fprintf(writer, "Issuance price\t%s\n", strconv.FormatFloat(price, 'g', 6, 64))
	}
	if sum.ReservedPercent != nil {
		fmt.Fprintf(writer, "Reserved\t%s%%\n", formatBasisPoints(*sum.ReservedPercent))
	}
	if sum.NextChangeAt != nil {
		fmt.Fprintf(writer, "Next change\t%s (%s)\n", formatMillis(*sum.NextChangeAt), sum.NextChangeType)
		fmt.Fprintf(writer, "Next issuance\t%s\n", formatFloatPtr(sum.NextIssuance))
		fmt.Fprintf(writer, "Next stage\t%s\n", formatIntPtr(sum.NextStage))
	} else {
		fmt.Fprintln(writer, "Next change\t-")
	}
	writer.Flush()
}

func writeCashOut(out io.Writer, co report.CashOutReport) {
	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Chain\tAs of (UTC)\tSource\tBalance\tCash-out value")
	for _, s := range co.Series {
		if len(s.Points) == 0 {
			continue
		}
		last := s.Points[len(s.Points)-1]
		fmt.Fprintf(writer, "%d\t%s\t%s\t%s\t%s\n",
			s.ChainID,
			formatMillis(last.Timestamp),
			last.Source,
			formatUnits(last.Balance, co.Decimals),
			formatUnits(last.Value, co.Decimals),
		)
	}
	fmt.Fprintf(writer, "Total\t\t\t\t%s %s\n", formatUnits(co.Total, co.Decimals), co.TokenSymbol)
	writer.Flush()
}

func writeAlerts(out io.Writer, alerts []storage.IssuanceAlert) {
	if len(alerts) == 0 {
		fmt.Fprintln(out, "no issuance alerts sent")
		return
	}
	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Change at (UTC)\tType\tCurrent\tNext\tSent (UTC)\tChannels")
	for _, alert := range alerts {
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\t%s\n",
			alert.ChangeAt.UTC().Format(time.RFC3339),
			alert.ChangeType,
			alert.CurrentIssuance.StringFixed(4),
			alert.NextIssuance.StringFixed(4),
			alert.CreatedAt.UTC().Format(time.RFC3339),
			strings.Join(alert.Channels, ","),
		)
	}
	writer.Flush()
}

func (a *App) showLive(ctx context.Context, out io.Writer, projects storage.ProjectReader, co report.CashOutReport) {
	if a.Config.Ethereum.Enabled() {
		project, err := projects.GetProject(ctx, co.ChainID, co.ProjectID)
		if err != nil {
			a.Logger.Warn().Err(err).Msg("failed to load project for live balance")
		} else {
			a.showLiveBalance(ctx, out, co, project.CashoutA, project.CashoutB)
		}
	}

	if a.Config.Price.Enabled() {
		price, err := a.newPrice().FetchPrice(ctx)
		if err != nil {
			a.Logger.Warn().Err(err).Msg("price lookup failed")
			return
		}
		total := decimal.NewFromBigInt(co.Total, -co.Decimals)
		fmt.Fprintf(out, "Price\t%s %s (total %s %s)\n",
			price.String(), a.Config.Price.VsCurrency,
			total.Mul(price).StringFixed(2), a.Config.Price.VsCurrency)
	}
}

func (a *App) showLiveBalance(ctx context.Context, out io.Writer, co report.CashOutReport, cashoutA, cashoutB string) {
	balance, block, err := a.newTerminal().FetchBalance(ctx, co.ProjectID)
	if err != nil {
		a.Logger.Warn().Err(err).Msg("live balance lookup failed")
		return
	}
	value := cashout.ComputeCashOutValue(
		balance,
		numeric.BigIntOrZero(cashoutA),
		numeric.BigIntOrZero(cashoutB),
		cashout.Fees{SecondaryFeePercent: a.Config.Fees.SecondaryFee},
	)
	fmt.Fprintf(out, "Live (block %d)\tbalance %s\tcash-out value %s\n",
		block, formatUnits(balance, co.Decimals), formatUnits(value, co.Decimals))
}

func formatMillis(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}

func formatBasisPoints(v int64) string {
	return decimal.New(v, -2).StringFixed(2)
}

func formatUnits(v *big.Int, decimals int32) string {
	if v == nil {
		return "0"
	}
	return decimal.NewFromBigInt(v, -decimals).StringFixed(6)
}

func formatFloatPtr(v *float64) string {
	if v == nil {
		return "-"
	}
	return strconv.FormatFloat(*v, 'f', 4, 64)
}

func formatIntPtr(v *int) string {
	if v == nil {
		return "-"
	}
	return strconv.Itoa(*v)
}
