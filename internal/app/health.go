package app

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"portfolio-balancer/internal/health"
)

// Health prints the bucket coverage report for all tracked series.
func (a *App) Health(ctx context.Context) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	reporter := health.NewReporter(store, store, a.Config.Market.ReferenceCurrency, a.Config.Market.FxBases)
	report, err := reporter.Report(ctx, time.Now().UTC())
	if err != nil {
		return err
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(writer, "Series\tHourly (of %d)\tDaily (of %d)\n", health.ExpectedHourly, health.ExpectedDaily)
	for _, cov := range report.Assets {
		fmt.Fprintf(writer, "%s\t%d\t%d\n", cov.Name, cov.Hourly, cov.Daily)
	}
	for _, cov := range report.FxPairs {
		fmt.Fprintf(writer, "%s\t%d\t%d\n", cov.Name, cov.Hourly, cov.Daily)
	}
	writer.Flush()
	return nil
}
