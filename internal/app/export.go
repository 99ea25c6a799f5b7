package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"portfolio-balancer/internal/csvio"
	"portfolio-balancer/internal/storage"
)

// Export renders a stored price series as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}
	if opts.Symbol == "" {
		return errors.New("--symbol must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	asset, err := store.AssetBySymbol(ctx, opts.Symbol)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("unknown asset %q", opts.Symbol)
		}
		return err
	}

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}
	from := to.AddDate(0, 0, -365)
	if opts.From != nil {
		from = opts.From.UTC()
	}
	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	all, err := store.ListPricesBetween(ctx, from, to)
	if err != nil {
		return err
	}
	refCcy := a.Config.Market.ReferenceCurrency
	series := make([]storage.PriceObservation, 0, len(all))
	for _, obs := range all {
		if obs.AssetID == asset.ID && obs.Ccy == refCcy {
			series = append(series, obs)
		}
	}
	if len(series) == 0 {
		a.Logger.Info().Str("symbol", asset.Symbol).Msg("no observations found for export window")
		return nil
	}

	downsampled := downsampleSeries(series, opts.MaxPoints)
	a.Logger.Info().Int("total", len(series)).Int("exported", len(downsampled)).Str("symbol", asset.Symbol).Msg("exporting price series")

	if opts.CSVPath != "" {
		if err := writeSeriesCSV(opts.CSVPath, asset.Symbol, refCcy, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeSeriesPNG(opts.PNGPath, asset.Symbol, refCcy, downsampled); err != nil {
			return err
		}
	}

	return nil
}

// ExportPositions writes the current positions snapshot CSV.
func (a *App) ExportPositions(ctx context.Context, path string) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	return a.writePositionsSnapshot(ctx, store, path)
}

func (a *App) writePositionsSnapshot(ctx context.Context, registry storage.RegistryStore, path string) error {
	portfolio, err := registry.PortfolioByName(ctx, a.Config.Portfolio.Name)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("portfolio %q not found", a.Config.Portfolio.Name)
		}
		return err
	}
	positions, err := registry.ListPositions(ctx, portfolio.ID)
	if err != nil {
		return err
	}
	assets, err := registry.ListActiveAssets(ctx)
	if err != nil {
		return err
	}
	symbols := make(map[int64]string, len(assets))
	for _, asset := range assets {
		symbols[asset.ID] = asset.Symbol
	}

	rows := make([]csvio.Row, 0, len(positions))
	for _, pos := range positions {
		rows = append(rows, csvio.Row{
			Symbol:         symbols[pos.AssetID],
			Coins:          pos.Coins,
			AvgCostCcy:     pos.AvgCostCcy,
			AvgCostPerUnit: pos.AvgCostPerUnit,
		})
	}

	if err := ensureDir(path); err != nil {
		return err
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	if err := csvio.WritePositions(file, rows); err != nil {
		return err
	}
	a.Logger.Info().Int("positions", len(rows)).Str("path", path).Msg("positions snapshot written")
	return nil
}

func downsampleSeries(series []storage.PriceObservation, max int) []storage.PriceObservation {
	if max <= 0 || len(series) <= max {
		return series
	}

	result := make([]storage.PriceObservation, 0, max)
	step := float64(len(series)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(series) {
			idx = len(series) - 1
		}
		result = append(result, series[idx])
	}
	return result
}

func writeSeriesCSV(path, symbol, ccy string, series []storage.PriceObservation) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	if err := writer.Write([]string{"at", "symbol", "ccy", "price"}); err != nil {
		return err
	}
	for _, obs := range series {
		record := []string{obs.At.UTC().Format(time.RFC3339), symbol, ccy, obs.Price.String()}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	return writer.Error()
}

func writeSeriesPNG(path, symbol, ccy string, series []storage.PriceObservation) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(series))
	y := make([]float64, len(series))
	for i, obs := range series {
		x[i] = obs.At
		y[i] = obs.Price.InexactFloat64()
	}

	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name: fmt.Sprintf("%s (%s)", symbol, ccy),
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    symbol,
				XValues: x,
				YValues: y,
			},
		},
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
