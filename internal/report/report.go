// Package report renders collection progress as interactive HTML charts.
package report

import (
	"fmt"
	"os"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/ramonehamilton/mtg-binder/internal/collection"
)

// ChartConfig holds configuration for charts.
type ChartConfig struct {
	Title      string   // Chart title
	Subtitle   string   // Chart subtitle
	Width      string   // Chart width (e.g., "900px")
	Height     string   // Chart height (e.g., "500px")
	Theme      string   // Chart theme
	ShowLegend bool     // Show legend
	Colors     []string // Custom colors
}

// DefaultChartConfig returns default chart configuration.
func DefaultChartConfig() ChartConfig {
	return ChartConfig{
		Title:      "Collection Progress",
		Width:      "900px",
		Height:     "500px",
		Theme:      "light",
		ShowLegend: true,
		Colors:     []string{"#5470C6", "#91CC75", "#FAC858", "#EE6666"},
	}
}

// SetProgress is one set's statistics for reporting.
type SetProgress struct {
	SetCode string
	SetName string
	Stats   collection.Stats
}

// RenderProgressChart creates an owned-vs-total bar chart HTML file, one bar
// pair per set.
func RenderProgressChart(progress []SetProgress, config ChartConfig, outputPath string) error {
	bar := charts.NewBar()

	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Width:  config.Width,
			Height: config.Height,
			Theme:  config.Theme,
		}),
		charts.WithTitleOpts(opts.Title{
			Title:    config.Title,
			Subtitle: config.Subtitle,
		}),
		charts.WithTooltipOpts(opts.Tooltip{
			Show:    opts.Bool(true),
			Trigger: "axis",
		}),
		charts.WithLegendOpts(opts.Legend{
			Show: opts.Bool(config.ShowLegend),
		}),
		charts.WithColorsOpts(opts.Colors{
			config.Colors[0],
			config.Colors[1],
		}),
	)

	xLabels := make([]string, len(progress))
	ownedData := make([]opts.BarData, len(progress))
	totalData := make([]opts.BarData, len(progress))
	for i, p := range progress {
		label := p.SetName
		if label == "" {
			label = p.SetCode
		}
		xLabels[i] = label
		ownedData[i] = opts.BarData{Value: p.Stats.OwnedCount}
		totalData[i] = opts.BarData{Value: p.Stats.TotalCards}
	}

	bar.SetXAxis(xLabels).
		AddSeries("Owned", ownedData).
		AddSeries("Total", totalData).
		SetSeriesOptions(
			charts.WithLabelOpts(opts.Label{
				Show: opts.Bool(false),
			}),
		)

	f, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create chart file: %w", err)
	}
	defer f.Close()

	if err := bar.Render(f); err != nil {
		return fmt.Errorf("failed to render chart: %w", err)
	}

	return nil
}

// RenderValueChart creates a collection-value bar chart HTML file, one bar
// per set.
func RenderValueChart(progress []SetProgress, config ChartConfig, outputPath string) error {
	bar := charts.NewBar()

	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Width:  config.Width,
			Height: config.Height,
			Theme:  config.Theme,
		}),
		charts.WithTitleOpts(opts.Title{
			Title:    config.Title,
			Subtitle: config.Subtitle,
		}),
		charts.WithTooltipOpts(opts.Tooltip{
			Show:    opts.Bool(true),
			Trigger: "axis",
		}),
		charts.WithLegendOpts(opts.Legend{
			Show: opts.Bool(config.ShowLegend),
		}),
		charts.WithColorsOpts(opts.Colors{
			config.Colors[2],
		}),
	)

	xLabels := make([]string, len(progress))
	valueData := make([]opts.BarData, len(progress))
	for i, p := range progress {
		label := p.SetName
		if label == "" {
			label = p.SetCode
		}
		xLabels[i] = label
		valueData[i] = opts.BarData{Value: p.Stats.TotalValue}
	}

	bar.SetXAxis(xLabels).
		AddSeries("Value (EUR)", valueData).
		SetSeriesOptions(
			charts.WithLabelOpts(opts.Label{
				Show: opts.Bool(false),
			}),
		)

	f, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create chart file: %w", err)
	}
	defer f.Close()

	if err := bar.Render(f); err != nil {
		return fmt.Errorf("failed to render chart: %w", err)
	}

	return nil
}
