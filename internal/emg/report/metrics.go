package report

import (
	"fmt"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/myo.mouse/internal/emg/l4classify"
)

// AssetsHost is where the rendered page loads echarts from. Empty uses the
// go-echarts default CDN.
var AssetsHost = ""

// RenderMetrics writes an HTML page with a per-class recall bar chart, a
// confusion heatmap and the headline error rates.
func RenderMetrics(w io.Writer, title string, met l4classify.Metrics) error {
	if len(met.Classes) == 0 {
		return fmt.Errorf("no classes to render")
	}

	page := components.NewPage()
	page.PageTitle = title
	if AssetsHost != "" {
		page.SetAssetsHost(AssetsHost)
	}
	page.AddCharts(recallChart(title, met), confusionChart(met), summaryChart(met))
	if err := page.Render(w); err != nil {
		return fmt.Errorf("failed to render metrics page: %w", err)
	}
	return nil
}

func initOpts() opts.Initialization {
	o := opts.Initialization{Width: "100%", Height: "480px"}
	if AssetsHost != "" {
		o.AssetsHost = AssetsHost
	}
	return o
}

func recallChart(title string, met l4classify.Metrics) *charts.Bar {
	data := make([]opts.BarData, 0, len(met.Classes))
	for _, c := range met.Classes {
		data = append(data, opts.BarData{Value: fmt.Sprintf("%.3f", met.Recall[c])})
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(initOpts()),
		charts.WithTitleOpts(opts.Title{
			Title:    title,
			Subtitle: fmt.Sprintf("%d examples, accuracy %.1f%%", met.Total, met.Accuracy*100),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "class"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "recall", Min: 0, Max: 1}),
	)
	bar.SetXAxis(met.Classes).AddSeries("recall", data,
		charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
	)
	return bar
}

func confusionChart(met l4classify.Metrics) *charts.HeatMap {
	data := make([]opts.HeatMapData, 0, len(met.Classes)*len(met.Classes))
	maxSeen := 1
	for i, row := range met.Confusion {
		for j, count := range row {
			data = append(data, opts.HeatMapData{Value: [3]interface{}{j, i, count}})
			if count > maxSeen {
				maxSeen = count
			}
		}
	}

	hm := charts.NewHeatMap()
	hm.SetGlobalOptions(
		charts.WithInitializationOpts(initOpts()),
		charts.WithTitleOpts(opts.Title{Title: "Confusion", Subtitle: "rows: true class, columns: predicted"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Type: "category", Name: "predicted"}),
		charts.WithYAxisOpts(opts.YAxis{Type: "category", Name: "true", Data: met.Classes}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        0,
			Max:        float32(maxSeen),
			InRange:    &opts.VisualMapInRange{Color: []string{"#f7fbff", "#6baed6", "#08306b"}},
		}),
	)
	hm.SetXAxis(met.Classes).AddSeries("confusion", data,
		charts.WithLabelOpts(opts.Label{Show: opts.Bool(true)}),
	)
	return hm
}

func summaryChart(met l4classify.Metrics) *charts.Bar {
	names := []string{"accuracy", "active error", "rejection rate"}
	vals := []float64{met.Accuracy, met.ActiveError, met.RejectionRate}
	data := make([]opts.BarData, len(vals))
	for i, v := range vals {
		data[i] = opts.BarData{Value: fmt.Sprintf("%.3f", v)}
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(initOpts()),
		charts.WithTitleOpts(opts.Title{Title: "Summary"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Min: 0, Max: 1}),
	)
	bar.SetXAxis(names).AddSeries("rate", data,
		charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
	)
	return bar
}
