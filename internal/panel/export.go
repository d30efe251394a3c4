package panel

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	chart "github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"
)

// WriteJSON writes the payload to path.
func (s *Structure) WriteJSON(path string) error {
	if err := ensureDir(path); err != nil {
		return err
	}
	payload, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal structure panel: %w", err)
	}
	return os.WriteFile(path, payload, 0o644)
}

// WritePNG renders the payload as a PNG line chart.
func (s *Structure) WritePNG(path string) error {
	if len(s.Traces) == 0 {
		return errors.New("panel: nothing to render")
	}
	if err := ensureDir(path); err != nil {
		return err
	}

	series := make([]chart.Series, 0, len(s.Traces))
	for i, tr := range s.Traces {
		color := chart.GetDefaultColor(i)
		if tr.Color != "" {
			color = drawing.ColorFromHex(tr.Color)
		}
		series = append(series, chart.TimeSeries{
			Name: tr.Label,
			Style: chart.Style{
				StrokeColor: color,
				StrokeWidth: tr.Width,
			},
			XValues: s.TimeIndex,
			YValues: tr.Values,
		})
	}

	logReturnFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.3f")
	}
	graph := chart.Chart{
		Title:  s.Title,
		Width:  1280,
		Height: 720,
		Background: chart.Style{
			Padding: chart.Box{Top: 50, Left: 180},
		},
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "ln(close / first close)",
			ValueFormatter: logReturnFormatter,
		},
		Series: series,
	}
	graph.Elements = []chart.Renderable{chart.LegendLeft(&graph)}

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
