package stats

import (
	"fmt"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"antennaforge/internal/model"
)

// WriteHistoryPlot renders best, average and best-ever fitness per
// generation. The image format follows the path extension.
func WriteHistoryPlot(path, title string, history []model.GenerationRecord) error {
	if len(history) == 0 {
		return fmt.Errorf("history is empty")
	}
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Generation"
	p.Y.Label.Text = "Fitness"

	best := make(plotter.XYs, len(history))
	avg := make(plotter.XYs, len(history))
	bestEver := make(plotter.XYs, len(history))
	for i, rec := range history {
		x := float64(rec.Generation)
		best[i].X, best[i].Y = x, rec.BestFitness
		avg[i].X, avg[i].Y = x, rec.AvgFitness
		bestEver[i].X, bestEver[i].Y = x, rec.BestEverFitness
	}

	bestLine, err := plotter.NewLine(best)
	if err != nil {
		return err
	}
	avgLine, err := plotter.NewLine(avg)
	if err != nil {
		return err
	}
	avgLine.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
	everLine, err := plotter.NewLine(bestEver)
	if err != nil {
		return err
	}
	everLine.Width = vg.Points(2)

	p.Add(plotter.NewGrid(), bestLine, avgLine, everLine)
	p.Legend.Add("best", bestLine)
	p.Legend.Add("avg", avgLine)
	p.Legend.Add("best ever", everLine)
	p.Legend.Top = true
	p.Legend.Left = true

	return p.Save(6*vg.Inch, 4*vg.Inch, path)
}
