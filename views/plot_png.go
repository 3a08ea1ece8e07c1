package views

import (
	"fmt"
	"image/color"

	"golang.org/x/image/colornames"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"mag-logger/models"
)

// AxisColors matches the colours of the live readout: X blue, Y orange, Z green.
var AxisColors = map[string]color.Color{
	"X": colornames.Blue,
	"Y": colornames.Orange,
	"Z": colornames.Green,
}

// SavePlotPNG renders a batch series to an image file. The format follows
// the file extension (.png, .svg, .pdf).
func SavePlotPNG(s *models.Series, path string, widthIn, heightIn float64) error {
	if s == nil || s.Len() == 0 {
		return fmt.Errorf("nothing to plot: series is empty")
	}
	if widthIn <= 0 {
		widthIn = 12
	}
	if heightIn <= 0 {
		heightIn = 6
	}

	p := plot.New()
	p.Title.Text = "Magnetic Field vs Time"
	p.X.Label.Text = "Time (h)"
	p.Y.Label.Text = "Magnetic Field (mG)"
	p.BackgroundColor = colornames.White
	p.Legend.Top = true
	p.Add(plotter.NewGrid())

	for _, axis := range s.Axes {
		xys := make(plotter.XYs, len(axis.Points))
		for i, pt := range axis.Points {
			xys[i].X = pt.Hours
			xys[i].Y = pt.Value
		}
		line, err := plotter.NewLine(xys)
		if err != nil {
			return fmt.Errorf("plot axis %s: %w", axis.Name, err)
		}
		if c, ok := AxisColors[axis.Name]; ok {
			line.Color = c
		}
		p.Add(line)
		p.Legend.Add(axis.Name, line)
	}

	if err := p.Save(vg.Length(widthIn)*vg.Inch, vg.Length(heightIn)*vg.Inch, path); err != nil {
		return fmt.Errorf("save plot %s: %w", path, err)
	}
	return nil
}
