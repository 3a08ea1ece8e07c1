package models

import "time"

// Readout is what the live monitor shows for one tick.
type Readout struct {
	Time   time.Time `json:"time"`
	X      float64   `json:"x"`
	Y      float64   `json:"y"`
	Z      float64   `json:"z"`
	Sample int       `json:"sample"`
}

// LivePoint is one sample of the live plot.
type LivePoint struct {
	Sample  int
	X, Y, Z float64
}

// LivePlot is the rolling line plot of the monitor. It keeps at most
// MaxPoints points; the oldest are dropped first.
type LivePlot struct {
	MaxPoints int
	Points    []LivePoint

	samples int
}

func NewLivePlot(maxPoints int) *LivePlot {
	return &LivePlot{MaxPoints: maxPoints}
}

// Append adds r as the next sample and returns its readout.
func (p *LivePlot) Append(r Reading) Readout {
	p.samples++
	p.Points = append(p.Points, LivePoint{Sample: p.samples, X: r.X, Y: r.Y, Z: r.Z})
	if p.MaxPoints > 0 && len(p.Points) > p.MaxPoints {
		n := copy(p.Points, p.Points[len(p.Points)-p.MaxPoints:])
		p.Points = p.Points[:n]
	}
	return Readout{Time: r.Timestamp, X: r.X, Y: r.Y, Z: r.Z, Sample: p.samples}
}

// Samples returns the number of samples appended so far, including dropped ones.
func (p *LivePlot) Samples() int {
	return p.samples
}
