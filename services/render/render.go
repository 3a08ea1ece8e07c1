// Package render turns a magnetometer log of any size into a plottable series
// whose point count stays roughly constant: rows are strided according to a
// detail level and each axis is smoothed with a centered moving average.
package render

import (
	"fmt"
	"math"
	"strings"

	"github.com/sirupsen/logrus"

	"mag-logger/models"
	"mag-logger/utils"
	"mag-logger/views"
)

// DetailLevel selects how coarsely a log is downsampled.
type DetailLevel int

const (
	Low DetailLevel = iota
	Medium
	High
)

var detailNames = map[DetailLevel]string{
	Low:    "Low",
	Medium: "Medium",
	High:   "High",
}

func (d DetailLevel) String() string {
	if n, ok := detailNames[d]; ok {
		return n
	}
	return "unknown"
}

// ParseDetailLevel accepts "low", "medium" or "high" in any case.
func ParseDetailLevel(s string) (DetailLevel, error) {
	for d, n := range detailNames {
		if strings.EqualFold(strings.TrimSpace(s), n) {
			return d, nil
		}
	}
	return Low, fmt.Errorf("%w: %q", models.ErrUnknownDetailLevel, s)
}

// Options tune stride selection and smoothing.
type Options struct {
	SampleRateHz float64 // assumed acquisition rate; the log carries no finer timing

	LowDivisor    int
	MediumDivisor int
	HighDivisor   int

	SmallWindow  int // raw samples, ~1 s at 80 Hz
	LargeWindow  int // raw samples, ~15 min at 80 Hz
	LargeLogRows int // logs above this use LargeWindow
}

// Minimum strides per level.
const (
	minStrideLow    = 10
	minStrideMedium = 5
	minStrideHigh   = 1
)

func DefaultOptions() Options {
	return OptionsFromConfig(utils.DefaultConfig().Render)
}

func OptionsFromConfig(c utils.RenderConfig) Options {
	return Options{
		SampleRateHz:  c.SampleRateHz,
		LowDivisor:    c.LowDivisor,
		MediumDivisor: c.MediumDivisor,
		HighDivisor:   c.HighDivisor,
		SmallWindow:   c.SmallWindow,
		LargeWindow:   c.LargeWindow,
		LargeLogRows:  c.LargeLogRows,
	}
}

// Stride returns the row step for a log of rows rows:
// Low max(10, ⌈R/LowDivisor⌉), Medium max(5, ⌈R/MediumDivisor⌉),
// High max(1, ⌈R/HighDivisor⌉).
func (o Options) Stride(level DetailLevel, rows int) int {
	var lo, div int
	switch level {
	case Low:
		lo, div = minStrideLow, o.LowDivisor
	case Medium:
		lo, div = minStrideMedium, o.MediumDivisor
	default:
		lo, div = minStrideHigh, o.HighDivisor
	}
	n := lo
	if div > 0 && rows > 0 {
		if q := (rows + div - 1) / div; q > n {
			n = q
		}
	}
	return n
}

// Window returns the moving-average length in strided samples. The window is
// chosen in raw samples by log size and divided by the stride so it still
// spans the same stretch of time.
func (o Options) Window(rows, stride int) int {
	raw := o.SmallWindow
	if rows > o.LargeLogRows {
		raw = o.LargeWindow
	}
	if stride < 1 {
		stride = 1
	}
	if w := raw / stride; w > 1 {
		return w
	}
	return 1
}

// MovingAverage returns the centered rolling mean of values over window
// samples. Positions where the window does not fit inside values are NaN.
// For an even window the extra sample is taken from the trailing side.
func MovingAverage(values []float64, window int) []float64 {
	out := make([]float64, len(values))
	if window < 1 {
		window = 1
	}

	prefix := make([]float64, len(values)+1)
	for i, v := range values {
		prefix[i+1] = prefix[i] + v
	}

	half := window / 2
	for i := range values {
		// [start, end] inclusive
		end := i + half
		start := end - window + 1
		if start < 0 || end >= len(values) {
			out[i] = math.NaN()
			continue
		}
		out[i] = (prefix[end+1] - prefix[start]) / float64(window)
	}
	return out
}

// Downsample strides rows for level, smooths each axis and converts the row
// index to relative hours.
func (o Options) Downsample(rows []views.LogRow, level DetailLevel) *models.Series {
	stride := o.Stride(level, len(rows))
	window := o.Window(len(rows), stride)

	picked := make([]views.LogRow, 0, len(rows)/stride+1)
	for i := 0; i < len(rows); i += stride {
		picked = append(picked, rows[i])
	}
	// A window longer than the strided log would leave nothing to plot.
	if window > len(picked) {
		window = max(1, len(picked)/2)
	}

	cols := [3][]float64{}
	for a := range cols {
		cols[a] = make([]float64, len(picked))
	}
	for i, r := range picked {
		cols[0][i], cols[1][i], cols[2][i] = r.X, r.Y, r.Z
	}

	rate := o.SampleRateHz
	if rate <= 0 {
		rate = 80
	}

	s := &models.Series{
		Detail:     level.String(),
		RowsLoaded: len(rows),
		Stride:     stride,
		Window:     window,
	}
	for a, name := range []string{"X", "Y", "Z"} {
		smooth := MovingAverage(cols[a], window)
		pts := make([]models.Point, 0, len(smooth))
		for i, v := range smooth {
			if math.IsNaN(v) {
				continue
			}
			pts = append(pts, models.Point{
				Hours: utils.Hours(float64(picked[i].Index) / rate),
				Value: v,
			})
		}
		s.Axes = append(s.Axes, models.AxisSeries{Name: name, Points: pts})
	}
	return s
}

// Renderer renders stored logs on demand, independently of any live session.
type Renderer struct {
	opt Options
	log *logrus.Entry
}

func NewRenderer(opt Options) *Renderer {
	return &Renderer{opt: opt, log: utils.L().WithField("component", "render")}
}

// Render loads the log at path and downsamples it for level. Malformed rows
// are dropped and counted in the result.
func (r *Renderer) Render(path string, level DetailLevel) (*models.Series, error) {
	rows, dropped, err := views.ReadLog(path)
	if err != nil {
		return nil, err
	}

	s := r.opt.Downsample(rows, level)
	s.RowsDropped = dropped

	r.log.WithFields(logrus.Fields{
		"path":    path,
		"detail":  level,
		"rows":    len(rows),
		"dropped": dropped,
		"stride":  s.Stride,
		"window":  s.Window,
		"points":  s.Len(),
	}).Info("rendered log")
	return s, nil
}
