package models

// Point is one plotted sample: relative time in hours against field in mG.
type Point struct {
	Hours float64 `json:"h"`
	Value float64 `json:"v"`
}

// AxisSeries is the line of one magnetometer axis.
type AxisSeries struct {
	Name   string  `json:"name"`
	Points []Point `json:"points"`
}

// Series is a downsampled, smoothed rendering of a magnetometer log.
type Series struct {
	Axes []AxisSeries `json:"axes"`

	Detail      string `json:"detail"`
	RowsLoaded  int    `json:"rows_loaded"`
	RowsDropped int    `json:"rows_dropped"`
	Stride      int    `json:"stride"`
	Window      int    `json:"window"` // in strided samples
}

// Len returns the number of points per axis.
func (s *Series) Len() int {
	if s == nil || len(s.Axes) == 0 {
		return 0
	}
	return len(s.Axes[0].Points)
}
