package models

import "time"

// LogTimeLayout is the timestamp format of the Time column in the magnetometer log.
const LogTimeLayout = "2006-01-02 15:04:05"

// Reading holds one 3-axis magnetometer sample in milligauss.
type Reading struct {
	Timestamp time.Time `json:"time"`
	X         float64   `json:"x"` // mG
	Y         float64   `json:"y"`
	Z         float64   `json:"z"`
}

// CSVHeader returns the ordered column names of the persisted log.
func (Reading) CSVHeader() []string {
	return []string{"Time", "X", "Y", "Z"}
}

// CSVRow serialises one reading using the local wall-clock time at second resolution.
func (r Reading) CSVRow() []string {
	return []string{
		r.Timestamp.Local().Format(LogTimeLayout),
		ftoa(r.X, -1),
		ftoa(r.Y, -1),
		ftoa(r.Z, -1),
	}
}

var _ CSVRowWriter = Reading{}
