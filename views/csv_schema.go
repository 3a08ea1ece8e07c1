package views

import (
	"fmt"
	"strings"

	"mag-logger/models"
)

// LogColumns is the column layout of the magnetometer log and the single
// source of truth for its header row.
var LogColumns = models.Reading{}.CSVHeader()

// Column positions within a log row.
const (
	ColTime = iota
	ColX
	ColY
	ColZ
)

// CheckHeader reports whether header names the log columns, ignoring case
// and surrounding whitespace.
func CheckHeader(header []string) error {
	if len(header) != len(LogColumns) {
		return fmt.Errorf("log header has %d columns, want %d (%s)",
			len(header), len(LogColumns), strings.Join(LogColumns, ","))
	}
	for i, col := range LogColumns {
		if !strings.EqualFold(strings.TrimSpace(header[i]), col) {
			return fmt.Errorf("log header column %d is %q, want %q", i, header[i], col)
		}
	}
	return nil
}
