package views

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
)

// LogRow is one numeric row of a magnetometer log. Index is the row's
// position among the data rows of the file, counting rows that were dropped.
type LogRow struct {
	Index   int
	X, Y, Z float64
}

// ReadLog loads every row of the log at path. Rows whose X, Y or Z do not
// parse, or that have the wrong number of fields, are skipped and counted.
func ReadLog(path string) (rows []LogRow, dropped int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("open log %s: %w", path, err)
	}
	defer f.Close()
	return DecodeLog(f)
}

// DecodeLog is ReadLog over an arbitrary reader.
func DecodeLog(r io.Reader) (rows []LogRow, dropped int, err error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true
	cr.LazyQuotes = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, 0, fmt.Errorf("log is empty")
		}
		return nil, 0, fmt.Errorf("read log header: %w", err)
	}
	if err := CheckHeader(header); err != nil {
		return nil, 0, err
	}

	for idx := 0; ; idx++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				dropped++
				continue
			}
			return nil, 0, fmt.Errorf("read log: %w", err)
		}
		row, ok := parseLogRow(idx, rec)
		if !ok {
			dropped++
			continue
		}
		rows = append(rows, row)
	}
	return rows, dropped, nil
}

func parseLogRow(idx int, rec []string) (LogRow, bool) {
	if len(rec) != len(LogColumns) {
		return LogRow{}, false
	}
	var v [3]float64
	for i, col := range []int{ColX, ColY, ColZ} {
		f, err := strconv.ParseFloat(strings.TrimSpace(rec[col]), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return LogRow{}, false
		}
		v[i] = f
	}
	return LogRow{Index: idx, X: v[0], Y: v[1], Z: v[2]}, true
}
