package ingest

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"mag-logger/models"
)

// DefaultSensitivity is the LIS3MDL conversion constant in LSB/gauss (±4 gauss range).
const DefaultSensitivity = 6842.0

// Parser turns "x,y,z" lines of raw sensor counts into readings in milligauss.
type Parser struct {
	Sensitivity float64
	Now         func() time.Time
}

// NewParser returns a parser stamping readings with the wall clock.
func NewParser(sensitivity float64) *Parser {
	if sensitivity <= 0 {
		sensitivity = DefaultSensitivity
	}
	return &Parser{Sensitivity: sensitivity, Now: time.Now}
}

// Parse converts one line. Empty lines yield models.ErrNoData; anything that is
// not exactly three numbers yields models.ErrMalformedSample.
func (p *Parser) Parse(line string) (models.Reading, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return models.Reading{}, models.ErrNoData
	}

	fields := strings.Split(line, ",")
	if len(fields) != 3 {
		return models.Reading{}, fmt.Errorf("%w: %q has %d fields", models.ErrMalformedSample, line, len(fields))
	}

	var mg [3]float64
	for i, f := range fields {
		raw, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return models.Reading{}, fmt.Errorf("%w: %q: %v", models.ErrMalformedSample, line, err)
		}
		mg[i] = models.Round3(raw / p.Sensitivity * 1000)
	}

	return models.Reading{
		Timestamp: p.Now(),
		X:         mg[0],
		Y:         mg[1],
		Z:         mg[2],
	}, nil
}
