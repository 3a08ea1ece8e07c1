package views

import (
	"fmt"
	"math/rand"
	"time"

	"mag-logger/models"
	"mag-logger/utils"
)

// FakeLogOptions describe a synthetic magnetometer log.
type FakeLogOptions struct {
	Duration time.Duration
	RateHz   float64
	Start    time.Time
	Seed     int64
}

// WriteFakeLog appends Duration*RateHz rows of random integer readings in
// [-1000, 1000] mG, spaced one sample period apart, to the log at path. It
// returns the number of rows written.
func WriteFakeLog(path string, opt FakeLogOptions) (int, error) {
	if opt.RateHz <= 0 {
		opt.RateHz = 80
	}
	if opt.Start.IsZero() {
		opt.Start = time.Now()
	}
	rows := int(opt.Duration.Seconds() * opt.RateHz)
	period := utils.SamplePeriod(opt.RateHz)
	rng := rand.New(rand.NewSource(opt.Seed))

	w, err := OpenOrAppend(path, 0, LogColumns)
	if err != nil {
		return 0, err
	}

	axis := func() float64 { return float64(rng.Intn(2001) - 1000) }
	for i := 0; i < rows; i++ {
		r := models.Reading{
			Timestamp: opt.Start.Add(time.Duration(i) * period),
			X:         axis(),
			Y:         axis(),
			Z:         axis(),
		}
		if err := w.WriteRow(r.CSVRow()); err != nil {
			w.Close()
			return i, fmt.Errorf("write fake row %d: %w", i, err)
		}
	}
	if err := w.Close(); err != nil {
		return rows, err
	}
	utils.L().WithField("path", path).Infof("wrote %d fake rows (%s at %.0f Hz)", rows, opt.Duration, opt.RateHz)
	return rows, nil
}
