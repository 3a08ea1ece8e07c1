package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"mag-logger/models"
	"mag-logger/utils"
)

// Sink receives every valid reading when persistence is on.
type Sink interface {
	Write(models.Reading) error
}

// ReaderConfig holds the timing of one acquisition session.
type ReaderConfig struct {
	Port        string
	Settle      time.Duration // wait after open; boards reset on connect
	LoopSleep   time.Duration // pause between reads to bound CPU usage
	ReadTimeout time.Duration // the opener's per-read timeout; zero disables hang-up detection
}

// ReaderStats are the counters of one MagReader.
type ReaderStats struct {
	Lines     uint64
	Produced  uint64
	Malformed uint64
	Empty     uint64
	Persisted uint64
}

// MagReader owns the serial connection of one acquisition session. It reads
// lines, parses them, optionally persists each reading and hands it to the
// OnReading callback until its context is cancelled or the port fails.
type MagReader struct {
	cfg    ReaderConfig
	opener PortOpener
	parser *Parser
	sink   Sink

	// OnReading is called on the reader goroutine for every valid reading.
	OnReading func(models.Reading)
	// OnFault is called once per non-fatal fault (a failed log write).
	OnFault func(error)

	persist bool
	log     *logrus.Entry

	lines     uint64
	produced  uint64
	malformed uint64
	empty     uint64
	persisted uint64
}

// NewMagReader wires up an acquisition loop. A nil sink disables persistence.
func NewMagReader(cfg ReaderConfig, opener PortOpener, parser *Parser, sink Sink) *MagReader {
	if parser == nil {
		parser = NewParser(DefaultSensitivity)
	}
	return &MagReader{
		cfg:     cfg,
		opener:  opener,
		parser:  parser,
		sink:    sink,
		persist: sink != nil,
		log:     utils.L().WithField("port", cfg.Port),
	}
}

// Run blocks until ctx is cancelled (returning nil) or the connection fails
// (returning an error wrapping models.ErrConnectionFault). The port is closed
// on every return path.
func (r *MagReader) Run(ctx context.Context) error {
	port, err := r.opener.Open(r.cfg.Port)
	if err != nil {
		if !errors.Is(err, models.ErrConnectionFault) {
			err = fmt.Errorf("%w: open %s: %v", models.ErrConnectionFault, r.cfg.Port, err)
		}
		return err
	}
	defer func() {
		if cerr := port.Close(); cerr != nil {
			r.log.WithError(cerr).Warn("close serial port")
		}
		s := r.Stats()
		r.log.Infof("serial port closed (lines=%d, produced=%d, malformed=%d, persisted=%d)",
			s.Lines, s.Produced, s.Malformed, s.Persisted)
	}()

	r.log.WithField("persist", r.persist).Info("serial port open, waiting for device to settle")
	if !sleepCtx(ctx, r.cfg.Settle) {
		return nil
	}
	r.log.Info("start reading")

	lr := newLineReader(port, r.cfg.ReadTimeout)
	for {
		if ctx.Err() != nil {
			return nil
		}

		line, ok, err := lr.ReadLine()
		if err != nil {
			return fmt.Errorf("%w: read %s: %v", models.ErrConnectionFault, r.cfg.Port, err)
		}
		// Handle every complete line already buffered so a 10 ms pause per
		// iteration does not cap throughput below the sensor rate.
		for ok {
			r.handle(line)
			line, ok = lr.pop()
		}

		if !sleepCtx(ctx, r.cfg.LoopSleep) {
			return nil
		}
	}
}

func (r *MagReader) handle(line string) {
	atomic.AddUint64(&r.lines, 1)

	reading, err := r.parser.Parse(line)
	switch {
	case errors.Is(err, models.ErrNoData):
		atomic.AddUint64(&r.empty, 1)
		return
	case err != nil:
		atomic.AddUint64(&r.malformed, 1)
		r.log.WithError(err).Debug("dropped line")
		return
	}

	if r.persist {
		if err := r.sink.Write(reading); err != nil {
			// Keep streaming; stop trying to persist for this session.
			r.persist = false
			fault := fmt.Errorf("%w: %v", models.ErrPersistenceFault, err)
			r.log.WithError(err).Error("log write failed, persistence disabled for this session")
			if r.OnFault != nil {
				r.OnFault(fault)
			}
		} else {
			atomic.AddUint64(&r.persisted, 1)
		}
	}

	atomic.AddUint64(&r.produced, 1)
	if r.OnReading != nil {
		r.OnReading(reading)
	}
}

// Stats returns the reader's counters atomically.
func (r *MagReader) Stats() ReaderStats {
	return ReaderStats{
		Lines:     atomic.LoadUint64(&r.lines),
		Produced:  atomic.LoadUint64(&r.produced),
		Malformed: atomic.LoadUint64(&r.malformed),
		Empty:     atomic.LoadUint64(&r.empty),
		Persisted: atomic.LoadUint64(&r.persisted),
	}
}

// sleepCtx sleeps d and reports false if ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
