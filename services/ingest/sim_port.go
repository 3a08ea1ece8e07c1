package ingest

import (
	"fmt"
	"io"
	"math"
	"math/rand"
	"os"
	"sync"
	"time"

	"mag-logger/utils"
)

// SimOpener opens simulated magnetometers that emit raw "x,y,z" lines at a
// fixed rate, for running the pipeline without hardware.
type SimOpener struct {
	RateHz      float64
	CorruptRate float64 // fraction of lines emitted malformed
}

func (o SimOpener) Open(name string) (Port, error) {
	rate := o.RateHz
	if rate <= 0 {
		rate = 80
	}
	return &simPort{
		name:     name,
		interval: utils.SamplePeriod(rate),
		corrupt:  o.CorruptRate,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		closed:   make(chan struct{}),
	}, nil
}

type simPort struct {
	name     string
	interval time.Duration
	corrupt  float64
	rng      *rand.Rand
	step     float64
	pending  []byte

	closeOnce sync.Once
	closed    chan struct{}
}

func (p *simPort) Read(b []byte) (int, error) {
	if len(p.pending) == 0 {
		select {
		case <-p.closed:
			return 0, os.ErrClosed
		case <-time.After(p.interval):
		}
		p.pending = []byte(p.nextLine())
	}
	n := copy(b, p.pending)
	p.pending = p.pending[n:]
	return n, nil
}

// nextLine produces a slowly drifting field with noise in raw LSB counts.
func (p *simPort) nextLine() string {
	p.step += 0.01
	if p.rng.Float64() < p.corrupt {
		// UART overrun: a truncated line
		return fmt.Sprintf("%d,%d\n", p.rng.Intn(2001)-1000, p.rng.Intn(2001)-1000)
	}
	x := 1500*math.Sin(p.step) + float64(p.rng.Intn(201)-100)
	y := -800*math.Cos(p.step) + float64(p.rng.Intn(201)-100)
	z := 3000 + float64(p.rng.Intn(201)-100)
	return fmt.Sprintf("%.0f,%.0f,%.0f\r\n", x, y, z)
}

func (p *simPort) Close() error {
	p.closeOnce.Do(func() { close(p.closed) })
	return nil
}

var _ io.ReadCloser = (*simPort)(nil)
