package ingest

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/tarm/serial"

	"mag-logger/models"
)

const (
	// DefaultBaudRate is the rate the magnetometer sketch writes at.
	DefaultBaudRate = 115200
	// DefaultReadTimeout bounds one read so a silent device cannot hang the loop.
	DefaultReadTimeout = time.Second

	maxLineBytes = 4096

	// An EOF faster than timeout/fastEOFDivisor counts as immediate;
	// maxFastEOFs immediate EOFs in a row mean the device is gone.
	fastEOFDivisor = 4
	maxFastEOFs    = 5
)

// ErrPortHungUp is returned when the device behind an open port has gone
// away, e.g. a USB adapter was unplugged.
var ErrPortHungUp = errors.New("serial port hung up")

// Port is an open serial connection.
type Port interface {
	io.ReadCloser
}

// PortOpener opens a named port. The real implementation talks to a UART;
// the simulated one generates lines; tests supply fakes.
type PortOpener interface {
	Open(name string) (Port, error)
}

// SerialOpener opens real serial devices through tarm/serial.
type SerialOpener struct {
	Baud        int
	ReadTimeout time.Duration
}

// Open opens name at the configured baud with a bounded per-read timeout.
func (o SerialOpener) Open(name string) (Port, error) {
	baud := o.Baud
	if baud <= 0 {
		baud = DefaultBaudRate
	}
	timeout := o.ReadTimeout
	if timeout <= 0 {
		timeout = DefaultReadTimeout
	}

	p, err := serial.OpenPort(&serial.Config{
		Name:        name,
		Baud:        baud,
		ReadTimeout: timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", models.ErrConnectionFault, name, err)
	}
	return p, nil
}

// lineReader splits a timed-out byte stream into lines. Each call performs at
// most one Read, so a caller checking for cancellation between calls waits at
// most one read timeout.
type lineReader struct {
	r       io.Reader
	pending []byte
	chunk   [512]byte

	// timeout is the port's configured read timeout; zero disables hang-up
	// detection.
	timeout  time.Duration
	fastEOFs int
}

func newLineReader(r io.Reader, timeout time.Duration) *lineReader {
	return &lineReader{r: r, timeout: timeout}
}

// ReadLine returns the next complete line without its terminator. ok is false
// when the read timed out or only a partial line has arrived so far.
func (lr *lineReader) ReadLine() (line string, ok bool, err error) {
	if line, ok := lr.pop(); ok {
		return line, true, nil
	}

	start := time.Now()
	n, err := lr.r.Read(lr.chunk[:])
	lr.pending = append(lr.pending, lr.chunk[:n]...)

	if !isReadTimeout(err) {
		return "", false, err
	}
	if lr.hungUp(n, err, time.Since(start)) {
		return "", false, ErrPortHungUp
	}

	if line, ok := lr.pop(); ok {
		return line, true, nil
	}

	// A line this long is line noise; hand it to the parser to be rejected.
	if len(lr.pending) > maxLineBytes {
		junk := string(lr.pending)
		lr.pending = lr.pending[:0]
		return junk, true, nil
	}
	return "", false, nil
}

func (lr *lineReader) pop() (string, bool) {
	i := bytes.IndexByte(lr.pending, '\n')
	if i < 0 {
		return "", false
	}
	line := string(lr.pending[:i])
	lr.pending = append(lr.pending[:0], lr.pending[i+1:]...)
	return line, true
}

// hungUp tracks zero-byte EOF reads that return well before the read
// timeout. A tty whose device went away keeps answering every read that
// way, while a real timeout takes the full VTIME.
func (lr *lineReader) hungUp(n int, err error, took time.Duration) bool {
	if lr.timeout <= 0 {
		return false
	}
	if n == 0 && errors.Is(err, io.EOF) && took < lr.timeout/fastEOFDivisor {
		lr.fastEOFs++
		return lr.fastEOFs >= maxFastEOFs
	}
	lr.fastEOFs = 0
	return false
}

// isReadTimeout reports whether a read error is an expired timeout rather
// than a failure. tarm/serial surfaces a VTIME expiry as io.EOF on POSIX and
// as a nil error on Windows.
func isReadTimeout(err error) bool {
	return err == nil || errors.Is(err, io.EOF)
}
