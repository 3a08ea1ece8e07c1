package views

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"mag-logger/models"
)

// CSVWriter is a concurrency-safe, buffered, append-only CSV writer.
//
// The header is written only when the file is empty at open, so a log grows
// across sessions without repeating it.
type CSVWriter struct {
	mu   sync.Mutex
	file *os.File
	buf  *bufio.Writer
	csv  *csv.Writer
	rows uint64
}

// OpenOrAppend opens path for appending, creating it and its directory if
// needed, and writes header if the file is empty.
func OpenOrAppend(path string, bufSizeBytes int, header []string) (*CSVWriter, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("csv mkdir %s: %w", dir, err)
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("csv open %s: %w", path, err)
	}

	if bufSizeBytes <= 0 {
		bufSizeBytes = 64 * 1024
	}

	bw := bufio.NewWriterSize(f, bufSizeBytes)
	w := &CSVWriter{
		file: f,
		buf:  bw,
		csv:  csv.NewWriter(bw),
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("csv stat %s: %w", path, err)
	}
	if info.Size() == 0 && len(header) > 0 {
		if err := w.csv.Write(header); err != nil {
			f.Close()
			return nil, fmt.Errorf("csv write header: %w", err)
		}
		if err := w.Flush(); err != nil {
			f.Close()
			return nil, err
		}
	}

	return w, nil
}

// WriteRow appends a single CSV row to the buffer. Thread-safe.
func (w *CSVWriter) WriteRow(row []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.csv.Write(row); err != nil {
		return err
	}
	w.rows++
	return nil
}

// Flush pushes the buffered rows to the OS.
func (w *CSVWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.csv.Flush()
	if err := w.csv.Error(); err != nil {
		return fmt.Errorf("csv flush: %w", err)
	}
	if err := w.buf.Flush(); err != nil {
		return fmt.Errorf("csv flush: %w", err)
	}
	return nil
}

// Close flushes remaining data and closes the file.
func (w *CSVWriter) Close() error {
	ferr := w.Flush()
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.file.Close(); err != nil && ferr == nil {
		ferr = err
	}
	return ferr
}

// Rows returns the number of data rows written (excludes header).
func (w *CSVWriter) Rows() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rows
}

// LogSink is the persistence sink of an acquisition session: it appends
// readings to the magnetometer log and flushes them to the OS either on every
// write or once per flush interval.
type LogSink struct {
	w             *CSVWriter
	flushInterval time.Duration
	lastFlush     time.Time
}

// OpenLogSink opens (or continues) the log at path.
func OpenLogSink(path string, bufSizeBytes int, flushInterval time.Duration) (*LogSink, error) {
	w, err := OpenOrAppend(path, bufSizeBytes, LogColumns)
	if err != nil {
		return nil, err
	}
	return &LogSink{w: w, flushInterval: flushInterval, lastFlush: time.Now()}, nil
}

// Write appends one reading.
func (s *LogSink) Write(r models.Reading) error {
	if err := s.w.WriteRow(r.CSVRow()); err != nil {
		return err
	}
	if s.flushInterval <= 0 || time.Since(s.lastFlush) >= s.flushInterval {
		s.lastFlush = time.Now()
		return s.w.Flush()
	}
	return nil
}

// Flush pushes buffered rows to the OS. Safe to call from another goroutine.
func (s *LogSink) Flush() error {
	return s.w.Flush()
}

// Rows returns the number of readings written this session.
func (s *LogSink) Rows() uint64 {
	return s.w.Rows()
}

func (s *LogSink) Close() error {
	return s.w.Close()
}
