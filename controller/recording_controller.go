package controller

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"mag-logger/models"
	"mag-logger/utils"
	"mag-logger/views"
)

// RecordingController is the persistence stage of a logging session. It
// appends every reading to the magnetometer log and, when a flush interval
// is configured, flushes the tail periodically so a quiet sensor does not
// leave rows sitting in the buffer.
type RecordingController struct {
	path    string
	sink    *views.LogSink
	flushMs int

	rowsWritten uint64
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	stopOnce    sync.Once
	stopErr     error
}

// NewRecordingController opens (or continues) the log named by cfg.
func NewRecordingController(cfg utils.StorageConfig) (*RecordingController, error) {
	flush := time.Duration(cfg.FlushIntervalMs) * time.Millisecond
	sink, err := views.OpenLogSink(cfg.LogPath, cfg.BufferSizeKB*1024, flush)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrPersistenceFault, err)
	}
	utils.L().WithField("path", cfg.LogPath).Info("recording controller ready")
	return &RecordingController{path: cfg.LogPath, sink: sink, flushMs: cfg.FlushIntervalMs}, nil
}

// Start launches the periodic flusher. Without a flush interval every write
// is flushed by the sink itself and no goroutine is started.
func (rc *RecordingController) Start(ctx context.Context) {
	if rc.flushMs <= 0 {
		return
	}
	ctx, rc.cancel = context.WithCancel(ctx)

	rc.wg.Add(1)
	go func() {
		defer rc.wg.Done()
		ticker := time.NewTicker(time.Duration(rc.flushMs) * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := rc.sink.Flush(); err != nil {
					utils.L().WithError(err).Warn("periodic log flush failed")
				}
			}
		}
	}()
}

// Write appends one reading. It is called from the acquisition goroutine.
func (rc *RecordingController) Write(r models.Reading) error {
	if err := rc.sink.Write(r); err != nil {
		return err
	}
	atomic.AddUint64(&rc.rowsWritten, 1)
	return nil
}

// Stop waits for the flusher, then flushes and closes the log.
func (rc *RecordingController) Stop() error {
	rc.stopOnce.Do(func() {
		if rc.cancel != nil {
			rc.cancel()
		}
		rc.wg.Wait()
		rc.stopErr = rc.sink.Close()

		rows := atomic.LoadUint64(&rc.rowsWritten)
		utils.L().Infof("recording controller stopped  (rows_written=%d, log=%s)", rows, rc.path)
	})
	return rc.stopErr
}

// Rows returns the number of readings written.
func (rc *RecordingController) Rows() uint64 {
	return atomic.LoadUint64(&rc.rowsWritten)
}

// Path returns the log file path.
func (rc *RecordingController) Path() string {
	return rc.path
}
