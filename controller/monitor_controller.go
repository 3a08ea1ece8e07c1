package controller

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"mag-logger/models"
	"mag-logger/utils"
)

// LatestSource is anything holding a most recent reading; the ring buffer
// in production.
type LatestSource interface {
	Latest() (models.Reading, bool)
}

// View presents the live monitor. Both calls happen on the monitor goroutine.
type View interface {
	Update(models.Readout)
	Redraw(*models.LivePlot)
}

// MonitorController polls the newest reading at a fixed cadence, decoupled
// from the sensor rate, and pushes it to its views.
type MonitorController struct {
	src      LatestSource
	views    []View
	interval time.Duration
	plot     *models.LivePlot

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	ticks   uint64
	updates uint64
}

// NewMonitorController creates a monitor refreshing every interval. A
// non-positive interval falls back to 600 ms.
func NewMonitorController(src LatestSource, interval time.Duration, maxPoints int, views ...View) *MonitorController {
	if interval <= 0 {
		interval = 600 * time.Millisecond
	}
	return &MonitorController{
		src:      src,
		views:    views,
		interval: interval,
		plot:     models.NewLivePlot(maxPoints),
	}
}

// Start launches the refresh goroutine. Calling Start on a running monitor
// does nothing.
func (mc *MonitorController) Start(ctx context.Context) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	if mc.done != nil {
		return
	}

	ctx, mc.cancel = context.WithCancel(ctx)
	mc.done = make(chan struct{})
	go mc.run(ctx, mc.done)
	utils.L().Infof("monitor controller started (interval=%s)", mc.interval)
}

func (mc *MonitorController) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(mc.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			mc.Tick()
		}
	}
}

// Tick performs one refresh. It reports false when the buffer was empty.
func (mc *MonitorController) Tick() bool {
	atomic.AddUint64(&mc.ticks, 1)
	r, ok := mc.src.Latest()
	if !ok {
		return false
	}
	ro := mc.plot.Append(r)
	for _, v := range mc.views {
		v.Update(ro)
		v.Redraw(mc.plot)
	}
	atomic.AddUint64(&mc.updates, 1)
	return true
}

// Stop cancels the timer and waits for the refresh goroutine, so no tick
// reaches a view after Stop returns.
func (mc *MonitorController) Stop() {
	mc.mu.Lock()
	cancel, done := mc.cancel, mc.done
	mc.cancel, mc.done = nil, nil
	mc.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done

	utils.L().Infof("monitor controller stopped (ticks=%d, updates=%d)",
		atomic.LoadUint64(&mc.ticks), atomic.LoadUint64(&mc.updates))
}

// Stats returns the number of ticks and of ticks that updated the views.
func (mc *MonitorController) Stats() (ticks, updates uint64) {
	return atomic.LoadUint64(&mc.ticks), atomic.LoadUint64(&mc.updates)
}
