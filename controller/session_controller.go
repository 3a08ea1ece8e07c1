package controller

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"mag-logger/models"
	"mag-logger/services/buffer"
	"mag-logger/services/ingest"
	"mag-logger/services/render"
	"mag-logger/utils"
)

const statsInterval = 30 * time.Second

// Publisher forwards live readings of a session, e.g. to MQTT.
type Publisher interface {
	Publish(session string, r models.Reading) bool
}

// Session is one acquisition run on one port.
type Session struct {
	ID      string
	Port    string
	Persist bool
	Started time.Time

	reader   *ingest.MagReader
	recorder *RecordingController
	cancel   context.CancelFunc
	done     chan struct{}

	mu    sync.Mutex
	err   error
	fault error
}

// Done is closed once the worker has exited and the port is released.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err returns the terminal error of the session: nil after a normal stop,
// an ErrConnectionFault after a fatal I/O failure.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// PersistenceFault returns the log write error that disabled persistence,
// if any.
func (s *Session) PersistenceFault() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fault
}

// Stats returns the reader counters.
func (s *Session) Stats() ingest.ReaderStats {
	return s.reader.Stats()
}

// SessionController is the command surface: it starts and stops acquisition
// sessions, exposes the latest reading and renders stored logs.
type SessionController struct {
	cfg      *utils.Config
	buf      *buffer.RingBuffer
	opener   ingest.PortOpener
	parser   *ingest.Parser
	renderer *render.Renderer
	pub      Publisher

	mu      sync.Mutex
	active  *Session
	// stalled is a session whose Stop hit the join timeout. Its worker may
	// still hold the port and the log, so no new session starts until it
	// exits.
	stalled *Session
	log     *logrus.Entry
}

// NewSessionController wires the controller. pub may be nil.
func NewSessionController(cfg *utils.Config, buf *buffer.RingBuffer, opener ingest.PortOpener, pub Publisher) *SessionController {
	return &SessionController{
		cfg:      cfg,
		buf:      buf,
		opener:   opener,
		parser:   ingest.NewParser(cfg.Sensor.Sensitivity),
		renderer: render.NewRenderer(render.OptionsFromConfig(cfg.Render)),
		pub:      pub,
		log:      utils.L().WithField("component", "session"),
	}
}

// Start opens a session on port. With persist set, readings are also
// appended to the configured log.
func (sc *SessionController) Start(port string, persist bool) (*Session, error) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.stalled != nil {
		return nil, fmt.Errorf("%w: session %s on %s has not exited", models.ErrJoinTimeout, sc.stalled.ID, sc.stalled.Port)
	}
	if sc.active != nil {
		return nil, fmt.Errorf("%w: %s on %s", models.ErrSessionActive, sc.active.ID, sc.active.Port)
	}

	s := &Session{
		ID:      uuid.NewString(),
		Port:    port,
		Persist: persist,
		Started: time.Now(),
		done:    make(chan struct{}),
	}

	var sink ingest.Sink
	if persist {
		rec, err := NewRecordingController(sc.cfg.Storage)
		if err != nil {
			return nil, err
		}
		s.recorder = rec
		sink = rec
	}

	s.reader = ingest.NewMagReader(ingest.ReaderConfig{
		Port:        port,
		Settle:      utils.Millis(sc.cfg.Serial.SettleMs),
		LoopSleep:   utils.Millis(sc.cfg.Serial.LoopSleepMs),
		ReadTimeout: utils.Millis(sc.cfg.Serial.ReadTimeoutMs),
	}, sc.opener, sc.parser, sink)
	s.reader.OnReading = func(r models.Reading) {
		sc.buf.Push(r)
		if sc.pub != nil {
			sc.pub.Publish(s.ID, r)
		}
	}
	s.reader.OnFault = func(err error) {
		s.mu.Lock()
		s.fault = err
		s.mu.Unlock()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	g, gctx := errgroup.WithContext(ctx)
	if s.recorder != nil {
		s.recorder.Start(gctx)
	}
	g.Go(func() error {
		return s.reader.Run(gctx)
	})
	g.Go(func() error {
		sc.reportStats(gctx, s)
		return nil
	})

	sc.active = s
	go sc.wait(s, g)

	sc.log.WithFields(logrus.Fields{
		"session": s.ID,
		"port":    port,
		"persist": persist,
	}).Info("session started")
	return s, nil
}

// wait collects the worker's terminal error and returns the controller to idle.
func (sc *SessionController) wait(s *Session, g *errgroup.Group) {
	err := g.Wait()
	s.cancel()
	if s.recorder != nil {
		if cerr := s.recorder.Stop(); cerr != nil {
			sc.log.WithError(cerr).Error("closing log failed")
		}
	}

	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	close(s.done)

	entry := sc.log.WithField("session", s.ID)
	if err != nil {
		entry.WithError(err).Error("session ended by fault")
	} else {
		entry.Info("session stopped")
	}
	sc.release(s)
}

func (sc *SessionController) release(s *Session) {
	sc.mu.Lock()
	if sc.active == s {
		sc.active = nil
	}
	if sc.stalled == s {
		sc.stalled = nil
	}
	sc.mu.Unlock()
}

// stall moves s from active to stalled unless its worker already exited.
func (sc *SessionController) stall(s *Session) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	select {
	case <-s.done:
		return
	default:
	}
	if sc.active == s {
		sc.active = nil
	}
	sc.stalled = s
}

func (sc *SessionController) reportStats(ctx context.Context, s *Session) {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st := s.reader.Stats()
			bs := sc.buf.Stats()
			sc.log.WithField("session", s.ID).Infof("lines=%d produced=%d malformed=%d persisted=%d buffer=%d/%d (%.1f%%)",
				st.Lines, st.Produced, st.Malformed, st.Persisted, bs.Size, bs.Capacity, bs.Utilization)
		}
	}
}

// Stop signals the session to end and waits for the worker, bounded by the
// configured join timeout. On expiry ErrJoinTimeout is returned and the
// session is parked as stalled: Start keeps refusing with ErrJoinTimeout
// until its worker exits. Stopping a session that already
// ended (by a fault or an earlier Stop) returns nil.
func (sc *SessionController) Stop(s *Session) error {
	if s == nil {
		return nil
	}
	s.cancel()

	timeout := utils.Millis(sc.cfg.Serial.JoinTimeoutMs)
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	t := time.NewTimer(timeout)
	defer t.Stop()

	select {
	case <-s.done:
		return nil
	case <-t.C:
		sc.log.WithFields(logrus.Fields{
			"session": s.ID,
			"port":    s.Port,
			"timeout": timeout,
		}).Error("acquisition worker did not stop in time")
		sc.stall(s)
		return fmt.Errorf("%w: session %s", models.ErrJoinTimeout, s.ID)
	}
}

// Active returns the running session, or nil when idle. A stalled session is
// not reported as active.
func (sc *SessionController) Active() *Session {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.active
}

// Latest returns the most recent reading in the buffer.
func (sc *SessionController) Latest() (models.Reading, bool) {
	return sc.buf.Latest()
}

// RenderBatch renders a stored log. It does not touch the live session.
func (sc *SessionController) RenderBatch(path string, level render.DetailLevel) (*models.Series, error) {
	return sc.renderer.Render(path, level)
}
