package controller

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"mag-logger/models"
	"mag-logger/services/buffer"
	"mag-logger/services/ingest"
	"mag-logger/services/render"
	"mag-logger/utils"
)

// linePort emits "x,y,z" lines and times out like a UART between them.
type linePort struct {
	o    *exclusiveOpener
	name string

	mu     sync.Mutex
	closed bool
	n      int
}

func (p *linePort) Read(b []byte) (int, error) {
	if err := p.o.readErr(); err != nil {
		return 0, err
	}
	if block := p.o.blockCh(); block != nil {
		<-block
		return 0, io.EOF
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, os.ErrClosed
	}
	p.n++
	return copy(b, fmt.Sprintf("%d,%d,%d\n", p.n, -p.n, 6842)), nil
}

func (p *linePort) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.o.release(p.name)
	return nil
}

// exclusiveOpener refuses to open a port that is still held, like an OS
// serial device.
type exclusiveOpener struct {
	mu    sync.Mutex
	held  map[string]bool
	opens int
	fail  error
	block chan struct{}
}

func newExclusiveOpener() *exclusiveOpener {
	return &exclusiveOpener{held: make(map[string]bool)}
}

func (o *exclusiveOpener) Open(name string) (ingest.Port, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.held[name] {
		return nil, fmt.Errorf("%s: device busy", name)
	}
	o.held[name] = true
	o.opens++
	return &linePort{o: o, name: name}, nil
}

func (o *exclusiveOpener) release(name string) {
	o.mu.Lock()
	delete(o.held, name)
	o.mu.Unlock()
}

func (o *exclusiveOpener) isHeld(name string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.held[name]
}

func (o *exclusiveOpener) setFail(err error) {
	o.mu.Lock()
	o.fail = err
	o.mu.Unlock()
}

func (o *exclusiveOpener) readErr() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.fail
}

func (o *exclusiveOpener) blockCh() chan struct{} {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.block
}

func testConfig(t *testing.T) *utils.Config {
	cfg := utils.DefaultConfig()
	cfg.Serial.SettleMs = 0
	cfg.Serial.LoopSleepMs = 1
	cfg.Serial.JoinTimeoutMs = 300
	cfg.Storage.LogPath = filepath.Join(t.TempDir(), "sensor_data.csv")
	return &cfg
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestSessionStreamAndStop(t *testing.T) {
	opener := newExclusiveOpener()
	buf := buffer.NewRingBuffer(100)
	sc := NewSessionController(testConfig(t), buf, opener, nil)

	s, err := sc.Start("/dev/ttyACM0", false)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if s.ID == "" || sc.Active() != s {
		t.Fatal("session not active")
	}
	waitUntil(t, "a reading", func() bool { return buf.Len() > 0 })

	r, ok := sc.Latest()
	if !ok || r.Z != 1000 {
		t.Errorf("Latest = %+v, %v", r, ok)
	}

	if err := sc.Stop(s); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if s.Err() != nil {
		t.Errorf("session error after stop: %v", s.Err())
	}
	if opener.isHeld("/dev/ttyACM0") {
		t.Error("port still held after Stop")
	}
	if sc.Active() != nil {
		t.Error("controller not idle after Stop")
	}
	if err := sc.Stop(s); err != nil {
		t.Errorf("second Stop: %v", err)
	}

	s2, err := sc.Start("/dev/ttyACM0", false)
	if err != nil {
		t.Fatalf("restart on same port: %v", err)
	}
	if s2.ID == s.ID {
		t.Error("session IDs must differ")
	}
	if err := sc.Stop(s2); err != nil {
		t.Fatal(err)
	}
}

func TestSessionSecondStartRejected(t *testing.T) {
	sc := NewSessionController(testConfig(t), buffer.NewRingBuffer(10), newExclusiveOpener(), nil)

	s, err := sc.Start("COM3", false)
	if err != nil {
		t.Fatal(err)
	}
	defer sc.Stop(s)

	if _, err := sc.Start("COM4", false); !errors.Is(err, models.ErrSessionActive) {
		t.Errorf("expected ErrSessionActive, got %v", err)
	}
}

func TestSessionFatalFaultReleasesPort(t *testing.T) {
	opener := newExclusiveOpener()
	buf := buffer.NewRingBuffer(10)
	sc := NewSessionController(testConfig(t), buf, opener, nil)

	s, err := sc.Start("COM3", false)
	if err != nil {
		t.Fatal(err)
	}
	waitUntil(t, "a reading", func() bool { return buf.Len() > 0 })

	opener.setFail(errors.New("device unplugged"))
	select {
	case <-s.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("session did not end after read failure")
	}
	if !errors.Is(s.Err(), models.ErrConnectionFault) {
		t.Errorf("expected ErrConnectionFault, got %v", s.Err())
	}
	waitUntil(t, "idle controller", func() bool { return sc.Active() == nil })
	if opener.isHeld("COM3") {
		t.Error("port still held after fault")
	}

	opener.setFail(nil)
	if err := sc.Stop(s); err != nil {
		t.Errorf("Stop after fault: %v", err)
	}
	s2, err := sc.Start("COM3", false)
	if err != nil {
		t.Fatalf("re-open after fault: %v", err)
	}
	sc.Stop(s2)
}

func TestSessionOpenFailure(t *testing.T) {
	opener := newExclusiveOpener()
	opener.held["COM9"] = true
	sc := NewSessionController(testConfig(t), buffer.NewRingBuffer(10), opener, nil)

	s, err := sc.Start("COM9", false)
	if err != nil {
		t.Fatal(err)
	}
	<-s.Done()
	if !errors.Is(s.Err(), models.ErrConnectionFault) {
		t.Errorf("expected ErrConnectionFault, got %v", s.Err())
	}
}

func TestSessionJoinTimeout(t *testing.T) {
	opener := newExclusiveOpener()
	opener.block = make(chan struct{})
	sc := NewSessionController(testConfig(t), buffer.NewRingBuffer(10), opener, nil)

	s, err := sc.Start("COM3", false)
	if err != nil {
		t.Fatal(err)
	}
	waitUntil(t, "port open", func() bool { return opener.isHeld("COM3") })

	start := time.Now()
	err = sc.Stop(s)
	if !errors.Is(err, models.ErrJoinTimeout) {
		t.Fatalf("expected ErrJoinTimeout, got %v", err)
	}
	if time.Since(start) < 250*time.Millisecond {
		t.Error("Stop returned before the join timeout")
	}
	if sc.Active() != nil {
		t.Error("controller not idle after join timeout")
	}

	close(opener.block)
	select {
	case <-s.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("worker did not exit once unblocked")
	}
}

func TestSessionStartRefusedWhileStalledWorkerRuns(t *testing.T) {
	opener := newExclusiveOpener()
	opener.block = make(chan struct{})
	buf := buffer.NewRingBuffer(10)
	sc := NewSessionController(testConfig(t), buf, opener, nil)

	s, err := sc.Start("COM3", true)
	if err != nil {
		t.Fatal(err)
	}
	waitUntil(t, "port open", func() bool { return opener.isHeld("COM3") })
	if err := sc.Stop(s); !errors.Is(err, models.ErrJoinTimeout) {
		t.Fatalf("expected ErrJoinTimeout, got %v", err)
	}

	// The first worker is still alive; a second one would share the buffer
	// and the log with it.
	for _, port := range []string{"COM3", "COM4"} {
		if s2, err := sc.Start(port, true); !errors.Is(err, models.ErrJoinTimeout) {
			t.Fatalf("Start(%s) while stalled: session=%v err=%v", port, s2, err)
		}
	}
	if opener.isHeld("COM4") {
		t.Error("second port opened while the stalled worker runs")
	}

	close(opener.block)
	select {
	case <-s.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("worker did not exit once unblocked")
	}

	opener.mu.Lock()
	opener.block = nil
	opener.mu.Unlock()

	var s2 *Session
	waitUntil(t, "controller accepts a new session", func() bool {
		s2, err = sc.Start("COM4", false)
		return err == nil
	})
	if sc.Active() != s2 {
		t.Error("new session not active")
	}
	if err := sc.Stop(s2); err != nil {
		t.Errorf("Stop: %v", err)
	}
}

type countingPublisher struct {
	mu       sync.Mutex
	sessions map[string]int
}

func (p *countingPublisher) Publish(session string, _ models.Reading) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sessions[session]++
	return true
}

func (p *countingPublisher) count(session string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sessions[session]
}

func TestSessionPersistsAndPublishes(t *testing.T) {
	cfg := testConfig(t)
	pub := &countingPublisher{sessions: make(map[string]int)}
	sc := NewSessionController(cfg, buffer.NewRingBuffer(1000), newExclusiveOpener(), pub)

	s, err := sc.Start("COM3", true)
	if err != nil {
		t.Fatal(err)
	}
	waitUntil(t, "persisted readings", func() bool { return s.Stats().Persisted >= 5 })
	if err := sc.Stop(s); err != nil {
		t.Fatal(err)
	}
	if s.PersistenceFault() != nil {
		t.Errorf("unexpected persistence fault: %v", s.PersistenceFault())
	}
	if pub.count(s.ID) < 5 {
		t.Errorf("published %d readings for session", pub.count(s.ID))
	}

	f, err := os.Open(cfg.Storage.LogPath)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if rows[0][0] != "Time" || len(rows)-1 != int(s.Stats().Persisted) {
		t.Errorf("log has %d data rows, persisted %d", len(rows)-1, s.Stats().Persisted)
	}
	if rows[1][3] != "1000" {
		t.Errorf("first row Z = %q, want 1000", rows[1][3])
	}

	series, err := sc.RenderBatch(cfg.Storage.LogPath, render.High)
	if err != nil {
		t.Fatalf("RenderBatch: %v", err)
	}
	if series.RowsLoaded != len(rows)-1 {
		t.Errorf("rendered %d rows, want %d", series.RowsLoaded, len(rows)-1)
	}
}

func TestSessionPersistOpenFailure(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.LogPath = t.TempDir() // a directory cannot be opened for append
	sc := NewSessionController(cfg, buffer.NewRingBuffer(10), newExclusiveOpener(), nil)

	if _, err := sc.Start("COM3", true); !errors.Is(err, models.ErrPersistenceFault) {
		t.Errorf("expected ErrPersistenceFault, got %v", err)
	}
	if sc.Active() != nil {
		t.Error("failed start left a session active")
	}
}
