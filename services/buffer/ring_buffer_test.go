package buffer

import (
	"sync"
	"testing"
	"time"

	"mag-logger/models"
)

func reading(i int) models.Reading {
	return models.Reading{
		Timestamp: time.Unix(int64(i), 0),
		X:         float64(i),
		Y:         float64(-i),
		Z:         float64(i) / 2,
	}
}

func TestRingBufferLatest(t *testing.T) {
	rb := NewRingBuffer(4)

	if _, ok := rb.Latest(); ok {
		t.Fatal("Latest on empty buffer should report no reading")
	}

	for i := 0; i < 10; i++ {
		rb.Push(reading(i))
		got, ok := rb.Latest()
		if !ok {
			t.Fatalf("push %d: Latest reported empty", i)
		}
		if got.X != float64(i) {
			t.Errorf("push %d: Latest returned X=%v", i, got.X)
		}
	}
}

func TestRingBufferEvictsOldest(t *testing.T) {
	const capacity = 5

	for _, k := range []int{0, 1, 3, 5, 12} {
		rb := NewRingBuffer(capacity)
		total := capacity + k
		for i := 0; i < total; i++ {
			rb.Push(reading(i))
			if rb.Len() > capacity {
				t.Fatalf("k=%d: length %d exceeds capacity", k, rb.Len())
			}
		}

		snap := rb.Snapshot(capacity)
		if len(snap) != capacity {
			t.Fatalf("k=%d: expected %d readings, got %d", k, capacity, len(snap))
		}
		for i, r := range snap {
			want := float64(total - capacity + i)
			if r.X != want {
				t.Errorf("k=%d: snapshot[%d].X = %v, want %v", k, i, r.X, want)
			}
		}
	}
}

func TestRingBufferSnapshot(t *testing.T) {
	rb := NewRingBuffer(8)
	if snap := rb.Snapshot(3); len(snap) != 0 {
		t.Errorf("expected empty snapshot, got %d", len(snap))
	}

	for i := 0; i < 3; i++ {
		rb.Push(reading(i))
	}

	tests := []struct {
		n    int
		want []float64
	}{
		{0, nil},
		{-1, nil},
		{2, []float64{1, 2}},
		{3, []float64{0, 1, 2}},
		{10, []float64{0, 1, 2}},
	}
	for _, tt := range tests {
		snap := rb.Snapshot(tt.n)
		if len(snap) != len(tt.want) {
			t.Errorf("Snapshot(%d): got %d readings, want %d", tt.n, len(snap), len(tt.want))
			continue
		}
		for i := range snap {
			if snap[i].X != tt.want[i] {
				t.Errorf("Snapshot(%d)[%d].X = %v, want %v", tt.n, i, snap[i].X, tt.want[i])
			}
		}
	}
}

func TestRingBufferDefaultCapacity(t *testing.T) {
	if c := NewRingBuffer(0).Capacity(); c != DefaultCapacity {
		t.Errorf("expected default capacity %d, got %d", DefaultCapacity, c)
	}
}

func TestRingBufferStats(t *testing.T) {
	rb := NewRingBuffer(4)
	for i := 0; i < 6; i++ {
		rb.Push(reading(i))
	}
	s := rb.Stats()
	if s.Size != 4 || s.Pushed != 6 {
		t.Errorf("unexpected stats size=%d pushed=%d", s.Size, s.Pushed)
	}
	if s.Utilization != 100 {
		t.Errorf("expected 100%% utilization, got %v", s.Utilization)
	}
	if !s.Oldest.Equal(time.Unix(2, 0)) || !s.Newest.Equal(time.Unix(5, 0)) {
		t.Errorf("unexpected span %v .. %v", s.Oldest, s.Newest)
	}
}

func TestRingBufferConcurrentReaders(t *testing.T) {
	const capacity = 64
	rb := NewRingBuffer(capacity)

	done := make(chan struct{})
	var wg sync.WaitGroup
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				snap := rb.Snapshot(capacity)
				for i := 1; i < len(snap); i++ {
					if snap[i].X != snap[i-1].X+1 {
						t.Errorf("snapshot out of order: %v then %v", snap[i-1].X, snap[i].X)
						return
					}
				}
				rb.Latest()
			}
		}()
	}

	for i := 0; i < 10_000; i++ {
		rb.Push(reading(i))
	}
	close(done)
	wg.Wait()

	if rb.Len() != capacity {
		t.Errorf("expected full buffer, got %d", rb.Len())
	}
}
