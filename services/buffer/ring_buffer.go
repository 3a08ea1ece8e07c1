package buffer

import (
	"sync"
	"time"

	"mag-logger/models"
)

// DefaultCapacity holds one hour of readings at 80 Hz.
const DefaultCapacity = 288_000

// RingBuffer is a fixed-capacity, overwrite-oldest store of recent readings.
// One acquisition goroutine pushes; any number of readers take copies.
type RingBuffer struct {
	mu       sync.RWMutex
	data     []models.Reading
	head     int // next write position
	size     int
	capacity int
	pushed   uint64
}

// Stats is a point-in-time view of the buffer's fill state.
type Stats struct {
	Size        int
	Capacity    int
	Utilization float64 // percent
	Pushed      uint64
	Oldest      time.Time
	Newest      time.Time
}

// NewRingBuffer allocates a buffer holding at most capacity readings.
// A non-positive capacity falls back to DefaultCapacity.
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &RingBuffer{
		data:     make([]models.Reading, capacity),
		capacity: capacity,
	}
}

// Push appends r, evicting the oldest reading when full.
func (rb *RingBuffer) Push(r models.Reading) {
	rb.mu.Lock()
	rb.data[rb.head] = r
	rb.head = (rb.head + 1) % rb.capacity
	if rb.size < rb.capacity {
		rb.size++
	}
	rb.pushed++
	rb.mu.Unlock()
}

// Latest returns the most recently pushed reading.
func (rb *RingBuffer) Latest() (models.Reading, bool) {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if rb.size == 0 {
		return models.Reading{}, false
	}
	return rb.data[(rb.head-1+rb.capacity)%rb.capacity], true
}

// Snapshot copies up to n of the most recent readings, oldest first.
func (rb *RingBuffer) Snapshot(n int) []models.Reading {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if n > rb.size {
		n = rb.size
	}
	if n <= 0 {
		return nil
	}

	out := make([]models.Reading, n)
	start := (rb.head - n + rb.capacity) % rb.capacity
	for i := 0; i < n; i++ {
		out[i] = rb.data[(start+i)%rb.capacity]
	}
	return out
}

func (rb *RingBuffer) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.size
}

func (rb *RingBuffer) Capacity() int {
	return rb.capacity
}

func (rb *RingBuffer) Stats() Stats {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	s := Stats{
		Size:        rb.size,
		Capacity:    rb.capacity,
		Utilization: float64(rb.size) / float64(rb.capacity) * 100.0,
		Pushed:      rb.pushed,
	}
	if rb.size > 0 {
		s.Oldest = rb.data[(rb.head-rb.size+rb.capacity)%rb.capacity].Timestamp
		s.Newest = rb.data[(rb.head-1+rb.capacity)%rb.capacity].Timestamp
	}
	return s
}
