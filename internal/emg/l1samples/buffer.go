package l1samples

import (
	"errors"
	"fmt"
	"sync"

	"github.com/banshee-data/myo.mouse/internal/emg"
)

// ErrClosed is returned when appending to a closed buffer.
var ErrClosed = errors.New("sample buffer closed")

// Buffer is an append-only ring of samples addressed by absolute index.
//
// Exactly one goroutine appends and exactly one reads. Samples are never
// mutated once appended, so readers receive them by value without copying
// the underlying channel slices. When the reader falls more than capacity
// samples behind, the oldest samples are overwritten and counted as dropped.
type Buffer struct {
	mu       sync.Mutex
	ring     []emg.Sample
	channels int
	total    int64 // samples appended since creation
	closed   bool
	notify   chan struct{}
}

// NewBuffer creates a buffer holding up to capacity samples of the given
// channel count.
func NewBuffer(capacity, channels int) *Buffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &Buffer{
		ring:     make([]emg.Sample, capacity),
		channels: channels,
		notify:   make(chan struct{}, 1),
	}
}

// Channels returns the channel count every appended sample must have.
func (b *Buffer) Channels() int { return b.channels }

// Capacity returns the ring size.
func (b *Buffer) Capacity() int { return len(b.ring) }

// Append adds a sample. It rejects samples with the wrong channel count and
// appends after Close.
func (b *Buffer) Append(s emg.Sample) error {
	if len(s.Values) != b.channels {
		return fmt.Errorf("sample has %d channels, want %d", len(s.Values), b.channels)
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	b.ring[b.total%int64(len(b.ring))] = s
	b.total++
	b.mu.Unlock()

	b.wake()
	return nil
}

// ReadFrom returns the samples from absolute index cursor up to the newest
// sample, the cursor to use on the next call, and how many samples between
// cursor and the oldest retained sample were lost to overwrite.
func (b *Buffer) ReadFrom(cursor int64) (samples []emg.Sample, next int64, dropped int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	oldest := b.total - int64(len(b.ring))
	if oldest < 0 {
		oldest = 0
	}
	if cursor < oldest {
		dropped = oldest - cursor
		cursor = oldest
	}
	if cursor >= b.total {
		return nil, cursor, dropped
	}

	samples = make([]emg.Sample, 0, b.total-cursor)
	for i := cursor; i < b.total; i++ {
		samples = append(samples, b.ring[i%int64(len(b.ring))])
	}
	return samples, b.total, dropped
}

// Total returns the number of samples appended so far.
func (b *Buffer) Total() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.total
}

// Notify returns a channel that receives a value after appends and on Close.
// Several appends may coalesce into one notification.
func (b *Buffer) Notify() <-chan struct{} { return b.notify }

// Close marks the end of the stream. Further appends fail with ErrClosed;
// samples already appended stay readable.
func (b *Buffer) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.wake()
}

// Closed reports whether Close has been called.
func (b *Buffer) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

func (b *Buffer) wake() {
	select {
	case b.notify <- struct{}{}:
	default:
	}
}
