// Package l2windows slices the sample stream into fixed-length, overlapping
// windows, online (one sample at a time) and offline (a whole recording).
package l2windows

import (
	"fmt"
	"time"

	"github.com/banshee-data/myo.mouse/internal/emg"
)

// Segmenter is the online segmentation engine. It keeps the most recent
// size samples per channel and emits a Window each time increment new
// samples have arrived since the previous emission. It never pads: until
// size samples have been pushed nothing is emitted.
//
// A Segmenter is owned by a single goroutine.
type Segmenter struct {
	size      int
	increment int
	channels  int

	ring  [][]float64 // ring[c][i % size]
	times []time.Time
	n     int64 // samples pushed since Reset
	base  int64 // absolute stream index of the first pushed sample
}

// NewSegmenter validates the window geometry and returns a Segmenter.
func NewSegmenter(size, increment, channels int) (*Segmenter, error) {
	if err := Validate(size, increment); err != nil {
		return nil, err
	}
	if channels <= 0 {
		return nil, fmt.Errorf("channel count must be positive, got %d: %w", channels, emg.ErrConfiguration)
	}
	s := &Segmenter{
		size:      size,
		increment: increment,
		channels:  channels,
		ring:      make([][]float64, channels),
		times:     make([]time.Time, size),
	}
	for c := range s.ring {
		s.ring[c] = make([]float64, size)
	}
	return s, nil
}

// Validate checks 0 < increment <= size.
func Validate(size, increment int) error {
	if size <= 0 {
		return fmt.Errorf("window size must be positive, got %d: %w", size, emg.ErrConfiguration)
	}
	if increment <= 0 || increment > size {
		return fmt.Errorf("window increment %d must be in (0, %d]: %w", increment, size, emg.ErrConfiguration)
	}
	return nil
}

// Size returns the window length in samples.
func (s *Segmenter) Size() int { return s.size }

// Increment returns the distance between consecutive window starts.
func (s *Segmenter) Increment() int { return s.increment }

// Overlap returns size - increment.
func (s *Segmenter) Overlap() int { return s.size - s.increment }

// Pushed returns the number of samples pushed since the last Reset.
func (s *Segmenter) Pushed() int64 { return s.n }

// Reset discards buffered samples. The next window is emitted only after
// size fresh samples; startIndex is the absolute stream index of the next
// sample to be pushed.
func (s *Segmenter) Reset(startIndex int64) {
	s.n = 0
	s.base = startIndex
}

// Push adds one sample and returns a window when one is due.
func (s *Segmenter) Push(sample emg.Sample) (emg.Window, bool, error) {
	if len(sample.Values) != s.channels {
		return emg.Window{}, false, fmt.Errorf("sample has %d channels, segmenter expects %d", len(sample.Values), s.channels)
	}

	slot := int(s.n % int64(s.size))
	for c, v := range sample.Values {
		s.ring[c][slot] = v
	}
	s.times[slot] = sample.Timestamp
	s.n++

	if s.n < int64(s.size) || (s.n-int64(s.size))%int64(s.increment) != 0 {
		return emg.Window{}, false, nil
	}
	return s.window(), true, nil
}

// window copies the ring out in chronological order.
func (s *Segmenter) window() emg.Window {
	first := int(s.n % int64(s.size)) // oldest slot once the ring is full
	w := emg.Window{
		Start:      s.times[first],
		StartIndex: s.base + s.n - int64(s.size),
		Channels:   make([][]float64, s.channels),
	}
	for c := range s.ring {
		series := make([]float64, s.size)
		copy(series, s.ring[c][first:])
		copy(series[s.size-first:], s.ring[c][:first])
		w.Channels[c] = series
	}
	return w
}

// Count returns how many windows n samples produce: zero before the first
// full window, floor((n-size)/increment)+1 afterwards.
func Count(n, size, increment int) int {
	if n < size || size <= 0 || increment <= 0 {
		return 0
	}
	return (n-size)/increment + 1
}

// Segment cuts a fully buffered recording into every window it contains.
// rows[i][c] is sample i of channel c. Trailing samples that cannot fill a
// window are dropped. The result is deterministic.
func Segment(rows [][]float64, size, increment int, label string) ([]emg.Window, error) {
	if err := Validate(size, increment); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	channels := len(rows[0])
	for i, r := range rows {
		if len(r) != channels {
			return nil, fmt.Errorf("row %d has %d channels, want %d: %w", i, len(r), channels, emg.ErrTrainingData)
		}
	}

	count := Count(len(rows), size, increment)
	windows := make([]emg.Window, 0, count)
	for k := 0; k < count; k++ {
		start := k * increment
		w := emg.Window{
			StartIndex: int64(start),
			Channels:   make([][]float64, channels),
			Label:      label,
			HasLabel:   label != "",
		}
		for c := 0; c < channels; c++ {
			series := make([]float64, size)
			for i := 0; i < size; i++ {
				series[i] = rows[start+i][c]
			}
			w.Channels[c] = series
		}
		windows = append(windows, w)
	}
	return windows, nil
}
