package l1samples

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/banshee-data/myo.mouse/internal/emg"
	"github.com/banshee-data/myo.mouse/internal/monitoring"
	"github.com/banshee-data/myo.mouse/internal/timeutil"
)

// Source produces samples into a Buffer until ctx is cancelled or the
// underlying stream ends. A source that reaches the end of its stream closes
// the buffer so the consumer can observe termination.
type Source interface {
	Run(ctx context.Context, buf *Buffer) error
}

// Subscriber is the subset of a serial multiplexer a LineSource needs.
type Subscriber interface {
	Subscribe() (string, chan string)
	Unsubscribe(string)
}

// SourceStats counts what a source saw.
type SourceStats struct {
	Lines    atomic.Int64
	Samples  atomic.Int64
	Rejected atomic.Int64
}

// LineSource parses text lines from a subscription (typically a serial port)
// into samples.
type LineSource struct {
	mux   Subscriber
	clock timeutil.Clock
	Stats SourceStats
}

// NewLineSource creates a LineSource reading from mux.
func NewLineSource(mux Subscriber, clock timeutil.Clock) *LineSource {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &LineSource{mux: mux, clock: clock}
}

// Run subscribes to the mux and appends every parseable line. Lines that are
// empty, comments (#) or device chatter that does not parse are counted and
// skipped. When the subscription channel closes the buffer is closed.
func (s *LineSource) Run(ctx context.Context, buf *Buffer) error {
	id, lines := s.mux.Subscribe()
	defer s.mux.Unsubscribe(id)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				buf.Close()
				return nil
			}
			s.Stats.Lines.Add(1)
			if err := AppendLine(buf, line, s.clock.Now()); err != nil {
				s.Stats.Rejected.Add(1)
				monitoring.Debugf("[acquisition] dropped line %q: %v", line, err)
				continue
			}
			s.Stats.Samples.Add(1)
		}
	}
}

// AppendLine parses line and appends it to buf. Blank lines and comments are
// reported as errors so callers can count them.
func AppendLine(buf *Buffer, line string, now time.Time) error {
	if line == "" || line[0] == '#' {
		return fmt.Errorf("not a sample row")
	}
	sample, err := ParseLine(line, buf.Channels(), now)
	if err != nil {
		return err
	}
	return buf.Append(sample)
}

// ReplaySource replays a recorded run of rows at a fixed sample rate. It is
// used in dev mode in place of the acquisition device.
type ReplaySource struct {
	rows   [][]float64
	period time.Duration
	clock  timeutil.Clock
	loop   bool
}

// NewReplaySource creates a source that emits one row per 1/rateHz. When
// loop is set the recording restarts at the end instead of closing the
// buffer.
func NewReplaySource(rows [][]float64, rateHz float64, clock timeutil.Clock, loop bool) (*ReplaySource, error) {
	if rateHz <= 0 {
		return nil, fmt.Errorf("replay rate must be positive, got %v: %w", rateHz, emg.ErrConfiguration)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("replay recording is empty: %w", emg.ErrConfiguration)
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &ReplaySource{
		rows:   rows,
		period: time.Duration(float64(time.Second) / rateHz),
		clock:  clock,
		loop:   loop,
	}, nil
}

// Run appends rows on every tick until the recording ends or ctx is done.
func (r *ReplaySource) Run(ctx context.Context, buf *Buffer) error {
	ticker := r.clock.NewTicker(r.period)
	defer ticker.Stop()

	i := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C():
			values := make([]float64, len(r.rows[i]))
			copy(values, r.rows[i])
			if err := buf.Append(emg.Sample{Timestamp: now, Values: values}); err != nil {
				return fmt.Errorf("replay row %d: %w", i, err)
			}
			i++
			if i == len(r.rows) {
				if !r.loop {
					monitoring.Logf("[acquisition] replay finished after %d samples", len(r.rows))
					buf.Close()
					return nil
				}
				i = 0
			}
		}
	}
}
