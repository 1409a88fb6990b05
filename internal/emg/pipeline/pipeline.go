// Package pipeline runs the online control loop: it consumes samples from
// an acquisition buffer, classifies each window and drives an actuator at a
// fixed tick, independent of window arrival jitter.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/myo.mouse/internal/emg"
	"github.com/banshee-data/myo.mouse/internal/emg/l1samples"
	"github.com/banshee-data/myo.mouse/internal/emg/l2windows"
	"github.com/banshee-data/myo.mouse/internal/emg/l3features"
	"github.com/banshee-data/myo.mouse/internal/emg/l4classify"
	"github.com/banshee-data/myo.mouse/internal/emg/l5motion"
	"github.com/banshee-data/myo.mouse/internal/monitoring"
	"github.com/banshee-data/myo.mouse/internal/timeutil"
)

// Deps are the collaborators of a pipeline.
type Deps struct {
	Buffer   *l1samples.Buffer
	Actuator l5motion.Actuator
	// Clock defaults to timeutil.RealClock.
	Clock timeutil.Clock
	// Sinks are called inline for every decision.
	Sinks []emg.DecisionSink
	// Session is generated when empty.
	Session string
	// Cursor is the absolute buffer index of the first sample to consume.
	// Zero starts at the oldest retained sample.
	Cursor int64
}

// Status is a point-in-time snapshot of a pipeline.
type Status struct {
	SessionID         string             `json:"session_id"`
	State             emg.PipelineState  `json:"state"`
	StartedAt         time.Time          `json:"started_at,omitzero"`
	Samples           int64              `json:"samples"`
	Dropped           int64              `json:"dropped"`
	Windows           int64              `json:"windows"`
	Accepted          int64              `json:"accepted"`
	Rejected          int64              `json:"rejected"`
	InferenceFailures int64              `json:"inference_failures"`
	SinkErrors        int64              `json:"sink_errors"`
	ActuationErrors   int64              `json:"actuation_errors"`
	Ticks             int64              `json:"ticks"`
	Degraded          bool               `json:"degraded"`
	LastSampleAt      time.Time          `json:"last_sample_at,omitzero"`
	LastClass         string             `json:"last_class,omitempty"`
	Command           emg.ControlCommand `json:"command"`
}

// Pipeline is one online session. It is created IDLE holding its model,
// moves to RUNNING on Start and to TERMINATED on Stop. A pipeline cannot be
// restarted; create a new one per session.
type Pipeline struct {
	cfg       Config
	model     *l4classify.Model
	release   func()
	extractor *l3features.Extractor
	segmenter *l2windows.Segmenter
	gate      *l5motion.Gate
	mapper    *l5motion.Mapper
	vote      *l5motion.MajorityVote
	buf       *l1samples.Buffer
	actuator  l5motion.Actuator
	clock     timeutil.Clock
	sinks     []emg.DecisionSink
	cursor    int64

	state atomic.Int32

	mu     sync.Mutex // guards status and command
	status Status

	lifecycle  sync.Mutex // serialises Start and Stop
	cancel     context.CancelFunc
	ticker     timeutil.Ticker
	stopAct    chan struct{}
	procDone   chan struct{}
	actDone    chan struct{}
	terminated chan struct{}
}

// New validates cfg against the model held by slot and returns an IDLE
// pipeline. The model is pinned in the slot until the pipeline terminates.
func New(slot *l4classify.Slot, cfg Config, deps Deps) (*Pipeline, error) {
	if deps.Buffer == nil {
		return nil, fmt.Errorf("pipeline needs a sample buffer: %w", emg.ErrConfiguration)
	}
	if deps.Actuator == nil {
		return nil, fmt.Errorf("pipeline needs an actuator: %w", emg.ErrConfiguration)
	}
	if cfg.ActuationPeriod <= 0 {
		return nil, fmt.Errorf("actuation period %v must be positive: %w", cfg.ActuationPeriod, emg.ErrConfiguration)
	}
	if cfg.StallGrace <= 0 {
		return nil, fmt.Errorf("stall grace %v must be positive: %w", cfg.StallGrace, emg.ErrConfiguration)
	}

	seg, err := l2windows.NewSegmenter(cfg.WindowSize, cfg.WindowIncrement, deps.Buffer.Channels())
	if err != nil {
		return nil, err
	}
	ext, err := l3features.NewExtractor(cfg.FeatureSet, cfg.FeatureParams)
	if err != nil {
		return nil, err
	}
	gate, err := l5motion.NewGate(cfg.RejectionThreshold, cfg.NeutralClass)
	if err != nil {
		return nil, err
	}
	mapper, err := l5motion.NewMapper(cfg.Directions, cfg.BaseSpeed, cfg.MaxSpeed, cfg.Proportional)
	if err != nil {
		return nil, err
	}

	if slot == nil {
		return nil, fmt.Errorf("pipeline needs a model slot: %w", emg.ErrConfiguration)
	}
	model, release, err := slot.Acquire()
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, emg.ErrConfiguration)
	}
	if want := ext.Dim(deps.Buffer.Channels()); want != model.Dim() {
		release()
		return nil, fmt.Errorf("feature set %s on %d channels gives %d features, model expects %d: %w",
			ext.Group(), deps.Buffer.Channels(), want, model.Dim(), emg.ErrConfiguration)
	}

	clock := deps.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	session := deps.Session
	if session == "" {
		session = uuid.NewString()
	}

	p := &Pipeline{
		cfg:        cfg,
		model:      model,
		release:    release,
		extractor:  ext,
		segmenter:  seg,
		gate:       gate,
		mapper:     mapper,
		buf:        deps.Buffer,
		actuator:   deps.Actuator,
		clock:      clock,
		sinks:      deps.Sinks,
		cursor:     deps.Cursor,
		terminated: make(chan struct{}),
	}
	if cfg.MajorityVote > 1 {
		p.vote = l5motion.NewMajorityVote(cfg.MajorityVote)
	}
	p.status.SessionID = session
	p.state.Store(int32(emg.StateIdle))
	return p, nil
}

// State returns the lifecycle state without blocking.
func (p *Pipeline) State() emg.PipelineState {
	return emg.PipelineState(p.state.Load())
}

// SessionID returns the session identifier carried by every decision.
func (p *Pipeline) SessionID() string { return p.status.SessionID }

// Model returns the model the pipeline classifies with.
func (p *Pipeline) Model() *l4classify.Model { return p.model }

// Done is closed once the pipeline reaches TERMINATED.
func (p *Pipeline) Done() <-chan struct{} { return p.terminated }

// Status returns a snapshot of the counters.
func (p *Pipeline) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.status
	s.State = p.State()
	return s
}

// Start moves IDLE to RUNNING. The window loop and the actuation tick run on
// their own goroutines. Cancelling ctx has the same effect as Stop.
func (p *Pipeline) Start(ctx context.Context) error {
	p.lifecycle.Lock()
	defer p.lifecycle.Unlock()

	if !p.state.CompareAndSwap(int32(emg.StateIdle), int32(emg.StateRunning)) {
		return fmt.Errorf("start from %s: %w", p.State(), emg.ErrInvalidTransition)
	}

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.ticker = p.clock.NewTicker(p.cfg.ActuationPeriod)
	p.stopAct = make(chan struct{})
	p.procDone = make(chan struct{})
	p.actDone = make(chan struct{})

	now := p.clock.Now()
	p.mu.Lock()
	p.status.StartedAt = now
	p.status.LastSampleAt = now
	p.mu.Unlock()

	go p.process(runCtx)
	go p.actuate()
	go func() {
		select {
		case <-ctx.Done():
			if err := p.Stop(); err != nil && !errors.Is(err, emg.ErrInvalidTransition) {
				monitoring.Logf("pipeline %s: stop on context cancel: %v", p.SessionID(), err)
			}
		case <-p.terminated:
		}
	}()

	monitoring.Logf("pipeline %s: running (%s, window %d/%d, threshold %.2f)",
		p.SessionID(), p.extractor.Group(), p.cfg.WindowSize, p.cfg.WindowIncrement, p.cfg.RejectionThreshold)
	return nil
}

// Stop moves RUNNING through STOPPING to TERMINATED. The window being
// processed is allowed to finish, no further windows are taken, and every
// actuation tick from STOPPING on applies the zero command. The actuator
// also receives a zero command before Stop returns. Stopping an IDLE
// pipeline terminates it directly.
func (p *Pipeline) Stop() error {
	p.lifecycle.Lock()
	defer p.lifecycle.Unlock()

	if p.state.CompareAndSwap(int32(emg.StateIdle), int32(emg.StateTerminated)) {
		p.release()
		close(p.terminated)
		return nil
	}

	// The command is zeroed under the same lock the tick reads it with, so
	// no tick after STOPPING sees the last motion command.
	p.mu.Lock()
	stopping := p.state.CompareAndSwap(int32(emg.StateRunning), int32(emg.StateStopping))
	if stopping {
		p.status.Command = emg.ZeroCommand
	}
	p.mu.Unlock()
	if !stopping {
		return fmt.Errorf("stop from %s: %w", p.State(), emg.ErrInvalidTransition)
	}

	p.cancel()
	<-p.procDone
	close(p.stopAct)
	<-p.actDone
	p.ticker.Stop()

	err := p.actuator.Apply(emg.ZeroCommand)
	if err != nil {
		monitoring.Logf("pipeline %s: final zero command: %v", p.SessionID(), err)
	}
	p.mu.Lock()
	p.status.Command = emg.ZeroCommand
	windows := p.status.Windows
	p.mu.Unlock()
	p.publish(emg.Decision{
		SessionID:   p.SessionID(),
		WindowIndex: windows,
		WindowStart: p.clock.Now(),
		Prediction:  emg.Prediction{Class: p.cfg.NeutralClass},
		Reason:      emg.ReasonTerminated,
	})

	p.state.Store(int32(emg.StateTerminated))
	p.release()
	close(p.terminated)
	monitoring.Logf("pipeline %s: terminated after %d windows", p.SessionID(), windows)
	return err
}

// process consumes samples until ctx is cancelled.
func (p *Pipeline) process(ctx context.Context) {
	defer close(p.procDone)

	cursor := p.cursor
	stall := p.clock.After(p.cfg.StallGrace)
	p.segmenter.Reset(cursor)

	for {
		samples, next, dropped := p.buf.ReadFrom(cursor)
		if dropped > 0 {
			// Never stitch a window across lost samples.
			p.segmenter.Reset(next - int64(len(samples)))
			monitoring.Logf("pipeline %s: %d samples dropped, segmenter reset", p.SessionID(), dropped)
		}
		cursor = next

		if len(samples) > 0 {
			p.sampled(int64(len(samples)), dropped)
			stall = p.clock.After(p.cfg.StallGrace)
		}
		for _, s := range samples {
			if ctx.Err() != nil {
				return
			}
			w, ok, err := p.segmenter.Push(s)
			if err != nil {
				monitoring.Logf("pipeline %s: segment: %v", p.SessionID(), err)
				continue
			}
			if ok {
				p.handleWindow(w)
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-p.buf.Notify():
		case <-stall:
			stall = nil
			p.stalled()
		}
	}
}

func (p *Pipeline) sampled(n, dropped int64) {
	now := p.clock.Now()
	p.mu.Lock()
	resumed := p.status.Degraded
	p.status.Samples += n
	p.status.Dropped += dropped
	p.status.LastSampleAt = now
	p.status.Degraded = false
	p.mu.Unlock()
	if resumed {
		monitoring.Logf("pipeline %s: acquisition resumed", p.SessionID())
	}
}

// stalled puts the loop into the degraded state: the command is forced to
// neutral until samples arrive again.
func (p *Pipeline) stalled() {
	p.mu.Lock()
	p.status.Degraded = true
	p.status.Command = emg.ZeroCommand
	windows := p.status.Windows
	last := p.status.LastSampleAt
	p.mu.Unlock()

	if p.vote != nil {
		p.vote.Reset()
	}
	monitoring.Logf("pipeline %s: %v: no samples since %s", p.SessionID(), emg.ErrAcquisitionStall, last.Format(time.RFC3339Nano))
	p.publish(emg.Decision{
		SessionID:   p.SessionID(),
		WindowIndex: windows,
		WindowStart: p.clock.Now(),
		Prediction:  emg.Prediction{Class: p.cfg.NeutralClass},
		Reason:      emg.ReasonStalled,
	})
}

// handleWindow runs features, classification, gating and mapping for one
// window and publishes the decision.
func (p *Pipeline) handleWindow(w emg.Window) {
	began := p.clock.Now()

	p.mu.Lock()
	index := p.status.Windows
	p.status.Windows++
	p.mu.Unlock()

	d := emg.Decision{
		SessionID:   p.SessionID(),
		WindowIndex: index,
		WindowStart: w.Start,
	}

	pred, err := p.model.Predict(p.extractor.Extract(w))
	if err != nil {
		monitoring.Debugf("pipeline %s: window %d: %v", p.SessionID(), index, err)
		d.Prediction = emg.Prediction{Class: p.cfg.NeutralClass}
		d.Reason = emg.ReasonInference
		d.Command = emg.ZeroCommand
	} else {
		gated, accepted := p.gate.Apply(pred)
		d.Accepted = accepted
		switch {
		case !accepted:
			// A rejected window rests: it enters the vote history as the
			// neutral class but the vote never turns it into motion.
			if p.vote != nil {
				p.vote.Add(gated.Class)
			}
			d.Reason = emg.ReasonRejected
			d.Command = emg.ZeroCommand
		default:
			d.Reason = emg.ReasonAccepted
			if p.vote != nil {
				if voted := p.vote.Add(gated.Class); voted != gated.Class {
					gated.Class = voted
					d.Reason = emg.ReasonSmoothed
				}
			}
			if d.Reason == emg.ReasonAccepted && gated.Class == p.cfg.NeutralClass {
				d.Reason = emg.ReasonNeutral
			}
			d.Command = p.mapper.Map(gated.Class, gated.Intensity)
		}
		d.Prediction = gated
	}
	d.Latency = p.clock.Since(began)

	p.mu.Lock()
	switch {
	case d.Reason == emg.ReasonInference:
		p.status.InferenceFailures++
	case d.Accepted:
		p.status.Accepted++
	default:
		p.status.Rejected++
	}
	// A window finishing after Stop must not reinstate motion.
	if p.State() == emg.StateRunning {
		p.status.Command = d.Command
	}
	p.status.LastClass = d.Prediction.Class
	p.mu.Unlock()

	p.publish(d)
}

func (p *Pipeline) publish(d emg.Decision) {
	for _, sink := range p.sinks {
		if err := sink.RecordDecision(d); err != nil {
			p.mu.Lock()
			p.status.SinkErrors++
			p.mu.Unlock()
			monitoring.Debugf("pipeline %s: decision sink: %v", p.SessionID(), err)
		}
	}
}

// actuate applies the current command on every tick.
func (p *Pipeline) actuate() {
	defer close(p.actDone)
	for {
		select {
		case <-p.stopAct:
			return
		case <-p.ticker.C():
			p.mu.Lock()
			cmd := p.status.Command
			p.status.Ticks++
			p.mu.Unlock()

			if err := p.actuator.Apply(cmd); err != nil {
				p.mu.Lock()
				p.status.ActuationErrors++
				p.mu.Unlock()
				monitoring.Debugf("pipeline %s: actuate: %v", p.SessionID(), err)
			}
		}
	}
}
