package emg

import (
	"math"
	"time"
)

// Sample is one synchronised reading across all channels.
// A Sample is never mutated after it has been produced.
type Sample struct {
	Timestamp time.Time
	Values    []float64
}

// Channels returns the number of channels in the sample.
func (s Sample) Channels() int { return len(s.Values) }

// Window is a contiguous run of samples, stored per channel.
type Window struct {
	Start      time.Time
	StartIndex int64       // absolute index of the first sample in the stream
	Channels   [][]float64 // Channels[c][i] is sample i of channel c
	Label      string      // only set for offline (training) windows
	HasLabel   bool
}

// Size returns the number of samples per channel.
func (w Window) Size() int {
	if len(w.Channels) == 0 {
		return 0
	}
	return len(w.Channels[0])
}

// FeatureVector is the descriptor computed from one Window.
//
// Values is laid out channel-then-feature. Activation is the summed
// per-channel mean absolute value of the source window; the classifier
// uses it for proportional-control intensity.
type FeatureVector struct {
	Values     []float64
	Activation float64
}

// Dim returns the dimensionality of the vector.
func (f FeatureVector) Dim() int { return len(f.Values) }

// Finite reports whether every value (and the activation) is finite.
func (f FeatureVector) Finite() bool {
	if math.IsNaN(f.Activation) || math.IsInf(f.Activation, 0) {
		return false
	}
	for _, v := range f.Values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Prediction is the classifier output for one window.
type Prediction struct {
	Class         string
	Confidence    float64   // in [0,1]
	Intensity     float64   // non-negative
	Probabilities []float64 // posterior per class, in model class order
}

// ControlCommand is a pointer velocity in pixels per second.
type ControlCommand struct {
	VX float64 `json:"vx"`
	VY float64 `json:"vy"`
}

// ZeroCommand is the neutral, no-motion command.
var ZeroCommand = ControlCommand{}

// Speed returns the magnitude of the velocity.
func (c ControlCommand) Speed() float64 { return math.Hypot(c.VX, c.VY) }

// IsZero reports whether the command carries no motion.
func (c ControlCommand) IsZero() bool { return c.VX == 0 && c.VY == 0 }

// DecisionReason records why a window produced the command it did.
type DecisionReason string

const (
	ReasonAccepted   DecisionReason = "accepted"
	ReasonRejected   DecisionReason = "rejected"
	ReasonInference  DecisionReason = "inference_failure"
	ReasonStalled    DecisionReason = "acquisition_stall"
	ReasonSmoothed   DecisionReason = "majority_vote"
	ReasonNeutral    DecisionReason = "neutral"
	ReasonTerminated DecisionReason = "terminated"
)

// Decision is the per-window outcome published to decision sinks.
type Decision struct {
	SessionID   string
	WindowIndex int64
	WindowStart time.Time
	Prediction  Prediction
	Accepted    bool
	Command     ControlCommand
	Reason      DecisionReason
	Latency     time.Duration // window emission to command
}

// DecisionSink consumes decisions produced by the online control loop.
// Implementations must not block for long; the loop calls them inline.
type DecisionSink interface {
	RecordDecision(Decision) error
}
