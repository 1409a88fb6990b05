package l5motion

import (
	"fmt"
	"math"

	"github.com/banshee-data/myo.mouse/internal/emg"
)

// Gate rejects predictions whose confidence falls below a fixed threshold.
type Gate struct {
	threshold float64
	neutral   string
}

// NewGate returns a gate for threshold t in [0,1). Rejected predictions
// are replaced by the neutral class.
func NewGate(t float64, neutral string) (*Gate, error) {
	if math.IsNaN(t) || t < 0 || t >= 1 {
		return nil, fmt.Errorf("rejection threshold %v outside [0,1): %w", t, emg.ErrConfiguration)
	}
	return &Gate{threshold: t, neutral: neutral}, nil
}

// Threshold returns the configured threshold.
func (g *Gate) Threshold() float64 { return g.threshold }

// Neutral returns the substitute class for rejected predictions.
func (g *Gate) Neutral() string { return g.neutral }

// Apply reports whether p is accepted. A rejected prediction comes back as
// the neutral class with zero intensity; its confidence is preserved so the
// decision log shows why it was rejected.
func (g *Gate) Apply(p emg.Prediction) (emg.Prediction, bool) {
	if p.Confidence >= g.threshold {
		return p, true
	}
	p.Class = g.neutral
	p.Intensity = 0
	return p, false
}
