package l3features

import (
	"fmt"
	"strings"

	"github.com/banshee-data/myo.mouse/internal/emg"
)

// Extractor maps windows to feature vectors for one feature group.
// It holds no mutable state and is safe for concurrent use.
type Extractor struct {
	group    string
	names    []string
	features []Feature
	params   Params
}

// NewExtractor returns an extractor for the named group.
func NewExtractor(group string, params Params) (*Extractor, error) {
	names, ok := Groups[group]
	if !ok {
		return nil, fmt.Errorf("unknown feature set %q (known: %s): %w", group, strings.Join(GroupNames(), ", "), emg.ErrConfiguration)
	}
	e := &Extractor{group: group, names: names, params: params}
	for _, n := range names {
		e.features = append(e.features, registry[n])
	}
	return e, nil
}

// Group returns the feature-set name.
func (e *Extractor) Group() string { return e.group }

// PerChannel returns the number of features computed for each channel.
func (e *Extractor) PerChannel() int { return len(e.names) }

// Dim returns the feature-vector length for the given channel count.
func (e *Extractor) Dim(channels int) int { return channels * len(e.names) }

// Names returns labels such as "ch0_LS" in vector order.
func (e *Extractor) Names(channels int) []string {
	out := make([]string, 0, e.Dim(channels))
	for c := 0; c < channels; c++ {
		for _, n := range e.names {
			out = append(out, fmt.Sprintf("ch%d_%s", c, n))
		}
	}
	return out
}

// Extract computes the feature vector of w. Degenerate channels (constant or
// empty) produce zeros instead of non-finite values.
func (e *Extractor) Extract(w emg.Window) emg.FeatureVector {
	fv := emg.FeatureVector{Values: make([]float64, 0, e.Dim(len(w.Channels)))}
	for _, series := range w.Channels {
		for _, f := range e.features {
			if len(series) == 0 {
				fv.Values = append(fv.Values, 0)
				continue
			}
			fv.Values = append(fv.Values, finite(f(series, e.params)))
		}
	}
	fv.Activation = Activation(w)
	return fv
}

// ExtractAll extracts every window in order.
func (e *Extractor) ExtractAll(windows []emg.Window) []emg.FeatureVector {
	out := make([]emg.FeatureVector, len(windows))
	for i, w := range windows {
		out[i] = e.Extract(w)
	}
	return out
}

// Activation is the sum over channels of each channel's mean absolute value,
// the contraction-strength statistic behind proportional control.
func Activation(w emg.Window) float64 {
	var total float64
	for _, series := range w.Channels {
		if len(series) == 0 {
			continue
		}
		total += meanAbsoluteValue(series, Params{})
	}
	return finite(total)
}
