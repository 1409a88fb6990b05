// Package l3features computes per-window feature vectors.
//
// Each feature is a scalar computed independently per channel. A feature
// group names an ordered list of features; the extractor concatenates them
// channel-then-feature. Extraction is a pure function of the window.
package l3features

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
)

// Params holds the thresholds used by count-based features.
type Params struct {
	// WAMPThreshold is the minimum absolute sample-to-sample difference
	// counted by the Willison amplitude.
	WAMPThreshold float64
	// ZCThreshold and SSCThreshold suppress noise-level crossings.
	ZCThreshold  float64
	SSCThreshold float64
}

// DefaultParams returns the thresholds used when none are configured.
func DefaultParams() Params {
	return Params{WAMPThreshold: 2e-3}
}

// Feature computes one scalar from one channel's samples.
type Feature func(x []float64, p Params) float64

// Names of the supported features.
const (
	MAV  = "MAV"  // mean absolute value
	RMS  = "RMS"  // root mean square
	IAV  = "IAV"  // integral of absolute value
	VAR  = "VAR"  // variance
	WL   = "WL"   // waveform length
	ZC   = "ZC"   // zero crossings
	SSC  = "SSC"  // slope sign changes
	WAMP = "WAMP" // Willison amplitude
	LS   = "LS"   // L-score (second L-moment)
	MFL  = "MFL"  // maximum fractal length
	MSR  = "MSR"  // mean square root
)

var registry = map[string]Feature{
	MAV:  meanAbsoluteValue,
	RMS:  rootMeanSquare,
	IAV:  integralAbsoluteValue,
	VAR:  variance,
	WL:   waveformLength,
	ZC:   zeroCrossings,
	SSC:  slopeSignChanges,
	WAMP: willisonAmplitude,
	LS:   lScore,
	MFL:  maxFractalLength,
	MSR:  meanSquareRoot,
}

// Groups maps a feature-set name to its ordered feature list.
var Groups = map[string][]string{
	"HTD": {MAV, ZC, SSC, WL},
	"LS4": {LS, MFL, MSR, WAMP},
	"AMP": {MAV, RMS, IAV, VAR},
	"ALL": {MAV, RMS, IAV, VAR, WL, ZC, SSC, WAMP, LS, MFL, MSR},
}

// GroupNames returns the known feature-set names, sorted.
func GroupNames() []string {
	out := make([]string, 0, len(Groups))
	for k := range Groups {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Compute evaluates a single named feature. Unknown names and non-finite
// results yield 0.
func Compute(name string, x []float64, p Params) float64 {
	f, ok := registry[name]
	if !ok || len(x) == 0 {
		return 0
	}
	return finite(f(x, p))
}

func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

func meanAbsoluteValue(x []float64, _ Params) float64 {
	return integralAbsoluteValue(x, Params{}) / float64(len(x))
}

func integralAbsoluteValue(x []float64, _ Params) float64 {
	var sum float64
	for _, v := range x {
		sum += math.Abs(v)
	}
	return sum
}

func rootMeanSquare(x []float64, _ Params) float64 {
	return math.Sqrt(floats.Dot(x, x) / float64(len(x)))
}

func variance(x []float64, _ Params) float64 {
	if len(x) < 2 {
		return 0
	}
	mean := floats.Sum(x) / float64(len(x))
	var ss float64
	for _, v := range x {
		d := v - mean
		ss += d * d
	}
	return ss / float64(len(x)-1)
}

func waveformLength(x []float64, _ Params) float64 {
	var wl float64
	for i := 1; i < len(x); i++ {
		wl += math.Abs(x[i] - x[i-1])
	}
	return wl
}

func zeroCrossings(x []float64, p Params) float64 {
	var n float64
	for i := 1; i < len(x); i++ {
		if x[i-1]*x[i] < 0 && math.Abs(x[i-1]-x[i]) >= p.ZCThreshold {
			n++
		}
	}
	return n
}

func slopeSignChanges(x []float64, p Params) float64 {
	var n float64
	for i := 1; i < len(x)-1; i++ {
		if (x[i]-x[i-1])*(x[i]-x[i+1]) > p.SSCThreshold {
			n++
		}
	}
	return n
}

func willisonAmplitude(x []float64, p Params) float64 {
	var n float64
	for i := 1; i < len(x); i++ {
		if math.Abs(x[i]-x[i-1]) > p.WAMPThreshold {
			n++
		}
	}
	return n
}

// lScore is the second sample L-moment: 2*b1 - b0 over the sorted window,
// where b0 is the mean and b1 weights each order statistic by (i-1)/(n-1).
func lScore(x []float64, _ Params) float64 {
	n := len(x)
	if n < 2 {
		return 0
	}
	sorted := make([]float64, n)
	copy(sorted, x)
	sort.Float64s(sorted)

	b0 := floats.Sum(sorted) / float64(n)
	var b1 float64
	for i, v := range sorted {
		b1 += float64(i) / float64(n-1) * v
	}
	b1 /= float64(n)
	return 2*b1 - b0
}

// maxFractalLength is log10 of the Euclidean length of the first
// difference. A constant channel has zero length and maps to 0.
func maxFractalLength(x []float64, _ Params) float64 {
	var ss float64
	for i := 1; i < len(x); i++ {
		d := x[i] - x[i-1]
		ss += d * d
	}
	if ss == 0 {
		return 0
	}
	return math.Log10(math.Sqrt(ss))
}

func meanSquareRoot(x []float64, _ Params) float64 {
	var sum float64
	for _, v := range x {
		sum += math.Sqrt(math.Abs(v))
	}
	return sum / float64(len(x))
}
