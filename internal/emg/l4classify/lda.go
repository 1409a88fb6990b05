package l4classify

import (
	"fmt"
	"math"
	"sort"
	"strconv"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/myo.mouse/internal/emg"
)

// Example is one labelled feature vector.
type Example struct {
	Features emg.FeatureVector
	Label    string
	Rep      int // recording repetition, used for held-out evaluation
}

// TrainOptions controls model fitting.
type TrainOptions struct {
	// MinExamplesPerClass is the smallest acceptable class size (>= 2 so
	// that every class contributes a defined covariance).
	MinExamplesPerClass int
	// Regularization shrinks the pooled covariance towards a scaled
	// identity: ridge = Regularization * trace/d.
	Regularization float64
}

// DefaultTrainOptions returns the options used by the binaries.
func DefaultTrainOptions() TrainOptions {
	return TrainOptions{MinExamplesPerClass: 2, Regularization: 1e-6}
}

// Calibration maps a class's window activation to a proportional-control
// intensity. Min and Max are the activation thresholds at which intensity
// is 0 and 1.
type Calibration struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Intensity converts an activation into a non-negative intensity. It is not
// capped at 1; the motion mapper saturates it.
func (c Calibration) Intensity(activation float64) float64 {
	span := c.Max - c.Min
	if span <= 0 {
		if activation >= c.Max {
			return 1
		}
		return 0
	}
	v := (activation - c.Min) / span
	if v < 0 || math.IsNaN(v) {
		return 0
	}
	return v
}

// Model is a trained LDA classifier.
type Model struct {
	classes     []string
	dim         int
	counts      []int
	means       [][]float64
	weights     [][]float64 // Σ⁻¹ μ_k
	bias        []float64   // -½ μ_kᵀ Σ⁻¹ μ_k + log π_k
	calibration []Calibration
}

// Train fits a model. It fails with emg.ErrTrainingData when fewer than two
// classes are present, a class has too few examples, or the input is ragged
// or non-finite.
func Train(examples []Example, opts TrainOptions) (*Model, error) {
	if opts.MinExamplesPerClass < 2 {
		opts.MinExamplesPerClass = 2
	}
	if len(examples) == 0 {
		return nil, fmt.Errorf("no training examples: %w", emg.ErrTrainingData)
	}

	dim := examples[0].Features.Dim()
	if dim == 0 {
		return nil, fmt.Errorf("training examples have no features: %w", emg.ErrTrainingData)
	}

	byClass := make(map[string][]int)
	for i, ex := range examples {
		if ex.Features.Dim() != dim {
			return nil, fmt.Errorf("example %d has %d features, want %d: %w", i, ex.Features.Dim(), dim, emg.ErrTrainingData)
		}
		if !ex.Features.Finite() {
			return nil, fmt.Errorf("example %d has non-finite features: %w", i, emg.ErrTrainingData)
		}
		byClass[ex.Label] = append(byClass[ex.Label], i)
	}

	classes := make([]string, 0, len(byClass))
	for c := range byClass {
		classes = append(classes, c)
	}
	sortClasses(classes)

	if len(classes) < 2 {
		return nil, fmt.Errorf("need at least 2 classes, got %d (%v): %w", len(classes), classes, emg.ErrTrainingData)
	}
	for _, c := range classes {
		if n := len(byClass[c]); n < opts.MinExamplesPerClass {
			return nil, fmt.Errorf("class %q has %d examples, need %d: %w", c, n, opts.MinExamplesPerClass, emg.ErrTrainingData)
		}
	}

	m := &Model{
		classes:     classes,
		dim:         dim,
		counts:      make([]int, len(classes)),
		means:       make([][]float64, len(classes)),
		weights:     make([][]float64, len(classes)),
		bias:        make([]float64, len(classes)),
		calibration: make([]Calibration, len(classes)),
	}

	// Pooled within-class covariance: Σ (n_k-1) S_k / (N-K).
	pooled := mat.NewSymDense(dim, nil)
	for k, c := range classes {
		idx := byClass[c]
		m.counts[k] = len(idx)

		x := mat.NewDense(len(idx), dim, nil)
		activations := make([]float64, len(idx))
		for r, i := range idx {
			x.SetRow(r, examples[i].Features.Values)
			activations[r] = examples[i].Features.Activation
		}

		mean := make([]float64, dim)
		for j := 0; j < dim; j++ {
			mean[j] = stat.Mean(mat.Col(nil, j, x), nil)
		}
		m.means[k] = mean

		cov := mat.NewSymDense(dim, nil)
		stat.CovarianceMatrix(cov, x, nil)
		cov.ScaleSym(float64(len(idx)-1), cov)
		pooled.AddSym(pooled, cov)

		m.calibration[k] = calibrate(activations)
	}
	pooled.ScaleSym(1/float64(len(examples)-len(classes)), pooled)

	var trace float64
	for j := 0; j < dim; j++ {
		trace += pooled.At(j, j)
	}
	ridge := opts.Regularization*trace/float64(dim) + 1e-9
	for j := 0; j < dim; j++ {
		pooled.SetSym(j, j, pooled.At(j, j)+ridge)
	}

	var chol mat.Cholesky
	if ok := chol.Factorize(pooled); !ok {
		return nil, fmt.Errorf("pooled covariance is not positive definite: %w", emg.ErrTrainingData)
	}

	total := float64(len(examples))
	for k := range classes {
		w := mat.NewVecDense(dim, nil)
		if err := chol.SolveVecTo(w, mat.NewVecDense(dim, m.means[k])); err != nil {
			return nil, fmt.Errorf("solve class %q discriminant: %v: %w", classes[k], err, emg.ErrTrainingData)
		}
		m.weights[k] = mat.Col(nil, 0, w)
		prior := float64(m.counts[k]) / total
		m.bias[k] = -0.5*floats.Dot(m.means[k], m.weights[k]) + math.Log(prior)
	}

	return m, nil
}

// calibrate derives the proportional-control thresholds from the spread of a
// class's training activations: Min sits 10% and Max 70% of the way from the
// weakest to the strongest contraction.
func calibrate(activations []float64) Calibration {
	lo, hi := floats.Min(activations), floats.Max(activations)
	return Calibration{
		Min: 0.9*lo + 0.1*hi,
		Max: 0.3*lo + 0.7*hi,
	}
}

// sortClasses orders labels numerically when they are all integers and
// lexically otherwise, so "10" follows "9".
func sortClasses(classes []string) {
	numeric := true
	for _, c := range classes {
		if _, err := strconv.Atoi(c); err != nil {
			numeric = false
			break
		}
	}
	sort.Slice(classes, func(i, j int) bool {
		if numeric {
			a, _ := strconv.Atoi(classes[i])
			b, _ := strconv.Atoi(classes[j])
			return a < b
		}
		return classes[i] < classes[j]
	})
}

// Classes returns the class labels in model order.
func (m *Model) Classes() []string {
	out := make([]string, len(m.classes))
	copy(out, m.classes)
	return out
}

// Dim returns the feature dimensionality the model was trained with.
func (m *Model) Dim() int { return m.dim }

// Calibration returns the proportional-control calibration for class.
func (m *Model) Calibration(class string) (Calibration, bool) {
	for k, c := range m.classes {
		if c == class {
			return m.calibration[k], true
		}
	}
	return Calibration{}, false
}

// Predict classifies one feature vector. Confidence is the posterior of the
// best class relative to the best two: p1/(p1+p2), so a large margin gives a
// confidence near 1 and a tie gives 0.5. Predict has no side effects.
func (m *Model) Predict(fv emg.FeatureVector) (emg.Prediction, error) {
	if fv.Dim() != m.dim {
		return emg.Prediction{}, fmt.Errorf("feature vector has %d values, model expects %d: %w", fv.Dim(), m.dim, emg.ErrInference)
	}
	if !fv.Finite() {
		return emg.Prediction{}, fmt.Errorf("feature vector is not finite: %w", emg.ErrInference)
	}

	scores := make([]float64, len(m.classes))
	for k := range m.classes {
		scores[k] = floats.Dot(m.weights[k], fv.Values) + m.bias[k]
	}
	best := floats.MaxIdx(scores)
	top := scores[best]
	if math.IsNaN(top) || math.IsInf(top, 0) {
		return emg.Prediction{}, fmt.Errorf("discriminant score is not finite: %w", emg.ErrInference)
	}

	probs := make([]float64, len(scores))
	var z float64
	for k, s := range scores {
		probs[k] = math.Exp(s - top)
		z += probs[k]
	}
	floats.Scale(1/z, probs)

	second := 0.0
	for k, p := range probs {
		if k != best && p > second {
			second = p
		}
	}
	confidence := probs[best] / (probs[best] + second)

	return emg.Prediction{
		Class:         m.classes[best],
		Confidence:    confidence,
		Intensity:     m.calibration[best].Intensity(fv.Activation),
		Probabilities: probs,
	}, nil
}

// Summary is a JSON-friendly description of a trained model.
type Summary struct {
	Classes     []string               `json:"classes"`
	Dim         int                    `json:"dim"`
	Counts      map[string]int         `json:"counts"`
	Calibration map[string]Calibration `json:"calibration"`
}

// Summary describes the model.
func (m *Model) Summary() Summary {
	s := Summary{
		Classes:     m.Classes(),
		Dim:         m.dim,
		Counts:      make(map[string]int, len(m.classes)),
		Calibration: make(map[string]Calibration, len(m.classes)),
	}
	for k, c := range m.classes {
		s.Counts[c] = m.counts[k]
		s.Calibration[c] = m.calibration[k]
	}
	return s
}
