package l4classify

import (
	"errors"
	"math"
	"strconv"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/myo.mouse/internal/emg"
	"github.com/banshee-data/myo.mouse/internal/emg/l2windows"
	"github.com/banshee-data/myo.mouse/internal/emg/l3features"
	"github.com/banshee-data/myo.mouse/internal/testutil"
)

// clusters returns n examples per class drawn around well separated
// centres in dim dimensions.
func clusters(t *testing.T, classes, n, dim int) []Example {
	t.Helper()
	rng := testutil.Seeded(42)
	var out []Example
	for c := 0; c < classes; c++ {
		for i := 0; i < n; i++ {
			v := make([]float64, dim)
			for j := range v {
				v[j] = 0.1 * rng.NormFloat64()
			}
			v[c%dim] += 5
			out = append(out, Example{
				Features: emg.FeatureVector{Values: v, Activation: 1 + float64(i)/float64(n)},
				Label:    strconv.Itoa(c),
			})
		}
	}
	return out
}

func TestTrainAndPredict(t *testing.T) {
	t.Parallel()

	examples := clusters(t, 3, 30, 4)
	m, err := Train(examples, DefaultTrainOptions())
	require.NoError(t, err)
	assert.Equal(t, []string{"0", "1", "2"}, m.Classes())
	assert.Equal(t, 4, m.Dim())

	for _, ex := range examples {
		p, err := m.Predict(ex.Features)
		require.NoError(t, err)
		assert.Equal(t, ex.Label, p.Class)
		assert.Greater(t, p.Confidence, 0.9)
		assert.Len(t, p.Probabilities, 3)
	}
}

func TestTrainSingleClass(t *testing.T) {
	t.Parallel()

	examples := clusters(t, 1, 10, 3)
	_, err := Train(examples, DefaultTrainOptions())
	require.Error(t, err)
	assert.True(t, errors.Is(err, emg.ErrTrainingData))
}

func TestTrainRejectsBadInput(t *testing.T) {
	t.Parallel()

	good := clusters(t, 2, 5, 3)
	cases := map[string][]Example{
		"empty": nil,
		"too few": append(clusters(t, 2, 5, 3), Example{
			Features: emg.FeatureVector{Values: []float64{0, 0, 0}},
			Label:    "lonely",
		}),
		"ragged": append(append([]Example{}, good...), Example{
			Features: emg.FeatureVector{Values: []float64{1, 2}},
			Label:    "0",
		}),
		"nan": append(append([]Example{}, good...), Example{
			Features: emg.FeatureVector{Values: []float64{math.NaN(), 0, 0}},
			Label:    "0",
		}),
		"no features": {
			{Label: "0"}, {Label: "1"},
		},
	}
	for name, examples := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Train(examples, DefaultTrainOptions())
			assert.ErrorIs(t, err, emg.ErrTrainingData)
		})
	}
}

func TestTrainDegenerateFeatures(t *testing.T) {
	t.Parallel()

	// A feature that is zero everywhere makes the raw covariance singular;
	// the ridge keeps training well defined.
	examples := clusters(t, 2, 10, 3)
	for i := range examples {
		examples[i].Features.Values[2] = 0
	}
	m, err := Train(examples, TrainOptions{MinExamplesPerClass: 2})
	require.NoError(t, err)

	p, err := m.Predict(examples[0].Features)
	require.NoError(t, err)
	assert.Equal(t, "0", p.Class)
}

func TestPredictErrors(t *testing.T) {
	t.Parallel()

	m, err := Train(clusters(t, 2, 10, 3), DefaultTrainOptions())
	require.NoError(t, err)

	_, err = m.Predict(emg.FeatureVector{Values: []float64{1, 2}})
	assert.ErrorIs(t, err, emg.ErrInference)

	_, err = m.Predict(emg.FeatureVector{Values: []float64{1, math.Inf(1), 0}})
	assert.ErrorIs(t, err, emg.ErrInference)

	_, err = m.Predict(emg.FeatureVector{Values: []float64{1, 0, 0}, Activation: math.NaN()})
	assert.ErrorIs(t, err, emg.ErrInference)
}

func TestConfidenceBounds(t *testing.T) {
	t.Parallel()

	m, err := Train(clusters(t, 4, 20, 4), DefaultTrainOptions())
	require.NoError(t, err)

	rng := testutil.Seeded(3)
	for i := 0; i < 500; i++ {
		v := make([]float64, 4)
		for j := range v {
			v[j] = 10 * rng.NormFloat64()
		}
		p, err := m.Predict(emg.FeatureVector{Values: v, Activation: rng.Float64()})
		require.NoError(t, err)
		assert.GreaterOrEqual(t, p.Confidence, 0.5)
		assert.LessOrEqual(t, p.Confidence, 1.0)
		assert.GreaterOrEqual(t, p.Intensity, 0.0)

		var sum float64
		for _, q := range p.Probabilities {
			sum += q
		}
		assert.InDelta(t, 1.0, sum, 1e-9)
	}
}

func TestPredictIsPure(t *testing.T) {
	t.Parallel()

	examples := clusters(t, 3, 10, 3)
	m, err := Train(examples, DefaultTrainOptions())
	require.NoError(t, err)

	fv := examples[4].Features
	first, err := m.Predict(fv)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := m.Predict(fv)
		require.NoError(t, err)
		if diff := cmp.Diff(first, again); diff != "" {
			t.Fatalf("Predict changed between calls (-first +again):\n%s", diff)
		}
	}
}

func TestCalibration(t *testing.T) {
	t.Parallel()

	c := calibrate([]float64{1, 2, 11})
	assert.InDelta(t, 2.0, c.Min, 1e-12)
	assert.InDelta(t, 8.0, c.Max, 1e-12)

	assert.Equal(t, 0.0, c.Intensity(0.5))
	assert.Equal(t, 0.0, c.Intensity(2))
	assert.InDelta(t, 0.5, c.Intensity(5), 1e-12)
	assert.InDelta(t, 1.0, c.Intensity(8), 1e-12)
	assert.Greater(t, c.Intensity(20), 1.0)

	flat := Calibration{Min: 3, Max: 3}
	assert.Equal(t, 0.0, flat.Intensity(2))
	assert.Equal(t, 1.0, flat.Intensity(3))
}

func TestSortClasses(t *testing.T) {
	t.Parallel()

	numeric := []string{"10", "2", "0", "1"}
	sortClasses(numeric)
	assert.Equal(t, []string{"0", "1", "2", "10"}, numeric)

	named := []string{"open", "close", "rest"}
	sortClasses(named)
	assert.Equal(t, []string{"close", "open", "rest"}, named)
}

func TestEvaluate(t *testing.T) {
	t.Parallel()

	examples := clusters(t, 3, 20, 3)
	m, err := Train(examples, DefaultTrainOptions())
	require.NoError(t, err)

	met, err := m.Evaluate(examples, EvalOptions{NeutralClass: "2"})
	require.NoError(t, err)
	assert.Equal(t, 60, met.Total)
	assert.InDelta(t, 1.0, met.Accuracy, 1e-12)
	assert.Zero(t, met.ActiveError)
	assert.Zero(t, met.RejectionRate)
	assert.Equal(t, [][]int{{20, 0, 0}, {0, 20, 0}, {0, 0, 20}}, met.Confusion)
	assert.Equal(t, map[string]float64{"0": 1, "1": 1, "2": 1}, met.Recall)

	// Relabel class 0 as class 1: every class-0 window is now an active
	// error because the prediction is non-neutral.
	wrong := append([]Example{}, examples[:20]...)
	for i := range wrong {
		wrong[i].Label = "1"
	}
	met, err = m.Evaluate(wrong, EvalOptions{NeutralClass: "2"})
	require.NoError(t, err)
	assert.Zero(t, met.Accuracy)
	assert.InDelta(t, 1.0, met.ActiveError, 1e-12)

	_, err = m.Evaluate([]Example{{Features: examples[0].Features, Label: "9"}}, EvalOptions{})
	assert.ErrorIs(t, err, emg.ErrTrainingData)
}

// Windows of synthetic EMG through the real feature extractor must be
// separable by the classifier.
func TestTrainOnSyntheticEMG(t *testing.T) {
	t.Parallel()

	ext, err := l3features.NewExtractor("AMP", l3features.DefaultParams())
	require.NoError(t, err)

	rng := testutil.Seeded(11)
	var train, test []Example
	for c := 0; c < 3; c++ {
		for rep := 0; rep < 2; rep++ {
			rows := testutil.Gesture(rng, c, 8, 400, 0.5)
			windows, err := l2windows.Segment(rows, 40, 20, strconv.Itoa(c))
			require.NoError(t, err)
			for _, fv := range ext.ExtractAll(windows) {
				ex := Example{Features: fv, Label: strconv.Itoa(c), Rep: rep}
				if rep == 0 {
					train = append(train, ex)
				} else {
					test = append(test, ex)
				}
			}
		}
	}

	m, err := Train(train, DefaultTrainOptions())
	require.NoError(t, err)
	met, err := m.Evaluate(test, EvalOptions{NeutralClass: "2"})
	require.NoError(t, err)
	assert.Greater(t, met.Accuracy, 0.95)
}
