package emg

import (
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeatureVectorFinite(t *testing.T) {
	t.Parallel()

	assert.True(t, FeatureVector{Values: []float64{1, 2, 3}}.Finite())
	assert.False(t, FeatureVector{Values: []float64{1, math.NaN()}}.Finite())
	assert.False(t, FeatureVector{Values: []float64{math.Inf(1)}}.Finite())
	assert.False(t, FeatureVector{Values: []float64{1}, Activation: math.Inf(-1)}.Finite())
}

func TestControlCommand(t *testing.T) {
	t.Parallel()

	assert.True(t, ZeroCommand.IsZero())
	assert.InDelta(t, 5.0, ControlCommand{VX: 3, VY: 4}.Speed(), 1e-12)
	assert.False(t, ControlCommand{VX: 1}.IsZero())
}

func TestPipelineStateString(t *testing.T) {
	t.Parallel()

	cases := map[PipelineState]string{
		StateIdle:         "IDLE",
		StateRunning:      "RUNNING",
		StateStopping:     "STOPPING",
		StateTerminated:   "TERMINATED",
		PipelineState(42): "UNKNOWN",
	}
	for s, want := range cases {
		assert.Equal(t, want, s.String())
		b, err := s.MarshalText()
		assert.NoError(t, err)
		assert.Equal(t, want, string(b))
	}

	var st PipelineState
	require.NoError(t, st.UnmarshalText([]byte("STOPPING")))
	assert.Equal(t, StateStopping, st)
	assert.Error(t, st.UnmarshalText([]byte("UNKNOWN")))
}

func TestWrappedErrorsMatch(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("window_increment 50 > window_size 40: %w", ErrConfiguration)
	assert.True(t, errors.Is(err, ErrConfiguration))
	assert.False(t, errors.Is(err, ErrTrainingData))
}

func TestWindowSize(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 0, Window{}.Size())
	assert.Equal(t, 3, Window{Channels: [][]float64{{1, 2, 3}, {4, 5, 6}}}.Size())
}
