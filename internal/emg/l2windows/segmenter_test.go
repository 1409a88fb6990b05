package l2windows

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/myo.mouse/internal/emg"
)

func rampRows(n, channels int) [][]float64 {
	rows := make([][]float64, n)
	for i := range rows {
		rows[i] = make([]float64, channels)
		for c := range rows[i] {
			rows[i][c] = float64(i*10 + c)
		}
	}
	return rows
}

func TestNewSegmenterRejectsBadGeometry(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct{ size, inc int }{{40, 50}, {40, 0}, {0, 0}, {10, -1}} {
		_, err := NewSegmenter(tc.size, tc.inc, 2)
		assert.ErrorIs(t, err, emg.ErrConfiguration, "size=%d inc=%d", tc.size, tc.inc)
	}
	_, err := NewSegmenter(40, 20, 0)
	assert.ErrorIs(t, err, emg.ErrConfiguration)

	_, err = NewSegmenter(40, 40, 8)
	assert.NoError(t, err, "increment equal to size means no overlap")
}

func TestOnlineWindowCount(t *testing.T) {
	t.Parallel()

	geometries := []struct{ size, inc int }{{40, 20}, {40, 40}, {10, 1}, {7, 3}, {1, 1}}
	for _, g := range geometries {
		for _, n := range []int{0, 1, g.size - 1, g.size, g.size + 1, 3*g.size + 2, 257} {
			if n < 0 {
				continue
			}
			seg, err := NewSegmenter(g.size, g.inc, 1)
			require.NoError(t, err)

			emitted := 0
			for i := 0; i < n; i++ {
				_, ok, err := seg.Push(emg.Sample{Values: []float64{float64(i)}})
				require.NoError(t, err)
				if ok {
					emitted++
				}
			}

			want := 0
			if n >= g.size {
				want = (n-g.size)/g.inc + 1
			}
			assert.Equal(t, want, emitted, "size=%d inc=%d n=%d", g.size, g.inc, n)
			assert.Equal(t, want, Count(n, g.size, g.inc))
		}
	}
}

func TestOnlineWindowContents(t *testing.T) {
	t.Parallel()

	seg, err := NewSegmenter(4, 2, 2)
	require.NoError(t, err)
	seg.Reset(100)

	t0 := time.Unix(0, 0)
	var windows []emg.Window
	for i, row := range rampRows(8, 2) {
		w, ok, err := seg.Push(emg.Sample{Timestamp: t0.Add(time.Duration(i) * time.Millisecond), Values: row})
		require.NoError(t, err)
		if ok {
			windows = append(windows, w)
		}
	}

	require.Len(t, windows, 3)
	assert.Equal(t, []int64{100, 102, 104}, []int64{windows[0].StartIndex, windows[1].StartIndex, windows[2].StartIndex})
	assert.Equal(t, t0.Add(2*time.Millisecond), windows[1].Start)
	if diff := cmp.Diff([][]float64{{20, 30, 40, 50}, {21, 31, 41, 51}}, windows[1].Channels); diff != "" {
		t.Errorf("window 1 channels mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([][]float64{{40, 50, 60, 70}, {41, 51, 61, 71}}, windows[2].Channels); diff != "" {
		t.Errorf("window 2 channels mismatch (-want +got):\n%s", diff)
	}
}

func TestSegmenterReset(t *testing.T) {
	t.Parallel()

	seg, err := NewSegmenter(3, 1, 1)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, _, _ = seg.Push(emg.Sample{Values: []float64{1}})
	}
	seg.Reset(0)
	assert.Zero(t, seg.Pushed())

	_, ok, _ := seg.Push(emg.Sample{Values: []float64{1}})
	assert.False(t, ok, "a reset segmenter must refill before emitting")
}

func TestPushRejectsWrongChannels(t *testing.T) {
	t.Parallel()

	seg, err := NewSegmenter(3, 1, 2)
	require.NoError(t, err)
	_, _, err = seg.Push(emg.Sample{Values: []float64{1}})
	assert.Error(t, err)
}

// 100-sample single-class recording, size 40 increment 20: starts 0,20,40,60.
func TestSegmentOfflineScenario(t *testing.T) {
	t.Parallel()

	windows, err := Segment(rampRows(100, 8), 40, 20, "3")
	require.NoError(t, err)
	require.Len(t, windows, 4)

	for k, w := range windows {
		assert.Equal(t, int64(k*20), w.StartIndex)
		assert.Equal(t, "3", w.Label)
		assert.True(t, w.HasLabel)
		assert.Len(t, w.Channels, 8)
		assert.Equal(t, 40, w.Size())
		assert.Equal(t, float64(k*20*10), w.Channels[0][0])
	}
}

func TestSegmentOfflineEdges(t *testing.T) {
	t.Parallel()

	windows, err := Segment(rampRows(39, 2), 40, 20, "0")
	require.NoError(t, err)
	assert.Empty(t, windows)

	windows, err = Segment(nil, 40, 20, "0")
	require.NoError(t, err)
	assert.Empty(t, windows)

	_, err = Segment(rampRows(50, 2), 40, 41, "0")
	assert.ErrorIs(t, err, emg.ErrConfiguration)

	ragged := rampRows(50, 2)
	ragged[10] = []float64{1}
	_, err = Segment(ragged, 40, 20, "0")
	assert.ErrorIs(t, err, emg.ErrTrainingData)

	a, err := Segment(rampRows(120, 3), 40, 20, "1")
	require.NoError(t, err)
	b, err := Segment(rampRows(120, 3), 40, 20, "1")
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(a, b), "offline segmentation is deterministic")
}
