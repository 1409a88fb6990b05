package testutil

import (
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGesture(t *testing.T) {
	t.Parallel()

	rows := Gesture(Seeded(1), 1, 8, 2000, 1.0)
	require.Len(t, rows, 2000)

	rms := make([]float64, 8)
	for _, row := range rows {
		require.Len(t, row, 8)
		for ch, v := range row {
			rms[ch] += v * v
		}
	}
	for ch := range rms {
		rms[ch] = math.Sqrt(rms[ch] / float64(len(rows)))
	}
	// Class 1 drives channels 1 and 4.
	assert.InDelta(t, 1.0, rms[1], 0.1)
	assert.InDelta(t, 1.0, rms[4], 0.1)
	assert.Less(t, rms[0], 0.05)
}

func TestActivePairUniquePerClass(t *testing.T) {
	t.Parallel()
	tests := []struct {
		channels int
		classes  int
	}{
		{channels: 4, classes: 6},
		{channels: 6, classes: 15},
		{channels: 8, classes: 28},
	}
	for _, tc := range tests {
		t.Run(fmt.Sprintf("%d channels", tc.channels), func(t *testing.T) {
			t.Parallel()
			seen := make(map[[2]int]int)
			for c := 0; c < tc.classes; c++ {
				pair := ActivePair(c, tc.channels)
				assert.NotEqual(t, pair[0], pair[1])
				prev, dup := seen[pair]
				assert.False(t, dup, "class %d repeats the pair of class %d", c, prev)
				seen[pair] = c
			}
		})
	}

	// Classes below the channel count keep the {c, c+3} pairing.
	assert.Equal(t, [2]int{0, 3}, ActivePair(0, 4))
	assert.Equal(t, [2]int{0, 1}, ActivePair(1, 4))
	assert.Equal(t, [2]int{0, 2}, ActivePair(4, 4))
	assert.Equal(t, [2]int{1, 4}, ActivePair(1, 8))
	assert.Equal(t, [2]int{0, 0}, ActivePair(3, 1))
}

func TestGestureDeterministic(t *testing.T) {
	t.Parallel()
	a := Gesture(Seeded(7), 0, 4, 10, 1)
	b := Gesture(Seeded(7), 0, 4, 10, 1)
	assert.Equal(t, a, b)
}

func TestCSV(t *testing.T) {
	t.Parallel()
	got := CSV([][]float64{{1, 2.5}, {-3, 0}})
	assert.Equal(t, "1,2.5\n-3,0\n", got)
	assert.Equal(t, 2, strings.Count(CSV(Constant(3, 2, 1)), "\n"))
}

func TestDecodeJSON(t *testing.T) {
	t.Parallel()
	rec := httptest.NewRecorder()
	rec.WriteHeader(http.StatusOK)
	rec.WriteString(`{"state":"idle"}`)

	var out struct{ State string }
	DecodeJSON(t, rec, &out)
	assert.Equal(t, "idle", out.State)
	AssertStatusCode(t, rec.Code, http.StatusOK)
}
