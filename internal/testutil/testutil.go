// Package testutil provides synthetic EMG fixtures and small HTTP helpers
// shared by the package tests.
package testutil

import (
	"encoding/json"
	"math/rand/v2"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
)

// Gesture returns n samples of synthetic surface EMG for class. Every class
// drives a pair of channels with zero-mean Gaussian bursts of amplitude
// gain; the remaining channels carry low-level noise. Distinct classes
// therefore differ in their spatial amplitude pattern, which is what the
// amplitude and spectral features pick up. Patterns repeat only after
// channels*(channels-1)/2 classes.
func Gesture(rng *rand.Rand, class, channels, n int, gain float64) [][]float64 {
	pair := ActivePair(class, channels)
	rows := make([][]float64, n)
	for i := range rows {
		row := make([]float64, channels)
		for ch := range row {
			amp := 0.02
			if ch == pair[0] || ch == pair[1] {
				amp = gain
			}
			row[ch] = amp * rng.NormFloat64()
		}
		rows[i] = row
	}
	return rows
}

// ActivePair returns the two channels Gesture drives for class. Class c
// takes {c, c+3} while that pair is still free; later classes take the
// unused pairs in order. With fewer than two channels both entries are 0.
func ActivePair(class, channels int) [2]int {
	if channels < 2 {
		return [2]int{}
	}
	type key struct{ lo, hi int }
	seen := make(map[key]bool)
	var pairs [][2]int
	add := func(a, b int) {
		if a == b {
			return
		}
		if a > b {
			a, b = b, a
		}
		if k := (key{a, b}); !seen[k] {
			seen[k] = true
			pairs = append(pairs, [2]int{a, b})
		}
	}
	for c := 0; c < channels; c++ {
		add(c, (c+3)%channels)
	}
	for a := 0; a < channels; a++ {
		for b := a + 1; b < channels; b++ {
			add(a, b)
		}
	}
	return pairs[class%len(pairs)]
}

// Constant returns n identical samples, each channel holding v.
func Constant(channels, n int, v float64) [][]float64 {
	rows := make([][]float64, n)
	for i := range rows {
		row := make([]float64, channels)
		for ch := range row {
			row[ch] = v
		}
		rows[i] = row
	}
	return rows
}

// CSV renders rows as comma separated text, one sample per line.
func CSV(rows [][]float64) string {
	var b strings.Builder
	for _, row := range rows {
		for i, v := range row {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// Seeded returns a deterministic generator.
func Seeded(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// DecodeJSON decodes a recorded response body into v.
func DecodeJSON(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t *testing.T, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}
