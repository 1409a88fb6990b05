package l4classify

import (
	"fmt"

	"github.com/banshee-data/myo.mouse/internal/emg"
)

// EvalOptions controls offline evaluation.
type EvalOptions struct {
	// NeutralClass is the no-motion label. Misclassifications predicted as
	// the neutral class are not counted as active errors.
	NeutralClass string
	// RejectionThreshold mirrors the online gate: predictions below it are
	// counted as rejected rather than right or wrong.
	RejectionThreshold float64
}

// Metrics summarise a model's accuracy on a labelled set.
type Metrics struct {
	Classes []string `json:"classes"`
	// Confusion[i][j] counts examples of class i predicted as class j.
	Confusion [][]int `json:"confusion"`
	Total     int     `json:"total"`
	Accuracy  float64 `json:"accuracy"`
	// ActiveError is the fraction of examples misclassified as a
	// non-neutral class, i.e. those that would move the pointer wrongly.
	ActiveError   float64            `json:"active_error"`
	RejectionRate float64            `json:"rejection_rate"`
	Recall        map[string]float64 `json:"recall"`
}

// Evaluate scores the model on examples. Labels unknown to the model are an
// emg.ErrTrainingData error.
func (m *Model) Evaluate(examples []Example, opts EvalOptions) (Metrics, error) {
	index := make(map[string]int, len(m.classes))
	for k, c := range m.classes {
		index[c] = k
	}

	met := Metrics{
		Classes:   m.Classes(),
		Confusion: make([][]int, len(m.classes)),
		Recall:    make(map[string]float64, len(m.classes)),
	}
	for k := range met.Confusion {
		met.Confusion[k] = make([]int, len(m.classes))
	}
	if len(examples) == 0 {
		return met, nil
	}

	var correct, activeErr, rejected int
	for i, ex := range examples {
		truth, ok := index[ex.Label]
		if !ok {
			return Metrics{}, fmt.Errorf("example %d has unknown label %q: %w", i, ex.Label, emg.ErrTrainingData)
		}
		pred, err := m.Predict(ex.Features)
		if err != nil {
			return Metrics{}, fmt.Errorf("example %d: %w", i, err)
		}
		got := index[pred.Class]
		met.Confusion[truth][got]++
		met.Total++

		if opts.RejectionThreshold > 0 && pred.Confidence < opts.RejectionThreshold {
			rejected++
			continue
		}
		switch {
		case got == truth:
			correct++
		case pred.Class != opts.NeutralClass:
			activeErr++
		}
	}

	n := float64(met.Total)
	met.Accuracy = float64(correct) / n
	met.ActiveError = float64(activeErr) / n
	met.RejectionRate = float64(rejected) / n
	for k, c := range m.classes {
		var row int
		for _, v := range met.Confusion[k] {
			row += v
		}
		if row > 0 {
			met.Recall[c] = float64(met.Confusion[k][k]) / float64(row)
		}
	}
	return met, nil
}
