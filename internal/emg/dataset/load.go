package dataset

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/myo.mouse/internal/emg"
	"github.com/banshee-data/myo.mouse/internal/emg/l2windows"
	"github.com/banshee-data/myo.mouse/internal/emg/l3features"
	"github.com/banshee-data/myo.mouse/internal/emg/l4classify"
	"github.com/banshee-data/myo.mouse/internal/fsutil"
	"github.com/banshee-data/myo.mouse/internal/monitoring"
)

// Recording is one labelled capture.
type Recording struct {
	Path string
	Meta map[string]string
	Rows [][]float64
}

// Class returns the class label.
func (r Recording) Class() string { return r.Meta[ClassKey] }

// Rep returns the repetition number, or 0 when absent.
func (r Recording) Rep() int {
	n, _ := strconv.Atoi(r.Meta[RepKey])
	return n
}

// Load reads every file in dir that passes all filters. Files failing a
// filter are skipped; a matching file that cannot be parsed fails the load
// with emg.ErrTrainingData.
func Load(fsys fsutil.FileSystem, dir string, filters []RegexFilter, delimiter string) ([]Recording, error) {
	names, err := fsys.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list recordings in %s: %w", dir, err)
	}
	comma, size := utf8.DecodeRuneInString(delimiter)
	if size == 0 || size != len(delimiter) {
		return nil, fmt.Errorf("delimiter %q must be a single character: %w", delimiter, emg.ErrConfiguration)
	}

	var recs []Recording
	for _, name := range names {
		meta, ok := matchAll(name, filters)
		if !ok {
			continue
		}
		path := filepath.Join(dir, name)
		f, err := fsys.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", path, err)
		}
		rows, err := ReadCSV(f, comma)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		recs = append(recs, Recording{Path: path, Meta: meta, Rows: rows})
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("no recordings in %s match the filters: %w", dir, emg.ErrTrainingData)
	}
	monitoring.Logf("dataset: loaded %d recordings from %s", len(recs), dir)
	return recs, nil
}

func matchAll(name string, filters []RegexFilter) (map[string]string, bool) {
	meta := make(map[string]string, len(filters))
	for _, f := range filters {
		v, ok := f.Match(name)
		if !ok {
			return nil, false
		}
		meta[f.Description] = v
	}
	return meta, true
}

// ReadCSV parses numeric rows. Every row must have the same number of
// columns as the first.
func ReadCSV(r io.Reader, comma rune) ([][]float64, error) {
	cr := csv.NewReader(r)
	cr.Comma = comma
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = true

	var rows [][]float64
	for line := 1; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			// csv.ErrFieldCount lands here for ragged rows.
			return nil, fmt.Errorf("line %d: %v: %w", line, err, emg.ErrTrainingData)
		}
		row := make([]float64, len(rec))
		for i, field := range rec {
			v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
			if err != nil {
				return nil, fmt.Errorf("line %d column %d: %q is not a number: %w", line, i+1, field, emg.ErrTrainingData)
			}
			row[i] = v
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("recording is empty: %w", emg.ErrTrainingData)
	}
	return rows, nil
}

// BuildTrainingSet windows every recording and extracts its features. Work
// is spread across GOMAXPROCS goroutines; results keep recording order.
// Recordings shorter than one window contribute nothing.
func BuildTrainingSet(ctx context.Context, recs []Recording, size, increment int, ext *l3features.Extractor) ([]l4classify.Example, error) {
	if err := l2windows.Validate(size, increment); err != nil {
		return nil, err
	}

	perRec := make([][]l4classify.Example, len(recs))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, rec := range recs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			label := rec.Class()
			if label == "" {
				return fmt.Errorf("%s has no class label: %w", rec.Path, emg.ErrTrainingData)
			}
			windows, err := l2windows.Segment(rec.Rows, size, increment, label)
			if err != nil {
				return fmt.Errorf("%s: %w", rec.Path, err)
			}
			examples := make([]l4classify.Example, len(windows))
			for j, w := range windows {
				examples[j] = l4classify.Example{Features: ext.Extract(w), Label: label, Rep: rec.Rep()}
			}
			perRec[i] = examples
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []l4classify.Example
	for _, ex := range perRec {
		out = append(out, ex...)
	}
	return out, nil
}

// SplitByRep separates examples recorded in the held-out repetition.
func SplitByRep(examples []l4classify.Example, heldOut int) (train, test []l4classify.Example) {
	for _, ex := range examples {
		if ex.Rep == heldOut {
			test = append(test, ex)
		} else {
			train = append(train, ex)
		}
	}
	return train, test
}
