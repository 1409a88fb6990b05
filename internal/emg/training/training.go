// Package training turns a directory of labelled recordings into a trained
// classifier, optionally scoring it on a held-out repetition first.
package training

import (
	"context"
	"fmt"
	"time"

	"github.com/banshee-data/myo.mouse/internal/config"
	"github.com/banshee-data/myo.mouse/internal/emg"
	"github.com/banshee-data/myo.mouse/internal/emg/dataset"
	"github.com/banshee-data/myo.mouse/internal/emg/l3features"
	"github.com/banshee-data/myo.mouse/internal/emg/l4classify"
	"github.com/banshee-data/myo.mouse/internal/fsutil"
	"github.com/banshee-data/myo.mouse/internal/monitoring"
)

// Options select the recordings and how the model is scored.
type Options struct {
	FS        fsutil.FileSystem // defaults to the OS filesystem
	DataDir   string
	Delimiter string // defaults to ","
	Classes   int    // defaults to 5
	Reps      int    // defaults to 3
	// HeldOutRep is scored but not trained on. Negative disables scoring.
	HeldOutRep int
	// RefitAll retrains on every repetition after scoring, so the returned
	// model has seen the held-out data too.
	RefitAll bool
}

// Result is a trained model plus what went into it.
type Result struct {
	Model      *l4classify.Model
	Extractor  *l3features.Extractor
	Recordings int
	Examples   []l4classify.Example
	Train      []l4classify.Example
	Test       []l4classify.Example
	// Metrics is nil when scoring was disabled.
	Metrics *l4classify.Metrics
}

// Run loads the recordings, extracts features with the configured feature
// set and trains a classifier.
func Run(ctx context.Context, cfg *config.PipelineConfig, opts Options) (Result, error) {
	if opts.FS == nil {
		opts.FS = fsutil.OSFileSystem{}
	}
	if opts.Delimiter == "" {
		opts.Delimiter = ","
	}
	if opts.Classes <= 0 {
		opts.Classes = 5
	}
	if opts.Reps <= 0 {
		opts.Reps = 3
	}

	start := time.Now()
	recs, err := dataset.Load(opts.FS, opts.DataDir, dataset.DefaultFilters(opts.Classes, opts.Reps), opts.Delimiter)
	if err != nil {
		return Result{}, err
	}
	channels := cfg.GetChannelCount()
	for _, r := range recs {
		if len(r.Rows) > 0 && len(r.Rows[0]) != channels {
			return Result{}, fmt.Errorf("%s has %d columns, channel_count is %d: %w",
				r.Path, len(r.Rows[0]), channels, emg.ErrConfiguration)
		}
	}

	params := l3features.DefaultParams()
	params.WAMPThreshold = cfg.GetWAMPThreshold()
	ext, err := l3features.NewExtractor(cfg.GetFeatureSet(), params)
	if err != nil {
		return Result{}, err
	}

	examples, err := dataset.BuildTrainingSet(ctx, recs, cfg.GetWindowSize(), cfg.GetWindowIncrement(), ext)
	if err != nil {
		return Result{}, err
	}

	trainOpts := l4classify.TrainOptions{
		MinExamplesPerClass: cfg.GetMinExamplesPerClass(),
		Regularization:      cfg.GetRegularization(),
	}
	res := Result{Extractor: ext, Recordings: len(recs), Examples: examples, Train: examples}

	if opts.HeldOutRep >= 0 {
		res.Train, res.Test = dataset.SplitByRep(examples, opts.HeldOutRep)
		if len(res.Test) == 0 {
			return Result{}, fmt.Errorf("no examples in held-out repetition %d: %w", opts.HeldOutRep, emg.ErrTrainingData)
		}
	}

	model, err := l4classify.Train(res.Train, trainOpts)
	if err != nil {
		return Result{}, err
	}
	if opts.HeldOutRep >= 0 {
		met, err := model.Evaluate(res.Test, l4classify.EvalOptions{
			NeutralClass:       cfg.GetNeutralClass(),
			RejectionThreshold: cfg.GetRejectionThreshold(),
		})
		if err != nil {
			return Result{}, err
		}
		res.Metrics = &met
		monitoring.Logf("training: held-out rep %d: accuracy %.3f, active error %.3f, rejection %.3f (%d windows)",
			opts.HeldOutRep, met.Accuracy, met.ActiveError, met.RejectionRate, met.Total)
		if opts.RefitAll {
			if model, err = l4classify.Train(examples, trainOpts); err != nil {
				return Result{}, err
			}
		}
	}
	res.Model = model

	monitoring.Logf("training: %d recordings, %d windows, %s features (dim %d), classes %v in %v",
		len(recs), len(examples), ext.Group(), model.Dim(), model.Classes(), time.Since(start).Round(time.Millisecond))
	return res, nil
}
