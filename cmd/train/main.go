// Command train fits a gesture classifier from labelled recordings, scores
// it on a held-out repetition and writes a feature scatter plot and an HTML
// metrics report.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"

	"github.com/banshee-data/myo.mouse/internal/config"
	"github.com/banshee-data/myo.mouse/internal/emg/report"
	"github.com/banshee-data/myo.mouse/internal/emg/training"
	"github.com/banshee-data/myo.mouse/internal/fsutil"
	"github.com/banshee-data/myo.mouse/internal/monitoring"
	"github.com/banshee-data/myo.mouse/internal/version"
)

type options struct {
	dataDir    string
	configPath string
	outDir     string
	delimiter  string
	classes    int
	reps       int
	holdout    int
	refit      bool
	plotFormat string
	debug      bool
	version    bool
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var o options
	fs := flag.NewFlagSet("train", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&o.dataDir, "data", "data", "Directory of C_<class>_R_<rep>_emg.csv recordings")
	fs.StringVar(&o.configPath, "config", "", "Pipeline config JSON (defaults when empty)")
	fs.StringVar(&o.outDir, "out", "out", "Directory for features plot and metrics report")
	fs.StringVar(&o.delimiter, "delimiter", ",", "Column delimiter of the recordings")
	fs.IntVar(&o.classes, "classes", 5, "Number of gesture classes")
	fs.IntVar(&o.reps, "reps", 3, "Number of repetitions per class")
	fs.IntVar(&o.holdout, "holdout", 2, "Repetition held out for scoring (-1 trains on everything)")
	fs.BoolVar(&o.refit, "refit", false, "Refit on every repetition after scoring")
	fs.StringVar(&o.plotFormat, "plot-format", "png", "Feature plot format (png, svg, pdf)")
	fs.BoolVar(&o.debug, "debug", false, "Enable debug logging")
	fs.BoolVar(&o.version, "version", false, "Print version and exit")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if o.holdout >= o.reps {
		return options{}, fmt.Errorf("-holdout %d out of range for %d repetitions", o.holdout, o.reps)
	}
	return o, nil
}

func run(ctx context.Context, o options, fsys fsutil.FileSystem, stdout io.Writer) error {
	cfg := config.EmptyPipelineConfig()
	if o.configPath != "" {
		var err error
		if cfg, err = config.LoadPipelineConfig(o.configPath); err != nil {
			return err
		}
	}

	res, err := training.Run(ctx, cfg, training.Options{
		FS:         fsys,
		DataDir:    o.dataDir,
		Delimiter:  o.delimiter,
		Classes:    o.classes,
		Reps:       o.reps,
		HeldOutRep: o.holdout,
		RefitAll:   o.refit,
	})
	if err != nil {
		return err
	}

	classes := res.Model.Classes()
	plotPath := filepath.Join(o.outDir, "features."+o.plotFormat)
	if err := report.WriteFeatureScatter(fsys, plotPath, classes, res.Examples); err != nil {
		return fmt.Errorf("feature plot: %w", err)
	}

	fmt.Fprintf(stdout, "recordings: %d\nwindows:    %d (train %d, test %d)\nfeatures:   %s, dim %d\n",
		res.Recordings, len(res.Examples), len(res.Train), len(res.Test), res.Extractor.Group(), res.Model.Dim())
	if res.Metrics == nil {
		return nil
	}

	met := *res.Metrics
	fmt.Fprintf(stdout, "accuracy:   %.3f\nactive err: %.3f\nrejected:   %.3f\n", met.Accuracy, met.ActiveError, met.RejectionRate)
	names := make([]string, 0, len(met.Recall))
	for c := range met.Recall {
		names = append(names, c)
	}
	sort.Strings(names)
	for _, c := range names {
		fmt.Fprintf(stdout, "  recall[%s] = %.3f\n", c, met.Recall[c])
	}

	if err := fsys.MkdirAll(o.outDir, 0o755); err != nil {
		return err
	}
	f, err := fsys.Create(filepath.Join(o.outDir, "metrics.html"))
	if err != nil {
		return err
	}
	title := fmt.Sprintf("%s held-out rep %d", res.Extractor.Group(), o.holdout)
	if err := report.RenderMetrics(f, title, met); err != nil {
		f.Close()
		return fmt.Errorf("metrics report: %w", err)
	}
	return f.Close()
}

func main() {
	o, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		os.Exit(2)
	}
	if o.version {
		fmt.Println(version.String("myo-train"))
		return
	}
	monitoring.SetDebug(o.debug)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, o, fsutil.OSFileSystem{}, os.Stdout); err != nil {
		log.Fatalf("training failed: %v", err)
	}
}
