// Package report renders offline training diagnostics: a 2-D projection of
// the feature space and an HTML page of evaluation metrics.
package report

import (
	"fmt"
	"image/color"
	"path/filepath"
	"strings"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/banshee-data/myo.mouse/internal/emg"
	"github.com/banshee-data/myo.mouse/internal/emg/l4classify"
	"github.com/banshee-data/myo.mouse/internal/fsutil"
	"github.com/banshee-data/myo.mouse/internal/monitoring"
)

// Projection is a set of examples mapped onto their first principal
// components. Y is zero when the feature space is one-dimensional.
type Projection struct {
	Labels []string
	X, Y   []float64
	// Variance holds the variance explained by each returned component.
	Variance []float64
}

// Project maps examples onto the first two principal components of their
// feature vectors.
func Project(examples []l4classify.Example) (Projection, error) {
	if len(examples) < 2 {
		return Projection{}, fmt.Errorf("need at least 2 examples to project, have %d: %w", len(examples), emg.ErrTrainingData)
	}
	d := examples[0].Features.Dim()
	if d == 0 {
		return Projection{}, fmt.Errorf("empty feature vectors: %w", emg.ErrTrainingData)
	}

	n := len(examples)
	x := mat.NewDense(n, d, nil)
	for i, ex := range examples {
		if ex.Features.Dim() != d {
			return Projection{}, fmt.Errorf("example %d has %d features, want %d: %w", i, ex.Features.Dim(), d, emg.ErrTrainingData)
		}
		x.SetRow(i, ex.Features.Values)
	}

	var pc stat.PC
	if ok := pc.PrincipalComponents(x, nil); !ok {
		return Projection{}, fmt.Errorf("principal component analysis failed: %w", emg.ErrTrainingData)
	}
	var vecs mat.Dense
	pc.VectorsTo(&vecs)
	vars := pc.VarsTo(nil)

	_, cols := vecs.Dims()
	k := min(2, cols)

	// Centre before projecting so the plot is anchored at the data mean.
	centred := mat.NewDense(n, d, nil)
	for j := 0; j < d; j++ {
		col := mat.Col(nil, j, x)
		mean := stat.Mean(col, nil)
		for i := range col {
			centred.Set(i, j, col[i]-mean)
		}
	}
	var proj mat.Dense
	proj.Mul(centred, vecs.Slice(0, d, 0, k))

	out := Projection{
		Labels:   make([]string, n),
		X:        make([]float64, n),
		Y:        make([]float64, n),
		Variance: vars[:k],
	}
	for i, ex := range examples {
		out.Labels[i] = ex.Label
		out.X[i] = proj.At(i, 0)
		if k > 1 {
			out.Y[i] = proj.At(i, 1)
		}
	}
	return out, nil
}

// FeatureScatter builds a scatter plot of the projected examples with one
// series per class, in the order classes are given.
func FeatureScatter(title string, classes []string, p Projection) (*plot.Plot, error) {
	pl := plot.New()
	pl.Title.Text = title
	pl.X.Label.Text = "PC1"
	pl.Y.Label.Text = "PC2"
	if len(p.Variance) > 0 {
		pl.X.Label.Text = fmt.Sprintf("PC1 (var %.3g)", p.Variance[0])
	}
	if len(p.Variance) > 1 {
		pl.Y.Label.Text = fmt.Sprintf("PC2 (var %.3g)", p.Variance[1])
	}
	pl.Add(plotter.NewGrid())

	colors := generateColors(len(classes))
	for ci, class := range classes {
		var pts plotter.XYs
		for i, label := range p.Labels {
			if label == class {
				pts = append(pts, plotter.XY{X: p.X[i], Y: p.Y[i]})
			}
		}
		if len(pts) == 0 {
			continue
		}
		s, err := plotter.NewScatter(pts)
		if err != nil {
			return nil, fmt.Errorf("failed to create scatter for class %s: %w", class, err)
		}
		s.GlyphStyle.Color = colors[ci]
		s.GlyphStyle.Radius = vg.Points(2)
		s.GlyphStyle.Shape = draw.CircleGlyph{}
		pl.Add(s)
		pl.Legend.Add("class "+class, s)
	}
	pl.Legend.Top = true
	return pl, nil
}

// WriteFeatureScatter projects examples and writes the scatter plot to path.
// The image format follows the file extension (png, svg, pdf, ...).
func WriteFeatureScatter(fsys fsutil.FileSystem, path string, classes []string, examples []l4classify.Example) error {
	proj, err := Project(examples)
	if err != nil {
		return err
	}
	pl, err := FeatureScatter("Feature space (PCA)", classes, proj)
	if err != nil {
		return err
	}

	format := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	if format == "" {
		format = "png"
	}
	wt, err := pl.WriterTo(10*vg.Inch, 8*vg.Inch, format)
	if err != nil {
		return fmt.Errorf("failed to render scatter plot: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := fsys.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create report directory: %w", err)
		}
	}
	f, err := fsys.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if _, err := wt.WriteTo(f); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	monitoring.Logf("report: wrote feature scatter (%d examples) to %s", len(examples), path)
	return nil
}

// generateColors spreads n hues evenly around the colour wheel.
func generateColors(n int) []color.Color {
	if n <= 0 {
		return nil
	}
	colors := make([]color.Color, n)
	for i := 0; i < n; i++ {
		hue := float64(i) / float64(n)
		r, g, b := hslToRGB(hue, 0.7, 0.5)
		colors[i] = color.RGBA{R: r, G: g, B: b, A: 255}
	}
	return colors
}

func hslToRGB(h, s, l float64) (r, g, b uint8) {
	var rf, gf, bf float64
	if s == 0 {
		rf, gf, bf = l, l, l
	} else {
		var q float64
		if l < 0.5 {
			q = l * (1 + s)
		} else {
			q = l + s - l*s
		}
		p := 2*l - q
		rf = hueToRGB(p, q, h+1.0/3.0)
		gf = hueToRGB(p, q, h)
		bf = hueToRGB(p, q, h-1.0/3.0)
	}
	return uint8(rf * 255), uint8(gf * 255), uint8(bf * 255)
}

func hueToRGB(p, q, t float64) float64 {
	if t < 0 {
		t++
	}
	if t > 1 {
		t--
	}
	switch {
	case t < 1.0/6.0:
		return p + (q-p)*6*t
	case t < 1.0/2.0:
		return q
	case t < 2.0/3.0:
		return p + (q-p)*(2.0/3.0-t)*6
	}
	return p
}
