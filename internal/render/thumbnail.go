package render

import (
	"context"
	"errors"
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"strings"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"

	"github.com/nsls2/ariadne/internal/chart"
	"github.com/nsls2/ariadne/internal/monitoring"
	"github.com/nsls2/ariadne/internal/security"
)

var logf = monitoring.Prefixed("render")

// ThumbnailRecorder is notified of every thumbnail written.
// *store.Store implements it.
type ThumbnailRecorder interface {
	RecordThumbnail(ctx context.Context, runUID, figureTitle, path string) error
}

// ThumbnailExporter writes PNG thumbnails of the figures a completed run
// appears in.
type ThumbnailExporter struct {
	Dir string
	// Width and Height of one axes panel. Figures with several axes stack
	// their panels vertically.
	Width, Height vg.Length
	Recorder      ThumbnailRecorder
}

// NewThumbnailExporter returns an exporter writing under dir. rec may be nil.
func NewThumbnailExporter(dir string, rec ThumbnailRecorder) *ThumbnailExporter {
	return &ThumbnailExporter{
		Dir:      dir,
		Width:    6 * vg.Inch,
		Height:   4 * vg.Inch,
		Recorder: rec,
	}
}

// ThumbnailName turns a figure title into a file name: "/" becomes
// "_divided_by_" and anything else unsafe is replaced.
func ThumbnailName(title string) string {
	return security.SanitizeFilename(strings.ReplaceAll(title, "/", "_divided_by_")) + ".png"
}

// ThumbnailPath is where the thumbnail of a figure titled title is written
// for the run runUID.
func ThumbnailPath(dir, runUID, title string) string {
	return filepath.Join(dir, security.SanitizeFilename(runUID), ThumbnailName(title))
}

// Export renders each snapshot to ThumbnailPath and returns the paths
// written. Snapshots are expected to be restricted to runUID. A figure that
// fails to render does not stop the others; the errors are joined.
func (e *ThumbnailExporter) Export(ctx context.Context, runUID string, figs []chart.FigureSnapshot) ([]string, error) {
	if len(figs) == 0 {
		return nil, nil
	}
	runDir := filepath.Join(e.Dir, security.SanitizeFilename(runUID))
	if err := os.MkdirAll(runDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create thumbnail dir: %w", err)
	}

	var (
		paths []string
		errs  []error
	)
	for _, fig := range figs {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		path := ThumbnailPath(e.Dir, runUID, fig.Title)
		if err := security.ValidatePathWithinDirectory(path, e.Dir); err != nil {
			errs = append(errs, err)
			continue
		}
		if err := e.writePNG(path, fig); err != nil {
			errs = append(errs, fmt.Errorf("figure %q: %w", fig.Title, err))
			continue
		}
		paths = append(paths, path)
		if e.Recorder != nil {
			if err := e.Recorder.RecordThumbnail(ctx, runUID, fig.Title, path); err != nil {
				logf("record thumbnail %s: %v", path, err)
			}
		}
	}
	return paths, errors.Join(errs...)
}

func (e *ThumbnailExporter) writePNG(path string, fig chart.FigureSnapshot) error {
	if len(fig.Axes) == 0 {
		return fmt.Errorf("figure has no axes")
	}
	rows := make([][]*plot.Plot, len(fig.Axes))
	for i, ax := range fig.Axes {
		p, err := axesPlot(ax)
		if err != nil {
			return err
		}
		rows[i] = []*plot.Plot{p}
	}

	img := vgimg.New(e.Width, e.Height*vg.Length(len(rows)))
	dc := draw.New(img)
	tiles := draw.Tiles{
		Rows:      len(rows),
		Cols:      1,
		PadTop:    vg.Millimeter * 2,
		PadBottom: vg.Millimeter * 2,
		PadLeft:   vg.Millimeter * 2,
		PadRight:  vg.Millimeter * 2,
		PadY:      vg.Millimeter * 4,
	}
	canvases := plot.Align(rows, tiles, dc)
	for i := range rows {
		rows[i][0].Draw(canvases[i][0])
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := (vgimg.PngCanvas{Canvas: img}).WriteTo(f); err != nil {
		f.Close()
		return fmt.Errorf("encode png: %w", err)
	}
	return f.Close()
}

func axesPlot(ax chart.AxesSnapshot) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = ax.Title
	p.X.Label.Text = ax.X
	p.Y.Label.Text = ax.Title

	colors := generateColors(len(ax.Series))
	for i, s := range ax.Series {
		f := s.Finite()
		if len(f.X) == 0 {
			continue
		}
		pts := make(plotter.XYs, len(f.X))
		for j := range f.X {
			pts[j] = plotter.XY{X: f.X[j], Y: f.Y[j]}
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return nil, err
		}
		line.Color = colors[i]
		line.Width = vg.Points(1)
		p.Add(line)
		p.Legend.Add(s.Label, line)
	}
	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10
	return p, nil
}

// generateColors spreads n hues around the colour wheel.
func generateColors(n int) []color.Color {
	if n <= 0 {
		return nil
	}
	colors := make([]color.Color, n)
	for i := 0; i < n; i++ {
		r, g, b := hslToRGB(float64(i)/float64(n), 0.7, 0.45)
		colors[i] = color.RGBA{R: r, G: g, B: b, A: 255}
	}
	return colors
}

func hslToRGB(h, s, l float64) (r, g, b uint8) {
	if s == 0 {
		v := uint8(l * 255)
		return v, v, v
	}
	q := l + s - l*s
	if l < 0.5 {
		q = l * (1 + s)
	}
	p := 2*l - q
	return uint8(hueToRGB(p, q, h+1.0/3.0) * 255),
		uint8(hueToRGB(p, q, h) * 255),
		uint8(hueToRGB(p, q, h-1.0/3.0) * 255)
}

func hueToRGB(p, q, t float64) float64 {
	switch {
	case t < 0:
		t++
	case t > 1:
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
