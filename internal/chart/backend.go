// Package chart holds the plot models that the auto-plot dispatcher drives
// and the HTTP and thumbnail renderers draw: Figures made of Axes, Lines
// models bound to Axes, and the Backend that keeps the live collections.
//
// Like the bluesky package, nothing here is safe for concurrent use. The
// application confines each Backend to the feed sequencing goroutine.
package chart

import (
	"github.com/google/uuid"
)

// Backend owns the live figures and line models of one view ("live" or
// "replay").
type Backend struct {
	Name     string
	Figures  *Collection[*Figure]
	Builders *Collection[*Lines]
}

// NewBackend returns an empty backend. When the last Lines model drawing into
// a figure is removed, the figure is removed too.
func NewBackend(name string) *Backend {
	b := &Backend{
		Name:     name,
		Figures:  &Collection[*Figure]{},
		Builders: &Collection[*Lines]{},
	}
	b.Builders.OnRemoved(func(l *Lines) {
		fig := l.Figure()
		if fig != nil && len(b.LinesFor(fig)) == 0 {
			b.Figures.Remove(fig)
		}
	})
	return b
}

// CreateFigure creates a figure with the given axes and makes it visible.
func (b *Backend) CreateFigure(title string, specs ...AxesSpec) *Figure {
	fig := NewFigure(title, specs...)
	b.Figures.Append(fig)
	return fig
}

// CreateLineChart creates a Lines model on axes and registers it.
func (b *Backend) CreateLineChart(x string, ys []string, maxRuns int, axes *Axes) (*Lines, error) {
	l, err := NewLines(x, ys, maxRuns, axes)
	if err != nil {
		return nil, err
	}
	b.Builders.Append(l)
	return l, nil
}

// OnLinesRemoved registers fn to run whenever a Lines model is removed.
func (b *Backend) OnLinesRemoved(fn func(*Lines)) { b.Builders.OnRemoved(fn) }

// Figure looks up a visible figure.
func (b *Backend) Figure(id uuid.UUID) (*Figure, bool) {
	for _, fig := range b.Figures.Items() {
		if fig.UUID == id {
			return fig, true
		}
	}
	return nil, false
}

// LinesFor returns the models drawing into fig, in axes order.
func (b *Backend) LinesFor(fig *Figure) []*Lines {
	var out []*Lines
	for _, ax := range fig.Axes {
		for _, l := range b.Builders.Items() {
			if l.Axes == ax {
				out = append(out, l)
			}
		}
	}
	return out
}

// RemoveFigure closes a figure: its models are removed first (firing the
// removal hooks) and then the figure itself.
func (b *Backend) RemoveFigure(id uuid.UUID) bool {
	fig, ok := b.Figure(id)
	if !ok {
		return false
	}
	for _, l := range b.LinesFor(fig) {
		b.Builders.Remove(l)
	}
	b.Figures.Remove(fig)
	return true
}

// RemoveLines removes a single model.
func (b *Backend) RemoveLines(l *Lines) bool { return b.Builders.Remove(l) }

// FiguresWithRun returns the figures that have at least one model showing
// the run.
func (b *Backend) FiguresWithRun(uid string) []*Figure {
	var out []*Figure
	for _, fig := range b.Figures.Items() {
		for _, l := range b.LinesFor(fig) {
			if l.HasRun(uid) {
				out = append(out, fig)
				break
			}
		}
	}
	return out
}
