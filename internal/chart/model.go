package chart

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/nsls2/ariadne/internal/bluesky"
	"github.com/nsls2/ariadne/internal/monitoring"
)

// AxesSpec describes one set of axes to create inside a Figure.
type AxesSpec struct {
	Title  string
	XLabel string
	YLabel string
}

// Axes is one plotting area of a Figure. Exactly one Lines model draws into
// a given Axes.
type Axes struct {
	AxesSpec
	figure *Figure
}

// Figure returns the figure that owns the axes.
func (a *Axes) Figure() *Figure { return a.figure }

// Figure is a titled container of one or more Axes.
type Figure struct {
	UUID  uuid.UUID
	Title string
	Axes  []*Axes
}

// NewFigure creates a figure with one Axes per spec.
func NewFigure(title string, specs ...AxesSpec) *Figure {
	fig := &Figure{UUID: uuid.New(), Title: title}
	for _, spec := range specs {
		fig.Axes = append(fig.Axes, &Axes{AxesSpec: spec, figure: fig})
	}
	return fig
}

// Lines is a line-plot model: one x column against one or more
// y-expressions, layered over the most recent MaxRuns runs.
type Lines struct {
	X       string
	Ys      []string
	MaxRuns int
	Axes    *Axes
	// Stream is the stream the columns are read from.
	Stream string

	exprs []*Expression
	runs  []*bluesky.Run
}

// NewLines compiles the y-expressions and returns an empty model. maxRuns
// below one is treated as one.
func NewLines(x string, ys []string, maxRuns int, axes *Axes) (*Lines, error) {
	if x == "" {
		return nil, fmt.Errorf("lines: empty x column")
	}
	if len(ys) == 0 {
		return nil, fmt.Errorf("lines: no y expressions")
	}
	if maxRuns < 1 {
		maxRuns = 1
	}
	l := &Lines{
		X:       x,
		Ys:      append([]string(nil), ys...),
		MaxRuns: maxRuns,
		Axes:    axes,
		Stream:  bluesky.PrimaryStream,
	}
	for _, y := range ys {
		e, err := Compile(y)
		if err != nil {
			return nil, err
		}
		l.exprs = append(l.exprs, e)
	}
	return l, nil
}

// Figure returns the figure the model draws into, or nil when it has no
// axes.
func (l *Lines) Figure() *Figure {
	if l.Axes == nil {
		return nil
	}
	return l.Axes.figure
}

// AddRun appends run as the newest trace. When more than MaxRuns runs are
// attached the oldest are discarded. Adding a run that is already attached
// is a no-op.
func (l *Lines) AddRun(run *bluesky.Run) {
	if l.HasRun(run.UID()) {
		return
	}
	l.runs = append(l.runs, run)
	for len(l.runs) > l.MaxRuns {
		l.runs[0] = nil
		l.runs = l.runs[1:]
	}
}

// DiscardRun detaches the run with the given uid.
func (l *Lines) DiscardRun(uid string) bool {
	for i, r := range l.runs {
		if r.UID() == uid {
			l.runs = append(l.runs[:i], l.runs[i+1:]...)
			return true
		}
	}
	return false
}

// HasRun reports whether the run with the given uid is attached.
func (l *Lines) HasRun(uid string) bool {
	for _, r := range l.runs {
		if r.UID() == uid {
			return true
		}
	}
	return false
}

// Runs returns the attached runs, oldest first.
func (l *Lines) Runs() []*bluesky.Run {
	return append([]*bluesky.Run(nil), l.runs...)
}

// Series evaluates every (run, y-expression) pair. Runs that do not have the
// stream yet, or lack a referenced column, contribute nothing.
func (l *Lines) Series() []Series {
	var out []Series
	for _, run := range l.runs {
		out = append(out, l.seriesFor(run)...)
	}
	return out
}

// SeriesFor is Series restricted to one run.
func (l *Lines) SeriesFor(uid string) []Series {
	for _, run := range l.runs {
		if run.UID() == uid {
			return l.seriesFor(run)
		}
	}
	return nil
}

func (l *Lines) seriesFor(run *bluesky.Run) []Series {
	stream, ok := run.Stream(l.Stream)
	if !ok || stream.Len() == 0 {
		return nil
	}
	x, ok := stream.Column(l.X)
	if !ok {
		return nil
	}
	var out []Series
	for _, e := range l.exprs {
		y, err := e.Eval(stream)
		if err != nil {
			monitoring.Logf("chart: run %s: %v", run.UID(), err)
			continue
		}
		label := run.Label()
		if len(l.exprs) > 1 {
			label += " " + e.String()
		}
		out = append(out, Series{RunUID: run.UID(), Label: label, X: x, Y: y})
	}
	return out
}
