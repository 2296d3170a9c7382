// Package autoplot decides which charts to draw for each new run.
//
// A Dispatcher watches runs for their "primary" stream, decodes the run's
// plan name into a plan type, sub-type and x column, resolves the
// y-expressions for the sub-type, and routes the run into one Lines model per
// (plan, x, y) plot key, creating the model and its figure on first use.
// Unsupported or malformed metadata never produces an error: the run is
// skipped and the reason is logged and counted.
package autoplot

import (
	"expvar"

	"github.com/google/uuid"
	"tailscale.com/metrics"

	"github.com/nsls2/ariadne/internal/bluesky"
	"github.com/nsls2/ariadne/internal/chart"
	"github.com/nsls2/ariadne/internal/monitoring"
)

// DefaultMaxRuns is the number of runs a newly created chart keeps when no
// WithMaxRuns option is given.
const DefaultMaxRuns = 1

var skippedRuns = &metrics.LabelMap{Label: "reason"}

func init() {
	expvar.Publish("counter_autoplot_skipped", skippedRuns)
}

var logf = monitoring.Prefixed("autoplot")

// Backend is the chart rendering capability the dispatcher drives.
// *chart.Backend implements it.
type Backend interface {
	CreateFigure(title string, specs ...chart.AxesSpec) *chart.Figure
	CreateLineChart(x string, ys []string, maxRuns int, axes *chart.Axes) (*chart.Lines, error)
	RemoveFigure(id uuid.UUID) bool
	OnLinesRemoved(fn func(*chart.Lines))
}

// PlotKey groups runs that share one chart.
type PlotKey struct {
	Plan string
	X    string
	Y    string
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithMaxRuns sets how many runs each chart created by the dispatcher keeps.
func WithMaxRuns(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.maxRuns = n
		}
	}
}

// WithName labels the dispatcher in log messages.
func WithName(name string) Option {
	return func(d *Dispatcher) { d.name = name }
}

// WithSkipReporter installs a callback invoked for every skip condition in
// addition to logging and counting.
func WithSkipReporter(fn func(run *bluesky.Run, reason SkipReason)) Option {
	return func(d *Dispatcher) { d.report = fn }
}

// Dispatcher maps runs to charts. It is not safe for concurrent use: all
// calls, including the removal callback fired by the backend, must come from
// one goroutine.
type Dispatcher struct {
	backend Backend
	name    string
	maxRuns int
	models  map[PlotKey]*chart.Lines
	report  func(*bluesky.Run, SkipReason)
}

// New returns a dispatcher drawing into backend and subscribes it to the
// backend's removal notifications.
func New(backend Backend, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		backend: backend,
		name:    "autoplot",
		maxRuns: DefaultMaxRuns,
		models:  make(map[PlotKey]*chart.Lines),
	}
	for _, opt := range opts {
		opt(d)
	}
	backend.OnLinesRemoved(d.OnChartModelRemoved)
	return d
}

// MaxRuns returns the history depth given to new charts.
func (d *Dispatcher) MaxRuns() int { return d.maxRuns }

// AddRun subscribes the dispatcher to the run's streams. Streams that
// already exist (a replayed, complete run) are handled immediately.
func (d *Dispatcher) AddRun(run *bluesky.Run) {
	for _, name := range run.StreamNames() {
		d.OnNewStream(run, name)
	}
	run.OnNewStream(d.OnNewStream)
}

// OnNewStream routes run into its charts when stream is the primary stream.
func (d *Dispatcher) OnNewStream(run *bluesky.Run, stream string) {
	if stream != bluesky.PrimaryStream {
		return
	}
	plan, reason := ParsePlan(run.PlanName())
	if reason != "" {
		d.skip(run, reason)
		return
	}
	exprs, dropped := YExpressions(plan.SubType, run.ElementSymbol())
	if dropped > 0 {
		d.skip(run, SkipMissingElement)
	}
	planKey := plan.Key()
	for _, group := range figureGroups(exprs) {
		var pending []string
		for _, y := range group {
			if l, ok := d.models[PlotKey{Plan: planKey, X: plan.X, Y: y}]; ok {
				l.AddRun(run)
				continue
			}
			pending = append(pending, y)
		}
		if len(pending) > 0 {
			d.create(run, planKey, plan.X, pending)
		}
	}
}

// create makes one figure holding one Lines model per y-expression.
func (d *Dispatcher) create(run *bluesky.Run, planKey, x string, ys []string) {
	specs := make([]chart.AxesSpec, len(ys))
	for i, y := range ys {
		specs[i] = chart.AxesSpec{Title: y, XLabel: x, YLabel: y}
	}
	fig := d.backend.CreateFigure(figureTitle(ys), specs...)

	created := 0
	for i, y := range ys {
		l, err := d.backend.CreateLineChart(x, []string{y}, d.maxRuns, fig.Axes[i])
		if err != nil {
			logf("%s: run %s: %v", d.name, run.UID(), err)
			d.skip(run, SkipBadExpression)
			continue
		}
		d.models[PlotKey{Plan: planKey, X: x, Y: y}] = l
		l.AddRun(run)
		created++
	}
	if created == 0 {
		d.backend.RemoveFigure(fig.UUID)
	}
}

// OnChartModelRemoved forgets every plot key that points at l, so the next
// matching run creates a fresh chart.
func (d *Dispatcher) OnChartModelRemoved(l *chart.Lines) {
	for key, model := range d.models {
		if model == l {
			delete(d.models, key)
		}
	}
}

// Lookup returns the live chart registered under key.
func (d *Dispatcher) Lookup(key PlotKey) (*chart.Lines, bool) {
	l, ok := d.models[key]
	return l, ok
}

// Len returns the number of registered plot keys.
func (d *Dispatcher) Len() int { return len(d.models) }

func (d *Dispatcher) skip(run *bluesky.Run, reason SkipReason) {
	skippedRuns.Add(string(reason), 1)
	logf("%s: run %s (plan %q): %s", d.name, run.UID(), run.PlanName(), reason)
	if d.report != nil {
		d.report(run, reason)
	}
}
