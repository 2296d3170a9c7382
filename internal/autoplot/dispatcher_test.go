package autoplot

import (
	"expvar"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nsls2/ariadne/internal/bluesky"
	"github.com/nsls2/ariadne/internal/chart"
	"github.com/nsls2/ariadne/internal/monitoring"
)

type harness struct {
	t       *testing.T
	backend *chart.Backend
	disp    *Dispatcher
	router  *bluesky.Router
	skipped []SkipReason
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	orig := monitoring.Logf
	monitoring.SetLogger(t.Logf)
	t.Cleanup(func() { monitoring.Logf = orig })

	h := &harness{t: t, backend: chart.NewBackend("live")}
	opts = append(opts, WithSkipReporter(func(_ *bluesky.Run, reason SkipReason) {
		h.skipped = append(h.skipped, reason)
	}))
	h.disp = New(h.backend, opts...)
	h.router = bluesky.NewRouter(h.disp.AddRun)
	return h
}

// run routes a start document and, unless stream is empty, a descriptor for
// that stream with one event.
func (h *harness) run(uid string, start bluesky.Document, stream string) {
	h.t.Helper()
	doc := bluesky.Document{"uid": uid}
	for k, v := range start {
		doc[k] = v
	}
	require.NoError(h.t, h.router.Route(bluesky.DocStart, doc))
	if stream == "" {
		return
	}
	require.NoError(h.t, h.router.Route(bluesky.DocDescriptor, bluesky.Document{
		"uid": uid + "-desc", "run_start": uid, "name": stream,
	}))
	require.NoError(h.t, h.router.Route(bluesky.DocEvent, bluesky.Document{
		"descriptor": uid + "-desc", "time": 1.0,
		"data": map[string]any{"dcm_energy": 7112.0, "xafs_y": 1.5, "theta": 0.1,
			"I0": 10.0, "It": 5.0, "Ir": 2.0, "Fe1": 1.0, "Fe2": 1.0, "Fe3": 1.0, "Fe4": 1.0},
	}))
}

func plan(name string) bluesky.Document { return bluesky.Document{"plan_name": name} }

func TestDispatcher_LinescanSingleChart(t *testing.T) {
	h := newHarness(t)
	h.run("r1", plan("rel_scan linescan xafs_y It"), "primary")

	require.Equal(t, 1, h.disp.Len())
	l, ok := h.disp.Lookup(PlotKey{Plan: "rel_scan linescan xafs_y It", X: "xafs_y", Y: "It/I0"})
	require.True(t, ok)
	assert.Equal(t, "xafs_y", l.X)
	assert.Equal(t, []string{"It/I0"}, l.Ys)
	assert.Equal(t, DefaultMaxRuns, l.MaxRuns)
	assert.True(t, l.HasRun("r1"))
	assert.Equal(t, 1, h.backend.Figures.Len())
	assert.Empty(t, h.skipped)
}

func TestDispatcher_TransmissionSet(t *testing.T) {
	h := newHarness(t)
	h.run("r1", plan("scan_nd xafs trans"), "primary")

	ys := []string{"log(I0/It)", "log(It/Ir)", "I0", "It/I0", "Ir/It"}
	require.Equal(t, len(ys), h.disp.Len())
	for _, y := range ys {
		l, ok := h.disp.Lookup(PlotKey{Plan: "scan_nd xafs trans", X: EnergyColumn, Y: y})
		require.True(t, ok, y)
		assert.Equal(t, EnergyColumn, l.X)
		assert.True(t, l.HasRun("r1"))
	}
	// I0 and It/I0 share one figure.
	assert.Equal(t, 4, h.backend.Figures.Len())
	i0, _ := h.disp.Lookup(PlotKey{Plan: "scan_nd xafs trans", X: EnergyColumn, Y: "I0"})
	ratio, _ := h.disp.Lookup(PlotKey{Plan: "scan_nd xafs trans", X: EnergyColumn, Y: "It/I0"})
	assert.Same(t, i0.Figure(), ratio.Figure())
	assert.Equal(t, "It and I0", i0.Figure().Title)
}

func TestDispatcher_PlanTypeFirst(t *testing.T) {
	h := newHarness(t)
	h.run("r1", plan("linescan theta I0"), "primary")

	l, ok := h.disp.Lookup(PlotKey{Plan: "linescan theta I0", X: "theta", Y: "I0"})
	require.True(t, ok)
	assert.Equal(t, "theta", l.X)
	assert.Equal(t, 1, h.disp.Len())
}

func TestDispatcher_GroupsRunsIdempotently(t *testing.T) {
	h := newHarness(t, WithMaxRuns(3))
	h.run("r1", plan("rel_scan linescan xafs_y It"), "primary")
	h.run("r2", plan("rel_scan  linescan xafs_y It"), "primary")

	require.Equal(t, 1, h.disp.Len())
	assert.Equal(t, 1, h.backend.Figures.Len())
	l, _ := h.disp.Lookup(PlotKey{Plan: "rel_scan linescan xafs_y It", X: "xafs_y", Y: "It/I0"})
	require.NotNil(t, l)
	assert.Equal(t, 3, l.MaxRuns)
	assert.True(t, l.HasRun("r1"))
	assert.True(t, l.HasRun("r2"))

	// A second primary-stream notification for the same run changes nothing.
	run := l.Runs()[1]
	h.disp.OnNewStream(run, bluesky.PrimaryStream)
	assert.Len(t, l.Runs(), 2)
	assert.Equal(t, 1, h.disp.Len())
}

func TestDispatcher_MaxRunsKeepsNewest(t *testing.T) {
	h := newHarness(t)
	h.run("r1", plan("scan_nd xafs It"), "primary")
	h.run("r2", plan("scan_nd xafs It"), "primary")

	l, ok := h.disp.Lookup(PlotKey{Plan: "scan_nd xafs It", X: EnergyColumn, Y: "It/I0"})
	require.True(t, ok)
	assert.False(t, l.HasRun("r1"))
	assert.True(t, l.HasRun("r2"))
}

func TestDispatcher_RemovalForgetsKey(t *testing.T) {
	h := newHarness(t)
	h.run("r1", plan("scan_nd xafs It"), "primary")
	key := PlotKey{Plan: "scan_nd xafs It", X: EnergyColumn, Y: "It/I0"}
	old, ok := h.disp.Lookup(key)
	require.True(t, ok)

	require.True(t, h.backend.RemoveFigure(old.Figure().UUID))
	_, ok = h.disp.Lookup(key)
	assert.False(t, ok)
	assert.Zero(t, h.disp.Len())

	h.run("r2", plan("scan_nd xafs It"), "primary")
	fresh, ok := h.disp.Lookup(key)
	require.True(t, ok)
	assert.NotSame(t, old, fresh)
	assert.True(t, fresh.HasRun("r2"))
	assert.False(t, fresh.HasRun("r1"))
}

func TestDispatcher_PartialRemovalKeepsOtherKeys(t *testing.T) {
	h := newHarness(t)
	h.run("r1", plan("scan_nd xafs trans"), "primary")
	l, ok := h.disp.Lookup(PlotKey{Plan: "scan_nd xafs trans", X: EnergyColumn, Y: "I0"})
	require.True(t, ok)

	require.True(t, h.backend.RemoveLines(l))
	assert.Equal(t, 4, h.disp.Len())
	_, ok = h.disp.Lookup(PlotKey{Plan: "scan_nd xafs trans", X: EnergyColumn, Y: "It/I0"})
	assert.True(t, ok)
	// The shared figure survives while It/I0 still draws into it.
	assert.Equal(t, 4, h.backend.Figures.Len())

	// The next run recreates only the missing key, in a figure of its own.
	h.run("r2", plan("scan_nd xafs trans"), "primary")
	assert.Equal(t, 5, h.disp.Len())
	assert.Equal(t, 5, h.backend.Figures.Len())
	fresh, _ := h.disp.Lookup(PlotKey{Plan: "scan_nd xafs trans", X: EnergyColumn, Y: "I0"})
	require.NotNil(t, fresh)
	assert.Equal(t, "I0", fresh.Figure().Title)
}

func TestDispatcher_FluorescenceElement(t *testing.T) {
	h := newHarness(t)
	start := plan("scan_nd xafs If")
	start["XDI"] = map[string]any{"Element": map[string]any{"Symbol": "Fe"}}
	h.run("r1", start, "primary")

	l, ok := h.disp.Lookup(PlotKey{Plan: "scan_nd xafs If", X: EnergyColumn, Y: "(Fe1+Fe2+Fe3+Fe4)/I0"})
	require.True(t, ok)
	series := l.Series()
	require.Len(t, series, 1)
	assert.InDelta(t, 0.4, series[0].Y[0], 1e-12)
}

func TestDispatcher_FluorescenceWithoutElement(t *testing.T) {
	h := newHarness(t)
	h.run("r1", plan("scan_nd xafs fluorescence"), "primary")

	assert.Equal(t, 5, h.disp.Len())
	assert.Equal(t, []SkipReason{SkipMissingElement}, h.skipped)

	h2 := newHarness(t)
	h2.run("r1", plan("scan_nd xafs If"), "primary")
	assert.Zero(t, h2.disp.Len())
	assert.Zero(t, h2.backend.Figures.Len())
	assert.Equal(t, []SkipReason{SkipMissingElement}, h2.skipped)
}

func TestDispatcher_SkipsUnplottableRuns(t *testing.T) {
	tests := []struct {
		name   string
		start  bluesky.Document
		stream string
		reason SkipReason
	}{
		{"no plan name", bluesky.Document{}, "primary", SkipNoPlanName},
		{"one token", plan("count"), "primary", SkipShortPlanName},
		{"unsupported", plan("rel_scan grid xafs_y It"), "primary", SkipUnsupportedPlan},
		{"unknown sub-type", plan("scan_nd xafs bananas"), "primary", SkipUnknownSubType},
		{"missing motor", plan("rel_scan linescan It"), "primary", SkipMissingMotor},
		{"baseline only", plan("scan_nd xafs trans"), "baseline", ""},
		{"no descriptor", plan("scan_nd xafs trans"), "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			require.NotPanics(t, func() { h.run("r1", tt.start, tt.stream) })
			assert.Zero(t, h.disp.Len())
			assert.Zero(t, h.backend.Figures.Len())
			assert.Zero(t, h.backend.Builders.Len())
			if tt.reason == "" {
				assert.Empty(t, h.skipped)
			} else {
				assert.Equal(t, []SkipReason{tt.reason}, h.skipped)
			}
		})
	}
}

func TestDispatcher_AddRunWithExistingStreams(t *testing.T) {
	var run *bluesky.Run
	rt := bluesky.NewRouter(func(r *bluesky.Run) { run = r })
	require.NoError(t, rt.Route(bluesky.DocStart, bluesky.Document{"uid": "r1", "plan_name": "scan_nd xafs I0"}))
	require.NoError(t, rt.Route(bluesky.DocDescriptor, bluesky.Document{"uid": "d1", "run_start": "r1", "name": "primary"}))
	require.NoError(t, rt.Route(bluesky.DocStop, bluesky.Document{"uid": "s1", "run_start": "r1"}))
	require.NotNil(t, run)

	h := newHarness(t, WithMaxRuns(10), WithName("replay"))
	h.disp.AddRun(run)
	assert.Equal(t, 10, h.disp.MaxRuns())
	l, ok := h.disp.Lookup(PlotKey{Plan: "scan_nd xafs I0", X: EnergyColumn, Y: "I0"})
	require.True(t, ok)
	assert.True(t, l.HasRun("r1"))
	assert.Equal(t, 10, l.MaxRuns)
}

func TestSkippedRunsCounter(t *testing.T) {
	before := counterValue(string(SkipUnsupportedPlan))
	h := newHarness(t)
	h.run("r1", plan("rel_scan grid xafs_y It"), "primary")
	assert.Equal(t, before+1, counterValue(string(SkipUnsupportedPlan)))
}

func counterValue(reason string) int64 {
	v, ok := skippedRuns.Map.Get(reason).(*expvar.Int)
	if !ok {
		return 0
	}
	return v.Value()
}
