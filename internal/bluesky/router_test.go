package bluesky

import (
	"errors"
	"math"
	"testing"
)

func startDoc(uid, plan string) Document {
	return Document{
		"uid":       uid,
		"time":      1700000000.0,
		"plan_name": plan,
		"motors":    []any{"dcm_energy"},
		"scan_id":   float64(42),
		"XDI": map[string]any{
			"Element": map[string]any{"Symbol": "Fe"},
		},
	}
}

func TestRouter_FullRun(t *testing.T) {
	var runs []*Run
	var streams []string
	var updates int
	var completed []string

	rt := NewRouter(func(r *Run) {
		runs = append(runs, r)
		r.OnNewStream(func(_ *Run, name string) { streams = append(streams, name) })
		r.OnUpdate(func(_ *Run, _ string) { updates++ })
		r.OnComplete(func(r *Run) { completed = append(completed, r.UID()) })
	})

	docs := []struct {
		name string
		doc  Document
	}{
		{DocStart, startDoc("run-1", "scan_nd xafs trans")},
		{DocDescriptor, Document{"uid": "desc-1", "run_start": "run-1", "name": "primary",
			"data_keys": map[string]any{"I0": map[string]any{}, "It": map[string]any{}}}},
		{DocDescriptor, Document{"uid": "desc-2", "run_start": "run-1", "name": "baseline"}},
		{DocEvent, Document{"descriptor": "desc-1", "time": 1.0, "seq_num": 1.0,
			"data": map[string]any{"I0": 10.0, "It": 5.0}}},
		{DocEventPage, Document{"descriptor": "desc-1", "time": []any{2.0, 3.0},
			"data": map[string]any{"I0": []any{11.0, 12.0}, "It": []any{6.0, 7.0}}}},
		{DocDatum, Document{"datum_id": "x"}},
		{DocStop, Document{"uid": "stop-1", "run_start": "run-1", "exit_status": "success"}},
	}
	for _, d := range docs {
		if err := rt.Route(d.name, d.doc); err != nil {
			t.Fatalf("Route(%s) failed: %v", d.name, err)
		}
	}

	if len(runs) != 1 {
		t.Fatalf("expected 1 run, got %d", len(runs))
	}
	run := runs[0]
	if got, want := len(streams), 2; got != want {
		t.Fatalf("streams = %v, want %d entries", streams, want)
	}
	if streams[0] != "primary" || streams[1] != "baseline" {
		t.Errorf("stream order = %v", streams)
	}
	if updates != 2 {
		t.Errorf("updates = %d, want 2", updates)
	}
	if len(completed) != 1 || completed[0] != "run-1" {
		t.Errorf("completed = %v", completed)
	}
	if !run.Closed() || run.ExitStatus() != "success" {
		t.Errorf("run not closed correctly: closed=%v status=%q", run.Closed(), run.ExitStatus())
	}
	if rt.Open() != 0 {
		t.Errorf("router still tracks %d open runs", rt.Open())
	}

	primary, ok := run.Stream("primary")
	if !ok {
		t.Fatal("primary stream missing")
	}
	if primary.Len() != 3 {
		t.Fatalf("primary rows = %d, want 3", primary.Len())
	}
	i0, _ := primary.Column("I0")
	if i0[0] != 10 || i0[2] != 12 {
		t.Errorf("I0 column = %v", i0)
	}
	ts, _ := primary.Column(TimeColumn)
	if ts[1] != 2 {
		t.Errorf("time column = %v", ts)
	}
}

func TestRouter_MetadataAccessors(t *testing.T) {
	run, err := NewRun(startDoc("abcdef0123", "rel_scan linescan xafs_y It"))
	if err != nil {
		t.Fatal(err)
	}
	if run.PlanName() != "rel_scan linescan xafs_y It" {
		t.Errorf("PlanName = %q", run.PlanName())
	}
	if m := run.Motors(); len(m) != 1 || m[0] != "dcm_energy" {
		t.Errorf("Motors = %v", m)
	}
	if run.ElementSymbol() != "Fe" {
		t.Errorf("ElementSymbol = %q", run.ElementSymbol())
	}
	if run.Label() != "scan 42 (abcdef01)" {
		t.Errorf("Label = %q", run.Label())
	}

	bare, _ := NewRun(Document{"uid": "u"})
	if bare.ElementSymbol() != "" || bare.PlanName() != "" || bare.Motors() != nil {
		t.Error("missing metadata should read as empty")
	}
}

func TestRouter_Errors(t *testing.T) {
	rt := NewRouter(nil)

	if err := rt.Route("bogus", Document{}); !errors.Is(err, ErrUnknownDocument) {
		t.Errorf("expected ErrUnknownDocument, got %v", err)
	}
	if err := rt.Route(DocStart, Document{}); err == nil {
		t.Error("expected error for start without uid")
	}
	if err := rt.Route(DocEvent, Document{"descriptor": "nope"}); !errors.Is(err, ErrOrphanDocument) {
		t.Errorf("expected ErrOrphanDocument for event, got %v", err)
	}
	if err := rt.Route(DocDescriptor, Document{"uid": "d", "run_start": "nope"}); !errors.Is(err, ErrOrphanDocument) {
		t.Errorf("expected ErrOrphanDocument for descriptor, got %v", err)
	}
	if err := rt.Route(DocStop, Document{"run_start": "nope"}); !errors.Is(err, ErrOrphanDocument) {
		t.Errorf("expected ErrOrphanDocument for stop, got %v", err)
	}

	if err := rt.Route(DocStart, Document{"uid": "dup"}); err != nil {
		t.Fatal(err)
	}
	if err := rt.Route(DocStart, Document{"uid": "dup"}); err == nil {
		t.Error("expected error for duplicate start")
	}
}

func TestStream_AppendPadsNewColumns(t *testing.T) {
	s := newStream("primary", nil)
	s.Append(map[string]any{"a": 1.0}, 1)
	s.Append(map[string]any{"a": 2.0, "b": "text"}, 2)
	s.Append(map[string]any{"b": 3}, 3)

	a, _ := s.Column("a")
	b, _ := s.Column("b")
	if len(a) != 3 || len(b) != 3 {
		t.Fatalf("column lengths a=%d b=%d", len(a), len(b))
	}
	if !math.IsNaN(a[2]) {
		t.Errorf("a[2] = %v, want NaN", a[2])
	}
	if !math.IsNaN(b[0]) || !math.IsNaN(b[1]) || b[2] != 3 {
		t.Errorf("b = %v", b)
	}
	if got := s.Columns(); len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != TimeColumn {
		t.Errorf("Columns = %v", got)
	}
}

func TestRun_OnCompleteAfterClose(t *testing.T) {
	run, _ := NewRun(Document{"uid": "u"})
	run.close(Document{"exit_status": "abort"})
	called := false
	run.OnComplete(func(*Run) { called = true })
	if !called {
		t.Error("OnComplete on a closed run should fire immediately")
	}
}
