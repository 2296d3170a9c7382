package bluesky

import "fmt"

// PrimaryStream is the stream that carries the scan readings.
const PrimaryStream = "primary"

// Metadata holds the run-level documents.
type Metadata struct {
	Start Document
	Stop  Document
}

// Run is one execution of a plan: its start metadata, its streams and,
// once closed, its stop document.
type Run struct {
	uid      string
	meta     Metadata
	streams  map[string]*Stream
	order    []string
	onStream []func(*Run, string)
	onUpdate []func(*Run, string)
	onDone   []func(*Run)
}

// NewRun creates an open run from a start document.
func NewRun(start Document) (*Run, error) {
	uid := start.String("uid")
	if uid == "" {
		return nil, fmt.Errorf("start document has no uid")
	}
	return &Run{
		uid:     uid,
		meta:    Metadata{Start: start},
		streams: make(map[string]*Stream),
	}, nil
}

// UID returns the run's start uid.
func (r *Run) UID() string { return r.uid }

// Metadata returns the start (and, once closed, stop) documents.
func (r *Run) Metadata() Metadata { return r.meta }

// PlanName returns start.plan_name, or "" when absent.
func (r *Run) PlanName() string { return r.meta.Start.String("plan_name") }

// Motors returns start.motors.
func (r *Run) Motors() []string { return r.meta.Start.Strings("motors") }

// ScanID returns start.scan_id when present.
func (r *Run) ScanID() (int, bool) {
	f, ok := r.meta.Start.Float("scan_id")
	return int(f), ok
}

// ElementSymbol returns start.XDI.Element.Symbol, or "" when any level is
// missing.
func (r *Run) ElementSymbol() string {
	element := r.meta.Start.Map("XDI").Map("Element")
	if s := element.String("Symbol"); s != "" {
		return s
	}
	return element.String("symbol")
}

// Label is a short human readable name used for legends.
func (r *Run) Label() string {
	short := r.uid
	if len(short) > 8 {
		short = short[:8]
	}
	if id, ok := r.ScanID(); ok {
		return fmt.Sprintf("scan %d (%s)", id, short)
	}
	return short
}

// Stream returns the named stream.
func (r *Run) Stream(name string) (*Stream, bool) {
	s, ok := r.streams[name]
	return s, ok
}

// StreamNames returns stream names in order of declaration.
func (r *Run) StreamNames() []string {
	return append([]string(nil), r.order...)
}

// Closed reports whether a stop document has been received.
func (r *Run) Closed() bool { return r.meta.Stop != nil }

// ExitStatus returns stop.exit_status, or "" while the run is open.
func (r *Run) ExitStatus() string { return r.meta.Stop.String("exit_status") }

// OnNewStream registers fn to be called whenever a stream is declared.
func (r *Run) OnNewStream(fn func(run *Run, stream string)) {
	r.onStream = append(r.onStream, fn)
}

// OnUpdate registers fn to be called after rows are appended to a stream.
func (r *Run) OnUpdate(fn func(run *Run, stream string)) {
	r.onUpdate = append(r.onUpdate, fn)
}

// OnComplete registers fn to be called once when the run is closed. If the
// run is already closed fn is called immediately.
func (r *Run) OnComplete(fn func(run *Run)) {
	if r.Closed() {
		fn(r)
		return
	}
	r.onDone = append(r.onDone, fn)
}

// addStream returns the named stream, creating it (and notifying
// OnNewStream subscribers) when it does not exist yet.
func (r *Run) addStream(name string, dataKeys Document) *Stream {
	if s, ok := r.streams[name]; ok {
		return s
	}
	s := newStream(name, dataKeys)
	r.streams[name] = s
	r.order = append(r.order, name)
	for _, fn := range r.onStream {
		fn(r, name)
	}
	return s
}

func (r *Run) updated(stream string) {
	for _, fn := range r.onUpdate {
		fn(r, stream)
	}
}

func (r *Run) close(stop Document) {
	if r.Closed() {
		return
	}
	r.meta.Stop = stop
	done := r.onDone
	r.onDone = nil
	for _, fn := range done {
		fn(r)
	}
}
