package bluesky

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownDocument is returned for document names Router does not
	// recognise.
	ErrUnknownDocument = errors.New("unknown document type")
	// ErrOrphanDocument is returned when a document refers to a run or
	// descriptor that Router has not seen (or has already closed).
	ErrOrphanDocument = errors.New("document references unknown run or descriptor")
)

type streamRef struct {
	run    *Run
	stream *Stream
}

// Router turns a sequence of (name, document) pairs into Runs. The
// callback passed to NewRouter is invoked with each new Run before any of
// its streams exist, so it can subscribe to OnNewStream in time.
type Router struct {
	onRun       func(*Run)
	runs        map[string]*Run
	descriptors map[string]streamRef
}

// NewRouter returns a Router that reports every new run to onRun.
func NewRouter(onRun func(*Run)) *Router {
	return &Router{
		onRun:       onRun,
		runs:        make(map[string]*Run),
		descriptors: make(map[string]streamRef),
	}
}

// Open returns the number of runs that have started but not stopped.
func (rt *Router) Open() int { return len(rt.runs) }

// Route applies one document.
func (rt *Router) Route(name string, doc Document) error {
	switch name {
	case DocStart:
		return rt.start(doc)
	case DocDescriptor:
		return rt.descriptor(doc)
	case DocEvent:
		return rt.event(doc)
	case DocEventPage:
		return rt.eventPage(doc)
	case DocStop:
		return rt.stop(doc)
	case DocResource, DocDatum, DocDatumPage:
		// external file references are not plotted
		return nil
	}
	return fmt.Errorf("%w: %q", ErrUnknownDocument, name)
}

func (rt *Router) start(doc Document) error {
	run, err := NewRun(doc)
	if err != nil {
		return err
	}
	if _, dup := rt.runs[run.uid]; dup {
		return fmt.Errorf("duplicate start document for run %s", run.uid)
	}
	rt.runs[run.uid] = run
	if rt.onRun != nil {
		rt.onRun(run)
	}
	return nil
}

func (rt *Router) descriptor(doc Document) error {
	uid := doc.String("uid")
	if uid == "" {
		return fmt.Errorf("descriptor has no uid")
	}
	run, ok := rt.runs[doc.String("run_start")]
	if !ok {
		return fmt.Errorf("descriptor %s: %w", uid, ErrOrphanDocument)
	}
	name := doc.String("name")
	if name == "" {
		name = PrimaryStream
	}
	stream := run.addStream(name, doc.Map("data_keys"))
	rt.descriptors[uid] = streamRef{run: run, stream: stream}
	return nil
}

func (rt *Router) event(doc Document) error {
	ref, ok := rt.descriptors[doc.String("descriptor")]
	if !ok {
		return fmt.Errorf("event: %w", ErrOrphanDocument)
	}
	ts, _ := doc.Float("time")
	ref.stream.Append(doc.Map("data"), ts)
	ref.run.updated(ref.stream.name)
	return nil
}

func (rt *Router) eventPage(doc Document) error {
	ref, ok := rt.descriptors[doc.String("descriptor")]
	if !ok {
		return fmt.Errorf("event_page: %w", ErrOrphanDocument)
	}
	data := doc.Map("data")
	times, _ := doc["time"].([]any)

	n := len(times)
	for _, values := range data {
		if col, ok := values.([]any); ok && len(col) > n {
			n = len(col)
		}
	}
	for i := 0; i < n; i++ {
		row := make(map[string]any, len(data))
		for key, values := range data {
			if col, ok := values.([]any); ok && i < len(col) {
				row[key] = col[i]
			}
		}
		var ts float64
		if i < len(times) {
			ts = toFloat(times[i])
		}
		ref.stream.Append(row, ts)
	}
	if n > 0 {
		ref.run.updated(ref.stream.name)
	}
	return nil
}

func (rt *Router) stop(doc Document) error {
	uid := doc.String("run_start")
	run, ok := rt.runs[uid]
	if !ok {
		return fmt.Errorf("stop: %w", ErrOrphanDocument)
	}
	delete(rt.runs, uid)
	for id, ref := range rt.descriptors {
		if ref.run == run {
			delete(rt.descriptors, id)
		}
	}
	run.close(doc)
	return nil
}
