// Package feed moves bluesky documents from their sources (TCP document
// servers, redis pub/sub, JSONL files) into the routers that assemble runs.
//
// Everything that touches a Router, and through it the dispatchers and chart
// backends, happens on the single goroutine running Sequencer.Run. Sources
// only ever Submit; other goroutines (HTTP handlers) use Do.
package feed

import (
	"context"
	"errors"
	"expvar"
	"fmt"

	"tailscale.com/metrics"

	"github.com/nsls2/ariadne/internal/bluesky"
	"github.com/nsls2/ariadne/internal/monitoring"
)

// View names the router an envelope is routed to.
const (
	ViewLive   = "live"
	ViewReplay = "replay"
)

var (
	routedDocs  = &metrics.LabelMap{Label: "view"}
	routeErrors = &metrics.LabelMap{Label: "source"}
)

func init() {
	expvar.Publish("counter_feed_documents", routedDocs)
	expvar.Publish("counter_feed_route_errors", routeErrors)
}

var logf = monitoring.Prefixed("feed")

// ErrUnknownView is returned by Submit for an envelope whose view has no
// router.
var ErrUnknownView = errors.New("feed: no router for view")

// ErrStopped is returned by Submit and Do once Run has returned.
var ErrStopped = errors.New("feed: sequencer stopped")

// Envelope is one document on its way to a router.
type Envelope struct {
	View   string
	Source string
	Name   string
	Doc    bluesky.Document
}

// Sequencer serializes document routing and backend access.
type Sequencer struct {
	routers map[string]*bluesky.Router
	in      chan Envelope
	calls   chan func()
	done    chan struct{}
	current Envelope
}

// NewSequencer returns a sequencer whose input queue holds buffer
// envelopes.
func NewSequencer(buffer int) *Sequencer {
	if buffer < 1 {
		buffer = 1
	}
	return &Sequencer{
		routers: make(map[string]*bluesky.Router),
		in:      make(chan Envelope, buffer),
		calls:   make(chan func()),
		done:    make(chan struct{}),
	}
}

// Route registers the router for view. It must be called before Run.
func (s *Sequencer) Route(view string, r *bluesky.Router) {
	s.routers[view] = r
}

// Submit queues env, blocking while the queue is full.
func (s *Sequencer) Submit(ctx context.Context, env Envelope) error {
	if _, ok := s.routers[env.View]; !ok {
		return fmt.Errorf("%w %q", ErrUnknownView, env.View)
	}
	select {
	case <-s.done:
		return ErrStopped
	default:
	}
	select {
	case s.in <- env:
		return nil
	case <-s.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Do runs fn on the sequencing goroutine and waits for it to return.
func (s *Sequencer) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	call := func() {
		defer close(finished)
		fn()
	}
	select {
	case s.calls <- call:
	case <-s.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	<-finished
	return nil
}

// Run routes queued envelopes and runs Do calls until ctx is cancelled.
// Routing errors are logged and counted; they never stop the loop.
func (s *Sequencer) Run(ctx context.Context) error {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fn := <-s.calls:
			fn()
		case env := <-s.in:
			s.route(env)
		}
	}
}

// Current returns the envelope being routed. It is only meaningful inside
// router callbacks, which run on the sequencing goroutine.
func (s *Sequencer) Current() Envelope { return s.current }

func (s *Sequencer) route(env Envelope) {
	routedDocs.Add(env.View, 1)
	s.current = env
	defer func() { s.current = Envelope{} }()
	if err := s.routers[env.View].Route(env.Name, env.Doc); err != nil {
		routeErrors.Add(env.Source, 1)
		logf("%s (%s): %s: %v", env.Source, env.View, env.Name, err)
	}
}
