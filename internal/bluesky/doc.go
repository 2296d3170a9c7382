// Package bluesky assembles streamed acquisition documents into runs.
//
// An acquisition emits an ordered sequence of (name, document) pairs:
//
//	start       one per run; carries the run metadata (plan_name, motors, XDI, ...)
//	descriptor  declares a named stream ("primary", "baseline", ...) within a run
//	event       one row of readings for a stream
//	event_page  a column-major batch of rows for a stream
//	stop        closes the run
//
// Router consumes these pairs and maintains the corresponding Run and
// Stream values. Consumers learn about new runs through the Router callback
// and about new streams, new rows and run completion through the hooks on
// Run. None of the types in this package are safe for concurrent use; a
// single goroutine is expected to own a Router and everything it produces.
package bluesky
