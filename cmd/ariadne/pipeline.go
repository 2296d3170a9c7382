package main

import (
	"context"
	"log"

	"github.com/nsls2/ariadne/internal/autoplot"
	"github.com/nsls2/ariadne/internal/bluesky"
	"github.com/nsls2/ariadne/internal/chart"
	"github.com/nsls2/ariadne/internal/store"
)

// runJournal is the write side of the run journal.
type runJournal interface {
	RecordRunStart(ctx context.Context, rec store.RunRecord) error
	RecordRunStop(ctx context.Context, uid string, stopTime float64, exitStatus string) error
}

// thumbnailExporter renders completed runs. *render.ThumbnailExporter
// implements it.
type thumbnailExporter interface {
	Export(ctx context.Context, runUID string, figs []chart.FigureSnapshot) ([]string, error)
}

type thumbnailJob struct {
	runUID string
	figs   []chart.FigureSnapshot
}

// view is one router feeding one dispatcher and backend. All of its methods
// run on the sequencing goroutine.
type view struct {
	name       string
	backend    *chart.Backend
	dispatcher *autoplot.Dispatcher
	router     *bluesky.Router

	journal  runJournal
	sourceOf func() string
	jobs     chan<- thumbnailJob
}

// newView wires a backend, dispatcher and router. journal, sourceOf and
// jobs may be nil.
func newView(name string, maxRuns int, journal runJournal, sourceOf func() string, jobs chan<- thumbnailJob) *view {
	v := &view{
		name:     name,
		backend:  chart.NewBackend(name),
		journal:  journal,
		sourceOf: sourceOf,
		jobs:     jobs,
	}
	v.dispatcher = autoplot.New(v.backend, autoplot.WithMaxRuns(maxRuns), autoplot.WithName(name))
	v.router = bluesky.NewRouter(v.onRun)
	return v
}

func (v *view) onRun(run *bluesky.Run) {
	if v.journal != nil {
		source := ""
		if v.sourceOf != nil {
			source = v.sourceOf()
		}
		if err := v.journal.RecordRunStart(context.Background(), store.NewRunRecord(run, v.name, source)); err != nil {
			log.Printf("[%s] failed to record run %s: %v", v.name, run.UID(), err)
		}
	}
	v.dispatcher.AddRun(run)
	run.OnComplete(v.onComplete)
}

func (v *view) onComplete(run *bluesky.Run) {
	if v.journal != nil {
		stopTime, _ := run.Metadata().Stop.Float("time")
		if err := v.journal.RecordRunStop(context.Background(), run.UID(), stopTime, run.ExitStatus()); err != nil {
			log.Printf("[%s] failed to record stop of run %s: %v", v.name, run.UID(), err)
		}
	}
	if v.jobs == nil {
		return
	}

	job := thumbnailJob{runUID: run.UID()}
	for _, fig := range v.backend.FiguresWithRun(run.UID()) {
		job.figs = append(job.figs, v.backend.Snapshot(fig, true, run.UID()))
	}
	if len(job.figs) == 0 {
		return
	}
	select {
	case v.jobs <- job:
	default:
		log.Printf("[%s] thumbnail queue full, skipping run %s", v.name, run.UID())
	}
}

// exportThumbnails renders queued jobs until ctx is cancelled or jobs is
// closed.
func exportThumbnails(ctx context.Context, exp thumbnailExporter, jobs <-chan thumbnailJob) {
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-jobs:
			if !ok {
				return
			}
			paths, err := exp.Export(ctx, job.runUID, job.figs)
			if err != nil {
				log.Printf("thumbnails for run %s: %v", job.runUID, err)
			}
			if len(paths) > 0 {
				log.Printf("wrote %d thumbnail(s) for run %s", len(paths), job.runUID)
			}
		}
	}
}
