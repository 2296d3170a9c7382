// Package api serves the figures held by the chart backends, the run
// journal and the exported thumbnails over HTTP.
package api

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/nsls2/ariadne/internal/chart"
	"github.com/nsls2/ariadne/internal/httputil"
	"github.com/nsls2/ariadne/internal/render"
	"github.com/nsls2/ariadne/internal/security"
	"github.com/nsls2/ariadne/internal/store"
	"github.com/nsls2/ariadne/internal/version"
)

// Sequencer runs fn on the goroutine that owns the chart backends.
// *feed.Sequencer implements it.
type Sequencer interface {
	Do(ctx context.Context, fn func()) error
}

// Journal is the read side of the run journal. *store.Store implements it.
type Journal interface {
	RecentRuns(ctx context.Context, view string, limit int) ([]store.RunRecord, error)
	Run(ctx context.Context, uid string) (store.RunRecord, error)
	Thumbnails(ctx context.Context, runUID string) ([]store.Thumbnail, error)
}

type Server struct {
	seq          Sequencer
	journal      Journal
	thumbnailDir string
	views        map[string]*chart.Backend
	html         render.HTMLOptions
}

// NewServer returns a server reading backends through seq. journal may be
// nil, in which case the run endpoints answer 503.
func NewServer(seq Sequencer, journal Journal, thumbnailDir string) *Server {
	return &Server{
		seq:          seq,
		journal:      journal,
		thumbnailDir: thumbnailDir,
		views:        make(map[string]*chart.Backend),
	}
}

// AddView exposes a backend under its name. Call before serving.
func (s *Server) AddView(b *chart.Backend) {
	s.views[b.Name] = b
}

// SetHTMLOptions overrides the echarts page options, e.g. to serve the
// javascript from a local assets host.
func (s *Server) SetHTMLOptions(o render.HTMLOptions) {
	s.html = o
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/figures", s.handleListFigures)
	mux.HandleFunc("/api/figures/", s.handleFigureByID)
	mux.HandleFunc("/figures/", s.handleFigurePage)
	mux.HandleFunc("/api/runs", s.handleListRuns)
	mux.HandleFunc("/api/runs/", s.handleRunByID)
	mux.HandleFunc("/thumbnails/", s.handleThumbnail)
	return mux
}

func (s *Server) viewNames() []string {
	names := make([]string, 0, len(s.views))
	for name := range s.views {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	figures := make(map[string]int, len(s.views))
	err := s.seq.Do(r.Context(), func() {
		for name, b := range s.views {
			figures[name] = b.Figures.Len()
		}
	})
	if err != nil {
		httputil.ServiceUnavailable(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, map[string]any{
		"status":  "ok",
		"version": version.Version,
		"figures": figures,
	})
}

// handleListFigures lists the visible figures of one view (?view=live) or of
// all views, without data.
func (s *Server) handleListFigures(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	names := s.viewNames()
	if view := r.URL.Query().Get("view"); view != "" {
		if _, ok := s.views[view]; !ok {
			httputil.BadRequest(w, "unknown view "+strconv.Quote(view))
			return
		}
		names = []string{view}
	}

	out := []chart.FigureSnapshot{}
	err := s.seq.Do(r.Context(), func() {
		for _, name := range names {
			out = append(out, s.views[name].Snapshots()...)
		}
	})
	if err != nil {
		httputil.ServiceUnavailable(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, out)
}

// snapshot finds the figure with the given id in any view and copies it.
func (s *Server) snapshot(ctx context.Context, id uuid.UUID, withData bool) (chart.FigureSnapshot, bool, error) {
	var snap chart.FigureSnapshot
	var found bool
	err := s.seq.Do(ctx, func() {
		for _, b := range s.views {
			if fig, ok := b.Figure(id); ok {
				snap, found = b.Snapshot(fig, withData, ""), true
				return
			}
		}
	})
	return snap, found, err
}

func parseFigureID(w http.ResponseWriter, raw string) (uuid.UUID, bool) {
	if raw == "" || strings.Contains(raw, "/") {
		httputil.NotFound(w, "figure not found")
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		httputil.BadRequest(w, "invalid figure id")
		return uuid.Nil, false
	}
	return id, true
}

// handleFigureByID serves GET (snapshot with finite data) and DELETE on
// /api/figures/{id}.
func (s *Server) handleFigureByID(w http.ResponseWriter, r *http.Request) {
	id, ok := parseFigureID(w, strings.TrimPrefix(r.URL.Path, "/api/figures/"))
	if !ok {
		return
	}

	switch r.Method {
	case http.MethodGet:
		snap, found, err := s.snapshot(r.Context(), id, true)
		if err != nil {
			httputil.ServiceUnavailable(w, err.Error())
			return
		}
		if !found {
			httputil.NotFound(w, "figure not found")
			return
		}
		// JSON has no NaN.
		for i := range snap.Axes {
			for j, series := range snap.Axes[i].Series {
				snap.Axes[i].Series[j] = series.Finite()
			}
		}
		httputil.WriteJSONOK(w, snap)

	case http.MethodDelete:
		var removed bool
		err := s.seq.Do(r.Context(), func() {
			for _, b := range s.views {
				if b.RemoveFigure(id) {
					removed = true
					return
				}
			}
		})
		if err != nil {
			httputil.ServiceUnavailable(w, err.Error())
			return
		}
		if !removed {
			httputil.NotFound(w, "figure not found")
			return
		}
		logf("figure %s removed", id)
		w.WriteHeader(http.StatusNoContent)

	default:
		httputil.MethodNotAllowed(w)
	}
}

// handleFigurePage renders /figures/{id} as an interactive HTML page.
func (s *Server) handleFigurePage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	id, ok := parseFigureID(w, strings.TrimPrefix(r.URL.Path, "/figures/"))
	if !ok {
		return
	}
	snap, found, err := s.snapshot(r.Context(), id, true)
	if err != nil {
		httputil.ServiceUnavailable(w, err.Error())
		return
	}
	if !found {
		httputil.NotFound(w, "figure not found")
		return
	}

	// Render off the sequencing goroutine; the snapshot is detached.
	var buf bytes.Buffer
	if err := render.RenderFigureHTML(&buf, snap, s.html); err != nil {
		logf("render figure %s: %v", id, err)
		httputil.InternalServerError(w, "failed to render figure")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(buf.Bytes())
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.journal == nil {
		httputil.ServiceUnavailable(w, "run journal disabled")
		return
	}
	q := r.URL.Query()
	limit := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			httputil.BadRequest(w, "limit must be a positive integer")
			return
		}
		limit = n
	}
	runs, err := s.journal.RecentRuns(r.Context(), q.Get("view"), limit)
	if err != nil {
		logf("list runs: %v", err)
		httputil.InternalServerError(w, "failed to list runs")
		return
	}
	if runs == nil {
		runs = []store.RunRecord{}
	}
	httputil.WriteJSONOK(w, runs)
}

// ThumbnailInfo is a journal thumbnail with the URL it is served from.
type ThumbnailInfo struct {
	store.Thumbnail
	URL string `json:"url"`
}

// handleRunByID serves /api/runs/{uid} and /api/runs/{uid}/thumbnails.
func (s *Server) handleRunByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.journal == nil {
		httputil.ServiceUnavailable(w, "run journal disabled")
		return
	}

	remainder := strings.TrimPrefix(r.URL.Path, "/api/runs/")
	uid, subPath, _ := strings.Cut(remainder, "/")
	if uid == "" {
		httputil.BadRequest(w, "missing run uid")
		return
	}

	switch subPath {
	case "":
		run, err := s.journal.Run(r.Context(), uid)
		if errors.Is(err, store.ErrNotFound) {
			httputil.NotFound(w, "run not found")
			return
		}
		if err != nil {
			logf("run %s: %v", uid, err)
			httputil.InternalServerError(w, "failed to load run")
			return
		}
		httputil.WriteJSONOK(w, run)

	case "thumbnails":
		thumbs, err := s.journal.Thumbnails(r.Context(), uid)
		if err != nil {
			logf("thumbnails of %s: %v", uid, err)
			httputil.InternalServerError(w, "failed to list thumbnails")
			return
		}
		out := make([]ThumbnailInfo, 0, len(thumbs))
		for _, t := range thumbs {
			out = append(out, ThumbnailInfo{Thumbnail: t, URL: s.thumbnailURL(t.Path)})
		}
		httputil.WriteJSONOK(w, out)

	default:
		httputil.NotFound(w, "not found")
	}
}

// thumbnailURL maps a file under the thumbnail directory to its URL.
func (s *Server) thumbnailURL(file string) string {
	rel, err := filepath.Rel(s.thumbnailDir, file)
	if err != nil || strings.HasPrefix(rel, "..") {
		return ""
	}
	return "/thumbnails/" + filepath.ToSlash(rel)
}

// handleThumbnail serves PNG files from the thumbnail directory.
func (s *Server) handleThumbnail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		httputil.MethodNotAllowed(w)
		return
	}
	rel := path.Clean(strings.TrimPrefix(r.URL.Path, "/thumbnails/"))
	if s.thumbnailDir == "" || path.Ext(rel) != ".png" {
		httputil.NotFound(w, "thumbnail not found")
		return
	}
	file := filepath.Join(s.thumbnailDir, filepath.FromSlash(rel))
	if err := security.ValidatePathWithinDirectory(file, s.thumbnailDir); err != nil {
		logf("rejected thumbnail path %q: %v", r.URL.Path, err)
		httputil.NotFound(w, "thumbnail not found")
		return
	}
	w.Header().Set("Cache-Control", "no-cache")
	http.ServeFile(w, r, file)
}
