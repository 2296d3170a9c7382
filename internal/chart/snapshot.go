package chart

// AxesSnapshot is a detached copy of what one Axes shows.
type AxesSnapshot struct {
	Title  string   `json:"title"`
	X      string   `json:"x"`
	Ys     []string `json:"ys"`
	Runs   []string `json:"runs"`
	Series []Series `json:"series,omitempty"`
}

// FigureSnapshot is a detached copy of a Figure and its data, safe to hand
// to another goroutine for rendering.
type FigureSnapshot struct {
	ID    string         `json:"id"`
	View  string         `json:"view"`
	Title string         `json:"title"`
	Axes  []AxesSnapshot `json:"axes"`
}

// Snapshot copies fig. When withData is false the series are omitted, which
// is enough for listings. When onlyRun is non-empty, series are restricted
// to that run.
func (b *Backend) Snapshot(fig *Figure, withData bool, onlyRun string) FigureSnapshot {
	snap := FigureSnapshot{ID: fig.UUID.String(), View: b.Name, Title: fig.Title}
	for _, ax := range fig.Axes {
		as := AxesSnapshot{Title: ax.Title}
		for _, l := range b.Builders.Items() {
			if l.Axes != ax {
				continue
			}
			as.X = l.X
			as.Ys = append([]string(nil), l.Ys...)
			for _, r := range l.Runs() {
				as.Runs = append(as.Runs, r.UID())
			}
			if !withData {
				continue
			}
			if onlyRun != "" {
				as.Series = append(as.Series, l.SeriesFor(onlyRun)...)
			} else {
				as.Series = append(as.Series, l.Series()...)
			}
		}
		snap.Axes = append(snap.Axes, as)
	}
	return snap
}

// Snapshots lists every visible figure without data.
func (b *Backend) Snapshots() []FigureSnapshot {
	figs := b.Figures.Items()
	out := make([]FigureSnapshot, 0, len(figs))
	for _, fig := range figs {
		out = append(out, b.Snapshot(fig, false, ""))
	}
	return out
}
