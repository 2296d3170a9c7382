package chart

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// Series is one trace: the evaluated x/y values of a single run for a single
// y-expression.
type Series struct {
	RunUID string    `json:"run_uid"`
	Label  string    `json:"label"`
	X      []float64 `json:"x"`
	Y      []float64 `json:"y"`
}

// Finite returns a copy holding only the points where both coordinates are
// finite.
func (s Series) Finite() Series {
	out := Series{RunUID: s.RunUID, Label: s.Label}
	n := len(s.X)
	if len(s.Y) < n {
		n = len(s.Y)
	}
	out.X = make([]float64, 0, n)
	out.Y = make([]float64, 0, n)
	for i := 0; i < n; i++ {
		if isFinite(s.X[i]) && isFinite(s.Y[i]) {
			out.X = append(out.X, s.X[i])
			out.Y = append(out.Y, s.Y[i])
		}
	}
	return out
}

// Extent is the bounding box of a set of series.
type Extent struct {
	XMin, XMax, YMin, YMax float64
}

// Empty reports whether no finite point contributed to the extent.
func (e Extent) Empty() bool { return e.XMin > e.XMax || e.YMin > e.YMax }

// ExtentOf returns the bounding box of the finite points of all series.
func ExtentOf(series []Series) Extent {
	ext := Extent{XMin: math.Inf(1), XMax: math.Inf(-1), YMin: math.Inf(1), YMax: math.Inf(-1)}
	for _, s := range series {
		f := s.Finite()
		if len(f.X) == 0 {
			continue
		}
		ext.XMin = math.Min(ext.XMin, floats.Min(f.X))
		ext.XMax = math.Max(ext.XMax, floats.Max(f.X))
		ext.YMin = math.Min(ext.YMin, floats.Min(f.Y))
		ext.YMax = math.Max(ext.YMax, floats.Max(f.Y))
	}
	return ext
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
