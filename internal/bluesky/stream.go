package bluesky

import (
	"math"
	"sort"
)

// TimeColumn holds the event timestamps of a stream.
const TimeColumn = "time"

// Stream is an append-only table of numeric rows belonging to one run.
// Columns are created on first sight; rows that lack a column read as NaN
// in that column.
type Stream struct {
	name    string
	columns map[string][]float64
	rows    int
}

func newStream(name string, dataKeys Document) *Stream {
	s := &Stream{
		name:    name,
		columns: make(map[string][]float64),
	}
	for key := range dataKeys {
		s.columns[key] = nil
	}
	return s
}

// Name returns the stream name, e.g. "primary".
func (s *Stream) Name() string { return s.name }

// Len returns the number of rows appended so far.
func (s *Stream) Len() int { return s.rows }

// Columns returns the column names in sorted order.
func (s *Stream) Columns() []string {
	names := make([]string, 0, len(s.columns))
	for name := range s.columns {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Column returns the values of the named column. The returned slice must
// not be modified.
func (s *Stream) Column(name string) ([]float64, bool) {
	col, ok := s.columns[name]
	if !ok {
		return nil, false
	}
	return col[:s.rows:s.rows], true
}

// Append adds one row. Keys never seen before become new columns padded
// with NaN for the earlier rows.
func (s *Stream) Append(row map[string]any, timestamp float64) {
	for key, value := range row {
		if key == TimeColumn {
			continue
		}
		col, ok := s.columns[key]
		if !ok || len(col) < s.rows {
			col = padNaN(col, s.rows)
		}
		s.columns[key] = append(col, toFloat(value))
	}
	s.columns[TimeColumn] = append(padNaN(s.columns[TimeColumn], s.rows), timestamp)
	s.rows++
	for key, col := range s.columns {
		if len(col) < s.rows {
			s.columns[key] = padNaN(col, s.rows)
		}
	}
}

func padNaN(col []float64, n int) []float64 {
	for len(col) < n {
		col = append(col, math.NaN())
	}
	return col
}
