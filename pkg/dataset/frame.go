// Package dataset provides the wide feature matrix that the alignment,
// training, and scoring stages exchange, plus the frozen per-column
// normalization detectors embed.
package dataset

import (
	"fmt"
	"math/rand"
)

// Frame is an ordered collection of aligned feature rows. Columns fixes the
// semantic order of the float columns in every row; Times, when present, is
// a parallel slice of bucket-start timestamps (Unix seconds).
type Frame struct {
	Columns []string
	Rows    [][]float64
	Times   []int64
}

// New returns an empty frame with the given column order.
func New(columns []string) *Frame {
	return &Frame{Columns: append([]string(nil), columns...)}
}

// NumRows returns the number of rows.
func (f *Frame) NumRows() int {
	return len(f.Rows)
}

// AppendRow appends one row and its bucket timestamp.
func (f *Frame) AppendRow(row []float64, t int64) {
	f.Rows = append(f.Rows, row)
	f.Times = append(f.Times, t)
}

// Clone returns a deep copy.
func (f *Frame) Clone() *Frame {
	out := &Frame{
		Columns: append([]string(nil), f.Columns...),
		Rows:    make([][]float64, len(f.Rows)),
	}
	for i, row := range f.Rows {
		out.Rows[i] = append([]float64(nil), row...)
	}
	if f.Times != nil {
		out.Times = append([]int64(nil), f.Times...)
	}
	return out
}

// Select returns a new frame restricted to cols, in the order given.
// Extra columns in f are ignored; a requested column that is absent is an
// error. Times are carried over.
func (f *Frame) Select(cols []string) (*Frame, error) {
	idx := make([]int, len(cols))
	for i, c := range cols {
		j, ok := f.columnIndex(c)
		if !ok {
			return nil, fmt.Errorf("column %q not present in frame", c)
		}
		idx[i] = j
	}
	out := &Frame{
		Columns: append([]string(nil), cols...),
		Rows:    make([][]float64, len(f.Rows)),
	}
	for r, row := range f.Rows {
		sel := make([]float64, len(idx))
		for i, j := range idx {
			sel[i] = row[j]
		}
		out.Rows[r] = sel
	}
	if f.Times != nil {
		out.Times = append([]int64(nil), f.Times...)
	}
	return out, nil
}

// HasColumn reports whether c is one of the frame's columns.
func (f *Frame) HasColumn(c string) bool {
	_, ok := f.columnIndex(c)
	return ok
}

func (f *Frame) columnIndex(c string) (int, bool) {
	for i, col := range f.Columns {
		if col == c {
			return i, true
		}
	}
	return 0, false
}

// Shuffle permutes rows (and Times) in place using rng.
func (f *Frame) Shuffle(rng *rand.Rand) {
	rng.Shuffle(len(f.Rows), func(i, j int) {
		f.Rows[i], f.Rows[j] = f.Rows[j], f.Rows[i]
		if f.Times != nil {
			f.Times[i], f.Times[j] = f.Times[j], f.Times[i]
		}
	})
}

// Split cuts the frame into a head of frac*NumRows rows and the remaining
// tail. Rows are shared, not copied.
func (f *Frame) Split(frac float64) (head, tail *Frame) {
	n := int(frac * float64(len(f.Rows)))
	head = &Frame{Columns: f.Columns, Rows: f.Rows[:n]}
	tail = &Frame{Columns: f.Columns, Rows: f.Rows[n:]}
	if f.Times != nil {
		head.Times = f.Times[:n]
		tail.Times = f.Times[n:]
	}
	return head, tail
}
