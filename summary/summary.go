// Copyright 2020 Grail Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package summary merges per-sample heteroplasmy tables into one
// position-by-sample matrix.
package summary

import (
	"fmt"
	"sort"

	"github.com/grailbio/base/log"
	"github.com/grailbio/mtw/heteroplasmy"
)

// Opts controls Build.
type Opts struct {
	// PassOnly reports only PASS records as present.  Other records keep
	// their fraction, available through Matrix.Raw, but read as missing.
	PassOnly bool
}

// DefaultOpts are the defaults used by the command line.
var DefaultOpts = Opts{}

// AlignmentError is returned when tables cannot be merged.  It is fatal for
// summarization.
type AlignmentError struct {
	Sample string
	// Pos is 0 for sample-level problems.
	Pos    int
	Reason string
}

func (e *AlignmentError) Error() string {
	if e.Pos == 0 {
		return fmt.Sprintf("summary: sample %s: %s", e.Sample, e.Reason)
	}
	return fmt.Sprintf("summary: sample %s, position %d: %s", e.Sample, e.Pos, e.Reason)
}

type cell struct {
	value   float64
	present bool
	// flagged marks a present value hidden by Opts.PassOnly.
	flagged bool
}

// Matrix holds heteroplasmy fractions: rows are positions in ascending order,
// columns are samples in input order.  Cells without a value are missing,
// never zero.
type Matrix struct {
	positions []int
	refs      []byte
	samples   []string
	// cells is row-major.
	cells []cell
	rowOf map[int]int
	colOf map[string]int
}

// Build merges tables.  The row set is the union of every table's positions.
func Build(tables []*heteroplasmy.Table, opts Opts) (*Matrix, error) {
	m := &Matrix{
		rowOf: map[int]int{},
		colOf: map[string]int{},
	}
	refAt := map[int]byte{}
	for col, t := range tables {
		if _, ok := m.colOf[t.Sample]; ok {
			return nil, &AlignmentError{Sample: t.Sample, Reason: "duplicate sample name"}
		}
		m.colOf[t.Sample] = col
		m.samples = append(m.samples, t.Sample)
		prev := 0
		for _, r := range t.Records() {
			if r.Pos <= prev {
				return nil, &AlignmentError{Sample: t.Sample, Pos: r.Pos, Reason: "positions are duplicated or unsorted"}
			}
			prev = r.Pos
			if ref, ok := refAt[r.Pos]; ok && ref != r.Ref {
				return nil, &AlignmentError{Sample: t.Sample, Pos: r.Pos, Reason: fmt.Sprintf("reference allele %c disagrees with %c", r.Ref, ref)}
			}
			refAt[r.Pos] = r.Ref
		}
	}
	for pos := range refAt {
		m.positions = append(m.positions, pos)
	}
	sort.Ints(m.positions)
	m.refs = make([]byte, len(m.positions))
	for row, pos := range m.positions {
		m.rowOf[pos] = row
		m.refs[row] = refAt[pos]
	}
	nCol := len(m.samples)
	m.cells = make([]cell, len(m.positions)*nCol)
	for col, t := range tables {
		for _, r := range t.Records() {
			c := &m.cells[m.rowOf[r.Pos]*nCol+col]
			c.value = r.Fraction
			c.present = true
			c.flagged = opts.PassOnly && r.Filter != heteroplasmy.FilterPass
		}
	}
	log.Debug.Printf("summary: %d positions x %d samples", len(m.positions), nCol)
	return m, nil
}

// Positions returns the 1-based row positions in ascending order.
func (m *Matrix) Positions() []int {
	return m.positions
}

// Samples returns the column names in input order.
func (m *Matrix) Samples() []string {
	return m.samples
}

// Ref returns the reference allele of a row.
func (m *Matrix) Ref(row int) byte {
	return m.refs[row]
}

// Cell returns the fraction at (row, col).  The bool is false if the value
// is missing.
func (m *Matrix) Cell(row, col int) (float64, bool) {
	c := m.cells[row*len(m.samples)+col]
	if !c.present || c.flagged {
		return 0, false
	}
	return c.value, true
}

// Raw is like Cell, but also returns values hidden by Opts.PassOnly.
func (m *Matrix) Raw(row, col int) (float64, bool) {
	c := m.cells[row*len(m.samples)+col]
	return c.value, c.present
}

// Flagged returns true if (row, col) holds a non-PASS value hidden by
// Opts.PassOnly.
func (m *Matrix) Flagged(row, col int) bool {
	return m.cells[row*len(m.samples)+col].flagged
}

// Get returns the fraction of sample at 1-based position pos.
func (m *Matrix) Get(pos int, sample string) (float64, bool) {
	row, ok := m.rowOf[pos]
	if !ok {
		return 0, false
	}
	col, ok := m.colOf[sample]
	if !ok {
		return 0, false
	}
	return m.Cell(row, col)
}
