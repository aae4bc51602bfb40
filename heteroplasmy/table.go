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
package heteroplasmy

import (
	"fmt"
	"math"
	"sort"

	"github.com/grailbio/base/errors"
)

// Table is the heteroplasmy table of one sample: one record per position at
// minimum depth, in ascending position order.  It is immutable once built.
type Table struct {
	Sample  string
	records []Record
}

// fractionTolerance bounds the rounding error allowed when validating a
// stored fraction.
const fractionTolerance = 1e-9

// NewTable validates records and wraps them in a Table.
func NewTable(sample string, records []Record) (*Table, error) {
	for i := range records {
		if err := records[i].validate(); err != nil {
			return nil, err
		}
		if i > 0 && records[i].Pos <= records[i-1].Pos {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("heteroplasmy: sample %s: position %d follows %d", sample, records[i].Pos, records[i-1].Pos))
		}
	}
	return &Table{Sample: sample, records: records}, nil
}

func (r *Record) validate() error {
	bad := func(msg string) error {
		return errors.E(errors.Invalid, fmt.Sprintf("heteroplasmy: position %d: %s", r.Pos, msg))
	}
	switch {
	case r.Pos < 1:
		return bad("position must be positive")
	case r.MajorCount < 1 || r.MinorCount < 0:
		return bad("invalid allele counts")
	case r.MinorCount > r.MajorCount:
		return bad("minor count exceeds major count")
	case r.Depth < r.MajorCount+r.MinorCount:
		return bad("depth below major + minor count")
	case (r.Minor == NoMinor) != (r.MinorCount == 0):
		return bad("minor allele and minor count disagree")
	case r.Fraction < 0 || r.Fraction > 1:
		return bad("fraction outside [0, 1]")
	case math.Abs(r.Fraction-float64(r.MinorCount)/float64(r.MajorCount+r.MinorCount)) > fractionTolerance:
		return bad("fraction is not minor / (major + minor)")
	case r.CILow > r.CIHigh || r.CILow < 0 || r.CIHigh > 1:
		return bad("invalid confidence interval")
	}
	switch r.Filter {
	case FilterPass, FilterLowFraction, FilterStrandBias:
	default:
		return bad(fmt.Sprintf("unknown filter %q", r.Filter))
	}
	return nil
}

// Len returns the number of records.
func (t *Table) Len() int {
	return len(t.records)
}

// Records returns the records in ascending position order.  The caller must
// not modify the result.
func (t *Table) Records() []Record {
	return t.records
}

// Lookup returns the record at 1-based position pos.
func (t *Table) Lookup(pos int) (Record, bool) {
	i := sort.Search(len(t.records), func(i int) bool { return t.records[i].Pos >= pos })
	if i < len(t.records) && t.records[i].Pos == pos {
		return t.records[i], true
	}
	return Record{}, false
}

// Heteroplasmic returns the PASS records.
func (t *Table) Heteroplasmic() []Record {
	var recs []Record
	for _, r := range t.records {
		if r.Filter == FilterPass {
			recs = append(recs, r)
		}
	}
	return recs
}

// Consensus returns the major allele of every reported position, keyed by
// 1-based position.
func (t *Table) Consensus() map[int]byte {
	c := make(map[int]byte, len(t.records))
	for _, r := range t.records {
		c[r.Pos] = r.Major
	}
	return c
}
