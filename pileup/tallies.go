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
package pileup

import (
	"fmt"
	"sort"

	"github.com/grailbio/base/errors"
)

// PositionTally holds the observations at one reference position.
//
// In Counts[][], the allele is the major dimension and the strand (0 =
// forward, 1 = reverse) the minor one.  QualSums[a] is the sum of the
// qualities of every observation counted in Counts[a].
//
// Depth and count values are of type uint32 instead of int to reduce cache
// footprint.
type PositionTally struct {
	Counts   [NAllele][2]uint32
	QualSums [NAllele]uint32
}

func (t *PositionTally) add(a Allele, strand int, qual byte) {
	t.Counts[a][strand]++
	t.QualSums[a] += uint32(qual)
}

// Count returns the number of observations of a on both strands.
func (t *PositionTally) Count(a Allele) int {
	return int(t.Counts[a][0] + t.Counts[a][1])
}

// StrandCount returns the number of observations of a on one strand (0 =
// forward, 1 = reverse).
func (t *PositionTally) StrandCount(a Allele, strand int) int {
	return int(t.Counts[a][strand])
}

// MeanQual returns the mean quality of the observations of a, or 0 if there
// are none.
func (t *PositionTally) MeanQual(a Allele) float64 {
	n := t.Count(a)
	if n == 0 {
		return 0
	}
	return float64(t.QualSums[a]) / float64(n)
}

// Depth is the number of A/C/G/T/deletion observations.  Ns are excluded.
func (t *PositionTally) Depth() int {
	d := 0
	for a := AlleleA; a <= AlleleDel; a++ {
		d += t.Count(a)
	}
	return d
}

// Empty returns true if nothing, not even an N, was observed.
func (t *PositionTally) Empty() bool {
	return t.Depth() == 0 && t.Count(AlleleN) == 0
}

// Tallies is the frozen per-sample result of a pileup.  Uncovered positions
// are absent.
type Tallies struct {
	// counts is indexed by 0-based reference position.
	counts []PositionTally
}

// NewTallies builds a Tallies over a reference of refLen positions from a map
// keyed by 1-based position.
func NewTallies(refLen int, tallies map[int]PositionTally) (*Tallies, error) {
	if refLen <= 0 {
		return nil, errors.E(errors.Invalid, "pileup.NewTallies: reference length must be positive")
	}
	t := &Tallies{counts: make([]PositionTally, refLen)}
	for pos, pt := range tallies {
		if pos < 1 || pos > refLen {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("pileup.NewTallies: position %d outside [1, %d]", pos, refLen))
		}
		t.counts[pos-1] = pt
	}
	return t, nil
}

// Len returns the reference length.
func (t *Tallies) Len() int {
	return len(t.counts)
}

// Positions returns the covered 1-based positions in ascending order.
func (t *Tallies) Positions() []int {
	var positions []int
	for i := range t.counts {
		if !t.counts[i].Empty() {
			positions = append(positions, i+1)
		}
	}
	return positions
}

// At returns the tally at 1-based position pos.  The bool is false if pos is
// uncovered or out of range.
func (t *Tallies) At(pos int) (PositionTally, bool) {
	if pos < 1 || pos > len(t.counts) || t.counts[pos-1].Empty() {
		return PositionTally{}, false
	}
	return t.counts[pos-1], true
}

// Depth returns the non-N depth at 1-based position pos.
func (t *Tallies) Depth(pos int) int {
	if pos < 1 || pos > len(t.counts) {
		return 0
	}
	return t.counts[pos-1].Depth()
}

// Equal returns true if both tallies have the same length and counts.
func (t *Tallies) Equal(o *Tallies) bool {
	if len(t.counts) != len(o.counts) {
		return false
	}
	for i := range t.counts {
		if t.counts[i] != o.counts[i] {
			return false
		}
	}
	return true
}

// MeanDepth returns the average non-N depth over all reference positions.
func (t *Tallies) MeanDepth() float64 {
	if len(t.counts) == 0 {
		return 0
	}
	total := 0
	for i := range t.counts {
		total += t.counts[i].Depth()
	}
	return float64(total) / float64(len(t.counts))
}

// RankedAlleles returns A/C/G/T/deletion ordered by descending count, ties
// broken by the Allele order.
func (t *PositionTally) RankedAlleles() []Allele {
	alleles := []Allele{AlleleA, AlleleC, AlleleG, AlleleT, AlleleDel}
	sort.SliceStable(alleles, func(i, j int) bool {
		return t.Count(alleles[i]) > t.Count(alleles[j])
	})
	return alleles
}
