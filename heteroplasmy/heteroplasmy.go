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

// Package heteroplasmy estimates per-position minor-allele fractions from
// pileup tallies.
//
// At each covered position the observed alleles (A, C, G, T and deletion;
// Ns never count) are ranked by read count, ties broken in that symbol
// order.  The top two are the major and minor alleles, and the heteroplasmy
// fraction is minor / (major + minor).  Positions below the minimum depth are
// left out of the table and reported as coverage warnings.  The estimate is
// deterministic.
package heteroplasmy

import (
	"fmt"
	"math"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/mtw/pileup"
	"github.com/grailbio/mtw/reference"
)

// Filter values.
const (
	FilterPass        = "PASS"
	FilterLowFraction = "LowFraction"
	FilterStrandBias  = "StrandBias"
)

// NoMinor is the MINOR symbol of a position with a single observed allele.
const NoMinor = '.'

// Opts controls the estimator.
type Opts struct {
	// MinDepth is the minimum non-N depth of a reported position.
	MinDepth int
	// NoiseFloor is the minimum fraction of a PASS position.
	NoiseFloor float64
	// MinStrandCount, if positive, is the minimum number of minor-allele reads
	// required on each strand.
	MinStrandCount int
	// Z is the normal quantile of the Wilson score interval.
	Z float64
}

// DefaultOpts are the defaults used by the command line.
var DefaultOpts = Opts{
	MinDepth:       20,
	NoiseFloor:     0.01,
	MinStrandCount: 0,
	Z:              1.96,
}

// Validate checks opts for out-of-range values.
func (opts Opts) Validate() error {
	if opts.MinDepth < 1 {
		return errors.E(errors.Invalid, fmt.Sprintf("heteroplasmy: min depth %d must be positive", opts.MinDepth))
	}
	if opts.NoiseFloor < 0 || opts.NoiseFloor > 1 {
		return errors.E(errors.Invalid, fmt.Sprintf("heteroplasmy: noise floor %v outside [0, 1]", opts.NoiseFloor))
	}
	if opts.MinStrandCount < 0 {
		return errors.E(errors.Invalid, "heteroplasmy: negative min strand count")
	}
	if !(opts.Z > 0) {
		return errors.E(errors.Invalid, fmt.Sprintf("heteroplasmy: z %v must be positive", opts.Z))
	}
	return nil
}

// Record is the estimate at one position.
type Record struct {
	// Pos is 1-based.
	Pos   int
	Ref   byte
	Major byte
	// Minor is NoMinor when only one allele was observed.
	Minor      byte
	MajorCount int
	MinorCount int
	// Fraction is MinorCount / (MajorCount + MinorCount).
	Fraction float64
	// Depth counts every non-N observation, including third alleles.
	Depth  int
	CILow  float64
	CIHigh float64
	Filter string
}

// CoverageWarning reports insufficient coverage.  Pos is 0 for a sample with
// no position at MinDepth, in which case Depth is the sample's maximum depth.
type CoverageWarning struct {
	Sample   string
	Pos      int
	Depth    int
	MinDepth int
}

// SampleLevel returns true if the whole sample lacked coverage.
func (w CoverageWarning) SampleLevel() bool {
	return w.Pos == 0
}

// String implements fmt.Stringer.
func (w CoverageWarning) String() string {
	if w.SampleLevel() {
		return fmt.Sprintf("%s: no position reaches depth %d (max %d)", w.Sample, w.MinDepth, w.Depth)
	}
	return fmt.Sprintf("%s: position %d has depth %d < %d", w.Sample, w.Pos, w.Depth, w.MinDepth)
}

// Estimate computes the heteroplasmy table of one sample.  A sample without
// any adequately covered position yields an empty table and a sample-level
// warning, not an error.
func Estimate(sample string, ref *reference.Model, tallies *pileup.Tallies, opts Opts) (*Table, []CoverageWarning, error) {
	if err := opts.Validate(); err != nil {
		return nil, nil, err
	}
	if tallies.Len() != ref.Len() {
		return nil, nil, errors.E(errors.Invalid, fmt.Sprintf("heteroplasmy: tallies cover %d positions, reference %s has %d", tallies.Len(), ref.Name(), ref.Len()))
	}
	var (
		records  []Record
		warnings []CoverageWarning
		maxDepth int
	)
	seq := ref.Seq()
	for _, pos := range tallies.Positions() {
		pt, _ := tallies.At(pos)
		depth := pt.Depth()
		if depth > maxDepth {
			maxDepth = depth
		}
		if depth < opts.MinDepth {
			warnings = append(warnings, CoverageWarning{Sample: sample, Pos: pos, Depth: depth, MinDepth: opts.MinDepth})
			continue
		}
		records = append(records, estimatePosition(pos, seq[pos-1], &pt, opts))
	}
	if len(records) == 0 {
		w := CoverageWarning{Sample: sample, Depth: maxDepth, MinDepth: opts.MinDepth}
		log.Printf("heteroplasmy: %v", w)
		warnings = append(warnings, w)
	}
	log.Debug.Printf("heteroplasmy: %s: %d positions reported, %d below depth %d", sample, len(records), len(warnings), opts.MinDepth)
	return &Table{Sample: sample, records: records}, warnings, nil
}

func estimatePosition(pos int, refBase byte, pt *pileup.PositionTally, opts Opts) Record {
	ranked := pt.RankedAlleles()
	major := ranked[0]
	rec := Record{
		Pos:        pos,
		Ref:        refBase,
		Major:      major.Byte(),
		Minor:      NoMinor,
		MajorCount: pt.Count(major),
		Depth:      pt.Depth(),
	}
	minor := ranked[1]
	if n := pt.Count(minor); n > 0 {
		rec.Minor = minor.Byte()
		rec.MinorCount = n
	}
	total := rec.MajorCount + rec.MinorCount
	rec.Fraction = float64(rec.MinorCount) / float64(total)
	rec.CILow, rec.CIHigh = Wilson(rec.MinorCount, total, opts.Z)
	switch {
	case rec.Minor == NoMinor || rec.Fraction < opts.NoiseFloor:
		rec.Filter = FilterLowFraction
	case opts.MinStrandCount > 0 &&
		(pt.StrandCount(minor, 0) < opts.MinStrandCount || pt.StrandCount(minor, 1) < opts.MinStrandCount):
		rec.Filter = FilterStrandBias
	default:
		rec.Filter = FilterPass
	}
	return rec
}

// Wilson returns the Wilson score interval of k successes in n trials.
func Wilson(k, n int, z float64) (lo, hi float64) {
	if n <= 0 {
		return 0, 1
	}
	nf := float64(n)
	p := float64(k) / nf
	z2 := z * z
	denom := 1 + z2/nf
	center := (p + z2/(2*nf)) / denom
	half := z * math.Sqrt(p*(1-p)/nf+z2/(4*nf*nf)) / denom
	lo = math.Max(0, center-half)
	hi = math.Min(1, center+half)
	return lo, hi
}
