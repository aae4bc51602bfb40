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
	"strconv"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/hts/sam"
)

// Opts holds the read- and base-level filters of a pileup.
type Opts struct {
	// MinBaseQual is the minimum (post-stitching) base quality counted.
	MinBaseQual int
	// Mapq is the minimum mapping quality of a counted record.
	Mapq int
	// FlagExclude drops records with any of these SAM flags set.
	FlagExclude int
	// Clip is the number of bases on each read end treated as minimum
	// quality.
	Clip int
	// Stitch enables mate-overlap resolution.
	Stitch bool
	// MaxReadSpan bounds the reference span of a read for mate pairing; mates
	// whose starts are at least this far apart are tallied independently.
	MaxReadSpan int
	// Region optionally restricts the pileup to a 1-based inclusive
	// "start-end" interval.  A "name:" prefix is accepted and ignored.
	Region string
	// Contigs lists the accepted reference names.  Empty means every record
	// is accepted.
	Contigs []string
}

// DefaultOpts are the defaults used by the command line.
var DefaultOpts = Opts{
	MinBaseQual: 20,
	Mapq:        20,
	FlagExclude: 0xf04,
	Clip:        0,
	Stitch:      true,
	MaxReadSpan: 511,
}

// FilterReason says why a record was dropped before conversion.
type FilterReason int

const (
	// FilterFlags means a FlagExclude flag was set.
	FilterFlags FilterReason = iota
	// FilterMapq means the mapping quality was below Opts.Mapq.
	FilterMapq
	// FilterContig means the record is aligned to a non-reference contig.
	FilterContig
	// FilterCigar means the record had no CIGAR.
	FilterCigar
	// FilterRegion means the alignment does not intersect Opts.Region.
	FilterRegion
	// NFilterReason is the number of filter reasons.
	NFilterReason
)

var filterReasonNames = [NFilterReason]string{"flags", "mapq", "contig", "cigar", "region"}

// String implements fmt.Stringer.
func (r FilterReason) String() string {
	if r < 0 || r >= NFilterReason {
		return "FilterReason(" + strconv.Itoa(int(r)) + ")"
	}
	return filterReasonNames[r]
}

// Stats summarizes one pileup.
type Stats struct {
	Records       int
	Filtered      [NFilterReason]int
	Tallied       int
	StitchedPairs int
	OrphanMates   int
}

// TotalFiltered returns the number of records dropped by any filter.
func (s Stats) TotalFiltered() int {
	n := 0
	for _, c := range s.Filtered {
		n += c
	}
	return n
}

// Merge adds o's counts to s.
func (s *Stats) Merge(o Stats) {
	s.Records += o.Records
	for i, c := range o.Filtered {
		s.Filtered[i] += c
	}
	s.Tallied += o.Tallied
	s.StitchedPairs += o.StitchedPairs
	s.OrphanMates += o.OrphanMates
}

// String implements fmt.Stringer.
func (s Stats) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "records=%d tallied=%d stitched_pairs=%d orphan_mates=%d", s.Records, s.Tallied, s.StitchedPairs, s.OrphanMates)
	for r, c := range s.Filtered {
		if c != 0 {
			fmt.Fprintf(&b, " filtered_%s=%d", FilterReason(r), c)
		}
	}
	return b.String()
}

// Accumulator tallies the reads of one sample against a reference of fixed
// length.  It is not safe for concurrent use.
type Accumulator struct {
	opts        Opts
	minBaseQual byte
	// [regionStart, regionEnd) is the 0-based tallied interval.
	regionStart, regionEnd int
	accept                 map[string]struct{}
	counts                 []PositionTally
	mates                  mateTable
	qualBuf                []byte
	stats                  Stats
	finished               bool
}

// Validate checks opts against a reference of length refLen.
func (opts Opts) Validate(refLen int) error {
	if refLen <= 0 {
		return errors.E(errors.Invalid, "pileup: reference length must be positive")
	}
	if opts.MinBaseQual < 0 || opts.MinBaseQual >= nQual {
		return errors.E(errors.Invalid, fmt.Sprintf("pileup: min base quality %d outside [0, %d)", opts.MinBaseQual, nQual))
	}
	if opts.Clip < 0 {
		return errors.E(errors.Invalid, "pileup: negative clip")
	}
	_, _, err := ParseRegion(opts.Region, refLen)
	return err
}

// NewAccumulator returns an empty accumulator over refLen positions.
func NewAccumulator(refLen int, opts Opts) (*Accumulator, error) {
	if err := opts.Validate(refLen); err != nil {
		return nil, err
	}
	if opts.MaxReadSpan <= 0 {
		opts.MaxReadSpan = DefaultOpts.MaxReadSpan
	}
	start, end, _ := ParseRegion(opts.Region, refLen)
	a := &Accumulator{
		opts:        opts,
		minBaseQual: byte(opts.MinBaseQual),
		regionStart: start,
		regionEnd:   end,
		counts:      make([]PositionTally, refLen),
	}
	if len(opts.Contigs) > 0 {
		a.accept = make(map[string]struct{}, len(opts.Contigs))
		for _, c := range opts.Contigs {
			a.accept[c] = struct{}{}
		}
	}
	return a, nil
}

// ParseRegion converts a 1-based inclusive "start-end" string into a 0-based
// half-open interval.  An empty region covers the whole reference.
func ParseRegion(region string, refLen int) (start, end int, err error) {
	if region == "" {
		return 0, refLen, nil
	}
	if i := strings.LastIndexByte(region, ':'); i >= 0 {
		region = region[i+1:]
	}
	parts := strings.Split(region, "-")
	if len(parts) != 2 {
		return 0, 0, errors.E(errors.Invalid, fmt.Sprintf("pileup: region %q is not of the form start-end", region))
	}
	first, err1 := strconv.Atoi(strings.TrimSpace(parts[0]))
	last, err2 := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err1 != nil || err2 != nil {
		return 0, 0, errors.E(errors.Invalid, fmt.Sprintf("pileup: region %q has a non-integer bound", region))
	}
	if first < 1 || first > last || last > refLen {
		return 0, 0, errors.E(errors.Invalid, fmt.Sprintf("pileup: region %d-%d outside [1, %d]", first, last, refLen))
	}
	return first - 1, last, nil
}

// Stats returns the statistics collected so far.
func (a *Accumulator) Stats() Stats {
	return a.stats
}

// filter returns the reason rec should be skipped, or -1.
func (a *Accumulator) filter(rec *sam.Record) FilterReason {
	if int(rec.Flags)&a.opts.FlagExclude != 0 {
		return FilterFlags
	}
	if rec.Ref == nil {
		return FilterContig
	}
	if a.accept != nil {
		if _, ok := a.accept[rec.Ref.Name()]; !ok {
			return FilterContig
		}
	}
	if int(rec.MapQ) < a.opts.Mapq {
		return FilterMapq
	}
	if len(rec.Cigar) == 0 {
		return FilterCigar
	}
	return -1
}

// convert applies base clipping to a private copy of the qualities, then
// extracts the aligned bases.
func (a *Accumulator) convert(rec *sam.Record) (AlignedRead, error) {
	if a.opts.Clip == 0 {
		return FromSAM(rec, len(a.counts))
	}
	a.qualBuf = append(a.qualBuf[:0], rec.Qual...)
	clipQuals(a.qualBuf, a.opts.Clip)
	clipped := *rec
	clipped.Qual = a.qualBuf
	return FromSAM(&clipped, len(a.counts))
}

// pairable returns true if read has a mapped mate on the same contig and
// stitching is enabled.
func (a *Accumulator) pairable(rec *sam.Record, read *AlignedRead) bool {
	if !a.opts.Stitch || !read.Paired {
		return false
	}
	return rec.Flags&sam.MateUnmapped == 0 && rec.MateRef == rec.Ref && rec.MatePos >= 0
}

// mayOverlapMate returns true if read could overlap a mate whose span is not
// yet known.  The leftmost end knows exactly; the other end can only rule out
// mates that start more than MaxReadSpan before it.
func (a *Accumulator) mayOverlapMate(read *AlignedRead) bool {
	if read.MatePos < read.Start {
		return read.Start-read.MatePos < a.opts.MaxReadSpan
	}
	return read.MatePos < read.End
}

// AddRecord adds one alignment record.  Records that fail the read-level
// filters are counted in Stats and otherwise ignored.  An error is returned
// for malformed records and after Finish.
func (a *Accumulator) AddRecord(rec *sam.Record) error {
	if a.finished {
		return errors.E(errors.Invalid, "pileup.Accumulator: AddRecord called after Finish")
	}
	a.stats.Records++
	if reason := a.filter(rec); reason >= 0 {
		a.stats.Filtered[reason]++
		return nil
	}
	read, err := a.convert(rec)
	if err != nil {
		return err
	}
	if read.End <= a.regionStart || read.Start >= a.regionEnd {
		a.stats.Filtered[FilterRegion]++
		return nil
	}
	if !a.pairable(rec, &read) {
		a.addRead(&read)
		return nil
	}
	if entry, ok := a.mates.tryRemove(&read); ok {
		switch {
		case entry.tallied:
			a.addRead(&read)
		case spansOverlap(&entry.read, &read):
			a.addReadPair(&entry.read, &read)
		default:
			a.addRead(&entry.read)
			a.addRead(&read)
		}
		return nil
	}
	if a.mayOverlapMate(&read) {
		a.mates.add(read)
		return nil
	}
	a.addRead(&read)
	if read.Start <= read.MatePos {
		a.mates.addMarker(&read)
	}
	return nil
}

func spansOverlap(r0, r1 *AlignedRead) bool {
	return r0.Start < r1.End && r1.Start < r0.End
}

// Finish tallies any mates whose partner never arrived and returns the frozen
// tallies.  The accumulator rejects further input afterwards.
func (a *Accumulator) Finish() *Tallies {
	if a.finished {
		panic("pileup.Accumulator: Finish called twice")
	}
	orphans := a.mates.drain()
	for i := range orphans {
		a.addRead(&orphans[i])
	}
	a.stats.OrphanMates += len(orphans)
	a.finished = true
	t := &Tallies{counts: a.counts}
	a.counts = nil
	return t
}

// addBase performs a single count-increment, subject to the region and base
// quality filters.
func (a *Accumulator) addBase(b *AlignedBase, strand int) {
	if b.Pos < a.regionStart || b.Pos >= a.regionEnd || b.Qual < a.minBaseQual {
		return
	}
	a.counts[b.Pos].add(b.Allele, strand, b.Qual)
}

// addRead adds an unpaired read to the pileup.
func (a *Accumulator) addRead(read *AlignedRead) {
	for i := range read.Bases {
		a.addBase(&read.Bases[i], read.Strand)
	}
	a.stats.Tallied++
}

// addReadPair adds a read-pair to the pileup, counting each position covered
// by both ends once.
func (a *Accumulator) addReadPair(r0, r1 *AlignedRead) {
	// The fragment is reported on read 1's strand.
	if r1.Read1 && !r0.Read1 {
		r0, r1 = r1, r0
	}
	fragStrand := r0.Strand
	abb0 := r0.Bases
	abb1 := r1.Bases
	idx0 := 0
	idx1 := 0
	for (len(abb0) != idx0) && (len(abb1) != idx1) {
		b0 := &abb0[idx0]
		b1 := &abb1[idx1]
		if b0.Pos == b1.Pos {
			stitched := stitchBases(b0, b1)
			a.addBase(&stitched, fragStrand)
			idx0++
			idx1++
		} else if b0.Pos < b1.Pos {
			a.addBase(b0, r0.Strand)
			idx0++
		} else {
			a.addBase(b1, r1.Strand)
			idx1++
		}
	}
	for ; idx0 < len(abb0); idx0++ {
		a.addBase(&abb0[idx0], r0.Strand)
	}
	for ; idx1 < len(abb1); idx1++ {
		a.addBase(&abb1[idx1], r1.Strand)
	}
	a.stats.Tallied += 2
	a.stats.StitchedPairs++
}

// stitchBases resolves two observations of the same reference position.
// Agreeing bases get the phred-product quality; disagreeing bases resolve to
// the higher-quality one, or to N on a quality tie.
func stitchBases(b0, b1 *AlignedBase) AlignedBase {
	switch {
	case b0.Allele == b1.Allele:
		return AlignedBase{Pos: b0.Pos, Allele: b0.Allele, Qual: combineQuals(b0.Qual, b1.Qual)}
	case b0.Qual > b1.Qual:
		return *b0
	case b1.Qual > b0.Qual:
		return *b1
	}
	return AlignedBase{Pos: b0.Pos, Allele: AlleleN, Qual: b0.Qual}
}

// Waiting returns the number of reads currently waiting for their mates.
func (a *Accumulator) Waiting() int {
	return a.mates.waiting()
}
