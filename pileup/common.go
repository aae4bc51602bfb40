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
	"github.com/grailbio/hts/sam"
)

// Common pileup components.

// Allele indexes the per-position counters.  The order is also the tie-break
// order used when ranking alleles by count.
type Allele byte

const (
	// AlleleA represents an A base.
	AlleleA Allele = iota
	// AlleleC represents a C base.
	AlleleC
	// AlleleG represents a G base.
	AlleleG
	// AlleleT represents a T base.
	AlleleT
	// AlleleDel represents a deleted reference position.
	AlleleDel
	// AlleleN is a catch-all for uncalled or ambiguous bases.  It is never
	// counted toward depth.
	AlleleN
)

const (
	// NBase is the number of regular base types.
	NBase = 4
	// NAllele counts deletions and Ns as well as the regular base types.
	NAllele = 6
)

// DelSymbol is the text rendering of AlleleDel.
const DelSymbol = '-'

// alleleToASCIITable is the Allele -> ASCII mapping.
var alleleToASCIITable = [NAllele]byte{'A', 'C', 'G', 'T', DelSymbol, 'N'}

// asciiToAlleleTable maps read bases to Alleles.  Anything other than
// A/C/G/T/- (either case) maps to AlleleN.
var asciiToAlleleTable [256]Allele

func init() {
	for i := range asciiToAlleleTable {
		asciiToAlleleTable[i] = AlleleN
	}
	for a, c := range alleleToASCIITable {
		asciiToAlleleTable[c] = Allele(a)
		if c >= 'A' && c <= 'Z' {
			asciiToAlleleTable[c+'a'-'A'] = Allele(a)
		}
	}
}

// Byte returns the ASCII symbol for a.
func (a Allele) Byte() byte {
	return alleleToASCIITable[a]
}

// String implements fmt.Stringer.
func (a Allele) String() string {
	return string(alleleToASCIITable[a])
}

// AlleleFromByte converts an ASCII base (or '-') to an Allele.
func AlleleFromByte(c byte) Allele {
	return asciiToAlleleTable[c]
}

// StrandType describes which strand a read-pair is aligned to.
type StrandType int

const (
	// StrandNone means undefined-strand (read ends on different contigs, or
	// appear to be part of an inversion).
	StrandNone StrandType = iota
	// StrandFwd means that the read-pair's start is on the 5' side and the end
	// is on the 3' side of the same contig.
	StrandFwd
	// StrandRev means that the read-pair's start is on the 3' side and the end
	// is on the 5' side of the same contig.
	StrandRev
)

// StrandTypeToASCIITable is the StrandType -> ASCII mapping.
var StrandTypeToASCIITable = [...]byte{'.', '+', '-'}

// GetStrand returns the strand the read-pair is aligned to.
func GetStrand(samr *sam.Record) StrandType {
	if samr.Ref != samr.MateRef {
		return StrandNone
	}
	flagStrand := samr.Flags & (sam.Reverse | sam.MateReverse | sam.Read1 | sam.Read2)
	if (flagStrand == (sam.MateReverse | sam.Read1)) || (flagStrand == (sam.Reverse | sam.Read2)) {
		return StrandFwd
	} else if (flagStrand == (sam.Reverse | sam.Read1)) || (flagStrand == (sam.MateReverse | sam.Read2)) {
		return StrandRev
	}
	return StrandNone
}

// strandIndex returns 0 for a forward-strand observation and 1 for a
// reverse-strand one.  The read-pair strand is used when it is defined;
// otherwise the read's own orientation decides.
func strandIndex(samr *sam.Record) int {
	switch GetStrand(samr) {
	case StrandFwd:
		return 0
	case StrandRev:
		return 1
	}
	if samr.Flags&sam.Reverse != 0 {
		return 1
	}
	return 0
}
