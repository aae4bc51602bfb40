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
	"github.com/grailbio/base/errors"
	"github.com/grailbio/hts/sam"
)

// AlignedBase is a single read observation at one reference position.
type AlignedBase struct {
	// Pos is the 0-based reference position.
	Pos    int
	Allele Allele
	Qual   byte
}

// AlignedRead is the pileup-relevant content of one alignment record.  It is
// derived transiently from a *sam.Record and discarded after the tally
// update.
type AlignedRead struct {
	Name string
	// [Start, End) is the 0-based reference span.
	Start, End int
	// Bases is ordered by Pos; each reference position appears at most once.
	Bases []AlignedBase
	// Strand is 0 for forward and 1 for reverse; see strandIndex.
	Strand  int
	Paired  bool
	Read1   bool
	Read2   bool
	MatePos int
}

// FromSAM walks rec's CIGAR and extracts one AlignedBase per aligned or
// deleted reference position.  Insertions and clips consume read bases
// without producing observations.  The alignment must lie within
// [0, refLen).
func FromSAM(rec *sam.Record, refLen int) (AlignedRead, error) {
	read := AlignedRead{
		Name:    rec.Name,
		Start:   rec.Pos,
		Strand:  strandIndex(rec),
		Paired:  rec.Flags&sam.Paired != 0,
		Read1:   rec.Flags&sam.Read1 != 0,
		Read2:   rec.Flags&sam.Read2 != 0,
		MatePos: rec.MatePos,
	}
	if len(rec.Cigar) == 0 {
		return read, errors.E(errors.Invalid, "pileup.FromSAM: record", rec.Name, "has no CIGAR")
	}
	seq := rec.Seq.Expand()
	qual := rec.Qual
	if len(qual) != len(seq) {
		return read, errors.E(errors.Invalid, "pileup.FromSAM: record", rec.Name, "has mismatched SEQ and QUAL lengths")
	}
	read.Bases = make([]AlignedBase, 0, len(seq))
	posInRef := rec.Pos
	posInRead := 0
	for _, co := range rec.Cigar {
		cLen := co.Len()
		switch co.Type() {
		case sam.CigarMatch, sam.CigarEqual, sam.CigarMismatch:
			if posInRead+cLen > len(seq) {
				return read, errors.E(errors.Invalid, "pileup.FromSAM: CIGAR of", rec.Name, "is longer than its sequence")
			}
			for i := 0; i < cLen; i++ {
				read.Bases = append(read.Bases, AlignedBase{
					Pos:    posInRef + i,
					Allele: AlleleFromByte(seq[posInRead+i]),
					Qual:   normQual(qual[posInRead+i]),
				})
			}
			posInRef += cLen
			posInRead += cLen
		case sam.CigarDeletion, sam.CigarSkipped:
			q := flankQual(qual, posInRead)
			for i := 0; i < cLen; i++ {
				read.Bases = append(read.Bases, AlignedBase{
					Pos:    posInRef + i,
					Allele: AlleleDel,
					Qual:   q,
				})
			}
			posInRef += cLen
		case sam.CigarInsertion, sam.CigarSoftClipped:
			// Insertions are not tallied.
			posInRead += cLen
		case sam.CigarHardClipped, sam.CigarPadded:
			// do nothing
		default:
			return read, errors.E(errors.Invalid, "pileup.FromSAM: unexpected CIGAR code", co.String(), "in", rec.Name)
		}
	}
	read.End = posInRef
	if read.Start < 0 || read.End > refLen {
		return read, errors.E(errors.Invalid, "pileup.FromSAM: alignment of", rec.Name, "extends outside the reference")
	}
	return read, nil
}

// flankQual returns the lower of the qualities of the read bases on either
// side of a deletion that starts before read offset i.
func flankQual(qual []byte, i int) byte {
	switch {
	case len(qual) == 0:
		return 0
	case i <= 0:
		return normQual(qual[0])
	case i >= len(qual):
		return normQual(qual[len(qual)-1])
	}
	q0 := normQual(qual[i-1])
	q1 := normQual(qual[i])
	if q1 < q0 {
		return q1
	}
	return q0
}
