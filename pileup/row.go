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
	"encoding/binary"
	"fmt"
	"io"
	"strconv"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/recordio"
	"github.com/grailbio/base/recordio/recordiozstd"
	"github.com/grailbio/base/tsv"
)

const (
	refLenHeader  = "RefLen"
	tallyRowBytes = 4 + NAllele*2*4 + NAllele*4
)

func init() {
	recordiozstd.Init()
}

// tallyRow is the recordio form of one covered position.
type tallyRow struct {
	// Pos is 0-based.
	Pos   uint32
	Tally PositionTally
}

// cutAndAdvance() returns s[offset:offset+pieceLen], and increments offset by
// pieceLen.
func cutAndAdvance(offset *int, s []byte, pieceLen int) []byte {
	tmpSlice := s[(*offset):]
	*offset += pieceLen
	return tmpSlice[:pieceLen]
}

// Serialized format:
//   [0..4): pos
//   then, for each allele, forward and reverse counts (4 bytes each)
//   then, for each allele, the quality sum (4 bytes)
// All uses of this marshal function are bundled with the zstd transformer, so
// there is no attempt to skip zero counts.
func marshalTallyRow(scratch []byte, p interface{}) ([]byte, error) {
	row := p.(*tallyRow)
	t := scratch
	if len(t) < tallyRowBytes {
		t = make([]byte, tallyRowBytes)
	}
	t = t[:tallyRowBytes]
	offset := 0
	binary.LittleEndian.PutUint32(cutAndAdvance(&offset, t, 4), row.Pos)
	for a := range row.Tally.Counts {
		binary.LittleEndian.PutUint32(cutAndAdvance(&offset, t, 4), row.Tally.Counts[a][0])
		binary.LittleEndian.PutUint32(cutAndAdvance(&offset, t, 4), row.Tally.Counts[a][1])
	}
	for a := range row.Tally.QualSums {
		binary.LittleEndian.PutUint32(cutAndAdvance(&offset, t, 4), row.Tally.QualSums[a])
	}
	return t, nil
}

func unmarshalTallyRow(in []byte) (interface{}, error) {
	if len(in) != tallyRowBytes {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("pileup: tally record has %d bytes, expected %d", len(in), tallyRowBytes))
	}
	row := &tallyRow{}
	offset := 0
	row.Pos = binary.LittleEndian.Uint32(cutAndAdvance(&offset, in, 4))
	for a := range row.Tally.Counts {
		row.Tally.Counts[a][0] = binary.LittleEndian.Uint32(cutAndAdvance(&offset, in, 4))
		row.Tally.Counts[a][1] = binary.LittleEndian.Uint32(cutAndAdvance(&offset, in, 4))
	}
	for a := range row.Tally.QualSums {
		row.Tally.QualSums[a] = binary.LittleEndian.Uint32(cutAndAdvance(&offset, in, 4))
	}
	return row, nil
}

// WriteTallies writes the covered positions of t to out in the recordio
// format, compressed with zstd.
func WriteTallies(out io.Writer, t *Tallies) error {
	recordWriter := recordio.NewWriter(out, recordio.WriterOpts{
		Marshal:      marshalTallyRow,
		Transformers: []string{recordiozstd.Name},
	})
	recordWriter.AddHeader(refLenHeader, strconv.Itoa(t.Len()))
	for i := range t.counts {
		if t.counts[i].Empty() {
			continue
		}
		recordWriter.Append(&tallyRow{Pos: uint32(i), Tally: t.counts[i]})
	}
	return recordWriter.Finish()
}

// ReadTallies reads tallies written by WriteTallies.
func ReadTallies(rs io.ReadSeeker) (*Tallies, error) {
	scanner := recordio.NewScanner(rs, recordio.ScannerOpts{
		Unmarshal: unmarshalTallyRow,
	})
	refLen := -1
	for _, kv := range scanner.Header() {
		switch kv.Key {
		case refLenHeader:
			n, err := strconv.Atoi(kv.Value.(string))
			if err != nil {
				return nil, errors.E(errors.Invalid, err, "pileup: bad RefLen header")
			}
			refLen = n
			// Cannot return an error on unrecognized key since recordio can write its own.
		}
	}
	if refLen <= 0 {
		if err := scanner.Err(); err != nil {
			return nil, err
		}
		return nil, errors.E(errors.Invalid, "pileup: tally file has no RefLen header")
	}
	t := &Tallies{counts: make([]PositionTally, refLen)}
	for scanner.Scan() {
		row := scanner.Get().(*tallyRow)
		if int(row.Pos) >= refLen {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("pileup: tally position %d outside reference of length %d", row.Pos+1, refLen))
		}
		t.counts[row.Pos] = row.Tally
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return t, scanner.Finish()
}

// WriteTalliesTSV writes a base-strand TSV of the covered positions of t.
// refSeq is the reference sequence, indexed by 0-based position.  POS is
// 1-based.
func WriteTalliesTSV(w io.Writer, t *Tallies, refSeq []byte) error {
	if len(refSeq) != t.Len() {
		return errors.E(errors.Invalid, fmt.Sprintf("pileup: reference length %d does not match tallies length %d", len(refSeq), t.Len()))
	}
	tsvw := tsv.NewWriter(w)
	tsvw.WriteString("#POS\tREF\tA+\tA-\tC+\tC-\tG+\tG-\tT+\tT-\tN\tDEL")
	if err := tsvw.EndLine(); err != nil {
		return err
	}
	for i := range t.counts {
		pt := &t.counts[i]
		if pt.Empty() {
			continue
		}
		tsvw.WriteUint32(uint32(i + 1))
		tsvw.WriteByte(refSeq[i])
		for a := AlleleA; a <= AlleleT; a++ {
			tsvw.WriteUint32(pt.Counts[a][0])
			tsvw.WriteUint32(pt.Counts[a][1])
		}
		tsvw.WriteUint32(uint32(pt.Count(AlleleN)))
		tsvw.WriteUint32(uint32(pt.Count(AlleleDel)))
		if err := tsvw.EndLine(); err != nil {
			return err
		}
	}
	return tsvw.Flush()
}
