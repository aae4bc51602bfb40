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
package summary

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/tsv"
	"github.com/grailbio/mtw/util"
)

// Missing is the text rendering of a missing cell.
const Missing = "NA"

// WriteMatrix writes m as TSV with columns POS, REF and one column per
// sample.  Missing cells are written as NA.
func WriteMatrix(w io.Writer, m *Matrix) error {
	tsvw := tsv.NewWriter(w)
	tsvw.WriteString("POS")
	tsvw.WriteString("REF")
	for _, s := range m.samples {
		if strings.ContainsAny(s, "\t\n") {
			return errors.E(errors.Invalid, fmt.Sprintf("summary: sample name %q contains a tab or newline", s))
		}
		tsvw.WriteString(s)
	}
	if err := tsvw.EndLine(); err != nil {
		return err
	}
	for row, pos := range m.positions {
		tsvw.WriteUint32(uint32(pos))
		tsvw.WriteByte(m.refs[row])
		for col := range m.samples {
			if v, ok := m.Cell(row, col); ok {
				tsvw.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
			} else {
				tsvw.WriteString(Missing)
			}
		}
		if err := tsvw.EndLine(); err != nil {
			return err
		}
	}
	return tsvw.Flush()
}

// ReadMatrix parses a matrix written by WriteMatrix.
func ReadMatrix(r io.Reader) (*Matrix, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64<<10), 64<<20)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, err
		}
		return nil, errors.E(errors.Invalid, "summary: empty matrix")
	}
	header := strings.Split(strings.TrimRight(scanner.Text(), "\r"), "\t")
	if len(header) < 2 || header[0] != "POS" || header[1] != "REF" {
		return nil, errors.E(errors.Invalid, "summary: matrix header must start with POS and REF")
	}
	m := &Matrix{
		samples: header[2:],
		rowOf:   map[int]int{},
		colOf:   map[string]int{},
	}
	for col, s := range m.samples {
		if _, ok := m.colOf[s]; ok {
			return nil, &AlignmentError{Sample: s, Reason: "duplicate sample name"}
		}
		m.colOf[s] = col
	}
	for line := 2; scanner.Scan(); line++ {
		fields := strings.Split(strings.TrimRight(scanner.Text(), "\r"), "\t")
		if len(fields) != len(header) {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("summary: line %d has %d columns, expected %d", line, len(fields), len(header)))
		}
		pos, err := strconv.Atoi(fields[0])
		if err != nil || pos < 1 {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("summary: line %d: bad position %q", line, fields[0]))
		}
		if n := len(m.positions); n > 0 && pos <= m.positions[n-1] {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("summary: line %d: position %d is not ascending", line, pos))
		}
		if len(fields[1]) != 1 {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("summary: line %d: bad reference allele %q", line, fields[1]))
		}
		m.rowOf[pos] = len(m.positions)
		m.positions = append(m.positions, pos)
		m.refs = append(m.refs, fields[1][0])
		for _, f := range fields[2:] {
			if f == Missing {
				m.cells = append(m.cells, cell{})
				continue
			}
			v, err := strconv.ParseFloat(f, 64)
			if err != nil || v < 0 || v > 1 {
				return nil, errors.E(errors.Invalid, fmt.Sprintf("summary: line %d: bad fraction %q", line, f))
			}
			m.cells = append(m.cells, cell{value: v, present: true})
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return m, nil
}

// WriteMatrixFile writes m to path, BGZF-compressed if path ends in ".gz".
func WriteMatrixFile(ctx context.Context, path string, m *Matrix) error {
	return util.WriteFile(ctx, path, 1, func(w io.Writer) error {
		return WriteMatrix(w, m)
	})
}

// ReadMatrixFile reads a matrix from path.
func ReadMatrixFile(ctx context.Context, path string) (m *Matrix, err error) {
	err = util.ReadFile(ctx, path, func(r io.Reader) (err error) {
		m, err = ReadMatrix(r)
		return
	})
	return
}
