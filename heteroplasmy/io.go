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

const (
	samplePrefix = "##sample="
	tableHeader  = "#POS\tREF\tMAJOR\tMINOR\tMAJOR_COUNT\tMINOR_COUNT\tFRACTION\tDEPTH\tCI_LOW\tCI_HIGH\tFILTER"
)

// tableRow is one line of a heteroplasmy table file.
type tableRow struct {
	Pos        int     `tsv:"#POS"`
	Ref        string  `tsv:"REF"`
	Major      string  `tsv:"MAJOR"`
	Minor      string  `tsv:"MINOR"`
	MajorCount int     `tsv:"MAJOR_COUNT"`
	MinorCount int     `tsv:"MINOR_COUNT"`
	Fraction   float64 `tsv:"FRACTION"`
	Depth      int     `tsv:"DEPTH"`
	CILow      float64 `tsv:"CI_LOW"`
	CIHigh     float64 `tsv:"CI_HIGH"`
	Filter     string  `tsv:"FILTER"`
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// WriteTable writes t as TSV.  The sample name is stored in a leading
// "##sample=" line; POS is 1-based.
func WriteTable(w io.Writer, t *Table) error {
	if strings.ContainsAny(t.Sample, "\t\n") {
		return errors.E(errors.Invalid, fmt.Sprintf("heteroplasmy: sample name %q contains a tab or newline", t.Sample))
	}
	tsvw := tsv.NewWriter(w)
	tsvw.WriteString(samplePrefix + t.Sample)
	if err := tsvw.EndLine(); err != nil {
		return err
	}
	tsvw.WriteString(tableHeader)
	if err := tsvw.EndLine(); err != nil {
		return err
	}
	for _, r := range t.records {
		tsvw.WriteUint32(uint32(r.Pos))
		tsvw.WriteByte(r.Ref)
		tsvw.WriteByte(r.Major)
		tsvw.WriteByte(r.Minor)
		tsvw.WriteUint32(uint32(r.MajorCount))
		tsvw.WriteUint32(uint32(r.MinorCount))
		tsvw.WriteString(formatFloat(r.Fraction))
		tsvw.WriteUint32(uint32(r.Depth))
		tsvw.WriteString(formatFloat(r.CILow))
		tsvw.WriteString(formatFloat(r.CIHigh))
		tsvw.WriteString(r.Filter)
		if err := tsvw.EndLine(); err != nil {
			return err
		}
	}
	return tsvw.Flush()
}

func parseSymbol(s, col string, pos int) (byte, error) {
	if len(s) != 1 {
		return 0, errors.E(errors.Invalid, fmt.Sprintf("heteroplasmy: position %d: bad %s %q", pos, col, s))
	}
	return s[0], nil
}

// ReadTable parses a table written by WriteTable, validating its invariants.
func ReadTable(r io.Reader) (*Table, error) {
	br := bufio.NewReader(r)
	sample := ""
	found := false
	for {
		prefix, err := br.Peek(2)
		if err != nil || string(prefix) != "##" {
			break
		}
		line, err := br.ReadString('\n')
		if err != nil && err != io.EOF {
			return nil, err
		}
		line = strings.TrimRight(line, "\r\n")
		if strings.HasPrefix(line, samplePrefix) {
			sample = line[len(samplePrefix):]
			found = true
		}
	}
	if !found {
		return nil, errors.E(errors.Invalid, "heteroplasmy: table has no ##sample= line")
	}
	reader := tsv.NewReader(br)
	reader.HasHeaderRow = true
	reader.UseHeaderNames = true
	var records []Record
	for {
		var row tableRow
		if err := reader.Read(&row); err != nil {
			if err == io.EOF {
				break
			}
			return nil, errors.E(errors.Invalid, err, "heteroplasmy: sample", sample)
		}
		rec := Record{
			Pos:        row.Pos,
			MajorCount: row.MajorCount,
			MinorCount: row.MinorCount,
			Fraction:   row.Fraction,
			Depth:      row.Depth,
			CILow:      row.CILow,
			CIHigh:     row.CIHigh,
			Filter:     row.Filter,
		}
		var err error
		if rec.Ref, err = parseSymbol(row.Ref, "REF", row.Pos); err != nil {
			return nil, err
		}
		if rec.Major, err = parseSymbol(row.Major, "MAJOR", row.Pos); err != nil {
			return nil, err
		}
		if rec.Minor, err = parseSymbol(row.Minor, "MINOR", row.Pos); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return NewTable(sample, records)
}

// TablePath returns the conventional path of a sample's table under dir.
func TablePath(dir, sample string, bgzip bool) string {
	path := strings.TrimSuffix(dir, "/") + "/" + sample + ".heteroplasmy.tsv"
	if bgzip {
		path += ".gz"
	}
	return path
}

// WriteTableFile writes t to path, BGZF-compressed if path ends in ".gz".
func WriteTableFile(ctx context.Context, path string, t *Table) error {
	return util.WriteFile(ctx, path, 1, func(w io.Writer) error {
		return WriteTable(w, t)
	})
}

// ReadTableFile reads a table from path.  Compressed files are detected
// automatically.
func ReadTableFile(ctx context.Context, path string) (t *Table, err error) {
	err = util.ReadFile(ctx, path, func(r io.Reader) (err error) {
		t, err = ReadTable(r)
		return
	})
	if err != nil {
		return nil, errors.E(err, "reading", path)
	}
	return t, nil
}
