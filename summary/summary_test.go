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
package summary_test

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/grailbio/mtw/heteroplasmy"
	"github.com/grailbio/mtw/summary"
	"github.com/grailbio/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rec(pos int, ref byte, major, minor int, filter string) heteroplasmy.Record {
	r := heteroplasmy.Record{
		Pos:        pos,
		Ref:        ref,
		Major:      ref,
		Minor:      heteroplasmy.NoMinor,
		MajorCount: major,
		MinorCount: minor,
		Depth:      major + minor,
		CIHigh:     1,
		Filter:     filter,
	}
	if minor > 0 {
		r.Minor = 'G'
	}
	r.Fraction = float64(minor) / float64(major+minor)
	return r
}

func table(t *testing.T, sample string, recs ...heteroplasmy.Record) *heteroplasmy.Table {
	tbl, err := heteroplasmy.NewTable(sample, recs)
	require.NoError(t, err)
	return tbl
}

func testTables(t *testing.T) []*heteroplasmy.Table {
	return []*heteroplasmy.Table{
		table(t, "S1", rec(73, 'A', 40, 0, heteroplasmy.FilterLowFraction), rec(3107, 'N', 45, 5, heteroplasmy.FilterPass)),
		table(t, "S2"),
		table(t, "S3", rec(3107, 'N', 30, 0, heteroplasmy.FilterLowFraction), rec(16519, 'T', 30, 10, heteroplasmy.FilterStrandBias)),
	}
}

func TestBuild(t *testing.T) {
	m, err := summary.Build(testTables(t), summary.DefaultOpts)
	require.NoError(t, err)
	assert.Equal(t, []int{73, 3107, 16519}, m.Positions())
	assert.Equal(t, []string{"S1", "S2", "S3"}, m.Samples())
	assert.Equal(t, byte('N'), m.Ref(1))

	v, ok := m.Get(3107, "S1")
	assert.True(t, ok)
	assert.InDelta(t, 0.1, v, 1e-12)
	v, ok = m.Get(3107, "S3")
	assert.True(t, ok)
	assert.Equal(t, 0.0, v)
	// Missing, not zero.
	_, ok = m.Get(3107, "S2")
	assert.False(t, ok)
	_, ok = m.Get(16519, "S1")
	assert.False(t, ok)
	_, ok = m.Get(1, "S1")
	assert.False(t, ok)
	_, ok = m.Get(73, "S9")
	assert.False(t, ok)
	v, ok = m.Cell(2, 2)
	assert.True(t, ok)
	assert.Equal(t, 0.25, v)
}

func TestBuildPassOnly(t *testing.T) {
	m, err := summary.Build(testTables(t), summary.Opts{PassOnly: true})
	require.NoError(t, err)
	_, ok := m.Get(16519, "S3")
	assert.False(t, ok)
	assert.True(t, m.Flagged(2, 2))
	v, ok := m.Raw(2, 2)
	assert.True(t, ok)
	assert.Equal(t, 0.25, v)
	v, ok = m.Get(3107, "S1")
	assert.True(t, ok)
	assert.InDelta(t, 0.1, v, 1e-12)
	assert.False(t, m.Flagged(1, 0))
}

func TestAlignmentErrors(t *testing.T) {
	_, err := summary.Build([]*heteroplasmy.Table{table(t, "S1"), table(t, "S1")}, summary.DefaultOpts)
	var alignErr *summary.AlignmentError
	require.True(t, errors.As(err, &alignErr))
	assert.Equal(t, "S1", alignErr.Sample)

	_, err = summary.Build([]*heteroplasmy.Table{
		table(t, "S1", rec(73, 'A', 40, 0, heteroplasmy.FilterLowFraction)),
		table(t, "S2", rec(73, 'G', 40, 0, heteroplasmy.FilterLowFraction)),
	}, summary.DefaultOpts)
	require.True(t, errors.As(err, &alignErr))
	assert.Equal(t, 73, alignErr.Pos)
	assert.Contains(t, err.Error(), "position 73")
}

func TestMatrixIO(t *testing.T) {
	m, err := summary.Build(testTables(t), summary.DefaultOpts)
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, summary.WriteMatrix(&buf, m))
	assert.Equal(t, "POS\tREF\tS1\tS2\tS3\n"+
		"73\tA\t0\tNA\tNA\n"+
		"3107\tN\t0.1\tNA\t0\n"+
		"16519\tT\tNA\tNA\t0.25\n", buf.String())

	got, err := summary.ReadMatrix(strings.NewReader(buf.String()))
	require.NoError(t, err)
	assert.Equal(t, m.Positions(), got.Positions())
	assert.Equal(t, m.Samples(), got.Samples())
	for row := range m.Positions() {
		assert.Equal(t, m.Ref(row), got.Ref(row))
		for col := range m.Samples() {
			wantV, wantOK := m.Cell(row, col)
			gotV, gotOK := got.Cell(row, col)
			assert.Equal(t, wantOK, gotOK)
			assert.Equal(t, wantV, gotV)
		}
	}

	ctx := context.Background()
	tmpdir, cleanup := testutil.TempDir(t, "", "")
	defer testutil.NoCleanupOnError(t, cleanup, tmpdir)
	path := filepath.Join(tmpdir, "matrix.tsv.gz")
	require.NoError(t, summary.WriteMatrixFile(ctx, path, m))
	got, err = summary.ReadMatrixFile(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, m.Positions(), got.Positions())
}

func TestReadMatrixInvalid(t *testing.T) {
	for _, body := range []string{
		"",
		"POSITION\tREF\tS1\n",
		"POS\tREF\tS1\tS1\n",
		"POS\tREF\tS1\n5\tA\n",
		"POS\tREF\tS1\n5\tA\t1.5\n",
		"POS\tREF\tS1\n5\tA\t0.1\n5\tA\t0.1\n",
		"POS\tREF\tS1\nx\tA\t0.1\n",
	} {
		_, err := summary.ReadMatrix(strings.NewReader(body))
		assert.Error(t, err, body)
	}
}
