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
package heteroplasmy_test

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/grailbio/mtw/heteroplasmy"
	"github.com/grailbio/mtw/pileup"
	"github.com/grailbio/mtw/reference"
	"github.com/grailbio/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const refLen = 16569

func testModel(t *testing.T) *reference.Model {
	seq := bytes.Repeat([]byte("ACGT"), refLen/4+1)[:refLen]
	seq[3107-1] = 'N'
	m, err := reference.New("chrM", seq, nil)
	require.NoError(t, err)
	return m
}

// tally returns a PositionTally with the given per-strand counts, each base
// at quality 30.
func tally(counts map[pileup.Allele][2]uint32) pileup.PositionTally {
	var pt pileup.PositionTally
	for a, c := range counts {
		pt.Counts[a] = c
		pt.QualSums[a] = 30 * (c[0] + c[1])
	}
	return pt
}

func estimate(t *testing.T, opts heteroplasmy.Opts, tallies map[int]pileup.PositionTally) (*heteroplasmy.Table, []heteroplasmy.CoverageWarning) {
	tt, err := pileup.NewTallies(refLen, tallies)
	require.NoError(t, err)
	table, warnings, err := heteroplasmy.Estimate("S1", testModel(t), tt, opts)
	require.NoError(t, err)
	return table, warnings
}

func TestEstimateFraction(t *testing.T) {
	table, warnings := estimate(t, heteroplasmy.DefaultOpts, map[int]pileup.PositionTally{
		3107: tally(map[pileup.Allele][2]uint32{pileup.AlleleA: {25, 20}, pileup.AlleleG: {3, 2}}),
		200:  tally(map[pileup.Allele][2]uint32{pileup.AlleleC: {6, 4}}),
	})
	assert.Len(t, warnings, 1)
	assert.Equal(t, 200, warnings[0].Pos)
	assert.Equal(t, 10, warnings[0].Depth)
	assert.False(t, warnings[0].SampleLevel())

	require.Equal(t, 1, table.Len())
	rec, ok := table.Lookup(3107)
	require.True(t, ok)
	assert.Equal(t, byte('N'), rec.Ref)
	assert.Equal(t, byte('A'), rec.Major)
	assert.Equal(t, byte('G'), rec.Minor)
	assert.Equal(t, 45, rec.MajorCount)
	assert.Equal(t, 5, rec.MinorCount)
	assert.Equal(t, 50, rec.Depth)
	assert.InDelta(t, 0.10, rec.Fraction, 1e-12)
	assert.Equal(t, heteroplasmy.FilterPass, rec.Filter)
	assert.True(t, rec.CILow < 0.10 && rec.CIHigh > 0.10)

	_, ok = table.Lookup(200)
	assert.False(t, ok)
	assert.Equal(t, map[int]byte{3107: 'A'}, table.Consensus())
	assert.Len(t, table.Heteroplasmic(), 1)
}

func TestFilters(t *testing.T) {
	opts := heteroplasmy.DefaultOpts
	opts.MinStrandCount = 2
	table, _ := estimate(t, opts, map[int]pileup.PositionTally{
		// Homoplasmic.
		10: tally(map[pileup.Allele][2]uint32{pileup.AlleleT: {30, 30}}),
		// Minor allele below the noise floor.
		11: tally(map[pileup.Allele][2]uint32{pileup.AlleleT: {500, 500}, pileup.AlleleC: {1, 1}}),
		// Minor allele seen on one strand only.
		12: tally(map[pileup.Allele][2]uint32{pileup.AlleleT: {30, 30}, pileup.AlleleC: {10, 0}}),
		// Deletion as the minor allele; Ns do not count.
		13: tally(map[pileup.Allele][2]uint32{pileup.AlleleG: {20, 20}, pileup.AlleleDel: {5, 5}, pileup.AlleleN: {100, 100}}),
	})
	require.Equal(t, 4, table.Len())
	recs := table.Records()
	assert.Equal(t, byte(heteroplasmy.NoMinor), recs[0].Minor)
	assert.Equal(t, 0.0, recs[0].Fraction)
	assert.Equal(t, heteroplasmy.FilterLowFraction, recs[0].Filter)
	assert.Equal(t, heteroplasmy.FilterLowFraction, recs[1].Filter)
	assert.Equal(t, heteroplasmy.FilterStrandBias, recs[2].Filter)
	assert.Equal(t, heteroplasmy.FilterPass, recs[3].Filter)
	assert.Equal(t, byte('-'), recs[3].Minor)
	assert.Equal(t, 50, recs[3].Depth)
	assert.InDelta(t, 0.2, recs[3].Fraction, 1e-12)
	assert.Len(t, table.Heteroplasmic(), 1)
}

func TestTieBreak(t *testing.T) {
	table, _ := estimate(t, heteroplasmy.DefaultOpts, map[int]pileup.PositionTally{
		50: tally(map[pileup.Allele][2]uint32{pileup.AlleleT: {10, 10}, pileup.AlleleC: {10, 10}, pileup.AlleleDel: {5, 5}}),
	})
	rec, ok := table.Lookup(50)
	require.True(t, ok)
	assert.Equal(t, byte('C'), rec.Major)
	assert.Equal(t, byte('T'), rec.Minor)
	assert.Equal(t, 0.5, rec.Fraction)
	assert.Equal(t, 50, rec.Depth)
}

func TestNoCoverage(t *testing.T) {
	table, warnings := estimate(t, heteroplasmy.DefaultOpts, map[int]pileup.PositionTally{
		1: tally(map[pileup.Allele][2]uint32{pileup.AlleleA: {3, 4}}),
	})
	assert.Equal(t, 0, table.Len())
	require.Len(t, warnings, 2)
	assert.True(t, warnings[1].SampleLevel())
	assert.Equal(t, 7, warnings[1].Depth)
	assert.True(t, strings.Contains(warnings[1].String(), "no position reaches depth 20"))
}

func TestEstimateErrors(t *testing.T) {
	tt, err := pileup.NewTallies(100, nil)
	require.NoError(t, err)
	_, _, err = heteroplasmy.Estimate("S1", testModel(t), tt, heteroplasmy.DefaultOpts)
	assert.Error(t, err)

	tt, err = pileup.NewTallies(refLen, nil)
	require.NoError(t, err)
	opts := heteroplasmy.DefaultOpts
	opts.NoiseFloor = 2
	_, _, err = heteroplasmy.Estimate("S1", testModel(t), tt, opts)
	assert.Error(t, err)
	opts = heteroplasmy.DefaultOpts
	opts.MinDepth = 0
	_, _, err = heteroplasmy.Estimate("S1", testModel(t), tt, opts)
	assert.Error(t, err)
}

func TestWilson(t *testing.T) {
	lo, hi := heteroplasmy.Wilson(5, 50, 1.96)
	assert.InDelta(t, 0.0435, lo, 1e-3)
	assert.InDelta(t, 0.2136, hi, 1e-3)
	lo, hi = heteroplasmy.Wilson(0, 20, 1.96)
	assert.InDelta(t, 0.0, lo, 1e-12)
	assert.True(t, hi > 0 && hi < 0.2)
	lo, hi = heteroplasmy.Wilson(0, 0, 1.96)
	assert.Equal(t, 0.0, lo)
	assert.Equal(t, 1.0, hi)
}

func TestTableIO(t *testing.T) {
	table, _ := estimate(t, heteroplasmy.DefaultOpts, map[int]pileup.PositionTally{
		3107:  tally(map[pileup.Allele][2]uint32{pileup.AlleleA: {25, 20}, pileup.AlleleG: {3, 2}}),
		16000: tally(map[pileup.Allele][2]uint32{pileup.AlleleT: {17, 16}, pileup.AlleleC: {1, 0}}),
		73:    tally(map[pileup.Allele][2]uint32{pileup.AlleleG: {40, 40}}),
	})
	var buf bytes.Buffer
	require.NoError(t, heteroplasmy.WriteTable(&buf, table))
	lines := strings.Split(buf.String(), "\n")
	assert.Equal(t, "##sample=S1", lines[0])
	assert.Equal(t, "#POS\tREF\tMAJOR\tMINOR\tMAJOR_COUNT\tMINOR_COUNT\tFRACTION\tDEPTH\tCI_LOW\tCI_HIGH\tFILTER", lines[1])
	assert.True(t, strings.HasPrefix(lines[2], "73\tA\tG\t.\t80\t0\t0\t80\t"))
	assert.True(t, strings.HasPrefix(lines[3], "3107\tN\tA\tG\t45\t5\t0.1\t50\t"))

	got, err := heteroplasmy.ReadTable(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, "S1", got.Sample)
	assert.Equal(t, table.Records(), got.Records())

	ctx := context.Background()
	tmpdir, cleanup := testutil.TempDir(t, "", "")
	defer testutil.NoCleanupOnError(t, cleanup, tmpdir)
	for _, bgzip := range []bool{false, true} {
		path := heteroplasmy.TablePath(tmpdir, "S1", bgzip)
		require.NoError(t, heteroplasmy.WriteTableFile(ctx, path, table))
		got, err = heteroplasmy.ReadTableFile(ctx, path)
		require.NoError(t, err)
		assert.Equal(t, table.Records(), got.Records())
	}
	_, err = heteroplasmy.ReadTableFile(ctx, filepath.Join(tmpdir, "missing.tsv"))
	assert.Error(t, err)
}

func TestReadTableInvalid(t *testing.T) {
	header := "#POS\tREF\tMAJOR\tMINOR\tMAJOR_COUNT\tMINOR_COUNT\tFRACTION\tDEPTH\tCI_LOW\tCI_HIGH\tFILTER\n"
	for _, test := range []struct {
		name, body string
	}{
		{"no sample", header},
		{"bad fraction", "##sample=S\n" + header + "5\tA\tA\tG\t40\t10\t0.5\t50\t0.1\t0.3\tPASS\n"},
		{"unsorted", "##sample=S\n" + header +
			"9\tA\tA\t.\t40\t0\t0\t40\t0\t0.1\tLowFraction\n" +
			"5\tA\tA\t.\t40\t0\t0\t40\t0\t0.1\tLowFraction\n"},
		{"bad filter", "##sample=S\n" + header + "5\tA\tA\t.\t40\t0\t0\t40\t0\t0.1\tMaybe\n"},
		{"bad symbol", "##sample=S\n" + header + "5\tAA\tA\t.\t40\t0\t0\t40\t0\t0.1\tLowFraction\n"},
	} {
		_, err := heteroplasmy.ReadTable(strings.NewReader(test.body))
		assert.Error(t, err, test.name)
	}
}
