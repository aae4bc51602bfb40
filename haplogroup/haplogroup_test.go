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

package haplogroup_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/grailbio/mtw/haplogroup"
	"github.com/grailbio/mtw/reference"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const bases = "ACGT"

func refAt(pos int) byte     { return bases[(pos-1)%4] }
func derivedAt(pos int) byte { return bases[pos%4] }

func mutation(h string, pos int) reference.DefiningMutation {
	return reference.DefiningMutation{Pos: pos, Ref: refAt(pos), Derived: derivedAt(pos), Haplogroup: h}
}

// newModel builds a 400bp reference where haplogroup H is defined at
// positions 10-19, U at 110-119 and H1 (child of H) at 200-201.
func newModel(t *testing.T) *reference.Model {
	table := &reference.MutationTable{Parents: map[string]string{"H1": "H"}}
	for pos := 10; pos < 20; pos++ {
		table.Mutations = append(table.Mutations, mutation("H", pos))
	}
	for pos := 110; pos < 120; pos++ {
		table.Mutations = append(table.Mutations, mutation("U", pos))
	}
	table.Mutations = append(table.Mutations, mutation("H1", 200), mutation("H1", 201))
	m, err := reference.New("chrM", []byte(strings.Repeat(bases, 100)), table)
	require.NoError(t, err)
	return m
}

// consensus covers H and U signature positions, carrying the derived
// allele at the first hMatch H positions and the first uMatch U positions.
func consensus(hMatch, uMatch int) haplogroup.Consensus {
	c := haplogroup.Consensus{}
	for i := 0; i < 10; i++ {
		pos := 10 + i
		c[pos] = refAt(pos)
		if i < hMatch {
			c[pos] = derivedAt(pos)
		}
		pos = 110 + i
		c[pos] = refAt(pos)
		if i < uMatch {
			c[pos] = derivedAt(pos)
		}
	}
	return c
}

func TestClassify(t *testing.T) {
	m := newModel(t)
	call, err := haplogroup.Classify("s1", consensus(8, 3), m, haplogroup.DefaultOpts)
	require.NoError(t, err)
	assert.Equal(t, "s1", call.Sample)
	assert.Equal(t, "H", call.Haplogroup)
	assert.InDelta(t, 0.8, call.Score, 1e-12)
	assert.Equal(t, 10, call.Evaluable)
	assert.Len(t, call.Matched, 8)
	require.Len(t, call.Mismatched, 2)
	assert.Equal(t, refAt(18), call.Mismatched[0].Observed)
	assert.Equal(t, 18, call.Mismatched[0].Mutation.Pos)

	// H1 has no evaluable positions of its own but inherits H's signature:
	// it ties H on score and evaluable count, and loses on the label.
	require.Len(t, call.Alternatives, 2)
	assert.Equal(t, "H1", call.Alternatives[0].Haplogroup)
	assert.InDelta(t, 0.8, call.Alternatives[0].Score, 1e-12)
	assert.Equal(t, "U", call.Alternatives[1].Haplogroup)
	assert.InDelta(t, 0.3, call.Alternatives[1].Score, 1e-12)
}

func TestClassifyPrefersDeeperHaplogroup(t *testing.T) {
	m := newModel(t)
	c := consensus(10, 0)
	c[200] = derivedAt(200)
	c[201] = derivedAt(201)
	call, err := haplogroup.Classify("s1", c, m, haplogroup.DefaultOpts)
	require.NoError(t, err)
	assert.Equal(t, "H1", call.Haplogroup)
	assert.Equal(t, 12, call.Evaluable)
	assert.Equal(t, 1.0, call.Score)
	assert.Equal(t, "H", call.Alternatives[0].Haplogroup)
}

func TestClassifyMissingPositionsNotEvaluable(t *testing.T) {
	m := newModel(t)
	c := consensus(8, 0)
	// Dropping the two mismatching H positions raises H's score to 1.
	delete(c, 18)
	delete(c, 19)
	call, err := haplogroup.Classify("s1", c, m, haplogroup.DefaultOpts)
	require.NoError(t, err)
	assert.Equal(t, "H", call.Haplogroup)
	assert.Equal(t, 1.0, call.Score)
	assert.Equal(t, 8, call.Evaluable)
	assert.Empty(t, call.Mismatched)
}

func TestClassifyUnassigned(t *testing.T) {
	m := newModel(t)
	call, err := haplogroup.Classify("s1", haplogroup.Consensus{}, m, haplogroup.DefaultOpts)
	require.NoError(t, err)
	assert.Equal(t, haplogroup.Unassigned, call.Haplogroup)
	assert.Equal(t, 0.0, call.Score)
	assert.Empty(t, call.Alternatives)

	opts := haplogroup.DefaultOpts
	opts.MinEvaluable = 11
	call, err = haplogroup.Classify("s1", consensus(10, 10), m, opts)
	require.NoError(t, err)
	assert.Equal(t, haplogroup.Unassigned, call.Haplogroup)
}

func TestClassifyMonotone(t *testing.T) {
	m := newModel(t)
	prev := -1.0
	for matches := 0; matches <= 10; matches++ {
		call, err := haplogroup.Classify("s1", consensus(matches, 0), m, haplogroup.Opts{MinEvaluable: 1})
		require.NoError(t, err)
		var score float64
		if call.Haplogroup == "H" || call.Haplogroup == "H1" {
			score = call.Score
		}
		assert.True(t, score >= prev, "matches=%d score=%v prev=%v", matches, score, prev)
		prev = score
	}
}

func TestClassifyErrors(t *testing.T) {
	m := newModel(t)
	_, err := haplogroup.Classify("s1", nil, m, haplogroup.Opts{MinEvaluable: -1})
	assert.Error(t, err)

	bare, err := reference.New("chrM", []byte(bases), nil)
	require.NoError(t, err)
	_, err = haplogroup.Classify("s1", nil, bare, haplogroup.DefaultOpts)
	assert.Error(t, err)
}

func TestWriteCalls(t *testing.T) {
	m := newModel(t)
	c := consensus(10, 0)
	delete(c, 11)
	c[10] = refAt(10)
	call, err := haplogroup.Classify("s1", c, m, haplogroup.Opts{MinEvaluable: 1, TopN: 1})
	require.NoError(t, err)
	unassigned := haplogroup.Call{Sample: "s2", Haplogroup: haplogroup.Unassigned}

	var buf bytes.Buffer
	require.NoError(t, haplogroup.WriteCalls(&buf, []haplogroup.Call{call, unassigned}))
	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "SAMPLE\tHAPLOGROUP\tSCORE\tEVALUABLE\tMATCHED\tMISMATCHED\tALTERNATIVES", lines[0])
	fields := strings.Split(lines[1], "\t")
	require.Len(t, fields, 7)
	assert.Equal(t, []string{"s1", "H", "0.8888888888888888", "9"}, fields[:4])
	assert.True(t, strings.HasPrefix(fields[4], "T12A,A13C,"), fields[4])
	assert.Equal(t, "C10G", fields[5])
	assert.Equal(t, "H1:0.8889", fields[6])
	assert.Equal(t, "s2\tunassigned\t0\t0\t.\t.\t.", lines[2])
}
