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

// Package haplogroup assigns samples to mitochondrial haplogroups.
//
// Each haplogroup is scored over its signature (its own defining mutations
// plus, given a phylogeny, those of its ancestors).  Signature positions the
// sample's consensus does not cover are not evaluable and are skipped rather
// than counted as mismatches.  The score is matched / evaluable.
package haplogroup

import (
	"fmt"
	"sort"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/mtw/heteroplasmy"
	"github.com/grailbio/mtw/reference"
)

// Unassigned is the label of a sample no haplogroup could be evaluated for.
const Unassigned = "unassigned"

// Consensus maps a 1-based position to the sample's dominant allele there.
// Uncovered positions are absent.
type Consensus map[int]byte

// ConsensusFromTable returns the major alleles of a heteroplasmy table.
func ConsensusFromTable(t *heteroplasmy.Table) Consensus {
	return Consensus(t.Consensus())
}

// Opts controls Classify.
type Opts struct {
	// MinEvaluable excludes haplogroups with fewer evaluable signature
	// positions.
	MinEvaluable int
	// TopN is the number of runner-up haplogroups reported.
	TopN int
}

// DefaultOpts are the defaults used by the command line.
var DefaultOpts = Opts{
	MinEvaluable: 1,
	TopN:         3,
}

// SiteResult is one evaluated signature position.
type SiteResult struct {
	Mutation reference.DefiningMutation
	Observed byte
}

// Score summarizes how well one haplogroup fits.
type Score struct {
	Haplogroup string
	Score      float64
	Evaluable  int
	Matched    int
}

// Call is the classification of one sample.
type Call struct {
	Sample     string
	Haplogroup string
	Score      float64
	Evaluable  int
	Matched    []SiteResult
	Mismatched []SiteResult
	// Alternatives are the best-ranked other haplogroups, best first.
	Alternatives []Score
}

// better ranks scores: higher score, then more evaluable positions, then the
// lexicographically smaller label.
func better(a, b Score) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if a.Evaluable != b.Evaluable {
		return a.Evaluable > b.Evaluable
	}
	return a.Haplogroup < b.Haplogroup
}

// evaluate scores one haplogroup against consensus.
func evaluate(h string, consensus Consensus, ref *reference.Model) (Score, []SiteResult, []SiteResult) {
	var matched, mismatched []SiteResult
	for _, mut := range ref.Signature(h) {
		obs, ok := consensus[mut.Pos]
		if !ok {
			continue
		}
		site := SiteResult{Mutation: mut, Observed: obs}
		if obs == mut.Derived {
			matched = append(matched, site)
		} else {
			mismatched = append(mismatched, site)
		}
	}
	s := Score{Haplogroup: h, Matched: len(matched), Evaluable: len(matched) + len(mismatched)}
	if s.Evaluable > 0 {
		s.Score = float64(s.Matched) / float64(s.Evaluable)
	}
	return s, matched, mismatched
}

// Classify returns the best-matching haplogroup of one sample.  If no
// haplogroup has at least opts.MinEvaluable evaluable positions the call is
// Unassigned with score 0.
func Classify(sample string, consensus Consensus, ref *reference.Model, opts Opts) (Call, error) {
	call := Call{Sample: sample, Haplogroup: Unassigned}
	if opts.MinEvaluable < 0 || opts.TopN < 0 {
		return call, errors.E(errors.Invalid, "haplogroup: MinEvaluable and TopN must not be negative")
	}
	haplogroups := ref.Haplogroups()
	if len(haplogroups) == 0 {
		return call, errors.E(errors.Invalid, fmt.Sprintf("haplogroup: reference %s has no defining mutations", ref.Name()))
	}
	var scores []Score
	for _, h := range haplogroups {
		s, _, _ := evaluate(h, consensus, ref)
		if s.Evaluable < opts.MinEvaluable || s.Evaluable == 0 {
			continue
		}
		scores = append(scores, s)
	}
	if len(scores) == 0 {
		return call, nil
	}
	sort.Slice(scores, func(i, j int) bool { return better(scores[i], scores[j]) })
	best := scores[0]
	call.Haplogroup = best.Haplogroup
	call.Score = best.Score
	call.Evaluable = best.Evaluable
	_, call.Matched, call.Mismatched = evaluate(best.Haplogroup, consensus, ref)
	alts := scores[1:]
	if len(alts) > opts.TopN {
		alts = alts[:opts.TopN]
	}
	call.Alternatives = append([]Score(nil), alts...)
	return call, nil
}
