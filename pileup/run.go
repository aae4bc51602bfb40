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
	"context"
	"fmt"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/hts/sam"
	"github.com/grailbio/mtw/encoding/bamprovider"
)

// ctxCheckInterval is the number of records between context checks.
const ctxCheckInterval = 1 << 14

// MatchContigs returns the names of the header references that match one of
// the given aliases.  Every match must have length refLen.  With no aliases,
// the header must contain exactly one reference of length refLen.
func MatchContigs(header *sam.Header, aliases []string, refLen int) ([]string, error) {
	refs := header.Refs()
	var names []string
	if len(aliases) == 0 {
		if len(refs) != 1 {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("pileup: header has %d references and no contig names were given", len(refs)))
		}
		if refs[0].Len() != refLen {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("pileup: contig %s has length %d, reference has %d", refs[0].Name(), refs[0].Len(), refLen))
		}
		return []string{refs[0].Name()}, nil
	}
	want := make(map[string]bool, len(aliases))
	for _, a := range aliases {
		want[a] = true
	}
	for _, ref := range refs {
		if !want[ref.Name()] {
			continue
		}
		if ref.Len() != refLen {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("pileup: contig %s has length %d, reference has %d", ref.Name(), ref.Len(), refLen))
		}
		names = append(names, ref.Name())
	}
	if len(names) == 0 {
		return nil, errors.E(errors.NotExist, fmt.Sprintf("pileup: none of %v found in the alignment header", aliases))
	}
	return names, nil
}

// Run drains provider into a fresh accumulator and returns the frozen
// tallies.  opts.Contigs is narrowed to the header references that match it.
// The context is checked periodically between records.
func Run(ctx context.Context, provider bamprovider.Provider, refLen int, opts Opts) (tallies *Tallies, stats Stats, err error) {
	header, err := provider.GetHeader()
	if err != nil {
		return nil, stats, err
	}
	if opts.Contigs, err = MatchContigs(header, opts.Contigs, refLen); err != nil {
		return nil, stats, err
	}
	acc, err := NewAccumulator(refLen, opts)
	if err != nil {
		return nil, stats, err
	}
	iter := provider.NewIterator()
	defer func() {
		if e := iter.Close(); e != nil && err == nil {
			err = e
		}
	}()
	n := 0
	for iter.Scan() {
		n++
		if n%ctxCheckInterval == 0 {
			if err = ctx.Err(); err != nil {
				return nil, acc.Stats(), err
			}
		}
		if err = acc.AddRecord(iter.Record()); err != nil {
			return nil, acc.Stats(), err
		}
	}
	if err = iter.Err(); err != nil {
		return nil, acc.Stats(), err
	}
	tallies = acc.Finish()
	stats = acc.Stats()
	log.Debug.Printf("pileup: %v", stats)
	return tallies, stats, nil
}
