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

// Package reference holds the mitochondrial reference model: the reference
// sequence(s) reads were aligned against, and the table of
// haplogroup-defining mutations.  A Model is immutable once constructed, and
// is shared read-only by every sample worker.
package reference

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/mtw/encoding/fasta"
	"github.com/grailbio/mtw/util"
)

// DefaultAliases lists contig names commonly used for the human
// mitochondrial genome.  Reads aligned to any of these (with matching length)
// are treated as aligned to the primary sequence.
var DefaultAliases = []string{"chrM", "MT", "chrMT", "M", "NC_012920.1", "NC_012920", "rCRS"}

// LoadError is returned when a reference FASTA or a defining-mutation table
// cannot be loaded, or when the two are inconsistent.  It is always fatal.
type LoadError struct {
	// Path is the offending file, if any.
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("reference load: %v", e.Err)
	}
	return fmt.Sprintf("reference load %s: %v", e.Path, e.Err)
}

// Unwrap returns the underlying cause.
func (e *LoadError) Unwrap() error { return e.Err }

// OutOfRangeError is returned by Model.SequenceAt for positions outside
// [1, Len].
type OutOfRangeError struct {
	Pos, Len int
}

func (e *OutOfRangeError) Error() string {
	return fmt.Sprintf("position %d outside reference range [1, %d]", e.Pos, e.Len)
}

// Sequence is one named reference sequence, stored upper-cased.
type Sequence struct {
	Name string
	Seq  []byte
}

// At returns the symbol at 1-based position pos.
func (s *Sequence) At(pos int) (byte, error) {
	if pos < 1 || pos > len(s.Seq) {
		return 0, &OutOfRangeError{Pos: pos, Len: len(s.Seq)}
	}
	return s.Seq[pos-1], nil
}

// Model is the immutable reference model.
type Model struct {
	primary   *Sequence
	secondary map[string]*Sequence
	names     []string
	aliases   []string

	mutations   []DefiningMutation
	haplogroups []string
	byGroup     map[string][]DefiningMutation
	parent      map[string]string
}

// LoadOpts configures Load.
type LoadOpts struct {
	// FastaPaths lists the reference FASTA files.  Every sequence of every
	// file is loaded; names must be unique across files.
	FastaPaths []string
	// MutationsPath is the defining-mutation table.  Optional; without it the
	// model has no haplogroups.
	MutationsPath string
	// Primary names the sequence reads are piled up against.  Defaults to the
	// first sequence of the first FASTA.
	Primary string
	// Aliases are additional contig names accepted for the primary sequence.
	// Defaults to DefaultAliases.
	Aliases []string
}

// Load reads the reference model from files.  Inputs may be compressed.
func Load(ctx context.Context, opts LoadOpts) (*Model, error) {
	if len(opts.FastaPaths) == 0 {
		return nil, &LoadError{Err: errors.E(errors.Invalid, "no reference FASTA given")}
	}
	var seqs []*Sequence
	for _, path := range opts.FastaPaths {
		var fa fasta.Fasta
		err := util.ReadFile(ctx, path, func(r io.Reader) (err error) {
			fa, err = fasta.New(r)
			return
		})
		if err != nil {
			return nil, &LoadError{Path: path, Err: err}
		}
		for _, name := range fa.SeqNames() {
			n, _ := fa.Len(name)
			s, err := fa.Get(name, 0, n)
			if err != nil {
				return nil, &LoadError{Path: path, Err: err}
			}
			seqs = append(seqs, &Sequence{Name: name, Seq: []byte(s)})
		}
	}
	var mutations *MutationTable
	if opts.MutationsPath != "" {
		err := util.ReadFile(ctx, opts.MutationsPath, func(r io.Reader) (err error) {
			mutations, err = ReadMutations(r)
			return
		})
		if err != nil {
			return nil, &LoadError{Path: opts.MutationsPath, Err: err}
		}
	}
	return newModel(seqs, opts.Primary, opts.Aliases, mutations)
}

// New constructs a single-sequence model from in-memory data.  mutations may
// be nil.
func New(name string, seq []byte, mutations *MutationTable) (*Model, error) {
	return newModel([]*Sequence{{Name: name, Seq: bytes.ToUpper(seq)}}, "", nil, mutations)
}

func newModel(seqs []*Sequence, primary string, aliases []string, mutations *MutationTable) (*Model, error) {
	if len(seqs) == 0 {
		return nil, &LoadError{Err: errors.E(errors.Invalid, "no reference sequences")}
	}
	m := &Model{secondary: map[string]*Sequence{}}
	for _, s := range seqs {
		if len(s.Seq) == 0 {
			return nil, &LoadError{Err: errors.E(errors.Invalid, "empty reference sequence", s.Name)}
		}
		if _, ok := m.secondary[s.Name]; ok {
			return nil, &LoadError{Err: errors.E(errors.Invalid, "duplicate reference sequence", s.Name)}
		}
		for i, c := range s.Seq {
			if !validRefSymbol(c) {
				return nil, &LoadError{Err: errors.E(errors.Invalid, fmt.Sprintf("sequence %s: invalid symbol %q at position %d", s.Name, c, i+1))}
			}
		}
		m.secondary[s.Name] = s
		m.names = append(m.names, s.Name)
	}
	if primary == "" {
		primary = seqs[0].Name
	}
	var ok bool
	if m.primary, ok = m.secondary[primary]; !ok {
		return nil, &LoadError{Err: errors.E(errors.NotExist, "primary reference sequence not found", primary)}
	}
	if aliases == nil {
		aliases = DefaultAliases
	}
	m.aliases = []string{primary}
	for _, a := range aliases {
		if a != primary {
			m.aliases = append(m.aliases, a)
		}
	}
	if err := m.setMutations(mutations); err != nil {
		return nil, &LoadError{Err: err}
	}
	return m, nil
}

// Name returns the primary sequence name.
func (m *Model) Name() string { return m.primary.Name }

// Len returns the primary sequence length.
func (m *Model) Len() int { return len(m.primary.Seq) }

// Seq returns the primary sequence, indexed by 0-based position.  The caller
// must not modify the result.
func (m *Model) Seq() []byte { return m.primary.Seq }

// Aliases returns the contig names accepted for the primary sequence; the
// primary name comes first.
func (m *Model) Aliases() []string { return m.aliases }

// SeqNames returns the names of all loaded sequences, in load order.
func (m *Model) SeqNames() []string { return m.names }

// Sequence returns a loaded sequence by name.
func (m *Model) Sequence(name string) (*Sequence, bool) {
	s, ok := m.secondary[name]
	return s, ok
}

// SequenceAt returns the primary-sequence symbol at 1-based position pos.
func (m *Model) SequenceAt(pos int) (byte, error) {
	return m.primary.At(pos)
}

// DefiningMutations returns all defining mutations, ordered by (haplogroup,
// position, derived allele).  The caller must not modify the result.
func (m *Model) DefiningMutations() []DefiningMutation { return m.mutations }

// Haplogroups returns the sorted haplogroup labels.
func (m *Model) Haplogroups() []string { return m.haplogroups }

// Parent returns the parent haplogroup, or "" for roots and for models
// loaded without phylogeny information.
func (m *Model) Parent(haplogroup string) string { return m.parent[haplogroup] }

// Signature returns the mutations used to score the given haplogroup: its own
// defining mutations, plus those of all its ancestors.  When a position is
// defined more than once along the path, the mutation nearest to the
// haplogroup wins.  The result is ordered by position.
func (m *Model) Signature(haplogroup string) []DefiningMutation {
	seen := map[int]bool{}
	var sig []DefiningMutation
	for h := haplogroup; h != ""; h = m.parent[h] {
		for _, mut := range m.byGroup[h] {
			if seen[mut.Pos] {
				continue
			}
			seen[mut.Pos] = true
			sig = append(sig, mut)
		}
	}
	sort.Slice(sig, func(i, j int) bool { return sig[i].Pos < sig[j].Pos })
	return sig
}

func validRefSymbol(c byte) bool {
	switch c {
	case 'A', 'C', 'G', 'T', 'N', 'R', 'Y', 'K', 'M', 'S', 'W', 'B', 'D', 'H', 'V':
		return true
	}
	return false
}
