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
package reference

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/tsv"
)

// Deletion is the allele symbol used for a deleted reference base.
const Deletion = '-'

// DefiningMutation is a reference-to-derived change that diagnostically
// marks a haplogroup.
type DefiningMutation struct {
	// Pos is 1-based.
	Pos        int
	Ref        byte
	Derived    byte
	Haplogroup string
}

// String renders the mutation in the usual REF<pos>ALT notation, e.g. "A73G".
func (m DefiningMutation) String() string {
	return fmt.Sprintf("%c%d%c", m.Ref, m.Pos, m.Derived)
}

// MutationTable is a parsed defining-mutation table.
type MutationTable struct {
	Mutations []DefiningMutation
	// Parents maps a haplogroup to its parent in the phylogeny.  It is empty
	// for flat tables.
	Parents map[string]string
}

// mutationRow is one line of a flat defining-mutation table.
type mutationRow struct {
	Haplogroup string `tsv:"HAPLOGROUP"`
	Pos        int    `tsv:"POS"`
	Ref        string `tsv:"REF"`
	Alt        string `tsv:"ALT"`
}

// treeRow is one line of a defining-mutation table with phylogeny links.
type treeRow struct {
	Haplogroup string `tsv:"HAPLOGROUP"`
	Pos        int    `tsv:"POS"`
	Ref        string `tsv:"REF"`
	Alt        string `tsv:"ALT"`
	Parent     string `tsv:"PARENT"`
}

// ReadMutations reads a defining-mutation table.  The table is tab-separated
// with a header row naming the columns HAPLOGROUP, POS (1-based), REF and
// ALT, and an optional PARENT column linking each haplogroup to its parent in
// the phylogeny.  Lines starting with '#' are ignored.  ALT may be "-" or
// "del" for a deletion.
func ReadMutations(r io.Reader) (*MutationTable, error) {
	br := bufio.NewReader(r)
	var header string
	for {
		line, err := br.ReadString('\n')
		if err != nil && (err != io.EOF || line == "") {
			if err == io.EOF {
				return nil, errors.E(errors.Invalid, "defining-mutation table: missing header")
			}
			return nil, errors.E(err, "defining-mutation table")
		}
		if strings.HasPrefix(line, "#") || strings.TrimSpace(line) == "" {
			continue
		}
		header = line
		break
	}
	hasParent := false
	for _, col := range strings.Split(strings.TrimRight(header, "\r\n"), "\t") {
		if col == "PARENT" {
			hasParent = true
		}
	}
	reader := tsv.NewReader(io.MultiReader(strings.NewReader(header), br))
	reader.HasHeaderRow = true
	reader.UseHeaderNames = true
	reader.Comment = '#'
	table := &MutationTable{Parents: map[string]string{}}
	for line := 2; ; line++ {
		var row treeRow
		var err error
		if hasParent {
			err = reader.Read(&row)
		} else {
			var flat mutationRow
			err = reader.Read(&flat)
			row = treeRow{Haplogroup: flat.Haplogroup, Pos: flat.Pos, Ref: flat.Ref, Alt: flat.Alt}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.E(errors.Invalid, err, "defining-mutation table")
		}
		if err := table.add(row, line); err != nil {
			return nil, err
		}
	}
	return table, nil
}

func (t *MutationTable) add(row treeRow, line int) error {
	if row.Haplogroup == "" {
		return errors.E(errors.Invalid, fmt.Sprintf("row %d: empty haplogroup", line))
	}
	ref, ok := parseAllele(row.Ref)
	if !ok || ref == Deletion {
		return errors.E(errors.Invalid, fmt.Sprintf("row %d: invalid REF allele %q", line, row.Ref))
	}
	alt, ok := parseAllele(row.Alt)
	if !ok {
		return errors.E(errors.Invalid, fmt.Sprintf("row %d: invalid ALT allele %q", line, row.Alt))
	}
	if ref == alt {
		return errors.E(errors.Invalid, fmt.Sprintf("row %d: REF and ALT are both %c", line, ref))
	}
	if row.Parent != "" {
		if p, ok := t.Parents[row.Haplogroup]; ok && p != row.Parent {
			return errors.E(errors.Invalid, fmt.Sprintf("row %d: haplogroup %s has parents %s and %s", line, row.Haplogroup, p, row.Parent))
		}
		t.Parents[row.Haplogroup] = row.Parent
	}
	t.Mutations = append(t.Mutations, DefiningMutation{
		Pos:        row.Pos,
		Ref:        ref,
		Derived:    alt,
		Haplogroup: row.Haplogroup,
	})
	return nil
}

func parseAllele(s string) (byte, bool) {
	switch strings.ToUpper(s) {
	case "A", "C", "G", "T":
		return strings.ToUpper(s)[0], true
	case "-", "DEL":
		return Deletion, true
	}
	return 0, false
}

// setMutations validates the table against the primary sequence and indexes
// it.
func (m *Model) setMutations(table *MutationTable) error {
	var (
		muts   []DefiningMutation
		parent map[string]string
	)
	if table != nil {
		muts, parent = table.Mutations, table.Parents
	}
	n := m.Len()
	m.byGroup = map[string][]DefiningMutation{}
	m.parent = map[string]string{}
	type key struct {
		h   string
		pos int
	}
	seen := map[key]bool{}
	for _, mut := range muts {
		if mut.Pos < 1 || mut.Pos > n {
			return errors.E(errors.Invalid, fmt.Sprintf("mutation %s of %s: %v", mut, mut.Haplogroup, &OutOfRangeError{Pos: mut.Pos, Len: n}))
		}
		refBase := m.primary.Seq[mut.Pos-1]
		if refBase != 'N' && refBase != mut.Ref {
			return errors.E(errors.Invalid, fmt.Sprintf("mutation %s of %s: reference has %c at position %d", mut, mut.Haplogroup, refBase, mut.Pos))
		}
		if seen[key{mut.Haplogroup, mut.Pos}] {
			return errors.E(errors.Invalid, fmt.Sprintf("haplogroup %s defines position %d twice", mut.Haplogroup, mut.Pos))
		}
		seen[key{mut.Haplogroup, mut.Pos}] = true
		m.byGroup[mut.Haplogroup] = append(m.byGroup[mut.Haplogroup], mut)
	}
	for h, p := range parent {
		_, hasMuts := m.byGroup[p]
		_, hasParent := parent[p]
		if !hasMuts && !hasParent {
			return errors.E(errors.NotExist, fmt.Sprintf("haplogroup %s: unknown parent %s", h, p))
		}
		m.parent[h] = p
	}
	for h := range m.parent {
		steps := 0
		for cur := h; cur != ""; cur = m.parent[cur] {
			if steps > len(m.parent) {
				return errors.E(errors.Invalid, fmt.Sprintf("haplogroup %s: phylogeny contains a cycle", h))
			}
			steps++
		}
	}
	for h := range m.byGroup {
		m.haplogroups = append(m.haplogroups, h)
	}
	sort.Strings(m.haplogroups)
	m.mutations = make([]DefiningMutation, 0, len(muts))
	for _, h := range m.haplogroups {
		group := m.byGroup[h]
		sort.Slice(group, func(i, j int) bool { return group[i].Pos < group[j].Pos })
		m.mutations = append(m.mutations, group...)
	}
	return nil
}
