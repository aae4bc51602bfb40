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
	"sort"

	gunsafe "github.com/grailbio/base/unsafe"
	"github.com/spaolacci/murmur3"
)

// Mates whose alignments may overlap are resolved jointly: the first end to
// arrive waits in a mateTable until its partner shows up, and the overlapped
// positions are tallied once.  A leftmost end that cannot overlap its mate is
// tallied immediately and leaves a base-free marker behind, so that the mate
// does not wait for it.  Input order is arbitrary; anything still waiting at
// Finish is an orphan and is tallied on its own.

// Size of readName hash tables.  Must be a power of 2.
const readNameHtableSize = 1024

type mateEntry struct {
	read AlignedRead
	// tallied is set for markers of ends that were already added.
	tallied bool
}

type mateBucket []mateEntry

// mateTable is a chained hash table which tracks incomplete read pairs.
type mateTable struct {
	buckets [readNameHtableSize]mateBucket
	n       int
}

// mateTableHashName maps a read name to a mateTable bucket index.
func mateTableHashName(name string) uint32 {
	// Don't need this to be cryptographically secure.
	return murmur3.Sum32(gunsafe.StringToBytes(name)) & (readNameHtableSize - 1)
}

func (mt *mateTable) add(read AlignedRead) {
	bucket := &mt.buckets[mateTableHashName(read.Name)]
	*bucket = append(*bucket, mateEntry{read: read})
	mt.n++
}

// addMarker records that read was tallied on its own.
func (mt *mateTable) addMarker(read *AlignedRead) {
	bucket := &mt.buckets[mateTableHashName(read.Name)]
	*bucket = append(*bucket, mateEntry{
		read: AlignedRead{
			Name:    read.Name,
			Start:   read.Start,
			End:     read.End,
			Read1:   read.Read1,
			Read2:   read.Read2,
			MatePos: read.MatePos,
		},
		tallied: true,
	})
}

// tryRemove looks for the mate of read: same name, opposite end, and
// positions that point at each other.  On success the entry is removed from
// the table and returned.
func (mt *mateTable) tryRemove(read *AlignedRead) (mateEntry, bool) {
	bucket := &mt.buckets[mateTableHashName(read.Name)]
	for i, entry := range *bucket {
		cand := &entry.read
		if cand.Name != read.Name || cand.MatePos != read.Start || cand.Start != read.MatePos {
			continue
		}
		if cand.Read1 == read.Read1 && cand.Read2 == read.Read2 && (cand.Read1 || cand.Read2) {
			continue
		}
		lenMinus1 := len(*bucket) - 1
		if i != lenMinus1 {
			(*bucket)[i] = (*bucket)[lenMinus1]
		}
		*bucket = (*bucket)[:lenMinus1]
		if !entry.tallied {
			mt.n--
		}
		return entry, true
	}
	return mateEntry{}, false
}

// drain empties the table, returning the waiting reads in a deterministic
// order.
func (mt *mateTable) drain() []AlignedRead {
	reads := make([]AlignedRead, 0, mt.n)
	for i := range mt.buckets {
		for _, entry := range mt.buckets[i] {
			if !entry.tallied {
				reads = append(reads, entry.read)
			}
		}
		mt.buckets[i] = nil
	}
	mt.n = 0
	sort.SliceStable(reads, func(i, j int) bool {
		if reads[i].Start != reads[j].Start {
			return reads[i].Start < reads[j].Start
		}
		return reads[i].Name < reads[j].Name
	})
	return reads
}

// waiting returns the number of reads waiting for their mates.
func (mt *mateTable) waiting() int {
	return mt.n
}
