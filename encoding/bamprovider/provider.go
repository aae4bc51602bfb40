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
package bamprovider

import (
	"path/filepath"
	"strings"

	"github.com/grailbio/hts/sam"
)

// Provider reads a single alignment file.  Thread safe; every iterator opens
// its own reader.
type Provider interface {
	// GetHeader returns the header of the alignment file.  The callee must
	// not modify the returned header object.
	//
	// REQUIRES: Close has not been called.
	GetHeader() (*sam.Header, error)

	// NewIterator returns an iterator over all records of the file, in file
	// order.
	//
	// REQUIRES: Close has not been called.
	NewIterator() Iterator

	// Close must be called exactly once. It returns any error encountered
	// by the provider, or any iterator created by the provider.
	//
	// REQUIRES: All the iterators created by NewIterator have been closed.
	Close() error
}

// Iterator iterates over sam.Records.  Thread compatible.
type Iterator interface {
	// Scan returns where there are any records remaining in the iterator,
	// and if so, advances the iterator to the next record.  If an error
	// occurs, Scan() returns false and the error can be retrieved by
	// calling Err().
	Scan() bool

	// Record returns the current record in the iterator. This must be
	// called only after a call to Scan() returns true.
	Record() *sam.Record

	// Err returns the error encoutered during iteration, or nil if no error
	// occurred.  An io.EOF error will be translated to nil.
	Err() error

	// Close must be called exactly once. It returns the value of Err().
	Close() error
}

// FileType represents the type of an alignment file.
type FileType int

const (
	// Unknown is a sentinel.
	Unknown FileType = iota
	// BAM file
	BAM
	// SAM text file, optionally compressed.
	SAM
)

// ParseFileType parses the file type string. "bam" returns bamprovider.BAM, for
// example. On error, it returns Unknown.
func ParseFileType(name string) FileType {
	switch strings.ToLower(name) {
	case "bam":
		return BAM
	case "sam":
		return SAM
	default:
		return Unknown
	}
}

// GuessFileType returns the file type from the pathname.  Compression
// suffixes (.gz, .zst, .bz2) are skipped over for SAM files.
func GuessFileType(path string) FileType {
	base := strings.ToLower(filepath.Base(path))
	if strings.HasSuffix(base, ".bam") {
		return BAM
	}
	for _, ext := range []string{".gz", ".zst", ".bz2"} {
		base = strings.TrimSuffix(base, ext)
	}
	if strings.HasSuffix(base, ".sam") {
		return SAM
	}
	return Unknown
}

// NewProvider creates a Provider for the given file.  The file type is
// guessed from the path unless fileType is given.  The path may be on any
// scheme registered with grailbio/base/file.
func NewProvider(path string, fileType ...FileType) Provider {
	ft := Unknown
	if len(fileType) > 0 {
		ft = fileType[0]
	}
	if ft == Unknown {
		ft = GuessFileType(path)
	}
	return &FileProvider{Path: path, Type: ft}
}
