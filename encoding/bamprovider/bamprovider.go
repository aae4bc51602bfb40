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
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/grailbio/base/compress"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/hts/bam"
	"github.com/grailbio/hts/sam"
)

// FileProvider implements Provider for BAM and SAM files.  The file is read
// sequentially; no index is needed.
type FileProvider struct {
	// Path of the alignment file. Must be nonempty.
	Path string
	// Type selects the decoder.
	Type FileType
	err  errors.Once

	mu      sync.Mutex
	nActive int
	header  *sam.Header
}

// recordReader is the subset of bam.Reader and sam.Reader used here.
type recordReader interface {
	Header() *sam.Header
	Read() (*sam.Record, error)
}

type fileIterator struct {
	provider *FileProvider
	in       file.File
	closers  []io.Closer
	reader   recordReader

	err  error
	rec  *sam.Record
	done bool
}

// open opens the file and creates the record decoder.  On error, the
// returned iterator has a non-nil err field.
func (b *FileProvider) open() *fileIterator {
	iter := &fileIterator{provider: b}
	ctx := context.Background()
	if iter.in, iter.err = file.Open(ctx, b.Path); iter.err != nil {
		return iter
	}
	switch b.Type {
	case BAM:
		var r *bam.Reader
		if r, iter.err = bam.NewReader(iter.in.Reader(ctx), 1); iter.err != nil {
			return iter
		}
		iter.closers = append(iter.closers, r)
		iter.reader = r
	case SAM:
		cr, _ := compress.NewReader(iter.in.Reader(ctx))
		iter.closers = append(iter.closers, cr)
		var r *sam.Reader
		if r, iter.err = sam.NewReader(cr); iter.err != nil {
			return iter
		}
		iter.reader = r
	default:
		iter.err = fmt.Errorf("%s: unknown alignment file type (want .bam or .sam)", b.Path)
	}
	return iter
}

// GetHeader implements the Provider interface.
func (b *FileProvider) GetHeader() (*sam.Header, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.header != nil {
		return b.header, nil
	}
	iter := b.open()
	if iter.err == nil {
		b.header = iter.reader.Header()
	}
	err := iter.internalClose()
	if err != nil {
		b.err.Set(err)
		return nil, err
	}
	return b.header, nil
}

// NewIterator implements the Provider interface.
func (b *FileProvider) NewIterator() Iterator {
	iter := b.open()
	b.mu.Lock()
	b.nActive++
	b.mu.Unlock()
	return iter
}

// Close implements the Provider interface.
func (b *FileProvider) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.nActive > 0 {
		b.err.Set(fmt.Errorf("%s: %d iterators still active", b.Path, b.nActive))
	}
	return b.err.Err()
}

// Scan implements the Iterator interface.
func (i *fileIterator) Scan() bool {
	if i.err != nil || i.done {
		return false
	}
	i.rec, i.err = i.reader.Read()
	if i.err == io.EOF {
		i.err = nil
		i.done = true
		i.rec = nil
		return false
	}
	if i.err != nil {
		i.err = fmt.Errorf("%s: %v", i.provider.Path, i.err)
		return false
	}
	return true
}

// Record implements the Iterator interface.
func (i *fileIterator) Record() *sam.Record {
	return i.rec
}

// Err implements the Iterator interface.
func (i *fileIterator) Err() error {
	return i.err
}

// Close implements the Iterator interface.
func (i *fileIterator) Close() error {
	err := i.internalClose()
	b := i.provider
	b.mu.Lock()
	b.nActive--
	b.mu.Unlock()
	if err != nil {
		b.err.Set(err)
	}
	return err
}

func (i *fileIterator) internalClose() error {
	err := i.err
	for j := len(i.closers) - 1; j >= 0; j-- {
		if e := i.closers[j].Close(); e != nil && err == nil {
			err = e
		}
	}
	i.closers = nil
	if i.in != nil {
		if e := i.in.Close(context.Background()); e != nil && err == nil {
			err = e
		}
		i.in = nil
	}
	return err
}
