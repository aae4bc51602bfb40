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

// Package util contains file helpers shared by the mtw packages.
package util

import (
	"context"
	"io"
	"path/filepath"
	"strings"

	"github.com/grailbio/base/compress"
	"github.com/grailbio/base/file"
	"github.com/grailbio/hts/bgzf"
)

// ReadFile opens path, decompresses it if needed, and passes the contents to
// fn.  Any scheme registered with grailbio/base/file may be used.
func ReadFile(ctx context.Context, path string, fn func(io.Reader) error) (err error) {
	var in file.File
	if in, err = file.Open(ctx, path); err != nil {
		return
	}
	defer file.CloseAndReport(ctx, in, &err)
	reader, _ := compress.NewReader(in.Reader(ctx))
	defer func() {
		if e := reader.Close(); e != nil && err == nil {
			err = e
		}
	}()
	return fn(reader)
}

// ReadSeekFile opens path and passes a seekable, uncompressed reader to fn.
func ReadSeekFile(ctx context.Context, path string, fn func(io.ReadSeeker) error) (err error) {
	var in file.File
	if in, err = file.Open(ctx, path); err != nil {
		return
	}
	defer file.CloseAndReport(ctx, in, &err)
	return fn(in.Reader(ctx))
}

// WriteFile creates path and passes a writer to fn.  Output to a path ending
// in ".gz" is BGZF-compressed using the given parallelism.
func WriteFile(ctx context.Context, path string, parallelism int, fn func(io.Writer) error) (err error) {
	var dst file.File
	if dst, err = file.Create(ctx, path); err != nil {
		return
	}
	defer file.CloseAndReport(ctx, dst, &err)
	if !strings.HasSuffix(path, ".gz") {
		return fn(dst.Writer(ctx))
	}
	if parallelism < 1 {
		parallelism = 1
	}
	bgzfWriter := bgzf.NewWriter(dst.Writer(ctx), parallelism)
	defer func() {
		if e := bgzfWriter.Close(); e != nil && err == nil {
			err = e
		}
	}()
	return fn(bgzfWriter)
}

// knownSuffixes are stripped, innermost last, by SampleName.
var knownSuffixes = []string{".gz", ".zst", ".bz2", ".bam", ".sam", ".tsv", ".heteroplasmy"}

// SampleName derives a sample name from a file path: its base name with
// alignment, table and compression extensions removed.
func SampleName(path string) string {
	name := filepath.Base(path)
	for {
		trimmed := name
		for _, suffix := range knownSuffixes {
			if strings.HasSuffix(strings.ToLower(trimmed), suffix) && len(trimmed) > len(suffix) {
				trimmed = trimmed[:len(trimmed)-len(suffix)]
			}
		}
		if trimmed == name {
			return name
		}
		name = trimmed
	}
}
