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

// Package pipeline runs the per-sample pileup and heteroplasmy chain over a
// batch of alignment files.  Samples are processed in parallel and fail
// independently: an error in one sample is recorded in the run report and
// does not stop the others.  A sample with no position at the minimum depth
// is excluded: it succeeds with a warning but writes no table.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"runtime"
	"strings"
	"time"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
	"github.com/grailbio/mtw/encoding/bamprovider"
	"github.com/grailbio/mtw/heteroplasmy"
	"github.com/grailbio/mtw/pileup"
	"github.com/grailbio/mtw/reference"
	"github.com/grailbio/mtw/util"
)

// Sample is one input alignment file.
type Sample struct {
	Name string
	Path string
}

// NewSamples pairs paths with sample names.  names may be empty, in which
// case each name is derived from its path; otherwise it must have one entry
// per path.  Names must be unique.
func NewSamples(paths, names []string) ([]Sample, error) {
	if len(names) != 0 && len(names) != len(paths) {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("pipeline: %d sample names given for %d inputs", len(names), len(paths)))
	}
	samples := make([]Sample, len(paths))
	seen := map[string]string{}
	for i, path := range paths {
		name := util.SampleName(path)
		if len(names) != 0 {
			name = names[i]
		}
		if name == "" || strings.ContainsAny(name, "\t\n/") {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("pipeline: invalid sample name %q for %s", name, path))
		}
		if prev, ok := seen[name]; ok {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("pipeline: sample name %s used for both %s and %s", name, prev, path))
		}
		seen[name] = path
		samples[i] = Sample{Name: name, Path: path}
	}
	return samples, nil
}

// Opts controls ProcessSamples.
type Opts struct {
	Pileup       pileup.Opts
	Heteroplasmy heteroplasmy.Opts
	// Parallelism bounds the number of samples processed concurrently.
	Parallelism int
	// OutDir receives one heteroplasmy table per successful sample.  Nothing
	// is written when empty.
	OutDir string
	// Tallies additionally writes each sample's raw tallies, as recordio and
	// as TSV.
	Tallies bool
	// Compress BGZF-compresses the TSV outputs.
	Compress bool
	// NewProvider opens a sample's reads.  Defaults to
	// bamprovider.NewProvider on the sample path.
	NewProvider func(Sample) bamprovider.Provider
}

// DefaultOpts are the defaults used by the command line.
var DefaultOpts = Opts{
	Pileup:       pileup.DefaultOpts,
	Heteroplasmy: heteroplasmy.DefaultOpts,
	Parallelism:  runtime.NumCPU(),
}

// SampleError is the failure of one sample.
type SampleError struct {
	Sample string
	Err    error
}

func (e *SampleError) Error() string {
	return fmt.Sprintf("sample %s: %v", e.Sample, e.Err)
}

func (e *SampleError) Unwrap() error { return e.Err }

// Result is the outcome of one sample.
type Result struct {
	Sample   Sample
	Table    *heteroplasmy.Table
	Stats    pileup.Stats
	Warnings []heteroplasmy.CoverageWarning
	// Outputs lists the files written for the sample, the heteroplasmy table
	// first.
	Outputs  []string
	Duration time.Duration
	// Err is a *SampleError, or nil on success.
	Err error
}

// OK reports whether the sample succeeded.
func (r *Result) OK() bool { return r.Err == nil }

// Excluded reports whether the sample succeeded without any position at the
// minimum depth.  Excluded samples have no outputs and no table in
// Report.Tables.
func (r *Result) Excluded() bool {
	if !r.OK() {
		return false
	}
	for _, w := range r.Warnings {
		if w.SampleLevel() {
			return true
		}
	}
	return false
}

// ProcessSamples runs every sample and returns the run report.  It never
// fails as a whole; per-sample errors are in the report.
func ProcessSamples(ctx context.Context, ref *reference.Model, samples []Sample, opts Opts) *Report {
	report := newReport(len(samples))
	parallelism := opts.Parallelism
	if parallelism < 1 {
		parallelism = 1
	}
	log.Printf("pipeline: run %s: processing %d samples, parallelism %d", report.RunID, len(samples), parallelism)
	err := traverse.Limit(parallelism).Each(len(samples), func(i int) error {
		report.Results[i] = processSample(ctx, ref, samples[i], opts)
		return nil
	})
	if err != nil {
		log.Error.Printf("pipeline: run %s: %v", report.RunID, err)
	}
	report.End = time.Now()
	return report
}

func processSample(ctx context.Context, ref *reference.Model, s Sample, opts Opts) (res Result) {
	res.Sample = s
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			res.Err = fmt.Errorf("panic: %v", r)
		}
		res.Duration = time.Since(start)
		if res.Err != nil {
			res.Table = nil
			res.Err = &SampleError{Sample: s.Name, Err: res.Err}
			log.Error.Printf("pipeline: %v", res.Err)
			return
		}
		if res.Excluded() {
			log.Printf("pipeline: sample %s: excluded, no position reaches depth %d (%v)",
				s.Name, opts.Heteroplasmy.MinDepth, res.Duration)
			return
		}
		log.Printf("pipeline: sample %s: %d positions reported, %d warnings (%v)",
			s.Name, res.Table.Len(), len(res.Warnings), res.Duration)
	}()
	if res.Err = ctx.Err(); res.Err != nil {
		return
	}
	var (
		tallies *pileup.Tallies
		err     error
	)
	if tallies, res.Stats, err = runPileup(ctx, ref, s, opts); err != nil {
		res.Err = err
		return
	}
	if res.Table, res.Warnings, err = heteroplasmy.Estimate(s.Name, ref, tallies, opts.Heteroplasmy); err != nil {
		res.Err = err
		return
	}
	if opts.OutDir == "" || res.Excluded() {
		return
	}
	res.Outputs, res.Err = writeOutputs(ctx, ref, s, res.Table, tallies, opts)
	return
}

func runPileup(ctx context.Context, ref *reference.Model, s Sample, opts Opts) (tallies *pileup.Tallies, stats pileup.Stats, err error) {
	var provider bamprovider.Provider
	if opts.NewProvider != nil {
		provider = opts.NewProvider(s)
	} else {
		provider = bamprovider.NewProvider(s.Path)
	}
	defer func() {
		if e := provider.Close(); e != nil && err == nil {
			err = e
		}
	}()
	pileupOpts := opts.Pileup
	if len(pileupOpts.Contigs) == 0 {
		pileupOpts.Contigs = ref.Aliases()
	}
	return pileup.Run(ctx, provider, ref.Len(), pileupOpts)
}

// writeOutputs writes the tallies, if requested, and then the table.  On
// error the files already written are removed.
func writeOutputs(ctx context.Context, ref *reference.Model, s Sample, table *heteroplasmy.Table, tallies *pileup.Tallies, opts Opts) (outputs []string, err error) {
	defer func() {
		if err == nil {
			return
		}
		for _, path := range outputs {
			if e := file.Remove(ctx, path); e != nil {
				log.Error.Printf("pipeline: sample %s: remove %s: %v", s.Name, path, e)
			}
		}
		outputs = nil
	}()
	if opts.Tallies {
		prefix := strings.TrimSuffix(opts.OutDir, "/") + "/" + s.Name
		rioPath := prefix + ".tally.rio"
		if err = util.WriteFile(ctx, rioPath, 1, func(w io.Writer) error {
			return pileup.WriteTallies(w, tallies)
		}); err != nil {
			return
		}
		outputs = append(outputs, rioPath)
		tsvPath := prefix + ".tally.tsv"
		if opts.Compress {
			tsvPath += ".gz"
		}
		if err = util.WriteFile(ctx, tsvPath, 1, func(w io.Writer) error {
			return pileup.WriteTalliesTSV(w, tallies, ref.Seq())
		}); err != nil {
			return
		}
		outputs = append(outputs, tsvPath)
	}
	path := heteroplasmy.TablePath(opts.OutDir, s.Name, opts.Compress)
	if err = heteroplasmy.WriteTableFile(ctx, path, table); err != nil {
		return
	}
	return append([]string{path}, outputs...), nil
}
