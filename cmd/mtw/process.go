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

package main

import (
	"context"
	"os"
	"strings"

	"github.com/grailbio/base/cmdutil"
	"github.com/grailbio/base/log"
	"github.com/grailbio/mtw/heteroplasmy"
	"github.com/grailbio/mtw/pileup"
	"github.com/grailbio/mtw/pipeline"
	"github.com/grailbio/mtw/reference"
	"github.com/grailbio/mtw/store"
	"v.io/x/lib/cmdline"
)

type referenceFlags struct {
	fasta     *string
	mutations *string
	primary   *string
	aliases   *string
}

func addReferenceFlags(cmd *cmdline.Command) referenceFlags {
	return referenceFlags{
		fasta:     cmd.Flags.String("reference", "", "Comma-separated reference FASTA paths; required"),
		mutations: cmd.Flags.String("mutations", "", "Defining-mutation table (HAPLOGROUP, POS, REF, ALT and optional PARENT columns)"),
		primary:   cmd.Flags.String("primary", "", "Name of the reference sequence to pile up against (default: first sequence)"),
		aliases:   cmd.Flags.String("contigs", strings.Join(reference.DefaultAliases, ","), "Comma-separated alignment contig names accepted for the primary sequence"),
	}
}

func (f referenceFlags) load(ctx context.Context, env *cmdline.Env) (*reference.Model, error) {
	if *f.fasta == "" {
		return nil, env.UsageErrorf("-reference is required")
	}
	return reference.Load(ctx, reference.LoadOpts{
		FastaPaths:    splitList(*f.fasta),
		MutationsPath: *f.mutations,
		Primary:       *f.primary,
		Aliases:       splitList(*f.aliases),
	})
}

func newCmdProcessSamples() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:     "process-samples",
		Short:    "Compute per-sample heteroplasmy tables from BAM or SAM files",
		ArgsName: "path...",
	}
	configure := envFlag(cmd)
	ref := addReferenceFlags(cmd)
	def := pipeline.DefaultOpts
	var (
		out            = cmd.Flags.String("out", "", "Output directory for <sample>.heteroplasmy.tsv tables; required")
		minDepth       = cmd.Flags.Int("min-depth", def.Heteroplasmy.MinDepth, "Positions with fewer non-N observations are not reported")
		noiseFloor     = cmd.Flags.Float64("noise-floor", def.Heteroplasmy.NoiseFloor, "Minor-allele fractions below this are filtered as LowFraction")
		minStrandCount = cmd.Flags.Int("min-strand-count", def.Heteroplasmy.MinStrandCount, "If positive, the minor allele must be seen this often on each strand")
		z              = cmd.Flags.Float64("z", def.Heteroplasmy.Z, "Normal quantile of the fraction confidence interval")
		minBaseQual    = cmd.Flags.Int("min-base-qual", def.Pileup.MinBaseQual, "Lower bound on base quality, applied after mate stitching")
		mapq           = cmd.Flags.Int("mapq", def.Pileup.Mapq, "Reads with MAPQ below this level are skipped")
		flagExclude    = cmd.Flags.Int("flag-exclude", def.Pileup.FlagExclude, "Reads with a FLAG bit intersecting this value are skipped")
		clip           = cmd.Flags.Int("clip", def.Pileup.Clip, "Number of bases on each end of a read to treat as minimum-quality")
		stitch         = cmd.Flags.Bool("stitch", def.Pileup.Stitch, "Count overlapping mates once")
		maxReadSpan    = cmd.Flags.Int("max-read-span", def.Pileup.MaxReadSpan, "Upper bound on the reference span of a read")
		region         = cmd.Flags.String("region", "", "Restrict the pileup to <1-based first>-<last> of the reference")
		parallelism    = cmd.Flags.Int("parallelism", 0, "Maximum number of samples processed at once; 0 = runtime.NumCPU()")
		tallies        = cmd.Flags.Bool("tallies", false, "Also write per-position allele tallies (.tally.rio and .tally.tsv)")
		compress       = cmd.Flags.Bool("compress", false, "BGZF-compress the TSV outputs")
		sqlitePath     = cmd.Flags.String("sqlite", "", "Also store the tables in this SQLite database")
		sampleNames    = cmd.Flags.String("sample-names", "", "Comma-separated sample names, one per input (default: input base names)")
	)
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		if err := configure(env); err != nil {
			return err
		}
		if len(argv) == 0 {
			return env.UsageErrorf("process-samples takes at least one alignment path")
		}
		if *out == "" {
			return env.UsageErrorf("-out is required")
		}
		ctx := context.Background()
		model, err := ref.load(ctx, env)
		if err != nil {
			return err
		}
		samples, err := pipeline.NewSamples(argv, splitList(*sampleNames))
		if err != nil {
			return err
		}
		opts := pipeline.DefaultOpts
		opts.Heteroplasmy = heteroplasmy.Opts{
			MinDepth:       *minDepth,
			NoiseFloor:     *noiseFloor,
			MinStrandCount: *minStrandCount,
			Z:              *z,
		}
		if err = opts.Heteroplasmy.Validate(); err != nil {
			return err
		}
		opts.Pileup = pileup.Opts{
			MinBaseQual: *minBaseQual,
			Mapq:        *mapq,
			FlagExclude: *flagExclude,
			Clip:        *clip,
			Stitch:      *stitch,
			MaxReadSpan: *maxReadSpan,
			Region:      *region,
			Contigs:     model.Aliases(),
		}
		if err = opts.Pileup.Validate(model.Len()); err != nil {
			return err
		}
		if *parallelism > 0 {
			opts.Parallelism = *parallelism
		}
		opts.OutDir = *out
		opts.Tallies = *tallies
		opts.Compress = *compress
		if !strings.Contains(*out, "://") {
			if err = os.MkdirAll(*out, 0755); err != nil {
				return err
			}
		}

		report := pipeline.ProcessSamples(ctx, model, samples, opts)
		if err = report.Render(env.Stderr); err != nil {
			return err
		}
		failed := len(report.Failed())
		err = withStore(ctx, *sqlitePath, func(db *store.DB) error {
			if err := db.RecordRun(ctx, report.RunID, "process-samples", report.Start, len(samples), failed); err != nil {
				return err
			}
			return db.WriteTables(ctx, report.Tables())
		})
		if err != nil {
			return err
		}
		if failed > 0 {
			log.Error.Printf("%d of %d samples failed", failed, len(samples))
			return cmdline.ErrExitCode(exitSampleFailures)
		}
		return nil
	})
	return cmd
}
