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
	"io"
	"runtime"

	"github.com/grailbio/base/cmdutil"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
	"github.com/grailbio/mtw/haplogroup"
	"github.com/grailbio/mtw/heteroplasmy"
	"github.com/grailbio/mtw/store"
	"github.com/grailbio/mtw/summary"
	"v.io/x/lib/cmdline"
)

// readTables loads heteroplasmy tables in parallel, preserving order.
func readTables(ctx context.Context, paths []string) ([]*heteroplasmy.Table, error) {
	tables := make([]*heteroplasmy.Table, len(paths))
	err := traverse.Limit(runtime.NumCPU()).Each(len(paths), func(i int) (err error) {
		tables[i], err = heteroplasmy.ReadTableFile(ctx, paths[i])
		return
	})
	return tables, err
}

// withStore opens the database at path, if any, and passes it to fn.
func withStore(ctx context.Context, path string, fn func(*store.DB) error) (err error) {
	if path == "" {
		return nil
	}
	db, err := store.Open(ctx, path)
	if err != nil {
		return err
	}
	defer func() {
		if e := db.Close(); e != nil && err == nil {
			err = e
		}
	}()
	return fn(db)
}

func newCmdSummarizeSamples() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:     "summarize-samples",
		Short:    "Combine per-sample heteroplasmy tables into a position by sample matrix",
		ArgsName: "table...",
	}
	configure := envFlag(cmd)
	var (
		out        = cmd.Flags.String("out", "", "Output matrix path; .gz is BGZF-compressed (default: stdout)")
		passOnly   = cmd.Flags.Bool("pass-only", summary.DefaultOpts.PassOnly, "Report fractions of filtered positions as NA")
		sqlitePath = cmd.Flags.String("sqlite", "", "Also store the matrix in this SQLite database")
	)
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		if err := configure(env); err != nil {
			return err
		}
		if len(argv) == 0 {
			return env.UsageErrorf("summarize-samples takes at least one table path")
		}
		ctx := context.Background()
		tables, err := readTables(ctx, argv)
		if err != nil {
			return err
		}
		m, err := summary.Build(tables, summary.Opts{PassOnly: *passOnly})
		if err != nil {
			return err
		}
		log.Printf("summarize-samples: %d positions across %d samples", len(m.Positions()), len(m.Samples()))
		if err = writeOutput(ctx, env, *out, func(w io.Writer) error { return summary.WriteMatrix(w, m) }); err != nil {
			return err
		}
		return withStore(ctx, *sqlitePath, func(db *store.DB) error { return db.WriteMatrix(ctx, m) })
	})
	return cmd
}

func newCmdHaplogroupSamples() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:     "haplogroup-samples",
		Short:    "Assign haplogroups to samples from their heteroplasmy tables",
		ArgsName: "table...",
	}
	configure := envFlag(cmd)
	ref := addReferenceFlags(cmd)
	var (
		out          = cmd.Flags.String("out", "", "Output path of the calls; .gz is BGZF-compressed (default: stdout)")
		minEvaluable = cmd.Flags.Int("min-evaluable", haplogroup.DefaultOpts.MinEvaluable, "Haplogroups with fewer covered defining positions are not considered")
		top          = cmd.Flags.Int("top", haplogroup.DefaultOpts.TopN, "Number of runner-up haplogroups to report")
		sqlitePath   = cmd.Flags.String("sqlite", "", "Also store the calls in this SQLite database")
	)
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		if err := configure(env); err != nil {
			return err
		}
		if len(argv) == 0 {
			return env.UsageErrorf("haplogroup-samples takes at least one table path")
		}
		if *ref.mutations == "" {
			return env.UsageErrorf("-mutations is required")
		}
		ctx := context.Background()
		model, err := ref.load(ctx, env)
		if err != nil {
			return err
		}
		tables, err := readTables(ctx, argv)
		if err != nil {
			return err
		}
		opts := haplogroup.Opts{MinEvaluable: *minEvaluable, TopN: *top}
		calls := make([]haplogroup.Call, len(tables))
		for i, t := range tables {
			if calls[i], err = haplogroup.Classify(t.Sample, haplogroup.ConsensusFromTable(t), model, opts); err != nil {
				return err
			}
			log.Printf("haplogroup-samples: %s: %s (score %.3f over %d positions)",
				t.Sample, calls[i].Haplogroup, calls[i].Score, calls[i].Evaluable)
		}
		if err = writeOutput(ctx, env, *out, func(w io.Writer) error { return haplogroup.WriteCalls(w, calls) }); err != nil {
			return err
		}
		return withStore(ctx, *sqlitePath, func(db *store.DB) error { return db.WriteCalls(ctx, calls) })
	})
	return cmd
}
