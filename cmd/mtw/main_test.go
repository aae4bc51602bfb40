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
	"bytes"
	"context"
	"flag"
	"fmt"
	"io/ioutil"
	"path/filepath"
	"strings"
	"testing"

	"github.com/grailbio/mtw/heteroplasmy"
	"github.com/grailbio/mtw/summary"
	"github.com/grailbio/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"v.io/x/lib/cmdline"
)

var refSeq = strings.Repeat("ACGT", 25)

func TestFlagEnvName(t *testing.T) {
	assert.Equal(t, "MTW_MIN_DEPTH", flagEnvName("min-depth"))
	assert.Equal(t, "MTW_SQLITE", flagEnvName("sqlite"))
}

func TestApplyEnv(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	minDepth := fs.Int("min-depth", 20, "")
	noiseFloor := fs.Float64("noise-floor", 0.01, "")
	stitch := fs.Bool("stitch", true, "")
	require.NoError(t, fs.Parse([]string{"-noise-floor=0.05"}))
	require.NoError(t, applyEnv(fs, map[string]string{
		"MTW_MIN_DEPTH":   "50",
		"MTW_NOISE_FLOOR": "0.5",
		"MTW_STITCH":      "false",
		"OTHER":           "x",
	}))
	assert.Equal(t, 50, *minDepth)
	assert.Equal(t, 0.05, *noiseFloor)
	assert.False(t, *stitch)

	assert.Error(t, applyEnv(fs, map[string]string{"MTW_STITCH": "maybe"}))
}

func TestLoadEnv(t *testing.T) {
	tmpdir, cleanup := testutil.TempDir(t, "", "")
	defer testutil.NoCleanupOnError(t, cleanup, tmpdir)
	path := filepath.Join(tmpdir, "mtw.env")
	require.NoError(t, ioutil.WriteFile(path, []byte("MTW_MIN_DEPTH=30\nMTW_MAPQ=10\n"), 0644))

	env := &cmdline.Env{Vars: map[string]string{"MTW_MAPQ": "40"}}
	vars, err := loadEnv(env, path)
	require.NoError(t, err)
	assert.Equal(t, "30", vars["MTW_MIN_DEPTH"])
	assert.Equal(t, "40", vars["MTW_MAPQ"])

	env.Vars[envFileVar] = path
	vars, err = loadEnv(env, "")
	require.NoError(t, err)
	assert.Equal(t, "30", vars["MTW_MIN_DEPTH"])

	_, err = loadEnv(env, filepath.Join(tmpdir, "missing.env"))
	assert.Error(t, err)
	// The default file is optional.
	_, err = loadEnv(&cmdline.Env{Vars: map[string]string{}}, "")
	assert.NoError(t, err)
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, splitList(" a,,b ,"))
	assert.Nil(t, splitList(""))
}

// writeInputs writes a 100bp reference, a two-haplogroup mutation table and
// a SAM file of 50 reads over positions 1-20.  Every read carries A at
// position 15 (reference G) and every tenth read carries T at position 11
// (reference G).
func writeInputs(t *testing.T, dir string) (fa, muts, sam string) {
	fa = filepath.Join(dir, "ref.fa")
	require.NoError(t, ioutil.WriteFile(fa, []byte(">chrM\n"+refSeq+"\n"), 0644))
	muts = filepath.Join(dir, "mutations.tsv")
	require.NoError(t, ioutil.WriteFile(muts, []byte("HAPLOGROUP\tPOS\tREF\tALT\nH\t3\tG\tA\nU\t15\tG\tA\n"), 0644))

	var sb strings.Builder
	sb.WriteString("@HD\tVN:1.6\tSO:coordinate\n@SQ\tSN:chrM\tLN:100\n")
	for i := 0; i < 50; i++ {
		seq := []byte(refSeq[:20])
		seq[14] = 'A'
		if i%10 == 0 {
			seq[10] = 'T'
		}
		fmt.Fprintf(&sb, "r%d\t0\tchrM\t1\t60\t20M\t*\t0\t0\t%s\t%s\n", i, seq, strings.Repeat("I", 20))
	}
	sam = filepath.Join(dir, "s1.sam")
	require.NoError(t, ioutil.WriteFile(sam, []byte(sb.String()), 0644))
	return
}

func run(args ...string) (stdout string, code int) {
	var out, errOut bytes.Buffer
	env := &cmdline.Env{Stdout: &out, Stderr: &errOut, Vars: map[string]string{}}
	err := cmdline.ParseAndRun(newCmdRoot(), env, args)
	return out.String(), cmdline.ExitCode(err, &errOut)
}

func TestCommands(t *testing.T) {
	tmpdir, cleanup := testutil.TempDir(t, "", "")
	defer testutil.NoCleanupOnError(t, cleanup, tmpdir)
	ctx := context.Background()
	fa, muts, samPath := writeInputs(t, tmpdir)
	outDir := filepath.Join(tmpdir, "out")
	dbPath := filepath.Join(tmpdir, "mtw.db")

	// A missing input fails only its own sample, with exit status 3.
	_, code := run("process-samples", "-reference", fa, "-out", outDir, "-sqlite", dbPath,
		samPath, filepath.Join(tmpdir, "missing.bam"))
	assert.Equal(t, exitSampleFailures, code)
	tablePath := heteroplasmy.TablePath(outDir, "s1", false)
	table, err := heteroplasmy.ReadTableFile(ctx, tablePath)
	require.NoError(t, err)
	assert.Equal(t, 20, table.Len())
	rec, ok := table.Lookup(11)
	require.True(t, ok)
	assert.InDelta(t, 0.1, rec.Fraction, 1e-12)
	assert.Equal(t, heteroplasmy.FilterPass, rec.Filter)

	_, code = run("process-samples", "-reference", fa, "-out", outDir, samPath)
	assert.Equal(t, 0, code)

	matrixPath := filepath.Join(tmpdir, "summary.tsv")
	_, code = run("summarize-samples", "-out", matrixPath, "-sqlite", dbPath, tablePath)
	require.Equal(t, 0, code)
	m, err := summary.ReadMatrixFile(ctx, matrixPath)
	require.NoError(t, err)
	assert.Equal(t, []string{"s1"}, m.Samples())
	fraction, ok := m.Get(11, "s1")
	require.True(t, ok)
	assert.InDelta(t, 0.1, fraction, 1e-12)

	stdout, code := run("haplogroup-samples", "-reference", fa, "-mutations", muts, "-sqlite", dbPath, tablePath)
	require.Equal(t, 0, code)
	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "s1\tU\t1\t1\tG15A\t.\tH:0", lines[1])
}

func TestUsageErrors(t *testing.T) {
	_, code := run("process-samples", "-out", "x")
	assert.Equal(t, 2, code)
	_, code = run("process-samples", "-out", "x", "a.bam")
	assert.Equal(t, 2, code)
	_, code = run("haplogroup-samples", "-reference", "ref.fa", "t.tsv")
	assert.Equal(t, 2, code)
	_, code = run("summarize-samples")
	assert.Equal(t, 2, code)
	// A missing reference is fatal.
	_, code = run("process-samples", "-reference", "/nonexistent/ref.fa", "-out", "x", "a.bam")
	assert.Equal(t, 1, code)
}
