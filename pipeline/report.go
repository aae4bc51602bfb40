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

package pipeline

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/grailbio/mtw/heteroplasmy"
)

// Report is the end-of-run summary of a batch.
type Report struct {
	RunID string
	Start time.Time
	End   time.Time
	// Results has one entry per input sample, in input order.
	Results []Result
}

func newReport(n int) *Report {
	return &Report{
		RunID:   uuid.New().String(),
		Start:   time.Now(),
		Results: make([]Result, n),
	}
}

// Failed returns the results of the samples that failed.
func (r *Report) Failed() []Result {
	var failed []Result
	for _, res := range r.Results {
		if !res.OK() {
			failed = append(failed, res)
		}
	}
	return failed
}

// Tables returns the tables of the successful samples, in input order.
// Excluded samples are skipped.
func (r *Report) Tables() []*heteroplasmy.Table {
	var tables []*heteroplasmy.Table
	for _, res := range r.Results {
		if res.OK() && !res.Excluded() {
			tables = append(tables, res.Table)
		}
	}
	return tables
}

// Render writes a human-readable report.
func (r *Report) Render(w io.Writer) error {
	var b strings.Builder
	fmt.Fprintf(&b, "run %s: %d samples, %d failed, %v\n",
		r.RunID, len(r.Results), len(r.Failed()), r.End.Sub(r.Start).Round(time.Millisecond))
	for _, res := range r.Results {
		if !res.OK() {
			fmt.Fprintf(&b, "  %s\tFAILED\t%v\n", res.Sample.Name, res.Err)
			continue
		}
		status := "ok"
		if res.Excluded() {
			status = "excluded"
		}
		fmt.Fprintf(&b, "  %s\t%s\t%s records, %s tallied, %s stitched pairs, %d positions\n",
			res.Sample.Name, status,
			humanize.Comma(int64(res.Stats.Records)),
			humanize.Comma(int64(res.Stats.Tallied)),
			humanize.Comma(int64(res.Stats.StitchedPairs)),
			res.Table.Len())
		for _, warning := range res.Warnings {
			if warning.SampleLevel() {
				fmt.Fprintf(&b, "    warning: %v\n", warning)
			}
		}
		if n := countPositional(res.Warnings); n > 0 {
			fmt.Fprintf(&b, "    warning: %d positions below minimum depth\n", n)
		}
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func countPositional(warnings []heteroplasmy.CoverageWarning) int {
	n := 0
	for _, w := range warnings {
		if !w.SampleLevel() {
			n++
		}
	}
	return n
}
