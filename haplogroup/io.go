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

package haplogroup

import (
	"io"
	"strconv"
	"strings"

	"github.com/grailbio/base/tsv"
)

const callsHeader = "SAMPLE\tHAPLOGROUP\tSCORE\tEVALUABLE\tMATCHED\tMISMATCHED\tALTERNATIVES"

// sites renders mutations as a comma-separated REFposALT list, or "." when
// empty.
func sites(s []SiteResult) string {
	if len(s) == 0 {
		return "."
	}
	parts := make([]string, len(s))
	for i, site := range s {
		parts[i] = site.Mutation.String()
	}
	return strings.Join(parts, ",")
}

func alternatives(s []Score) string {
	if len(s) == 0 {
		return "."
	}
	parts := make([]string, len(s))
	for i, alt := range s {
		parts[i] = alt.Haplogroup + ":" + strconv.FormatFloat(alt.Score, 'g', 4, 64)
	}
	return strings.Join(parts, ",")
}

// WriteCalls writes one TSV line per call, in the given order.
func WriteCalls(w io.Writer, calls []Call) error {
	tw := tsv.NewWriter(w)
	tw.WriteString(callsHeader)
	if err := tw.EndLine(); err != nil {
		return err
	}
	for _, c := range calls {
		tw.WriteString(c.Sample)
		tw.WriteString(c.Haplogroup)
		tw.WriteString(strconv.FormatFloat(c.Score, 'g', -1, 64))
		tw.WriteString(strconv.Itoa(c.Evaluable))
		tw.WriteString(sites(c.Matched))
		tw.WriteString(sites(c.Mismatched))
		tw.WriteString(alternatives(c.Alternatives))
		if err := tw.EndLine(); err != nil {
			return err
		}
	}
	return tw.Flush()
}
