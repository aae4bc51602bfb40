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
	"math"
)

// This file contains qual phred-math routines.

// All functions here assume input qual scores are never larger than
// (nQual - 1), and never return qual scores larger than that.
const nQual = 96

// minQual is the quality assigned to clipped read ends.
const minQual = 2

// When stitching two identical bases, we can estimate the error probability as
//   (e1 * e2) / ((1 - e1) * (1 - e2) + e1 * e2).
// (This conservatively assumes that some sequencing errors can be far more
// likely than others.)
// qualSumTable stores the phred scores corresponding to these precomputed
// values.
var qualSumTable [nQual][nQual]byte

func init() {
	var errProbs [nQual]float64
	for i := range errProbs {
		errProbs[i] = math.Exp(float64(i) * (-0.1 * math.Ln10))
	}
	for i := range qualSumTable {
		e1 := errProbs[i]
		for j := 0; j <= i; j++ {
			e2 := errProbs[j]
			errProduct := e1 * e2
			newErrProb := errProduct / ((1.0-e1)*(1.0-e2) + errProduct)
			curQual := byte(math.Round(math.Log(newErrProb) * (-10.0 * math.Log10E)))
			if curQual >= nQual {
				curQual = nQual - 1
			}
			qualSumTable[i][j] = curQual
			qualSumTable[j][i] = curQual
		}
	}
}

// normQual maps a raw BAM quality into [0, nQual).  0xff ("quality
// unavailable") becomes 0.
func normQual(q byte) byte {
	if q == 0xff {
		return 0
	}
	if q >= nQual {
		return nQual - 1
	}
	return q
}

// combineQuals returns the quality of two agreeing observations of the same
// base.  The result is never lower than the better of the two.
func combineQuals(q1, q2 byte) byte {
	q := qualSumTable[q1][q2]
	if q < q1 {
		q = q1
	}
	if q < q2 {
		q = q2
	}
	return q
}

// clipQuals sets the given number of quality values on both ends of qual to
// minQual.
func clipQuals(qual []byte, n int) {
	if n == 0 {
		return
	}
	readLen := len(qual)
	if n*2 >= readLen {
		for i := 0; i < readLen; i++ {
			qual[i] = minQual
		}
		return
	}
	for i := 0; i < n; i++ {
		qual[i] = minQual
	}
	for i := readLen - n; i < readLen; i++ {
		qual[i] = minQual
	}
}
