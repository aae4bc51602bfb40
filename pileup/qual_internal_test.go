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
	"testing"

	"github.com/grailbio/testutil/expect"
)

func TestCombineQuals(t *testing.T) {
	// Every row and column should be nondecreasing.
	for row := byte(0); row < nQual; row++ {
		prev := byte(0)
		for col := byte(0); col < nQual; col++ {
			cur := combineQuals(row, col)
			if cur < prev {
				t.Fatalf("combineQuals(%d, %d) = %d, smaller than combineQuals(%d, %d) = %d", row, col, cur, row, col-1, prev)
			}
			if cur < row || cur < col {
				t.Fatalf("combineQuals(%d, %d) = %d is below an input quality", row, col, cur)
			}
			if cur != combineQuals(col, row) {
				t.Fatalf("combineQuals(%d, %d) is not symmetric", row, col)
			}
			prev = cur
		}
	}
	expect.EQ(t, combineQuals(10, 10), byte(19))
	expect.EQ(t, combineQuals(30, 0), byte(30))
	expect.EQ(t, combineQuals(nQual-1, nQual-1), byte(nQual-1))
}

func TestNormQual(t *testing.T) {
	expect.EQ(t, normQual(0xff), byte(0))
	expect.EQ(t, normQual(120), byte(nQual-1))
	expect.EQ(t, normQual(37), byte(37))
}

func TestClipQuals(t *testing.T) {
	qual := []byte{30, 30, 30, 30, 30, 30}
	clipQuals(qual, 2)
	expect.EQ(t, qual, []byte{minQual, minQual, 30, 30, minQual, minQual})
	qual = []byte{30, 30, 30}
	clipQuals(qual, 2)
	expect.EQ(t, qual, []byte{minQual, minQual, minQual})
	qual = []byte{30}
	clipQuals(qual, 0)
	expect.EQ(t, qual, []byte{30})
}
