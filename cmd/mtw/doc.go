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

/*
mtw estimates mitochondrial heteroplasmy from aligned reads.

	mtw process-samples -reference rCRS.fa -out results/ a.bam b.bam
	mtw summarize-samples -out summary.tsv results/*.heteroplasmy.tsv
	mtw haplogroup-samples -reference rCRS.fa -mutations phylotree.tsv results/*.heteroplasmy.tsv

process-samples piles up the reads of each BAM or SAM file against the
reference mitochondrial sequence, stitching overlapping mates so each
fragment is counted once, and writes a per-sample heteroplasmy table:
the major and minor alleles, the minor-allele fraction with its Wilson
confidence interval, and a filter status at every position with adequate
depth.  Samples run in parallel; a sample that fails is reported and
skipped, and the command then exits with status 3.

summarize-samples aligns per-sample tables into a position by sample
matrix of minor-allele fractions.  Positions a sample does not report are
written as NA.

haplogroup-samples assigns each sample the haplogroup whose defining
mutations best match its consensus sequence.

Flag defaults may be overridden by MTW_* environment variables, e.g.
MTW_MIN_DEPTH=50 for -min-depth.  Variables are also read from the dotenv
file named by -env or MTW_ENV, or from .mtw.env in the working directory.
Flags given on the command line take precedence.
*/
package main
