// Package fasta parses FASTA-formatted reference data.  FASTA files consist of
// a number of named sequences, each of which may be wrapped over several
// lines.  For example:
//
// >chrM
// GATCACAGGT
// CTATCACCCT
// >RSRS
// GATCACAGGT
//
// Sequence names are the stretch of characters immediately after '>', up to
// the first whitespace; the rest of the header line is ignored.  Sequences
// are upper-cased on load.
package fasta

import (
	"bufio"
	"bytes"
	"io"

	"github.com/pkg/errors"
)

// maxLineLen bounds the length of a single FASTA line.  Mitochondrial
// references are usually wrapped at 60-80 columns, but some tools emit the
// whole sequence on one line.
const maxLineLen = 64 << 20

// Fasta represents FASTA-formatted data, consisting of a set of named
// sequences.
type Fasta interface {
	// Get returns a substring of the given sequence name at the given
	// coordinates, which are treated as a 0-based half-open interval
	// [start, end).  Get is thread-safe.
	Get(seqName string, start, end uint64) (string, error)

	// Len returns the length of the given sequence.
	Len(seqName string) (uint64, error)

	// SeqNames returns the names of all sequences, in the order of appearance in
	// the FASTA file.
	SeqNames() []string
}

type fasta struct {
	seqs     map[string]string
	seqNames []string
}

// New creates a new Fasta that holds all the FASTA data from the given reader
// in memory.  It fails on data before the first header line, on empty or
// duplicate sequences, and on input without any sequence.
func New(r io.Reader) (Fasta, error) {
	f := &fasta{seqs: make(map[string]string)}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(nil, maxLineLen)
	var (
		seqName string
		seq     bytes.Buffer
		inSeq   bool
		lineNum int
	)
	flush := func() error {
		if !inSeq {
			return nil
		}
		if seq.Len() == 0 {
			return errors.Errorf("malformed FASTA file: sequence %s is empty", seqName)
		}
		if _, ok := f.seqs[seqName]; ok {
			return errors.Errorf("malformed FASTA file: duplicate sequence %s", seqName)
		}
		f.seqs[seqName] = string(bytes.ToUpper(seq.Bytes()))
		f.seqNames = append(f.seqNames, seqName)
		seq.Reset()
		return nil
	}
	for scanner.Scan() {
		lineNum++
		line := bytes.TrimRight(scanner.Bytes(), "\r")
		if len(line) == 0 {
			continue
		}
		if line[0] == '>' { // Start a new sequence.
			if err := flush(); err != nil {
				return nil, err
			}
			fields := bytes.Fields(line[1:])
			if len(fields) == 0 {
				return nil, errors.Errorf("malformed FASTA file: empty sequence name at line %d", lineNum)
			}
			seqName = string(fields[0])
			inSeq = true
			continue
		}
		if !inSeq {
			return nil, errors.Errorf("malformed FASTA file: sequence data before first header at line %d", lineNum)
		}
		seq.Write(bytes.TrimSpace(line))
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "couldn't read FASTA data")
	}
	if err := flush(); err != nil {
		return nil, err
	}
	if len(f.seqNames) == 0 {
		return nil, errors.New("empty FASTA file")
	}
	return f, nil
}

// Get implements Fasta.Get().
func (f *fasta) Get(seqName string, start, end uint64) (string, error) {
	s, ok := f.seqs[seqName]
	if !ok {
		return "", errors.Errorf("sequence not found: %s", seqName)
	}
	if end <= start {
		return "", errors.New("start must be less than end")
	}
	if end > uint64(len(s)) {
		return "", errors.Errorf("invalid query range %d - %d for sequence %s with length %d",
			start, end, seqName, len(s))
	}
	return s[start:end], nil
}

// Len implements Fasta.Len().
func (f *fasta) Len(seqName string) (uint64, error) {
	s, ok := f.seqs[seqName]
	if !ok {
		return 0, errors.Errorf("sequence not found: %s", seqName)
	}
	return uint64(len(s)), nil
}

// SeqNames implements Fasta.SeqNames().
func (f *fasta) SeqNames() []string {
	return f.seqNames
}
