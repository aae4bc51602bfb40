package fasta_test

import (
	"reflect"
	"strings"
	"testing"

	"github.com/grailbio/mtw/encoding/fasta"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
)

const fastaData = ">chrM rCRS\n" + "gatca\nCAGGT\nCT\n" + ">RSRS Reconstructed Sapiens\r\n" + "GATC\r\n" + "ACAG\r\n"

func TestGet(t *testing.T) {
	tests := []struct {
		seq        string
		start, end uint64
		want       string
		wantErr    bool
	}{
		{"chrM", 1, 2, "A", false},
		{"chrM", 1, 6, "ATCAC", false},
		{"chrM", 0, 12, "GATCACAGGTCT", false},
		{"chrM", 10, 12, "CT", false},
		{"RSRS", 0, 8, "GATCACAG", false},
		{"RSRS", 2, 5, "TCA", false},
		{"chr1", 0, 1, "", true},
		{"chrM", 10, 13, "", true},
		{"chrM", 4, 3, "", true},
	}
	fa, err := fasta.New(strings.NewReader(fastaData))
	assert.NoError(t, err)
	for _, tt := range tests {
		got, err := fa.Get(tt.seq, tt.start, tt.end)
		if tt.wantErr {
			expect.NotNil(t, err, "%s:%d-%d", tt.seq, tt.start, tt.end)
			continue
		}
		expect.NoError(t, err)
		expect.EQ(t, got, tt.want)
	}
}

func TestLenAndSeqNames(t *testing.T) {
	fa, err := fasta.New(strings.NewReader(fastaData))
	assert.NoError(t, err)
	n, err := fa.Len("chrM")
	assert.NoError(t, err)
	expect.EQ(t, n, uint64(12))
	n, err = fa.Len("RSRS")
	assert.NoError(t, err)
	expect.EQ(t, n, uint64(8))
	_, err = fa.Len("MT")
	expect.NotNil(t, err)
	if got, want := fa.SeqNames(), []string{"chrM", "RSRS"}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestMalformed(t *testing.T) {
	for _, data := range []string{
		"",
		"ACGT\n>chrM\nACGT\n",
		">chrM\n>RSRS\nACGT\n",
		">chrM\nACGT\n>chrM\nACGT\n",
		">\nACGT\n",
		">chrM\n",
	} {
		_, err := fasta.New(strings.NewReader(data))
		expect.NotNil(t, err, "input %q", data)
	}
}
