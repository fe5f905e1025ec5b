package compression_test

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	c "github.com/theos-os/imager/utilities/compression"
)

func TestRunLengthGrouperBasic(t *testing.T) {
	testCases := [...]struct {
		Name     string
		Data     []byte
		Expected c.ByteRun
	}{
		{"empty", []byte{}, c.InvalidRLERun},
		{"two initial", []byte{0, 0, 1, 0, 0, 0, 0}, c.ByteRun{Byte: 0, RunLength: 2}},
		{"one byte", []byte{6, 1, 5, 20, 31}, c.ByteRun{Byte: 6, RunLength: 1}},
		{"entire run", []byte{9, 9, 9, 9, 9, 9}, c.ByteRun{Byte: 9, RunLength: 6}},
	}

	for _, test := range testCases {
		t.Run(test.Name, func(t *testing.T) {
			grouper := c.NewRunLengthGrouper(bytes.NewReader(test.Data))
			result, _ := grouper.GetNextRun()
			assert.Equal(t, test.Expected, result)
		})
	}
}

func TestRunLengthGrouperSequence(t *testing.T) {
	data := []byte{1, 9, 4, 4, 4, 4, 4, 6, 6, 0, 1, 0, 0, 0}
	expected := []c.ByteRun{
		{Byte: 1, RunLength: 1},
		{Byte: 9, RunLength: 1},
		{Byte: 4, RunLength: 5},
		{Byte: 6, RunLength: 2},
		{Byte: 0, RunLength: 1},
		{Byte: 1, RunLength: 1},
		{Byte: 0, RunLength: 3},
	}

	grouper := c.NewRunLengthGrouper(bytes.NewReader(data))
	for i, want := range expected {
		run, err := grouper.GetNextRun()
		require.NoErrorf(t, err, "run %d", i)
		assert.Equalf(t, want, run, "run %d", i)
	}

	run, err := grouper.GetNextRun()
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, c.InvalidRLERun, run)
}
