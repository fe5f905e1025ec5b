package compression_test

import (
	"bytes"
	"crypto/rand"
	"io"
	"testing"

	"github.com/noxer/bytewriter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/theos-os/imager"
	c "github.com/theos-os/imager/utilities/compression"
)

var rle8TestCases = [...]struct {
	Name       string
	Input      []byte
	Compressed []byte
}{
	{"empty", []byte{}, []byte{}},
	{"run with two only", []byte{4, 4}, []byte{4, 4, 0}},
	{"no runs", []byte{0, 1, 2, 3, 4}, []byte{0, 1, 2, 3, 4}},
	{"two at end", []byte{6, 1, 3, 0, 0}, []byte{6, 1, 3, 0, 0, 0}},
	{"three at end", []byte{6, 1, 0, 0, 0}, []byte{6, 1, 0, 0, 1}},
	{"short run", []byte{9, 5, 5, 5, 5, 5, 3, 7}, []byte{9, 5, 5, 3, 3, 7}},
	{
		"adjacent runs",
		[]byte{9, 5, 5, 5, 5, 5, 5, 3, 3, 3, 3, 7, 2, 6},
		[]byte{9, 5, 5, 4, 3, 3, 2, 7, 2, 6},
	},
	{
		"single long run",
		bytes.Repeat([]byte{5}, 1024),
		[]byte{5, 5, 255, 5, 5, 255, 5, 5, 255, 5, 5, 251},
	},
	{"257", bytes.Repeat([]byte{8}, 257), []byte{8, 8, 255}},
	{"258", bytes.Repeat([]byte{8}, 258), []byte{8, 8, 255, 8}},
	{"259", bytes.Repeat([]byte{8}, 259), []byte{8, 8, 255, 8, 8, 0}},
}

// assertSameBytes compares contents only. An untouched bytes.Buffer returns nil,
// which assert.Equal doesn't consider equal to an empty slice.
func assertSameBytes(t *testing.T, expected, actual []byte) {
	if len(expected) == 0 {
		assert.Empty(t, actual)
		return
	}
	assert.Equal(t, expected, actual)
}

func TestCompressRLE8(t *testing.T) {
	for _, test := range rle8TestCases {
		t.Run(test.Name, func(t *testing.T) {
			output := bytes.Buffer{}
			n, err := c.CompressRLE8(bytes.NewReader(test.Input), &output)
			require.NoError(t, err)
			assert.EqualValues(t, len(test.Compressed), n, "byte count is wrong")
			assertSameBytes(t, test.Compressed, output.Bytes())
		})
	}
}

func TestDecompressRLE8(t *testing.T) {
	for _, test := range rle8TestCases {
		t.Run(test.Name, func(t *testing.T) {
			output := bytes.Buffer{}
			n, err := c.DecompressRLE8(bytes.NewReader(test.Compressed), &output)
			require.NoError(t, err)
			assert.EqualValues(t, len(test.Input), n, "byte count is wrong")
			assertSameBytes(t, test.Input, output.Bytes())
		})
	}
}

func TestRLE8RoundTripRandom(t *testing.T) {
	source := make([]byte, 4096)
	rand.Read(source)
	// Splice in a few runs so both paths are exercised.
	copy(source[100:], bytes.Repeat([]byte{0}, 600))
	copy(source[2000:], bytes.Repeat([]byte{0xAA}, 3))

	compressed := bytes.Buffer{}
	_, err := c.CompressRLE8(bytes.NewReader(source), &compressed)
	require.NoError(t, err)

	decompressed := bytes.Buffer{}
	_, err = c.DecompressRLE8(&compressed, &decompressed)
	require.NoError(t, err)
	assert.Equal(t, source, decompressed.Bytes())
}

func TestDecompressRLE8Truncated(t *testing.T) {
	output := bytes.Buffer{}
	_, err := c.DecompressRLE8(bytes.NewReader([]byte{1, 2, 2}), &output)
	assert.ErrorIs(t, err, imager.ErrFileSystemCorrupted)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestCompressRLE8OutputFull(t *testing.T) {
	// Room for the first run only.
	buffer := make([]byte, 3)
	writer := bytewriter.New(buffer)

	_, err := c.CompressRLE8(bytes.NewReader([]byte{7, 7, 7, 1, 2}), writer)
	assert.ErrorIs(t, err, imager.ErrIO)
	assert.Equal(t, []byte{7, 7, 1}, buffer)
}
