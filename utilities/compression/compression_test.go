package compression_test

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/theos-os/imager"
	c "github.com/theos-os/imager/utilities/compression"
)

func TestRoundTripImageCompression(t *testing.T) {
	randomData := make([]byte, 119)
	rand.Read(randomData)

	sectorish := make([]byte, 64*512)
	copy(sectorish, []byte{0xEB, 0x3C, 0x90, 'M', 'S', 'W', 'I', 'N', '4', '.', '1'})
	sectorish[510] = 0x55
	sectorish[511] = 0xAA

	testData := [...]struct {
		Name string
		Data []byte
	}{
		{"homogenous", bytes.Repeat([]byte{100}, 9174)},
		{"empty", []byte{}},
		{"heterogenous", randomData},
		{"mostly free image", sectorish},
	}

	for _, test := range testData {
		t.Run(test.Name, func(t *testing.T) {
			compressed := bytes.Buffer{}
			_, err := c.CompressImage(bytes.NewReader(test.Data), &compressed)
			require.NoError(t, err)
			assert.True(t, c.IsCompressed(compressed.Bytes()), "gzip magic missing")

			roundTripped, err := c.DecompressImageToBytes(bytes.NewReader(compressed.Bytes()))
			require.NoError(t, err)
			assert.Equal(t, len(test.Data), len(roundTripped))
			assert.True(t, bytes.Equal(test.Data, roundTripped), "data differs after round trip")
		})
	}
}

func TestCompressImageShrinksFreeSpace(t *testing.T) {
	image := make([]byte, 1440*1024)
	compressed := bytes.Buffer{}
	_, err := c.CompressImage(bytes.NewReader(image), &compressed)
	require.NoError(t, err)
	assert.Less(t, compressed.Len(), 1024)
}

func TestDecompressImageNotGzip(t *testing.T) {
	_, err := c.DecompressImageToBytes(bytes.NewReader([]byte{0xEB, 0x76, 0x90, 'E', 'X', 'F', 'A', 'T'}))
	assert.ErrorIs(t, err, imager.ErrFileSystemCorrupted)
}

func TestIsCompressed(t *testing.T) {
	assert.True(t, c.IsCompressed([]byte{0x1f, 0x8b, 0x08}))
	assert.False(t, c.IsCompressed([]byte{0x1f}))
	assert.False(t, c.IsCompressed([]byte{0xEB, 0x3C, 0x90}))
	assert.False(t, c.IsCompressed(nil))
}
