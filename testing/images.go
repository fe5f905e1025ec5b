package testing

import (
	"io"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/bytesextra"
)

// LoadImage wraps a built image in a stream, the way a reader would see it on
// disk.
//
//   - Writes to the stream modify `imageBytes`.
//   - While the stream can be written to, its size is fixed to `sectorSize * totalSectors`.
//     Attempting to write past the end of this buffer will trigger an error.
func LoadImage(t *testing.T, imageBytes []byte, sectorSize, totalSectors uint) io.ReadWriteSeeker {
	require.Greater(t, len(imageBytes), 0, "image is empty")
	require.Equal(
		t,
		totalSectors*sectorSize,
		uint(len(imageBytes)),
		"image is wrong size",
	)
	return bytesextra.NewReadWriteSeeker(imageBytes)
}

// ReadSectors returns a copy of `count` sectors starting at `first`.
func ReadSectors(t *testing.T, stream io.ReadSeeker, sectorSize, first, count uint) []byte {
	_, err := stream.Seek(int64(first*sectorSize), io.SeekStart)
	require.NoError(t, err)

	buffer := make([]byte, count*sectorSize)
	_, err = io.ReadFull(stream, buffer)
	require.NoError(t, err, "failed to read sectors %d-%d", first, first+count-1)
	return buffer
}
