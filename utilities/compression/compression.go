package compression

import (
	"bytes"
	"compress/gzip"
	"io"

	"github.com/theos-os/imager"
)

// gzipMagic is the first two bytes of every gzip stream.
var gzipMagic = []byte{0x1f, 0x8b}

// IsCompressed reports whether `header`, the first bytes of a file, looks like
// the output of CompressImage. Boot sectors start with a jump instruction, so
// they never match.
func IsCompressed(header []byte) bool {
	return bytes.HasPrefix(header, gzipMagic)
}

// CompressImage compresses a disk image using RLE8 and gzip.
//
// The returned int64 gives the number of RLE8 bytes handed to gzip. If an error
// occurred, the value is undefined and should not be used.
func CompressImage(input io.Reader, output io.Writer) (int64, error) {
	// The images aren't that huge so we won't notice much of a speed difference
	// between the default and highest levels.
	gzWriter, err := gzip.NewWriterLevel(output, gzip.BestCompression)
	if err != nil {
		return 0, imager.ErrInvalidArgument.Wrap(err)
	}

	n, err := CompressRLE8(input, gzWriter)
	if err != nil {
		gzWriter.Close()
		return n, err
	}
	err = gzWriter.Close()
	if err != nil {
		return n, imager.ErrIO.Wrap(err)
	}
	return n, nil
}

// DecompressImage takes a gzipped, RLE8-encoded disk image and decompresses it
// to the original raw bytes.
//
// The returned int64 gives the number of bytes written to the output (i.e. the
// decompressed size of the image). If an error occurred, the value is undefined
// and should not be used.
func DecompressImage(input io.Reader, output io.Writer) (int64, error) {
	gzReader, err := gzip.NewReader(input)
	if err != nil {
		return 0, imager.ErrFileSystemCorrupted.WithMessage("not a compressed image").Wrap(err)
	}
	defer gzReader.Close()
	return DecompressRLE8(gzReader, output)
}

// DecompressImageToBytes is DecompressImage writing into a new byte slice.
func DecompressImageToBytes(input io.Reader) ([]byte, error) {
	buffer := bytes.Buffer{}
	_, err := DecompressImage(input, &buffer)
	if err != nil {
		return nil, err
	}
	return buffer.Bytes(), nil
}
