package compression

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/theos-os/imager"
)

// maxRunLength is the longest run one escape sequence can hold: the doubled
// byte plus a repeat count of up to 255.
const maxRunLength = 257

// encodeRun appends the RLE8 form of `run` to `output`.
func encodeRun(output []byte, run ByteRun) []byte {
	remaining := run.RunLength
	for remaining >= 2 {
		length := remaining
		if length > maxRunLength {
			length = maxRunLength
		}
		output = append(output, run.Byte, run.Byte, byte(length-2))
		remaining -= length
	}
	if remaining == 1 {
		output = append(output, run.Byte)
	}
	return output
}

// CompressRLE8 run-length encodes everything in `input` into `output`. It
// returns the number of bytes written.
func CompressRLE8(input io.Reader, output io.Writer) (int64, error) {
	grouper := NewRunLengthGrouper(input)
	encoded := make([]byte, 0, 16)
	written := int64(0)

	for {
		run, err := grouper.GetNextRun()
		if errors.Is(err, io.EOF) {
			return written, nil
		} else if err != nil {
			return written, imager.ErrIO.WithMessage("error reading input").Wrap(err)
		}

		encoded = encodeRun(encoded[:0], run)
		n, err := output.Write(encoded)
		written += int64(n)
		if err != nil {
			return written, imager.ErrIO.WithMessage("failed to write to output").Wrap(err)
		}
	}
}

// DecompressRLE8 is the inverse of CompressRLE8. It returns the number of bytes
// written. Input that ends between a doubled byte and its repeat count fails
// with ErrFileSystemCorrupted wrapping io.ErrUnexpectedEOF.
func DecompressRLE8(input io.Reader, output io.Writer) (int64, error) {
	source := bufio.NewReader(input)
	sink := bufio.NewWriter(output)
	written := int64(0)

	// previous is -1 right after a complete escape sequence, so the byte after
	// one never pairs with its last byte.
	previous := -1
	for {
		current, err := source.ReadByte()
		if errors.Is(err, io.EOF) {
			break
		} else if err != nil {
			return written, imager.ErrIO.WithMessage("error reading input").Wrap(err)
		}

		if int(current) != previous {
			sink.WriteByte(current)
			written++
			previous = int(current)
			continue
		}

		count, err := source.ReadByte()
		if errors.Is(err, io.EOF) {
			message := fmt.Sprintf("missing repeat count after two %#02x bytes", current)
			return written, imager.ErrFileSystemCorrupted.WithMessage(message).Wrap(io.ErrUnexpectedEOF)
		} else if err != nil {
			return written, imager.ErrIO.WithMessage("error reading input").Wrap(err)
		}

		// The first copy of the byte was already written as a literal.
		n, _ := sink.Write(bytes.Repeat([]byte{current}, int(count)+1))
		written += int64(n)
		previous = -1
	}

	err := sink.Flush()
	if err != nil {
		return written, imager.ErrIO.WithMessage("failed to write to output").Wrap(err)
	}
	return written, nil
}
