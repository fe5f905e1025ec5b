package common

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/noxer/bytewriter"
	"github.com/theos-os/imager"
)

// EncodeRecord serializes a fixed-size structure in little-endian byte order
// into a zero-filled buffer of exactly `size` bytes. Bytes the record doesn't
// cover are left zero. `record` must not be larger than `size`.
func EncodeRecord(record interface{}, size int) ([]byte, error) {
	buffer := make([]byte, size)
	writer := bytewriter.New(buffer)

	err := binary.Write(writer, binary.LittleEndian, record)
	if err != nil {
		message := fmt.Sprintf("can't serialize %T into %d bytes", record, size)
		return nil, imager.ErrInvalidArgument.WithMessage(message).Wrap(err)
	}
	return buffer, nil
}

// MustEncodeRecord is EncodeRecord for records whose size is fixed at compile
// time and known to fit.
func MustEncodeRecord(record interface{}, size int) []byte {
	buffer, err := EncodeRecord(record, size)
	if err != nil {
		panic(err)
	}
	return buffer
}

// DecodeRecord deserializes a little-endian structure from the beginning of
// `data`. Trailing bytes are ignored.
func DecodeRecord(data []byte, record interface{}) error {
	needed := binary.Size(record)
	if needed < 0 {
		return imager.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("%T is not a fixed-size record", record))
	}
	if len(data) < needed {
		message := fmt.Sprintf(
			"%T needs %d bytes, got %d", record, needed, len(data))
		return imager.ErrFileSystemCorrupted.WithMessage(message)
	}
	return binary.Read(bytes.NewReader(data), binary.LittleEndian, record)
}

// PadTo returns `data` extended with zeros to a multiple of `blockSize` bytes.
// Empty input stays empty.
func PadTo(data []byte, blockSize int) []byte {
	remainder := len(data) % blockSize
	if remainder == 0 {
		return data
	}
	return append(data, make([]byte, blockSize-remainder)...)
}
