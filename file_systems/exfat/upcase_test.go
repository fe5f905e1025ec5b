package exfat_test

import (
	"encoding/binary"
	"testing"
	"unicode/utf16"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/theos-os/imager"
	"github.com/theos-os/imager/file_systems/exfat"
)

func TestNewUpcase(t *testing.T) {
	upcase := exfat.NewUpcase()
	assert.EqualValues(t, 'A', upcase['a'])
	assert.EqualValues(t, 'Z', upcase['z'])
	assert.EqualValues(t, 'A', upcase['A'])
	assert.EqualValues(t, '1', upcase['1'])
	assert.EqualValues(t, 'É', upcase['é'])
	assert.EqualValues(t, 'Ω', upcase['ω'])
	assert.EqualValues(t, 0xD800, upcase[0xD800])
	assert.EqualValues(t, 0xFFFF, upcase[0xFFFF])

	assert.Equal(
		t,
		utf16.Encode([]rune("KERNEL.ELF")),
		upcase.Convert(utf16.Encode([]rune("kernel.Elf"))))
}

func TestUpcaseCompressStartsWithRun(t *testing.T) {
	data := exfat.NewUpcase().Compress()

	// 0x00-0x60 map to themselves, then 'a'-'z' map to 'A'-'Z'.
	assert.EqualValues(t, 0xFFFF, binary.LittleEndian.Uint16(data[0:]))
	assert.EqualValues(t, 0x61, binary.LittleEndian.Uint16(data[2:]))
	assert.EqualValues(t, 'A', binary.LittleEndian.Uint16(data[4:]))
	assert.EqualValues(t, 'Z', binary.LittleEndian.Uint16(data[54:]))
	assert.Less(t, len(data), 0x20000/4, "table isn't compressed")
}

func TestUpcaseRoundTrip(t *testing.T) {
	upcase := exfat.NewUpcase()
	decoded, err := exfat.DecodeUpcase(upcase.Compress())
	require.NoError(t, err)
	assert.Equal(t, upcase, decoded)
}

func TestDecodeUpcaseShortTable(t *testing.T) {
	// Maps 'a' to 'A' only, everything else to itself.
	data := []byte{0xFF, 0xFF, 0x61, 0x00, 0x41, 0x00}
	decoded, err := exfat.DecodeUpcase(data)
	require.NoError(t, err)
	assert.EqualValues(t, 'A', decoded['a'])
	assert.EqualValues(t, 'b', decoded['b'])
	assert.EqualValues(t, 0x60, decoded[0x60])
}

func TestDecodeUpcaseInvalid(t *testing.T) {
	_, err := exfat.DecodeUpcase([]byte{0x41})
	assert.ErrorIs(t, err, imager.ErrFileSystemCorrupted)

	_, err = exfat.DecodeUpcase([]byte{0xFF, 0xFF})
	assert.ErrorIs(t, err, imager.ErrFileSystemCorrupted)
}
