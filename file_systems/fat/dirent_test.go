package fat_test

import (
	"encoding/binary"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/theos-os/imager"
	"github.com/theos-os/imager/file_systems/fat"
)

var direntTimestamp = time.Date(2024, time.February, 29, 12, 30, 45, 0, time.UTC)

func TestRawDirentLayout(t *testing.T) {
	dirent := fat.NewRawDirent(
		fat.ShortFileName{Stem: "KERNEL", Extension: "ELF"},
		fat.AttrArchived|fat.AttrReadOnly,
		0x00120034,
		0xDEADBEEF,
		direntTimestamp)
	dirent.NTReserved = fat.NTResLowercaseStem

	data := dirent.Encode()
	require.Len(t, data, fat.DirentSize)
	assert.Equal(t, "KERNEL  ELF", string(data[:11]))
	assert.EqualValues(t, 0x21, data[11])
	assert.EqualValues(t, 0x08, data[12])
	assert.EqualValues(t, 100, data[13], "odd second goes into the 10ms field")
	assert.EqualValues(t, 25558, binary.LittleEndian.Uint16(data[14:]))
	assert.EqualValues(t, 22621, binary.LittleEndian.Uint16(data[16:]))
	assert.EqualValues(t, 22621, binary.LittleEndian.Uint16(data[18:]))
	assert.EqualValues(t, 0x0012, binary.LittleEndian.Uint16(data[20:]))
	assert.EqualValues(t, 25558, binary.LittleEndian.Uint16(data[22:]))
	assert.EqualValues(t, 22621, binary.LittleEndian.Uint16(data[24:]))
	assert.EqualValues(t, 0x0034, binary.LittleEndian.Uint16(data[26:]))
	assert.EqualValues(t, 0xDEADBEEF, binary.LittleEndian.Uint32(data[28:]))

	decoded, err := fat.NewRawDirentFromBytes(data)
	require.NoError(t, err)
	assert.Equal(t, dirent, decoded)
	assert.EqualValues(t, 0x00120034, decoded.FirstCluster())
}

func TestNewRawDirentFromBytesTooShort(t *testing.T) {
	_, err := fat.NewRawDirentFromBytes(make([]byte, 31))
	assert.ErrorIs(t, err, imager.ErrFileSystemCorrupted)
}

func TestLongNameDirents(t *testing.T) {
	dirents, err := fat.LongNameDirents("A long name.txt", 0xd4)
	require.NoError(t, err)
	require.Len(t, dirents, 2)

	// The last part of the name comes first.
	assert.EqualValues(t, 0x42, dirents[0].Order)
	assert.EqualValues(t, 0x01, dirents[1].Order)
	for _, dirent := range dirents {
		assert.EqualValues(t, fat.AttrLongName, dirent.AttributeFlags)
		assert.EqualValues(t, 0xd4, dirent.Checksum)
		assert.EqualValues(t, 0, dirent.FirstClusterLow)
	}

	assert.Equal(t, [5]uint16{'A', ' ', 'l', 'o', 'n'}, dirents[1].Name1)
	assert.Equal(t, [6]uint16{'g', ' ', 'n', 'a', 'm', 'e'}, dirents[1].Name2)
	assert.Equal(t, [2]uint16{'.', 't'}, dirents[1].Name3)

	assert.Equal(t, [5]uint16{'x', 't', 0, 0xFFFF, 0xFFFF}, dirents[0].Name1)
	assert.Equal(t, [6]uint16{0xFFFF, 0xFFFF, 0xFFFF, 0xFFFF, 0xFFFF, 0xFFFF}, dirents[0].Name2)
	assert.Equal(t, [2]uint16{0xFFFF, 0xFFFF}, dirents[0].Name3)

	data := dirents[0].Encode()
	require.Len(t, data, fat.DirentSize)
	assert.EqualValues(t, 0x42, data[0])
	assert.EqualValues(t, 0x0F, data[11])
	assert.EqualValues(t, 0xd4, data[13])
}

func TestLongNameDirentsExactFit(t *testing.T) {
	dirents, err := fat.LongNameDirents("thirteen.char", 0)
	require.NoError(t, err)
	require.Len(t, dirents, 1)
	assert.EqualValues(t, 0x41, dirents[0].Order)
	assert.Equal(t, [2]uint16{'a', 'r'}, dirents[0].Name3, "no terminator when the name fills the entry")
}

func TestLongNameDirentsLimits(t *testing.T) {
	_, err := fat.LongNameDirents("", 0)
	assert.ErrorIs(t, err, imager.ErrInvalidArgument)

	long := make([]byte, fat.MaxLongNameLength+1)
	for i := range long {
		long[i] = 'a'
	}
	_, err = fat.LongNameDirents(string(long), 0)
	assert.ErrorIs(t, err, imager.ErrNameTooLong)

	dirents, err := fat.LongNameDirents(string(long[:fat.MaxLongNameLength]), 0)
	require.NoError(t, err)
	assert.Len(t, dirents, 20)
}

func encodeFile(t *testing.T, longName string, shortName fat.ShortFileName, flags uint8) []byte {
	dirent := fat.NewRawDirent(shortName, fat.AttrArchived, 5, 1234, direntTimestamp)
	dirent.NTReserved = flags
	data, err := fat.EncodeEntry(longName, dirent)
	require.NoError(t, err)
	return data
}

func TestDecodeDirectory(t *testing.T) {
	data := []byte{}

	label := fat.NewRawDirent(fat.ShortFileName{}, fat.AttrVolumeLabel, 0, 0, direntTimestamp)
	copy(label.Name[:], "MY DISK ")
	data = append(data, label.Encode()...)

	dot := fat.NewRawDirent(fat.ShortFileName{Stem: "."}, fat.AttrDirectory, 3, 0, direntTimestamp)
	data = append(data, dot.Encode()...)

	data = append(data, encodeFile(t, "A long name.txt", fat.ShortFileName{Stem: "ALONGN~1", Extension: "TXT"}, 0)...)
	data = append(data, encodeFile(t, "", fat.ShortFileName{Stem: "KERNEL", Extension: "ELF"}, 0x18)...)

	deleted := encodeFile(t, "", fat.ShortFileName{Stem: "GONE"}, 0)
	deleted[0] = 0xE5
	data = append(data, deleted...)

	// Long name entries whose checksum doesn't match the 8.3 entry after them.
	orphan, err := fat.LongNameDirents("orphaned", 0x00)
	require.NoError(t, err)
	data = append(data, orphan[0].Encode()...)
	data = append(data, encodeFile(t, "", fat.ShortFileName{Stem: "README"}, 0)...)

	// Everything after a free entry is ignored.
	data = append(data, make([]byte, fat.DirentSize)...)
	data = append(data, encodeFile(t, "", fat.ShortFileName{Stem: "HIDDEN"}, 0)...)

	directory, err := fat.DecodeDirectory(data, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, "MY DISK", directory.Label)
	require.Len(t, directory.Entries, 3)

	assert.Equal(t, "A long name.txt", directory.Entries[0].Name)
	assert.Equal(t, "ALONGN~1.TXT", directory.Entries[0].ShortName.String())
	assert.Equal(t, "kernel.elf", directory.Entries[1].Name)
	assert.Equal(t, "README", directory.Entries[2].Name)

	kernel := directory.Entries[1]
	assert.EqualValues(t, 5, kernel.FirstCluster)
	assert.EqualValues(t, 1234, kernel.Size)
	assert.False(t, kernel.IsDir())
	assert.True(t, kernel.CreatedAt.Equal(direntTimestamp))
	assert.True(t, kernel.LastModified.Equal(direntTimestamp.Add(-time.Second)))
	assert.True(t, kernel.LastAccessed.Equal(time.Date(2024, time.February, 29, 0, 0, 0, 0, time.UTC)))
}

func TestDecodeDirectoryIncompleteLongName(t *testing.T) {
	dirents, err := fat.LongNameDirents("A long name.txt", 0xd4)
	require.NoError(t, err)

	// Only the second half of the name survives.
	data := dirents[1].Encode()
	data = append(data, encodeFile(t, "", fat.ShortFileName{Stem: "LONGFI~1", Extension: "TXT"}, 0)...)

	directory, err := fat.DecodeDirectory(data, time.UTC)
	require.NoError(t, err)
	require.Len(t, directory.Entries, 1)
	assert.Equal(t, "LONGFI~1.TXT", directory.Entries[0].Name)
}

type attrModeTest struct {
	Name  string
	Flags uint8
	Mode  os.FileMode
}

var attrModeTests = [...]attrModeTest{
	{Name: "file", Flags: fat.AttrArchived, Mode: 0o777},
	{Name: "read-only file", Flags: fat.AttrReadOnly | fat.AttrArchived, Mode: 0o555},
	{Name: "directory", Flags: fat.AttrDirectory, Mode: os.ModeDir | 0o777},
	{Name: "device", Flags: fat.AttrDevice, Mode: os.ModeDevice | os.ModeCharDevice | 0o777},
}

func TestAttrFlagsToFileMode(t *testing.T) {
	for _, test := range attrModeTests {
		t.Run(test.Name, func(t *testing.T) {
			assert.Equal(t, test.Mode, fat.AttrFlagsToFileMode(test.Flags))
		})
	}
}

func TestFileModeToAttrFlags(t *testing.T) {
	assert.EqualValues(t, fat.AttrArchived, fat.FileModeToAttrFlags(0o644))
	assert.EqualValues(t, fat.AttrArchived|fat.AttrReadOnly, fat.FileModeToAttrFlags(0o444))
	assert.EqualValues(t, fat.AttrDirectory, fat.FileModeToAttrFlags(os.ModeDir|0o755))
}
