package fat_test

import (
	"bytes"
	"encoding/binary"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/theos-os/imager"
	c "github.com/theos-os/imager/file_systems/common"
	"github.com/theos-os/imager/file_systems/fat"
	it "github.com/theos-os/imager/testing"
)

func checkSampleVolume(t *testing.T, volume *fat.Volume) {
	assert.Equal(t, "THEOS", volume.Label)

	root := volume.Root
	require.Len(t, root.Children, 4)
	assert.Equal(t, "EFI", root.Children[0].Name)
	assert.True(t, root.Children[0].IsDir())
	assert.Equal(t, "config", root.Children[1].Name)
	assert.True(t, root.Children[1].IsDir())
	assert.Empty(t, root.Children[1].Children)

	empty := root.Children[2]
	assert.Equal(t, "empty", empty.Name)
	assert.EqualValues(t, 0, empty.FirstCluster)
	assert.Empty(t, empty.Data)

	kernel := root.Children[3]
	assert.Equal(t, "kernel.elf", kernel.Name)
	assert.Equal(t, "KERNEL.ELF", kernel.ShortName.String())
	assert.Equal(t, []byte("\x7fELF"), kernel.Data)
	assert.EqualValues(t, fat.AttrArchived, kernel.AttributeFlags)
	assert.True(t, kernel.CreatedAt.Equal(buildTimestamp))

	boot := root.Children[0].Children[0]
	assert.Equal(t, "BOOT", boot.Name)
	require.Len(t, boot.Children, 1)
	assert.Equal(t, "BOOTX64.EFI", boot.Children[0].Name)
	assert.Equal(t, []byte(sampleFiles["EFI/BOOT/BOOTX64.EFI"]), boot.Children[0].Data)
}

func TestReadRoundTripFat12(t *testing.T) {
	result := buildSample(t, it.Fat1216BootSector(it.Floppy144, "FAT12   "), sampleFiles, 3)

	volume, err := fat.Read(it.LoadImage(t, result.Image, 512, 2880))
	require.NoError(t, err)
	assert.Equal(t, result.Geometry, volume.Geometry)
	assert.Nil(t, volume.FSInfo)
	checkSampleVolume(t, volume)
}

func TestReadRoundTripFat16(t *testing.T) {
	result := buildSample(t, it.Fat1216BootSector(fat16Template, "FAT16   "), sampleFiles, 3)

	volume, err := fat.Read(bytes.NewReader(result.Image))
	require.NoError(t, err)
	assert.Equal(t, c.Fat16, volume.Geometry.Version)
	checkSampleVolume(t, volume)
}

func TestReadRoundTripFat32(t *testing.T) {
	result := buildSample(t, it.Fat32BootSector(fat32Template, 1, 6), sampleFiles, 3)

	volume, err := fat.Read(bytes.NewReader(result.Image))
	require.NoError(t, err)
	assert.Equal(t, c.Fat32, volume.Geometry.Version)
	require.NotNil(t, volume.FSInfo)
	assert.EqualValues(t, 65525-17, volume.FSInfo.FreeCount)
	assert.EqualValues(t, 2, volume.Root.FirstCluster)
	checkSampleVolume(t, volume)
}

func TestReadWithoutLabelUsesBootSector(t *testing.T) {
	result, err := buildWith(t, it.Fat1216BootSector(it.Floppy144, "FAT12   "), sampleFiles, 1, "")
	require.NoError(t, err)

	volume, err := fat.Read(bytes.NewReader(result.Image))
	require.NoError(t, err)
	assert.Equal(t, "NO NAME", volume.Label)
	assert.Len(t, volume.Root.Children, 4)
}

func TestReadRejectsExfat(t *testing.T) {
	_, err := fat.Read(bytes.NewReader(it.ExfatBootSector(9, 3, 1)))
	assert.ErrorIs(t, err, imager.ErrUnsupportedFileSystem)
}

func TestReadTruncatedImage(t *testing.T) {
	result := buildSample(t, it.Fat1216BootSector(it.Floppy144, "FAT12   "), sampleFiles, 1)

	_, err := fat.Read(bytes.NewReader(result.Image[:64*512]))
	assert.ErrorIs(t, err, imager.ErrFileSystemCorrupted)
}

func TestReadDetectsMediaMismatch(t *testing.T) {
	result := buildSample(t, it.Fat1216BootSector(it.Floppy144, "FAT12   "), sampleFiles, 1)
	result.Image[512] = 0xF8

	_, err := fat.Read(bytes.NewReader(result.Image))
	var fieldErr *imager.FieldError
	require.ErrorAs(t, err, &fieldErr)
	assert.Equal(t, "MediaDescriptor", fieldErr.Field)
}

func TestReadDetectsBrokenChain(t *testing.T) {
	result := buildSample(t, it.Fat1216BootSector(it.Floppy144, "FAT12   "), sampleFiles, 1)
	// Free the second cluster of BOOTX64.EFI (clusters 4-15) in the first FAT.
	// Cluster 5 is odd, so it's the upper 12 bits of bytes 7-8.
	entry := binary.LittleEndian.Uint16(result.Image[512+7:])
	binary.LittleEndian.PutUint16(result.Image[512+7:], entry&0x000F)

	_, err := fat.Read(bytes.NewReader(result.Image))
	assert.ErrorIs(t, err, imager.ErrFileSystemCorrupted)
}

func TestReadDetectsFat32BackupMismatch(t *testing.T) {
	result := buildSample(t, it.Fat32BootSector(fat32Template, 1, 6), sampleFiles, 1)
	result.Image[6*512+100] ^= 0xFF

	_, err := fat.Read(bytes.NewReader(result.Image))
	assert.ErrorIs(t, err, imager.ErrFileSystemCorrupted)
}

func TestReadDetectsBadFSInfo(t *testing.T) {
	result := buildSample(t, it.Fat32BootSector(fat32Template, 1, 6), sampleFiles, 1)
	result.Image[512] = 0

	_, err := fat.Read(bytes.NewReader(result.Image))
	var fieldErr *imager.FieldError
	require.ErrorAs(t, err, &fieldErr)
	assert.Equal(t, "LeadSignature", fieldErr.Field)
}

func TestDescribe(t *testing.T) {
	result := buildSample(t, it.Fat1216BootSector(it.Floppy144, "FAT12   "), sampleFiles, 1)
	volume, err := fat.Read(bytes.NewReader(result.Image))
	require.NoError(t, err)

	output := &strings.Builder{}
	require.NoError(t, volume.Describe(output))
	text := output.String()

	assert.Contains(t, text, "FAT12")
	assert.Contains(t, text, `"THEOS"`)
	assert.Contains(t, text, `"MSWIN4.1"`)
	assert.Contains(t, text, "1.4 MiB (2880 sectors)")
	assert.Contains(t, text, "224 entries")
	assert.Contains(t, text, "/EFI/BOOT/BOOTX64.EFI")
	assert.Contains(t, text, "KERNEL.ELF")
	assert.Contains(t, text, "/kernel.elf")
}
