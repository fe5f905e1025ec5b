package builder_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/theos-os/imager"
	"github.com/theos-os/imager/builder"
	c "github.com/theos-os/imager/file_systems/common"
	it "github.com/theos-os/imager/testing"
)

func buildFloppy(t *testing.T) (afero.Fs, *builder.Result) {
	fs := newWorkspace(t, it.Fat1216BootSector(it.Floppy144, "FAT12   "))
	require.NoError(t, fs.MkdirAll("/out", 0o755))
	result, err := builder.Build(sampleOptions(fs))
	require.NoError(t, err)
	return fs, result
}

func TestWriteImage(t *testing.T) {
	fs, result := buildFloppy(t)

	require.NoError(t, builder.WriteImage(fs, "/out/floppy.img", result))

	written, err := afero.ReadFile(fs, "/out/floppy.img")
	require.NoError(t, err)
	assert.True(t, bytes.Equal(result.Image, written), "written image differs")

	entries, err := afero.ReadDir(fs, "/out")
	require.NoError(t, err)
	require.Len(t, entries, 1, "temporary file left behind")
	assert.Equal(t, "floppy.img", entries[0].Name())
}

func TestWriteImageReplacesExisting(t *testing.T) {
	fs, result := buildFloppy(t)
	require.NoError(t, afero.WriteFile(fs, "/out/floppy.img", []byte("old"), 0o644))

	require.NoError(t, builder.WriteImage(fs, "/out/floppy.img", result))

	info, err := fs.Stat("/out/floppy.img")
	require.NoError(t, err)
	assert.EqualValues(t, len(result.Image), info.Size())
}

func TestWriteImageReadOnly(t *testing.T) {
	fs, result := buildFloppy(t)
	readOnly := afero.NewReadOnlyFs(fs)

	err := builder.WriteImage(readOnly, "/out/floppy.img", result)
	assert.ErrorIs(t, err, imager.ErrIO)

	exists, err := afero.Exists(fs, "/out/floppy.img")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestCompressedImageRoundTrip(t *testing.T) {
	fs, result := buildFloppy(t)

	require.NoError(t, builder.WriteCompressedImage(fs, "/out/floppy.img.gz", result))
	info, err := fs.Stat("/out/floppy.img.gz")
	require.NoError(t, err)
	assert.Less(t, info.Size(), int64(len(result.Image))/10)

	stream, err := builder.LoadImage(fs, "/out/floppy.img.gz")
	require.NoError(t, err)

	description := bytes.Buffer{}
	fsType, err := builder.Inspect(stream, &description)
	require.NoError(t, err)
	assert.Equal(t, c.Fat12, fsType)
	assert.Contains(t, description.String(), "FAT12")
	assert.Contains(t, description.String(), `"THEOS"`)
	assert.Contains(t, description.String(), "/EFI/BOOT/BOOTX64.EFI")
	assert.Contains(t, description.String(), "/kernel.elf")
}

func TestInspectExfat(t *testing.T) {
	fs := newWorkspace(t, it.ExfatBootSector(9, 3, 1))
	result, err := builder.Build(sampleOptions(fs))
	require.NoError(t, err)
	require.NoError(t, builder.WriteImage(fs, "/exfat.img", result))

	stream, err := builder.LoadImage(fs, "/exfat.img")
	require.NoError(t, err)

	description := bytes.Buffer{}
	fsType, err := builder.Inspect(stream, &description)
	require.NoError(t, err)
	assert.Equal(t, c.Exfat, fsType)
	assert.Contains(t, description.String(), "exFAT 1.00")
	assert.Contains(t, description.String(), "/config")
}

func TestInspectErrors(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/tiny.img", []byte{0xEB, 0x3C, 0x90}, 0o644))
	require.NoError(t, afero.WriteFile(fs, "/zeros.img", make([]byte, 4096), 0o644))

	_, err := builder.LoadImage(fs, "/missing.img")
	assert.ErrorIs(t, err, imager.ErrIO)

	stream, err := builder.LoadImage(fs, "/tiny.img")
	require.NoError(t, err)
	_, err = builder.Inspect(stream, &bytes.Buffer{})
	assert.ErrorIs(t, err, imager.ErrIdentification)

	stream, err = builder.LoadImage(fs, "/zeros.img")
	require.NoError(t, err)
	_, err = builder.Inspect(stream, &bytes.Buffer{})
	assert.ErrorIs(t, err, imager.ErrIdentification)
}

func TestWriteManifest(t *testing.T) {
	placements := []c.Placement{
		{Path: "/", FirstCluster: 2, Clusters: 1, Size: 4096, IsDir: true},
		{Path: "/kernel.elf", ShortName: "KERNEL.ELF", FirstCluster: 3, Clusters: 2, Size: 5000},
	}

	output := bytes.Buffer{}
	require.NoError(t, builder.WriteManifest(&output, placements))

	lines := strings.Split(strings.TrimSpace(output.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "path,short_name,first_cluster,clusters,size,directory", lines[0])
	assert.Equal(t, "/,,2,1,4096,true", lines[1])
	assert.Equal(t, "/kernel.elf,KERNEL.ELF,3,2,5000,false", lines[2])

	rows, err := builder.ReadManifest(&output)
	require.NoError(t, err)
	assert.Equal(t, builder.NewManifest(placements), rows)
}

func TestManifestOfBuiltImage(t *testing.T) {
	_, result := buildFloppy(t)

	output := bytes.Buffer{}
	require.NoError(t, builder.WriteManifest(&output, result.Placements))
	rows, err := builder.ReadManifest(&output)
	require.NoError(t, err)
	require.Len(t, rows, len(result.Placements))

	byPath := map[string]*builder.ManifestRow{}
	for _, row := range rows {
		byPath[row.Path] = row
	}
	require.Contains(t, byPath, "/kernel.elf")
	assert.Equal(t, "KERNEL.ELF", byPath["/kernel.elf"].ShortName)
	assert.EqualValues(t, 4, byPath["/kernel.elf"].Size)
	assert.False(t, byPath["/kernel.elf"].Directory)
	assert.True(t, byPath["/EFI"].Directory)
}

func TestWriteManifestFile(t *testing.T) {
	fs, result := buildFloppy(t)

	require.NoError(t, builder.WriteManifestFile(fs, "/out/floppy.csv", result.Placements))

	file, err := fs.Open("/out/floppy.csv")
	require.NoError(t, err)
	defer file.Close()
	rows, err := builder.ReadManifest(file)
	require.NoError(t, err)
	assert.Equal(t, builder.NewManifest(result.Placements), rows)

	entries, err := afero.ReadDir(fs, "/out")
	require.NoError(t, err)
	require.Len(t, entries, 1, "temporary file left behind")
}

func TestWriteManifestFileReadOnly(t *testing.T) {
	fs, result := buildFloppy(t)

	err := builder.WriteManifestFile(afero.NewReadOnlyFs(fs), "/out/floppy.csv", result.Placements)
	assert.ErrorIs(t, err, imager.ErrIO)

	exists, err := afero.Exists(fs, "/out/floppy.csv")
	require.NoError(t, err)
	assert.False(t, exists)
}
