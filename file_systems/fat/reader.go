package fat

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/theos-os/imager"
	c "github.com/theos-os/imager/file_systems/common"
)

// Entry is a file or directory decoded from an image.
type Entry struct {
	Dirent
	Data     []byte
	Children []*Entry
}

// Volume is everything Read found in an image.
type Volume struct {
	BootSector BootSector
	Geometry   Geometry
	// Label comes from the root directory's label entry, falling back to the
	// boot sector.
	Label  string
	FSInfo *FSInfo
	Root   *Entry
}

type volumeReader struct {
	image    []byte
	geometry Geometry
	table    *Table
}

// Read decodes a FAT12, FAT16, or FAT32 image: the boot sector, the first FAT,
// FSInfo and the backup boot sector on FAT32, and every directory reachable
// from the root. Timestamps are interpreted as UTC.
func Read(stream io.ReadSeeker) (*Volume, error) {
	_, err := stream.Seek(0, io.SeekStart)
	if err != nil {
		return nil, imager.ErrIO.Wrap(err)
	}
	image, err := io.ReadAll(stream)
	if err != nil {
		return nil, imager.ErrIO.Wrap(err)
	}

	bootSector, err := NewBootSector(image)
	if err != nil {
		return nil, err
	}
	geometry, err := GeometryOf(bootSector)
	if err != nil {
		return nil, err
	}

	bytesPerSector := uint64(geometry.BytesPerSector)
	volumeSize := uint64(geometry.TotalSectors) * bytesPerSector
	if uint64(len(image)) < volumeSize {
		message := fmt.Sprintf("image is %d bytes, volume needs %d", len(image), volumeSize)
		return nil, imager.ErrFileSystemCorrupted.WithMessage(message)
	}

	fatStart := uint64(geometry.ReservedSectors) * bytesPerSector
	table, err := DecodeTable(image[fatStart:], geometry.Version, geometry.ClusterCount)
	if err != nil {
		return nil, err
	}
	if table.Media() != bootSector.Parameters().Media {
		return nil, imager.NewFieldError(
			imager.ErrFileSystemCorrupted, "FileAllocationTable", "MediaDescriptor", uint64(table.Media()))
	}

	volume := &Volume{
		BootSector: bootSector,
		Geometry:   geometry,
		Label:      bootSector.Extended().Label(),
	}
	reader := volumeReader{image: image, geometry: geometry, table: table}

	var rootData []byte
	root := &Entry{Dirent: Dirent{AttributeFlags: AttrDirectory}}

	if fat32, ok := bootSector.(*Fat32BootSector); ok {
		volume.FSInfo, err = reader.readFat32Reserved(fat32)
		if err != nil {
			return nil, err
		}

		root.FirstCluster = c.ClusterID(fat32.RootCluster)
		rootData, err = reader.readChain(root.FirstCluster, 0)
		if err != nil {
			return nil, err
		}
	} else {
		start := uint64(geometry.FirstRootDirSector()) * bytesPerSector
		rootData = image[start : start+uint64(geometry.RootDirSectors)*bytesPerSector]
	}

	directory, err := DecodeDirectory(rootData, time.UTC)
	if err != nil {
		return nil, err
	}
	if directory.Label != "" {
		volume.Label = directory.Label
	}

	root.Children, err = reader.readEntries(directory.Entries)
	if err != nil {
		return nil, err
	}
	volume.Root = root
	return volume, nil
}

func (r *volumeReader) sector(index uint32) []byte {
	bytesPerSector := uint64(r.geometry.BytesPerSector)
	start := uint64(index) * bytesPerSector
	return r.image[start : start+bytesPerSector]
}

// readFat32Reserved checks the backup boot sector and decodes FSInfo.
func (r *volumeReader) readFat32Reserved(bootSector *Fat32BootSector) (*FSInfo, error) {
	if uint32(bootSector.FSInfoSector) >= r.geometry.ReservedSectors {
		return nil, imager.NewFieldError(
			imager.ErrFileSystemCorrupted, "Fat32Parameters", "FSInfoSector", uint64(bootSector.FSInfoSector))
	}
	info, err := DecodeFSInfo(r.sector(uint32(bootSector.FSInfoSector)))
	if err != nil {
		return nil, err
	}

	backup := uint32(bootSector.BackupBootSector)
	if backup != 0 {
		if backup >= r.geometry.ReservedSectors {
			return nil, imager.NewFieldError(
				imager.ErrFileSystemCorrupted, "Fat32Parameters", "BackupBootSector", uint64(backup))
		}
		if !bytes.Equal(r.sector(0), r.sector(backup)) {
			return nil, imager.ErrFileSystemCorrupted.WithMessage("backup boot sector differs")
		}
	}
	return info, nil
}

// readChain returns the data of the cluster chain starting at `first`. If
// `length` is nonzero the data is truncated to it.
func (r *volumeReader) readChain(first c.ClusterID, length uint64) ([]byte, error) {
	clusters, err := r.table.Chain(first)
	if err != nil {
		return nil, err
	}

	bytesPerCluster := uint64(r.geometry.BytesPerCluster())
	data := make([]byte, 0, uint64(len(clusters))*bytesPerCluster)
	for _, cluster := range clusters {
		offset := uint64(r.geometry.ClusterOffset(cluster))
		data = append(data, r.image[offset:offset+bytesPerCluster]...)
	}

	if length != 0 {
		if length > uint64(len(data)) {
			message := fmt.Sprintf(
				"chain at cluster %d is %d bytes, expected at least %d", first, len(data), length)
			return nil, imager.ErrFileSystemCorrupted.WithMessage(message)
		}
		data = data[:length]
	}
	return data, nil
}

func (r *volumeReader) readEntries(dirents []Dirent) ([]*Entry, error) {
	entries := make([]*Entry, 0, len(dirents))
	for _, dirent := range dirents {
		entry := &Entry{Dirent: dirent}
		entries = append(entries, entry)
		if dirent.FirstCluster == 0 {
			if dirent.Size != 0 {
				return nil, imager.NewFieldError(
					imager.ErrFileSystemCorrupted, "Dirent", "FileSize", uint64(dirent.Size))
			}
			continue
		}

		if !dirent.IsDir() {
			data, err := r.readChain(dirent.FirstCluster, uint64(dirent.Size))
			if err != nil {
				return nil, imager.ErrFileSystemCorrupted.WithMessage(dirent.Name).Wrap(err)
			}
			entry.Data = data
			continue
		}

		data, err := r.readChain(dirent.FirstCluster, 0)
		if err != nil {
			return nil, imager.ErrFileSystemCorrupted.WithMessage(dirent.Name).Wrap(err)
		}
		directory, err := DecodeDirectory(data, time.UTC)
		if err != nil {
			return nil, err
		}
		entry.Children, err = r.readEntries(directory.Entries)
		if err != nil {
			return nil, err
		}
	}
	return entries, nil
}

// Describe writes a human-readable summary of the volume: the boot sector
// fields, then the directory tree.
func (v *Volume) Describe(w io.Writer) error {
	g := v.Geometry
	bpb := v.BootSector.Parameters()
	totalBytes := uint64(g.TotalSectors) * uint64(g.BytesPerSector)

	lines := []string{
		fmt.Sprintf("File system:          %s", g.Version),
		fmt.Sprintf("OEM name:             %q", strings.TrimRight(string(bpb.OEMName[:]), " \x00")),
		fmt.Sprintf("Volume label:         %q", v.Label),
		fmt.Sprintf("Volume ID:            %08X", v.BootSector.Extended().VolumeID),
		fmt.Sprintf("Volume size:          %s (%d sectors)", humanize.IBytes(totalBytes), g.TotalSectors),
		fmt.Sprintf("Bytes per sector:     %d", g.BytesPerSector),
		fmt.Sprintf("Cluster size:         %s", humanize.IBytes(uint64(g.BytesPerCluster()))),
		fmt.Sprintf("Media descriptor:     %#02x", bpb.Media),
		fmt.Sprintf("Reserved sectors:     %d", g.ReservedSectors),
		fmt.Sprintf("FATs:                 %d of %d sectors", g.NumFATs, g.SectorsPerFAT),
		fmt.Sprintf("Data region:          sector %d, %d clusters", g.FirstDataSector, g.ClusterCount),
	}
	if fat32, ok := v.BootSector.(*Fat32BootSector); ok {
		lines = append(lines, fmt.Sprintf("Root directory:       cluster %d", fat32.RootCluster))
	} else {
		lines = append(lines, fmt.Sprintf("Root directory:       %d entries", bpb.RootEntryCount))
	}
	if v.FSInfo != nil {
		lines = append(lines, fmt.Sprintf(
			"Free clusters:        %d, next free %d", v.FSInfo.FreeCount, v.FSInfo.NextFree))
	}

	_, err := io.WriteString(w, strings.Join(lines, "\n")+"\n")
	if err != nil {
		return imager.ErrIO.Wrap(err)
	}
	return describeEntries(w, v.Root.Children, "/")
}

func describeEntries(w io.Writer, entries []*Entry, prefix string) error {
	for _, entry := range entries {
		kind := "file"
		if entry.IsDir() {
			kind = "dir "
		}
		_, err := fmt.Fprintf(
			w,
			"%s %10s  cluster %-8d %-12s %s  %s\n",
			kind,
			humanize.IBytes(uint64(entry.Size)),
			entry.FirstCluster,
			entry.ShortName,
			entry.LastModified.Format(time.RFC3339),
			prefix+entry.Name)
		if err != nil {
			return imager.ErrIO.Wrap(err)
		}

		if entry.IsDir() {
			err = describeEntries(w, entry.Children, prefix+entry.Name+"/")
			if err != nil {
				return err
			}
		}
	}
	return nil
}
