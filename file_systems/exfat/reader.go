package exfat

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/theos-os/imager"
	c "github.com/theos-os/imager/file_systems/common"
	"github.com/theos-os/imager/utilities/volumeid"
)

// Entry is a file or directory decoded from an image.
type Entry struct {
	Name         string
	Attributes   uint16
	FirstCluster c.ClusterID
	// Size is the DataLength of the stream. For directories this is the size
	// of all their clusters.
	Size         uint64
	LastModified time.Time
	Data         []byte
	Children     []*Entry
}

func (e *Entry) IsDir() bool {
	return e.Attributes&AttrDirectory != 0
}

// Volume is everything Read found in an image.
type Volume struct {
	BootSector BootSector
	Label      string
	Guid       uuid.UUID
	HasGuid    bool
	Bitmaps    []AllocationBitmapDirent
	Upcase     *Upcase
	Root       *Entry
}

type volumeReader struct {
	image      []byte
	bootSector *BootSector
	table      *FileAllocationTable
	upcase     *Upcase
}

// Read decodes an exFAT image: the boot region and its backup, the first FAT,
// and every directory reachable from the root.
func Read(stream io.ReadSeeker) (*Volume, error) {
	_, err := stream.Seek(0, io.SeekStart)
	if err != nil {
		return nil, imager.ErrIO.Wrap(err)
	}
	image, err := io.ReadAll(stream)
	if err != nil {
		return nil, imager.ErrIO.Wrap(err)
	}

	bootSector, err := DecodeBootSector(image)
	if err != nil {
		return nil, err
	}

	bytesPerSector := bootSector.BytesPerSector()
	regionSize := int(BootRegionSectors * bytesPerSector)
	volumeSize := bootSector.VolumeLength * uint64(bytesPerSector)
	if uint64(len(image)) < volumeSize || len(image) < 2*regionSize {
		message := fmt.Sprintf("image is %d bytes, volume needs %d", len(image), volumeSize)
		return nil, imager.ErrFileSystemCorrupted.WithMessage(message)
	}

	err = VerifyBootRegion(image[:regionSize], bytesPerSector)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(image[:regionSize], image[regionSize:2*regionSize]) {
		return nil, imager.ErrFileSystemCorrupted.WithMessage("backup boot region differs")
	}

	fatStart := uint64(bootSector.FatOffset) * uint64(bytesPerSector)
	table, err := DecodeFileAllocationTable(image[fatStart:], bootSector.ClusterCount)
	if err != nil {
		return nil, err
	}

	reader := volumeReader{image: image, bootSector: bootSector, table: table}
	volume := &Volume{BootSector: *bootSector}

	rootData, err := reader.readChain(c.ClusterID(bootSector.FirstClusterOfRootDirectory), 0, false)
	if err != nil {
		return nil, err
	}
	root := &Entry{
		Attributes:   AttrDirectory,
		FirstCluster: c.ClusterID(bootSector.FirstClusterOfRootDirectory),
		Size:         uint64(len(rootData)),
	}

	err = reader.readRootEntries(rootData, volume)
	if err != nil {
		return nil, err
	}
	if reader.upcase == nil {
		return nil, imager.ErrFileSystemCorrupted.WithMessage("root directory has no up-case table")
	}
	volume.Upcase = reader.upcase

	root.Children, err = reader.readDirectory(rootData)
	if err != nil {
		return nil, err
	}
	volume.Root = root
	return volume, nil
}

// readChain returns the data of the cluster chain starting at `first`. If
// `length` is nonzero the data is truncated to it. Chains flagged NoFatChain
// are contiguous and not recorded in the FAT.
func (r *volumeReader) readChain(first c.ClusterID, length uint64, noFatChain bool) ([]byte, error) {
	bytesPerCluster := uint64(r.bootSector.BytesPerCluster())

	var clusters []c.ClusterID
	if noFatChain {
		count := c.CeilDiv(length, bytesPerCluster)
		for i := uint64(0); i < count; i++ {
			clusters = append(clusters, first+c.ClusterID(i))
		}
	} else {
		var err error
		clusters, err = r.table.Chain(first)
		if err != nil {
			return nil, err
		}
	}

	data := make([]byte, 0, uint64(len(clusters))*bytesPerCluster)
	for _, cluster := range clusters {
		if uint32(cluster-c.FirstDataCluster) >= r.bootSector.ClusterCount {
			return nil, imager.NewFieldError(
				imager.ErrFileSystemCorrupted, "Stream", "FirstCluster", uint64(first))
		}
		offset := uint64(r.bootSector.ClusterOffset(cluster))
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

// readRootEntries decodes the critical primary entries that only exist in the
// root directory. The up-case table is needed before any file entry set can be
// verified.
func (r *volumeReader) readRootEntries(data []byte, volume *Volume) error {
	for offset := 0; offset+DirentSize <= len(data); offset += DirentSize {
		entryType := DecodeEntryType(data[offset])
		if entryType.IsEndOfDirectory() {
			break
		}
		if !entryType.InUse {
			continue
		}

		dirent, err := DecodeDirent(data[offset:])
		if err != nil {
			return err
		}

		switch entry := dirent.(type) {
		case *VolumeLabelDirent:
			volume.Label = entry.Label()
		case *AllocationBitmapDirent:
			volume.Bitmaps = append(volume.Bitmaps, *entry)
		case *VolumeGuidDirent:
			if SetChecksum(data[offset:offset+DirentSize]) != entry.SetChecksum {
				return imager.NewFieldError(
					imager.ErrFileSystemCorrupted, "VolumeGuid", "SetChecksum", uint64(entry.SetChecksum))
			}
			volume.Guid = volumeid.FromMixedEndian(entry.VolumeGuid)
			volume.HasGuid = true
		case *UpcaseTableDirent:
			table, err := r.readChain(c.ClusterID(entry.FirstCluster), entry.DataLength, false)
			if err != nil {
				return err
			}
			if TableChecksum(table) != entry.TableChecksum {
				return imager.NewFieldError(
					imager.ErrFileSystemCorrupted, "UpcaseTable", "TableChecksum", uint64(entry.TableChecksum))
			}
			r.upcase, err = DecodeUpcase(table)
			if err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *volumeReader) readDirectory(data []byte) ([]*Entry, error) {
	entries := []*Entry{}

	for offset := 0; offset+DirentSize <= len(data); {
		entryType := DecodeEntryType(data[offset])
		if entryType.IsEndOfDirectory() {
			break
		}
		if !entryType.InUse {
			offset += DirentSize
			continue
		}

		code, err := entryType.TypeCode()
		if err != nil && !entryType.Benign {
			return nil, err
		}
		if err != nil || code != File {
			offset += DirentSize
			continue
		}

		set, err := DecodeFileEntrySet(data[offset:], r.upcase)
		if err != nil {
			return nil, err
		}
		offset += (1 + int(set.File.SecondaryCount)) * DirentSize

		entry, err := r.readEntry(set)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (r *volumeReader) readEntry(set *FileEntrySet) (*Entry, error) {
	entry := &Entry{
		Name:         set.Name(),
		Attributes:   set.File.FileAttributes,
		FirstCluster: c.ClusterID(set.Stream.FirstCluster),
		Size:         set.Stream.DataLength,
		LastModified: set.File.LastModified().Time(),
	}
	if set.Stream.FirstCluster == 0 {
		return entry, nil
	}

	flags := DecodeGeneralFlags(set.Stream.GeneralSecondaryFlags)
	data, err := r.readChain(entry.FirstCluster, set.Stream.DataLength, flags.NoFatChain)
	if err != nil {
		return nil, err
	}

	if !entry.IsDir() {
		if set.Stream.ValidDataLength > uint64(len(data)) {
			return nil, imager.NewFieldError(
				imager.ErrFileSystemCorrupted,
				"StreamExtension",
				"ValidDataLength",
				set.Stream.ValidDataLength)
		}
		entry.Data = data[:set.Stream.ValidDataLength]
		return entry, nil
	}

	entry.Children, err = r.readDirectory(data)
	if err != nil {
		return nil, imager.ErrFileSystemCorrupted.WithMessage(entry.Name).Wrap(err)
	}
	return entry, nil
}

// Describe writes a human-readable summary of the volume: the boot sector
// fields, then the directory tree.
func (v *Volume) Describe(w io.Writer) error {
	bs := &v.BootSector
	bytesPerSector := uint64(bs.BytesPerSector())

	lines := []string{
		fmt.Sprintf("File system:          exFAT %d.%02d", bs.FileSystemRevision>>8, bs.FileSystemRevision&0xff),
		fmt.Sprintf("Volume label:         %q", v.Label),
		fmt.Sprintf("Volume serial:        %08X", bs.VolumeSerialNumber),
		fmt.Sprintf("Volume size:          %s (%d sectors)", humanize.IBytes(bs.VolumeLength*bytesPerSector), bs.VolumeLength),
		fmt.Sprintf("Bytes per sector:     %d", bytesPerSector),
		fmt.Sprintf("Cluster size:         %s", humanize.IBytes(uint64(bs.BytesPerCluster()))),
		fmt.Sprintf("FAT offset/length:    %d/%d sectors, %d FAT(s)", bs.FatOffset, bs.FatLength, bs.NumberOfFats),
		fmt.Sprintf("Cluster heap:         sector %d, %d clusters", bs.ClusterHeapOffset, bs.ClusterCount),
		fmt.Sprintf("Root directory:       cluster %d", bs.FirstClusterOfRootDirectory),
		fmt.Sprintf("In use:               %d%%", bs.PercentInUse),
	}
	if v.HasGuid {
		lines = append(lines, fmt.Sprintf("Volume GUID:          %s", v.Guid))
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
			"%s %10s  cluster %-8d %s  %s\n",
			kind,
			humanize.IBytes(entry.Size),
			entry.FirstCluster,
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
