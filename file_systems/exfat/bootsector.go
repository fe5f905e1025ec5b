package exfat

import (
	"bytes"

	"github.com/hashicorp/go-multierror"
	"github.com/theos-os/imager"
	c "github.com/theos-os/imager/file_systems/common"
)

// BootSectorSize is the size of the main boot sector structure. Sectors larger
// than this are zero-padded.
const BootSectorSize = 512

// BootSignature is the value of the last two bytes of the boot sector.
const BootSignature = 0xAA55

// FileSystemName is the signature in bytes 3-10 of every exFAT boot sector.
var FileSystemName = [8]byte{'E', 'X', 'F', 'A', 'T', ' ', ' ', ' '}

// Revision 1.00 is the only one defined.
const fileSystemRevision = 0x0100

// BootSector is the on-disk layout of the main boot sector.
type BootSector struct {
	JumpBoot                    [3]byte
	FileSystemName              [8]byte
	MustBeZero                  [53]byte
	PartitionOffset             uint64
	VolumeLength                uint64
	FatOffset                   uint32
	FatLength                   uint32
	ClusterHeapOffset           uint32
	ClusterCount                uint32
	FirstClusterOfRootDirectory uint32
	VolumeSerialNumber          uint32
	FileSystemRevision          uint16
	VolumeFlags                 uint16
	BytesPerSectorShift         uint8
	SectorsPerClusterShift      uint8
	NumberOfFats                uint8
	DriveSelect                 uint8
	PercentInUse                uint8
	Reserved                    [7]byte
	BootCode                    [390]byte
	BootSignature               uint16
}

// DecodeBootSector deserializes and validates a boot sector. Only the fields a
// template must supply are checked; see Validate.
func DecodeBootSector(data []byte) (*BootSector, error) {
	bootSector := &BootSector{}
	err := c.DecodeRecord(data, bootSector)
	if err != nil {
		return nil, err
	}

	err = bootSector.Validate()
	if err != nil {
		return nil, err
	}
	return bootSector, nil
}

// Validate checks the fields that describe the geometry of the volume. Every
// problem is reported, not just the first one.
func (b *BootSector) Validate() error {
	var result *multierror.Error
	invalid := func(field string, value uint64) {
		result = multierror.Append(
			result,
			imager.NewFieldError(imager.ErrFileSystemCorrupted, "BootSector", field, value))
	}

	if b.FileSystemName != FileSystemName {
		invalid("FileSystemName", uint64(b.FileSystemName[0]))
	}
	if !bytes.Equal(b.MustBeZero[:], make([]byte, len(b.MustBeZero))) {
		invalid("MustBeZero", uint64(firstNonZero(b.MustBeZero[:])))
	}
	if b.BytesPerSectorShift < 9 || b.BytesPerSectorShift > 12 {
		invalid("BytesPerSectorShift", uint64(b.BytesPerSectorShift))
	}
	// Clusters can't be larger than 32MiB.
	if uint(b.BytesPerSectorShift)+uint(b.SectorsPerClusterShift) > 25 {
		invalid("SectorsPerClusterShift", uint64(b.SectorsPerClusterShift))
	}
	if b.NumberOfFats != 1 && b.NumberOfFats != 2 {
		invalid("NumberOfFats", uint64(b.NumberOfFats))
	}
	if b.FatOffset < 24 {
		invalid("FatOffset", uint64(b.FatOffset))
	}
	if b.BootSignature != BootSignature {
		invalid("BootSignature", uint64(b.BootSignature))
	}
	return result.ErrorOrNil()
}

func firstNonZero(data []byte) byte {
	for _, b := range data {
		if b != 0 {
			return b
		}
	}
	return 0
}

// Encode serializes the boot sector into a buffer of `BytesPerSector()` bytes.
func (b *BootSector) Encode() []byte {
	return c.MustEncodeRecord(b, int(b.BytesPerSector()))
}

func (b *BootSector) BytesPerSector() uint32 {
	return 1 << b.BytesPerSectorShift
}

func (b *BootSector) SectorsPerCluster() uint32 {
	return 1 << b.SectorsPerClusterShift
}

func (b *BootSector) BytesPerCluster() uint32 {
	return b.BytesPerSector() * b.SectorsPerCluster()
}

// ClusterOffset gives the byte offset of `cluster` from the beginning of the
// volume.
func (b *BootSector) ClusterOffset(cluster c.ClusterID) int64 {
	heapStart := int64(b.ClusterHeapOffset) * int64(b.BytesPerSector())
	return heapStart + int64(cluster-c.FirstDataCluster)*int64(b.BytesPerCluster())
}
