// Package fat implements boot sector models, directory entries, and an image
// builder for FAT12, FAT16, and FAT32 file systems.
package fat

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/theos-os/imager"
	c "github.com/theos-os/imager/file_systems/common"
)

// BiosParameterBlock is the on-disk representation of the part of the boot
// sector common to all FAT versions. Fields specific to a particular version
// are in ExtendedBiosParameterBlock and Fat32Parameters.
type BiosParameterBlock struct {
	JmpBoot           [3]byte
	OEMName           [8]byte
	BytesPerSector    uint16
	SectorsPerCluster uint8
	ReservedSectors   uint16
	NumFATs           uint8
	RootEntryCount    uint16
	TotalSectors16    uint16
	Media             uint8
	SectorsPerFAT16   uint16
	SectorsPerTrack   uint16
	NumHeads          uint16
	HiddenSectors     uint32
	TotalSectors32    uint32
}

// TotalSectors returns whichever of the 16- and 32-bit sector counts is in use.
func (b *BiosParameterBlock) TotalSectors() uint32 {
	if b.TotalSectors16 != 0 {
		return uint32(b.TotalSectors16)
	}
	return b.TotalSectors32
}

// SetTotalSectors stores `total` in the 16-bit field if it fits and the file
// system isn't FAT32, otherwise in the 32-bit one.
func (b *BiosParameterBlock) SetTotalSectors(total uint32, version c.FileSystemType) {
	if total < 0x10000 && version != c.Fat32 {
		b.TotalSectors16 = uint16(total)
		b.TotalSectors32 = 0
	} else {
		b.TotalSectors16 = 0
		b.TotalSectors32 = total
	}
}

func (b *BiosParameterBlock) BytesPerCluster() uint32 {
	return uint32(b.BytesPerSector) * uint32(b.SectorsPerCluster)
}

// RootDirSectors is the number of sectors taken up by the root directory. On
// FAT32 systems, this will be 0.
func (b *BiosParameterBlock) RootDirSectors() uint32 {
	if b.BytesPerSector == 0 {
		return 0
	}
	return uint32(c.CeilDiv(uint64(b.RootEntryCount)*DirentSize, uint64(b.BytesPerSector)))
}

// DetermineFATVersion determines the version of the FAT file system based on the number
// of clusters on the system. (This is the only proper way to do so.)
func DetermineFATVersion(totalClusters uint) c.FileSystemType {
	// These cluster counts, while odd-looking, are correct. They're taken directly from
	// Microsoft's FAT documentation, v1.03, page 14.
	if totalClusters < 4085 {
		return c.Fat12
	}
	if totalClusters < 65525 {
		return c.Fat16
	}
	return c.Fat32
}

// MinClusterCount and MaxClusterCount give the range of cluster counts a FAT
// version can have.
func MinClusterCount(version c.FileSystemType) uint32 {
	switch version {
	case c.Fat16:
		return 4085
	case c.Fat32:
		return 65525
	default:
		return 1
	}
}

func MaxClusterCount(version c.FileSystemType) uint32 {
	switch version {
	case c.Fat12:
		return 4084
	case c.Fat16:
		return 65524
	default:
		return 0x0FFFFFF5
	}
}

// ValidateParameters checks the BIOS parameter block of a template. Every
// problem is reported, not just the first one.
func ValidateParameters(bpb *BiosParameterBlock, version c.FileSystemType) error {
	var result *multierror.Error
	invalid := func(field string, value uint64) {
		result = multierror.Append(
			result,
			imager.NewFieldError(imager.ErrFileSystemCorrupted, "BiosParameterBlock", field, value))
	}

	// BytesPerSector must be 512, 1024, 2048, or 4096.
	switch bpb.BytesPerSector {
	case 512, 1024, 2048, 4096:
	default:
		invalid("BytesPerSector", uint64(bpb.BytesPerSector))
	}

	// SectorsPerCluster must be 2^x with x in [0, 8)
	switch bpb.SectorsPerCluster {
	case 1, 2, 4, 8, 16, 32, 64, 128:
		if bpb.BytesPerCluster() > 32768 {
			invalid("SectorsPerCluster", uint64(bpb.SectorsPerCluster))
		}
	default:
		invalid("SectorsPerCluster", uint64(bpb.SectorsPerCluster))
	}

	if bpb.ReservedSectors == 0 {
		invalid("ReservedSectors", 0)
	}
	if bpb.NumFATs == 0 {
		invalid("NumFATs", 0)
	}
	if version == c.Fat32 && bpb.RootEntryCount != 0 {
		invalid("RootEntryCount", uint64(bpb.RootEntryCount))
	}
	if bpb.BytesPerSector != 0 && version != c.Fat32 &&
		(uint32(bpb.RootEntryCount)*DirentSize)%uint32(bpb.BytesPerSector) != 0 {
		invalid("RootEntryCount", uint64(bpb.RootEntryCount))
	}

	return result.ErrorOrNil()
}

// Geometry holds the layout of a FAT volume derived from its BIOS parameter
// block.
type Geometry struct {
	Version           c.FileSystemType
	BytesPerSector    uint32
	SectorsPerCluster uint32
	ReservedSectors   uint32
	NumFATs           uint32
	SectorsPerFAT     uint32
	RootDirSectors    uint32
	FirstDataSector   uint32
	ClusterCount      uint32
	TotalSectors      uint32
}

func (g Geometry) BytesPerCluster() uint32 {
	return g.BytesPerSector * g.SectorsPerCluster
}

// FirstRootDirSector gives the sector the fixed FAT12/16 root directory starts
// at.
func (g Geometry) FirstRootDirSector() uint32 {
	return g.ReservedSectors + g.NumFATs*g.SectorsPerFAT
}

// ClusterOffset gives the byte offset of `cluster` from the start of the volume.
func (g Geometry) ClusterOffset(cluster c.ClusterID) int64 {
	sector := int64(g.FirstDataSector) + int64(cluster-c.FirstDataCluster)*int64(g.SectorsPerCluster)
	return sector * int64(g.BytesPerSector)
}

// GeometryOf computes the layout of an existing volume from its boot sector.
func GeometryOf(bootSector BootSector) (Geometry, error) {
	bpb := bootSector.Parameters()
	err := ValidateParameters(bpb, bootSector.FileSystemType())
	if err != nil {
		return Geometry{}, err
	}

	sectorsPerFAT := uint32(bpb.SectorsPerFAT16)
	if fat32, ok := bootSector.(*Fat32BootSector); ok {
		sectorsPerFAT = fat32.SectorsPerFAT32
	}

	geometry := Geometry{
		BytesPerSector:    uint32(bpb.BytesPerSector),
		SectorsPerCluster: uint32(bpb.SectorsPerCluster),
		ReservedSectors:   uint32(bpb.ReservedSectors),
		NumFATs:           uint32(bpb.NumFATs),
		SectorsPerFAT:     sectorsPerFAT,
		RootDirSectors:    bpb.RootDirSectors(),
		TotalSectors:      bpb.TotalSectors(),
	}
	geometry.FirstDataSector = geometry.FirstRootDirSector() + geometry.RootDirSectors
	if geometry.TotalSectors < geometry.FirstDataSector {
		message := fmt.Sprintf(
			"corruption detected: volume has %d sectors but data region starts at sector %d",
			geometry.TotalSectors,
			geometry.FirstDataSector)
		return Geometry{}, imager.ErrFileSystemCorrupted.WithMessage(message)
	}

	geometry.ClusterCount = (geometry.TotalSectors - geometry.FirstDataSector) / geometry.SectorsPerCluster
	geometry.Version = DetermineFATVersion(uint(geometry.ClusterCount))
	if geometry.Version != bootSector.FileSystemType() {
		message := fmt.Sprintf(
			"corruption detected: boot sector claims %s but %d clusters make it %s",
			bootSector.FileSystemType(),
			geometry.ClusterCount,
			geometry.Version)
		return Geometry{}, imager.ErrFileSystemCorrupted.WithMessage(message)
	}
	return geometry, nil
}
