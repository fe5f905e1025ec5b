package fat

import (
	"fmt"
	"strings"

	"github.com/spf13/afero"
	"github.com/theos-os/imager"
	c "github.com/theos-os/imager/file_systems/common"
)

// BootSectorSize is the size of the boot sector structures. Larger sectors are
// zero-padded after the signature.
const BootSectorSize = 512

// BootSignature is the value of bytes 510-511 of every boot sector.
const BootSignature = 0xAA55

// extendedBootSignature in ExtendedBiosParameterBlock.BootSignature means the
// volume ID, label, and file system type fields are present.
const extendedBootSignature = 0x29

// ExtendedBiosParameterBlock follows the BPB on FAT12/16 volumes and the FAT32
// parameters on FAT32 volumes.
type ExtendedBiosParameterBlock struct {
	DriveNumber    uint8
	Reserved1      uint8
	BootSignature  uint8
	VolumeID       uint32
	VolumeLabel    [11]byte
	FileSystemType [8]byte
}

// Label returns the volume label with the padding removed.
func (e *ExtendedBiosParameterBlock) Label() string {
	return strings.TrimRight(string(e.VolumeLabel[:]), " ")
}

// Fat32Parameters are the FAT32-only fields between the BPB and the extended
// BPB.
type Fat32Parameters struct {
	SectorsPerFAT32  uint32
	ExtFlags         uint16
	FSVersion        uint16
	RootCluster      uint32
	FSInfoSector     uint16
	BackupBootSector uint16
	Reserved         [12]byte
}

// BootSector is a decoded FAT boot sector of any generation.
type BootSector interface {
	FileSystemType() c.FileSystemType
	Parameters() *BiosParameterBlock
	Extended() *ExtendedBiosParameterBlock
	// Encode serializes the boot sector into BytesPerSector bytes, with the
	// boot signature.
	Encode() []byte
}

// Fat12BootSector is the on-disk layout of a FAT12 boot sector.
type Fat12BootSector struct {
	BiosParameterBlock
	ExtendedBiosParameterBlock
	BootCode  [448]byte
	Signature uint16
}

func (b *Fat12BootSector) FileSystemType() c.FileSystemType { return c.Fat12 }
func (b *Fat12BootSector) Parameters() *BiosParameterBlock  { return &b.BiosParameterBlock }
func (b *Fat12BootSector) Extended() *ExtendedBiosParameterBlock {
	return &b.ExtendedBiosParameterBlock
}
func (b *Fat12BootSector) Encode() []byte { return encodeBootSector(b, b.Parameters()) }

// Fat16BootSector is the on-disk layout of a FAT16 boot sector. It's identical
// to FAT12's.
type Fat16BootSector struct {
	BiosParameterBlock
	ExtendedBiosParameterBlock
	BootCode  [448]byte
	Signature uint16
}

func (b *Fat16BootSector) FileSystemType() c.FileSystemType { return c.Fat16 }
func (b *Fat16BootSector) Parameters() *BiosParameterBlock  { return &b.BiosParameterBlock }
func (b *Fat16BootSector) Extended() *ExtendedBiosParameterBlock {
	return &b.ExtendedBiosParameterBlock
}
func (b *Fat16BootSector) Encode() []byte { return encodeBootSector(b, b.Parameters()) }

// Fat32BootSector is the on-disk layout of a FAT32 boot sector.
type Fat32BootSector struct {
	BiosParameterBlock
	Fat32Parameters
	ExtendedBiosParameterBlock
	BootCode  [420]byte
	Signature uint16
}

func (b *Fat32BootSector) FileSystemType() c.FileSystemType { return c.Fat32 }
func (b *Fat32BootSector) Parameters() *BiosParameterBlock  { return &b.BiosParameterBlock }
func (b *Fat32BootSector) Extended() *ExtendedBiosParameterBlock {
	return &b.ExtendedBiosParameterBlock
}
func (b *Fat32BootSector) Encode() []byte { return encodeBootSector(b, b.Parameters()) }

func encodeBootSector(record interface{}, bpb *BiosParameterBlock) []byte {
	size := int(bpb.BytesPerSector)
	if size < BootSectorSize {
		size = BootSectorSize
	}
	return c.MustEncodeRecord(record, size)
}

// NewBootSector classifies `data` with common.Identify and decodes it into the
// boot sector model for its generation. Templates shorter than a full sector
// are zero-extended. exFAT boot sectors aren't handled here and fail with
// ErrUnsupportedFileSystem.
func NewBootSector(data []byte) (BootSector, error) {
	fsType, err := c.Identify(data)
	if err != nil {
		return nil, err
	}

	var bootSector BootSector
	switch fsType {
	case c.Fat12:
		bootSector = &Fat12BootSector{}
	case c.Fat16:
		bootSector = &Fat16BootSector{}
	case c.Fat32:
		bootSector = &Fat32BootSector{}
	default:
		message := fmt.Sprintf("%s boot sectors aren't FAT boot sectors", fsType)
		return nil, imager.ErrUnsupportedFileSystem.WithMessage(message)
	}

	sector := make([]byte, BootSectorSize)
	copy(sector, data)
	err = c.DecodeRecord(sector, bootSector)
	if err != nil {
		return nil, err
	}
	return bootSector, nil
}

// LoadBootSector reads a boot sector template from `path` and decodes it with
// NewBootSector.
func LoadBootSector(fs afero.Fs, path string) (BootSector, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, imager.ErrIO.WithMessage(path).Wrap(err)
	}
	return NewBootSector(data)
}
