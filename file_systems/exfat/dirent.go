package exfat

import (
	"fmt"
	"unicode/utf16"

	"github.com/theos-os/imager"
	c "github.com/theos-os/imager/file_systems/common"
)

// DirentSize is the size of every directory entry, in bytes.
const DirentSize = 32

const (
	// FileNameEntryLength is the number of UTF-16 code units a FileName entry
	// holds.
	FileNameEntryLength = 15
	// MaxFileNameLength is the maximum length of a file name in UTF-16 code units.
	MaxFileNameLength = 255
	// MaxLabelLength is the maximum length of the volume label in UTF-16 code
	// units.
	MaxLabelLength = 11
)

const (
	AttrReadOnly  = 0x01
	AttrHidden    = 0x02
	AttrSystem    = 0x04
	AttrDirectory = 0x10
	AttrArchive   = 0x20
)

// Dirent is any directory entry this package can encode.
type Dirent interface {
	TypeCode() TypeCode
	Encode() []byte
}

// FileDirent is the primary entry of a file or directory's entry set.
type FileDirent struct {
	EntryType             uint8
	SecondaryCount        uint8
	SetChecksum           uint16
	FileAttributes        uint16
	Reserved1             uint16
	CreateTimestamp       uint32
	LastModifiedTimestamp uint32
	LastAccessedTimestamp uint32
	Create10msIncrement   uint8
	LastModified10ms      uint8
	CreateUtcOffset       uint8
	LastModifiedUtcOffset uint8
	LastAccessedUtcOffset uint8
	Reserved2             [7]byte
}

func (d *FileDirent) TypeCode() TypeCode { return File }
func (d *FileDirent) Encode() []byte     { return c.MustEncodeRecord(d, DirentSize) }

// SetTimestamps fills in all three timestamps from `created`, `modified`, and
// `accessed`. Last-accessed timestamps have no 10ms increment.
func (d *FileDirent) SetTimestamps(created, modified, accessed Timestamp) {
	d.CreateTimestamp = created.Packed
	d.Create10msIncrement = created.Increment
	d.CreateUtcOffset = created.UtcOffset
	d.LastModifiedTimestamp = modified.Packed
	d.LastModified10ms = modified.Increment
	d.LastModifiedUtcOffset = modified.UtcOffset
	d.LastAccessedTimestamp = accessed.Packed
	d.LastAccessedUtcOffset = accessed.UtcOffset
}

func (d *FileDirent) LastModified() Timestamp {
	return Timestamp{
		Packed:    d.LastModifiedTimestamp,
		Increment: d.LastModified10ms,
		UtcOffset: d.LastModifiedUtcOffset,
	}
}

// StreamExtensionDirent is the first secondary entry of a file's entry set. It
// locates the file's data.
type StreamExtensionDirent struct {
	EntryType             uint8
	GeneralSecondaryFlags uint8
	Reserved1             uint8
	NameLength            uint8
	NameHash              uint16
	Reserved2             uint16
	ValidDataLength       uint64
	Reserved3             uint32
	FirstCluster          uint32
	DataLength            uint64
}

func (d *StreamExtensionDirent) TypeCode() TypeCode { return StreamExtension }
func (d *StreamExtensionDirent) Encode() []byte     { return c.MustEncodeRecord(d, DirentSize) }

// FileNameDirent holds up to 15 code units of a file name.
type FileNameDirent struct {
	EntryType             uint8
	GeneralSecondaryFlags uint8
	FileName              [FileNameEntryLength]uint16
}

func (d *FileNameDirent) TypeCode() TypeCode { return FileName }
func (d *FileNameDirent) Encode() []byte     { return c.MustEncodeRecord(d, DirentSize) }

// AllocationBitmapDirent locates one of the allocation bitmaps. Bit 0 of
// BitmapFlags is the index of the FAT the bitmap belongs to.
type AllocationBitmapDirent struct {
	EntryType    uint8
	BitmapFlags  uint8
	Reserved     [18]byte
	FirstCluster uint32
	DataLength   uint64
}

func (d *AllocationBitmapDirent) TypeCode() TypeCode { return AllocationBitmap }
func (d *AllocationBitmapDirent) Encode() []byte     { return c.MustEncodeRecord(d, DirentSize) }

// UpcaseTableDirent locates the up-case table.
type UpcaseTableDirent struct {
	EntryType     uint8
	Reserved1     [3]byte
	TableChecksum uint32
	Reserved2     [12]byte
	FirstCluster  uint32
	DataLength    uint64
}

func (d *UpcaseTableDirent) TypeCode() TypeCode { return UpcaseTable }
func (d *UpcaseTableDirent) Encode() []byte     { return c.MustEncodeRecord(d, DirentSize) }

// VolumeLabelDirent holds the volume label.
type VolumeLabelDirent struct {
	EntryType      uint8
	CharacterCount uint8
	VolumeLabel    [MaxLabelLength]uint16
	Reserved       [8]byte
}

func (d *VolumeLabelDirent) TypeCode() TypeCode { return VolumeLabel }
func (d *VolumeLabelDirent) Encode() []byte     { return c.MustEncodeRecord(d, DirentSize) }

func (d *VolumeLabelDirent) Label() string {
	count := int(d.CharacterCount)
	if count > MaxLabelLength {
		count = MaxLabelLength
	}
	return string(utf16.Decode(d.VolumeLabel[:count]))
}

// VolumeGuidDirent is a primary entry without secondaries holding the volume's
// GUID in the on-disk mixed-endian layout.
type VolumeGuidDirent struct {
	EntryType           uint8
	SecondaryCount      uint8
	SetChecksum         uint16
	GeneralPrimaryFlags uint16
	VolumeGuid          [16]byte
	Reserved            [10]byte
}

func (d *VolumeGuidDirent) TypeCode() TypeCode { return VolumeGuid }

// Encode serializes the entry with its checksum filled in.
func (d *VolumeGuidDirent) Encode() []byte {
	data := c.MustEncodeRecord(d, DirentSize)
	checksum := SetChecksum(data)
	data[2] = byte(checksum)
	data[3] = byte(checksum >> 8)
	return data
}

// NewVolumeLabelDirent creates the label entry. The label must be at most 11
// UTF-16 code units long.
func NewVolumeLabelDirent(label string) (*VolumeLabelDirent, error) {
	units := utf16.Encode([]rune(label))
	if len(units) > MaxLabelLength {
		message := fmt.Sprintf(
			"volume label %q is %d UTF-16 code units long, maximum is %d",
			label,
			len(units),
			MaxLabelLength)
		return nil, imager.ErrNameTooLong.WithMessage(message)
	}

	dirent := &VolumeLabelDirent{
		EntryType:      VolumeLabel.EntryType().Encode(),
		CharacterCount: uint8(len(units)),
	}
	copy(dirent.VolumeLabel[:], units)
	return dirent, nil
}

// DecodeDirent deserializes a single directory entry of any known kind. Entries
// that aren't in use are decoded too; check their EntryType field.
func DecodeDirent(data []byte) (Dirent, error) {
	if len(data) < DirentSize {
		message := fmt.Sprintf("directory entry must be %d bytes, got %d", DirentSize, len(data))
		return nil, imager.ErrFileSystemCorrupted.WithMessage(message)
	}

	code, err := DecodeEntryType(data[0]).TypeCode()
	if err != nil {
		return nil, err
	}

	var dirent Dirent
	switch code {
	case File:
		dirent = &FileDirent{}
	case StreamExtension:
		dirent = &StreamExtensionDirent{}
	case FileName:
		dirent = &FileNameDirent{}
	case AllocationBitmap:
		dirent = &AllocationBitmapDirent{}
	case UpcaseTable:
		dirent = &UpcaseTableDirent{}
	case VolumeLabel:
		dirent = &VolumeLabelDirent{}
	case VolumeGuid:
		dirent = &VolumeGuidDirent{}
	}

	err = c.DecodeRecord(data, dirent)
	if err != nil {
		return nil, err
	}
	return dirent, nil
}
