// Package exfat encodes and decodes the on-disk structures of the exFAT file
// system and assembles complete exFAT images from a source tree.
package exfat

import (
	"fmt"

	"github.com/theos-os/imager"
)

// TypeCode is the high-level kind of a directory entry.
type TypeCode int

const (
	File TypeCode = iota
	StreamExtension
	FileName
	UpcaseTable
	VolumeLabel
	VolumeGuid
	AllocationBitmap
)

const (
	entryTypeCodeMask  = 0x1f
	entryTypeImportant = 0x20
	entryTypeSecondary = 0x40
	entryTypeInUse     = 0x80
)

// DecodeTypeCode determines the kind of directory entry from the raw entry type
// byte. Only the type code (bits 0-4) and the category (bit 6) are considered.
func DecodeTypeCode(value byte) (TypeCode, error) {
	code := value & entryTypeCodeMask
	secondary := value&entryTypeSecondary != 0

	switch code {
	case 0x00:
		if secondary {
			return StreamExtension, nil
		}
		return VolumeGuid, nil
	case 0x01:
		if secondary {
			return FileName, nil
		}
		return AllocationBitmap, nil
	case 0x02:
		return UpcaseTable, nil
	case 0x03:
		return VolumeLabel, nil
	case 0x05:
		return File, nil
	default:
		return 0, imager.NewFieldError(
			imager.ErrDirectoryEntryDecode, "EntryType", "TypeCode", uint64(value))
	}
}

// EncodeTypeCode gives the 5-bit type code of `code`. The category bit isn't
// included, so StreamExtension and VolumeGuid both encode to 0, and FileName
// and AllocationBitmap both encode to 1. Use TypeCode.EntryType to get the full
// byte.
//
// Every declared TypeCode has an encoding; values outside the declared constants
// panic.
func EncodeTypeCode(code TypeCode) byte {
	switch code {
	case File:
		return 0x05
	case StreamExtension, VolumeGuid:
		return 0x00
	case FileName, AllocationBitmap:
		return 0x01
	case UpcaseTable:
		return 0x02
	case VolumeLabel:
		return 0x03
	default:
		panic(fmt.Sprintf("invalid TypeCode %d", int(code)))
	}
}

// EntryType returns the entry type an in-use entry of this kind has on disk. Like
// EncodeTypeCode, it panics on values outside the declared constants.
func (c TypeCode) EntryType() EntryType {
	switch c {
	case File:
		return EntryType{Code: 0x05, InUse: true}
	case StreamExtension:
		return EntryType{Code: 0x00, Secondary: true, InUse: true}
	case FileName:
		return EntryType{Code: 0x01, Secondary: true, InUse: true}
	case UpcaseTable:
		return EntryType{Code: 0x02, InUse: true}
	case VolumeLabel:
		return EntryType{Code: 0x03, InUse: true}
	case VolumeGuid:
		return EntryType{Code: 0x00, Benign: true, InUse: true}
	case AllocationBitmap:
		return EntryType{Code: 0x01, InUse: true}
	default:
		panic(fmt.Sprintf("invalid TypeCode %d", int(c)))
	}
}

func (c TypeCode) String() string {
	switch c {
	case File:
		return "File"
	case StreamExtension:
		return "StreamExtension"
	case FileName:
		return "FileName"
	case UpcaseTable:
		return "UpcaseTable"
	case VolumeLabel:
		return "VolumeLabel"
	case VolumeGuid:
		return "VolumeGuid"
	case AllocationBitmap:
		return "AllocationBitmap"
	default:
		return fmt.Sprintf("TypeCode(%d)", int(c))
	}
}

// EntryType is the first byte of every directory entry, broken into its fields.
type EntryType struct {
	// Code is the 5-bit type code.
	Code uint8
	// Benign is the TypeImportance bit. Implementations may skip benign entries
	// they don't recognize.
	Benign bool
	// Secondary is the TypeCategory bit.
	Secondary bool
	InUse     bool
}

// DecodeEntryType splits a raw entry type byte into its fields. Every byte
// decodes; use TypeCode to find out if it's a kind this package knows.
func DecodeEntryType(value byte) EntryType {
	return EntryType{
		Code:      value & entryTypeCodeMask,
		Benign:    value&entryTypeImportant != 0,
		Secondary: value&entryTypeSecondary != 0,
		InUse:     value&entryTypeInUse != 0,
	}
}

// Encode is the inverse of DecodeEntryType.
func (t EntryType) Encode() byte {
	value := t.Code & entryTypeCodeMask
	if t.Benign {
		value |= entryTypeImportant
	}
	if t.Secondary {
		value |= entryTypeSecondary
	}
	if t.InUse {
		value |= entryTypeInUse
	}
	return value
}

// IsEndOfDirectory reports whether this is the end-of-directory marker, an
// entry type of 0.
func (t EntryType) IsEndOfDirectory() bool {
	return t == EntryType{}
}

// TypeCode determines the kind of entry. Unlike DecodeTypeCode, the importance
// bit must match as well, so e.g. a critical primary entry with code 0 is
// rejected instead of being taken for a VolumeGuid.
func (t EntryType) TypeCode() (TypeCode, error) {
	raw := t.Encode()
	code, err := DecodeTypeCode(raw)
	if err != nil {
		return 0, err
	}

	canonical := code.EntryType()
	canonical.InUse = t.InUse
	if canonical != t {
		return 0, imager.NewFieldError(
			imager.ErrDirectoryEntryDecode, "EntryType", "TypeImportance", uint64(raw))
	}
	return code, nil
}

// GeneralFlags holds the GeneralPrimaryFlags or GeneralSecondaryFlags field of a
// directory entry. Only the two defined bits are modeled.
type GeneralFlags struct {
	AllocationPossible bool
	NoFatChain         bool
}

func FileNameFlags() GeneralFlags {
	return GeneralFlags{AllocationPossible: false, NoFatChain: false}
}

func StreamExtensionFlags() GeneralFlags {
	return GeneralFlags{AllocationPossible: true, NoFatChain: false}
}

func VolumeGuidFlags() GeneralFlags {
	return GeneralFlags{AllocationPossible: false, NoFatChain: true}
}

// DecodeGeneralFlags reads bits 0 and 1 of `value`; all other bits are ignored.
func DecodeGeneralFlags(value byte) GeneralFlags {
	return GeneralFlags{
		AllocationPossible: value&0x01 != 0,
		NoFatChain:         value&0x02 != 0,
	}
}

func (f GeneralFlags) Encode() byte {
	var value byte
	if f.AllocationPossible {
		value |= 0x01
	}
	if f.NoFatChain {
		value |= 0x02
	}
	return value
}

// ReservedSector is a padding region that must be zero on disk. Only its size
// is kept; whatever bytes it's decoded from, it encodes back to zeros.
type ReservedSector struct {
	Size int
}

func NewReservedSector(size int) ReservedSector {
	return ReservedSector{Size: size}
}

func DecodeReservedSector(data []byte) ReservedSector {
	return ReservedSector{Size: len(data)}
}

func (s ReservedSector) Encode() []byte {
	return make([]byte, s.Size)
}
