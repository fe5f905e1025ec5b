package common

import (
	"bytes"
	"fmt"

	"github.com/theos-os/imager"
)

// FileSystemType identifies the generation of a FAT-family boot sector.
type FileSystemType int

const (
	Exfat FileSystemType = iota
	Fat12
	Fat16
	Fat32
)

// IdentificationLength is the minimum number of bytes Identify needs.
const IdentificationLength = 90

type signatureWindow struct {
	offset    int
	signature []byte
	fsType    FileSystemType
}

// Checked in order; the first exact match wins.
var signatureWindows = [...]signatureWindow{
	{offset: 3, signature: []byte("EXFAT   "), fsType: Exfat},
	{offset: 54, signature: []byte("FAT12   "), fsType: Fat12},
	{offset: 54, signature: []byte("FAT16   "), fsType: Fat16},
	{offset: 82, signature: []byte("FAT32   "), fsType: Fat32},
}

// Identify determines the file system type of a boot sector from its signature
// bytes. The exFAT file system name takes priority over the FAT12/16 file
// system type string, which in turn takes priority over the FAT32 one.
func Identify(bootSector []byte) (FileSystemType, error) {
	if len(bootSector) < IdentificationLength {
		message := fmt.Sprintf(
			"boot sector must be at least %d bytes, got %d",
			IdentificationLength,
			len(bootSector))
		return 0, imager.ErrIdentification.WithMessage(message)
	}

	for _, window := range signatureWindows {
		field := bootSector[window.offset : window.offset+len(window.signature)]
		if bytes.Equal(field, window.signature) {
			return window.fsType, nil
		}
	}
	return 0, imager.ErrIdentification.WithMessage("no file system signature found")
}

func (t FileSystemType) String() string {
	switch t {
	case Exfat:
		return "exFAT"
	case Fat12:
		return "FAT12"
	case Fat16:
		return "FAT16"
	case Fat32:
		return "FAT32"
	default:
		return fmt.Sprintf("FileSystemType(%d)", int(t))
	}
}
