package exfat

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/theos-os/imager"
	c "github.com/theos-os/imager/file_systems/common"
)

const (
	// BootRegionSectors is the number of sectors in the main boot region. The
	// backup boot region immediately follows it and has the same size.
	BootRegionSectors = 12

	extendedBootSectors   = 8
	reservedSectorIndex   = 10
	bootChecksumSector    = 11
	extendedBootSignature = 0xAA550000
	oemParameterCount     = 10
)

// OemParameter is one slot of the OEM parameters sector. A slot with an all-zero
// GUID is unused.
type OemParameter struct {
	ParametersGuid [16]byte
	CustomDefined  [32]byte
}

// OemParameters is the on-disk layout of the OEM parameters sector.
type OemParameters struct {
	Parameters [oemParameterCount]OemParameter
}

// NewExtendedBootSector creates an empty extended boot sector, which only holds
// its signature in the last four bytes.
func NewExtendedBootSector(bytesPerSector uint32) []byte {
	sector := make([]byte, bytesPerSector)
	binary.LittleEndian.PutUint32(sector[bytesPerSector-4:], extendedBootSignature)
	return sector
}

// EncodeBootRegion lays out the 12 sectors of a boot region: the boot sector, 8
// extended boot sectors, the OEM parameters, a reserved sector, and the boot
// checksum sector.
func EncodeBootRegion(bootSector *BootSector) []byte {
	bytesPerSector := bootSector.BytesPerSector()
	region := make([]byte, 0, BootRegionSectors*bytesPerSector)

	region = append(region, bootSector.Encode()...)
	for i := 0; i < extendedBootSectors; i++ {
		region = append(region, NewExtendedBootSector(bytesPerSector)...)
	}
	region = append(region, c.MustEncodeRecord(&OemParameters{}, int(bytesPerSector))...)
	region = append(region, NewReservedSector(int(bytesPerSector)).Encode()...)

	checksum := BootChecksum(region)
	checksumSector := make([]byte, bytesPerSector)
	for i := uint32(0); i < bytesPerSector; i += 4 {
		binary.LittleEndian.PutUint32(checksumSector[i:], checksum)
	}
	return append(region, checksumSector...)
}

// VerifyBootRegion checks the signatures and the checksum of a boot region, as
// returned by EncodeBootRegion.
func VerifyBootRegion(region []byte, bytesPerSector uint32) error {
	if uint32(len(region)) < BootRegionSectors*bytesPerSector {
		message := fmt.Sprintf(
			"boot region must be %d bytes, got %d",
			BootRegionSectors*bytesPerSector,
			len(region))
		return imager.ErrFileSystemCorrupted.WithMessage(message)
	}

	for i := uint32(1); i <= extendedBootSectors; i++ {
		end := (i + 1) * bytesPerSector
		signature := binary.LittleEndian.Uint32(region[end-4 : end])
		if signature != extendedBootSignature {
			return imager.NewFieldError(
				imager.ErrFileSystemCorrupted,
				fmt.Sprintf("ExtendedBootSector%d", i),
				"ExtendedBootSignature",
				uint64(signature))
		}
	}

	reserved := region[reservedSectorIndex*bytesPerSector : bootChecksumSector*bytesPerSector]
	if !bytes.Equal(reserved, NewReservedSector(len(reserved)).Encode()) {
		return imager.ErrFileSystemCorrupted.WithMessage("reserved boot sector isn't zeroed")
	}

	expected := BootChecksum(region[:bootChecksumSector*bytesPerSector])
	checksumSector := region[bootChecksumSector*bytesPerSector : BootRegionSectors*bytesPerSector]
	for i := 0; i < len(checksumSector); i += 4 {
		stored := binary.LittleEndian.Uint32(checksumSector[i:])
		if stored != expected {
			return imager.NewFieldError(
				imager.ErrFileSystemCorrupted, "BootChecksumSector", "Checksum", uint64(stored))
		}
	}
	return nil
}
