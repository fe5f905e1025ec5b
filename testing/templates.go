package testing

import "encoding/binary"

// ExfatBootSector returns a 512-byte exFAT boot sector carrying only what a
// template has to supply. Everything describing the volume's size is left 0.
func ExfatBootSector(bytesPerSectorShift, sectorsPerClusterShift, numberOfFats uint8) []byte {
	sector := make([]byte, 512)
	copy(sector[0:], []byte{0xEB, 0x76, 0x90})
	copy(sector[3:], "EXFAT   ")
	binary.LittleEndian.PutUint32(sector[80:], 24)      // FatOffset
	binary.LittleEndian.PutUint16(sector[104:], 0x0100) // FileSystemRevision
	sector[108] = bytesPerSectorShift
	sector[109] = sectorsPerClusterShift
	sector[110] = numberOfFats
	sector[111] = 0x80
	for i := 120; i < 510; i++ {
		sector[i] = 0xF4 // hlt
	}
	binary.LittleEndian.PutUint16(sector[510:], 0xAA55)
	return sector
}

// FatBiosParameterBlock holds the fields of the BPB shared by all FAT versions
// that a template usually sets.
type FatBiosParameterBlock struct {
	BytesPerSector    uint16
	SectorsPerCluster uint8
	ReservedSectors   uint16
	NumFATs           uint8
	RootEntryCount    uint16
	TotalSectors      uint32
	Media             uint8
}

func writeCommonBPB(sector []byte, bpb FatBiosParameterBlock) {
	copy(sector[0:], []byte{0xEB, 0x3C, 0x90})
	copy(sector[3:], "MSWIN4.1")
	binary.LittleEndian.PutUint16(sector[11:], bpb.BytesPerSector)
	sector[13] = bpb.SectorsPerCluster
	binary.LittleEndian.PutUint16(sector[14:], bpb.ReservedSectors)
	sector[16] = bpb.NumFATs
	binary.LittleEndian.PutUint16(sector[17:], bpb.RootEntryCount)
	if bpb.TotalSectors < 0x10000 {
		binary.LittleEndian.PutUint16(sector[19:], uint16(bpb.TotalSectors))
	} else {
		binary.LittleEndian.PutUint32(sector[32:], bpb.TotalSectors)
	}
	sector[21] = bpb.Media
	binary.LittleEndian.PutUint16(sector[24:], 63)  // SectorsPerTrack
	binary.LittleEndian.PutUint16(sector[26:], 255) // NumHeads
	binary.LittleEndian.PutUint16(sector[510:], 0xAA55)
}

// Fat1216BootSector returns a FAT12 or FAT16 boot sector. `fsType` must be
// "FAT12   " or "FAT16   ".
func Fat1216BootSector(bpb FatBiosParameterBlock, fsType string) []byte {
	sector := make([]byte, 512)
	writeCommonBPB(sector, bpb)
	sector[36] = 0x80 // DriveNumber
	sector[38] = 0x29 // ExBootSignature
	copy(sector[43:], "NO NAME    ")
	copy(sector[54:], fsType)
	return sector
}

// Fat32BootSector returns a FAT32 boot sector. RootEntryCount in `bpb` should
// be 0.
func Fat32BootSector(bpb FatBiosParameterBlock, fsInfoSector, backupBootSector uint16) []byte {
	sector := make([]byte, 512)
	writeCommonBPB(sector, bpb)
	binary.LittleEndian.PutUint32(sector[44:], 2) // RootCluster
	binary.LittleEndian.PutUint16(sector[48:], fsInfoSector)
	binary.LittleEndian.PutUint16(sector[50:], backupBootSector)
	sector[64] = 0x80 // DriveNumber
	sector[66] = 0x29 // ExBootSignature
	copy(sector[71:], "NO NAME    ")
	copy(sector[82:], "FAT32   ")
	return sector
}

// Floppy144 is the geometry of a 1.44MB floppy disk.
var Floppy144 = FatBiosParameterBlock{
	BytesPerSector:    512,
	SectorsPerCluster: 1,
	ReservedSectors:   1,
	NumFATs:           2,
	RootEntryCount:    224,
	TotalSectors:      2880,
	Media:             0xF0,
}
