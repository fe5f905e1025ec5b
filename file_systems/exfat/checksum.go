package exfat

import "math/bits"

// BootChecksum computes the checksum of the first 11 sectors of a boot region.
// VolumeFlags and PercentInUse change during normal use so they're excluded.
func BootChecksum(data []byte) uint32 {
	var checksum uint32
	for i, b := range data {
		if i == 106 || i == 107 || i == 112 {
			continue
		}
		checksum = bits.RotateLeft32(checksum, -1) + uint32(b)
	}
	return checksum
}

// TableChecksum computes the checksum of an up-case table as stored on disk.
func TableChecksum(data []byte) uint32 {
	var checksum uint32
	for _, b := range data {
		checksum = bits.RotateLeft32(checksum, -1) + uint32(b)
	}
	return checksum
}

// SetChecksum computes the checksum of a directory entry set. The SetChecksum
// field of the primary entry, bytes 2 and 3, is skipped.
func SetChecksum(data []byte) uint16 {
	var checksum uint16
	for i, b := range data {
		if i == 2 || i == 3 {
			continue
		}
		checksum = bits.RotateLeft16(checksum, -1) + uint16(b)
	}
	return checksum
}

// NameHash computes the hash of a file name from its up-cased UTF-16 code
// units.
func NameHash(upcasedName []uint16) uint16 {
	var hash uint16
	for _, unit := range upcasedName {
		hash = bits.RotateLeft16(hash, -1) + (unit & 0xff)
		hash = bits.RotateLeft16(hash, -1) + (unit >> 8)
	}
	return hash
}
