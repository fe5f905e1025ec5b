package fat

import (
	"github.com/theos-os/imager"
	c "github.com/theos-os/imager/file_systems/common"
)

const (
	fsInfoLeadSignature   = 0x41615252
	fsInfoStructSignature = 0x61417272
	fsInfoTrailSignature  = 0xAA550000
	// UnknownFreeCount is the FSInfo value for both counters when they haven't
	// been computed.
	UnknownFreeCount = 0xFFFFFFFF
)

// FSInfo is the FAT32 sector caching the free cluster count and a hint for the
// next free cluster.
type FSInfo struct {
	LeadSignature   uint32
	Reserved1       [480]byte
	StructSignature uint32
	FreeCount       uint32
	NextFree        uint32
	Reserved2       [12]byte
	TrailSignature  uint32
}

// NewFSInfo creates an FSInfo sector with the counters taken from `table`.
func NewFSInfo(table *Table) *FSInfo {
	return &FSInfo{
		LeadSignature:   fsInfoLeadSignature,
		StructSignature: fsInfoStructSignature,
		FreeCount:       table.FreeCount(),
		NextFree:        table.NextFree(),
		TrailSignature:  fsInfoTrailSignature,
	}
}

// DecodeFSInfo decodes an FSInfo sector and checks its three signatures.
func DecodeFSInfo(data []byte) (*FSInfo, error) {
	info := &FSInfo{}
	err := c.DecodeRecord(data, info)
	if err != nil {
		return nil, err
	}

	if info.LeadSignature != fsInfoLeadSignature {
		return nil, imager.NewFieldError(
			imager.ErrFileSystemCorrupted, "FSInfo", "LeadSignature", uint64(info.LeadSignature))
	}
	if info.StructSignature != fsInfoStructSignature {
		return nil, imager.NewFieldError(
			imager.ErrFileSystemCorrupted, "FSInfo", "StructSignature", uint64(info.StructSignature))
	}
	if info.TrailSignature != fsInfoTrailSignature {
		return nil, imager.NewFieldError(
			imager.ErrFileSystemCorrupted, "FSInfo", "TrailSignature", uint64(info.TrailSignature))
	}
	return info, nil
}

// Encode serializes the structure into a sector of `bytesPerSector` bytes.
func (f *FSInfo) Encode(bytesPerSector uint32) []byte {
	return c.MustEncodeRecord(f, int(bytesPerSector))
}
