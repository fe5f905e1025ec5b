package fat

import (
	"encoding/binary"
	"fmt"

	"github.com/theos-os/imager"
	c "github.com/theos-os/imager/file_systems/common"
)

// FreeCluster marks a cluster not part of any chain in every FAT version.
const FreeCluster = 0

// EntryMask gives the bits of a FAT entry that are significant. The top four
// bits of FAT32 entries are reserved.
func EntryMask(version c.FileSystemType) uint32 {
	switch version {
	case c.Fat12:
		return 0x0FFF
	case c.Fat16:
		return 0xFFFF
	default:
		return 0x0FFFFFFF
	}
}

// EndOfChain is the value written to the last cluster of a chain.
func EndOfChain(version c.FileSystemType) uint32 {
	return EntryMask(version)
}

// BadCluster is the value marking a cluster that must not be used.
func BadCluster(version c.FileSystemType) uint32 {
	return EntryMask(version) - 8
}

// isEndOfChain is true for any of the reserved end-of-chain values, not just
// the one EndOfChain returns.
func isEndOfChain(version c.FileSystemType, value uint32) bool {
	return value >= EntryMask(version)-7
}

// Table is a file allocation table for any FAT version. Entries are held
// unpacked; Encode and DecodeTable handle the 12-bit packing of FAT12.
type Table struct {
	version c.FileSystemType
	entries []uint32
}

// NewTable creates a table for `clusterCount` clusters, all free. Entry 0 holds
// the media descriptor and entry 1 an end-of-chain marker.
func NewTable(version c.FileSystemType, clusterCount uint32, media uint8) *Table {
	entries := make([]uint32, uint64(clusterCount)+uint64(c.FirstDataCluster))
	entries[0] = (EntryMask(version) &^ 0xFF) | uint32(media)
	entries[1] = EndOfChain(version)
	return &Table{version: version, entries: entries}
}

// TableSize gives the number of bytes a table for `clusterCount` clusters
// takes up, before padding to a whole sector.
func TableSize(version c.FileSystemType, clusterCount uint32) uint64 {
	entries := uint64(clusterCount) + uint64(c.FirstDataCluster)
	switch version {
	case c.Fat12:
		return c.CeilDiv(entries*3, 2)
	case c.Fat16:
		return entries * 2
	default:
		return entries * 4
	}
}

// DecodeTable reads a table for `clusterCount` clusters from the beginning of
// `data`.
func DecodeTable(data []byte, version c.FileSystemType, clusterCount uint32) (*Table, error) {
	size := TableSize(version, clusterCount)
	if uint64(len(data)) < size {
		message := fmt.Sprintf(
			"%s table for %d clusters needs %d bytes, got %d",
			version,
			clusterCount,
			size,
			len(data))
		return nil, imager.ErrFileSystemCorrupted.WithMessage(message)
	}

	table := &Table{
		version: version,
		entries: make([]uint32, uint64(clusterCount)+uint64(c.FirstDataCluster)),
	}
	for i := range table.entries {
		switch version {
		case c.Fat12:
			offset := i + i/2
			value := uint32(binary.LittleEndian.Uint16(data[offset:]))
			if i%2 == 0 {
				table.entries[i] = value & 0x0FFF
			} else {
				table.entries[i] = value >> 4
			}
		case c.Fat16:
			table.entries[i] = uint32(binary.LittleEndian.Uint16(data[i*2:]))
		default:
			table.entries[i] = binary.LittleEndian.Uint32(data[i*4:]) & 0x0FFFFFFF
		}
	}
	return table, nil
}

func (t *Table) Version() c.FileSystemType {
	return t.version
}

func (t *Table) ClusterCount() uint32 {
	return uint32(len(t.entries)) - uint32(c.FirstDataCluster)
}

// Media returns the media descriptor stored in entry 0.
func (t *Table) Media() uint8 {
	return uint8(t.entries[0])
}

func (t *Table) isValidCluster(cluster c.ClusterID) bool {
	return cluster >= c.FirstDataCluster && int(cluster) < len(t.entries)
}

// Link chains `count` contiguous clusters starting at `first`. The last one is
// marked as the end of the chain.
func (t *Table) Link(first c.ClusterID, count uint32) error {
	if count == 0 {
		return nil
	}
	last := first + c.ClusterID(count) - 1
	if !t.isValidCluster(first) || !t.isValidCluster(last) {
		message := fmt.Sprintf(
			"can't chain clusters %d-%d, data region only has clusters %d-%d",
			first,
			last,
			c.FirstDataCluster,
			len(t.entries)-1)
		return imager.ErrInvalidArgument.WithMessage(message)
	}

	for cluster := first; cluster < last; cluster++ {
		t.entries[cluster] = uint32(cluster + 1)
	}
	t.entries[last] = EndOfChain(t.version)
	return nil
}

// Get returns the raw entry for `cluster`.
func (t *Table) Get(cluster c.ClusterID) (uint32, error) {
	if !t.isValidCluster(cluster) {
		return 0, imager.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("cluster %d is out of range", cluster))
	}
	return t.entries[cluster], nil
}

// Chain returns every cluster of the chain starting at `first`, in order.
func (t *Table) Chain(first c.ClusterID) ([]c.ClusterID, error) {
	chain := []c.ClusterID{}
	cluster := first

	for {
		if !t.isValidCluster(cluster) {
			return nil, imager.NewFieldError(
				imager.ErrFileSystemCorrupted, "FileAllocationTable", "NextCluster", uint64(cluster))
		}
		if len(chain) >= len(t.entries) {
			message := fmt.Sprintf("cluster chain starting at %d has a loop", first)
			return nil, imager.ErrFileSystemCorrupted.WithMessage(message)
		}

		chain = append(chain, cluster)
		next := t.entries[cluster]
		if isEndOfChain(t.version, next) {
			return chain, nil
		}
		if next == BadCluster(t.version) {
			message := fmt.Sprintf("cluster chain starting at %d contains a bad cluster", first)
			return nil, imager.ErrFileSystemCorrupted.WithMessage(message)
		}
		cluster = c.ClusterID(next)
	}
}

// FreeCount returns the number of free clusters.
func (t *Table) FreeCount() uint32 {
	var count uint32
	for _, entry := range t.entries[c.FirstDataCluster:] {
		if entry == FreeCluster {
			count++
		}
	}
	return count
}

// NextFree returns the first free cluster, or 0xFFFFFFFF if there's none, the
// value FSInfo uses for "unknown".
func (t *Table) NextFree() uint32 {
	for i := int(c.FirstDataCluster); i < len(t.entries); i++ {
		if t.entries[i] == FreeCluster {
			return uint32(i)
		}
	}
	return 0xFFFFFFFF
}

// Encode serializes the table into `size` bytes, which must be at least
// TableSize.
func (t *Table) Encode(size uint64) []byte {
	data := make([]byte, size)
	for i, entry := range t.entries {
		switch t.version {
		case c.Fat12:
			offset := i + i/2
			if i%2 == 0 {
				data[offset] = byte(entry)
				data[offset+1] = (data[offset+1] & 0xF0) | byte(entry>>8)&0x0F
			} else {
				data[offset] = (data[offset] & 0x0F) | byte(entry<<4)
				data[offset+1] = byte(entry >> 4)
			}
		case c.Fat16:
			binary.LittleEndian.PutUint16(data[i*2:], uint16(entry))
		default:
			binary.LittleEndian.PutUint32(data[i*4:], entry)
		}
	}
	return data
}
