package exfat

import (
	"fmt"

	"github.com/theos-os/imager"
	c "github.com/theos-os/imager/file_systems/common"
)

const (
	// MediaDescriptorEntry is the value of FAT entry 0.
	MediaDescriptorEntry = 0xFFFFFFF8
	// EndOfChain marks the last cluster of a chain.
	EndOfChain = 0xFFFFFFFF
	// BadCluster marks a cluster that must not be used.
	BadCluster = 0xFFFFFFF7
	// FreeCluster marks a cluster not part of any chain.
	FreeCluster = 0
)

// FileAllocationTable holds one entry for each cluster of the heap plus the two
// reserved entries at the beginning.
type FileAllocationTable struct {
	entries []uint32
}

// NewFileAllocationTable creates a table for a heap of `clusterCount` clusters,
// all free.
func NewFileAllocationTable(clusterCount uint32) *FileAllocationTable {
	entries := make([]uint32, uint64(clusterCount)+uint64(c.FirstDataCluster))
	entries[0] = MediaDescriptorEntry
	entries[1] = EndOfChain
	return &FileAllocationTable{entries: entries}
}

// DecodeFileAllocationTable reads the entries for `clusterCount` clusters from
// the beginning of `data`.
func DecodeFileAllocationTable(data []byte, clusterCount uint32) (*FileAllocationTable, error) {
	table := NewFileAllocationTable(clusterCount)
	err := c.DecodeRecord(data, table.entries)
	if err != nil {
		return nil, err
	}
	if table.entries[0] != MediaDescriptorEntry {
		return nil, imager.NewFieldError(
			imager.ErrFileSystemCorrupted, "FileAllocationTable", "MediaDescriptor", uint64(table.entries[0]))
	}
	return table, nil
}

func (t *FileAllocationTable) ClusterCount() uint32 {
	return uint32(len(t.entries)) - uint32(c.FirstDataCluster)
}

func (t *FileAllocationTable) isValidCluster(cluster c.ClusterID) bool {
	return cluster >= c.FirstDataCluster && int(cluster) < len(t.entries)
}

// Link chains `count` contiguous clusters starting at `first`. The last one is
// marked as the end of the chain.
func (t *FileAllocationTable) Link(first c.ClusterID, count uint32) error {
	if count == 0 {
		return nil
	}
	last := first + c.ClusterID(count) - 1
	if !t.isValidCluster(first) || !t.isValidCluster(last) {
		message := fmt.Sprintf(
			"can't chain clusters %d-%d, heap only has clusters %d-%d",
			first,
			last,
			c.FirstDataCluster,
			len(t.entries)-1)
		return imager.ErrInvalidArgument.WithMessage(message)
	}

	for cluster := first; cluster < last; cluster++ {
		t.entries[cluster] = uint32(cluster + 1)
	}
	t.entries[last] = EndOfChain
	return nil
}

// Get returns the raw entry for `cluster`.
func (t *FileAllocationTable) Get(cluster c.ClusterID) (uint32, error) {
	if !t.isValidCluster(cluster) {
		return 0, imager.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("cluster %d is out of range", cluster))
	}
	return t.entries[cluster], nil
}

// Chain returns every cluster of the chain starting at `first`, in order.
func (t *FileAllocationTable) Chain(first c.ClusterID) ([]c.ClusterID, error) {
	chain := []c.ClusterID{}
	cluster := first

	for {
		if !t.isValidCluster(cluster) {
			return nil, imager.NewFieldError(
				imager.ErrFileSystemCorrupted, "FileAllocationTable", "NextCluster", uint64(cluster))
		}
		// A chain can't be longer than the heap, so anything longer has a loop.
		if len(chain) >= len(t.entries) {
			message := fmt.Sprintf("cluster chain starting at %d has a loop", first)
			return nil, imager.ErrFileSystemCorrupted.WithMessage(message)
		}

		chain = append(chain, cluster)
		next := t.entries[cluster]
		if next == EndOfChain {
			return chain, nil
		}
		cluster = c.ClusterID(next)
	}
}

// Encode serializes the table, zero-padded to a whole number of sectors.
func (t *FileAllocationTable) Encode(bytesPerSector uint32) []byte {
	size := c.RoundUp(uint64(len(t.entries))*4, uint64(bytesPerSector))
	return c.MustEncodeRecord(t.entries, int(size))
}

// FatLengthInSectors gives the number of sectors one FAT needs for a heap of
// `clusterCount` clusters.
func FatLengthInSectors(clusterCount uint32, bytesPerSector uint32) uint32 {
	return uint32(c.CeilDiv((uint64(clusterCount)+2)*4, uint64(bytesPerSector)))
}
