package exfat

import (
	"fmt"

	bitmap "github.com/boljen/go-bitmap"
	"github.com/theos-os/imager"
	c "github.com/theos-os/imager/file_systems/common"
)

// ClusterBitmap tracks which clusters of the heap are in use. Bit 0 of byte
// 0 is cluster 2.
type ClusterBitmap struct {
	bits         bitmap.Bitmap
	clusterCount uint32
}

func NewClusterBitmap(clusterCount uint32) *ClusterBitmap {
	return &ClusterBitmap{
		bits:         bitmap.New(int(clusterCount)),
		clusterCount: clusterCount,
	}
}

// DecodeClusterBitmap reads the bitmap for `clusterCount` clusters from the
// beginning of `data`.
func DecodeClusterBitmap(data []byte, clusterCount uint32) (*ClusterBitmap, error) {
	size := ClusterBitmapSize(clusterCount)
	if uint64(len(data)) < size {
		message := fmt.Sprintf(
			"allocation bitmap for %d clusters needs %d bytes, got %d",
			clusterCount,
			size,
			len(data))
		return nil, imager.ErrFileSystemCorrupted.WithMessage(message)
	}

	bits := bitmap.New(int(clusterCount))
	copy(bits, data[:size])
	return &ClusterBitmap{bits: bits, clusterCount: clusterCount}, nil
}

// ClusterBitmapSize gives the size of the bitmap in bytes.
func ClusterBitmapSize(clusterCount uint32) uint64 {
	return c.CeilDiv(uint64(clusterCount), 8)
}

// Allocate marks `count` clusters starting at `first` as in use.
func (b *ClusterBitmap) Allocate(first c.ClusterID, count uint32) error {
	if first < c.FirstDataCluster || uint64(first)+uint64(count) > uint64(b.clusterCount)+2 {
		message := fmt.Sprintf(
			"can't allocate %d clusters at %d, heap has %d", count, first, b.clusterCount)
		return imager.ErrNoSpaceOnDevice.WithMessage(message)
	}
	for i := uint32(0); i < count; i++ {
		b.bits.Set(int(first-c.FirstDataCluster)+int(i), true)
	}
	return nil
}

func (b *ClusterBitmap) IsAllocated(cluster c.ClusterID) bool {
	if cluster < c.FirstDataCluster || uint32(cluster-c.FirstDataCluster) >= b.clusterCount {
		return false
	}
	return b.bits.Get(int(cluster - c.FirstDataCluster))
}

// AllocatedCount returns the number of clusters in use.
func (b *ClusterBitmap) AllocatedCount() uint32 {
	var count uint32
	for i := 0; i < int(b.clusterCount); i++ {
		if b.bits.Get(i) {
			count++
		}
	}
	return count
}

// PercentInUse gives the share of allocated clusters, rounded down.
func (b *ClusterBitmap) PercentInUse() uint8 {
	if b.clusterCount == 0 {
		return 0
	}
	return uint8(uint64(b.AllocatedCount()) * 100 / uint64(b.clusterCount))
}

func (b *ClusterBitmap) Encode() []byte {
	return b.bits.Data(true)[:ClusterBitmapSize(b.clusterCount)]
}
