// Package common contains definitions of fundamental types and functions used
// across multiple file system implementations.
package common

// SectorID is the index of a sector from the beginning of the volume.
type SectorID uint32

// ClusterID is the number of a cluster in the data region or cluster heap.
// Numbering starts at FirstDataCluster.
type ClusterID uint32

// FirstDataCluster is the lowest valid cluster number on every FAT-family file
// system. Clusters 0 and 1 only exist as reserved FAT entries.
const FirstDataCluster = ClusterID(2)

// CeilDiv divides `value` by `divisor`, rounding up.
func CeilDiv(value, divisor uint64) uint64 {
	return (value + divisor - 1) / divisor
}

// RoundUp rounds `value` up to the nearest multiple of `multiple`.
func RoundUp(value, multiple uint64) uint64 {
	return CeilDiv(value, multiple) * multiple
}

// Placement describes where one node of the source tree ended up in the image.
type Placement struct {
	// Path is the slash-separated path of the node relative to the source root.
	// The root directory itself is "/".
	Path         string
	ShortName    string
	FirstCluster ClusterID
	Clusters     uint32
	Size         int64
	IsDir        bool
}
