package exfat

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf16"

	"github.com/dustin/go-humanize"
	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"
	"github.com/theos-os/imager"
	c "github.com/theos-os/imager/file_systems/common"
	"github.com/theos-os/imager/utilities/mt19937"
	"github.com/theos-os/imager/utilities/volumeid"
)

// MinimumVolumeSize is the smallest volume Build creates, in bytes. Smaller
// volumes are padded with free clusters.
const MinimumVolumeSize = 1024 * 1024

// maxClusterCount is the largest cluster number a FAT entry can hold, minus the
// two reserved entries and the bad cluster and end-of-chain markers.
const maxClusterCount = 0xFFFFFFF5

// Characters that may not appear in a file name, besides control characters.
const invalidNameCharacters = "\"*/:<>?\\|"

// Options controls the parts of an image that don't come from the template or
// the source tree.
type Options struct {
	Label string
	// Timestamp is used for every timestamp of every directory entry, and for
	// the volume GUID.
	Timestamp time.Time
}

// Result is a complete image and where everything in it ended up.
type Result struct {
	Image      []byte
	BootSector BootSector
	// Placements lists the root directory and then every node of the source
	// tree in pre-order.
	Placements []c.Placement
}

type allocation struct {
	first    c.ClusterID
	clusters uint32
}

type geometry struct {
	clusterCount      uint32
	fatLength         uint32
	clusterHeapOffset uint32
	volumeLength      uint64
	bitmapClusters    uint32
}

type imageBuilder struct {
	bootSector      *BootSector
	options         Options
	upcase          *Upcase
	upcaseData      []byte
	bytesPerCluster uint64
	geometry        geometry
	table           *FileAllocationTable
	bitmap          *ClusterBitmap
	nextCluster     c.ClusterID
	bitmaps         []allocation
	upcaseTable     allocation
	nodes           map[*c.Node]allocation
}

// Build creates an exFAT image from a boot sector template and a source tree.
// The volume serial number and GUID are drawn from `generator`, in that order.
func Build(
	template []byte, root *c.Node, generator *mt19937.Generator, options Options,
) (*Result, error) {
	bootSector, err := DecodeBootSector(template)
	if err != nil {
		return nil, err
	}

	upcase := NewUpcase()
	err = ValidateTree(root, options.Label, upcase)
	if err != nil {
		return nil, err
	}

	b := &imageBuilder{
		bootSector:      bootSector,
		options:         options,
		upcase:          upcase,
		upcaseData:      upcase.Compress(),
		bytesPerCluster: uint64(bootSector.BytesPerCluster()),
		nodes:           map[*c.Node]allocation{},
	}

	contentClusters := b.clustersFor(uint64(len(b.upcaseData)))
	err = root.Walk(func(node *c.Node) error {
		contentClusters += b.nodeClusters(node)
		return nil
	})
	if err != nil {
		return nil, err
	}

	b.geometry, err = planGeometry(bootSector, contentClusters)
	if err != nil {
		return nil, err
	}
	log.Debugf(
		"exFAT geometry: %d clusters of %s, FAT is %d sectors, heap at sector %d, volume is %s",
		b.geometry.clusterCount,
		humanize.IBytes(b.bytesPerCluster),
		b.geometry.fatLength,
		b.geometry.clusterHeapOffset,
		humanize.IBytes(b.geometry.volumeLength*uint64(bootSector.BytesPerSector())))

	err = b.allocate(root)
	if err != nil {
		return nil, err
	}

	bootSector.VolumeLength = b.geometry.volumeLength
	bootSector.FatLength = b.geometry.fatLength
	bootSector.ClusterHeapOffset = b.geometry.clusterHeapOffset
	bootSector.ClusterCount = b.geometry.clusterCount
	bootSector.FirstClusterOfRootDirectory = uint32(b.nodes[root].first)
	bootSector.VolumeSerialNumber = volumeid.SerialNumber(generator)
	bootSector.VolumeFlags = 0
	bootSector.PercentInUse = b.bitmap.PercentInUse()
	if bootSector.FileSystemRevision == 0 {
		bootSector.FileSystemRevision = fileSystemRevision
	}

	guid := volumeid.NewGUID(generator, options.Timestamp, nil)
	log.Debugf("exFAT volume serial %08X, GUID %s", bootSector.VolumeSerialNumber, guid)

	image, err := b.assemble(root, volumeid.ToMixedEndian(guid))
	if err != nil {
		return nil, err
	}

	return &Result{
		Image:      image,
		BootSector: *bootSector,
		Placements: b.placements(root),
	}, nil
}

// ValidateTree checks every name in the tree and the volume label. All problems
// are returned together.
func ValidateTree(root *c.Node, label string, upcase *Upcase) error {
	var result *multierror.Error

	if len(utf16.Encode([]rune(label))) > MaxLabelLength {
		message := fmt.Sprintf("volume label %q is longer than %d characters", label, MaxLabelLength)
		result = multierror.Append(result, imager.ErrNameTooLong.WithMessage(message))
	}

	root.Walk(func(node *c.Node) error {
		if node != root {
			err := validateName(node.Name)
			if err != nil {
				result = multierror.Append(result, err.WithMessage(node.Path))
			}
		}

		seen := map[string]string{}
		for _, child := range node.Children {
			key := string(utf16.Decode(upcase.Convert(utf16.Encode([]rune(child.Name)))))
			if previous, ok := seen[key]; ok {
				message := fmt.Sprintf("%s collides with %q", child.Path, previous)
				result = multierror.Append(result, imager.ErrExists.WithMessage(message))
				continue
			}
			seen[key] = child.Name
		}
		return nil
	})
	return result.ErrorOrNil()
}

func validateName(name string) imager.ImagerError {
	length := len(utf16.Encode([]rune(name)))
	if length > MaxFileNameLength {
		return imager.ErrNameTooLong.WithMessage(
			fmt.Sprintf("%d UTF-16 code units, maximum is %d", length, MaxFileNameLength))
	}
	if name == "" || name == "." || name == ".." {
		return imager.ErrInvalidArgument.WithMessage(fmt.Sprintf("invalid file name %q", name))
	}
	for _, char := range name {
		if char < 0x20 || strings.ContainsRune(invalidNameCharacters, char) {
			return imager.ErrInvalidArgument.WithMessage(
				fmt.Sprintf("file name contains invalid character %q", char))
		}
	}
	return nil
}

func (b *imageBuilder) clustersFor(size uint64) uint64 {
	return c.CeilDiv(size, b.bytesPerCluster)
}

// directorySize gives the number of bytes of directory entries `node` needs.
func (b *imageBuilder) directorySize(node *c.Node, isRoot bool) uint64 {
	entries := 0
	if isRoot {
		// Label, one bitmap per FAT, up-case table, GUID
		entries = 3 + int(b.bootSector.NumberOfFats)
	}
	for _, child := range node.Children {
		entries += FileEntrySetLength(child.Name)
	}
	return uint64(entries) * DirentSize
}

// nodeClusters gives the number of clusters `node`'s data occupies. Directories
// always get at least one cluster; empty files get none.
func (b *imageBuilder) nodeClusters(node *c.Node) uint64 {
	if !node.IsDir {
		return b.clustersFor(uint64(node.Size()))
	}
	clusters := b.clustersFor(b.directorySize(node, node.Path == "/"))
	if clusters == 0 {
		clusters = 1
	}
	return clusters
}

func planGeometry(bootSector *BootSector, contentClusters uint64) (geometry, error) {
	bytesPerSector := uint64(bootSector.BytesPerSector())
	sectorsPerCluster := uint64(bootSector.SectorsPerCluster())
	bytesPerCluster := uint64(bootSector.BytesPerCluster())
	numberOfFats := uint64(bootSector.NumberOfFats)

	minimumSectors := uint64(MinimumVolumeSize) / bytesPerSector
	if bootSector.VolumeLength > minimumSectors {
		minimumSectors = bootSector.VolumeLength
	}

	// The bitmaps and FATs grow with the cluster count, which grows with them,
	// so iterate until the layout is stable. The count never shrinks, so this
	// terminates.
	clusterCount := contentClusters
	for {
		if clusterCount > maxClusterCount {
			message := fmt.Sprintf(
				"volume needs %d clusters, exFAT allows at most %d", clusterCount, maxClusterCount)
			return geometry{}, imager.ErrNoSpaceOnDevice.WithMessage(message)
		}

		bitmapClusters := c.CeilDiv(ClusterBitmapSize(uint32(clusterCount)), bytesPerCluster)
		fatLength := uint64(FatLengthInSectors(uint32(clusterCount), uint32(bytesPerSector)))
		heapOffset := c.RoundUp(
			uint64(bootSector.FatOffset)+fatLength*numberOfFats, sectorsPerCluster)

		needed := contentClusters + numberOfFats*bitmapClusters
		if heapOffset+needed*sectorsPerCluster < minimumSectors {
			needed = c.CeilDiv(minimumSectors-heapOffset, sectorsPerCluster)
		}

		if needed <= clusterCount {
			if heapOffset > 0xFFFFFFFF {
				return geometry{}, imager.ErrNoSpaceOnDevice.WithMessage("FAT is too large")
			}
			return geometry{
				clusterCount:      uint32(clusterCount),
				fatLength:         uint32(fatLength),
				clusterHeapOffset: uint32(heapOffset),
				volumeLength:      heapOffset + clusterCount*sectorsPerCluster,
				bitmapClusters:    uint32(bitmapClusters),
			}, nil
		}
		clusterCount = needed
	}
}

func (b *imageBuilder) take(clusters uint32) (allocation, error) {
	if clusters == 0 {
		return allocation{}, nil
	}

	taken := allocation{first: b.nextCluster, clusters: clusters}
	err := b.table.Link(taken.first, clusters)
	if err != nil {
		return allocation{}, imager.ErrNoSpaceOnDevice.Wrap(err)
	}
	err = b.bitmap.Allocate(taken.first, clusters)
	if err != nil {
		return allocation{}, err
	}
	b.nextCluster += c.ClusterID(clusters)
	return taken, nil
}

// allocate assigns clusters contiguously: the allocation bitmaps, the up-case
// table, then the tree in pre-order starting with the root directory.
func (b *imageBuilder) allocate(root *c.Node) error {
	b.table = NewFileAllocationTable(b.geometry.clusterCount)
	b.bitmap = NewClusterBitmap(b.geometry.clusterCount)
	b.nextCluster = c.FirstDataCluster

	for i := 0; i < int(b.bootSector.NumberOfFats); i++ {
		taken, err := b.take(b.geometry.bitmapClusters)
		if err != nil {
			return err
		}
		b.bitmaps = append(b.bitmaps, taken)
	}

	var err error
	b.upcaseTable, err = b.take(uint32(b.clustersFor(uint64(len(b.upcaseData)))))
	if err != nil {
		return err
	}

	return root.Walk(func(node *c.Node) error {
		taken, err := b.take(uint32(b.nodeClusters(node)))
		if err != nil {
			return err
		}
		b.nodes[node] = taken
		return nil
	})
}

func (b *imageBuilder) attributes(node *c.Node) uint16 {
	var attributes uint16
	if node.IsDir {
		attributes = AttrDirectory
	} else {
		attributes = AttrArchive
	}
	if node.Mode.Perm()&0o200 == 0 {
		attributes |= AttrReadOnly
	}
	return attributes
}

func (b *imageBuilder) encodeDirectory(node *c.Node, guid [16]byte) ([]byte, error) {
	data := []byte{}

	if node.Path == "/" {
		label, err := NewVolumeLabelDirent(b.options.Label)
		if err != nil {
			return nil, err
		}
		data = append(data, label.Encode()...)

		for i, bitmap := range b.bitmaps {
			dirent := AllocationBitmapDirent{
				EntryType:    AllocationBitmap.EntryType().Encode(),
				BitmapFlags:  uint8(i),
				FirstCluster: uint32(bitmap.first),
				DataLength:   ClusterBitmapSize(b.geometry.clusterCount),
			}
			data = append(data, dirent.Encode()...)
		}

		upcaseDirent := UpcaseTableDirent{
			EntryType:     UpcaseTable.EntryType().Encode(),
			TableChecksum: TableChecksum(b.upcaseData),
			FirstCluster:  uint32(b.upcaseTable.first),
			DataLength:    uint64(len(b.upcaseData)),
		}
		data = append(data, upcaseDirent.Encode()...)

		guidDirent := VolumeGuidDirent{
			EntryType:           VolumeGuid.EntryType().Encode(),
			GeneralPrimaryFlags: uint16(VolumeGuidFlags().Encode()),
			VolumeGuid:          guid,
		}
		data = append(data, guidDirent.Encode()...)
	}

	timestamp := NewTimestamp(b.options.Timestamp)
	for _, child := range node.Children {
		set, err := NewFileEntrySet(child.Name, b.attributes(child), b.upcase)
		if err != nil {
			return nil, err
		}

		taken := b.nodes[child]
		if child.IsDir {
			set.SetData(uint32(taken.first), uint64(taken.clusters)*b.bytesPerCluster)
		} else {
			set.SetData(uint32(taken.first), uint64(child.Size()))
		}
		set.File.SetTimestamps(timestamp, timestamp, timestamp)
		data = append(data, set.Encode()...)
	}
	return data, nil
}

func (b *imageBuilder) assemble(root *c.Node, guid [16]byte) ([]byte, error) {
	bytesPerSector := uint64(b.bootSector.BytesPerSector())
	image := make([]byte, b.geometry.volumeLength*bytesPerSector)

	bootRegion := EncodeBootRegion(b.bootSector)
	copy(image, bootRegion)
	copy(image[len(bootRegion):], bootRegion)

	fat := b.table.Encode(uint32(bytesPerSector))
	for i := uint64(0); i < uint64(b.bootSector.NumberOfFats); i++ {
		offset := (uint64(b.bootSector.FatOffset) + i*uint64(b.geometry.fatLength)) * bytesPerSector
		copy(image[offset:], fat)
	}

	bitmapData := b.bitmap.Encode()
	for _, bitmap := range b.bitmaps {
		copy(image[b.bootSector.ClusterOffset(bitmap.first):], bitmapData)
	}
	copy(image[b.bootSector.ClusterOffset(b.upcaseTable.first):], b.upcaseData)

	return image, root.Walk(func(node *c.Node) error {
		taken := b.nodes[node]
		if taken.clusters == 0 {
			return nil
		}

		data := node.Data
		if node.IsDir {
			var err error
			data, err = b.encodeDirectory(node, guid)
			if err != nil {
				return imager.ErrInvalidArgument.WithMessage(node.Path).Wrap(err)
			}
		}
		copy(image[b.bootSector.ClusterOffset(taken.first):], data)
		return nil
	})
}

func (b *imageBuilder) placements(root *c.Node) []c.Placement {
	placements := []c.Placement{}
	root.Walk(func(node *c.Node) error {
		taken := b.nodes[node]
		size := node.Size()
		if node.IsDir {
			size = int64(taken.clusters) * int64(b.bytesPerCluster)
		}
		placements = append(placements, c.Placement{
			Path:         node.Path,
			FirstCluster: taken.first,
			Clusters:     taken.clusters,
			Size:         size,
			IsDir:        node.IsDir,
		})
		return nil
	})
	return placements
}
