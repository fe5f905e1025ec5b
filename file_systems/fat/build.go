package fat

import (
	"fmt"
	"os"
	"strings"
	"time"
	"unicode/utf16"

	bitmap "github.com/boljen/go-bitmap"
	"github.com/dustin/go-humanize"
	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"
	"github.com/theos-os/imager"
	c "github.com/theos-os/imager/file_systems/common"
	"github.com/theos-os/imager/utilities/mt19937"
	"github.com/theos-os/imager/utilities/volumeid"
)

const (
	defaultRootEntryCount   = 512
	defaultFSInfoSector     = 1
	defaultBackupBootSector = 6
	defaultMedia            = 0xF8
	maxFileSize             = 0xFFFFFFFF
)

// Characters that may not appear in a long file name, besides control
// characters.
const invalidNameCharacters = "\"*/:<>?\\|"

// noLabel is stored in the boot sector of volumes without a label.
var noLabel = [11]byte{'N', 'O', ' ', 'N', 'A', 'M', 'E', ' ', ' ', ' ', ' '}

// Options controls the parts of an image that don't come from the template or
// the source tree.
type Options struct {
	Label string
	// Timestamp is used for every timestamp of every directory entry.
	Timestamp time.Time
}

// Result is a complete image and where everything in it ended up.
type Result struct {
	Image      []byte
	BootSector BootSector
	Geometry   Geometry
	// Placements lists the root directory and then every node of the source
	// tree in pre-order.
	Placements []c.Placement
}

type plannedNode struct {
	parent    *c.Node
	shortName GeneratedName
	// longName is empty if the short name preserves the name.
	longName string
	first    c.ClusterID
	clusters uint32
}

type imageBuilder struct {
	bootSector BootSector
	version    c.FileSystemType
	bpb        *BiosParameterBlock
	options    Options
	label      [11]byte
	hasLabel   bool
	geometry   Geometry
	table      *Table
	allocator  *clusterAllocator
	nodes      map[*c.Node]*plannedNode
}

// Build creates a FAT12, FAT16, or FAT32 image from a boot sector template and
// a source tree. The generation is the template's. The volume ID is drawn from
// `generator`.
func Build(
	template []byte, root *c.Node, generator *mt19937.Generator, options Options,
) (*Result, error) {
	bootSector, err := NewBootSector(template)
	if err != nil {
		return nil, err
	}
	return BuildFromBootSector(bootSector, root, generator, options)
}

// BuildFromBootSector is Build for a template that's already decoded, e.g. by
// LoadBootSector. `bootSector` is filled in and becomes the image's boot sector.
func BuildFromBootSector(
	bootSector BootSector, root *c.Node, generator *mt19937.Generator, options Options,
) (*Result, error) {
	b := &imageBuilder{
		bootSector: bootSector,
		version:    bootSector.FileSystemType(),
		bpb:        bootSector.Parameters(),
		options:    options,
		nodes:      map[*c.Node]*plannedNode{},
	}
	err := b.applyTemplateDefaults()
	if err != nil {
		return nil, err
	}

	b.label, b.hasLabel, err = NewVolumeLabel(options.Label)
	if err != nil {
		return nil, err
	}
	err = b.planNames(root)
	if err != nil {
		return nil, err
	}

	contentClusters := uint64(0)
	err = root.Walk(func(node *c.Node) error {
		clusters, err := b.nodeClusters(node)
		contentClusters += clusters
		return err
	})
	if err != nil {
		return nil, err
	}

	b.geometry, err = PlanGeometry(b.bpb, b.version, contentClusters)
	if err != nil {
		return nil, err
	}
	log.Debugf(
		"%s geometry: %d clusters of %s, FAT is %d sectors, data at sector %d, volume is %s",
		b.version,
		b.geometry.ClusterCount,
		humanize.IBytes(uint64(b.geometry.BytesPerCluster())),
		b.geometry.SectorsPerFAT,
		b.geometry.FirstDataSector,
		humanize.IBytes(uint64(b.geometry.TotalSectors)*uint64(b.geometry.BytesPerSector)))

	err = b.allocate(root)
	if err != nil {
		return nil, err
	}

	b.fillBootSector(root, volumeid.SerialNumber(generator))
	log.Debugf("%s volume ID %08X", b.version, b.bootSector.Extended().VolumeID)

	image, err := b.assemble(root)
	if err != nil {
		return nil, err
	}

	return &Result{
		Image:      image,
		BootSector: b.bootSector,
		Geometry:   b.geometry,
		Placements: b.placements(root),
	}, nil
}

// applyTemplateDefaults fills in the template fields that may be left 0 and
// validates the rest.
func (b *imageBuilder) applyTemplateDefaults() error {
	if b.version != c.Fat32 && b.bpb.RootEntryCount == 0 {
		b.bpb.RootEntryCount = defaultRootEntryCount
	}
	if b.bpb.Media == 0 {
		b.bpb.Media = defaultMedia
	}

	var result *multierror.Error
	err := ValidateParameters(b.bpb, b.version)
	if err != nil {
		result = multierror.Append(result, err)
	}

	if fat32, ok := b.bootSector.(*Fat32BootSector); ok {
		if fat32.FSInfoSector == 0 {
			fat32.FSInfoSector = defaultFSInfoSector
		}
		if fat32.BackupBootSector == 0 {
			fat32.BackupBootSector = defaultBackupBootSector
		}

		// The backup boot sector is followed by a copy of FSInfo, and both
		// have to fit in the reserved region.
		if uint32(fat32.BackupBootSector)+2 > uint32(b.bpb.ReservedSectors) {
			result = multierror.Append(
				result,
				imager.NewFieldError(
					imager.ErrInvalidArgument,
					"Fat32Parameters",
					"BackupBootSector",
					uint64(fat32.BackupBootSector)))
		}
		if fat32.FSInfoSector >= b.bpb.ReservedSectors ||
			fat32.FSInfoSector == fat32.BackupBootSector ||
			fat32.FSInfoSector == fat32.BackupBootSector+1 {
			result = multierror.Append(
				result,
				imager.NewFieldError(
					imager.ErrInvalidArgument,
					"Fat32Parameters",
					"FSInfoSector",
					uint64(fat32.FSInfoSector)))
		}
	}
	return result.ErrorOrNil()
}

// NewVolumeLabel converts `label` into the padded form stored in the boot
// sector and the label entry. It's upper-cased; other than that it must only
// contain characters valid in short names, and spaces. The boolean is false
// for an empty label, which gives "NO NAME".
func NewVolumeLabel(label string) ([11]byte, bool, error) {
	if label == "" {
		return noLabel, false, nil
	}

	upper := strings.ToUpper(label)
	if len(upper) > len(noLabel) {
		message := fmt.Sprintf("volume label %q is longer than %d characters", label, len(noLabel))
		return noLabel, false, imager.ErrNameTooLong.WithMessage(message)
	}

	raw := [11]byte{}
	for i := range raw {
		raw[i] = ' '
	}
	for i, char := range []byte(upper) {
		if char != ' ' && (char >= 0x80 || !validShortNameCharacters.Contains(char)) {
			message := fmt.Sprintf("volume label %q contains invalid character %q", label, char)
			return noLabel, false, imager.ErrInvalidArgument.WithMessage(message)
		}
		raw[i] = char
	}
	return raw, true, nil
}

func validateLongName(name string) imager.ImagerError {
	length := len(utf16.Encode([]rune(name)))
	if length > MaxLongNameLength {
		return imager.ErrNameTooLong.WithMessage(
			fmt.Sprintf("%d UTF-16 code units, maximum is %d", length, MaxLongNameLength))
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

// planNames validates every name in the tree and assigns short names. All
// problems are returned together.
func (b *imageBuilder) planNames(root *c.Node) error {
	var result *multierror.Error
	b.nodes[root] = &plannedNode{}

	root.Walk(func(node *c.Node) error {
		if node != root {
			err := validateLongName(node.Name)
			if err != nil {
				result = multierror.Append(result, err.WithMessage(node.Path))
			}
			if !node.IsDir && node.Size() > maxFileSize {
				message := fmt.Sprintf("%s is %s, FAT files are limited to 4 GiB", node.Path, humanize.IBytes(uint64(node.Size())))
				result = multierror.Append(result, imager.ErrInvalidArgument.WithMessage(message))
			}
		}

		generator := NewShortNameGenerator()
		seen := map[string]string{}
		for _, child := range node.Children {
			key := strings.ToUpper(child.Name)
			if previous, ok := seen[key]; ok {
				message := fmt.Sprintf("%s collides with %q", child.Path, previous)
				result = multierror.Append(result, imager.ErrExists.WithMessage(message))
				continue
			}
			seen[key] = child.Name

			shortName, err := generator.Generate(child.Name)
			if err != nil {
				result = multierror.Append(result, err)
				continue
			}
			planned := &plannedNode{parent: node, shortName: shortName}
			if shortName.NeedsLongName {
				planned.longName = child.Name
			}
			b.nodes[child] = planned
		}
		return nil
	})
	return result.ErrorOrNil()
}

func isRoot(node *c.Node) bool {
	return node.Path == "/"
}

// directoryEntries gives the number of 32-byte entries `node` needs.
func (b *imageBuilder) directoryEntries(node *c.Node) int {
	entries := 0
	if isRoot(node) {
		if b.hasLabel {
			entries++
		}
	} else {
		// "." and ".."
		entries = 2
	}

	for _, child := range node.Children {
		planned, ok := b.nodes[child]
		if !ok {
			continue
		}
		entries++
		if planned.longName != "" {
			entries += int(c.CeilDiv(uint64(len(utf16.Encode([]rune(planned.longName)))), charsPerLongName))
		}
	}
	return entries
}

// nodeClusters gives the number of clusters `node`'s data occupies. Directories
// get at least one cluster, except for the FAT12/16 root directory, which is
// outside the data region.
func (b *imageBuilder) nodeClusters(node *c.Node) (uint64, error) {
	bytesPerCluster := uint64(b.bpb.BytesPerCluster())
	if !node.IsDir {
		return c.CeilDiv(uint64(node.Size()), bytesPerCluster), nil
	}

	entries := b.directoryEntries(node)
	if isRoot(node) && b.version != c.Fat32 {
		if entries > int(b.bpb.RootEntryCount) {
			message := fmt.Sprintf(
				"root directory needs %d entries, %s root directory holds %d",
				entries,
				b.version,
				b.bpb.RootEntryCount)
			return 0, imager.ErrNoSpaceOnDevice.WithMessage(message)
		}
		return 0, nil
	}

	clusters := c.CeilDiv(uint64(entries)*DirentSize, bytesPerCluster)
	if clusters == 0 {
		clusters = 1
	}
	return clusters, nil
}

// PlanGeometry lays out a volume for `bpb` with room for `contentClusters`
// clusters of data. The volume is grown to the generation's minimum cluster
// count and to the template's size if it's larger.
func PlanGeometry(
	bpb *BiosParameterBlock, version c.FileSystemType, contentClusters uint64,
) (Geometry, error) {
	geometry := Geometry{
		Version:           version,
		BytesPerSector:    uint32(bpb.BytesPerSector),
		SectorsPerCluster: uint32(bpb.SectorsPerCluster),
		ReservedSectors:   uint32(bpb.ReservedSectors),
		NumFATs:           uint32(bpb.NumFATs),
		RootDirSectors:    bpb.RootDirSectors(),
	}

	clusterCount := contentClusters
	if minimum := uint64(MinClusterCount(version)); clusterCount < minimum {
		clusterCount = minimum
	}
	if fromTemplate := geometry.clustersFitting(bpb.TotalSectors()); fromTemplate > clusterCount {
		clusterCount = fromTemplate
	}
	if clusterCount > uint64(MaxClusterCount(version)) {
		message := fmt.Sprintf(
			"volume needs %d clusters, %s allows at most %d",
			clusterCount,
			version,
			MaxClusterCount(version))
		return Geometry{}, imager.ErrNoSpaceOnDevice.WithMessage(message)
	}

	geometry.ClusterCount = uint32(clusterCount)
	geometry.SectorsPerFAT = uint32(
		c.CeilDiv(TableSize(version, geometry.ClusterCount), uint64(geometry.BytesPerSector)))
	geometry.FirstDataSector = geometry.FirstRootDirSector() + geometry.RootDirSectors

	totalSectors := uint64(geometry.FirstDataSector) + clusterCount*uint64(geometry.SectorsPerCluster)
	if totalSectors > 0xFFFFFFFF {
		message := fmt.Sprintf("volume needs %d sectors, at most 2^32-1 are possible", totalSectors)
		return Geometry{}, imager.ErrNoSpaceOnDevice.WithMessage(message)
	}
	geometry.TotalSectors = uint32(totalSectors)
	return geometry, nil
}

// clustersFitting gives the number of clusters a volume of `totalSectors`
// sectors has room for. The FAT is sized for an upper bound of the cluster
// count, so it's never too small for the result.
func (g Geometry) clustersFitting(totalSectors uint32) uint64 {
	overhead := uint64(g.ReservedSectors) + uint64(g.RootDirSectors)
	if uint64(totalSectors) <= overhead {
		return 0
	}

	upperBound := (uint64(totalSectors) - overhead) / uint64(g.SectorsPerCluster)
	sectorsPerFAT := c.CeilDiv(
		TableSize(g.Version, uint32(upperBound)), uint64(g.BytesPerSector))
	fixed := overhead + uint64(g.NumFATs)*sectorsPerFAT
	if uint64(totalSectors) <= fixed {
		return 0
	}
	return (uint64(totalSectors) - fixed) / uint64(g.SectorsPerCluster)
}

// clusterAllocator hands out contiguous runs of clusters, first fit.
type clusterAllocator struct {
	used         bitmap.Bitmap
	clusterCount uint32
	hint         uint32
}

func newClusterAllocator(clusterCount uint32) *clusterAllocator {
	return &clusterAllocator{
		used:         bitmap.New(int(clusterCount)),
		clusterCount: clusterCount,
	}
}

func (a *clusterAllocator) allocate(count uint32) (c.ClusterID, error) {
	if count == 0 {
		return 0, nil
	}

	runStart, runLength := a.hint, uint32(0)
	for i := a.hint; i < a.clusterCount; i++ {
		if a.used.Get(int(i)) {
			runStart, runLength = i+1, 0
			continue
		}
		runLength++
		if runLength == count {
			for j := runStart; j <= i; j++ {
				a.used.Set(int(j), true)
			}
			a.hint = i + 1
			return c.ClusterID(runStart) + c.FirstDataCluster, nil
		}
	}

	message := fmt.Sprintf("no run of %d free clusters left", count)
	return 0, imager.ErrNoSpaceOnDevice.WithMessage(message)
}

// allocate assigns clusters to the tree in pre-order, so on FAT32 the root
// directory starts at cluster 2.
func (b *imageBuilder) allocate(root *c.Node) error {
	b.table = NewTable(b.version, b.geometry.ClusterCount, b.bpb.Media)
	b.allocator = newClusterAllocator(b.geometry.ClusterCount)

	return root.Walk(func(node *c.Node) error {
		clusters, err := b.nodeClusters(node)
		if err != nil {
			return err
		}

		first, err := b.allocator.allocate(uint32(clusters))
		if err != nil {
			return err
		}
		err = b.table.Link(first, uint32(clusters))
		if err != nil {
			return err
		}

		planned := b.nodes[node]
		planned.first = first
		planned.clusters = uint32(clusters)
		return nil
	})
}

func (b *imageBuilder) fillBootSector(root *c.Node, volumeID uint32) {
	b.bpb.SetTotalSectors(b.geometry.TotalSectors, b.version)

	switch bootSector := b.bootSector.(type) {
	case *Fat12BootSector:
		b.bpb.SectorsPerFAT16 = uint16(b.geometry.SectorsPerFAT)
		bootSector.Signature = BootSignature
	case *Fat16BootSector:
		b.bpb.SectorsPerFAT16 = uint16(b.geometry.SectorsPerFAT)
		bootSector.Signature = BootSignature
	case *Fat32BootSector:
		b.bpb.SectorsPerFAT16 = 0
		bootSector.SectorsPerFAT32 = b.geometry.SectorsPerFAT
		bootSector.ExtFlags = 0
		bootSector.FSVersion = 0
		bootSector.RootCluster = uint32(b.nodes[root].first)
		bootSector.Signature = BootSignature
	}

	extended := b.bootSector.Extended()
	extended.BootSignature = extendedBootSignature
	extended.VolumeID = volumeID
	extended.VolumeLabel = b.label
}

func (b *imageBuilder) attributes(node *c.Node) uint8 {
	mode := node.Mode
	if node.IsDir {
		mode |= os.ModeDir
	} else {
		mode &^= os.ModeDir
	}
	return FileModeToAttrFlags(mode)
}

func (b *imageBuilder) encodeDirectory(node *c.Node) ([]byte, error) {
	timestamp := b.options.Timestamp
	data := []byte{}

	if isRoot(node) {
		if b.hasLabel {
			label := NewRawDirent(ShortFileName{}, AttrVolumeLabel, 0, 0, timestamp)
			copy(label.Name[:], b.label[:8])
			copy(label.Extension[:], b.label[8:])
			data = append(data, label.Encode()...)
		}
	} else {
		planned := b.nodes[node]
		// ".." points at cluster 0 when the parent is the root, even on FAT32.
		parentCluster := c.ClusterID(0)
		if !isRoot(planned.parent) {
			parentCluster = b.nodes[planned.parent].first
		}

		dot := NewRawDirent(ShortFileName{Stem: "."}, AttrDirectory, planned.first, 0, timestamp)
		dotDot := NewRawDirent(ShortFileName{Stem: ".."}, AttrDirectory, parentCluster, 0, timestamp)
		data = append(data, dot.Encode()...)
		data = append(data, dotDot.Encode()...)
	}

	for _, child := range node.Children {
		planned := b.nodes[child]
		size := uint32(0)
		if !child.IsDir {
			size = uint32(child.Size())
		}

		dirent := NewRawDirent(
			planned.shortName.ShortFileName, b.attributes(child), planned.first, size, timestamp)
		dirent.NTReserved = planned.shortName.CaseFlags

		encoded, err := EncodeEntry(planned.longName, dirent)
		if err != nil {
			return nil, imager.ErrInvalidArgument.WithMessage(child.Path).Wrap(err)
		}
		data = append(data, encoded...)
	}
	return data, nil
}

func (b *imageBuilder) assemble(root *c.Node) ([]byte, error) {
	bytesPerSector := uint64(b.geometry.BytesPerSector)
	image := make([]byte, uint64(b.geometry.TotalSectors)*bytesPerSector)

	bootData := b.bootSector.Encode()
	copy(image, bootData)

	if fat32, ok := b.bootSector.(*Fat32BootSector); ok {
		fsInfo := NewFSInfo(b.table).Encode(b.geometry.BytesPerSector)
		copy(image[uint64(fat32.FSInfoSector)*bytesPerSector:], fsInfo)
		copy(image[uint64(fat32.BackupBootSector)*bytesPerSector:], bootData)
		copy(image[uint64(fat32.BackupBootSector+1)*bytesPerSector:], fsInfo)
	}

	fatData := b.table.Encode(uint64(b.geometry.SectorsPerFAT) * bytesPerSector)
	for i := uint32(0); i < b.geometry.NumFATs; i++ {
		sector := uint64(b.geometry.ReservedSectors) + uint64(i)*uint64(b.geometry.SectorsPerFAT)
		copy(image[sector*bytesPerSector:], fatData)
	}

	return image, root.Walk(func(node *c.Node) error {
		planned := b.nodes[node]
		data := node.Data
		if node.IsDir {
			var err error
			data, err = b.encodeDirectory(node)
			if err != nil {
				return err
			}
		}

		if isRoot(node) && b.version != c.Fat32 {
			copy(image[uint64(b.geometry.FirstRootDirSector())*bytesPerSector:], data)
		} else if planned.clusters > 0 {
			copy(image[b.geometry.ClusterOffset(planned.first):], data)
		}
		return nil
	})
}

func (b *imageBuilder) placements(root *c.Node) []c.Placement {
	placements := []c.Placement{}
	root.Walk(func(node *c.Node) error {
		planned := b.nodes[node]

		size := node.Size()
		if node.IsDir {
			size = int64(planned.clusters) * int64(b.geometry.BytesPerCluster())
			if isRoot(node) && b.version != c.Fat32 {
				size = int64(b.geometry.RootDirSectors) * int64(b.geometry.BytesPerSector)
			}
		}

		placements = append(placements, c.Placement{
			Path:         node.Path,
			ShortName:    planned.shortName.String(),
			FirstCluster: planned.first,
			Clusters:     planned.clusters,
			Size:         size,
			IsDir:        node.IsDir,
		})
		return nil
	})
	return placements
}
