// Package builder turns a boot sector template and a directory on the host into
// a complete exFAT or FAT image, picking the file system from the template.
package builder

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/theos-os/imager"
	c "github.com/theos-os/imager/file_systems/common"
	"github.com/theos-os/imager/file_systems/exfat"
	"github.com/theos-os/imager/file_systems/fat"
	"github.com/theos-os/imager/utilities/mt19937"
)

// DefaultLabel is the volume label used when none is given.
const DefaultLabel = "THEOS"

// Options describes one image to build.
type Options struct {
	// Fs is where the template and source tree are read from. It defaults to
	// the host file system.
	Fs afero.Fs
	// TemplatePath is the boot sector template. Only its first sector is used.
	TemplatePath string
	// SourceDir is the directory that becomes the image's root directory.
	SourceDir string
	// Seed initializes the generator for the volume serial number and GUID.
	// Identical options give byte-identical images.
	Seed      uint32
	Label     string
	Timestamp time.Time
}

// Result is a built image and where every part of the source tree ended up.
type Result struct {
	FileSystemType c.FileSystemType
	Image          []byte
	// Placements lists the root directory and then every node of the source
	// tree in pre-order.
	Placements []c.Placement
	// Files and Directories count the source tree, excluding the root.
	Files       int
	Directories int
}

// Build reads the template and the source tree, then dispatches to the exFAT or
// FAT builder depending on what the template identifies as.
func Build(options Options) (*Result, error) {
	fs := options.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}

	template, err := afero.ReadFile(fs, options.TemplatePath)
	if err != nil {
		return nil, imager.ErrIO.WithMessage(
			fmt.Sprintf("can't read template %q", options.TemplatePath)).Wrap(err)
	}

	fsType, err := c.Identify(template)
	if err != nil {
		return nil, err
	}
	log.Debugf("template %s identifies as %s", options.TemplatePath, fsType)

	root, err := c.ReadTree(fs, options.SourceDir)
	if err != nil {
		return nil, err
	}
	files, directories := root.Count()
	log.Debugf(
		"read %d files and %d directories from %s", files, directories, options.SourceDir)

	timestamp := options.Timestamp
	if timestamp.IsZero() {
		timestamp = time.Now()
	}
	generator := mt19937.New(options.Seed)

	result := &Result{
		FileSystemType: fsType,
		Files:          files,
		Directories:    directories,
	}

	switch fsType {
	case c.Exfat:
		built, err := exfat.Build(
			template,
			root,
			generator,
			exfat.Options{Label: options.Label, Timestamp: timestamp})
		if err != nil {
			return nil, err
		}
		result.Image = built.Image
		result.Placements = built.Placements
	case c.Fat12, c.Fat16, c.Fat32:
		bootSector, err := fat.LoadBootSector(fs, options.TemplatePath)
		if err != nil {
			return nil, err
		}
		built, err := fat.BuildFromBootSector(
			bootSector,
			root,
			generator,
			fat.Options{Label: options.Label, Timestamp: timestamp})
		if err != nil {
			return nil, err
		}
		result.Image = built.Image
		result.Placements = built.Placements
	default:
		return nil, imager.ErrUnsupportedFileSystem.WithMessage(fsType.String())
	}

	log.Debugf("built %s image of %s", fsType, humanize.IBytes(uint64(len(result.Image))))
	return result, nil
}
