package builder

import (
	"bytes"
	"fmt"
	"io"
	"path/filepath"

	"github.com/gocarina/gocsv"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/theos-os/imager"
	c "github.com/theos-os/imager/file_systems/common"
	"github.com/theos-os/imager/utilities/compression"
)

// WriteImage writes the image to `path` on `fs`. The image goes to a temporary
// file in the same directory first and is renamed into place, so `path` is
// never left holding a partial image.
func WriteImage(fs afero.Fs, path string, result *Result) error {
	return writeAtomically(fs, path, func(w io.Writer) error {
		_, err := w.Write(result.Image)
		if err != nil {
			return imager.ErrIO.Wrap(err)
		}
		return nil
	})
}

// WriteCompressedImage is WriteImage with the image compressed by
// compression.CompressImage.
func WriteCompressedImage(fs afero.Fs, path string, result *Result) error {
	return writeAtomically(fs, path, func(w io.Writer) error {
		n, err := compression.CompressImage(bytes.NewReader(result.Image), w)
		if err == nil {
			log.Debugf("RLE8 pass shrank %d bytes to %d", len(result.Image), n)
		}
		return err
	})
}

func writeAtomically(fs afero.Fs, path string, write func(w io.Writer) error) error {
	dir, base := filepath.Split(path)
	if dir == "" {
		dir = "."
	}

	tempFile, err := afero.TempFile(fs, dir, "."+base+".*.tmp")
	if err != nil {
		return imager.ErrIO.WithMessage(fmt.Sprintf("can't create a file in %q", dir)).Wrap(err)
	}
	tempPath := tempFile.Name()

	err = write(tempFile)
	closeErr := tempFile.Close()
	if err == nil && closeErr != nil {
		err = imager.ErrIO.Wrap(closeErr)
	}
	if err == nil {
		err = fs.Chmod(tempPath, 0o644)
		if err != nil {
			err = imager.ErrIO.Wrap(err)
		}
	}
	if err == nil {
		err = fs.Rename(tempPath, path)
		if err != nil {
			err = imager.ErrIO.WithMessage(fmt.Sprintf("can't move image to %q", path)).Wrap(err)
		}
	}

	if err != nil {
		removeErr := fs.Remove(tempPath)
		if removeErr != nil {
			log.Warnf("failed to remove temporary file %s: %s", tempPath, removeErr)
		}
		return err
	}
	return nil
}

// ManifestRow is one line of the CSV manifest.
type ManifestRow struct {
	Path         string `csv:"path"`
	ShortName    string `csv:"short_name"`
	FirstCluster uint32 `csv:"first_cluster"`
	Clusters     uint32 `csv:"clusters"`
	Size         int64  `csv:"size"`
	Directory    bool   `csv:"directory"`
}

// NewManifest converts placements into manifest rows, in the same order.
func NewManifest(placements []c.Placement) []*ManifestRow {
	rows := make([]*ManifestRow, 0, len(placements))
	for _, placement := range placements {
		rows = append(rows, &ManifestRow{
			Path:         placement.Path,
			ShortName:    placement.ShortName,
			FirstCluster: uint32(placement.FirstCluster),
			Clusters:     placement.Clusters,
			Size:         placement.Size,
			Directory:    placement.IsDir,
		})
	}
	return rows
}

// WriteManifest writes a CSV file with a header row and one row per placement.
func WriteManifest(w io.Writer, placements []c.Placement) error {
	err := gocsv.Marshal(NewManifest(placements), w)
	if err != nil {
		return imager.ErrIO.WithMessage("can't write manifest").Wrap(err)
	}
	return nil
}

// WriteManifestFile writes the manifest to `path` on `fs` the same way
// WriteImage writes images.
func WriteManifestFile(fs afero.Fs, path string, placements []c.Placement) error {
	return writeAtomically(fs, path, func(w io.Writer) error {
		return WriteManifest(w, placements)
	})
}

// ReadManifest parses a manifest written by WriteManifest.
func ReadManifest(r io.Reader) ([]*ManifestRow, error) {
	rows := []*ManifestRow{}
	err := gocsv.Unmarshal(r, &rows)
	if err != nil {
		return nil, imager.ErrInvalidArgument.WithMessage("malformed manifest").Wrap(err)
	}
	return rows, nil
}
