package builder

import (
	"bytes"
	"fmt"
	"io"

	"github.com/spf13/afero"
	"github.com/theos-os/imager"
	c "github.com/theos-os/imager/file_systems/common"
	"github.com/theos-os/imager/file_systems/exfat"
	"github.com/theos-os/imager/file_systems/fat"
	"github.com/theos-os/imager/utilities/compression"
	"github.com/xaionaro-go/bytesextra"
)

// LoadImage reads an image file into memory, decompressing it first if it was
// written by WriteCompressedImage.
func LoadImage(fs afero.Fs, path string) (io.ReadSeeker, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, imager.ErrIO.WithMessage(fmt.Sprintf("can't read image %q", path)).Wrap(err)
	}

	if compression.IsCompressed(data) {
		data, err = compression.DecompressImageToBytes(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
	}
	return bytesextra.NewReadWriteSeeker(data), nil
}

// Inspect decodes the image in `stream` and writes a description of its boot
// sector and directory tree to `w`.
func Inspect(stream io.ReadSeeker, w io.Writer) (c.FileSystemType, error) {
	header := make([]byte, c.IdentificationLength)
	_, err := stream.Seek(0, io.SeekStart)
	if err != nil {
		return 0, imager.ErrIO.Wrap(err)
	}
	_, err = io.ReadFull(stream, header)
	if err != nil {
		return 0, imager.ErrIdentification.WithMessage("image is too short").Wrap(err)
	}

	fsType, err := c.Identify(header)
	if err != nil {
		return 0, err
	}
	_, err = stream.Seek(0, io.SeekStart)
	if err != nil {
		return fsType, imager.ErrIO.Wrap(err)
	}

	if fsType == c.Exfat {
		volume, err := exfat.Read(stream)
		if err != nil {
			return fsType, err
		}
		return fsType, volume.Describe(w)
	}

	volume, err := fat.Read(stream)
	if err != nil {
		return fsType, err
	}
	return fsType, volume.Describe(w)
}
