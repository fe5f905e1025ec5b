package exfat

import (
	"fmt"
	"unicode/utf16"

	"github.com/theos-os/imager"
)

// FileEntrySet is the group of entries describing one file or directory: the
// File entry, its StreamExtension, and as many FileName entries as the name
// needs.
type FileEntrySet struct {
	File   FileDirent
	Stream StreamExtensionDirent
	Names  []FileNameDirent
}

// FileEntrySetLength gives the number of directory entries the set for a file
// named `name` occupies.
func FileEntrySetLength(name string) int {
	units := len(utf16.Encode([]rune(name)))
	return 2 + (units+FileNameEntryLength-1)/FileNameEntryLength
}

// NewFileEntrySet creates the entry set for a file named `name`. The name hash
// is computed with `upcase`. Location and size fields are left for the caller.
func NewFileEntrySet(name string, attributes uint16, upcase *Upcase) (*FileEntrySet, error) {
	units := utf16.Encode([]rune(name))
	if len(units) == 0 {
		return nil, imager.ErrInvalidArgument.WithMessage("file name can't be empty")
	}
	if len(units) > MaxFileNameLength {
		message := fmt.Sprintf(
			"%q is %d UTF-16 code units long, maximum is %d",
			name,
			len(units),
			MaxFileNameLength)
		return nil, imager.ErrNameTooLong.WithMessage(message)
	}

	set := &FileEntrySet{
		File: FileDirent{
			EntryType:      File.EntryType().Encode(),
			FileAttributes: attributes,
		},
		Stream: StreamExtensionDirent{
			EntryType:             StreamExtension.EntryType().Encode(),
			GeneralSecondaryFlags: StreamExtensionFlags().Encode(),
			NameLength:            uint8(len(units)),
			NameHash:              NameHash(upcase.Convert(units)),
		},
	}

	for start := 0; start < len(units); start += FileNameEntryLength {
		entry := FileNameDirent{
			EntryType:             FileName.EntryType().Encode(),
			GeneralSecondaryFlags: FileNameFlags().Encode(),
		}
		copy(entry.FileName[:], units[start:])
		set.Names = append(set.Names, entry)
	}
	set.File.SecondaryCount = uint8(1 + len(set.Names))
	return set, nil
}

// SetData points the set at the file's data. Directories pass the full size of
// their clusters as `length`.
func (s *FileEntrySet) SetData(firstCluster uint32, length uint64) {
	s.Stream.FirstCluster = firstCluster
	s.Stream.DataLength = length
	s.Stream.ValidDataLength = length
}

// Name reassembles the file name from the FileName entries.
func (s *FileEntrySet) Name() string {
	return string(utf16.Decode(s.nameUnits()))
}

func (s *FileEntrySet) nameUnits() []uint16 {
	units := make([]uint16, 0, len(s.Names)*FileNameEntryLength)
	for _, entry := range s.Names {
		units = append(units, entry.FileName[:]...)
	}
	if int(s.Stream.NameLength) < len(units) {
		units = units[:s.Stream.NameLength]
	}
	return units
}

func (s *FileEntrySet) IsDir() bool {
	return s.File.FileAttributes&AttrDirectory != 0
}

// Encode serializes the whole set and fills in the SetChecksum.
func (s *FileEntrySet) Encode() []byte {
	s.File.SecondaryCount = uint8(1 + len(s.Names))
	s.File.SetChecksum = 0

	data := make([]byte, 0, (2+len(s.Names))*DirentSize)
	data = append(data, s.File.Encode()...)
	data = append(data, s.Stream.Encode()...)
	for i := range s.Names {
		data = append(data, s.Names[i].Encode()...)
	}

	checksum := SetChecksum(data)
	s.File.SetChecksum = checksum
	data[2] = byte(checksum)
	data[3] = byte(checksum >> 8)
	return data
}

// DecodeFileEntrySet deserializes an entry set from the beginning of `data`,
// checking its structure, set checksum, and name hash.
func DecodeFileEntrySet(data []byte, upcase *Upcase) (*FileEntrySet, error) {
	primary, err := DecodeDirent(data)
	if err != nil {
		return nil, err
	}
	file, ok := primary.(*FileDirent)
	if !ok {
		return nil, imager.NewFieldError(
			imager.ErrDirectoryEntryDecode, "FileEntrySet", "EntryType", uint64(data[0]))
	}

	setLength := 1 + int(file.SecondaryCount)
	if file.SecondaryCount < 2 || len(data) < setLength*DirentSize {
		return nil, imager.NewFieldError(
			imager.ErrFileSystemCorrupted, "File", "SecondaryCount", uint64(file.SecondaryCount))
	}

	set := &FileEntrySet{File: *file}
	for i := 1; i < setLength; i++ {
		entryData := data[i*DirentSize : (i+1)*DirentSize]
		secondary, err := DecodeDirent(entryData)
		if err != nil {
			return nil, err
		}

		switch entry := secondary.(type) {
		case *StreamExtensionDirent:
			if i != 1 {
				return nil, imager.NewFieldError(
					imager.ErrFileSystemCorrupted, "FileEntrySet", "StreamExtension", uint64(i))
			}
			set.Stream = *entry
		case *FileNameDirent:
			if i == 1 {
				return nil, imager.NewFieldError(
					imager.ErrFileSystemCorrupted, "FileEntrySet", "StreamExtension", uint64(i))
			}
			set.Names = append(set.Names, *entry)
		default:
			return nil, imager.NewFieldError(
				imager.ErrDirectoryEntryDecode, "FileEntrySet", "EntryType", uint64(entryData[0]))
		}
	}

	expectedChecksum := SetChecksum(data[:setLength*DirentSize])
	if expectedChecksum != file.SetChecksum {
		return nil, imager.NewFieldError(
			imager.ErrFileSystemCorrupted, "File", "SetChecksum", uint64(file.SetChecksum))
	}

	units := set.nameUnits()
	if len(units) != int(set.Stream.NameLength) {
		return nil, imager.NewFieldError(
			imager.ErrFileSystemCorrupted, "StreamExtension", "NameLength", uint64(set.Stream.NameLength))
	}
	if NameHash(upcase.Convert(units)) != set.Stream.NameHash {
		return nil, imager.NewFieldError(
			imager.ErrFileSystemCorrupted, "StreamExtension", "NameHash", uint64(set.Stream.NameHash))
	}
	return set, nil
}
