package fat

import (
	"fmt"
	"os"
	"strings"
	"time"
	"unicode/utf16"

	"github.com/theos-os/imager"
	c "github.com/theos-os/imager/file_systems/common"
)

const (
	// AttrReadOnly is an attribute flag marking a directory entry as read-only.
	AttrReadOnly = 1

	// AttrHidden is an attribute flag marking a directory entry as "hidden", meaning it
	// wouldn't show up in normal directory listings.
	AttrHidden = 2

	// AttrSystem is an attribute flag marking a directory entry as essential to the
	// operating system and must not be moved (e.g. during defragmentation) because the
	// OS may have hard-coded pointers to the file.
	AttrSystem = 4

	// AttrVolumeLabel is an attribute flag that marks a file as containing the true
	// volume label of the file system. It must reside in the root directory, and there
	// must be only one.
	AttrVolumeLabel = 8

	// AttrDirectory is an attribute flag marking a directory entry as being a directory.
	AttrDirectory = 16

	// AttrArchived is an attribute flag used by some systems to mark a directory entry
	// as "dirty", and is set it whenever the directory entry is created or modified.
	AttrArchived = 32

	// AttrDevice is an attribute flag marking a directory entry as abstracting a device.
	AttrDevice = 64

	// AttrReserved is an attribute flag that is undefined by the FAT standard and must
	// not be modified by tools.
	AttrReserved = 128

	// AttrLongName is the combination of attributes that marks a long file name
	// entry. No real file has all four set.
	AttrLongName = AttrReadOnly | AttrHidden | AttrSystem | AttrVolumeLabel
)

// DirentSize is the size of a single raw directory entry, in bytes.
const DirentSize = 32

const (
	// direntFree in the first byte of a name marks the entry and all entries
	// after it as free.
	direntFree = 0x00
	// direntDeleted in the first byte of a name marks a deleted entry.
	direntDeleted = 0xE5

	lastLongNameEntry  = 0x40
	longNameOrderMask  = 0x1F
	charsPerLongName   = 13
	maxLongNameEntries = 20
	// MaxLongNameLength is the longest name long file name entries can hold, in
	// UTF-16 code units.
	MaxLongNameLength = 255
)

// RawDirent is the on-disk representation of a directory entry, broken down into its
// constituent fields.
type RawDirent struct {
	Name              [8]byte
	Extension         [3]byte
	AttributeFlags    uint8
	NTReserved        uint8
	CreatedTimeMillis uint8
	CreatedTime       uint16
	CreatedDate       uint16
	LastAccessedDate  uint16
	FirstClusterHigh  uint16
	LastModifiedTime  uint16
	LastModifiedDate  uint16
	FirstClusterLow   uint16
	FileSize          uint32
}

// LongNameDirent is the on-disk representation of one long file name entry.
// Each holds 13 UTF-16 code units of the name.
type LongNameDirent struct {
	Order           uint8
	Name1           [5]uint16
	AttributeFlags  uint8
	Type            uint8
	Checksum        uint8
	Name2           [6]uint16
	FirstClusterLow uint16
	Name3           [2]uint16
}

// NewRawDirent creates the 8.3 entry for `name`. All three timestamps are set
// to `timestamp`.
func NewRawDirent(
	name ShortFileName,
	attributes uint8,
	firstCluster c.ClusterID,
	size uint32,
	timestamp time.Time,
) RawDirent {
	raw := name.Raw()
	dirent := RawDirent{
		AttributeFlags:    attributes,
		CreatedTimeMillis: c.TimestampIncrement(timestamp),
		CreatedTime:       c.PackTime(timestamp),
		CreatedDate:       c.PackDate(timestamp),
		LastAccessedDate:  c.PackDate(timestamp),
		FirstClusterHigh:  uint16(firstCluster >> 16),
		LastModifiedTime:  c.PackTime(timestamp),
		LastModifiedDate:  c.PackDate(timestamp),
		FirstClusterLow:   uint16(firstCluster),
		FileSize:          size,
	}
	copy(dirent.Name[:], raw[:8])
	copy(dirent.Extension[:], raw[8:])
	return dirent
}

// NewRawDirentFromBytes deserializes 32 bytes into a RawDirent struct for further
// processing.
func NewRawDirentFromBytes(data []byte) (RawDirent, error) {
	dirent := RawDirent{}
	err := c.DecodeRecord(data, &dirent)
	return dirent, err
}

// RawName returns the name and extension as stored.
func (d *RawDirent) RawName() [11]byte {
	var raw [11]byte
	copy(raw[:8], d.Name[:])
	copy(raw[8:], d.Extension[:])
	return raw
}

func (d *RawDirent) FirstCluster() c.ClusterID {
	return c.ClusterID(uint32(d.FirstClusterHigh)<<16 | uint32(d.FirstClusterLow))
}

func (d *RawDirent) IsLongName() bool {
	return d.AttributeFlags&0x3F == AttrLongName
}

func (d *RawDirent) Encode() []byte {
	return c.MustEncodeRecord(d, DirentSize)
}

func (d *LongNameDirent) units() []uint16 {
	units := make([]uint16, 0, charsPerLongName)
	units = append(units, d.Name1[:]...)
	units = append(units, d.Name2[:]...)
	return append(units, d.Name3[:]...)
}

func (d *LongNameDirent) Encode() []byte {
	return c.MustEncodeRecord(d, DirentSize)
}

// LongNameDirents creates the long file name entries storing `name` for the
// short entry whose 11-byte name has checksum `checksum`. They're returned in
// the order they're written to disk, the last part of the name first.
func LongNameDirents(name string, checksum uint8) ([]LongNameDirent, error) {
	units := utf16.Encode([]rune(name))
	if len(units) == 0 {
		return nil, imager.ErrInvalidArgument.WithMessage("long file name can't be empty")
	}
	if len(units) > MaxLongNameLength {
		message := fmt.Sprintf(
			"%q has %d UTF-16 code units, maximum is %d", name, len(units), MaxLongNameLength)
		return nil, imager.ErrNameTooLong.WithMessage(message)
	}

	count := int(c.CeilDiv(uint64(len(units)), charsPerLongName))
	// The name is null-terminated unless it fills the last entry exactly, and
	// the rest is padded with 0xFFFF.
	padded := make([]uint16, count*charsPerLongName)
	for i := range padded {
		padded[i] = 0xFFFF
	}
	copy(padded, units)
	if len(units) < len(padded) {
		padded[len(units)] = 0
	}

	dirents := make([]LongNameDirent, count)
	for i := 0; i < count; i++ {
		part := padded[i*charsPerLongName : (i+1)*charsPerLongName]
		dirent := LongNameDirent{
			Order:          uint8(i + 1),
			AttributeFlags: AttrLongName,
			Checksum:       checksum,
		}
		if i == count-1 {
			dirent.Order |= lastLongNameEntry
		}
		copy(dirent.Name1[:], part[0:5])
		copy(dirent.Name2[:], part[5:11])
		copy(dirent.Name3[:], part[11:13])
		dirents[count-1-i] = dirent
	}
	return dirents, nil
}

// EncodeEntry serializes the entries for one file: the long file name entries
// if `longName` isn't empty, then the 8.3 entry.
func EncodeEntry(longName string, dirent RawDirent) ([]byte, error) {
	data := []byte{}
	if longName != "" {
		longNames, err := LongNameDirents(longName, LongNameChecksum(dirent.RawName()))
		if err != nil {
			return nil, err
		}
		for i := range longNames {
			data = append(data, longNames[i].Encode()...)
		}
	}
	return append(data, dirent.Encode()...), nil
}

// AttrFlagsToFileMode converts FAT attribute flags into os.FileMode flags.
func AttrFlagsToFileMode(flags uint8) os.FileMode {
	var mode os.FileMode

	// FAT has no way to mark files as executable or not, so the executable bit is always set.
	if (flags & AttrReadOnly) != 0 {
		mode = 0o555
	} else {
		mode = 0o777
	}

	if (flags & AttrDirectory) != 0 {
		mode |= os.ModeDir
	} else if (flags & AttrDevice) != 0 {
		mode |= os.ModeDevice | os.ModeCharDevice
	}
	return mode
}

// FileModeToAttrFlags is the inverse of AttrFlagsToFileMode for regular files
// and directories. Files get the archive flag, like a freshly written file.
func FileModeToAttrFlags(mode os.FileMode) uint8 {
	var flags uint8
	if mode.IsDir() {
		flags = AttrDirectory
	} else {
		flags = AttrArchived
	}
	if mode.Perm()&0o200 == 0 {
		flags |= AttrReadOnly
	}
	return flags
}

// Dirent is a representation of a FAT directory entry's data in a user-friendly
// format, e.g. 0x50FC is converted to a time.Time representing 2020-07-28.
type Dirent struct {
	// Name is the long file name if there is one, otherwise the short name with
	// its case restored from NTReserved.
	Name           string
	ShortName      ShortFileName
	AttributeFlags uint8
	NTReserved     uint8
	FirstCluster   c.ClusterID
	Size           uint32
	CreatedAt      time.Time
	LastModified   time.Time
	LastAccessed   time.Time
}

func (d *Dirent) IsDir() bool {
	return d.AttributeFlags&AttrDirectory != 0
}

func (d *Dirent) Mode() os.FileMode {
	return AttrFlagsToFileMode(d.AttributeFlags)
}

// NewDirentFromRaw creates a Dirent from an 8.3 entry. Timestamps are
// interpreted in `loc`.
func NewDirentFromRaw(rawDirent *RawDirent, longName string, loc *time.Location) Dirent {
	shortName := ShortFileNameFromRaw(rawDirent.RawName())
	name := longName
	if name == "" {
		display := shortName
		if rawDirent.NTReserved&NTResLowercaseStem != 0 {
			display.Stem = toLowerASCII(display.Stem)
		}
		if rawDirent.NTReserved&NTResLowercaseExtension != 0 {
			display.Extension = toLowerASCII(display.Extension)
		}
		name = display.String()
	}

	return Dirent{
		Name:           name,
		ShortName:      shortName,
		AttributeFlags: rawDirent.AttributeFlags,
		NTReserved:     rawDirent.NTReserved,
		FirstCluster:   rawDirent.FirstCluster(),
		Size:           rawDirent.FileSize,
		CreatedAt: c.TimestampFromParts(
			rawDirent.CreatedDate, rawDirent.CreatedTime, rawDirent.CreatedTimeMillis, loc),
		LastModified: c.TimestampFromParts(
			rawDirent.LastModifiedDate, rawDirent.LastModifiedTime, 0, loc),
		LastAccessed: c.DateFromInt(rawDirent.LastAccessedDate, loc),
	}
}

func toLowerASCII(s string) string {
	lowered := []byte(s)
	for i, char := range lowered {
		if 'A' <= char && char <= 'Z' {
			lowered[i] = char + 'a' - 'A'
		}
	}
	return string(lowered)
}

// longNameCollector accumulates long file name entries until the 8.3 entry they
// belong to shows up.
type longNameCollector struct {
	parts    [][]uint16
	checksum uint8
	expected int
	next     int
}

func (l *longNameCollector) reset() {
	*l = longNameCollector{}
}

func (l *longNameCollector) add(dirent *LongNameDirent) {
	order := int(dirent.Order & longNameOrderMask)
	if dirent.Order&lastLongNameEntry != 0 {
		if order == 0 || order > maxLongNameEntries {
			l.reset()
			return
		}
		l.parts = make([][]uint16, order)
		l.checksum = dirent.Checksum
		l.expected = order
		l.next = order
	}

	// Entries have to count down without gaps and agree on the checksum.
	if l.parts == nil || order != l.next || dirent.Checksum != l.checksum {
		l.reset()
		return
	}
	l.parts[order-1] = dirent.units()
	l.next--
}

// name returns the long name if a complete chain for `rawName` was collected.
func (l *longNameCollector) name(rawName [11]byte) string {
	if l.parts == nil || l.next != 0 || LongNameChecksum(rawName) != l.checksum {
		return ""
	}

	units := []uint16{}
	for _, part := range l.parts {
		units = append(units, part...)
	}
	for i, unit := range units {
		if unit == 0 {
			units = units[:i]
			break
		}
	}
	return string(utf16.Decode(units))
}

// Directory is the decoded contents of one directory.
type Directory struct {
	Entries []Dirent
	// Label is the volume label entry's name. Only the root directory has one.
	Label string
}

// DecodeDirectory decodes the entries of a directory. "." and ".." are
// skipped, as are deleted entries and long file name entries whose 8.3 entry
// doesn't match them. Decoding stops at the first free entry.
func DecodeDirectory(data []byte, loc *time.Location) (*Directory, error) {
	directory := &Directory{Entries: []Dirent{}}
	collector := longNameCollector{}

	for offset := 0; offset+DirentSize <= len(data); offset += DirentSize {
		raw, err := NewRawDirentFromBytes(data[offset : offset+DirentSize])
		if err != nil {
			return nil, err
		}

		switch {
		case raw.Name[0] == direntFree:
			return directory, nil
		case raw.Name[0] == direntDeleted:
			collector.reset()
			continue
		case raw.IsLongName():
			longName := LongNameDirent{}
			err = c.DecodeRecord(data[offset:offset+DirentSize], &longName)
			if err != nil {
				return nil, err
			}
			collector.add(&longName)
			continue
		}

		longName := collector.name(raw.RawName())
		collector.reset()

		if raw.AttributeFlags&AttrVolumeLabel != 0 {
			rawName := raw.RawName()
			directory.Label = strings.TrimRight(string(rawName[:]), " ")
			continue
		}
		if raw.Name[0] == '.' {
			continue
		}
		directory.Entries = append(directory.Entries, NewDirentFromRaw(&raw, longName, loc))
	}
	return directory, nil
}
