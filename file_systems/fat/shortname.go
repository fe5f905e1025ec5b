package fat

import (
	"fmt"
	"path"
	"strconv"
	"strings"

	"github.com/elliotwutingfeng/asciiset"
	"github.com/theos-os/imager"
)

var validShortNameCharacters, _ = asciiset.MakeASCIISet(
	"!#$%&'()-0123456789@ABCDEFGHIJKLMNOPQRSTUVWXYZ^_`{}~")

const (
	maxStemLength      = 8
	maxExtensionLength = 3
	maxNumericTail     = 999999
)

const (
	// NTResLowercaseStem in RawDirent.NTReserved means the stem is displayed in
	// lowercase.
	NTResLowercaseStem = 0x08
	// NTResLowercaseExtension means the extension is displayed in lowercase.
	NTResLowercaseExtension = 0x10
)

// ShortFileName is an 8.3 file name split into its two parts. It isn't
// necessarily legal; see Legalize.
type ShortFileName struct {
	Stem      string
	Extension string
}

// NewShortFileName splits the last component of `filePath` into a stem and an
// extension at the last dot. A leading dot isn't an extension separator, so
// ".gitignore" has no extension. Paths without a file name component, such as
// "" or "..", give an empty name.
func NewShortFileName(filePath string) ShortFileName {
	base := path.Base(filePath)
	if base == "." || base == ".." || base == "/" {
		return ShortFileName{}
	}

	lastDot := strings.LastIndex(base, ".")
	if lastDot <= 0 {
		return ShortFileName{Stem: base}
	}
	return ShortFileName{Stem: base[:lastDot], Extension: base[lastDot+1:]}
}

// String formats the name the way DOS displays it, e.g. "README.TXT".
func (n ShortFileName) String() string {
	if n.Extension == "" {
		return n.Stem
	}
	return n.Stem + "." + n.Extension
}

// Legalize converts the name into one that can be stored in a directory entry:
// letters are upper-cased, spaces and dots are removed, other characters not
// allowed in 8.3 names are replaced with underscores, and both parts are
// truncated. The boolean is true if any information other than case was lost.
func (n ShortFileName) Legalize() (ShortFileName, bool) {
	stem, stemLossy := legalizePart(n.Stem, maxStemLength)
	extension, extensionLossy := legalizePart(n.Extension, maxExtensionLength)
	return ShortFileName{Stem: stem, Extension: extension}, stemLossy || extensionLossy
}

func legalizePart(part string, maxLength int) (string, bool) {
	lossy := false
	legal := make([]byte, 0, len(part))

	for _, char := range part {
		switch {
		case char < 0x80 && validShortNameCharacters.Contains(byte(char)):
			legal = append(legal, byte(char))
		case 'a' <= char && char <= 'z':
			// lower-case characters should be upper-cased
			legal = append(legal, byte(char-'a'+'A'))
		case char == ' ' || char == '.':
			lossy = true
		default:
			legal = append(legal, '_')
			lossy = true
		}
	}

	if len(legal) > maxLength {
		legal = legal[:maxLength]
		lossy = true
	}
	return string(legal), lossy
}

// IsLegal reports whether the name can be stored as-is.
func (n ShortFileName) IsLegal() bool {
	legal, lossy := n.Legalize()
	return !lossy && legal == n && n.Stem != ""
}

// Raw returns the 11-byte space-padded form stored in directory entries. A
// leading 0xE5 is stored as 0x05, since 0xE5 marks deleted entries.
func (n ShortFileName) Raw() [11]byte {
	var raw [11]byte
	for i := range raw {
		raw[i] = ' '
	}
	copy(raw[:maxStemLength], n.Stem)
	copy(raw[maxStemLength:], n.Extension)
	if raw[0] == 0xE5 {
		raw[0] = 0x05
	}
	return raw
}

// ShortFileNameFromRaw is the inverse of ShortFileName.Raw.
func ShortFileNameFromRaw(raw [11]byte) ShortFileName {
	if raw[0] == 0x05 {
		// First character of the filename is E5
		raw[0] = 0xE5
	}
	return ShortFileName{
		Stem:      strings.TrimRight(string(raw[:maxStemLength]), " "),
		Extension: strings.TrimRight(string(raw[maxStemLength:]), " "),
	}
}

// LongNameChecksum computes the checksum of an 11-byte short name that every
// long file name entry belonging to it carries.
func LongNameChecksum(raw [11]byte) uint8 {
	var sum uint8
	for _, b := range raw {
		sum = ((sum & 0x01) << 7) + (sum >> 1) + b
	}
	return sum
}

// GeneratedName is the short name chosen for a long file name.
type GeneratedName struct {
	ShortFileName
	// NeedsLongName is true if the short name doesn't preserve the long name, so
	// long file name entries have to be written.
	NeedsLongName bool
	// CaseFlags holds the NTRes bits restoring the long name's case when the
	// short name only differs by case.
	CaseFlags uint8
}

// ShortNameGenerator assigns unique short names within one directory. Names
// that can't be stored losslessly, and collisions, get a numeric tail ("~1",
// "~2", ...).
type ShortNameGenerator struct {
	used map[[11]byte]bool
}

func NewShortNameGenerator() *ShortNameGenerator {
	return &ShortNameGenerator{used: map[[11]byte]bool{}}
}

// Generate picks the short name for `longName` and reserves it.
func (g *ShortNameGenerator) Generate(longName string) (GeneratedName, error) {
	original := NewShortFileName(longName)
	if original.Stem == "" {
		return GeneratedName{}, imager.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("%q has no file name component", longName))
	}

	legal, lossy := original.Legalize()
	stemFlag, stemMixed := caseFlag(original.Stem, NTResLowercaseStem)
	extensionFlag, extensionMixed := caseFlag(original.Extension, NTResLowercaseExtension)

	if !lossy && !g.used[legal.Raw()] {
		g.used[legal.Raw()] = true
		if stemMixed || extensionMixed {
			// Case flags can't express mixed case, so only a long name keeps it.
			return GeneratedName{ShortFileName: legal, NeedsLongName: true}, nil
		}
		return GeneratedName{ShortFileName: legal, CaseFlags: stemFlag | extensionFlag}, nil
	}

	basis := legal.Stem
	if basis == "" {
		basis = "_"
	}
	for tail := 1; tail <= maxNumericTail; tail++ {
		suffix := "~" + strconv.Itoa(tail)
		stem := basis
		if len(stem)+len(suffix) > maxStemLength {
			stem = stem[:maxStemLength-len(suffix)]
		}

		candidate := ShortFileName{Stem: stem + suffix, Extension: legal.Extension}
		if !g.used[candidate.Raw()] {
			g.used[candidate.Raw()] = true
			return GeneratedName{ShortFileName: candidate, NeedsLongName: true}, nil
		}
	}

	message := fmt.Sprintf("no unique short name left for %q", longName)
	return GeneratedName{}, imager.ErrExists.WithMessage(message)
}

// Reserve marks `name` as taken, e.g. for "." and "..".
func (g *ShortNameGenerator) Reserve(name ShortFileName) {
	g.used[name.Raw()] = true
}

// caseFlag returns `flag` if `part` is entirely lowercase and the second result
// true if it mixes cases.
func caseFlag(part string, flag uint8) (uint8, bool) {
	hasLower := strings.ToUpper(part) != part
	hasUpper := strings.ToLower(part) != part
	switch {
	case hasLower && hasUpper:
		return 0, true
	case hasLower:
		return flag, false
	default:
		return 0, false
	}
}
