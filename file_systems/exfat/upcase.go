package exfat

import (
	"encoding/binary"
	"fmt"
	"unicode"
	"unicode/utf16"

	"github.com/theos-os/imager"
)

// upcaseRunMarker starts a run of code points that map to themselves. It's
// followed by the length of the run.
const upcaseRunMarker = 0xFFFF

// Runs shorter than this are cheaper to store as individual mappings.
const minimumCompressedRun = 3

// Upcase maps every UTF-16 code unit to its up-case equivalent.
type Upcase [0x10000]uint16

// NewUpcase builds the mapping with Go's Unicode tables. Code points whose
// up-case form isn't a single BMP code unit map to themselves, as do
// surrogates.
func NewUpcase() *Upcase {
	upcase := &Upcase{}
	for unit := 0; unit < len(upcase); unit++ {
		upcase[unit] = uint16(unit)
		if utf16.IsSurrogate(rune(unit)) {
			continue
		}
		upper := unicode.ToUpper(rune(unit))
		if upper <= 0xFFFF && !utf16.IsSurrogate(upper) {
			upcase[unit] = uint16(upper)
		}
	}
	return upcase
}

// Convert up-cases every code unit of `name`.
func (u *Upcase) Convert(name []uint16) []uint16 {
	converted := make([]uint16, len(name))
	for i, unit := range name {
		converted[i] = u[unit]
	}
	return converted
}

// Compress encodes the table the way it's stored on disk: runs of identity
// mappings are replaced with the run marker and the run's length.
func (u *Upcase) Compress() []byte {
	units := []uint16{}

	for i := 0; i < len(u); {
		run := 0
		for i+run < len(u) && run < 0xFFFF && u[i+run] == uint16(i+run) {
			run++
		}

		// A literal 0xFFFF would be read as a run marker, so a run reaching the
		// end of the table is always compressed.
		if run >= minimumCompressedRun || (run > 0 && i+run == len(u)) {
			units = append(units, upcaseRunMarker, uint16(run))
			i += run
			continue
		}
		if run == 0 {
			run = 1
		}
		units = append(units, u[i:i+run]...)
		i += run
	}

	data := make([]byte, len(units)*2)
	for i, unit := range units {
		binary.LittleEndian.PutUint16(data[i*2:], unit)
	}
	return data
}

// DecodeUpcase expands a compressed up-case table. Code units past the end of
// the table map to themselves.
func DecodeUpcase(data []byte) (*Upcase, error) {
	if len(data)%2 != 0 {
		message := fmt.Sprintf("up-case table must have an even length, got %d", len(data))
		return nil, imager.ErrFileSystemCorrupted.WithMessage(message)
	}

	upcase := &Upcase{}
	for unit := range upcase {
		upcase[unit] = uint16(unit)
	}

	next := 0
	for i := 0; i < len(data); i += 2 {
		value := binary.LittleEndian.Uint16(data[i:])
		if value == upcaseRunMarker {
			if i+2 >= len(data) {
				return nil, imager.ErrFileSystemCorrupted.WithMessage(
					"up-case table ends in the middle of a run")
			}
			i += 2
			next += int(binary.LittleEndian.Uint16(data[i:]))
			continue
		}

		if next >= len(upcase) {
			return nil, imager.ErrFileSystemCorrupted.WithMessage(
				"up-case table maps more than 65536 code units")
		}
		upcase[next] = value
		next++
	}
	return upcase, nil
}
