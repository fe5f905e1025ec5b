// Package volumeid derives volume serial numbers and volume GUIDs from a
// caller-owned random generator.
package volumeid

import (
	"encoding/binary"
	"time"

	"github.com/google/uuid"
	"github.com/theos-os/imager/utilities/mt19937"
)

// gregorianOffset is the number of 100ns intervals between 1582-10-15 and the
// Unix epoch.
const gregorianOffset = 0x01b21dd213814000

// SerialNumber returns a 32-bit volume serial number.
func SerialNumber(generator *mt19937.Generator) uint32 {
	return generator.Uint32()
}

// NewGUID creates a version 1 (time-based) GUID for timestamp `now`. The clock
// sequence comes from `generator`. If `node` is nil, the node ID is drawn from
// the generator as well, with the multicast bit set so it can never collide
// with a real MAC address (RFC 4122 section 4.5).
func NewGUID(generator *mt19937.Generator, now time.Time, node []byte) uuid.UUID {
	var guid uuid.UUID

	ticks := uint64(now.UnixNano()/100) + gregorianOffset
	binary.BigEndian.PutUint32(guid[0:4], uint32(ticks))
	binary.BigEndian.PutUint16(guid[4:6], uint16(ticks>>32))
	binary.BigEndian.PutUint16(guid[6:8], uint16(ticks>>48)&0x0fff|0x1000)

	clockSequence := generator.Uint16()
	guid[8] = byte(clockSequence>>8)&0x3f | 0x80
	guid[9] = byte(clockSequence)

	if len(node) >= 6 {
		copy(guid[10:], node[:6])
	} else {
		high := generator.Uint32()
		low := generator.Uint16()
		binary.BigEndian.PutUint32(guid[10:14], high)
		binary.BigEndian.PutUint16(guid[14:16], low)
		guid[10] |= 0x01
	}
	return guid
}

// ToMixedEndian converts a GUID to the layout Microsoft file systems store on
// disk: the first three groups little-endian, the last eight bytes as-is.
func ToMixedEndian(guid uuid.UUID) [16]byte {
	var raw [16]byte
	binary.LittleEndian.PutUint32(raw[0:4], binary.BigEndian.Uint32(guid[0:4]))
	binary.LittleEndian.PutUint16(raw[4:6], binary.BigEndian.Uint16(guid[4:6]))
	binary.LittleEndian.PutUint16(raw[6:8], binary.BigEndian.Uint16(guid[6:8]))
	copy(raw[8:], guid[8:])
	return raw
}

// FromMixedEndian is the inverse of ToMixedEndian.
func FromMixedEndian(raw [16]byte) uuid.UUID {
	var guid uuid.UUID
	binary.BigEndian.PutUint32(guid[0:4], binary.LittleEndian.Uint32(raw[0:4]))
	binary.BigEndian.PutUint16(guid[4:6], binary.LittleEndian.Uint16(raw[4:6]))
	binary.BigEndian.PutUint16(guid[6:8], binary.LittleEndian.Uint16(raw[6:8]))
	copy(guid[8:], raw[8:])
	return guid
}
