package exfat

import (
	"time"

	c "github.com/theos-os/imager/file_systems/common"
)

// utcOffsetValid marks the UTC offset field as meaningful. The lower 7 bits are
// the offset in 15-minute increments; we always write UTC.
const utcOffsetValid = 0x80

// Timestamp is an exFAT timestamp split across its three directory entry
// fields.
type Timestamp struct {
	Packed    uint32
	Increment uint8
	UtcOffset uint8
}

// NewTimestamp converts `t` to UTC and packs it.
func NewTimestamp(t time.Time) Timestamp {
	t = c.ClampToDosRange(t.UTC())
	return Timestamp{
		Packed:    uint32(c.PackDate(t))<<16 | uint32(c.PackTime(t)),
		Increment: c.TimestampIncrement(t),
		UtcOffset: utcOffsetValid,
	}
}

// Time unpacks the timestamp. Timestamps with a valid UTC offset are returned
// in a fixed zone with that offset; the others in UTC.
func (ts Timestamp) Time() time.Time {
	location := time.UTC
	if ts.UtcOffset&utcOffsetValid != 0 && ts.UtcOffset != utcOffsetValid {
		// Sign-extend the 7-bit offset.
		quarters := int(int8(ts.UtcOffset<<1) >> 1)
		location = time.FixedZone("", quarters*15*60)
	}
	return c.TimestampFromParts(uint16(ts.Packed>>16), uint16(ts.Packed), ts.Increment, location)
}
