package exfat_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/theos-os/imager/file_systems/exfat"
)

func TestNewTimestamp(t *testing.T) {
	ts := exfat.NewTimestamp(time.Date(2023, time.March, 14, 15, 9, 27, 530000000, time.UTC))

	date := uint32((43 << 9) | (3 << 5) | 14)
	clock := uint32((15 << 11) | (9 << 5) | 13)
	assert.Equal(t, date<<16|clock, ts.Packed)
	assert.EqualValues(t, 153, ts.Increment)
	assert.EqualValues(t, 0x80, ts.UtcOffset)
}

func TestTimestampConvertsToUTC(t *testing.T) {
	zone := time.FixedZone("UTC+2", 2*60*60)
	local := time.Date(2023, time.March, 14, 17, 9, 27, 0, zone)

	ts := exfat.NewTimestamp(local)
	assert.True(t, ts.Time().Equal(local))
	assert.Equal(t, time.UTC, ts.Time().Location())
}

func TestTimestampWithOffset(t *testing.T) {
	ts := exfat.NewTimestamp(time.Date(2023, time.March, 14, 15, 0, 0, 0, time.UTC))
	ts.Packed = ts.Packed&^0xffff | (17 << 11)
	ts.UtcOffset = 0x80 | 8 // UTC+2

	_, offset := ts.Time().Zone()
	assert.Equal(t, 2*60*60, offset)
	assert.Equal(t, 17, ts.Time().Hour())

	ts.UtcOffset = 0x80 | 0x7C // UTC-1
	_, offset = ts.Time().Zone()
	assert.Equal(t, -60*60, offset)
}

func TestTimestampRoundTrip(t *testing.T) {
	original := time.Date(2099, time.December, 31, 23, 59, 59, 990000000, time.UTC)
	assert.Equal(t, original, exfat.NewTimestamp(original).Time())
}
