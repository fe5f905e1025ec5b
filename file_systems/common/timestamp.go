package common

import "time"

// DosEpoch is the earliest timestamp representable in a FAT or exFAT directory
// entry, 1980-01-01 00:00:00.
var DosEpoch = time.Date(1980, time.January, 1, 0, 0, 0, 0, time.UTC)

// DosLatest is the latest timestamp representable in a FAT or exFAT directory
// entry. Odd seconds are only representable with the 10ms increment field.
var DosLatest = time.Date(2107, time.December, 31, 23, 59, 59, 990000000, time.UTC)

// ClampToDosRange forces `t` into the range FAT timestamps can represent,
// keeping its location.
func ClampToDosRange(t time.Time) time.Time {
	if t.Before(DosEpoch.In(t.Location())) {
		return time.Date(1980, time.January, 1, 0, 0, 0, 0, t.Location())
	}
	if t.After(DosLatest.In(t.Location())) {
		return time.Date(2107, time.December, 31, 23, 59, 59, 990000000, t.Location())
	}
	return t
}

// PackDate converts a date into its FAT on-disk representation: the day in bits
// 0-4, the month in bits 5-8, and the year minus 1980 in bits 9-15.
func PackDate(t time.Time) uint16 {
	t = ClampToDosRange(t)
	return uint16(t.Day()) | uint16(t.Month())<<5 | uint16(t.Year()-1980)<<9
}

// PackTime converts a time of day into its FAT on-disk representation with a
// two-second granularity. Use TimestampIncrement for the remainder.
func PackTime(t time.Time) uint16 {
	t = ClampToDosRange(t)
	return uint16(t.Second()/2) | uint16(t.Minute())<<5 | uint16(t.Hour())<<11
}

// TimestampIncrement gives the number of 10ms units to add to the packed time,
// in the range [0, 199].
func TimestampIncrement(t time.Time) uint8 {
	t = ClampToDosRange(t)
	return uint8((t.Second()%2)*100 + t.Nanosecond()/10000000)
}

// DateFromInt converts the FAT on-disk representation of a date into a Go
// time.Time in `loc`.
func DateFromInt(value uint16, loc *time.Location) time.Time {
	day := int(value & 0x001f)
	month := time.Month((value >> 5) & 0x000f)
	year := int(1980 + (value >> 9))

	return time.Date(year, month, day, 0, 0, 0, 0, loc)
}

// TimestampFromParts converts a FAT timestamp into a time.Time object. datePart is
// required; timePart and increment should be 0 if they're not present in the
// source field(s). `increment` counts 10ms units.
func TimestampFromParts(datePart uint16, timePart uint16, increment uint8, loc *time.Location) time.Time {
	date := DateFromInt(datePart, loc)

	seconds := int(timePart&0x001f) * 2
	if increment >= 100 {
		seconds++
		increment -= 100
	}

	minutes := int((timePart >> 5) & 0x003f)
	hours := int(timePart >> 11)
	nanoseconds := int(increment) * 10000000

	return time.Date(
		date.Year(), date.Month(), date.Day(), hours, minutes, seconds, nanoseconds, loc)
}
