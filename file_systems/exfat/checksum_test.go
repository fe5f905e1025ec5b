package exfat_test

import (
	"testing"
	"unicode/utf16"

	"github.com/stretchr/testify/assert"
	"github.com/theos-os/imager/file_systems/exfat"
)

func sequentialBytes(length int) []byte {
	data := make([]byte, length)
	for i := range data {
		data[i] = byte(i)
	}
	return data
}

func TestTableChecksum(t *testing.T) {
	assert.EqualValues(t, 0x40000004, exfat.TableChecksum([]byte{1, 2, 3}))
	assert.EqualValues(t, 0x400, exfat.TableChecksum(sequentialBytes(512)))
}

func TestBootChecksumSkipsVolatileFields(t *testing.T) {
	data := sequentialBytes(512)
	assert.EqualValues(t, 0xfffb841b, exfat.BootChecksum(data))

	// VolumeFlags and PercentInUse don't contribute.
	modified := append([]byte(nil), data...)
	modified[106] = 0xff
	modified[107] = 0xff
	modified[112] = 0xff
	assert.Equal(t, exfat.BootChecksum(data), exfat.BootChecksum(modified))

	modified[105] ^= 1
	assert.NotEqual(t, exfat.BootChecksum(data), exfat.BootChecksum(modified))
}

func TestSetChecksum(t *testing.T) {
	data := sequentialBytes(64)
	assert.EqualValues(t, 0x8047, exfat.SetChecksum(data))

	data[2] = 0xAA
	data[3] = 0x55
	assert.EqualValues(t, 0x8047, exfat.SetChecksum(data))
}

func TestNameHash(t *testing.T) {
	assert.EqualValues(t, 0x160f, exfat.NameHash(utf16.Encode([]rune("KERNEL.ELF"))))
	assert.EqualValues(t, 0, exfat.NameHash(nil))
}
