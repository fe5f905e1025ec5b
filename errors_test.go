package imager_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/theos-os/imager"
)

func TestImagerErrorWithMessage(t *testing.T) {
	newErr := imager.ErrNameTooLong.WithMessage("asdfqwerty")
	assert.Equal(
		t, "File name too long: asdfqwerty", newErr.Error(), "error message is wrong")
	assert.ErrorIs(t, newErr, imager.ErrNameTooLong)
}

func TestImagerErrorWithMessageChained(t *testing.T) {
	newErr := imager.ErrIO.WithMessage("first").WithMessage("second")
	assert.Equal(t, "Input/output error: first: second", newErr.Error())
	assert.ErrorIs(t, newErr, imager.ErrIO)
	assert.NotErrorIs(t, newErr, imager.ErrIdentification)
}

func TestImagerErrorWrap(t *testing.T) {
	originalErr := errors.New("original error")
	newErr := imager.ErrExists.Wrap(originalErr)
	expectedMessage := "File exists: original error"

	assert.EqualValues(t, expectedMessage, newErr.Error(), "error message is wrong")
	assert.ErrorIs(t, newErr, originalErr, "original error not set as parent")
	assert.ErrorIs(t, newErr, imager.ErrExists, "imager error not set as parent")
}

func TestFieldError(t *testing.T) {
	err := imager.NewFieldError(imager.ErrDirectoryEntryDecode, "EntryType", "TypeCode", 0x1f)
	assert.Equal(
		t,
		"Invalid directory entry: EntryType.TypeCode has invalid value 0x1f",
		err.Error())
	assert.ErrorIs(t, err, imager.ErrDirectoryEntryDecode)

	var fieldErr *imager.FieldError
	wrapped := imager.ErrIO.Wrap(err)
	assert.ErrorAs(t, wrapped, &fieldErr)
	assert.EqualValues(t, 0x1f, fieldErr.Value)
}
