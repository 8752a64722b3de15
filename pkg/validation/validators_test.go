package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalizeMAC(t *testing.T) {
	got, err := CanonicalizeMAC("AA-BB-CC-DD-EE-FF")
	require.NoError(t, err)
	assert.Equal(t, "aa:bb:cc:dd:ee:ff", got)

	_, err = CanonicalizeMAC("not-a-mac")
	assert.Error(t, err)
}

func TestValidateSerial(t *testing.T) {
	assert.True(t, ValidateSerial("1a2b3c4d"))
	assert.True(t, ValidateSerial("1A2B3C4D"))
	assert.False(t, ValidateSerial("1a2b3c4"))
	assert.False(t, ValidateSerial("1a2b3c4g"))
}

func TestValidateURLOrPath(t *testing.T) {
	assert.True(t, ValidateURLOrPath("http://example.com/vmlinuz"))
	assert.True(t, ValidateURLOrPath("/srv/images/vmlinuz"))
	assert.False(t, ValidateURLOrPath("/"))
	assert.False(t, ValidateURLOrPath(""))
	assert.True(t, ValidateURLOrPathOptional(""))
}

func TestValidateArchAndFirmwareClass(t *testing.T) {
	assert.True(t, ValidateArch("x86_64"))
	assert.True(t, ValidateArch("aarch64"))
	assert.False(t, ValidateArch("arm"))

	assert.True(t, ValidateFirmwareClass("pi"))
	assert.False(t, ValidateFirmwareClass("coreboot"))
}
