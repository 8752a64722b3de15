// Package validation holds the small set of format checks shared by the
// store, the boot-instruction endpoint, and the REST API.
package validation

import (
	"net"
	"net/url"
	"regexp"
	"strings"
)

var serialPattern = regexp.MustCompile(`^[0-9a-f]{8}$`)

// CanonicalizeMAC lowercases a MAC address and normalizes its separator to
// colons, e.g. "AA-BB-CC-DD-EE-FF" -> "aa:bb:cc:dd:ee:ff". It returns an
// error if the input does not parse as a hardware address.
func CanonicalizeMAC(mac string) (string, error) {
	hw, err := net.ParseMAC(mac)
	if err != nil {
		return "", err
	}
	return strings.ToLower(hw.String()), nil
}

// ValidateMAC reports whether mac parses as a hardware address.
func ValidateMAC(mac string) bool {
	if mac == "" {
		return false
	}
	_, err := net.ParseMAC(mac)
	return err == nil
}

// ValidateSerial reports whether serial is an 8 hex character board serial,
// the identifier used for network-booted Pi clients with no stable MAC.
func ValidateSerial(serial string) bool {
	return serialPattern.MatchString(strings.ToLower(serial))
}

// ValidateURLOrPath validates URL format or absolute file path.
func ValidateURLOrPath(value string) bool {
	if value == "" {
		return false
	}

	if parsedURL, err := url.Parse(value); err == nil {
		if parsedURL.Scheme == "http" || parsedURL.Scheme == "https" {
			return true
		}
	}

	if strings.HasPrefix(value, "/") {
		return len(value) > 1
	}

	return false
}

// ValidateURLOrPathOptional validates URL format or file path, allowing
// empty values for optional fields.
func ValidateURLOrPathOptional(value string) bool {
	if value == "" {
		return true
	}
	return ValidateURLOrPath(value)
}

// ValidateArch reports whether arch is one of the architectures PureBoot
// knows how to provision.
func ValidateArch(arch string) bool {
	switch arch {
	case "x86_64", "aarch64":
		return true
	default:
		return false
	}
}

// ValidateFirmwareClass reports whether class is a recognized firmware
// class used for Proxy-DHCP bootfile selection.
func ValidateFirmwareClass(class string) bool {
	switch class {
	case "bios", "uefi", "pi":
		return true
	default:
		return false
	}
}
