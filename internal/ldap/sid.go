package ldap

import (
	"fmt"

	"github.com/bwmarrin/go-objectsid"
	"github.com/go-ldap/ldap/v3"
)

// SIDAttribute is the Active Directory attribute holding the binary security identifier.
const SIDAttribute = "objectSid"

// DecodeSID converts a binary SID to its S-1-5-21-... string form.
func DecodeSID(binarySID []byte) (string, error) {
	// Revision, sub-authority count and 6-byte identifier authority
	if len(binarySID) < 8 {
		return "", fmt.Errorf("binary SID too short: %d bytes", len(binarySID))
	}

	if subAuthorities := int(binarySID[1]); len(binarySID) < 8+4*subAuthorities {
		return "", fmt.Errorf("binary SID truncated: %d sub-authorities in %d bytes", subAuthorities, len(binarySID))
	}

	return objectsid.Decode(binarySID).String(), nil
}

// ExtractSID returns the objectSid of entry as a string, or "" when it is absent or malformed.
func ExtractSID(entry *ldap.Entry) string {
	if entry == nil {
		return ""
	}

	sid, err := DecodeSID(entry.GetRawAttributeValue(SIDAttribute))
	if err != nil {
		return ""
	}

	return sid
}
