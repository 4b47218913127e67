package ldap

import (
	"fmt"

	"github.com/go-ldap/ldap/v3"
	"github.com/google/uuid"
)

// GUIDAttribute is the Active Directory attribute holding the object's immutable GUID.
const GUIDAttribute = "objectGUID"

// GUIDBytesLength is the size of a binary objectGUID.
const GUIDBytesLength = 16

// DecodeGUID converts a binary objectGUID to its canonical hyphenated form.
// Active Directory uses mixed-endian encoding:
// - First 4 bytes (Data1): little-endian
// - Next 2 bytes (Data2): little-endian
// - Next 2 bytes (Data3): little-endian
// - Last 8 bytes (Data4): big-endian
func DecodeGUID(guidBytes []byte) (string, error) {
	if len(guidBytes) != GUIDBytesLength {
		return "", fmt.Errorf("invalid objectGUID length: expected %d bytes, got %d", GUIDBytesLength, len(guidBytes))
	}

	var u uuid.UUID
	u[0], u[1], u[2], u[3] = guidBytes[3], guidBytes[2], guidBytes[1], guidBytes[0]
	u[4], u[5] = guidBytes[5], guidBytes[4]
	u[6], u[7] = guidBytes[7], guidBytes[6]
	copy(u[8:], guidBytes[8:])

	return u.String(), nil
}

// ExtractGUID returns the objectGUID of entry, or "" when it is absent or malformed.
func ExtractGUID(entry *ldap.Entry) string {
	if entry == nil {
		return ""
	}

	guid, err := DecodeGUID(entry.GetRawAttributeValue(GUIDAttribute))
	if err != nil {
		return ""
	}

	return guid
}
