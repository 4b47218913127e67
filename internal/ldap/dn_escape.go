package ldap

import (
	"strings"
)

// EscapeDNValue escapes special characters in a DN attribute value according to RFC 4514.
//
// RFC 4514 defines the following escaping rules for DN attribute values:
// - Special characters that must be escaped: , + " \ < > ; =
// - Leading # must be escaped
// - Leading and trailing spaces must be escaped
// - NULL bytes must be escaped as \00
//
// Examples:
//   - "jdoe" → "jdoe" (no change)
//   - "Doe, John" → "Doe\, John" (comma escaped)
//   - " jdoe " → "\ jdoe\ " (leading/trailing spaces escaped)
//   - "#123" → "\#123" (leading # escaped)
func EscapeDNValue(value string) string {
	if !NeedsDNEscaping(value) {
		return value
	}

	var result strings.Builder
	result.Grow(len(value) + 10)

	for i, r := range value {
		switch r {
		case ',', '+', '"', '\\', '<', '>', ';', '=':
			result.WriteRune('\\')
			result.WriteRune(r)
		case '#':
			if i == 0 {
				result.WriteRune('\\')
			}
			result.WriteRune(r)
		case ' ':
			if i == 0 || i == len(value)-1 {
				result.WriteRune('\\')
			}
			result.WriteRune(r)
		case 0:
			result.WriteString("\\00")
		default:
			result.WriteRune(r)
		}
	}

	return result.String()
}

// NeedsDNEscaping checks if a value contains characters that need DN escaping.
func NeedsDNEscaping(value string) bool {
	if value == "" {
		return false
	}

	if value[0] == ' ' || value[len(value)-1] == ' ' || value[0] == '#' {
		return true
	}

	return strings.ContainsAny(value, ",+\"\\<>;=\x00")
}

// DomainComponents converts a DNS domain into its DC= form,
// e.g. "corp.example.com" → "DC=corp,DC=example,DC=com".
func DomainComponents(domain string) string {
	labels := strings.Split(strings.Trim(domain, "."), ".")

	parts := make([]string, 0, len(labels))
	for _, label := range labels {
		if label == "" {
			continue
		}
		parts = append(parts, "DC="+EscapeDNValue(label))
	}

	return strings.Join(parts, ",")
}
