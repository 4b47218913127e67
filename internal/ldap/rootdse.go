package ldap

import (
	"fmt"
	"time"

	"github.com/go-ldap/ldap/v3"
)

// rootDSEAttributes are the server metadata attributes read from the root DSE.
var rootDSEAttributes = []string{
	"defaultNamingContext",
	"rootDomainNamingContext",
	"dnsHostName",
	"supportedLDAPVersion",
	"supportedSASLMechanisms",
}

// ReadServerInfo retrieves server metadata from the root DSE of conn.
// Most directories allow this before a bind.
func ReadServerInfo(conn Conn, timeout time.Duration) (map[string]string, error) {
	searchReq := ldap.NewSearchRequest(
		"", // Empty base DN for root DSE
		ldap.ScopeBaseObject,
		ldap.NeverDerefAliases,
		1, int(timeout.Seconds()), false,
		"(objectClass=*)",
		rootDSEAttributes,
		nil,
	)

	result, err := conn.Search(searchReq)
	if err != nil {
		return nil, fmt.Errorf("failed to read root DSE: %w", err)
	}

	if result == nil || len(result.Entries) == 0 {
		return nil, fmt.Errorf("no root DSE found")
	}

	info := make(map[string]string)
	entry := result.Entries[0]

	for _, attr := range rootDSEAttributes {
		if value := entry.GetAttributeValue(attr); value != "" {
			info[attr] = value
		}
	}

	return info, nil
}
