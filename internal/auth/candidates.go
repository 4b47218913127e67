package auth

import (
	"fmt"

	"github.com/isometry/adauth/internal/ldap"
)

// Scheme identifies how a bind DN candidate is formed.
type Scheme int

const (
	SchemeUPN               Scheme = iota // user@domain
	SchemeDownLevel                       // DOMAIN\user
	SchemeDistinguishedName               // CN=user,OU=...,DC=...
)

func (s Scheme) String() string {
	switch s {
	case SchemeUPN:
		return "upn"
	case SchemeDownLevel:
		return "down_level"
	case SchemeDistinguishedName:
		return "dn"
	default:
		return "unknown"
	}
}

// Candidate is one bind DN to try for a username.
type Candidate struct {
	Scheme Scheme
	DN     string
}

// Directory holds the naming settings of the directory users live in.
type Directory struct {
	Domain        string // DNS domain, e.g. "corp.example.com"
	NetBIOSDomain string // Down-level logon domain; defaults to Domain
	UserOU        string // OU holding user objects, e.g. "Users" or "Users,OU=Corp"; not escaped
	BaseDN        string // Search base; defaults to the domain components
}

// SearchBase returns the base DN for user searches.
func (d Directory) SearchBase() string {
	if d.BaseDN != "" {
		return d.BaseDN
	}
	return ldap.DomainComponents(d.Domain)
}

// Candidates returns the bind DN candidates for username in priority order:
// UPN, down-level logon name, explicit DN. The username is escaped as the
// CN value of the explicit DN; UserOU is trusted configuration and is
// inserted as is. The other two forms are not DNs and are passed through.
func (d Directory) Candidates(username string) []Candidate {
	netbios := d.NetBIOSDomain
	if netbios == "" {
		netbios = d.Domain
	}

	return []Candidate{
		{Scheme: SchemeUPN, DN: fmt.Sprintf("%s@%s", username, d.Domain)},
		{Scheme: SchemeDownLevel, DN: fmt.Sprintf("%s\\%s", netbios, username)},
		{Scheme: SchemeDistinguishedName, DN: fmt.Sprintf("CN=%s,OU=%s,%s",
			ldap.EscapeDNValue(username), d.UserOU, ldap.DomainComponents(d.Domain))},
	}
}
