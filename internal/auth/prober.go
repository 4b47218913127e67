package auth

import (
	"context"
	"maps"
	"time"

	"github.com/isometry/adauth/internal/ldap"

	goldap "github.com/go-ldap/ldap/v3"
	"github.com/hashicorp/terraform-plugin-log/tflog"
)

const displayNameAttribute = "displayName"

// Credential is a transient username/password pair.
type Credential struct {
	Username string
	Password string
}

// String never includes the password.
func (c Credential) String() string {
	return c.Username
}

// DirectoryEntry is what a successful probe learned about the user.
type DirectoryEntry struct {
	DN          string // DN of the matched entry, empty when the search found nothing
	DisplayName string // displayName, or the raw username when unavailable
	SID         string // objectSid in string form, if returned
	GUID        string // objectGUID in canonical form, if returned
}

// ConnectionOpener opens one directory connection per attempt.
type ConnectionOpener interface {
	Open(ctx context.Context) (ldap.Conn, *ldap.ServerInfo, error)
}

var _ ConnectionOpener = (*ldap.Connector)(nil)

// Prober tries a single bind DN candidate against the directory.
type Prober struct {
	connector       ConnectionOpener
	searchBase      string
	timeout         time.Duration
	fetchServerInfo bool
}

// NewProber creates a prober searching below searchBase.
func NewProber(connector ConnectionOpener, searchBase string, timeout time.Duration, fetchServerInfo bool) *Prober {
	return &Prober{
		connector:       connector,
		searchBase:      searchBase,
		timeout:         timeout,
		fetchServerInfo: fetchServerInfo,
	}
}

// Probe binds as candidate with cred's password and, on success, looks up
// the user's display name. Every failure is logged and reported as a
// non-match; the connection is always closed before returning.
func (p *Prober) Probe(ctx context.Context, candidate Candidate, cred Credential) (*DirectoryEntry, bool) {
	fields := map[string]any{
		"username": cred.Username,
		"dn":       candidate.DN,
		"scheme":   candidate.Scheme.String(),
	}

	conn, server, err := p.connector.Open(ctx)
	if err != nil {
		p.logFailure(ctx, "connect", candidate, err, fields)
		return nil, false
	}
	defer func() {
		if err := conn.Close(); err != nil {
			tflog.SubsystemTrace(ctx, Subsystem, "Closing directory connection failed", map[string]any{
				"error": err.Error(),
			})
		}
	}()
	if server != nil {
		fields["server"] = ldap.ServerInfoToURL(server)
	}

	if p.fetchServerInfo {
		p.logServerInfo(ctx, conn, fields)
	}

	if err := conn.Bind(candidate.DN, cred.Password); err != nil {
		p.logFailure(ctx, "bind", candidate, err, fields)
		return nil, false
	}

	tflog.SubsystemInfo(ctx, Subsystem, "Directory bind succeeded", fields)

	entry, err := p.lookup(conn, cred.Username)
	if err != nil {
		p.logFailure(ctx, "search", candidate, err, fields)
		return nil, false
	}

	return entry, true
}

// lookup searches for username by sAMAccountName and extracts its display name.
func (p *Prober) lookup(conn ldap.Conn, username string) (*DirectoryEntry, error) {
	searchReq := goldap.NewSearchRequest(
		p.searchBase,
		goldap.ScopeWholeSubtree,
		goldap.NeverDerefAliases,
		0, int(p.timeout.Seconds()), false,
		"(sAMAccountName="+goldap.EscapeFilter(username)+")",
		[]string{displayNameAttribute, ldap.SIDAttribute, ldap.GUIDAttribute},
		nil,
	)

	result, err := conn.Search(searchReq)
	if err != nil {
		return nil, err
	}

	entry := &DirectoryEntry{DisplayName: username}
	if result == nil || len(result.Entries) == 0 {
		return entry, nil
	}

	first := result.Entries[0]
	entry.DN = first.DN
	entry.SID = ldap.ExtractSID(first)
	entry.GUID = ldap.ExtractGUID(first)
	if displayName := first.GetAttributeValue(displayNameAttribute); displayName != "" {
		entry.DisplayName = displayName
	}

	return entry, nil
}

func (p *Prober) logServerInfo(ctx context.Context, conn ldap.Conn, fields map[string]any) {
	info, err := ldap.ReadServerInfo(conn, p.timeout)
	if err != nil {
		tflog.SubsystemDebug(ctx, ldap.Subsystem, "Reading server metadata failed", map[string]any{
			"server": fields["server"],
			"error":  err.Error(),
		})
		return
	}

	infoFields := map[string]any{"server": fields["server"]}
	for k, v := range info {
		infoFields[k] = v
	}
	tflog.SubsystemDebug(ctx, ldap.Subsystem, "Directory server metadata", infoFields)
}

func (p *Prober) logFailure(ctx context.Context, operation string, candidate Candidate, err error, fields map[string]any) {
	failure := ldap.LDAPErrorFields(ldap.NewLDAPError(operation, candidate.DN, err), map[string]any{})
	maps.Copy(failure, fields)
	failure["operation"] = operation

	message := "Directory bind attempt failed"
	if operation == "search" {
		message = "Directory search failed after bind"
	}
	tflog.SubsystemError(ctx, Subsystem, message, failure)
}
