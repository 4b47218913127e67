package ldap

import (
	"context"
	"crypto/tls"
	"time"

	"github.com/go-ldap/ldap/v3"
)

// ConnectionConfig holds configuration for directory connections.
//
// Connections are never pooled: every authentication attempt opens its own
// connection through a Connector and closes it before returning.
type ConnectionConfig struct {
	// Connection settings
	Domain   string        // Domain for SRV discovery
	LDAPURLs []string      // Direct LDAP URLs (overrides domain)
	Timeout  time.Duration // Dial and per-request timeout

	// TLS settings
	TLSConfig          *tls.Config // Custom TLS configuration
	StartTLS           bool        // Upgrade ldap:// connections with StartTLS
	InsecureSkipVerify bool        // Skip certificate verification (not recommended)
	TLSCACertFile      string      // Path to CA certificate file

	// Read root DSE metadata after connecting
	FetchServerInfo bool

	// Retry settings, applied to dialing only
	MaxRetries     int           // Maximum retry attempts
	InitialBackoff time.Duration // Initial backoff duration
	MaxBackoff     time.Duration // Maximum backoff duration
	BackoffFactor  float64       // Backoff multiplication factor
}

// DefaultConfig returns a secure default configuration.
func DefaultConfig() *ConnectionConfig {
	return &ConnectionConfig{
		Timeout:        10 * time.Second,
		MaxRetries:     1,
		InitialBackoff: 250 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
		BackoffFactor:  2.0,
		TLSConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	}
}

// ServerInfo contains information about an LDAP server.
type ServerInfo struct {
	Host     string
	Port     int
	UseTLS   bool
	Priority int
	Weight   int
	Source   string // "srv", "config", "fallback"
}

// Conn is the subset of *ldap.Conn used by a single authentication attempt.
type Conn interface {
	Bind(username, password string) error
	Search(searchRequest *ldap.SearchRequest) (*ldap.SearchResult, error)
	Close() error
}

var _ Conn = (*ldap.Conn)(nil)

// Dialer opens a connection to one directory server.
type Dialer interface {
	Dial(ctx context.Context, server *ServerInfo) (Conn, error)
}

// DialerFunc makes it easy to use a func as a Dialer.
type DialerFunc func(ctx context.Context, server *ServerInfo) (Conn, error)

func (f DialerFunc) Dial(ctx context.Context, server *ServerInfo) (Conn, error) {
	return f(ctx, server)
}
