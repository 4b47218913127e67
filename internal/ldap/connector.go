package ldap

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/hashicorp/terraform-plugin-log/tflog"
)

// Connector opens fresh, unauthenticated directory connections.
//
// The server list is resolved once when the Connector is built and is
// read-only afterwards, so a Connector is safe for concurrent use.
type Connector struct {
	config  *ConnectionConfig
	servers []*ServerInfo
	dialer  Dialer
}

// ConnectorOption customises a Connector.
type ConnectorOption func(*connectorOptions)

type connectorOptions struct {
	dialer   Dialer
	resolver SRVResolver
}

// WithDialer replaces the network dialer, mostly for tests.
func WithDialer(dialer Dialer) ConnectorOption {
	return func(o *connectorOptions) {
		o.dialer = dialer
	}
}

// WithResolver replaces the DNS resolver used for SRV discovery.
func WithResolver(resolver SRVResolver) ConnectorOption {
	return func(o *connectorOptions) {
		o.resolver = resolver
	}
}

// NewConnector validates config and resolves the directory servers to use.
func NewConnector(ctx context.Context, config *ConnectionConfig, opts ...ConnectorOption) (*Connector, error) {
	if config == nil {
		config = DefaultConfig()
	}

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	var o connectorOptions
	for _, opt := range opts {
		opt(&o)
	}

	servers, err := resolveServers(ctx, config, NewSRVDiscovery(o.resolver))
	if err != nil {
		return nil, fmt.Errorf("server discovery failed: %w", err)
	}

	dialer := o.dialer
	if dialer == nil {
		tlsConfig, err := buildTLSConfig(config)
		if err != nil {
			return nil, err
		}
		dialer = &netDialer{config: config, tlsConfig: tlsConfig}
	}

	tflog.SubsystemDebug(ctx, Subsystem, "Directory connector created", map[string]any{
		"server_count": len(servers),
		"start_tls":    config.StartTLS,
	})

	return &Connector{
		config:  config,
		servers: servers,
		dialer:  dialer,
	}, nil
}

// Servers returns the resolved directory servers in preference order.
func (c *Connector) Servers() []*ServerInfo {
	return c.servers
}

// Open dials the resolved servers in order and returns the first connection
// that could be established. Retryable failures are retried with exponential
// backoff; the caller owns the returned connection and must Close it.
func (c *Connector) Open(ctx context.Context) (Conn, *ServerInfo, error) {
	var lastErr error
	backoff := c.config.InitialBackoff

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			LogConnectionEvent(ctx, "connection_retry", map[string]any{
				"attempt":    attempt,
				"max_retry":  c.config.MaxRetries,
				"backoff_ms": backoff.Milliseconds(),
				"last_error": lastErr.Error(),
			})

			select {
			case <-ctx.Done():
				return nil, nil, ctx.Err()
			case <-time.After(backoff):
				backoff = min(time.Duration(float64(backoff)*c.config.BackoffFactor), c.config.MaxBackoff)
			}
		}

		for _, server := range c.servers {
			if err := ctx.Err(); err != nil {
				return nil, nil, err
			}

			conn, err := c.dialer.Dial(ctx, server)
			if err != nil {
				lastErr = NewLDAPError("dial", "", err)
				LogConnectionEvent(ctx, "connection_failed", map[string]any{
					"server": ServerInfoToURL(server),
					"error":  err.Error(),
				})
				continue
			}

			LogConnectionEvent(ctx, "connection_established", map[string]any{
				"server": ServerInfoToURL(server),
				"source": server.Source,
			})
			return conn, server, nil
		}

		if !IsRetryableError(lastErr) {
			break
		}
	}

	return nil, nil, NewConnectionError("failed to connect to any directory server", IsRetryableError(lastErr), lastErr)
}

// resolveServers turns configured URLs, or SRV discovery for the domain, into a server list.
func resolveServers(ctx context.Context, config *ConnectionConfig, discovery *SRVDiscovery) ([]*ServerInfo, error) {
	if len(config.LDAPURLs) > 0 {
		servers := make([]*ServerInfo, 0, len(config.LDAPURLs))
		for _, rawURL := range config.LDAPURLs {
			server, err := ParseLDAPURL(rawURL)
			if err != nil {
				return nil, fmt.Errorf("invalid LDAP URL %s: %w", rawURL, err)
			}
			servers = append(servers, server)
		}
		return servers, nil
	}

	if config.Domain == "" {
		return nil, errors.New("either domain or LDAP URLs must be specified")
	}

	ctx, cancel := context.WithTimeout(ctx, config.Timeout)
	defer cancel()

	return discovery.DiscoverServers(ctx, config.Domain)
}

// netDialer is the production Dialer.
type netDialer struct {
	config    *ConnectionConfig
	tlsConfig *tls.Config
}

func (d *netDialer) Dial(ctx context.Context, server *ServerInfo) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tlsConfig := d.tlsConfig.Clone()
	if tlsConfig.ServerName == "" {
		tlsConfig.ServerName = server.Host
	}

	opts := []ldap.DialOpt{
		ldap.DialWithDialer(&net.Dialer{Timeout: d.config.Timeout}),
	}
	if server.UseTLS {
		opts = append(opts, ldap.DialWithTLSConfig(tlsConfig))
	}

	url := ServerInfoToURL(server)
	conn, err := ldap.DialURL(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", url, err)
	}

	if !server.UseTLS && d.config.StartTLS {
		if err := conn.StartTLS(tlsConfig); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("StartTLS with %s failed: %w", url, err)
		}
	}

	conn.SetTimeout(d.config.Timeout)
	return conn, nil
}

// buildTLSConfig derives the TLS configuration from config.
func buildTLSConfig(config *ConnectionConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}
	if config.TLSConfig != nil {
		tlsConfig = config.TLSConfig.Clone()
	}

	if config.InsecureSkipVerify {
		tlsConfig.InsecureSkipVerify = true
	}

	if config.TLSCACertFile != "" {
		pem, err := os.ReadFile(config.TLSCACertFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("could not parse CA certificate file %s", config.TLSCACertFile)
		}
		tlsConfig.RootCAs = pool
	}

	return tlsConfig, nil
}

// validateConfig validates the connection configuration.
func validateConfig(config *ConnectionConfig) error {
	if config.Timeout <= 0 {
		return errors.New("timeout must be positive")
	}

	if config.MaxRetries < 0 {
		return errors.New("MaxRetries cannot be negative")
	}

	if config.MaxRetries > 0 && config.BackoffFactor <= 1.0 {
		return errors.New("BackoffFactor must be greater than 1.0")
	}

	return nil
}
