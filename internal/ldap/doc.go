/*
Package ldap provides the directory transport used to authenticate users
against Active Directory.

# Connection Management

A Connector turns configuration into fresh connections:

  - Explicit ldap:// and ldaps:// URLs, or SRV-based domain controller discovery
  - Failover across servers in preference order
  - Exponential backoff for retryable dial failures
  - Optional StartTLS, custom CA bundle

Connections are not pooled. Each authentication attempt opens one with
Connector.Open, binds as the user, and closes it.

# Error Handling

Directory errors are wrapped in LDAPError:

  - Categorized errors (connection, authentication, validation, etc.)
  - Retryable error classification
  - LDAP result code and server diagnostic preserved

# Logging

Logging goes through tflog under the "ldap" subsystem. Call WithLogging on
the request context before using the package.

# Example Usage

	config := ldap.DefaultConfig()
	config.LDAPURLs = []string{"ldaps://dc1.example.com"}

	connector, err := ldap.NewConnector(ctx, config)
	if err != nil {
		return err
	}

	conn, server, err := connector.Open(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()
*/
package ldap
