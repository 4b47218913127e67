package ldap

import (
	"context"
	"net"
	"sync"

	"github.com/go-ldap/ldap/v3"
	"github.com/stretchr/testify/mock"
)

// MockConn implements Conn for testing.
type MockConn struct {
	mock.Mock
}

func (m *MockConn) Bind(username, password string) error {
	args := m.Called(username, password)
	return args.Error(0)
}

func (m *MockConn) Search(req *ldap.SearchRequest) (*ldap.SearchResult, error) {
	args := m.Called(req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	result, ok := args.Get(0).(*ldap.SearchResult)
	if !ok {
		return nil, args.Error(1)
	}
	return result, args.Error(1)
}

func (m *MockConn) Close() error {
	args := m.Called()
	return args.Error(0)
}

// recordingDialer fails for the servers in failures and records every dial.
type recordingDialer struct {
	mu       sync.Mutex
	dials    []string
	failures map[string][]error // per-server errors, consumed in order
}

func (d *recordingDialer) Dial(_ context.Context, server *ServerInfo) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	url := ServerInfoToURL(server)
	d.dials = append(d.dials, url)

	if errs := d.failures[url]; len(errs) > 0 {
		d.failures[url] = errs[1:]
		return nil, errs[0]
	}

	return &MockConn{}, nil
}

// fakeResolver answers SRV lookups from a fixed table.
type fakeResolver struct {
	records map[string][]*net.SRV
}

func (r *fakeResolver) LookupSRV(_ context.Context, _, _, name string) (string, []*net.SRV, error) {
	if records, ok := r.records[name]; ok {
		return name, records, nil
	}
	return "", nil, &net.DNSError{Err: "no such host", Name: name, IsNotFound: true}
}
