package auth

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/isometry/adauth/internal/ldap"
	"github.com/isometry/adauth/internal/models"
	"github.com/isometry/adauth/internal/store"

	"github.com/glebarez/sqlite"
	goldap "github.com/go-ldap/ldap/v3"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var errInvalidCredentials = goldap.NewError(goldap.LDAPResultInvalidCredentials,
	errors.New("80090308: LdapErr: DSID-0C09044E, comment: AcceptSecurityContext error, data 52e, v4563"))

// fakeDirectory is an in-memory directory that accepts binds for known
// DN/password pairs and answers sAMAccountName searches from entries.
type fakeDirectory struct {
	mu sync.Mutex

	accepts   map[string]string // bind DN -> password
	entries   []*goldap.Entry
	searchErr error
	openErr   error
	rootDSE   *goldap.Entry

	// searchFailures are returned, in order, by the next user searches
	// before searchErr and entries apply.
	searchFailures []error

	binds    []string
	searches []*goldap.SearchRequest
	opened   int
	closed   int
}

func (d *fakeDirectory) Open(_ context.Context) (ldap.Conn, *ldap.ServerInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.openErr != nil {
		return nil, nil, d.openErr
	}
	d.opened++

	return &fakeConn{dir: d}, &ldap.ServerInfo{Host: "dc1.corp.example.com", Port: 636, UseTLS: true, Source: "config"}, nil
}

func (d *fakeDirectory) bindCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.binds)
}

type fakeConn struct {
	dir *fakeDirectory
}

func (c *fakeConn) Bind(username, password string) error {
	c.dir.mu.Lock()
	defer c.dir.mu.Unlock()

	c.dir.binds = append(c.dir.binds, username)
	if want, ok := c.dir.accepts[username]; ok && password != "" && password == want {
		return nil
	}
	return errInvalidCredentials
}

func (c *fakeConn) Search(req *goldap.SearchRequest) (*goldap.SearchResult, error) {
	c.dir.mu.Lock()
	defer c.dir.mu.Unlock()

	c.dir.searches = append(c.dir.searches, req)

	if req.BaseDN == "" && req.Scope == goldap.ScopeBaseObject {
		if c.dir.rootDSE == nil {
			return nil, goldap.NewError(goldap.LDAPResultOperationsError, errors.New("root DSE unavailable"))
		}
		return &goldap.SearchResult{Entries: []*goldap.Entry{c.dir.rootDSE}}, nil
	}

	if len(c.dir.searchFailures) > 0 {
		err := c.dir.searchFailures[0]
		c.dir.searchFailures = c.dir.searchFailures[1:]
		return nil, err
	}
	if c.dir.searchErr != nil {
		return nil, c.dir.searchErr
	}
	return &goldap.SearchResult{Entries: c.dir.entries}, nil
}

func (c *fakeConn) Close() error {
	c.dir.mu.Lock()
	defer c.dir.mu.Unlock()

	c.dir.closed++
	return nil
}

// proberFunc adapts a function to DirectoryProber.
type proberFunc func(ctx context.Context, candidate Candidate, cred Credential) (*DirectoryEntry, bool)

func (f proberFunc) Probe(ctx context.Context, candidate Candidate, cred Credential) (*DirectoryEntry, bool) {
	return f(ctx, candidate, cred)
}

// MockIdentityStore implements IdentityStore for testing.
type MockIdentityStore struct {
	mock.Mock
}

func (m *MockIdentityStore) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	user, ok := args.Get(0).(*models.User)
	if !ok {
		return nil, args.Error(1)
	}
	return user, args.Error(1)
}

func (m *MockIdentityStore) GetOrCreateUser(ctx context.Context, user *models.User) (*models.User, bool, error) {
	args := m.Called(ctx, user)
	if args.Get(0) == nil {
		return nil, false, args.Error(2)
	}
	stored, ok := args.Get(0).(*models.User)
	if !ok {
		return nil, false, args.Error(2)
	}
	return stored, args.Bool(1), args.Error(2)
}

func (m *MockIdentityStore) SaveUser(ctx context.Context, user *models.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

func (m *MockIdentityStore) GetOrCreateProfile(ctx context.Context, userID string) (*models.Profile, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	profile, ok := args.Get(0).(*models.Profile)
	if !ok {
		return nil, args.Error(1)
	}
	return profile, args.Error(1)
}

func (m *MockIdentityStore) SaveProfile(ctx context.Context, profile *models.Profile) error {
	args := m.Called(ctx, profile)
	return args.Error(0)
}

// newTestStore returns an empty in-memory identity store.
func newTestStore(t *testing.T) *store.Store {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file:"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	s, err := store.NewWithDB(db)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	return s
}

func userEntry(dn, sAMAccountName, displayName string) *goldap.Entry {
	attrs := map[string][]string{"sAMAccountName": {sAMAccountName}}
	if displayName != "" {
		attrs["displayName"] = []string{displayName}
	}
	return goldap.NewEntry(dn, attrs)
}
