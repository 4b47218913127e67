package auth

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/isometry/adauth/internal/models"
	"github.com/isometry/adauth/internal/store"

	goldap "github.com/go-ldap/ldap/v3"
	"github.com/hashicorp/terraform-plugin-log/tflogtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var testDirectory = Directory{
	Domain:        "corp.example.com",
	NetBIOSDomain: "CORP",
	UserOU:        "Users",
}

func newTestBackend(t *testing.T, directory *fakeDirectory, identities IdentityStore) *Backend {
	t.Helper()
	prober := NewProber(directory, testDirectory.SearchBase(), 5*time.Second, false)
	return NewBackend(testDirectory, prober, identities)
}

func TestBackend_Authenticate_JaneDoe(t *testing.T) {
	var output bytes.Buffer
	ctx := tflogtest.RootLogger(context.Background(), &output)

	directory := &fakeDirectory{
		accepts: map[string]string{"CORP\\jdoe": "correct"},
		entries: []*goldap.Entry{userEntry("CN=Jane Doe,OU=Users,DC=corp,DC=example,DC=com", "jdoe", "Jane Doe")},
	}
	identities := newTestStore(t)
	backend := newTestBackend(t, directory, identities)

	user, ok, err := backend.Authenticate(ctx, "jdoe", "correct")
	require.NoError(t, err)
	require.True(t, ok)
	require.NotNil(t, user)

	assert.Equal(t, "jdoe", user.Username)
	assert.Equal(t, []string{"jdoe@corp.example.com", "CORP\\jdoe"}, directory.binds)
	assert.Equal(t, directory.opened, directory.closed)

	profile, err := identities.GetProfileByUserID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "Jane Doe", profile.FullName)

	entries, err := tflogtest.MultilineJSONDecode(&output)
	require.NoError(t, err)

	var failures, successes []map[string]any
	for _, entry := range entries {
		switch entry["@message"] {
		case "Directory bind attempt failed":
			failures = append(failures, entry)
		case "Directory bind succeeded":
			successes = append(successes, entry)
		}
	}
	require.Len(t, failures, 1)
	require.Len(t, successes, 1)
	assert.Equal(t, "jdoe@corp.example.com", failures[0]["dn"])
	assert.Equal(t, "CORP\\jdoe", successes[0]["dn"])
	assert.NotContains(t, output.String(), "correct")
}

func TestBackend_Authenticate_Ghost(t *testing.T) {
	directory := &fakeDirectory{accepts: map[string]string{}}
	identities := &MockIdentityStore{}
	backend := newTestBackend(t, directory, identities)

	user, ok, err := backend.Authenticate(context.Background(), "ghost", "x")

	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, user)
	assert.Equal(t, []string{
		"ghost@corp.example.com",
		"CORP\\ghost",
		"CN=ghost,OU=Users,DC=corp,DC=example,DC=com",
	}, directory.binds)
	assert.Equal(t, 3, directory.closed)

	identities.AssertNotCalled(t, "GetOrCreateUser", mock.Anything, mock.Anything)
	identities.AssertNotCalled(t, "SaveUser", mock.Anything, mock.Anything)
	identities.AssertNotCalled(t, "GetOrCreateProfile", mock.Anything, mock.Anything)
	identities.AssertNotCalled(t, "SaveProfile", mock.Anything, mock.Anything)
}

func TestBackend_Authenticate_ShortCircuit(t *testing.T) {
	directory := &fakeDirectory{
		// Every candidate would succeed; only the first may be tried.
		accepts: map[string]string{
			"jdoe@corp.example.com": "correct",
			"CORP\\jdoe":            "correct",
			"CN=jdoe,OU=Users,DC=corp,DC=example,DC=com": "correct",
		},
	}
	backend := newTestBackend(t, directory, newTestStore(t))

	_, ok, err := backend.Authenticate(context.Background(), "jdoe", "correct")
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, []string{"jdoe@corp.example.com"}, directory.binds)
	assert.Equal(t, 1, directory.opened)
	assert.Equal(t, 1, directory.closed)
}

func TestBackend_Authenticate_ExplicitDN(t *testing.T) {
	directory := &fakeDirectory{
		accepts: map[string]string{"CN=jdoe,OU=Users,DC=corp,DC=example,DC=com": "correct"},
	}
	backend := newTestBackend(t, directory, newTestStore(t))

	user, ok, err := backend.Authenticate(context.Background(), "jdoe", "correct")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "jdoe", user.Username)
	assert.Len(t, directory.binds, 3)
}

func TestBackend_Authenticate_RejectedInput(t *testing.T) {
	tests := []struct {
		name     string
		username string
		password string
	}{
		{name: "empty username", username: "", password: "correct"},
		{name: "empty password", username: "jdoe", password: ""},
		{name: "control character", username: "jdoe\n", password: "correct"},
		{name: "null byte", username: "jd\x00oe", password: "correct"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			directory := &fakeDirectory{accepts: map[string]string{"jdoe@corp.example.com": "correct"}}
			identities := &MockIdentityStore{}
			backend := newTestBackend(t, directory, identities)

			user, ok, err := backend.Authenticate(context.Background(), tt.username, tt.password)

			require.NoError(t, err)
			assert.False(t, ok)
			assert.Nil(t, user)
			assert.Zero(t, directory.opened, "no directory I/O for rejected input")
			identities.AssertNotCalled(t, "GetOrCreateUser", mock.Anything, mock.Anything)
		})
	}
}

func TestBackend_Authenticate_Idempotent(t *testing.T) {
	ctx := context.Background()
	directory := &fakeDirectory{
		accepts: map[string]string{"jdoe@corp.example.com": "correct"},
		entries: []*goldap.Entry{userEntry("CN=Jane Doe,OU=Users,DC=corp,DC=example,DC=com", "jdoe", "Jane Doe")},
	}
	identities := newTestStore(t)
	backend := newTestBackend(t, directory, identities)

	first, ok, err := backend.Authenticate(ctx, "jdoe", "correct")
	require.NoError(t, err)
	require.True(t, ok)

	second, ok, err := backend.Authenticate(ctx, "jdoe", "correct")
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, first.ID, second.ID)

	count, err := identities.CountUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	profile, err := identities.GetProfileByUserID(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "Jane Doe", profile.FullName)
}

func TestBackend_Authenticate_FullNameOverwritten(t *testing.T) {
	ctx := context.Background()
	directory := &fakeDirectory{
		accepts: map[string]string{"jdoe@corp.example.com": "correct"},
		entries: []*goldap.Entry{userEntry("CN=Jane Doe,OU=Users,DC=corp,DC=example,DC=com", "jdoe", "Jane Doe")},
	}
	identities := newTestStore(t)
	backend := newTestBackend(t, directory, identities)

	user, ok, err := backend.Authenticate(ctx, "jdoe", "correct")
	require.NoError(t, err)
	require.True(t, ok)

	directory.entries = []*goldap.Entry{userEntry("CN=Jane Smith,OU=Users,DC=corp,DC=example,DC=com", "jdoe", "Jane Smith")}
	_, ok, err = backend.Authenticate(ctx, "jdoe", "correct")
	require.NoError(t, err)
	require.True(t, ok)

	profile, err := identities.GetProfileByUserID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "Jane Smith", profile.FullName)
}

func TestBackend_Authenticate_DisplayNameFallback(t *testing.T) {
	ctx := context.Background()
	directory := &fakeDirectory{
		accepts: map[string]string{"jdoe@corp.example.com": "correct"},
	}
	identities := newTestStore(t)
	backend := newTestBackend(t, directory, identities)

	user, ok, err := backend.Authenticate(ctx, "jdoe", "correct")
	require.NoError(t, err)
	require.True(t, ok)

	profile, err := identities.GetProfileByUserID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "jdoe", profile.FullName)
}

func TestBackend_Authenticate_PasswordNeverStored(t *testing.T) {
	ctx := context.Background()
	directory := &fakeDirectory{
		accepts: map[string]string{"jdoe@corp.example.com": "correct"},
	}
	identities := newTestStore(t)
	backend := newTestBackend(t, directory, identities)

	user, ok, err := backend.Authenticate(ctx, "jdoe", "correct")
	require.NoError(t, err)
	require.True(t, ok)

	stored, err := identities.GetUserByUsername(ctx, "jdoe")
	require.NoError(t, err)
	assert.NotEqual(t, "correct", stored.Password)
	assert.NotContains(t, stored.Password, "correct")
	assert.False(t, stored.HasUsablePassword())
	assert.True(t, stored.IsDirectoryUser())
	assert.NotNil(t, stored.LastLogin)
	assert.Equal(t, user.ID, stored.ID)
}

func TestBackend_Authenticate_ConcurrentSameUser(t *testing.T) {
	ctx := context.Background()
	directory := &fakeDirectory{
		accepts: map[string]string{"jdoe@corp.example.com": "correct"},
	}
	identities := newTestStore(t)
	backend := newTestBackend(t, directory, identities)

	const workers = 8
	ids := make([]string, workers)
	errs := make([]error, workers)

	var wg sync.WaitGroup
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			user, ok, err := backend.Authenticate(ctx, "jdoe", "correct")
			if err == nil && !ok {
				err = errors.New("authentication failed")
			}
			errs[i] = err
			if user != nil {
				ids[i] = user.ID
			}
		}()
	}
	wg.Wait()

	for i := range workers {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
	}

	count, err := identities.CountUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestBackend_Authenticate_ProvisioningFailure(t *testing.T) {
	storeErr := errors.New("database is locked")

	tests := []struct {
		name  string
		setup func(m *MockIdentityStore)
	}{
		{
			name: "create user fails",
			setup: func(m *MockIdentityStore) {
				m.On("GetOrCreateUser", mock.Anything, mock.Anything).Return(nil, false, storeErr)
			},
		},
		{
			name: "save user fails",
			setup: func(m *MockIdentityStore) {
				m.On("GetOrCreateUser", mock.Anything, mock.Anything).Return(models.NewDirectoryUser("jdoe"), true, nil)
				m.On("SaveUser", mock.Anything, mock.Anything).Return(storeErr)
			},
		},
		{
			name: "create profile fails",
			setup: func(m *MockIdentityStore) {
				m.On("GetOrCreateUser", mock.Anything, mock.Anything).Return(models.NewDirectoryUser("jdoe"), true, nil)
				m.On("SaveUser", mock.Anything, mock.Anything).Return(nil)
				m.On("GetOrCreateProfile", mock.Anything, mock.Anything).Return(nil, storeErr)
			},
		},
		{
			name: "save profile fails",
			setup: func(m *MockIdentityStore) {
				m.On("GetOrCreateUser", mock.Anything, mock.Anything).Return(models.NewDirectoryUser("jdoe"), true, nil)
				m.On("SaveUser", mock.Anything, mock.Anything).Return(nil)
				m.On("GetOrCreateProfile", mock.Anything, mock.Anything).Return(models.NewProfile("some-id"), nil)
				m.On("SaveProfile", mock.Anything, mock.Anything).Return(storeErr)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			directory := &fakeDirectory{accepts: map[string]string{"jdoe@corp.example.com": "correct"}}
			identities := &MockIdentityStore{}
			tt.setup(identities)
			backend := newTestBackend(t, directory, identities)

			user, ok, err := backend.Authenticate(context.Background(), "jdoe", "correct")

			require.Error(t, err)
			assert.ErrorIs(t, err, ErrProvisioning)
			assert.ErrorIs(t, err, storeErr)
			assert.False(t, ok)
			assert.Nil(t, user)
			assert.Equal(t, []string{"jdoe@corp.example.com"}, directory.binds, "store failure must not fall through to the next candidate")
			identities.AssertExpectations(t)
		})
	}
}

func TestBackend_Authenticate_CancelledContext(t *testing.T) {
	directory := &fakeDirectory{accepts: map[string]string{}}
	backend := newTestBackend(t, directory, &MockIdentityStore{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, ok, err := backend.Authenticate(ctx, "jdoe", "correct")
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, ok)
	assert.Empty(t, directory.binds)
}

func TestBackend_Authenticate_CancelledDuringLastCandidate(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var tried []Scheme
	prober := proberFunc(func(_ context.Context, candidate Candidate, _ Credential) (*DirectoryEntry, bool) {
		tried = append(tried, candidate.Scheme)
		if candidate.Scheme == SchemeDistinguishedName {
			cancel()
		}
		return nil, false
	})
	identities := &MockIdentityStore{}
	backend := NewBackend(testDirectory, prober, identities)

	user, ok, err := backend.Authenticate(ctx, "jdoe", "correct")

	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, ok)
	assert.Nil(t, user)
	assert.Equal(t, []Scheme{SchemeUPN, SchemeDownLevel, SchemeDistinguishedName}, tried)
	identities.AssertNotCalled(t, "GetOrCreateUser", mock.Anything, mock.Anything)
}

func TestBackend_Authenticate_SearchFailureFallsThrough(t *testing.T) {
	var output bytes.Buffer
	ctx := tflogtest.RootLogger(context.Background(), &output)

	directory := &fakeDirectory{
		accepts: map[string]string{
			"jdoe@corp.example.com": "correct",
			"CORP\\jdoe":            "correct",
		},
		searchFailures: []error{
			goldap.NewError(goldap.LDAPResultOperationsError, errors.New("000004DC: LdapErr: DSID-0C090A5C")),
		},
		entries: []*goldap.Entry{userEntry("CN=Jane Doe,OU=Users,DC=corp,DC=example,DC=com", "jdoe", "Jane Doe")},
	}
	identities := newTestStore(t)
	backend := newTestBackend(t, directory, identities)

	user, ok, err := backend.Authenticate(ctx, "jdoe", "correct")
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, []string{"jdoe@corp.example.com", "CORP\\jdoe"}, directory.binds)
	assert.Len(t, directory.searches, 2)
	assert.Equal(t, 2, directory.closed)

	profile, err := identities.GetProfileByUserID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "Jane Doe", profile.FullName)

	entries, err := tflogtest.MultilineJSONDecode(&output)
	require.NoError(t, err)

	var searchFailures, bindFailures int
	for _, entry := range entries {
		switch entry["@message"] {
		case "Directory search failed after bind":
			searchFailures++
			assert.Equal(t, "jdoe@corp.example.com", entry["dn"])
		case "Directory bind attempt failed":
			bindFailures++
		}
	}
	assert.Equal(t, 1, searchFailures)
	assert.Zero(t, bindFailures)
}

func TestBackend_GetUser(t *testing.T) {
	ctx := context.Background()
	directory := &fakeDirectory{accepts: map[string]string{"jdoe@corp.example.com": "correct"}}
	identities := newTestStore(t)
	backend := newTestBackend(t, directory, identities)

	created, ok, err := backend.Authenticate(ctx, "jdoe", "correct")
	require.NoError(t, err)
	require.True(t, ok)
	opened := directory.opened

	t.Run("found", func(t *testing.T) {
		user, ok, err := backend.GetUser(ctx, created.ID)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "jdoe", user.Username)
	})

	t.Run("not found", func(t *testing.T) {
		user, ok, err := backend.GetUser(ctx, "00000000-0000-0000-0000-000000000000")
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Nil(t, user)
	})

	assert.Equal(t, opened, directory.opened, "lookups never contact the directory")
}

func TestBackend_GetUser_StoreError(t *testing.T) {
	identities := &MockIdentityStore{}
	identities.On("GetUserByID", mock.Anything, "abc").Return(nil, errors.New("connection reset"))
	backend := NewBackend(testDirectory, nil, identities)

	user, ok, err := backend.GetUser(context.Background(), "abc")
	require.Error(t, err)
	assert.NotErrorIs(t, err, store.ErrRecordNotFound)
	assert.False(t, ok)
	assert.Nil(t, user)
}
