package auth

import (
	"context"
	"errors"
	"fmt"
	"unicode"

	"github.com/isometry/adauth/internal/ldap"
	"github.com/isometry/adauth/internal/models"
	"github.com/isometry/adauth/internal/store"

	"github.com/hashicorp/terraform-plugin-log/tflog"
)

// Subsystem is the tflog subsystem used by this package.
const Subsystem = "auth"

// LevelEnvVar sets the log level of the auth subsystem.
const LevelEnvVar = "ADAUTH_LOG_AUTH"

// Authenticator is the capability an application composes into its own
// session pipeline. A (nil, false, nil) result means "no identity".
type Authenticator interface {
	Authenticate(ctx context.Context, username, password string) (*models.User, bool, error)
	GetUser(ctx context.Context, id string) (*models.User, bool, error)
}

// DirectoryProber tries one bind DN candidate.
type DirectoryProber interface {
	Probe(ctx context.Context, candidate Candidate, cred Credential) (*DirectoryEntry, bool)
}

// Backend authenticates against the directory and provisions local users.
type Backend struct {
	directory  Directory
	prober     DirectoryProber
	reconciler *Reconciler
	store      IdentityStore
}

var _ Authenticator = (*Backend)(nil)

func NewBackend(directory Directory, prober DirectoryProber, identities IdentityStore) *Backend {
	return &Backend{
		directory:  directory,
		prober:     prober,
		reconciler: NewReconciler(identities),
		store:      identities,
	}
}

// Authenticate tries each bind DN candidate in priority order and stops at
// the first that binds. Rejected credentials, unreachable servers and
// malformed usernames all yield (nil, false, nil). A non-nil error means
// the directory accepted the credential but provisioning failed
// (ErrProvisioning), or ctx was cancelled.
func (b *Backend) Authenticate(ctx context.Context, username, password string) (*models.User, bool, error) {
	ctx = withLogging(ctx)

	if err := validateCredential(username, password); err != nil {
		tflog.SubsystemWarn(ctx, Subsystem, "Credential rejected before directory lookup", map[string]any{
			"error": err.Error(),
		})
		return nil, false, nil
	}

	cred := Credential{Username: username, Password: password}
	candidates := b.directory.Candidates(username)

	for i, candidate := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, false, err
		}

		entry, ok := b.prober.Probe(ctx, candidate, cred)
		if !ok {
			continue
		}

		user, err := b.reconciler.Reconcile(ctx, username, entry)
		if err != nil {
			tflog.SubsystemError(ctx, Subsystem, "Provisioning local identity failed", map[string]any{
				"username": username,
				"error":    err.Error(),
			})
			return nil, false, err
		}

		tflog.SubsystemInfo(ctx, Subsystem, "Authentication succeeded", map[string]any{
			"username": username,
			"user_id":  user.ID,
			"dn":       candidate.DN,
			"attempt":  i + 1,
		})
		return user, true, nil
	}

	// A candidate cut short by cancellation proves nothing about the credential.
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	tflog.SubsystemWarn(ctx, Subsystem, "Authentication failed", map[string]any{
		"username": username,
		"attempts": len(candidates),
	})
	return nil, false, nil
}

// GetUser looks up a local user by ID without contacting the directory.
func (b *Backend) GetUser(ctx context.Context, id string) (*models.User, bool, error) {
	user, err := b.store.GetUserByID(ctx, id)
	if errors.Is(err, store.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get user %s: %w", id, err)
	}
	return user, true, nil
}

// validateCredential rejects input that must never reach the directory.
func validateCredential(username, password string) error {
	if username == "" {
		return fmt.Errorf("%w: empty", ErrInvalidUsername)
	}

	for _, r := range username {
		if unicode.IsControl(r) {
			return fmt.Errorf("%w: contains control characters", ErrInvalidUsername)
		}
	}

	if password == "" {
		return ErrEmptyPassword
	}

	return nil
}

func withLogging(ctx context.Context) context.Context {
	ctx = ldap.WithLogging(ctx)
	ctx = tflog.NewSubsystem(ctx, Subsystem, tflog.WithLevelFromEnv(LevelEnvVar))
	return tflog.SubsystemMaskFieldValuesWithFieldKeys(ctx, Subsystem, "password")
}
