package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/isometry/adauth/internal/models"

	"github.com/hashicorp/terraform-plugin-log/tflog"
)

// IdentityStore is the local user and profile store.
//
// GetOrCreateUser and GetOrCreateProfile must be atomic insert-or-fetch
// operations backed by a uniqueness constraint (username, user ID).
type IdentityStore interface {
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	GetOrCreateUser(ctx context.Context, user *models.User) (*models.User, bool, error)
	SaveUser(ctx context.Context, user *models.User) error
	GetOrCreateProfile(ctx context.Context, userID string) (*models.Profile, error)
	SaveProfile(ctx context.Context, profile *models.Profile) error
}

// Reconciler maps a successful probe onto the local identity store.
type Reconciler struct {
	store IdentityStore
	now   func() time.Time
}

func NewReconciler(store IdentityStore) *Reconciler {
	return &Reconciler{
		store: store,
		now:   time.Now,
	}
}

// Reconcile upserts the local user for username and overwrites its
// profile full name with the directory display name. Store failures are
// wrapped in ErrProvisioning.
func (r *Reconciler) Reconcile(ctx context.Context, username string, entry *DirectoryEntry) (*models.User, error) {
	user, created, err := r.store.GetOrCreateUser(ctx, models.NewDirectoryUser(username))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProvisioning, err)
	}

	now := r.now()
	user.LastLogin = &now
	if entry.SID != "" {
		user.DirectorySID = entry.SID
	}
	if entry.GUID != "" {
		user.DirectoryGUID = entry.GUID
	}
	if err := r.store.SaveUser(ctx, user); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProvisioning, err)
	}

	profile, err := r.store.GetOrCreateProfile(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProvisioning, err)
	}

	profile.FullName = entry.DisplayName
	if err := r.store.SaveProfile(ctx, profile); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProvisioning, err)
	}

	tflog.SubsystemDebug(ctx, Subsystem, "Local identity reconciled", map[string]any{
		"username":  username,
		"user_id":   user.ID,
		"created":   created,
		"full_name": profile.FullName,
	})

	return user, nil
}
