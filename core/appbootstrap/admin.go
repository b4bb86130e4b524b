package appbootstrap

import (
	"context"
	"os"

	"osprey-ptx/core/auth"
	"osprey-ptx/core/store"
	"osprey-ptx/core/utils"
)

const defaultAdminUsername = "admin"

// EnsureDefaultAdmin creates the initial admin account on first boot.
// The password comes from OSPREY_ADMIN_PASSWORD or falls back to a
// random one printed to the log, forcing an operator to look at it.
func EnsureDefaultAdmin(ctx context.Context, users store.UsersStore, logger *utils.Logger) error {
	existing, _, err := users.FindByUsername(ctx, defaultAdminUsername)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}
	password := os.Getenv("OSPREY_ADMIN_PASSWORD")
	generated := false
	if password == "" {
		password, err = utils.RandString(18)
		if err != nil {
			return err
		}
		generated = true
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	admin := &store.User{
		Username:     defaultAdminUsername,
		FullName:     "Administrator",
		PasswordHash: hash,
		Active:       true,
	}
	if _, err := users.Create(ctx, admin, []string{"admin"}); err != nil {
		return err
	}
	if logger != nil {
		if generated {
			logger.Printf("created default admin user %q with password %q", defaultAdminUsername, password)
		} else {
			logger.Printf("created default admin user %q", defaultAdminUsername)
		}
	}
	return nil
}
