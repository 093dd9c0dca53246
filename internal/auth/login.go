package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strings"

	"bus-tracker/internal/db"
	"bus-tracker/internal/fleet"
)

var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrNoBusAssigned      = errors.New("no bus assigned")
)

type ProfileStore interface {
	GetProfile(ctx context.Context, username string, role fleet.Role) (fleet.Profile, error)
}

func HashPassword(password string) string {
	sum := sha256.Sum256([]byte(password))
	return hex.EncodeToString(sum[:])
}

func checkPassword(hash, password string) bool {
	got := HashPassword(password)
	return subtle.ConstantTimeCompare([]byte(strings.ToLower(hash)), []byte(got)) == 1
}

// Authenticate looks up the profile of username under role and checks the
// password. A driver must have a bus to log in.
func Authenticate(ctx context.Context, store ProfileStore, username string, role fleet.Role, password string) (fleet.Profile, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return fleet.Profile{}, ErrInvalidCredentials
	}
	p, err := store.GetProfile(ctx, username, role)
	if errors.Is(err, db.ErrNotFound) {
		return fleet.Profile{}, ErrInvalidCredentials
	}
	if err != nil {
		return fleet.Profile{}, err
	}
	if !checkPassword(p.PasswordHash, password) {
		return fleet.Profile{}, ErrInvalidCredentials
	}
	if p.Role == fleet.RoleDriver && p.BusNumber == "" {
		return fleet.Profile{}, ErrNoBusAssigned
	}
	return p, nil
}
