// Package session keeps per-user client flags in Redis: who is logged in
// with which role, the theme choice and the remembered username.
package session

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

const keyPrefix = "session:"

const (
	fieldLoggedIn   = "logged_in"
	fieldRole       = "role"
	fieldDarkMode   = "dark_mode"
	fieldRemembered = "remembered_username"
)

type Session struct {
	Subject            string `json:"subject"`
	LoggedIn           bool   `json:"logged_in"`
	Role               string `json:"role,omitempty"`
	DarkMode           bool   `json:"dark_mode"`
	RememberedUsername string `json:"remembered_username,omitempty"`
}

type Store struct {
	client *redis.Client
	ttl    time.Duration
}

func NewClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
}

// NewStore keeps sessions for ttl after their last write; zero keeps them
// forever.
func NewStore(client *redis.Client, ttl time.Duration) *Store {
	return &Store{client: client, ttl: ttl}
}

func key(subject string) string { return keyPrefix + subject }

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Get returns the stored flags; a subject with no record gets defaults.
func (s *Store) Get(ctx context.Context, subject string) (Session, error) {
	m, err := s.client.HGetAll(ctx, key(subject)).Result()
	if err != nil {
		return Session{}, fmt.Errorf("session get %s: %w", subject, err)
	}
	return fromHash(subject, m), nil
}

func fromHash(subject string, m map[string]string) Session {
	se := Session{Subject: subject}
	se.LoggedIn, _ = strconv.ParseBool(m[fieldLoggedIn])
	se.DarkMode, _ = strconv.ParseBool(m[fieldDarkMode])
	se.Role = m[fieldRole]
	se.RememberedUsername = m[fieldRemembered]
	return se
}

func (s *Store) set(ctx context.Context, subject string, values ...any) error {
	k := key(subject)
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, k, values...)
	if s.ttl > 0 {
		pipe.Expire(ctx, k, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("session set %s: %w", subject, err)
	}
	return nil
}

// Login marks subject as logged in with role.
func (s *Store) Login(ctx context.Context, subject, role string) error {
	return s.set(ctx, subject, fieldLoggedIn, "true", fieldRole, role)
}

// Logout clears the logged-in flag and role; theme and remembered
// username survive.
func (s *Store) Logout(ctx context.Context, subject string) error {
	if err := s.client.HDel(ctx, key(subject), fieldLoggedIn, fieldRole).Err(); err != nil {
		return fmt.Errorf("session logout %s: %w", subject, err)
	}
	return nil
}

func (s *Store) SetTheme(ctx context.Context, subject string, dark bool) error {
	return s.set(ctx, subject, fieldDarkMode, strconv.FormatBool(dark))
}

// Remember stores username for the login form; empty forgets it.
func (s *Store) Remember(ctx context.Context, subject, username string) error {
	if username == "" {
		if err := s.client.HDel(ctx, key(subject), fieldRemembered).Err(); err != nil {
			return fmt.Errorf("session forget %s: %w", subject, err)
		}
		return nil
	}
	return s.set(ctx, subject, fieldRemembered, username)
}

// Clear drops every flag of subject.
func (s *Store) Clear(ctx context.Context, subject string) error {
	return s.client.Del(ctx, key(subject)).Err()
}
