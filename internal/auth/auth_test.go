package auth

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bus-tracker/internal/db"
	"bus-tracker/internal/fleet"
)

func TestIssueValidate(t *testing.T) {
	m := NewManager("secret", time.Hour)
	tok, exp, err := m.Issue("ravi", fleet.RoleDriver, "TS09")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), exp, 5*time.Second)

	c, err := m.Validate("Bearer " + tok)
	require.NoError(t, err)
	assert.Equal(t, "ravi", c.UserID)
	assert.Equal(t, fleet.RoleDriver, c.Role)
	assert.Equal(t, "TS09", c.BusNumber)
	assert.Equal(t, "driver:ravi", c.Subject())
}

func TestValidateRejects(t *testing.T) {
	m := NewManager("secret", time.Hour)
	tok, _, err := m.Issue("ravi", fleet.RoleStudent, "")
	require.NoError(t, err)

	_, err = NewManager("other", time.Hour).Validate(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = m.Validate("")
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired := NewManager("secret", time.Minute)
	expired.now = func() time.Time { return time.Now().Add(-time.Hour) }
	old, _, err := expired.Issue("ravi", fleet.RoleStudent, "")
	require.NoError(t, err)
	_, err = m.Validate(old)
	assert.ErrorIs(t, err, ErrInvalidToken)

	bad := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{UserID: "x", Role: "pilot"})
	s, err := bad.SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = m.Validate(s)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestMiddleware(t *testing.T) {
	m := NewManager("secret", time.Hour)
	h := m.Middleware(fleet.RoleAdmin, fleet.RoleKing)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, ok := FromContext(r.Context())
		require.True(t, ok)
		_, _ = w.Write([]byte(c.UserID))
	}))

	do := func(token string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/admin/fleet", nil)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusUnauthorized, do("").Code)

	student, _, _ := m.Issue("anu", fleet.RoleStudent, "")
	assert.Equal(t, http.StatusForbidden, do(student).Code)

	king, _, _ := m.Issue("root", fleet.RoleKing, "")
	rec := do(king)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "root", rec.Body.String())
}

func TestTokenFromQuery(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/ws?bus=TS09&token=abc", nil)
	assert.Equal(t, "abc", TokenFromRequest(req))
}

type profiles map[string]fleet.Profile

func (p profiles) GetProfile(_ context.Context, username string, role fleet.Role) (fleet.Profile, error) {
	pr, ok := p[string(role)+":"+username]
	if !ok {
		return fleet.Profile{}, fmt.Errorf("profile: %w", db.ErrNotFound)
	}
	return pr, nil
}

func TestAuthenticate(t *testing.T) {
	store := profiles{
		"driver:ravi": {Username: "ravi", Role: fleet.RoleDriver, BusNumber: "TS09", PasswordHash: HashPassword("pw")},
		"driver:sita": {Username: "sita", Role: fleet.RoleDriver, PasswordHash: HashPassword("pw")},
		"student:anu": {Username: "anu", Role: fleet.RoleStudent, PasswordHash: HashPassword("pw")},
	}
	ctx := context.Background()

	p, err := Authenticate(ctx, store, " ravi ", fleet.RoleDriver, "pw")
	require.NoError(t, err)
	assert.Equal(t, "TS09", p.BusNumber)

	_, err = Authenticate(ctx, store, "ravi", fleet.RoleDriver, "nope")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = Authenticate(ctx, store, "anu", fleet.RoleDriver, "pw")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = Authenticate(ctx, store, "sita", fleet.RoleDriver, "pw")
	assert.ErrorIs(t, err, ErrNoBusAssigned)

	_, err = Authenticate(ctx, store, "", fleet.RoleStudent, "pw")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}
