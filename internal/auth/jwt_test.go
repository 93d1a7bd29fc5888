package auth_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/agora/internal/auth"
)

const secret = "s3cr3t"

func sign(t *testing.T, key string, claims *auth.Claims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
	require.NoError(t, err)
	return token
}

func claims(subject, role string, ttl time.Duration) *auth.Claims {
	return &auth.Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
	}
}

func request(header, query string) *http.Request {
	target := "/ws"
	if query != "" {
		target += "?token=" + query
	}
	r := httptest.NewRequest(http.MethodGet, target, nil)
	if header != "" {
		r.Header.Set("Authorization", header)
	}
	return r
}

func TestAuthenticate(t *testing.T) {
	a := auth.NewJWTAuthenticator(secret, auth.DefaultRoles(), auth.PermSystemRead)

	t.Run("bearer header", func(t *testing.T) {
		id, err := a.Authenticate(request("Bearer "+sign(t, secret, claims("alice", "user", time.Hour)), ""))
		require.NoError(t, err)
		assert.Equal(t, auth.Identity{Subject: "alice", Role: "user"}, id)
	})

	t.Run("query parameter", func(t *testing.T) {
		id, err := a.Authenticate(request("", sign(t, secret, claims("bob", "readonly", time.Hour))))
		require.NoError(t, err)
		assert.Equal(t, "bob", id.Subject)
	})

	t.Run("missing token", func(t *testing.T) {
		_, err := a.Authenticate(request("", ""))
		assert.ErrorIs(t, err, auth.ErrMissingToken)
	})

	t.Run("non bearer scheme", func(t *testing.T) {
		_, err := a.Authenticate(request("Basic Zm9vOmJhcg==", ""))
		assert.ErrorIs(t, err, auth.ErrMissingToken)
	})

	t.Run("wrong key", func(t *testing.T) {
		_, err := a.Authenticate(request("Bearer "+sign(t, "other", claims("alice", "user", time.Hour)), ""))
		assert.ErrorIs(t, err, auth.ErrInvalidToken)
	})

	t.Run("expired", func(t *testing.T) {
		_, err := a.Authenticate(request("Bearer "+sign(t, secret, claims("alice", "user", -time.Minute)), ""))
		assert.ErrorIs(t, err, auth.ErrInvalidToken)
	})

	t.Run("no subject", func(t *testing.T) {
		_, err := a.Authenticate(request("Bearer "+sign(t, secret, claims("", "user", time.Hour)), ""))
		assert.ErrorIs(t, err, auth.ErrInvalidToken)
	})

	t.Run("unsigned token", func(t *testing.T) {
		token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims("alice", "admin", time.Hour)).
			SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)
		_, err = a.Authenticate(request("Bearer "+token, ""))
		assert.ErrorIs(t, err, auth.ErrInvalidToken)
	})

	t.Run("unknown role", func(t *testing.T) {
		_, err := a.Authenticate(request("Bearer "+sign(t, secret, claims("alice", "intern", time.Hour)), ""))
		assert.ErrorIs(t, err, auth.ErrForbidden)
	})
}

func TestAuthenticateRequiresPermission(t *testing.T) {
	a := auth.NewJWTAuthenticator(secret, nil, auth.PermAgentWrite)

	_, err := a.Authenticate(request("Bearer "+sign(t, secret, claims("carol", "readonly", time.Hour)), ""))
	assert.ErrorIs(t, err, auth.ErrForbidden)

	id, err := a.Authenticate(request("Bearer "+sign(t, secret, claims("dave", "admin", time.Hour)), ""))
	require.NoError(t, err)
	assert.True(t, auth.IsAdmin(id.Role))
}

func TestRoles(t *testing.T) {
	roles := auth.DefaultRoles()

	ok, err := roles.Check("admin", auth.PermSystemAdmin)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = roles.Check("user", auth.PermSystemAdmin)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = roles.Check("ghost", auth.PermUserRead)
	assert.ErrorIs(t, err, auth.ErrInvalidRole)

	perms, err := roles.Permissions("readonly")
	require.NoError(t, err)
	assert.Equal(t, []string{auth.PermAgentRead, auth.PermSystemRead, auth.PermUserRead}, perms)

	custom := auth.NewRoles(map[string][]string{"bot": {"topic:publish"}})
	ok, err = custom.Check("bot", "topic:publish")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.False(t, auth.IsAdmin("bot"))
}
