package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v4"
)

var (
	// ErrMissingToken is returned when a request carries no token.
	ErrMissingToken = errors.New("auth: missing token")
	// ErrInvalidToken is returned when a token fails verification.
	ErrInvalidToken = errors.New("auth: invalid token")
	// ErrForbidden is returned when a valid identity lacks the required permission.
	ErrForbidden = errors.New("auth: permission denied")
)

// Identity is the verified principal behind a connection.
type Identity struct {
	Subject string
	Role    string
}

// Anonymous is the identity given to connections when no check is configured.
var Anonymous = Identity{Subject: "anonymous"}

// Claims extends the registered claims with the caller's role.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Valid adds subject and role checks to the registered claim checks.
func (c *Claims) Valid() error {
	if err := c.RegisteredClaims.Valid(); err != nil {
		return err
	}
	if c.Subject == "" {
		return errors.New("claim has no subject")
	}
	if c.Role == "" {
		return errors.New("claim has no role")
	}
	return nil
}

// JWTAuthenticator admits requests carrying an HMAC signed token whose role
// grants a given permission.
type JWTAuthenticator struct {
	secret     []byte
	roles      *Roles
	permission string
}

// NewJWTAuthenticator creates an authenticator. An empty permission admits
// every valid token with a known role.
func NewJWTAuthenticator(secret string, roles *Roles, permission string) *JWTAuthenticator {
	if roles == nil {
		roles = DefaultRoles()
	}
	return &JWTAuthenticator{
		secret:     []byte(secret),
		roles:      roles,
		permission: permission,
	}
}

// Authenticate verifies the token found in the Authorization header
// ("Bearer <token>") or the "token" query parameter.
func (a *JWTAuthenticator) Authenticate(r *http.Request) (Identity, error) {
	raw := tokenFromRequest(r)
	if raw == "" {
		return Identity{}, ErrMissingToken
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, a.keyFunc)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if a.permission != "" {
		granted, err := a.roles.Check(claims.Role, a.permission)
		if err != nil {
			return Identity{}, fmt.Errorf("%w: role %q: %v", ErrForbidden, claims.Role, err)
		}
		if !granted {
			return Identity{}, fmt.Errorf("%w: role %q lacks %s", ErrForbidden, claims.Role, a.permission)
		}
	} else if _, err := a.roles.Permissions(claims.Role); err != nil {
		return Identity{}, fmt.Errorf("%w: role %q: %v", ErrForbidden, claims.Role, err)
	}

	return Identity{Subject: claims.Subject, Role: claims.Role}, nil
}

func (a *JWTAuthenticator) keyFunc(token *jwt.Token) (interface{}, error) {
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
	}
	return a.secret, nil
}

func tokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}
	return r.URL.Query().Get("token")
}
