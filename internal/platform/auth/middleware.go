package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

type contextKey string

const (
	UsernameKey  contextKey = "username"
	UserRolesKey contextKey = "user_roles"
)

const (
	RoleResearcher = "researcher"
	RoleAdmin      = "admin"
)

// DevUser is the identity of unauthenticated requests in development.
const DevUser = "dev-user"

// Claims are the token claims the server relies on. The subject is the
// username that owns destinations, data elements and jobs. Roles come from
// the roles claim or, for Keycloak-style tokens, realm_access.roles.
type Claims struct {
	jwt.RegisteredClaims
	Roles       []string `json:"roles,omitempty"`
	RealmAccess *struct {
		Roles []string `json:"roles"`
	} `json:"realm_access,omitempty"`
}

func (c *Claims) allRoles() []string {
	if c.RealmAccess == nil {
		return c.Roles
	}
	return append(append([]string{}, c.Roles...), c.RealmAccess.Roles...)
}

type JWTConfig struct {
	Issuer   string
	Audience string
	// JWKSURL names the RS256 key set. Without it and without SigningKey the
	// key set is found through the issuer's discovery document.
	JWKSURL string
	// SigningKey switches verification to HS256 with a shared secret.
	SigningKey []byte
	Skipper    func(echo.Context) bool
}

func (cfg JWTConfig) verifier() (jwt.Keyfunc, []string) {
	if len(cfg.SigningKey) > 0 {
		return func(*jwt.Token) (interface{}, error) { return cfg.SigningKey, nil }, []string{"HS256"}
	}
	url := cfg.JWKSURL
	if url == "" && cfg.Issuer != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if d, err := Discover(ctx, cfg.Issuer); err == nil {
			url = d.JWKSURI
		}
		cancel()
	}
	keys := newKeySet(url)
	return func(token *jwt.Token) (interface{}, error) {
		kid, _ := token.Header["kid"].(string)
		if kid == "" {
			return nil, fmt.Errorf("token has no kid header")
		}
		return keys.key(context.Background(), kid)
	}, []string{"RS256"}
}

// bearerToken extracts the token of an "Authorization: Bearer <token>" header.
func bearerToken(header string) (string, error) {
	if header == "" {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
	}
	scheme, token, ok := strings.Cut(header, " ")
	token = strings.TrimSpace(token)
	if !ok || !strings.EqualFold(scheme, "bearer") || token == "" {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization format")
	}
	return token, nil
}

// JWTMiddleware authenticates every request not skipped by cfg.Skipper and
// puts the token's subject and roles in the request context.
func JWTMiddleware(cfg JWTConfig) echo.MiddlewareFunc {
	keyFunc, methods := cfg.verifier()
	opts := []jwt.ParserOption{jwt.WithValidMethods(methods), jwt.WithLeeway(30 * time.Second)}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	parser := jwt.NewParser(opts...)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if cfg.Skipper != nil && cfg.Skipper(c) {
				return next(c)
			}
			raw, err := bearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
			if err != nil {
				return err
			}
			claims := &Claims{}
			if _, err := parser.ParseWithClaims(raw, claims, keyFunc); err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}
			if claims.Subject == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "token has no subject")
			}
			ctx := WithUser(c.Request().Context(), claims.Subject, claims.allRoles())
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

// DevAuthMiddleware lets requests without an Authorization header through as
// DevUser with every role. Requests that carry a token go to verify, which
// may be nil to accept them unchecked.
func DevAuthMiddleware(verify echo.MiddlewareFunc) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		verified := next
		if verify != nil {
			verified = verify(next)
		}
		return func(c echo.Context) error {
			if c.Request().Header.Get(echo.HeaderAuthorization) != "" {
				return verified(c)
			}
			ctx := WithUser(c.Request().Context(), DevUser, []string{RoleResearcher, RoleAdmin})
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

func WithUser(ctx context.Context, username string, roles []string) context.Context {
	ctx = context.WithValue(ctx, UsernameKey, username)
	return context.WithValue(ctx, UserRolesKey, roles)
}

func UsernameFromContext(ctx context.Context) string {
	name, _ := ctx.Value(UsernameKey).(string)
	return name
}

func RolesFromContext(ctx context.Context) []string {
	roles, _ := ctx.Value(UserRolesKey).([]string)
	return roles
}

// IssueToken signs an HS256 token for username. The serve command verifies
// it when AUTH_SIGNING_KEY is configured.
func IssueToken(key []byte, issuer, username string, roles []string, ttl time.Duration) (string, error) {
	if len(key) == 0 {
		return "", fmt.Errorf("signing key is required")
	}
	now := time.Now()
	return jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Roles: roles,
	}).SignedString(key)
}
