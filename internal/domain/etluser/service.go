package etluser

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/eureka/eureka/internal/platform/auth"
)

type Service struct {
	users Repository
}

func NewService(users Repository) *Service {
	return &Service{users: users}
}

func (s *Service) Get(ctx context.Context, id int64) (*User, error) {
	return s.users.GetByID(ctx, id)
}

// Current maps the authenticated username in ctx to its user row,
// creating the row on first use.
func (s *Service) Current(ctx context.Context) (*User, error) {
	username := auth.UsernameFromContext(ctx)
	if username == "" {
		return nil, echo.NewHTTPError(http.StatusUnauthorized, "not authenticated")
	}
	return s.users.GetOrCreate(ctx, username)
}

// ResolveUser is Current for handlers.
func (s *Service) ResolveUser(c echo.Context) (*User, error) {
	return s.Current(c.Request().Context())
}
