package etluser

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/eureka/eureka/internal/platform/apperr"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/users/me", h.Me)
}

func (h *Handler) Me(c echo.Context) error {
	u, err := h.svc.ResolveUser(c)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, u)
}
