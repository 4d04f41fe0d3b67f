package systemelement

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/eureka/eureka/internal/platform/apperr"
	"github.com/eureka/eureka/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/systemelement", auth.RequireRole(auth.RoleResearcher))
	g.GET("", h.List)
	g.GET("/:key", h.Get)
}

func (h *Handler) Get(c echo.Context) error {
	el, err := h.svc.Get(c.Request().Context(), c.Param("key"))
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, el)
}

func (h *Handler) List(c echo.Context) error {
	keys := c.QueryParams()["key"]
	els, err := h.svc.GetAll(c.Request().Context(), keys)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, els)
}
