package timeunit

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/eureka/eureka/internal/platform/apperr"
	"github.com/eureka/eureka/internal/platform/auth"
)

type Handler struct {
	units Repository
}

func NewHandler(units Repository) *Handler {
	return &Handler{units: units}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/timeunit", auth.RequireRole(auth.RoleResearcher))
	g.GET("/list", h.List)
	g.GET("/:id", h.Get)
}

func (h *Handler) List(c echo.Context) error {
	units, err := h.units.List(c.Request().Context())
	if err != nil {
		return apperr.HTTP(err)
	}
	if units == nil {
		units = []*TimeUnit{}
	}
	return c.JSON(http.StatusOK, units)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	u, err := h.units.GetByID(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, u)
}
