package destination

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/eureka/eureka/internal/domain/etluser"
	"github.com/eureka/eureka/internal/platform/apperr"
	"github.com/eureka/eureka/internal/platform/auth"
	"github.com/eureka/eureka/internal/platform/export"
	"github.com/eureka/eureka/pkg/pagination"
)

// UserResolver maps a request to its ETL user.
type UserResolver interface {
	ResolveUser(c echo.Context) (*etluser.User, error)
}

type Handler struct {
	svc   *Service
	users UserResolver
}

func NewHandler(svc *Service, users UserResolver) *Handler {
	return &Handler{svc: svc, users: users}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/destinations", auth.RequireRole(auth.RoleResearcher))
	g.GET("", h.List)
	g.POST("", h.Create)
	g.PUT("", h.Update)
	g.GET("/:name", h.Get)
	g.DELETE("/:name", h.Delete)

	cg := api.Group("/cohorts", auth.RequireRole(auth.RoleResearcher))
	cg.GET("", h.ListCohorts)
	cg.GET("/:name", h.GetCohort)
	cg.DELETE("/:name", h.DeleteCohort)
}

func (h *Handler) bind(c echo.Context) (*Destination, error) {
	var d Destination
	if err := c.Bind(&d); err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	return &d, nil
}

func (h *Handler) Create(c echo.Context) error {
	d, err := h.bind(c)
	if err != nil {
		return err
	}
	u, err := h.users.ResolveUser(c)
	if err != nil {
		return apperr.HTTP(err)
	}
	if err := h.svc.Create(c.Request().Context(), u.ID, d); err != nil {
		return apperr.HTTP(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) Update(c echo.Context) error {
	d, err := h.bind(c)
	if err != nil {
		return err
	}
	u, err := h.users.ResolveUser(c)
	if err != nil {
		return apperr.HTTP(err)
	}
	if err := h.svc.Update(c.Request().Context(), u.ID, d); err != nil {
		return apperr.HTTP(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) Get(c echo.Context) error {
	d, err := h.svc.Get(c.Request().Context(), c.Param("name"))
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) GetCohort(c echo.Context) error {
	d, err := h.svc.GetCohort(c.Request().Context(), c.Param("name"))
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) List(c echo.Context) error {
	dests, err := h.svc.List(c.Request().Context(), export.Type(c.QueryParam("type")))
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, dests)
}

func (h *Handler) ListCohorts(c echo.Context) error {
	pg, err := pagination.Parse(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	dests, total, err := h.svc.ListCohorts(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewPage(dests, total, pg, c.Request().URL))
}

func (h *Handler) Delete(c echo.Context) error {
	u, err := h.users.ResolveUser(c)
	if err != nil {
		return apperr.HTTP(err)
	}
	if err := h.svc.Delete(c.Request().Context(), u.ID, c.Param("name")); err != nil {
		return apperr.HTTP(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) DeleteCohort(c echo.Context) error {
	u, err := h.users.ResolveUser(c)
	if err != nil {
		return apperr.HTTP(err)
	}
	if err := h.svc.DeleteCohort(c.Request().Context(), u.ID, c.Param("name")); err != nil {
		return apperr.HTTP(err)
	}
	return c.NoContent(http.StatusNoContent)
}
