package job

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/eureka/eureka/internal/domain/etluser"
	"github.com/eureka/eureka/internal/platform/apperr"
	"github.com/eureka/eureka/internal/platform/auth"
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
	g := api.Group("/jobs", auth.RequireRole(auth.RoleResearcher))
	g.GET("", h.List)
	g.POST("", h.Submit)
	g.GET("/status", h.Status, auth.RequireRole(auth.RoleAdmin))
	g.GET("/latest", h.Latest)
	g.GET("/:id", h.Get)
	g.GET("/:id/stats", h.Stats)
	g.GET("/:id/stats/:propId", h.Stats)
}

func httpError(err error) error {
	if errors.Is(err, ErrQueueFull) {
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}
	return apperr.HTTP(err)
}

func (h *Handler) List(c echo.Context) error {
	desc := false
	if order := c.QueryParam("order"); order != "" {
		if order != "desc" {
			return echo.NewHTTPError(http.StatusPreconditionFailed, "Invalid value for the order parameter: "+order)
		}
		desc = true
	}
	u, err := h.users.ResolveUser(c)
	if err != nil {
		return httpError(err)
	}
	jobs, err := h.svc.ListForUser(c.Request().Context(), u.ID, desc)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, jobs)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := ParseID(c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	u, err := h.users.ResolveUser(c)
	if err != nil {
		return httpError(err)
	}
	j, err := h.svc.Get(c.Request().Context(), u.ID, id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, j)
}

func (h *Handler) Stats(c echo.Context) error {
	id, err := ParseID(c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	u, err := h.users.ResolveUser(c)
	if err != nil {
		return httpError(err)
	}
	var propIDs []string
	if p := c.Param("propId"); p != "" {
		propIDs = []string{p}
	}
	st, err := h.svc.Stats(c.Request().Context(), u.ID, id, propIDs)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, st)
}

func (h *Handler) Submit(c echo.Context) error {
	var req JobRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	u, err := h.users.ResolveUser(c)
	if err != nil {
		return httpError(err)
	}
	j, err := h.svc.Submit(c.Request().Context(), u, &req)
	if err != nil {
		return httpError(err)
	}
	c.Response().Header().Set(echo.HeaderLocation, fmt.Sprintf("/%d", j.ID))
	return c.NoContent(http.StatusCreated)
}

func (h *Handler) Latest(c echo.Context) error {
	u, err := h.users.ResolveUser(c)
	if err != nil {
		return httpError(err)
	}
	jobs, err := h.svc.Latest(c.Request().Context(), u.ID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, jobs)
}

func parseTimeParam(c echo.Context, name string) (*time.Time, error) {
	v := c.QueryParam(name)
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return &t, nil
}

func parseIntParam(c echo.Context, name string) (*int64, error) {
	v := c.QueryParam(name)
	if v == "" {
		return nil, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return &n, nil
}

// FilterFromQuery reads jobId, userId, state, from and to.
func FilterFromQuery(c echo.Context) (Filter, error) {
	var f Filter
	var err error
	if f.JobID, err = parseIntParam(c, "jobId"); err != nil {
		return f, err
	}
	if f.UserID, err = parseIntParam(c, "userId"); err != nil {
		return f, err
	}
	if s := c.QueryParam("state"); s != "" {
		st, ok := ParseStatus(s)
		if !ok {
			return f, echo.NewHTTPError(http.StatusBadRequest, "invalid state "+s)
		}
		f.State = st
	}
	if f.From, err = parseTimeParam(c, "from"); err != nil {
		return f, err
	}
	if f.To, err = parseTimeParam(c, "to"); err != nil {
		return f, err
	}
	return f, nil
}

func (h *Handler) Status(c echo.Context) error {
	f, err := FilterFromQuery(c)
	if err != nil {
		return err
	}
	jobs, err := h.svc.Search(c.Request().Context(), f)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, jobs)
}
