package dataelement

import (
	"net/http"
	"strconv"

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
	g := api.Group("/dataelement", auth.RequireRole(auth.RoleResearcher))
	g.POST("", h.Create)
	g.PUT("", h.Update)
	g.GET("/:userId", h.List)
	g.GET("/:userId/:key", h.Get)
	g.GET("/:userId/:key/tree", h.Tree)
	g.DELETE("/:userId/:key", h.Delete)
}

// authorize checks that the caller may act for userID. Admins may act for
// anyone.
func (h *Handler) authorize(c echo.Context, userID int64) error {
	if auth.HasRole(c.Request().Context(), auth.RoleAdmin) {
		return nil
	}
	u, err := h.users.ResolveUser(c)
	if err != nil {
		return err
	}
	if u.ID != userID {
		return echo.NewHTTPError(http.StatusForbidden, "cannot access data elements of another user")
	}
	return nil
}

func (h *Handler) pathUser(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("userId"), 10, 64)
	if err != nil {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid user id")
	}
	if err := h.authorize(c, id); err != nil {
		return 0, apperr.HTTP(err)
	}
	return id, nil
}

func (h *Handler) List(c echo.Context) error {
	userID, err := h.pathUser(c)
	if err != nil {
		return err
	}
	els, err := h.svc.List(c.Request().Context(), userID)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, els)
}

func (h *Handler) Get(c echo.Context) error {
	userID, err := h.pathUser(c)
	if err != nil {
		return err
	}
	el, err := h.svc.Get(c.Request().Context(), userID, c.Param("key"))
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, el)
}

func (h *Handler) Tree(c echo.Context) error {
	userID, err := h.pathUser(c)
	if err != nil {
		return err
	}
	tree, err := h.svc.Tree(c.Request().Context(), userID, c.Param("key"))
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, tree)
}

func (h *Handler) bind(c echo.Context) (*DataElement, error) {
	var d DataElement
	if err := c.Bind(&d); err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if d.UserID != nil {
		if err := h.authorize(c, *d.UserID); err != nil {
			return nil, apperr.HTTP(err)
		}
	}
	return &d, nil
}

func (h *Handler) Create(c echo.Context) error {
	d, err := h.bind(c)
	if err != nil {
		return err
	}
	if err := h.svc.Create(c.Request().Context(), d); err != nil {
		return apperr.HTTP(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) Update(c echo.Context) error {
	d, err := h.bind(c)
	if err != nil {
		return err
	}
	if err := h.svc.Update(c.Request().Context(), d); err != nil {
		return apperr.HTTP(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) Delete(c echo.Context) error {
	userID, err := h.pathUser(c)
	if err != nil {
		return err
	}
	if err := h.svc.Delete(c.Request().Context(), userID, c.Param("key")); err != nil {
		return apperr.HTTP(err)
	}
	return c.NoContent(http.StatusNoContent)
}
