package fileupload

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/eureka/eureka/internal/domain/job"
	"github.com/eureka/eureka/internal/platform/apperr"
	"github.com/eureka/eureka/internal/platform/auth"
	"github.com/eureka/eureka/internal/platform/blobstore"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/job", auth.RequireRole(auth.RoleResearcher))
	g.POST("/add", h.Add)
	g.POST("/upload", h.Upload)
	g.GET("/list/:userId", h.List)
	g.GET("/status/:userId", h.Status)
}

func httpError(err error) error {
	switch {
	case errors.Is(err, job.ErrQueueFull):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, blobstore.ErrFileTooLarge):
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, err.Error())
	}
	return apperr.HTTP(err)
}

func pathUser(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("userId"), 10, 64)
	if err != nil {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid user id")
	}
	return id, nil
}

func (h *Handler) Add(c echo.Context) error {
	var req AddRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if _, err := h.svc.Add(c.Request().Context(), &req); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusOK)
}

// Upload accepts a multipart form with the spreadsheet in "file" and the
// owner in "userId".
func (h *Handler) Upload(c echo.Context) error {
	userID, err := strconv.ParseInt(c.FormValue("userId"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid user id")
	}
	fh, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "file is required")
	}
	if fh.Size > blobstore.MaxFileSize {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, blobstore.ErrFileTooLarge.Error())
	}
	f, err := fh.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "unreadable file")
	}
	defer f.Close()

	if _, err := h.svc.Upload(c.Request().Context(), userID, fh.Filename, f); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusOK)
}

func (h *Handler) List(c echo.Context) error {
	userID, err := pathUser(c)
	if err != nil {
		return err
	}
	jobs, err := h.svc.List(c.Request().Context(), userID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, jobs)
}

func (h *Handler) Status(c echo.Context) error {
	userID, err := pathUser(c)
	if err != nil {
		return err
	}
	info, err := h.svc.Status(c.Request().Context(), userID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, info)
}
