package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/eureka/eureka/internal/platform/auth"
)

// AuditEntry describes one access to an ETL resource. Route is the matched
// route template; ResourceID is the value of its first path parameter.
type AuditEntry struct {
	Username   string
	Roles      []string
	Resource   string
	ResourceID string
	Action     string
	Route      string
	Method     string
	RemoteIP   string
	RequestID  string
	Status     int
	Duration   time.Duration
	At         time.Time
}

// AuditRecorder receives every audit entry after it is logged.
type AuditRecorder interface {
	RecordAccess(entry AuditEntry) error
}

// AuditRecorderFunc adapts a function to AuditRecorder.
type AuditRecorderFunc func(entry AuditEntry) error

func (f AuditRecorderFunc) RecordAccess(entry AuditEntry) error {
	return f(entry)
}

// routeActions names the actions that a method alone cannot tell apart.
var routeActions = map[string]string{
	"POST /job/upload":           "upload",
	"GET /protected/jobs/status": "monitor",
}

// Audit writes an etl_audit log event for every request that matched an
// API route and hands the entry to the recorders. Unmatched requests and
// infrastructure routes are not audited.
func Audit(logger zerolog.Logger, recorders ...AuditRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			route := c.Path()
			if route == "" || quietRoutes[route] {
				return next(c)
			}

			start := time.Now()
			err := next(c)

			req := c.Request()
			entry := AuditEntry{
				Username: auth.UsernameFromContext(req.Context()),
				Roles:    auth.RolesFromContext(req.Context()),
				Route:    route,
				Method:   req.Method,
				RemoteIP: c.RealIP(),
				Status:   responseStatus(c, err),
				Duration: time.Since(start),
				At:       start.UTC(),
			}
			entry.Resource = routeResource(route)
			entry.Action = routeAction(req.Method, route)
			if values := c.ParamValues(); len(values) > 0 {
				entry.ResourceID = values[0]
			}
			entry.RequestID, _ = c.Get("request_id").(string)

			for _, rec := range recorders {
				if recErr := rec.RecordAccess(entry); recErr != nil {
					logger.Error().Err(recErr).Str("request_id", entry.RequestID).Msg("audit recorder failed")
				}
			}

			evt := logger.Info()
			switch {
			case entry.Status == http.StatusUnauthorized || entry.Status == http.StatusForbidden:
				evt = logger.Warn().Str("outcome", "denied")
			case entry.Status >= http.StatusInternalServerError:
				evt = logger.Warn().Str("outcome", "failed")
			}
			evt.Str("type", "etl_audit").
				Str("request_id", entry.RequestID).
				Str("user", entry.Username).
				Strs("roles", entry.Roles).
				Str("resource", entry.Resource).
				Str("resource_id", entry.ResourceID).
				Str("action", entry.Action).
				Str("route", entry.Route).
				Str("remote_ip", entry.RemoteIP).
				Int("status", entry.Status).
				Dur("duration", entry.Duration).
				Msg("access")

			return err
		}
	}
}

// responseStatus is the status the client will see: the committed one, or
// the code of a handler error that the error handler has yet to write.
func responseStatus(c echo.Context, err error) int {
	if err == nil || c.Response().Committed {
		return c.Response().Status
	}
	if he, ok := err.(*echo.HTTPError); ok {
		return he.Code
	}
	return http.StatusInternalServerError
}

// routeResource is the first literal segment of a route template below
// /protected, e.g. "jobs" for /protected/jobs/:id/stats.
func routeResource(route string) string {
	route = strings.TrimPrefix(route, "/protected")
	first, _, _ := strings.Cut(strings.TrimPrefix(route, "/"), "/")
	if first == "" || strings.HasPrefix(first, ":") {
		return "root"
	}
	return first
}

func routeAction(method, route string) string {
	if a, ok := routeActions[method+" "+route]; ok {
		return a
	}
	switch method {
	case http.MethodPost:
		return "create"
	case http.MethodPut, http.MethodPatch:
		return "update"
	case http.MethodDelete:
		return "delete"
	}
	return "read"
}
