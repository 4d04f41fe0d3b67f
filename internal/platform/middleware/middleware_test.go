package middleware

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/eureka/eureka/internal/platform/auth"
)

func TestRequestID(t *testing.T) {
	tests := []struct {
		name   string
		header string
		keep   bool
	}{
		{"absent", "", false},
		{"kept", "batch-7f3a", true},
		{"oversized", strings.Repeat("x", 500), false},
		{"control chars", "abc\x01def", false},
		{"spaces", "two words", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set(RequestIDHeader, tt.header)
			}
			rec := httptest.NewRecorder()
			c := echo.New().NewContext(req, rec)

			var seen string
			if err := RequestID()(func(c echo.Context) error {
				seen, _ = c.Get("request_id").(string)
				return nil
			})(c); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if seen == "" || rec.Header().Get(RequestIDHeader) != seen {
				t.Fatalf("context %q and header %q disagree", seen, rec.Header().Get(RequestIDHeader))
			}
			if (seen == tt.header) != tt.keep {
				t.Errorf("header %q became %q", tt.header, seen)
			}
		})
	}
}

func TestLogger_LogsRequest(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/protected/jobs", nil)
	req = req.WithContext(auth.WithUser(req.Context(), "alice", nil))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.Set("request_id", "req-9")

	err := Logger(logger)(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var line map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("expected one JSON log line, got %q", buf.String())
	}
	if line["request_id"] != "req-9" {
		t.Errorf("expected request_id req-9, got %v", line["request_id"])
	}
	if line["user"] != "alice" {
		t.Errorf("expected user alice, got %v", line["user"])
	}
	if line["status"] != float64(200) {
		t.Errorf("expected status 200, got %v", line["status"])
	}
}

func TestLogger_Levels(t *testing.T) {
	tests := []struct {
		name    string
		route   string
		handler echo.HandlerFunc
		level   string
		status  float64
	}{
		{"probe", "/health", func(c echo.Context) error { return c.NoContent(http.StatusOK) }, "debug", 200},
		{"not found", "/protected/jobs/:id", func(c echo.Context) error {
			return echo.NewHTTPError(http.StatusNotFound, "job not found")
		}, "warn", 404},
		{"plain error", "/protected/jobs", func(c echo.Context) error { return errors.New("boom") }, "error", 500},
		{"server error", "/protected/jobs", func(c echo.Context) error {
			return echo.NewHTTPError(http.StatusServiceUnavailable, "queue full")
		}, "error", 503},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			c := echo.New().NewContext(httptest.NewRequest(http.MethodGet, tt.route, nil), httptest.NewRecorder())
			c.SetPath(tt.route)
			Logger(zerolog.New(&buf))(tt.handler)(c)

			var line map[string]interface{}
			if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
				t.Fatalf("expected one JSON log line, got %q", buf.String())
			}
			if line["level"] != tt.level || line["status"] != tt.status {
				t.Errorf("expected %s/%v, got %v/%v", tt.level, tt.status, line["level"], line["status"])
			}
			if line["route"] != tt.route {
				t.Errorf("expected route %s, got %v", tt.route, line["route"])
			}
		})
	}
}

func TestRecovery_ReportsRequestID(t *testing.T) {
	var buf bytes.Buffer
	c := echo.New().NewContext(httptest.NewRequest(http.MethodGet, "/panic", nil), httptest.NewRecorder())
	c.Set("request_id", "req-42")

	err := Recovery(zerolog.New(&buf))(func(c echo.Context) error {
		panic("boom")
	})(c)

	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusInternalServerError || !strings.Contains(fmt.Sprint(httpErr.Message), "req-42") {
		t.Fatalf("expected the request id in the error, got %v", err)
	}
	if !strings.Contains(buf.String(), `"panic":"boom"`) || !strings.Contains(buf.String(), `"stack"`) {
		t.Errorf("expected panic and stack in the log, got %s", buf.String())
	}
}
