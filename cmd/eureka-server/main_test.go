package main

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/eureka/eureka/internal/config"
	"github.com/eureka/eureka/internal/domain/job"
	"github.com/eureka/eureka/internal/domain/sourceconfig"
	"github.com/eureka/eureka/internal/platform/apperr"
	"github.com/eureka/eureka/internal/platform/auth"
	"github.com/eureka/eureka/internal/platform/middleware"
)

type listRepo struct {
	jobs   []*job.Job
	events []*job.JobEvent
}

func (r *listRepo) Create(_ context.Context, j *job.Job) error {
	r.jobs = append(r.jobs, j)
	return nil
}

func (r *listRepo) List(_ context.Context, f job.Filter) ([]*job.Job, error) {
	var out []*job.Job
	for _, j := range r.jobs {
		if f.JobID == nil || j.ID == *f.JobID {
			out = append(out, j)
		}
	}
	return out, nil
}

func (r *listRepo) AddEvent(_ context.Context, _ int64, ev *job.JobEvent) error {
	r.events = append(r.events, ev)
	return nil
}

func TestJobLookup(t *testing.T) {
	repo := &listRepo{jobs: []*job.Job{{ID: 1}, {ID: 2}}}
	l := &jobLookup{repo: repo}

	j, err := l.GetByID(context.Background(), 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if j.ID != 2 {
		t.Errorf("expected job 2, got %d", j.ID)
	}
	if _, err := l.GetByID(context.Background(), 3); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
	if err := l.AddEvent(context.Background(), 1, &job.JobEvent{Status: job.StatusStarted}); err != nil || len(repo.events) != 1 {
		t.Errorf("expected the event to reach the repository, got %v", err)
	}
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestValidateSourceConfigs(t *testing.T) {
	dir := t.TempDir()
	good := writeFile(t, dir, "good.yaml", `
dataSourceBackends:
  - id: EurekaDataSourceBackend
    options:
      - name: databaseName
        value: good
`)
	bad := writeFile(t, dir, "bad.yaml", `
dataSourceBackends:
  - id: NoSuchBackend
`)

	var out bytes.Buffer
	if err := validateSourceConfigs(&out, sourceconfig.DefaultRegistry(), []string{good}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out.String(), "(good)") {
		t.Errorf("expected the id in the report, got %q", out.String())
	}

	out.Reset()
	err := validateSourceConfigs(&out, sourceconfig.DefaultRegistry(), []string{good, bad})
	if err == nil || err.Error() != "1 of 2 source configuration(s) invalid" {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out.String(), "INVALID "+bad) {
		t.Errorf("expected bad.yaml to be reported, got %q", out.String())
	}
}

func TestShippedSourceConfigIsValid(t *testing.T) {
	var out bytes.Buffer
	path := filepath.Join("..", "..", "etc", "sourceconfigs", "spreadsheet.yaml")
	if err := validateSourceConfigs(&out, sourceconfig.DefaultRegistry(), []string{path}); err != nil {
		t.Fatalf("unexpected error: %v\n%s", err, out.String())
	}
}

func serveWith(mw echo.MiddlewareFunc, header string) (string, error) {
	req := httptest.NewRequest(http.MethodGet, "/protected/jobs", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	c := echo.New().NewContext(req, httptest.NewRecorder())
	var user string
	err := mw(func(c echo.Context) error {
		user = auth.UsernameFromContext(c.Request().Context())
		return nil
	})(c)
	return user, err
}

func TestAuthMiddleware(t *testing.T) {
	dev := &config.Config{Env: "development"}
	user, err := serveWith(authMiddleware(dev), "")
	if err != nil || user != "dev-user" {
		t.Errorf("expected dev-user, got %q, %v", user, err)
	}

	prod := &config.Config{Env: "production", AuthSigningKey: "secret", AuthIssuer: "eureka"}
	if _, err := serveWith(authMiddleware(prod), ""); err == nil {
		t.Error("expected a missing token to be rejected outside development")
	}
	token, err := auth.IssueToken([]byte("secret"), "eureka", "alice", []string{auth.RoleResearcher}, time.Hour)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	user, err = serveWith(authMiddleware(prod), "Bearer "+token)
	if err != nil || user != "alice" {
		t.Errorf("expected alice, got %q, %v", user, err)
	}
}

func TestAPIGroups_ShareRateLimit(t *testing.T) {
	e := echo.New()
	limit := middleware.RateLimit(middleware.RateLimitConfig{RequestsPerSecond: 0.001, BurstSize: 2})
	protected, api := apiGroups(e, limit)
	ok := func(c echo.Context) error { return c.NoContent(http.StatusOK) }
	protected.GET("/jobs", ok)
	api.GET("/timeunit/list", ok)

	var codes []int
	for _, path := range []string{"/protected/jobs", "/timeunit/list", "/protected/jobs"} {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		codes = append(codes, rec.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Errorf("expected 200, 200, 429 across both groups, got %v", codes)
	}
}
