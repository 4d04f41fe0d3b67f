package job

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/eureka/eureka/internal/domain/etluser"
)

type fixedUser struct{ u *etluser.User }

func (f fixedUser) ResolveUser(_ echo.Context) (*etluser.User, error) { return f.u, nil }

func newTestHandler() (*Handler, *testEnv, *echo.Echo) {
	env := newTestEnv()
	return NewHandler(env.svc, fixedUser{alice}), env, echo.New()
}

func expectHTTPError(t *testing.T, err error, code int, msg string) {
	t.Helper()
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T (%v)", err, err)
	}
	if httpErr.Code != code {
		t.Errorf("expected %d, got %d", code, httpErr.Code)
	}
	if msg != "" && httpErr.Message != msg {
		t.Errorf("expected message %q, got %v", msg, httpErr.Message)
	}
}

func TestHandler_List_InvalidOrder(t *testing.T) {
	h, _, e := newTestHandler()
	req := httptest.NewRequest(http.MethodGet, "/?order=asc", nil)
	rec := httptest.NewRecorder()
	err := h.List(e.NewContext(req, rec))
	expectHTTPError(t, err, http.StatusPreconditionFailed, "Invalid value for the order parameter: asc")
}

func TestHandler_List_Desc(t *testing.T) {
	h, env, e := newTestHandler()
	env.svc.Submit(context.Background(), alice, validRequest())
	env.svc.Submit(context.Background(), alice, validRequest())

	req := httptest.NewRequest(http.MethodGet, "/?order=desc", nil)
	rec := httptest.NewRecorder()
	if err := h.List(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var jobs []Job
	if err := json.Unmarshal(rec.Body.Bytes(), &jobs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(jobs) != 2 || jobs[0].ID != 2 {
		t.Errorf("expected newest first, got %+v", jobs)
	}
}

func TestHandler_Submit(t *testing.T) {
	h, env, e := newTestHandler()
	body := `{"jobSpec":{"sourceConfigId":"spreadsheet","destinationId":"out"},"propositionIdsToShow":["A"]}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	if err := h.Submit(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != "/1" {
		t.Errorf("expected Location /1, got %q", loc)
	}
	if len(env.queue.reqs) != 1 {
		t.Errorf("expected a queued task")
	}
}

func TestHandler_Submit_MissingDestination(t *testing.T) {
	h, _, e := newTestHandler()
	body := `{"jobSpec":{"sourceConfigId":"spreadsheet"}}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	err := h.Submit(e.NewContext(req, httptest.NewRecorder()))
	expectHTTPError(t, err, http.StatusBadRequest, "Destination must be specified")
}

func TestHandler_Submit_QueueFull(t *testing.T) {
	h, env, e := newTestHandler()
	env.queue.err = ErrQueueFull
	body := `{"jobSpec":{"sourceConfigId":"spreadsheet","destinationId":"out"}}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	err := h.Submit(e.NewContext(req, httptest.NewRecorder()))
	expectHTTPError(t, err, http.StatusServiceUnavailable, "")
}

func TestHandler_Get(t *testing.T) {
	h, env, e := newTestHandler()
	j, _ := env.svc.Submit(context.Background(), alice, validRequest())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(strconv.FormatInt(j.ID, 10))
	if err := h.Get(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), `"sourceConfigId":"spreadsheet"`) {
		t.Errorf("unexpected body %s", rec.Body.String())
	}

	c = e.NewContext(req, httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues("7")
	expectHTTPError(t, h.Get(c), http.StatusNotFound, "")

	c = e.NewContext(req, httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues("x")
	expectHTTPError(t, h.Get(c), http.StatusBadRequest, "")
}

func TestHandler_Stats_WithProposition(t *testing.T) {
	h, env, e := newTestHandler()
	env.svc.Submit(context.Background(), alice, validRequest())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id", "propId")
	c.SetParamValues("1", "ICD9:250.00")
	if err := h.Stats(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), `"numberOfKeys":2`) {
		t.Errorf("unexpected body %s", rec.Body.String())
	}
}

func TestHandler_Status_Filter(t *testing.T) {
	h, env, e := newTestHandler()
	env.svc.Submit(context.Background(), alice, validRequest())

	req := httptest.NewRequest(http.MethodGet, "/status?state=BOGUS", nil)
	expectHTTPError(t, h.Status(e.NewContext(req, httptest.NewRecorder())), http.StatusBadRequest, "")

	req = httptest.NewRequest(http.MethodGet, "/status?userId=1&from=2020-01-01T00:00:00Z", nil)
	rec := httptest.NewRecorder()
	if err := h.Status(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}
