package systemelement

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/eureka/eureka/internal/platform/engine"
	"github.com/eureka/eureka/internal/platform/ksb"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	ks, err := ksb.Default()
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	return NewService(ksb.NewPropositionFinder(ks))
}

func TestService_Get(t *testing.T) {
	svc := newTestService(t)
	el, err := svc.Get(context.Background(), "ICD9:250.00")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !el.InSystem || el.Type != "SYSTEM" {
		t.Errorf("expected a system element, got %+v", el)
	}

	if _, err := svc.Get(context.Background(), "NOPE"); err == nil {
		t.Fatal("expected error for unknown key")
	}
}

func TestService_GetAllSkipsUnknown(t *testing.T) {
	svc := newTestService(t)
	els, err := svc.GetAll(context.Background(), []string{"ICD9:250.00", "NOPE", "Encounter"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(els) != 2 {
		t.Fatalf("expected 2 elements, got %d", len(els))
	}
}

func TestService_PropositionID(t *testing.T) {
	svc := newTestService(t)
	tests := []struct{ key, want string }{
		{"ICD9:250.00", "ICD9:250.00"},
		{"my_phenotype", "USER:my_phenotype"},
		{"USER:already", "USER:already"},
	}
	for _, tt := range tests {
		got, err := svc.PropositionID(context.Background(), tt.key)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != tt.want {
			t.Errorf("PropositionID(%s) = %s, want %s", tt.key, got, tt.want)
		}
	}
}

type mapFinder map[string]*engine.PropositionDefinition

func (m mapFinder) Find(_ context.Context, key string) (*engine.PropositionDefinition, error) {
	return m[key], nil
}

func TestHandler_GetAndList(t *testing.T) {
	h := NewHandler(NewService(mapFinder{
		"ICD9": {ID: "ICD9", DisplayName: "ICD-9 codes", Type: engine.TypeCategorization, InverseIsA: []string{"ICD9:250"}},
	}))
	e := echo.New()

	req := httptest.NewRequest(http.MethodGet, "/systemelement/ICD9", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("key")
	c.SetParamValues("ICD9")
	if err := h.Get(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var el SystemElement
	if err := json.Unmarshal(rec.Body.Bytes(), &el); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !el.Parent || el.Children[0] != "ICD9:250" {
		t.Errorf("unexpected element %+v", el)
	}

	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/systemelement/X", nil), httptest.NewRecorder())
	c.SetParamNames("key")
	c.SetParamValues("X")
	err := h.Get(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %v", err)
	}

	rec = httptest.NewRecorder()
	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/systemelement?key=ICD9&key=X", nil), rec)
	if err := h.List(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var els []SystemElement
	if err := json.Unmarshal(rec.Body.Bytes(), &els); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(els) != 1 {
		t.Errorf("expected 1 element, got %d", len(els))
	}
}
