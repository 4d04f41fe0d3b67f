package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{New(ErrInvalid, "bad"), http.StatusBadRequest},
		{fmt.Errorf("wrapped: %w", New(ErrNotFound, "gone")), http.StatusNotFound},
		{ErrConflict, http.StatusConflict},
		{Newf(ErrPrecondition, "need %s", "id"), http.StatusPreconditionFailed},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := Status(tt.err); got != tt.want {
			t.Errorf("Status(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestHTTP_KeepsMessage(t *testing.T) {
	he := HTTP(New(ErrConflict, "Data element already exists."))
	if he.Code != http.StatusConflict {
		t.Errorf("expected 409, got %d", he.Code)
	}
	if he.Message != "Data element already exists." {
		t.Errorf("unexpected message: %v", he.Message)
	}
}
