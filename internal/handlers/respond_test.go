package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"escrow-backend/internal/apperrors"

	"github.com/gin-gonic/gin"
)

func respond(t *testing.T, err error) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	respondError(c, err)
	return w
}

func TestRespondError_StatusMapping(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		want int
	}{
		{"validation", apperrors.NewValidationError("bad input"), http.StatusBadRequest},
		{"not found", apperrors.NewNotFoundError("task", "t-1"), http.StatusNotFound},
		{"conflict", apperrors.NewConflictError("already settled"), http.StatusConflict},
		{"rail unavailable", apperrors.NewRailError("token", apperrors.RailUnavailable, errors.New("down")), http.StatusServiceUnavailable},
		{"insufficient funds", apperrors.NewRailError("token", apperrors.RailInsufficientFunds, nil), http.StatusUnprocessableEntity},
		{"invalid recipient", apperrors.NewRailError("contract", apperrors.RailInvalidRecipient, nil), http.StatusUnprocessableEntity},
		{"judge down", fmt.Errorf("%w: timeout", apperrors.ErrVerificationUnavailable), http.StatusServiceUnavailable},
		{"fatal", apperrors.NewFatalError("record write failed", errors.New("disk full")), http.StatusInternalServerError},
		{"unknown", errors.New("whatever"), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		if got := respond(t, tc.err).Code; got != tc.want {
			t.Errorf("%s: expected %d, got %d", tc.name, tc.want, got)
		}
	}
}

func TestRespondError_RailPayloadCarriesClassification(t *testing.T) {
	t.Parallel()

	w := respond(t, apperrors.NewRailError("token", apperrors.RailUnavailable, errors.New("ledger down")))
	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["code"] != "rail_unavailable" {
		t.Fatalf("expected classification code, got %v", body["code"])
	}
	if body["retriable"] != true {
		t.Fatalf("unavailable must be marked retriable")
	}
}

func TestRespondError_FatalIsOpaqueToClients(t *testing.T) {
	t.Parallel()

	w := respond(t, apperrors.NewFatalError("release landed on rail but record update failed", errors.New("db gone")))
	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["error"] != "internal error" {
		t.Fatalf("fatal details must not leak to clients, got %v", body["error"])
	}
}
