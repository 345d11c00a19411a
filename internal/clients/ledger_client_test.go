package clients

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"escrow-backend/internal/config"
)

func newTestLedger(baseURL string) *LedgerClient {
	return NewLedgerClient(&config.TokenRailConfig{BaseURL: baseURL, APIKey: "ledger-key"})
}

func TestTransfer_ReturnsTicket(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/transfer" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer ledger-key" {
			t.Errorf("auth header missing, got %q", got)
		}
		var req TransferRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		if len(req.Outputs) != 1 || req.Outputs[0].Amount != 1000 {
			t.Errorf("unexpected outputs: %+v", req.Outputs)
		}
		json.NewEncoder(w).Encode(TransferResponse{TicketID: "tick-1", SenderAddress: "addr-sender"})
	}))
	defer srv.Close()

	resp, err := newTestLedger(srv.URL).Transfer(context.Background(), &TransferRequest{
		SigningCredential: "wif",
		Outputs:           []TransferOutput{{Address: "addr-escrow", Amount: 1000}},
	})
	if err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	if resp.TicketID != "tick-1" || resp.SenderAddress != "addr-sender" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestTransfer_EmptyTicketIsError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(TransferResponse{})
	}))
	defer srv.Close()

	if _, err := newTestLedger(srv.URL).Transfer(context.Background(), &TransferRequest{SigningCredential: "wif"}); err == nil {
		t.Fatalf("empty ticket id must be an error")
	}
}

func TestTransfer_ErrorEnvelopeBecomesAPIError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(map[string]string{"error": "insufficient balance"})
	}))
	defer srv.Close()

	_, err := newTestLedger(srv.URL).Transfer(context.Background(), &TransferRequest{SigningCredential: "wif"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusUnprocessableEntity || apiErr.Message != "insufficient balance" {
		t.Fatalf("unexpected APIError: %+v", apiErr)
	}
}

func TestGetTicketStatus(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/ticket/tick-1" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(TicketStatus{TicketID: "tick-1", Status: TicketStatusSuccess, TxID: "tx-abc"})
	}))
	defer srv.Close()

	status, err := newTestLedger(srv.URL).GetTicketStatus(context.Background(), "tick-1")
	if err != nil {
		t.Fatalf("GetTicketStatus: %v", err)
	}
	if status.Status != TicketStatusSuccess || status.TxID != "tx-abc" {
		t.Fatalf("unexpected status: %+v", status)
	}
}

func TestPing_ServerErrorIsUnhealthy(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	if err := newTestLedger(srv.URL).Ping(context.Background()); err == nil {
		t.Fatalf("5xx must fail the ping")
	}
}
