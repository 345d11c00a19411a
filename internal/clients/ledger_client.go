package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"escrow-backend/internal/config"
)

// Ticket statuses reported by the ledger service.
const (
	TicketStatusBroadcasting = "BROADCASTING"
	TicketStatusSuccess      = "SUCCESS"
	TicketStatusMined        = "MINED"
	TicketStatusFailed       = "FAILED"
)

// TransferOutput is one recipient of a ledger transfer.
type TransferOutput struct {
	Address string `json:"address"`
	Amount  int64  `json:"amount"`
}

// TransferRequest asks the ledger service to build, sign and broadcast a
// transfer using the supplied signing credential.
type TransferRequest struct {
	SigningCredential string           `json:"signing_credential"`
	Outputs           []TransferOutput `json:"outputs"`
}

// TransferResponse carries the async ticket returned by the ledger service.
// The transfer is not durable until the ticket resolves to a tx id.
type TransferResponse struct {
	TicketID      string `json:"ticket_id"`
	SenderAddress string `json:"sender_address,omitempty"`
	RawTx         string `json:"rawtx,omitempty"`
}

// TicketStatus is the resolution state of a broadcast ticket.
type TicketStatus struct {
	TicketID string `json:"ticket_id"`
	Status   string `json:"status"`
	TxID     string `json:"tx_id,omitempty"`
	Errors   string `json:"errors,omitempty"`
}

// BalanceResponse is the spendable balance of a ledger address.
type BalanceResponse struct {
	Address string `json:"address"`
	Amount  int64  `json:"amount"`
}

// LedgerClient talks to the external token ledger service over HTTP.
type LedgerClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewLedgerClient builds a client from the token rail config.
func NewLedgerClient(cfg *config.TokenRailConfig) *LedgerClient {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &LedgerClient{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Transfer submits a transfer for broadcast and returns its ticket.
func (c *LedgerClient) Transfer(ctx context.Context, req *TransferRequest) (*TransferResponse, error) {
	var resp TransferResponse
	if err := c.doJSON(ctx, http.MethodPost, "/v1/transfer", req, &resp); err != nil {
		return nil, err
	}
	if resp.TicketID == "" {
		return nil, fmt.Errorf("ledger service returned empty ticket id")
	}
	return &resp, nil
}

// GetTicketStatus fetches the current resolution state of a ticket.
func (c *LedgerClient) GetTicketStatus(ctx context.Context, ticketID string) (*TicketStatus, error) {
	var status TicketStatus
	path := fmt.Sprintf("/v1/ticket/%s", ticketID)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// GetBalance fetches the spendable balance of an address.
func (c *LedgerClient) GetBalance(ctx context.Context, address string) (*BalanceResponse, error) {
	var balance BalanceResponse
	path := fmt.Sprintf("/v1/balance/%s", address)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &balance); err != nil {
		return nil, err
	}
	return &balance, nil
}

// Ping checks that the ledger service answers.
func (c *LedgerClient) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/config", nil)
	if err != nil {
		return err
	}
	c.setHeaders(req)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ledger service unreachable: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 500 {
		return fmt.Errorf("ledger service unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

func (c *LedgerClient) doJSON(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ledger request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read ledger response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return &APIError{StatusCode: resp.StatusCode, Message: apiErr.Error}
		}
		return &APIError{StatusCode: resp.StatusCode, Message: string(data)}
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to decode ledger response: %w", err)
		}
	}
	return nil
}

func (c *LedgerClient) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

// APIError is a non-2xx response from an external HTTP service.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error (status %d): %s", e.StatusCode, e.Message)
}
