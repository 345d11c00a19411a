package clients

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"escrow-backend/internal/config"
)

func judgeServer(t *testing.T, replyText string, status int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if got := r.Header.Get("x-goog-api-key"); got != "test-key" {
			t.Errorf("api key header missing, got %q", got)
		}
		var req generateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"candidates": []map[string]interface{}{
				{"content": map[string]interface{}{
					"parts": []map[string]string{{"text": replyText}},
				}},
			},
		})
	}))
}

func newTestJudge(baseURL string) *JudgeClient {
	return NewJudgeClient(&config.JudgeConfig{
		BaseURL: baseURL,
		APIKey:  "test-key",
		Model:   "gemini-2.5-flash",
	})
}

func TestReview_ParsesBareJSON(t *testing.T) {
	t.Parallel()
	srv := judgeServer(t, `{"verdict":true,"score":87,"summary":"solid","feedback":"minor nits","details":["tests pass"]}`, http.StatusOK)
	defer srv.Close()

	verdict, err := newTestJudge(srv.URL).Review(context.Background(), "review this")
	if err != nil {
		t.Fatalf("Review: %v", err)
	}
	if !verdict.Verdict || verdict.Score != 87 {
		t.Fatalf("unexpected verdict: %+v", verdict)
	}
}

func TestReview_StripsMarkdownFences(t *testing.T) {
	t.Parallel()
	srv := judgeServer(t, "```json\n{\"verdict\":false,\"score\":40,\"summary\":\"incomplete\"}\n```", http.StatusOK)
	defer srv.Close()

	verdict, err := newTestJudge(srv.URL).Review(context.Background(), "review this")
	if err != nil {
		t.Fatalf("Review: %v", err)
	}
	if verdict.Verdict || verdict.Score != 40 {
		t.Fatalf("unexpected verdict: %+v", verdict)
	}
}

func TestReview_NonJSONReplyIsAnError(t *testing.T) {
	t.Parallel()
	srv := judgeServer(t, "I think this looks pretty good overall!", http.StatusOK)
	defer srv.Close()

	if _, err := newTestJudge(srv.URL).Review(context.Background(), "review this"); err == nil {
		t.Fatalf("prose reply must not produce a verdict")
	}
}

func TestReview_HTTPErrorSurfacesAPIError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := newTestJudge(srv.URL).Review(context.Background(), "review this")
	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", apiErr.StatusCode)
	}
}

func TestReview_EmptyCandidates(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"candidates": []interface{}{}})
	}))
	defer srv.Close()

	if _, err := newTestJudge(srv.URL).Review(context.Background(), "review this"); err == nil {
		t.Fatalf("empty candidates must be an error")
	}
}
