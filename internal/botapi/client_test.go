package botapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestClient(baseURL string, retries int) *HTTPClient {
	logger, _ := zap.NewDevelopment()
	return NewClient(baseURL, "test-bot-token", 100, 5*time.Second, 10*time.Millisecond, retries, logger)
}

func TestSendMessage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/bottest-bot-token/sendMessage" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("chat_id"); got != "-100" {
			t.Errorf("expected chat_id -100, got %s", got)
		}
		if got := r.URL.Query().Get("text"); got != "hello" {
			t.Errorf("expected text hello, got %s", got)
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok": true, "result": {"message_id": 1}}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL, 0)
	if err := client.SendMessage(context.Background(), -100, "hello"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestGetUpdates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("offset"); got != "7" {
			t.Errorf("expected offset 7, got %s", got)
		}
		if got := r.URL.Query().Get("timeout"); got != "10" {
			t.Errorf("expected timeout 10, got %s", got)
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok": true, "result": [
			{"update_id": 7, "message": {"message_id": 1, "text": "/t",
				"from": {"id": 42, "first_name": "Ada"},
				"chat": {"id": 42, "type": "private"}}}
		]}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL, 0)
	updates, err := client.GetUpdates(context.Background(), 7, 10*time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(updates) != 1 {
		t.Fatalf("expected 1 update, got %d", len(updates))
	}
	upd := updates[0]
	if upd.UpdateID != 7 || upd.Message == nil || upd.Message.From.ID != 42 {
		t.Errorf("unexpected update decoded: %+v", upd)
	}
	if upd.Message.Chat.Type != "private" || upd.Message.Text != "/t" {
		t.Errorf("unexpected message decoded: %+v", upd.Message)
	}
}

func TestAPIErrorNotRetried(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ok":          false,
			"error_code":  400,
			"description": "Bad Request: chat not found",
		})
	}))
	defer server.Close()

	client := newTestClient(server.URL, 3)
	err := client.SendMessage(context.Background(), 1, "x")

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %v", err)
	}
	if apiErr.Code != 400 {
		t.Errorf("expected code 400, got %d", apiErr.Code)
	}
	if attempts != 1 {
		t.Errorf("explicit api errors must not be retried, got %d attempts", attempts)
	}
}

func TestServerErrorRetried(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok": true, "result": []}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL, 2)
	if _, err := client.GetUpdates(context.Background(), 0, time.Second); err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
}

func TestRetriesExhausted(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := newTestClient(server.URL, 2)
	if _, err := client.GetUpdates(context.Background(), 0, time.Second); err == nil {
		t.Fatal("expected error after retries exhausted")
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts (initial + 2 retries), got %d", attempts)
	}
}
