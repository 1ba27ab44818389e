package token

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClient_Fetch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/token" {
			t.Errorf("Expected path /token, got %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("voice"); got != "ara" {
			t.Errorf("Expected voice=ara, got %q", got)
		}
		if got := r.URL.Query().Get("personality"); got != "assistant" {
			t.Errorf("Expected personality=assistant, got %q", got)
		}
		if got := r.URL.Query().Get("speed"); got != "1.25" {
			t.Errorf("Expected speed=1.25, got %q", got)
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"token":"tok-1","address":"wss://room.example.com"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL)
	grant, err := client.Fetch(context.Background(), "ara", "assistant", 1.25)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if grant.Token != "tok-1" {
		t.Errorf("Expected token tok-1, got %q", grant.Token)
	}
	if grant.Address != "wss://room.example.com" {
		t.Errorf("Expected room address, got %q", grant.Address)
	}
}

func TestClient_FetchNon200IsStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	client := NewClient(server.URL)
	_, err := client.Fetch(context.Background(), "ara", "assistant", 1.0)

	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("Expected StatusError, got %v", err)
	}
	if statusErr.StatusCode != http.StatusForbidden {
		t.Errorf("Expected status 403, got %d", statusErr.StatusCode)
	}
}

func TestClient_FetchRejectsIncompleteGrant(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"token":"tok-1"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL)
	if _, err := client.Fetch(context.Background(), "ara", "assistant", 1.0); err == nil {
		t.Error("Expected error for grant without address")
	}
}

func TestClient_FetchUnreachableService(t *testing.T) {
	client := NewClient("http://127.0.0.1:1")
	if _, err := client.Fetch(context.Background(), "ara", "assistant", 1.0); err == nil {
		t.Error("Expected error for unreachable service")
	}
}
