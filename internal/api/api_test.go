package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/leadpipe/leadpipe/internal/models"
	"github.com/leadpipe/leadpipe/internal/store"
)

func TestHealthzHandler(t *testing.T) {
	server := NewServer(store.NewInMemoryStore())

	rec := httptest.NewRecorder()
	server.healthzHandler(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if rec.Body.String() != "ok" {
		t.Errorf("expected body 'ok', got %q", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	server.healthzHandler(rec, httptest.NewRequest(http.MethodPost, "/healthz", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405 for POST, got %d", rec.Code)
	}
}

func TestRootHandler(t *testing.T) {
	server := NewServer(store.NewInMemoryStore())

	rec := httptest.NewRecorder()
	server.rootHandler(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 at root, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	server.rootHandler(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown path, got %d", rec.Code)
	}
}

func TestLeadsHandler(t *testing.T) {
	st := store.NewInMemoryStore()
	ctx := context.Background()
	user, err := st.CreateUser(ctx, models.User{ExternalID: 42, Username: "alice"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := st.AddLead(ctx, models.Lead{UserID: user.ID, Contact: "alice@example.com"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	server := NewServer(st)

	rec := httptest.NewRecorder()
	server.leadsHandler(rec, httptest.NewRequest(http.MethodGet, "/leads", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp struct {
		Status string        `json:"status"`
		Result []models.Lead `json:"result"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Status != models.APIStatusOK {
		t.Errorf("expected status ok, got %q", resp.Status)
	}
	if len(resp.Result) != 1 || resp.Result[0].Contact != "alice@example.com" {
		t.Errorf("unexpected leads %+v", resp.Result)
	}
}

func TestUsersHandler(t *testing.T) {
	st := store.NewInMemoryStore()
	if _, err := st.CreateUser(context.Background(), models.User{ExternalID: 42, Username: "alice"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	server := NewServer(st)

	rec := httptest.NewRecorder()
	server.usersHandler(rec, httptest.NewRequest(http.MethodGet, "/users", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp struct {
		Status string        `json:"status"`
		Result []models.User `json:"result"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Result) != 1 || resp.Result[0].Username != "alice" {
		t.Errorf("unexpected users %+v", resp.Result)
	}
}

// brokenStore fails the list operations.
type brokenStore struct {
	store.Store
}

func (s *brokenStore) ListLeads(ctx context.Context) ([]models.Lead, error) {
	return nil, fmt.Errorf("list leads: %w", store.ErrUnavailable)
}

func (s *brokenStore) ListUsers(ctx context.Context) ([]models.User, error) {
	return nil, fmt.Errorf("list users: %w", store.ErrUnavailable)
}

func TestListHandlers_StoreFailure(t *testing.T) {
	server := NewServer(&brokenStore{})

	rec := httptest.NewRecorder()
	server.leadsHandler(rec, httptest.NewRequest(http.MethodGet, "/leads", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", rec.Code)
	}
	var resp models.APIResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Status != models.APIStatusError {
		t.Errorf("expected error status, got %q", resp.Status)
	}

	rec = httptest.NewRecorder()
	server.usersHandler(rec, httptest.NewRequest(http.MethodGet, "/users", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", rec.Code)
	}
}

func TestRun_RejectsInvalidConfig(t *testing.T) {
	if err := Run(nil, nil, nil, []Option{WithMode("carrier-pigeon")}); err == nil {
		t.Error("expected error for unknown mode, got nil")
	}
	if err := Run(nil, nil, nil, []Option{WithMode(ModeWebhook)}); err == nil {
		t.Error("expected error for webhook mode without URL, got nil")
	}
}
