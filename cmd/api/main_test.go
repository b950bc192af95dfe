package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/WessleyAI/pulse/engine/domain"
)

func TestHealthEndpoint(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/health", nil)
	handleHealth(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["status"] != "ok" {
		t.Fatalf("expected status ok, got %s", resp["status"])
	}
}

func TestResearchEndpoint_ShortQuery(t *testing.T) {
	s := newServer(context.Background(), nil, nil, nil, nil, nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/research", bytes.NewBufferString(`{"query":"x"}`))
	s.handleResearch(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestResearchEndpoint_InvalidJSON(t *testing.T) {
	s := newServer(context.Background(), nil, nil, nil, nil, nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/research", bytes.NewBufferString("not json"))
	s.handleResearch(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.NewValidationError("query", "x", domain.ErrQueryTooShort), http.StatusBadRequest},
		{fmt.Errorf("store: s1: %w", domain.ErrSessionNotFound), http.StatusNotFound},
		{fmt.Errorf("pipeline: %w", domain.ErrStorageUnavailable), http.StatusServiceUnavailable},
		{fmt.Errorf("pipeline: collect: %w", context.Canceled), http.StatusGatewayTimeout},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
