package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
)

func TestHealthHandler_Liveness(t *testing.T) {
	e := newEcho()
	handler := NewHealthHandler(nil)

	c, rec := newContext(e, http.MethodGet, "/health", "")
	if err := handler.Liveness(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestHealthHandler_Readiness(t *testing.T) {
	e := newEcho()
	handler := NewHealthHandler(map[string]Checker{
		"redis":   func(context.Context) error { return nil },
		"backend": func(context.Context) error { return errors.New("connection refused") },
	})

	c, rec := newContext(e, http.MethodGet, "/health/ready", "")
	if err := handler.Readiness(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}

	var resp readinessResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if resp.Status != "degraded" || resp.Dependencies["redis"].Status != "ok" || resp.Dependencies["backend"].Error == "" {
		t.Fatalf("unexpected payload: %+v", resp)
	}
}

func TestHealthHandler_ReadinessAllHealthy(t *testing.T) {
	e := newEcho()
	handler := NewHealthHandler(map[string]Checker{
		"redis": func(context.Context) error { return nil },
	})

	c, rec := newContext(e, http.MethodGet, "/health/ready", "")
	_ = handler.Readiness(c)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
