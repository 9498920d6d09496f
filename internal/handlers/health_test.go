package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/merakistore/api/internal/domain"
	"github.com/merakistore/api/internal/services"
)

type stubSystemService struct {
	report services.SystemHealthReport
	err    error
	build  services.BuildInfo
}

func (s *stubSystemService) HealthReport(context.Context) (services.SystemHealthReport, error) {
	return s.report, s.err
}

func (s *stubSystemService) Build() services.BuildInfo {
	return s.build
}

func TestHealthzReturnsBuildInfo(t *testing.T) {
	started := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)
	now := started.Add(90 * time.Second)

	handler := NewHealthHandlers(
		WithHealthBuildInfo(services.BuildInfo{
			Version:     "1.4.0",
			CommitSHA:   "abc1234",
			Environment: "production",
			StartedAt:   started,
		}),
		WithHealthClock(func() time.Time { return now }),
	)

	rr := httptest.NewRecorder()
	handler.Healthz(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var resp map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp["status"] != "ok" {
		t.Fatalf("expected status ok, got %v", resp["status"])
	}
	if resp["version"] != "1.4.0" {
		t.Fatalf("expected version 1.4.0, got %v", resp["version"])
	}
	if resp["commitSha"] != "abc1234" {
		t.Fatalf("expected commitSha abc1234, got %v", resp["commitSha"])
	}
	if resp["uptime"] != "1m30s" {
		t.Fatalf("expected uptime 1m30s, got %v", resp["uptime"])
	}
}

func TestReadyzHealthy(t *testing.T) {
	system := &stubSystemService{
		report: services.SystemHealthReport{
			Status: domain.HealthStatusOK,
			Checks: map[string]domain.SystemHealthCheck{
				"firestore": {Status: domain.HealthStatusOK, Latency: 12 * time.Millisecond},
			},
			GeneratedAt: time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC),
		},
	}

	handler := NewHealthHandlers(WithHealthSystemService(system))

	rr := httptest.NewRecorder()
	handler.Readyz(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var resp struct {
		Status string                    `json:"status"`
		Checks map[string]map[string]any `json:"checks"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Status != "ok" {
		t.Fatalf("expected status ok, got %q", resp.Status)
	}
	if resp.Checks["firestore"]["status"] != "ok" {
		t.Fatalf("expected firestore check ok, got %v", resp.Checks["firestore"])
	}
}

func TestReadyzDegradedDependency(t *testing.T) {
	system := &stubSystemService{
		report: services.SystemHealthReport{
			Status: domain.HealthStatusError,
			Checks: map[string]domain.SystemHealthCheck{
				"firestore": {Status: domain.HealthStatusError, Error: "deadline exceeded"},
				"pubsub":    {Status: domain.HealthStatusOK},
			},
		},
	}

	handler := NewHealthHandlers(WithHealthSystemService(system))

	rr := httptest.NewRecorder()
	handler.Readyz(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}

	var resp struct {
		Status  string   `json:"status"`
		Details []string `json:"details"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Status != "error" {
		t.Fatalf("expected status error, got %q", resp.Status)
	}
	if len(resp.Details) != 1 || resp.Details[0] != "firestore: deadline exceeded" {
		t.Fatalf("unexpected details %v", resp.Details)
	}
}

func TestReadyzCollectionFailure(t *testing.T) {
	system := &stubSystemService{err: errors.New("collector down")}

	handler := NewHealthHandlers(WithHealthSystemService(system))

	rr := httptest.NewRecorder()
	handler.Readyz(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
}

func TestReadyzWithoutSystemService(t *testing.T) {
	handler := NewHealthHandlers()

	rr := httptest.NewRecorder()
	handler.Readyz(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
}
