package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/merakistore/api/internal/repositories"
)

type stubCounterRepository struct {
	mu             sync.Mutex
	nextFn         func(context.Context, string, int64) (int64, error)
	configureFn    func(context.Context, string, repositories.CounterConfig) error
	nextCalls      []string
	configureCalls []repositories.CounterConfig
}

func (s *stubCounterRepository) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	s.mu.Lock()
	s.nextCalls = append(s.nextCalls, counterID)
	s.mu.Unlock()
	if s.nextFn != nil {
		return s.nextFn(ctx, counterID, step)
	}
	return 0, nil
}

func (s *stubCounterRepository) Configure(ctx context.Context, counterID string, cfg repositories.CounterConfig) error {
	s.mu.Lock()
	s.configureCalls = append(s.configureCalls, cfg)
	s.mu.Unlock()
	if s.configureFn != nil {
		return s.configureFn(ctx, counterID, cfg)
	}
	return nil
}

func TestCounterServiceNextOrderNumber(t *testing.T) {
	repo := &stubCounterRepository{}
	repo.nextFn = func(context.Context, string, int64) (int64, error) {
		return 7, nil
	}

	svc, err := NewCounterService(CounterServiceDeps{Repository: repo, Clock: func() time.Time {
		return time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	}})
	if err != nil {
		t.Fatalf("new counter service: %v", err)
	}

	number, err := svc.NextOrderNumber(context.Background())
	if err != nil {
		t.Fatalf("next order number: %v", err)
	}
	if number != "MS-2025-000007" {
		t.Fatalf("expected MS-2025-000007, got %s", number)
	}

	repo.mu.Lock()
	defer repo.mu.Unlock()
	if len(repo.nextCalls) != 1 || repo.nextCalls[0] != "orders:2025" {
		t.Fatalf("expected one next call for orders:2025, got %v", repo.nextCalls)
	}
	if len(repo.configureCalls) != 1 {
		t.Fatalf("expected the yearly counter configured once, got %d", len(repo.configureCalls))
	}
	if max := repo.configureCalls[0].MaxValue; max == nil || *max != 999999 {
		t.Fatalf("expected a 999999 ceiling, got %v", max)
	}
}

func TestCounterServiceConfiguresEachYearOnce(t *testing.T) {
	repo := &stubCounterRepository{}
	seq := int64(0)
	repo.nextFn = func(context.Context, string, int64) (int64, error) {
		seq++
		return seq, nil
	}

	svc, err := NewCounterService(CounterServiceDeps{Repository: repo, Clock: func() time.Time {
		return time.Date(2026, 8, 26, 10, 0, 0, 0, time.UTC)
	}})
	if err != nil {
		t.Fatalf("new counter service: %v", err)
	}

	for i := 0; i < 3; i++ {
		number, err := svc.NextOrderNumber(context.Background())
		if err != nil {
			t.Fatalf("next order number: %v", err)
		}
		if !strings.HasPrefix(number, "MS-2026-") {
			t.Fatalf("expected an MS-2026 prefix, got %s", number)
		}
	}

	repo.mu.Lock()
	defer repo.mu.Unlock()
	if len(repo.configureCalls) != 1 {
		t.Fatalf("expected a single configure call across issues, got %d", len(repo.configureCalls))
	}
	if len(repo.nextCalls) != 3 {
		t.Fatalf("expected three next calls, got %d", len(repo.nextCalls))
	}
}

func TestCounterServiceMapsRepositoryErrors(t *testing.T) {
	repo := &stubCounterRepository{}
	repo.nextFn = func(context.Context, string, int64) (int64, error) {
		return 0, repositories.NewCounterError(repositories.CounterErrorExhausted, "yearly sequence full", nil)
	}

	svc, err := NewCounterService(CounterServiceDeps{Repository: repo})
	if err != nil {
		t.Fatalf("new counter service: %v", err)
	}

	if _, err := svc.NextOrderNumber(context.Background()); !errors.Is(err, ErrCounterExhausted) {
		t.Fatalf("expected ErrCounterExhausted, got %v", err)
	}
}
