package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/merakistore/api/internal/repositories"
)

var (
	// ErrCounterInvalidInput indicates the counter was asked to step by an
	// invalid amount.
	ErrCounterInvalidInput = errors.New("counter: invalid input")
	// ErrCounterExhausted indicates the yearly sequence hit its ceiling.
	ErrCounterExhausted = errors.New("counter: exhausted")
)

// Order numbers carry a six digit sequence, so each yearly counter is capped
// at what six digits can express.
const orderSequenceMax = 999999

// CounterServiceDeps bundles collaborators for NewCounterService.
type CounterServiceDeps struct {
	Repository repositories.CounterRepository
	Clock      func() time.Time
}

// counterService issues MS-<year>-<sequence> order numbers from a
// transaction-safe counter scoped per calendar year.
type counterService struct {
	repo  repositories.CounterRepository
	clock func() time.Time

	mu         sync.Mutex
	configured map[string]bool
}

// NewCounterService builds the order number issuer.
func NewCounterService(deps CounterServiceDeps) (CounterService, error) {
	if deps.Repository == nil {
		return nil, errors.New("counter service: repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &counterService{
		repo:       deps.Repository,
		clock:      func() time.Time { return clock().UTC() },
		configured: make(map[string]bool),
	}, nil
}

func (s *counterService) NextOrderNumber(ctx context.Context) (string, error) {
	year := s.clock().Year()
	counterID := fmt.Sprintf("orders:%04d", year)

	if err := s.ensureCeiling(ctx, counterID); err != nil {
		return "", err
	}

	seq, err := s.repo.Next(ctx, counterID, 1)
	if err != nil {
		return "", translateCounterError(err)
	}
	return fmt.Sprintf("MS-%04d-%06d", year, seq), nil
}

// ensureCeiling configures the yearly counter's max once per process. The
// write is idempotent, so a restart reconfiguring the same counter is
// harmless.
func (s *counterService) ensureCeiling(ctx context.Context, counterID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.configured[counterID] {
		return nil
	}
	max := int64(orderSequenceMax)
	if err := s.repo.Configure(ctx, counterID, repositories.CounterConfig{MaxValue: &max}); err != nil {
		return translateCounterError(err)
	}
	s.configured[counterID] = true
	return nil
}

func translateCounterError(err error) error {
	var counterErr *repositories.CounterError
	if errors.As(err, &counterErr) {
		switch counterErr.Code {
		case repositories.CounterErrorInvalidInput:
			return fmt.Errorf("%w: %s", ErrCounterInvalidInput, counterErr.Message)
		case repositories.CounterErrorExhausted:
			return fmt.Errorf("%w: %s", ErrCounterExhausted, counterErr.Message)
		}
	}
	return err
}
