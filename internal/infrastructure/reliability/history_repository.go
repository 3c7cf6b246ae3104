package reliability

import (
	"context"
	"errors"
	"time"

	"meshcall/internal/core/domain"
	"meshcall/internal/core/ports"
	"meshcall/pkg/circuitbreaker"
	"meshcall/pkg/retry"

	"go.uber.org/zap"
)

type Options struct {
	RetryAttempts    int
	FailureThreshold int
	BreakerTimeout   time.Duration
}

// HistoryRepository guards a remote history store. Calls are retried with
// backoff and all of them share one circuit breaker, so a dead store fails
// fast with circuitbreaker.ErrOpen instead of stalling joins and API calls.
type HistoryRepository struct {
	next    ports.HistoryRepository
	retry   retry.Config
	breaker *circuitbreaker.CircuitBreaker
}

var _ ports.HistoryRepository = (*HistoryRepository)(nil)

func NewHistoryRepository(next ports.HistoryRepository, opts Options, logger *zap.SugaredLogger) *HistoryRepository {
	retryCfg := retry.DefaultConfig()
	retryCfg.MaxAttempts = opts.RetryAttempts
	retryCfg.MaxDelay = time.Second
	retryCfg.NonRetryableErrors = []error{domain.ErrMeetingExists, circuitbreaker.ErrOpen, context.Canceled, context.DeadlineExceeded}

	cbCfg := circuitbreaker.DefaultConfig()
	cbCfg.FailureThreshold = opts.FailureThreshold
	cbCfg.Timeout = opts.BreakerTimeout
	cbCfg.IsFailure = func(err error) bool {
		return !errors.Is(err, domain.ErrMeetingExists)
	}
	cbCfg.OnStateChange = func(from, to circuitbreaker.State) {
		logger.Warnw("history store circuit breaker changed state", "from", from.String(), "to", to.String())
	}

	return &HistoryRepository{
		next:    next,
		retry:   retryCfg,
		breaker: circuitbreaker.New(cbCfg),
	}
}

func (r *HistoryRepository) Add(ctx context.Context, record *domain.MeetingRecord) error {
	return retry.Retry(ctx, r.retry, func() error {
		return r.breaker.Execute(func() error {
			return r.next.Add(ctx, record)
		})
	})
}

func (r *HistoryRepository) Exists(ctx context.Context, userID domain.UserID, meetingCode string) (bool, error) {
	return retry.RetryWithResult(ctx, r.retry, func() (bool, error) {
		return circuitbreaker.ExecuteWithResult(r.breaker, func() (bool, error) {
			return r.next.Exists(ctx, userID, meetingCode)
		})
	})
}

func (r *HistoryRepository) ListByUser(ctx context.Context, userID domain.UserID, limit int) ([]*domain.MeetingRecord, error) {
	return retry.RetryWithResult(ctx, r.retry, func() ([]*domain.MeetingRecord, error) {
		return circuitbreaker.ExecuteWithResult(r.breaker, func() ([]*domain.MeetingRecord, error) {
			return r.next.ListByUser(ctx, userID, limit)
		})
	})
}

// BreakerState reports the breaker for health checks.
func (r *HistoryRepository) BreakerState() circuitbreaker.State {
	return r.breaker.State()
}
