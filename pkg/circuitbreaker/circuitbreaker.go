package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned without calling the protected function while the
// breaker is open or its half-open probe budget is spent.
var ErrOpen = errors.New("circuit breaker is open")

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

type Config struct {
	FailureThreshold    int           // consecutive failures that open the breaker
	SuccessThreshold    int           // half-open successes that close it again
	Timeout             time.Duration // open period before probing
	MaxRequestsHalfOpen int

	// IsFailure decides which errors count against the breaker. Nil counts
	// every non-nil error.
	IsFailure func(err error) bool

	// OnStateChange runs synchronously under no lock after a transition.
	OnStateChange func(from, to State)
}

func DefaultConfig() Config {
	return Config{
		FailureThreshold:    5,
		SuccessThreshold:    2,
		Timeout:             30 * time.Second,
		MaxRequestsHalfOpen: 3,
	}
}

type Stats struct {
	State       State
	Failures    int
	Successes   int
	Rejected    uint64
	LastFailure time.Time
	Since       time.Time
}

type CircuitBreaker struct {
	cfg Config
	now func() time.Time

	mu          sync.Mutex
	state       State
	failures    int
	successes   int
	inFlight    int
	rejected    uint64
	lastFailure time.Time
	since       time.Time
}

func New(cfg Config) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 1
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 1
	}
	if cfg.MaxRequestsHalfOpen < cfg.SuccessThreshold {
		cfg.MaxRequestsHalfOpen = cfg.SuccessThreshold
	}
	return &CircuitBreaker{cfg: cfg, now: time.Now, since: time.Now()}
}

// Execute runs fn if the breaker admits it. Errors from fn are returned
// unchanged.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if err := cb.admit(); err != nil {
		return err
	}
	err := fn()
	cb.record(err)
	return err
}

// ExecuteWithResult is Execute for functions that produce a value.
func ExecuteWithResult[T any](cb *CircuitBreaker, fn func() (T, error)) (T, error) {
	if err := cb.admit(); err != nil {
		var zero T
		return zero, err
	}
	result, err := fn()
	cb.record(err)
	return result, err
}

func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	var changed func()

	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.since) < cb.cfg.Timeout {
			cb.rejected++
			cb.mu.Unlock()
			return ErrOpen
		}
		changed = cb.setState(StateHalfOpen)
		fallthrough
	case StateHalfOpen:
		if cb.inFlight >= cb.cfg.MaxRequestsHalfOpen {
			cb.rejected++
			cb.mu.Unlock()
			notify(changed)
			return ErrOpen
		}
		cb.inFlight++
	}

	cb.mu.Unlock()
	notify(changed)
	return nil
}

func (cb *CircuitBreaker) record(err error) {
	failed := err != nil
	if failed && cb.cfg.IsFailure != nil {
		failed = cb.cfg.IsFailure(err)
	}

	cb.mu.Lock()
	var changed func()
	if failed {
		cb.failures++
		cb.successes = 0
		cb.lastFailure = cb.now()
		if cb.state == StateHalfOpen || cb.failures >= cb.cfg.FailureThreshold {
			changed = cb.setState(StateOpen)
		}
	} else {
		cb.failures = 0
		if cb.state == StateHalfOpen {
			cb.successes++
			if cb.successes >= cb.cfg.SuccessThreshold {
				changed = cb.setState(StateClosed)
			}
		}
	}
	cb.mu.Unlock()
	notify(changed)
}

// setState must be called with mu held. The returned callback, if any, is run
// after unlocking.
func (cb *CircuitBreaker) setState(to State) func() {
	from := cb.state
	if from == to {
		return nil
	}
	cb.state = to
	cb.since = cb.now()
	cb.successes = 0
	cb.inFlight = 0
	if to != StateOpen {
		cb.failures = 0
	}
	if cb.cfg.OnStateChange == nil {
		return nil
	}
	fn := cb.cfg.OnStateChange
	return func() { fn(from, to) }
}

func notify(fn func()) {
	if fn != nil {
		fn()
	}
}

func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) Stats() Stats {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return Stats{
		State:       cb.state,
		Failures:    cb.failures,
		Successes:   cb.successes,
		Rejected:    cb.rejected,
		LastFailure: cb.lastFailure,
		Since:       cb.since,
	}
}

// Reset closes the breaker.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	changed := cb.setState(StateClosed)
	cb.failures = 0
	cb.mu.Unlock()
	notify(changed)
}
