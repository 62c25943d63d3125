// Package circuitbreaker guards upstream vendor APIs with one breaker per
// provider endpoint.
package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
)

// ErrCircuitOpen is returned without contacting the upstream while a breaker
// is open, or half-open with no trial slots left.
var ErrCircuitOpen = errors.New("circuit breaker is open")

type Config struct {
	// FailureThreshold consecutive failures open the breaker.
	FailureThreshold uint32
	// Interval clears the failure counts of a closed breaker. Zero never clears.
	Interval time.Duration
	// Timeout is how long an open breaker waits before trying again.
	Timeout time.Duration
	// MaxRequests trial requests are let through while half-open.
	MaxRequests uint32
	// IsFailure classifies response status codes. Nil means [IsOverloaded].
	IsFailure func(statusCode int) bool
}

func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		Interval:         10 * time.Second,
		Timeout:          30 * time.Second,
		MaxRequests:      3,
		IsFailure:        IsOverloaded,
	}
}

// IsOverloaded reports whether a status code means the vendor is throttling
// or unreachable. Client errors and plain 500s say nothing about capacity.
func IsOverloaded(statusCode int) bool {
	switch statusCode {
	case http.StatusTooManyRequests,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// StateChangeFunc observes breaker transitions of one endpoint.
type StateChangeFunc func(endpoint string, from, to gobreaker.State)

// Endpoints lazily creates a breaker for every endpoint of one provider.
// A nil *Endpoints passes every call through.
type Endpoints struct {
	provider string
	cfg      Config
	onChange StateChangeFunc

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[*http.Response]
}

// New returns nil when cfg is nil, which disables breaking.
func New(provider string, cfg *Config, onChange StateChangeFunc) *Endpoints {
	if cfg == nil {
		return nil
	}
	c := *cfg
	if c.IsFailure == nil {
		c.IsFailure = IsOverloaded
	}
	return &Endpoints{
		provider: provider,
		cfg:      c,
		onChange: onChange,
		breakers: make(map[string]*gobreaker.CircuitBreaker[*http.Response]),
	}
}

func (e *Endpoints) Provider() string {
	return e.provider
}

// State of the endpoint's breaker. Endpoints never called are closed.
func (e *Endpoints) State(endpoint string) gobreaker.State {
	if e == nil {
		return gobreaker.StateClosed
	}
	e.mu.Lock()
	cb, ok := e.breakers[endpoint]
	e.mu.Unlock()
	if !ok {
		return gobreaker.StateClosed
	}
	return cb.State()
}

func (e *Endpoints) breaker(endpoint string) *gobreaker.CircuitBreaker[*http.Response] {
	e.mu.Lock()
	defer e.mu.Unlock()

	if cb, ok := e.breakers[endpoint]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        e.provider + ":" + endpoint,
		MaxRequests: e.cfg.MaxRequests,
		Interval:    e.cfg.Interval,
		Timeout:     e.cfg.Timeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= e.cfg.FailureThreshold
		},
		// The caller hanging up says nothing about the vendor.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(_ string, from, to gobreaker.State) {
			if e.onChange != nil {
				e.onChange(endpoint, from, to)
			}
		},
	})
	e.breakers[endpoint] = cb
	return cb
}

// failedStatus marks a response that counts against the breaker but is still
// returned to the caller, so the vendor's error body can be reported.
type failedStatus struct{ code int }

func (f failedStatus) Error() string {
	return fmt.Sprintf("upstream responded %d", f.code)
}

// Do sends a request through the endpoint's breaker. Transport errors and
// responses matching IsFailure count as failures. While the breaker rejects
// calls fn is skipped and the error wraps [ErrCircuitOpen].
func (e *Endpoints) Do(endpoint string, fn func() (*http.Response, error)) (*http.Response, error) {
	if e == nil {
		return fn()
	}

	resp, err := e.breaker(endpoint).Execute(func() (*http.Response, error) {
		resp, err := fn()
		if err == nil && e.cfg.IsFailure(resp.StatusCode) {
			return resp, failedStatus{code: resp.StatusCode}
		}
		return resp, err
	})

	var failed failedStatus
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return nil, fmt.Errorf("%s %s: %w", e.provider, endpoint, ErrCircuitOpen)
	case errors.As(err, &failed):
		return resp, nil
	}
	return resp, err
}

// GaugeValue maps a state onto the circuit breaker state gauge: closed 0,
// half-open 0.5, open 1.
func GaugeValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 0.5
	case gobreaker.StateOpen:
		return 1
	}
	return 0
}
