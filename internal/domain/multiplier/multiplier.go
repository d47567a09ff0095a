// Package multiplier implements the time-boxed XP multiplier: a single
// in-memory state slot with eligibility checks, lazy expiry, and the scaling
// rule applied to positive awards.
package multiplier

import (
	"math"
	"sync"
	"time"

	"github.com/harmony-app/gamification-core/internal/domain/shared"
)

const (
	// DefaultFactor doubles positive awards while active.
	DefaultFactor = 2.0

	// DefaultDuration is the activation window. The expiry instant is fixed
	// at activation time and never extended.
	DefaultDuration = 24 * time.Hour

	// MinStreakLength gates activation on a sustained streak.
	MinStreakLength = 7
)

// State is the active multiplier, if any.
type State struct {
	Factor      float64
	Source      shared.Source
	ActivatedAt time.Time
	ExpiresAt   time.Time
}

// Expired reports whether the window has closed as of now.
func (s State) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// Service owns the multiplier slot. At most one multiplier is active at a
// time; a second activation while one is running is rejected rather than
// stacked or extended.
type Service struct {
	mu     sync.Mutex
	active *State

	factor    float64
	duration  time.Duration
	minStreak int
	now       func() time.Time

	onExpire func(State)
}

// Option customizes a Service.
type Option func(*Service)

// WithClock injects a clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithFactor overrides the default scaling factor.
func WithFactor(factor float64) Option {
	return func(s *Service) { s.factor = factor }
}

// WithDuration overrides the default activation window.
func WithDuration(d time.Duration) Option {
	return func(s *Service) { s.duration = d }
}

// WithMinStreak overrides the default streak gate.
func WithMinStreak(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.minStreak = n
		}
	}
}

// WithExpiryHook registers a callback invoked once when an expired state is
// swept. Called outside the service lock.
func WithExpiryHook(fn func(State)) Option {
	return func(s *Service) { s.onExpire = fn }
}

// NewService creates a multiplier service with no active state.
func NewService(opts ...Option) *Service {
	s := &Service{
		factor:    DefaultFactor,
		duration:  DefaultDuration,
		minStreak: MinStreakLength,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Activate starts the multiplier window if the streak qualifies and no
// multiplier is already running. The expiry instant is computed here, once.
func (s *Service) Activate(streakLength int, source shared.Source) (State, error) {
	if streakLength < s.minStreak {
		return State{}, shared.ErrMultiplierIneligible
	}

	s.mu.Lock()
	expired := s.sweepLocked()
	if s.active != nil {
		s.mu.Unlock()
		s.notifyExpired(expired)
		return State{}, shared.ErrMultiplierActive
	}

	now := s.now()
	state := State{
		Factor:      s.factor,
		Source:      source,
		ActivatedAt: now,
		ExpiresAt:   now.Add(s.duration),
	}
	s.active = &state
	s.mu.Unlock()

	s.notifyExpired(expired)
	return state, nil
}

// GetActive returns the current state, sweeping it first if the window has
// closed. There is no background timer; expiry is observed lazily on access.
func (s *Service) GetActive() (State, bool) {
	s.mu.Lock()
	expired := s.sweepLocked()
	var (
		state State
		ok    bool
	)
	if s.active != nil {
		state, ok = *s.active, true
	}
	s.mu.Unlock()

	s.notifyExpired(expired)
	return state, ok
}

// Deactivate clears the slot early, before natural expiry.
func (s *Service) Deactivate() (State, error) {
	s.mu.Lock()
	expired := s.sweepLocked()
	if s.active == nil {
		s.mu.Unlock()
		s.notifyExpired(expired)
		return State{}, shared.ErrMultiplierNotActive
	}
	state := *s.active
	s.active = nil
	s.mu.Unlock()

	s.notifyExpired(expired)
	return state, nil
}

// Apply scales an award by the active factor. Only positive amounts are
// scaled; subtractions and zero pass through untouched so a penalty is never
// doubled. The returned factor is what was actually applied (1.0 when
// inactive or for non-positive amounts).
func (s *Service) Apply(amount int64) (scaled int64, factor float64) {
	if amount <= 0 {
		return amount, 1.0
	}

	state, ok := s.GetActive()
	if !ok {
		return amount, 1.0
	}

	return scale(amount, state.Factor), state.Factor
}

// scale multiplies and rounds half-up, so 2.5x of 5 is 13, not 12.
func scale(amount int64, factor float64) int64 {
	return int64(math.Floor(float64(amount)*factor + 0.5))
}

// sweepLocked clears an expired state and returns it for notification.
// Caller holds s.mu.
func (s *Service) sweepLocked() *State {
	if s.active == nil || !s.active.Expired(s.now()) {
		return nil
	}
	expired := *s.active
	s.active = nil
	return &expired
}

func (s *Service) notifyExpired(expired *State) {
	if expired != nil && s.onExpire != nil {
		s.onExpire(*expired)
	}
}
