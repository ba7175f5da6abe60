package checkin

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/sirupsen/logrus"

	"device-checkin/internal/logging"
)

// Decision is what a refresher tick did
type Decision string

const (
	DecisionInFlight  Decision = "in_flight"
	DecisionFresh     Decision = "fresh"
	DecisionBackoff   Decision = "backoff"
	DecisionExhausted Decision = "exhausted"
	DecisionEnsure    Decision = "ensure"
	DecisionRefresh   Decision = "refresh"
)

// RefreshTarget is the part of the orchestrator the refresher drives
type RefreshTarget interface {
	Status() Status
	EnsureCheckin(forceImmediate bool)
	FetchCredential(handler Handler)
}

// Refresher periodically asks the orchestrator for a checkin when the
// credential is missing or stale, spacing failed attempts per its RetryPolicy
type Refresher struct {
	target    RefreshTarget
	policy    RetryPolicy
	tick      time.Duration
	now       func() time.Time
	logger    *logrus.Entry
	scheduler gocron.Scheduler

	mu              sync.Mutex
	exhaustedLogged bool
	stopOnce        sync.Once
}

// RefresherOption is a functional option for configuring the Refresher
type RefresherOption func(*Refresher)

// WithRefresherLogger sets the logger for the refresher
func WithRefresherLogger(logger *logrus.Logger) RefresherOption {
	return func(r *Refresher) {
		r.logger = logging.NewServiceLogger(logger, "checkin-refresher")
	}
}

// WithRefresherClock replaces time.Now, mainly for tests
func WithRefresherClock(now func() time.Time) RefresherOption {
	return func(r *Refresher) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRefresher creates a refresher that evaluates target every tick
func NewRefresher(target RefreshTarget, policy RetryPolicy, tick time.Duration, opts ...RefresherOption) (*Refresher, error) {
	if target == nil {
		return nil, fmt.Errorf("refresh target is required")
	}
	if tick <= 0 {
		return nil, fmt.Errorf("refresh tick must be positive")
	}
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid retry policy: %w", err)
	}

	r := &Refresher{
		target: target,
		policy: policy,
		tick:   tick,
		now:    time.Now,
		logger: logging.NewServiceLogger(logrus.New(), "checkin-refresher"),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r, nil
}

// Start schedules the periodic tick, running the first one immediately.
// The scheduler is shut down when ctx is cancelled or Stop is called.
func (r *Refresher) Start(ctx context.Context) error {
	s, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("failed to create gocron scheduler: %w", err)
	}

	_, err = s.NewJob(
		gocron.DurationJob(r.tick),
		gocron.NewTask(func() { r.Tick() }),
		gocron.WithName("checkin-refresh"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		_ = s.Shutdown()
		return fmt.Errorf("failed to create refresh job: %w", err)
	}

	r.scheduler = s
	r.logger.WithField("tick", r.tick).Info("Starting checkin refresher")
	s.Start()

	go func() {
		<-ctx.Done()
		if err := r.Stop(); err != nil {
			r.logger.WithError(err).Warn("Failed to stop checkin refresher")
		}
	}()

	return nil
}

// Stop shuts the scheduler down
func (r *Refresher) Stop() error {
	var err error
	r.stopOnce.Do(func() {
		if r.scheduler == nil {
			return
		}
		r.logger.Info("Stopping checkin refresher")
		err = r.scheduler.Shutdown()
	})
	return err
}

// Tick evaluates the orchestrator once and triggers a checkin if one is due
func (r *Refresher) Tick() Decision {
	status := r.target.Status()
	now := r.now()

	if status.InFlight {
		return DecisionInFlight
	}

	if status.Valid && !r.stale(status, now) {
		r.clearExhausted()
		return DecisionFresh
	}

	if r.policy.Exhausted(status.ConsecutiveFailures) {
		r.logExhausted(status)
		return DecisionExhausted
	}

	if status.ConsecutiveFailures > 0 {
		wait := r.policy.Delay(status.ConsecutiveFailures)
		if now.Before(status.LastAttemptFinished.Add(wait)) {
			return DecisionBackoff
		}
	}
	r.clearExhausted()

	if !status.Valid {
		r.logger.WithField("failures", status.ConsecutiveFailures).Debug("No valid credential, requesting checkin")
		r.target.EnsureCheckin(false)
		return DecisionEnsure
	}

	// EnsureCheckin is a no-op for a valid credential
	r.logger.WithField("device_id", status.DeviceID).Info("Credential is stale, refreshing")
	r.target.FetchCredential(func(cred *Credential, err error) {
		if err != nil {
			r.logger.WithError(err).Warn("Stale credential refresh failed")
			return
		}
		r.logger.WithField("device_id", cred.DeviceID).Info("Stale credential refreshed")
	})
	return DecisionRefresh
}

func (r *Refresher) stale(status Status, now time.Time) bool {
	if status.NextScheduledCheckinIntervalSeconds <= 0 {
		return true
	}
	due := time.Unix(status.LastCheckinTimestampSeconds+status.NextScheduledCheckinIntervalSeconds, 0)
	return !now.Before(due)
}

func (r *Refresher) logExhausted(status Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.exhaustedLogged {
		return
	}
	r.exhaustedLogged = true
	r.logger.WithFields(logrus.Fields{
		"failures":     status.ConsecutiveFailures,
		"max_attempts": r.policy.MaxAttempts,
	}).Error("Checkin retries exhausted, waiting for reset or explicit request")
}

func (r *Refresher) clearExhausted() {
	r.mu.Lock()
	r.exhaustedLogged = false
	r.mu.Unlock()
}
