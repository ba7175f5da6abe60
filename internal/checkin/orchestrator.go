package checkin

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"device-checkin/internal/logging"
	"device-checkin/internal/metrics"
)

// DefaultCheckinInterval is how long a checked-in credential is considered fresh
const DefaultCheckinInterval = 7 * 24 * time.Hour

const (
	originEnsure = "ensure"
	originFetch  = "fetch"
)

// Transport performs one checkin round trip, exchanging the existing
// credential (possibly empty) for a fresh one
type Transport interface {
	PerformCheckin(ctx context.Context, existing Credential, clientID string) (Credential, error)
}

// Store durably persists a credential
type Store interface {
	Save(ctx context.Context, cred Credential) error
}

// Handler receives the outcome of the checkin attempt it waited on.
// Exactly one of cred and err is non-nil.
type Handler func(cred *Credential, err error)

// attempt is one dispatched transport call and everyone waiting on it
type attempt struct {
	number   int
	started  time.Time
	handlers []Handler
	done     chan struct{} // closed once every handler has run
}

// Orchestrator owns the device credential and guarantees at most one checkin
// is in flight. Callers arriving while an attempt runs share its outcome.
type Orchestrator struct {
	transport Transport
	store     Store
	clientID  string
	logger    *logrus.Entry
	recorder  metrics.Recorder
	interval  time.Duration
	now       func() time.Time
	ctx       context.Context

	mu                                  sync.Mutex
	credential                          Credential
	lastCheckinTimestampSeconds         int64
	nextScheduledCheckinIntervalSeconds int64
	retryCount                          int
	consecutiveFailures                 int
	lastAttemptFinished                 time.Time
	current                             *attempt // nil while idle

	// serializes fan-outs so handlers of different attempts never interleave
	fanout sync.Mutex
}

// Option is a functional option for configuring the Orchestrator
type Option func(*Orchestrator)

// WithLogger sets the logger for the orchestrator
func WithLogger(logger *logrus.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logging.NewServiceLogger(logger, "checkin")
	}
}

// WithRecorder sets the metrics recorder
func WithRecorder(recorder metrics.Recorder) Option {
	return func(o *Orchestrator) {
		if recorder != nil {
			o.recorder = recorder
		}
	}
}

// WithCredential seeds the orchestrator with a previously stored credential
func WithCredential(cred Credential) Option {
	return func(o *Orchestrator) {
		o.credential = cred
	}
}

// WithCheckinInterval sets the interval scheduled after each successful checkin
func WithCheckinInterval(interval time.Duration) Option {
	return func(o *Orchestrator) {
		if interval > 0 {
			o.interval = interval
		}
	}
}

// WithClock replaces time.Now, mainly for tests
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// WithBaseContext sets the context passed to the transport and the store.
// Cancelling it does not abort the orchestrator; it only reaches the collaborators.
func WithBaseContext(ctx context.Context) Option {
	return func(o *Orchestrator) {
		if ctx != nil {
			o.ctx = ctx
		}
	}
}

// NewOrchestrator creates a new checkin orchestrator
func NewOrchestrator(transport Transport, store Store, clientID string, opts ...Option) (*Orchestrator, error) {
	if transport == nil {
		return nil, fmt.Errorf("transport is required")
	}
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}

	o := &Orchestrator{
		transport: transport,
		store:     store,
		clientID:  clientID,
		logger:    logging.NewServiceLogger(logrus.New(), "checkin"),
		recorder:  metrics.NoopRecorder{},
		interval:  DefaultCheckinInterval,
		now:       time.Now,
		ctx:       context.Background(),
	}

	for _, opt := range opts {
		opt(o)
	}

	if o.credential.Valid() {
		o.lastCheckinTimestampSeconds = o.credential.LastCheckinTimeMillis / 1000
		o.nextScheduledCheckinIntervalSeconds = int64(o.interval / time.Second)
	}
	o.recorder.SetCredentialValid(o.credential.Valid())

	return o, nil
}

// EnsureCheckin makes sure a valid credential is held or being fetched.
// It is a no-op when the credential is already valid. When an attempt is in
// flight, an immediate request joins it and counts as a retry, while a
// deferred request is dropped.
func (o *Orchestrator) EnsureCheckin(forceImmediate bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.credential.Valid() {
		return
	}

	if o.current == nil {
		o.startAttemptLocked(originEnsure, o.internalHandler())
		return
	}

	if forceImmediate {
		o.retryCount++
		o.current.handlers = append(o.current.handlers, o.internalHandler())
		o.recorder.IncJoin(originEnsure)
		o.recorder.SetPendingHandlers(len(o.current.handlers))
		o.logger.WithFields(logrus.Fields{
			"attempt":     o.current.number,
			"retry_count": o.retryCount,
		}).Debug("Immediate checkin joined in-flight attempt")
		return
	}

	o.recorder.IncDropped()
	o.logger.WithField("attempt", o.current.number).Debug("Deferred checkin dropped, attempt already in flight")
}

// FetchCredential registers handler for the outcome of a checkin. It starts
// a new attempt when none is in flight, otherwise it joins the running one.
func (o *Orchestrator) FetchCredential(handler Handler) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.fetchLocked(handler)
}

// Credential returns the held credential when it is valid, otherwise it
// fetches one and waits. Cancelling ctx only stops waiting; the attempt
// itself runs to completion.
func (o *Orchestrator) Credential(ctx context.Context) (Credential, error) {
	type result struct {
		cred *Credential
		err  error
	}
	done := make(chan result, 1)

	o.mu.Lock()
	if o.credential.Valid() {
		cred := o.credential
		o.mu.Unlock()
		return cred, nil
	}
	o.fetchLocked(func(cred *Credential, err error) {
		done <- result{cred: cred, err: err}
	})
	o.mu.Unlock()

	select {
	case <-ctx.Done():
		return Credential{}, ctx.Err()
	case res := <-done:
		if res.err != nil {
			return Credential{}, res.err
		}
		return *res.cred, nil
	}
}

// HasValidCredential reports whether the held credential is valid
func (o *Orchestrator) HasValidCredential() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.credential.Valid()
}

// CurrentCredential returns a copy of the held credential, valid or not
func (o *Orchestrator) CurrentCredential() Credential {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.credential
}

// RetryCount returns the number of attempts dispatched or joined as a retry
func (o *Orchestrator) RetryCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.retryCount
}

// LastCheckinTimestampSeconds returns when the last successful checkin completed
func (o *Orchestrator) LastCheckinTimestampSeconds() int64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastCheckinTimestampSeconds
}

// NextScheduledCheckinIntervalSeconds returns the refresh interval set by the last successful checkin
func (o *Orchestrator) NextScheduledCheckinIntervalSeconds() int64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.nextScheduledCheckinIntervalSeconds
}

// PendingHandlers returns the number of handlers waiting on the current attempt
func (o *Orchestrator) PendingHandlers() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.current == nil {
		return 0
	}
	return len(o.current.handlers)
}

// Reset clears the retry bookkeeping. An attempt in flight is not affected.
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.retryCount = 0
	o.consecutiveFailures = 0
	o.logger.Info("Checkin retry state reset")
}

// WaitIdle blocks until no attempt is in flight and its handlers have run,
// or until ctx is done. Attempts started by handlers are waited for too.
func (o *Orchestrator) WaitIdle(ctx context.Context) error {
	for {
		o.mu.Lock()
		a := o.current
		o.mu.Unlock()

		if a == nil {
			return nil
		}

		select {
		case <-a.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Status is a point-in-time snapshot of the orchestrator
type Status struct {
	Valid                               bool      `json:"valid"`
	InFlight                            bool      `json:"inFlight"`
	PendingHandlers                     int       `json:"pendingHandlers"`
	RetryCount                          int       `json:"retryCount"`
	ConsecutiveFailures                 int       `json:"consecutiveFailures"`
	DeviceID                            string    `json:"deviceId,omitempty"`
	LastCheckinTimestampSeconds         int64     `json:"lastCheckinTimestampSeconds"`
	NextScheduledCheckinIntervalSeconds int64     `json:"nextScheduledCheckinIntervalSeconds"`
	LastAttemptFinished                 time.Time `json:"lastAttemptFinished,omitempty"`
}

// Status returns a snapshot of the orchestrator state
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()

	status := Status{
		Valid:                               o.credential.Valid(),
		InFlight:                            o.current != nil,
		RetryCount:                          o.retryCount,
		ConsecutiveFailures:                 o.consecutiveFailures,
		DeviceID:                            o.credential.DeviceID,
		LastCheckinTimestampSeconds:         o.lastCheckinTimestampSeconds,
		NextScheduledCheckinIntervalSeconds: o.nextScheduledCheckinIntervalSeconds,
		LastAttemptFinished:                 o.lastAttemptFinished,
	}
	if o.current != nil {
		status.PendingHandlers = len(o.current.handlers)
	}
	return status
}

// fetchLocked must be called with o.mu held
func (o *Orchestrator) fetchLocked(handler Handler) {
	if handler == nil {
		handler = func(*Credential, error) {}
	}

	if o.current == nil {
		o.startAttemptLocked(originFetch, handler)
		return
	}

	o.current.handlers = append(o.current.handlers, handler)
	o.recorder.IncJoin(originFetch)
	o.recorder.SetPendingHandlers(len(o.current.handlers))
}

// startAttemptLocked must be called with o.mu held and no attempt in flight
func (o *Orchestrator) startAttemptLocked(origin string, handler Handler) {
	o.retryCount++
	a := &attempt{
		number:   o.retryCount,
		started:  o.now(),
		handlers: []Handler{handler},
		done:     make(chan struct{}),
	}
	o.current = a

	o.recorder.IncAttempt(origin)
	o.recorder.SetPendingHandlers(1)
	o.logger.WithFields(logrus.Fields{
		"attempt":    a.number,
		"origin":     origin,
		"has_device": o.credential.DeviceID != "",
	}).Info("Starting device checkin")

	go o.run(a, o.credential)
}

// run is the attempt pipeline: transport, then store, then fan-out.
// The first failing step decides the error kind.
func (o *Orchestrator) run(a *attempt, existing Credential) {
	cred, err := o.transport.PerformCheckin(o.ctx, existing, o.clientID)
	if err == nil && !cred.Valid() {
		err = fmt.Errorf("checkin response is missing device id or secret token")
	}
	if err != nil {
		logging.LogNetworkError(o.logger, err, "checkin", a.number, true)
		o.complete(a, nil, newTransportError(a.number, err))
		return
	}

	// a completed round trip is persisted even when shutdown has begun
	if err := o.store.Save(context.WithoutCancel(o.ctx), cred); err != nil {
		logging.LogStorageError(o.logger, err, "save_credential", true)
		o.complete(a, nil, newPersistenceError(a.number, err))
		return
	}

	o.complete(a, &cred, nil)
}

// complete applies the outcome of a, returns to idle and notifies every handler in order
func (o *Orchestrator) complete(a *attempt, cred *Credential, err *Error) {
	o.fanout.Lock()
	defer o.fanout.Unlock()
	defer close(a.done)

	o.mu.Lock()
	now := o.now()
	if err == nil {
		o.credential = *cred
		o.lastCheckinTimestampSeconds = now.Unix()
		o.nextScheduledCheckinIntervalSeconds = int64(o.interval / time.Second)
		o.consecutiveFailures = 0
	} else {
		o.consecutiveFailures++
	}
	o.lastAttemptFinished = now
	handlers := a.handlers
	o.current = nil
	valid := o.credential.Valid()
	o.mu.Unlock()

	o.recorder.SetPendingHandlers(0)
	o.recorder.SetCredentialValid(valid)
	o.recorder.ObserveAttempt(outcomeLabel(err), now.Sub(a.started))

	if err == nil {
		o.logger.WithFields(logrus.Fields{
			"attempt":   a.number,
			"device_id": cred.DeviceID,
			"handlers":  len(handlers),
		}).Info("Device checkin succeeded")
		for _, h := range handlers {
			result := *cred
			h(&result, nil)
		}
		return
	}

	o.logger.WithFields(logrus.Fields{
		"attempt":        a.number,
		"kind":           err.Kind,
		"error_category": logging.ClassifyError(err.Err),
		"handlers":       len(handlers),
	}).Warn("Device checkin failed")
	for _, h := range handlers {
		h(nil, err)
	}
}

func (o *Orchestrator) internalHandler() Handler {
	return func(cred *Credential, err error) {
		if err != nil {
			o.logger.WithError(err).Debug("Background checkin finished with error")
			return
		}
		o.logger.WithField("device_id", cred.DeviceID).Debug("Background checkin finished")
	}
}

func outcomeLabel(err *Error) metrics.OutcomeLabel {
	if err == nil {
		return metrics.OutcomeSuccess
	}
	if err.Kind == ErrorKindPersistence {
		return metrics.OutcomePersistenceError
	}
	return metrics.OutcomeTransportError
}
