package metrics

import "time"

// OutcomeLabel enumerates how a checkin attempt ended.
type OutcomeLabel string

const (
	OutcomeSuccess          OutcomeLabel = "success"
	OutcomeTransportError   OutcomeLabel = "transport_error"
	OutcomePersistenceError OutcomeLabel = "persistence_error"
)

// Recorder defines observability hooks for the checkin orchestrator.
// Implementations must be safe for concurrent use.
type Recorder interface {
	// IncAttempt counts an attempt that dispatched a transport call.
	IncAttempt(origin string)
	// IncJoin counts a caller that joined an attempt already in flight.
	IncJoin(origin string)
	// IncDropped counts a deferred request dropped because an attempt was in flight.
	IncDropped()
	ObserveAttempt(outcome OutcomeLabel, d time.Duration)
	SetPendingHandlers(n int)
	SetCredentialValid(valid bool)
}

// NoopRecorder is a Recorder that does nothing (default when metrics not configured).
type NoopRecorder struct{}

func (NoopRecorder) IncAttempt(string)                          {}
func (NoopRecorder) IncJoin(string)                             {}
func (NoopRecorder) IncDropped()                                {}
func (NoopRecorder) ObserveAttempt(OutcomeLabel, time.Duration) {}
func (NoopRecorder) SetPendingHandlers(int)                     {}
func (NoopRecorder) SetCredentialValid(bool)                    {}
