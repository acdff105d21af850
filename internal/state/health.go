package state

import (
	"time"
)

type HealthStatus string

const (
	StatusHealthy  HealthStatus = "healthy"
	StatusDegraded HealthStatus = "degraded"
	StatusFailed   HealthStatus = "failed"
)

// DefaultFailureThreshold is the number of consecutive session failures
// after which a subsystem is reported as failed.
const DefaultFailureThreshold = 3

// Health is the session health of one subsystem.
type Health struct {
	Subsystem           string       `json:"subsystem" cbor:"subsystem"`
	Status              HealthStatus `json:"status" cbor:"status"`
	Connected           bool         `json:"connected" cbor:"connected"`
	Session             string       `json:"session,omitempty" cbor:"session,omitempty"`
	ConsecutiveFailures int          `json:"consecutive_failures" cbor:"consecutive_failures"`
	LastError           string       `json:"last_error,omitempty" cbor:"last_error,omitempty"`
	LastErrorAt         time.Time    `json:"last_error_at,omitzero" cbor:"last_error_at,omitempty"`
}

// sessionHealth tracks consecutive session failures for one subsystem.
// It is only touched under the Store lock.
type sessionHealth struct {
	failures          int
	connected         bool
	session           string
	lastErr           string
	lastErrAt         time.Time
	lastEmittedStatus HealthStatus
}

func newSessionHealth() *sessionHealth {
	return &sessionHealth{lastEmittedStatus: StatusHealthy}
}

func (h *sessionHealth) recordStart(session string) {
	h.connected = true
	h.session = session
}

// recordSubscribed clears the failure streak. A session that opens but
// never gets as far as subscribing still counts as failing.
func (h *sessionHealth) recordSubscribed() {
	h.failures = 0
}

func (h *sessionHealth) recordFailure(reason string, at time.Time) {
	h.failures++
	h.connected = false
	h.session = ""
	h.lastErr = reason
	h.lastErrAt = at
}

func (h *sessionHealth) status(threshold int) HealthStatus {
	switch {
	case h.failures >= threshold:
		return StatusFailed
	case h.failures > 0:
		return StatusDegraded
	default:
		return StatusHealthy
	}
}

func (h *sessionHealth) snapshot(subsystem string, threshold int) Health {
	return Health{
		Subsystem:           subsystem,
		Status:              h.status(threshold),
		Connected:           h.connected,
		Session:             h.session,
		ConsecutiveFailures: h.failures,
		LastError:           h.lastErr,
		LastErrorAt:         h.lastErrAt,
	}
}

// snapshotAndEmit returns the current health and whether the status
// changed since the last time it was emitted.
func (h *sessionHealth) snapshotAndEmit(subsystem string, threshold int) (Health, bool) {
	snap := h.snapshot(subsystem, threshold)
	changed := snap.Status != h.lastEmittedStatus
	if changed {
		h.lastEmittedStatus = snap.Status
	}
	return snap, changed
}
