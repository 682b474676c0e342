// Package audit emits denial events to Kafka for downstream consumers.
// Auditing is optional and strictly best-effort: a broker failure is logged
// and never blocks or fails the request path.
package audit

import (
	"context"
	"time"
)

// DenialEvent describes one denied request.
type DenialEvent struct {
	RuleID      string    `json:"rule_id"`
	ThrottleKey string    `json:"throttle_key"`
	Limit       int64     `json:"limit"`
	RetryAfter  int64     `json:"retry_after_ms"`
	ClientIP    string    `json:"client_ip"`
	Path        string    `json:"path"`
	Method      string    `json:"method"`
	DeniedAt    time.Time `json:"denied_at"`
}

// Recorder receives denial events.
type Recorder interface {
	RecordDenial(ctx context.Context, event DenialEvent)
	Close() error
}

type noopRecorder struct{}

// NewNoopRecorder creates a recorder that drops all events. Used when auditing
// is disabled.
func NewNoopRecorder() Recorder {
	return noopRecorder{}
}

func (noopRecorder) RecordDenial(ctx context.Context, event DenialEvent) {}
func (noopRecorder) Close() error                                        { return nil }
