package orchestrator

import "time"

// StageEvent is a best-effort notification emitted at stage boundaries.
// Publication never affects run outcome; a publish failure is swallowed.
type StageEvent struct {
	RunID     string    `json:"run_id"`
	Stage     string    `json:"stage"`
	Status    string    `json:"status"` // "started", "completed", "failed", "skipped"
	Progress  int       `json:"progress"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// EventPublisher receives stage events. A nil publisher is valid; the
// orchestrator skips publishing when unset (spec.md names no required
// telemetry sink, SPEC_FULL.md's NATS bridge is additive).
type EventPublisher interface {
	Publish(event StageEvent)
}

func (o *Orchestrator) emit(runID, stage, status string, progress int, detail string) {
	if o.events == nil {
		return
	}
	o.events.Publish(StageEvent{
		RunID:     runID,
		Stage:     stage,
		Status:    status,
		Progress:  progress,
		Detail:    detail,
		Timestamp: time.Now().UTC(),
	})
}
