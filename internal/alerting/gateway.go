package alerting

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Severity represents alert severity levels
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Alert represents a single alert event raised by the orchestration core
type Alert struct {
	Severity    Severity   `json:"severity"`
	TenantID    uuid.UUID  `json:"tenantId"`
	DeviceID    uuid.UUID  `json:"deviceId"`
	ReferenceID *uuid.UUID `json:"referenceId,omitempty"`
	Subject     string     `json:"subject"`
	Message     string     `json:"message"`
	RaisedAt    time.Time  `json:"raisedAt"`
}

// Gateway delivers alerts to the notification system. Calls are
// fire-and-forget from the caller's point of view; delivery failures
// are the gateway's concern.
type Gateway interface {
	Raise(ctx context.Context, alert Alert)
}

// LogGateway writes alerts to the process log only. It is the fallback
// when no delivery channel is configured.
type LogGateway struct{}

// Raise logs the alert
func (LogGateway) Raise(ctx context.Context, alert Alert) {
	log.Warn().
		Str("severity", string(alert.Severity)).
		Str("tenantID", alert.TenantID.String()).
		Str("deviceID", alert.DeviceID.String()).
		Str("subject", alert.Subject).
		Str("message", alert.Message).
		Msg("Alert raised")
}
