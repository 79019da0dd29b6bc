package models

import (
	"time"

	"github.com/google/uuid"
)

// EventLog represents an event log entry
type EventLog struct {
	ID        uuid.UUID `json:"id" db:"id"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`

	TenantID *uuid.UUID `json:"tenantId,omitempty" db:"tenant_id"`
	DeviceID *uuid.UUID `json:"deviceId,omitempty" db:"device_id"`

	Type        EventType  `json:"type" db:"type"`
	Level       EventLevel `json:"level" db:"level"`
	Code        string     `json:"code" db:"code"`
	Description string     `json:"description" db:"description"`

	Details Variables `json:"details,omitempty" db:"details"`
}

// EventType represents event types
type EventType string

const (
	// Device lifecycle events
	EventTypeProvision    EventType = "PROVISION"
	EventTypeReboot       EventType = "REBOOT"
	EventTypeFactoryReset EventType = "FACTORY_RESET"
	EventTypeUpgrade      EventType = "UPGRADE"
	EventTypeParameter    EventType = "PARAMETER"
	EventTypeError        EventType = "ERROR"

	// Reachability events
	EventTypeOnline  EventType = "ONLINE"
	EventTypeOffline EventType = "OFFLINE"
	EventTypeInform  EventType = "INFORM"
	EventTypeBoot    EventType = "BOOT"

	// System events
	EventTypeAlert EventType = "ALERT"
)

// EventLevel represents event severity levels
type EventLevel string

const (
	EventLevelDebug   EventLevel = "DEBUG"
	EventLevelInfo    EventLevel = "INFO"
	EventLevelWarning EventLevel = "WARNING"
	EventLevelError   EventLevel = "ERROR"
	EventLevelFatal   EventLevel = "FATAL"
)
