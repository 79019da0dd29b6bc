package models

import (
	"time"

	"github.com/google/uuid"
)

// DeviceType classifies the kind of CPE hardware
type DeviceType string

const (
	DeviceTypeRouter      DeviceType = "ROUTER"
	DeviceTypeONT         DeviceType = "ONT"
	DeviceTypeSwitch      DeviceType = "SWITCH"
	DeviceTypeAccessPoint DeviceType = "ACCESS_POINT"
	DeviceTypeSetTopBox   DeviceType = "SET_TOP_BOX"
	DeviceTypeOther       DeviceType = "OTHER"
)

// DeviceStatus represents the coarse lifecycle status of a device.
// Only the orchestration components and the monitor may change it.
type DeviceStatus string

const (
	DeviceStatusInactive     DeviceStatus = "INACTIVE"
	DeviceStatusProvisioning DeviceStatus = "PROVISIONING"
	DeviceStatusActive       DeviceStatus = "ACTIVE"
	DeviceStatusUpgrading    DeviceStatus = "UPGRADING"
	DeviceStatusError        DeviceStatus = "ERROR"
)

// Busy reports whether an in-flight job or upgrade currently owns the
// status field. The monitor must not probe devices in these states.
// Error is not busy: a failed operation is finished, only the status
// marker remains.
func (s DeviceStatus) Busy() bool {
	return s == DeviceStatusProvisioning || s == DeviceStatusUpgrading
}

// Device represents a managed CPE unit
type Device struct {
	TenantModel

	// Identifiers
	SerialNumber string  `json:"serialNumber" db:"serial_number"`
	MACAddress   *string `json:"macAddress,omitempty" db:"mac_address"`
	IPAddress    *string `json:"ipAddress,omitempty" db:"ip_address"`

	// Metadata
	Name            string     `json:"name" db:"name"`
	Description     string     `json:"description" db:"description"`
	DeviceType      DeviceType `json:"deviceType" db:"device_type"`
	Manufacturer    string     `json:"manufacturer" db:"manufacturer"`
	Model           string     `json:"model" db:"model"`
	HardwareVersion string     `json:"hardwareVersion" db:"hardware_version"`
	SoftwareVersion string     `json:"softwareVersion" db:"software_version"`

	// Ownership
	ClientID   *uuid.UUID `json:"clientId,omitempty" db:"client_id"`
	LocationID *uuid.UUID `json:"locationId,omitempty" db:"location_id"`

	// Lifecycle
	Status        DeviceStatus `json:"status" db:"status"`
	IsOnline      bool         `json:"isOnline" db:"is_online"`
	IsProvisioned bool         `json:"isProvisioned" db:"is_provisioned"`

	// Optional profile association
	DeviceProfileID *uuid.UUID `json:"deviceProfileId,omitempty" db:"device_profile_id"`

	// Timestamps
	LastContactAt *time.Time `json:"lastContactAt,omitempty" db:"last_contact_at"`
	LastBootTime  *time.Time `json:"lastBootTime,omitempty" db:"last_boot_time"`

	// Relations
	Profile *DeviceProfile `json:"profile,omitempty"`
}

// ParameterType governs how a parameter value is interpreted
type ParameterType string

const (
	ParameterTypeString   ParameterType = "STRING"
	ParameterTypeInt      ParameterType = "INT"
	ParameterTypeUint     ParameterType = "UINT"
	ParameterTypeBool     ParameterType = "BOOL"
	ParameterTypeDateTime ParameterType = "DATETIME"
	ParameterTypeBase64   ParameterType = "BASE64"
	ParameterTypeObject   ParameterType = "OBJECT"
)

// DeviceParameter represents one named value scoped to exactly one device.
// (DeviceID, Name) is unique.
type DeviceParameter struct {
	ID           uuid.UUID     `json:"id" db:"id"`
	DeviceID     uuid.UUID     `json:"deviceId" db:"device_id"`
	Name         string        `json:"name" db:"name"`
	Value        string        `json:"value" db:"value"`
	Type         ParameterType `json:"type" db:"type"`
	Writable     bool          `json:"writable" db:"writable"`
	Notification bool          `json:"notification" db:"notification"`
	LastUpdated  time.Time     `json:"lastUpdated" db:"last_updated"`
}

// DeviceProfile represents a named parameter template scoped to a tenant.
// Name is unique per tenant. Deletion is blocked while devices reference it.
type DeviceProfile struct {
	TenantModel

	Name        string    `json:"name" db:"name"`
	Description string    `json:"description" db:"description"`
	Parameters  Variables `json:"parameters" db:"parameters"`

	// Affinity (optional; empty matches any)
	DeviceType   *DeviceType `json:"deviceType,omitempty" db:"device_type"`
	Manufacturer *string     `json:"manufacturer,omitempty" db:"manufacturer"`
	Model        *string     `json:"model,omitempty" db:"model"`

	IsActive bool `json:"isActive" db:"is_active"`
}
