package models

import (
	"time"

	"github.com/google/uuid"
)

// JobType represents the kind of provisioning operation
type JobType string

const (
	JobTypeInitialProvision JobType = "INITIAL_PROVISION"
	JobTypeReconfigure      JobType = "RECONFIGURE"
	JobTypeFactoryReset     JobType = "FACTORY_RESET"
	JobTypeReboot           JobType = "REBOOT"
	JobTypeParameterUpdate  JobType = "PARAMETER_UPDATE"
)

// JobStatus represents the provisioning job state machine.
// pending -> in_progress -> {completed | failed}; cancelled only from pending.
type JobStatus string

const (
	JobStatusPending    JobStatus = "PENDING"
	JobStatusInProgress JobStatus = "IN_PROGRESS"
	JobStatusCompleted  JobStatus = "COMPLETED"
	JobStatusFailed     JobStatus = "FAILED"
	JobStatusCancelled  JobStatus = "CANCELLED"
)

// Active reports whether the job still occupies its device.
func (s JobStatus) Active() bool {
	return s == JobStatusPending || s == JobStatusInProgress
}

// ProvisioningJob represents one attempt to apply a lifecycle operation to a device
type ProvisioningJob struct {
	TenantModel

	DeviceID   uuid.UUID `json:"deviceId" db:"device_id"`
	Type       JobType   `json:"type" db:"type"`
	Status     JobStatus `json:"status" db:"status"`
	Parameters Variables `json:"parameters,omitempty" db:"parameters"`
	Notes      string    `json:"notes" db:"notes"`
	Result     Variables `json:"result,omitempty" db:"result"`

	StartedAt   *time.Time `json:"startedAt,omitempty" db:"started_at"`
	CompletedAt *time.Time `json:"completedAt,omitempty" db:"completed_at"`
	CreatedBy   string     `json:"createdBy" db:"created_by"`
}

// UpgradeStatus represents the firmware upgrade state machine.
// pending -> downloading -> installing -> {completed | failed};
// cancelled only from pending.
type UpgradeStatus string

const (
	UpgradeStatusPending     UpgradeStatus = "PENDING"
	UpgradeStatusDownloading UpgradeStatus = "DOWNLOADING"
	UpgradeStatusInstalling  UpgradeStatus = "INSTALLING"
	UpgradeStatusCompleted   UpgradeStatus = "COMPLETED"
	UpgradeStatusFailed      UpgradeStatus = "FAILED"
	UpgradeStatusCancelled   UpgradeStatus = "CANCELLED"
)

// Active reports whether the upgrade still occupies its device.
func (s UpgradeStatus) Active() bool {
	return s == UpgradeStatusPending || s == UpgradeStatusDownloading || s == UpgradeStatusInstalling
}

// FirmwareUpgrade represents one attempt to move a device to a new firmware version
type FirmwareUpgrade struct {
	TenantModel

	DeviceID        uuid.UUID     `json:"deviceId" db:"device_id"`
	FirmwareVersion string        `json:"firmwareVersion" db:"firmware_version"`
	FirmwareURL     string        `json:"firmwareUrl" db:"firmware_url"`
	Status          UpgradeStatus `json:"status" db:"status"`
	Notes           string        `json:"notes" db:"notes"`
	Result          Variables     `json:"result,omitempty" db:"result"`

	StartedAt   *time.Time `json:"startedAt,omitempty" db:"started_at"`
	CompletedAt *time.Time `json:"completedAt,omitempty" db:"completed_at"`
	CreatedBy   string     `json:"createdBy" db:"created_by"`
}
