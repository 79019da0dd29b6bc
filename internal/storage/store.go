package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/cpe-server/cpe-server-pro/internal/models"
)

// Common errors
var (
	ErrNotFound     = errors.New("not found")
	ErrDuplicateKey = errors.New("duplicate key")
	ErrInvalidData  = errors.New("invalid data")
)

// Store defines the storage interface
type Store interface {
	// Transaction support
	BeginTx(ctx context.Context) (Store, error)
	Commit() error
	Rollback() error

	// Device methods
	CreateDevice(ctx context.Context, device *models.Device) error
	GetDevice(ctx context.Context, id uuid.UUID) (*models.Device, error)
	GetDeviceBySerial(ctx context.Context, tenantID *uuid.UUID, serialNumber string) (*models.Device, error)
	// LockDevice locks the device until the surrounding transaction
	// ends. Callers lock before checking active operations so the
	// check and the insert form one atomic step.
	LockDevice(ctx context.Context, id uuid.UUID) error
	UpdateDevice(ctx context.Context, device *models.Device) error
	DeleteDevice(ctx context.Context, id uuid.UUID) error
	ListDevices(ctx context.Context, filters DeviceFilters, limit, offset int) ([]*models.Device, int64, error)

	// Device parameter methods
	UpsertDeviceParameter(ctx context.Context, param *models.DeviceParameter) error
	GetDeviceParameter(ctx context.Context, deviceID uuid.UUID, name string) (*models.DeviceParameter, error)
	UpdateDeviceParameter(ctx context.Context, param *models.DeviceParameter) error
	ListDeviceParameters(ctx context.Context, deviceID uuid.UUID) ([]*models.DeviceParameter, error)

	// Device profile methods
	CreateDeviceProfile(ctx context.Context, profile *models.DeviceProfile) error
	GetDeviceProfile(ctx context.Context, id uuid.UUID) (*models.DeviceProfile, error)
	UpdateDeviceProfile(ctx context.Context, profile *models.DeviceProfile) error
	DeleteDeviceProfile(ctx context.Context, id uuid.UUID) error
	ListDeviceProfiles(ctx context.Context, tenantID *uuid.UUID, limit, offset int) ([]*models.DeviceProfile, int64, error)
	CountDevicesByProfile(ctx context.Context, profileID uuid.UUID) (int64, error)

	// Provisioning job methods
	CreateJob(ctx context.Context, job *models.ProvisioningJob) error
	GetJob(ctx context.Context, id uuid.UUID) (*models.ProvisioningJob, error)
	UpdateJob(ctx context.Context, job *models.ProvisioningJob) error
	ListJobs(ctx context.Context, deviceID uuid.UUID, limit, offset int) ([]*models.ProvisioningJob, int64, error)

	// Firmware upgrade methods
	CreateUpgrade(ctx context.Context, upgrade *models.FirmwareUpgrade) error
	GetUpgrade(ctx context.Context, id uuid.UUID) (*models.FirmwareUpgrade, error)
	UpdateUpgrade(ctx context.Context, upgrade *models.FirmwareUpgrade) error
	ListUpgrades(ctx context.Context, deviceID uuid.UUID, limit, offset int) ([]*models.FirmwareUpgrade, int64, error)

	// CountActiveOps counts jobs and upgrades that still occupy the device
	// (pending/in_progress jobs, pending/downloading/installing upgrades).
	CountActiveOps(ctx context.Context, deviceID uuid.UUID) (int64, error)

	// Event log methods
	CreateEventLog(ctx context.Context, event *models.EventLog) error
	ListEventLogs(ctx context.Context, filters EventLogFilters, limit, offset int) ([]*models.EventLog, int64, error)

	// Close the store
	Close() error
}

// DeviceFilters represents filters for device listing.
// A nil TenantID selects the administrative all-tenants mode.
type DeviceFilters struct {
	TenantID      *uuid.UUID
	Status        *models.DeviceStatus
	DeviceType    *models.DeviceType
	IsOnline      *bool
	IsProvisioned *bool
	Search        string
}

// EventLogFilters represents filters for event logs
type EventLogFilters struct {
	TenantID  *uuid.UUID
	DeviceID  *uuid.UUID
	Type      *models.EventType
	Level     *models.EventLevel
	StartTime *time.Time
	EndTime   *time.Time
}
