package device

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/cpe-server/cpe-server-pro/internal/models"
	"github.com/cpe-server/cpe-server-pro/internal/storage"
	"github.com/cpe-server/cpe-server-pro/internal/validation"
)

// Registry owns device records: identity, ownership and the coarse
// lifecycle status. The status field is only mutated by the
// orchestration components and the monitor, never through Update.
type Registry struct {
	store     storage.Store
	validator *validation.Validator
}

// NewRegistry creates a device registry
func NewRegistry(store storage.Store) *Registry {
	return &Registry{
		store:     store,
		validator: validation.NewValidator(),
	}
}

// RegisterInput is the attribute set for registering a device
type RegisterInput struct {
	SerialNumber    string            `validate:"required,min=4"`
	Name            string            `validate:"required"`
	Description     string
	DeviceType      models.DeviceType `validate:"required,oneof=ROUTER ONT SWITCH ACCESS_POINT SET_TOP_BOX OTHER"`
	Manufacturer    string
	Model           string
	HardwareVersion string
	SoftwareVersion string
	MACAddress      *string
	IPAddress       *string
	ClientID        *uuid.UUID
	LocationID      *uuid.UUID
	DeviceProfileID *uuid.UUID
}

// Register creates a new device for a tenant. New devices start
// inactive, offline and unprovisioned.
func (r *Registry) Register(ctx context.Context, tenantID uuid.UUID, in RegisterInput) (*models.Device, error) {
	if err := r.validator.Validate(in); err != nil {
		return nil, err
	}

	if in.DeviceProfileID != nil {
		profile, err := r.store.GetDeviceProfile(ctx, *in.DeviceProfileID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil, ErrProfileNotFound
			}
			return nil, err
		}
		if profile.TenantID != tenantID {
			return nil, ErrProfileNotFound
		}
	}

	device := &models.Device{
		TenantModel: models.TenantModel{
			TenantID: tenantID,
		},
		SerialNumber:    in.SerialNumber,
		MACAddress:      in.MACAddress,
		IPAddress:       in.IPAddress,
		Name:            in.Name,
		Description:     in.Description,
		DeviceType:      in.DeviceType,
		Manufacturer:    in.Manufacturer,
		Model:           in.Model,
		HardwareVersion: in.HardwareVersion,
		SoftwareVersion: in.SoftwareVersion,
		ClientID:        in.ClientID,
		LocationID:      in.LocationID,
		DeviceProfileID: in.DeviceProfileID,
		Status:          models.DeviceStatusInactive,
		IsOnline:        false,
		IsProvisioned:   false,
	}

	if err := r.store.CreateDevice(ctx, device); err != nil {
		if errors.Is(err, storage.ErrDuplicateKey) {
			return nil, ErrDuplicateSerial
		}
		return nil, err
	}

	log.Info().
		Str("deviceID", device.ID.String()).
		Str("serial", device.SerialNumber).
		Str("tenantID", tenantID.String()).
		Msg("Device registered")

	return device, nil
}

// Get fetches a device scoped to a tenant. A nil tenant selects the
// administrative all-tenants mode.
func (r *Registry) Get(ctx context.Context, tenantID *uuid.UUID, deviceID uuid.UUID) (*models.Device, error) {
	return fetchScoped(ctx, r.store, tenantID, deviceID)
}

// UpdateInput is a free-form attribute patch. The status field is
// deliberately absent.
type UpdateInput struct {
	Name            *string
	Description     *string
	DeviceType      *models.DeviceType
	Manufacturer    *string
	Model           *string
	HardwareVersion *string
	MACAddress      *string
	IPAddress       *string
	ClientID        *uuid.UUID
	LocationID      *uuid.UUID
	DeviceProfileID *uuid.UUID
}

// Update applies an attribute patch to a device
func (r *Registry) Update(ctx context.Context, tenantID *uuid.UUID, deviceID uuid.UUID, patch UpdateInput) (*models.Device, error) {
	device, err := fetchScoped(ctx, r.store, tenantID, deviceID)
	if err != nil {
		return nil, err
	}

	if patch.Name != nil {
		device.Name = *patch.Name
	}
	if patch.Description != nil {
		device.Description = *patch.Description
	}
	if patch.DeviceType != nil {
		device.DeviceType = *patch.DeviceType
	}
	if patch.Manufacturer != nil {
		device.Manufacturer = *patch.Manufacturer
	}
	if patch.Model != nil {
		device.Model = *patch.Model
	}
	if patch.HardwareVersion != nil {
		device.HardwareVersion = *patch.HardwareVersion
	}
	if patch.MACAddress != nil {
		device.MACAddress = patch.MACAddress
	}
	if patch.IPAddress != nil {
		device.IPAddress = patch.IPAddress
	}
	if patch.ClientID != nil {
		device.ClientID = patch.ClientID
	}
	if patch.LocationID != nil {
		device.LocationID = patch.LocationID
	}
	if patch.DeviceProfileID != nil {
		profile, err := r.store.GetDeviceProfile(ctx, *patch.DeviceProfileID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil, ErrProfileNotFound
			}
			return nil, err
		}
		if profile.TenantID != device.TenantID {
			return nil, ErrProfileNotFound
		}
		device.DeviceProfileID = patch.DeviceProfileID
	}

	if err := r.store.UpdateDevice(ctx, device); err != nil {
		return nil, err
	}

	return device, nil
}

// Remove deletes a device; parameters, jobs and upgrades cascade
func (r *Registry) Remove(ctx context.Context, tenantID *uuid.UUID, deviceID uuid.UUID) error {
	device, err := fetchScoped(ctx, r.store, tenantID, deviceID)
	if err != nil {
		return err
	}

	if err := r.store.DeleteDevice(ctx, device.ID); err != nil {
		return err
	}

	log.Info().
		Str("deviceID", device.ID.String()).
		Str("serial", device.SerialNumber).
		Msg("Device removed")

	return nil
}

// List lists devices matching the filters
func (r *Registry) List(ctx context.Context, filters storage.DeviceFilters, limit, offset int) ([]*models.Device, int64, error) {
	return r.store.ListDevices(ctx, filters, limit, offset)
}

// fetchScoped fetches a device and enforces tenant scoping. Tenant
// mismatch is indistinguishable from absence.
func fetchScoped(ctx context.Context, store storage.Store, tenantID *uuid.UUID, deviceID uuid.UUID) (*models.Device, error) {
	device, err := store.GetDevice(ctx, deviceID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrDeviceNotFound
		}
		return nil, err
	}

	if tenantID != nil && device.TenantID != *tenantID {
		return nil, ErrDeviceNotFound
	}

	return device, nil
}
