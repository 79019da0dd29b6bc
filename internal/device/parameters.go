package device

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/cpe-server/cpe-server-pro/internal/acs"
	"github.com/cpe-server/cpe-server-pro/internal/models"
	"github.com/cpe-server/cpe-server-pro/internal/storage"
)

// Parameters manages per-device named parameter values. Local writes
// are authoritative; remote propagation to the ACS is best-effort and
// eventually convergent.
type Parameters struct {
	store       storage.Store
	gateway     acs.Gateway
	pushTimeout time.Duration
}

// NewParameters creates a parameter store service
func NewParameters(store storage.Store, gateway acs.Gateway, pushTimeout time.Duration) *Parameters {
	if pushTimeout <= 0 {
		pushTimeout = 30 * time.Second
	}
	return &Parameters{
		store:       store,
		gateway:     gateway,
		pushTimeout: pushTimeout,
	}
}

// ListForDevice lists all parameters of a device
func (p *Parameters) ListForDevice(ctx context.Context, tenantID *uuid.UUID, deviceID uuid.UUID) ([]*models.DeviceParameter, error) {
	device, err := fetchScoped(ctx, p.store, tenantID, deviceID)
	if err != nil {
		return nil, err
	}
	return p.store.ListDeviceParameters(ctx, device.ID)
}

// Write updates a writable parameter value. The local write always
// succeeds or fails on its own merits; the remote push happens
// asynchronously and its failure is logged, not surfaced.
func (p *Parameters) Write(ctx context.Context, tenantID *uuid.UUID, deviceID uuid.UUID, name, value string) (*models.DeviceParameter, error) {
	device, err := fetchScoped(ctx, p.store, tenantID, deviceID)
	if err != nil {
		return nil, err
	}

	param, err := p.store.GetDeviceParameter(ctx, device.ID, name)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrParameterNotFound
		}
		return nil, err
	}

	if !param.Writable {
		return nil, ErrParameterNotWritable
	}

	param.Value = value
	if err := p.store.UpdateDeviceParameter(ctx, param); err != nil {
		return nil, err
	}

	tenant := device.TenantID
	dev := device.ID
	if err := p.store.CreateEventLog(ctx, &models.EventLog{
		TenantID:    &tenant,
		DeviceID:    &dev,
		Type:        models.EventTypeParameter,
		Level:       models.EventLevelInfo,
		Description: "Parameter updated: " + name,
		Details: models.Variables{
			"name":  name,
			"value": value,
		},
	}); err != nil {
		log.Error().Err(err).Msg("Failed to create parameter event log")
	}

	go p.pushRemote(device, name, value)

	return param, nil
}

// pushRemote propagates a parameter write to the ACS. Failures are
// logged only; local state remains authoritative.
func (p *Parameters) pushRemote(device *models.Device, name, value string) {
	ctx, cancel := context.WithTimeout(context.Background(), p.pushTimeout)
	defer cancel()

	if _, err := p.gateway.WriteParameter(ctx, device, name, value); err != nil {
		log.Warn().
			Err(err).
			Str("serial", device.SerialNumber).
			Str("parameter", name).
			Msg("Remote parameter push failed; local value kept")
		return
	}

	log.Debug().
		Str("serial", device.SerialNumber).
		Str("parameter", name).
		Msg("Parameter pushed to ACS")
}
