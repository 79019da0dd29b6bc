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

// Profiles manages named parameter templates scoped to a tenant
type Profiles struct {
	store     storage.Store
	validator *validation.Validator
}

// NewProfiles creates a device profile catalog
func NewProfiles(store storage.Store) *Profiles {
	return &Profiles{
		store:     store,
		validator: validation.NewValidator(),
	}
}

// ProfileInput is the attribute set for creating or updating a profile
type ProfileInput struct {
	Name         string `validate:"required,min=2"`
	Description  string
	Parameters   models.Variables
	DeviceType   *models.DeviceType
	Manufacturer *string
	Model        *string
	IsActive     bool
}

// Create creates a new profile for a tenant
func (p *Profiles) Create(ctx context.Context, tenantID uuid.UUID, in ProfileInput) (*models.DeviceProfile, error) {
	if err := p.validator.Validate(in); err != nil {
		return nil, err
	}

	profile := &models.DeviceProfile{
		TenantModel: models.TenantModel{
			TenantID: tenantID,
		},
		Name:         in.Name,
		Description:  in.Description,
		Parameters:   in.Parameters,
		DeviceType:   in.DeviceType,
		Manufacturer: in.Manufacturer,
		Model:        in.Model,
		IsActive:     in.IsActive,
	}

	if err := p.store.CreateDeviceProfile(ctx, profile); err != nil {
		if errors.Is(err, storage.ErrDuplicateKey) {
			return nil, ErrDuplicateProfileName
		}
		return nil, err
	}

	log.Info().
		Str("profileID", profile.ID.String()).
		Str("name", profile.Name).
		Msg("Device profile created")

	return profile, nil
}

// Get fetches a profile scoped to a tenant
func (p *Profiles) Get(ctx context.Context, tenantID *uuid.UUID, profileID uuid.UUID) (*models.DeviceProfile, error) {
	profile, err := p.store.GetDeviceProfile(ctx, profileID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrProfileNotFound
		}
		return nil, err
	}

	if tenantID != nil && profile.TenantID != *tenantID {
		return nil, ErrProfileNotFound
	}

	return profile, nil
}

// Update updates a profile
func (p *Profiles) Update(ctx context.Context, tenantID *uuid.UUID, profileID uuid.UUID, in ProfileInput) (*models.DeviceProfile, error) {
	if err := p.validator.Validate(in); err != nil {
		return nil, err
	}

	profile, err := p.Get(ctx, tenantID, profileID)
	if err != nil {
		return nil, err
	}

	profile.Name = in.Name
	profile.Description = in.Description
	profile.Parameters = in.Parameters
	profile.DeviceType = in.DeviceType
	profile.Manufacturer = in.Manufacturer
	profile.Model = in.Model
	profile.IsActive = in.IsActive

	if err := p.store.UpdateDeviceProfile(ctx, profile); err != nil {
		if errors.Is(err, storage.ErrDuplicateKey) {
			return nil, ErrDuplicateProfileName
		}
		return nil, err
	}

	return profile, nil
}

// Delete removes a profile. Deletion is rejected while any device
// references the profile.
func (p *Profiles) Delete(ctx context.Context, tenantID *uuid.UUID, profileID uuid.UUID) error {
	profile, err := p.Get(ctx, tenantID, profileID)
	if err != nil {
		return err
	}

	count, err := p.store.CountDevicesByProfile(ctx, profile.ID)
	if err != nil {
		return err
	}
	if count > 0 {
		return ErrProfileInUse
	}

	return p.store.DeleteDeviceProfile(ctx, profile.ID)
}

// List lists profiles of a tenant
func (p *Profiles) List(ctx context.Context, tenantID *uuid.UUID, limit, offset int) ([]*models.DeviceProfile, int64, error) {
	return p.store.ListDeviceProfiles(ctx, tenantID, limit, offset)
}
