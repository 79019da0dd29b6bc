package storage

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cpe-server/cpe-server-pro/internal/models"
)

// ========== Device Profile Methods ==========

const profileColumns = `id, created_at, updated_at, tenant_id, name, description,
           parameters, device_type, manufacturer, model, is_active`

// CreateDeviceProfile creates a new device profile
func (s *PostgresStore) CreateDeviceProfile(ctx context.Context, profile *models.DeviceProfile) error {
	if profile.ID == uuid.Nil {
		profile.ID = uuid.New()
	}

	now := time.Now()
	profile.CreatedAt = now
	profile.UpdatedAt = now

	query := `
        INSERT INTO device_profiles (` + profileColumns + `
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := s.getDB().ExecContext(ctx, query,
		profile.ID, profile.CreatedAt, profile.UpdatedAt, profile.TenantID,
		profile.Name, profile.Description, profile.Parameters,
		profile.DeviceType, profile.Manufacturer, profile.Model, profile.IsActive,
	)

	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return ErrDuplicateKey
		}
		return err
	}

	return nil
}

// scanProfile scans a device profile row
func scanProfile(row interface{ Scan(...interface{}) error }) (*models.DeviceProfile, error) {
	profile := &models.DeviceProfile{}
	err := row.Scan(
		&profile.ID, &profile.CreatedAt, &profile.UpdatedAt, &profile.TenantID,
		&profile.Name, &profile.Description, &profile.Parameters,
		&profile.DeviceType, &profile.Manufacturer, &profile.Model, &profile.IsActive,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return profile, nil
}

// GetDeviceProfile gets a device profile by ID
func (s *PostgresStore) GetDeviceProfile(ctx context.Context, id uuid.UUID) (*models.DeviceProfile, error) {
	query := `SELECT ` + profileColumns + ` FROM device_profiles WHERE id = $1`
	return scanProfile(s.getDB().QueryRowContext(ctx, query, id))
}

// UpdateDeviceProfile updates a device profile
func (s *PostgresStore) UpdateDeviceProfile(ctx context.Context, profile *models.DeviceProfile) error {
	profile.UpdatedAt = time.Now()

	query := `
        UPDATE device_profiles SET
            updated_at = $2, name = $3, description = $4, parameters = $5,
            device_type = $6, manufacturer = $7, model = $8, is_active = $9
        WHERE id = $1`

	result, err := s.getDB().ExecContext(ctx, query,
		profile.ID, profile.UpdatedAt, profile.Name, profile.Description,
		profile.Parameters, profile.DeviceType, profile.Manufacturer,
		profile.Model, profile.IsActive,
	)

	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return ErrDuplicateKey
		}
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// DeleteDeviceProfile deletes a device profile
func (s *PostgresStore) DeleteDeviceProfile(ctx context.Context, id uuid.UUID) error {
	result, err := s.getDB().ExecContext(ctx, "DELETE FROM device_profiles WHERE id = $1", id)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// ListDeviceProfiles lists device profiles
func (s *PostgresStore) ListDeviceProfiles(ctx context.Context, tenantID *uuid.UUID, limit, offset int) ([]*models.DeviceProfile, int64, error) {
	var args []interface{}
	countQuery := "SELECT COUNT(*) FROM device_profiles"
	query := `SELECT ` + profileColumns + ` FROM device_profiles`

	if tenantID != nil {
		countQuery += " WHERE tenant_id = $1"
		query += " WHERE tenant_id = $1"
		args = append(args, *tenantID)
	}

	// Get count
	var count int64
	err := s.getDB().QueryRowContext(ctx, countQuery, args...).Scan(&count)
	if err != nil {
		return nil, 0, err
	}

	// Get rows
	if tenantID != nil {
		query += " ORDER BY created_at DESC LIMIT $2 OFFSET $3"
	} else {
		query += " ORDER BY created_at DESC LIMIT $1 OFFSET $2"
	}
	args = append(args, limit, offset)

	rows, err := s.getDB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var profiles []*models.DeviceProfile
	for rows.Next() {
		profile, err := scanProfile(rows)
		if err != nil {
			return nil, 0, err
		}
		profiles = append(profiles, profile)
	}

	return profiles, count, rows.Err()
}

// CountDevicesByProfile counts devices referencing a profile
func (s *PostgresStore) CountDevicesByProfile(ctx context.Context, profileID uuid.UUID) (int64, error) {
	var count int64
	err := s.getDB().QueryRowContext(ctx,
		"SELECT COUNT(*) FROM devices WHERE device_profile_id = $1", profileID,
	).Scan(&count)
	return count, err
}
