package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cpe-server/cpe-server-pro/internal/models"
)

// ========== Device Methods ==========

const deviceColumns = `id, created_at, updated_at, tenant_id, serial_number, mac_address,
           ip_address, name, description, device_type, manufacturer, model,
           hardware_version, software_version, client_id, location_id, status,
           is_online, is_provisioned, device_profile_id, last_contact_at, last_boot_time`

// CreateDevice creates a new device
func (s *PostgresStore) CreateDevice(ctx context.Context, device *models.Device) error {
	if device.ID == uuid.Nil {
		device.ID = uuid.New()
	}

	now := time.Now()
	device.CreatedAt = now
	device.UpdatedAt = now

	query := `
        INSERT INTO devices (` + deviceColumns + `
        ) VALUES (
            $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
            $16, $17, $18, $19, $20, $21, $22
        )`

	_, err := s.getDB().ExecContext(ctx, query,
		device.ID, device.CreatedAt, device.UpdatedAt, device.TenantID,
		device.SerialNumber, device.MACAddress, device.IPAddress,
		device.Name, device.Description, device.DeviceType, device.Manufacturer,
		device.Model, device.HardwareVersion, device.SoftwareVersion,
		device.ClientID, device.LocationID, device.Status,
		device.IsOnline, device.IsProvisioned, device.DeviceProfileID,
		device.LastContactAt, device.LastBootTime,
	)

	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return ErrDuplicateKey
		}
		return err
	}

	return nil
}

// scanDevice scans a device row
func scanDevice(row interface{ Scan(...interface{}) error }) (*models.Device, error) {
	device := &models.Device{}
	err := row.Scan(
		&device.ID, &device.CreatedAt, &device.UpdatedAt, &device.TenantID,
		&device.SerialNumber, &device.MACAddress, &device.IPAddress,
		&device.Name, &device.Description, &device.DeviceType, &device.Manufacturer,
		&device.Model, &device.HardwareVersion, &device.SoftwareVersion,
		&device.ClientID, &device.LocationID, &device.Status,
		&device.IsOnline, &device.IsProvisioned, &device.DeviceProfileID,
		&device.LastContactAt, &device.LastBootTime,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return device, nil
}

// LockDevice takes a row lock on the device for the duration of the
// surrounding transaction. Create paths lock before counting active
// operations so two concurrent creates serialize on the device row.
func (s *PostgresStore) LockDevice(ctx context.Context, id uuid.UUID) error {
	var got uuid.UUID
	err := s.getDB().QueryRowContext(ctx,
		"SELECT id FROM devices WHERE id = $1 FOR UPDATE", id,
	).Scan(&got)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	return err
}

// GetDevice gets a device by ID
func (s *PostgresStore) GetDevice(ctx context.Context, id uuid.UUID) (*models.Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices WHERE id = $1`
	return scanDevice(s.getDB().QueryRowContext(ctx, query, id))
}

// GetDeviceBySerial gets a device by serial number, optionally scoped to a tenant
func (s *PostgresStore) GetDeviceBySerial(ctx context.Context, tenantID *uuid.UUID, serialNumber string) (*models.Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices WHERE serial_number = $1`
	args := []interface{}{serialNumber}

	if tenantID != nil {
		query += " AND tenant_id = $2"
		args = append(args, *tenantID)
	}

	return scanDevice(s.getDB().QueryRowContext(ctx, query, args...))
}

// UpdateDevice updates a device
func (s *PostgresStore) UpdateDevice(ctx context.Context, device *models.Device) error {
	device.UpdatedAt = time.Now()

	query := `
        UPDATE devices SET
            updated_at = $2, serial_number = $3, mac_address = $4, ip_address = $5,
            name = $6, description = $7, device_type = $8, manufacturer = $9,
            model = $10, hardware_version = $11, software_version = $12,
            client_id = $13, location_id = $14, status = $15, is_online = $16,
            is_provisioned = $17, device_profile_id = $18, last_contact_at = $19,
            last_boot_time = $20
        WHERE id = $1`

	result, err := s.getDB().ExecContext(ctx, query,
		device.ID, device.UpdatedAt, device.SerialNumber, device.MACAddress,
		device.IPAddress, device.Name, device.Description, device.DeviceType,
		device.Manufacturer, device.Model, device.HardwareVersion,
		device.SoftwareVersion, device.ClientID, device.LocationID,
		device.Status, device.IsOnline, device.IsProvisioned,
		device.DeviceProfileID, device.LastContactAt, device.LastBootTime,
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

// DeleteDevice deletes a device. Parameters, jobs and upgrades cascade via
// foreign keys on the devices table.
func (s *PostgresStore) DeleteDevice(ctx context.Context, id uuid.UUID) error {
	result, err := s.getDB().ExecContext(ctx, "DELETE FROM devices WHERE id = $1", id)
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

// ListDevices lists devices matching the given filters
func (s *PostgresStore) ListDevices(ctx context.Context, filters DeviceFilters, limit, offset int) ([]*models.Device, int64, error) {
	var conds []string
	var args []interface{}

	addCond := func(expr string, value interface{}) {
		args = append(args, value)
		conds = append(conds, fmt.Sprintf(expr, len(args)))
	}

	if filters.TenantID != nil {
		addCond("tenant_id = $%d", *filters.TenantID)
	}
	if filters.Status != nil {
		addCond("status = $%d", *filters.Status)
	}
	if filters.DeviceType != nil {
		addCond("device_type = $%d", *filters.DeviceType)
	}
	if filters.IsOnline != nil {
		addCond("is_online = $%d", *filters.IsOnline)
	}
	if filters.IsProvisioned != nil {
		addCond("is_provisioned = $%d", *filters.IsProvisioned)
	}
	if filters.Search != "" {
		addCond("(name ILIKE $%[1]d OR serial_number ILIKE $%[1]d OR mac_address ILIKE $%[1]d OR ip_address ILIKE $%[1]d)",
			"%"+filters.Search+"%")
	}

	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	// Get count
	var count int64
	err := s.getDB().QueryRowContext(ctx, "SELECT COUNT(*) FROM devices"+where, args...).Scan(&count)
	if err != nil {
		return nil, 0, err
	}

	// Get rows
	query := fmt.Sprintf("SELECT "+deviceColumns+" FROM devices%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d",
		where, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := s.getDB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var devices []*models.Device
	for rows.Next() {
		device, err := scanDevice(rows)
		if err != nil {
			return nil, 0, err
		}
		devices = append(devices, device)
	}

	return devices, count, rows.Err()
}

// ========== Device Parameter Methods ==========

// UpsertDeviceParameter inserts or updates a device parameter
func (s *PostgresStore) UpsertDeviceParameter(ctx context.Context, param *models.DeviceParameter) error {
	if param.ID == uuid.Nil {
		param.ID = uuid.New()
	}
	param.LastUpdated = time.Now()

	query := `
        INSERT INTO device_parameters (
            id, device_id, name, value, type, writable, notification, last_updated
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        ON CONFLICT (device_id, name) DO UPDATE SET
            value = EXCLUDED.value,
            type = EXCLUDED.type,
            writable = EXCLUDED.writable,
            notification = EXCLUDED.notification,
            last_updated = EXCLUDED.last_updated`

	_, err := s.getDB().ExecContext(ctx, query,
		param.ID, param.DeviceID, param.Name, param.Value, param.Type,
		param.Writable, param.Notification, param.LastUpdated,
	)

	return err
}

// GetDeviceParameter gets a device parameter by name
func (s *PostgresStore) GetDeviceParameter(ctx context.Context, deviceID uuid.UUID, name string) (*models.DeviceParameter, error) {
	query := `
        SELECT id, device_id, name, value, type, writable, notification, last_updated
        FROM device_parameters
        WHERE device_id = $1 AND name = $2`

	param := &models.DeviceParameter{}
	err := s.getDB().QueryRowContext(ctx, query, deviceID, name).Scan(
		&param.ID, &param.DeviceID, &param.Name, &param.Value, &param.Type,
		&param.Writable, &param.Notification, &param.LastUpdated,
	)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}

	return param, err
}

// UpdateDeviceParameter updates an existing device parameter
func (s *PostgresStore) UpdateDeviceParameter(ctx context.Context, param *models.DeviceParameter) error {
	param.LastUpdated = time.Now()

	query := `
        UPDATE device_parameters SET
            value = $3, type = $4, writable = $5, notification = $6, last_updated = $7
        WHERE device_id = $1 AND name = $2`

	result, err := s.getDB().ExecContext(ctx, query,
		param.DeviceID, param.Name, param.Value, param.Type,
		param.Writable, param.Notification, param.LastUpdated,
	)

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

// ListDeviceParameters lists all parameters of a device
func (s *PostgresStore) ListDeviceParameters(ctx context.Context, deviceID uuid.UUID) ([]*models.DeviceParameter, error) {
	query := `
        SELECT id, device_id, name, value, type, writable, notification, last_updated
        FROM device_parameters
        WHERE device_id = $1
        ORDER BY name`

	rows, err := s.getDB().QueryContext(ctx, query, deviceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var params []*models.DeviceParameter
	for rows.Next() {
		param := &models.DeviceParameter{}
		err := rows.Scan(
			&param.ID, &param.DeviceID, &param.Name, &param.Value, &param.Type,
			&param.Writable, &param.Notification, &param.LastUpdated,
		)
		if err != nil {
			return nil, err
		}
		params = append(params, param)
	}

	return params, rows.Err()
}
