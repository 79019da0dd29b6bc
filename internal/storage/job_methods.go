package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/cpe-server/cpe-server-pro/internal/models"
)

// ========== Provisioning Job Methods ==========

const jobColumns = `id, created_at, updated_at, tenant_id, device_id, type, status,
           parameters, notes, result, started_at, completed_at, created_by`

// CreateJob creates a new provisioning job
func (s *PostgresStore) CreateJob(ctx context.Context, job *models.ProvisioningJob) error {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}

	now := time.Now()
	job.CreatedAt = now
	job.UpdatedAt = now

	query := `
        INSERT INTO provisioning_jobs (` + jobColumns + `
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err := s.getDB().ExecContext(ctx, query,
		job.ID, job.CreatedAt, job.UpdatedAt, job.TenantID, job.DeviceID,
		job.Type, job.Status, job.Parameters, job.Notes, job.Result,
		job.StartedAt, job.CompletedAt, job.CreatedBy,
	)

	return err
}

// scanJob scans a provisioning job row
func scanJob(row interface{ Scan(...interface{}) error }) (*models.ProvisioningJob, error) {
	job := &models.ProvisioningJob{}
	err := row.Scan(
		&job.ID, &job.CreatedAt, &job.UpdatedAt, &job.TenantID, &job.DeviceID,
		&job.Type, &job.Status, &job.Parameters, &job.Notes, &job.Result,
		&job.StartedAt, &job.CompletedAt, &job.CreatedBy,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

// GetJob gets a provisioning job by ID
func (s *PostgresStore) GetJob(ctx context.Context, id uuid.UUID) (*models.ProvisioningJob, error) {
	query := `SELECT ` + jobColumns + ` FROM provisioning_jobs WHERE id = $1`
	return scanJob(s.getDB().QueryRowContext(ctx, query, id))
}

// UpdateJob updates a provisioning job
func (s *PostgresStore) UpdateJob(ctx context.Context, job *models.ProvisioningJob) error {
	job.UpdatedAt = time.Now()

	query := `
        UPDATE provisioning_jobs SET
            updated_at = $2, status = $3, parameters = $4, notes = $5,
            result = $6, started_at = $7, completed_at = $8
        WHERE id = $1`

	result, err := s.getDB().ExecContext(ctx, query,
		job.ID, job.UpdatedAt, job.Status, job.Parameters, job.Notes,
		job.Result, job.StartedAt, job.CompletedAt,
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

// ListJobs lists provisioning jobs of a device
func (s *PostgresStore) ListJobs(ctx context.Context, deviceID uuid.UUID, limit, offset int) ([]*models.ProvisioningJob, int64, error) {
	var count int64
	err := s.getDB().QueryRowContext(ctx,
		"SELECT COUNT(*) FROM provisioning_jobs WHERE device_id = $1", deviceID,
	).Scan(&count)
	if err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + jobColumns + ` FROM provisioning_jobs
        WHERE device_id = $1
        ORDER BY created_at DESC
        LIMIT $2 OFFSET $3`

	rows, err := s.getDB().QueryContext(ctx, query, deviceID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var jobs []*models.ProvisioningJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, 0, err
		}
		jobs = append(jobs, job)
	}

	return jobs, count, rows.Err()
}

// ========== Firmware Upgrade Methods ==========

const upgradeColumns = `id, created_at, updated_at, tenant_id, device_id, firmware_version,
           firmware_url, status, notes, result, started_at, completed_at, created_by`

// CreateUpgrade creates a new firmware upgrade
func (s *PostgresStore) CreateUpgrade(ctx context.Context, upgrade *models.FirmwareUpgrade) error {
	if upgrade.ID == uuid.Nil {
		upgrade.ID = uuid.New()
	}

	now := time.Now()
	upgrade.CreatedAt = now
	upgrade.UpdatedAt = now

	query := `
        INSERT INTO firmware_upgrades (` + upgradeColumns + `
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err := s.getDB().ExecContext(ctx, query,
		upgrade.ID, upgrade.CreatedAt, upgrade.UpdatedAt, upgrade.TenantID,
		upgrade.DeviceID, upgrade.FirmwareVersion, upgrade.FirmwareURL,
		upgrade.Status, upgrade.Notes, upgrade.Result,
		upgrade.StartedAt, upgrade.CompletedAt, upgrade.CreatedBy,
	)

	return err
}

// scanUpgrade scans a firmware upgrade row
func scanUpgrade(row interface{ Scan(...interface{}) error }) (*models.FirmwareUpgrade, error) {
	upgrade := &models.FirmwareUpgrade{}
	err := row.Scan(
		&upgrade.ID, &upgrade.CreatedAt, &upgrade.UpdatedAt, &upgrade.TenantID,
		&upgrade.DeviceID, &upgrade.FirmwareVersion, &upgrade.FirmwareURL,
		&upgrade.Status, &upgrade.Notes, &upgrade.Result,
		&upgrade.StartedAt, &upgrade.CompletedAt, &upgrade.CreatedBy,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return upgrade, nil
}

// GetUpgrade gets a firmware upgrade by ID
func (s *PostgresStore) GetUpgrade(ctx context.Context, id uuid.UUID) (*models.FirmwareUpgrade, error) {
	query := `SELECT ` + upgradeColumns + ` FROM firmware_upgrades WHERE id = $1`
	return scanUpgrade(s.getDB().QueryRowContext(ctx, query, id))
}

// UpdateUpgrade updates a firmware upgrade
func (s *PostgresStore) UpdateUpgrade(ctx context.Context, upgrade *models.FirmwareUpgrade) error {
	upgrade.UpdatedAt = time.Now()

	query := `
        UPDATE firmware_upgrades SET
            updated_at = $2, status = $3, notes = $4, result = $5,
            started_at = $6, completed_at = $7
        WHERE id = $1`

	result, err := s.getDB().ExecContext(ctx, query,
		upgrade.ID, upgrade.UpdatedAt, upgrade.Status, upgrade.Notes,
		upgrade.Result, upgrade.StartedAt, upgrade.CompletedAt,
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

// ListUpgrades lists firmware upgrades of a device
func (s *PostgresStore) ListUpgrades(ctx context.Context, deviceID uuid.UUID, limit, offset int) ([]*models.FirmwareUpgrade, int64, error) {
	var count int64
	err := s.getDB().QueryRowContext(ctx,
		"SELECT COUNT(*) FROM firmware_upgrades WHERE device_id = $1", deviceID,
	).Scan(&count)
	if err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + upgradeColumns + ` FROM firmware_upgrades
        WHERE device_id = $1
        ORDER BY created_at DESC
        LIMIT $2 OFFSET $3`

	rows, err := s.getDB().QueryContext(ctx, query, deviceID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var upgrades []*models.FirmwareUpgrade
	for rows.Next() {
		upgrade, err := scanUpgrade(rows)
		if err != nil {
			return nil, 0, err
		}
		upgrades = append(upgrades, upgrade)
	}

	return upgrades, count, rows.Err()
}

// CountActiveOps counts jobs and upgrades that still occupy the device
func (s *PostgresStore) CountActiveOps(ctx context.Context, deviceID uuid.UUID) (int64, error) {
	query := `
        SELECT
            (SELECT COUNT(*) FROM provisioning_jobs
             WHERE device_id = $1 AND status IN ('PENDING', 'IN_PROGRESS')) +
            (SELECT COUNT(*) FROM firmware_upgrades
             WHERE device_id = $1 AND status IN ('PENDING', 'DOWNLOADING', 'INSTALLING'))`

	var count int64
	err := s.getDB().QueryRowContext(ctx, query, deviceID).Scan(&count)
	return count, err
}
