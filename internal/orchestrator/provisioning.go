package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/cpe-server/cpe-server-pro/internal/acs"
	"github.com/cpe-server/cpe-server-pro/internal/alerting"
	"github.com/cpe-server/cpe-server-pro/internal/device"
	"github.com/cpe-server/cpe-server-pro/internal/models"
	"github.com/cpe-server/cpe-server-pro/internal/storage"
)

// Provisioner creates provisioning jobs and drives them through
// pending -> in_progress -> {completed | failed}. Terminal states are
// never left; a duplicate run trigger is a logged no-op.
type Provisioner struct {
	store       storage.Store
	gateway     acs.Gateway
	alerts      alerting.Gateway
	callTimeout time.Duration
}

// NewProvisioner creates a provisioning orchestrator
func NewProvisioner(store storage.Store, gateway acs.Gateway, alerts alerting.Gateway, callTimeout time.Duration) *Provisioner {
	if callTimeout <= 0 {
		callTimeout = 30 * time.Second
	}
	return &Provisioner{
		store:       store,
		gateway:     gateway,
		alerts:      alerts,
		callTimeout: callTimeout,
	}
}

// CreateJobInput are the options for creating a job
type CreateJobInput struct {
	// Type overrides the default job type. When nil the type is
	// initial_provision for unprovisioned devices, reconfigure otherwise.
	Type       *models.JobType
	Parameters models.Variables
	Notes      string
	CreatedBy  string
}

// CreateJob validates the device, enforces per-device mutual exclusion
// and persists a pending job. The job row and the device status flip
// happen in one transaction.
func (p *Provisioner) CreateJob(ctx context.Context, tenantID uuid.UUID, deviceID uuid.UUID, in CreateJobInput) (*models.ProvisioningJob, error) {
	dev, err := p.store.GetDevice(ctx, deviceID)
	if err != nil {
		if err == storage.ErrNotFound {
			return nil, device.ErrDeviceNotFound
		}
		return nil, err
	}
	if dev.TenantID != tenantID {
		return nil, device.ErrDeviceNotFound
	}

	jobType := models.JobTypeInitialProvision
	if dev.IsProvisioned {
		jobType = models.JobTypeReconfigure
	}
	if in.Type != nil {
		jobType = *in.Type
	}

	tx, err := p.store.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	// The row lock makes the busy check and the insert atomic; without
	// it two concurrent creates both count zero and both insert.
	if err := tx.LockDevice(ctx, dev.ID); err != nil {
		if err == storage.ErrNotFound {
			return nil, device.ErrDeviceNotFound
		}
		return nil, err
	}

	active, err := tx.CountActiveOps(ctx, dev.ID)
	if err != nil {
		return nil, err
	}
	if active > 0 {
		return nil, ErrDeviceBusy
	}

	job := &models.ProvisioningJob{
		TenantModel: models.TenantModel{
			TenantID: tenantID,
		},
		DeviceID:   dev.ID,
		Type:       jobType,
		Status:     models.JobStatusPending,
		Parameters: in.Parameters,
		Notes:      in.Notes,
		CreatedBy:  in.CreatedBy,
	}

	if err := tx.CreateJob(ctx, job); err != nil {
		return nil, err
	}

	// Reboot and factory reset do not force the provisioning status;
	// the device keeps serving until the operation lands.
	if jobType == models.JobTypeInitialProvision || jobType == models.JobTypeReconfigure {
		dev.Status = models.DeviceStatusProvisioning
		if err := tx.UpdateDevice(ctx, dev); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	log.Info().
		Str("jobID", job.ID.String()).
		Str("deviceID", dev.ID.String()).
		Str("type", string(jobType)).
		Msg("Provisioning job created")

	return job, nil
}

// RunJob executes a pending job against the ACS. Running a job in any
// other state is a logged skip, so duplicate triggers never re-invoke
// the gateway.
func (p *Provisioner) RunJob(ctx context.Context, jobID uuid.UUID) error {
	job, err := p.store.GetJob(ctx, jobID)
	if err != nil {
		if err == storage.ErrNotFound {
			return ErrJobNotFound
		}
		return err
	}

	if job.Status != models.JobStatusPending {
		log.Info().
			Str("jobID", job.ID.String()).
			Str("status", string(job.Status)).
			Msg("Skipping job run, job is not pending")
		return nil
	}

	dev, err := p.store.GetDevice(ctx, job.DeviceID)
	if err != nil {
		return err
	}

	now := time.Now()
	job.Status = models.JobStatusInProgress
	job.StartedAt = &now
	if err := p.store.UpdateJob(ctx, job); err != nil {
		return err
	}

	result, gwErr := p.invoke(ctx, dev, job)
	if gwErr != nil {
		return p.finishFailed(ctx, job, dev, gwErr)
	}
	return p.finishCompleted(ctx, job, dev, result)
}

// invoke selects and performs the gateway operation for the job type
func (p *Provisioner) invoke(ctx context.Context, dev *models.Device, job *models.ProvisioningJob) (*acs.OperationResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, p.callTimeout)
	defer cancel()

	switch job.Type {
	case models.JobTypeInitialProvision, models.JobTypeReconfigure:
		return p.gateway.Provision(callCtx, dev, p.provisionParams(ctx, dev, job))
	case models.JobTypeReboot:
		return p.gateway.Reboot(callCtx, dev)
	case models.JobTypeFactoryReset:
		return p.gateway.FactoryReset(callCtx, dev)
	case models.JobTypeParameterUpdate:
		return p.writeParameters(callCtx, dev, job)
	default:
		return nil, fmt.Errorf("unknown job type: %s", job.Type)
	}
}

// provisionParams merges the job parameters over the device profile
// template. Job parameters win on conflict.
func (p *Provisioner) provisionParams(ctx context.Context, dev *models.Device, job *models.ProvisioningJob) models.Variables {
	var template models.Variables

	if dev.DeviceProfileID != nil {
		profile, err := p.store.GetDeviceProfile(ctx, *dev.DeviceProfileID)
		if err != nil {
			log.Warn().
				Err(err).
				Str("deviceID", dev.ID.String()).
				Msg("Failed to load device profile for provisioning")
		} else if profile.IsActive {
			template = profile.Parameters
		}
	}

	return template.Merge(job.Parameters)
}

// writeParameters runs a bulk parameter-update job: every entry of the
// job parameter map is written through the gateway.
func (p *Provisioner) writeParameters(ctx context.Context, dev *models.Device, job *models.ProvisioningJob) (*acs.OperationResult, error) {
	var last *acs.OperationResult
	for name, value := range job.Parameters {
		result, err := p.gateway.WriteParameter(ctx, dev, name, fmt.Sprintf("%v", value))
		if err != nil {
			return nil, fmt.Errorf("write parameter %s: %w", name, err)
		}
		last = result
	}
	if last == nil {
		last = &acs.OperationResult{
			SerialNumber: dev.SerialNumber,
			Operation:    "parameter-update",
			CompletedAt:  time.Now(),
		}
	}
	return last, nil
}

// finishCompleted finalizes a successful job: job and device are
// updated in one transaction so the status pair can never tear.
func (p *Provisioner) finishCompleted(ctx context.Context, job *models.ProvisioningJob, dev *models.Device, result *acs.OperationResult) error {
	tx, err := p.store.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now()
	job.Status = models.JobStatusCompleted
	job.CompletedAt = &now
	job.Result = models.Variables{
		"operation": result.Operation,
		"detail":    result.Detail,
	}
	if err := tx.UpdateJob(ctx, job); err != nil {
		return err
	}

	dev.Status = models.DeviceStatusActive
	if job.Type == models.JobTypeInitialProvision {
		dev.IsProvisioned = true
	}
	if err := tx.UpdateDevice(ctx, dev); err != nil {
		return err
	}

	// Mirror the applied values into the local parameter store so reads
	// reflect what the device was just told.
	for name, value := range p.appliedParams(ctx, dev, job) {
		param := &models.DeviceParameter{
			DeviceID: dev.ID,
			Name:     name,
			Value:    fmt.Sprintf("%v", value),
			Type:     models.ParameterTypeString,
			Writable: true,
		}
		if err := tx.UpsertDeviceParameter(ctx, param); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	p.logEvent(ctx, dev, job, models.EventLevelInfo, fmt.Sprintf("Job %s completed", job.Type))

	jobID := job.ID
	p.alerts.Raise(ctx, alerting.Alert{
		Severity:    alerting.SeverityLow,
		TenantID:    dev.TenantID,
		DeviceID:    dev.ID,
		ReferenceID: &jobID,
		Subject:     fmt.Sprintf("Job %s completed for device %s", job.Type, dev.SerialNumber),
		Message:     fmt.Sprintf("Provisioning job %s finished successfully", job.ID),
	})

	log.Info().
		Str("jobID", job.ID.String()).
		Str("deviceID", dev.ID.String()).
		Msg("Provisioning job completed")

	return nil
}

// appliedParams returns the parameter values a completed job pushed to
// the device: the profile merge for provision jobs, the job parameters
// for bulk updates, nothing for reboots and resets.
func (p *Provisioner) appliedParams(ctx context.Context, dev *models.Device, job *models.ProvisioningJob) models.Variables {
	switch job.Type {
	case models.JobTypeInitialProvision, models.JobTypeReconfigure:
		return p.provisionParams(ctx, dev, job)
	case models.JobTypeParameterUpdate:
		return job.Parameters
	default:
		return nil
	}
}

// finishFailed finalizes a failed job. Every gateway failure, timeouts
// included, is a genuine failure; no fabricated fallback data.
func (p *Provisioner) finishFailed(ctx context.Context, job *models.ProvisioningJob, dev *models.Device, gwErr error) error {
	tx, err := p.store.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now()
	job.Status = models.JobStatusFailed
	job.CompletedAt = &now
	job.Result = models.Variables{
		"error": gwErr.Error(),
	}
	if err := tx.UpdateJob(ctx, job); err != nil {
		return err
	}

	dev.Status = models.DeviceStatusError
	if err := tx.UpdateDevice(ctx, dev); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	p.logEvent(ctx, dev, job, models.EventLevelError, fmt.Sprintf("Job %s failed: %v", job.Type, gwErr))

	jobID := job.ID
	p.alerts.Raise(ctx, alerting.Alert{
		Severity:    alerting.SeverityHigh,
		TenantID:    dev.TenantID,
		DeviceID:    dev.ID,
		ReferenceID: &jobID,
		Subject:     fmt.Sprintf("Job %s failed for device %s", job.Type, dev.SerialNumber),
		Message:     gwErr.Error(),
	})

	log.Error().
		Err(gwErr).
		Str("jobID", job.ID.String()).
		Str("deviceID", dev.ID.String()).
		Msg("Provisioning job failed")

	return nil
}

// CancelJob cancels a pending job before a worker picks it up. Once
// dispatched, the remote operation cannot be recalled.
func (p *Provisioner) CancelJob(ctx context.Context, tenantID *uuid.UUID, jobID uuid.UUID) (*models.ProvisioningJob, error) {
	job, err := p.store.GetJob(ctx, jobID)
	if err != nil {
		if err == storage.ErrNotFound {
			return nil, ErrJobNotFound
		}
		return nil, err
	}
	if tenantID != nil && job.TenantID != *tenantID {
		return nil, ErrJobNotFound
	}

	if job.Status != models.JobStatusPending {
		return nil, ErrNotCancellable
	}

	tx, err := p.store.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	now := time.Now()
	job.Status = models.JobStatusCancelled
	job.CompletedAt = &now
	if err := tx.UpdateJob(ctx, job); err != nil {
		return nil, err
	}

	// Release the provisioning status the create flipped on.
	dev, err := tx.GetDevice(ctx, job.DeviceID)
	if err == nil && dev.Status == models.DeviceStatusProvisioning {
		if dev.IsProvisioned {
			dev.Status = models.DeviceStatusActive
		} else {
			dev.Status = models.DeviceStatusInactive
		}
		if err := tx.UpdateDevice(ctx, dev); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	log.Info().
		Str("jobID", job.ID.String()).
		Msg("Provisioning job cancelled")

	return job, nil
}

// logEvent records a lifecycle event for the job
func (p *Provisioner) logEvent(ctx context.Context, dev *models.Device, job *models.ProvisioningJob, level models.EventLevel, description string) {
	tenantID := dev.TenantID
	deviceID := dev.ID

	eventType := models.EventTypeProvision
	switch job.Type {
	case models.JobTypeReboot:
		eventType = models.EventTypeReboot
	case models.JobTypeFactoryReset:
		eventType = models.EventTypeFactoryReset
	case models.JobTypeParameterUpdate:
		eventType = models.EventTypeParameter
	}

	if err := p.store.CreateEventLog(ctx, &models.EventLog{
		TenantID:    &tenantID,
		DeviceID:    &deviceID,
		Type:        eventType,
		Level:       level,
		Description: description,
		Details: models.Variables{
			"jobId":   job.ID.String(),
			"jobType": string(job.Type),
		},
	}); err != nil {
		log.Error().Err(err).Msg("Failed to create job event log")
	}
}
