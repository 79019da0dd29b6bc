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

// Upgrader creates firmware upgrades and drives them through
// pending -> downloading -> installing -> {completed | failed}.
// The install phase confirms the new image via an identity query;
// confirmation is best-effort because devices reboot during install.
type Upgrader struct {
	store       storage.Store
	gateway     acs.Gateway
	alerts      alerting.Gateway
	callTimeout time.Duration
}

// NewUpgrader creates a firmware upgrade orchestrator
func NewUpgrader(store storage.Store, gateway acs.Gateway, alerts alerting.Gateway, callTimeout time.Duration) *Upgrader {
	if callTimeout <= 0 {
		callTimeout = 30 * time.Second
	}
	return &Upgrader{
		store:       store,
		gateway:     gateway,
		alerts:      alerts,
		callTimeout: callTimeout,
	}
}

// CreateUpgrade validates the device, enforces per-device mutual
// exclusion and persists a pending upgrade. Upgrade row and device
// status flip happen in one transaction.
func (u *Upgrader) CreateUpgrade(ctx context.Context, tenantID uuid.UUID, deviceID uuid.UUID, firmwareVersion, firmwareURL, notes, createdBy string) (*models.FirmwareUpgrade, error) {
	if firmwareVersion == "" {
		return nil, fmt.Errorf("firmware version is required")
	}
	if firmwareURL == "" {
		return nil, fmt.Errorf("firmware URL is required")
	}

	dev, err := u.store.GetDevice(ctx, deviceID)
	if err != nil {
		if err == storage.ErrNotFound {
			return nil, device.ErrDeviceNotFound
		}
		return nil, err
	}
	if dev.TenantID != tenantID {
		return nil, device.ErrDeviceNotFound
	}

	tx, err := u.store.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	// Lock first so the busy check and the insert cannot interleave
	// with a concurrent create on the same device.
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

	upgrade := &models.FirmwareUpgrade{
		TenantModel: models.TenantModel{
			TenantID: tenantID,
		},
		DeviceID:        dev.ID,
		FirmwareVersion: firmwareVersion,
		FirmwareURL:     firmwareURL,
		Status:          models.UpgradeStatusPending,
		Notes:           notes,
		CreatedBy:       createdBy,
	}

	if err := tx.CreateUpgrade(ctx, upgrade); err != nil {
		return nil, err
	}

	dev.Status = models.DeviceStatusUpgrading
	if err := tx.UpdateDevice(ctx, dev); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	log.Info().
		Str("upgradeID", upgrade.ID.String()).
		Str("deviceID", dev.ID.String()).
		Str("version", firmwareVersion).
		Msg("Firmware upgrade created")

	return upgrade, nil
}

// RunUpgrade executes a pending upgrade. Running an upgrade in any
// other state is a logged skip.
func (u *Upgrader) RunUpgrade(ctx context.Context, upgradeID uuid.UUID) error {
	upgrade, err := u.store.GetUpgrade(ctx, upgradeID)
	if err != nil {
		if err == storage.ErrNotFound {
			return ErrUpgradeNotFound
		}
		return err
	}

	if upgrade.Status != models.UpgradeStatusPending {
		log.Info().
			Str("upgradeID", upgrade.ID.String()).
			Str("status", string(upgrade.Status)).
			Msg("Skipping upgrade run, upgrade is not pending")
		return nil
	}

	dev, err := u.store.GetDevice(ctx, upgrade.DeviceID)
	if err != nil {
		return err
	}

	now := time.Now()
	upgrade.Status = models.UpgradeStatusDownloading
	upgrade.StartedAt = &now
	if err := u.store.UpdateUpgrade(ctx, upgrade); err != nil {
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, u.callTimeout)
	result, gwErr := u.gateway.UpgradeFirmware(callCtx, dev, upgrade.FirmwareVersion, upgrade.FirmwareURL)
	cancel()

	if gwErr != nil {
		return u.finishFailed(ctx, upgrade, dev, gwErr)
	}

	// Download accepted; the device now flashes and reboots.
	upgrade.Status = models.UpgradeStatusInstalling
	if err := u.store.UpdateUpgrade(ctx, upgrade); err != nil {
		return err
	}

	u.confirmInstall(ctx, dev, upgrade)

	return u.finishCompleted(ctx, upgrade, dev, result)
}

// confirmInstall asks the ACS for the device identity to verify the
// reported software version. Devices are typically mid-reboot here, so
// a failed or stale answer is logged, not treated as an upgrade failure.
func (u *Upgrader) confirmInstall(ctx context.Context, dev *models.Device, upgrade *models.FirmwareUpgrade) {
	callCtx, cancel := context.WithTimeout(ctx, u.callTimeout)
	defer cancel()

	identity, err := u.gateway.Identify(callCtx, dev)
	if err != nil {
		log.Warn().
			Err(err).
			Str("upgradeID", upgrade.ID.String()).
			Msg("Could not confirm firmware install, device may still be rebooting")
		return
	}

	if identity.SoftwareVersion != upgrade.FirmwareVersion {
		log.Warn().
			Str("upgradeID", upgrade.ID.String()).
			Str("reported", identity.SoftwareVersion).
			Str("expected", upgrade.FirmwareVersion).
			Msg("Device reports a stale software version after install")
		return
	}

	log.Debug().
		Str("upgradeID", upgrade.ID.String()).
		Str("version", identity.SoftwareVersion).
		Msg("Firmware install confirmed by device identity")
}

// finishCompleted finalizes a successful upgrade atomically
func (u *Upgrader) finishCompleted(ctx context.Context, upgrade *models.FirmwareUpgrade, dev *models.Device, result *acs.OperationResult) error {
	tx, err := u.store.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now()
	upgrade.Status = models.UpgradeStatusCompleted
	upgrade.CompletedAt = &now
	upgrade.Result = models.Variables{
		"operation": result.Operation,
		"detail":    result.Detail,
	}
	if err := tx.UpdateUpgrade(ctx, upgrade); err != nil {
		return err
	}

	dev.Status = models.DeviceStatusActive
	dev.SoftwareVersion = upgrade.FirmwareVersion
	if err := tx.UpdateDevice(ctx, dev); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	u.logEvent(ctx, dev, upgrade, models.EventLevelInfo,
		fmt.Sprintf("Firmware upgraded to %s", upgrade.FirmwareVersion))

	upgradeID := upgrade.ID
	u.alerts.Raise(ctx, alerting.Alert{
		Severity:    alerting.SeverityLow,
		TenantID:    dev.TenantID,
		DeviceID:    dev.ID,
		ReferenceID: &upgradeID,
		Subject:     fmt.Sprintf("Firmware upgrade completed for device %s", dev.SerialNumber),
		Message:     fmt.Sprintf("Device upgraded to firmware %s", upgrade.FirmwareVersion),
	})

	log.Info().
		Str("upgradeID", upgrade.ID.String()).
		Str("deviceID", dev.ID.String()).
		Str("version", upgrade.FirmwareVersion).
		Msg("Firmware upgrade completed")

	return nil
}

// finishFailed finalizes a failed upgrade atomically
func (u *Upgrader) finishFailed(ctx context.Context, upgrade *models.FirmwareUpgrade, dev *models.Device, gwErr error) error {
	tx, err := u.store.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now()
	upgrade.Status = models.UpgradeStatusFailed
	upgrade.CompletedAt = &now
	upgrade.Result = models.Variables{
		"error": gwErr.Error(),
	}
	if err := tx.UpdateUpgrade(ctx, upgrade); err != nil {
		return err
	}

	dev.Status = models.DeviceStatusError
	if err := tx.UpdateDevice(ctx, dev); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	u.logEvent(ctx, dev, upgrade, models.EventLevelError,
		fmt.Sprintf("Firmware upgrade to %s failed: %v", upgrade.FirmwareVersion, gwErr))

	upgradeID := upgrade.ID
	u.alerts.Raise(ctx, alerting.Alert{
		Severity:    alerting.SeverityHigh,
		TenantID:    dev.TenantID,
		DeviceID:    dev.ID,
		ReferenceID: &upgradeID,
		Subject:     fmt.Sprintf("Firmware upgrade failed for device %s", dev.SerialNumber),
		Message:     gwErr.Error(),
	})

	log.Error().
		Err(gwErr).
		Str("upgradeID", upgrade.ID.String()).
		Str("deviceID", dev.ID.String()).
		Msg("Firmware upgrade failed")

	return nil
}

// CancelUpgrade cancels a pending upgrade before a worker picks it up
func (u *Upgrader) CancelUpgrade(ctx context.Context, tenantID *uuid.UUID, upgradeID uuid.UUID) (*models.FirmwareUpgrade, error) {
	upgrade, err := u.store.GetUpgrade(ctx, upgradeID)
	if err != nil {
		if err == storage.ErrNotFound {
			return nil, ErrUpgradeNotFound
		}
		return nil, err
	}
	if tenantID != nil && upgrade.TenantID != *tenantID {
		return nil, ErrUpgradeNotFound
	}

	if upgrade.Status != models.UpgradeStatusPending {
		return nil, ErrNotCancellable
	}

	tx, err := u.store.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	now := time.Now()
	upgrade.Status = models.UpgradeStatusCancelled
	upgrade.CompletedAt = &now
	if err := tx.UpdateUpgrade(ctx, upgrade); err != nil {
		return nil, err
	}

	dev, err := tx.GetDevice(ctx, upgrade.DeviceID)
	if err == nil && dev.Status == models.DeviceStatusUpgrading {
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
		Str("upgradeID", upgrade.ID.String()).
		Msg("Firmware upgrade cancelled")

	return upgrade, nil
}

// logEvent records a lifecycle event for the upgrade
func (u *Upgrader) logEvent(ctx context.Context, dev *models.Device, upgrade *models.FirmwareUpgrade, level models.EventLevel, description string) {
	tenantID := dev.TenantID
	deviceID := dev.ID

	if err := u.store.CreateEventLog(ctx, &models.EventLog{
		TenantID:    &tenantID,
		DeviceID:    &deviceID,
		Type:        models.EventTypeUpgrade,
		Level:       level,
		Description: description,
		Details: models.Variables{
			"upgradeId": upgrade.ID.String(),
			"version":   upgrade.FirmwareVersion,
		},
	}); err != nil {
		log.Error().Err(err).Msg("Failed to create upgrade event log")
	}
}
