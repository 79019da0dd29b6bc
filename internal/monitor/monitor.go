package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/cpe-server/cpe-server-pro/internal/acs"
	"github.com/cpe-server/cpe-server-pro/internal/alerting"
	"github.com/cpe-server/cpe-server-pro/internal/models"
	"github.com/cpe-server/cpe-server-pro/internal/storage"
)

// Monitor periodically polls device reachability through the ACS and
// reconciles stored connectivity state. Devices mid-operation
// (provisioning, upgrading) are not probed; error-status devices are
// probed for connectivity but the status marker stays until a new job
// clears it.
type Monitor struct {
	store    storage.Store
	gateway  acs.Gateway
	alerts   alerting.Gateway
	interval time.Duration
	pageSize int
}

// New creates a device monitor
func New(store storage.Store, gateway acs.Gateway, alerts alerting.Gateway, interval time.Duration, pageSize int) *Monitor {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	if pageSize <= 0 {
		pageSize = 100
	}
	return &Monitor{
		store:    store,
		gateway:  gateway,
		alerts:   alerts,
		interval: interval,
		pageSize: pageSize,
	}
}

// Run polls all devices on a fixed interval until the context is cancelled
func (m *Monitor) Run(ctx context.Context) error {
	log.Info().
		Dur("interval", m.interval).
		Msg("Device monitor started")

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Device monitor stopped")
			return ctx.Err()
		case <-ticker.C:
			m.PollAll(ctx, nil)
		}
	}
}

// PollAll sweeps registered devices in pages, optionally scoped to one
// tenant. A failure on one device never aborts the sweep.
func (m *Monitor) PollAll(ctx context.Context, tenantID *uuid.UUID) {
	start := time.Now()
	polled := 0
	offset := 0

	for {
		devices, _, err := m.store.ListDevices(ctx, storage.DeviceFilters{TenantID: tenantID}, m.pageSize, offset)
		if err != nil {
			log.Error().Err(err).Msg("Monitor sweep aborted, device listing failed")
			return
		}
		if len(devices) == 0 {
			break
		}

		for _, dev := range devices {
			if ctx.Err() != nil {
				return
			}
			if _, err := m.PollOne(ctx, dev); err != nil {
				log.Error().
					Err(err).
					Str("deviceID", dev.ID.String()).
					Msg("Device poll failed")
			}
			polled++
		}

		if len(devices) < m.pageSize {
			break
		}
		offset += m.pageSize
	}

	log.Debug().
		Int("devices", polled).
		Dur("elapsed", time.Since(start)).
		Msg("Monitor sweep finished")
}

// PollOne queries the ACS for one device, reconciles stored state and
// reports the observed online state. A gateway failure counts as
// unreachable: the poll itself is the probe. Devices mid-operation are
// left alone so the orchestrator finalizers never race the sweep;
// error-status devices still get their connectivity reconciled.
func (m *Monitor) PollOne(ctx context.Context, dev *models.Device) (bool, error) {
	if dev.Status.Busy() {
		log.Debug().
			Str("deviceID", dev.ID.String()).
			Str("status", string(dev.Status)).
			Msg("Skipping poll, device has an operation in flight")
		return dev.IsOnline, nil
	}

	status, err := m.gateway.GetStatus(ctx, dev)

	online := err == nil && status.Online

	if online {
		return true, m.markOnline(ctx, dev, status)
	}
	return false, m.markOffline(ctx, dev)
}

func (m *Monitor) markOnline(ctx context.Context, dev *models.Device, status *acs.StatusInfo) error {
	wasOffline := !dev.IsOnline

	dev.IsOnline = true
	if status.LastInform != nil {
		dev.LastContactAt = status.LastInform
	} else {
		now := time.Now()
		dev.LastContactAt = &now
	}

	if dev.Status == models.DeviceStatusInactive {
		dev.Status = models.DeviceStatusActive
	}

	if err := m.store.UpdateDevice(ctx, dev); err != nil {
		return err
	}

	if wasOffline {
		m.logEvent(ctx, dev, models.EventTypeOnline, models.EventLevelInfo,
			fmt.Sprintf("Device %s came online", dev.SerialNumber))
		log.Info().
			Str("deviceID", dev.ID.String()).
			Str("serialNumber", dev.SerialNumber).
			Msg("Device came online")
	}

	return nil
}

func (m *Monitor) markOffline(ctx context.Context, dev *models.Device) error {
	wasOnline := dev.IsOnline

	dev.IsOnline = false
	if dev.Status == models.DeviceStatusActive {
		dev.Status = models.DeviceStatusInactive
	}

	if err := m.store.UpdateDevice(ctx, dev); err != nil {
		return err
	}

	if wasOnline {
		m.logEvent(ctx, dev, models.EventTypeOffline, models.EventLevelWarning,
			fmt.Sprintf("Device %s went offline", dev.SerialNumber))

		m.alerts.Raise(ctx, alerting.Alert{
			Severity: alerting.SeverityMedium,
			TenantID: dev.TenantID,
			DeviceID: dev.ID,
			Subject:  fmt.Sprintf("Device %s is offline", dev.SerialNumber),
			Message:  fmt.Sprintf("Device %s stopped responding to status polls", dev.SerialNumber),
		})

		log.Warn().
			Str("deviceID", dev.ID.String()).
			Str("serialNumber", dev.SerialNumber).
			Msg("Device went offline")
	}

	return nil
}

func (m *Monitor) logEvent(ctx context.Context, dev *models.Device, eventType models.EventType, level models.EventLevel, description string) {
	tenantID := dev.TenantID
	deviceID := dev.ID

	if err := m.store.CreateEventLog(ctx, &models.EventLog{
		TenantID:    &tenantID,
		DeviceID:    &deviceID,
		Type:        eventType,
		Level:       level,
		Description: description,
	}); err != nil {
		log.Error().Err(err).Msg("Failed to create connectivity event log")
	}
}
