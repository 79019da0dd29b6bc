package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/cpe-server/cpe-server-pro/internal/models"
)

func newTestDevice(tenantID uuid.UUID, serial string) *models.Device {
	return &models.Device{
		TenantModel:  models.TenantModel{TenantID: tenantID},
		SerialNumber: serial,
		Name:         "dev " + serial,
		DeviceType:   models.DeviceTypeRouter,
		Status:       models.DeviceStatusInactive,
	}
}

func TestMemoryStoreSerialUniquePerTenant(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	tenantID := uuid.New()

	if err := s.CreateDevice(ctx, newTestDevice(tenantID, "SN-S001")); err != nil {
		t.Fatalf("CreateDevice: %v", err)
	}
	if err := s.CreateDevice(ctx, newTestDevice(tenantID, "SN-S001")); !errors.Is(err, ErrDuplicateKey) {
		t.Fatalf("err = %v, want %v", err, ErrDuplicateKey)
	}
	if err := s.CreateDevice(ctx, newTestDevice(uuid.New(), "SN-S001")); err != nil {
		t.Fatalf("cross-tenant CreateDevice: %v", err)
	}
}

func TestMemoryStoreGetDeviceBySerial(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	tenantID := uuid.New()

	dev := newTestDevice(tenantID, "SN-S002")
	if err := s.CreateDevice(ctx, dev); err != nil {
		t.Fatalf("CreateDevice: %v", err)
	}

	got, err := s.GetDeviceBySerial(ctx, nil, "SN-S002")
	if err != nil {
		t.Fatalf("GetDeviceBySerial: %v", err)
	}
	if got.ID != dev.ID {
		t.Error("wrong device returned")
	}

	other := uuid.New()
	if _, err := s.GetDeviceBySerial(ctx, &other, "SN-S002"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("scoped lookup err = %v, want %v", err, ErrNotFound)
	}
}

func TestMemoryStoreListDevicesFilters(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	tenantID := uuid.New()

	a := newTestDevice(tenantID, "SN-S010")
	a.Status = models.DeviceStatusActive
	a.IsOnline = true
	b := newTestDevice(tenantID, "SN-S011")
	c := newTestDevice(uuid.New(), "SN-S012")
	for _, d := range []*models.Device{a, b, c} {
		if err := s.CreateDevice(ctx, d); err != nil {
			t.Fatalf("CreateDevice: %v", err)
		}
	}

	status := models.DeviceStatusActive
	_, total, err := s.ListDevices(ctx, DeviceFilters{TenantID: &tenantID, Status: &status}, 10, 0)
	if err != nil {
		t.Fatalf("ListDevices: %v", err)
	}
	if total != 1 {
		t.Errorf("status filter total = %d, want 1", total)
	}

	online := true
	_, total, _ = s.ListDevices(ctx, DeviceFilters{IsOnline: &online}, 10, 0)
	if total != 1 {
		t.Errorf("online filter total = %d, want 1", total)
	}

	_, total, _ = s.ListDevices(ctx, DeviceFilters{Search: "sn-s01"}, 10, 0)
	if total != 3 {
		t.Errorf("search total = %d, want 3", total)
	}
}

func TestMemoryStoreCopiesAreIsolated(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	dev := newTestDevice(uuid.New(), "SN-S020")
	if err := s.CreateDevice(ctx, dev); err != nil {
		t.Fatalf("CreateDevice: %v", err)
	}

	got, _ := s.GetDevice(ctx, dev.ID)
	got.Name = "mutated"

	again, _ := s.GetDevice(ctx, dev.ID)
	if again.Name == "mutated" {
		t.Error("store must hand out copies, not shared pointers")
	}
}

func TestMemoryStoreCountActiveOps(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	tenantID := uuid.New()

	dev := newTestDevice(tenantID, "SN-S030")
	if err := s.CreateDevice(ctx, dev); err != nil {
		t.Fatalf("CreateDevice: %v", err)
	}

	job := &models.ProvisioningJob{
		TenantModel: models.TenantModel{TenantID: tenantID},
		DeviceID:    dev.ID,
		Type:        models.JobTypeInitialProvision,
		Status:      models.JobStatusPending,
	}
	if err := s.CreateJob(ctx, job); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	upgrade := &models.FirmwareUpgrade{
		TenantModel:     models.TenantModel{TenantID: tenantID},
		DeviceID:        dev.ID,
		FirmwareVersion: "2.0.0",
		FirmwareURL:     "https://fw.example.com/v2.bin",
		Status:          models.UpgradeStatusInstalling,
	}
	if err := s.CreateUpgrade(ctx, upgrade); err != nil {
		t.Fatalf("CreateUpgrade: %v", err)
	}

	count, err := s.CountActiveOps(ctx, dev.ID)
	if err != nil {
		t.Fatalf("CountActiveOps: %v", err)
	}
	if count != 2 {
		t.Errorf("count = %d, want 2", count)
	}

	job.Status = models.JobStatusCompleted
	if err := s.UpdateJob(ctx, job); err != nil {
		t.Fatalf("UpdateJob: %v", err)
	}
	upgrade.Status = models.UpgradeStatusCancelled
	if err := s.UpdateUpgrade(ctx, upgrade); err != nil {
		t.Fatalf("UpdateUpgrade: %v", err)
	}

	count, _ = s.CountActiveOps(ctx, dev.ID)
	if count != 0 {
		t.Errorf("count after terminal states = %d, want 0", count)
	}
}

func TestMemoryStoreEventLogFilters(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	tenantID := uuid.New()
	deviceID := uuid.New()

	events := []*models.EventLog{
		{TenantID: &tenantID, DeviceID: &deviceID, Type: models.EventTypeProvision, Level: models.EventLevelInfo},
		{TenantID: &tenantID, DeviceID: &deviceID, Type: models.EventTypeOffline, Level: models.EventLevelWarning},
		{TenantID: &tenantID, Type: models.EventTypeAlert, Level: models.EventLevelError},
	}
	for _, e := range events {
		if err := s.CreateEventLog(ctx, e); err != nil {
			t.Fatalf("CreateEventLog: %v", err)
		}
	}

	_, total, err := s.ListEventLogs(ctx, EventLogFilters{DeviceID: &deviceID}, 10, 0)
	if err != nil {
		t.Fatalf("ListEventLogs: %v", err)
	}
	if total != 2 {
		t.Errorf("device filter total = %d, want 2", total)
	}

	level := models.EventLevelError
	_, total, _ = s.ListEventLogs(ctx, EventLogFilters{Level: &level}, 10, 0)
	if total != 1 {
		t.Errorf("level filter total = %d, want 1", total)
	}
}
