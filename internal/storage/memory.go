package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cpe-server/cpe-server-pro/internal/models"
)

// MemoryStore implements Store with in-process maps. It backs the
// "memory" database driver and the test suites. Single operations are
// atomic under one mutex; transactions serialize on a second mutex so
// a check-then-write sequence inside one transaction cannot interleave
// with another transaction.
type MemoryStore struct {
	mu   sync.RWMutex
	txMu sync.Mutex

	devices  map[uuid.UUID]*models.Device
	params   map[uuid.UUID]map[string]*models.DeviceParameter
	profiles map[uuid.UUID]*models.DeviceProfile
	jobs     map[uuid.UUID]*models.ProvisioningJob
	upgrades map[uuid.UUID]*models.FirmwareUpgrade
	events   []*models.EventLog
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		devices:  make(map[uuid.UUID]*models.Device),
		params:   make(map[uuid.UUID]map[string]*models.DeviceParameter),
		profiles: make(map[uuid.UUID]*models.DeviceProfile),
		jobs:     make(map[uuid.UUID]*models.ProvisioningJob),
		upgrades: make(map[uuid.UUID]*models.FirmwareUpgrade),
	}
}

// BeginTx opens a serialized transaction: the transaction mutex is
// held until Commit or Rollback, so no other transaction can observe
// an intermediate state. Writes are applied immediately and are not
// undone by Rollback; callers order writes so a partial transaction
// stays harmless.
func (s *MemoryStore) BeginTx(ctx context.Context) (Store, error) {
	s.txMu.Lock()
	return &memoryTx{MemoryStore: s}, nil
}

// Commit is a no-op on the bare store
func (s *MemoryStore) Commit() error { return nil }

// Rollback is a no-op on the bare store
func (s *MemoryStore) Rollback() error { return nil }

// memoryTx holds the store's transaction mutex for its lifetime
type memoryTx struct {
	*MemoryStore
	once sync.Once
}

// BeginTx inside a transaction returns the transaction itself
func (t *memoryTx) BeginTx(ctx context.Context) (Store, error) { return t, nil }

// Commit releases the transaction mutex
func (t *memoryTx) Commit() error {
	t.release()
	return nil
}

// Rollback releases the transaction mutex; writes already applied stay
func (t *memoryTx) Rollback() error {
	t.release()
	return nil
}

func (t *memoryTx) release() {
	t.once.Do(t.txMu.Unlock)
}

// Close is a no-op for the memory store
func (s *MemoryStore) Close() error { return nil }

func copyDevice(d *models.Device) *models.Device {
	c := *d
	return &c
}

func copyParam(p *models.DeviceParameter) *models.DeviceParameter {
	c := *p
	return &c
}

func copyProfile(p *models.DeviceProfile) *models.DeviceProfile {
	c := *p
	return &c
}

func copyJob(j *models.ProvisioningJob) *models.ProvisioningJob {
	c := *j
	return &c
}

func copyUpgrade(u *models.FirmwareUpgrade) *models.FirmwareUpgrade {
	c := *u
	return &c
}

// ========== Device Methods ==========

// CreateDevice creates a new device
func (s *MemoryStore) CreateDevice(ctx context.Context, device *models.Device) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if device.ID == uuid.Nil {
		device.ID = uuid.New()
	}

	for _, d := range s.devices {
		if d.TenantID == device.TenantID && d.SerialNumber == device.SerialNumber {
			return ErrDuplicateKey
		}
	}

	now := time.Now()
	device.CreatedAt = now
	device.UpdatedAt = now

	s.devices[device.ID] = copyDevice(device)
	return nil
}

// GetDevice gets a device by ID
func (s *MemoryStore) GetDevice(ctx context.Context, id uuid.UUID) (*models.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.devices[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyDevice(d), nil
}

// GetDeviceBySerial gets a device by serial number, optionally scoped to a tenant
func (s *MemoryStore) GetDeviceBySerial(ctx context.Context, tenantID *uuid.UUID, serialNumber string) (*models.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, d := range s.devices {
		if d.SerialNumber != serialNumber {
			continue
		}
		if tenantID != nil && d.TenantID != *tenantID {
			continue
		}
		return copyDevice(d), nil
	}
	return nil, ErrNotFound
}

// LockDevice pins the device for the rest of the transaction. Memory
// transactions are fully serialized already, so only existence needs
// checking here.
func (s *MemoryStore) LockDevice(ctx context.Context, id uuid.UUID) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.devices[id]; !ok {
		return ErrNotFound
	}
	return nil
}

// UpdateDevice updates a device
func (s *MemoryStore) UpdateDevice(ctx context.Context, device *models.Device) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.devices[device.ID]
	if !ok {
		return ErrNotFound
	}

	for _, d := range s.devices {
		if d.ID != device.ID && d.TenantID == device.TenantID && d.SerialNumber == device.SerialNumber {
			return ErrDuplicateKey
		}
	}

	device.CreatedAt = existing.CreatedAt
	device.UpdatedAt = time.Now()
	s.devices[device.ID] = copyDevice(device)
	return nil
}

// DeleteDevice deletes a device and cascades parameters, jobs and upgrades
func (s *MemoryStore) DeleteDevice(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.devices[id]; !ok {
		return ErrNotFound
	}

	delete(s.devices, id)
	delete(s.params, id)
	for jobID, job := range s.jobs {
		if job.DeviceID == id {
			delete(s.jobs, jobID)
		}
	}
	for upgradeID, upgrade := range s.upgrades {
		if upgrade.DeviceID == id {
			delete(s.upgrades, upgradeID)
		}
	}
	return nil
}

func matchDevice(d *models.Device, filters DeviceFilters) bool {
	if filters.TenantID != nil && d.TenantID != *filters.TenantID {
		return false
	}
	if filters.Status != nil && d.Status != *filters.Status {
		return false
	}
	if filters.DeviceType != nil && d.DeviceType != *filters.DeviceType {
		return false
	}
	if filters.IsOnline != nil && d.IsOnline != *filters.IsOnline {
		return false
	}
	if filters.IsProvisioned != nil && d.IsProvisioned != *filters.IsProvisioned {
		return false
	}
	if filters.Search != "" {
		needle := strings.ToLower(filters.Search)
		hay := strings.ToLower(d.Name + " " + d.SerialNumber)
		if d.MACAddress != nil {
			hay += " " + strings.ToLower(*d.MACAddress)
		}
		if d.IPAddress != nil {
			hay += " " + strings.ToLower(*d.IPAddress)
		}
		if !strings.Contains(hay, needle) {
			return false
		}
	}
	return true
}

// ListDevices lists devices matching the given filters
func (s *MemoryStore) ListDevices(ctx context.Context, filters DeviceFilters, limit, offset int) ([]*models.Device, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*models.Device
	for _, d := range s.devices {
		if matchDevice(d, filters) {
			matched = append(matched, copyDevice(d))
		}
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := int64(len(matched))
	if offset >= len(matched) {
		return nil, total, nil
	}
	matched = matched[offset:]
	if limit > 0 && limit < len(matched) {
		matched = matched[:limit]
	}
	return matched, total, nil
}

// ========== Device Parameter Methods ==========

// UpsertDeviceParameter inserts or updates a device parameter
func (s *MemoryStore) UpsertDeviceParameter(ctx context.Context, param *models.DeviceParameter) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if param.ID == uuid.Nil {
		param.ID = uuid.New()
	}
	param.LastUpdated = time.Now()

	if s.params[param.DeviceID] == nil {
		s.params[param.DeviceID] = make(map[string]*models.DeviceParameter)
	}
	if existing, ok := s.params[param.DeviceID][param.Name]; ok {
		param.ID = existing.ID
	}
	s.params[param.DeviceID][param.Name] = copyParam(param)
	return nil
}

// GetDeviceParameter gets a device parameter by name
func (s *MemoryStore) GetDeviceParameter(ctx context.Context, deviceID uuid.UUID, name string) (*models.DeviceParameter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.params[deviceID][name]
	if !ok {
		return nil, ErrNotFound
	}
	return copyParam(p), nil
}

// UpdateDeviceParameter updates an existing device parameter
func (s *MemoryStore) UpdateDeviceParameter(ctx context.Context, param *models.DeviceParameter) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.params[param.DeviceID][param.Name]; !ok {
		return ErrNotFound
	}
	param.LastUpdated = time.Now()
	s.params[param.DeviceID][param.Name] = copyParam(param)
	return nil
}

// ListDeviceParameters lists all parameters of a device
func (s *MemoryStore) ListDeviceParameters(ctx context.Context, deviceID uuid.UUID) ([]*models.DeviceParameter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var params []*models.DeviceParameter
	for _, p := range s.params[deviceID] {
		params = append(params, copyParam(p))
	}
	sort.Slice(params, func(i, j int) bool { return params[i].Name < params[j].Name })
	return params, nil
}

// ========== Device Profile Methods ==========

// CreateDeviceProfile creates a new device profile
func (s *MemoryStore) CreateDeviceProfile(ctx context.Context, profile *models.DeviceProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if profile.ID == uuid.Nil {
		profile.ID = uuid.New()
	}

	for _, p := range s.profiles {
		if p.TenantID == profile.TenantID && p.Name == profile.Name {
			return ErrDuplicateKey
		}
	}

	now := time.Now()
	profile.CreatedAt = now
	profile.UpdatedAt = now

	s.profiles[profile.ID] = copyProfile(profile)
	return nil
}

// GetDeviceProfile gets a device profile by ID
func (s *MemoryStore) GetDeviceProfile(ctx context.Context, id uuid.UUID) (*models.DeviceProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.profiles[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyProfile(p), nil
}

// UpdateDeviceProfile updates a device profile
func (s *MemoryStore) UpdateDeviceProfile(ctx context.Context, profile *models.DeviceProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.profiles[profile.ID]
	if !ok {
		return ErrNotFound
	}

	for _, p := range s.profiles {
		if p.ID != profile.ID && p.TenantID == profile.TenantID && p.Name == profile.Name {
			return ErrDuplicateKey
		}
	}

	profile.CreatedAt = existing.CreatedAt
	profile.UpdatedAt = time.Now()
	s.profiles[profile.ID] = copyProfile(profile)
	return nil
}

// DeleteDeviceProfile deletes a device profile
func (s *MemoryStore) DeleteDeviceProfile(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.profiles[id]; !ok {
		return ErrNotFound
	}
	delete(s.profiles, id)
	return nil
}

// ListDeviceProfiles lists device profiles
func (s *MemoryStore) ListDeviceProfiles(ctx context.Context, tenantID *uuid.UUID, limit, offset int) ([]*models.DeviceProfile, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*models.DeviceProfile
	for _, p := range s.profiles {
		if tenantID != nil && p.TenantID != *tenantID {
			continue
		}
		matched = append(matched, copyProfile(p))
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := int64(len(matched))
	if offset >= len(matched) {
		return nil, total, nil
	}
	matched = matched[offset:]
	if limit > 0 && limit < len(matched) {
		matched = matched[:limit]
	}
	return matched, total, nil
}

// CountDevicesByProfile counts devices referencing a profile
func (s *MemoryStore) CountDevicesByProfile(ctx context.Context, profileID uuid.UUID) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	for _, d := range s.devices {
		if d.DeviceProfileID != nil && *d.DeviceProfileID == profileID {
			count++
		}
	}
	return count, nil
}

// ========== Provisioning Job Methods ==========

// CreateJob creates a new provisioning job
func (s *MemoryStore) CreateJob(ctx context.Context, job *models.ProvisioningJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}

	now := time.Now()
	job.CreatedAt = now
	job.UpdatedAt = now

	s.jobs[job.ID] = copyJob(job)
	return nil
}

// GetJob gets a provisioning job by ID
func (s *MemoryStore) GetJob(ctx context.Context, id uuid.UUID) (*models.ProvisioningJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyJob(j), nil
}

// UpdateJob updates a provisioning job
func (s *MemoryStore) UpdateJob(ctx context.Context, job *models.ProvisioningJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.jobs[job.ID]
	if !ok {
		return ErrNotFound
	}
	job.CreatedAt = existing.CreatedAt
	job.UpdatedAt = time.Now()
	s.jobs[job.ID] = copyJob(job)
	return nil
}

// ListJobs lists provisioning jobs of a device
func (s *MemoryStore) ListJobs(ctx context.Context, deviceID uuid.UUID, limit, offset int) ([]*models.ProvisioningJob, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*models.ProvisioningJob
	for _, j := range s.jobs {
		if j.DeviceID == deviceID {
			matched = append(matched, copyJob(j))
		}
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := int64(len(matched))
	if offset >= len(matched) {
		return nil, total, nil
	}
	matched = matched[offset:]
	if limit > 0 && limit < len(matched) {
		matched = matched[:limit]
	}
	return matched, total, nil
}

// ========== Firmware Upgrade Methods ==========

// CreateUpgrade creates a new firmware upgrade
func (s *MemoryStore) CreateUpgrade(ctx context.Context, upgrade *models.FirmwareUpgrade) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if upgrade.ID == uuid.Nil {
		upgrade.ID = uuid.New()
	}

	now := time.Now()
	upgrade.CreatedAt = now
	upgrade.UpdatedAt = now

	s.upgrades[upgrade.ID] = copyUpgrade(upgrade)
	return nil
}

// GetUpgrade gets a firmware upgrade by ID
func (s *MemoryStore) GetUpgrade(ctx context.Context, id uuid.UUID) (*models.FirmwareUpgrade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.upgrades[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyUpgrade(u), nil
}

// UpdateUpgrade updates a firmware upgrade
func (s *MemoryStore) UpdateUpgrade(ctx context.Context, upgrade *models.FirmwareUpgrade) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.upgrades[upgrade.ID]
	if !ok {
		return ErrNotFound
	}
	upgrade.CreatedAt = existing.CreatedAt
	upgrade.UpdatedAt = time.Now()
	s.upgrades[upgrade.ID] = copyUpgrade(upgrade)
	return nil
}

// ListUpgrades lists firmware upgrades of a device
func (s *MemoryStore) ListUpgrades(ctx context.Context, deviceID uuid.UUID, limit, offset int) ([]*models.FirmwareUpgrade, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*models.FirmwareUpgrade
	for _, u := range s.upgrades {
		if u.DeviceID == deviceID {
			matched = append(matched, copyUpgrade(u))
		}
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := int64(len(matched))
	if offset >= len(matched) {
		return nil, total, nil
	}
	matched = matched[offset:]
	if limit > 0 && limit < len(matched) {
		matched = matched[:limit]
	}
	return matched, total, nil
}

// CountActiveOps counts jobs and upgrades that still occupy the device
func (s *MemoryStore) CountActiveOps(ctx context.Context, deviceID uuid.UUID) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	for _, j := range s.jobs {
		if j.DeviceID == deviceID && j.Status.Active() {
			count++
		}
	}
	for _, u := range s.upgrades {
		if u.DeviceID == deviceID && u.Status.Active() {
			count++
		}
	}
	return count, nil
}

// ========== Event Log Methods ==========

// CreateEventLog creates an event log entry
func (s *MemoryStore) CreateEventLog(ctx context.Context, event *models.EventLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	c := *event
	s.events = append(s.events, &c)
	return nil
}

// ListEventLogs lists event logs matching the given filters
func (s *MemoryStore) ListEventLogs(ctx context.Context, filters EventLogFilters, limit, offset int) ([]*models.EventLog, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*models.EventLog
	for _, e := range s.events {
		if filters.TenantID != nil && (e.TenantID == nil || *e.TenantID != *filters.TenantID) {
			continue
		}
		if filters.DeviceID != nil && (e.DeviceID == nil || *e.DeviceID != *filters.DeviceID) {
			continue
		}
		if filters.Type != nil && e.Type != *filters.Type {
			continue
		}
		if filters.Level != nil && e.Level != *filters.Level {
			continue
		}
		if filters.StartTime != nil && e.CreatedAt.Before(*filters.StartTime) {
			continue
		}
		if filters.EndTime != nil && e.CreatedAt.After(*filters.EndTime) {
			continue
		}
		c := *e
		matched = append(matched, &c)
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := int64(len(matched))
	if offset >= len(matched) {
		return nil, total, nil
	}
	matched = matched[offset:]
	if limit > 0 && limit < len(matched) {
		matched = matched[:limit]
	}
	return matched, total, nil
}
