package acs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cpe-server/cpe-server-pro/internal/models"
)

// Gateway failure classes. Every operation may fail with one of these
// or with a *RemoteError reported by the ACS itself. The gateway performs
// no retries; retry policy belongs to the caller.
var (
	ErrConnection     = errors.New("acs: connection failed")
	ErrAuthentication = errors.New("acs: authentication failed")
	ErrTimeout        = errors.New("acs: request timed out")
)

// RemoteError is an error reported by the ACS for a delivered request
type RemoteError struct {
	Code    int
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("acs: remote error %d: %s", e.Code, e.Message)
}

// Identity describes a device as reported by the ACS
type Identity struct {
	SerialNumber    string `json:"serialNumber"`
	Manufacturer    string `json:"manufacturer"`
	Model           string `json:"model"`
	HardwareVersion string `json:"hardwareVersion"`
	SoftwareVersion string `json:"softwareVersion"`
	OUI             string `json:"oui"`
	ProductClass    string `json:"productClass"`
}

// OperationResult is the success payload of a management operation
type OperationResult struct {
	SerialNumber string           `json:"serialNumber"`
	Operation    string           `json:"operation"`
	Detail       models.Variables `json:"detail,omitempty"`
	CompletedAt  time.Time        `json:"completedAt"`
}

// StatusInfo describes the reachability of a device
type StatusInfo struct {
	SerialNumber string     `json:"serialNumber"`
	Online       bool       `json:"online"`
	LastInform   *time.Time `json:"lastInform,omitempty"`
}

// Metrics is a snapshot of device counters reported by the ACS
type Metrics struct {
	SerialNumber string           `json:"serialNumber"`
	UptimeSec    int64            `json:"uptimeSec"`
	CPUPercent   float64          `json:"cpuPercent"`
	MemPercent   float64          `json:"memPercent"`
	Extra        models.Variables `json:"extra,omitempty"`
}

// ServerConfig is the ACS server configuration document
type ServerConfig struct {
	InformInterval time.Duration    `json:"informInterval"`
	Settings       models.Variables `json:"settings,omitempty"`
}

// ServerStats are aggregate counters of the ACS server
type ServerStats struct {
	DevicesTotal   int64 `json:"devicesTotal"`
	DevicesOnline  int64 `json:"devicesOnline"`
	RequestsServed int64 `json:"requestsServed"`
}

// SupportedModel describes a device model the ACS can manage
type SupportedModel struct {
	Manufacturer string `json:"manufacturer"`
	Model        string `json:"model"`
	ProductClass string `json:"productClass"`
}

// Gateway abstracts the remote auto-configuration server. Operations are
// keyed by device serial number and must be treated as occurring over an
// unreliable network: every call is fallible and bounded by the context.
type Gateway interface {
	Identify(ctx context.Context, device *models.Device) (*Identity, error)
	Provision(ctx context.Context, device *models.Device, params models.Variables) (*OperationResult, error)
	Reboot(ctx context.Context, device *models.Device) (*OperationResult, error)
	FactoryReset(ctx context.Context, device *models.Device) (*OperationResult, error)
	UpgradeFirmware(ctx context.Context, device *models.Device, version, url string) (*OperationResult, error)
	WriteParameter(ctx context.Context, device *models.Device, name, value string) (*OperationResult, error)
	GetStatus(ctx context.Context, device *models.Device) (*StatusInfo, error)
	GetMetrics(ctx context.Context, device *models.Device) (*Metrics, error)
	GetConfig(ctx context.Context) (*ServerConfig, error)
	UpdateConfig(ctx context.Context, cfg *ServerConfig) error
	GetStats(ctx context.Context) (*ServerStats, error)
	GetSupportedModels(ctx context.Context) ([]SupportedModel, error)
}
