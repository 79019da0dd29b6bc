package acs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cpe-server/cpe-server-pro/internal/models"
)

func testDevice(serial string) *models.Device {
	return &models.Device{
		SerialNumber: serial,
		Name:         "test",
		DeviceType:   models.DeviceTypeRouter,
	}
}

func TestProvisionSendsParameters(t *testing.T) {
	var gotPath string
	var gotAuth string
	var gotBody map[string]interface{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(OperationResult{
			SerialNumber: "SN-C001",
			Operation:    "provision",
			CompletedAt:  time.Now(),
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "secret-token", 5*time.Second)
	result, err := c.Provision(context.Background(), testDevice("SN-C001"), models.Variables{"wifi.ssid": "net"})
	if err != nil {
		t.Fatalf("Provision: %v", err)
	}

	if result.Operation != "provision" {
		t.Errorf("operation = %q, want provision", result.Operation)
	}
	if gotPath != "/api/v1/devices/SN-C001/provision" {
		t.Errorf("path = %q", gotPath)
	}
	if gotAuth != "Bearer secret-token" {
		t.Errorf("auth = %q", gotAuth)
	}
	params, _ := gotBody["parameters"].(map[string]interface{})
	if params["wifi.ssid"] != "net" {
		t.Errorf("parameters = %v", gotBody["parameters"])
	}
}

func TestAuthenticationFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "bad-token", 5*time.Second)
	_, err := c.Identify(context.Background(), testDevice("SN-C002"))
	if !errors.Is(err, ErrAuthentication) {
		t.Fatalf("err = %v, want %v", err, ErrAuthentication)
	}
}

func TestRemoteError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{"error": "device unreachable"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", 5*time.Second)
	_, err := c.Reboot(context.Background(), testDevice("SN-C003"))

	var remote *RemoteError
	if !errors.As(err, &remote) {
		t.Fatalf("err = %v, want *RemoteError", err)
	}
	if remote.Code != http.StatusInternalServerError {
		t.Errorf("code = %d, want 500", remote.Code)
	}
	if remote.Message != "device unreachable" {
		t.Errorf("message = %q", remote.Message)
	}
}

func TestTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", 50*time.Millisecond)
	_, err := c.GetStatus(context.Background(), testDevice("SN-C004"))
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want %v", err, ErrTimeout)
	}
}

func TestConnectionFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // nothing listens anymore

	c := NewClient(srv.URL, "", time.Second)
	_, err := c.GetStats(context.Background())
	if !errors.Is(err, ErrConnection) {
		t.Fatalf("err = %v, want %v", err, ErrConnection)
	}
}

func TestGetStats(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/stats" {
			t.Errorf("path = %q", r.URL.Path)
		}
		json.NewEncoder(w).Encode(ServerStats{DevicesTotal: 42, DevicesOnline: 40})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", 5*time.Second)
	stats, err := c.GetStats(context.Background())
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	if stats.DevicesTotal != 42 || stats.DevicesOnline != 40 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestSerialNumbersAreEscaped(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		json.NewEncoder(w).Encode(StatusInfo{Online: true})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", 5*time.Second)
	if _, err := c.GetStatus(context.Background(), testDevice("SN/0 1")); err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if gotPath != "/api/v1/devices/SN%2F0%201/status" {
		t.Errorf("path = %q", gotPath)
	}
}
