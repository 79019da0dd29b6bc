package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/cpe-server/cpe-server-pro/internal/models"
	"github.com/cpe-server/cpe-server-pro/internal/storage"
)

// HandleHealth handles health check
func (s *RESTServer) HandleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// HandleStats returns aggregate device counts and ACS server statistics
func (s *RESTServer) HandleStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	byStatus := make(map[string]int64)
	statuses := []models.DeviceStatus{
		models.DeviceStatusInactive,
		models.DeviceStatusProvisioning,
		models.DeviceStatusActive,
		models.DeviceStatusUpgrading,
		models.DeviceStatusError,
	}

	var total int64
	for _, status := range statuses {
		st := status
		_, count, err := s.store.ListDevices(ctx, storage.DeviceFilters{Status: &st}, 1, 0)
		if err != nil {
			s.respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		byStatus[string(status)] = count
		total += count
	}

	online := true
	_, onlineCount, err := s.store.ListDevices(ctx, storage.DeviceFilters{IsOnline: &online}, 1, 0)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	payload := map[string]interface{}{
		"devices": map[string]interface{}{
			"total":    total,
			"online":   onlineCount,
			"byStatus": byStatus,
		},
	}

	// ACS stats are informational; an unreachable ACS is reported, not an error
	acsCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if stats, err := s.gateway.GetStats(acsCtx); err != nil {
		log.Warn().Err(err).Msg("ACS stats unavailable")
		payload["acs"] = map[string]interface{}{
			"reachable": false,
		}
	} else {
		payload["acs"] = map[string]interface{}{
			"reachable":      true,
			"devicesTotal":   stats.DevicesTotal,
			"devicesOnline":  stats.DevicesOnline,
			"requestsServed": stats.RequestsServed,
		}
	}

	s.respondJSON(w, http.StatusOK, payload)
}

// respondJSON responds with JSON
func (s *RESTServer) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(response)
}

// respondError responds with error
func (s *RESTServer) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{
		"error": message,
	})
}
