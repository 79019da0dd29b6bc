package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cpe-server/cpe-server-pro/internal/models"
)

// ========== Event Log Methods ==========

// CreateEventLog creates an event log entry
func (s *PostgresStore) CreateEventLog(ctx context.Context, event *models.EventLog) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	query := `
        INSERT INTO event_logs (
            id, created_at, tenant_id, device_id, type, level, code, description, details
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := s.getDB().ExecContext(ctx, query,
		event.ID, event.CreatedAt, event.TenantID, event.DeviceID,
		event.Type, event.Level, event.Code, event.Description, event.Details,
	)

	return err
}

// ListEventLogs lists event logs matching the given filters
func (s *PostgresStore) ListEventLogs(ctx context.Context, filters EventLogFilters, limit, offset int) ([]*models.EventLog, int64, error) {
	var conds []string
	var args []interface{}

	addCond := func(expr string, value interface{}) {
		args = append(args, value)
		conds = append(conds, fmt.Sprintf(expr, len(args)))
	}

	if filters.TenantID != nil {
		addCond("tenant_id = $%d", *filters.TenantID)
	}
	if filters.DeviceID != nil {
		addCond("device_id = $%d", *filters.DeviceID)
	}
	if filters.Type != nil {
		addCond("type = $%d", *filters.Type)
	}
	if filters.Level != nil {
		addCond("level = $%d", *filters.Level)
	}
	if filters.StartTime != nil {
		addCond("created_at >= $%d", *filters.StartTime)
	}
	if filters.EndTime != nil {
		addCond("created_at <= $%d", *filters.EndTime)
	}

	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var count int64
	err := s.getDB().QueryRowContext(ctx, "SELECT COUNT(*) FROM event_logs"+where, args...).Scan(&count)
	if err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`SELECT id, created_at, tenant_id, device_id, type, level, code, description, details
        FROM event_logs%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		where, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := s.getDB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var events []*models.EventLog
	for rows.Next() {
		event := &models.EventLog{}
		err := rows.Scan(
			&event.ID, &event.CreatedAt, &event.TenantID, &event.DeviceID,
			&event.Type, &event.Level, &event.Code, &event.Description, &event.Details,
		)
		if err != nil {
			return nil, 0, err
		}
		events = append(events, event)
	}

	return events, count, rows.Err()
}
