// internal/repository/command_repository.go
package repository

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"cash-device-service/internal/model"
)

const defaultCommandCapacity = 256

// commandRepository keeps the newest records of each device in a ring
type commandRepository struct {
	mu       sync.RWMutex
	records  map[string][]*model.CommandRecord
	capacity int
	logger   *zap.Logger
}

// NewCommandRepository creates a command trace holding up to capacity
// records per device
func NewCommandRepository(capacity int, logger *zap.Logger) CommandRepository {
	if capacity <= 0 {
		capacity = defaultCommandCapacity
	}
	return &commandRepository{
		records:  make(map[string][]*model.CommandRecord),
		capacity: capacity,
		logger:   logger,
	}
}

// Record appends a command record, dropping the oldest when full
func (r *commandRepository) Record(ctx context.Context, record *model.CommandRecord) error {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	if record.Severity == "" {
		record.Severity = model.SeverityOf(record.StatusCode)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	list := append(r.records[record.DeviceID], record)
	if len(list) > r.capacity {
		list = list[len(list)-r.capacity:]
	}
	r.records[record.DeviceID] = list

	if record.Failed() {
		r.logger.Debug("Failed command recorded",
			zap.String("device_id", record.DeviceID),
			zap.String("command", string(record.Command)),
			zap.Int("status_code", record.StatusCode),
		)
	}
	return nil
}

// ListByDevice returns the newest records first
func (r *commandRepository) ListByDevice(ctx context.Context, deviceID string, limit int) ([]*model.CommandRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := r.records[deviceID]
	if limit <= 0 || limit > len(list) {
		limit = len(list)
	}
	out := make([]*model.CommandRecord, 0, limit)
	for i := len(list) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, list[i])
	}
	return out, nil
}

// GetCommandStats summarizes the records of a device
func (r *commandRepository) GetCommandStats(ctx context.Context, deviceID string) (*CommandStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := &CommandStats{
		DeviceID:    deviceID,
		SuccessRate: 1,
		ByCommand:   make(map[model.CommandName]int),
		ByCode:      make(map[int]int),
	}
	list := r.records[deviceID]
	if len(list) == 0 {
		return stats, nil
	}

	var total time.Duration
	for _, rec := range list {
		stats.Total++
		stats.ByCommand[rec.Command]++
		stats.ByCode[rec.StatusCode]++
		if rec.Failed() {
			stats.Failed++
		}
		total += time.Duration(rec.DurationMs) * time.Millisecond
	}
	stats.AvgDuration = total / time.Duration(stats.Total)
	stats.SuccessRate = float64(stats.Total-stats.Failed) / float64(stats.Total)
	last := list[len(list)-1].StartedAt
	stats.LastCommand = &last
	return stats, nil
}

// DeleteOlderThan removes records started before olderThan
func (r *commandRepository) DeleteOlderThan(ctx context.Context, olderThan time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var deleted int64
	for id, list := range r.records {
		keep := list[:0]
		for _, rec := range list {
			if rec.StartedAt.Before(olderThan) {
				deleted++
				continue
			}
			keep = append(keep, rec)
		}
		if len(keep) == 0 {
			delete(r.records, id)
			continue
		}
		r.records[id] = keep
	}

	if deleted > 0 {
		r.logger.Info("Old command records deleted", zap.Int64("deleted_count", deleted))
	}
	return deleted, nil
}
