// Package cli exposes manual management helpers for maintenance jobs.
package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/glasswerk-erp/glasswerk-authz/jobs"
)

// MaintenanceCLI wraps manual management helpers for Asynq maintenance jobs.
type MaintenanceCLI struct {
	client    *asynq.Client
	inspector *asynq.Inspector
}

// NewMaintenanceCLI initialises the CLI helpers using the provided Redis address.
func NewMaintenanceCLI(redisAddr string) (*MaintenanceCLI, error) {
	client := asynq.NewClient(asynq.RedisClientOpt{Addr: redisAddr})
	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: redisAddr})
	return &MaintenanceCLI{client: client, inspector: inspector}, nil
}

// Close releases underlying resources.
func (c *MaintenanceCLI) Close() error {
	var err error
	if c.inspector != nil {
		if closeErr := c.inspector.Close(); closeErr != nil {
			err = closeErr
		}
	}
	if c.client != nil {
		if closeErr := c.client.Close(); closeErr != nil {
			err = closeErr
		}
	}
	return err
}

// Trigger enqueues a supported maintenance job by name with default payload.
func (c *MaintenanceCLI) Trigger(ctx context.Context, name string) (*asynq.TaskInfo, error) {
	if c == nil || c.client == nil {
		return nil, errors.New("maintenance cli: client not configured")
	}
	var task *asynq.Task
	var err error
	switch name {
	case jobs.TaskDedupRun:
		task, err = jobs.NewDedupTask(0)
	case jobs.TaskDXFSync:
		task, err = jobs.NewDXFSyncTask("web")
	default:
		return nil, fmt.Errorf("maintenance cli: unsupported job %s", name)
	}
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(ctx, task, asynq.MaxRetry(3))
}

// QueueStats summarises the current queue state.
type QueueStats struct {
	Queue     string
	Pending   int
	Active    int
	Scheduled int
	Retry     int
}

// InspectQueue reports the queue metrics for the default queue.
func (c *MaintenanceCLI) InspectQueue(ctx context.Context) (QueueStats, error) {
	if c == nil || c.inspector == nil {
		return QueueStats{}, errors.New("maintenance cli: inspector not configured")
	}
	info, err := c.inspector.GetQueueInfo(jobs.QueueDefault)
	if err != nil {
		return QueueStats{}, err
	}
	stats := QueueStats{Queue: jobs.QueueDefault}
	if info != nil {
		stats.Queue = info.Queue
		stats.Pending = info.Pending
		stats.Active = info.Active
		stats.Scheduled = info.Scheduled
		stats.Retry = info.Retry
	}
	return stats, nil
}

// ListScheduled exposes the upcoming scheduled jobs from the default queue.
func (c *MaintenanceCLI) ListScheduled(ctx context.Context, size int) ([]*asynq.TaskInfo, error) {
	if c == nil || c.inspector == nil {
		return nil, errors.New("maintenance cli: inspector not configured")
	}
	if size <= 0 {
		size = 20
	}
	return c.inspector.ListScheduledTasks(jobs.QueueDefault, asynq.PageSize(size))
}
