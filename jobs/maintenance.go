package jobs

import (
	"context"
	"encoding/json"

	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/glasswerk-erp/glasswerk-authz/internal/dedup"
	"github.com/glasswerk-erp/glasswerk-authz/internal/propagate"
)

// DedupJob runs the duplicate permission remediation tool.
type DedupJob struct {
	service *dedup.Service
	logger  *slog.Logger
}

// NewDedupJob constructs the handler.
func NewDedupJob(service *dedup.Service, logger *slog.Logger) *DedupJob {
	return &DedupJob{service: service, logger: logger}
}

// Handle processes TaskDedupRun tasks.
func (j *DedupJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload DedupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	report, err := j.service.Run(ctx, payload.ActorID)
	if err != nil {
		if j.logger != nil {
			j.logger.Error("dedup run", slog.Any("error", err))
		}
		return err
	}
	if j.logger != nil {
		j.logger.Info("dedup run finished",
			slog.Int("scanned", report.Scanned),
			slog.Int("groups_merged", len(report.Groups)))
	}
	return nil
}

// DXFSyncJob re-propagates the DXF flag for all dealer-rooted trees.
type DXFSyncJob struct {
	propagator *propagate.Propagator
	logger     *slog.Logger
}

// NewDXFSyncJob constructs the handler.
func NewDXFSyncJob(propagator *propagate.Propagator, logger *slog.Logger) *DXFSyncJob {
	return &DXFSyncJob{propagator: propagator, logger: logger}
}

// Handle processes TaskDXFSync tasks.
func (j *DXFSyncJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload DXFSyncPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	guard := payload.Guard
	if guard == "" {
		guard = "web"
	}
	result, err := j.propagator.SyncAll(ctx, guard)
	if err != nil {
		if j.logger != nil {
			j.logger.Error("dxf sync", slog.Any("error", err))
		}
		return err
	}
	if j.logger != nil {
		j.logger.Info("dxf sync finished", slog.String("result", result.String()))
	}
	return nil
}
