package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskDedupRun deduplicates case and whitespace variants of permission names.
	TaskDedupRun = "authz:dedup"
	// TaskDXFSync re-propagates the DXF flag through every dealer-rooted tree.
	TaskDXFSync = "authz:dxf_sync"
)

// DedupPayload parameterises a dedup run.
type DedupPayload struct {
	ActorID int64 `json:"actor_id"`
}

// NewDedupTask constructs an Asynq task for a dedup run.
func NewDedupTask(actorID int64) (*asynq.Task, error) {
	data, err := json.Marshal(DedupPayload{ActorID: actorID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskDedupRun, data), nil
}

// DXFSyncPayload parameterises a DXF propagation sweep.
type DXFSyncPayload struct {
	Guard string `json:"guard"`
}

// NewDXFSyncTask constructs an Asynq task for a propagation sweep.
func NewDXFSyncTask(guard string) (*asynq.Task, error) {
	data, err := json.Marshal(DXFSyncPayload{Guard: guard})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskDXFSync, data), nil
}
