package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Lumen-Labs/brainapi2/internal/store"
)

// statusTTL is the 7-day retention every task-status entry carries (spec
// §4.6 Task status).
const statusTTL = 7 * 24 * time.Hour

func statusKey(taskID string) string { return fmt.Sprintf("task:%s", taskID) }

// StatusStore writes/reads TaskStatus documents under task:{task_id}. It is
// the sole source of truth for clients polling a job's completion.
type StatusStore struct {
	Cache store.Cache
}

// Write upserts a task's status, keyed by brainID for per-brain isolation.
func (s *StatusStore) Write(ctx context.Context, brainID, taskID string, status Status, errMsg string) error {
	doc := TaskStatus{TaskID: taskID, Status: status, Error: errMsg}
	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("tasks: marshal status for %s: %w", taskID, err)
	}
	if err := s.Cache.Set(ctx, brainID, statusKey(taskID), string(payload), statusTTL); err != nil {
		return fmt.Errorf("tasks: write status for %s: %w", taskID, err)
	}
	return nil
}

// Get reads a task's current status.
func (s *StatusStore) Get(ctx context.Context, brainID, taskID string) (TaskStatus, error) {
	raw, err := s.Cache.Get(ctx, brainID, statusKey(taskID))
	if err != nil {
		return TaskStatus{}, fmt.Errorf("tasks: get status for %s: %w", taskID, err)
	}
	var doc TaskStatus
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return TaskStatus{}, fmt.Errorf("tasks: decode status for %s: %w", taskID, err)
	}
	return doc, nil
}
