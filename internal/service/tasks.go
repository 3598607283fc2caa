package service

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const (
	TaskTypeRemoteDelete = "podcast:delete"

	QueueCleanup = "cleanup"
)

// TaskEnqueuer is the subset of *asynq.Client used by services
type TaskEnqueuer interface {
	Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// RemoteDeletePayload is the payload of a podcast:delete task
type RemoteDeletePayload struct {
	JobID string `json:"jobId"`
}

// NewRemoteDeleteTask builds a retryable remote deletion task
func NewRemoteDeleteTask(jobID string) (*asynq.Task, []asynq.Option, error) {
	data, err := json.Marshal(RemoteDeletePayload{JobID: jobID})
	if err != nil {
		return nil, nil, err
	}

	opts := []asynq.Option{
		asynq.Queue(QueueCleanup),
		asynq.TaskID(fmt.Sprintf("%s:%s", TaskTypeRemoteDelete, jobID)),
		asynq.MaxRetry(10),
		asynq.Retention(24 * time.Hour),
	}
	return asynq.NewTask(TaskTypeRemoteDelete, data), opts, nil
}

// ParseRemoteDeletePayload decodes a podcast:delete task payload
func ParseRemoteDeletePayload(t *asynq.Task) (*RemoteDeletePayload, error) {
	var payload RemoteDeletePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task payload: %w", err)
	}
	if payload.JobID == "" {
		return nil, fmt.Errorf("task payload has no job id")
	}
	return &payload, nil
}
