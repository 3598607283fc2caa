package worker

import (
	"context"
	"fmt"
	"log"

	"github.com/hibiken/asynq"

	"github.com/aura/api/internal/client"
	"github.com/aura/api/internal/service"
)

// CleanupWorker retries remote deletions that failed during a removal
type CleanupWorker struct {
	remote client.PodcastGenerator
}

// NewCleanupWorker creates a new cleanup worker
func NewCleanupWorker(remote client.PodcastGenerator) *CleanupWorker {
	return &CleanupWorker{
		remote: remote,
	}
}

// ProcessTask handles podcast:delete tasks. A 404 from the generation
// service means the podcast is already gone and counts as success.
func (w *CleanupWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	payload, err := service.ParseRemoteDeletePayload(t)
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	log.Printf("[Cleanup] deleting remote podcast %s", payload.JobID)

	if err := w.remote.DeletePodcast(ctx, payload.JobID); err != nil {
		if service.IsRemoteNotFound(err) {
			log.Printf("[Cleanup] remote podcast %s already gone", payload.JobID)
			return nil
		}
		return fmt.Errorf("remote delete of %s failed: %w", payload.JobID, err)
	}

	log.Printf("[Cleanup] remote podcast %s deleted", payload.JobID)
	return nil
}
