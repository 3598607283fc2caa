package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/hibiken/asynq"

	"github.com/aura/api/internal/client"
	"github.com/aura/api/internal/model"
	"github.com/aura/api/internal/poller"
	"github.com/aura/api/internal/store"
)

// QuestionWindow is how far from the playback position a question is still current, in seconds
const QuestionWindow = 10.0

// PodcastService submits generation requests and serves the tracked jobs
type PodcastService struct {
	store  *store.JobStore
	poller *poller.Poller
	remote client.PodcastGenerator
	cache  *ContentCache
	audio  *AudioService
	tasks  TaskEnqueuer
}

func NewPodcastService(jobStore *store.JobStore, p *poller.Poller, remote client.PodcastGenerator, cache *ContentCache, audio *AudioService, tasks TaskEnqueuer) *PodcastService {
	return &PodcastService{
		store:  jobStore,
		poller: p,
		remote: remote,
		cache:  cache,
		audio:  audio,
		tasks:  tasks,
	}
}

// Submit sends a generation request and starts tracking the returned job.
// It returns as soon as the job is accepted.
func (s *PodcastService) Submit(ctx context.Context, userID string, req *model.PodcastGenerateRequest) (*model.PodcastSubmitResponse, error) {
	if userID == "" {
		return nil, ErrPreconditionFailed
	}

	if req.Preferences.Tone == "" {
		req.Preferences.Tone = model.ToneCasual
	}
	if req.Interests == nil {
		req.Interests = []string{}
	}

	resp, err := s.remote.GeneratePodcast(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrGenerationRequestFailed, err)
	}

	job := model.Job{
		ID:        resp.ID,
		OwnerID:   userID,
		CreatedAt: time.Now(),
	}
	if err := s.store.Insert(job); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrGenerationRequestFailed, err)
	}

	s.poller.Start(job.ID)
	log.Printf("[Podcast] job %s submitted by %s", job.ID, userID)

	return &model.PodcastSubmitResponse{
		JobID:     job.ID,
		Status:    model.JobStatusGenerating,
		Progress:  0,
		CreatedAt: job.CreatedAt,
	}, nil
}

// List returns the user's jobs, newest first, after making sure every
// generating job is being polled.
func (s *PodcastService) List(ctx context.Context, userID string) *model.PodcastListResponse {
	s.poller.Reconcile()

	podcasts := s.store.List(userID)
	return &model.PodcastListResponse{
		Podcasts: podcasts,
		Count:    len(podcasts),
	}
}

// Get returns one job owned by userID
func (s *PodcastService) Get(ctx context.Context, userID, jobID string) (model.Job, error) {
	job, ok := s.store.Get(jobID)
	if !ok || job.OwnerID != userID {
		return model.Job{}, ErrJobNotFound
	}
	return job, nil
}

// Refresh runs one immediate status check for a job owned by userID
func (s *PodcastService) Refresh(ctx context.Context, userID, jobID string) (model.Job, error) {
	if _, err := s.Get(ctx, userID, jobID); err != nil {
		return model.Job{}, err
	}

	job, err := s.poller.Refresh(ctx, jobID)
	if errors.Is(err, poller.ErrUnknownJob) {
		return model.Job{}, ErrJobNotFound
	}
	return job, err
}

// Content returns the player view of a completed job. When at is set only
// the questions near that playback position are returned.
func (s *PodcastService) Content(ctx context.Context, userID, jobID string, at *float64) (*model.PodcastContentResponse, error) {
	job, err := s.ready(ctx, userID, jobID)
	if err != nil {
		return nil, err
	}

	content, ok := s.cache.Get(ctx, jobID)
	if !ok {
		content, err = s.remote.GetPodcast(ctx, jobID)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrContentFetchFailed, err)
		}
		s.cache.Set(ctx, jobID, content)
	}

	if !job.ContentLoaded {
		s.store.Update(jobID, model.ContentPatch(content))
	}

	questions := content.Questions
	if at != nil {
		questions = content.QuestionsNear(*at, QuestionWindow)
	}

	return &model.PodcastContentResponse{
		JobID:     jobID,
		Topics:    content.Topics,
		Duration:  content.Duration,
		Questions: questions,
		AudioURL:  fmt.Sprintf("/api/podcasts/%s/audio", jobID),
	}, nil
}

// Audio opens the audio of a completed job
func (s *PodcastService) Audio(ctx context.Context, userID, jobID string) (*AudioResult, error) {
	if _, err := s.ready(ctx, userID, jobID); err != nil {
		return nil, err
	}
	return s.audio.Open(ctx, jobID)
}

// Remove drops the job locally first, then asks the generation service to
// delete it. A failed remote deletion is queued for retry and reported as a
// warning; the local removal stands either way.
func (s *PodcastService) Remove(ctx context.Context, userID, jobID string) (*model.PodcastDeleteResponse, error) {
	if _, err := s.Get(ctx, userID, jobID); err != nil {
		return nil, err
	}

	s.store.Remove(jobID)
	s.cache.Delete(ctx, jobID)

	resp := &model.PodcastDeleteResponse{
		JobID:   jobID,
		Deleted: true,
	}

	if s.audio != nil {
		if err := s.audio.Purge(ctx, jobID); err != nil {
			log.Printf("[Podcast] failed to purge mirrored audio for %s: %v", jobID, err)
		}
	}

	err := s.remote.DeletePodcast(ctx, jobID)
	if err == nil || IsRemoteNotFound(err) {
		resp.RemoteDeleted = true
		return resp, nil
	}

	log.Printf("[Podcast] remote delete of %s failed: %v", jobID, err)
	resp.Warning = "remote deletion failed"
	if s.enqueueRemoteDelete(jobID) {
		resp.Warning = "remote deletion failed, retry scheduled"
	}
	return resp, nil
}

// Stats reports tracked and actively polled jobs
func (s *PodcastService) Stats() (tracked int, pollers poller.Stats) {
	return s.store.Len(), s.poller.Stats()
}

func (s *PodcastService) ready(ctx context.Context, userID, jobID string) (model.Job, error) {
	job, err := s.Get(ctx, userID, jobID)
	if err != nil {
		return model.Job{}, err
	}

	switch job.Status {
	case model.JobStatusCompleted:
		return job, nil
	case model.JobStatusFailed:
		return job, ErrJobFailed
	default:
		return job, ErrJobNotCompleted
	}
}

func (s *PodcastService) enqueueRemoteDelete(jobID string) bool {
	if s.tasks == nil {
		return false
	}

	task, opts, err := NewRemoteDeleteTask(jobID)
	if err != nil {
		log.Printf("[Podcast] failed to create delete task for %s: %v", jobID, err)
		return false
	}

	if _, err := s.tasks.Enqueue(task, opts...); err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			return true
		}
		log.Printf("[Podcast] failed to enqueue delete task for %s: %v", jobID, err)
		return false
	}
	return true
}

// IsRemoteNotFound reports whether err is a 404 from the generation service
func IsRemoteNotFound(err error) bool {
	var apiErr *client.APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}
