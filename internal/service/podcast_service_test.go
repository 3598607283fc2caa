package service

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura/api/internal/client"
	"github.com/aura/api/internal/model"
	"github.com/aura/api/internal/poller"
	"github.com/aura/api/internal/store"
)

type fakeRemote struct {
	mu          sync.Mutex
	nextID      string
	generateErr error
	generated   []*model.PodcastGenerateRequest
	status      *model.RemoteJobStatus
	content     *model.PodcastContent
	contentErr  error
	audio       string
	deleteErr   error
	deleted     []string
	streams     int
}

func (f *fakeRemote) GeneratePodcast(ctx context.Context, req *model.PodcastGenerateRequest) (*client.GenerateResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.generated = append(f.generated, req)
	if f.generateErr != nil {
		return nil, f.generateErr
	}
	return &client.GenerateResponse{ID: f.nextID}, nil
}

func (f *fakeRemote) GetStatus(ctx context.Context, jobID string) (*model.RemoteJobStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.status == nil {
		return &model.RemoteJobStatus{Status: model.RemoteStatusQueued}, nil
	}
	return f.status, nil
}

func (f *fakeRemote) GetPodcast(ctx context.Context, jobID string) (*model.PodcastContent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.contentErr != nil {
		return nil, f.contentErr
	}
	return f.content, nil
}

func (f *fakeRemote) StreamAudio(ctx context.Context, jobID string) (*client.AudioStream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.streams++
	return &client.AudioStream{
		Body:        io.NopCloser(bytes.NewReader([]byte(f.audio))),
		ContentType: "audio/mpeg",
	}, nil
}

func (f *fakeRemote) DeletePodcast(ctx context.Context, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, jobID)
	return f.deleteErr
}

type fakeEnqueuer struct {
	tasks []*asynq.Task
	err   error
}

func (f *fakeEnqueuer) Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{ID: "task-1", Type: task.Type()}, nil
}

type fixture struct {
	store   *store.JobStore
	poller  *poller.Poller
	remote  *fakeRemote
	tasks   *fakeEnqueuer
	service *PodcastService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	s := store.NewJobStore()
	remote := &fakeRemote{
		nextID: "job-1",
		content: &model.PodcastContent{
			Topics:   []string{"air quality"},
			Duration: 180,
			Questions: []model.Question{
				{Timestamp: 5, Question: "Is it safe to cycle?"},
				{Timestamp: 60, Question: "What about pollen?"},
			},
		},
		audio: "ID3audio",
	}
	p := poller.New(s, remote, poller.Config{Interval: time.Hour, RequestTimeout: time.Second})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = p.Shutdown(ctx)
	})

	tasks := &fakeEnqueuer{}
	svc := NewPodcastService(s, p, remote, NewContentCache(nil, time.Minute), NewAudioService(remote, nil, time.Minute), tasks)

	return &fixture{store: s, poller: p, remote: remote, tasks: tasks, service: svc}
}

func (f *fixture) seed(t *testing.T, id, owner string, status model.JobStatus) {
	t.Helper()
	require.NoError(t, f.store.Insert(model.Job{ID: id, OwnerID: owner, CreatedAt: time.Now()}))
	if status != model.JobStatusGenerating {
		f.store.Update(id, model.StatusPatch(status, 100))
	}
}

func TestSubmit(t *testing.T) {
	f := newFixture(t)

	resp, err := f.service.Submit(context.Background(), "user-1", &model.PodcastGenerateRequest{})
	require.NoError(t, err)

	assert.Equal(t, "job-1", resp.JobID)
	assert.Equal(t, model.JobStatusGenerating, resp.Status)
	assert.Equal(t, 0, resp.Progress)

	job, ok := f.store.Get("job-1")
	require.True(t, ok)
	assert.Equal(t, "user-1", job.OwnerID)
	assert.Equal(t, model.JobStatusGenerating, job.Status)
	assert.True(t, f.poller.IsActive("job-1"))

	require.Len(t, f.remote.generated, 1)
	assert.Equal(t, model.ToneCasual, f.remote.generated[0].Preferences.Tone)
	assert.NotNil(t, f.remote.generated[0].Interests)
}

func TestSubmit_WithoutUser(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.Submit(context.Background(), "", &model.PodcastGenerateRequest{})

	assert.ErrorIs(t, err, ErrPreconditionFailed)
	assert.Empty(t, f.remote.generated)
	assert.Equal(t, 0, f.store.Len())
}

func TestSubmit_RemoteFailure(t *testing.T) {
	f := newFixture(t)
	f.remote.generateErr = errors.New("connection refused")

	_, err := f.service.Submit(context.Background(), "user-1", &model.PodcastGenerateRequest{})

	assert.ErrorIs(t, err, ErrGenerationRequestFailed)
	assert.Equal(t, 0, f.store.Len())
	assert.Equal(t, 0, f.poller.Stats().Active)
}

func TestSubmit_DuplicateID(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "job-1", "user-1", model.JobStatusCompleted)

	_, err := f.service.Submit(context.Background(), "user-1", &model.PodcastGenerateRequest{})

	assert.ErrorIs(t, err, ErrGenerationRequestFailed)
	assert.ErrorIs(t, err, store.ErrDuplicateID)
	assert.False(t, f.poller.IsActive("job-1"))
}

func TestList_OnlyOwnJobsAndReconciles(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "a", "user-1", model.JobStatusGenerating)
	f.seed(t, "b", "user-2", model.JobStatusGenerating)

	resp := f.service.List(context.Background(), "user-1")

	require.Equal(t, 1, resp.Count)
	assert.Equal(t, "a", resp.Podcasts[0].ID)
	assert.True(t, f.poller.IsActive("a"))
	assert.True(t, f.poller.IsActive("b"))
}

func TestGet_OtherOwnerIsNotFound(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "a", "user-1", model.JobStatusGenerating)

	_, err := f.service.Get(context.Background(), "user-2", "a")
	assert.ErrorIs(t, err, ErrJobNotFound)

	job, err := f.service.Get(context.Background(), "user-1", "a")
	require.NoError(t, err)
	assert.Equal(t, "a", job.ID)
}

func TestRefresh_CompletesJob(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "a", "user-1", model.JobStatusGenerating)
	f.remote.status = &model.RemoteJobStatus{Status: model.RemoteStatusCompleted, Progress: 100}

	job, err := f.service.Refresh(context.Background(), "user-1", "a")
	require.NoError(t, err)

	assert.Equal(t, model.JobStatusCompleted, job.Status)
	assert.Equal(t, []string{"air quality"}, job.Topics)
}

func TestContent_StatusErrors(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "gen", "user-1", model.JobStatusGenerating)
	f.seed(t, "bad", "user-1", model.JobStatusFailed)

	_, err := f.service.Content(context.Background(), "user-1", "gen", nil)
	assert.ErrorIs(t, err, ErrJobNotCompleted)

	_, err = f.service.Content(context.Background(), "user-1", "bad", nil)
	assert.ErrorIs(t, err, ErrJobFailed)

	_, err = f.service.Content(context.Background(), "user-2", "gen", nil)
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestContent_HydratesJob(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "a", "user-1", model.JobStatusCompleted)

	resp, err := f.service.Content(context.Background(), "user-1", "a", nil)
	require.NoError(t, err)

	assert.Equal(t, 180.0, resp.Duration)
	assert.Len(t, resp.Questions, 2)
	assert.Equal(t, "/api/podcasts/a/audio", resp.AudioURL)

	job, _ := f.store.Get("a")
	assert.True(t, job.ContentLoaded)
	assert.Equal(t, []string{"air quality"}, job.Topics)
}

func TestContent_QuestionsNearPosition(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "a", "user-1", model.JobStatusCompleted)

	at := 12.0
	resp, err := f.service.Content(context.Background(), "user-1", "a", &at)
	require.NoError(t, err)

	require.Len(t, resp.Questions, 1)
	assert.Equal(t, "Is it safe to cycle?", resp.Questions[0].Question)
}

func TestContent_FetchFailure(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "a", "user-1", model.JobStatusCompleted)
	f.remote.contentErr = errors.New("boom")

	_, err := f.service.Content(context.Background(), "user-1", "a", nil)
	assert.ErrorIs(t, err, ErrContentFetchFailed)
}

func TestAudio_ProxiesWithoutStorage(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "a", "user-1", model.JobStatusCompleted)

	res, err := f.service.Audio(context.Background(), "user-1", "a")
	require.NoError(t, err)
	require.NotNil(t, res.Stream)
	defer res.Stream.Body.Close()

	data, err := io.ReadAll(res.Stream.Body)
	require.NoError(t, err)
	assert.Equal(t, "ID3audio", string(data))
	assert.Empty(t, res.RedirectURL)
}

func TestRemove(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "a", "user-1", model.JobStatusGenerating)
	f.poller.Start("a")

	resp, err := f.service.Remove(context.Background(), "user-1", "a")
	require.NoError(t, err)

	assert.True(t, resp.Deleted)
	assert.True(t, resp.RemoteDeleted)
	assert.Empty(t, resp.Warning)
	assert.Equal(t, []string{"a"}, f.remote.deleted)

	_, ok := f.store.Get("a")
	assert.False(t, ok)
	assert.False(t, f.poller.IsActive("a"))
}

func TestRemove_NotOwner(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "a", "user-1", model.JobStatusGenerating)

	_, err := f.service.Remove(context.Background(), "user-2", "a")
	assert.ErrorIs(t, err, ErrJobNotFound)

	_, ok := f.store.Get("a")
	assert.True(t, ok)
	assert.Empty(t, f.remote.deleted)
}

func TestRemove_RemoteNotFoundCountsAsDeleted(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "a", "user-1", model.JobStatusCompleted)
	f.remote.deleteErr = &client.APIError{StatusCode: http.StatusNotFound}

	resp, err := f.service.Remove(context.Background(), "user-1", "a")
	require.NoError(t, err)

	assert.True(t, resp.RemoteDeleted)
	assert.Empty(t, f.tasks.tasks)
}

func TestRemove_RemoteFailureSchedulesRetry(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "a", "user-1", model.JobStatusCompleted)
	f.remote.deleteErr = &client.APIError{StatusCode: http.StatusBadGateway}

	resp, err := f.service.Remove(context.Background(), "user-1", "a")
	require.NoError(t, err)

	assert.True(t, resp.Deleted)
	assert.False(t, resp.RemoteDeleted)
	assert.Contains(t, resp.Warning, "retry scheduled")

	require.Len(t, f.tasks.tasks, 1)
	assert.Equal(t, TaskTypeRemoteDelete, f.tasks.tasks[0].Type())

	payload, err := ParseRemoteDeletePayload(f.tasks.tasks[0])
	require.NoError(t, err)
	assert.Equal(t, "a", payload.JobID)

	_, ok := f.store.Get("a")
	assert.False(t, ok)
}

func TestRemove_EnqueueFailureStillRemovesLocally(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "a", "user-1", model.JobStatusCompleted)
	f.remote.deleteErr = errors.New("connection refused")
	f.tasks.err = errors.New("redis down")

	resp, err := f.service.Remove(context.Background(), "user-1", "a")
	require.NoError(t, err)

	assert.Equal(t, "remote deletion failed", resp.Warning)
	assert.Equal(t, 0, f.store.Len())
}
