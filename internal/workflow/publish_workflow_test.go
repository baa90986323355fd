package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	cfg "github.com/CurtWal/Touch/configs"
	"github.com/CurtWal/Touch/internal/models"
	"github.com/CurtWal/Touch/internal/scheduler"
	"github.com/CurtWal/Touch/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryPostRepo struct {
	posts map[string]*models.Post
}

func newMemoryPostRepo(posts ...*models.Post) *memoryPostRepo {
	repo := &memoryPostRepo{posts: make(map[string]*models.Post)}
	for _, p := range posts {
		clone := *p
		repo.posts[p.ID] = &clone
	}
	return repo
}

func (r *memoryPostRepo) Create(ctx context.Context, post *models.Post) error {
	clone := *post
	r.posts[post.ID] = &clone
	return nil
}

func (r *memoryPostRepo) GetByID(ctx context.Context, id string) (*models.Post, error) {
	post, ok := r.posts[id]
	if !ok {
		return nil, nil
	}
	clone := *post
	return &clone, nil
}

func (r *memoryPostRepo) ListByUserID(ctx context.Context, userID string) ([]*models.Post, error) {
	var out []*models.Post
	for _, p := range r.posts {
		if p.UserID == userID {
			clone := *p
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (r *memoryPostRepo) ListPending(ctx context.Context, now time.Time) ([]*models.Post, error) {
	return nil, nil
}

func (r *memoryPostRepo) UpdateStatus(ctx context.Context, status, postID string) error {
	if p, ok := r.posts[postID]; ok {
		p.Status = status
	}
	return nil
}

func (r *memoryPostRepo) IncrementAttempts(ctx context.Context, postID string) error {
	if p, ok := r.posts[postID]; ok {
		p.Attempts++
	}
	return nil
}

func (r *memoryPostRepo) MarkPublished(ctx context.Context, postID, platform, remoteID string, at time.Time) error {
	p, ok := r.posts[postID]
	if !ok {
		return nil
	}
	if p.RemoteIDs == nil {
		p.RemoteIDs = make(map[string]string)
	}
	p.RemoteIDs[platform] = remoteID
	if p.PublishedAt == nil {
		p.PublishedAt = &at
	}
	p.Status = models.PostStatusPublished
	return nil
}

func (r *memoryPostRepo) SetPublished(ctx context.Context, postID string, remoteIDs map[string]string, at time.Time) error {
	p, ok := r.posts[postID]
	if !ok {
		return nil
	}
	if p.RemoteIDs == nil {
		p.RemoteIDs = make(map[string]string)
	}
	for k, v := range remoteIDs {
		p.RemoteIDs[k] = v
	}
	p.Status = models.PostStatusPublished
	p.PublishedAt = &at
	return nil
}

func (r *memoryPostRepo) ClearMedia(ctx context.Context, postID string) error {
	if p, ok := r.posts[postID]; ok {
		p.MediaID = ""
	}
	return nil
}

func (r *memoryPostRepo) Remove(ctx context.Context, id string) error {
	delete(r.posts, id)
	return nil
}

type scheduledCall struct {
	name      string
	when      time.Time
	payload   []byte
	uniqueKey string
}

type fakeScheduler struct {
	scheduled []scheduledCall
	recurring []scheduledCall
	cancelled []map[string]any
}

func (s *fakeScheduler) ScheduleAt(ctx context.Context, name string, when time.Time, payload []byte, uniqueKey string) error {
	s.scheduled = append(s.scheduled, scheduledCall{name: name, when: when, payload: payload, uniqueKey: uniqueKey})
	return nil
}

func (s *fakeScheduler) ScheduleEvery(ctx context.Context, name string, every time.Duration, payload []byte, uniqueKey string) error {
	s.recurring = append(s.recurring, scheduledCall{name: name, payload: payload, uniqueKey: uniqueKey})
	return nil
}

func (s *fakeScheduler) Cancel(ctx context.Context, name string, payloadFilter map[string]any) error {
	s.cancelled = append(s.cancelled, payloadFilter)
	return nil
}

type fakePublisher struct {
	platform string
	err      error
	calls    int
}

func (p *fakePublisher) Publish(ctx context.Context, post *models.Post, userID string) (*service.PublishResult, error) {
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	return &service.PublishResult{Platform: p.platform, PostID: post.ID, RemoteID: "remote-" + p.platform}, nil
}

type fakeMedia struct {
	deleted []string
}

func (m *fakeMedia) Upload(ctx context.Context, userID, fileName string, data []byte) (*models.MediaAsset, error) {
	return nil, nil
}

func (m *fakeMedia) Get(ctx context.Context, id string) (*models.MediaAsset, []byte, error) {
	return &models.MediaAsset{ID: id, MimeType: "image/png"}, []byte("bytes"), nil
}

func (m *fakeMedia) Delete(ctx context.Context, id string) error {
	m.deleted = append(m.deleted, id)
	return nil
}

func (m *fakeMedia) Sweep(ctx context.Context) (int, error) { return 0, nil }

func publishJob(t *testing.T, postID, userID string) *models.Job {
	t.Helper()
	payload, err := json.Marshal(publishPayload{PostID: postID, UserID: userID})
	require.NoError(t, err)
	return &models.Job{ID: "job1", Name: JobPublishPost, Payload: payload}
}

func TestHandlePublishPostPartialSuccess(t *testing.T) {
	repo := newMemoryPostRepo(&models.Post{
		ID:        "p1",
		UserID:    "u1",
		Platforms: []string{models.PlatformLinkedin, models.PlatformTwitter},
		Status:    models.PostStatusScheduled,
	})
	sched := &fakeScheduler{}
	registry := service.Registry{
		models.PlatformLinkedin: &fakePublisher{platform: models.PlatformLinkedin},
		models.PlatformTwitter:  &fakePublisher{platform: models.PlatformTwitter, err: errors.New("twitter down")},
	}
	w := NewPublishWorkflow(&cfg.Config{}, repo, registry, &fakeMedia{}, sched)

	err := w.HandlePublishPost(context.Background(), publishJob(t, "p1", "u1"))
	require.NoError(t, err)

	post, _ := repo.GetByID(context.Background(), "p1")
	assert.Equal(t, models.PostStatusPublished, post.Status)
	assert.Equal(t, map[string]string{models.PlatformLinkedin: "remote-linkedin"}, post.RemoteIDs)
	assert.NotNil(t, post.PublishedAt)
	assert.Equal(t, 1, post.Attempts)

	require.Len(t, sched.scheduled, 1)
	assert.Equal(t, JobDeletePost, sched.scheduled[0].name)
	assert.Equal(t, JobDeletePost+":p1", sched.scheduled[0].uniqueKey)
	assert.WithinDuration(t, time.Now().Add(24*time.Hour), sched.scheduled[0].when, time.Minute)
}

func TestHandlePublishPostAllFailLeavesStatus(t *testing.T) {
	repo := newMemoryPostRepo(&models.Post{
		ID:        "p1",
		UserID:    "u1",
		Platforms: []string{models.PlatformTwitter},
		Status:    models.PostStatusApproved,
	})
	sched := &fakeScheduler{}
	registry := service.Registry{
		models.PlatformTwitter: &fakePublisher{platform: models.PlatformTwitter, err: errors.New("twitter down")},
	}
	w := NewPublishWorkflow(&cfg.Config{}, repo, registry, &fakeMedia{}, sched)

	err := w.HandlePublishPost(context.Background(), publishJob(t, "p1", "u1"))
	require.NoError(t, err)

	post, _ := repo.GetByID(context.Background(), "p1")
	assert.Equal(t, models.PostStatusApproved, post.Status)
	assert.Empty(t, post.RemoteIDs)
	assert.Nil(t, post.PublishedAt)
	assert.Empty(t, sched.scheduled)
}

func TestHandlePublishPostAllFailRetriesWithBackoff(t *testing.T) {
	repo := newMemoryPostRepo(&models.Post{
		ID:        "p1",
		UserID:    "u1",
		Platforms: []string{models.PlatformTwitter},
		Status:    models.PostStatusScheduled,
	})
	sched := &fakeScheduler{}
	registry := service.Registry{
		models.PlatformTwitter: &fakePublisher{platform: models.PlatformTwitter, err: errors.New("twitter down")},
	}
	config := &cfg.Config{PublishRetryBackoff: time.Minute, PublishMaxAttempts: 5}
	w := NewPublishWorkflow(config, repo, registry, &fakeMedia{}, sched)

	err := w.HandlePublishPost(context.Background(), publishJob(t, "p1", "u1"))
	var retry *scheduler.RetryError
	require.ErrorAs(t, err, &retry)
	assert.Equal(t, time.Minute, retry.After)

	// The retry rides on the claimed job row; a fresh insert would be
	// dropped by the unique key the pending job still holds.
	assert.Empty(t, sched.scheduled)

	// Second attempt doubles the delay.
	err = w.HandlePublishPost(context.Background(), publishJob(t, "p1", "u1"))
	require.ErrorAs(t, err, &retry)
	assert.Equal(t, 2*time.Minute, retry.After)
}

func TestHandlePublishPostRetryStopsAtMaxAttempts(t *testing.T) {
	repo := newMemoryPostRepo(&models.Post{
		ID:        "p1",
		UserID:    "u1",
		Platforms: []string{models.PlatformTwitter},
		Status:    models.PostStatusScheduled,
		Attempts:  4,
	})
	registry := service.Registry{
		models.PlatformTwitter: &fakePublisher{platform: models.PlatformTwitter, err: errors.New("twitter down")},
	}
	config := &cfg.Config{PublishRetryBackoff: time.Minute, PublishMaxAttempts: 5}
	w := NewPublishWorkflow(config, repo, registry, &fakeMedia{}, &fakeScheduler{})

	require.NoError(t, w.HandlePublishPost(context.Background(), publishJob(t, "p1", "u1")))
}

func TestHandlePublishPostMissingOrIneligible(t *testing.T) {
	repo := newMemoryPostRepo(&models.Post{
		ID:        "drafted",
		UserID:    "u1",
		Platforms: []string{models.PlatformLinkedin},
		Status:    models.PostStatusDraft,
	})
	sched := &fakeScheduler{}
	pub := &fakePublisher{platform: models.PlatformLinkedin}
	w := NewPublishWorkflow(&cfg.Config{}, repo, service.Registry{models.PlatformLinkedin: pub}, &fakeMedia{}, sched)

	require.NoError(t, w.HandlePublishPost(context.Background(), publishJob(t, "missing", "u1")))
	require.NoError(t, w.HandlePublishPost(context.Background(), publishJob(t, "drafted", "u1")))

	assert.Equal(t, 0, pub.calls)
	assert.Empty(t, sched.scheduled)
}

func TestHandleDeletePublishedPost(t *testing.T) {
	repo := newMemoryPostRepo(&models.Post{
		ID:      "p1",
		UserID:  "u1",
		MediaID: "m1",
		Status:  models.PostStatusPublished,
	})
	media := &fakeMedia{}
	w := NewPublishWorkflow(&cfg.Config{}, repo, service.Registry{}, media, &fakeScheduler{})

	payload, err := json.Marshal(deletePayload{PostID: "p1"})
	require.NoError(t, err)
	job := &models.Job{ID: "job1", Name: JobDeletePost, Payload: payload}

	require.NoError(t, w.HandleDeletePublishedPost(context.Background(), job))
	post, _ := repo.GetByID(context.Background(), "p1")
	assert.Nil(t, post)
	assert.Equal(t, []string{"m1"}, media.deleted)

	// Running again is a no-op.
	require.NoError(t, w.HandleDeletePublishedPost(context.Background(), job))
	assert.Len(t, media.deleted, 1)
}

func TestSchedulePublishUsesScheduledTime(t *testing.T) {
	sched := &fakeScheduler{}
	w := NewPublishWorkflow(&cfg.Config{}, newMemoryPostRepo(), service.Registry{}, &fakeMedia{}, sched)

	when := time.Now().Add(2 * time.Hour)
	post := &models.Post{ID: "p1", UserID: "u1", ScheduledAt: &when}
	require.NoError(t, w.SchedulePublish(context.Background(), post))

	require.Len(t, sched.scheduled, 1)
	assert.Equal(t, JobPublishPost, sched.scheduled[0].name)
	assert.Equal(t, JobPublishPost+":p1", sched.scheduled[0].uniqueKey)
	assert.True(t, sched.scheduled[0].when.Equal(when))
}
