package workflow

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	cfg "github.com/CurtWal/Touch/configs"
	"github.com/CurtWal/Touch/internal/models"
	"github.com/CurtWal/Touch/internal/repository"
	"github.com/CurtWal/Touch/internal/scheduler"
	"github.com/CurtWal/Touch/internal/service"
)

const (
	JobPublishPost    = "publish post"
	JobDeletePost     = "delete-published-post"
	JobRandomFollowUp = "random_follow_up"

	// Published posts are torn down a day after they go out.
	deleteDelay = 24 * time.Hour
)

// JobScheduler is the slice of the scheduler the workflows need.
type JobScheduler interface {
	ScheduleAt(ctx context.Context, name string, when time.Time, payload []byte, uniqueKey string) error
	ScheduleEvery(ctx context.Context, name string, every time.Duration, payload []byte, uniqueKey string) error
	Cancel(ctx context.Context, name string, payloadFilter map[string]any) error
}

type publishPayload struct {
	PostID string `json:"postId"`
	UserID string `json:"userId"`
}

type deletePayload struct {
	PostID string `json:"postId"`
}

// PublishWorkflow drives a post from eligible to published across every
// platform it targets, then schedules its deferred cleanup.
type PublishWorkflow struct {
	config     *cfg.Config
	posts      repository.PostRepository
	publishers service.Registry
	media      service.MediaService
	scheduler  JobScheduler
}

func NewPublishWorkflow(config *cfg.Config, posts repository.PostRepository, publishers service.Registry, media service.MediaService, scheduler JobScheduler) *PublishWorkflow {
	return &PublishWorkflow{
		config:     config,
		posts:      posts,
		publishers: publishers,
		media:      media,
		scheduler:  scheduler,
	}
}

// SchedulePublish enqueues the publish job for a post at its scheduled
// time. One pending job per post.
func (w *PublishWorkflow) SchedulePublish(ctx context.Context, post *models.Post) error {
	payload, err := json.Marshal(publishPayload{PostID: post.ID, UserID: post.UserID})
	if err != nil {
		return err
	}
	when := time.Now()
	if post.ScheduledAt != nil {
		when = *post.ScheduledAt
	}
	return w.scheduler.ScheduleAt(ctx, JobPublishPost, when, payload, JobPublishPost+":"+post.ID)
}

// HandlePublishPost is the "publish post" job handler.
func (w *PublishWorkflow) HandlePublishPost(ctx context.Context, job *models.Job) error {
	var payload publishPayload
	if err := job.DecodePayload(&payload); err != nil {
		return err
	}

	post, err := w.posts.GetByID(ctx, payload.PostID)
	if err != nil {
		return err
	}
	if post == nil {
		slog.Warn("publish job for missing post", "post_id", payload.PostID)
		return nil
	}
	if !post.EligibleForPublish() {
		slog.Warn("publish job for ineligible post", "post_id", post.ID, "status", post.Status)
		return nil
	}

	if err := w.posts.IncrementAttempts(ctx, post.ID); err != nil {
		slog.Info(err.Error())
	}
	attempts := post.Attempts + 1

	remoteIDs := make(map[string]string)
	failures := make(map[string]string)
	for _, platform := range post.Platforms {
		publisher, ok := w.publishers.Lookup(platform)
		if !ok {
			failures[platform] = "no publisher registered"
			continue
		}
		result, err := publisher.Publish(ctx, post, payload.UserID)
		if err != nil {
			slog.Error("platform publish failed", "post_id", post.ID, "platform", platform, "error", err)
			failures[platform] = err.Error()
			continue
		}
		remoteIDs[result.Platform] = result.RemoteID
	}

	slog.Info("publish finished",
		"post_id", post.ID,
		"published", len(remoteIDs),
		"failed", len(failures),
		"errors", failures,
	)

	if len(remoteIDs) == 0 {
		return w.retryLater(attempts)
	}

	now := time.Now()
	if err := w.posts.SetPublished(ctx, post.ID, remoteIDs, now); err != nil {
		return err
	}
	return w.ScheduleDeletion(ctx, post.ID, now.Add(deleteDelay))
}

// retryLater turns a fully-failed publish into a scheduler retry with
// exponential backoff when retries are enabled. The pending job row is
// reused; inserting a fresh job here would collide with its unique key.
// Disabled by default; the job is then dropped and the post stays
// eligible for a manual re-schedule.
func (w *PublishWorkflow) retryLater(attempts int) error {
	if w.config.PublishRetryBackoff <= 0 || attempts >= w.config.PublishMaxAttempts {
		return nil
	}

	backoff := w.config.PublishRetryBackoff
	for i := 1; i < attempts; i++ {
		backoff *= 2
	}
	return scheduler.RetryAfter(backoff)
}

// ScheduleDeletion enqueues the deferred post teardown.
func (w *PublishWorkflow) ScheduleDeletion(ctx context.Context, postID string, when time.Time) error {
	payload, err := json.Marshal(deletePayload{PostID: postID})
	if err != nil {
		return err
	}
	return w.scheduler.ScheduleAt(ctx, JobDeletePost, when, payload, JobDeletePost+":"+postID)
}

// HandleDeletePublishedPost removes the post and its staged media blob.
// A post already gone is a no-op.
func (w *PublishWorkflow) HandleDeletePublishedPost(ctx context.Context, job *models.Job) error {
	var payload deletePayload
	if err := job.DecodePayload(&payload); err != nil {
		return err
	}

	post, err := w.posts.GetByID(ctx, payload.PostID)
	if err != nil {
		return err
	}
	if post == nil {
		return nil
	}

	if post.MediaID != "" {
		if err := w.media.Delete(ctx, post.MediaID); err != nil {
			slog.Info(err.Error())
		}
		if err := w.posts.ClearMedia(ctx, post.ID); err != nil {
			slog.Info(err.Error())
		}
	}
	return w.posts.Remove(ctx, post.ID)
}
