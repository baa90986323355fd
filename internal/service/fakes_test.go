package service

import (
	"context"
	"time"

	"github.com/CurtWal/Touch/internal/models"
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
