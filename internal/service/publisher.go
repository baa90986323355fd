package service

import (
	"context"

	"github.com/CurtWal/Touch/internal/models"
)

// PublishResult reports a successful publication on one platform.
type PublishResult struct {
	Platform string
	PostID   string
	RemoteID string
}

// Publisher publishes a post to a single platform on behalf of a user.
type Publisher interface {
	Publish(ctx context.Context, post *models.Post, userID string) (*PublishResult, error)
}

// Registry maps platform names to their publishers.
type Registry map[string]Publisher

func (r Registry) Lookup(platform string) (Publisher, bool) {
	p, ok := r[platform]
	return p, ok
}
