package job

import (
	"context"
	"log/slog"

	"github.com/CurtWal/Touch/internal/service"
)

type MediaRetentionJob struct {
	media service.MediaService
}

func NewMediaRetentionJob(media service.MediaService) *MediaRetentionJob {
	return &MediaRetentionJob{media: media}
}

// CleanExpiredMedia deletes staged blobs older than the retention window.
func (c *MediaRetentionJob) CleanExpiredMedia() {
	removed, err := c.media.Sweep(context.Background())
	if err != nil {
		slog.Info(err.Error())
		return
	}
	if removed > 0 {
		slog.Info("expired media removed", "count", removed)
	}
}
