package job

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/CurtWal/Touch/internal/models"
	"github.com/CurtWal/Touch/internal/repository"
	"github.com/CurtWal/Touch/internal/service"
)

type TokenRefreshJob struct {
	cr repository.CredentialRepository
	li service.LinkedinService
	tw service.TwitterService
}

func NewTokenRefreshJob(
	cr repository.CredentialRepository,
	li service.LinkedinService,
	tw service.TwitterService) *TokenRefreshJob {
	return &TokenRefreshJob{
		cr: cr,
		li: li,
		tw: tw,
	}
}

// RefreshTokens rotates credentials expiring within the next half hour.
func (c *TokenRefreshJob) RefreshTokens() {
	ctx := context.Background()

	currentTime := time.Now()
	timeIn30Minutes := currentTime.Add(30 * time.Minute)

	credentials, err := c.cr.ListExpiring(ctx, currentTime, timeIn30Minutes)
	if err != nil {
		slog.Info(err.Error())
		return
	}

	var wg sync.WaitGroup

	concurrencyLimit := 10
	semaphore := make(chan struct{}, concurrencyLimit)

	for _, cred := range credentials {
		wg.Add(1)
		semaphore <- struct{}{}

		go func(cred *models.PlatformCredential) {
			defer wg.Done()
			defer func() { <-semaphore }()

			switch cred.Platform {
			case models.PlatformLinkedin:
				if err := c.li.RefreshToken(ctx, cred); err != nil {
					slog.Info("Unable to refresh tokens for LinkedIn")
				}
			case models.PlatformTwitter:
				if err := c.tw.RefreshToken(ctx, cred); err != nil {
					slog.Info("Unable to refresh tokens for Twitter")
				}
			}
		}(cred)
	}

	wg.Wait()
}
