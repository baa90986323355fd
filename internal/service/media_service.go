package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/h2non/filetype"
	gonanoid "github.com/matoous/go-nanoid/v2"

	cfg "github.com/CurtWal/Touch/configs"
	"github.com/CurtWal/Touch/internal/models"
	"github.com/CurtWal/Touch/internal/repository"
)

var (
	ErrMediaTooLarge       = errors.New("media file too large")
	ErrMediaUnsupported    = errors.New("unsupported media type")
	ErrMediaNotFound       = errors.New("media not found")
	ErrMediaNotTransferred = errors.New("media blob missing")
)

// MediaService stores uploaded media blobs in R2 and their metadata in
// Postgres. Uploads are temporary staging for publication; anything
// older than the retention window is swept.
type MediaService interface {
	Upload(ctx context.Context, userID, fileName string, data []byte) (*models.MediaAsset, error)
	Get(ctx context.Context, id string) (*models.MediaAsset, []byte, error)
	Delete(ctx context.Context, id string) error
	// Sweep removes assets created before the retention cutoff and
	// returns how many were deleted.
	Sweep(ctx context.Context) (int, error)
}

type mediaService struct {
	config *cfg.Config
	repo   repository.MediaRepository
	client *s3.Client
}

func NewMediaService(config *cfg.Config, repo repository.MediaRepository) MediaService {
	awsCfg, err := awsconfig.LoadDefaultConfig(context.TODO(),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(config.S3.AccessKey, config.S3.SecretKey, "")),
		awsconfig.WithRegion("auto"),
	)
	if err != nil {
		slog.Info(err.Error())
		log.Fatal(err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(fmt.Sprintf("https://%s.r2.cloudflarestorage.com", config.S3.AccountID))
	})

	return &mediaService{config: config, repo: repo, client: client}
}

func (s *mediaService) Upload(ctx context.Context, userID, fileName string, data []byte) (*models.MediaAsset, error) {
	if int64(len(data)) > s.config.MediaMaxBytes {
		return nil, ErrMediaTooLarge
	}

	kind, err := filetype.Match(data)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	if !filetype.IsImage(data) && !filetype.IsVideo(data) {
		return nil, ErrMediaUnsupported
	}

	id, err := gonanoid.New()
	if err != nil {
		return nil, err
	}
	key := fmt.Sprintf("media/%s/%s.%s", userID, id, kind.Extension)

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.config.S3.BucketName),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(kind.MIME.Value),
	})
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}

	asset := &models.MediaAsset{
		ID:         id,
		UserID:     userID,
		StorageKey: key,
		FileName:   fileName,
		MimeType:   kind.MIME.Value,
		FileSize:   int64(len(data)),
	}
	if err := s.repo.Create(ctx, asset); err != nil {
		return nil, err
	}
	return asset, nil
}

func (s *mediaService) Get(ctx context.Context, id string) (*models.MediaAsset, []byte, error) {
	asset, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if asset == nil {
		return nil, nil, ErrMediaNotFound
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.config.S3.BucketName),
		Key:    aws.String(asset.StorageKey),
	})
	if err != nil {
		slog.Info(err.Error())
		return nil, nil, ErrMediaNotTransferred
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		slog.Info(err.Error())
		return nil, nil, err
	}
	return asset, data, nil
}

func (s *mediaService) Delete(ctx context.Context, id string) error {
	asset, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if asset == nil {
		return nil
	}

	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.config.S3.BucketName),
		Key:    aws.String(asset.StorageKey),
	})
	if err != nil {
		slog.Info(err.Error())
	}
	return s.repo.Remove(ctx, id)
}

func (s *mediaService) Sweep(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-s.config.MediaRetention)
	expired, err := s.repo.ListExpired(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, asset := range expired {
		if err := s.Delete(ctx, asset.ID); err != nil {
			slog.Info(err.Error())
			continue
		}
		removed++
	}
	return removed, nil
}
