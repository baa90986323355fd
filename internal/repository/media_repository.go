package repository

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/CurtWal/Touch/internal/models"
)

type MediaRepository interface {
	Create(ctx context.Context, asset *models.MediaAsset) error
	GetByID(ctx context.Context, id string) (*models.MediaAsset, error)
	ListExpired(ctx context.Context, before time.Time) ([]*models.MediaAsset, error)
	Remove(ctx context.Context, id string) error
}

type mediaRepository struct {
	db *sql.DB
}

func NewMediaRepository(db *sql.DB) MediaRepository {
	return &mediaRepository{db: db}
}

func (r *mediaRepository) Create(ctx context.Context, asset *models.MediaAsset) error {
	query := `
		INSERT INTO media_assets (id, user_id, storage_key, file_name, mime_type, file_size)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.db.ExecContext(ctx, query, asset.ID, asset.UserID, asset.StorageKey, asset.FileName, asset.MimeType, asset.FileSize)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

func (r *mediaRepository) GetByID(ctx context.Context, id string) (*models.MediaAsset, error) {
	query := `SELECT id, user_id, storage_key, file_name, mime_type, file_size, created_at FROM media_assets WHERE id = $1`
	row := r.db.QueryRowContext(ctx, query, id)

	var asset models.MediaAsset
	err := row.Scan(&asset.ID, &asset.UserID, &asset.StorageKey, &asset.FileName, &asset.MimeType, &asset.FileSize, &asset.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		slog.Info(err.Error())
		return nil, err
	}

	return &asset, nil
}

func (r *mediaRepository) ListExpired(ctx context.Context, before time.Time) ([]*models.MediaAsset, error) {
	query := `SELECT id, user_id, storage_key, file_name, mime_type, file_size, created_at FROM media_assets WHERE created_at < $1`
	rows, err := r.db.QueryContext(ctx, query, before)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var assets []*models.MediaAsset
	for rows.Next() {
		var asset models.MediaAsset
		err := rows.Scan(&asset.ID, &asset.UserID, &asset.StorageKey, &asset.FileName, &asset.MimeType, &asset.FileSize, &asset.CreatedAt)
		if err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		assets = append(assets, &asset)
	}
	if err := rows.Err(); err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	return assets, nil
}

func (r *mediaRepository) Remove(ctx context.Context, id string) error {
	query := `DELETE FROM media_assets WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}
