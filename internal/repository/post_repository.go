package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/CurtWal/Touch/internal/models"
	"github.com/lib/pq"
)

type PostRepository interface {
	Create(ctx context.Context, post *models.Post) error
	GetByID(ctx context.Context, id string) (*models.Post, error)
	ListByUserID(ctx context.Context, userID string) ([]*models.Post, error)
	ListPending(ctx context.Context, now time.Time) ([]*models.Post, error)
	UpdateStatus(ctx context.Context, status, postID string) error
	IncrementAttempts(ctx context.Context, postID string) error
	MarkPublished(ctx context.Context, postID, platform, remoteID string, at time.Time) error
	SetPublished(ctx context.Context, postID string, remoteIDs map[string]string, at time.Time) error
	ClearMedia(ctx context.Context, postID string) error
	Remove(ctx context.Context, id string) error
}

type postRepository struct {
	db *sql.DB
}

func NewPostRepository(db *sql.DB) PostRepository {
	return &postRepository{db: db}
}

const postColumns = `id, user_id, platforms, body_text, first_comment, media_id, scheduled_at, status, remote_ids, attempts, published_at, created_at, updated_at`

func (r *postRepository) Create(ctx context.Context, post *models.Post) error {
	query := `
		INSERT INTO posts (id, user_id, platforms, body_text, first_comment, media_id, scheduled_at, status)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8)
	`

	_, err := r.db.ExecContext(ctx, query,
		post.ID,
		post.UserID,
		pq.Array(post.Platforms),
		post.BodyText,
		post.FirstComment,
		post.MediaID,
		post.ScheduledAt,
		post.Status,
	)
	if err != nil {
		slog.Info(err.Error())
		return err
	}

	return nil
}

func (r *postRepository) GetByID(ctx context.Context, id string) (*models.Post, error) {
	query := `SELECT ` + postColumns + ` FROM posts WHERE id = $1`
	return scanPost(r.db.QueryRowContext(ctx, query, id))
}

func (r *postRepository) ListByUserID(ctx context.Context, userID string) ([]*models.Post, error) {
	query := `SELECT ` + postColumns + ` FROM posts WHERE user_id = $1 ORDER BY scheduled_at DESC NULLS LAST`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	return collectPosts(rows)
}

// ListPending returns posts an external consumer may publish: eligible
// status with a due schedule.
func (r *postRepository) ListPending(ctx context.Context, now time.Time) ([]*models.Post, error) {
	query := `SELECT ` + postColumns + ` FROM posts WHERE status IN ($1, $2) AND scheduled_at IS NOT NULL AND scheduled_at <= $3`
	rows, err := r.db.QueryContext(ctx, query, models.PostStatusApproved, models.PostStatusScheduled, now)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	return collectPosts(rows)
}

func (r *postRepository) UpdateStatus(ctx context.Context, status, postID string) error {
	query := `UPDATE posts SET status = $1, updated_at = $2 WHERE id = $3`
	_, err := r.db.ExecContext(ctx, query, status, time.Now(), postID)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

func (r *postRepository) IncrementAttempts(ctx context.Context, postID string) error {
	query := `UPDATE posts SET attempts = attempts + 1, updated_at = $1 WHERE id = $2`
	_, err := r.db.ExecContext(ctx, query, time.Now(), postID)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

// MarkPublished records a single platform's remote id. published_at is
// stamped only on the first success.
func (r *postRepository) MarkPublished(ctx context.Context, postID, platform, remoteID string, at time.Time) error {
	query := `
		UPDATE posts
		SET status = $1,
			remote_ids = remote_ids || jsonb_build_object($2::text, $3::text),
			published_at = COALESCE(published_at, $4),
			updated_at = $4
		WHERE id = $5
	`
	_, err := r.db.ExecContext(ctx, query, models.PostStatusPublished, platform, remoteID, at, postID)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

// SetPublished persists the aggregated publish outcome in one write.
func (r *postRepository) SetPublished(ctx context.Context, postID string, remoteIDs map[string]string, at time.Time) error {
	encoded, err := json.Marshal(remoteIDs)
	if err != nil {
		slog.Info(err.Error())
		return err
	}

	query := `
		UPDATE posts
		SET status = $1,
			remote_ids = remote_ids || $2::jsonb,
			published_at = COALESCE(published_at, $3),
			updated_at = $3
		WHERE id = $4
	`
	_, err = r.db.ExecContext(ctx, query, models.PostStatusPublished, encoded, at, postID)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

func (r *postRepository) ClearMedia(ctx context.Context, postID string) error {
	query := `UPDATE posts SET media_id = NULL, updated_at = $1 WHERE id = $2`
	_, err := r.db.ExecContext(ctx, query, time.Now(), postID)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

func (r *postRepository) Remove(ctx context.Context, id string) error {
	query := `DELETE FROM posts WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPost(row rowScanner) (*models.Post, error) {
	var post models.Post
	var platforms pq.StringArray
	var mediaID sql.NullString
	var remoteIDs []byte

	err := row.Scan(&post.ID, &post.UserID, &platforms, &post.BodyText, &post.FirstComment,
		&mediaID, &post.ScheduledAt, &post.Status, &remoteIDs, &post.Attempts,
		&post.PublishedAt, &post.CreatedAt, &post.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		slog.Info(err.Error())
		return nil, err
	}

	post.Platforms = platforms
	post.MediaID = mediaID.String
	if len(remoteIDs) > 0 {
		if err := json.Unmarshal(remoteIDs, &post.RemoteIDs); err != nil {
			slog.Info(err.Error())
			return nil, err
		}
	}

	return &post, nil
}

func collectPosts(rows *sql.Rows) ([]*models.Post, error) {
	var posts []*models.Post
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		posts = append(posts, post)
	}
	if err := rows.Err(); err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	return posts, nil
}
