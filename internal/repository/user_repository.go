package repository

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/CurtWal/Touch/internal/models"
)

type UserRepository interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	SetAutoFollowUp(ctx context.Context, id string, enabled bool, start *time.Time) error
}

type userRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	query := `SELECT id, email, name, auto_follow_up_enabled, auto_follow_up_start_date, quiet_hours_start, quiet_hours_end, created_at, updated_at FROM users WHERE id = $1`
	row := r.db.QueryRowContext(ctx, query, id)

	var user models.User
	err := row.Scan(&user.ID, &user.Email, &user.Name, &user.AutoFollowUpEnabled,
		&user.AutoFollowUpStartDate, &user.QuietHoursStart, &user.QuietHoursEnd,
		&user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		slog.Info(err.Error())
		return nil, err
	}

	return &user, nil
}

func (r *userRepository) SetAutoFollowUp(ctx context.Context, id string, enabled bool, start *time.Time) error {
	query := `
		UPDATE users
		SET auto_follow_up_enabled = $1,
			auto_follow_up_start_date = COALESCE($2, auto_follow_up_start_date),
			updated_at = now()
		WHERE id = $3
	`
	_, err := r.db.ExecContext(ctx, query, enabled, start, id)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}
