package repository

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/CurtWal/Touch/internal/models"
)

type ContactRepository interface {
	GetByID(ctx context.Context, id string) (*models.Contact, error)
	ListUnattended(ctx context.Context, userID string) ([]*models.Contact, error)
	StampFollowUp(ctx context.Context, id string, at time.Time) error
}

type contactRepository struct {
	db *sql.DB
}

func NewContactRepository(db *sql.DB) ContactRepository {
	return &contactRepository{db: db}
}

const contactColumns = `id, user_id, first_name, last_name, email, phone, company, notes, sms_opt_in, email_opt_in, last_followup_sent, created_at, updated_at`

func (r *contactRepository) GetByID(ctx context.Context, id string) (*models.Contact, error) {
	query := `SELECT ` + contactColumns + ` FROM contacts WHERE id = $1`
	return scanContact(r.db.QueryRowContext(ctx, query, id))
}

// ListUnattended returns the user's contacts that have never received an
// automated follow-up.
func (r *contactRepository) ListUnattended(ctx context.Context, userID string) ([]*models.Contact, error) {
	query := `SELECT ` + contactColumns + ` FROM contacts WHERE user_id = $1 AND last_followup_sent IS NULL`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var contacts []*models.Contact
	for rows.Next() {
		contact, err := scanContact(rows)
		if err != nil {
			return nil, err
		}
		contacts = append(contacts, contact)
	}
	if err := rows.Err(); err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	return contacts, nil
}

func (r *contactRepository) StampFollowUp(ctx context.Context, id string, at time.Time) error {
	query := `UPDATE contacts SET last_followup_sent = $1, updated_at = $1 WHERE id = $2`
	_, err := r.db.ExecContext(ctx, query, at, id)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

func scanContact(row rowScanner) (*models.Contact, error) {
	var contact models.Contact
	err := row.Scan(&contact.ID, &contact.UserID, &contact.FirstName, &contact.LastName,
		&contact.Email, &contact.Phone, &contact.Company, &contact.Notes,
		&contact.SMSOptIn, &contact.EmailOptIn, &contact.LastFollowUpSent,
		&contact.CreatedAt, &contact.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		slog.Info(err.Error())
		return nil, err
	}
	return &contact, nil
}
