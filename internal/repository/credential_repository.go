package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/CurtWal/Touch/internal/models"
	"github.com/CurtWal/Touch/pkg/utils"
)

type CredentialRepository interface {
	FindOne(ctx context.Context, userID, platform string) (*models.PlatformCredential, error)
	ListByUserID(ctx context.Context, userID string) ([]*models.PlatformCredential, error)
	ListExpiring(ctx context.Context, from, to time.Time) ([]*models.PlatformCredential, error)
	Upsert(ctx context.Context, userID, platform string, patch map[string]string, expiresAt *time.Time, notes string) error
	Remove(ctx context.Context, userID, platform string) error
}

type credentialRepository struct {
	db       *sql.DB
	cryptKey []byte
}

func NewCredentialRepository(db *sql.DB, cryptKey []byte) CredentialRepository {
	return &credentialRepository{db: db, cryptKey: cryptKey}
}

// Token values are never stored in the clear. Encryption happens here so
// callers only ever see plaintext credentials.
var encryptedCredentialKeys = map[string]bool{
	models.CredAccessToken:  true,
	models.CredRefreshToken: true,
	models.CredOAuth1Token:  true,
	models.CredOAuth1Secret: true,
}

func (r *credentialRepository) sealPatch(patch map[string]string) (map[string]string, error) {
	sealed := make(map[string]string, len(patch))
	for k, v := range patch {
		if encryptedCredentialKeys[k] && v != "" {
			encrypted, err := utils.Encrypt([]byte(v), r.cryptKey)
			if err != nil {
				return nil, err
			}
			sealed[k] = encrypted
			continue
		}
		sealed[k] = v
	}
	return sealed, nil
}

func (r *credentialRepository) openCredential(cred *models.PlatformCredential) error {
	for k, v := range cred.Credentials {
		if !encryptedCredentialKeys[k] || v == "" {
			continue
		}
		plaintext, err := utils.Decrypt(v, r.cryptKey)
		if err != nil {
			return err
		}
		cred.Credentials[k] = plaintext
	}
	return nil
}

const credentialColumns = `id, user_id, platform, credentials, expires_at, refreshed_at, notes, created_at, updated_at`

func (r *credentialRepository) FindOne(ctx context.Context, userID, platform string) (*models.PlatformCredential, error) {
	query := `SELECT ` + credentialColumns + ` FROM platform_credentials WHERE user_id = $1 AND platform = $2`
	cred, err := scanCredential(r.db.QueryRowContext(ctx, query, userID, platform))
	if err != nil || cred == nil {
		return cred, err
	}
	if err := r.openCredential(cred); err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	return cred, nil
}

func (r *credentialRepository) ListByUserID(ctx context.Context, userID string) ([]*models.PlatformCredential, error) {
	query := `SELECT ` + credentialColumns + ` FROM platform_credentials WHERE user_id = $1`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	return r.collectCredentials(rows)
}

// ListExpiring feeds the proactive refresh job: credentials whose token
// expires inside the window, or already has.
func (r *credentialRepository) ListExpiring(ctx context.Context, from, to time.Time) ([]*models.PlatformCredential, error) {
	query := `SELECT ` + credentialColumns + ` FROM platform_credentials WHERE expires_at IS NOT NULL AND expires_at <= $1 OR (expires_at BETWEEN $1 AND $2)`
	rows, err := r.db.QueryContext(ctx, query, from, to)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	return r.collectCredentials(rows)
}

// tokenRotated reports whether a patch carries fresh OAuth2 token
// material. Bookkeeping writes, like the cached platform member id or
// the OAuth1 media pair, must not move the refresh timestamp.
func tokenRotated(patch map[string]string) bool {
	return patch[models.CredAccessToken] != "" || patch[models.CredRefreshToken] != ""
}

// Upsert merges patch into the stored credentials map for (userID,
// platform), creating the record when absent. A nil expiresAt leaves the
// stored expiry untouched on update; refreshed_at only moves when the
// patch rotates token material.
func (r *credentialRepository) Upsert(ctx context.Context, userID, platform string, patch map[string]string, expiresAt *time.Time, notes string) error {
	sealed, err := r.sealPatch(patch)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	encoded, err := json.Marshal(sealed)
	if err != nil {
		slog.Info(err.Error())
		return err
	}

	query := `
		INSERT INTO platform_credentials (user_id, platform, credentials, expires_at, refreshed_at, notes)
		VALUES ($1, $2, $3::jsonb, $4, CASE WHEN $6 THEN now() END, $5)
		ON CONFLICT (user_id, platform) DO UPDATE
		SET credentials = platform_credentials.credentials || EXCLUDED.credentials,
			expires_at = COALESCE(EXCLUDED.expires_at, platform_credentials.expires_at),
			refreshed_at = CASE WHEN $6 THEN now() ELSE platform_credentials.refreshed_at END,
			notes = COALESCE(NULLIF(EXCLUDED.notes, ''), platform_credentials.notes),
			updated_at = now()
	`
	_, err = r.db.ExecContext(ctx, query, userID, platform, encoded, expiresAt, notes, tokenRotated(patch))
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

func (r *credentialRepository) Remove(ctx context.Context, userID, platform string) error {
	query := `DELETE FROM platform_credentials WHERE user_id = $1 AND platform = $2`
	_, err := r.db.ExecContext(ctx, query, userID, platform)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

func scanCredential(row rowScanner) (*models.PlatformCredential, error) {
	var cred models.PlatformCredential
	var credentials []byte

	err := row.Scan(&cred.ID, &cred.UserID, &cred.Platform, &credentials,
		&cred.ExpiresAt, &cred.RefreshedAt, &cred.Notes, &cred.CreatedAt, &cred.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		slog.Info(err.Error())
		return nil, err
	}

	if len(credentials) > 0 {
		if err := json.Unmarshal(credentials, &cred.Credentials); err != nil {
			slog.Info(err.Error())
			return nil, err
		}
	}

	return &cred, nil
}

func (r *credentialRepository) collectCredentials(rows *sql.Rows) ([]*models.PlatformCredential, error) {
	var creds []*models.PlatformCredential
	for rows.Next() {
		cred, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		if err := r.openCredential(cred); err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		creds = append(creds, cred)
	}
	if err := rows.Err(); err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	return creds, nil
}
