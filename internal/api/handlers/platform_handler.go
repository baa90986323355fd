package handlers

import (
	"log/slog"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/oauth2"

	config "github.com/CurtWal/Touch/configs"
	"github.com/CurtWal/Touch/internal/models"
	"github.com/CurtWal/Touch/internal/repository"
	"github.com/CurtWal/Touch/internal/transfer"
	"github.com/CurtWal/Touch/pkg/utils"
)

type PlatformHandler struct {
	cfg         *config.Config
	credentials repository.CredentialRepository
}

func NewPlatformHandler(cfg *config.Config, credentials repository.CredentialRepository) *PlatformHandler {
	return &PlatformHandler{cfg: cfg, credentials: credentials}
}

func (h *PlatformHandler) oauthConfig(platform string) *oauth2.Config {
	switch platform {
	case models.PlatformLinkedin:
		return &oauth2.Config{
			ClientID:     h.cfg.LinkedinClientID,
			ClientSecret: h.cfg.LinkedinClientSecret,
			RedirectURL:  h.cfg.LinkedinRedirectURI,
			Scopes:       []string{"openid", "profile", "w_member_social"},
			Endpoint: oauth2.Endpoint{
				AuthURL:  h.cfg.LinkedinAuthBase + "/oauth/v2/authorization",
				TokenURL: h.cfg.LinkedinAuthBase + "/oauth/v2/accessToken",
			},
		}
	case models.PlatformTwitter:
		return &oauth2.Config{
			ClientID:     h.cfg.TwitterClientID,
			ClientSecret: h.cfg.TwitterClientSecret,
			RedirectURL:  h.cfg.TwitterRedirectURI,
			Scopes:       []string{"tweet.read", "tweet.write", "users.read", "offline.access"},
			Endpoint: oauth2.Endpoint{
				AuthURL:  "https://twitter.com/i/oauth2/authorize",
				TokenURL: h.cfg.TwitterAPIBase + "/2/oauth2/token",
			},
		}
	}
	return nil
}

// Connect redirects the user to the platform's consent screen. The
// OAuth state carries the user id and PKCE verifier, encrypted so the
// callback can run without a session.
func (h *PlatformHandler) Connect(c *fiber.Ctx) error {
	userID := GetUserID(c)
	platform := c.Params("platform")

	oauthCfg := h.oauthConfig(platform)
	if oauthCfg == nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unsupported platform",
		})
	}

	verifier := oauth2.GenerateVerifier()
	state, err := utils.Encrypt([]byte(userID+"|"+verifier), []byte(h.cfg.TokenCryptKey))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	url := oauthCfg.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier))
	return c.Redirect(url, fiber.StatusTemporaryRedirect)
}

func (h *PlatformHandler) Callback(c *fiber.Ctx) error {
	platform := c.Params("platform")
	code := c.Query("code")
	state := c.Query("state")
	if code == "" || state == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Missing code or state",
		})
	}

	decrypted, err := utils.Decrypt(state, []byte(h.cfg.TokenCryptKey))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid state",
		})
	}
	parts := strings.SplitN(decrypted, "|", 2)
	if len(parts) != 2 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid state",
		})
	}
	userID, verifier := parts[0], parts[1]

	oauthCfg := h.oauthConfig(platform)
	if oauthCfg == nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unsupported platform",
		})
	}

	token, err := oauthCfg.Exchange(c.Context(), code, oauth2.VerifierOption(verifier))
	if err != nil {
		slog.Error(err.Error())
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Token exchange failed",
		})
	}

	patch := map[string]string{
		models.CredAccessToken: token.AccessToken,
	}
	if token.RefreshToken != "" {
		patch[models.CredRefreshToken] = token.RefreshToken
	}
	var expiresAt *time.Time
	if !token.Expiry.IsZero() {
		expiry := token.Expiry
		expiresAt = &expiry
	}

	if err := h.credentials.Upsert(c.Context(), userID, platform, patch, expiresAt, ""); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.Redirect(h.cfg.FrontendURL+"/settings/platforms", fiber.StatusTemporaryRedirect)
}

// ListCredentials returns connection status per platform. Token values
// are never exposed.
func (h *PlatformHandler) ListCredentials(c *fiber.Ctx) error {
	userID := GetUserID(c)

	credentials, err := h.credentials.ListByUserID(c.Context(), userID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	out := make([]fiber.Map, 0, len(credentials))
	for _, cred := range credentials {
		out = append(out, fiber.Map{
			"platform":     cred.Platform,
			"expires_at":   cred.ExpiresAt,
			"refreshed_at": cred.RefreshedAt,
			"notes":        cred.Notes,
			"media_auth":   cred.Credentials[models.CredOAuth1Token] != "",
		})
	}
	return c.Status(fiber.StatusOK).JSON(out)
}

func (h *PlatformHandler) Disconnect(c *fiber.Ctx) error {
	userID := GetUserID(c)
	platform := c.Params("platform")

	if err := h.credentials.Remove(c.Context(), userID, platform); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"message": "Platform disconnected",
	})
}

// SetMediaAuth stores the OAuth1 pair the media upload endpoints need.
func (h *PlatformHandler) SetMediaAuth(c *fiber.Ctx) error {
	userID := GetUserID(c)

	var body transfer.MediaAuth
	if err := c.BodyParser(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unable to parse request body",
		})
	}
	if body.OAuthToken == "" || body.OAuthTokenSecret == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Missing oauth_token or oauth_token_secret",
		})
	}

	patch := map[string]string{
		models.CredOAuth1Token:  body.OAuthToken,
		models.CredOAuth1Secret: body.OAuthTokenSecret,
	}
	if err := h.credentials.Upsert(c.Context(), userID, models.PlatformTwitter, patch, nil, ""); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"message": "Media credentials saved",
	})
}
