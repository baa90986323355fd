package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	cfg "github.com/CurtWal/Touch/configs"
	"github.com/CurtWal/Touch/internal/models"
	"github.com/CurtWal/Touch/internal/repository"
)

const (
	restliProtocolVersion = "2.0.0"

	videoPollInterval    = 5 * time.Second
	videoPollMaxAttempts = 120
	videoPollMaxRetries  = 3
)

type LinkedinService interface {
	Publisher
	RefreshToken(ctx context.Context, cred *models.PlatformCredential) error
}

type linkedinService struct {
	config      *cfg.Config
	credentials repository.CredentialRepository
	posts       repository.PostRepository
	media       MediaService
	client      *http.Client
}

func NewLinkedinService(config *cfg.Config, credentials repository.CredentialRepository, posts repository.PostRepository, media MediaService) LinkedinService {
	return &linkedinService{
		config:      config,
		credentials: credentials,
		posts:       posts,
		media:       media,
		client:      &http.Client{Timeout: 30 * time.Second},
	}
}

func (s *linkedinService) Publish(ctx context.Context, post *models.Post, userID string) (*PublishResult, error) {
	cred, err := s.credentials.FindOne(ctx, userID, models.PlatformLinkedin)
	if err != nil {
		return nil, err
	}
	if cred == nil || cred.Credentials[models.CredAccessToken] == "" {
		return nil, ErrPlatformNotConnected
	}
	accessToken := cred.Credentials[models.CredAccessToken]

	authorID, err := s.resolveAuthorID(ctx, cred, userID, accessToken)
	if err != nil {
		return nil, err
	}
	ownerUrn := "urn:li:person:" + authorID

	var mediaUrn string
	var isVideo bool
	if post.MediaID != "" {
		asset, data, err := s.media.Get(ctx, post.MediaID)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMediaUpload, err)
		}
		if strings.HasPrefix(asset.MimeType, "video/") {
			isVideo = true
			mediaUrn, err = s.uploadVideo(ctx, accessToken, ownerUrn, data)
		} else {
			mediaUrn, err = s.uploadImage(ctx, accessToken, ownerUrn, asset.MimeType, data)
		}
		if err != nil {
			return nil, err
		}
	}

	payload := map[string]any{
		"author":         ownerUrn,
		"commentary":     post.BodyText,
		"visibility":     "PUBLIC",
		"distribution":   map[string]any{"feedDistribution": "MAIN_FEED"},
		"lifecycleState": "PUBLISHED",
	}
	if mediaUrn != "" {
		media := map[string]any{"id": mediaUrn}
		if isVideo {
			media["title"] = post.BodyText
		}
		payload["content"] = map[string]any{"media": media}
	}

	remoteID, err := s.createPost(ctx, accessToken, payload)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	if err := s.posts.MarkPublished(ctx, post.ID, models.PlatformLinkedin, remoteID, now); err != nil {
		return nil, err
	}

	return &PublishResult{Platform: models.PlatformLinkedin, PostID: post.ID, RemoteID: remoteID}, nil
}

// resolveAuthorID returns the member id behind the access token, caching
// it into the credential record so userinfo is only hit once per user.
func (s *linkedinService) resolveAuthorID(ctx context.Context, cred *models.PlatformCredential, userID, accessToken string) (string, error) {
	if id := cred.Credentials[models.CredLinkedinUserID]; id != "" {
		return id, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.config.LinkedinAPIBase+"/v2/userinfo", nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	var out struct {
		Sub string `json:"sub"`
	}
	if err := s.doJSON(req, &out); err != nil {
		return "", err
	}
	if out.Sub == "" {
		return "", ErrPlatformNotConnected
	}

	patch := map[string]string{models.CredLinkedinUserID: out.Sub}
	if err := s.credentials.Upsert(ctx, userID, models.PlatformLinkedin, patch, nil, ""); err != nil {
		slog.Info(err.Error())
	}
	return out.Sub, nil
}

func (s *linkedinService) uploadImage(ctx context.Context, accessToken, ownerUrn, mimeType string, data []byte) (string, error) {
	body := map[string]any{
		"initializeUploadRequest": map[string]any{"owner": ownerUrn},
	}
	var init struct {
		Value struct {
			UploadURL string `json:"uploadUrl"`
			Image     string `json:"image"`
		} `json:"value"`
	}
	if err := s.restliPost(ctx, accessToken, s.config.LinkedinAPIBase+"/rest/images?action=initializeUpload", body, &init); err != nil {
		return "", err
	}

	if _, err := s.putBytes(ctx, accessToken, init.Value.UploadURL, mimeType, data); err != nil {
		return "", err
	}
	return init.Value.Image, nil
}

func (s *linkedinService) uploadVideo(ctx context.Context, accessToken, ownerUrn string, data []byte) (string, error) {
	body := map[string]any{
		"initializeUploadRequest": map[string]any{
			"owner":         ownerUrn,
			"fileSizeBytes": len(data),
		},
	}
	var init struct {
		Value struct {
			Video              string `json:"video"`
			UploadToken        string `json:"uploadToken"`
			UploadInstructions []struct {
				UploadURL string `json:"uploadUrl"`
			} `json:"uploadInstructions"`
		} `json:"value"`
	}
	if err := s.restliPost(ctx, accessToken, s.config.LinkedinAPIBase+"/rest/videos?action=initializeUpload", body, &init); err != nil {
		return "", err
	}
	if len(init.Value.UploadInstructions) == 0 {
		return "", fmt.Errorf("%w: no upload instructions", ErrMediaUpload)
	}

	etag, err := s.putBytes(ctx, accessToken, init.Value.UploadInstructions[0].UploadURL, "application/octet-stream", data)
	if err != nil {
		return "", err
	}

	finalize := map[string]any{
		"finalizeUploadRequest": map[string]any{
			"video":           init.Value.Video,
			"uploadToken":     init.Value.UploadToken,
			"uploadedPartIds": []string{etag},
		},
	}
	if err := s.restliPost(ctx, accessToken, s.config.LinkedinAPIBase+"/rest/videos?action=finalizeUpload", finalize, nil); err != nil {
		return "", err
	}

	if err := s.waitForVideo(ctx, accessToken, init.Value.Video); err != nil {
		return "", err
	}
	return init.Value.Video, nil
}

// waitForVideo polls the video asset until processing finishes. Transient
// fetch errors are retried a few times before giving up.
func (s *linkedinService) waitForVideo(ctx context.Context, accessToken, videoUrn string) error {
	statusURL := s.config.LinkedinAPIBase + "/rest/videos/" + url.PathEscape(videoUrn)

	retries := 0
	for attempt := 0; attempt < videoPollMaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, statusURL, nil)
		if err != nil {
			return err
		}
		s.restliHeaders(req, accessToken)

		var out struct {
			Status string `json:"status"`
		}
		if err := s.doJSON(req, &out); err != nil {
			retries++
			if retries > videoPollMaxRetries {
				return err
			}
			time.Sleep(videoPollInterval)
			continue
		}
		retries = 0

		switch out.Status {
		case "AVAILABLE":
			return nil
		case "PROCESSING_FAILED", "FAILED":
			return ErrMediaProcessing
		}
		time.Sleep(videoPollInterval)
	}
	return ErrMediaProcessing
}

func (s *linkedinService) createPost(ctx context.Context, accessToken string, payload map[string]any) (string, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.LinkedinAPIBase+"/rest/posts", bytes.NewReader(encoded))
	if err != nil {
		return "", err
	}
	s.restliHeaders(req, accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		slog.Info(err.Error())
		return "", err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &PlatformAPIError{Platform: models.PlatformLinkedin, Status: resp.StatusCode, Body: string(respBody)}
	}

	if id := resp.Header.Get("x-restli-id"); id != "" {
		return id, nil
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(respBody, &out); err == nil && out.ID != "" {
		return out.ID, nil
	}
	return "", fmt.Errorf("linkedin post created but no id returned")
}

// RefreshToken exchanges the stored refresh token for a new access token
// and persists the rotated pair.
func (s *linkedinService) RefreshToken(ctx context.Context, cred *models.PlatformCredential) error {
	refreshToken := cred.Credentials[models.CredRefreshToken]
	if refreshToken == "" {
		return ErrPlatformAuthRefresh
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	form.Set("client_id", s.config.LinkedinClientID)
	form.Set("client_secret", s.config.LinkedinClientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.LinkedinAuthBase+"/oauth/v2/accessToken", strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var out struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int    `json:"expires_in"`
	}
	if err := s.doJSON(req, &out); err != nil {
		slog.Info(err.Error())
		return ErrPlatformAuthRefresh
	}
	if out.AccessToken == "" {
		return ErrPlatformAuthRefresh
	}

	patch := map[string]string{models.CredAccessToken: out.AccessToken}
	if out.RefreshToken != "" {
		patch[models.CredRefreshToken] = out.RefreshToken
	}
	expiresAt := time.Now().Add(time.Duration(out.ExpiresIn) * time.Second)
	return s.credentials.Upsert(ctx, cred.UserID, models.PlatformLinkedin, patch, &expiresAt, "")
}

func (s *linkedinService) restliPost(ctx context.Context, accessToken, endpoint string, body map[string]any, out any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(encoded))
	if err != nil {
		return err
	}
	s.restliHeaders(req, accessToken)
	req.Header.Set("Content-Type", "application/json")
	return s.doJSON(req, out)
}

func (s *linkedinService) putBytes(ctx context.Context, accessToken, uploadURL, contentType string, data []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadURL, bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", contentType)

	resp, err := s.client.Do(req)
	if err != nil {
		slog.Info(err.Error())
		return "", fmt.Errorf("%w: %v", ErrMediaUpload, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &PlatformAPIError{Platform: models.PlatformLinkedin, Status: resp.StatusCode, Body: "media upload rejected"}
	}
	return strings.Trim(resp.Header.Get("ETag"), `"`), nil
}

func (s *linkedinService) restliHeaders(req *http.Request, accessToken string) {
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("LinkedIn-Version", s.config.LinkedinVersion)
	req.Header.Set("X-Restli-Protocol-Version", restliProtocolVersion)
}

func (s *linkedinService) doJSON(req *http.Request, out any) error {
	resp, err := s.client.Do(req)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &PlatformAPIError{Platform: models.PlatformLinkedin, Status: resp.StatusCode, Body: string(body)}
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(body, out)
}
