package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dghubble/oauth1"

	cfg "github.com/CurtWal/Touch/configs"
	"github.com/CurtWal/Touch/internal/models"
	"github.com/CurtWal/Touch/internal/repository"
)

const (
	tweetMaxRunes  = 280
	videoChunkSize = 5 * 1024 * 1024
)

type TwitterService interface {
	Publisher
	RefreshToken(ctx context.Context, cred *models.PlatformCredential) error
}

type twitterService struct {
	config      *cfg.Config
	credentials repository.CredentialRepository
	posts       repository.PostRepository
	media       MediaService
	client      *http.Client

	// refreshMu serializes token refreshes per user so two publish
	// jobs cannot both rotate the same refresh token.
	mu        sync.Mutex
	refreshMu map[string]*sync.Mutex
}

func NewTwitterService(config *cfg.Config, credentials repository.CredentialRepository, posts repository.PostRepository, media MediaService) TwitterService {
	return &twitterService{
		config:      config,
		credentials: credentials,
		posts:       posts,
		media:       media,
		client:      &http.Client{Timeout: 60 * time.Second},
		refreshMu:   make(map[string]*sync.Mutex),
	}
}

func (s *twitterService) Publish(ctx context.Context, post *models.Post, userID string) (*PublishResult, error) {
	cred, err := s.credentials.FindOne(ctx, userID, models.PlatformTwitter)
	if err != nil {
		return nil, err
	}
	if cred == nil || cred.Credentials[models.CredAccessToken] == "" {
		return nil, ErrPlatformNotConnected
	}

	var mediaIDs []string
	if post.MediaID != "" {
		asset, data, err := s.media.Get(ctx, post.MediaID)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMediaUpload, err)
		}

		uploadClient, err := s.oauth1Client(ctx, cred)
		if err != nil {
			return nil, err
		}

		var mediaID string
		if strings.HasPrefix(asset.MimeType, "video/") {
			mediaID, err = s.uploadVideo(ctx, uploadClient, asset.MimeType, data)
		} else {
			mediaID, err = s.uploadImage(ctx, uploadClient, data)
		}
		if err != nil {
			return nil, err
		}
		mediaIDs = append(mediaIDs, mediaID)
	}

	accessToken, err := s.ensureAccessToken(ctx, cred)
	if err != nil {
		return nil, err
	}

	remoteID, err := s.createTweet(ctx, accessToken, post.BodyText, mediaIDs)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	if err := s.posts.MarkPublished(ctx, post.ID, models.PlatformTwitter, remoteID, now); err != nil {
		return nil, err
	}

	return &PublishResult{Platform: models.PlatformTwitter, PostID: post.ID, RemoteID: remoteID}, nil
}

// ensureAccessToken returns a bearer token that is valid right now,
// refreshing and persisting the credential first when it has expired.
func (s *twitterService) ensureAccessToken(ctx context.Context, cred *models.PlatformCredential) (string, error) {
	if !cred.Expired(time.Now()) {
		return cred.Credentials[models.CredAccessToken], nil
	}

	mu := s.userLock(cred.UserID)
	mu.Lock()
	defer mu.Unlock()

	// Another job may have refreshed while we waited on the lock.
	fresh, err := s.credentials.FindOne(ctx, cred.UserID, models.PlatformTwitter)
	if err != nil {
		return "", err
	}
	if fresh == nil {
		return "", ErrPlatformNotConnected
	}
	if !fresh.Expired(time.Now()) {
		return fresh.Credentials[models.CredAccessToken], nil
	}

	if err := s.RefreshToken(ctx, fresh); err != nil {
		return "", err
	}
	refreshed, err := s.credentials.FindOne(ctx, cred.UserID, models.PlatformTwitter)
	if err != nil {
		return "", err
	}
	if refreshed == nil || refreshed.Credentials[models.CredAccessToken] == "" {
		return "", ErrPlatformAuthRefresh
	}
	return refreshed.Credentials[models.CredAccessToken], nil
}

// RefreshToken exchanges the refresh token at the OAuth2 token endpoint
// using HTTP Basic app credentials and persists the rotated pair.
func (s *twitterService) RefreshToken(ctx context.Context, cred *models.PlatformCredential) error {
	refreshToken := cred.Credentials[models.CredRefreshToken]
	if refreshToken == "" {
		return ErrPlatformAuthRefresh
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.TwitterAPIBase+"/2/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(s.config.TwitterClientID, s.config.TwitterClientSecret)

	resp, err := s.client.Do(req)
	if err != nil {
		slog.Info(err.Error())
		return ErrPlatformAuthRefresh
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		slog.Error("twitter token refresh rejected", "status", resp.StatusCode, "body", string(body))
		return ErrPlatformAuthRefresh
	}

	var out struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &out); err != nil || out.AccessToken == "" {
		return ErrPlatformAuthRefresh
	}

	patch := map[string]string{models.CredAccessToken: out.AccessToken}
	if out.RefreshToken != "" {
		patch[models.CredRefreshToken] = out.RefreshToken
	}
	expiresAt := time.Now().Add(time.Duration(out.ExpiresIn) * time.Second)
	return s.credentials.Upsert(ctx, cred.UserID, models.PlatformTwitter, patch, &expiresAt, "")
}

// oauth1Client builds the signing client the media endpoints require.
// Media uploads use the legacy OAuth1 user pair, not the bearer token.
func (s *twitterService) oauth1Client(ctx context.Context, cred *models.PlatformCredential) (*http.Client, error) {
	token := cred.Credentials[models.CredOAuth1Token]
	secret := cred.Credentials[models.CredOAuth1Secret]
	if token == "" || secret == "" || s.config.TwitterConsumerKey == "" {
		return nil, ErrMediaAuthRequired
	}

	oaConfig := oauth1.NewConfig(s.config.TwitterConsumerKey, s.config.TwitterConsumerSecret)
	client := oaConfig.Client(ctx, oauth1.NewToken(token, secret))
	client.Timeout = 60 * time.Second
	return client, nil
}

func (s *twitterService) uploadImage(ctx context.Context, client *http.Client, data []byte) (string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("media", "media")
	if err != nil {
		return "", err
	}
	if _, err := part.Write(data); err != nil {
		return "", err
	}
	writer.Close()

	out, err := s.uploadRequest(ctx, client, writer.FormDataContentType(), &buf)
	if err != nil {
		return "", err
	}
	return out.MediaIDString, nil
}

func (s *twitterService) uploadVideo(ctx context.Context, client *http.Client, mimeType string, data []byte) (string, error) {
	init, err := s.uploadForm(ctx, client, map[string]string{
		"command":        "INIT",
		"total_bytes":    strconv.Itoa(len(data)),
		"media_type":     mimeType,
		"media_category": "tweet_video",
	}, nil)
	if err != nil {
		return "", err
	}
	mediaID := init.MediaIDString

	for i, offset := 0, 0; offset < len(data); i, offset = i+1, offset+videoChunkSize {
		end := offset + videoChunkSize
		if end > len(data) {
			end = len(data)
		}
		_, err := s.uploadForm(ctx, client, map[string]string{
			"command":       "APPEND",
			"media_id":      mediaID,
			"segment_index": strconv.Itoa(i),
		}, data[offset:end])
		if err != nil {
			return "", err
		}
	}

	final, err := s.uploadForm(ctx, client, map[string]string{
		"command":  "FINALIZE",
		"media_id": mediaID,
	}, nil)
	if err != nil {
		return "", err
	}

	if final.ProcessingInfo == nil {
		return mediaID, nil
	}
	return mediaID, s.waitForProcessing(ctx, client, mediaID, final.ProcessingInfo)
}

func (s *twitterService) waitForProcessing(ctx context.Context, client *http.Client, mediaID string, info *processingInfo) error {
	for info != nil {
		switch info.State {
		case "succeeded":
			return nil
		case "failed":
			return ErrMediaProcessing
		}

		wait := time.Duration(info.CheckAfterSecs) * time.Second
		if wait <= 0 {
			wait = time.Second
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}

		statusURL := fmt.Sprintf("%s/1.1/media/upload.json?command=STATUS&media_id=%s", s.config.TwitterUploadBase, mediaID)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, statusURL, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			slog.Info(err.Error())
			return fmt.Errorf("%w: %v", ErrMediaUpload, err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return &PlatformAPIError{Platform: models.PlatformTwitter, Status: resp.StatusCode, Body: string(body)}
		}

		var out uploadResponse
		if err := json.Unmarshal(body, &out); err != nil {
			return err
		}
		info = out.ProcessingInfo
	}
	return nil
}

type processingInfo struct {
	State          string `json:"state"`
	CheckAfterSecs int    `json:"check_after_secs"`
}

type uploadResponse struct {
	MediaIDString  string          `json:"media_id_string"`
	ProcessingInfo *processingInfo `json:"processing_info"`
}

func (s *twitterService) uploadForm(ctx context.Context, client *http.Client, fields map[string]string, chunk []byte) (*uploadResponse, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := writer.WriteField(k, v); err != nil {
			return nil, err
		}
	}
	if chunk != nil {
		part, err := writer.CreateFormFile("media", "media")
		if err != nil {
			return nil, err
		}
		if _, err := part.Write(chunk); err != nil {
			return nil, err
		}
	}
	writer.Close()

	return s.uploadRequest(ctx, client, writer.FormDataContentType(), &buf)
}

func (s *twitterService) uploadRequest(ctx context.Context, client *http.Client, contentType string, body io.Reader) (*uploadResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.TwitterUploadBase+"/1.1/media/upload.json", body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := client.Do(req)
	if err != nil {
		slog.Info(err.Error())
		return nil, fmt.Errorf("%w: %v", ErrMediaUpload, err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &PlatformAPIError{Platform: models.PlatformTwitter, Status: resp.StatusCode, Body: string(respBody)}
	}

	var out uploadResponse
	if len(respBody) > 0 {
		if err := json.Unmarshal(respBody, &out); err != nil {
			return nil, err
		}
	}
	return &out, nil
}

func (s *twitterService) createTweet(ctx context.Context, accessToken, text string, mediaIDs []string) (string, error) {
	payload := map[string]any{"text": truncateRunes(text, tweetMaxRunes)}
	if len(mediaIDs) > 0 {
		payload["media"] = map[string]any{"media_ids": mediaIDs}
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.TwitterAPIBase+"/2/tweets", bytes.NewReader(encoded))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		slog.Info(err.Error())
		return "", err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &PlatformAPIError{Platform: models.PlatformTwitter, Status: resp.StatusCode, Body: string(respBody)}
	}

	var out struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", err
	}
	return out.Data.ID, nil
}

func (s *twitterService) userLock(userID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	mu, ok := s.refreshMu[userID]
	if !ok {
		mu = &sync.Mutex{}
		s.refreshMu[userID] = mu
	}
	return mu
}

func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
