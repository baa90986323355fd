package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	cfg "github.com/CurtWal/Touch/configs"
	"github.com/CurtWal/Touch/internal/models"
	"github.com/CurtWal/Touch/pkg/utils"
)

// GeneratedMessage is the outcome of a message-generation call. Channel
// is only set when the generator explicitly requested email or sms.
type GeneratedMessage struct {
	Message string
	Channel string
}

// Generator produces follow-up message text for a contact.
type Generator interface {
	Generate(ctx context.Context, contact *models.Contact) (*GeneratedMessage, error)
}

// MessageSender delivers a generated message over the chosen channel.
type MessageSender interface {
	Send(ctx context.Context, userID, contactID, channel, message string) error
}

type n8nGenerator struct {
	config *cfg.Config
	client *http.Client
}

func NewN8NGenerator(config *cfg.Config) Generator {
	return &n8nGenerator{config: config, client: &http.Client{Timeout: 60 * time.Second}}
}

func (g *n8nGenerator) Generate(ctx context.Context, contact *models.Contact) (*GeneratedMessage, error) {
	prompt := fmt.Sprintf("Write a friendly, personal follow up message to %s. Use their notes: %q.", contact.FirstName, contact.Notes)
	body, err := json.Marshal(map[string]any{
		"payload": map[string]any{
			"chatInput": prompt,
			"contactId": contact.ID,
		},
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.config.N8NWebhookURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("message generator returned %d: %s", resp.StatusCode, string(respBody))
	}

	return extractGenerated(respBody), nil
}

var embeddedJSON = regexp.MustCompile(`\{[\s\S]*\}`)

// extractGenerated is deliberately lenient: the webhook may answer with
// a structured object, JSON wrapped in markdown fences, or plain text.
func extractGenerated(body []byte) *GeneratedMessage {
	var envelope struct {
		Output json.RawMessage `json:"output"`
	}
	raw := body
	if err := json.Unmarshal(body, &envelope); err == nil && len(envelope.Output) > 0 {
		raw = envelope.Output
	}

	var structured struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	}
	if err := json.Unmarshal(raw, &structured); err == nil && structured.Message != "" {
		return &GeneratedMessage{Message: strings.TrimSpace(structured.Message), Channel: normalizeChannel(structured.Type)}
	}

	text := string(raw)
	var quoted string
	if err := json.Unmarshal(raw, &quoted); err == nil {
		text = quoted
	}
	text = strings.ReplaceAll(text, "```json", "")
	text = strings.ReplaceAll(text, "```", "")
	text = strings.TrimSpace(text)

	if match := embeddedJSON.FindString(text); match != "" {
		if err := json.Unmarshal([]byte(match), &structured); err == nil && structured.Message != "" {
			return &GeneratedMessage{Message: strings.TrimSpace(structured.Message), Channel: normalizeChannel(structured.Type)}
		}
	}
	return &GeneratedMessage{Message: text}
}

func normalizeChannel(t string) string {
	switch strings.ToLower(t) {
	case "email":
		return "email"
	case "sms":
		return "sms"
	}
	return ""
}

type httpMessageSender struct {
	config *cfg.Config
	client *http.Client
}

func NewHTTPMessageSender(config *cfg.Config) MessageSender {
	return &httpMessageSender{config: config, client: &http.Client{Timeout: 30 * time.Second}}
}

func (s *httpMessageSender) Send(ctx context.Context, userID, contactID, channel, message string) error {
	token, err := utils.GenerateServiceToken(s.config.SecretKey, "autoFollowUp", userID, 5*time.Minute)
	if err != nil {
		return err
	}

	body, err := json.Marshal(map[string]string{
		"type":      channel,
		"message":   message,
		"contactId": contactID,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.SendMessageURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := s.client.Do(req)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("send-message returned %d", resp.StatusCode)
	}
	return nil
}
