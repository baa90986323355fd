package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	cfg "github.com/CurtWal/Touch/configs"
	"github.com/CurtWal/Touch/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractGeneratedStructuredOutput(t *testing.T) {
	body := []byte(`{"output":{"message":"Hi Sam!","type":"SMS"}}`)
	got := extractGenerated(body)
	assert.Equal(t, "Hi Sam!", got.Message)
	assert.Equal(t, "sms", got.Channel)
}

func TestExtractGeneratedFencedJSON(t *testing.T) {
	fenced := "```json\n{\"message\": \"Hello there\", \"type\": \"email\"}\n```"
	body, err := json.Marshal(map[string]string{"output": fenced})
	require.NoError(t, err)
	got := extractGenerated(body)
	assert.Equal(t, "Hello there", got.Message)
	assert.Equal(t, "email", got.Channel)
}

func TestExtractGeneratedPlainText(t *testing.T) {
	body := []byte(`{"output":"Just checking in, hope all is well."}`)
	got := extractGenerated(body)
	assert.Equal(t, "Just checking in, hope all is well.", got.Message)
	assert.Equal(t, "", got.Channel)
}

func TestN8NGeneratorPostsPrompt(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		payload := body["payload"].(map[string]any)
		assert.Contains(t, payload["chatInput"], "Ana")
		assert.Contains(t, payload["chatInput"], "met at expo")

		json.NewEncoder(w).Encode(map[string]any{"output": map[string]string{"message": "Hey Ana"}})
	}))
	defer server.Close()

	gen := NewN8NGenerator(&cfg.Config{N8NWebhookURL: server.URL})
	got, err := gen.Generate(context.Background(), &models.Contact{
		ID:        "c1",
		FirstName: "Ana",
		Notes:     "met at expo",
	})
	require.NoError(t, err)
	assert.Equal(t, "Hey Ana", got.Message)
}

func TestHTTPMessageSenderAuthorizes(t *testing.T) {
	var gotAuth string
	var gotBody map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sender := NewHTTPMessageSender(&cfg.Config{SecretKey: "test-secret", SendMessageURL: server.URL})
	err := sender.Send(context.Background(), "u1", "c1", "email", "hello")
	require.NoError(t, err)

	assert.True(t, len(gotAuth) > len("Bearer "))
	assert.Equal(t, "email", gotBody["type"])
	assert.Equal(t, "c1", gotBody["contactId"])
	assert.Equal(t, "hello", gotBody["message"])
}
