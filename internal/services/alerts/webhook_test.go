package alerts

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/j-veylop/claude-usage-watch/internal/models"
)

func testAlert() models.Alert {
	return models.Alert{
		ID:             "a-1",
		ThresholdID:    "session-90",
		Type:           models.WindowSession,
		Percentage:     90,
		CurrentPercent: 93.5,
		FiredAt:        time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC),
	}
}

func TestWebhookSend(t *testing.T) {
	var received webhookPayload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &received))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	n := NewWebhookNotifier(server.URL, "")
	require.NoError(t, n.Send(context.Background(), testAlert()))

	assert.Equal(t, "threshold-triggered", received.Event)
	assert.Equal(t, "session-90", received.Alert.ThresholdID)
	assert.Equal(t, 93.5, received.Alert.CurrentPercent)
}

func TestWebhookSignature(t *testing.T) {
	secret := "topsecret"
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)

		mac := hmac.New(sha256.New, []byte(secret))
		mac.Write(body)
		expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))

		assert.Equal(t, expected, r.Header.Get("X-Signature-256"))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	n := NewWebhookNotifier(server.URL, secret)
	require.NoError(t, n.Send(context.Background(), testAlert()))
}

func TestWebhookNon2xxIsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	n := NewWebhookNotifier(server.URL, "")
	err := n.Send(context.Background(), testAlert())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}
