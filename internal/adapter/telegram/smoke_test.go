//go:build telegram

package telegram

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/couchcryptid/hydroalert-service/internal/domain"
	"github.com/stretchr/testify/require"
)

// These tests post to a real chat and require TELEGRAM_BOT_TOKEN and
// TELEGRAM_CHAT_ID.
// Run with: go test -tags=telegram ./internal/adapter/telegram/ -v -count=1

func smokeClient(t *testing.T) *Client {
	t.Helper()
	token, chatID := os.Getenv("TELEGRAM_BOT_TOKEN"), os.Getenv("TELEGRAM_CHAT_ID")
	if token == "" || chatID == "" {
		t.Fatal("TELEGRAM_BOT_TOKEN and TELEGRAM_CHAT_ID must be set to run smoke tests")
	}
	return NewClient(token, chatID, 10*time.Second, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestSmoke_NotifyAlert(t *testing.T) {
	c := smokeClient(t)
	n := domain.NewNotification("smoke", "DEV-SMOKE", domain.StatusWaspada, 61.5, time.Now())
	require.NoError(t, c.Notify(context.Background(), domain.AlertMessage(n)))
}
