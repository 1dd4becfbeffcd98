// Package telegram sends alert messages to a Telegram chat through the Bot API.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const defaultBaseURL = "https://api.telegram.org"

// Client implements broadcast.Notifier using the Bot API sendMessage method.
type Client struct {
	token      string
	chatID     string
	httpClient *http.Client
	baseURL    string
	logger     *slog.Logger
}

// NewClient creates a Telegram notifier for one chat.
func NewClient(token, chatID string, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		token:  token,
		chatID: chatID,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL: defaultBaseURL,
		logger:  logger,
	}
}

type sendMessageRequest struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

// Bot API response envelope.
type response struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code"`
	Description string `json:"description"`
}

// Notify posts message to the configured chat.
func (c *Client) Notify(ctx context.Context, message string) error {
	body, err := json.Marshal(sendMessageRequest{ChatID: c.chatID, Text: message, ParseMode: "HTML"})
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	u := fmt.Sprintf("%s/bot%s/sendMessage", c.baseURL, c.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// The URL carries the bot token; keep it out of logs.
		return fmt.Errorf("telegram request failed: %w", redact(err, c.token))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("telegram API error: status %d: %s", resp.StatusCode, data)
	}

	var tgResp response
	if err := json.NewDecoder(resp.Body).Decode(&tgResp); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if !tgResp.OK {
		return fmt.Errorf("telegram API error %d: %s", tgResp.ErrorCode, tgResp.Description)
	}

	c.logger.Debug("telegram alert sent", "chat_id", c.chatID)
	return nil
}

func redact(err error, token string) error {
	if token == "" {
		return err
	}
	return redactedError{err: err, msg: bytes.ReplaceAll([]byte(err.Error()), []byte(token), []byte("<redacted>"))}
}

type redactedError struct {
	err error
	msg []byte
}

func (e redactedError) Error() string { return string(e.msg) }
func (e redactedError) Unwrap() error { return e.err }
