// Package notify sends follower-facing messages over the Telegram Bot API.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"signalrelay/internal/config"
	"signalrelay/internal/models"
)

// APIError is a non-ok response from the Bot API.
type APIError struct {
	StatusCode  int
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram: %d %s", e.StatusCode, e.Description)
}

type TelegramClient struct {
	BotToken string
	APIBase  string
	HTTP     *http.Client
	Logger   *zap.Logger
}

func NewTelegramClient(cfg config.TelegramConfig, logger *zap.Logger) *TelegramClient {
	base := strings.TrimRight(cfg.APIBase, "/")
	if base == "" {
		base = "https://api.telegram.org"
	}
	return &TelegramClient{
		BotToken: cfg.BotToken,
		APIBase:  base,
		HTTP:     &http.Client{Timeout: cfg.Timeout},
		Logger:   logger,
	}
}

// SendSignal formats and delivers one signal to one follower chat.
func (c *TelegramClient) SendSignal(ctx context.Context, chatID int64, signal *models.Signal) error {
	return c.sendMessage(ctx, chatID, formatSignal(signal))
}

func (c *TelegramClient) sendMessage(ctx context.Context, chatID int64, text string) error {
	if c.BotToken == "" {
		return &APIError{StatusCode: http.StatusUnauthorized, Description: "bot token not configured"}
	}

	body, err := json.Marshal(map[string]any{
		"chat_id":    chatID,
		"text":       text,
		"parse_mode": "HTML",
	})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", c.APIBase, c.BotToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var out struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return &APIError{StatusCode: resp.StatusCode, Description: "unreadable response"}
	}
	if !out.OK {
		return &APIError{StatusCode: resp.StatusCode, Description: out.Description}
	}
	return nil
}

func formatSignal(signal *models.Signal) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<b>New signal #%d</b>\n", signal.ID)

	var payload map[string]any
	if err := json.Unmarshal(signal.Payload, &payload); err == nil {
		for _, key := range []string{"symbol", "side", "entry", "sl", "tp"} {
			if v, ok := payload[key]; ok {
				fmt.Fprintf(&b, "%s: %v\n", strings.ToUpper(key[:1])+key[1:], v)
			}
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
