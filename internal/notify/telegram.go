package notify

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/http"
)

const telegramAPI = "https://api.telegram.org"

// TelegramSender posts alerts to one chat through the Bot API.
type TelegramSender struct {
	endpoint string
	chatID   string
	client   *http.Client
}

type telegramMessage struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

// NewTelegramSender builds a sender for the given bot token and chat. An
// empty baseURL means the public Bot API.
func NewTelegramSender(baseURL, token, chatID string) *TelegramSender {
	if baseURL == "" {
		baseURL = telegramAPI
	}
	return &TelegramSender{
		endpoint: fmt.Sprintf("%s/bot%s/sendMessage", baseURL, token),
		chatID:   chatID,
		client:   &http.Client{Timeout: senderTimeout},
	}
}

// Send renders the title in bold. Text is sent as HTML since pair names like
// JRC_ETH break Markdown entities.
func (t *TelegramSender) Send(ctx context.Context, title, message string) error {
	if t.chatID == "" {
		return errors.New("telegram: chat id not configured")
	}
	msg := telegramMessage{
		ChatID:    t.chatID,
		Text:      "<b>" + html.EscapeString(title) + "</b>\n" + html.EscapeString(message),
		ParseMode: "HTML",
	}
	if err := postJSON(ctx, t.client, t.endpoint, msg); err != nil {
		return fmt.Errorf("telegram: %w", err)
	}
	return nil
}

func (t *TelegramSender) Name() string { return "telegram" }
