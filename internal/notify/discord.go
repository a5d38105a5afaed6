package notify

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

// Embed colours keyed by the level prefix the Notifier puts on titles.
var discordColors = []struct {
	prefix string
	color  int
}{
	{"[CRITICAL]", 0xe74c3c},
	{"[WARNING]", 0xf1c40f},
	{"[INFO]", 0x3498db},
}

type discordEmbed struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Color       int    `json:"color,omitempty"`
}

type discordPayload struct {
	Username string         `json:"username,omitempty"`
	Embeds   []discordEmbed `json:"embeds"`
}

// DiscordSender posts alerts as single-embed webhook messages.
type DiscordSender struct {
	webhookURL string
	client     *http.Client
}

func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{webhookURL: webhookURL, client: &http.Client{Timeout: senderTimeout}}
}

func embedColor(title string) int {
	for _, c := range discordColors {
		if strings.HasPrefix(title, c.prefix) {
			return c.color
		}
	}
	return 0
}

// Send posts one embed; Discord answers 204 on success.
func (d *DiscordSender) Send(ctx context.Context, title, message string) error {
	payload := discordPayload{
		Username: "moonbot",
		Embeds:   []discordEmbed{{Title: title, Description: message, Color: embedColor(title)}},
	}
	if err := postJSON(ctx, d.client, d.webhookURL, payload); err != nil {
		return fmt.Errorf("discord: %w", err)
	}
	return nil
}

func (d *DiscordSender) Name() string { return "discord" }
