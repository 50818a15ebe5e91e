package notify

import (
	"context"
	"net/http"
)

// DiscordSender posts alerts to a Discord webhook as a single embed.
type DiscordSender struct {
	webhookURL string
	username   string
	client     *http.Client
}

// NewDiscordSender creates a DiscordSender for webhookURL.
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{
		webhookURL: webhookURL,
		username:   "battlekeeper",
		client:     &http.Client{Timeout: defaultTimeout},
	}
}

// Send posts title and message as an embed. Discord answers 204 on success.
func (d *DiscordSender) Send(ctx context.Context, title, message string) error {
	return postJSON(ctx, d.client, "discord", d.webhookURL, map[string]any{
		"username": d.username,
		"embeds": []map[string]any{{
			"title":       title,
			"description": message,
		}},
	})
}

// Name returns "discord".
func (d *DiscordSender) Name() string {
	return "discord"
}
