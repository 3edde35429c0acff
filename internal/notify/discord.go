package notify

import (
	"context"
	"fmt"
	"net/http"
)

// discordMaxContent is the webhook content length limit in runes.
const discordMaxContent = 2000

// DiscordSender posts to a channel webhook.
type DiscordSender struct {
	webhookURL string
	username   string
	client     *http.Client
}

// NewDiscordSender creates a DiscordSender posting as username, "reconbot"
// when empty.
func NewDiscordSender(webhookURL, username string) *DiscordSender {
	if username == "" {
		username = "reconbot"
	}
	return &DiscordSender{webhookURL: webhookURL, username: username, client: newHTTPClient()}
}

// Send posts title in bold followed by message, truncated to the content
// limit. Mentions are disabled so position data cannot ping the channel.
func (d *DiscordSender) Send(ctx context.Context, title, message string) error {
	content := fmt.Sprintf("**%s**\n%s", title, message)
	if r := []rune(content); len(r) > discordMaxContent {
		content = string(r[:discordMaxContent-1]) + "…"
	}

	payload := map[string]any{
		"username":         d.username,
		"content":          content,
		"allowed_mentions": map[string]any{"parse": []string{}},
	}
	if err := postJSON(ctx, d.client, d.webhookURL, payload); err != nil {
		return fmt.Errorf("discord: %w", err)
	}
	return nil
}

func (d *DiscordSender) Name() string { return "discord" }
