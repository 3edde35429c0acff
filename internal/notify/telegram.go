package notify

import (
	"context"
	"fmt"
	"html"
	"net/http"
)

const telegramAPIURL = "https://api.telegram.org"

// TelegramSender posts to a chat through the Bot API sendMessage call.
type TelegramSender struct {
	apiURL string
	token  string
	chatID string
	client *http.Client
}

func NewTelegramSender(token, chatID string) *TelegramSender {
	return &TelegramSender{
		apiURL: telegramAPIURL,
		token:  token,
		chatID: chatID,
		client: newHTTPClient(),
	}
}

// Send renders title in bold using HTML parse mode. Both parts are escaped,
// so wallet IDs and event names with underscores render verbatim.
func (t *TelegramSender) Send(ctx context.Context, title, message string) error {
	payload := map[string]any{
		"chat_id":                  t.chatID,
		"text":                     fmt.Sprintf("<b>%s</b>\n%s", html.EscapeString(title), html.EscapeString(message)),
		"parse_mode":               "HTML",
		"disable_web_page_preview": true,
	}
	if err := postJSON(ctx, t.client, t.apiURL+"/bot"+t.token+"/sendMessage", payload); err != nil {
		return fmt.Errorf("telegram: chat %s: %w", t.chatID, err)
	}
	return nil
}

// WithAPIURL points the sender at a different Bot API host.
func (t *TelegramSender) WithAPIURL(u string) *TelegramSender {
	t.apiURL = u
	return t
}

func (t *TelegramSender) Name() string { return "telegram" }
