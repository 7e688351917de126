package notify

import (
	"context"
	"html"
	"net/http"
	"strings"

	"github.com/alanyoungcy/storeledger/internal/domain"
)

const telegramAPI = "https://api.telegram.org"

// TelegramSender posts alerts through the Bot API sendMessage method.
type TelegramSender struct {
	baseURL string
	token   string
	chatID  string
	client  *http.Client
}

func NewTelegramSender(token, chatID string) *TelegramSender {
	return &TelegramSender{baseURL: telegramAPI, token: token, chatID: chatID, client: defaultClient()}
}

// telegramText renders alert as escaped HTML: bold title, message, then one
// line per field.
func telegramText(alert domain.Alert) string {
	var b strings.Builder
	b.WriteString("<b>" + html.EscapeString(alert.Title) + "</b>")
	if alert.Message != "" {
		b.WriteString("\n" + html.EscapeString(alert.Message))
	}
	for _, f := range alert.Fields {
		b.WriteString("\n<i>" + html.EscapeString(f.Name) + "</i>: <code>" + html.EscapeString(f.Value) + "</code>")
	}
	return b.String()
}

// Send delivers alert. Info alerts arrive without a sound.
func (t *TelegramSender) Send(ctx context.Context, alert domain.Alert) error {
	return postJSON(ctx, t.client, "telegram", t.baseURL+"/bot"+t.token+"/sendMessage", map[string]any{
		"chat_id":              t.chatID,
		"text":                 telegramText(alert),
		"parse_mode":           "HTML",
		"disable_notification": alert.Severity == domain.SeverityInfo,
	})
}

func (t *TelegramSender) Name() string { return "telegram" }
