package notify

import (
	"context"
	"net/http"

	"github.com/alanyoungcy/storeledger/internal/domain"
)

// Discord caps an embed at 25 fields.
const discordMaxFields = 25

var discordColors = map[domain.Severity]int{
	domain.SeverityInfo:     0x2f80ed,
	domain.SeverityWarn:     0xf2c94c,
	domain.SeverityCritical: 0xeb5757,
}

// DiscordSender posts alerts to a Discord webhook as one embed each.
type DiscordSender struct {
	webhookURL string
	client     *http.Client
}

func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{webhookURL: webhookURL, client: defaultClient()}
}

type discordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type discordEmbed struct {
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Color       int            `json:"color"`
	Fields      []discordField `json:"fields,omitempty"`
}

func discordEmbedFor(alert domain.Alert) discordEmbed {
	color, ok := discordColors[alert.Severity]
	if !ok {
		color = discordColors[domain.SeverityInfo]
	}
	e := discordEmbed{Title: alert.Title, Description: alert.Message, Color: color}
	for i, f := range alert.Fields {
		if i == discordMaxFields {
			break
		}
		e.Fields = append(e.Fields, discordField{Name: f.Name, Value: f.Value, Inline: len(f.Value) <= 24})
	}
	return e
}

// Send posts alert. Discord answers 204 on success.
func (d *DiscordSender) Send(ctx context.Context, alert domain.Alert) error {
	return postJSON(ctx, d.client, "discord", d.webhookURL, map[string]any{
		"embeds": []discordEmbed{discordEmbedFor(alert)},
	})
}

func (d *DiscordSender) Name() string { return "discord" }
