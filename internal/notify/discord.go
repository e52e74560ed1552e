package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// DefaultDiscordUsername is shown as the webhook author
const DefaultDiscordUsername = "swarm-orch"

// DiscordNotifier sends notifications to a Discord webhook
type DiscordNotifier struct {
	webhookURL string
	username   string
	client     *http.Client
	now        func() time.Time
}

// DiscordMessage is the webhook payload
type DiscordMessage struct {
	Content  string         `json:"content"`
	Username string         `json:"username,omitempty"`
	Embeds   []DiscordEmbed `json:"embeds,omitempty"`
}

// DiscordEmbed is one rich embed
type DiscordEmbed struct {
	Title       string              `json:"title,omitempty"`
	Description string              `json:"description,omitempty"`
	URL         string              `json:"url,omitempty"`
	Color       int                 `json:"color"`
	Fields      []DiscordEmbedField `json:"fields,omitempty"`
	Timestamp   string              `json:"timestamp,omitempty"`
	Footer      *DiscordFooter      `json:"footer,omitempty"`
}

// DiscordEmbedField is one embed field
type DiscordEmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

// DiscordFooter is the embed footer
type DiscordFooter struct {
	Text string `json:"text"`
}

// NewDiscordNotifier creates a Discord notifier. An empty username uses
// DefaultDiscordUsername.
func NewDiscordNotifier(webhookURL, username string) *DiscordNotifier {
	if username == "" {
		username = DefaultDiscordUsername
	}
	return &DiscordNotifier{
		webhookURL: webhookURL,
		username:   username,
		client:     &http.Client{Timeout: 10 * time.Second},
		now:        time.Now,
	}
}

// DiscordColor returns the embed color for a notification type
func DiscordColor(t NotificationType) int {
	switch t {
	case NotifySuccess:
		return 0x00FF00
	case NotifyWarning:
		return 0xFFA500
	case NotifyError:
		return 0xFF0000
	default:
		return 0x9B59B6
	}
}

// BuildDiscordMessage converts a notification to the webhook payload
func (d *DiscordNotifier) BuildDiscordMessage(n Notification) DiscordMessage {
	embed := DiscordEmbed{
		Title:       n.Title,
		Description: n.Message,
		URL:         n.URL,
		Color:       DiscordColor(n.Type),
		Timestamp:   d.now().UTC().Format(time.RFC3339),
	}
	for _, f := range n.Fields {
		embed.Fields = append(embed.Fields, DiscordEmbedField{Name: f.Name, Value: f.Value, Inline: f.Inline})
	}
	if n.Footer != "" {
		embed.Footer = &DiscordFooter{Text: n.Footer}
	}
	return DiscordMessage{
		Content:  fmt.Sprintf("**%s**", n.Title),
		Username: d.username,
		Embeds:   []DiscordEmbed{embed},
	}
}

// Send posts the notification. Discord answers 204 No Content on success.
func (d *DiscordNotifier) Send(n Notification) error {
	if d.webhookURL == "" {
		return nil // Disabled
	}

	payload, err := json.Marshal(d.BuildDiscordMessage(n))
	if err != nil {
		return err
	}

	resp, err := d.client.Post(d.webhookURL, "application/json", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("discord webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("discord returned %d", resp.StatusCode)
	}
	return nil
}
