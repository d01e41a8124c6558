package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/alanyoungcy/arbwatch/internal/domain"
	"github.com/alanyoungcy/arbwatch/internal/score"
)

// maxMarketFields caps how many per-market link fields one embed carries.
const maxMarketFields = 5

// DiscordSender posts to a Discord webhook. Opportunities are rendered as
// color-coded embeds keyed by tier; plain notifications go out as bold-titled
// messages.
type DiscordSender struct {
	webhookURL string
	username   string
	avatarURL  string
	client     *http.Client

	now func() time.Time
}

// NewDiscordSender wires a sender for the given webhook URL. The HTTP client
// defaults to a 10-second timeout.
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{
		webhookURL: webhookURL,
		username:   "arbwatch",
		client:     &http.Client{Timeout: 10 * time.Second},
		now:        time.Now,
	}
}

// SetIdentity overrides the webhook display name and avatar.
func (d *DiscordSender) SetIdentity(username, avatarURL string) {
	if username != "" {
		d.username = username
	}
	d.avatarURL = avatarURL
}

type discordPayload struct {
	Content   string         `json:"content,omitempty"`
	Embeds    []discordEmbed `json:"embeds,omitempty"`
	Username  string         `json:"username,omitempty"`
	AvatarURL string         `json:"avatar_url,omitempty"`
}

type discordEmbed struct {
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Color       int            `json:"color,omitempty"`
	Fields      []discordField `json:"fields,omitempty"`
	Footer      *discordFooter `json:"footer,omitempty"`
	Timestamp   string         `json:"timestamp,omitempty"`
}

type discordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type discordFooter struct {
	Text string `json:"text"`
}

// Send posts a plain message to the Discord webhook. The title is rendered in
// bold using Discord markdown syntax.
func (d *DiscordSender) Send(ctx context.Context, title, message string) error {
	return d.post(ctx, discordPayload{
		Content:   fmt.Sprintf("**%s**\n%s", title, message),
		Username:  d.username,
		AvatarURL: d.avatarURL,
	})
}

// SendOpportunity posts a tier-colored embed for an arbitrage opportunity:
// tier emoji and spread in the title, spread/quality/market-count fields, and
// a link field per market up to maxMarketFields.
func (d *DiscordSender) SendOpportunity(ctx context.Context, opp domain.Opportunity) error {
	ti, ok := score.TierByName(opp.Tier)
	if !ok {
		ti = score.TierInfo{Tier: opp.Tier, Emoji: "❓", Color: 0x808080, Action: "UNKNOWN"}
	}

	now := d.now().UTC()
	tierName := strings.ToUpper(string(opp.Tier))

	embed := discordEmbed{
		Title:       fmt.Sprintf("%s %s Arbitrage Detected: %.1f%% spread", ti.Emoji, tierName, opp.SpreadPct),
		Description: fmt.Sprintf("**%s**\n\n%s", opp.Title, ti.Action),
		Color:       ti.Color,
		Fields: []discordField{
			{Name: "💰 Spread", Value: fmt.Sprintf("**%.1f%%**", opp.SpreadPct), Inline: true},
			{Name: "⭐ Quality Score", Value: fmt.Sprintf("**%.1f/10**", opp.QualityScore), Inline: true},
			{Name: "📊 Markets", Value: fmt.Sprintf("%d platforms", len(opp.Markets)), Inline: true},
		},
		Footer: &discordFooter{
			Text: fmt.Sprintf("arbwatch | Tier: %s | %s", tierName, now.Format("2006-01-02 15:04:05")),
		},
		Timestamp: now.Format(time.RFC3339),
	}

	for i, m := range opp.Markets {
		if i >= maxMarketFields {
			break
		}
		value := "No link available"
		if m.URL != "" {
			value = fmt.Sprintf("[View Market](%s)", m.URL)
		}
		embed.Fields = append(embed.Fields, discordField{
			Name:  fmt.Sprintf("Market %d: %s", i+1, strings.ToUpper(m.Source)),
			Value: value,
		})
	}

	return d.post(ctx, discordPayload{
		Embeds:    []discordEmbed{embed},
		Username:  d.username,
		AvatarURL: d.avatarURL,
	})
}

func (d *DiscordSender) post(ctx context.Context, payload discordPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("discord: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("discord: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("discord: send request: %w", err)
	}
	defer resp.Body.Close()

	// Discord returns 204 No Content on success.
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("discord: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	return nil
}

// Name identifies this sender in logs and delivery records.
func (d *DiscordSender) Name() string {
	return "discord"
}
