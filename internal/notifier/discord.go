// Package notifier posts a run summary to a Discord webhook.
package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/pauljones0/profile-scraper/internal/models"
)

const (
	colorComplete  = 3066993  // #2ECC71
	colorCancelled = 16753920 // #FFA500
	colorFailed    = 16711680 // #FF0000

	maxAttempts = 3
)

type Client struct {
	webhookURL  string
	client      *http.Client
	rateLimiter *rate.Limiter
	baseBackoff time.Duration
}

func New(webhookURL string) *Client {
	return &Client{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
		// Discord allows 5 webhook requests per 2 seconds.
		rateLimiter: rate.NewLimiter(rate.Every(400*time.Millisecond), 1),
		baseBackoff: time.Second,
	}
}

// Send posts the run summary. It is a no-op when no webhook is configured.
func (c *Client) Send(ctx context.Context, result models.ScrapeResult) error {
	if c.webhookURL == "" {
		return nil
	}
	embed := formatRunToEmbed(result)
	id, err := c.sendAndGetMessageID(ctx, embed)
	if err != nil {
		return err
	}
	slog.Info("Posted run summary to Discord", "message_id", id)
	return nil
}

// Internal structures
type discordWebhookPayload struct {
	Content string         `json:"content,omitempty"`
	Embeds  []discordEmbed `json:"embeds"`
}

type discordEmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

type discordEmbedFooter struct {
	Text string `json:"text,omitempty"`
}

type discordEmbed struct {
	Title       string              `json:"title,omitempty"`
	Description string              `json:"description,omitempty"`
	URL         string              `json:"url,omitempty"`
	Timestamp   string              `json:"timestamp,omitempty"`
	Color       int                 `json:"color,omitempty"`
	Fields      []discordEmbedField `json:"fields,omitempty"`
	Footer      discordEmbedFooter  `json:"footer,omitempty"`
}

type discordMessageResponse struct {
	ID        string `json:"id"`
	ChannelID string `json:"channel_id"`
}

func formatRunToEmbed(result models.ScrapeResult) discordEmbed {
	who := result.Handle
	if who == "" {
		who = result.AccountName
	}
	if who == "" {
		who = "unknown profile"
	}

	var timestamp string
	if !result.FinishedAt.IsZero() {
		timestamp = result.FinishedAt.UTC().Format(time.RFC3339)
	}

	var original, retweet, quote, promoted int
	for _, p := range result.Posts {
		switch p.Type {
		case models.PostOriginal:
			original++
		case models.PostRetweet:
			retweet++
		case models.PostQuote:
			quote++
		case models.PostPromoted:
			promoted++
		}
	}

	fields := []discordEmbedField{
		{Name: "Posts scraped", Value: strconv.Itoa(len(result.Posts)), Inline: true},
		{Name: "Followers", Value: strconv.Itoa(result.Followers), Inline: true},
		{Name: "Tweet count", Value: strconv.Itoa(result.PostCount), Inline: true},
		{Name: "Breakdown", Value: fmt.Sprintf("📝 %d  🔁 %d  💬 %d  📢 %d", original, retweet, quote, promoted)},
	}

	var footer discordEmbedFooter
	if !result.StartedAt.IsZero() && !result.FinishedAt.IsZero() {
		footer.Text = "Took " + result.FinishedAt.Sub(result.StartedAt).Round(time.Second).String()
	}

	return discordEmbed{
		Title:     fmt.Sprintf("Scrape %s: %s", result.Status, who),
		Timestamp: timestamp,
		Color:     statusColor(result.Status),
		Fields:    fields,
		Footer:    footer,
	}
}

func statusColor(s models.RunStatus) int {
	switch s {
	case models.RunComplete:
		return colorComplete
	case models.RunCancelled:
		return colorCancelled
	default:
		return colorFailed
	}
}

func (c *Client) sendAndGetMessageID(ctx context.Context, embed discordEmbed) (string, error) {
	payload := discordWebhookPayload{Embeds: []discordEmbed{embed}}
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	parsedURL, err := url.Parse(c.webhookURL)
	if err != nil {
		return "", err
	}
	q := parsedURL.Query()
	q.Set("wait", "true")
	parsedURL.RawQuery = q.Encode()

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := c.rateLimiter.Wait(ctx); err != nil {
			return "", err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, parsedURL.String(), bytes.NewReader(payloadBytes))
		if err != nil {
			return "", err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			return "", err
		}
		bodyBytes, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			var msgResponse discordMessageResponse
			if err := json.Unmarshal(bodyBytes, &msgResponse); err != nil {
				return "", err
			}
			return msgResponse.ID, nil
		}

		lastErr = fmt.Errorf("discord status: %s, body: %s", resp.Status, string(bodyBytes))
		wait := c.scaledBackoff(retryBackoff(resp, attempt))
		if wait == 0 {
			return "", lastErr
		}
		slog.Warn("Discord request failed, retrying", "status", resp.StatusCode, "attempt", attempt+1, "wait", wait)
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(wait):
		}
	}
	return "", lastErr
}

// retryBackoff returns how long to wait before retrying resp, or zero when the
// status is not retryable. Retry-After is honored on 429.
func retryBackoff(resp *http.Response, attempt int) time.Duration {
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		if secs, err := strconv.ParseFloat(resp.Header.Get("Retry-After"), 64); err == nil && secs > 0 {
			return time.Duration(secs * float64(time.Second))
		}
		return time.Duration(1<<attempt) * time.Second
	case resp.StatusCode >= 500:
		return time.Duration(1<<attempt) * time.Second
	default:
		return 0
	}
}

// scaledBackoff applies the client's base unit so tests can shrink waits.
func (c *Client) scaledBackoff(d time.Duration) time.Duration {
	if d == 0 || c.baseBackoff == time.Second {
		return d
	}
	return time.Duration(float64(d) * float64(c.baseBackoff) / float64(time.Second))
}
