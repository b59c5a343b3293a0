// Package notifier pushes human-readable download events to external
// channels.
package notifier

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
)

type Notifier interface {
	Notify(content string) error
}

type DiscordNotifier struct {
	client     *http.Client
	webhookURL string
}

func NewDiscordNotifier(client *http.Client, webhookURL string) *DiscordNotifier {
	if client == nil {
		client = http.DefaultClient
	}

	return &DiscordNotifier{client: client, webhookURL: webhookURL}
}

func (d *DiscordNotifier) Notify(content string) error {
	if d.webhookURL == "" {
		return fmt.Errorf("webhook URL is not set")
	}

	body, err := json.Marshal(map[string]string{"content": content})
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	resp, err := d.client.Post(d.webhookURL, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook failed with status %d", resp.StatusCode)
	}

	return nil
}
