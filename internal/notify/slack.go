package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// SlackNotifier posts notifications to an incoming webhook
type SlackNotifier struct {
	webhookURL string
	client     *http.Client
	// minLevel filters out notifications below it
	minLevel Level
}

// SlackMessage is the webhook payload
type SlackMessage struct {
	Text        string            `json:"text"`
	Attachments []SlackAttachment `json:"attachments,omitempty"`
}

// SlackAttachment is one colored block of a message
type SlackAttachment struct {
	Color  string       `json:"color"`
	Title  string       `json:"title,omitempty"`
	Text   string       `json:"text"`
	Fields []SlackField `json:"fields,omitempty"`
	Footer string       `json:"footer,omitempty"`
}

// SlackField is a short key/value line inside an attachment
type SlackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// NewSlackNotifier creates a notifier; an empty URL disables it
func NewSlackNotifier(webhookURL string, minLevel Level) *SlackNotifier {
	return &SlackNotifier{
		webhookURL: webhookURL,
		minLevel:   minLevel,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// SlackColor maps a level to an attachment color
func SlackColor(l Level) string {
	switch l {
	case LevelSuccess:
		return "good"
	case LevelWarning:
		return "warning"
	case LevelError:
		return "danger"
	default:
		return "#439FE0"
	}
}

// buildMessage renders n as a webhook payload
func buildMessage(n Notification) SlackMessage {
	att := SlackAttachment{
		Color:  SlackColor(n.Level),
		Text:   n.Message,
		Footer: "sim-topup",
	}
	if n.JobID != 0 {
		att.Title = fmt.Sprintf("job #%d", n.JobID)
	}
	if n.Number != "" {
		att.Fields = append(att.Fields, SlackField{Title: "Number", Value: n.Number, Short: true})
	}
	if n.Device != "" {
		att.Fields = append(att.Fields, SlackField{Title: "Device", Value: n.Device, Short: true})
	}
	return SlackMessage{Text: n.Title, Attachments: []SlackAttachment{att}}
}

func (s *SlackNotifier) Send(ctx context.Context, n Notification) error {
	if s.webhookURL == "" || n.Level < s.minLevel {
		return nil
	}

	payload, err := json.Marshal(buildMessage(n))
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack returned %d", resp.StatusCode)
	}
	return nil
}
