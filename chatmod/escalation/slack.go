package escalation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// Interface for a type that can notify moderators about incident outcomes.
type Notifier interface {
	SendIncident(ctx context.Context, inc *Incident, outcome State) error
}

type SlackNotifier struct {
	SlackWebhookURL string
}

func (n *SlackNotifier) SendIncident(ctx context.Context, inc *Incident, outcome State) error {
	msg := slackBody(inc, outcome)
	return n.sendSlackMsg(ctx, msg)
}

type SlackWebhookBody struct {
	Text string `json:"text"`
}

// Sends a simple slack message to a channel via "incoming webhook".
//
// The slack incoming webhook must be already configured in the slack workplace.
func (n *SlackNotifier) sendSlackMsg(ctx context.Context, msg string) error {
	body, err := json.Marshal(SlackWebhookBody{Text: msg})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.SlackWebhookURL, bytes.NewBuffer(body))
	if err != nil {
		return err
	}
	req.Header.Add("Content-Type", "application/json")
	client := http.DefaultClient
	resp, err := client.Do(req)
	if err != nil {
		return err
	}

	defer resp.Body.Close()

	buf := new(bytes.Buffer)
	buf.ReadFrom(resp.Body)
	if resp.StatusCode != 200 || buf.String() != "ok" {
		return fmt.Errorf("failed slack webhook POST request. status=%d", resp.StatusCode)
	}
	return nil
}

func slackBody(inc *Incident, outcome State) string {
	header := "⚠️ Moderation Incident Escalated ⚠️\n"
	if outcome == StateResolvedError {
		header = "⚠️ Moderation Incident Errored ⚠️\n"
	}
	msg := header
	msg += fmt.Sprintf("`%s` in `%s` / `#%s`\n", inc.Subject.UserTag, inc.Subject.GuildName, inc.Subject.ChannelName)
	msg += fmt.Sprintf("Reason: %s\n", inc.Reason)
	msg += fmt.Sprintf("Message: %q\n", inc.Origin.Content)
	if len(inc.Origin.AttachmentURLs) > 0 {
		msg += fmt.Sprintf("Attachments: %d\n", len(inc.Origin.AttachmentURLs))
	}
	return msg
}
