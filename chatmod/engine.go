// Package chatmod is the moderation pipeline: every inbound chat message is
// checked for policy violations (image attachments first, then text against a
// rolling conversation window), and positive verdicts open an escalation
// incident against the author.
package chatmod

import (
	"context"
	"log/slog"
	"regexp"

	"github.com/sentry-mod/sentry/chatmod/classifier"
	"github.com/sentry-mod/sentry/chatmod/convostore"
	"github.com/sentry-mod/sentry/chatmod/escalation"
)

var urlPattern = regexp.MustCompile(`https?://[^\s]+`)

// InboundMessage is one message received from the chat platform, already
// stripped of transport detail.
type InboundMessage struct {
	GuildID     string
	GuildName   string
	ChannelID   string
	ChannelName string
	MessageID   string

	AuthorID  string
	AuthorTag string

	Content        string
	AttachmentURLs []string
}

// runtime for classifying inbound messages and opening incidents.
type Engine struct {
	Logger *slog.Logger
	// the bot's own user id; its messages are never classified
	SelfID    string
	Convo     convostore.ConvoStore
	Text      classifier.TextClassifier
	Images    classifier.ImageClassifier
	URLs      classifier.URLChecker
	Escalator *escalation.Engine
}

// ProcessMessage runs the full moderation pipeline for one message. A
// positive verdict opens an incident and the message is NOT added to the
// conversation window; a clean message is appended for future context.
//
// No failure in here may take the process down or block message flow:
// classifier failures degrade to negative verdicts inside the clients, and a
// refused incident report is logged and dropped.
func (e *Engine) ProcessMessage(ctx context.Context, msg *InboundMessage) error {
	// similar to an HTTP server, we want to recover any panics from pipeline execution
	defer func() {
		if r := recover(); r != nil {
			e.Logger.Error("moderation pipeline exception", "err", r, "channel", msg.ChannelID, "message", msg.MessageID)
		}
	}()

	if msg.AuthorID == e.SelfID {
		return nil
	}
	messagesReceived.Inc()

	urls := extractURLs(msg.Content, msg.AttachmentURLs)
	if len(urls) > 0 {
		e.Logger.Debug("message has attachment URLs", "channel", msg.ChannelID, "count", len(urls))
		flagged, reason := e.checkImages(ctx, urls)
		if flagged {
			e.openIncident(ctx, msg, urls, reason)
			return nil
		}
		// nothing left to classify for an attachment-only message
		if len(msg.Content) < 1 {
			return nil
		}
	}

	candidate := convostore.ConvoEntry{Speaker: msg.AuthorTag, Content: msg.Content}

	window, err := e.Convo.Get(ctx, msg.ChannelID)
	if err != nil {
		e.Logger.Warn("failed to load conversation window", "err", err, "channel", msg.ChannelID)
		window = nil
	}

	verdict, err := e.Text.ClassifyText(ctx, window, candidate)
	if err != nil {
		e.Logger.Warn("text classification failed", "err", err, "channel", msg.ChannelID)
		return nil
	}
	if verdict.Flagged {
		e.openIncident(ctx, msg, urls, verdict.Reason)
		return nil
	}

	// flagged messages never become context for later classifications
	if err := e.Convo.Append(ctx, msg.ChannelID, candidate); err != nil {
		e.Logger.Warn("failed to append conversation window", "err", err, "channel", msg.ChannelID)
	}
	return nil
}

// checkImages runs the image classifier over the URLs and forwards any
// inconclusive entries to the secondary URL-reputation check.
func (e *Engine) checkImages(ctx context.Context, urls []string) (bool, string) {
	results, err := e.Images.ClassifyImages(ctx, urls)
	if err != nil {
		e.Logger.Warn("image classification failed", "err", err)
		return false, ""
	}

	var inconclusive []string
	for _, res := range results {
		if res.Flagged != nil {
			if *res.Flagged {
				return true, "Images"
			}
			continue
		}
		inconclusive = append(inconclusive, res.URL)
	}

	if len(inconclusive) > 0 {
		verdicts, err := e.URLs.CheckURLs(ctx, inconclusive)
		if err != nil {
			e.Logger.Warn("URL reputation check failed", "err", err)
			return false, ""
		}
		for _, bad := range verdicts {
			if bad {
				return true, "URLs"
			}
		}
	}
	return false, ""
}

func (e *Engine) openIncident(ctx context.Context, msg *InboundMessage, urls []string, reason string) {
	messagesFlagged.Inc()
	subject := escalation.Subject{
		UserID:      msg.AuthorID,
		UserTag:     msg.AuthorTag,
		GuildID:     msg.GuildID,
		GuildName:   msg.GuildName,
		ChannelID:   msg.ChannelID,
		ChannelName: msg.ChannelName,
	}
	origin := escalation.MessageRef{
		ChannelID:      msg.ChannelID,
		MessageID:      msg.MessageID,
		Content:        msg.Content,
		AttachmentURLs: urls,
	}
	if _, err := e.Escalator.OpenIncident(ctx, subject, origin, reason); err != nil {
		incidentsFailed.Inc()
		e.Logger.Error("failed to open incident", "err", err, "user", msg.AuthorTag, "guild", msg.GuildID)
	}
}

// extractURLs pulls http(s) URLs out of the message text and merges in any
// attachment URLs not already present, preserving order.
func extractURLs(content string, attachments []string) []string {
	urls := urlPattern.FindAllString(content, -1)
	for _, att := range attachments {
		seen := false
		for _, u := range urls {
			if u == att {
				seen = true
				break
			}
		}
		if !seen {
			urls = append(urls, att)
		}
	}
	return urls
}
