package escalation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/sentry-mod/sentry/util"

	"github.com/carlmjohnson/versioninfo"
)

// Challenge is the backend's answer to a report: an opaque incident id and
// the user-facing solve URL.
type Challenge struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// ChallengeBackend issues verification challenges and reports solve status
// on demand.
type ChallengeBackend interface {
	// OpenChallenge files the report and returns the challenge. A non-success
	// backend response is an error: the caller must abort the workflow.
	OpenChallenge(ctx context.Context, subject Subject, origin MessageRef, reason string) (*Challenge, error)
	// SolveStatus reports whether the challenge has been completed. Errors are
	// to be treated by callers as "not yet solved".
	SolveStatus(ctx context.Context, id string) (bool, error)
}

type reportUser struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type reportChannel struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type reportMessage struct {
	ID          string   `json:"id"`
	Content     string   `json:"content"`
	Attachments []string `json:"attachments"`
}

type reportBody struct {
	User    reportUser    `json:"user"`
	Guild   string        `json:"guild"`
	Channel reportChannel `json:"channel"`
	Message reportMessage `json:"message"`
	Reason  string        `json:"reason"`
	Time    string        `json:"time"`
}

type statusResponse struct {
	Completed bool `json:"completed"`
}

// HTTPChallengeBackend talks to the challenge service over HTTP. Report calls
// go through the robust retrying client; status polls use a short-timeout
// plain client so a slow backend cannot stretch the 1s poll cadence by much.
type HTTPChallengeBackend struct {
	Client     http.Client
	PollClient http.Client
	Host       string
	Logger     *slog.Logger
}

func NewHTTPChallengeBackend(host string, logger *slog.Logger) *HTTPChallengeBackend {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPChallengeBackend{
		Client: *util.RobustHTTPClient(),
		PollClient: http.Client{
			Timeout: time.Second * 5,
		},
		Host:   host,
		Logger: logger,
	}
}

func (b *HTTPChallengeBackend) OpenChallenge(ctx context.Context, subject Subject, origin MessageRef, reason string) (*Challenge, error) {
	body := reportBody{
		User:    reportUser{ID: subject.UserID, Name: subject.UserTag},
		Guild:   subject.GuildID,
		Channel: reportChannel{ID: subject.ChannelID, Name: subject.ChannelName},
		Message: reportMessage{
			ID:          origin.MessageID,
			Content:     origin.Content,
			Attachments: origin.AttachmentURLs,
		},
		Reason: reason,
		Time:   time.Now().UTC().Format(time.RFC3339),
	}
	reqBody, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.Host+"/report", bytes.NewReader(reqBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "sentry/"+versioninfo.Short())

	res, err := b.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("challenge report request failed: %w", err)
	}
	defer res.Body.Close()

	challengeAPICount.WithLabelValues("report", fmt.Sprint(res.StatusCode)).Inc()
	if res.StatusCode != 200 {
		return nil, fmt.Errorf("challenge report failed statusCode=%d", res.StatusCode)
	}

	respBytes, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read challenge report resp body: %w", err)
	}

	var challenge Challenge
	if err := json.Unmarshal(respBytes, &challenge); err != nil {
		return nil, fmt.Errorf("failed to parse challenge report resp JSON: %w", err)
	}
	if challenge.ID == "" {
		return nil, fmt.Errorf("challenge report resp missing id")
	}
	return &challenge, nil
}

func (b *HTTPChallengeBackend) SolveStatus(ctx context.Context, id string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.Host+"/getTurnstileStatus/"+id, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "sentry/"+versioninfo.Short())

	res, err := b.PollClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("challenge status request failed: %w", err)
	}
	defer res.Body.Close()

	challengeAPICount.WithLabelValues("status", fmt.Sprint(res.StatusCode)).Inc()
	if res.StatusCode != 200 {
		return false, fmt.Errorf("challenge status failed statusCode=%d", res.StatusCode)
	}

	var status statusResponse
	if err := json.NewDecoder(res.Body).Decode(&status); err != nil {
		return false, fmt.Errorf("failed to parse challenge status resp JSON: %w", err)
	}
	return status.Completed, nil
}
