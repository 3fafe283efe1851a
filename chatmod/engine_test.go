package chatmod

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/sentry-mod/sentry/chatmod/classifier"
	"github.com/sentry-mod/sentry/chatmod/convostore"
	"github.com/sentry-mod/sentry/chatmod/escalation"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeText struct {
	mu      sync.Mutex
	calls   int
	verdict classifier.Verdict
}

func (f *fakeText) ClassifyText(ctx context.Context, window []convostore.ConvoEntry, candidate convostore.ConvoEntry) (classifier.Verdict, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.verdict, nil
}

func (f *fakeText) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeImages struct {
	results []classifier.ImageResult
}

func (f *fakeImages) ClassifyImages(ctx context.Context, urls []string) ([]classifier.ImageResult, error) {
	return f.results, nil
}

type fakeURLChecker struct {
	mu       sync.Mutex
	received []string
	verdicts []bool
}

func (f *fakeURLChecker) CheckURLs(ctx context.Context, urls []string) ([]bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.received = append(f.received, urls...)
	if f.verdicts != nil {
		return f.verdicts, nil
	}
	return make([]bool, len(urls)), nil
}

type stubBackend struct{}

func (stubBackend) OpenChallenge(ctx context.Context, subject escalation.Subject, origin escalation.MessageRef, reason string) (*escalation.Challenge, error) {
	return &escalation.Challenge{ID: "chal-1", URL: "https://solve.example/chal-1"}, nil
}

func (stubBackend) SolveStatus(ctx context.Context, id string) (bool, error) {
	return false, nil
}

type stubActions struct {
	mu        sync.Mutex
	restricts int
}

func (a *stubActions) Restrict(ctx context.Context, subject escalation.Subject, d time.Duration, auditReason string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.restricts++
	return nil
}

func (a *stubActions) Unrestrict(ctx context.Context, subject escalation.Subject, auditReason string) error {
	return nil
}

func (a *stubActions) DeleteMessage(ctx context.Context, ref escalation.MessageRef) error {
	return nil
}

func (a *stubActions) SendDirect(ctx context.Context, subject escalation.Subject, content string) (escalation.MessageHandle, error) {
	return escalation.MessageHandle{ChannelID: "dm", MessageID: "n"}, nil
}

func (a *stubActions) EditMessage(ctx context.Context, handle escalation.MessageHandle, content string) error {
	return nil
}

func engineTestFixture(text *fakeText, images *fakeImages, urls *fakeURLChecker) *Engine {
	registry := escalation.NewRegistry()
	escalator := escalation.NewEngine(slog.Default(), stubBackend{}, &stubActions{}, registry)
	// long timings: incidents stay registered for inspection
	escalator.Config = escalation.Config{
		GracePeriod:          time.Hour,
		PollInterval:         time.Hour,
		InitialHold:          time.Hour,
		EscalatedRestriction: time.Hour,
	}
	return &Engine{
		Logger:    slog.Default(),
		SelfID:    "bot-1",
		Convo:     convostore.NewMemConvoStore(100, time.Hour),
		Text:      text,
		Images:    images,
		URLs:      urls,
		Escalator: escalator,
	}
}

func inbound(content string, attachments ...string) *InboundMessage {
	return &InboundMessage{
		GuildID:        "g-1",
		GuildName:      "Test Guild",
		ChannelID:      "c-1",
		ChannelName:    "general",
		MessageID:      "m-1",
		AuthorID:       "u-1",
		AuthorTag:      "alice#1234",
		Content:        content,
		AttachmentURLs: attachments,
	}
}

func TestCleanMessageJoinsWindow(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	eng := engineTestFixture(&fakeText{}, &fakeImages{}, &fakeURLChecker{})
	assert.NoError(eng.ProcessMessage(ctx, inbound("hello there")))

	window, err := eng.Convo.Get(ctx, "c-1")
	require.NoError(t, err)
	require.Equal(t, 1, len(window))
	assert.Equal("alice#1234", window[0].Speaker)
	assert.Equal("hello there", window[0].Content)
	assert.Equal(0, eng.Escalator.Registry.Size())
}

func TestFlaggedMessageOpensIncident(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	text := &fakeText{verdict: classifier.Verdict{Flagged: true, Reason: "Bank Card Fraud."}}
	eng := engineTestFixture(text, &fakeImages{}, &fakeURLChecker{})
	assert.NoError(eng.ProcessMessage(ctx, inbound("send me your card number")))

	assert.Equal(1, eng.Escalator.Registry.Size())
	inc, ok := eng.Escalator.Registry.Lookup("chal-1")
	require.True(t, ok)
	assert.Equal("Bank Card Fraud.", inc.Reason)
	assert.Equal(escalation.StateAwaitingSolve, inc.State())

	// flagged messages never become classifier context
	window, err := eng.Convo.Get(ctx, "c-1")
	require.NoError(t, err)
	assert.Empty(window)
}

func TestOwnMessagesSkipped(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	text := &fakeText{verdict: classifier.Verdict{Flagged: true, Reason: "x"}}
	eng := engineTestFixture(text, &fakeImages{}, &fakeURLChecker{})

	msg := inbound("anything")
	msg.AuthorID = "bot-1"
	assert.NoError(eng.ProcessMessage(ctx, msg))
	assert.Equal(0, text.callCount())
	assert.Equal(0, eng.Escalator.Registry.Size())
}

func TestFlaggedImageShortCircuitsText(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	bad := true
	text := &fakeText{}
	images := &fakeImages{results: []classifier.ImageResult{
		{URL: "https://cdn.example.com/a.png", Flagged: &bad},
	}}
	eng := engineTestFixture(text, images, &fakeURLChecker{})

	assert.NoError(eng.ProcessMessage(ctx, inbound("look at this", "https://cdn.example.com/a.png")))

	inc, ok := eng.Escalator.Registry.Lookup("chal-1")
	require.True(t, ok)
	assert.Equal("Images", inc.Reason)
	assert.Equal(0, text.callCount())
}

func TestInconclusiveImagesForwardedToURLCheck(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	clean := false
	images := &fakeImages{results: []classifier.ImageResult{
		{URL: "https://cdn.example.com/a.png", Flagged: &clean},
		{URL: "https://cdn.example.com/b.png", Flagged: nil},
	}}
	urls := &fakeURLChecker{verdicts: []bool{true}}
	eng := engineTestFixture(&fakeText{}, images, urls)

	assert.NoError(eng.ProcessMessage(ctx, inbound("", "https://cdn.example.com/a.png", "https://cdn.example.com/b.png")))

	// only the inconclusive URL reaches the secondary check
	assert.Equal([]string{"https://cdn.example.com/b.png"}, urls.received)
	inc, ok := eng.Escalator.Registry.Lookup("chal-1")
	require.True(t, ok)
	assert.Equal("URLs", inc.Reason)
}

func TestAttachmentOnlyCleanMessageSkipsText(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	clean := false
	text := &fakeText{}
	images := &fakeImages{results: []classifier.ImageResult{
		{URL: "https://cdn.example.com/a.png", Flagged: &clean},
	}}
	eng := engineTestFixture(text, images, &fakeURLChecker{})

	assert.NoError(eng.ProcessMessage(ctx, inbound("", "https://cdn.example.com/a.png")))
	assert.Equal(0, text.callCount())
	assert.Equal(0, eng.Escalator.Registry.Size())
}

func TestExtractURLs(t *testing.T) {
	assert := assert.New(t)

	urls := extractURLs(
		"check https://a.example/x and https://b.example/y",
		[]string{"https://b.example/y", "https://c.example/z"},
	)
	assert.Equal([]string{"https://a.example/x", "https://b.example/y", "https://c.example/z"}, urls)

	assert.Empty(extractURLs("no links here", nil))
}
