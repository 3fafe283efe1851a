package classifier

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/sentry-mod/sentry/chatmod/convostore"
	"github.com/sentry-mod/sentry/util"

	"github.com/carlmjohnson/versioninfo"
	"golang.org/x/time/rate"
)

// affirmative marker in raw classifier output; reason follows a '|' delimiter
const affirmativeMarker = "TRUE"

//go:embed prompts
var defaultPromptFS embed.FS

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type textRequest struct {
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"maxTokens"`
	Model     string        `json:"model"`
}

type textResponse struct {
	Response string `json:"response"`
}

// LLMTextClassifier consults an LLM completion endpoint with a moderation
// system prompt, few-shot samples, the rolling conversation window, and the
// candidate message.
type LLMTextClassifier struct {
	Client   http.Client
	Endpoint string
	ApiToken string
	Model    string
	Logger   *slog.Logger

	// optional limiter on outbound classification calls
	Limiter *rate.Limiter

	// system prompt plus few-shot sample turns, loaded once at construction
	preamble []chatMessage
}

func NewLLMTextClassifier(endpoint, token, model string, logger *slog.Logger) (*LLMTextClassifier, error) {
	sub, err := fs.Sub(defaultPromptFS, "prompts")
	if err != nil {
		return nil, err
	}
	return newLLMTextClassifier(endpoint, token, model, logger, sub)
}

// NewLLMTextClassifierWithPrompts loads the system prompt and samples from the
// given filesystem instead of the embedded defaults. The filesystem root must
// hold system.txt and optionally a samples/ directory.
func NewLLMTextClassifierWithPrompts(endpoint, token, model string, logger *slog.Logger, promptFS fs.FS) (*LLMTextClassifier, error) {
	return newLLMTextClassifier(endpoint, token, model, logger, promptFS)
}

func newLLMTextClassifier(endpoint, token, model string, logger *slog.Logger, promptFS fs.FS) (*LLMTextClassifier, error) {
	if logger == nil {
		logger = slog.Default()
	}
	preamble, err := loadPreamble(promptFS)
	if err != nil {
		return nil, fmt.Errorf("loading classifier prompts: %w", err)
	}
	return &LLMTextClassifier{
		Client:   *util.RobustHTTPClient(),
		Endpoint: endpoint,
		ApiToken: token,
		Model:    model,
		Logger:   logger,
		preamble: preamble,
	}, nil
}

// Reads system.txt, then for every subdirectory of samples/ with both a
// user.txt and an assistant.txt, a few-shot user/assistant pair. Sample order
// is directory-name order, so samples can be numbered.
func loadPreamble(fsys fs.FS) ([]chatMessage, error) {
	system, err := fs.ReadFile(fsys, "system.txt")
	if err != nil {
		return nil, err
	}
	messages := []chatMessage{
		{Role: "system", Content: string(system)},
	}

	samples, err := fs.ReadDir(fsys, "samples")
	if err != nil {
		// samples are optional; a bare system prompt still works
		return messages, nil
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i].Name() < samples[j].Name() })

	for _, sample := range samples {
		if !sample.IsDir() {
			continue
		}
		userPath := "samples/" + sample.Name() + "/user.txt"
		assistantPath := "samples/" + sample.Name() + "/assistant.txt"
		user, uerr := fs.ReadFile(fsys, userPath)
		assistant, aerr := fs.ReadFile(fsys, assistantPath)
		if uerr != nil || aerr != nil {
			continue
		}
		messages = append(messages,
			chatMessage{Role: "user", Content: string(user)},
			chatMessage{Role: "assistant", Content: string(assistant)},
		)
	}
	return messages, nil
}

func renderCandidate(window []convostore.ConvoEntry, candidate convostore.ConvoEntry) string {
	var b strings.Builder
	b.WriteString("[[[CONTEXT]]]\n")
	for _, entry := range window {
		b.WriteString(entry.Speaker + ": " + entry.Content + "\n")
	}
	b.WriteString("[[[CONTEXT]]]\n")
	b.WriteString("[[[MESSAGE]]]\n")
	b.WriteString(candidate.Speaker + ": " + candidate.Content + "\n")
	b.WriteString("[[[MESSAGE]]]")
	return b.String()
}

// ParseVerdict interprets raw classifier output. The affirmative marker makes
// the verdict flagged; the reason is the segment after the first '|', trimmed.
// Any later pipe-delimited segments are discarded. A flagged response without
// a parseable reason gets DefaultReason. Anything else, including malformed
// output, is a negative verdict.
func ParseVerdict(raw string) Verdict {
	if !strings.Contains(raw, affirmativeMarker) {
		return Verdict{Flagged: false}
	}
	parts := strings.Split(raw, "|")
	if len(parts) < 2 || strings.TrimSpace(parts[1]) == "" {
		return Verdict{Flagged: true, Reason: DefaultReason}
	}
	return Verdict{Flagged: true, Reason: strings.TrimSpace(parts[1])}
}

func (cl *LLMTextClassifier) ClassifyText(ctx context.Context, window []convostore.ConvoEntry, candidate convostore.ConvoEntry) (Verdict, error) {
	if cl.Limiter != nil {
		if err := cl.Limiter.Wait(ctx); err != nil {
			return Verdict{}, err
		}
	}

	messages := make([]chatMessage, 0, len(cl.preamble)+1)
	messages = append(messages, cl.preamble...)
	messages = append(messages, chatMessage{Role: "user", Content: renderCandidate(window, candidate)})

	reqBody, err := json.Marshal(textRequest{
		Messages:  messages,
		MaxTokens: 512,
		Model:     cl.Model,
	})
	if err != nil {
		return Verdict{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cl.Endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return Verdict{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+cl.ApiToken)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "sentry/"+versioninfo.Short())

	start := time.Now()
	defer func() {
		duration := time.Since(start)
		textAPIDuration.Observe(duration.Seconds())
	}()

	res, err := cl.Client.Do(req)
	if err != nil {
		// availability over strictness: an unreachable classifier never blocks flow
		cl.Logger.Warn("text classifier unreachable", "err", err)
		return Verdict{Flagged: false}, nil
	}
	defer res.Body.Close()

	textAPICount.WithLabelValues(fmt.Sprint(res.StatusCode)).Inc()
	if res.StatusCode != 200 {
		cl.Logger.Warn("text classifier non-success response", "statusCode", res.StatusCode)
		return Verdict{Flagged: false}, nil
	}

	respBytes, err := io.ReadAll(res.Body)
	if err != nil {
		cl.Logger.Warn("failed to read text classifier resp body", "err", err)
		return Verdict{Flagged: false}, nil
	}

	var respObj textResponse
	if err := json.Unmarshal(respBytes, &respObj); err != nil {
		cl.Logger.Warn("failed to parse text classifier resp JSON", "err", err)
		return Verdict{Flagged: false}, nil
	}

	verdict := ParseVerdict(respObj.Response)
	cl.Logger.Debug("text classifier verdict", "flagged", verdict.Flagged, "reason", verdict.Reason)
	return verdict, nil
}
