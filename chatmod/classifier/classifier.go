// Clients for the external classification services that decide whether a
// message or attachment violates policy.
//
// All clients in this package share one failure posture: a classification
// service being unreachable, or returning garbage, must never block message
// flow. Transport and HTTP-level failures degrade to "no detections" and are
// logged; only the caller-side plumbing (request construction, etc) surfaces
// as errors.
package classifier

import (
	"context"

	"github.com/sentry-mod/sentry/chatmod/convostore"
)

// Verdict is the outcome of classifying a single candidate message.
type Verdict struct {
	Flagged bool
	// Human-readable classification reason. Only meaningful when Flagged;
	// never empty in that case (a missing reason is normalized).
	Reason string
}

// DefaultReason substitutes for an affirmative classifier response that did
// not carry a parseable reason.
const DefaultReason = "No reason provided"

type TextClassifier interface {
	ClassifyText(ctx context.Context, window []convostore.ConvoEntry, candidate convostore.ConvoEntry) (Verdict, error)
}

// ImageResult is the verdict for one submitted URL. A nil Flagged means the
// service was inconclusive and the URL needs a secondary reputation check.
type ImageResult struct {
	URL     string
	Flagged *bool
}

type ImageClassifier interface {
	// ClassifyImages returns one result per input URL, positionally aligned.
	// A service failure yields an empty result set, not an error.
	ClassifyImages(ctx context.Context, urls []string) ([]ImageResult, error)
}

// URLChecker is the secondary reputation check for URLs the image classifier
// could not decide on.
type URLChecker interface {
	CheckURLs(ctx context.Context, urls []string) ([]bool, error)
}
