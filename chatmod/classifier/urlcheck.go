package classifier

import (
	"context"
)

// StubURLChecker is the secondary reputation check for URLs the image
// classifier was inconclusive about. It currently clears everything: this is
// an explicit extension point for a real URL-reputation service, and the
// forwarding path through it must be preserved rather than dropped.
type StubURLChecker struct{}

func (StubURLChecker) CheckURLs(ctx context.Context, urls []string) ([]bool, error) {
	results := make([]bool, len(urls))
	return results, nil
}

var _ URLChecker = StubURLChecker{}
