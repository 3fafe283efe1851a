package escalation

import (
	"context"
	"time"
)

// ModerationAction abstracts the chat-platform capabilities the workflow
// consumes. Each operation is independently fallible; the engine catches and
// logs failures per call, and a failed call never aborts sibling remediation
// steps.
type ModerationAction interface {
	// Restrict prevents the subject from posting for the given duration.
	Restrict(ctx context.Context, subject Subject, d time.Duration, auditReason string) error
	// Unrestrict lifts an active restriction early.
	Unrestrict(ctx context.Context, subject Subject, auditReason string) error
	DeleteMessage(ctx context.Context, ref MessageRef) error
	SendDirect(ctx context.Context, subject Subject, content string) (MessageHandle, error)
	EditMessage(ctx context.Context, handle MessageHandle, content string) error
}
