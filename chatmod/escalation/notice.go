package escalation

import (
	"fmt"
	"time"
)

// audit reasons attached to platform actions
const (
	auditAwaitSolve = "message flagged; awaiting challenge solve"
	auditSolved     = "challenge solved"
	auditTimeout    = "challenge timeout"
)

// Notification sent to the subject when the incident opens. The deadline is
// rendered as a Discord relative timestamp so the user sees a live countdown.
func flaggedNotice(content, reason, solveURL string, deadline time.Time) string {
	return "# MESSAGE FLAGGED\n" +
		fmt.Sprintf("Your message %q has been flagged for the following reason: %s\n", content, reason) +
		fmt.Sprintf("Solve the verification challenge to continue chatting: %s\n", solveURL) +
		fmt.Sprintf("An elevated punishment will be issued <t:%d:R>.", deadline.Unix())
}

const solvedNotice = "Challenge solved. You may continue chatting."

const escalatedNotice = "Session timed out. Your message has been reported to the server moderators."
