package escalation

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Workflow timing. Defaults match production behavior; tests compress them.
type Config struct {
	// window the subject has to solve the challenge before escalation
	GracePeriod time.Duration
	// cadence of solve-status polling
	PollInterval time.Duration
	// initial restriction, slightly longer than the grace period so the
	// subject cannot act before resolution lands
	InitialHold time.Duration
	// restriction applied when the challenge times out
	EscalatedRestriction time.Duration
}

func DefaultConfig() Config {
	return Config{
		GracePeriod:          60 * time.Second,
		PollInterval:         1 * time.Second,
		InitialHold:          65 * time.Second,
		EscalatedRestriction: 1 * time.Hour,
	}
}

// Engine drives flagged incidents through the escalation workflow: initial
// restriction, challenge issuance, subject notification, then a race between
// the solve poller and the escalation timer that exactly one side wins.
type Engine struct {
	Logger   *slog.Logger
	Backend  ChallengeBackend
	Actions  ModerationAction
	Registry *Registry
	// optional; receives escalated and errored incidents
	Notifier Notifier
	Config   Config
}

func NewEngine(logger *slog.Logger, backend ChallengeBackend, actions ModerationAction, registry *Registry) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		Logger:   logger,
		Backend:  backend,
		Actions:  actions,
		Registry: registry,
		Config:   DefaultConfig(),
	}
}

func (e *Engine) incidentLogger(inc *Incident) *slog.Logger {
	return e.Logger.With("incident", inc.ID, "user", inc.Subject.UserTag, "guild", inc.Subject.GuildID)
}

// OpenIncident runs the creation sequence for a freshly flagged message:
// restrict, report, notify, register, and start the resolution workflow.
//
// The initial restriction is attempted exactly once, before the report call.
// If the backend refuses the report, no incident is created and no timers
// start; the subject is left with only the short hold (there is deliberately
// no compensating unrestrict in that path).
func (e *Engine) OpenIncident(ctx context.Context, subject Subject, origin MessageRef, reason string) (*Incident, error) {
	if reason == "" {
		reason = "No reason provided"
	}
	logger := e.Logger.With("user", subject.UserTag, "guild", subject.GuildID)
	logger.Info("opening incident", "reason", reason)

	if err := e.Actions.Restrict(ctx, subject, e.Config.InitialHold, auditAwaitSolve); err != nil {
		logger.Warn("failed to apply initial restriction", "err", err)
	}

	challenge, err := e.Backend.OpenChallenge(ctx, subject, origin, reason)
	if err != nil {
		incidentsAborted.Inc()
		return nil, fmt.Errorf("reporting incident: %w", err)
	}

	createdAt := time.Now()
	wctx, cancel := context.WithCancel(context.Background())
	inc := &Incident{
		ID:        challenge.ID,
		Subject:   subject,
		Origin:    origin,
		Reason:    reason,
		SolveURL:  challenge.URL,
		CreatedAt: createdAt,
		Deadline:  createdAt.Add(e.Config.GracePeriod),
		state:     StateAwaitingSolve,
		ctx:       wctx,
		cancel:    cancel,
	}

	handle, err := e.Actions.SendDirect(ctx, subject, flaggedNotice(origin.Content, reason, challenge.URL, inc.Deadline))
	if err != nil {
		// the restriction stands even when the notification cannot be delivered
		logger.Warn("failed to notify subject", "err", err)
	} else {
		inc.notice = handle
		inc.hasNotice = true
	}

	e.Registry.Register(inc.ID, inc)
	incidentsOpened.Inc()
	go e.run(inc)
	return inc, nil
}

// run is the per-incident workflow goroutine: a one-shot escalation timer
// racing a fixed-interval solve poller. Resolution cancels both by returning.
func (e *Engine) run(inc *Incident) {
	logger := e.incidentLogger(inc)
	defer func() {
		if r := recover(); r != nil {
			logger.Error("escalation workflow panic", "err", r)
			e.resolveError(inc)
		}
	}()

	timer := time.NewTimer(time.Until(inc.Deadline))
	defer timer.Stop()
	ticker := time.NewTicker(e.Config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-inc.ctx.Done():
			return
		case <-timer.C:
			e.Escalate(inc)
			return
		case <-ticker.C:
			if e.tick(inc) {
				return
			}
		}
	}
}

// tick handles one poll interval, returning true once the incident is
// resolved. A tick landing on or past the deadline escalates instead of
// polling; timeout is the safer default when the triggers collide.
func (e *Engine) tick(inc *Incident) bool {
	if !time.Now().Before(inc.Deadline) {
		e.Escalate(inc)
		return true
	}
	return e.PollOnce(inc)
}

// PollOnce performs a single solve-status check. Returns true once the
// incident is resolved (by this tick or previously); a call after resolution
// is a no-op. Status-check failures count as "not yet solved".
func (e *Engine) PollOnce(inc *Incident) bool {
	if inc.Resolved() {
		return true
	}
	completed, err := e.Backend.SolveStatus(inc.ctx, inc.ID)
	if err != nil {
		e.incidentLogger(inc).Warn("challenge status check failed", "err", err)
		return false
	}
	if completed {
		e.ResolveSolved(inc)
		return true
	}
	return false
}

// ResolveSolved is the solve trigger: confirm to the subject and lift the
// restriction. A no-op if the incident already resolved.
func (e *Engine) ResolveSolved(inc *Incident) {
	if !inc.claim(StateResolvedSolved) {
		return
	}
	inc.cancel()
	defer e.finish(inc, StateResolvedSolved)
	logger := e.incidentLogger(inc)
	logger.Info("incident resolved", "outcome", StateResolvedSolved)

	// cleanup must outlive the (now canceled) workflow context
	ctx := context.Background()
	if inc.hasNotice {
		e.attempt(logger, "edit notice", func() error {
			return e.Actions.EditMessage(ctx, inc.notice, solvedNotice)
		})
	}
	e.attempt(logger, "lift restriction", func() error {
		return e.Actions.Unrestrict(ctx, inc.Subject, auditSolved)
	})
}

// Escalate is the timeout trigger: inform the subject, delete the flagged
// message, and apply the long-form restriction. A no-op if the incident
// already resolved.
func (e *Engine) Escalate(inc *Incident) {
	if !inc.claim(StateResolvedEscalated) {
		return
	}
	inc.cancel()
	defer e.finish(inc, StateResolvedEscalated)
	logger := e.incidentLogger(inc)
	logger.Info("incident resolved", "outcome", StateResolvedEscalated)

	ctx := context.Background()
	if inc.hasNotice {
		e.attempt(logger, "edit notice", func() error {
			return e.Actions.EditMessage(ctx, inc.notice, escalatedNotice)
		})
	}
	e.attempt(logger, "delete message", func() error {
		return e.Actions.DeleteMessage(ctx, inc.Origin)
	})
	e.attempt(logger, "apply restriction", func() error {
		return e.Actions.Restrict(ctx, inc.Subject, e.Config.EscalatedRestriction, auditTimeout)
	})
}

func (e *Engine) resolveError(inc *Incident) {
	if !inc.claim(StateResolvedError) {
		return
	}
	inc.cancel()
	e.finish(inc, StateResolvedError)
}

// each terminal side effect is independently best-effort: a failure, panic
// included, is logged and the remaining remediation steps still run
func (e *Engine) attempt(logger *slog.Logger, step string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("remediation step panic", "step", step, "err", r)
		}
	}()
	if err := fn(); err != nil {
		logger.Warn("remediation step failed", "step", step, "err", err)
	}
}

func (e *Engine) finish(inc *Incident, outcome State) {
	e.Registry.Deregister(inc.ID)
	incidentsResolved.WithLabelValues(string(outcome)).Inc()
	if e.Notifier != nil && (outcome == StateResolvedEscalated || outcome == StateResolvedError) {
		if err := e.Notifier.SendIncident(context.Background(), inc, outcome); err != nil {
			e.incidentLogger(inc).Warn("failed to send moderator notification", "err", err)
		}
	}
}
