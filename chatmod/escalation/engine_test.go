package escalation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	mu          sync.Mutex
	reportErr   error
	reportCalls int
	completed   bool
	statusErr   error
	statusCalls int
}

func (b *fakeBackend) OpenChallenge(ctx context.Context, subject Subject, origin MessageRef, reason string) (*Challenge, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reportCalls++
	if b.reportErr != nil {
		return nil, b.reportErr
	}
	return &Challenge{ID: "chal-1", URL: "https://solve.example/chal-1"}, nil
}

func (b *fakeBackend) SolveStatus(ctx context.Context, id string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.statusCalls++
	if b.statusErr != nil {
		return false, b.statusErr
	}
	return b.completed, nil
}

func (b *fakeBackend) solve() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.completed = true
}

func (b *fakeBackend) statusCallCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.statusCalls
}

type restrictCall struct {
	duration time.Duration
	reason   string
}

type fakeActions struct {
	mu          sync.Mutex
	restricts   []restrictCall
	unrestricts int
	deletes     int
	sends       int
	edits       []string
	sendErr     error
	editErr     error
	editPanic   bool
	restrictErr error
}

func (a *fakeActions) Restrict(ctx context.Context, subject Subject, d time.Duration, auditReason string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.restricts = append(a.restricts, restrictCall{duration: d, reason: auditReason})
	return a.restrictErr
}

func (a *fakeActions) Unrestrict(ctx context.Context, subject Subject, auditReason string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.unrestricts++
	return nil
}

func (a *fakeActions) DeleteMessage(ctx context.Context, ref MessageRef) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.deletes++
	return nil
}

func (a *fakeActions) SendDirect(ctx context.Context, subject Subject, content string) (MessageHandle, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sends++
	if a.sendErr != nil {
		return MessageHandle{}, a.sendErr
	}
	return MessageHandle{ChannelID: "dm-1", MessageID: "notice-1"}, nil
}

func (a *fakeActions) EditMessage(ctx context.Context, handle MessageHandle, content string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.editPanic {
		panic("message store gone")
	}
	if a.editErr != nil {
		return a.editErr
	}
	a.edits = append(a.edits, content)
	return nil
}

func (a *fakeActions) snapshot() (restricts []restrictCall, unrestricts, deletes int, edits []string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	restricts = append([]restrictCall{}, a.restricts...)
	edits = append([]string{}, a.edits...)
	return restricts, a.unrestricts, a.deletes, edits
}

func testConfig() Config {
	return Config{
		GracePeriod:          60 * time.Millisecond,
		PollInterval:         5 * time.Millisecond,
		InitialHold:          65 * time.Millisecond,
		EscalatedRestriction: 1 * time.Hour,
	}
}

func testFixture(backend ChallengeBackend, actions ModerationAction) *Engine {
	eng := NewEngine(slog.Default(), backend, actions, NewRegistry())
	eng.Config = testConfig()
	return eng
}

func testSubject() Subject {
	return Subject{
		UserID:      "u-1",
		UserTag:     "mallory#6666",
		GuildID:     "g-1",
		GuildName:   "Test Guild",
		ChannelID:   "c-1",
		ChannelName: "general",
	}
}

func testOrigin() MessageRef {
	return MessageRef{
		ChannelID: "c-1",
		MessageID: "m-1",
		Content:   "send me your card number",
	}
}

func TestSolvedPath(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	backend := &fakeBackend{}
	actions := &fakeActions{}
	eng := testFixture(backend, actions)

	inc, err := eng.OpenIncident(ctx, testSubject(), testOrigin(), "Bank Card Fraud.")
	require.NoError(t, err)
	require.NotNil(t, inc)
	assert.Equal(StateAwaitingSolve, inc.State())
	assert.Equal(1, eng.Registry.Size())

	// solve well before the deadline; the poller should pick it up
	time.AfterFunc(15*time.Millisecond, backend.solve)

	require.Eventually(t, func() bool { return inc.State() == StateResolvedSolved }, time.Second, time.Millisecond)

	// the escalation timer never fires its side effects
	time.Sleep(2 * eng.Config.GracePeriod)
	restricts, unrestricts, deletes, edits := actions.snapshot()
	assert.Equal(1, len(restricts))
	assert.Equal(eng.Config.InitialHold, restricts[0].duration)
	assert.Equal(1, unrestricts)
	assert.Equal(0, deletes)
	require.Equal(t, 1, len(edits))
	assert.Equal(solvedNotice, edits[0])
	assert.Equal(0, eng.Registry.Size())
}

func TestEscalatedPath(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	backend := &fakeBackend{}
	actions := &fakeActions{}
	eng := testFixture(backend, actions)

	inc, err := eng.OpenIncident(ctx, testSubject(), testOrigin(), "Images")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return inc.State() == StateResolvedEscalated }, time.Second, time.Millisecond)

	restricts, unrestricts, deletes, edits := actions.snapshot()
	require.Equal(t, 2, len(restricts))
	assert.Equal(eng.Config.InitialHold, restricts[0].duration)
	assert.Equal(eng.Config.EscalatedRestriction, restricts[1].duration)
	assert.Equal(0, unrestricts)
	assert.Equal(1, deletes)
	require.Equal(t, 1, len(edits))
	assert.Equal(escalatedNotice, edits[0])
	assert.Equal(0, eng.Registry.Size())
}

func TestReportRefusedAbortsWorkflow(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	backend := &fakeBackend{reportErr: fmt.Errorf("statusCode=500")}
	actions := &fakeActions{}
	eng := testFixture(backend, actions)

	inc, err := eng.OpenIncident(ctx, testSubject(), testOrigin(), "Scam")
	assert.Error(err)
	assert.Nil(inc)

	// no incident, no timers, no polling; the initial hold was attempted once
	time.Sleep(3 * eng.Config.PollInterval)
	restricts, unrestricts, deletes, _ := actions.snapshot()
	assert.Equal(1, len(restricts))
	assert.Equal(0, unrestricts)
	assert.Equal(0, deletes)
	assert.Equal(0, eng.Registry.Size())
	assert.Equal(0, backend.statusCallCount())
}

func TestCompetingTriggersResolveOnce(t *testing.T) {
	// fire both triggers near-simultaneously, many times; every incident must
	// resolve exactly once, and the loser must perform no side effects
	for i := 0; i < 50; i++ {
		backend := &fakeBackend{}
		actions := &fakeActions{}
		eng := testFixture(backend, actions)

		ctx, cancel := context.WithCancel(context.Background())
		inc := &Incident{
			ID:        "race-1",
			Subject:   testSubject(),
			Origin:    testOrigin(),
			Reason:    "Scam",
			CreatedAt: time.Now(),
			Deadline:  time.Now().Add(time.Hour),
			state:     StateAwaitingSolve,
			notice:    MessageHandle{ChannelID: "dm-1", MessageID: "notice-1"},
			hasNotice: true,
			ctx:       ctx,
			cancel:    cancel,
		}
		eng.Registry.Register(inc.ID, inc)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			eng.Escalate(inc)
		}()
		go func() {
			defer wg.Done()
			eng.ResolveSolved(inc)
		}()
		wg.Wait()

		state := inc.State()
		require.True(t, state == StateResolvedSolved || state == StateResolvedEscalated)

		_, unrestricts, deletes, edits := actions.snapshot()
		require.Equal(t, 1, len(edits))
		if state == StateResolvedSolved {
			require.Equal(t, 1, unrestricts)
			require.Equal(t, 0, deletes)
		} else {
			require.Equal(t, 0, unrestricts)
			require.Equal(t, 1, deletes)
		}
		require.Equal(t, 0, eng.Registry.Size())
	}
}

func TestPollAfterResolutionIsNoop(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	backend := &fakeBackend{completed: true}
	actions := &fakeActions{}
	eng := testFixture(backend, actions)

	inc, err := eng.OpenIncident(ctx, testSubject(), testOrigin(), "Scam")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return inc.State() == StateResolvedSolved }, time.Second, time.Millisecond)

	before := backend.statusCallCount()
	_, unrestrictsBefore, _, _ := actions.snapshot()

	// a tick arriving after resolution checks nothing and does nothing
	assert.True(eng.PollOnce(inc))
	assert.Equal(before, backend.statusCallCount())
	_, unrestrictsAfter, _, _ := actions.snapshot()
	assert.Equal(unrestrictsBefore, unrestrictsAfter)
}

func TestStatusCheckFailureTreatedAsUnsolved(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	backend := &fakeBackend{statusErr: fmt.Errorf("backend unreachable")}
	actions := &fakeActions{}
	eng := testFixture(backend, actions)

	inc, err := eng.OpenIncident(ctx, testSubject(), testOrigin(), "Scam")
	require.NoError(t, err)

	// polling errors never resolve the incident; the deadline eventually does
	require.Eventually(t, func() bool { return inc.State() == StateResolvedEscalated }, time.Second, time.Millisecond)
	assert.Greater(backend.statusCallCount(), 0)
}

func TestNotificationFailureDoesNotAbort(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	backend := &fakeBackend{}
	actions := &fakeActions{sendErr: fmt.Errorf("cannot DM user")}
	eng := testFixture(backend, actions)

	inc, err := eng.OpenIncident(ctx, testSubject(), testOrigin(), "Scam")
	require.NoError(t, err)
	require.NotNil(t, inc)

	// restriction stands and the workflow still runs to resolution
	require.Eventually(t, func() bool { return inc.State() == StateResolvedEscalated }, time.Second, time.Millisecond)
	restricts, _, deletes, edits := actions.snapshot()
	assert.Equal(2, len(restricts))
	assert.Equal(1, deletes)
	// no notice handle, so nothing to edit
	assert.Equal(0, len(edits))
}

func TestSideEffectFailureDoesNotAbortSiblings(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	backend := &fakeBackend{}
	actions := &fakeActions{editErr: fmt.Errorf("notice already deleted")}
	eng := testFixture(backend, actions)

	inc, err := eng.OpenIncident(ctx, testSubject(), testOrigin(), "Scam")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return inc.State() == StateResolvedEscalated }, time.Second, time.Millisecond)

	// the failed edit did not stop deletion or the long restriction
	restricts, _, deletes, _ := actions.snapshot()
	assert.Equal(1, deletes)
	require.Equal(t, 2, len(restricts))
	assert.Equal(eng.Config.EscalatedRestriction, restricts[1].duration)
}

func TestSideEffectPanicDoesNotAbortSiblings(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	backend := &fakeBackend{}
	actions := &fakeActions{editPanic: true}
	eng := testFixture(backend, actions)

	inc, err := eng.OpenIncident(ctx, testSubject(), testOrigin(), "Scam")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return inc.State() == StateResolvedEscalated }, time.Second, time.Millisecond)

	// a panicking edit still lets deletion and the long restriction run, and
	// the incident is deregistered
	require.Eventually(t, func() bool { return eng.Registry.Size() == 0 }, time.Second, time.Millisecond)
	restricts, _, deletes, edits := actions.snapshot()
	assert.Equal(1, deletes)
	require.Equal(t, 2, len(restricts))
	assert.Equal(eng.Config.EscalatedRestriction, restricts[1].duration)
	assert.Equal(0, len(edits))
}

func TestLapsedDeadlineTickEscalates(t *testing.T) {
	assert := assert.New(t)

	// the backend would report solved, but the tick lands past the deadline
	backend := &fakeBackend{completed: true}
	actions := &fakeActions{}
	eng := testFixture(backend, actions)

	ctx, cancel := context.WithCancel(context.Background())
	inc := &Incident{
		ID:        "late-1",
		Subject:   testSubject(),
		Origin:    testOrigin(),
		Reason:    "Scam",
		CreatedAt: time.Now().Add(-2 * eng.Config.GracePeriod),
		Deadline:  time.Now().Add(-eng.Config.GracePeriod),
		state:     StateAwaitingSolve,
		notice:    MessageHandle{ChannelID: "dm-1", MessageID: "notice-1"},
		hasNotice: true,
		ctx:       ctx,
		cancel:    cancel,
	}
	eng.Registry.Register(inc.ID, inc)

	// timeout wins the collision; the solve status is never consulted
	assert.True(eng.tick(inc))
	assert.Equal(StateResolvedEscalated, inc.State())
	assert.Equal(0, backend.statusCallCount())

	restricts, unrestricts, deletes, edits := actions.snapshot()
	require.Equal(t, 1, len(restricts))
	assert.Equal(eng.Config.EscalatedRestriction, restricts[0].duration)
	assert.Equal(0, unrestricts)
	assert.Equal(1, deletes)
	require.Equal(t, 1, len(edits))
	assert.Equal(escalatedNotice, edits[0])
	assert.Equal(0, eng.Registry.Size())
}

func TestReasonNormalized(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	backend := &fakeBackend{completed: true}
	actions := &fakeActions{}
	eng := testFixture(backend, actions)

	inc, err := eng.OpenIncident(ctx, testSubject(), testOrigin(), "")
	require.NoError(t, err)
	assert.Equal("No reason provided", inc.Reason)
}
