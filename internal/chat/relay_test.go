package chat

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/suPer8Hu/polylog/internal/ai"
)

const waitTimeout = 2 * time.Second

type stubPolicy struct {
	mu      sync.Mutex
	respond bool
	seen    [][]Event
}

func (p *stubPolicy) ShouldRespond(_, _ string, recent []Event) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seen = append(p.seen, recent)
	return p.respond
}

func (p *stubPolicy) calls() [][]Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]Event(nil), p.seen...)
}

type turn struct{ role, name, text string }

type stubResponder struct {
	mu    sync.Mutex
	reply string
	turns []turn
}

func (s *stubResponder) GenerateReply(_ context.Context, _, _, _ string) string {
	return s.reply
}

func (s *stubResponder) RecordTurn(_, role, name, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = append(s.turns, turn{role, name, text})
}

func (s *stubResponder) recorded() []turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]turn(nil), s.turns...)
}

type memArchive struct {
	mu     sync.Mutex
	events []Event
}

func (a *memArchive) Submit(_ string, ev Event) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, ev)
}

func (a *memArchive) all() []Event {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Event(nil), a.events...)
}

type relayFixture struct {
	relay     *Relay
	policy    *stubPolicy
	responder *stubResponder
	archive   *memArchive
	clearer   *recordingClearer
}

func newRelayFixture(t *testing.T, maxPerUser int) *relayFixture {
	t.Helper()
	f := &relayFixture{
		policy:    &stubPolicy{respond: true},
		responder: &stubResponder{reply: "hi there"},
		archive:   &memArchive{},
		clearer:   &recordingClearer{},
	}
	reg := NewRegistry(maxPerUser, 10, f.clearer, nil)
	f.relay = NewRelay(reg, f.policy, f.responder, f.archive, RelayOptions{
		AIName:            "AI Assistant",
		HeartbeatInterval: time.Hour,
	}, nil)
	f.relay.sleep = func(context.Context, time.Duration) error { return nil }
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
		defer cancel()
		_ = f.relay.Shutdown(ctx)
	})
	return f
}

func (f *relayFixture) serve(t *testing.T, cid, uid, name string) (*Connection, *fakeTransport, chan error) {
	t.Helper()
	c, tr := newConn(cid, uid, name)
	errc := make(chan error, 1)
	go func() { errc <- f.relay.Serve(context.Background(), c) }()
	return c, tr, errc
}

func TestRelay_SingleUserGetsEchoAndReply(t *testing.T) {
	req := require.New(t)
	f := newRelayFixture(t, 5)

	_, tr, _ := f.serve(t, "r1", "u1", "alice")
	tr.inbound <- frame{text: "hello"}

	got := tr.waitFor(4, waitTimeout)
	req.Equal([]string{
		"Connected to conversation r1. Welcome to Polylog, alice!",
		"alice has joined the conversation",
		"hello",
		"hi there",
	}, got)

	evs := tr.events()
	human, reply := evs[2], evs[3]
	req.False(human.IsAIMessage)
	req.Equal("u1", *human.UserID)
	req.Equal("alice", human.UserName)
	req.True(reply.IsAIMessage)
	req.Nil(reply.UserID)
	req.Equal("AI Assistant", reply.UserName)

	req.Eventually(func() bool { return len(f.responder.recorded()) == 2 }, waitTimeout, 5*time.Millisecond)
	req.Equal([]turn{
		{ai.RoleUser, "alice", "hello"},
		{ai.RoleAssistant, "AI Assistant", "hi there"},
	}, f.responder.recorded())

	archived := f.archive.all()
	req.Len(archived, 2)
	req.Equal(human.ID, archived[0].ID)
	req.Equal(reply.ID, archived[1].ID)
}

func TestRelay_LateJoinerSeesOnlyLaterEvents(t *testing.T) {
	req := require.New(t)
	f := newRelayFixture(t, 5)

	_, trA, _ := f.serve(t, "r1", "u1", "alice")
	trA.inbound <- frame{text: "hello"}
	req.Len(trA.waitFor(4, waitTimeout), 4)

	_, trB, _ := f.serve(t, "r1", "u2", "bob")

	gotB := trB.waitFor(2, waitTimeout)
	req.Equal([]string{
		"Connected to conversation r1. Welcome to Polylog, bob!",
		"bob has joined the conversation",
	}, gotB)
	req.Equal("bob has joined the conversation", trA.waitFor(5, waitTimeout)[4])
	req.NotContains(gotB, "hello")
}

func TestRelay_DisconnectAnnouncesAndClears(t *testing.T) {
	req := require.New(t)
	f := newRelayFixture(t, 5)

	_, trA, errA := f.serve(t, "r1", "u1", "alice")
	req.Len(trA.waitFor(2, waitTimeout), 2)
	_, trB, _ := f.serve(t, "r1", "u2", "bob")
	req.Len(trB.waitFor(2, waitTimeout), 2)

	// When alice's socket drops
	_ = trA.Close()
	req.NoError(<-errA)

	// Then bob hears about it and the room shrinks
	req.Equal("alice has left the conversation", trB.waitFor(3, waitTimeout)[2])
	req.Equal(1, f.relay.Registry().Snapshot()[0].ConnectionCount)
	req.Empty(f.clearer.calls())

	_ = trB.Close()
	req.Eventually(func() bool { return len(f.relay.Registry().Snapshot()) == 0 }, waitTimeout, 5*time.Millisecond)
	req.Equal([]string{"r1"}, f.clearer.calls())
}

func TestRelay_RejectsOverCapWithoutSideEffects(t *testing.T) {
	req := require.New(t)
	f := newRelayFixture(t, 1)

	_, trA, _ := f.serve(t, "r1", "u1", "alice")
	req.Len(trA.waitFor(2, waitTimeout), 2)

	_, trA2, errA2 := f.serve(t, "r1", "u1", "alice")

	req.ErrorIs(<-errA2, ErrMaxConnectionsExceeded)
	req.Empty(trA2.contents())
	req.Equal(1, f.relay.Registry().UserSessionCount("u1"))
	req.Len(trA.contents(), 2)
}

func TestRelay_SkipsBlankAndMalformedFrames(t *testing.T) {
	req := require.New(t)
	f := newRelayFixture(t, 5)
	f.policy.respond = false

	_, tr, _ := f.serve(t, "r1", "u1", "alice")
	tr.inbound <- frame{text: "   "}
	tr.inbound <- frame{err: ErrMalformedFrame}
	tr.inbound <- frame{text: "real"}

	got := tr.waitFor(3, waitTimeout)
	req.Equal([]string{
		"Connected to conversation r1. Welcome to Polylog, alice!",
		"alice has joined the conversation",
		"real",
	}, got)
	req.Len(f.policy.calls(), 1)
}

func TestRelay_PolicySeesPriorEventsOnly(t *testing.T) {
	req := require.New(t)
	f := newRelayFixture(t, 5)
	f.policy.respond = false

	_, tr, _ := f.serve(t, "r1", "u1", "alice")
	tr.inbound <- frame{text: "one"}
	tr.inbound <- frame{text: "two"}
	req.Len(tr.waitFor(4, waitTimeout), 4)

	calls := f.policy.calls()
	req.Len(calls, 2)
	req.Empty(calls[0])
	req.Len(calls[1], 1)
	req.Equal("one", calls[1][0].Content)
	req.Empty(f.responder.recorded())
}

func TestRelay_ShutdownClosesConnections(t *testing.T) {
	req := require.New(t)
	f := newRelayFixture(t, 5)

	_, trA, errA := f.serve(t, "r1", "u1", "alice")
	_, trB, errB := f.serve(t, "r2", "u2", "bob")
	req.Len(trA.waitFor(2, waitTimeout), 2)
	req.Len(trB.waitFor(2, waitTimeout), 2)

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	req.NoError(f.relay.Shutdown(ctx))

	req.NoError(<-errA)
	req.NoError(<-errB)
	req.True(trA.isClosed())
	req.True(trB.isClosed())
	req.Empty(f.relay.Registry().Snapshot())
}

func TestRelay_ServeAfterShutdownIsRejected(t *testing.T) {
	req := require.New(t)
	f := newRelayFixture(t, 5)

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	req.NoError(f.relay.Shutdown(ctx))

	c, tr := newConn("r1", "u1", "alice")
	req.ErrorIs(f.relay.Serve(context.Background(), c), ErrRelayClosed)
	req.Empty(tr.events())
	req.Empty(f.relay.Registry().Snapshot())
	req.Zero(f.relay.Registry().UserSessionCount("u1"))
}

func TestRelay_ShutdownRacingJoinsNeverHangs(t *testing.T) {
	for i := 0; i < 50; i++ {
		f := newRelayFixture(t, 5)
		c, tr := newConn("r1", "u1", "alice")
		errc := make(chan error, 1)
		go func() { errc <- f.relay.Serve(context.Background(), c) }()

		ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
		require.NoError(t, f.relay.Shutdown(ctx))
		cancel()

		select {
		case err := <-errc:
			if err != nil {
				require.ErrorIs(t, err, ErrRelayClosed)
			} else {
				require.True(t, tr.isClosed())
			}
		case <-time.After(waitTimeout):
			t.Fatal("serve did not return after shutdown")
		}
		require.Empty(t, f.relay.Registry().Snapshot())
	}
}

func TestRelay_ContextCancelEndsServe(t *testing.T) {
	f := newRelayFixture(t, 5)
	c, tr := newConn("r1", "u1", "alice")

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- f.relay.Serve(ctx, c) }()
	require.Len(t, tr.waitFor(2, waitTimeout), 2)

	cancel()
	require.NoError(t, <-errc)
	require.True(t, tr.isClosed())
}

type blockingResponder struct {
	entered   chan struct{}
	cancelled chan struct{}
}

func (b *blockingResponder) GenerateReply(ctx context.Context, _, _, _ string) string {
	close(b.entered)
	<-ctx.Done()
	close(b.cancelled)
	return "too late"
}

func (b *blockingResponder) RecordTurn(_, _, _, _ string) {}

func TestRelay_CloseCancelsGeneration(t *testing.T) {
	req := require.New(t)
	reg := NewRegistry(5, 10, nil, nil)
	resp := &blockingResponder{entered: make(chan struct{}), cancelled: make(chan struct{})}
	relay := NewRelay(reg, &stubPolicy{respond: true}, resp, nil, RelayOptions{HeartbeatInterval: time.Hour}, nil)

	c, tr := newConn("r1", "u1", "alice")
	errc := make(chan error, 1)
	go func() { errc <- relay.Serve(context.Background(), c) }()
	tr.inbound <- frame{text: "hello"}

	select {
	case <-resp.entered:
	case <-time.After(waitTimeout):
		t.Fatal("generation never started")
	}
	_ = c.Close()

	select {
	case <-resp.cancelled:
	case <-time.After(waitTimeout):
		t.Fatal("generation was not cancelled")
	}
	req.NoError(<-errc)
	req.NotContains(tr.contents(), "too late")
	req.Empty(reg.Snapshot())
}
