package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/suPer8Hu/polylog/internal/ai"
)

// ErrRelayClosed rejects connections arriving after Shutdown began.
var ErrRelayClosed = errors.New("chat: relay shutting down")

// ResponsePolicy decides whether the automated participant replies to text.
// recent holds the room's events preceding text, oldest first.
type ResponsePolicy interface {
	ShouldRespond(text, authorName string, recent []Event) bool
}

// Responder produces AI replies and keeps the per-conversation turn log.
// GenerateReply never fails; it degrades to fallback text.
type Responder interface {
	GenerateReply(ctx context.Context, conversationID, userMessage, userName string) string
	RecordTurn(conversationID, role, name, text string)
}

// Archiver receives every human and AI event. Submit must not block.
type Archiver interface {
	Submit(conversationID string, ev Event)
}

type RelayOptions struct {
	AIName            string
	HeartbeatInterval time.Duration
	ReplyDelayMin     time.Duration
	ReplyDelayMax     time.Duration

	// PolicyWindow is how many prior events the policy sees.
	PolicyWindow int
}

// Relay runs connections: join, read loop, AI participation and teardown.
type Relay struct {
	registry    *Registry
	broadcaster *Broadcaster
	policy      ResponsePolicy
	responder   Responder
	archive     Archiver
	opts        RelayOptions
	log         *slog.Logger

	mu       sync.Mutex
	closing  bool
	stopping chan struct{}
	wg       sync.WaitGroup

	sleep func(ctx context.Context, d time.Duration) error
}

func NewRelay(registry *Registry, policy ResponsePolicy, responder Responder, archive Archiver, opts RelayOptions, log *slog.Logger) *Relay {
	if opts.AIName == "" {
		opts.AIName = "AI Assistant"
	}
	if opts.PolicyWindow <= 0 {
		opts.PolicyWindow = 3
	}
	if opts.ReplyDelayMax < opts.ReplyDelayMin {
		opts.ReplyDelayMax = opts.ReplyDelayMin
	}
	if log == nil {
		log = slog.Default()
	}
	r := &Relay{
		registry:    registry,
		broadcaster: NewBroadcaster(registry, log),
		policy:      policy,
		responder:   responder,
		archive:     archive,
		opts:        opts,
		log:         log,
		stopping:    make(chan struct{}),
		sleep:       sleepContext,
	}
	r.broadcaster.OnEvict = r.announceLeft
	return r
}

func (r *Relay) Registry() *Registry       { return r.registry }
func (r *Relay) Broadcaster() *Broadcaster { return r.broadcaster }

// Serve registers c and runs its read loop until the transport fails, c is
// closed, or ctx is cancelled. It returns ErrMaxConnectionsExceeded,
// ErrDuplicateSession or ErrRelayClosed without touching any state when the
// join is rejected.
func (r *Relay) Serve(ctx context.Context, c *Connection) error {
	r.mu.Lock()
	if r.closing {
		r.mu.Unlock()
		return ErrRelayClosed
	}
	r.wg.Add(1)
	r.mu.Unlock()
	defer r.wg.Done()

	if err := r.registry.Join(c); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	defer stop()
	defer r.disconnect(c)

	// a closed connection or a relay shutdown cancels any in-flight generation
	go func() {
		select {
		case <-c.Done():
			cancel()
		case <-r.stopping:
			cancel()
		case <-ctx.Done():
		}
	}()

	sup := NewSupervisor(c, r.opts.HeartbeatInterval, r.disconnect, r.log)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		sup.Run(ctx)
	}()

	r.log.Info("connection joined",
		"conversation_id", c.ConversationID,
		"session_id", c.SessionID,
		"user_id", c.UserID,
	)
	welcome := fmt.Sprintf("Connected to conversation %s. Welcome to Polylog, %s!", c.ConversationID, c.UserName)
	if err := c.SendEvent(SystemEvent(welcome)); err != nil {
		return err
	}
	r.broadcaster.Broadcast(c.ConversationID, SystemEvent(c.UserName+" has joined the conversation"), "")

	for {
		text, err := c.Read()
		if err != nil {
			if errors.Is(err, ErrMalformedFrame) {
				r.log.Debug("dropped malformed frame", "session_id", c.SessionID)
				continue
			}
			return nil
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		r.HandleMessage(ctx, c, text)
	}
}

// HandleMessage relays one inbound message and, when the policy agrees,
// the automated participant's reply.
func (r *Relay) HandleMessage(ctx context.Context, c *Connection, text string) {
	cid := c.ConversationID
	ev := HumanEvent(c.UserID, c.UserName, text)

	recent := r.registry.Recent(cid, r.opts.PolicyWindow)
	r.registry.Record(cid, ev)
	r.broadcaster.Broadcast(cid, ev, "")
	r.submit(cid, ev)

	if r.policy == nil || r.responder == nil || !r.policy.ShouldRespond(text, c.UserName, recent) {
		return
	}

	reply := r.responder.GenerateReply(ctx, cid, text, c.UserName)
	if err := r.sleep(ctx, r.replyDelay()); err != nil {
		return
	}

	aiEv := AIEvent(r.opts.AIName, reply)
	r.registry.Record(cid, aiEv)
	r.broadcaster.Broadcast(cid, aiEv, "")
	r.submit(cid, aiEv)

	r.responder.RecordTurn(cid, ai.RoleUser, c.UserName, text)
	r.responder.RecordTurn(cid, ai.RoleAssistant, r.opts.AIName, reply)
}

// Shutdown refuses new connections, closes every live one and waits for their
// loops to exit. Connections that joined concurrently are stopped as well.
func (r *Relay) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	if !r.closing {
		r.closing = true
		close(r.stopping)
	}
	r.mu.Unlock()

	for _, c := range r.registry.All() {
		_ = c.Close()
	}
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// disconnect is safe to call more than once and from any goroutine; only the
// call that removes the session announces the departure.
func (r *Relay) disconnect(c *Connection) {
	removed, ok := r.registry.Leave(c.SessionID)
	_ = c.Close()
	if ok {
		r.announceLeft(removed)
	}
}

func (r *Relay) announceLeft(c *Connection) {
	r.log.Info("connection left",
		"conversation_id", c.ConversationID,
		"session_id", c.SessionID,
		"user_id", c.UserID,
	)
	r.broadcaster.Broadcast(c.ConversationID, SystemEvent(c.UserName+" has left the conversation"), "")
}

func (r *Relay) submit(conversationID string, ev Event) {
	if r.archive != nil {
		r.archive.Submit(conversationID, ev)
	}
}

func (r *Relay) replyDelay() time.Duration {
	span := r.opts.ReplyDelayMax - r.opts.ReplyDelayMin
	if span <= 0 {
		return r.opts.ReplyDelayMin
	}
	return r.opts.ReplyDelayMin + rand.N(span)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
