package assistant

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"
	"github.com/suPer8Hu/polylog/internal/ai"
)

const systemInstruction = `You are an AI assistant in Polylog, a collaborative chat platform where multiple users can have conversations together.
- Be helpful, friendly and conversational.
- Keep responses concise, usually 1-3 sentences unless asked for more detail.
- Several people may be present; encourage them to talk to each other.
- Respond to greetings with a simple, friendly greeting back.
- Ask a clarifying question when intent is unclear.
You are facilitating the conversation, not leading it.`

// Generator is the text-generation capability. It may fail with
// ai.ErrUnavailable or ai.ErrTimeout.
type Generator interface {
	Generate(ctx context.Context, d *ai.Dialogue, prompt string) (string, error)
}

type Turn struct {
	Role string
	Name string
	Text string
	At   time.Time
}

// Session is one conversation's AI context. mu serializes generation and
// turn recording for that conversation only.
type Session struct {
	ConversationID string
	CreatedAt      time.Time

	mu       sync.Mutex
	dialogue *ai.Dialogue
	turns    []Turn
}

// Turns returns a copy of the turn log, oldest first.
func (s *Session) Turns() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Turn(nil), s.turns...)
}

func (s *Session) Dialogue() *ai.Dialogue { return s.dialogue }

type StoreOptions struct {
	MaxTurns int
	Timeout  time.Duration
}

// Store owns every conversation's Session. The map lock is held only for
// lookups; generation runs under the per-session lock.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*Session

	gen      Generator
	maxTurns int
	timeout  time.Duration
	log      *slog.Logger
}

func NewStore(gen Generator, opts StoreOptions, log *slog.Logger) *Store {
	if opts.MaxTurns <= 0 {
		opts.MaxTurns = 50
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 20 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		sessions: make(map[string]*Session),
		gen:      gen,
		maxTurns: opts.MaxTurns,
		timeout:  opts.Timeout,
		log:      log,
	}
}

// GetOrCreate returns the conversation's session, starting one on first use.
func (s *Store) GetOrCreate(conversationID string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[conversationID]
	if !ok {
		sess = &Session{
			ConversationID: conversationID,
			CreatedAt:      time.Now(),
			dialogue:       ai.NewDialogue(systemInstruction, s.maxTurns),
		}
		s.sessions[conversationID] = sess
		s.log.Info("ai session created", "conversation_id", conversationID)
	}
	return sess
}

// RecordTurn appends to the turn log, evicting the oldest entries past the cap.
func (s *Store) RecordTurn(conversationID, role, name, text string) {
	sess := s.GetOrCreate(conversationID)
	sess.mu.Lock()
	defer sess.mu.Unlock()

	sess.turns = append(sess.turns, Turn{Role: role, Name: name, Text: text, At: time.Now()})
	if over := len(sess.turns) - s.maxTurns; over > 0 {
		sess.turns = append([]Turn(nil), sess.turns[over:]...)
	}
}

// GenerateReply asks the generator for a reply in the conversation's running
// dialogue. Any failure yields the deterministic Fallback text instead.
func (s *Store) GenerateReply(ctx context.Context, conversationID, userMessage, userName string) string {
	sess := s.GetOrCreate(conversationID)
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if s.gen == nil {
		return Fallback(userMessage, userName)
	}

	gctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	reply, err := s.gen.Generate(gctx, sess.dialogue, fmt.Sprintf("%s: %s", userName, userMessage))
	if err != nil {
		s.log.Warn("ai generation failed, using fallback",
			"conversation_id", conversationID,
			"cost", time.Since(start),
			"err", ai.Classify(err),
		)
		return Fallback(userMessage, userName)
	}
	return reply
}

// Clear drops the conversation's session and turn log. It never waits on an
// in-flight generation; that call finishes against the detached session.
func (s *Store) Clear(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[conversationID]; ok {
		delete(s.sessions, conversationID)
		s.log.Info("ai session cleared", "conversation_id", conversationID)
	}
}

// Turns returns the conversation's turn log, or nil when no session exists.
func (s *Store) Turns(conversationID string) []Turn {
	s.mu.Lock()
	sess, ok := s.sessions[conversationID]
	s.mu.Unlock()
	if !ok {
		return nil
	}
	return sess.Turns()
}

// Summary describes the turn log, or reports false when it is empty.
func (s *Store) Summary(conversationID string) (string, bool) {
	turns := s.Turns(conversationID)
	if len(turns) == 0 {
		return "", false
	}
	last := turns[max(len(turns)-3, 0):]
	topics := lo.Map(last, func(t Turn, _ int) string {
		r := []rune(t.Text)
		if len(r) > 50 {
			return string(r[:50]) + "..."
		}
		return t.Text
	})
	return fmt.Sprintf("Conversation has %d messages. Recent topics: %s", len(turns), strings.Join(topics, ", ")), true
}

// Active is the number of conversations holding a session.
func (s *Store) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
