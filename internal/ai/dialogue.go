package ai

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// Dialogue is a running chat context: a system instruction plus the
// user/assistant exchanges sent so far. A failed exchange leaves it unchanged.
type Dialogue struct {
	mu         sync.Mutex
	system     string
	history    []Message
	maxHistory int
}

func NewDialogue(system string, maxHistory int) *Dialogue {
	if maxHistory <= 0 {
		maxHistory = 50
	}
	return &Dialogue{system: system, maxHistory: maxHistory}
}

// Send appends prompt to the dialogue, asks p for a reply and records it.
func (d *Dialogue) Send(ctx context.Context, p Provider, prompt string) (string, error) {
	if p == nil {
		return "", ErrUnavailable
	}

	d.mu.Lock()
	msgs := make([]Message, 0, len(d.history)+2)
	if d.system != "" {
		msgs = append(msgs, Message{Role: RoleSystem, Content: d.system})
	}
	msgs = append(msgs, d.history...)
	msgs = append(msgs, Message{Role: RoleUser, Content: prompt})
	d.mu.Unlock()

	reply, err := p.Chat(ctx, msgs)
	if err != nil {
		return "", Classify(err)
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return "", Classify(errors.New("empty reply"))
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.history = append(d.history,
		Message{Role: RoleUser, Content: prompt},
		Message{Role: RoleAssistant, Content: reply},
	)
	if over := len(d.history) - d.maxHistory; over > 0 {
		d.history = append([]Message(nil), d.history[over:]...)
	}
	return reply, nil
}

// History returns a copy of the exchanges recorded so far.
func (d *Dialogue) History() []Message {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Message(nil), d.history...)
}
