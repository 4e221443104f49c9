package chat

import (
	"encoding/json"
	"errors"
	"io"
	"sync"
	"time"
)

var errBrokenPipe = errors.New("write: broken pipe")

type frame struct {
	text string
	err  error
}

type fakeTransport struct {
	inbound   chan frame
	closed    chan struct{}
	closeOnce sync.Once

	mu         sync.Mutex
	sent       [][]byte
	failWrites bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		inbound: make(chan frame, 16),
		closed:  make(chan struct{}),
	}
}

func (t *fakeTransport) ReadText() (string, error) {
	select {
	case f := <-t.inbound:
		return f.text, f.err
	case <-t.closed:
		return "", io.EOF
	}
}

func (t *fakeTransport) WriteText(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.failWrites {
		return errBrokenPipe
	}
	t.sent = append(t.sent, append([]byte(nil), data...))
	return nil
}

func (t *fakeTransport) Close() error {
	t.closeOnce.Do(func() { close(t.closed) })
	return nil
}

func (t *fakeTransport) breakWrites() {
	t.mu.Lock()
	t.failWrites = true
	t.mu.Unlock()
}

func (t *fakeTransport) isClosed() bool {
	select {
	case <-t.closed:
		return true
	default:
		return false
	}
}

func (t *fakeTransport) events() []Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Event, 0, len(t.sent))
	for _, b := range t.sent {
		var ev Event
		if err := json.Unmarshal(b, &ev); err == nil {
			out = append(out, ev)
		}
	}
	return out
}

// contents lists the content of received events, skipping liveness probes.
func (t *fakeTransport) contents() []string {
	var out []string
	for _, ev := range t.events() {
		if ev.IsSystem() && ev.Content == PingContent {
			continue
		}
		out = append(out, ev.Content)
	}
	return out
}

func (t *fakeTransport) waitFor(n int, timeout time.Duration) []string {
	deadline := time.Now().Add(timeout)
	for {
		got := t.contents()
		if len(got) >= n || time.Now().After(deadline) {
			return got
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func newConn(conversationID, userID, name string) (*Connection, *fakeTransport) {
	t := newFakeTransport()
	return NewConnection(conversationID, Identity{UserID: userID, UserName: name}, t), t
}

type recordingClearer struct {
	mu      sync.Mutex
	cleared []string
}

func (c *recordingClearer) Clear(conversationID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cleared = append(c.cleared, conversationID)
}

func (c *recordingClearer) calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.cleared...)
}
