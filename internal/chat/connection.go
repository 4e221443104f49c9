package chat

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrConnectionClosed = errors.New("chat: connection closed")
	// ErrMalformedFrame is returned by a Transport for a frame that is not
	// UTF-8 text. The frame is dropped and the connection stays open.
	ErrMalformedFrame = errors.New("chat: malformed frame")
)

// Transport is one live client socket. ReadText blocks until a frame arrives
// and must return an error once Close has been called. WriteText is never
// called concurrently for the same Transport.
type Transport interface {
	ReadText() (string, error)
	WriteText(data []byte) error
	Close() error
}

// Identity is who a connection speaks for. An empty UserID is anonymous.
type Identity struct {
	UserID    string
	UserName  string
	AvatarRef string
}

func (id Identity) Anonymous() bool { return id.UserID == "" }

// Connection is a transport bound to an identity and a conversation.
type Connection struct {
	SessionID      string
	ConversationID string
	Identity
	ConnectedAt time.Time

	transport Transport
	writeMu   sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
}

func NewSessionID() string {
	return uuid.NewString()
}

func NewConnection(conversationID string, id Identity, t Transport) *Connection {
	if id.UserName == "" {
		id.UserName = AnonymousName
	}
	return &Connection{
		SessionID:      NewSessionID(),
		ConversationID: conversationID,
		Identity:       id,
		ConnectedAt:    time.Now(),
		transport:      t,
		done:           make(chan struct{}),
	}
}

// Send writes one serialized event. Writes are serialized per connection.
func (c *Connection) Send(data []byte) error {
	select {
	case <-c.done:
		return ErrConnectionClosed
	default:
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.transport.WriteText(data)
}

// SendEvent serializes and writes ev to this connection only.
func (c *Connection) SendEvent(ev Event) error {
	b, err := ev.Marshal()
	if err != nil {
		return err
	}
	return c.Send(b)
}

func (c *Connection) Read() (string, error) {
	return c.transport.ReadText()
}

// Close is idempotent. It unblocks Read and marks the connection done.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.transport.Close()
	})
	return err
}

// Done is closed once the connection has been closed.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}
