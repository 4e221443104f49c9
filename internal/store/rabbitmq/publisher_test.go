package rabbitmq

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/suPer8Hu/polylog/internal/chat"
)

func TestEncodeDecodeEvent(t *testing.T) {
	req := require.New(t)
	ev := chat.HumanEvent("u1", "alice", "hello")

	body, err := EncodeEvent("r1", ev)
	req.NoError(err)
	req.Contains(string(body), `"conversation_id":"r1"`)
	req.Contains(string(body), `"isAiMessage":false`)

	m, err := DecodeEvent(body)
	req.NoError(err)
	req.Equal("r1", m.ConversationID)
	req.Equal(ev.ID, m.Event.ID)
	req.Equal("alice", m.Event.UserName)
}

func TestDecodeEvent_Rejects(t *testing.T) {
	for name, body := range map[string]string{
		"not json":        "{",
		"no conversation": `{"event":{"id":"01H"}}`,
		"no event id":     `{"conversation_id":"r1","event":{}}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeEvent([]byte(body))
			require.ErrorIs(t, err, ErrBadMessage)
		})
	}
}

func TestPublisher_Live(t *testing.T) {
	url := os.Getenv("RABBIT_URL")
	if url == "" {
		t.Skip("RABBIT_URL not set")
	}
	req := require.New(t)

	p, err := NewPublisher(url, "polylog_test_archive")
	req.NoError(err)
	defer p.Close()

	req.True(p.Healthy())
	req.NoError(p.Store(context.Background(), "r1", chat.SystemEvent("probe")))
}
