package chat

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func joinN(t *testing.T, reg *Registry, cid string, n int) ([]*Connection, []*fakeTransport) {
	t.Helper()
	conns := make([]*Connection, 0, n)
	transports := make([]*fakeTransport, 0, n)
	for i := 0; i < n; i++ {
		c, tr := newConn(cid, fmt.Sprintf("u%d", i), fmt.Sprintf("user%d", i))
		require.NoError(t, reg.Join(c))
		conns = append(conns, c)
		transports = append(transports, tr)
	}
	return conns, transports
}

func TestBroadcast_ExcludesSender(t *testing.T) {
	req := require.New(t)
	reg := NewRegistry(5, 10, nil, nil)
	b := NewBroadcaster(reg, nil)
	conns, transports := joinN(t, reg, "r1", 4)

	delivered := b.Broadcast("r1", HumanEvent("u0", "user0", "hello"), conns[0].SessionID)

	req.Equal(3, delivered)
	req.Empty(transports[0].contents())
	for _, tr := range transports[1:] {
		req.Equal([]string{"hello"}, tr.contents())
	}
}

func TestBroadcast_NoExclusionReachesEveryone(t *testing.T) {
	req := require.New(t)
	reg := NewRegistry(5, 10, nil, nil)
	b := NewBroadcaster(reg, nil)
	_, transports := joinN(t, reg, "r1", 3)
	_, other := joinN(t, reg, "r2", 1)

	req.Equal(3, b.Broadcast("r1", SystemEvent("notice"), ""))
	for _, tr := range transports {
		req.Equal([]string{"notice"}, tr.contents())
	}
	req.Empty(other[0].contents())
}

func TestBroadcast_MissingRoomIsNoop(t *testing.T) {
	reg := NewRegistry(5, 10, nil, nil)
	b := NewBroadcaster(reg, nil)
	require.Zero(t, b.Broadcast("nowhere", SystemEvent("x"), ""))
}

func TestBroadcast_FailingRecipientIsEvicted(t *testing.T) {
	req := require.New(t)
	reg := NewRegistry(5, 10, nil, nil)
	b := NewBroadcaster(reg, nil)

	var evicted []string
	b.OnEvict = func(c *Connection) { evicted = append(evicted, c.SessionID) }

	conns, transports := joinN(t, reg, "r1", 3)
	transports[1].breakWrites()

	delivered := b.Broadcast("r1", HumanEvent("u0", "user0", "hello"), "")

	// Given one broken recipient, the rest still get the event
	req.Equal(2, delivered)
	req.Equal([]string{"hello"}, transports[0].contents())
	req.Equal([]string{"hello"}, transports[2].contents())

	// And the broken one is gone
	_, found := reg.Lookup(conns[1].SessionID)
	req.False(found)
	req.True(transports[1].isClosed())
	req.Equal([]string{conns[1].SessionID}, evicted)
	req.Equal(2, reg.Snapshot()[0].ConnectionCount)
}

func TestBroadcast_AllRecipientsFailingEmptiesRoom(t *testing.T) {
	req := require.New(t)
	clearer := &recordingClearer{}
	reg := NewRegistry(5, 10, clearer, nil)
	b := NewBroadcaster(reg, nil)
	_, transports := joinN(t, reg, "r1", 2)
	for _, tr := range transports {
		tr.breakWrites()
	}

	req.Zero(b.Broadcast("r1", SystemEvent("x"), ""))
	req.Empty(reg.Snapshot())
	req.Equal([]string{"r1"}, clearer.calls())
}

func TestBroadcast_ConcurrentWithLeaves(t *testing.T) {
	reg := NewRegistry(100, 10, nil, nil)
	b := NewBroadcaster(reg, nil)
	conns, _ := joinN(t, reg, "r1", 20)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			b.Broadcast("r1", SystemEvent("tick"), "")
		}()
		go func(c *Connection) {
			defer wg.Done()
			reg.Leave(c.SessionID)
			_ = c.Close()
		}(conns[i])
	}
	wg.Wait()

	require.Empty(t, reg.Snapshot())
}
