package chat

import (
	"log/slog"
	"sync"
)

// Broadcaster fans an event out to every connection in a room.
type Broadcaster struct {
	registry *Registry
	log      *slog.Logger

	// OnEvict runs after a fan-out for each recipient whose delivery failed
	// and that this call removed from the registry.
	OnEvict func(c *Connection)
}

func NewBroadcaster(registry *Registry, log *slog.Logger) *Broadcaster {
	if log == nil {
		log = slog.Default()
	}
	return &Broadcaster{registry: registry, log: log}
}

// Broadcast delivers ev to every session of the conversation except
// excludeSessionID and returns the number of successful deliveries.
// Failing recipients are deregistered once the fan-out has finished.
// A missing room is a no-op.
func (b *Broadcaster) Broadcast(conversationID string, ev Event, excludeSessionID string) int {
	payload, err := ev.Marshal()
	if err != nil {
		b.log.Error("marshal event failed", "conversation_id", conversationID, "err", err)
		return 0
	}

	targets := b.registry.Sessions(conversationID)
	if len(targets) == 0 {
		return 0
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		delivered int
		failed    []*Connection
	)
	for _, c := range targets {
		if c.SessionID == excludeSessionID {
			continue
		}
		wg.Add(1)
		go func(c *Connection) {
			defer wg.Done()
			err := c.Send(payload)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				b.log.Warn("delivery failed",
					"conversation_id", conversationID,
					"session_id", c.SessionID,
					"err", err,
				)
				failed = append(failed, c)
				return
			}
			delivered++
		}(c)
	}
	wg.Wait()

	for _, c := range failed {
		removed, ok := b.registry.Leave(c.SessionID)
		_ = c.Close()
		if ok && b.OnEvict != nil {
			b.OnEvict(removed)
		}
	}

	b.log.Debug("broadcast",
		"conversation_id", conversationID,
		"event_id", ev.ID,
		"delivered", delivered,
		"failed", len(failed),
	)
	return delivered
}
