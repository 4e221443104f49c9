package chat

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

type SupervisorState int32

const (
	StateActive SupervisorState = iota
	StateTerminating
	StateTerminated
)

func (s SupervisorState) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateTerminating:
		return "terminating"
	default:
		return "terminated"
	}
}

// Supervisor probes one connection on a fixed interval. When the probe fails
// or the connection closes it calls onDead once and stops.
type Supervisor struct {
	conn     *Connection
	interval time.Duration
	onDead   func(c *Connection)
	log      *slog.Logger
	state    atomic.Int32
}

func NewSupervisor(c *Connection, interval time.Duration, onDead func(c *Connection), log *slog.Logger) *Supervisor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Supervisor{conn: c, interval: interval, onDead: onDead, log: log}
}

func (s *Supervisor) State() SupervisorState {
	return SupervisorState(s.state.Load())
}

// Run blocks until ctx is cancelled, the connection closes or a probe fails.
// Cancellation of ctx stops the loop without calling onDead.
func (s *Supervisor) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	defer s.state.Store(int32(StateTerminated))

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.conn.Done():
			s.terminate(nil)
			return
		case <-ticker.C:
			if err := s.conn.SendEvent(SystemEvent(PingContent)); err != nil {
				s.terminate(err)
				return
			}
		}
	}
}

func (s *Supervisor) terminate(err error) {
	if !s.state.CompareAndSwap(int32(StateActive), int32(StateTerminating)) {
		return
	}
	if err != nil {
		s.log.Info("liveness probe failed",
			"conversation_id", s.conn.ConversationID,
			"session_id", s.conn.SessionID,
			"err", err,
		)
	}
	if s.onDead != nil {
		s.onDead(s.conn)
	}
}
