package chat

import (
	"errors"
	"log/slog"
	"sort"
	"sync"

	"github.com/samber/lo"
)

var (
	ErrMaxConnectionsExceeded = errors.New("chat: max connections exceeded")
	ErrDuplicateSession       = errors.New("chat: session already registered")
)

// SessionClearer drops per-conversation AI state. Clear must not block.
type SessionClearer interface {
	Clear(conversationID string)
}

type room struct {
	id       string
	sessions map[string]*Connection
	order    []string
	members  map[string]int
	recent   []Event
}

func (rm *room) remove(sessionID string) {
	delete(rm.sessions, sessionID)
	if i := lo.IndexOf(rm.order, sessionID); i >= 0 {
		rm.order = append(rm.order[:i], rm.order[i+1:]...)
	}
}

// RoomStat is one row of the diagnostic snapshot.
type RoomStat struct {
	ConversationID  string `json:"conversation_id"`
	ConnectionCount int    `json:"connection_count"`
	MemberCount     int    `json:"member_count"`
}

// Registry maps conversations to their live connections. All state sits
// behind one mutex; no method performs network I/O.
type Registry struct {
	mu           sync.Mutex
	rooms        map[string]*room
	sessionRoom  map[string]string
	userSessions map[string]int

	maxPerUser int
	recentSize int
	clearer    SessionClearer
	log        *slog.Logger
}

func NewRegistry(maxPerUser, recentSize int, clearer SessionClearer, log *slog.Logger) *Registry {
	if maxPerUser <= 0 {
		maxPerUser = 5
	}
	if recentSize <= 0 {
		recentSize = 10
	}
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		rooms:        make(map[string]*room),
		sessionRoom:  make(map[string]string),
		userSessions: make(map[string]int),
		maxPerUser:   maxPerUser,
		recentSize:   recentSize,
		clearer:      clearer,
		log:          log,
	}
}

// Join adds c to its conversation's room, creating the room if needed.
// A user already holding maxPerUser sessions is rejected with no state change.
func (r *Registry) Join(c *Connection) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessionRoom[c.SessionID]; exists {
		return ErrDuplicateSession
	}
	if !c.Anonymous() && r.userSessions[c.UserID] >= r.maxPerUser {
		return ErrMaxConnectionsExceeded
	}

	rm, ok := r.rooms[c.ConversationID]
	if !ok {
		rm = &room{
			id:       c.ConversationID,
			sessions: make(map[string]*Connection),
			members:  make(map[string]int),
		}
		r.rooms[c.ConversationID] = rm
	}
	rm.sessions[c.SessionID] = c
	rm.order = append(rm.order, c.SessionID)
	if !c.Anonymous() {
		rm.members[c.UserID]++
		r.userSessions[c.UserID]++
	}
	r.sessionRoom[c.SessionID] = c.ConversationID
	return nil
}

// Leave removes a session. It reports the removed connection, or false when
// the session was not registered. Emptied rooms are deleted and their AI
// session is cleared before Leave returns.
func (r *Registry) Leave(sessionID string) (*Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cid, ok := r.sessionRoom[sessionID]
	if !ok {
		return nil, false
	}
	delete(r.sessionRoom, sessionID)

	rm := r.rooms[cid]
	if rm == nil {
		return nil, false
	}
	c := rm.sessions[sessionID]
	rm.remove(sessionID)

	if c != nil && !c.Anonymous() {
		if rm.members[c.UserID]--; rm.members[c.UserID] <= 0 {
			delete(rm.members, c.UserID)
		}
		if r.userSessions[c.UserID]--; r.userSessions[c.UserID] <= 0 {
			delete(r.userSessions, c.UserID)
		}
	}

	if len(rm.sessions) == 0 {
		delete(r.rooms, cid)
		if r.clearer != nil {
			r.clearer.Clear(cid)
		}
		r.log.Info("room emptied", "conversation_id", cid)
	}
	return c, c != nil
}

// Sessions returns the room's connections in join order, or nil when the
// room does not exist.
func (r *Registry) Sessions(conversationID string) []*Connection {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[conversationID]
	if !ok {
		return nil
	}
	return lo.Map(rm.order, func(sid string, _ int) *Connection {
		return rm.sessions[sid]
	})
}

// Lookup finds a live connection by session id.
func (r *Registry) Lookup(sessionID string) (*Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cid, ok := r.sessionRoom[sessionID]
	if !ok {
		return nil, false
	}
	rm, ok := r.rooms[cid]
	if !ok {
		return nil, false
	}
	c, ok := rm.sessions[sessionID]
	return c, ok
}

// Members returns the distinct authenticated user ids present in a room.
func (r *Registry) Members(conversationID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[conversationID]
	if !ok {
		return nil
	}
	out := lo.Keys(rm.members)
	sort.Strings(out)
	return out
}

// UserSessionCount is the number of live sessions held by userID.
func (r *Registry) UserSessionCount(userID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.userSessions[userID]
}

// Record appends a human or AI event to the room's recent-event window.
// Events for rooms that no longer exist are ignored.
func (r *Registry) Record(conversationID string, ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[conversationID]
	if !ok {
		return
	}
	rm.recent = append(rm.recent, ev)
	if over := len(rm.recent) - r.recentSize; over > 0 {
		rm.recent = append([]Event(nil), rm.recent[over:]...)
	}
}

// Recent returns up to n of the room's most recent recorded events, oldest first.
func (r *Registry) Recent(conversationID string, n int) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[conversationID]
	if !ok || n <= 0 {
		return nil
	}
	from := max(len(rm.recent)-n, 0)
	return append([]Event(nil), rm.recent[from:]...)
}

// Snapshot lists every live room with its connection count, sorted by id.
func (r *Registry) Snapshot() []RoomStat {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]RoomStat, 0, len(r.rooms))
	for id, rm := range r.rooms {
		out = append(out, RoomStat{
			ConversationID:  id,
			ConnectionCount: len(rm.sessions),
			MemberCount:     len(rm.members),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ConversationID < out[j].ConversationID })
	return out
}

// All returns every live connection across all rooms.
func (r *Registry) All() []*Connection {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*Connection
	for _, rm := range r.rooms {
		out = append(out, lo.Values(rm.sessions)...)
	}
	return out
}
