package presence

import (
	"context"
	"sync"
	"time"

	"PSocial/service/metrics"

	"go.uber.org/zap"
)

type State int32

const (
	StateAnonymous State = iota
	StateIdentified
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateAnonymous:
		return "anonymous"
	case StateIdentified:
		return "identified"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Session 是单条连接在 Manager 里的状态：Anonymous -> Identified -> Closed。
type Session struct {
	conn        Conn
	connectedAt time.Time

	mu     sync.Mutex
	state  State
	userID string
}

func (s *Session) Conn() Conn { return s.conn }

func (s *Session) ConnectedAt() time.Time { return s.connectedAt }

func (s *Session) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

type Options struct {
	// KickReplaced closes a connection once a newer one registers for the same user.
	KickReplaced  bool
	StatusWorkers int
	StatusQueue   int
	WriteTimeout  time.Duration
}

type Manager struct {
	opts     Options
	registry *Registry
	rooms    *Rooms
	relay    *Relay
	status   *statusDispatcher

	log     *zap.Logger
	metrics *metrics.Metrics

	mu       sync.Mutex
	sessions map[Conn]*Session
	closing  bool
	live     sync.WaitGroup
}

func NewManager(opts Options, writers []StatusWriter, log *zap.Logger, m *metrics.Metrics) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	reg := NewRegistry()
	return &Manager{
		opts:     opts,
		registry: reg,
		rooms:    NewRooms(),
		relay:    NewRelay(reg, log.Named("relay"), m),
		status:   newStatusDispatcher(writers, opts.StatusWorkers, opts.StatusQueue, opts.WriteTimeout, log.Named("status"), m),
		log:      log,
		metrics:  m,
		sessions: make(map[Conn]*Session),
	}
}

func (m *Manager) Registry() *Registry { return m.registry }
func (m *Manager) Rooms() *Rooms       { return m.rooms }
func (m *Manager) Relay() *Relay       { return m.relay }

// Connect starts tracking c as an anonymous session.
func (m *Manager) Connect(c Conn) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closing {
		return nil, ErrShuttingDown
	}
	if s, ok := m.sessions[c]; ok {
		return s, nil
	}
	s := &Session{conn: c, connectedAt: time.Now(), state: StateAnonymous}
	m.sessions[c] = s
	m.live.Add(1)
	m.metrics.ConnOpened()
	return s, nil
}

// Identify binds the session to userID. Announcing the same id again is a
// no-op; announcing a different one releases the previous identity first.
func (m *Manager) Identify(s *Session, userID string) error {
	if userID == "" {
		return ErrEmptyUserID
	}

	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.state == StateIdentified {
		if s.userID == userID {
			if cur, ok := m.registry.Lookup(userID); ok && cur == s.conn {
				s.mu.Unlock()
				return nil
			}
		} else {
			m.release(s.conn)
		}
	}
	// 入队放在注册表锁内：同一用户的 online/offline 入队顺序与映射变化一致
	reg := m.registry.RegisterFunc(userID, s.conn, func(r Registration) {
		if r.First {
			m.status.enqueue(userID, StatusOnline)
		}
	})
	s.state = StateIdentified
	s.userID = userID
	s.mu.Unlock()

	if reg.Replaced != nil {
		m.evict(reg.Replaced, userID)
	}
	m.metrics.SetOnline(m.registry.Len())
	m.log.Debug("user identified", zap.String("user", userID), zap.String("conn", s.conn.ID()),
		zap.Bool("replaced", reg.Replaced != nil))
	return nil
}

func (m *Manager) markOffline(userID string) { m.status.enqueue(userID, StatusOffline) }

func (m *Manager) release(c Conn) {
	if userID, removed := m.registry.UnregisterFunc(c, m.markOffline); removed {
		m.log.Debug("identity released", zap.String("user", userID), zap.String("conn", c.ID()))
	}
}

func (m *Manager) evict(old Conn, userID string) {
	m.metrics.SessionReplaced()
	_ = old.Emit(Event{Name: EventSessionReplaced, Data: map[string]any{"userId": userID}})
	m.log.Info("session replaced", zap.String("user", userID), zap.String("old_conn", old.ID()),
		zap.Bool("kick", m.opts.KickReplaced))
	if m.opts.KickReplaced {
		old.Close()
	}
}

// EvictRemote drops the local registration of userID because a newer session
// for the same user registered on another node. No offline write is issued.
func (m *Manager) EvictRemote(userID, node string) bool {
	c, ok := m.registry.Lookup(userID)
	if !ok {
		return false
	}
	if _, removed := m.registry.Unregister(c); !removed {
		return false
	}
	m.metrics.SessionReplaced()
	_ = c.Emit(Event{Name: EventSessionReplaced, Data: map[string]any{"userId": userID, "node": node}})
	m.log.Info("session replaced on another node", zap.String("user", userID),
		zap.String("conn", c.ID()), zap.String("node", node), zap.Bool("kick", m.opts.KickReplaced))
	if m.opts.KickReplaced {
		c.Close()
	}
	m.metrics.SetOnline(m.registry.Len())
	return true
}

// Disconnect tears the session down. Safe to call more than once.
func (m *Manager) Disconnect(s *Session) {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	wasIdentified := s.state == StateIdentified
	userID := s.userID
	s.state = StateClosed
	if wasIdentified {
		if _, removed := m.registry.UnregisterFunc(s.conn, m.markOffline); !removed {
			m.log.Debug("stale disconnect ignored", zap.String("user", userID), zap.String("conn", s.conn.ID()))
		}
	}
	s.mu.Unlock()

	for _, d := range m.rooms.LeaveAll(s.conn) {
		n := m.rooms.Broadcast(d.RoomID, Event{Name: EventUserDisconnected, Data: d.UserID}, s.conn)
		m.metrics.RoomDelivered(n)
	}

	m.mu.Lock()
	if _, ok := m.sessions[s.conn]; ok {
		delete(m.sessions, s.conn)
		m.live.Done()
		m.metrics.ConnClosed()
	}
	m.mu.Unlock()
	m.metrics.SetOnline(m.registry.Len())
}

// JoinRoom adds the session to roomID and announces userID to the members
// already there. A repeated join does not announce again.
func (m *Manager) JoinRoom(s *Session, roomID, userID string) error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if userID == "" {
		userID = s.userID
	}
	added := m.rooms.Join(roomID, s.conn, userID)
	s.mu.Unlock()

	if added {
		n := m.rooms.Broadcast(roomID, Event{Name: EventUserConnected, Data: userID}, s.conn)
		m.metrics.RoomDelivered(n)
	}
	return nil
}

func (m *Manager) LeaveRoom(s *Session, roomID string) {
	userID, left := m.rooms.Leave(roomID, s.conn)
	if !left {
		return
	}
	n := m.rooms.Broadcast(roomID, Event{Name: EventUserDisconnected, Data: userID}, s.conn)
	m.metrics.RoomDelivered(n)
}

// Signal routes a signaling envelope from the session to env.To.
func (m *Manager) Signal(s *Session, env Envelope) bool {
	env.From = s.conn
	if env.FromUser == "" {
		env.FromUser = s.UserID()
	}
	return m.relay.Relay(env)
}

func (m *Manager) OnlineUsers() map[string]Conn { return m.registry.Snapshot() }

func (m *Manager) IsOnline(userID string) bool {
	_, ok := m.registry.Lookup(userID)
	return ok
}

func (m *Manager) Count() int { return m.registry.Len() }

// Sessions returns the number of open connections, identified or not.
func (m *Manager) Sessions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Shutdown closes every connection, waits for their disconnects and drains
// pending status writes, bounded by ctx.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closing = true
	conns := make([]Conn, 0, len(m.sessions))
	for c := range m.sessions {
		conns = append(conns, c)
	}
	m.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}

	done := make(chan struct{})
	go func() {
		m.live.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		m.log.Warn("shutdown: connections still open", zap.Int("sessions", m.Sessions()))
	}
	return m.status.close(ctx)
}
