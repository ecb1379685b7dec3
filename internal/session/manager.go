// Package session implements the Session Manager of spec section 4.3: at
// most one active sender at a time, FIFO observer promotion, capacity
// admission with oldest-first eviction, and inactivity timeout.
//
// The manager generalizes api/internal/websocket/agent_hub.go's
// single-goroutine event-loop idea into a mutex-protected state machine
// (spec section 9 explicitly allows either "a single task" or "a single
// lock" — a lock is simpler here because the manager must also answer
// synchronous queries like IsActive on every inbound data frame).
package session

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sensor-relay/relay/internal/connection"
	"github.com/sensor-relay/relay/internal/relayerr"
	"github.com/sensor-relay/relay/internal/wsmsg"
)

// senderRecord tracks one live sender connection's place in the session.
type senderRecord struct {
	conn        *connection.Connection
	connectedAt time.Time
}

// Manager owns the SenderSession described in spec section 3.
type Manager struct {
	mu sync.Mutex

	maxSenders    int
	senderTimeout time.Duration
	log           zerolog.Logger

	activeID       string
	activeLastData time.Time
	observers      []string // FIFO by connected_at
	senders        map[string]*senderRecord
}

// New constructs a Manager. maxSenders is MAX_SENDERS; senderTimeout is
// SENDER_TIMEOUT.
func New(maxSenders int, senderTimeout time.Duration, log zerolog.Logger) *Manager {
	return &Manager{
		maxSenders:    maxSenders,
		senderTimeout: senderTimeout,
		log:           log,
		senders:       make(map[string]*senderRecord),
	}
}

// Connect admits a newly-accepted sender connection, running admission
// control, eviction, and promotion/observer assignment in one step (spec
// section 4.3). It always sends "welcome" first. Returns a RelayError only
// when the connection must be refused outright (MAX_SENDERS == 0).
func (m *Manager) Connect(conn *connection.Connection) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sendWelcome(conn)

	if m.maxSenders <= 0 {
		return relayerr.New(relayerr.KindAdmission, relayerr.ReasonCapacityNoEvictable)
	}

	if len(m.senders) >= m.maxSenders {
		m.evictOldestLocked()
	}

	m.senders[conn.ID] = &senderRecord{conn: conn, connectedAt: conn.ConnectedAt}

	if m.activeID == "" {
		m.promoteLocked(conn.ID)
	} else {
		m.observers = append(m.observers, conn.ID)
		m.sendObserverMode(conn, len(m.observers)-1)
	}
	return nil
}

// Disconnect removes a sender from the session, promoting the next
// observer if the disconnecting sender was active.
func (m *Manager) Disconnect(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeLocked(id)
}

// OnFrame reports whether id is the current active sender, and if so
// refreshes its inactivity clock. The ingest pipeline rejects non-active
// senders with IsActive before it calls OnFrame (spec section 4.4).
func (m *Manager) OnFrame(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id != m.activeID {
		return false
	}
	m.activeLastData = time.Now()
	return true
}

// Tick checks the active sender's inactivity deadline, demoting and
// promoting the next observer if it has been exceeded (spec section 4.3,
// "Inactivity timeout"). Only the active sender is ever timed out;
// observers never time out on their own (see DESIGN.md Open Questions).
func (m *Manager) Tick() {
	m.mu.Lock()
	if m.activeID == "" || m.senderTimeout <= 0 {
		m.mu.Unlock()
		return
	}
	if time.Since(m.activeLastData) <= m.senderTimeout {
		m.mu.Unlock()
		return
	}
	staleID := m.activeID
	m.mu.Unlock()

	if rec, ok := m.lookupRecord(staleID); ok {
		rec.conn.Close("sender_timeout")
	}
	m.Disconnect(staleID)
}

func (m *Manager) lookupRecord(id string) (*senderRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.senders[id]
	return rec, ok
}

// IsActive reports whether id is the current active sender without
// mutating any timers.
func (m *Manager) IsActive(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return id == m.activeID
}

// Snapshot describes the session for the stats broadcaster (spec section
// 4.7 / 3's StatsSnapshot).
type Snapshot struct {
	ActiveSenderID string
	SenderCount    int
	Users          []wsmsg.UserStat
}

// Snapshot returns the current sender population for telemetry.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	users := make([]wsmsg.UserStat, 0, len(m.senders))
	for id, rec := range m.senders {
		users = append(users, wsmsg.UserStat{
			ID:          id,
			ConnectedAt: rec.connectedAt,
			DataCount:   rec.conn.DataCount(),
			LastData:    rec.conn.LastActivityAt(),
			Username:    rec.conn.Username(),
		})
	}
	return Snapshot{
		ActiveSenderID: m.activeID,
		SenderCount:    len(m.senders),
		Users:          users,
	}
}

// --- internals: callers must hold m.mu ---

func (m *Manager) evictOldestLocked() {
	var oldestID string
	var oldestAt time.Time
	for id, rec := range m.senders {
		if oldestID == "" || rec.connectedAt.Before(oldestAt) {
			oldestID = id
			oldestAt = rec.connectedAt
		}
	}
	if oldestID == "" {
		return
	}
	if rec, ok := m.senders[oldestID]; ok {
		m.sendEvicted(rec.conn)
		rec.conn.Close(relayerr.ReasonEvicted)
	}
	m.removeLocked(oldestID)
}

func (m *Manager) removeLocked(id string) {
	if _, ok := m.senders[id]; !ok {
		return
	}
	delete(m.senders, id)

	wasActive := id == m.activeID
	for i, obsID := range m.observers {
		if obsID == id {
			m.observers = append(m.observers[:i], m.observers[i+1:]...)
			break
		}
	}

	if !wasActive {
		return
	}

	m.activeID = ""
	if len(m.observers) == 0 {
		return
	}

	nextID := m.observers[0]
	m.observers = m.observers[1:]
	m.promoteLocked(nextID)
	m.broadcastSenderChangedLocked(nextID)
}

func (m *Manager) promoteLocked(id string) {
	m.activeID = id
	m.activeLastData = time.Now()
	if rec, ok := m.senders[id]; ok {
		m.sendPromoted(rec.conn)
	}
}

func (m *Manager) broadcastSenderChangedLocked(newActiveID string) {
	payload, err := json.Marshal(wsmsg.SenderChanged{
		Type:        wsmsg.TypeSenderChanged,
		Timestamp:   time.Now().UTC(),
		NewActiveID: newActiveID,
	})
	if err != nil {
		return
	}
	for id, rec := range m.senders {
		if id == newActiveID {
			continue
		}
		_ = rec.conn.SendControl(payload)
	}
}

// Outbound control sends never abort a transition on failure — the
// session state above is already authoritative by the time these run
// (spec section 4.3, "Failure semantics").

func (m *Manager) sendWelcome(conn *connection.Connection) {
	payload, err := json.Marshal(wsmsg.Welcome{
		Type:       wsmsg.TypeWelcome,
		ClientID:   conn.ID,
		ServerTime: time.Now().UTC(),
	})
	if err != nil {
		return
	}
	if err := conn.SendControl(payload); err != nil {
		m.log.Warn().Err(err).Str("conn_id", conn.ID).Msg("welcome send failed")
	}
}

func (m *Manager) sendPromoted(conn *connection.Connection) {
	payload, err := json.Marshal(wsmsg.Promoted{Type: wsmsg.TypePromoted, Timestamp: time.Now().UTC()})
	if err != nil {
		return
	}
	if err := conn.SendControl(payload); err != nil {
		m.log.Warn().Err(err).Str("conn_id", conn.ID).Msg("promoted send failed")
	}
}

func (m *Manager) sendObserverMode(conn *connection.Connection, position int) {
	payload, err := json.Marshal(wsmsg.ObserverMode{
		Type:      wsmsg.TypeObserverMode,
		Timestamp: time.Now().UTC(),
		Position:  position,
	})
	if err != nil {
		return
	}
	if err := conn.SendControl(payload); err != nil {
		m.log.Warn().Err(err).Str("conn_id", conn.ID).Msg("observer_mode send failed")
	}
}

func (m *Manager) sendEvicted(conn *connection.Connection) {
	payload, err := json.Marshal(wsmsg.Evicted{
		Type:      wsmsg.TypeEvicted,
		Timestamp: time.Now().UTC(),
		Reason:    relayerr.ReasonEvicted,
	})
	if err != nil {
		return
	}
	if err := conn.SendControl(payload); err != nil {
		m.log.Warn().Err(err).Str("conn_id", conn.ID).Msg("evicted send failed")
	}
}
