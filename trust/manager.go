package trust

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/myelnet/clipmesh/trustproto"
	"github.com/myelnet/clipmesh/wire"
)

// DefaultExpiry is the pending-request TTL spec.md §3/§5 specifies.
const DefaultExpiry = 10 * time.Minute

// EventKind identifies the lifecycle transition an Event reports.
type EventKind int

const (
	EventRequest EventKind = iota
	EventApproved
	EventRejected
	EventRemoved
)

func (k EventKind) String() string {
	switch k {
	case EventRequest:
		return "request"
	case EventApproved:
		return "approved"
	case EventRejected:
		return "rejected"
	case EventRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// Reason refines an EventRejected event. See DESIGN.md Open Question 3.
type Reason int

const (
	ReasonNone Reason = iota
	ReasonUserRejected
	ReasonExpired
)

// Event is delivered to subscribers on every state transition.
type Event struct {
	Kind     EventKind
	DeviceID string
	// Request is the trust-request that triggered this event,  present for
	// Request/Approved/Rejected, nil for Removed.
	Request *wire.TrustRequest
	Reason  Reason
}

type pendingEntry struct {
	request    wire.TrustRequest
	receivedAt time.Time
	expiresAt  time.Time
	timer      *time.Timer
}

// Manager orchestrates pairing state transitions and emits lifecycle
// events (spec.md §4.3).
type Manager struct {
	store         *Store
	localDeviceID string
	expiry        time.Duration

	deviceLocksMu sync.Mutex
	deviceLocks   map[string]*sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]*pendingEntry

	subsMu  sync.Mutex
	subs    map[int]chan Event
	nextSub int
	eventCh chan Event
	closeCh chan struct{}
}

// NewManager builds a Manager over store for the given local device id.
func NewManager(store *Store, localDeviceID string) *Manager {
	m := &Manager{
		store:         store,
		localDeviceID: localDeviceID,
		expiry:        DefaultExpiry,
		deviceLocks:   make(map[string]*sync.Mutex),
		pending:       make(map[string]*pendingEntry),
		subs:          make(map[int]chan Event),
		eventCh:       make(chan Event, 256),
		closeCh:       make(chan struct{}),
	}
	go m.dispatchLoop()
	return m
}

// SetExpiry overrides DefaultExpiry; for tests that want a short TTL.
func (m *Manager) SetExpiry(d time.Duration) { m.expiry = d }

// Close stops the dispatch loop and cancels all pending-request timers.
func (m *Manager) Close() {
	close(m.closeCh)
	m.pendingMu.Lock()
	for _, e := range m.pending {
		e.timer.Stop()
	}
	m.pendingMu.Unlock()
}

// Subscribe returns a handle and a channel that receives events in order.
// Delivery has no backpressure: a subscriber that falls behind has events
// dropped (and logged) rather than stalling the dispatcher, per spec.md §5.
func (m *Manager) Subscribe() (int, <-chan Event) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	id := m.nextSub
	m.nextSub++
	ch := make(chan Event, 64)
	m.subs[id] = ch
	return id, ch
}

// Unsubscribe removes a subscription handle created by Subscribe.
func (m *Manager) Unsubscribe(id int) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	if ch, ok := m.subs[id]; ok {
		delete(m.subs, id)
		close(ch)
	}
}

func (m *Manager) emit(ev Event) {
	select {
	case m.eventCh <- ev:
	case <-m.closeCh:
	}
}

// dispatchLoop fans events out to subscribers in the order emit() was
// called, serializing delivery so "in order per subscriber" (spec.md §5)
// holds without each caller needing its own lock.
func (m *Manager) dispatchLoop() {
	for {
		select {
		case ev := <-m.eventCh:
			m.subsMu.Lock()
			for id, ch := range m.subs {
				select {
				case ch <- ev:
				default:
					log.Warn().Int("sub", id).Str("kind", ev.Kind.String()).
						Str("deviceId", ev.DeviceID).Msg("trust: subscriber channel full, dropping event")
				}
			}
			m.subsMu.Unlock()
		case <-m.closeCh:
			return
		}
	}
}

func (m *Manager) lockFor(deviceID string) *sync.Mutex {
	m.deviceLocksMu.Lock()
	defer m.deviceLocksMu.Unlock()
	l, ok := m.deviceLocks[deviceID]
	if !ok {
		l = &sync.Mutex{}
		m.deviceLocks[deviceID] = l
	}
	return l
}

// HandleTrustRequest verifies req's signature and addressing (spec.md
// §4.4); on failure it returns an error and makes no state change
// (callers are expected to drop-and-log, not surface this further, per
// spec.md §7). On success: if the device is already trusted, emits
// Approved; otherwise registers a deduplicated PendingRequest and emits
// Request, scheduling an expiry timer.
//
// Concurrent calls for the same deviceId are serialized: exactly one
// observes the none->pending transition, the rest are no-ops (spec.md §5,
// §8 invariant 4).
func (m *Manager) HandleTrustRequest(ctx context.Context, req wire.TrustRequest) error {
	if err := trustproto.VerifyTrustRequest(req, m.localDeviceID); err != nil {
		return err
	}

	deviceID := req.From
	lock := m.lockFor(deviceID)
	lock.Lock()
	defer lock.Unlock()

	trusted, err := m.store.IsTrusted(ctx, deviceID)
	if err != nil {
		return fmt.Errorf("trust manager: check trusted: %w", err)
	}
	if trusted {
		m.emit(Event{Kind: EventApproved, DeviceID: deviceID, Request: &req})
		return nil
	}

	m.pendingMu.Lock()
	if _, exists := m.pending[deviceID]; exists {
		m.pendingMu.Unlock()
		return nil // duplicate within the pending window, ignored
	}
	now := time.Now()
	entry := &pendingEntry{request: req, receivedAt: now, expiresAt: now.Add(m.expiry)}
	entry.timer = time.AfterFunc(m.expiry, func() { m.expirePending(deviceID) })
	m.pending[deviceID] = entry
	m.pendingMu.Unlock()

	m.emit(Event{Kind: EventRequest, DeviceID: deviceID, Request: &req})
	return nil
}

func (m *Manager) expirePending(deviceID string) {
	lock := m.lockFor(deviceID)
	lock.Lock()
	defer lock.Unlock()

	m.pendingMu.Lock()
	entry, ok := m.pending[deviceID]
	if !ok {
		m.pendingMu.Unlock()
		return // already approved/rejected; cancelled timer lost the race
	}
	delete(m.pending, deviceID)
	m.pendingMu.Unlock()

	m.emit(Event{Kind: EventRejected, DeviceID: deviceID, Request: &entry.request, Reason: ReasonExpired})
}

// Approve moves deviceID to approved, upserts it into the Trust store,
// cancels its expiry timer, and emits Approved.
func (m *Manager) Approve(ctx context.Context, deviceID string) error {
	lock := m.lockFor(deviceID)
	lock.Lock()
	defer lock.Unlock()

	m.pendingMu.Lock()
	entry, ok := m.pending[deviceID]
	if !ok {
		m.pendingMu.Unlock()
		return nil // no-op: not pending (already decided, or never requested)
	}
	entry.timer.Stop()
	delete(m.pending, deviceID)
	m.pendingMu.Unlock()

	dev := TrustedDevice{
		DeviceID:   entry.request.Payload.DeviceID,
		DeviceName: entry.request.Payload.DeviceName,
		PublicKey:  entry.request.Payload.PublicKey,
		Multiaddrs: entry.request.Payload.Multiaddrs,
		CreatedAt:  entry.request.Payload.CreatedAt,
		LastSeen:   time.Now(),
	}
	if err := m.store.Upsert(ctx, dev); err != nil {
		return fmt.Errorf("trust manager: approve: %w", err)
	}
	m.emit(Event{Kind: EventApproved, DeviceID: deviceID, Request: &entry.request})
	return nil
}

// Reject removes the PendingRequest for deviceID and emits Rejected.
func (m *Manager) Reject(deviceID string) {
	lock := m.lockFor(deviceID)
	lock.Lock()
	defer lock.Unlock()

	m.pendingMu.Lock()
	entry, ok := m.pending[deviceID]
	if !ok {
		m.pendingMu.Unlock()
		return
	}
	entry.timer.Stop()
	delete(m.pending, deviceID)
	m.pendingMu.Unlock()

	m.emit(Event{Kind: EventRejected, DeviceID: deviceID, Request: &entry.request, Reason: ReasonUserRejected})
}

// Remove removes deviceID from the Trust store and emits Removed.
func (m *Manager) Remove(ctx context.Context, deviceID string) error {
	if err := m.store.Remove(ctx, deviceID); err != nil {
		return fmt.Errorf("trust manager: remove: %w", err)
	}
	m.emit(Event{Kind: EventRemoved, DeviceID: deviceID})
	return nil
}

// Pending returns a snapshot of the current pending requests, for UI
// listing.
func (m *Manager) Pending() []PendingRequest {
	m.pendingMu.Lock()
	defer m.pendingMu.Unlock()
	out := make([]PendingRequest, 0, len(m.pending))
	for id, e := range m.pending {
		out = append(out, PendingRequest{
			DeviceID:   id,
			DeviceName: e.request.Payload.DeviceName,
			PublicKey:  e.request.Payload.PublicKey,
			Multiaddrs: e.request.Payload.Multiaddrs,
			ReceivedAt: e.receivedAt,
			ExpiresAt:  e.expiresAt,
		})
	}
	return out
}
