// Package collab implements the real-time collaboration client: a single
// duplex channel to a relay with a connect/heartbeat/reconnect state
// machine, typed message dispatch, participant presence, and throttled
// cursor fan-out.
package collab

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shellmux/shellmux/internal/events"
	"github.com/shellmux/shellmux/internal/scheduler"
)

// State is the collaboration channel's connection state.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
)

// Event names emitted on the bus. Inbound terminal_output/cursor_update/
// selection_change payloads are re-emitted unchanged as *Envelope.
const (
	EventState           = "collab_state"
	EventSessionJoined   = "collab_session_joined"
	EventUserJoined      = "collab_user_joined"
	EventUserLeft        = "collab_user_left"
	EventUserStatus      = "collab_user_status"
	EventTerminalInput   = "collab_terminal_input"
	EventTerminalOutput  = "collab_terminal_output"
	EventCursorUpdate    = "collab_cursor_update"
	EventSelectionChange = "collab_selection_change"
	EventSendError       = "collab_send_error"
	EventProtocolError   = "collab_protocol_error"
	EventParseError      = "collab_parse_error"
	EventReconnectFailed = "collab_reconnect_failed"
)

// ConnectionError reports a collaboration channel failure. It drives the
// reconnect state machine rather than being fatal.
type ConnectionError struct {
	URL string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("collab channel %s: %v", e.URL, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// Reconnect and heartbeat defaults.
const (
	DefaultHeartbeatInterval    = 30 * time.Second
	DefaultReconnectBaseDelay   = time.Second
	DefaultReconnectMaxAttempts = 5
	DefaultThrottleWindow       = 100 * time.Millisecond

	// pongGraceFactor: a pong must arrive within this multiple of the
	// heartbeat interval or the connection is treated as lost.
	pongGraceFactor = 1.5
)

// Options configures a Hub. Zero values fall back to defaults.
type Options struct {
	ChannelFactory       ChannelFactory
	HeartbeatInterval    time.Duration
	ReconnectBaseDelay   time.Duration
	ReconnectMaxAttempts int
	ThrottleWindow       time.Duration
	DialTimeout          time.Duration
}

type busEvent struct {
	name    string
	payload any
}

// Hub maintains one collaboration channel and the shared-session roster.
// All methods are safe for concurrent use. Bus events produced under the
// hub lock are queued and flushed after it is released, so handlers may
// call back into the hub.
type Hub struct {
	mu sync.Mutex

	state     State
	channel   Channel
	gen       uint64 // incremented per connect/teardown; stale callbacks no-op
	url       string
	localUser User
	sessionID string
	settings  SessionSettings
	users     map[string]*User

	attempt       int
	awaitingPong  bool
	heartbeat     scheduler.Handle
	pongDeadline  scheduler.Handle
	reconnectTask scheduler.Handle

	cursorThrottle    *scheduler.Throttle
	selectionThrottle *scheduler.Throttle

	pending []busEvent

	factory     ChannelFactory
	sched       scheduler.Scheduler
	bus         *events.Bus
	hbInterval  time.Duration
	baseDelay   time.Duration
	maxAttempts int
	dialTimeout time.Duration
}

// NewHub creates a disconnected Hub emitting events on bus and running all
// timers through sched.
func NewHub(bus *events.Bus, sched scheduler.Scheduler, opts Options) *Hub {
	factory := opts.ChannelFactory
	if factory == nil {
		factory = NewWSChannel
	}
	h := &Hub{
		state:       StateDisconnected,
		users:       make(map[string]*User),
		factory:     factory,
		sched:       sched,
		bus:         bus,
		hbInterval:  opts.HeartbeatInterval,
		baseDelay:   opts.ReconnectBaseDelay,
		maxAttempts: opts.ReconnectMaxAttempts,
		dialTimeout: opts.DialTimeout,
	}
	if h.hbInterval <= 0 {
		h.hbInterval = DefaultHeartbeatInterval
	}
	if h.baseDelay <= 0 {
		h.baseDelay = DefaultReconnectBaseDelay
	}
	if h.maxAttempts <= 0 {
		h.maxAttempts = DefaultReconnectMaxAttempts
	}
	if h.dialTimeout <= 0 {
		h.dialTimeout = 10 * time.Second
	}
	window := opts.ThrottleWindow
	if window <= 0 {
		window = DefaultThrottleWindow
	}
	h.cursorThrottle = scheduler.NewThrottle(sched, window, func(payload any) {
		h.sendData(MsgCursorUpdate, payload)
	})
	h.selectionThrottle = scheduler.NewThrottle(sched, window, func(payload any) {
		h.sendData(MsgSelectionChange, payload)
	})
	return h
}

// State returns the current channel state.
func (h *Hub) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// ReconnectAttempt returns how many reconnect attempts have been used
// since the channel was last healthy.
func (h *Hub) ReconnectAttempt() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.attempt
}

// Connect opens the channel to the relay at rawURL as localUser. On
// success the hub is Connected, the retry counter is reset, and the
// heartbeat starts. On failure a *ConnectionError is returned and the hub
// stays Disconnected.
func (h *Hub) Connect(ctx context.Context, rawURL string, localUser User) error {
	h.mu.Lock()
	if h.state != StateDisconnected {
		state := h.state
		h.mu.Unlock()
		return &ConnectionError{URL: rawURL, Err: fmt.Errorf("already %s", state)}
	}
	h.url = rawURL
	h.localUser = localUser
	h.attempt = 0
	h.setStateLocked(StateConnecting)
	h.mu.Unlock()
	h.flush()

	if err := h.dial(ctx); err != nil {
		h.mu.Lock()
		h.setStateLocked(StateDisconnected)
		h.mu.Unlock()
		h.flush()
		return err
	}
	return nil
}

// dial opens a fresh channel and, on success, transitions to Connected
// and starts the heartbeat.
func (h *Hub) dial(ctx context.Context) error {
	h.mu.Lock()
	addr, err := h.channelURLLocked()
	localUser := h.localUser
	sessionID := h.sessionID
	if err == nil {
		h.gen++
	}
	gen := h.gen
	h.mu.Unlock()
	if err != nil {
		return &ConnectionError{URL: h.url, Err: err}
	}

	ch := h.factory()
	ch.OnMessage(func(data []byte) { h.handleMessage(gen, data) })
	ch.OnClose(func(info CloseInfo) { h.handleClose(gen, info) })

	dialCtx, cancel := context.WithTimeout(ctx, h.dialTimeout)
	defer cancel()

	if err := ch.Dial(dialCtx, addr); err != nil {
		return &ConnectionError{URL: addr, Err: err}
	}

	h.mu.Lock()
	h.channel = ch
	h.attempt = 0
	h.awaitingPong = false
	h.setStateLocked(StateConnected)
	h.heartbeat = h.sched.Every(h.hbInterval, func() { h.sendPing(gen) })
	h.mu.Unlock()
	h.flush()

	log.Printf("[collab] connected to relay as %s", localUser.ID)

	// Re-join the shared session after a reconnect.
	if sessionID != "" {
		h.send(Envelope{Type: MsgJoinSession, SessionID: sessionID, Data: mustJSON(localUser)})
	}
	return nil
}

// channelURLLocked appends the session/user connection parameters to the
// relay URL. Caller holds h.mu.
func (h *Hub) channelURLLocked() (string, error) {
	u, err := url.Parse(h.url)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	q := u.Query()
	q.Set("userId", h.localUser.ID)
	if h.sessionID != "" {
		q.Set("sessionId", h.sessionID)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Disconnect performs an explicit clean close: heartbeat and any pending
// reconnect are cancelled and local session state is cleared.
func (h *Hub) Disconnect() {
	h.mu.Lock()
	h.gen++ // invalidate in-flight callbacks
	ch := h.channel
	h.channel = nil
	h.cancelTimersLocked()
	h.sessionID = ""
	h.localUser = User{}
	h.users = make(map[string]*User)
	h.attempt = 0
	h.setStateLocked(StateDisconnected)
	h.mu.Unlock()

	h.cursorThrottle.Cancel()
	h.selectionThrottle.Cancel()
	if ch != nil {
		ch.Close(1000, "client disconnect")
	}
	h.flush()
	log.Printf("[collab] disconnected")
}

// cancelTimersLocked stops heartbeat, pong deadline, and reconnect timers.
// Caller holds h.mu.
func (h *Hub) cancelTimersLocked() {
	if h.heartbeat != nil {
		h.heartbeat.Cancel()
		h.heartbeat = nil
	}
	if h.pongDeadline != nil {
		h.pongDeadline.Cancel()
		h.pongDeadline = nil
	}
	if h.reconnectTask != nil {
		h.reconnectTask.Cancel()
		h.reconnectTask = nil
	}
	h.awaitingPong = false
}

// handleClose reacts to the channel ending. An unclean close schedules a
// bounded exponential-backoff reconnect; a clean close does not.
func (h *Hub) handleClose(gen uint64, info CloseInfo) {
	h.mu.Lock()
	if gen != h.gen {
		h.mu.Unlock()
		return
	}
	h.channel = nil
	if h.heartbeat != nil {
		h.heartbeat.Cancel()
		h.heartbeat = nil
	}
	if h.pongDeadline != nil {
		h.pongDeadline.Cancel()
		h.pongDeadline = nil
	}
	h.awaitingPong = false

	if info.WasClean {
		h.setStateLocked(StateDisconnected)
		h.mu.Unlock()
		h.flush()
		log.Printf("[collab] channel closed cleanly (code %d)", info.Code)
		return
	}

	log.Printf("[collab] channel lost (code %d, %s)", info.Code, info.Reason)
	h.scheduleReconnectLocked()
	h.mu.Unlock()
	h.flush()
}

// scheduleReconnectLocked arms the next reconnect attempt, or gives up
// once the attempt budget is exhausted. Caller holds h.mu.
func (h *Hub) scheduleReconnectLocked() {
	if h.attempt >= h.maxAttempts {
		h.setStateLocked(StateDisconnected)
		log.Printf("[collab] giving up after %d reconnect attempts", h.attempt)
		h.queueLocked(EventReconnectFailed, h.attempt)
		return
	}

	delay := h.baseDelay << uint(h.attempt)
	h.attempt++
	attempt := h.attempt
	h.setStateLocked(StateReconnecting)
	log.Printf("[collab] reconnect attempt %d/%d in %s", attempt, h.maxAttempts, delay)

	gen := h.gen
	h.reconnectTask = h.sched.After(delay, func() {
		h.mu.Lock()
		if gen != h.gen || h.state != StateReconnecting {
			h.mu.Unlock()
			return
		}
		h.reconnectTask = nil
		h.mu.Unlock()

		if err := h.dial(context.Background()); err != nil {
			log.Printf("[collab] reconnect attempt %d failed: %v", attempt, err)
			h.mu.Lock()
			h.scheduleReconnectLocked()
			h.mu.Unlock()
			h.flush()
		}
	})
}

// sendPing emits a heartbeat and arms the stale-pong deadline. A missing
// pong is handled exactly like an unclean close.
func (h *Hub) sendPing(gen uint64) {
	h.mu.Lock()
	if gen != h.gen || h.state != StateConnected {
		h.mu.Unlock()
		return
	}
	// An unanswered ping keeps its original deadline; rearming here would
	// push the timeout forever when the grace exceeds the interval.
	if !h.awaitingPong {
		h.awaitingPong = true
		if h.pongDeadline != nil {
			h.pongDeadline.Cancel()
		}
		grace := time.Duration(float64(h.hbInterval) * pongGraceFactor)
		h.pongDeadline = h.sched.After(grace, func() { h.pongTimeout(gen) })
	}
	h.mu.Unlock()

	h.send(Envelope{Type: MsgPing})
}

func (h *Hub) pongTimeout(gen uint64) {
	h.mu.Lock()
	if gen != h.gen || !h.awaitingPong {
		h.mu.Unlock()
		return
	}
	ch := h.channel
	h.mu.Unlock()

	log.Printf("[collab] heartbeat timed out, dropping channel")
	if ch != nil {
		// Abort surfaces an unclean close, which drives the reconnect path.
		ch.Abort()
	}
}

// CreateSession asks the relay to create a shared session owned by the
// local user and returns its id. Fails when the channel is not connected.
func (h *Hub) CreateSession(settings SessionSettings) (string, bool) {
	h.mu.Lock()
	if h.state != StateConnected {
		h.mu.Unlock()
		h.publish(EventSendError, "create_session: not connected")
		return "", false
	}
	if settings.MaxUsers <= 0 {
		settings.MaxUsers = DefaultSessionSettings().MaxUsers
	}
	id := uuid.New().String()
	h.sessionID = id
	h.settings = settings
	h.users = map[string]*User{h.localUser.ID: cloneUser(h.localUser)}
	h.mu.Unlock()

	h.send(Envelope{Type: MsgCreateSession, SessionID: id, Data: mustJSON(settings)})
	return id, true
}

// JoinSession joins an existing shared session. Returns false and emits a
// send_error event when the channel is not connected.
func (h *Hub) JoinSession(sessionID string, user User) bool {
	h.mu.Lock()
	if h.state != StateConnected {
		h.mu.Unlock()
		h.publish(EventSendError, "join_session: not connected")
		return false
	}
	h.sessionID = sessionID
	h.localUser = user
	h.users = map[string]*User{user.ID: cloneUser(user)}
	h.mu.Unlock()

	h.send(Envelope{Type: MsgJoinSession, SessionID: sessionID, Data: mustJSON(user)})
	return true
}

// LeaveSession leaves the current shared session and clears the roster.
func (h *Hub) LeaveSession() {
	h.mu.Lock()
	sessionID := h.sessionID
	h.sessionID = ""
	h.users = make(map[string]*User)
	h.mu.Unlock()

	h.cursorThrottle.Cancel()
	h.selectionThrottle.Cancel()
	if sessionID != "" {
		h.send(Envelope{Type: MsgLeaveSession, SessionID: sessionID})
	}
}

// SendTerminalInput relays local keystrokes to the shared session.
func (h *Hub) SendTerminalInput(text string) bool {
	return h.sendData(MsgTerminalInput, map[string]string{"text": text})
}

// SendTerminalOutput relays local terminal output to the shared session.
func (h *Hub) SendTerminalOutput(data string) bool {
	return h.sendData(MsgTerminalOutput, map[string]string{"data": data})
}

// SendCursorUpdate relays the local cursor position through the
// trailing-edge throttle: within one window only the most recent cursor
// is transmitted, at most once.
func (h *Hub) SendCursorUpdate(cursor Cursor) {
	h.cursorThrottle.Call(cursor)
}

// SendSelectionChange relays the local selection through its throttle.
func (h *Hub) SendSelectionChange(sel Selection) {
	h.selectionThrottle.Call(sel)
}

// SetVisibility records a local tab hidden/shown change and pushes a
// presence update to the session.
func (h *Hub) SetVisibility(visible bool) {
	h.mu.Lock()
	h.localUser.IsActive = visible
	h.localUser.LastSeen = h.sched.Now()
	if u, ok := h.users[h.localUser.ID]; ok {
		u.IsActive = visible
		u.LastSeen = h.localUser.LastSeen
	}
	user := h.localUser
	h.mu.Unlock()

	h.sendData(MsgUserStatusUpdate, user)
}

// GetConnectedUsers returns a copy of the current participant roster.
func (h *Hub) GetConnectedUsers() []User {
	h.mu.Lock()
	defer h.mu.Unlock()
	result := make([]User, 0, len(h.users))
	for _, u := range h.users {
		result = append(result, *u)
	}
	return result
}

// SessionID returns the current shared session id, or "".
func (h *Hub) SessionID() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sessionID
}

// sendData wraps payload in an envelope tagged with the current session
// and user and sends it. Returns false (emitting send_error) when the
// channel is not connected.
func (h *Hub) sendData(t MessageType, payload any) bool {
	h.mu.Lock()
	connected := h.state == StateConnected
	h.mu.Unlock()
	if !connected {
		h.publish(EventSendError, fmt.Sprintf("%s: not connected", t))
		return false
	}
	return h.send(Envelope{Type: t, Data: mustJSON(payload)})
}

// send stamps and transmits env on the current channel.
func (h *Hub) send(env Envelope) bool {
	h.mu.Lock()
	ch := h.channel
	if env.SessionID == "" {
		env.SessionID = h.sessionID
	}
	if env.UserID == "" {
		env.UserID = h.localUser.ID
	}
	env.Timestamp = h.sched.Now().UnixMilli()
	h.mu.Unlock()

	if ch == nil {
		h.publish(EventSendError, fmt.Sprintf("%s: no channel", env.Type))
		return false
	}

	data, err := json.Marshal(env)
	if err != nil {
		h.publish(EventSendError, err.Error())
		return false
	}
	if err := ch.Send(context.Background(), data); err != nil {
		h.publish(EventSendError, err.Error())
		return false
	}
	return true
}

// setStateLocked records a state change and queues its bus event. Caller
// holds h.mu and must call flush after releasing it.
func (h *Hub) setStateLocked(s State) {
	if h.state == s {
		return
	}
	h.state = s
	h.queueLocked(EventState, s)
}

// queueLocked defers a bus event until the hub lock is released.
func (h *Hub) queueLocked(event string, payload any) {
	h.pending = append(h.pending, busEvent{name: event, payload: payload})
}

// flush publishes queued events. Must be called without h.mu held.
func (h *Hub) flush() {
	h.mu.Lock()
	evs := h.pending
	h.pending = nil
	h.mu.Unlock()

	if h.bus == nil {
		return
	}
	for _, e := range evs {
		h.bus.Publish(e.name, e.payload)
	}
}

// publish emits a bus event immediately. Must be called without h.mu held.
func (h *Hub) publish(event string, payload any) {
	if h.bus != nil {
		h.bus.Publish(event, payload)
	}
}

func cloneUser(u User) *User {
	c := u
	return &c
}

func mustJSON(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return data
}
