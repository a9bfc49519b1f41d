// Package transport multiplexes conversation rooms and realtime events over
// one websocket connection per signed-in session.
package transport

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"chatsync/internal/logger"
	"chatsync/internal/models"
)

var (
	ErrNotConnected = errors.New("transport: not connected")
	ErrClosed       = errors.New("transport: closed")
)

// Conn is the subset of a websocket connection the adapter uses.
type Conn interface {
	ReadJSON(v interface{}) error
	WriteJSON(v interface{}) error
	Close() error
}

// Dialer opens a new authenticated connection.
type Dialer func(ctx context.Context) (Conn, error)

type Option func(*Adapter)

func WithLogger(l *slog.Logger) Option {
	return func(a *Adapter) { a.log = l }
}

// WithBackoff sets the first and the maximum delay between reconnect attempts.
func WithBackoff(initial, max time.Duration) Option {
	return func(a *Adapter) {
		a.backoffInitial = initial
		a.backoffMax = max
	}
}

// Adapter owns the session's single connection. Rooms joined through it are
// re-joined after every reconnect.
type Adapter struct {
	dial           Dialer
	log            *slog.Logger
	backoffInitial time.Duration
	backoffMax     time.Duration

	mu        sync.Mutex
	conn      Conn
	rooms     map[string]int // conversation id -> open surfaces
	handlers  map[string]map[int]func(models.Event)
	reconnect map[int]func()
	nextID    int
	connects  int
	closed    bool
	closeCh   chan struct{}

	// writeMu serializes writes; websocket connections allow one writer at a time
	writeMu sync.Mutex
}

func New(dial Dialer, opts ...Option) *Adapter {
	a := &Adapter{
		dial:           dial,
		log:            logger.Log,
		backoffInitial: 500 * time.Millisecond,
		backoffMax:     30 * time.Second,
		rooms:          make(map[string]int),
		handlers:       make(map[string]map[int]func(models.Event)),
		reconnect:      make(map[int]func()),
		closeCh:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run keeps the connection alive until ctx is done or Close is called. Each
// connection failure is followed by a redial with exponential backoff.
func (a *Adapter) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-a.closeCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	delay := a.backoffInitial
	for {
		conn, err := a.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return a.exitErr(ctx)
			}
			a.log.Warn("realtime dial failed", "error", err, "retry_in", delay)
			if !sleep(ctx, delay) {
				return a.exitErr(ctx)
			}
			delay = nextBackoff(delay, a.backoffMax)
			continue
		}

		delay = a.backoffInitial
		reconnected, err := a.attach(conn)
		if err != nil {
			_ = conn.Close()
			return err
		}
		if reconnected {
			a.fireReconnect()
		}

		stop := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				_ = conn.Close()
			case <-stop:
			}
		}()
		err = a.readLoop(conn)
		close(stop)
		a.detach(conn)

		if ctx.Err() != nil {
			return a.exitErr(ctx)
		}
		a.log.Info("realtime connection lost", "error", err)
	}
}

func (a *Adapter) exitErr(ctx context.Context) error {
	a.mu.Lock()
	closed := a.closed
	a.mu.Unlock()
	if closed {
		return ErrClosed
	}
	return ctx.Err()
}

// attach installs conn and re-joins every open room. It reports whether this
// is a reconnect rather than the first connection.
func (a *Adapter) attach(conn Conn) (bool, error) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return false, ErrClosed
	}
	a.conn = conn
	a.connects++
	reconnected := a.connects > 1
	rooms := make([]string, 0, len(a.rooms))
	for id := range a.rooms {
		rooms = append(rooms, id)
	}
	a.mu.Unlock()

	sort.Strings(rooms)
	for _, id := range rooms {
		if err := a.write(conn, models.Event{Event: models.EventJoinConversation, ConversationID: id}); err != nil {
			a.log.Warn("rejoin failed", "conversation", id, "error", err)
		}
	}
	a.log.Debug("realtime connected", "rooms", len(rooms), "reconnect", reconnected)
	return reconnected, nil
}

func (a *Adapter) detach(conn Conn) {
	a.mu.Lock()
	if a.conn == conn {
		a.conn = nil
	}
	a.mu.Unlock()
	_ = conn.Close()
}

func (a *Adapter) readLoop(conn Conn) error {
	for {
		var ev models.Event
		if err := conn.ReadJSON(&ev); err != nil {
			return err
		}
		a.dispatch(ev)
	}
}

func (a *Adapter) dispatch(ev models.Event) {
	if ev.Event == models.EventError {
		a.log.Warn("server reported error", "error", ev.Error)
	}

	a.mu.Lock()
	hs := a.handlers[ev.Event]
	keys := make([]int, 0, len(hs))
	for id := range hs {
		keys = append(keys, id)
	}
	sort.Ints(keys)
	fns := make([]func(models.Event), 0, len(keys))
	for _, id := range keys {
		fns = append(fns, hs[id])
	}
	a.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

func (a *Adapter) fireReconnect() {
	a.mu.Lock()
	keys := make([]int, 0, len(a.reconnect))
	for id := range a.reconnect {
		keys = append(keys, id)
	}
	sort.Ints(keys)
	fns := make([]func(), 0, len(keys))
	for _, id := range keys {
		fns = append(fns, a.reconnect[id])
	}
	a.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// On registers handler for an inbound event name. Handlers run on the read
// goroutine in registration order.
func (a *Adapter) On(event string, handler func(models.Event)) (unsubscribe func()) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.handlers[event] == nil {
		a.handlers[event] = make(map[int]func(models.Event))
	}
	id := a.nextID
	a.nextID++
	a.handlers[event][id] = handler
	return func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		delete(a.handlers[event], id)
	}
}

// OnReconnect registers fn to run after rooms were re-joined on a new connection.
func (a *Adapter) OnReconnect(fn func()) (unsubscribe func()) {
	a.mu.Lock()
	defer a.mu.Unlock()
	id := a.nextID
	a.nextID++
	a.reconnect[id] = fn
	return func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		delete(a.reconnect, id)
	}
}

// JoinConversation announces presence in a room. While disconnected the join
// is remembered and sent when the connection comes up.
func (a *Adapter) JoinConversation(conversationID string) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return ErrClosed
	}
	a.rooms[conversationID]++
	first := a.rooms[conversationID] == 1
	conn := a.conn
	a.mu.Unlock()

	if !first || conn == nil {
		return nil
	}
	return a.write(conn, models.Event{Event: models.EventJoinConversation, ConversationID: conversationID})
}

// LeaveConversation undoes one JoinConversation. The room is left once no
// surface shows the conversation anymore.
func (a *Adapter) LeaveConversation(conversationID string) error {
	a.mu.Lock()
	n, ok := a.rooms[conversationID]
	if !ok {
		a.mu.Unlock()
		return nil
	}
	if n > 1 {
		a.rooms[conversationID] = n - 1
		a.mu.Unlock()
		return nil
	}
	delete(a.rooms, conversationID)
	conn := a.conn
	a.mu.Unlock()

	if conn == nil {
		return nil
	}
	return a.write(conn, models.Event{Event: models.EventLeaveConversation, ConversationID: conversationID})
}

// Rooms lists the rooms currently joined.
func (a *Adapter) Rooms() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.rooms))
	for id := range a.rooms {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (a *Adapter) Connected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.conn != nil
}

func (a *Adapter) EmitTypingStart(conversationID, receiverID string) error {
	return a.send(models.Event{Event: models.EventTypingStart, ConversationID: conversationID, ReceiverID: receiverID})
}

func (a *Adapter) EmitTypingStop(conversationID, receiverID string) error {
	return a.send(models.Event{Event: models.EventTypingStop, ConversationID: conversationID, ReceiverID: receiverID})
}

func (a *Adapter) send(ev models.Event) error {
	a.mu.Lock()
	conn := a.conn
	closed := a.closed
	a.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if conn == nil {
		return ErrNotConnected
	}
	return a.write(conn, ev)
}

func (a *Adapter) write(conn Conn, ev models.Event) error {
	ev.Timestamp = time.Now().UnixMilli()
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	return conn.WriteJSON(ev)
}

// Close drops the connection and stops Run. Rooms and handlers are forgotten.
func (a *Adapter) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	conn := a.conn
	a.conn = nil
	a.rooms = make(map[string]int)
	a.handlers = make(map[string]map[int]func(models.Event))
	a.reconnect = make(map[int]func())
	close(a.closeCh)
	a.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
}

func nextBackoff(d, max time.Duration) time.Duration {
	d *= 2
	if d > max {
		return max
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
