package relay

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/forno/backend/internal/logger"
	"github.com/zhouzirui/forno/backend/internal/model/chat"
	"github.com/zhouzirui/forno/backend/internal/observability"
)

var (
	errConnClosed = errors.New("connection closed")
	errQueueFull  = errors.New("send queue full")
)

// Transport is the write side of a client connection. *websocket.Conn satisfies it.
type Transport interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// RegistryOptions tunes the per-connection writer.
type RegistryOptions struct {
	SendBuffer   int
	WriteTimeout time.Duration
	PingInterval time.Duration
	Metrics      *observability.Metrics
	Logger       zerolog.Logger
}

// Conn is one registered client connection.
type Conn struct {
	ID string

	transport Transport
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	mu      sync.RWMutex
	userID  string
	boundAt uint64
}

// UserID returns the user the connection is bound to, or "" while unidentified.
func (c *Conn) UserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

func (c *Conn) enqueue(payload []byte) error {
	select {
	case <-c.done:
		return errConnClosed
	default:
	}

	select {
	case c.send <- payload:
		return nil
	case <-c.done:
		return errConnClosed
	default:
		return errQueueFull
	}
}

// Registry tracks live connections and the users they are bound to. Each connection owns a
// writer goroutine draining its queue, so frames reach a connection in submission order.
type Registry struct {
	mu     sync.RWMutex
	conns  map[string]*Conn
	byUser map[string]map[string]*Conn
	binds  uint64

	opts    RegistryOptions
	metrics *observability.Metrics
	logger  zerolog.Logger
	writers sync.WaitGroup
}

// NewRegistry creates an empty registry.
func NewRegistry(opts RegistryOptions) *Registry {
	if opts.SendBuffer < 1 {
		opts.SendBuffer = 1
	}
	return &Registry{
		conns:   make(map[string]*Conn),
		byUser:  make(map[string]map[string]*Conn),
		opts:    opts,
		metrics: opts.Metrics,
		logger:  logger.Component(opts.Logger, "registry"),
	}
}

// Register adds an unbound connection and starts its writer.
func (r *Registry) Register(transport Transport) *Conn {
	id, _ := gonanoid.New()
	c := &Conn{
		ID:        id,
		transport: transport,
		send:      make(chan []byte, r.opts.SendBuffer),
		done:      make(chan struct{}),
	}

	r.mu.Lock()
	r.conns[c.ID] = c
	r.mu.Unlock()

	r.writers.Add(1)
	go r.writeLoop(c)

	r.metrics.ConnectionOpened()
	r.logger.Info().Str("connId", c.ID).Msg("connection registered")
	return c
}

// Bind attaches c to userID. Several connections may share one user.
func (r *Registry) Bind(c *Conn, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.conns[c.ID]; !ok {
		return errConnClosed
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.userID != "" {
		return chat.ErrAlreadyIdentified
	}
	c.userID = userID
	r.binds++
	c.boundAt = r.binds

	set, ok := r.byUser[userID]
	if !ok {
		set = make(map[string]*Conn)
		r.byUser[userID] = set
	}
	set[c.ID] = c
	return nil
}

// Unbind returns c to the unidentified state.
func (r *Registry) Unbind(c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unbindLocked(c)
}

func (r *Registry) unbindLocked(c *Conn) {
	c.mu.Lock()
	userID := c.userID
	c.userID = ""
	c.mu.Unlock()

	if userID == "" {
		return
	}
	if set, ok := r.byUser[userID]; ok {
		delete(set, c.ID)
		if len(set) == 0 {
			delete(r.byUser, userID)
		}
	}
}

// Unregister removes c and closes its transport. Calling it again is a no-op.
func (r *Registry) Unregister(c *Conn) {
	r.mu.Lock()
	_, registered := r.conns[c.ID]
	if registered {
		delete(r.conns, c.ID)
		r.unbindLocked(c)
	}
	r.mu.Unlock()

	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.transport.Close()
	})

	if registered {
		r.metrics.ConnectionClosed()
		r.logger.Info().Str("connId", c.ID).Msg("connection unregistered")
	}
}

// Send queues payload on a single connection.
func (r *Registry) Send(c *Conn, payload []byte) bool {
	return r.deliver(c, payload)
}

// Broadcast queues payload on every connection bound to userID and returns how many accepted
// it. A failing connection never stops delivery to the others.
func (r *Registry) Broadcast(userID string, payload []byte) int {
	conns := r.snapshot(userID)
	if len(conns) == 0 {
		r.logger.Debug().Str("userId", userID).Msg("no connections to broadcast to")
		return 0
	}

	delivered := 0
	for _, c := range conns {
		if r.deliver(c, payload) {
			delivered++
		}
	}

	r.logger.Debug().
		Str("userId", userID).
		Int("success", delivered).
		Int("failed", len(conns)-delivered).
		Msg("broadcast complete")
	return delivered
}

// SendOne queues payload on the most recently bound live connection of userID. It is a
// no-op when the user has none.
func (r *Registry) SendOne(userID string, payload []byte) bool {
	conns := r.snapshot(userID)
	for i := len(conns) - 1; i >= 0; i-- {
		if r.deliver(conns[i], payload) {
			return true
		}
	}
	return false
}

// Publish broadcasts a freshly persisted turn as a new_message frame.
func (r *Registry) Publish(turn chat.Turn) {
	payload, err := encodeFrame(newMessageFrame{Type: frameNewMessage, Message: turn})
	if err != nil {
		r.logger.Error().Err(err).Str("turnId", turn.ID).Msg("failed to encode turn")
		return
	}
	r.Broadcast(turn.UserID, payload)
}

// Count returns the number of registered connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// UserConnections returns how many connections are bound to userID.
func (r *Registry) UserConnections(userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userID])
}

// Close unregisters every connection and waits for their writers to exit.
func (r *Registry) Close() {
	r.mu.RLock()
	conns := make([]*Conn, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	r.mu.RUnlock()

	for _, c := range conns {
		r.Unregister(c)
	}
	r.writers.Wait()
}

// snapshot returns the user's connections in bind order, copied so delivery happens without
// holding the registry lock.
func (r *Registry) snapshot(userID string) []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.byUser[userID]
	out := make([]*Conn, 0, len(set))
	for _, c := range set {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].boundAt < out[j].boundAt })
	return out
}

func (r *Registry) deliver(c *Conn, payload []byte) bool {
	err := c.enqueue(payload)
	switch {
	case err == nil:
		return true
	case errors.Is(err, errQueueFull):
		r.metrics.DeliveryFailed("queue_full")
		r.logger.Warn().Str("connId", c.ID).Msg("send queue full, dropping slow connection")
		r.Unregister(c)
	default:
		r.metrics.DeliveryFailed("closed")
		r.logger.Debug().Err(err).Str("connId", c.ID).Msg("skipped delivery to closed connection")
	}
	return false
}

func (r *Registry) writeLoop(c *Conn) {
	defer r.writers.Done()

	var ping <-chan time.Time
	if r.opts.PingInterval > 0 {
		ticker := time.NewTicker(r.opts.PingInterval)
		defer ticker.Stop()
		ping = ticker.C
	}

	for {
		select {
		case <-c.done:
			return
		case payload := <-c.send:
			if err := r.write(c, websocket.TextMessage, payload); err != nil {
				r.metrics.DeliveryFailed("write")
				r.logger.Warn().Err(err).Str("connId", c.ID).Msg("failed to write frame")
				r.Unregister(c)
				return
			}
			r.metrics.Delivered()
		case <-ping:
			if err := r.write(c, websocket.PingMessage, nil); err != nil {
				r.logger.Debug().Err(err).Str("connId", c.ID).Msg("ping failed")
				r.Unregister(c)
				return
			}
		}
	}
}

func (r *Registry) write(c *Conn, messageType int, payload []byte) error {
	if r.opts.WriteTimeout > 0 {
		if err := c.transport.SetWriteDeadline(time.Now().Add(r.opts.WriteTimeout)); err != nil {
			return err
		}
	}
	return c.transport.WriteMessage(messageType, payload)
}
