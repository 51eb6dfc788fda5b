package relay

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/forno/backend/internal/logger"
	"github.com/zhouzirui/forno/backend/internal/model/chat"
	"github.com/zhouzirui/forno/backend/internal/observability"
)

const (
	msgConnected     = "Conexão WebSocket estabelecida!"
	msgNotIdentified = "Usuário não identificado"
	msgIdentified    = "Conexão já identificada"
	msgHistoryFailed = "Erro ao carregar histórico do chat."
	msgProcessFailed = "Erro ao processar mensagem."

	maxFrameBytes = 64 << 10
	inboundQueue  = 16
)

// Coordinator is the per-user conversation state the relay drives.
type Coordinator interface {
	History(ctx context.Context, userID string) ([]chat.Turn, error)
	EnsureWelcome(ctx context.Context, userID string) (*chat.Turn, error)
	Converse(ctx context.Context, userID, content string) (chat.Turn, error)
}

// Options tunes the relay.
type Options struct {
	// PingInterval drives the read deadline; zero disables it.
	PingInterval time.Duration
	Metrics      *observability.Metrics
	Logger       zerolog.Logger
}

// Handler upgrades HTTP requests to websocket connections and runs the chat protocol on them.
type Handler struct {
	registry *Registry
	coord    Coordinator
	upgrader websocket.Upgrader
	pongWait time.Duration
	metrics  *observability.Metrics
	logger   zerolog.Logger

	active sync.WaitGroup
}

// NewHandler creates the relay handler.
func NewHandler(registry *Registry, coord Coordinator, opts Options) *Handler {
	var pongWait time.Duration
	if opts.PingInterval > 0 {
		pongWait = opts.PingInterval * 10 / 9
	}
	return &Handler{
		registry: registry,
		coord:    coord,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		pongWait: pongWait,
		metrics:  opts.Metrics,
		logger:   logger.Component(opts.Logger, "relay"),
	}
}

// RegisterRoutes mounts the websocket endpoint.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws", h.ServeWS)
	r.Get("/", h.ServeWS)
}

// ServeWS runs one client connection until it closes. Frames are read here and processed in
// order by a dispatcher goroutine, so a slow generation never stalls pong handling.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	h.active.Add(1)
	defer h.active.Done()

	conn := h.registry.Register(ws)
	connLog := h.logger.With().Str("connId", conn.ID).Logger()

	ws.SetReadLimit(maxFrameBytes)
	h.extendReadDeadline(ws)
	ws.SetPongHandler(func(string) error {
		h.extendReadDeadline(ws)
		return nil
	})

	h.send(conn, infoFrame{Type: frameInfo, Message: msgConnected})

	ctx := context.WithoutCancel(r.Context())
	inbound := make(chan []byte, inboundQueue)
	dispatched := make(chan struct{})
	go func() {
		defer close(dispatched)
		for data := range inbound {
			h.handleFrame(ctx, conn, connLog, data)
		}
	}()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				connLog.Debug().Err(err).Msg("read error")
			}
			break
		}
		h.extendReadDeadline(ws)
		inbound <- data
	}

	h.registry.Unregister(conn)
	close(inbound)
	<-dispatched
}

// Drain waits until every connection served by ServeWS has finished its in-flight frames, or
// until ctx is done. Call it after the registry is closed.
func (h *Handler) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.active.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Handler) extendReadDeadline(ws *websocket.Conn) {
	if h.pongWait > 0 {
		_ = ws.SetReadDeadline(time.Now().Add(h.pongWait))
	}
}

func (h *Handler) handleFrame(ctx context.Context, conn *Conn, connLog zerolog.Logger, data []byte) {
	defer func() {
		if rec := recover(); rec != nil {
			connLog.Error().Interface("panic", rec).Msg("frame handler panicked")
			h.metrics.ErrorFrame("internal")
			h.send(conn, errorFrame{Type: frameError, Message: msgProcessFailed})
		}
	}()

	frame, err := decodeFrame(data)
	if err != nil {
		h.metrics.FrameReceived("invalid")
		h.fail(conn, connLog, err, msgProcessFailed)
		return
	}
	h.metrics.FrameReceived(frame.kind())

	switch f := frame.(type) {
	case identifyFrame:
		h.identify(ctx, conn, connLog, f)
	case messageFrame:
		h.message(ctx, conn, connLog, f)
	}
}

func (h *Handler) identify(ctx context.Context, conn *Conn, connLog zerolog.Logger, f identifyFrame) {
	if conn.UserID() != "" {
		h.fail(conn, connLog, chat.ErrAlreadyIdentified, msgIdentified)
		return
	}

	if f.UserID == "" {
		h.send(conn, newHistoryFrame(nil))
		return
	}

	if err := h.registry.Bind(conn, f.UserID); err != nil {
		h.fail(conn, connLog, err, msgHistoryFailed)
		return
	}
	connLog = connLog.With().Str("userId", f.UserID).Logger()
	connLog.Info().Int("connections", h.registry.UserConnections(f.UserID)).Msg("connection identified")

	turns, err := h.coord.History(ctx, f.UserID)
	if err != nil {
		h.registry.Unbind(conn)
		h.fail(conn, connLog, err, msgHistoryFailed)
		return
	}
	h.send(conn, newHistoryFrame(turns))

	if _, ok := chat.FirstAssistant(turns); ok {
		return
	}

	welcome, err := h.coord.EnsureWelcome(ctx, f.UserID)
	if err != nil {
		h.registry.Unbind(conn)
		h.fail(conn, connLog, err, msgHistoryFailed)
		return
	}
	if welcome == nil {
		return
	}

	refreshed, err := h.coord.History(ctx, f.UserID)
	if err != nil {
		h.fail(conn, connLog, err, msgHistoryFailed)
		return
	}
	h.send(conn, newHistoryFrame(refreshed))
}

func (h *Handler) message(ctx context.Context, conn *Conn, connLog zerolog.Logger, f messageFrame) {
	userID := conn.UserID()
	if userID == "" {
		h.fail(conn, connLog, chat.ErrNotIdentified, msgNotIdentified)
		return
	}

	if _, err := h.coord.Converse(ctx, userID, f.Content); err != nil {
		h.fail(conn, connLog.With().Str("userId", userID).Logger(), err, msgProcessFailed)
	}
}

func (h *Handler) fail(conn *Conn, connLog zerolog.Logger, err error, message string) {
	class := errorClass(err)
	h.metrics.ErrorFrame(class)
	connLog.Warn().Err(err).Str("class", class).Msg("sending error frame")
	h.send(conn, errorFrame{Type: frameError, Message: message})
}

func (h *Handler) send(conn *Conn, frame any) {
	payload, err := encodeFrame(frame)
	if err != nil {
		h.logger.Error().Err(err).Str("connId", conn.ID).Msg("failed to encode frame")
		return
	}
	h.registry.Send(conn, payload)
}

func errorClass(err error) string {
	switch {
	case errors.Is(err, chat.ErrProtocolParse):
		return "protocol"
	case errors.Is(err, chat.ErrNotIdentified):
		return "not_identified"
	case errors.Is(err, chat.ErrAlreadyIdentified):
		return "already_identified"
	case chat.IsPersistence(err):
		return "persistence"
	case chat.IsProvider(err):
		return "provider"
	default:
		return "internal"
	}
}
