package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"meshcall/internal/core/domain"
	"meshcall/internal/core/ports"
	"meshcall/internal/core/services"
	"meshcall/internal/infrastructure/monitoring"
	"meshcall/pkg/config"
	ctxlog "meshcall/pkg/logger"
	"meshcall/pkg/tracing"
	"meshcall/pkg/validation"

	"github.com/gammazero/workerpool"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	historyWriteTimeout = 5 * time.Second
	historyWorkers      = 4
)

var errServerClosing = errors.New("relay is shutting down")

// session is one participant's websocket. The read loop runs on the
// HandleWebSocket goroutine, writes go through send to the write pump.
type session struct {
	id     domain.ParticipantID
	name   string
	userID domain.UserID
	conn   *websocket.Conn
	send   chan []byte
	log    *zap.SugaredLogger
	opened time.Time

	limiter   *rate.Limiter
	done      chan struct{}
	closeOnce sync.Once
}

func (s *session) close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// WebSocketServer is the signaling relay. It owns no call state of its own:
// membership lives in the room registry, everything else is forwarded.
type WebSocketServer struct {
	registry ports.RoomRegistry
	auth     services.AuthService
	history  ports.HistoryService
	metrics  *monitoring.PrometheusCollector
	logger   *zap.SugaredLogger
	ctxLog   *ctxlog.ContextLogger

	historyPool *workerpool.WorkerPool

	upgrader websocket.Upgrader
	sessions map[domain.ParticipantID]*session
	mu       sync.RWMutex
	// membership orders registry changes with the user-joined and user-left
	// notifications they cause, so a member list never arrives after a
	// user-left for one of its entries.
	membership sync.Mutex
	closing    bool
	wg         sync.WaitGroup

	pingInterval   time.Duration
	pongTimeout    time.Duration
	writeTimeout   time.Duration
	sendBuffer     int
	maxMessageSize int64
	messageRate    rate.Limit
	messageBurst   int
}

// NewWebSocketServer builds the relay. auth and history may be nil, in which
// case tokens are rejected and no meeting history is written.
func NewWebSocketServer(
	cfg *config.Config,
	registry ports.RoomRegistry,
	auth services.AuthService,
	history ports.HistoryService,
	metrics *monitoring.PrometheusCollector,
	logger *zap.SugaredLogger,
) *WebSocketServer {
	s := &WebSocketServer{
		registry:       registry,
		auth:           auth,
		history:        history,
		metrics:        metrics,
		logger:         logger,
		ctxLog:         ctxlog.NewContextLogger(logger.Desugar()),
		historyPool:    workerpool.New(historyWorkers),
		sessions:       make(map[domain.ParticipantID]*session),
		pingInterval:   cfg.Signal.PingInterval,
		pongTimeout:    cfg.Signal.PongTimeout,
		writeTimeout:   cfg.Signal.WriteTimeout,
		sendBuffer:     cfg.Signal.SendBuffer,
		maxMessageSize: cfg.RateLimiting.WebSocket.MaxMessageSizeBytes,
		messageRate:    rate.Inf,
	}
	if cfg.RateLimiting.Enabled {
		s.messageRate = rate.Limit(cfg.RateLimiting.WebSocket.MessagesPerSecond)
		s.messageBurst = cfg.RateLimiting.WebSocket.Burst
	}

	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(cfg.Auth.AllowedOrigins),
	}
	return s
}

// originChecker allows requests without an Origin header (native clients)
// and browser requests from the configured origins. An empty list or "*"
// allows everything.
func originChecker(allowed []string) func(r *http.Request) bool {
	allowAll := len(allowed) == 0
	set := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		if origin == "*" {
			allowAll = true
		}
		set[strings.TrimSuffix(origin, "/")] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if allowAll || origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

// HandleWebSocket upgrades the request and serves the session until it ends.
// Query parameters: name (display name) and token (optional bearer token).
func (s *WebSocketServer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.isClosing() {
		http.Error(w, errServerClosing.Error(), http.StatusServiceUnavailable)
		return
	}

	name := strings.TrimSpace(r.URL.Query().Get("name"))
	if err := validation.ValidateDisplayName(name); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var userID domain.UserID
	if token := r.URL.Query().Get("token"); token != "" {
		if s.auth == nil {
			http.Error(w, "token authentication is not configured", http.StatusUnauthorized)
			return
		}
		claims, err := s.auth.ValidateToken(token)
		if err != nil {
			s.logger.Debugw("rejecting websocket with invalid token", "error", err, "remote_addr", r.RemoteAddr)
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		userID = claims.UserID
		if name == "" {
			name = claims.Username
		}
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}

	id := domain.ParticipantID(uuid.New().String())
	if name == "" {
		name = "guest-" + string(id)[:8]
	}
	sess := &session{
		id:      id,
		name:    name,
		userID:  userID,
		conn:    conn,
		send:    make(chan []byte, s.sendBuffer),
		log:     s.ctxLog.Sugar(ctxlog.WithParticipantID(context.Background(), string(id))),
		opened:  time.Now(),
		limiter: rate.NewLimiter(s.messageRate, s.messageBurst),
		done:    make(chan struct{}),
	}

	if err := s.register(sess); err != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, err.Error()),
			time.Now().Add(s.writeTimeout))
		conn.Close()
		return
	}
	defer s.wg.Done()

	s.metrics.RecordSessionOpened()
	sess.log.Infow("participant connected", "name", name, "authenticated", userID != "", "remote_addr", r.RemoteAddr)

	go s.writePump(sess)
	s.deliver(sess, Envelope{Event: EventConnected, ID: id, Name: name})
	s.readLoop(sess)
	s.unregister(sess)
}

func (s *WebSocketServer) register(sess *session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return errServerClosing
	}
	s.sessions[sess.id] = sess
	s.wg.Add(1)
	return nil
}

func (s *WebSocketServer) isClosing() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closing
}

func (s *WebSocketServer) unregister(sess *session) {
	s.mu.Lock()
	delete(s.sessions, sess.id)
	s.mu.Unlock()
	sess.close()

	s.membership.Lock()
	if res, ok := s.registry.Leave(sess.id); ok {
		s.announceLeft(sess.id, res)
	}
	s.membership.Unlock()
	s.metrics.UpdateRegistryStats(s.registry.Stats())
	s.metrics.RecordSessionClosed(time.Since(sess.opened))
	sess.log.Infow("participant disconnected")
}

func (s *WebSocketServer) readLoop(sess *session) {
	conn := sess.conn
	if s.maxMessageSize > 0 {
		conn.SetReadLimit(s.maxMessageSize)
	}
	conn.SetReadDeadline(time.Now().Add(s.pongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.pongTimeout))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				sess.log.Infow("error reading from participant", "error", err)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(s.pongTimeout))

		if !sess.limiter.Allow() {
			s.metrics.RecordSignalDropped(monitoring.DropRateLimited)
			s.sendError(sess, "", "rate limit exceeded")
			continue
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			s.sendError(sess, "", "malformed message")
			continue
		}

		if err := s.handleMessage(sess, env); err != nil {
			s.sendError(sess, env.Event, err.Error())
		}
	}
}

func (s *WebSocketServer) writePump(sess *session) {
	ticker := time.NewTicker(s.pingInterval)
	defer func() {
		ticker.Stop()
		sess.conn.Close()
	}()

	for {
		select {
		case data := <-sess.send:
			sess.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			if err := sess.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				sess.log.Debugw("write failed", "error", err)
				sess.close()
				return
			}

		case <-ticker.C:
			sess.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			if err := sess.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				sess.log.Debugw("ping failed", "error", err)
				sess.close()
				return
			}

		case <-sess.done:
			sess.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			_ = sess.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// messageContext carries the session's participant and current room for
// context-aware logging.
func (s *WebSocketServer) messageContext(sess *session) context.Context {
	ctx := ctxlog.WithParticipantID(context.Background(), string(sess.id))
	if room, ok := s.registry.RoomOf(sess.id); ok {
		ctx = ctxlog.WithRoomID(ctx, string(room))
	}
	return ctx
}

func (s *WebSocketServer) handleMessage(sess *session, env Envelope) error {
	ctx, span := tracing.TraceRelayEvent(s.messageContext(sess), string(env.Event), string(sess.id))
	defer span.End()

	var err error
	switch env.Event {
	case EventJoinCall:
		err = s.handleJoin(ctx, sess, env)
	case EventLeaveCall:
		s.handleLeave(ctx, sess)
	case EventSignal:
		err = s.handleSignal(sess, env)
	case EventChatMessage:
		err = s.handleChat(sess, env)
	case EventVideoOn, EventVideoOff, EventAudioOn, EventAudioOff:
		s.handleMediaHint(sess, env.Event)
	case "":
		err = errors.New("event is required")
	default:
		err = fmt.Errorf("unknown event: %s", env.Event)
	}

	if err != nil {
		tracing.RecordError(ctx, err)
		s.ctxLog.Sugar(ctx).Debugw("rejected message", "event", env.Event, "error", err)
	}
	return err
}

func (s *WebSocketServer) handleJoin(ctx context.Context, sess *session, env Envelope) error {
	name := strings.TrimSpace(env.Name)
	if err := validation.ValidateDisplayName(name); err != nil {
		return err
	}
	if name == "" {
		name = sess.name
	}

	// deliver never blocks, so the fan-out is safe under the lock
	s.membership.Lock()
	res, err := s.registry.Join(env.Room, &domain.Participant{
		ID:          sess.id,
		DisplayName: name,
		UserID:      sess.userID,
	})
	if err != nil {
		s.membership.Unlock()
		s.metrics.RecordJoinRejected(joinRejectReason(err))
		return err
	}

	if res.Left != nil {
		s.announceLeft(sess.id, res.Left)
	}
	s.deliver(sess, Envelope{
		Event:   EventUserJoined,
		ID:      sess.id,
		Room:    res.Room,
		Name:    name,
		Members: membersOf(res.Existing),
	})
	if !res.Rejoined {
		for _, msg := range res.Backlog {
			s.deliver(sess, chatEnvelope(msg))
		}
		for _, member := range res.Existing {
			s.sendTo(member.ID, Envelope{Event: EventUserJoined, ID: sess.id, Name: name})
		}
	}
	s.membership.Unlock()

	tracing.AddSpanAttributes(ctx, tracing.RoomIDKey.String(string(res.Room)))
	if res.Rejoined {
		return nil
	}

	s.metrics.RecordJoin(len(res.Existing) + 1)
	s.metrics.UpdateRegistryStats(s.registry.Stats())
	s.ctxLog.Sugar(ctxlog.WithRoomID(ctx, string(res.Room))).Infow("participant joined room", "members", len(res.Existing)+1)

	s.recordHistory(sess, res.Room)
	return nil
}

func joinRejectReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrRoomFull):
		return "room_full"
	case errors.Is(err, domain.ErrInvalidRoomID):
		return "invalid_room_id"
	}
	return "other"
}

// recordHistory stores the meeting for authenticated participants. It is best
// effort and never delays the join.
func (s *WebSocketServer) recordHistory(sess *session, room domain.RoomID) {
	if s.history == nil || sess.userID == "" {
		return
	}

	s.historyPool.Submit(func() {
		ctx, cancel := context.WithTimeout(context.Background(), historyWriteTimeout)
		defer cancel()

		_, err := s.history.Record(ctx, sess.userID, string(room))
		switch {
		case err == nil:
			s.metrics.RecordHistoryWrite("stored")
		case errors.Is(err, domain.ErrMeetingExists):
			s.metrics.RecordHistoryWrite("duplicate")
		default:
			s.metrics.RecordHistoryWrite("error")
			sess.log.Warnw("failed to record meeting history", "room_id", room, "error", err)
		}
	})
}

func (s *WebSocketServer) handleLeave(ctx context.Context, sess *session) {
	s.membership.Lock()
	res, ok := s.registry.Leave(sess.id)
	if ok {
		s.announceLeft(sess.id, res)
	}
	s.membership.Unlock()
	if !ok {
		return
	}
	s.metrics.UpdateRegistryStats(s.registry.Stats())
	s.ctxLog.Sugar(ctx).Infow("participant left room", "room_closed", res.RoomClosed)
}

func (s *WebSocketServer) announceLeft(id domain.ParticipantID, res *domain.LeaveResult) {
	for _, member := range res.Remaining {
		s.sendTo(member, Envelope{Event: EventUserLeft, ID: id})
	}
}

// handleSignal forwards the payload untouched. Undeliverable signals are
// dropped silently: the sender learns about departures from user-left.
func (s *WebSocketServer) handleSignal(sess *session, env Envelope) error {
	if env.To == "" || len(env.Payload) == 0 {
		return errors.New("signal requires to and payload")
	}

	if !s.registry.SharesRoom(sess.id, env.To) {
		sess.log.Debugw("dropping signal", "to", env.To, "reason", domain.ErrPeerUnreachable)
		s.metrics.RecordSignalDropped(monitoring.DropNotInSameRoom)
		return nil
	}

	target := s.session(env.To)
	if target == nil {
		sess.log.Debugw("dropping signal for offline participant", "to", env.To)
		s.metrics.RecordSignalDropped(monitoring.DropTargetOffline)
		return nil
	}

	if s.deliver(target, Envelope{Event: EventSignal, From: sess.id, Payload: env.Payload}) {
		s.metrics.RecordSignalRelayed(string(EventSignal))
	}
	return nil
}

func (s *WebSocketServer) handleChat(sess *session, env Envelope) error {
	text := strings.TrimSpace(env.Text)
	if err := validation.ValidateChatText(text); err != nil {
		return err
	}

	msg, recipients, err := s.registry.AppendChat(sess.id, text)
	if err != nil {
		return err
	}

	out := chatEnvelope(msg)
	for _, id := range recipients {
		s.sendTo(id, out)
	}
	s.metrics.RecordChatMessage()
	return nil
}

func (s *WebSocketServer) handleMediaHint(sess *session, event Event) {
	for _, id := range s.registry.Peers(sess.id) {
		s.sendTo(id, Envelope{Event: event, ID: sess.id})
	}
	s.metrics.RecordSignalRelayed(string(event))
}

func (s *WebSocketServer) session(id domain.ParticipantID) *session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessions[id]
}

func (s *WebSocketServer) sendTo(id domain.ParticipantID, env Envelope) bool {
	target := s.session(id)
	if target == nil {
		return false
	}
	return s.deliver(target, env)
}

// deliver queues env on the session without blocking. A session whose buffer
// is full is closed; its peers learn about it through user-left.
func (s *WebSocketServer) deliver(target *session, env Envelope) bool {
	data, err := json.Marshal(env)
	if err != nil {
		s.logger.Errorw("failed to encode envelope", "event", env.Event, "error", err)
		return false
	}

	select {
	case <-target.done:
		return false
	default:
	}

	select {
	case target.send <- data:
		return true
	default:
		target.log.Warnw("send buffer full, closing session", "event", env.Event)
		s.metrics.RecordSignalDropped(monitoring.DropSlowConsumer)
		target.close()
		return false
	}
}

func (s *WebSocketServer) sendError(sess *session, event Event, message string) {
	s.metrics.RecordProtocolError(string(event))
	s.deliver(sess, Envelope{Event: EventError, Message: message})
}

func (s *WebSocketServer) SessionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Shutdown closes every session and waits for their cleanup.
func (s *WebSocketServer) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	for _, sess := range s.sessions {
		sess.close()
	}
	s.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		s.wg.Wait()
		s.historyPool.StopWait()
		close(drained)
	}()

	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("relay shutdown: %w", ctx.Err())
	}
}
