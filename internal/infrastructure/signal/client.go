package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"meshcall/internal/core/domain"
	"meshcall/internal/core/ports"
	"meshcall/pkg/config"
	"meshcall/pkg/retry"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var errAlreadyConnected = errors.New("signal client already connected")

// handshakeError is returned when the relay refuses the upgrade. It is never
// retried.
type handshakeError struct {
	status int
}

func (e *handshakeError) Error() string {
	return fmt.Sprintf("relay refused connection: %d %s", e.status, http.StatusText(e.status))
}

func (e *handshakeError) Unwrap() error {
	if e.status == http.StatusUnauthorized || e.status == http.StatusForbidden {
		return domain.ErrUnauthorized
	}
	return nil
}

type ClientConfig struct {
	URL   string
	Name  string
	Token string

	PingInterval   time.Duration
	PongTimeout    time.Duration
	WriteTimeout   time.Duration
	SendBuffer     int
	MaxMessageSize int64
	Dial           retry.Config
}

// NewClientConfig derives the client settings from the shared config file.
func NewClientConfig(cfg *config.Config, name, token string) ClientConfig {
	dial := retry.DefaultConfig()
	dial.MaxAttempts = cfg.Signal.DialAttempts
	return ClientConfig{
		URL:            cfg.Signal.URL,
		Name:           name,
		Token:          token,
		PingInterval:   cfg.Signal.PingInterval,
		PongTimeout:    cfg.Signal.PongTimeout,
		WriteTimeout:   cfg.Signal.WriteTimeout,
		SendBuffer:     cfg.Signal.SendBuffer,
		MaxMessageSize: cfg.RateLimiting.WebSocket.MaxMessageSizeBytes,
		Dial:           dial,
	}
}

// Client is the participant side of the relay connection. Inbound events are
// decoded and handed to a ports.CallEventHandler in arrival order.
type Client struct {
	cfg    ClientConfig
	dialer *websocket.Dialer
	logger *zap.SugaredLogger

	conn    *websocket.Conn
	handler ports.CallEventHandler
	send    chan []byte

	started   atomic.Bool
	closing   atomic.Bool
	done      chan struct{}
	closeOnce sync.Once
	stopped   chan struct{}
}

func NewClient(cfg ClientConfig, logger *zap.SugaredLogger) *Client {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 64
	}
	return &Client{
		cfg: cfg,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		},
		logger:  logger,
		send:    make(chan []byte, cfg.SendBuffer),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// Connect dials the relay, retrying with backoff, and starts the read and
// write pumps.
func (c *Client) Connect(ctx context.Context, handler ports.CallEventHandler) error {
	if !c.started.CompareAndSwap(false, true) {
		return errAlreadyConnected
	}

	target, err := c.dialURL()
	if err != nil {
		return err
	}

	dial := c.cfg.Dial
	dial.Permanent = func(err error) bool {
		var he *handshakeError
		return errors.As(err, &he)
	}
	conn, err := retry.RetryWithResult(ctx, dial, func() (*websocket.Conn, error) {
		conn, resp, err := c.dialer.DialContext(ctx, target, nil)
		if err != nil {
			if resp != nil && resp.StatusCode >= http.StatusBadRequest && resp.StatusCode < http.StatusInternalServerError {
				return nil, &handshakeError{status: resp.StatusCode}
			}
			c.logger.Debugw("dial failed", "url", c.cfg.URL, "error", err)
			return nil, err
		}
		return conn, nil
	})
	if err != nil {
		return fmt.Errorf("failed to connect to relay: %w", err)
	}

	c.conn = conn
	c.handler = handler
	go c.writePump()
	go c.readPump()

	c.logger.Infow("connected to relay", "url", c.cfg.URL)
	return nil
}

func (c *Client) dialURL() (string, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("invalid relay url: %w", err)
	}
	q := u.Query()
	if c.cfg.Name != "" {
		q.Set("name", c.cfg.Name)
	}
	if c.cfg.Token != "" {
		q.Set("token", c.cfg.Token)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Close ends the connection without reporting TransportLost.
func (c *Client) Close() {
	c.closing.Store(true)
	c.shutdown()
	if c.started.Load() && c.conn != nil {
		<-c.stopped
	}
}

func (c *Client) shutdown() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *Client) readPump() {
	defer close(c.stopped)

	conn := c.conn
	if c.cfg.MaxMessageSize > 0 {
		conn.SetReadLimit(c.cfg.MaxMessageSize)
	}
	conn.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout))
	})
	// the relay pings too; answering refreshes our deadline as well
	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout))
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(c.cfg.WriteTimeout))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.shutdown()
			if !c.closing.Load() {
				c.handler.TransportLost(err)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout))

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.logger.Warnw("malformed frame from relay", "error", err)
			continue
		}
		c.dispatch(env)
	}
}

func (c *Client) dispatch(env Envelope) {
	h := c.handler
	switch env.Event {
	case EventConnected:
		h.Connected(env.ID)

	case EventUserJoined:
		members := make([]domain.ParticipantID, 0, len(env.Members))
		for _, m := range env.Members {
			members = append(members, m.ID)
		}
		h.UserJoined(env.ID, members)

	case EventUserLeft:
		h.UserLeft(env.ID)

	case EventSignal:
		var msg domain.SignalMessage
		if err := json.Unmarshal(env.Payload, &msg); err != nil {
			c.logger.Debugw("dropping undecodable signal", "from", env.From, "error", err)
			return
		}
		h.SignalReceived(env.From, msg)

	case EventChatMessage:
		msg := domain.ChatMessage{From: env.From, Sender: env.Name, Text: env.Text}
		if env.SentAt != nil {
			msg.SentAt = *env.SentAt
		}
		h.ChatReceived(msg)

	case EventError:
		h.RelayError(env.Message)

	default:
		if hint, ok := hintEvent(env.Event); ok {
			h.MediaHintReceived(env.ID, hint)
			return
		}
		c.logger.Debugw("ignoring unknown relay event", "event", env.Event)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Debugw("write to relay failed", "error", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (c *Client) enqueue(env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", env.Event, err)
	}

	select {
	case <-c.done:
		return domain.ErrTransportLost
	default:
	}

	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return domain.ErrTransportLost
	}
}

func (c *Client) JoinCall(room domain.RoomID, displayName string) error {
	return c.enqueue(Envelope{Event: EventJoinCall, Room: room, Name: displayName})
}

func (c *Client) LeaveCall() error {
	return c.enqueue(Envelope{Event: EventLeaveCall})
}

func (c *Client) SendSignal(to domain.ParticipantID, msg domain.SignalMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode signal: %w", err)
	}
	return c.enqueue(Envelope{Event: EventSignal, To: to, Payload: payload})
}

func (c *Client) SendChat(text, displayName string) error {
	return c.enqueue(Envelope{Event: EventChatMessage, Text: text, Name: displayName})
}

func (c *Client) SendMediaHint(hint domain.MediaHint) error {
	if !hint.Valid() {
		return fmt.Errorf("unknown media hint %q", hint)
	}
	return c.enqueue(Envelope{Event: Event(hint)})
}
