package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/glizzus/voice-relay/internal/event"
	"github.com/glizzus/voice-relay/internal/metrics"
	"github.com/glizzus/voice-relay/internal/schedule"
	"github.com/gorilla/websocket"
)

type State int

const (
	StateClosed State = iota
	StateConnecting
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Conn is the part of *websocket.Conn the channel uses.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// WebsocketDialer dials with gorilla/websocket.
type WebsocketDialer struct {
	Dialer *websocket.Dialer
}

func (d WebsocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, resp, err := dialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return conn, nil
}

var _ Dialer = WebsocketDialer{}

// Policy bounds reconnection. The interval is fixed, not exponential.
type Policy struct {
	MaxAttempts int
	Interval    time.Duration
}

var DefaultPolicy = Policy{
	MaxAttempts: 100,
	Interval:    5 * time.Second,
}

// SocketOpen reports a successful dial.
type SocketOpen struct {
	Conn Conn
}

func (SocketOpen) Kind() string { return "socket_open" }

// SocketMessage is one inbound payload read from Conn.
type SocketMessage struct {
	Conn Conn
	Raw  []byte
}

func (SocketMessage) Kind() string { return "socket_message" }

// SocketClosed reports a dropped connection, or a failed dial when Conn is nil.
type SocketClosed struct {
	Conn Conn
	Err  error
}

func (SocketClosed) Kind() string { return "socket_closed" }

// ReconnectDue fires when the backoff interval has elapsed.
type ReconnectDue struct {
	Attempt int
}

func (ReconnectDue) Kind() string { return "reconnect_due" }

type Config struct {
	URL          string
	Dialer       Dialer
	Queue        *event.Queue
	Scheduler    schedule.Scheduler
	Policy       Policy
	WriteTimeout time.Duration
	Logger       *slog.Logger
	Metrics      *metrics.Metrics
	// OnUnavailable is called once when reconnection is abandoned.
	OnUnavailable func()
}

// Channel is the single relay socket shared by all speaker streams.
// Its methods must only be called from the dispatcher goroutine; socket
// reads and dials happen elsewhere and come back as events.
type Channel struct {
	url           string
	dialer        Dialer
	queue         *event.Queue
	scheduler     schedule.Scheduler
	policy        Policy
	writeTimeout  time.Duration
	logger        *slog.Logger
	metrics       *metrics.Metrics
	onUnavailable func()

	state       State
	conn        Conn
	retryCount  int
	stopRetry   func()
	unavailable bool
	stopped     bool
}

func NewChannel(cfg Config) *Channel {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	scheduler := cfg.Scheduler
	if scheduler == nil {
		scheduler = schedule.TimerScheduler{}
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = WebsocketDialer{}
	}
	return &Channel{
		url:           cfg.URL,
		dialer:        dialer,
		queue:         cfg.Queue,
		scheduler:     scheduler,
		policy:        cfg.Policy,
		writeTimeout:  cfg.WriteTimeout,
		logger:        logger.With(slog.String("relay", cfg.URL)),
		metrics:       cfg.Metrics,
		onUnavailable: cfg.OnUnavailable,
	}
}

// Connect starts dialing. The outcome arrives as SocketOpen or SocketClosed.
func (c *Channel) Connect(ctx context.Context) {
	if c.stopped || c.unavailable || c.state != StateClosed {
		return
	}
	c.state = StateConnecting

	go func() {
		conn, err := c.dialer.Dial(ctx, c.url)
		if err != nil {
			c.queue.Post(SocketClosed{Err: err})
			return
		}
		if !c.queue.Post(SocketOpen{Conn: conn}) {
			conn.Close()
		}
	}()
}

func (c *Channel) HandleOpen(ev SocketOpen) {
	if c.stopped || c.state != StateConnecting {
		ev.Conn.Close()
		return
	}

	c.conn = ev.Conn
	c.state = StateOpen
	c.retryCount = 0
	c.metrics.RelayConnects.Inc()
	c.logger.Info("connected to relay")

	go c.read(ev.Conn)
}

func (c *Channel) read(conn Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.queue.Post(SocketClosed{Conn: conn, Err: err})
			return
		}
		if !c.queue.Post(SocketMessage{Conn: conn, Raw: data}) {
			return
		}
	}
}

// HandleMessage decodes an inbound payload. Malformed payloads are logged
// and discarded; a nil Command means there is nothing to do.
func (c *Channel) HandleMessage(ev SocketMessage) Command {
	if c.stopped || ev.Conn != c.conn {
		return nil
	}

	cmd, err := ParseCommand(ev.Raw)
	if err != nil {
		c.metrics.MalformedMessages.Inc()
		c.logger.Warn("failed to decode relay message", slog.Any("error", err))
		return nil
	}
	return cmd
}

// HandleClose treats a drop and a failed dial alike: the channel closes and
// a reconnect is scheduled unless the attempt budget is spent.
func (c *Channel) HandleClose(ev SocketClosed) {
	if c.stopped {
		return
	}
	if ev.Conn == nil {
		if c.state != StateConnecting {
			return
		}
	} else if ev.Conn != c.conn {
		return
	}

	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.state = StateClosed
	c.logger.Warn("relay disconnected", slog.Any("error", ev.Err))

	if c.retryCount >= c.policy.MaxAttempts {
		c.giveUp()
		return
	}

	c.retryCount++
	attempt := c.retryCount
	c.metrics.RelayReconnects.Inc()
	c.logger.Info("reconnecting to relay",
		slog.Duration("in", c.policy.Interval),
		slog.Int("attempt", attempt),
	)
	c.stopRetry = c.scheduler.After(c.policy.Interval, func() {
		c.queue.Post(ReconnectDue{Attempt: attempt})
	})
}

func (c *Channel) HandleReconnect(ctx context.Context, ev ReconnectDue) {
	if c.stopped || ev.Attempt != c.retryCount {
		return
	}
	c.stopRetry = nil
	c.Connect(ctx)
}

func (c *Channel) giveUp() {
	if c.unavailable {
		return
	}
	c.unavailable = true
	c.metrics.RelayUnavailable.Set(1)
	c.logger.Error("max reconnect attempts reached, relay unavailable until restart",
		slog.Int("attempts", c.retryCount),
	)
	if c.onUnavailable != nil {
		c.onUnavailable()
	}
}

// Send transmits one labelled frame. Frames are dropped, not queued,
// when the socket is not open.
func (c *Channel) Send(label string, frame []byte) bool {
	if c.state != StateOpen {
		c.metrics.FramesDropped.WithLabelValues(metrics.DropNotOpen).Inc()
		return false
	}

	payload, err := EncodeFrame(label, frame)
	if err != nil {
		c.logger.Warn("failed to encode frame", slog.String("label", label), slog.Any("error", err))
		return false
	}

	if c.writeTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			c.broken(err)
			return false
		}
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		c.broken(err)
		return false
	}

	c.metrics.FramesForwarded.Inc()
	return true
}

// broken closes the socket after a write failure. The reader then reports
// SocketClosed for the same Conn, which drives the usual retry path.
func (c *Channel) broken(err error) {
	c.metrics.FramesDropped.WithLabelValues(metrics.DropWriteError).Inc()
	c.logger.Warn("failed to write to relay", slog.Any("error", err))
	c.state = StateClosed
	c.conn.Close()
}

// Close stops the channel for good: pending reconnects are canceled and
// later socket events are ignored.
func (c *Channel) Close() error {
	if c.stopped {
		return nil
	}
	c.stopped = true
	c.state = StateClosed
	if c.stopRetry != nil {
		c.stopRetry()
		c.stopRetry = nil
	}
	if c.conn == nil {
		return nil
	}

	conn := c.conn
	c.conn = nil
	deadline := time.Now().Add(time.Second)
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown")
	if err := conn.SetWriteDeadline(deadline); err == nil {
		_ = conn.WriteMessage(websocket.CloseMessage, msg)
	}
	if err := conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("failed to close relay connection: %w", err)
	}
	return nil
}

func (c *Channel) State() State {
	return c.state
}

func (c *Channel) RetryCount() int {
	return c.retryCount
}

// Unavailable reports whether reconnection has been abandoned.
func (c *Channel) Unavailable() bool {
	return c.unavailable
}
