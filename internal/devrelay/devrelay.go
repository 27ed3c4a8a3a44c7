// Package devrelay is a stand-in for the speech service. It accepts bridge
// connections, counts the frames each speaker sends, and can push speak and
// shutdown commands to every connected bridge.
package devrelay

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Frame is one decoded audio frame received from a bridge.
type Frame struct {
	User  string `json:"user"`
	Audio []byte `json:"audio"`
}

type command struct {
	Type   string `json:"type"`
	User   string `json:"user"`
	Audio  []byte `json:"audio,omitempty"`
	Format string `json:"format,omitempty"`
}

const writeWait = 5 * time.Second

var ErrNoClients = errors.New("no bridge connected")

type Config struct {
	Logger *slog.Logger
	// OnFrame, if set, is called for every frame received.
	OnFrame func(Frame)
}

type Server struct {
	upgrader websocket.Upgrader
	logger   *slog.Logger
	onFrame  func(Frame)

	mu      sync.Mutex
	clients map[*client]struct{}
	frames  map[string]int
}

type client struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *client) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteJSON(v)
}

func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  65536,
			WriteBufferSize: 65536,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger:  logger,
		onFrame: cfg.OnFrame,
		clients: make(map[*client]struct{}),
		frames:  make(map[string]int),
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade error", slog.Any("error", err))
		return
	}

	c := &client{conn: conn}
	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()
	s.logger.Info("bridge connected", slog.String("remote", r.RemoteAddr))

	defer func() {
		s.mu.Lock()
		delete(s.clients, c)
		s.mu.Unlock()
		_ = conn.Close()
		s.logger.Info("bridge disconnected", slog.String("remote", r.RemoteAddr))
	}()

	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if mt != websocket.TextMessage {
			continue
		}

		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil || frame.User == "" {
			s.logger.Warn("discarding unreadable frame", slog.Int("bytes", len(data)))
			continue
		}
		s.record(frame)
	}
}

func (s *Server) record(frame Frame) {
	s.mu.Lock()
	s.frames[frame.User]++
	n := s.frames[frame.User]
	s.mu.Unlock()

	if n == 1 || n%250 == 0 {
		s.logger.Info("receiving audio", slog.String("user", frame.User), slog.Int("frames", n))
	}
	if s.onFrame != nil {
		s.onFrame(frame)
	}
}

// Speak sends a WAV reply to every connected bridge.
func (s *Server) Speak(user string, wav []byte) (int, error) {
	return s.broadcast(command{Type: "speak", User: user, Audio: wav, Format: "wav"})
}

// Shutdown asks every connected bridge to stop.
func (s *Server) Shutdown(user string) (int, error) {
	return s.broadcast(command{Type: "shutdown", User: user})
}

func (s *Server) broadcast(cmd command) (int, error) {
	s.mu.Lock()
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	if len(clients) == 0 {
		return 0, ErrNoClients
	}

	var errs []error
	sent := 0
	for _, c := range clients {
		if err := c.writeJSON(cmd); err != nil {
			errs = append(errs, fmt.Errorf("failed to send %s: %w", cmd.Type, err))
			continue
		}
		sent++
	}
	return sent, errors.Join(errs...)
}

// FrameCounts returns the number of frames received per user.
func (s *Server) FrameCounts() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[string]int, len(s.frames))
	for user, n := range s.frames {
		counts[user] = n
	}
	return counts
}

func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}
