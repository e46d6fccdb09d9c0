package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/tbourn/go-dm-backend/internal/config"
	"github.com/tbourn/go-dm-backend/internal/domain"
	"github.com/tbourn/go-dm-backend/internal/presence"
)

// bearerProtocol is the Sec-WebSocket-Protocol marker preceding a token:
// "Sec-WebSocket-Protocol: bearer, <token>".
const bearerProtocol = "bearer"

// TokenFromRequest extracts a bearer credential from the Authorization
// header, the token query parameter, or the WebSocket subprotocol list.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
			return strings.TrimSpace(h[7:])
		}
	}
	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}
	protos := websocket.Subprotocols(r)
	for i := 0; i+1 < len(protos); i++ {
		if strings.EqualFold(protos[i], bearerProtocol) {
			return protos[i+1]
		}
	}
	return ""
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

// Serve upgrades the request to a WebSocket for an already authenticated
// user and runs the session until it closes. On upgrade failure the
// upgrader has already written an HTTP error.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, user *domain.User) error {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("%w: upgrade: %v", ErrTransport, err)
	}
	c := newWSConn(ws, h.cfg, h.log)
	go c.writePump()

	s, err := h.Attach(user, c)
	if err != nil {
		c.closeWith(websocket.ClosePolicyViolation, err.Error())
		return err
	}
	go c.readPump(h.ctx, s)
	return nil
}

// wsConn is the gorilla/websocket transport: one reader goroutine feeding
// the session and one writer goroutine draining a bounded queue.
type wsConn struct {
	ws   *websocket.Conn
	cfg  config.RealtimeConfig
	log  zerolog.Logger
	send chan []byte
	done chan struct{}

	closeOnce sync.Once
	closeCode int
	closeText string
}

func newWSConn(ws *websocket.Conn, cfg config.RealtimeConfig, log zerolog.Logger) *wsConn {
	buf := cfg.SendBuffer
	if buf <= 0 {
		buf = 64
	}
	return &wsConn{
		ws:   ws,
		cfg:  cfg,
		log:  log,
		send: make(chan []byte, buf),
		done: make(chan struct{}),
	}
}

// Send encodes ev and enqueues it without blocking.
func (c *wsConn) Send(ev presence.Event) error {
	select {
	case <-c.done:
		return presence.ErrConnClosed
	default:
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("%w: encode %s: %v", ErrTransport, ev.Type, err)
	}
	select {
	case c.send <- b:
		return nil
	case <-c.done:
		return presence.ErrConnClosed
	default:
		return presence.ErrSendBufferFull
	}
}

// Close stops accepting frames; the writer flushes what is queued, sends a
// close frame and closes the socket.
func (c *wsConn) Close() { c.closeWith(websocket.CloseNormalClosure, "") }

func (c *wsConn) closeWith(code int, text string) {
	c.closeOnce.Do(func() {
		c.closeCode, c.closeText = code, text
		close(c.done)
	})
}

func (c *wsConn) write(msg []byte) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, msg)
}

func (c *wsConn) writePump() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()
	for {
		select {
		case msg := <-c.send:
			if err := c.write(msg); err != nil {
				c.log.Debug().Err(err).Msg("ws write")
				c.Close()
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.WriteTimeout)); err != nil {
				c.Close()
				return
			}
		case <-c.done:
			c.flush()
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(c.closeCode, c.closeText),
				time.Now().Add(c.cfg.WriteTimeout))
			return
		}
	}
}

// flush writes whatever is still queued.
func (c *wsConn) flush() {
	for {
		select {
		case msg := <-c.send:
			if err := c.write(msg); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *wsConn) readPump(ctx context.Context, s *Session) {
	defer s.Close()
	c.ws.SetReadLimit(c.cfg.MaxFrameBytes)
	_ = c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout))
	})
	for {
		typ, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				s.log.Debug().Err(err).Msg("ws read")
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout))
		if typ != websocket.TextMessage {
			continue
		}
		s.Handle(ctx, data)
	}
}
