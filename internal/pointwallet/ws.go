package pointwallet

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/twitchtv/twirp"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 54 * time.Second
	wsMaxMessage = maxCommandBody
	wsSendBuffer = 32
	wsBacklog    = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origins are already opened up by CORS; access is gated by the bearer token.
	CheckOrigin: func(*http.Request) bool { return true },
}

// wsRequest is a command sent by the host over the event socket.
type wsRequest struct {
	ID      string          `json:"id"`
	Command Command         `json:"command"`
	Args    json.RawMessage `json:"args,omitempty"`
}

type wsError struct {
	Code twirp.ErrorCode   `json:"code"`
	Msg  string            `json:"msg"`
	Meta map[string]string `json:"meta,omitempty"`
}

// wsMessage carries either a pushed event or the reply to a wsRequest.
type wsMessage struct {
	ID     string   `json:"id,omitempty"`
	Event  *Event   `json:"event,omitempty"`
	Result any      `json:"result,omitempty"`
	Error  *wsError `json:"error,omitempty"`
}

type wsClient struct {
	conn     *websocket.Conn
	send     chan []byte
	requests chan wsRequest
	done     chan struct{}
	once     sync.Once
}

func (c *wsClient) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

func (c *wsClient) queue(m wsMessage) {
	b, err := json.Marshal(m)
	if err != nil {
		slog.Error("websocket message encode failed", "error", err)
		return
	}
	select {
	case c.send <- b:
	case <-c.done:
	}
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	client := &wsClient{
		conn:     conn,
		send:     make(chan []byte, wsSendBuffer),
		requests: make(chan wsRequest, wsBacklog),
		done:     make(chan struct{}),
	}
	sub := s.hub.Subscribe()
	slog.Info("event stream connected", "remote", r.RemoteAddr)

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer func() {
		cancel()
		sub.Close()
		client.close()
		slog.Info("event stream closed", "remote", r.RemoteAddr)
	}()

	go client.writePump(sub)
	go client.commandLoop(func(req wsRequest) {
		out, err := s.surface.Dispatch(ctx, req.Command, req.Args)
		if err != nil {
			logCommandError(req.Command, err)
			te := toTwirpError(err)
			client.queue(wsMessage{ID: req.ID, Error: &wsError{Code: te.Code(), Msg: te.Msg(), Meta: te.MetaMap()}})
			return
		}
		client.queue(wsMessage{ID: req.ID, Result: out})
	})
	client.readPump(func() bool { return s.limiter.allowRequest(r) })
}

// commandLoop dispatches one command at a time in arrival order, so confirms
// and rejects on a socket line up with the sends before them.
func (c *wsClient) commandLoop(handle func(wsRequest)) {
	for {
		select {
		case <-c.done:
			return
		case req := <-c.requests:
			handle(req)
		}
	}
}

func (c *wsClient) writePump(sub *Subscription) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		var payload []byte
		select {
		case <-c.done:
			return
		case e, ok := <-sub.C:
			if !ok {
				return
			}
			b, err := json.Marshal(wsMessage{Event: &e})
			if err != nil {
				slog.Error("event encode failed", "type", e.Type, "error", err)
				continue
			}
			payload = b
		case b := <-c.send:
			payload = b
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
			continue
		}

		_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			slog.Debug("websocket write failed", "error", err)
			return
		}
	}
}

// readPump only decodes and enqueues, so pongs keep the connection alive
// while a transfer waits on the backend.
func (c *wsClient) readPump(allow func() bool) {
	defer c.close()

	c.conn.SetReadLimit(wsMaxMessage)
	_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("websocket closed unexpectedly", "error", err)
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))

		var req wsRequest
		if err := json.Unmarshal(raw, &req); err != nil || req.Command == "" {
			c.queue(wsMessage{ID: req.ID, Error: &wsError{Code: twirp.Malformed, Msg: "expected {id, command, args}"}})
			continue
		}
		if !allow() {
			c.queue(wsMessage{ID: req.ID, Error: &wsError{Code: twirp.ResourceExhausted, Msg: "too many requests"}})
			continue
		}
		slog.Debug("command received", "command", req.Command, "transport", "websocket")

		select {
		case c.requests <- req:
		default:
			c.queue(wsMessage{ID: req.ID, Error: &wsError{Code: twirp.ResourceExhausted, Msg: "command backlog full"}})
		}
	}
}
