package app

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"devconnect/api/internal/collab"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
	wsSendBuffer = 32
)

// wsInbound is a message sent by a connected editor.
type wsInbound struct {
	Type    string       `json:"type"`
	Patches []PatchInput `json:"patches,omitempty"`
	Content *string      `json:"content,omitempty"`
	Line    int          `json:"line"`
	Column  int          `json:"column"`
}

// wsOutbound is either a reply to the connected editor or a session event
// produced by someone else.
type wsOutbound struct {
	Type     string               `json:"type"`
	Snapshot *collab.Snapshot     `json:"snapshot,omitempty"`
	Result   *collab.ChangeResult `json:"result,omitempty"`
	Event    *collab.Event        `json:"event,omitempty"`
	Code     string               `json:"code,omitempty"`
	Error    string               `json:"error,omitempty"`
}

type wsClient struct {
	conn      *websocket.Conn
	service   *Service
	sessionID string
	userID    string
	send      chan wsOutbound
}

func (s *HTTPServer) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return s.corsOrigin == "*" || origin == "" || origin == s.corsOrigin
	}}
}

// handleWebSocket streams the events of one session to a participant and
// accepts edits and cursor moves over the same connection.
func (s *HTTPServer) handleWebSocket(w http.ResponseWriter, r *http.Request, session Session, sessionID string) {
	snapshot, err := s.service.GetSession(r.Context(), sessionID, session.UserID)
	if err != nil {
		s.fail(w, err)
		return
	}
	if !snapshot.IsActive {
		s.fail(w, collab.ErrSessionEnded)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub, err := s.service.Subscribe(ctx, sessionID)
	if err != nil {
		s.fail(w, err)
		return
	}
	defer sub.Close()

	conn, err := s.upgrader().Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade error: %v (origin=%s)", err, r.Header.Get("Origin"))
		return
	}
	defer conn.Close()

	client := &wsClient{
		conn:      conn,
		service:   s.service,
		sessionID: sessionID,
		userID:    session.UserID,
		send:      make(chan wsOutbound, wsSendBuffer),
	}
	client.enqueue(wsOutbound{Type: "snapshot", Snapshot: &snapshot})

	done := make(chan struct{})
	go func() {
		defer close(done)
		client.writeLoop(ctx, sub.Events)
		_ = conn.Close()
	}()

	client.readLoop(ctx)
	cancel()
	<-done
}

func (c *wsClient) enqueue(msg wsOutbound) {
	select {
	case c.send <- msg:
	default:
		log.Printf("websocket: send queue full, dropping %s for user=%s session=%s", msg.Type, c.userID, c.sessionID)
	}
}

func (c *wsClient) readLoop(ctx context.Context) {
	c.conn.SetReadLimit(1 << 20)
	_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		var msg wsInbound
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("websocket read error (user=%s, session=%s): %v", c.userID, c.sessionID, err)
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))

		switch msg.Type {
		case "heartbeat":
			c.enqueue(wsOutbound{Type: "heartbeat"})

		case "submit_change":
			result, err := c.service.SubmitChange(ctx, c.sessionID, c.userID, ChangeInput{Patches: msg.Patches, Content: msg.Content})
			if err != nil {
				c.enqueueError(err)
				continue
			}
			c.enqueue(wsOutbound{Type: "change_applied", Result: &result})

		case "cursor":
			if err := c.service.UpdateCursor(ctx, c.sessionID, c.userID, msg.Line, msg.Column); err != nil {
				c.enqueueError(err)
			}

		default:
			c.enqueue(wsOutbound{Type: "error", Code: "UNKNOWN_MESSAGE", Error: "Unknown message type"})
		}
	}
}

func (c *wsClient) enqueueError(err error) {
	_, code, message, _ := mapError(err)
	c.enqueue(wsOutbound{Type: "error", Code: code, Error: message})
}

// writeLoop is the only goroutine writing to the connection.
func (c *wsClient) writeLoop(ctx context.Context, events <-chan collab.Event) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(wsWriteWait))
			return

		case msg := <-c.send:
			if !c.write(msg) {
				return
			}

		case event, ok := <-events:
			if !ok {
				return
			}
			if event.UserID == c.userID {
				continue
			}
			if !c.write(wsOutbound{Type: string(event.Type), Event: &event}) {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *wsClient) write(msg wsOutbound) bool {
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := c.conn.WriteJSON(msg); err != nil {
		log.Printf("websocket write error (user=%s, session=%s): %v", c.userID, c.sessionID, err)
		return false
	}
	return true
}
