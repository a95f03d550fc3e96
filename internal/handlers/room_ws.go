// internal/handlers/room_ws.go
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/rag2504/tambola/internal/auth"
	"github.com/rag2504/tambola/internal/middleware"
	"github.com/rag2504/tambola/internal/room"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Subprotocol is the websocket subprotocol clients must request.
const Subprotocol = "tambola"

// Command is one frame sent by a client.
type Command struct {
	Type     string    `json:"type"`
	Token    string    `json:"token,omitempty"`
	RoomID   uuid.UUID `json:"room_id,omitempty"`
	Password string    `json:"password,omitempty"`
	Number   *int      `json:"number,omitempty"`
	TicketID uuid.UUID `json:"ticket_id,omitempty"`
	Prize    string    `json:"prize_type,omitempty"`
}

var (
	errNotAuthenticated = &room.Error{Kind: room.KindForbidden, Msg: "not authenticated"}
	errNotInRoom        = &room.Error{Kind: room.KindValidation, Msg: "join a room first"}
	errUnknownCommand   = &room.Error{Kind: room.KindValidation, Msg: "unknown command"}
	errBadFrame         = &room.Error{Kind: room.KindValidation, Msg: "invalid JSON format"}
)

// RoomWSHandler upgrades a request to the room websocket. A socket authenticates with the
// "authenticate" command (or an auth_token cookie), then joins one room at a time.
func RoomWSHandler(logger logrus.FieldLogger, reg *room.Registry, hub *Hub, origins []string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			Subprotocols:   []string{Subprotocol},
			OriginPatterns: origins,
		})
		if err != nil {
			logger.WithError(err).Warn("websocket accept error")
			return
		}
		defer c.Close(websocket.StatusInternalError, "handler finished")

		if c.Subprotocol() != Subprotocol {
			c.Close(BadSubprotocolError, "client must speak the tambola subprotocol")
			return
		}

		conn := &wsConn{
			id:      uuid.NewString(),
			reg:     reg,
			hub:     hub,
			limiter: rate.NewLimiter(rate.Every(100*time.Millisecond), 10),
		}
		conn.log = logger.WithField("conn", conn.id)
		conn.client = hub.Register(conn.id)
		middleware.LogWebSocketConnect(logger, r.RemoteAddr, r.URL.Path)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()
		go writePump(ctx, c, conn.client, conn.log)

		conn.client.Write(Message{Type: room.EventConnected, Payload: map[string]string{"conn_id": conn.id}})
		if cookie, err := r.Cookie("auth_token"); err == nil && cookie.Value != "" {
			if err := conn.authenticate(cookie.Value); err != nil {
				hub.Remove(conn.id)
				c.Close(InvalidAuthTokenError, "invalid auth token")
				return
			}
		}

		readErr := readPump(ctx, c, conn)

		reg.Disconnect(context.WithoutCancel(ctx), conn.id)
		hub.Remove(conn.id)
		middleware.LogWebSocketDisconnect(logger, r.RemoteAddr, r.URL.Path, readErr)
		c.Close(websocket.StatusNormalClosure, "")
	}
}

// wsConn is the per-socket command state.
type wsConn struct {
	id      string
	reg     *room.Registry
	hub     *Hub
	client  *Client
	log     logrus.FieldLogger
	limiter *rate.Limiter // paces commands per socket
}

// readPump reads commands until the socket closes. It returns the read error for abnormal
// closures only.
func readPump(ctx context.Context, c *websocket.Conn, conn *wsConn) error {
	for {
		typ, data, err := c.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway || ctx.Err() != nil {
				return nil
			}
			return err
		}
		if err := conn.limiter.Wait(ctx); err != nil {
			return nil
		}
		if typ != websocket.MessageText {
			conn.log.Warnf("ignoring non-text message type %d", typ)
			continue
		}

		var cmd Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			conn.reply(errBadFrame)
			continue
		}
		conn.log.WithField("type", cmd.Type).Debug("command received")
		if err := conn.handle(ctx, cmd); err != nil {
			conn.reply(err)
		}
	}
}

// writePump drains the client's queue onto the socket and pings it periodically. A client
// whose queue overflowed is closed with a policy violation so it reconnects and resyncs.
func writePump(ctx context.Context, c *websocket.Conn, client *Client, logger logrus.FieldLogger) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err := c.Ping(pingCtx)
			cancel()
			if err != nil {
				logger.WithError(err).Debug("ping failed")
				c.Close(websocket.StatusGoingAway, "ping timeout")
				return
			}
		case msg, ok := <-client.OutChan:
			if !ok {
				if client.Overflowed() {
					c.Close(websocket.StatusPolicyViolation, "client too slow")
				}
				return
			}
			data, err := json.Marshal(msg)
			if err != nil {
				logger.WithError(err).WithField("type", msg.Type).Warn("failed to marshal outgoing message")
				continue
			}
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err = c.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				logger.WithError(err).Warn("failed to write to websocket")
				return
			}
		}
	}
}

func (conn *wsConn) reply(err error) {
	kind, msg := describe(err)
	if kind == room.KindInternal {
		conn.log.WithError(err).Error("command failed")
	}
	conn.client.WriteError(kind.String(), msg)
}

func (conn *wsConn) authenticate(token string) error {
	playerID, err := auth.AuthenticateJWT(token)
	if err != nil {
		return &room.Error{Kind: room.KindForbidden, Msg: "invalid token"}
	}
	if prev, ok := conn.reg.PlayerFor(conn.id); ok && prev != playerID {
		return &room.Error{Kind: room.KindConflict, Msg: "socket already authenticated"}
	}
	conn.reg.Connect(conn.id, playerID)
	conn.hub.Authenticate(conn.id, playerID)
	conn.log = conn.log.WithField("player", playerID)
	conn.client.Write(Message{Type: room.EventAuthenticated, Payload: map[string]any{"player_id": playerID}})
	return nil
}

func (conn *wsConn) handle(ctx context.Context, cmd Command) error {
	switch cmd.Type {
	case "ping":
		conn.client.Write(Message{Type: "pong"})
		return nil
	case "authenticate":
		return conn.authenticate(cmd.Token)
	}

	playerID, ok := conn.reg.PlayerFor(conn.id)
	if !ok {
		return errNotAuthenticated
	}
	if cmd.Type == "join_room" {
		return conn.join(ctx, playerID, cmd)
	}

	roomID, ok := conn.reg.RoomFor(conn.id)
	if !ok {
		return errNotInRoom
	}
	s, err := conn.reg.Get(roomID)
	if err != nil {
		return err
	}

	switch cmd.Type {
	case "leave_room":
		if err := s.Leave(ctx, playerID); err != nil {
			return err
		}
		conn.reg.Unbind(conn.id)
		conn.hub.Unsubscribe(conn.id, room.RoomTopic(roomID))
		return nil
	case "call_number":
		_, err := s.CallNumber(ctx, playerID, cmd.Number)
		return err
	case "claim_prize":
		_, err := s.ClaimPrize(ctx, playerID, cmd.TicketID, cmd.Prize)
		return err
	case "start_game":
		return s.Start(ctx, playerID)
	case "pause_game":
		return s.Pause(ctx, playerID)
	case "resume_game":
		return s.Resume(ctx, playerID)
	case "end_game":
		return s.End(ctx, playerID)
	default:
		return errUnknownCommand
	}
}

// join moves the socket into cmd.RoomID. The room topic is subscribed only once the join
// is accepted; the joiner's own snapshot arrives on the player topic.
func (conn *wsConn) join(ctx context.Context, playerID uuid.UUID, cmd Command) error {
	s, err := conn.reg.Get(cmd.RoomID)
	if err != nil {
		return err
	}
	prev, hadRoom := conn.reg.RoomFor(conn.id)
	if _, err := s.Join(ctx, playerID, cmd.Password); err != nil {
		return err
	}
	if err := conn.reg.Bind(conn.id, s.ID); err != nil {
		return err
	}
	conn.hub.Subscribe(conn.id, room.RoomTopic(s.ID))
	if hadRoom && prev != s.ID {
		conn.hub.Unsubscribe(conn.id, room.RoomTopic(prev))
	}
	return nil
}

// describe returns the error kind and a message safe to show a client.
func describe(err error) (room.Kind, string) {
	kind := room.KindOf(err)
	if kind == room.KindInternal {
		return kind, "internal error"
	}
	return kind, err.Error()
}
