package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"log/slog"

	"mala-sight/livefeed"
	"mala-sight/models"
	"mala-sight/relay"
	"mala-sight/session"
	"mala-sight/utils"

	socketio "github.com/googollee/go-socket.io"
	"github.com/mdobak/go-xerrors"
)

const viewersRoom = "viewers"

// broadcaster is the part of the socket.io server the controller pushes to.
type broadcaster interface {
	BroadcastToRoom(namespace string, room, event string, args ...interface{}) bool
}

type publishPayload struct {
	Stream string `json:"stream"`
	models.LiveFrame
}

type socketController struct {
	controller *session.Controller
	hub        *relay.Hub
	streamID   string
}

func newSocketController(controller *session.Controller, hub *relay.Hub, streamID string) *socketController {
	return &socketController{controller: controller, hub: hub, streamID: streamID}
}

// handleSubscribe adds a browser to the viewers room and sends it the
// current session view.
func (c *socketController) handleSubscribe(socket socketio.Conn) {
	socket.Join(viewersRoom)
	socket.Emit("session", c.controller.View())
}

// handlePublishFrame accepts a frame from a camera client. The payload is
// {"stream": id, "frame": base64, "ts": millis}; stream defaults to the
// station's own stream.
func (c *socketController) handlePublishFrame(socket socketio.Conn, msg string) {
	logger := utils.GetLogger()
	ctx := context.Background()

	if msg == "" {
		socket.Emit("publishError", map[string]string{"message": "no frame received"})
		return
	}

	var payload publishPayload
	if err := json.Unmarshal([]byte(msg), &payload); err != nil {
		err := xerrors.New(err)
		logger.ErrorContext(ctx, "failed to parse frame payload", slog.Any("error", err))
		socket.Emit("publishError", map[string]string{"message": "invalid frame payload"})
		return
	}
	if payload.Stream == "" {
		payload.Stream = c.streamID
	}

	err := c.hub.Publish(livefeed.FeedPath(payload.Stream), payload.LiveFrame)
	switch {
	case errors.Is(err, relay.ErrThrottled):
		logger.DebugContext(ctx, "frame throttled", slog.String("socketID", socket.ID()))
	case err != nil:
		socket.Emit("publishError", map[string]string{"message": err.Error()})
	}
}

// broadcastSession pushes the session view to every subscribed browser.
func broadcastSession(server broadcaster, controller *session.Controller) {
	server.BroadcastToRoom("/", viewersRoom, "session", controller.View())
}

// broadcastFrame pushes a live frame to every subscribed browser.
func broadcastFrame(server broadcaster, frame models.LiveFrame) {
	server.BroadcastToRoom("/", viewersRoom, "liveFrame", frame)
}

func registerSocketHandlers(server *socketio.Server, c *socketController) {
	server.OnConnect("/", func(socket socketio.Conn) error {
		socket.SetContext("")
		log.Printf("CONNECTED: %s, remote addr: %s\n", socket.ID(), socket.RemoteAddr())
		return nil
	})

	server.OnEvent("/", "subscribe", func(socket socketio.Conn) {
		c.handleSubscribe(socket)
	})

	server.OnEvent("/", "publishFrame", func(socket socketio.Conn, msg string) {
		c.handlePublishFrame(socket, msg)
	})

	server.OnError("/", func(s socketio.Conn, e error) {
		log.Println("meet error:", e)
	})

	server.OnDisconnect("/", func(s socketio.Conn, reason string) {
		log.Printf("Socket disconnected - ID: %s, Reason: %s\n", s.ID(), reason)
	})
}
