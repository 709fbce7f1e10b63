// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/relabs-tech/rehab_telemetry/internal/logger"
	"github.com/relabs-tech/rehab_telemetry/internal/muscle"
	"github.com/relabs-tech/rehab_telemetry/internal/orientation"
	"github.com/relabs-tech/rehab_telemetry/internal/telemetry"
)

const wsWriteWait = 2 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // the rehab UI is served from another origin
	},
}

// WSMessage is a control message sent by the client during a session.
type WSMessage struct {
	Action  string `json:"action"` // reset, calibrate_imu, calibrate_muscle
	Segment string `json:"segment,omitempty"`
	Mode    string `json:"mode,omitempty"`
}

// WSResponse answers a control message.
type WSResponse struct {
	Type    string `json:"type"` // ack, error
	Action  string `json:"action,omitempty"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// wsConn serialises writes from the telemetry loop and the control loop.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsConn) write(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return c.conn.WriteJSON(v)
}

func (c *wsConn) Send(_ context.Context, f telemetry.Frame) error {
	return c.write(f)
}

// handleWS streams frames for one session. A new connection replaces any
// running session; closing the socket ends it.
func (h *Handler) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn(r.Context(), "ws: upgrade error", logger.Error(err))
		return
	}
	defer conn.Close()

	ctx := r.Context()
	ws := &wsConn{conn: conn}
	sess := h.svc.StartSession(ctx, ws)
	defer sess.Stop()

	// unblock ReadJSON once the loop ends on its own
	go func() {
		<-sess.Done()
		_ = conn.Close()
	}()

	for {
		var msg WSMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Warn(ctx, "ws: read error", logger.String("session", sess.ID), logger.Error(err))
			}
			return
		}
		resp := h.control(ctx, msg)
		if err := ws.write(resp); err != nil {
			h.log.Warn(ctx, "ws: reply failed", logger.Error(err))
			return
		}
	}
}

func (h *Handler) control(ctx context.Context, msg WSMessage) WSResponse {
	fail := func(err error) WSResponse {
		return WSResponse{Type: "error", Action: msg.Action, Message: err.Error()}
	}

	switch msg.Action {
	case "reset":
		h.svc.ResetSession(ctx)
		return WSResponse{Type: "ack", Action: msg.Action}

	case "calibrate_imu":
		var segs []orientation.Segment
		if msg.Segment != "" {
			seg, err := orientation.ParseSegment(msg.Segment)
			if err != nil {
				return fail(err)
			}
			segs = append(segs, seg)
		}
		captured, err := h.svc.CalibrateIMU(ctx, segs...)
		if err != nil {
			return fail(err)
		}
		names := make([]string, 0, len(captured))
		for _, seg := range captured {
			names = append(names, seg.String())
		}
		return WSResponse{Type: "ack", Action: msg.Action, Data: names}

	case "calibrate_muscle":
		ref, err := h.svc.CalibrateMuscle(ctx, msg.Mode)
		if errors.Is(err, muscle.ErrInvalidMode) {
			return fail(muscle.ErrInvalidMode)
		}
		if err != nil {
			return fail(err)
		}
		return WSResponse{Type: "ack", Action: msg.Action, Data: ref}

	default:
		return WSResponse{Type: "error", Action: msg.Action, Message: "unknown action"}
	}
}
