package phonenfc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/dotside-studios/davi-nfc-session/protocol"
	"github.com/dotside-studios/davi-nfc-session/server"
)

// Register implements server.ServerHandler.
// Phone connections are taken over before client message routing.
func (b *Bridge) Register(s server.HandlerServer) {
	s.HandleWebSocket(IsDeviceConnection, func(w http.ResponseWriter, r *http.Request) bool {
		b.HandleWebSocket(w, r)
		return true
	})
	s.StartLifecycle(func(ctx context.Context) {
		go func() {
			<-ctx.Done()
			b.Close()
		}()
	})
}

// HandleWebSocket serves one phone connection until it closes or goes quiet.
func (b *Bridge) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	b.logger.Info("phone connected", "remote", r.RemoteAddr)

	p, err := b.register(conn)
	if err != nil {
		b.logger.Warn("phone registration failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	defer func() {
		b.detach(p)
		b.logger.Info("phone disconnected", "device", p.name, "id", p.id)
	}()

	for {
		conn.SetReadDeadline(time.Now().Add(b.cfg.HeartbeatTimeout))
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				b.logger.Warn("phone read failed", "device", p.name, "error", err)
			}
			return
		}
		p.touch()

		if messageType != websocket.TextMessage {
			continue
		}

		var req protocol.WebSocketRequest
		if err := json.Unmarshal(message, &req); err != nil {
			p.sendError("", ErrCodeParseError, "Invalid message format")
			continue
		}

		if err := b.handleMessage(p, req); err != nil {
			b.logger.Warn("phone message failed", "type", req.Type, "error", err)
		}
	}
}

// register waits for registerDevice and claims the bridge.
func (b *Bridge) register(conn *websocket.Conn) (*phone, error) {
	conn.SetReadDeadline(time.Now().Add(RegisterTimeout))

	messageType, message, err := conn.ReadMessage()
	if err != nil {
		writeError(conn, "", ErrCodeReadError, "Failed to read message")
		return nil, fmt.Errorf("read registration: %w", err)
	}
	if messageType != websocket.TextMessage {
		writeError(conn, "", ErrCodeInvalidType, "Expected text message")
		return nil, fmt.Errorf("expected text message, got type %d", messageType)
	}

	var req protocol.WebSocketRequest
	if err := json.Unmarshal(message, &req); err != nil {
		writeError(conn, "", ErrCodeParseError, "Invalid message format")
		return nil, fmt.Errorf("parse registration: %w", err)
	}
	if req.Type != MessageTypeRegisterDevice {
		writeError(conn, req.ID, ErrCodeInvalidType, fmt.Sprintf("Expected '%s' message", MessageTypeRegisterDevice))
		return nil, fmt.Errorf("expected %s, got %s", MessageTypeRegisterDevice, req.Type)
	}

	var regReq DeviceRegistrationRequest
	if err := req.DecodePayload(&regReq); err != nil {
		writeError(conn, req.ID, ErrCodeInvalidRequest, "Invalid registration request format")
		return nil, err
	}
	if regReq.DeviceName == "" {
		writeError(conn, req.ID, ErrCodeInvalidRequest, "Device name is required")
		return nil, fmt.Errorf("device name is required")
	}

	p := newPhone(uuid.NewString(), conn, regReq)
	if err := b.attach(p); err != nil {
		writeError(conn, req.ID, ErrCodeDeviceBusy, err.Error())
		return nil, err
	}

	err = p.send(MessageTypeRegistered, req.ID, DeviceRegistrationResponse{
		DeviceID:            p.id,
		ServerVersion:       b.cfg.ServerVersion,
		HeartbeatIntervalMs: HeartbeatInterval.Milliseconds(),
	})
	if err == nil {
		err = b.replay(p)
	}
	if err != nil {
		b.detach(p)
		return nil, fmt.Errorf("send registration response: %w", err)
	}

	b.logger.Info("phone registered",
		"device", p.name,
		"id", p.id,
		"present", regReq.NFC.Present,
		"enabled", regReq.NFC.Enabled)
	return p, nil
}

func (b *Bridge) handleMessage(p *phone, req protocol.WebSocketRequest) error {
	switch req.Type {
	case MessageTypeDeviceHeartbeat:
		return nil

	case MessageTypeNFCState:
		var state NFCState
		if err := req.DecodePayload(&state); err != nil {
			p.sendError(req.ID, ErrCodeInvalidRequest, "Invalid nfc state")
			return err
		}
		p.setNFCState(state)
		b.logger.Info("phone nfc state changed",
			"present", state.Present,
			"enabled", state.Enabled,
			"push", state.PushSupported)
		return nil

	case MessageTypeTagDiscovered:
		var data TagDiscoveredData
		if err := req.DecodePayload(&data); err != nil {
			p.sendError(req.ID, ErrCodeInvalidRequest, "Invalid tag data format")
			return err
		}
		if err := b.dispatch(p, data); err != nil {
			p.sendError(req.ID, ErrCodeInvalidTag, err.Error())
			return err
		}
		return nil

	case MessageTypeCommandResult:
		var result CommandResult
		if err := req.DecodePayload(&result); err != nil {
			p.sendError(req.ID, ErrCodeInvalidRequest, "Invalid command result")
			return err
		}
		if !b.resolve(req.ID, result) {
			p.sendError(req.ID, ErrCodeUnknownRequestID, "No pending command with this id")
			return fmt.Errorf("unknown request id %q", req.ID)
		}
		return nil

	default:
		p.sendError(req.ID, ErrCodeUnknownType, fmt.Sprintf("Unknown message type: %s", req.Type))
		return fmt.Errorf("unknown message type %q", req.Type)
	}
}

// writeError reports a failure on a connection that has not registered.
func writeError(conn *websocket.Conn, requestID, code, message string) {
	conn.SetWriteDeadline(time.Now().Add(WriteTimeout))
	conn.WriteJSON(protocol.WebSocketResponse{
		ID:      requestID,
		Type:    MessageTypeError,
		Success: false,
		Error:   message,
		Code:    code,
	})
}

// IsDeviceConnection determines if a request is from a phone.
func IsDeviceConnection(r *http.Request) bool {
	if r.Header.Get("X-Device-Mode") == "true" {
		return true
	}
	return r.URL.Query().Get("mode") == "device"
}
