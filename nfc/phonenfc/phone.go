package phonenfc

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dotside-studios/davi-nfc-session/protocol"
)

// phone is the connected companion device.
type phone struct {
	id         string
	name       string
	platform   string
	appVersion string
	conn       *websocket.Conn
	writeMu    sync.Mutex // gorilla connections allow one concurrent writer

	// writeTimeout bounds each write so a stalled phone cannot hold callers
	writeTimeout time.Duration

	mu       sync.RWMutex
	state    NFCState
	lastSeen time.Time
}

func newPhone(id string, conn *websocket.Conn, req DeviceRegistrationRequest) *phone {
	return &phone{
		id:         id,
		name:       req.DeviceName,
		platform:   req.Platform,
		appVersion: req.AppVersion,
		conn:       conn,
		state:      req.NFC,

		writeTimeout: WriteTimeout,
		lastSeen:     time.Now(),
	}
}

func (p *phone) send(msgType, requestID string, payload any) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	p.conn.SetWriteDeadline(time.Now().Add(p.writeTimeout))
	return p.conn.WriteJSON(protocol.WebSocketMessage{
		ID:      requestID,
		Type:    msgType,
		Payload: payload,
	})
}

func (p *phone) sendError(requestID, code, message string) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	p.conn.SetWriteDeadline(time.Now().Add(p.writeTimeout))
	return p.conn.WriteJSON(protocol.WebSocketResponse{
		ID:      requestID,
		Type:    MessageTypeError,
		Success: false,
		Error:   message,
		Code:    code,
	})
}

func (p *phone) nfcState() NFCState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

func (p *phone) setNFCState(state NFCState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = state
}

func (p *phone) touch() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastSeen = time.Now()
}

// PhoneInfo describes the connected phone.
type PhoneInfo struct {
	DeviceID   string    `json:"deviceId"`
	DeviceName string    `json:"deviceName"`
	Platform   string    `json:"platform"`
	AppVersion string    `json:"appVersion"`
	NFC        NFCState  `json:"nfc"`
	LastSeen   time.Time `json:"lastSeen"`
}

func (p *phone) info() PhoneInfo {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return PhoneInfo{
		DeviceID:   p.id,
		DeviceName: p.name,
		Platform:   p.platform,
		AppVersion: p.appVersion,
		NFC:        p.state,
		LastSeen:   p.lastSeen,
	}
}
