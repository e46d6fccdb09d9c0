// Package realtime implements the live messaging core: authenticated
// sessions, the delivery router with receipts, the typing relay, and the
// hub that ties sessions to the presence registry and a WebSocket
// transport.
//
// Frames are JSON text messages shaped {"type": "<event>", "data": {...}}.
package realtime

import (
	"encoding/json"
	"time"

	"github.com/tbourn/go-dm-backend/internal/domain"
	"github.com/tbourn/go-dm-backend/internal/presence"
)

// Client → server event types.
const (
	EventSendMessage          = "send-message"
	EventSetTyping            = "set-typing"
	EventMarkRead             = "mark-read"
	EventMarkConversationRead = "mark-conversation-read"
	EventPing                 = "ping"
)

// Server → client event types.
const (
	EventMessageReceived       = "message-received"
	EventMessageSentAck        = "message-sent-ack"
	EventMessageDelivered      = "message-delivered"
	EventMessageReadUpdate     = "message-read-update"
	EventConversationRead      = "conversation-read"
	EventTypingState           = "typing-state"
	EventPresenceChange        = "presence-change"
	EventMessageError          = "message-error"
	EventMessageRequestCreated = "message-request-created"
	EventMessageRequestRecv    = "message-request-received"
	EventMessageRequestUpdated = "message-request-updated"
	EventSessionReplaced       = "session-replaced"
	EventError                 = "error"
	EventPong                  = "pong"
)

// inbound is a decoded client frame; Data is parsed per Type.
type inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// SendPayload is the data of send-message.
type SendPayload struct {
	RecipientID string  `json:"recipient_id"`
	Content     string  `json:"content"`
	MessageType string  `json:"message_type,omitempty"`
	FileURL     string  `json:"file_url,omitempty"`
	FileName    string  `json:"file_name,omitempty"`
	FileSize    int64   `json:"file_size,omitempty"`
	ReplyToID   *string `json:"reply_to_id,omitempty"`
	ClientID    string  `json:"client_id,omitempty"`
}

type typingPayload struct {
	RecipientID string `json:"recipient_id"`
	IsTyping    bool   `json:"is_typing"`
}

type markReadPayload struct {
	MessageID string `json:"message_id"`
}

type markConversationReadPayload struct {
	PeerID string `json:"peer_id"`
}

// SentAck confirms a send to its sender.
type SentAck struct {
	ClientID string             `json:"client_id,omitempty"`
	Message  domain.MessageView `json:"message"`
}

// DeliveredReceipt tells the sender the recipient received a message.
type DeliveredReceipt struct {
	MessageID   string    `json:"message_id"`
	DeliveredAt time.Time `json:"delivered_at"`
}

// ReadReceipt tells the sender the recipient read a message.
type ReadReceipt struct {
	MessageID string    `json:"message_id"`
	ReadAt    time.Time `json:"read_at"`
}

// ConversationReadReceipt tells a peer that reader read everything they sent.
type ConversationReadReceipt struct {
	ReaderID string    `json:"reader_id"`
	ReadAt   time.Time `json:"read_at"`
	Count    int64     `json:"count"`
}

// TypingState relays a typing indicator.
type TypingState struct {
	FromUser string `json:"from_user"`
	Username string `json:"username"`
	IsTyping bool   `json:"is_typing"`
}

// PresenceChange announces a user going online or offline.
type PresenceChange struct {
	UserID   string     `json:"user_id"`
	Status   string     `json:"status"`
	LastSeen *time.Time `json:"last_seen,omitempty"`
}

// MessageError reports a failed send to its sender.
type MessageError struct {
	ClientID string `json:"client_id,omitempty"`
	Code     string `json:"code"`
	Message  string `json:"message"`
}

// ErrorPayload reports a failed non-send event.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// RequestEvent carries a message request.
type RequestEvent struct {
	ClientID string                 `json:"client_id,omitempty"`
	Request  *domain.MessageRequest `json:"request"`
}

func event(typ string, data any) presence.Event {
	return presence.Event{Type: typ, Data: data}
}

func messageError(clientID string, err error) presence.Event {
	return event(EventMessageError, MessageError{ClientID: clientID, Code: errorCode(err), Message: err.Error()})
}

func errorEvent(code string, err error) presence.Event {
	return event(EventError, ErrorPayload{Code: code, Message: err.Error()})
}
