package gateway

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"cipherchat/storage"
)

const (
	// MaxFrameSize is the maximum accepted frame payload size (1 MB).
	MaxFrameSize = 1024 * 1024
)

// Inbound event types.
const (
	TypeHello           = "hello"
	TypeSendMessage     = "sendMessage"
	TypeEditMessage     = "editMessage"
	TypeGetConversation = "getConversation"
	TypeTyping          = "typing"
	TypePing            = "ping"
)

// Outbound event types. userConnected and userDisconnected are emitted by
// the presence registry and share the same wire framing.
const (
	TypeNewMessage    = "newMessage"
	TypeMessageEdited = "messageEdited"
	TypeUserTyping    = "userTyping"
	TypeConversation  = "conversation"
	TypeMessageAck    = "messageAck"
	TypeError         = "error"
	TypePong          = "pong"
)

// Error codes carried by error events.
const (
	CodeValidation          = "validation_error"
	CodeNotFound            = "not_found"
	CodePersistence         = "persistence_error"
	CodeSenderNotRegistered = "sender_not_registered"
	CodeUnknownType         = "unknown_type"
)

var (
	// ErrFrameTooLarge indicates payload exceeds MaxFrameSize.
	ErrFrameTooLarge = errors.New("gateway: frame exceeds max size")
	// ErrInvalidEventType indicates the event type is missing or unknown.
	ErrInvalidEventType = errors.New("gateway: invalid event type")
)

// Envelope identifies the protocol event type.
type Envelope struct {
	Type string `json:"type"`
}

// HelloEvent is the first frame a client sends after connecting. UserID
// identifies an upstream-authenticated user; PublicKey is the key the user
// wants to advertise for new incoming sends.
type HelloEvent struct {
	Type      string `json:"type"`
	UserID    int64  `json:"userId"`
	PublicKey string `json:"publicKey"`
}

// Validate reports whether the hello carries everything presence
// registration needs.
func (e HelloEvent) Validate() error {
	if e.UserID == 0 {
		return errors.New("userId is required")
	}
	if e.PublicKey == "" {
		return errors.New("publicKey is required")
	}
	return nil
}

// SendMessageEvent asks the relay to persist one ciphertext message and
// forward it to the receiver if online.
type SendMessageEvent struct {
	Type               string `json:"type"`
	MessageID          string `json:"messageId"`
	SenderID           int64  `json:"senderId"`
	ReceiverID         int64  `json:"receiverId"`
	EncryptedMessage   string `json:"encryptedMessage"`
	Nonce              string `json:"nonce"`
	SenderPublicKey    string `json:"senderPublicKey"`
	RecipientPublicKey string `json:"recipientPublicKey"`
}

// Validate checks the fixed required-field set for sendMessage.
func (e SendMessageEvent) Validate() error {
	if e.Nonce == "" {
		return errors.New("nonce is required")
	}
	if e.EncryptedMessage == "" {
		return errors.New("encryptedMessage is required")
	}
	if e.SenderID == 0 {
		return errors.New("senderId is required")
	}
	if e.ReceiverID == 0 {
		return errors.New("receiverId is required")
	}
	if e.SenderPublicKey == "" {
		return errors.New("senderPublicKey is required")
	}
	if e.RecipientPublicKey == "" {
		return errors.New("recipientPublicKey is required")
	}
	return nil
}

// EditMessageEvent replaces the ciphertext of a previously sent message.
type EditMessageEvent struct {
	Type               string `json:"type"`
	MessageID          string `json:"messageId"`
	SenderID           int64  `json:"senderId"`
	EncryptedMessage   string `json:"encryptedMessage"`
	Nonce              string `json:"nonce"`
	SenderPublicKey    string `json:"senderPublicKey"`
	RecipientPublicKey string `json:"recipientPublicKey"`
}

// Validate checks the fixed required-field set for editMessage.
func (e EditMessageEvent) Validate() error {
	if e.MessageID == "" {
		return errors.New("messageId is required")
	}
	if e.Nonce == "" {
		return errors.New("nonce is required")
	}
	if e.EncryptedMessage == "" {
		return errors.New("encryptedMessage is required")
	}
	if e.SenderID == 0 {
		return errors.New("senderId is required")
	}
	return nil
}

// GetConversationEvent requests the full message history between two users.
type GetConversationEvent struct {
	Type        string `json:"type"`
	UserID      int64  `json:"userId"`
	OtherUserID int64  `json:"otherUserId"`
}

// Validate checks both participants are named.
func (e GetConversationEvent) Validate() error {
	if e.UserID == 0 {
		return errors.New("userId is required")
	}
	if e.OtherUserID == 0 {
		return errors.New("otherUserId is required")
	}
	return nil
}

// TypingEvent signals that the sender is typing to the receiver.
type TypingEvent struct {
	Type       string `json:"type"`
	SenderID   int64  `json:"senderId"`
	ReceiverID int64  `json:"receiverId"`
}

// Validate checks both endpoints are named.
func (e TypingEvent) Validate() error {
	if e.SenderID == 0 {
		return errors.New("senderId is required")
	}
	if e.ReceiverID == 0 {
		return errors.New("receiverId is required")
	}
	return nil
}

// PingEvent is a client keep-alive probe.
type PingEvent struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

// PongEvent answers a ping.
type PongEvent struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

// MessageRecord is the wire representation of a persisted message.
//
// SenderPublicKey carries whichever key is correct for the event: the
// registry's advertised key in acknowledgments, the payload's key in
// newMessage pushes (decryption uses the key active at encryption time).
type MessageRecord struct {
	ID               string `json:"id"`
	SenderID         int64  `json:"senderId"`
	ReceiverID       int64  `json:"receiverId"`
	EncryptedMessage string `json:"encryptedMessage"`
	Nonce            string `json:"nonce"`
	SenderPublicKey  string `json:"senderPublicKey"`
	CreatedAt        int64  `json:"createdAt"`
	IsEdited         bool   `json:"isEdited"`
	IsRead           bool   `json:"isRead"`
}

// NewMessageEvent pushes a freshly persisted message to its receiver.
type NewMessageEvent struct {
	Type string `json:"type"`
	MessageRecord
}

// MessageEditedEvent pushes an edited message to the recipient and echoes it
// to the editor.
type MessageEditedEvent struct {
	Type string `json:"type"`
	MessageRecord
	RecipientPublicKey string `json:"recipientPublicKey"`
}

// MessageAckEvent confirms to the sender that their message was persisted,
// independent of whether delivery happened.
type MessageAckEvent struct {
	Type string `json:"type"`
	MessageRecord
}

// UserTypingEvent tells the receiver that a user is typing.
type UserTypingEvent struct {
	Type   string `json:"type"`
	UserID int64  `json:"userId"`
}

// ConversationEvent carries a full conversation history reply.
type ConversationEvent struct {
	Type        string          `json:"type"`
	UserID      int64           `json:"userId"`
	OtherUserID int64           `json:"otherUserId"`
	Messages    []MessageRecord `json:"messages"`
}

// ErrorEvent reports a request failure to the originating connection only.
type ErrorEvent struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// recordFromMessage converts a persisted row to its wire representation.
func recordFromMessage(message storage.Message) MessageRecord {
	return MessageRecord{
		ID:               message.MessageID,
		SenderID:         message.SenderID,
		ReceiverID:       message.ReceiverID,
		EncryptedMessage: message.EncryptedMessage,
		Nonce:            message.Nonce,
		SenderPublicKey:  message.SenderPublicKey,
		CreatedAt:        message.CreatedAt,
		IsEdited:         message.IsEdited,
		IsRead:           message.IsRead,
	}
}

func recordsFromMessages(messages []storage.Message) []MessageRecord {
	records := make([]MessageRecord, 0, len(messages))
	for _, message := range messages {
		records = append(records, recordFromMessage(message))
	}
	return records
}

// EncodeJSON marshals a protocol event to JSON.
func EncodeJSON(event any) ([]byte, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("marshal protocol event: %w", err)
	}
	return payload, nil
}

// DecodeEventType extracts the "type" field from a payload.
func DecodeEventType(payload []byte) (string, error) {
	var envelope Envelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return "", fmt.Errorf("decode envelope: %w", err)
	}
	if envelope.Type == "" {
		return "", ErrInvalidEventType
	}
	return envelope.Type, nil
}

// WriteFrame writes one length-prefixed frame.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameSize {
		return ErrFrameTooLarge
	}

	header := make([]byte, 4)
	binary.BigEndian.PutUint32(header, uint32(len(payload)))

	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("write frame length: %w", err)
	}
	if len(payload) == 0 {
		return nil
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("write frame payload: %w", err)
	}

	return nil
}

// ReadFrame reads one length-prefixed frame.
func ReadFrame(r io.Reader) ([]byte, error) {
	header := make([]byte, 4)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("read frame length: %w", err)
	}

	length := binary.BigEndian.Uint32(header)
	if length > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}
	if length == 0 {
		return []byte{}, nil
	}

	payload := make([]byte, int(length))
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("read frame payload: %w", err)
	}

	return payload, nil
}
