package storage

import (
	"errors"
	"time"
)

var (
	// ErrNotFound indicates a requested row does not exist or is not owned
	// by the caller.
	ErrNotFound = errors.New("storage: record not found")
)

// Message is the SQLite representation of one relayed ciphertext message.
//
// SenderPublicKey is a snapshot of the key the sender advertised when the
// message was stored, not necessarily the sender's current key.
type Message struct {
	MessageID        string
	SenderID         int64
	ReceiverID       int64
	EncryptedMessage string
	Nonce            string
	SenderPublicKey  string
	CreatedAt        int64
	IsEdited         bool
	IsRead           bool
}

// PartnerSummary describes the most recent exchange with one conversation
// partner.
type PartnerSummary struct {
	PartnerID     int64
	LastMessage   Message
	LastMessageAt int64
}

func nowUnixMilli() int64 {
	return time.Now().UnixMilli()
}
