package storage

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

const messageColumns = `
	message_id,
	sender_id,
	receiver_id,
	encrypted_message,
	nonce,
	sender_public_key,
	created_at,
	is_edited,
	is_read`

// SaveMessage inserts a new message row and returns the persisted record.
//
// MessageID and CreatedAt are filled in when the caller left them empty;
// SenderPublicKey must already be the key the sender currently advertises.
func (s *Store) SaveMessage(message Message) (*Message, error) {
	if message.SenderID == 0 {
		return nil, errors.New("sender_id is required")
	}
	if message.ReceiverID == 0 {
		return nil, errors.New("receiver_id is required")
	}
	if message.EncryptedMessage == "" {
		return nil, errors.New("encrypted_message is required")
	}
	if message.Nonce == "" {
		return nil, errors.New("nonce is required")
	}
	if message.SenderPublicKey == "" {
		return nil, errors.New("sender_public_key is required")
	}
	if message.MessageID == "" {
		message.MessageID = uuid.NewString()
	}
	if message.CreatedAt == 0 {
		message.CreatedAt = nowUnixMilli()
	}

	_, err := s.db.Exec(
		`INSERT INTO messages (
			message_id,
			sender_id,
			receiver_id,
			encrypted_message,
			nonce,
			sender_public_key,
			created_at,
			is_edited,
			is_read
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		message.MessageID,
		message.SenderID,
		message.ReceiverID,
		message.EncryptedMessage,
		message.Nonce,
		message.SenderPublicKey,
		message.CreatedAt,
		boolToInt(message.IsEdited),
		boolToInt(message.IsRead),
	)
	if err != nil {
		return nil, fmt.Errorf("insert message %q: %w", message.MessageID, err)
	}

	return &message, nil
}

// EditMessage replaces the ciphertext and nonce of a message owned by
// senderID and marks it edited. The sender scope lives in the UPDATE
// predicate itself: editing a foreign or unknown message returns
// ErrNotFound and changes nothing. CreatedAt is never touched.
func (s *Store) EditMessage(messageID string, senderID int64, encryptedMessage, nonce string) (*Message, error) {
	if messageID == "" {
		return nil, errors.New("message_id is required")
	}
	if encryptedMessage == "" {
		return nil, errors.New("encrypted_message is required")
	}
	if nonce == "" {
		return nil, errors.New("nonce is required")
	}

	res, err := s.db.Exec(
		`UPDATE messages
		SET encrypted_message = ?, nonce = ?, is_edited = 1
		WHERE message_id = ? AND sender_id = ?`,
		encryptedMessage,
		nonce,
		messageID,
		senderID,
	)
	if err != nil {
		return nil, fmt.Errorf("edit message %q: %w", messageID, err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("read rows affected for edit %q: %w", messageID, err)
	}
	if rowsAffected == 0 {
		return nil, ErrNotFound
	}

	return s.GetMessageByID(messageID)
}

// DeleteMessage removes a message owned by senderID. Deleting a nonexistent
// or foreign message is a silent no-op.
func (s *Store) DeleteMessage(messageID string, senderID int64) error {
	if messageID == "" {
		return errors.New("message_id is required")
	}

	if _, err := s.db.Exec(
		`DELETE FROM messages WHERE message_id = ? AND sender_id = ?`,
		messageID,
		senderID,
	); err != nil {
		return fmt.Errorf("delete message %q: %w", messageID, err)
	}

	return nil
}

// GetMessageByID fetches one message by message ID.
func (s *Store) GetMessageByID(messageID string) (*Message, error) {
	if messageID == "" {
		return nil, errors.New("message_id is required")
	}

	row := s.db.QueryRow(
		`SELECT`+messageColumns+`
		FROM messages
		WHERE message_id = ?`,
		messageID,
	)

	message, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get message %q: %w", messageID, err)
	}
	return message, nil
}

// GetConversation returns every message exchanged between two users in both
// directions, ordered by creation time ascending. Ties break on insertion
// order.
func (s *Store) GetConversation(userA, userB int64) ([]Message, error) {
	rows, err := s.db.Query(
		`SELECT`+messageColumns+`
		FROM messages
		WHERE (sender_id = ? AND receiver_id = ?)
		   OR (sender_id = ? AND receiver_id = ?)
		ORDER BY created_at ASC, rowid ASC`,
		userA, userB,
		userB, userA,
	)
	if err != nil {
		return nil, fmt.Errorf("get conversation %d/%d: %w", userA, userB, err)
	}
	defer rows.Close()

	return collectMessages(rows)
}

// RecentPartners returns, for every distinct user userID has exchanged
// messages with, that partner's most recent message, ordered newest first.
func (s *Store) RecentPartners(userID int64) ([]PartnerSummary, error) {
	rows, err := s.db.Query(
		`SELECT`+messageColumns+`
		FROM messages
		WHERE sender_id = ? OR receiver_id = ?
		ORDER BY created_at DESC, rowid DESC`,
		userID, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("get recent partners for user %d: %w", userID, err)
	}
	defer rows.Close()

	messages, err := collectMessages(rows)
	if err != nil {
		return nil, err
	}

	// Rows arrive newest first, so the first message seen per partner is
	// that partner's latest.
	seen := make(map[int64]bool)
	summaries := make([]PartnerSummary, 0)
	for _, message := range messages {
		partnerID := message.SenderID
		if partnerID == userID {
			partnerID = message.ReceiverID
		}
		if seen[partnerID] {
			continue
		}
		seen[partnerID] = true
		summaries = append(summaries, PartnerSummary{
			PartnerID:     partnerID,
			LastMessage:   message,
			LastMessageAt: message.CreatedAt,
		})
	}

	return summaries, nil
}

// SearchMessages returns messages in conversations involving userID whose
// stored message body contains query (case-insensitive substring), newest
// first. A non-nil partnerID narrows the search to that one conversation.
//
// The body column holds ciphertext, so matches are only meaningful for
// deployments that store a searchable representation there.
func (s *Store) SearchMessages(userID int64, query string, partnerID *int64) ([]Message, error) {
	if query == "" {
		return nil, errors.New("query is required")
	}

	sqlQuery := `SELECT` + messageColumns + `
		FROM messages
		WHERE instr(lower(encrypted_message), lower(?)) > 0
		  AND (sender_id = ? OR receiver_id = ?)`
	args := []any{query, userID, userID}

	if partnerID != nil {
		sqlQuery += `
		  AND (sender_id = ? OR receiver_id = ?)`
		args = append(args, *partnerID, *partnerID)
	}

	sqlQuery += `
		ORDER BY created_at DESC, rowid DESC`

	rows, err := s.db.Query(sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("search messages for user %d: %w", userID, err)
	}
	defer rows.Close()

	return collectMessages(rows)
}

// MarkRead flags every unread message sent by partnerID to userID as read
// and returns the number of rows updated. Calling it again is a no-op.
func (s *Store) MarkRead(userID, partnerID int64) (int64, error) {
	res, err := s.db.Exec(
		`UPDATE messages
		SET is_read = 1
		WHERE sender_id = ? AND receiver_id = ? AND is_read = 0`,
		partnerID,
		userID,
	)
	if err != nil {
		return 0, fmt.Errorf("mark read for user %d from %d: %w", userID, partnerID, err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("read rows affected for mark read: %w", err)
	}

	return rowsAffected, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(row scanner) (*Message, error) {
	var (
		message  Message
		isEdited int
		isRead   int
	)

	if err := row.Scan(
		&message.MessageID,
		&message.SenderID,
		&message.ReceiverID,
		&message.EncryptedMessage,
		&message.Nonce,
		&message.SenderPublicKey,
		&message.CreatedAt,
		&isEdited,
		&isRead,
	); err != nil {
		return nil, err
	}

	message.IsEdited = isEdited == 1
	message.IsRead = isRead == 1

	return &message, nil
}

func collectMessages(rows *sql.Rows) ([]Message, error) {
	messages := make([]Message, 0)
	for rows.Next() {
		message, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		messages = append(messages, *message)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message rows: %w", err)
	}

	return messages, nil
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}
