package storage

import (
	"errors"
	"testing"
)

func TestSaveMessageFillsDefaultsAndRoundTrips(t *testing.T) {
	store := newTestStore(t)

	saved := mustSaveMessage(t, store, Message{
		SenderID:         1,
		ReceiverID:       2,
		EncryptedMessage: "abc",
		Nonce:            "n1",
		SenderPublicKey:  "pk-sender",
	})

	if saved.MessageID == "" {
		t.Fatalf("expected server-generated message ID")
	}
	if saved.CreatedAt == 0 {
		t.Fatalf("expected server-assigned creation timestamp")
	}
	if saved.IsRead || saved.IsEdited {
		t.Fatalf("expected fresh message to be unread and unedited")
	}

	conversation, err := store.GetConversation(1, 2)
	if err != nil {
		t.Fatalf("GetConversation failed: %v", err)
	}
	if len(conversation) != 1 {
		t.Fatalf("expected exactly 1 message, got %d", len(conversation))
	}
	if conversation[0].MessageID != saved.MessageID {
		t.Fatalf("expected message %q, got %q", saved.MessageID, conversation[0].MessageID)
	}
}

func TestGetConversationOrdersBothDirectionsAscending(t *testing.T) {
	store := newTestStore(t)
	base := nowUnixMilli()

	mustSaveMessage(t, store, Message{
		MessageID: "msg-2", SenderID: 2, ReceiverID: 1,
		EncryptedMessage: "reply", Nonce: "n2", SenderPublicKey: "pk-2",
		CreatedAt: base + 10,
	})
	mustSaveMessage(t, store, Message{
		MessageID: "msg-1", SenderID: 1, ReceiverID: 2,
		EncryptedMessage: "first", Nonce: "n1", SenderPublicKey: "pk-1",
		CreatedAt: base,
	})
	mustSaveMessage(t, store, Message{
		MessageID: "msg-other", SenderID: 1, ReceiverID: 9,
		EncryptedMessage: "unrelated", Nonce: "n3", SenderPublicKey: "pk-1",
		CreatedAt: base + 5,
	})

	conversation, err := store.GetConversation(1, 2)
	if err != nil {
		t.Fatalf("GetConversation failed: %v", err)
	}
	if len(conversation) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(conversation))
	}
	if conversation[0].MessageID != "msg-1" || conversation[1].MessageID != "msg-2" {
		t.Fatalf("conversation is not ordered by created_at ascending: %+v", conversation)
	}

	reversed, err := store.GetConversation(2, 1)
	if err != nil {
		t.Fatalf("GetConversation reversed failed: %v", err)
	}
	if len(reversed) != 2 {
		t.Fatalf("expected symmetric conversation lookup, got %d messages", len(reversed))
	}
}

func TestEditMessageIsSenderScoped(t *testing.T) {
	store := newTestStore(t)

	saved := mustSaveMessage(t, store, Message{
		MessageID: "msg-edit", SenderID: 9, ReceiverID: 2,
		EncryptedMessage: "original", Nonce: "n1", SenderPublicKey: "pk-9",
	})

	if _, err := store.EditMessage("msg-edit", 7, "forged", "n2"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for foreign edit, got %v", err)
	}

	unchanged, err := store.GetMessageByID("msg-edit")
	if err != nil {
		t.Fatalf("GetMessageByID failed: %v", err)
	}
	if unchanged.EncryptedMessage != "original" || unchanged.IsEdited {
		t.Fatalf("expected foreign edit to leave the row unchanged, got %+v", unchanged)
	}

	edited, err := store.EditMessage("msg-edit", 9, "updated", "n2")
	if err != nil {
		t.Fatalf("EditMessage failed: %v", err)
	}
	if edited.EncryptedMessage != "updated" || edited.Nonce != "n2" {
		t.Fatalf("expected updated ciphertext and nonce, got %+v", edited)
	}
	if !edited.IsEdited {
		t.Fatalf("expected is_edited to be set")
	}
	if edited.CreatedAt != saved.CreatedAt {
		t.Fatalf("expected created_at to be immutable, got %d then %d", saved.CreatedAt, edited.CreatedAt)
	}
}

func TestDeleteMessageIsIdempotentAndSenderScoped(t *testing.T) {
	store := newTestStore(t)

	mustSaveMessage(t, store, Message{
		MessageID: "msg-del", SenderID: 1, ReceiverID: 2,
		EncryptedMessage: "abc", Nonce: "n1", SenderPublicKey: "pk-1",
	})

	if err := store.DeleteMessage("msg-del", 7); err != nil {
		t.Fatalf("foreign delete should be a silent no-op, got %v", err)
	}
	if _, err := store.GetMessageByID("msg-del"); err != nil {
		t.Fatalf("expected row to survive foreign delete: %v", err)
	}

	if err := store.DeleteMessage("msg-del", 1); err != nil {
		t.Fatalf("DeleteMessage failed: %v", err)
	}
	if _, err := store.GetMessageByID("msg-del"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}

	if err := store.DeleteMessage("msg-del", 1); err != nil {
		t.Fatalf("repeated delete should be a silent no-op, got %v", err)
	}
	if err := store.DeleteMessage("never-existed", 1); err != nil {
		t.Fatalf("deleting unknown message should be a silent no-op, got %v", err)
	}
}

func TestRecentPartnersReturnsLatestMessagePerPartner(t *testing.T) {
	store := newTestStore(t)
	base := nowUnixMilli()

	mustSaveMessage(t, store, Message{
		MessageID: "a-1", SenderID: 1, ReceiverID: 2,
		EncryptedMessage: "to bob", Nonce: "n1", SenderPublicKey: "pk-1",
		CreatedAt: base,
	})
	mustSaveMessage(t, store, Message{
		MessageID: "a-2", SenderID: 2, ReceiverID: 1,
		EncryptedMessage: "bob latest", Nonce: "n2", SenderPublicKey: "pk-2",
		CreatedAt: base + 30,
	})
	mustSaveMessage(t, store, Message{
		MessageID: "b-1", SenderID: 3, ReceiverID: 1,
		EncryptedMessage: "carol latest", Nonce: "n3", SenderPublicKey: "pk-3",
		CreatedAt: base + 20,
	})
	mustSaveMessage(t, store, Message{
		MessageID: "c-1", SenderID: 4, ReceiverID: 5,
		EncryptedMessage: "unrelated", Nonce: "n4", SenderPublicKey: "pk-4",
		CreatedAt: base + 40,
	})

	partners, err := store.RecentPartners(1)
	if err != nil {
		t.Fatalf("RecentPartners failed: %v", err)
	}
	if len(partners) != 2 {
		t.Fatalf("expected 2 partners, got %d", len(partners))
	}
	if partners[0].PartnerID != 2 || partners[0].LastMessage.MessageID != "a-2" {
		t.Fatalf("expected bob's latest first, got %+v", partners[0])
	}
	if partners[1].PartnerID != 3 || partners[1].LastMessage.MessageID != "b-1" {
		t.Fatalf("expected carol second, got %+v", partners[1])
	}
	if partners[0].LastMessageAt != base+30 {
		t.Fatalf("expected last message time %d, got %d", base+30, partners[0].LastMessageAt)
	}
}

func TestSearchMessagesScopesAndOrders(t *testing.T) {
	store := newTestStore(t)
	base := nowUnixMilli()

	mustSaveMessage(t, store, Message{
		MessageID: "s-1", SenderID: 1, ReceiverID: 2,
		EncryptedMessage: "Project Update", Nonce: "n1", SenderPublicKey: "pk-1",
		CreatedAt: base,
	})
	mustSaveMessage(t, store, Message{
		MessageID: "s-2", SenderID: 3, ReceiverID: 1,
		EncryptedMessage: "project kickoff", Nonce: "n2", SenderPublicKey: "pk-3",
		CreatedAt: base + 10,
	})
	mustSaveMessage(t, store, Message{
		MessageID: "s-3", SenderID: 4, ReceiverID: 5,
		EncryptedMessage: "project elsewhere", Nonce: "n3", SenderPublicKey: "pk-4",
		CreatedAt: base + 20,
	})

	results, err := store.SearchMessages(1, "PROJECT", nil)
	if err != nil {
		t.Fatalf("SearchMessages failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 case-insensitive matches scoped to user 1, got %d", len(results))
	}
	if results[0].MessageID != "s-2" || results[1].MessageID != "s-1" {
		t.Fatalf("expected newest-first ordering, got %+v", results)
	}

	partner := int64(2)
	scoped, err := store.SearchMessages(1, "project", &partner)
	if err != nil {
		t.Fatalf("SearchMessages with partner failed: %v", err)
	}
	if len(scoped) != 1 || scoped[0].MessageID != "s-1" {
		t.Fatalf("expected partner-scoped search to return s-1 only, got %+v", scoped)
	}

	none, err := store.SearchMessages(1, "absent", nil)
	if err != nil {
		t.Fatalf("SearchMessages for missing term failed: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("expected no matches, got %d", len(none))
	}
}

func TestMarkReadIsBulkAndIdempotent(t *testing.T) {
	store := newTestStore(t)

	mustSaveMessage(t, store, Message{
		MessageID: "r-1", SenderID: 1, ReceiverID: 2,
		EncryptedMessage: "abc", Nonce: "n1", SenderPublicKey: "pk-1",
	})
	mustSaveMessage(t, store, Message{
		MessageID: "r-2", SenderID: 1, ReceiverID: 2,
		EncryptedMessage: "def", Nonce: "n2", SenderPublicKey: "pk-1",
	})
	mustSaveMessage(t, store, Message{
		MessageID: "r-3", SenderID: 2, ReceiverID: 1,
		EncryptedMessage: "ghi", Nonce: "n3", SenderPublicKey: "pk-2",
	})

	updated, err := store.MarkRead(2, 1)
	if err != nil {
		t.Fatalf("MarkRead failed: %v", err)
	}
	if updated != 2 {
		t.Fatalf("expected 2 rows marked read, got %d", updated)
	}

	conversation, err := store.GetConversation(1, 2)
	if err != nil {
		t.Fatalf("GetConversation failed: %v", err)
	}
	for _, message := range conversation {
		wantRead := message.ReceiverID == 2
		if message.IsRead != wantRead {
			t.Fatalf("unexpected read state for %q: %+v", message.MessageID, message)
		}
	}

	again, err := store.MarkRead(2, 1)
	if err != nil {
		t.Fatalf("second MarkRead failed: %v", err)
	}
	if again != 0 {
		t.Fatalf("expected idempotent MarkRead to touch 0 rows, got %d", again)
	}
}

func TestEditUnknownMessageReturnsNotFound(t *testing.T) {
	store := newTestStore(t)

	if _, err := store.EditMessage("missing", 1, "abc", "n1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
