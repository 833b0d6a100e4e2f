package storage

import (
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	dataDir := t.TempDir()
	store, _, err := Open(dataDir)
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close test store: %v", err)
		}
	})

	return store
}

func mustSaveMessage(t *testing.T, store *Store, message Message) *Message {
	t.Helper()

	saved, err := store.SaveMessage(message)
	if err != nil {
		t.Fatalf("save message %q: %v", message.MessageID, err)
	}

	return saved
}
