package gateway

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte(`{"type":"ping","timestamp":42}`)

	require.NoError(t, WriteFrame(&buf, payload))

	got, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestFrameRejectsOversizedPayload(t *testing.T) {
	var buf bytes.Buffer
	huge := make([]byte, MaxFrameSize+1)

	err := WriteFrame(&buf, huge)
	assert.ErrorIs(t, err, ErrFrameTooLarge)
	assert.Zero(t, buf.Len())
}

func TestReadFrameRejectsOversizedHeader(t *testing.T) {
	buf := bytes.NewBuffer([]byte{0xFF, 0xFF, 0xFF, 0xFF})

	_, err := ReadFrame(buf)
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestReadFrameTruncatedPayload(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, []byte("full payload")))
	truncated := bytes.NewBuffer(buf.Bytes()[:6])

	_, err := ReadFrame(truncated)
	assert.Error(t, err)
}

func TestDecodeEventType(t *testing.T) {
	eventType, err := DecodeEventType([]byte(`{"type":"sendMessage","senderId":1}`))
	require.NoError(t, err)
	assert.Equal(t, TypeSendMessage, eventType)

	_, err = DecodeEventType([]byte(`{"senderId":1}`))
	assert.ErrorIs(t, err, ErrInvalidEventType)

	_, err = DecodeEventType([]byte(`not json`))
	assert.Error(t, err)
	assert.False(t, errors.Is(err, ErrInvalidEventType))
}

func TestSendMessageValidateRequiredFields(t *testing.T) {
	valid := SendMessageEvent{
		Type:               TypeSendMessage,
		SenderID:           1,
		ReceiverID:         2,
		EncryptedMessage:   "ct",
		Nonce:              "n",
		SenderPublicKey:    "spk",
		RecipientPublicKey: "rpk",
	}
	require.NoError(t, valid.Validate())

	cases := map[string]SendMessageEvent{
		"missing nonce":        func(e SendMessageEvent) SendMessageEvent { e.Nonce = ""; return e }(valid),
		"missing ciphertext":   func(e SendMessageEvent) SendMessageEvent { e.EncryptedMessage = ""; return e }(valid),
		"missing sender":       func(e SendMessageEvent) SendMessageEvent { e.SenderID = 0; return e }(valid),
		"missing receiver":     func(e SendMessageEvent) SendMessageEvent { e.ReceiverID = 0; return e }(valid),
		"missing sender key":   func(e SendMessageEvent) SendMessageEvent { e.SenderPublicKey = ""; return e }(valid),
		"missing receiver key": func(e SendMessageEvent) SendMessageEvent { e.RecipientPublicKey = ""; return e }(valid),
	}
	for name, event := range cases {
		assert.Error(t, event.Validate(), name)
	}
}

func TestEditMessageValidateRequiredFields(t *testing.T) {
	valid := EditMessageEvent{
		Type:             TypeEditMessage,
		MessageID:        "m1",
		SenderID:         1,
		EncryptedMessage: "ct",
		Nonce:            "n",
	}
	require.NoError(t, valid.Validate())

	noID := valid
	noID.MessageID = ""
	assert.Error(t, noID.Validate())

	noSender := valid
	noSender.SenderID = 0
	assert.Error(t, noSender.Validate())
}

func TestNewMessageEventWireShape(t *testing.T) {
	event := NewMessageEvent{
		Type: TypeNewMessage,
		MessageRecord: MessageRecord{
			ID:               "m1",
			SenderID:         1,
			ReceiverID:       2,
			EncryptedMessage: "ct",
			Nonce:            "n",
			SenderPublicKey:  "spk",
			CreatedAt:        1700000000000,
		},
	}

	payload, err := EncodeJSON(event)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(payload, &decoded))
	assert.Equal(t, "newMessage", decoded["type"])
	assert.Equal(t, "m1", decoded["id"])
	assert.Equal(t, "spk", decoded["senderPublicKey"])
	assert.NotContains(t, decoded, "MessageRecord")
}
