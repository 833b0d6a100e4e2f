// Package gateway is the relay's connection surface. Each client holds one
// long-lived TCP connection carrying length-prefixed JSON events; the gateway
// authenticates it via a hello frame, registers presence, and dispatches
// messaging events against the store and the registry.
//
// Ciphertext passes through opaque: the gateway never holds a secret key and
// never inspects message contents.
package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/sirupsen/logrus"

	"cipherchat/presence"
	"cipherchat/storage"
)

// Options configures a Gateway.
type Options struct {
	// ListenAddress is the TCP address to bind, e.g. ":7465". Empty means an
	// ephemeral port on all interfaces.
	ListenAddress string
	// Store persists messages. Required.
	Store *storage.Store
	// Registry tracks online users. Required.
	Registry *presence.Registry
}

// Gateway accepts client connections and relays messaging events.
type Gateway struct {
	options  Options
	listener net.Listener

	mu    sync.Mutex
	conns map[*ClientConn]struct{}

	wg        sync.WaitGroup
	closeOnce sync.Once
}

// Listen binds the gateway and starts accepting connections.
func Listen(options Options) (*Gateway, error) {
	if options.Store == nil {
		return nil, errors.New("gateway: store is required")
	}
	if options.Registry == nil {
		return nil, errors.New("gateway: registry is required")
	}

	address := options.ListenAddress
	if address == "" {
		address = ":0"
	}

	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", address, err)
	}

	g := &Gateway{
		options:  options,
		listener: listener,
		conns:    make(map[*ClientConn]struct{}),
	}

	logrus.WithField("address", listener.Addr().String()).Info("gateway listening")

	g.wg.Add(1)
	go g.acceptLoop()

	return g, nil
}

// Addr returns the bound listen address.
func (g *Gateway) Addr() net.Addr {
	return g.listener.Addr()
}

// Close stops accepting, closes every live connection, and waits for all
// connection goroutines to drain.
func (g *Gateway) Close() error {
	var err error
	g.closeOnce.Do(func() {
		err = g.listener.Close()

		g.mu.Lock()
		for conn := range g.conns {
			conn.Close()
		}
		g.mu.Unlock()
	})
	g.wg.Wait()
	return err
}

func (g *Gateway) acceptLoop() {
	defer g.wg.Done()

	for {
		netConn, err := g.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			logrus.WithError(err).Warn("accept failed")
			continue
		}

		g.wg.Add(1)
		go g.handleConn(netConn)
	}
}

func (g *Gateway) trackConn(conn *ClientConn) {
	g.mu.Lock()
	g.conns[conn] = struct{}{}
	g.mu.Unlock()
}

func (g *Gateway) untrackConn(conn *ClientConn) {
	g.mu.Lock()
	delete(g.conns, conn)
	g.mu.Unlock()
}

// handleConn owns one connection for its whole life. All inbound events are
// processed on this goroutine, so events from one client are handled in the
// order they arrived.
func (g *Gateway) handleConn(netConn net.Conn) {
	defer g.wg.Done()

	conn := newClientConn(netConn)
	g.trackConn(conn)

	logrus.WithField("remote", conn.RemoteAddr()).Debug("connection accepted")

	defer func() {
		g.options.Registry.Unregister(conn)
		conn.Close()
		g.untrackConn(conn)
		logrus.WithFields(logrus.Fields{
			"remote":  conn.RemoteAddr(),
			"user_id": conn.UserID(),
		}).Debug("connection closed")
	}()

	first := true
	for {
		payload, err := conn.ReadFrame()
		if err != nil {
			return
		}

		if first {
			first = false
			if g.tryHello(conn, payload) {
				continue
			}
			// No usable hello: the connection stays up degraded. It can still
			// issue requests but receives no presence or message pushes.
			logrus.WithField("remote", conn.RemoteAddr()).Warn("connection without valid hello, presence disabled")
		}

		g.dispatch(conn, payload)
	}
}

// tryHello consumes the first frame if it is a valid hello. It reports true
// when the frame was a hello attempt (valid or not) and must not be
// dispatched as a regular event.
func (g *Gateway) tryHello(conn *ClientConn, payload []byte) bool {
	eventType, err := DecodeEventType(payload)
	if err != nil || eventType != TypeHello {
		return false
	}

	var hello HelloEvent
	if err := json.Unmarshal(payload, &hello); err != nil {
		logrus.WithField("remote", conn.RemoteAddr()).Warn("malformed hello frame, presence disabled")
		return true
	}
	if err := hello.Validate(); err != nil {
		logrus.WithFields(logrus.Fields{
			"remote": conn.RemoteAddr(),
			"reason": err,
		}).Warn("incomplete hello frame, presence disabled")
		return true
	}

	conn.setAuthenticated(hello.UserID)
	g.options.Registry.Register(hello.UserID, conn, hello.PublicKey)
	conn.setActive()

	return true
}

func (g *Gateway) dispatch(conn *ClientConn, payload []byte) {
	eventType, err := DecodeEventType(payload)
	if err != nil {
		g.pushError(conn, CodeValidation, "malformed event payload")
		return
	}

	switch eventType {
	case TypeSendMessage:
		g.handleSend(conn, payload)
	case TypeEditMessage:
		g.handleEdit(conn, payload)
	case TypeGetConversation:
		g.handleGetConversation(conn, payload)
	case TypeTyping:
		g.handleTyping(conn, payload)
	case TypePing:
		g.handlePing(conn, payload)
	case TypeHello:
		g.pushError(conn, CodeValidation, "hello is only valid as the first frame")
	default:
		g.pushError(conn, CodeUnknownType, fmt.Sprintf("unknown event type %q", eventType))
	}
}

// handleSend persists the message first, then attempts best-effort delivery.
// The stored row carries the registry's currently advertised key for the
// sender; the push to the receiver carries the payload's key, because that is
// the key the ciphertext was actually encrypted under.
func (g *Gateway) handleSend(conn *ClientConn, payload []byte) {
	var event SendMessageEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		g.pushError(conn, CodeValidation, "malformed sendMessage payload")
		return
	}
	if err := event.Validate(); err != nil {
		g.pushError(conn, CodeValidation, err.Error())
		return
	}

	advertisedKey, ok := g.options.Registry.LookupKey(event.SenderID)
	if !ok {
		g.pushError(conn, CodeSenderNotRegistered, "sender has no advertised public key")
		return
	}

	saved, err := g.options.Store.SaveMessage(storage.Message{
		MessageID:        event.MessageID,
		SenderID:         event.SenderID,
		ReceiverID:       event.ReceiverID,
		EncryptedMessage: event.EncryptedMessage,
		Nonce:            event.Nonce,
		SenderPublicKey:  advertisedKey,
	})
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"sender_id":   event.SenderID,
			"receiver_id": event.ReceiverID,
			"error":       err,
		}).Error("failed to persist message")
		g.pushError(conn, CodePersistence, "failed to store message")
		return
	}

	if receiver, online := g.options.Registry.Lookup(event.ReceiverID); online {
		push := NewMessageEvent{Type: TypeNewMessage, MessageRecord: recordFromMessage(*saved)}
		push.SenderPublicKey = event.SenderPublicKey
		if err := receiver.Push(push); err != nil {
			logrus.WithFields(logrus.Fields{
				"message_id":  saved.MessageID,
				"receiver_id": event.ReceiverID,
				"error":       err,
			}).Debug("newMessage push failed, message remains persisted")
		}
	}

	ack := MessageAckEvent{Type: TypeMessageAck, MessageRecord: recordFromMessage(*saved)}
	if err := conn.Push(ack); err != nil {
		logrus.WithFields(logrus.Fields{
			"message_id": saved.MessageID,
			"error":      err,
		}).Debug("messageAck push failed")
	}
}

// handleEdit rewrites the ciphertext of a message the caller sent, then
// pushes the edited record to the recipient and echoes it to the editor.
func (g *Gateway) handleEdit(conn *ClientConn, payload []byte) {
	var event EditMessageEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		g.pushError(conn, CodeValidation, "malformed editMessage payload")
		return
	}
	if err := event.Validate(); err != nil {
		g.pushError(conn, CodeValidation, err.Error())
		return
	}

	edited, err := g.options.Store.EditMessage(event.MessageID, event.SenderID, event.EncryptedMessage, event.Nonce)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			g.pushError(conn, CodeNotFound, "message not found or not editable by sender")
			return
		}
		logrus.WithFields(logrus.Fields{
			"message_id": event.MessageID,
			"sender_id":  event.SenderID,
			"error":      err,
		}).Error("failed to edit message")
		g.pushError(conn, CodePersistence, "failed to edit message")
		return
	}

	push := MessageEditedEvent{
		Type:               TypeMessageEdited,
		MessageRecord:      recordFromMessage(*edited),
		RecipientPublicKey: event.RecipientPublicKey,
	}
	push.SenderPublicKey = event.SenderPublicKey

	if receiver, online := g.options.Registry.Lookup(edited.ReceiverID); online {
		if err := receiver.Push(push); err != nil {
			logrus.WithFields(logrus.Fields{
				"message_id":  edited.MessageID,
				"receiver_id": edited.ReceiverID,
				"error":       err,
			}).Debug("messageEdited push failed, edit remains persisted")
		}
	}

	if err := conn.Push(push); err != nil {
		logrus.WithFields(logrus.Fields{
			"message_id": edited.MessageID,
			"error":      err,
		}).Debug("messageEdited echo failed")
	}
}

func (g *Gateway) handleGetConversation(conn *ClientConn, payload []byte) {
	var event GetConversationEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		g.pushError(conn, CodeValidation, "malformed getConversation payload")
		return
	}
	if err := event.Validate(); err != nil {
		g.pushError(conn, CodeValidation, err.Error())
		return
	}

	messages, err := g.options.Store.GetConversation(event.UserID, event.OtherUserID)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"user_id":       event.UserID,
			"other_user_id": event.OtherUserID,
			"error":         err,
		}).Error("failed to load conversation")
		g.pushError(conn, CodePersistence, "failed to load conversation")
		return
	}

	reply := ConversationEvent{
		Type:        TypeConversation,
		UserID:      event.UserID,
		OtherUserID: event.OtherUserID,
		Messages:    recordsFromMessages(messages),
	}
	if err := conn.Push(reply); err != nil {
		logrus.WithFields(logrus.Fields{
			"user_id": event.UserID,
			"error":   err,
		}).Debug("conversation reply failed")
	}
}

// handleTyping is fire and forget: nothing is persisted and an offline or
// invalid target drops the event silently.
func (g *Gateway) handleTyping(conn *ClientConn, payload []byte) {
	var event TypingEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return
	}
	if err := event.Validate(); err != nil {
		return
	}

	receiver, online := g.options.Registry.Lookup(event.ReceiverID)
	if !online {
		return
	}

	if err := receiver.Push(UserTypingEvent{Type: TypeUserTyping, UserID: event.SenderID}); err != nil {
		logrus.WithFields(logrus.Fields{
			"receiver_id": event.ReceiverID,
			"error":       err,
		}).Debug("userTyping push failed")
	}
}

func (g *Gateway) handlePing(conn *ClientConn, payload []byte) {
	var event PingEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return
	}
	if err := conn.Push(PongEvent{Type: TypePong, Timestamp: event.Timestamp}); err != nil {
		logrus.WithField("error", err).Debug("pong push failed")
	}
}

// pushError reports a failure to the originating connection only. Other
// connections never learn about another client's failed request.
func (g *Gateway) pushError(conn *ClientConn, code, message string) {
	event := ErrorEvent{Type: TypeError, Code: code, Message: message}
	if err := conn.Push(event); err != nil {
		logrus.WithFields(logrus.Fields{
			"code":  code,
			"error": err,
		}).Debug("error push failed")
	}
}
