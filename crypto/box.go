package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/nacl/box"
)

const (
	// PublicKeySize is the byte length of a box public key.
	PublicKeySize = 32
	// SecretKeySize is the byte length of a box secret key.
	SecretKeySize = 32
	// NonceSize is the byte length of a box nonce.
	NonceSize = 24
)

var (
	// ErrInvalidInput indicates a missing or malformed encryption input.
	ErrInvalidInput = errors.New("crypto: invalid input")
	// ErrDecryptionFailed indicates decryption failed. The cause is
	// deliberately not distinguished: wrong keys, a corrupted ciphertext,
	// and a malformed nonce all produce this same error.
	ErrDecryptionFailed = errors.New("crypto: decryption failed")
)

// KeyPair holds one base64-encoded box key pair. The secret key belongs to
// the client that requested it; the server keeps no copy.
type KeyPair struct {
	PublicKey string
	SecretKey string
}

// GenerateKeyPair produces a fresh key pair for authenticated public-key
// encryption. It fails only when the system entropy source does.
func GenerateKeyPair() (KeyPair, error) {
	publicKey, secretKey, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return KeyPair{}, fmt.Errorf("generate box key pair: %w", err)
	}

	return KeyPair{
		PublicKey: base64.StdEncoding.EncodeToString(publicKey[:]),
		SecretKey: base64.StdEncoding.EncodeToString(secretKey[:]),
	}, nil
}

// Encrypt seals plaintext from the sender's secret key to the recipient's
// public key and returns base64 ciphertext plus the base64 nonce used.
//
// The nonce is always generated internally for every call; there is no way
// to supply one, which keeps (key pair, nonce) reuse structurally impossible.
func Encrypt(senderSecretKey, recipientPublicKey, plaintext string) (ciphertext, nonce string, err error) {
	if plaintext == "" {
		return "", "", fmt.Errorf("%w: plaintext is required", ErrInvalidInput)
	}

	secretKey, err := decodeKey(senderSecretKey)
	if err != nil {
		return "", "", fmt.Errorf("%w: sender secret key", ErrInvalidInput)
	}
	publicKey, err := decodeKey(recipientPublicKey)
	if err != nil {
		return "", "", fmt.Errorf("%w: recipient public key", ErrInvalidInput)
	}

	var nonceBytes [NonceSize]byte
	if _, err := rand.Read(nonceBytes[:]); err != nil {
		return "", "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := box.Seal(nil, []byte(plaintext), &nonceBytes, publicKey, secretKey)

	return base64.StdEncoding.EncodeToString(sealed),
		base64.StdEncoding.EncodeToString(nonceBytes[:]),
		nil
}

// Decrypt opens a sealed message using the recipient's secret key and the
// public key the sender used at encryption time. Every failure mode returns
// ErrDecryptionFailed.
func Decrypt(recipientSecretKey, senderPublicKey, ciphertext, nonce string) (string, error) {
	secretKey, err := decodeKey(recipientSecretKey)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	publicKey, err := decodeKey(senderPublicKey)
	if err != nil {
		return "", ErrDecryptionFailed
	}

	nonceBytes, err := base64.StdEncoding.DecodeString(nonce)
	if err != nil || len(nonceBytes) != NonceSize {
		return "", ErrDecryptionFailed
	}
	sealed, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil || len(sealed) == 0 {
		return "", ErrDecryptionFailed
	}

	var nonceArr [NonceSize]byte
	copy(nonceArr[:], nonceBytes)

	plaintext, ok := box.Open(nil, sealed, &nonceArr, publicKey, secretKey)
	if !ok {
		return "", ErrDecryptionFailed
	}

	return string(plaintext), nil
}

func decodeKey(encoded string) (*[32]byte, error) {
	if encoded == "" {
		return nil, errors.New("empty key")
	}

	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode key: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("invalid key length %d", len(raw))
	}

	var key [32]byte
	copy(key[:], raw)
	return &key, nil
}
