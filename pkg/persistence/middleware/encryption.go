package middleware

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/aretw0/stratum/pkg/domain"
	"github.com/aretw0/stratum/pkg/ports"
)

// EnvelopeKey is the payload field holding the sealed result payload.
const EnvelopeKey = "__encrypted__"

// EncryptionConfig holds the keys for encryption and decryption.
type EncryptionConfig struct {
	// ActiveKey is the key used for encrypting new data.
	// Must be 32 bytes for AES-256.
	ActiveKey []byte

	// FallbackKeys is a list of old keys to try when decryption fails.
	// This enables zero-downtime key rotation.
	FallbackKeys [][]byte
}

type encryptionMiddleware struct {
	ports.SessionStore
	config EncryptionConfig
}

// NewEncryptionMiddleware creates a middleware that seals ExecutionResult payloads with AES-GCM.
// Session state stays readable so that migration and cleanup can reason about it.
func NewEncryptionMiddleware(config EncryptionConfig) Middleware {
	if len(config.ActiveKey) != 32 {
		panic("active key must be 32 bytes (AES-256)")
	}
	return func(next ports.SessionStore) ports.SessionStore {
		return &encryptionMiddleware{
			SessionStore: next,
			config:       config,
		}
	}
}

func (m *encryptionMiddleware) StoreResult(ctx context.Context, result *domain.ExecutionResult) (bool, error) {
	sealed, err := m.seal(result)
	if err != nil {
		return false, err
	}
	return m.SessionStore.StoreResult(ctx, sealed)
}

func (m *encryptionMiddleware) Finalize(ctx context.Context, f domain.Finalization) (bool, error) {
	sealed, err := m.seal(f.Result)
	if err != nil {
		return false, err
	}
	f.Result = sealed
	return m.SessionStore.Finalize(ctx, f)
}

func (m *encryptionMiddleware) GetResult(ctx context.Context, sessionID string) (*domain.ExecutionResult, error) {
	envelope, err := m.SessionStore.GetResult(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if envelope.Payload == nil {
		return envelope, nil
	}

	fields, ok := envelope.Payload.(map[string]any)
	encryptedStr, _ := fields[EnvelopeKey].(string)
	if !ok || encryptedStr == "" {
		// Fail secure: a configured store only ever holds sealed payloads.
		return nil, errors.New("result is missing encrypted data envelope")
	}

	ciphertext, err := base64.StdEncoding.DecodeString(encryptedStr)
	if err != nil {
		return nil, fmt.Errorf("failed to decode ciphertext base64: %w", err)
	}

	// Try Active, then Fallback
	plainText, err := decryptWithRotation(ciphertext, m.config.ActiveKey, m.config.FallbackKeys)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt result: %w", err)
	}

	var payload any
	if err := json.Unmarshal(plainText, &payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal decrypted payload: %w", err)
	}

	result := *envelope
	result.Payload = payload
	return &result, nil
}

// seal returns a copy of result whose payload is replaced by the encrypted envelope.
func (m *encryptionMiddleware) seal(result *domain.ExecutionResult) (*domain.ExecutionResult, error) {
	if result == nil || result.Payload == nil {
		return result, nil
	}

	plainText, err := json.Marshal(result.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	ciphertext, err := encrypt(plainText, m.config.ActiveKey)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt payload: %w", err)
	}

	sealed := *result
	sealed.Payload = map[string]any{
		EnvelopeKey: base64.StdEncoding.EncodeToString(ciphertext),
	}
	return &sealed, nil
}

// Helpers

func encrypt(plaintext []byte, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func decryptWithRotation(ciphertext []byte, activeKey []byte, fallbackKeys [][]byte) ([]byte, error) {
	if plain, err := decrypt(ciphertext, activeKey); err == nil {
		return plain, nil
	}

	for _, key := range fallbackKeys {
		if plain, err := decrypt(ciphertext, key); err == nil {
			return plain, nil
		}
	}

	return nil, errors.New("decryption failed with all available keys")
}

func decrypt(ciphertext []byte, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	if len(ciphertext) < gcm.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}

	nonce := ciphertext[:gcm.NonceSize()]
	ciphertextBytes := ciphertext[gcm.NonceSize():]

	return gcm.Open(nil, nonce, ciphertextBytes, nil)
}
