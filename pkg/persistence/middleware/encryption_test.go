package middleware_test

import (
	"context"
	"crypto/rand"
	"io"
	"testing"
	"time"

	"github.com/aretw0/stratum/pkg/domain"
	"github.com/aretw0/stratum/pkg/persistence/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func generateKey(t *testing.T) []byte {
	k := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, k); err != nil {
		t.Fatal(err)
	}
	return k
}

func TestEncryptionMiddleware_Roundtrip(t *testing.T) {
	underlyingStore := NewMockStore()
	mw := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: generateKey(t)})
	secureStore := mw(underlyingStore)
	ctx := context.Background()

	stored, err := secureStore.StoreResult(ctx, &domain.ExecutionResult{
		SessionID: "s1",
		Success:   true,
		Payload:   map[string]any{"policy": "my-secret-sauce"},
	})
	require.NoError(t, err)
	require.True(t, stored)

	// The underlying store only sees the envelope.
	raw, err := underlyingStore.GetResult(ctx, "s1")
	require.NoError(t, err)
	envelope, ok := raw.Payload.(map[string]any)
	require.True(t, ok)
	assert.Contains(t, envelope, middleware.EnvelopeKey)
	assert.NotContains(t, envelope, "policy")

	loaded, err := secureStore.GetResult(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, loaded.Success)
	assert.Equal(t, map[string]any{"policy": "my-secret-sauce"}, loaded.Payload)
}

func TestEncryptionMiddleware_Finalize(t *testing.T) {
	underlyingStore := NewMockStore()
	secureStore := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: generateKey(t)})(underlyingStore)
	ctx := context.Background()

	s := domain.NewSession("s1", "st", "n", nil, time.Now())
	_, err := secureStore.CreateSession(ctx, s)
	require.NoError(t, err)
	for _, p := range []domain.Phase{domain.PhasePlanning, domain.PhaseLabAllocation, domain.PhaseExecuting, domain.PhaseValidating} {
		_, err := secureStore.UpdateState(ctx, "s1", p, nil)
		require.NoError(t, err)
	}

	result := &domain.ExecutionResult{SessionID: "s1", Success: true, Payload: "42"}
	ok, err := secureStore.Finalize(ctx, domain.Finalization{SessionID: "s1", Phase: domain.PhaseCompleted, Result: result})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "42", result.Payload, "the caller's result is not modified")

	loaded, err := secureStore.GetResult(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "42", loaded.Payload)
}

func TestEncryptionMiddleware_KeyRotation(t *testing.T) {
	underlyingStore := NewMockStore()
	oldKey := generateKey(t)
	newKey := generateKey(t)
	ctx := context.Background()

	secureStoreOld := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: oldKey})(underlyingStore)
	_, err := secureStoreOld.StoreResult(ctx, &domain.ExecutionResult{SessionID: "s1", Success: true, Payload: "encrypted-with-old-key"})
	require.NoError(t, err)

	// Without the fallback the payload is unreadable.
	strict := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: newKey})(underlyingStore)
	_, err = strict.GetResult(ctx, "s1")
	assert.Error(t, err)

	rotated := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{
		ActiveKey:    newKey,
		FallbackKeys: [][]byte{oldKey},
	})(underlyingStore)
	loaded, err := rotated.GetResult(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "encrypted-with-old-key", loaded.Payload)
}

func TestEncryptionMiddleware_FailureResultsPassThrough(t *testing.T) {
	underlyingStore := NewMockStore()
	secureStore := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: generateKey(t)})(underlyingStore)
	ctx := context.Background()

	_, err := secureStore.StoreResult(ctx, &domain.ExecutionResult{SessionID: "s1", ErrorMessage: "boom"})
	require.NoError(t, err)

	loaded, err := secureStore.GetResult(ctx, "s1")
	require.NoError(t, err)
	assert.Nil(t, loaded.Payload)
	assert.Equal(t, "boom", loaded.ErrorMessage)
}

func TestEncryptionMiddleware_RejectsPlainPayload(t *testing.T) {
	underlyingStore := NewMockStore()
	ctx := context.Background()
	_, err := underlyingStore.StoreResult(ctx, &domain.ExecutionResult{SessionID: "s1", Success: true, Payload: "plain"})
	require.NoError(t, err)

	secureStore := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: generateKey(t)})(underlyingStore)
	_, err = secureStore.GetResult(ctx, "s1")
	assert.Error(t, err)
}

func TestEncryptionMiddleware_InvalidKeyPanics(t *testing.T) {
	assert.Panics(t, func() {
		middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: []byte("short")})
	})
}
