package auth

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func newTestHasher(t *testing.T) *PasswordHasher {
	t.Helper()
	hasher, err := NewPasswordHasher(bcrypt.MinCost, 2)
	require.NoError(t, err)
	return hasher
}

func TestPasswordHasher_HashAndVerify(t *testing.T) {
	hasher := newTestHasher(t)
	ctx := context.Background()

	hash, err := hasher.Hash(ctx, "correct horse")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(hash, "$2"))

	assert.True(t, hasher.Verify(ctx, "correct horse", hash))
	assert.False(t, hasher.Verify(ctx, "wrong horse", hash))
}

func TestPasswordHasher_SaltedPerCall(t *testing.T) {
	hasher := newTestHasher(t)
	ctx := context.Background()

	first, err := hasher.Hash(ctx, "same secret")
	require.NoError(t, err)
	second, err := hasher.Hash(ctx, "same secret")
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	assert.True(t, hasher.Verify(ctx, "same secret", first))
	assert.True(t, hasher.Verify(ctx, "same secret", second))
}

func TestPasswordHasher_MalformedHash(t *testing.T) {
	hasher := newTestHasher(t)
	ctx := context.Background()

	assert.False(t, hasher.Verify(ctx, "anything", ""))
	assert.False(t, hasher.Verify(ctx, "anything", "not-a-bcrypt-hash"))
}

func TestPasswordHasher_EmptyPassword(t *testing.T) {
	hasher := newTestHasher(t)

	_, err := hasher.Hash(context.Background(), "")
	assert.Error(t, err)
}

func TestPasswordHasher_CancelledContext(t *testing.T) {
	hasher, err := NewPasswordHasher(bcrypt.MinCost, 1)
	require.NoError(t, err)

	hash, err := hasher.Hash(context.Background(), "secret")
	require.NoError(t, err)

	// Hold the only worker slot so the next call has to wait on ctx.
	require.NoError(t, hasher.workers.Acquire(context.Background(), 1))
	defer hasher.workers.Release(1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.False(t, hasher.Verify(ctx, "secret", hash))
	_, err = hasher.Hash(ctx, "secret")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPasswordHasher_CostClamped(t *testing.T) {
	hasher, err := NewPasswordHasher(1, 1)
	require.NoError(t, err)
	assert.Equal(t, bcrypt.MinCost, hasher.cost)

	hasher.EqualizeTiming(context.Background(), "unknown user attempt")
}
