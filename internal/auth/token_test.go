package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-that-is-at-least-32-bytes!"

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func newTestIssuer(t *testing.T, clock *fakeClock) *TokenIssuer {
	t.Helper()
	issuer, err := NewTokenIssuer(testSecret, 30*time.Minute, 7*24*time.Hour)
	require.NoError(t, err)
	return issuer.WithClock(clock.Now)
}

func TestTokenIssuer_AccessRoundTrip(t *testing.T) {
	clock := newFakeClock()
	issuer := newTestIssuer(t, clock)

	token, err := issuer.IssueAccess("user-1")
	require.NoError(t, err)
	assert.Len(t, strings.Split(token, "."), 3)

	claims, err := issuer.VerifyAccess(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, TokenKindAccess, claims.Kind)
	assert.NotEmpty(t, claims.ID)
	require.NotNil(t, claims.IssuedAt)
	assert.Equal(t, clock.now.Add(30*time.Minute).Unix(), claims.ExpiresAt.Unix())
}

func TestTokenIssuer_RefreshClaims(t *testing.T) {
	clock := newFakeClock()
	issuer := newTestIssuer(t, clock)

	token, err := issuer.IssueRefresh("user-1")
	require.NoError(t, err)

	claims, err := issuer.VerifyRefresh(token)
	require.NoError(t, err)
	assert.Equal(t, TokenKindRefresh, claims.Kind)
	assert.Nil(t, claims.IssuedAt)
	assert.NotEmpty(t, claims.ID)
	assert.Equal(t, clock.now.Add(7*24*time.Hour).Unix(), claims.ExpiresAt.Unix())
}

func TestTokenIssuer_UniqueWithinSameSecond(t *testing.T) {
	issuer := newTestIssuer(t, newFakeClock())

	seen := map[string]struct{}{}
	for i := 0; i < 20; i++ {
		access, err := issuer.IssueAccess("user-1")
		require.NoError(t, err)
		refresh, err := issuer.IssueRefresh("user-1")
		require.NoError(t, err)

		for _, tok := range []string{access, refresh} {
			_, dup := seen[tok]
			require.False(t, dup, "duplicate token issued")
			seen[tok] = struct{}{}
		}
	}
}

func TestTokenIssuer_Expiry(t *testing.T) {
	clock := newFakeClock()
	issuer := newTestIssuer(t, clock)

	token, err := issuer.IssueAccess("user-1")
	require.NoError(t, err)

	clock.Advance(29 * time.Minute)
	_, err = issuer.VerifyAccess(token)
	assert.NoError(t, err)

	clock.Advance(2 * time.Minute)
	_, err = issuer.VerifyAccess(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenIssuer_KindConfusion(t *testing.T) {
	issuer := newTestIssuer(t, newFakeClock())

	refresh, err := issuer.IssueRefresh("user-1")
	require.NoError(t, err)
	access, err := issuer.IssueAccess("user-1")
	require.NoError(t, err)

	_, err = issuer.VerifyAccess(refresh)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = issuer.VerifyRefresh(access)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenIssuer_RejectsTampering(t *testing.T) {
	clock := newFakeClock()
	issuer := newTestIssuer(t, clock)

	token, err := issuer.IssueAccess("user-1")
	require.NoError(t, err)

	other, err := NewTokenIssuer("another-secret-that-is-32-bytes-long!!", time.Minute, time.Hour)
	require.NoError(t, err)
	_, err = other.WithClock(clock.Now).Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	parts := strings.Split(token, ".")
	parts[2] = strings.Repeat("A", len(parts[2]))
	_, err = issuer.Verify(strings.Join(parts, "."))
	assert.ErrorIs(t, err, ErrInvalidToken)

	for _, bad := range []string{"", "garbage", "a.b", "a.b.c"} {
		_, err = issuer.Verify(bad)
		assert.ErrorIs(t, err, ErrInvalidToken, bad)
	}
}

func TestTokenIssuer_RejectsOtherAlgorithms(t *testing.T) {
	clock := newFakeClock()
	issuer := newTestIssuer(t, clock)

	claims := Claims{
		Kind: TokenKindAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			ExpiresAt: jwt.NewNumericDate(clock.now.Add(time.Minute)),
		},
	}

	hs512, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	_, err = issuer.Verify(hs512)
	assert.ErrorIs(t, err, ErrInvalidToken)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = issuer.Verify(none)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenIssuer_RequiresSubjectAndExpiry(t *testing.T) {
	clock := newFakeClock()
	issuer := newTestIssuer(t, clock)

	noSubject := Claims{Kind: TokenKindAccess, RegisteredClaims: jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(clock.now.Add(time.Minute)),
	}}
	token, err := issuer.sign(noSubject)
	require.NoError(t, err)
	_, err = issuer.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	noExpiry := Claims{Kind: TokenKindAccess, RegisteredClaims: jwt.RegisteredClaims{Subject: "user-1"}}
	token, err = issuer.sign(noExpiry)
	require.NoError(t, err)
	_, err = issuer.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestNewTokenIssuer_Validation(t *testing.T) {
	_, err := NewTokenIssuer("", time.Minute, time.Hour)
	assert.Error(t, err)

	_, err = NewTokenIssuer(testSecret, time.Hour, time.Minute)
	assert.Error(t, err)

	issuer, err := NewTokenIssuer(testSecret, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultAccessTTL, issuer.AccessTTL())
	assert.Equal(t, DefaultRefreshTTL, issuer.RefreshTTL())
}
