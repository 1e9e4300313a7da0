package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSecret = "0123456789abcdef0123456789abcdef"
	testKey    = "abcdefghijklmnopqrstuvwxyz012345"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	svc, err := NewService(testSecret, testKey, "admin", "correct-horse", time.Hour)
	require.NoError(t, err)
	return svc
}

func TestNewService_RejectsWeakKeys(t *testing.T) {
	_, err := NewService("short", testKey, "admin", "pw", time.Hour)
	assert.Error(t, err)

	_, err = NewService(testSecret, "short", "admin", "pw", time.Hour)
	assert.Error(t, err)
}

func TestLoginAndValidate(t *testing.T) {
	svc := newTestService(t)

	resp, err := svc.Login("admin", "correct-horse")
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Token)

	claims, err := svc.ValidateToken(resp.Token)
	require.NoError(t, err)
	assert.Equal(t, "admin", claims.Username)
	assert.Equal(t, "netmon", claims.Issuer)
}

func TestLogin_WrongPassword(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.Login("admin", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.Login("root", "correct-horse")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestValidateToken_Expired(t *testing.T) {
	svc := newTestService(t)
	svc.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }

	resp, err := svc.Login("admin", "correct-horse")
	require.NoError(t, err)

	_, err = svc.ValidateToken(resp.Token)
	assert.Error(t, err)
}

func TestCipher_RoundTrip(t *testing.T) {
	c, err := NewCipher(testKey)
	require.NoError(t, err)

	sealed, err := c.Encrypt([]byte(`{"auth_password":"secret"}`))
	require.NoError(t, err)

	plain, err := c.Decrypt(sealed)
	require.NoError(t, err)
	assert.JSONEq(t, `{"auth_password":"secret"}`, string(plain))
}

func TestCipher_RejectsTamperedInput(t *testing.T) {
	c, err := NewCipher(testKey)
	require.NoError(t, err)
	other, err := NewCipher("ZYXWVUTSRQPONMLKJIHGFEDCBA987654")
	require.NoError(t, err)

	sealed, err := c.Encrypt([]byte("payload"))
	require.NoError(t, err)

	_, err = other.Decrypt(sealed)
	assert.Error(t, err)

	_, err = c.Decrypt("not base64!")
	assert.Error(t, err)

	_, err = c.Decrypt("AAAA")
	assert.Error(t, err)
}
