package credentials

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/nmslite/netmon/internal/auth"
	"github.com/nmslite/netmon/internal/model"
	"github.com/nmslite/netmon/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T, key string) (*Service, *store.Memory) {
	t.Helper()
	c, err := auth.NewCipher(key)
	require.NoError(t, err)
	st := store.NewMemory()
	return NewService(c, st), st
}

func TestCreateAndResolve(t *testing.T) {
	svc, st := newTestService(t, "abcdefghijklmnopqrstuvwxyz012345")
	ctx := context.Background()

	cred, err := svc.Create(ctx, "core", model.SNMPv3Params{
		Username:      "monitor",
		SecurityLevel: model.AuthPriv,
		AuthProtocol:  "SHA256",
		AuthPassword:  "authpass123",
		PrivProtocol:  "AES",
		PrivPassword:  "privpass123",
	})
	require.NoError(t, err)

	stored, err := st.GetCredential(ctx, cred.ID)
	require.NoError(t, err)
	assert.NotContains(t, stored.EncryptedSecrets, "authpass123")

	params, err := svc.Resolve(ctx, cred.ID)
	require.NoError(t, err)
	assert.Equal(t, "monitor", params.Username)
	assert.Equal(t, "authpass123", params.AuthPassword)
	assert.Equal(t, "privpass123", params.PrivPassword)
	assert.Equal(t, "AES", params.PrivProtocol)
}

func TestCreate_RejectsInvalidParams(t *testing.T) {
	svc, _ := newTestService(t, "abcdefghijklmnopqrstuvwxyz012345")

	_, err := svc.Create(context.Background(), "bad", model.SNMPv3Params{
		Username:      "monitor",
		SecurityLevel: model.AuthNoPriv,
		AuthProtocol:  "SHA",
		AuthPassword:  "short",
	})
	assert.Error(t, err)
}

func TestResolve_NotFound(t *testing.T) {
	svc, _ := newTestService(t, "abcdefghijklmnopqrstuvwxyz012345")

	_, err := svc.Resolve(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolve_WrongKey(t *testing.T) {
	svc, st := newTestService(t, "abcdefghijklmnopqrstuvwxyz012345")
	ctx := context.Background()

	cred, err := svc.Create(ctx, "core", model.SNMPv3Params{
		Username:      "monitor",
		SecurityLevel: model.AuthNoPriv,
		AuthProtocol:  "SHA",
		AuthPassword:  "authpass123",
	})
	require.NoError(t, err)

	other, err := auth.NewCipher("ZYXWVUTSRQPONMLKJIHGFEDCBA987654")
	require.NoError(t, err)
	rotated := NewService(other, st)

	_, err = rotated.Resolve(ctx, cred.ID)
	assert.ErrorIs(t, err, ErrDecrypt)
}
