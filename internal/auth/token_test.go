package auth

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFileStoreRoundTrip(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "nested", "token"))

	_, err := store.Token()
	require.ErrorIs(t, err, ErrNoToken)

	require.NoError(t, store.SetToken("bearer-abc"))
	got, err := store.Token()
	require.NoError(t, err)
	require.Equal(t, "bearer-abc", got)

	require.NoError(t, store.Clear())
	_, err = store.Token()
	require.ErrorIs(t, err, ErrNoToken)

	require.NoError(t, store.Clear(), "clearing an empty store is a no-op")
}

func TestMintAndParseDevToken(t *testing.T) {
	secret := []byte("test-secret")

	token, err := MintDevToken(secret, "You", time.Hour)
	require.NoError(t, err)

	claims, err := ParseDevToken(secret, token)
	require.NoError(t, err)
	require.Equal(t, "You", claims.Name)
	require.Equal(t, "callroom", claims.Issuer)
}

func TestParseRejectsWrongSecret(t *testing.T) {
	token, err := MintDevToken([]byte("right"), "You", time.Hour)
	require.NoError(t, err)

	_, err = ParseDevToken([]byte("wrong"), token)
	require.Error(t, err)
}

func TestParseRejectsExpiredToken(t *testing.T) {
	secret := []byte("test-secret")
	token, err := MintDevToken(secret, "You", -time.Minute)
	require.NoError(t, err)

	_, err = ParseDevToken(secret, token)
	require.Error(t, err)
}
