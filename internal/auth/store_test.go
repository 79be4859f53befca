package auth

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvStore_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	store := NewEnvStore(path)

	cred := testCredential(time.Date(2024, 3, 19, 15, 30, 0, 0, KST))
	cred.ApprovalKey = "approval-xyz"
	cred.AccountType = "paper"
	cred.OwnerName = "Kim Cheolsu"
	cred.Active = true

	require.NoError(t, store.Save(cred))

	got, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, cred.AccessToken, got.AccessToken)
	assert.True(t, cred.TokenExpiry.Equal(got.TokenExpiry))
	assert.Equal(t, "approval-xyz", got.ApprovalKey)
	assert.Equal(t, "hts01", got.HTSID)
	assert.Equal(t, "50012345", got.AccountNo)
	assert.False(t, got.Live)
	assert.Equal(t, "Kim Cheolsu", got.OwnerName)
	assert.True(t, got.Active)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestEnvStore_PreservesForeignKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("EXTERNAL_USERNAME=trader\nAPP_KEY=old\n"), 0o600))

	store := NewEnvStore(path)
	require.NoError(t, store.Save(testCredential(time.Now())))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "EXTERNAL_USERNAME")
	assert.False(t, strings.Contains(string(data), `"old"`), "APP_KEY should be overwritten")
}

func TestEnvStore_Missing(t *testing.T) {
	store := NewEnvStore(filepath.Join(t.TempDir(), "missing.env"))

	_, err := store.Load()
	assert.ErrorIs(t, err, ErrNoCredential)
}
