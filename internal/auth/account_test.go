package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const accountsBody = `{
  "data": [
    {"cano": "11111111", "kis_access_token": "other", "access_token_expired": "2099-01-01T00:00:00+09:00",
     "hts_id": "x", "app_key": "x", "app_secret": "x"},
    {"cano": "50012345", "kis_access_token": "kis-token", "access_token_expired": "2099-03-19T15:30:00+09:00",
     "hts_id": "hts01", "app_key": "app-key", "app_secret": "app-secret", "approval_key": null,
     "acnt_prdt_cd": "01", "acnt_type": "paper", "acnt_name": "VI", "owner_name": "Kim",
     "owner_id": 42, "id": "7", "discord_webhook_url": "https://discord.example/hook", "is_active": true}
  ]
}`

// accountServer serves the login and account endpoints.
func accountServer(t *testing.T, logins *atomic.Int32) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc(loginPath, func(w http.ResponseWriter, r *http.Request) {
		logins.Add(1)
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "password", r.PostForm.Get("grant_type"))
		assert.Equal(t, "trader", r.PostForm.Get("username"))
		assert.Equal(t, "hunter2", r.PostForm.Get("password"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"svc-token","token_type":"bearer"}`))
	})
	mux.HandleFunc(accountsPath, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer svc-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(accountsBody))
	})
	return httptest.NewServer(mux)
}

func TestAccountService_LoginAndFetch(t *testing.T) {
	var logins atomic.Int32
	server := accountServer(t, &logins)
	defer server.Close()

	store := NewEnvStore(filepath.Join(t.TempDir(), ".env"))
	svc := NewAccountService(AccountConfig{
		BaseURL:   server.URL,
		Username:  "trader",
		Password:  "hunter2",
		AccountNo: "50012345",
	}, store, server.Client(), nil)

	cred, err := svc.Authenticate(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "kis-token", cred.AccessToken)
	assert.Equal(t, "hts01", cred.HTSID)
	assert.Equal(t, "50012345", cred.AccountNo)
	assert.False(t, cred.Live)
	assert.Equal(t, "paper", cred.Mode())
	assert.Equal(t, "42", cred.OwnerID)
	assert.Equal(t, "7", cred.ID)
	assert.Empty(t, cred.ApprovalKey)
	assert.True(t, cred.TokenExpiry.Equal(time.Date(2099, 3, 19, 15, 30, 0, 0, KST)))

	saved, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, cred.AccessToken, saved.AccessToken)

	// Second call reuses the stored credential.
	_, err = svc.Authenticate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), logins.Load())
}

func TestAccountService_ExpiredStoredCredential(t *testing.T) {
	var logins atomic.Int32
	server := accountServer(t, &logins)
	defer server.Close()

	store := NewEnvStore(filepath.Join(t.TempDir(), ".env"))
	stale := testCredential(time.Date(2020, 1, 1, 0, 0, 0, 0, KST))
	require.NoError(t, store.Save(stale))

	svc := NewAccountService(AccountConfig{
		BaseURL:   server.URL,
		Username:  "trader",
		Password:  "hunter2",
		AccountNo: "50012345",
	}, store, server.Client(), nil)

	cred, err := svc.Authenticate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "kis-token", cred.AccessToken)
	assert.Equal(t, int32(1), logins.Load())
}

func TestAccountService_UnknownAccount(t *testing.T) {
	var logins atomic.Int32
	server := accountServer(t, &logins)
	defer server.Close()

	svc := NewAccountService(AccountConfig{
		BaseURL:   server.URL,
		Username:  "trader",
		Password:  "hunter2",
		AccountNo: "99999999",
	}, nil, server.Client(), nil)

	_, err := svc.Authenticate(context.Background())
	require.Error(t, err)

	var authErr *AuthError
	assert.True(t, errors.As(err, &authErr))
	assert.ErrorIs(t, err, ErrAccountMissing)
}

func TestAccountService_LoginRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid_grant"}`))
	}))
	defer server.Close()

	svc := NewAccountService(AccountConfig{BaseURL: server.URL, AccountNo: "50012345"}, nil, server.Client(), nil)

	_, err := svc.Authenticate(context.Background())
	require.Error(t, err)

	var authErr *AuthError
	require.True(t, errors.As(err, &authErr))
	assert.Equal(t, "login", authErr.Op)
}
