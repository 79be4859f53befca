package auth

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Credential file keys.
const (
	EnvAccessToken       = "KIS_ACCESS_TOKEN"
	EnvTokenExpiry       = "ACCESS_TOKEN_EXPIRED"
	EnvApprovalKey       = "APPROVAL_KEY"
	EnvHTSID             = "HTS_ID"
	EnvAppKey            = "APP_KEY"
	EnvAppSecret         = "APP_SECRET"
	EnvAccountNo         = "CANO"
	EnvLive              = "IS_LIVE"
	EnvProductCode       = "ACNT_PRDT_CD"
	EnvAccountType       = "ACNT_TYPE"
	EnvAccountName       = "ACNT_NAME"
	EnvOwnerName         = "OWNER_NAME"
	EnvOwnerID           = "OWNER_ID"
	EnvID                = "ID"
	EnvDiscordWebhookURL = "DISCORD_WEBHOOK_URL"
	EnvActive            = "IS_ACTIVE"
)

// ErrNoCredential is returned by Load when the file holds no credential.
var ErrNoCredential = errors.New("no stored credential")

// EnvStore persists a credential as KEY=value lines in a dotenv file.
// Keys it does not own are preserved on Save.
type EnvStore struct {
	path string
}

// NewEnvStore creates a store for the given file.
func NewEnvStore(path string) *EnvStore {
	return &EnvStore{path: path}
}

// Path returns the backing file.
func (s *EnvStore) Path() string {
	return s.path
}

// Load reads the credential. ErrNoCredential is returned if the file is
// missing or lacks the access token.
func (s *EnvStore) Load() (*Credential, error) {
	env, err := godotenv.Read(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNoCredential
		}
		return nil, fmt.Errorf("read %s: %w", s.path, err)
	}
	if env[EnvAccessToken] == "" {
		return nil, ErrNoCredential
	}

	expiry, err := ParseExpiry(env[EnvTokenExpiry])
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", EnvTokenExpiry, err)
	}

	cred := &Credential{
		AccessToken:       env[EnvAccessToken],
		TokenExpiry:       expiry,
		ApprovalKey:       env[EnvApprovalKey],
		HTSID:             env[EnvHTSID],
		AppKey:            env[EnvAppKey],
		AppSecret:         env[EnvAppSecret],
		AccountNo:         env[EnvAccountNo],
		Live:              parseBool(env[EnvLive], true),
		ProductCode:       withDefault(env[EnvProductCode], "01"),
		AccountType:       withDefault(env[EnvAccountType], "live"),
		AccountName:       env[EnvAccountName],
		OwnerName:         env[EnvOwnerName],
		OwnerID:           env[EnvOwnerID],
		ID:                env[EnvID],
		DiscordWebhookURL: env[EnvDiscordWebhookURL],
		Active:            parseBool(env[EnvActive], true),
	}
	return cred, nil
}

// Save merges the credential into the file, creating it if needed.
func (s *EnvStore) Save(cred Credential) error {
	env, err := godotenv.Read(s.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("read %s: %w", s.path, err)
		}
		env = make(map[string]string)
	}

	env[EnvAccessToken] = cred.AccessToken
	env[EnvTokenExpiry] = FormatExpiry(cred.TokenExpiry)
	env[EnvApprovalKey] = cred.ApprovalKey
	env[EnvHTSID] = cred.HTSID
	env[EnvAppKey] = cred.AppKey
	env[EnvAppSecret] = cred.AppSecret
	env[EnvAccountNo] = cred.AccountNo
	env[EnvLive] = strconv.FormatBool(cred.Live)
	env[EnvProductCode] = cred.ProductCode
	env[EnvAccountType] = cred.AccountType
	env[EnvAccountName] = cred.AccountName
	env[EnvOwnerName] = cred.OwnerName
	env[EnvOwnerID] = cred.OwnerID
	env[EnvID] = cred.ID
	env[EnvDiscordWebhookURL] = cred.DiscordWebhookURL
	env[EnvActive] = strconv.FormatBool(cred.Active)

	if err := godotenv.Write(env, s.path); err != nil {
		return fmt.Errorf("write %s: %w", s.path, err)
	}
	// The file holds secrets.
	if err := os.Chmod(s.path, 0o600); err != nil {
		return fmt.Errorf("chmod %s: %w", s.path, err)
	}
	return nil
}

func parseBool(s string, def bool) bool {
	b, err := strconv.ParseBool(s)
	if err != nil {
		return def
	}
	return b
}

func withDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
