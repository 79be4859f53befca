package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/oauth2"
)

// Account service paths.
const (
	loginPath    = "/api/v1/login/access-token"
	accountsPath = "/api/v1/accounts"
)

// AccountConfig configures the external account service.
type AccountConfig struct {
	BaseURL   string
	Username  string
	Password  string
	AccountNo string
}

// AccountService produces credentials: a stored, unexpired credential for
// the configured account is reused, otherwise it logs in and looks the
// account up again.
type AccountService struct {
	cfg        AccountConfig
	store      Store
	httpClient *http.Client
	logger     *slog.Logger
	now        func() time.Time
}

// NewAccountService creates an account service. store and httpClient may be nil.
func NewAccountService(cfg AccountConfig, store Store, httpClient *http.Client, logger *slog.Logger) *AccountService {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AccountService{
		cfg:        cfg,
		store:      store,
		httpClient: httpClient,
		logger:     logger,
		now:        time.Now,
	}
}

// Authenticate returns a usable credential for the configured account.
func (s *AccountService) Authenticate(ctx context.Context) (Credential, error) {
	if cred, ok := s.loadSaved(); ok {
		s.logger.Info("using saved credential",
			"account", cred.AccountNo,
			"expires", FormatExpiry(cred.TokenExpiry),
		)
		return cred, nil
	}

	s.logger.Info("logging in to account service", "base_url", s.cfg.BaseURL)
	tok, err := s.Login(ctx)
	if err != nil {
		return Credential{}, &AuthError{Op: "login", Err: err}
	}

	cred, err := s.FetchAccount(ctx, tok)
	if err != nil {
		return Credential{}, &AuthError{Op: "fetch account", Err: err}
	}

	if s.store != nil {
		if err := s.store.Save(cred); err != nil {
			s.logger.Warn("failed to persist credential", "account", cred.AccountNo, "error", err)
		}
	}

	s.logger.Info("credential refreshed",
		"account", cred.AccountNo,
		"mode", cred.Mode(),
		"expires", FormatExpiry(cred.TokenExpiry),
	)
	return cred, nil
}

// Login performs the password-credentials grant.
func (s *AccountService) Login(ctx context.Context) (*oauth2.Token, error) {
	conf := s.oauthConfig()
	tok, err := conf.PasswordCredentialsToken(s.withClient(ctx), s.cfg.Username, s.cfg.Password)
	if err != nil {
		return nil, fmt.Errorf("password grant: %w", err)
	}
	return tok, nil
}

// FetchAccount lists the user's accounts and builds the credential for the
// configured account number.
func (s *AccountService) FetchAccount(ctx context.Context, tok *oauth2.Token) (Credential, error) {
	ctx = s.withClient(ctx)
	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(tok))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.BaseURL+accountsPath, nil)
	if err != nil {
		return Credential{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return Credential{}, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Credential{}, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return Credential{}, &APIError{
			StatusCode: resp.StatusCode,
			Message:    http.StatusText(resp.StatusCode),
			Body:       body,
		}
	}

	var out accountsResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return Credential{}, fmt.Errorf("unmarshal accounts: %w", err)
	}

	for _, rec := range out.Data {
		if rec.CANO == s.cfg.AccountNo {
			return rec.credential()
		}
	}
	return Credential{}, fmt.Errorf("%w: %s", ErrAccountMissing, s.cfg.AccountNo)
}

func (s *AccountService) loadSaved() (Credential, bool) {
	if s.store == nil {
		return Credential{}, false
	}

	cred, err := s.store.Load()
	if err != nil {
		s.logger.Debug("no saved credential", "error", err)
		return Credential{}, false
	}

	switch {
	case cred == nil:
		return Credential{}, false
	case cred.AccountNo != s.cfg.AccountNo:
		s.logger.Info("saved credential is for another account", "saved", cred.AccountNo)
		return Credential{}, false
	case cred.Validate() != nil:
		s.logger.Info("saved credential is incomplete", "error", cred.Validate())
		return Credential{}, false
	case cred.ExpiredAt(s.now()):
		s.logger.Warn("saved token expired", "expires", FormatExpiry(cred.TokenExpiry))
		return Credential{}, false
	}
	return *cred, true
}

func (s *AccountService) oauthConfig() *oauth2.Config {
	return &oauth2.Config{
		Endpoint: oauth2.Endpoint{
			TokenURL:  s.cfg.BaseURL + loginPath,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

func (s *AccountService) withClient(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, s.httpClient)
}

// -----------------------------------------------------------------------------
// Wire types
// -----------------------------------------------------------------------------

type accountsResponse struct {
	Data []accountRecord `json:"data"`
}

type accountRecord struct {
	KISAccessToken     string     `json:"kis_access_token"`
	AccessTokenExpired string     `json:"access_token_expired"`
	HTSID              string     `json:"hts_id"`
	AppKey             string     `json:"app_key"`
	AppSecret          string     `json:"app_secret"`
	CANO               string     `json:"cano"`
	ApprovalKey        string     `json:"approval_key"`
	AcntPrdtCd         string     `json:"acnt_prdt_cd"`
	AcntType           string     `json:"acnt_type"`
	AcntName           string     `json:"acnt_name"`
	OwnerName          string     `json:"owner_name"`
	OwnerID            flexString `json:"owner_id"`
	ID                 flexString `json:"id"`
	DiscordWebhookURL  string     `json:"discord_webhook_url"`
	IsActive           *bool      `json:"is_active"`
}

func (r accountRecord) credential() (Credential, error) {
	expiry, err := ParseExpiry(r.AccessTokenExpired)
	if err != nil {
		return Credential{}, fmt.Errorf("account %s: %w", r.CANO, err)
	}

	cred := Credential{
		AccessToken:       r.KISAccessToken,
		TokenExpiry:       expiry,
		ApprovalKey:       r.ApprovalKey,
		HTSID:             r.HTSID,
		AppKey:            r.AppKey,
		AppSecret:         r.AppSecret,
		AccountNo:         r.CANO,
		ProductCode:       r.AcntPrdtCd,
		AccountType:       r.AcntType,
		AccountName:       r.AcntName,
		OwnerName:         r.OwnerName,
		OwnerID:           string(r.OwnerID),
		ID:                string(r.ID),
		DiscordWebhookURL: r.DiscordWebhookURL,
		Active:            r.IsActive == nil || *r.IsActive,
	}
	if cred.ProductCode == "" {
		cred.ProductCode = "01"
	}
	if cred.AccountType == "" {
		cred.AccountType = "live"
	}
	cred.Live = cred.AccountType == "live"

	return cred, cred.Validate()
}

// flexString accepts a JSON string or number.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}
