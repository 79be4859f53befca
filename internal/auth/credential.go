package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// KST is the fixed UTC+9 zone the gateway uses for expiry timestamps.
var KST = time.FixedZone("KST", 9*60*60)

// Credential is the long-lived gateway credential for one account.
type Credential struct {
	AccessToken string
	TokenExpiry time.Time // in KST
	ApprovalKey string    // empty until issued

	HTSID       string
	AppKey      string
	AppSecret   string
	AccountNo   string // cano
	ProductCode string // acnt_prdt_cd
	Live        bool

	AccountType       string
	AccountName       string
	OwnerName         string
	OwnerID           string
	ID                string
	DiscordWebhookURL string
	Active            bool
}

// Mode returns "live" or "paper".
func (c Credential) Mode() string {
	if c.Live {
		return "live"
	}
	return "paper"
}

// ExpiredAt reports whether the access token is expired at t.
func (c Credential) ExpiredAt(t time.Time) bool {
	return !t.In(KST).Before(c.TokenExpiry)
}

// Validate checks the fields required to open a streaming session.
func (c Credential) Validate() error {
	var missing []string
	if c.AccessToken == "" {
		missing = append(missing, "access token")
	}
	if c.TokenExpiry.IsZero() {
		missing = append(missing, "token expiry")
	}
	if c.HTSID == "" {
		missing = append(missing, "hts id")
	}
	if c.AppKey == "" {
		missing = append(missing, "app key")
	}
	if c.AppSecret == "" {
		missing = append(missing, "app secret")
	}
	if c.AccountNo == "" {
		missing = append(missing, "account number")
	}
	if len(missing) > 0 {
		return fmt.Errorf("credential missing %s", strings.Join(missing, ", "))
	}
	return nil
}

var expiryLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// ParseExpiry parses an expiry timestamp. Values without an offset are read as KST.
func ParseExpiry(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errors.New("empty expiry")
	}
	for _, layout := range expiryLayouts {
		if t, err := time.ParseInLocation(layout, s, KST); err == nil {
			return t.In(KST), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized expiry format %q", s)
}

// FormatExpiry renders an expiry in the format ParseExpiry reads back.
func FormatExpiry(t time.Time) string {
	return t.In(KST).Format(time.RFC3339)
}
