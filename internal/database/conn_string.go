package database

import (
	"net"
	"net/url"
	"strconv"

	"github.com/rickgao/kis-vi/internal/config"
)

// ApplicationName is reported to the server for every journal connection.
const ApplicationName = "kis-vi"

// BuildConnString builds a PostgreSQL URL from config. Credentials are
// escaped so passwords may contain reserved characters.
func BuildConnString(cfg config.DBConfig) string {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = config.DefaultDBSSLMode
	}

	q := url.Values{}
	q.Set("sslmode", sslMode)
	q.Set("application_name", ApplicationName)

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Path:     "/" + cfg.Name,
		RawQuery: q.Encode(),
	}
	return u.String()
}
