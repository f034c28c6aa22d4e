package registry

import (
	"net"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/JonMunkholm/tablebrowser/internal/dberr"
)

// DSNFields are the parts of a connection entered one by one.
type DSNFields struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"sslmode"`
}

// DefaultPort is used when DSNFields leaves the port empty.
const DefaultPort = 5432

// BuildDSN assembles a postgresql:// URL from fields.
func BuildDSN(f DSNFields) (string, error) {
	host := strings.TrimSpace(f.Host)
	if host == "" {
		return "", dberr.Validationf("host is required")
	}
	if strings.TrimSpace(f.Database) == "" {
		return "", dberr.Validationf("database is required")
	}
	port := f.Port
	if port == 0 {
		port = DefaultPort
	}
	if port < 1 || port > 65535 {
		return "", dberr.Validationf("port must be between 1 and 65535")
	}

	u := url.URL{
		Scheme: "postgresql",
		Host:   net.JoinHostPort(host, strconv.Itoa(port)),
		Path:   "/" + strings.TrimSpace(f.Database),
	}
	switch {
	case f.User != "" && f.Password != "":
		u.User = url.UserPassword(f.User, f.Password)
	case f.User != "":
		u.User = url.User(f.User)
	}
	if f.SSLMode != "" {
		u.RawQuery = url.Values{"sslmode": {f.SSLMode}}.Encode()
	}
	return u.String(), nil
}

var kvPassword = regexp.MustCompile(`(?i)(password\s*=\s*)('(?:[^'\\]|\\.)*'|\S+)`)

// Redact masks the password of a URL or key=value DSN.
func Redact(dsn string) string {
	if strings.Contains(dsn, "://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "<unparseable dsn>"
		}
		if q := u.Query(); q.Has("password") {
			q.Set("password", "xxxxx")
			u.RawQuery = q.Encode()
		}
		return u.Redacted()
	}
	return kvPassword.ReplaceAllString(dsn, "${1}xxxxx")
}
