package registry

import "time"

// Profile is a named connection to a PostgreSQL database.
type Profile struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	DSN       string    `json:"dsn"`
	ReadOnly  bool      `json:"read_only"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// Redacted returns a copy safe to show: the DSN password is masked.
func (p Profile) Redacted() Profile {
	p.DSN = Redact(p.DSN)
	return p
}

// ProbeResult is the outcome of a connection test.
type ProbeResult struct {
	OK      bool   `json:"ok"`
	Cause   string `json:"cause,omitempty"`
	Message string `json:"message,omitempty"`
}

// Seed is a profile declared in configuration.
type Seed struct {
	Name     string `koanf:"name"`
	DSN      string `koanf:"dsn"`
	ReadOnly bool   `koanf:"read_only"`
}
