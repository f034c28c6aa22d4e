package browser

import (
	"context"
	"strings"

	"github.com/JonMunkholm/tablebrowser/internal/dberr"
	"github.com/JonMunkholm/tablebrowser/internal/registry"
)

// DSNInput carries a connection target either as a DSN or as separate
// fields. A non-empty DSN wins.
type DSNInput struct {
	DSN    string              `json:"dsn"`
	Fields *registry.DSNFields `json:"fields,omitempty"`
}

// Resolve returns the DSN described by in.
func (in DSNInput) Resolve() (string, error) {
	if strings.TrimSpace(in.DSN) != "" {
		return in.DSN, nil
	}
	if in.Fields != nil {
		return registry.BuildDSN(*in.Fields)
	}
	return "", dberr.Validationf("dsn or fields is required")
}

// Connections lists the connection profiles with redacted DSNs.
func (s *Service) Connections(ctx context.Context) ([]registry.Profile, error) {
	return s.registry.List(ctx)
}

// TestConnection probes a DSN without storing it.
func (s *Service) TestConnection(ctx context.Context, in DSNInput) (registry.ProbeResult, error) {
	dsn, err := in.Resolve()
	if err != nil {
		return registry.ProbeResult{}, err
	}
	return s.registry.Test(ctx, dsn), nil
}

// CreateConnection stores a new profile once its DSN probes successfully.
func (s *Service) CreateConnection(ctx context.Context, name string, in DSNInput, readOnly bool) (registry.Profile, error) {
	dsn, err := in.Resolve()
	if err != nil {
		return registry.Profile{}, err
	}
	return s.registry.Create(ctx, name, dsn, readOnly)
}

// ActivateConnection makes id the active connection.
func (s *Service) ActivateConnection(ctx context.Context, id int64) (int64, error) {
	return s.registry.Activate(ctx, id)
}

// RemoveConnection deletes an inactive profile.
func (s *Service) RemoveConnection(ctx context.Context, id int64) error {
	return s.registry.Remove(ctx, id)
}
