// Package directory provides a config-backed vendor directory. It
// stands in for the platform's CRM: vendly only needs to map API
// tokens to vendor identities and payout destinations, and a real
// deployment can swap in a CRM-backed implementation of
// domain.VendorDirectory.
package directory

import (
	"fmt"

	"github.com/vendly-hq/vendly/internal/domain"
)

// Entry is one vendor declaration from config.
type Entry struct {
	ID          string
	Name        string
	Destination string
	Token       string
}

// Static is an immutable in-memory directory.
type Static struct {
	byToken map[string]domain.Vendor
	byID    map[string]domain.Vendor
}

// NewStatic builds a directory from config entries. Later duplicates
// win, matching toml's last-value-wins behavior.
func NewStatic(entries []Entry) *Static {
	s := &Static{
		byToken: make(map[string]domain.Vendor, len(entries)),
		byID:    make(map[string]domain.Vendor, len(entries)),
	}
	for _, e := range entries {
		v := domain.Vendor{ID: e.ID, Name: e.Name, Destination: e.Destination}
		s.byID[e.ID] = v
		if e.Token != "" {
			s.byToken[e.Token] = v
		}
	}
	return s
}

// ResolveToken maps an API token to its vendor.
func (s *Static) ResolveToken(token string) (*domain.Vendor, error) {
	v, ok := s.byToken[token]
	if !ok {
		return nil, domain.ErrUnauthenticated
	}
	return &v, nil
}

// Vendor returns a vendor by id.
func (s *Static) Vendor(id string) (*domain.Vendor, error) {
	v, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("vendor %s: %w", id, domain.ErrVendorNotFound)
	}
	return &v, nil
}
