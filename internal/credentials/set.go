package credentials

import (
	"fmt"
	"sync/atomic"

	"github.com/vyrodovalexey/avarfc/internal/config"
	"github.com/vyrodovalexey/avarfc/internal/observability"
	"github.com/vyrodovalexey/avarfc/internal/rfc"
)

// Set holds the credential provider of every configured destination.
type Set struct {
	providers atomic.Pointer[map[string]rfc.CredentialProvider]
	logger    observability.Logger
}

// NewSet builds the providers of dests.
func NewSet(dests []config.DestinationConfig, logger observability.Logger) (*Set, error) {
	if logger == nil {
		logger = observability.NopLogger()
	}
	s := &Set{logger: logger}
	if err := s.Reload(dests); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload replaces every provider. On error the previous providers stay.
func (s *Set) Reload(dests []config.DestinationConfig) error {
	providers := make(map[string]rfc.CredentialProvider, len(dests))
	for i := range dests {
		p, err := New(dests[i].Credentials, s.logger)
		if err != nil {
			return fmt.Errorf("destination %s: %w", dests[i].Name, err)
		}
		providers[dests[i].Name] = p
	}
	s.providers.Store(&providers)
	return nil
}

// Provider returns the provider of destination. Unknown destinations get
// no credentials.
func (s *Set) Provider(destination string) rfc.CredentialProvider {
	if p, ok := (*s.providers.Load())[destination]; ok {
		return p
	}
	return None()
}
