package selector

import (
	"fmt"

	"computemesh/internal/domain"
)

// ProviderSource draws a random provider from the live provider set.
type ProviderSource interface {
	PickRandomProvider(requireEndpoint bool) (domain.Identity, string, bool)
}

// Target is a chosen provider.
type Target struct {
	Identity domain.Identity
	Endpoint string
}

// Selector picks load-balancing targets. It holds no state of its own.
type Selector struct {
	source ProviderSource
}

func New(source ProviderSource) *Selector {
	return &Selector{source: source}
}

// PickForRelay chooses any provider; commands relay over its connection so an
// endpoint is not needed.
func (s *Selector) PickForRelay() (Target, error) {
	id, endpoint, ok := s.source.PickRandomProvider(false)
	if !ok {
		return Target{}, domain.ErrNoProvider
	}
	return Target{Identity: id, Endpoint: endpoint}, nil
}

// PickForStream chooses a provider that advertised a directly reachable endpoint.
func (s *Selector) PickForStream() (Target, error) {
	id, endpoint, ok := s.source.PickRandomProvider(true)
	if !ok {
		return Target{}, fmt.Errorf("%w: no provider advertises an endpoint", domain.ErrNoProvider)
	}
	return Target{Identity: id, Endpoint: endpoint}, nil
}
