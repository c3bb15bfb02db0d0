package sync

import (
	"mailsync_server/core/domain"
	"mailsync_server/core/port/out"
	"mailsync_server/pkg/apperr"
)

// Registry dispatches to provider adapters by capability. Adding a
// provider means registering an adapter here, not branching in the
// engine.
type Registry struct {
	providers map[domain.Provider]out.MailProvider
}

func NewRegistry(providers ...out.MailProvider) *Registry {
	r := &Registry{providers: make(map[domain.Provider]out.MailProvider, len(providers))}
	for _, p := range providers {
		r.providers[p.Name()] = p
	}
	return r
}

// Get returns the adapter for the provider, or a BadRequest error for
// providers nothing is registered for.
func (r *Registry) Get(provider domain.Provider) (out.MailProvider, error) {
	p, ok := r.providers[provider]
	if !ok {
		return nil, apperr.BadRequest("unsupported provider: " + string(provider))
	}
	return p, nil
}

// Names lists the registered providers.
func (r *Registry) Names() []domain.Provider {
	names := make([]domain.Provider, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	return names
}
