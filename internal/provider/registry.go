package provider

import (
	"sort"
	"sync"

	errors "github.com/pasalku/payment-gateway/internal"
)

// Info describes a registered provider for the capability listing endpoint.
type Info struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Method      string `json:"method"`
	MinAmount   int64  `json:"min_amount"`
	MaxAmount   int64  `json:"max_amount"`
	Enabled     bool   `json:"enabled"`
}

// Registry resolves a provider name to its adapter. Adapters are registered
// once at startup; adding a provider means registering a new adapter, not
// branching anywhere else.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
	infos    map[string]Info
}

func NewRegistry() *Registry {
	return &Registry{
		adapters: make(map[string]Adapter),
		infos:    make(map[string]Info),
	}
}

func (r *Registry) Register(info Info, adapter Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.adapters[info.Name] = adapter
	r.infos[info.Name] = info
}

func (r *Registry) Resolve(name string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	adapter, ok := r.adapters[name]
	if !ok {
		return nil, errors.ErrUnsupportedProvider
	}
	return adapter, nil
}

func (r *Registry) Supports(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.adapters[name]
	return ok
}

func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]Info, 0, len(r.infos))
	for _, info := range r.infos {
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}
