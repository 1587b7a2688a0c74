package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"golang.org/x/oauth2"
)

var ErrUnknownProvider = errors.New("unknown or unconfigured provider")

// Profile is the identity a provider vouches for after a successful code
// exchange.
type Profile struct {
	ProviderAccountID string
	Email             string
	EmailVerified     bool
	DisplayName       string
	// TokenMaterial is the provider token serialized as JSON.
	TokenMaterial []byte
}

type Provider interface {
	Name() string
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*Profile, error)
}

// Registry holds the providers enabled by configuration.
type Registry struct {
	providers map[string]Provider
}

func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		r.providers[p.Name()] = p
	}
	return r
}

func (r *Registry) Get(name string) (Provider, error) {
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}
	return p, nil
}

// Names returns the enabled provider names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func marshalToken(token *oauth2.Token) []byte {
	data, err := json.Marshal(token)
	if err != nil {
		return nil
	}
	return data
}
