package canvas

import (
	"context"
	"strings"
)

// AliasLookup is the slice of Store the resolver needs.
type AliasLookup interface {
	ResolveHumanID(ctx context.Context, alias string) (string, bool, error)
}

// Resolver maps a human alias or canonical id to the canonical id.
type Resolver struct {
	lookup AliasLookup
}

// NewResolver creates a resolver over the given lookup.
func NewResolver(lookup AliasLookup) *Resolver {
	return &Resolver{lookup: lookup}
}

// Resolve returns the canonical id for identifier. Anything that is not a known
// alias is returned unchanged; a typo surfaces later as NotFound.
func (r *Resolver) Resolve(ctx context.Context, identifier string) (string, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return "", ValidationFailed("resolve", "canvas identifier is required", nil)
	}
	id, found, err := r.lookup.ResolveHumanID(ctx, identifier)
	if err != nil {
		if KindOf(err) == "" {
			return "", StorageFailure("resolve", err)
		}
		return "", err
	}
	if found {
		return id, nil
	}
	return identifier, nil
}
