package canvas

import (
	"context"
	"errors"
	"testing"
)

type failingLookup struct{ err error }

func (f failingLookup) ResolveHumanID(context.Context, string) (string, bool, error) {
	return "", false, f.err
}

func TestResolver(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	canvas := &Canvas{Width: 1, Height: 1}
	if err := store.CreateCanvas(ctx, canvas); err != nil {
		t.Fatalf("CreateCanvas() error = %v", err)
	}
	resolver := NewResolver(store)

	tests := []struct {
		name       string
		identifier string
		want       string
	}{
		{"human id", canvas.HumanID, canvas.ID},
		{"canonical id", canvas.ID, canvas.ID},
		{"unknown passes through", "not-a-canvas", "not-a-canvas"},
		{"trims whitespace", "  " + canvas.HumanID + " ", canvas.ID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolver.Resolve(ctx, tt.identifier)
			if err != nil {
				t.Fatalf("Resolve() error = %v", err)
			}
			if got != tt.want {
				t.Fatalf("Resolve(%q) = %q, want %q", tt.identifier, got, tt.want)
			}
		})
	}

	if _, err := resolver.Resolve(ctx, ""); !errors.Is(err, ErrValidationFailed) {
		t.Fatalf("expected ErrValidationFailed for empty identifier, got %v", err)
	}
}

func TestResolverWrapsStorageErrors(t *testing.T) {
	resolver := NewResolver(failingLookup{err: errors.New("db down")})
	_, err := resolver.Resolve(context.Background(), "brisk-vortex-197")
	if !errors.Is(err, ErrStorageFailure) {
		t.Fatalf("expected ErrStorageFailure, got %v", err)
	}
}
