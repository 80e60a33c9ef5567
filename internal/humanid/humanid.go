// Package humanid generates cosmetic adjective-noun-number aliases such as "brisk-vortex-197".
//
// Aliases are not guaranteed unique by construction; uniqueness is enforced by the store.
package humanid

import (
	_ "embed"
	"fmt"
	"math/rand/v2"
	"regexp"
	"strings"
)

//go:embed words/adjectives.txt
var adjectivesRaw string

//go:embed words/nouns.txt
var nounsRaw string

var (
	adjectives = splitWords(adjectivesRaw)
	nouns      = splitWords(nounsRaw)

	pattern = regexp.MustCompile(`^[a-z]+-[a-z]+-[0-9]{3}$`)
)

// Generator produces aliases from a random source.
type Generator struct {
	intn func(n int) int
}

// New returns a generator backed by the global math/rand/v2 source.
func New() *Generator {
	return &Generator{intn: rand.IntN}
}

// NewWithSource returns a generator that draws indices from src, for deterministic tests.
func NewWithSource(src rand.Source) *Generator {
	r := rand.New(src)
	return &Generator{intn: r.IntN}
}

// Generate returns a new alias.
func (g *Generator) Generate() string {
	if g == nil || g.intn == nil {
		g = New()
	}
	adjective := adjectives[g.intn(len(adjectives))]
	noun := nouns[g.intn(len(nouns))]
	return fmt.Sprintf("%s-%s-%03d", adjective, noun, g.intn(1000))
}

var defaultGenerator = New()

// Generate returns a new alias from the default generator.
func Generate() string {
	return defaultGenerator.Generate()
}

// Valid reports whether s has the alias shape.
func Valid(s string) bool {
	return pattern.MatchString(s)
}

func splitWords(raw string) []string {
	lines := strings.Split(raw, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		word := strings.ToLower(strings.TrimSpace(line))
		if word == "" {
			continue
		}
		out = append(out, word)
	}
	return out
}
