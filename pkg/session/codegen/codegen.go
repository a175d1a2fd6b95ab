package codegen

import (
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/a-essam23/pairpad/pkg/session"
)

// DefaultAlphabet excludes visually ambiguous glyphs (0/O, 1/I/l).
const DefaultAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// DefaultLength is the default connection code length.
const DefaultLength = 6

// maxAttempts bounds the collision-retry loop so Generate always terminates.
const maxAttempts = 100

// Generator produces short human-typable room codes.
type Generator struct {
	length   int
	alphabet string
}

func New(length int, alphabet string) (*Generator, error) {
	if length <= 0 {
		return nil, fmt.Errorf("code length must be positive, got %d", length)
	}
	if len(alphabet) < 2 {
		return nil, errors.New("code alphabet needs at least 2 characters")
	}
	if len(alphabet) > 256 {
		return nil, errors.New("code alphabet cannot exceed 256 characters")
	}
	return &Generator{length: length, alphabet: alphabet}, nil
}

func (g *Generator) Length() int       { return g.length }
func (g *Generator) AlphabetSize() int { return len(g.alphabet) }

// Generate draws codes until one is not taken, up to the attempt budget.
// The taken predicate should report collisions against rooms that still
// exist; codes of destroyed rooms are free for reuse.
func (g *Generator) Generate(taken func(code string) bool) (string, error) {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		code, err := g.draw()
		if err != nil {
			return "", err
		}
		if taken != nil && taken(code) {
			continue
		}
		return code, nil
	}
	return "", session.ErrGenerationExhausted
}

// draw picks length characters uniformly from the alphabet. Rejection
// sampling keeps the draw unbiased for alphabets that don't divide 256.
func (g *Generator) draw() (string, error) {
	n := len(g.alphabet)
	limit := 256 - 256%n

	out := make([]byte, 0, g.length)
	buf := make([]byte, 1)
	for len(out) < g.length {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("reading randomness: %w", err)
		}
		if int(buf[0]) >= limit {
			continue
		}
		out = append(out, g.alphabet[int(buf[0])%n])
	}
	return string(out), nil
}
