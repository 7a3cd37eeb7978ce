// Package confcode generates the short codes staff and attendees type to find a registration.
package confcode

import (
	"crypto/rand"
	"fmt"
	"io"
	"log"
	"strings"

	"golang.org/x/text/width"
)

// Alphabet holds digits and uppercase letters minus the confusable 0/O and 1/I.
// Its 32 symbols let a random byte map uniformly with a 5-bit mask.
const Alphabet = "23456789ABCDEFGHJKLMNPQRSTUVWXYZ"

// Length is the fixed code length
const Length = 6

// Classifier flags strings that must not be handed out as codes
type Classifier interface {
	IsOffensive(s string) bool
}

// Generator produces confirmation codes. It does not know which codes are already
// taken: the store rejects duplicates and the caller generates again.
type Generator struct {
	rand       io.Reader
	classifier Classifier
}

// NewGenerator creates a generator backed by crypto/rand. A nil classifier accepts every code.
func NewGenerator(classifier Classifier) *Generator {
	return &Generator{rand: rand.Reader, classifier: classifier}
}

// NewGeneratorWithReader creates a generator drawing randomness from r
func NewGeneratorWithReader(r io.Reader, classifier Classifier) *Generator {
	return &Generator{rand: r, classifier: classifier}
}

// Generate draws Length symbols independently and uniformly from Alphabet
func (g *Generator) Generate() (string, error) {
	buf := make([]byte, Length)
	if _, err := io.ReadFull(g.rand, buf); err != nil {
		return "", fmt.Errorf("read randomness: %w", err)
	}
	for i, b := range buf {
		buf[i] = Alphabet[b&31]
	}
	return string(buf), nil
}

// GenerateSafe generates codes until one passes the classifier, consulting it at most
// maxRetries times. When every attempt is rejected the last code is returned anyway:
// issuing a registration matters more than a perfect code.
func (g *Generator) GenerateSafe(maxRetries int) (string, error) {
	if maxRetries < 1 {
		maxRetries = 1
	}

	var code string
	for attempt := 0; attempt < maxRetries; attempt++ {
		var err error
		code, err = g.Generate()
		if err != nil {
			return "", err
		}
		if g.classifier == nil || !g.classifier.IsOffensive(code) {
			return code, nil
		}
	}

	log.Printf("confcode: all %d candidates flagged, using last one", maxRetries)
	return code, nil
}

// Normalize turns typed input into canonical code form: full-width characters from
// IME keyboards are folded to ASCII, separators dropped, letters upper-cased.
func Normalize(input string) string {
	folded := width.Fold.String(input)
	folded = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '_', '\t':
			return -1
		}
		return r
	}, folded)
	return strings.ToUpper(folded)
}

// Valid reports whether code has the issued length and alphabet
func Valid(code string) bool {
	if len(code) != Length {
		return false
	}
	for i := 0; i < len(code); i++ {
		if strings.IndexByte(Alphabet, code[i]) < 0 {
			return false
		}
	}
	return true
}
