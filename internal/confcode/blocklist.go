package confcode

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed blocklist.yaml
var defaultBlocklist []byte

type blocklistFile struct {
	Words []string `yaml:"words"`
}

// Blocklist is a Classifier matching case-insensitive substrings
type Blocklist struct {
	words []string
}

// NewBlocklist builds a classifier from words
func NewBlocklist(words []string) *Blocklist {
	b := &Blocklist{}
	for _, w := range words {
		w = strings.ToUpper(strings.TrimSpace(w))
		if w != "" {
			b.words = append(b.words, w)
		}
	}
	return b
}

// DefaultBlocklist returns the built-in word list
func DefaultBlocklist() *Blocklist {
	b, err := parseBlocklist(defaultBlocklist)
	if err != nil {
		panic(fmt.Sprintf("confcode: embedded blocklist is invalid: %v", err))
	}
	return b
}

// LoadBlocklist reads a YAML word list ({words: [...]}) from path
func LoadBlocklist(path string) (*Blocklist, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read blocklist: %w", err)
	}
	b, err := parseBlocklist(data)
	if err != nil {
		return nil, fmt.Errorf("parse blocklist %s: %w", path, err)
	}
	return b, nil
}

func parseBlocklist(data []byte) (*Blocklist, error) {
	var f blocklistFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	return NewBlocklist(f.Words), nil
}

// IsOffensive implements Classifier
func (b *Blocklist) IsOffensive(s string) bool {
	s = strings.ToUpper(s)
	for _, w := range b.words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

// Len returns the number of words
func (b *Blocklist) Len() int {
	return len(b.words)
}
