// Package synonyms rewrites free-text queries by replacing known synonym
// phrases with their canonical category token.
package synonyms

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"
)

// Entry maps one canonical category to its synonym phrases.
type Entry struct {
	Category string   `json:"category"`
	Phrases  []string `json:"phrases"`
}

// Map is an ordered category → phrases mapping. Lookups walk entries in
// file order, so the first matching category wins.
type Map struct {
	entries []Entry
}

// New builds a Map from entries, lowercasing categories and phrases.
// Empty phrases are dropped.
func New(entries []Entry) *Map {
	m := &Map{entries: make([]Entry, 0, len(entries))}
	for _, e := range entries {
		cat := Fold(e.Category)
		if cat == "" {
			continue
		}
		var phrases []string
		for _, p := range e.Phrases {
			if p = Fold(p); p != "" {
				phrases = append(phrases, p)
			}
		}
		m.entries = append(m.entries, Entry{Category: cat, Phrases: phrases})
	}
	return m
}

// Load reads a synonym file. JSON and YAML are both accepted; either way the
// top level must be a mapping of category name to a list of phrases.
func Load(path string) (*Map, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".yaml", ".yml":
	default:
		return nil, fmt.Errorf("unsupported synonym file format %q", filepath.Ext(path))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading synonyms: %w", err)
	}
	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// Parse decodes a JSON or YAML synonym document, preserving key order.
func Parse(data []byte) (*Map, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing synonyms: %w", err)
	}
	if doc.Kind == 0 || len(doc.Content) == 0 {
		return New(nil), nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("synonyms: top level must be a mapping, got %s", kindName(root.Kind))
	}

	entries := make([]Entry, 0, len(root.Content)/2)
	for i := 0; i+1 < len(root.Content); i += 2 {
		key, val := root.Content[i], root.Content[i+1]
		var phrases []string
		switch val.Kind {
		case yaml.SequenceNode:
			if err := val.Decode(&phrases); err != nil {
				return nil, fmt.Errorf("synonyms for %q (line %d): %w", key.Value, val.Line, err)
			}
		case yaml.ScalarNode:
			phrases = []string{val.Value}
		default:
			return nil, fmt.Errorf("synonyms for %q (line %d): want a list of phrases", key.Value, val.Line)
		}
		entries = append(entries, Entry{Category: key.Value, Phrases: phrases})
	}
	return New(entries), nil
}

// Entries returns a copy of the entries in lookup order.
func (m *Map) Entries() []Entry {
	if m == nil {
		return nil
	}
	out := make([]Entry, len(m.entries))
	for i, e := range m.entries {
		out[i] = Entry{Category: e.Category, Phrases: append([]string(nil), e.Phrases...)}
	}
	return out
}

// Len returns the number of categories.
func (m *Map) Len() int {
	if m == nil {
		return 0
	}
	return len(m.entries)
}

// Normalize lowercases text and, for each category in order, replaces every
// occurrence of its first phrase found in the text with the category token.
// Text with no known phrase comes back lowercased and otherwise unchanged.
func (m *Map) Normalize(text string) string {
	text = Fold(text)
	if m == nil {
		return text
	}
	for _, e := range m.entries {
		for _, p := range e.Phrases {
			if strings.Contains(text, p) {
				text = strings.ReplaceAll(text, p, e.Category)
				break
			}
		}
	}
	return text
}

// MatchCategory returns the first category with any phrase present in text.
func (m *Map) MatchCategory(text string) (string, bool) {
	text = Fold(text)
	if m == nil || text == "" {
		return "", false
	}
	for _, e := range m.entries {
		for _, p := range e.Phrases {
			if strings.Contains(text, p) {
				return e.Category, true
			}
		}
	}
	return "", false
}

// Fold applies NFKC normalization, lowercases and trims s.
func Fold(s string) string {
	return strings.ToLower(strings.TrimSpace(norm.NFKC.String(s)))
}

func kindName(k yaml.Kind) string {
	switch k {
	case yaml.SequenceNode:
		return "sequence"
	case yaml.ScalarNode:
		return "scalar"
	case yaml.AliasNode:
		return "alias"
	default:
		return "document"
	}
}
