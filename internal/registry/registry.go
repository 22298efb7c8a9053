// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// Category groups entity kinds that share a confidence scale
type Category string

const (
	CategoryPII       Category = "PII"
	CategoryFinancial Category = "FINANCIAL"
	CategorySecret    Category = "SECRET"
	CategoryTopic     Category = "TOPIC"
)

// Categories lists every category in report order
var Categories = []Category{CategoryPII, CategoryFinancial, CategorySecret, CategoryTopic}

// ParseCategory converts a case-insensitive category name
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range Categories {
		if c == known {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown entity category %q", s)
}

// MatcherType says which recognizer variant can produce a kind
type MatcherType string

const (
	MatcherRegex MatcherType = "regex"
	MatcherModel MatcherType = "model"
)

// Validation hooks a regex kind may name. The pattern recognizer implements them.
var KnownValidators = []string{"luhn", "iban", "ssn"}

// Scale is a pair of label boundaries: score >= High is HIGH, score >= Low is MEDIUM
type Scale struct {
	Low  float64 `yaml:"low"`
	High float64 `yaml:"high"`
}

// DefaultScale is used for categories without a configured scale
var DefaultScale = Scale{Low: 0.40, High: 0.80}

// Pattern is one capture rule of a regex kind
type Pattern struct {
	Regex string  `yaml:"regex"`
	Group int     `yaml:"group"`
	Score float64 `yaml:"score"`

	re *regexp.Regexp
}

// Compiled returns the compiled expression
func (p Pattern) Compiled() *regexp.Regexp {
	return p.re
}

// EntityKind is an immutable catalog entry
type EntityKind struct {
	Name        string      `yaml:"name"`
	Label       string      `yaml:"label"`
	Category    Category    `yaml:"category"`
	Matcher     MatcherType `yaml:"matcher"`
	Patterns    []Pattern   `yaml:"patterns,omitempty"`
	ModelLabels []string    `yaml:"model_labels,omitempty"`
	Validate    string      `yaml:"validate,omitempty"`

	// Scale optionally overrides the category scale for this kind
	Scale *Scale `yaml:"confidence_scale,omitempty"`
}

// Catalog is the serialized form of the registry
type Catalog struct {
	Kinds []EntityKind `yaml:"kinds"`
}

// Registry is the read-only entity catalog. It is safe for concurrent use.
type Registry struct {
	kinds        []EntityKind
	byName       map[string]int
	byCategory   map[Category][]int
	byModelLabel map[string]int
	scales       map[Category]Scale
}

// Default returns a registry built from the embedded catalog
func Default() (*Registry, error) {
	return LoadDefault(nil)
}

// LoadDefault builds the embedded catalog with per-category scales
func LoadDefault(scales map[Category]Scale) (*Registry, error) {
	return Load(bytes.NewReader(defaultCatalog), scales)
}

// LoadFile builds a registry from a YAML catalog file
func LoadFile(path string, scales map[Category]Scale) (*Registry, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open entity catalog: %w", err)
	}
	defer f.Close()
	return Load(f, scales)
}

// Load builds a registry from a YAML catalog. scales sets per-category
// label boundaries; missing categories fall back to DefaultScale.
func Load(r io.Reader, scales map[Category]Scale) (*Registry, error) {
	var catalog Catalog
	if err := yaml.NewDecoder(r).Decode(&catalog); err != nil {
		return nil, fmt.Errorf("failed to parse entity catalog: %w", err)
	}
	return New(catalog, scales)
}

// New validates and indexes a catalog
func New(catalog Catalog, scales map[Category]Scale) (*Registry, error) {
	if len(catalog.Kinds) == 0 {
		return nil, fmt.Errorf("entity catalog is empty")
	}

	reg := &Registry{
		byName:       make(map[string]int),
		byCategory:   make(map[Category][]int),
		byModelLabel: make(map[string]int),
		scales:       make(map[Category]Scale),
	}

	for _, c := range Categories {
		reg.scales[c] = DefaultScale
	}
	for c, s := range scales {
		if err := validateScale(s); err != nil {
			return nil, fmt.Errorf("category %s: %w", c, err)
		}
		reg.scales[c] = s
	}

	for _, kind := range catalog.Kinds {
		compiled, err := compileKind(kind)
		if err != nil {
			return nil, err
		}
		if _, dup := reg.byName[compiled.Name]; dup {
			return nil, fmt.Errorf("duplicate entity kind %q", compiled.Name)
		}

		idx := len(reg.kinds)
		reg.kinds = append(reg.kinds, compiled)
		reg.byName[compiled.Name] = idx
		reg.byCategory[compiled.Category] = append(reg.byCategory[compiled.Category], idx)

		for _, label := range compiled.ModelLabels {
			key := strings.ToLower(label)
			if other, dup := reg.byModelLabel[key]; dup {
				return nil, fmt.Errorf("model label %q claimed by both %s and %s", label, reg.kinds[other].Name, compiled.Name)
			}
			reg.byModelLabel[key] = idx
		}
	}

	return reg, nil
}

func compileKind(kind EntityKind) (EntityKind, error) {
	kind.Name = strings.TrimSpace(kind.Name)
	if kind.Name == "" {
		return kind, fmt.Errorf("entity kind with empty name")
	}
	if kind.Label == "" {
		kind.Label = kind.Name
	}

	category, err := ParseCategory(string(kind.Category))
	if err != nil {
		return kind, fmt.Errorf("entity kind %s: %w", kind.Name, err)
	}
	kind.Category = category

	if kind.Scale != nil {
		if err := validateScale(*kind.Scale); err != nil {
			return kind, fmt.Errorf("entity kind %s: %w", kind.Name, err)
		}
		s := *kind.Scale
		kind.Scale = &s
	}

	switch kind.Matcher {
	case MatcherRegex:
		if len(kind.Patterns) == 0 {
			return kind, fmt.Errorf("entity kind %s: regex matcher needs at least one pattern", kind.Name)
		}
		patterns := make([]Pattern, len(kind.Patterns))
		for i, p := range kind.Patterns {
			re, err := regexp.Compile(p.Regex)
			if err != nil {
				return kind, fmt.Errorf("entity kind %s pattern %d: %w", kind.Name, i, err)
			}
			if p.Group < 0 || p.Group > re.NumSubexp() {
				return kind, fmt.Errorf("entity kind %s pattern %d: group %d out of range", kind.Name, i, p.Group)
			}
			if p.Score == 0 {
				p.Score = 1.0
			}
			if p.Score < 0 || p.Score > 1 {
				return kind, fmt.Errorf("entity kind %s pattern %d: score %v outside [0,1]", kind.Name, i, p.Score)
			}
			p.re = re
			patterns[i] = p
		}
		kind.Patterns = patterns
		if kind.Validate != "" && !isKnownValidator(kind.Validate) {
			return kind, fmt.Errorf("entity kind %s: unknown validator %q", kind.Name, kind.Validate)
		}
	case MatcherModel:
		if len(kind.ModelLabels) == 0 {
			return kind, fmt.Errorf("entity kind %s: model matcher needs at least one model label", kind.Name)
		}
		kind.ModelLabels = append([]string(nil), kind.ModelLabels...)
	default:
		return kind, fmt.Errorf("entity kind %s: unknown matcher %q", kind.Name, kind.Matcher)
	}

	return kind, nil
}

func validateScale(s Scale) error {
	if s.Low < 0 || s.High > 1 || s.Low > s.High {
		return fmt.Errorf("invalid confidence scale low=%.2f high=%.2f", s.Low, s.High)
	}
	return nil
}

func isKnownValidator(name string) bool {
	for _, v := range KnownValidators {
		if v == name {
			return true
		}
	}
	return false
}

// Lookup returns the kinds of one category in registration order
func (r *Registry) Lookup(category Category) []EntityKind {
	idxs := r.byCategory[category]
	out := make([]EntityKind, 0, len(idxs))
	for _, i := range idxs {
		out = append(out, r.kinds[i])
	}
	return out
}

// All returns every kind in registration order
func (r *Registry) All() []EntityKind {
	return append([]EntityKind(nil), r.kinds...)
}

// Kind returns a kind by name
func (r *Registry) Kind(name string) (EntityKind, bool) {
	i, ok := r.byName[name]
	if !ok {
		return EntityKind{}, false
	}
	return r.kinds[i], true
}

// KindForModelLabel maps a label emitted by a model back to a registered kind
func (r *Registry) KindForModelLabel(label string) (EntityKind, bool) {
	i, ok := r.byModelLabel[strings.ToLower(strings.TrimSpace(label))]
	if !ok {
		return EntityKind{}, false
	}
	return r.kinds[i], true
}

// Select resolves kind names, returning an error naming every unknown one.
// An empty list selects every kind.
func (r *Registry) Select(names []string) ([]EntityKind, error) {
	if len(names) == 0 {
		return r.All(), nil
	}

	var unknown []string
	seen := make(map[string]bool)
	var out []EntityKind
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		if c, err := ParseCategory(name); err == nil {
			for _, k := range r.Lookup(c) {
				if !seen[k.Name] {
					seen[k.Name] = true
					out = append(out, k)
				}
			}
			continue
		}
		k, ok := r.Kind(name)
		if !ok {
			unknown = append(unknown, name)
			continue
		}
		out = append(out, k)
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, fmt.Errorf("unknown entity kinds: %s", strings.Join(unknown, ", "))
	}
	return out, nil
}

// CategoryScale returns the label boundaries of a category
func (r *Registry) CategoryScale(category Category) Scale {
	if s, ok := r.scales[category]; ok {
		return s
	}
	return DefaultScale
}

// ConfidenceScale returns (low, high) for a kind: its own override if it has
// one, otherwise its category's scale. Unknown kinds get DefaultScale.
func (r *Registry) ConfidenceScale(name string) (float64, float64) {
	kind, ok := r.Kind(name)
	if !ok {
		return DefaultScale.Low, DefaultScale.High
	}
	if kind.Scale != nil {
		return kind.Scale.Low, kind.Scale.High
	}
	s := r.CategoryScale(kind.Category)
	return s.Low, s.High
}
