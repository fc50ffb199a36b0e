package capability

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/bychrisr/kaven-boilerplate-sub002/pkg/apperrors"
)

// Capability describes a single registered permission.
type Capability struct {
	Code        Code   `json:"code" yaml:"code"`
	Category    string `json:"category" yaml:"category"`
	Description string `json:"description" yaml:"description"`
}

// Catalog is the read-only registry of known capabilities. Safe for
// concurrent use: it is never mutated after construction.
type Catalog struct {
	byCode map[Code]Capability
	sorted []Capability
}

// NewCatalog builds a catalog from capability definitions. Duplicate codes
// are rejected.
func NewCatalog(caps []Capability) (*Catalog, error) {
	byCode := make(map[Code]Capability, len(caps))
	for _, c := range caps {
		if _, err := ParseCode(string(c.Code)); err != nil {
			return nil, err
		}
		if _, dup := byCode[c.Code]; dup {
			return nil, apperrors.Newf(apperrors.KindValidation,
				"duplicate capability code %q", c.Code)
		}
		byCode[c.Code] = c
	}

	sorted := make([]Capability, 0, len(byCode))
	for _, c := range byCode {
		sorted = append(sorted, c)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Code < sorted[j].Code })

	return &Catalog{byCode: byCode, sorted: sorted}, nil
}

// LoadCatalog reads capability definitions from a YAML file.
//
// File format:
//
//	capabilities:
//	  - code: tickets.read
//	    category: support
//	    description: View support tickets
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read capability catalog: %w", err)
	}

	var file struct {
		Capabilities []Capability `yaml:"capabilities"`
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse capability catalog: %w", err)
	}

	return NewCatalog(file.Capabilities)
}

// Lookup returns the capability registered under code.
func (c *Catalog) Lookup(code Code) (Capability, error) {
	cap, ok := c.byCode[code]
	if !ok {
		return Capability{}, apperrors.Newf(apperrors.KindNotFound,
			"unknown capability code %q", code).
			WithDetail("code", string(code))
	}
	return cap, nil
}

// Has reports whether code is registered.
func (c *Catalog) Has(code Code) bool {
	_, ok := c.byCode[code]
	return ok
}

// List returns the registered capabilities ordered by code, optionally
// filtered by category. The returned slice is a copy; callers may range
// over it repeatedly or mutate it freely.
func (c *Catalog) List(category string) []Capability {
	if category == "" {
		out := make([]Capability, len(c.sorted))
		copy(out, c.sorted)
		return out
	}
	var out []Capability
	for _, cap := range c.sorted {
		if cap.Category == category {
			out = append(out, cap)
		}
	}
	return out
}

// Len returns the number of registered capabilities.
func (c *Catalog) Len() int {
	return len(c.sorted)
}

// ValidateCodes parses and checks a batch of raw codes against the catalog.
// It returns the parsed codes, or a single validation error naming every
// unknown or malformed code.
func (c *Catalog) ValidateCodes(raw []string) ([]Code, error) {
	codes := make([]Code, 0, len(raw))
	var bad []string
	for _, r := range raw {
		code, err := ParseCode(r)
		if err != nil {
			bad = append(bad, r)
			continue
		}
		if !c.Has(code) {
			bad = append(bad, r)
			continue
		}
		codes = append(codes, code)
	}
	if len(bad) > 0 {
		err := apperrors.Newf(apperrors.KindValidation,
			"unknown capability codes: %v", bad)
		for _, b := range bad {
			err = err.WithDetail(b, "unknown")
		}
		return nil, err
	}
	return codes, nil
}
