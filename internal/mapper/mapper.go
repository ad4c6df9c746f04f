// Package mapper translates partner field names to canonical variable ids.
package mapper

import (
	"fmt"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Resolver answers whether a canonical variable id is registered.
type Resolver interface {
	Lookup(id string) (*domain.VariableDefinition, error)
}

// Mapper applies a validated field mapping to raw partner records.
// Validation happens once at construction, never per record.
type Mapper struct {
	mapping  domain.FieldMapping
	resolver Resolver
}

// New validates the mapping against the registry and returns a mapper.
// Every target must be a registered variable id; a bad target fails the
// whole mapping with ErrMalformedMapping before any record is processed.
func New(mapping domain.FieldMapping, resolver Resolver) (*Mapper, error) {
	for field, id := range mapping {
		if field == "" || id == "" {
			return nil, fmt.Errorf("%w: empty field or target", domain.ErrMalformedMapping)
		}
		if _, err := resolver.Lookup(id); err != nil {
			return nil, fmt.Errorf("%w: %q -> %q is not a registered variable", domain.ErrMalformedMapping, field, id)
		}
	}
	return &Mapper{mapping: mapping, resolver: resolver}, nil
}

// Apply translates a raw record into a canonical record.
// Mapped fields are copied under their canonical ids; fields already named
// by a canonical id pass through unchanged; everything else is dropped.
func (m *Mapper) Apply(raw domain.RawRecord) domain.CanonicalRecord {
	out := make(domain.CanonicalRecord, len(raw))
	for field, value := range raw {
		if id, ok := m.mapping[field]; ok {
			out[id] = value
			continue
		}
		if _, err := m.resolver.Lookup(field); err == nil {
			out[field] = value
		}
	}
	return out
}

// Mapping returns the underlying field mapping.
func (m *Mapper) Mapping() domain.FieldMapping {
	return m.mapping
}
