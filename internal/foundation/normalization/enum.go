// Package normalization maps loosely written configuration strings onto enum values.
package normalization

import (
	"fmt"
	"slices"
	"strings"
)

// EnumNormalizer resolves case-insensitive, whitespace-tolerant names, including
// aliases, to values of T.
type EnumNormalizer[T comparable] struct {
	name   string
	values map[string]T
	def    T
	keys   []string
}

// NewEnumNormalizer creates a normalizer named name (used in error messages) that
// returns def for unknown input.
func NewEnumNormalizer[T comparable](name string, values map[string]T, def T) *EnumNormalizer[T] {
	e := &EnumNormalizer[T]{name: name, values: make(map[string]T, len(values)), def: def}
	for k, v := range values {
		key := clean(k)
		e.values[key] = v
		e.keys = append(e.keys, key)
	}
	slices.Sort(e.keys)
	return e
}

// Normalize returns the value for raw, or the default.
func (e *EnumNormalizer[T]) Normalize(raw string) T {
	if v, ok := e.values[clean(raw)]; ok {
		return v
	}
	return e.def
}

// NormalizeWithValidation returns the value for raw or an error listing the accepted names.
func (e *EnumNormalizer[T]) NormalizeWithValidation(raw string) (T, error) {
	if v, ok := e.values[clean(raw)]; ok {
		return v, nil
	}
	var zero T
	return zero, fmt.Errorf("invalid %s %q, valid options: %s", e.name, raw, strings.Join(e.keys, ", "))
}

// ValidValues returns the accepted names in sorted order.
func (e *EnumNormalizer[T]) ValidValues() []string {
	return slices.Clone(e.keys)
}

func clean(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
