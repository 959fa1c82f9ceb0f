// Package filter matches items against key=value filters supplied on the command line.
package filter

import (
	"fmt"
	"slices"
	"sort"
	"strings"
)

// Predicate reports whether item satisfies the filter value.
type Predicate[T any] func(item T, value string) bool

// StringValueProvider extracts a single string field from an item.
type StringValueProvider[T any] func(T) string

// StringValuesProvider extracts a list of strings from an item.
type StringValuesProvider[T any] func(T) []string

// Matcher holds the predicates available for a type, keyed by filter name.
type Matcher[T any] struct {
	predicates map[string]Predicate[T]
}

// Option configures a Matcher.
type Option[T any] func(*Matcher[T]) error

// NormalizeString lower-cases and trims s.
func NormalizeString(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// NewMatcher returns a Matcher with the given predicates.
func NewMatcher[T any](opt ...Option[T]) (*Matcher[T], error) {
	m := &Matcher[T]{predicates: make(map[string]Predicate[T])}

	for _, o := range opt {
		if o == nil {
			continue
		}
		if err := o(m); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// WithPredicate registers p under key.
func WithPredicate[T any](key string, p Predicate[T]) Option[T] {
	return func(m *Matcher[T]) error {
		k := NormalizeString(key)
		if k == "" {
			return fmt.Errorf("filter key cannot be empty")
		}
		if p == nil {
			return fmt.Errorf("predicate for filter '%s' cannot be nil", k)
		}
		m.predicates[k] = p
		return nil
	}
}

// Keys returns the supported filter keys in sorted order.
func (m *Matcher[T]) Keys() []string {
	keys := make([]string, 0, len(m.predicates))
	for k := range m.predicates {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Validate returns an error naming every filter key the matcher does not support.
func (m *Matcher[T]) Validate(filters map[string]string) error {
	var unknown []string
	for key := range filters {
		k := NormalizeString(key)
		if _, ok := m.predicates[k]; !ok {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) == 0 {
		return nil
	}

	sort.Strings(unknown)
	return fmt.Errorf(
		"unsupported filter keys: %s (supported: %s)",
		strings.Join(unknown, ", "),
		strings.Join(m.Keys(), ", "),
	)
}

// Match reports whether item satisfies every filter. Unknown keys never match.
func (m *Matcher[T]) Match(item T, filters map[string]string) bool {
	for key, val := range filters {
		p, ok := m.predicates[NormalizeString(key)]
		if !ok || !p(item, val) {
			return false
		}
	}
	return true
}

// Filter returns the items that satisfy every filter, preserving order.
func (m *Matcher[T]) Filter(items []T, filters map[string]string) ([]T, error) {
	if err := m.Validate(filters); err != nil {
		return nil, err
	}
	if len(filters) == 0 {
		return items, nil
	}

	return slices.DeleteFunc(slices.Clone(items), func(item T) bool {
		return !m.Match(item, filters)
	}), nil
}

// Equals matches when the provided value equals the filter value, ignoring case.
func Equals[T any](provider StringValueProvider[T]) Predicate[T] {
	return func(item T, val string) bool {
		return NormalizeString(provider(item)) == NormalizeString(val)
	}
}

// Partial matches when the provided value contains the filter value, ignoring case.
func Partial[T any](provider StringValueProvider[T]) Predicate[T] {
	return func(item T, val string) bool {
		return strings.Contains(NormalizeString(provider(item)), NormalizeString(val))
	}
}

// HasAll matches when the provided values include every comma-separated filter value.
func HasAll[T any](provider StringValuesProvider[T]) Predicate[T] {
	return func(item T, val string) bool {
		have := make(map[string]struct{})
		for _, v := range provider(item) {
			have[NormalizeString(v)] = struct{}{}
		}

		for _, r := range strings.Split(val, ",") {
			r = NormalizeString(r)
			if r == "" {
				continue
			}
			if _, ok := have[r]; !ok {
				return false
			}
		}
		return true
	}
}
