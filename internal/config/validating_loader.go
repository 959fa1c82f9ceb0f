package config

import (
	"errors"
	"fmt"
	"maps"
	"os/exec"
	"slices"
	"strings"
)

// ValidationPredicate evaluates a loaded Config and returns an error if invalid.
type ValidationPredicate func(*Config) error

// validatingLoader wraps a Loader to run additional validation predicates at load time.
// Uses decorator pattern to preserve custom loader implementations while adding validation.
type validatingLoader struct {
	Loader
	predicates []ValidationPredicate
}

// NewValidatingLoader creates a loader that runs validation predicates after Load().
func NewValidatingLoader(inner Loader, predicates ...ValidationPredicate) *validatingLoader {
	return &validatingLoader{
		Loader:     inner,
		predicates: predicates,
	}
}

// Load delegates to inner loader, then runs validation predicates.
func (l *validatingLoader) Load(path string) (*Config, error) {
	cfg, err := l.Loader.Load(path)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, fmt.Errorf("invalid config structure")
	}

	for _, predicate := range l.predicates {
		if err := predicate(cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// ValidateCommands ensures the command of every enabled server resolves to an executable.
func ValidateCommands(cfg *Config) error {
	var errs []error
	for _, entry := range cfg.Servers {
		def := entry.Definition()
		if !def.Enabled {
			continue
		}
		if _, err := exec.LookPath(def.Command); err != nil {
			errs = append(errs, fmt.Errorf("server '%s': command '%s' not found: %w", def.Name, def.Command, err))
		}
	}

	return errors.Join(errs...)
}

// ValidateNoPortConflicts rejects configurations where enabled servers declare the same port.
func ValidateNoPortConflicts(cfg *Config) error {
	owners := make(map[int][]string)
	for _, entry := range cfg.Servers {
		def := entry.Definition()
		if !def.Enabled {
			continue
		}
		for _, port := range slices.Compact(slices.Sorted(slices.Values(def.Ports))) {
			owners[port] = append(owners[port], def.Name)
		}
	}

	var errs []error
	for _, port := range slices.Sorted(maps.Keys(owners)) {
		if names := owners[port]; len(names) > 1 {
			errs = append(errs, fmt.Errorf("port %d is declared by %s", port, strings.Join(names, ", ")))
		}
	}

	return errors.Join(errs...)
}
