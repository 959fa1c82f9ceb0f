package health

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/mozilla-ai/fleetd/internal/domain"
)

// portConflict is a port declared by more than one enabled server.
type portConflict struct {
	Port    int
	Servers []string
}

func (c portConflict) message() string {
	return fmt.Sprintf("port %d is declared by %s", c.Port, strings.Join(c.Servers, ", "))
}

// findPortConflicts returns every shared port among enabled servers, ordered by port.
func findPortConflicts(defs []domain.ServerDefinition) []portConflict {
	owners := make(map[int][]string)
	for _, def := range defs {
		if !def.Enabled {
			continue
		}
		for _, port := range slices.Compact(slices.Sorted(slices.Values(def.Ports))) {
			owners[port] = append(owners[port], def.Name)
		}
	}

	var conflicts []portConflict
	for _, port := range slices.Sorted(maps.Keys(owners)) {
		if servers := owners[port]; len(servers) > 1 {
			slices.Sort(servers)
			conflicts = append(conflicts, portConflict{Port: port, Servers: servers})
		}
	}

	return conflicts
}

// conflictIssues returns the health issues conflicts cause for the named server.
func conflictIssues(conflicts []portConflict, name string) []string {
	var issues []string
	for _, c := range conflicts {
		if !slices.Contains(c.Servers, name) {
			continue
		}
		others := slices.DeleteFunc(slices.Clone(c.Servers), func(s string) bool { return s == name })
		issues = append(issues, fmt.Sprintf("port conflict: port %d also declared by %s", c.Port, strings.Join(others, ", ")))
	}
	return issues
}
