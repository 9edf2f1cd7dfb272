// Package graph compiles a stack's declared dependencies into a validated
// directed acyclic graph over service names.
package graph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/tsegert/convoy/internal/compose"
)

// Graph is an immutable dependency graph. An edge A → B means A depends on B:
// B must be running before A starts, and A must stop before B stops.
type Graph struct {
	nodes []string
	deps  map[string][]string
}

// UnknownDependencyError reports a dependency name that resolves to no
// declared service.
type UnknownDependencyError struct {
	Service string
	Missing string
}

func (e *UnknownDependencyError) Error() string {
	return fmt.Sprintf("service %q depends on %q which is not declared", e.Service, e.Missing)
}

// CyclicDependencyError reports a dependency cycle. Path holds the full cycle
// with the starting service repeated at the end, e.g. [a b a].
type CyclicDependencyError struct {
	Path []string
}

func (e *CyclicDependencyError) Error() string {
	return "cyclic dependency: " + strings.Join(e.Path, " -> ")
}

// Build validates the declared dependencies and returns the graph. Validation
// performs no side effects: a failed build means no service was touched.
func Build(services map[string]compose.ServiceSpec) (*Graph, error) {
	nodes := make([]string, 0, len(services))
	for name := range services {
		nodes = append(nodes, name)
	}
	sort.Strings(nodes)

	deps := make(map[string][]string, len(services))
	for _, name := range nodes {
		declared := services[name].DependsOn
		for _, dep := range declared {
			if _, ok := services[dep]; !ok {
				return nil, &UnknownDependencyError{Service: name, Missing: dep}
			}
		}
		deps[name] = append([]string(nil), declared...)
	}

	g := &Graph{nodes: nodes, deps: deps}
	if err := g.checkAcyclic(); err != nil {
		return nil, err
	}
	return g, nil
}

// checkAcyclic runs a depth-first traversal with an in-progress marker per
// node. Revisiting an in-progress node means a cycle; a self-dependency is
// the path-length-1 case of the same check.
func (g *Graph) checkAcyclic() error {
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	marks := make(map[string]int, len(g.nodes))

	var path []string
	var visit func(name string) error
	visit = func(name string) error {
		switch marks[name] {
		case done:
			return nil
		case visiting:
			start := 0
			for i, seen := range path {
				if seen == name {
					start = i
					break
				}
			}
			cycle := append(append([]string(nil), path[start:]...), name)
			return &CyclicDependencyError{Path: cycle}
		}

		marks[name] = visiting
		path = append(path, name)
		for _, dep := range g.deps[name] {
			if err := visit(dep); err != nil {
				return err
			}
		}
		path = path[:len(path)-1]
		marks[name] = done
		return nil
	}

	for _, name := range g.nodes {
		if err := visit(name); err != nil {
			return err
		}
	}
	return nil
}

// Nodes returns all service names in sorted order.
func (g *Graph) Nodes() []string {
	return append([]string(nil), g.nodes...)
}

// Dependencies returns the direct dependencies of a service.
func (g *Graph) Dependencies(name string) []string {
	return append([]string(nil), g.deps[name]...)
}

// Dependents returns the services that directly depend on name.
func (g *Graph) Dependents(name string) []string {
	var result []string
	for _, node := range g.nodes {
		for _, dep := range g.deps[node] {
			if dep == name {
				result = append(result, node)
				break
			}
		}
	}
	return result
}

// Levels partitions the graph into topological levels. A service's level is
// one past the deepest of its dependencies, so every service in level N has
// all dependencies in levels < N. Services within a level are mutually
// independent.
func (g *Graph) Levels() [][]string {
	depth := make(map[string]int, len(g.nodes))

	var resolve func(name string) int
	resolve = func(name string) int {
		if d, ok := depth[name]; ok {
			return d
		}
		max := 0
		for _, dep := range g.deps[name] {
			if d := resolve(dep) + 1; d > max {
				max = d
			}
		}
		depth[name] = max
		return max
	}

	deepest := 0
	for _, name := range g.nodes {
		if d := resolve(name); d > deepest {
			deepest = d
		}
	}

	levels := make([][]string, deepest+1)
	for _, name := range g.nodes {
		d := depth[name]
		levels[d] = append(levels[d], name)
	}
	return levels
}
