// Package dependency orders pipelines into waves from the entity types they
// read and write.
package dependency

import (
	"fmt"
	"sort"
	"strings"

	"github.com/krisbrooking/Rowbot-sub000/pkg/errors"
	"github.com/krisbrooking/Rowbot-sub000/pkg/pipeline"
)

// ErrDependencyCycle is returned when pipelines depend on each other.
var ErrDependencyCycle = errors.New(errors.ErrorTypeDependency, "dependency cycle")

// Node is a pipeline, or anything else carrying dependency metadata.
type Node interface {
	Name() string
	Dependencies() pipeline.DependencyResolution
}

// group is every node loading one target entity type. Pipelines without a
// target are a group of their own.
type group[T Node] struct {
	members []T
	target  string
	sources map[string]struct{}
	after   map[int]struct{} // indices of groups that must run first
}

// Resolve splits nodes into waves. Every node in a wave only depends on
// nodes of earlier waves; nodes within a wave are independent. Pipelines
// loading the same target share a wave. Input order is kept within a wave.
func Resolve[T Node](nodes []T) ([][]T, error) {
	groups, byTarget := groupByTarget(nodes)

	for i, g := range groups {
		for source := range g.sources {
			j, ok := byTarget[source]
			if !ok || j == i {
				continue
			}
			g.after[j] = struct{}{}
		}
	}

	var (
		waves [][]T
		done  = make(map[int]bool, len(groups))
	)
	for len(done) < len(groups) {
		var ready []int
		for i, g := range groups {
			if done[i] || !satisfied(g.after, done) {
				continue
			}
			ready = append(ready, i)
		}
		if len(ready) == 0 {
			return nil, cycleError(groups, done)
		}

		var wave []T
		for _, i := range ready {
			done[i] = true
			wave = append(wave, groups[i].members...)
		}
		waves = append(waves, wave)
	}
	return waves, nil
}

func groupByTarget[T Node](nodes []T) ([]*group[T], map[string]int) {
	var groups []*group[T]
	byTarget := make(map[string]int)

	for _, n := range nodes {
		deps := n.Dependencies()

		var g *group[T]
		if i, ok := byTarget[deps.TargetEntityType]; ok && deps.TargetEntityType != "" {
			g = groups[i]
		} else {
			g = &group[T]{
				target:  deps.TargetEntityType,
				sources: make(map[string]struct{}),
				after:   make(map[int]struct{}),
			}
			if g.target != "" {
				byTarget[g.target] = len(groups)
			}
			groups = append(groups, g)
		}

		g.members = append(g.members, n)
		for _, s := range deps.SourceEntityTypes {
			g.sources[s] = struct{}{}
		}
	}
	return groups, byTarget
}

func satisfied(after map[int]struct{}, done map[int]bool) bool {
	for j := range after {
		if !done[j] {
			return false
		}
	}
	return true
}

// cycleError names the pipelines on a cycle. Remaining groups nothing else
// waits on are only blocked by a cycle and are left out.
func cycleError[T Node](groups []*group[T], done map[int]bool) error {
	remaining := make(map[int]bool)
	for i := range groups {
		if !done[i] {
			remaining[i] = true
		}
	}
	for pruned := true; pruned; {
		pruned = false
		for i := range remaining {
			if !awaited(i, groups, remaining) {
				delete(remaining, i)
				pruned = true
			}
		}
	}

	var names []string
	for i := range remaining {
		for _, m := range groups[i].members {
			names = append(names, m.Name())
		}
	}
	sort.Strings(names)
	return fmt.Errorf("%w between %s", ErrDependencyCycle, strings.Join(names, ", "))
}

func awaited[T Node](i int, groups []*group[T], remaining map[int]bool) bool {
	for j := range remaining {
		if _, ok := groups[j].after[i]; ok {
			return true
		}
	}
	return false
}
