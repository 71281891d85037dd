package engine

import (
	"fmt"
	"sort"
	"strings"
)

// CycleError reports a dependency cycle among layers.
type CycleError struct {
	Cycle []int
}

func (e *CycleError) Error() string {
	parts := make([]string, len(e.Cycle))
	for i, id := range e.Cycle {
		parts[i] = fmt.Sprintf("%d", id)
	}
	return "engine: dependency cycle: " + strings.Join(parts, " -> ")
}

// resolveOrder orders the requested layer ids so that every dependency
// within the request precedes its dependents. Dependencies outside the
// requested set are ignored, not pulled in. Ties resolve by ascending
// id so the order is stable, and the dependency-free case degrades to
// a plain sort. An iterative DFS avoids stack growth on long chains.
func resolveOrder(ids []int, deps map[int][]int) ([]int, error) {
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	requested := make(map[int]bool, len(ids))
	for _, id := range ids {
		requested[id] = true
	}
	state := make(map[int]int)
	order := make([]int, 0, len(ids))

	roots := append([]int(nil), ids...)
	sort.Ints(roots)

	for _, root := range roots {
		if state[root] == done {
			continue
		}
		stack := []frame{{id: root}}
		state[root] = visiting
		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			children := inSetDeps(deps[top.id], requested)
			if top.next < len(children) {
				child := children[top.next]
				top.next++
				switch state[child] {
				case unvisited:
					state[child] = visiting
					stack = append(stack, frame{id: child})
				case visiting:
					return nil, &CycleError{Cycle: cyclePath(stack, child)}
				}
				continue
			}
			state[top.id] = done
			order = append(order, top.id)
			stack = stack[:len(stack)-1]
		}
	}
	return order, nil
}

// inSetDeps filters a dependency list to the requested subset, sorted.
func inSetDeps(ds []int, requested map[int]bool) []int {
	out := make([]int, 0, len(ds))
	for _, d := range ds {
		if requested[d] {
			out = append(out, d)
		}
	}
	sort.Ints(out)
	return out
}

// cyclePath extracts the cycle from the DFS stack, starting at the
// frame for the revisited node and closing back on it.
func cyclePath(stack []frame, repeat int) []int {
	start := 0
	for i, f := range stack {
		if f.id == repeat {
			start = i
			break
		}
	}
	cycle := make([]int, 0, len(stack)-start+1)
	for _, f := range stack[start:] {
		cycle = append(cycle, f.id)
	}
	return append(cycle, repeat)
}

// frame is one DFS stack entry: a node and the index of the next
// dependency to visit.
type frame struct {
	id   int
	next int
}
