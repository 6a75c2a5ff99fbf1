// Package dag provides the pure graph operations over a models.DAG:
// topological layering, cycle detection, and argument template
// resolution. It holds no execution state — pkg/executor drives
// layers produced here.
package dag

import (
	"sort"

	"github.com/casys-ai/pml/pkg/models"
	"github.com/casys-ai/pml/pkg/pmlerrors"
)

// Layers partitions a DAG's tasks into execution layers via Kahn's
// algorithm: layer 0 holds every task with no dependencies, layer k holds
// every task whose dependencies all resolved by layer k-1. Tasks within a
// layer carry no ordering guarantee beyond task ID, making layering
// canonical (reproducible) across runs for an unchanged DAG.
//
// Returns CyclicDag if the DAG is not acyclic.
func Layers(d *models.DAG) ([][]int, error) {
	indegree := make(map[int]int, len(d.Tasks))
	dependents := make(map[int][]int, len(d.Tasks))
	for _, t := range d.Tasks {
		if _, ok := indegree[t.ID]; !ok {
			indegree[t.ID] = 0
		}
		for _, dep := range t.DependsOn {
			indegree[t.ID]++
			dependents[dep] = append(dependents[dep], t.ID)
		}
	}

	var layers [][]int
	remaining := len(indegree)
	frontier := rootsOf(indegree)

	for len(frontier) > 0 {
		sort.Ints(frontier)
		layers = append(layers, frontier)
		remaining -= len(frontier)

		var next []int
		for _, id := range frontier {
			for _, dep := range dependents[id] {
				indegree[dep]--
				if indegree[dep] == 0 {
					next = append(next, dep)
				}
			}
		}
		frontier = next
	}

	if remaining > 0 {
		return nil, pmlerrors.New(pmlerrors.KindCyclicDag,
			"%d task(s) unreachable from any root — the DAG contains a cycle", remaining)
	}
	return layers, nil
}

// rootsOf returns the ids with zero indegree, in no particular order.
func rootsOf(indegree map[int]int) []int {
	var roots []int
	for id, deg := range indegree {
		if deg == 0 {
			roots = append(roots, id)
		}
	}
	return roots
}

// Acyclic reports whether the DAG has no cycles, without building layers.
func Acyclic(d *models.DAG) bool {
	_, err := Layers(d)
	return err == nil
}

// BreakCycle drops the lowest-prior-success-support edge found along a
// cycle, so the planner can recover a usable DAG instead of failing
// outright when greedy argument-template inference creates an
// accidental back-edge. support maps a "fromID->toID" edge key (see
// EdgeKey) to its prior success count; edges absent from support are
// treated as zero-support and are the first candidates for removal.
//
// Returns the mutated DAG's task whose DependsOn entry was dropped, and
// the id that was removed from it, so the caller can log what happened.
func BreakCycle(d *models.DAG, support map[string]int64) (taskID int, droppedDep int, ok bool) {
	cycle := findCycle(d)
	if len(cycle) == 0 {
		return 0, 0, false
	}

	worstScore := int64(-1)
	worstTask, worstDep := 0, 0
	found := false
	for i, to := range cycle {
		from := cycle[(i+1)%len(cycle)]
		score := support[EdgeKey(from, to)]
		if !found || score < worstScore {
			worstScore, worstTask, worstDep, found = score, to, from, true
		}
	}
	if !found {
		return 0, 0, false
	}

	t := d.TaskByID(worstTask)
	if t == nil {
		return 0, 0, false
	}
	t.DependsOn = removeInt(t.DependsOn, worstDep)
	return worstTask, worstDep, true
}

// EdgeKey builds the lookup key BreakCycle's support map uses for a
// from->to dependency edge.
func EdgeKey(from, to int) string {
	return itoa(from) + "->" + itoa(to)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var digits []byte
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	if neg {
		digits = append([]byte{'-'}, digits...)
	}
	return string(digits)
}

func removeInt(s []int, v int) []int {
	out := s[:0]
	for _, x := range s {
		if x != v {
			out = append(out, x)
		}
	}
	return out
}

// findCycle returns one cycle as a sequence of task ids (each depending
// on the next, wrapping around), or nil if the DAG is acyclic. DFS-based
// with a recursion-stack color map.
func findCycle(d *models.DAG) []int {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[int]int, len(d.Tasks))
	var stack []int
	var cycle []int

	var visit func(id int) bool
	visit = func(id int) bool {
		color[id] = gray
		stack = append(stack, id)

		t := d.TaskByID(id)
		if t != nil {
			for _, dep := range t.DependsOn {
				switch color[dep] {
				case white:
					if visit(dep) {
						return true
					}
				case gray:
					// found the back-edge; the cycle is the stack from dep to
					// the top, where each id depends on the next and the top
					// depends on dep
					for i, sid := range stack {
						if sid == dep {
							cycle = append(cycle, stack[i:]...)
							break
						}
					}
					return true
				}
			}
		}

		stack = stack[:len(stack)-1]
		color[id] = black
		return false
	}

	for _, t := range d.Tasks {
		if color[t.ID] == white {
			if visit(t.ID) {
				return cycle
			}
		}
	}
	return nil
}
