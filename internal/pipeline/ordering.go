package pipeline

import (
	"cmp"
	"fmt"
	"slices"
)

// Resolve computes the execution order for a set of descriptors.
//
// The algorithm:
//  1. Stable-sort by coarse Order ascending. Registration order breaks ties
//     and is also the visiting order of the topological sort.
//  2. Build the constraint graph. "A before B" and "B after A" both mean A
//     runs first. Constraints naming an identity that is not registered are
//     ignored.
//  3. Depth-first topological sort in coarse order: each node emits its
//     predecessors first, then itself. Reaching a node that is still on the
//     recursion stack is a cycle.
//
// Unconstrained nodes keep their coarse-sorted relative position. The input
// slice is not modified.
func Resolve(descriptors []Descriptor) ([]Descriptor, error) {
	list := make([]Descriptor, 0, len(descriptors))
	seen := make(map[Identity]bool, len(descriptors))
	for i, d := range descriptors {
		if d.Identity == "" {
			return nil, &BuildError{
				Code:    ErrCodeEmptyIdentity,
				Message: fmt.Sprintf("registration #%d has no identity", i),
			}
		}
		if seen[d.Identity] {
			return nil, &BuildError{
				Code:     ErrCodeDuplicateIdentity,
				Message:  "identity registered more than once",
				Identity: d.Identity,
			}
		}
		seen[d.Identity] = true
		list = append(list, d.clone())
	}

	slices.SortStableFunc(list, func(a, b Descriptor) int {
		return cmp.Compare(a.Order, b.Order)
	})

	preds := buildConstraintGraph(list)

	order, err := topoSort(list, preds)
	if err != nil {
		return nil, err
	}

	out := make([]Descriptor, len(order))
	for i, idx := range order {
		out[i] = list[idx]
	}
	return out, nil
}

// buildConstraintGraph returns, for every position in the coarse-sorted
// list, the positions that must run before it. Each predecessor list is
// deduplicated and ascending, so traversal follows coarse order.
func buildConstraintGraph(list []Descriptor) [][]int {
	pos := make(map[Identity]int, len(list))
	for i, d := range list {
		pos[d.Identity] = i
	}

	sets := make([]map[int]bool, len(list))
	for i := range sets {
		sets[i] = make(map[int]bool)
	}

	for i, d := range list {
		// d before X: d is a predecessor of X
		for _, target := range d.Before {
			if j, ok := pos[target]; ok {
				sets[j][i] = true
			}
		}
		// d after X: X is a predecessor of d
		for _, target := range d.After {
			if j, ok := pos[target]; ok {
				sets[i][j] = true
			}
		}
	}

	preds := make([][]int, len(list))
	for i, set := range sets {
		if len(set) == 0 {
			continue
		}
		ps := make([]int, 0, len(set))
		for p := range set {
			ps = append(ps, p)
		}
		slices.Sort(ps)
		preds[i] = ps
	}
	return preds
}

const (
	unvisited = iota
	visiting
	visited
)

// topoSort runs the depth-first sort and returns list positions in
// execution order.
func topoSort(list []Descriptor, preds [][]int) ([]int, error) {
	state := make([]int, len(list))
	stack := make([]int, 0, len(list))
	out := make([]int, 0, len(list))

	var visit func(n int) error
	visit = func(n int) error {
		switch state[n] {
		case visited:
			return nil
		case visiting:
			return cycleError(list, stack, n)
		}

		state[n] = visiting
		stack = append(stack, n)

		for _, p := range preds[n] {
			if err := visit(p); err != nil {
				return err
			}
		}

		stack = stack[:len(stack)-1]
		state[n] = visited
		out = append(out, n)
		return nil
	}

	for n := range list {
		if err := visit(n); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// cycleError reconstructs the cycle from the recursion stack. The stack
// follows predecessor edges, so the path is reversed to read in execution
// direction: each entry must run before the next.
func cycleError(list []Descriptor, stack []int, n int) *BuildError {
	start := slices.Index(stack, n)
	loop := append(slices.Clone(stack[start:]), n)
	slices.Reverse(loop)

	path := make([]Identity, len(loop))
	for i, idx := range loop {
		path[i] = list[idx].Identity
	}
	return NewCycleError(list[n].Identity, path)
}
