package ordering

import (
	"container/heap"
	"slices"
	"sort"

	"github.com/goliatone/go-object-graph/oid"
	"github.com/goliatone/go-object-graph/rowstore"
)

// Topological is the default Sorter. It applies these rules:
//   - an insert or update referencing a pending insert runs after it
//   - a delete referencing a pending delete runs before it
//   - an update releasing a pending delete runs before it
//
// Independent operations keep their input order. An insert referencing
// itself is a cycle of one.
type Topological struct{}

// Default returns the default sorter.
func Default() Sorter { return Topological{} }

// Sort implements Sorter.
func (Topological) Sort(ops []Operation, caps rowstore.Capabilities) (Plan, error) {
	g := buildGraph(ops)
	order := g.kahn()
	loops := selfReferences(ops)
	if len(order) == len(ops) && len(loops) == 0 {
		return Plan{Ops: pick(ops, order)}, nil
	}

	if !caps.DeferredConstraints {
		cycle := loops
		if len(order) < len(ops) {
			cycle = g.cycleIDs(ops, order)
			for _, id := range loops {
				if !slices.Contains(cycle, id) {
					cycle = append(cycle, id)
				}
			}
		}
		return Plan{}, NewCycleError(cycle)
	}

	placed := make([]bool, len(ops))
	for _, i := range order {
		placed[i] = true
	}
	for i := range ops {
		if !placed[i] {
			order = append(order, i)
		}
	}
	return Plan{Ops: pick(ops, order), Deferred: true}, nil
}

// selfReferences returns the inserts that reference their own id.
func selfReferences(ops []Operation) []oid.ID {
	var out []oid.ID
	for _, op := range ops {
		if op.Kind != rowstore.Insert {
			continue
		}
		for _, ref := range op.Refs {
			if ref == op.ID {
				out = append(out, op.ID)
				break
			}
		}
	}
	return out
}

type graph struct {
	out      [][]int
	indegree []int
}

func buildGraph(ops []Operation) *graph {
	inserts := make(map[oid.ID]int)
	deletes := make(map[oid.ID]int)
	for i, op := range ops {
		switch op.Kind {
		case rowstore.Insert:
			inserts[op.ID] = i
		case rowstore.Delete:
			deletes[op.ID] = i
		}
	}

	g := &graph{out: make([][]int, len(ops)), indegree: make([]int, len(ops))}
	seen := make(map[[2]int]bool)
	edge := func(from, to int) {
		if from == to || seen[[2]int{from, to}] {
			return
		}
		seen[[2]int{from, to}] = true
		g.out[from] = append(g.out[from], to)
		g.indegree[to]++
	}

	for i, op := range ops {
		switch op.Kind {
		case rowstore.Insert, rowstore.Update:
			for _, ref := range op.Refs {
				if j, ok := inserts[ref]; ok {
					edge(j, i)
				}
			}
			if op.Kind == rowstore.Update {
				for _, rel := range op.Releases {
					if j, ok := deletes[rel]; ok {
						edge(i, j)
					}
				}
			}
		case rowstore.Delete:
			for _, ref := range op.Refs {
				if j, ok := deletes[ref]; ok {
					edge(i, j)
				}
			}
		}
	}
	for _, targets := range g.out {
		sort.Ints(targets)
	}
	return g
}

// kahn returns the indexes it could order; fewer than len(ops) means a cycle.
func (g *graph) kahn() []int {
	indegree := append([]int(nil), g.indegree...)
	ready := &intHeap{}
	for i, d := range indegree {
		if d == 0 {
			heap.Push(ready, i)
		}
	}
	order := make([]int, 0, len(indegree))
	for ready.Len() > 0 {
		i := heap.Pop(ready).(int)
		order = append(order, i)
		for _, j := range g.out[i] {
			indegree[j]--
			if indegree[j] == 0 {
				heap.Push(ready, j)
			}
		}
	}
	return order
}

// cycleIDs returns the ids of operations that sit on a cycle, found with
// Tarjan's strongly connected components over the unordered remainder.
func (g *graph) cycleIDs(ops []Operation, ordered []int) []oid.ID {
	done := make([]bool, len(ops))
	for _, i := range ordered {
		done[i] = true
	}

	var (
		index   int
		stack   []int
		indices = make(map[int]int)
		lowlink = make(map[int]int)
		onStack = make(map[int]bool)
		inCycle = make(map[int]bool)
	)
	var connect func(v int)
	connect = func(v int) {
		indices[v], lowlink[v] = index, index
		index++
		stack = append(stack, v)
		onStack[v] = true
		for _, w := range g.out[v] {
			if done[w] {
				continue
			}
			if _, visited := indices[w]; !visited {
				connect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}
		if lowlink[v] == indices[v] {
			var scc []int
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			if len(scc) > 1 {
				for _, w := range scc {
					inCycle[w] = true
				}
			}
		}
	}
	for i := range ops {
		if !done[i] {
			if _, visited := indices[i]; !visited {
				connect(i)
			}
		}
	}

	var ids []oid.ID
	for i := range ops {
		if inCycle[i] {
			ids = append(ids, ops[i].ID)
		}
	}
	return ids
}

func pick(ops []Operation, order []int) []Operation {
	out := make([]Operation, len(order))
	for k, i := range order {
		out[k] = ops[i]
	}
	return out
}

type intHeap []int

func (h intHeap) Len() int           { return len(h) }
func (h intHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h intHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *intHeap) Push(x any)        { *h = append(*h, x.(int)) }
func (h *intHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
