// Package waitgraph maintains the directed wait-for graph used for
// cycle-based deadlock detection. Nodes are owner identities; an edge
// waiter -> holder exists while waiter is queued on a resource the holder
// currently owns.
package waitgraph

import "sync"

// Graph is a counted adjacency map. Edges are reference counted because the
// same owner identity may wait on several resources held by the same holder
// from different goroutines.
type Graph struct {
	mu    sync.RWMutex
	edges map[string]map[string]int
}

// New constructs an empty wait-for graph.
func New() *Graph {
	return &Graph{edges: make(map[string]map[string]int)}
}

// AddEdge records that waiter is blocked on a resource held by holder.
func (g *Graph) AddEdge(waiter, holder string) {
	if waiter == "" || holder == "" {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	out := g.edges[waiter]
	if out == nil {
		out = make(map[string]int)
		g.edges[waiter] = out
	}
	out[holder]++
}

// RemoveEdge drops one waiter -> holder reference.
func (g *Graph) RemoveEdge(waiter, holder string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := g.edges[waiter]
	if out == nil {
		return
	}
	if out[holder] <= 1 {
		delete(out, holder)
	} else {
		out[holder]--
	}
	if len(out) == 0 {
		delete(g.edges, waiter)
	}
}

// RemoveNode removes every edge where id appears as waiter or holder.
func (g *Graph) RemoveNode(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.edges, id)
	for waiter, out := range g.edges {
		delete(out, id)
		if len(out) == 0 {
			delete(g.edges, waiter)
		}
	}
}

// Reset drops all edges.
func (g *Graph) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.edges = make(map[string]map[string]int)
}

// Len returns the number of nodes with outgoing edges.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.edges)
}

// FindCycle performs a depth-first search and returns the node identities of
// one cycle in wait order, or nil when the graph is acyclic. Only one cycle
// is reported per call; the resolver removes an edge and calls again.
func (g *Graph) FindCycle() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	const (
		unvisited = 0
		inStack   = 1
		finished  = 2
	)
	state := make(map[string]int, len(g.edges))
	var stack []string

	var visit func(node string) []string
	visit = func(node string) []string {
		state[node] = inStack
		stack = append(stack, node)
		for next := range g.edges[node] {
			switch state[next] {
			case inStack:
				// Back edge: the cycle is the stack suffix starting at next.
				for i, n := range stack {
					if n == next {
						cycle := make([]string, len(stack)-i)
						copy(cycle, stack[i:])
						return cycle
					}
				}
			case unvisited:
				if cycle := visit(next); cycle != nil {
					return cycle
				}
			}
		}
		stack = stack[:len(stack)-1]
		state[node] = finished
		return nil
	}

	for node := range g.edges {
		if state[node] != unvisited {
			continue
		}
		if cycle := visit(node); cycle != nil {
			return cycle
		}
	}
	return nil
}
