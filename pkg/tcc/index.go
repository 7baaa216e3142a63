package tcc

import (
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrAbsent is returned when no node of the requested kind exists.
	ErrAbsent = errors.New("tcc: no matching node")
	// ErrAmbiguous is returned when more than one node of the requested kind exists.
	ErrAmbiguous = errors.New("tcc: ambiguous node match")
)

// Limits bounds the proof size accepted before any traversal.
type Limits struct {
	MaxNodes int
	MaxEdges int
}

// DefaultLimits is applied when the caller does not configure one.
var DefaultLimits = Limits{MaxNodes: 4096, MaxEdges: 16384}

// StructuralError describes a TCC that cannot be indexed as a graph.
type StructuralError struct {
	Reason string
}

func (e *StructuralError) Error() string { return "tcc: " + e.Reason }

// Index is a read-only adjacency view over one TCC. It is built once per
// evaluation and never mutated afterwards.
type Index struct {
	t         TCC
	byID      map[string]Node
	adj       map[string][]string
	violation error
}

// NewIndex indexes t. Structural problems (oversize, duplicate or empty ids,
// edges to undeclared nodes) are recorded and reported by Violation; the
// graph queries on such an index answer false.
func NewIndex(t TCC, lim Limits) *Index {
	if lim.MaxNodes <= 0 || lim.MaxEdges <= 0 {
		lim = DefaultLimits
	}
	idx := &Index{
		t:    t,
		byID: make(map[string]Node),
		adj:  make(map[string][]string),
	}

	if len(t.Nodes) > lim.MaxNodes {
		idx.violation = &StructuralError{Reason: fmt.Sprintf("node count %d exceeds limit %d", len(t.Nodes), lim.MaxNodes)}
		return idx.reset()
	}
	if len(t.Edges) > lim.MaxEdges {
		idx.violation = &StructuralError{Reason: fmt.Sprintf("edge count %d exceeds limit %d", len(t.Edges), lim.MaxEdges)}
		return idx.reset()
	}

	for _, n := range t.Nodes {
		if n.ID == "" {
			idx.violation = &StructuralError{Reason: "node with empty id"}
			return idx.reset()
		}
		if _, dup := idx.byID[n.ID]; dup {
			idx.violation = &StructuralError{Reason: fmt.Sprintf("duplicate node id %q", n.ID)}
			return idx.reset()
		}
		idx.byID[n.ID] = n
	}

	for _, e := range t.Edges {
		if _, ok := idx.byID[e.From]; !ok {
			idx.violation = &StructuralError{Reason: fmt.Sprintf("edge source %q is not a declared node", e.From)}
			return idx.reset()
		}
		if _, ok := idx.byID[e.To]; !ok {
			idx.violation = &StructuralError{Reason: fmt.Sprintf("edge target %q is not a declared node", e.To)}
			return idx.reset()
		}
		idx.adj[e.From] = append(idx.adj[e.From], e.To)
	}
	return idx
}

func (idx *Index) reset() *Index {
	idx.byID = map[string]Node{}
	idx.adj = map[string][]string{}
	return idx
}

// Violation returns the structural error found while indexing, if any.
func (idx *Index) Violation() error { return idx.violation }

// TCC returns the indexed proof.
func (idx *Index) TCC() TCC { return idx.t }

// Has reports whether id is a declared node.
func (idx *Index) Has(id string) bool {
	_, ok := idx.byID[id]
	return ok
}

// IsDAG reports whether the edge relation is acyclic. It uses an iterative
// three-colour depth-first traversal so adversarial depth cannot exhaust the
// goroutine stack.
func (idx *Index) IsDAG() bool {
	if idx.violation != nil {
		return false
	}
	const (
		white = iota
		grey
		black
	)
	color := make(map[string]int, len(idx.byID))

	type frame struct {
		id   string
		next int
	}

	for _, start := range idx.sortedIDs() {
		if color[start] != white {
			continue
		}
		stack := []frame{{id: start}}
		color[start] = grey
		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			succ := idx.adj[top.id]
			if top.next == len(succ) {
				color[top.id] = black
				stack = stack[:len(stack)-1]
				continue
			}
			next := succ[top.next]
			top.next++
			switch color[next] {
			case grey:
				return false
			case white:
				color[next] = grey
				stack = append(stack, frame{id: next})
			}
		}
	}
	return true
}

// Reachable reports whether a directed path from -> to exists. A node is
// reachable from itself.
func (idx *Index) Reachable(from, to string) bool {
	if !idx.Has(from) || !idx.Has(to) {
		return false
	}
	return idx.ReachableFrom(from)[to]
}

// ReachableFrom returns the set of nodes reachable from root, root included.
func (idx *Index) ReachableFrom(root string) map[string]bool {
	seen := make(map[string]bool)
	if !idx.Has(root) {
		return seen
	}
	stack := []string{root}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[id] {
			continue
		}
		seen[id] = true
		for _, next := range idx.adj[id] {
			if !seen[next] {
				stack = append(stack, next)
			}
		}
	}
	return seen
}

// FindNodes returns every node of the given kind, ordered by id.
func (idx *Index) FindNodes(kind NodeKind) []Node {
	var out []Node
	for _, n := range idx.byID {
		if n.Kind == kind {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Authoritative returns the single node of the given kind. Zero matches
// yield ErrAbsent and several yield ErrAmbiguous; callers must treat both as
// failure rather than pick one.
func (idx *Index) Authoritative(kind NodeKind) (Node, error) {
	nodes := idx.FindNodes(kind)
	switch len(nodes) {
	case 0:
		return Node{}, fmt.Errorf("%w: kind %s", ErrAbsent, kind)
	case 1:
		return nodes[0], nil
	default:
		return Node{}, fmt.Errorf("%w: %d nodes of kind %s", ErrAmbiguous, len(nodes), kind)
	}
}

func (idx *Index) sortedIDs() []string {
	ids := make([]string, 0, len(idx.byID))
	for id := range idx.byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
