package dag

import (
	"fmt"
	"sort"
	"sync"

	"github.com/zclconf/go-cty/cty"

	"github.com/vk/byteflow/internal/nodeid"
	"github.com/vk/byteflow/internal/op"
	"github.com/vk/byteflow/internal/ptype"
	"github.com/vk/byteflow/internal/registry"
)

// Graph is an arena of nodes indexed by stable identifier, plus the typed
// edges between them. All methods are concurrency-safe; Evaluate holds the
// write lock for the full pass, so the graph accepts no mutation while a
// pass is running.
type Graph struct {
	mu     sync.RWMutex
	reg    *registry.Registry
	nextID nodeid.ID
	nodes  map[nodeid.ID]*node
}

// New creates an empty graph backed by the given operation registry.
func New(reg *registry.Registry) *Graph {
	return &Graph{
		reg:   reg,
		nodes: make(map[nodeid.ID]*node),
	}
}

// AddNode instantiates the operation registered under opID, validates cfg
// against its config schema, and adds a new node. The returned identifier
// is never reused, even after removal.
func (g *Graph) AddNode(opID string, cfg map[string]cty.Value) (nodeid.ID, error) {
	impl, spec, err := g.reg.NewOperation(opID)
	if err != nil {
		return nodeid.None, err
	}
	applied, err := spec.Config.Apply(cfg)
	if err != nil {
		return nodeid.None, fmt.Errorf("adding %q: %w", opID, err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.nextID++
	id := g.nextID
	g.nodes[id] = &node{
		id:     id,
		spec:   spec,
		impl:   impl,
		config: applied,
		in:     make(map[string]Edge),
		out:    make(map[endpoint]Edge),
		dirty:  true,
	}
	return id, nil
}

// RemoveNode deletes a node and every edge touching it. Downstream nodes
// that lose an input are marked dirty together with their descendants.
func (g *Graph) RemoveNode(id nodeid.ID) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	n, ok := g.nodes[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}

	for _, e := range n.in {
		delete(g.nodes[e.SrcNode].out, endpoint{node: id, port: e.DstPort})
	}
	severed := make([]nodeid.ID, 0, len(n.out))
	for ep := range n.out {
		delete(g.nodes[ep.node].in, ep.port)
		severed = append(severed, ep.node)
	}
	delete(g.nodes, id)

	for _, dst := range severed {
		g.markDirty(dst)
	}
	return nil
}

// Connect adds a directed edge from an output port to an input port. The
// call is rejected, leaving the edge set unchanged, when either endpoint is
// missing, the types are incompatible, the input is taken, or the edge
// would introduce a cycle. On success the destination and its transitive
// descendants are marked dirty.
func (g *Graph) Connect(src nodeid.ID, srcPort string, dst nodeid.ID, dstPort string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	srcNode, ok := g.nodes[src]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, src)
	}
	dstNode, ok := g.nodes[dst]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, dst)
	}

	srcSpec, ok := srcNode.spec.Output(srcPort)
	if !ok {
		return fmt.Errorf("%w: %s has no output %q", ErrPortNotFound, src, srcPort)
	}
	dstSpec, ok := dstNode.spec.Input(dstPort)
	if !ok {
		return fmt.Errorf("%w: %s has no input %q", ErrPortNotFound, dst, dstPort)
	}

	if !ptype.Compatible(srcSpec.Type, dstSpec.Type) {
		return fmt.Errorf("%w: %s(%s) -> %s(%s)",
			ErrPortTypeMismatch, srcPort, srcSpec.Type, dstPort, dstSpec.Type)
	}

	if _, taken := dstNode.in[dstPort]; taken {
		return fmt.Errorf("%w: %s input %q", ErrInputAlreadyConnected, dst, dstPort)
	}

	// Adding src->dst closes a loop exactly when src is already reachable
	// from dst. Checking reachability here keeps every committed mutation
	// acyclic without re-sorting the whole graph.
	if src == dst || g.reachable(dst, src) {
		return fmt.Errorf("%w: %s -> %s", ErrWouldCreateCycle, src, dst)
	}

	e := Edge{SrcNode: src, SrcPort: srcPort, DstNode: dst, DstPort: dstPort}
	dstNode.in[dstPort] = e
	srcNode.out[endpoint{node: dst, port: dstPort}] = e

	g.markDirty(dst)
	return nil
}

// Disconnect removes the incoming edge of an input port and marks the
// destination and its descendants dirty.
func (g *Graph) Disconnect(dst nodeid.ID, dstPort string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	dstNode, ok := g.nodes[dst]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, dst)
	}
	if _, ok := dstNode.spec.Input(dstPort); !ok {
		return fmt.Errorf("%w: %s has no input %q", ErrPortNotFound, dst, dstPort)
	}
	e, ok := dstNode.in[dstPort]
	if !ok {
		return fmt.Errorf("%w: %s input %q", ErrNoSuchConnection, dst, dstPort)
	}

	delete(dstNode.in, dstPort)
	delete(g.nodes[e.SrcNode].out, endpoint{node: dst, port: dstPort})

	g.markDirty(dst)
	return nil
}

// SetConfig validates and applies a single configuration value, then marks
// the node and its transitive descendants dirty. Ancestors are unaffected.
func (g *Graph) SetConfig(id nodeid.ID, key string, val cty.Value) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	n, ok := g.nodes[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	if err := n.spec.Config.Validate(key, val); err != nil {
		return fmt.Errorf("configuring %s: %w", id, err)
	}

	n.config[key] = val
	g.markDirty(id)
	return nil
}

// markDirty flags a node and every transitive descendant as stale and
// clears their caches. Callers hold the write lock.
func (g *Graph) markDirty(start nodeid.ID) {
	stack := []nodeid.ID{start}
	seen := make(map[nodeid.ID]bool)
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[id] {
			continue
		}
		seen[id] = true
		n, ok := g.nodes[id]
		if !ok {
			continue
		}
		n.dirty = true
		n.cache = nil
		for dep := range n.downstreamIDs() {
			stack = append(stack, dep)
		}
	}
}

// reachable reports whether `to` can be reached from `from` by following
// edges downstream. Callers hold the lock.
func (g *Graph) reachable(from, to nodeid.ID) bool {
	stack := []nodeid.ID{from}
	seen := make(map[nodeid.ID]bool)
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if id == to {
			return true
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		if n, ok := g.nodes[id]; ok {
			for next := range n.downstreamIDs() {
				stack = append(stack, next)
			}
		}
	}
	return false
}

// --- Read accessors (UI boundary: opaque identifiers only) ---

// NodeIDs returns every node identifier in ascending order.
func (g *Graph) NodeIDs() []nodeid.ID {
	g.mu.RLock()
	defer g.mu.RUnlock()

	ids := make([]nodeid.ID, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	return nodeid.Sorted(ids)
}

// Len returns the number of nodes in the graph.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// Spec returns the operation spec backing a node.
func (g *Graph) Spec(id nodeid.ID) (op.Spec, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	n, ok := g.nodes[id]
	if !ok {
		return op.Spec{}, fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	return n.spec, nil
}

// OperationID returns the operation identifier a node instantiates.
func (g *Graph) OperationID(id nodeid.ID) (string, error) {
	spec, err := g.Spec(id)
	if err != nil {
		return "", err
	}
	return spec.ID, nil
}

// Config returns a copy of a node's current configuration.
func (g *Graph) Config(id nodeid.ID) (map[string]cty.Value, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	n, ok := g.nodes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	out := make(map[string]cty.Value, len(n.config))
	for k, v := range n.config {
		out[k] = v
	}
	return out, nil
}

// Dirty reports whether a node's cache is stale.
func (g *Graph) Dirty(id nodeid.ID) (bool, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	n, ok := g.nodes[id]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	return n.dirty, nil
}

// CachedOutput returns the cached value of an output port, if present.
func (g *Graph) CachedOutput(id nodeid.ID, port string) (cty.Value, bool, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	n, ok := g.nodes[id]
	if !ok {
		return cty.NilVal, false, fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	if _, ok := n.spec.Output(port); !ok {
		return cty.NilVal, false, fmt.Errorf("%w: %s has no output %q", ErrPortNotFound, id, port)
	}
	if n.cache == nil {
		return cty.NilVal, false, nil
	}
	v, ok := n.cache[port]
	return v, ok, nil
}

// Edges returns every edge sorted by destination, then destination port.
func (g *Graph) Edges() []Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var out []Edge
	for _, n := range g.nodes {
		for _, e := range n.in {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DstNode != out[j].DstNode {
			return out[i].DstNode < out[j].DstNode
		}
		return out[i].DstPort < out[j].DstPort
	})
	return out
}

// IncomingEdge returns the edge feeding an input port, if connected.
func (g *Graph) IncomingEdge(dst nodeid.ID, dstPort string) (Edge, bool, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	n, ok := g.nodes[dst]
	if !ok {
		return Edge{}, false, fmt.Errorf("%w: %s", ErrNodeNotFound, dst)
	}
	e, ok := n.in[dstPort]
	return e, ok, nil
}
