package dag

import (
	"github.com/zclconf/go-cty/cty"

	"github.com/vk/byteflow/internal/nodeid"
	"github.com/vk/byteflow/internal/op"
)

// Edge is a directed, type-checked link from one node's output port to
// another node's input port. Edges reference ports by identifier pair, not
// by object link, so removal and cycle detection stay index operations.
type Edge struct {
	SrcNode nodeid.ID
	SrcPort string
	DstNode nodeid.ID
	DstPort string
}

// endpoint addresses one side of an edge.
type endpoint struct {
	node nodeid.ID
	port string
}

// node is a graph vertex wrapping one operation instance. It is unexported
// to force interaction through the graph's public API using identifiers.
type node struct {
	id   nodeid.ID
	spec op.Spec
	impl op.Operation

	// config is the node's validated configuration with defaults applied.
	config map[string]cty.Value

	// in holds the single incoming edge per input port, keyed by port name.
	in map[string]Edge

	// out holds every outgoing edge, keyed by destination endpoint.
	out map[endpoint]Edge

	// cache holds the outputs of the last successful run, nil when unset.
	cache map[string]cty.Value

	// dirty marks the cache stale relative to config or upstream state.
	dirty bool
}

// upstreamIDs returns the distinct set of nodes feeding this node.
func (n *node) upstreamIDs() map[nodeid.ID]struct{} {
	ids := make(map[nodeid.ID]struct{}, len(n.in))
	for _, e := range n.in {
		ids[e.SrcNode] = struct{}{}
	}
	return ids
}

// downstreamIDs returns the distinct set of nodes this node feeds.
func (n *node) downstreamIDs() map[nodeid.ID]struct{} {
	ids := make(map[nodeid.ID]struct{}, len(n.out))
	for _, e := range n.out {
		ids[e.DstNode] = struct{}{}
	}
	return ids
}
