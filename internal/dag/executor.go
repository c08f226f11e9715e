package dag

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/zclconf/go-cty/cty"

	"github.com/vk/byteflow/internal/ctxlog"
	"github.com/vk/byteflow/internal/nodeid"
	"github.com/vk/byteflow/internal/op"
	"github.com/vk/byteflow/internal/ptype"
	"github.com/vk/byteflow/internal/report"
)

// Options controls one evaluation pass.
type Options struct {
	// Timeout bounds the whole pass. Zero means no deadline. Operations
	// receive a context carrying the deadline; a node that overruns it is
	// reported as Failed and its dependents are skipped.
	Timeout time.Duration

	// Workers caps concurrent node execution. Values <= 1 run the pass
	// sequentially. Parallel and sequential passes produce identical
	// reports.
	Workers int
}

// Evaluate runs every node that is dirty, uncached, or downstream of one,
// serving the rest from cache. It returns a report covering every node in
// the graph. The only error condition is an internal consistency fault
// (ErrCycleDetected); per-node failures are outcomes, not errors.
//
// The graph accepts no mutation while a pass is running.
func (g *Graph) Evaluate(ctx context.Context, opts Options) (*report.Report, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	logger := ctxlog.FromContext(ctx)

	order, err := g.topoOrder()
	if err != nil {
		return nil, err
	}

	// A node re-runs when its own state is stale or any ancestor re-runs
	// this pass; everything else is served from cache untouched.
	needsRun := make(map[nodeid.ID]bool, len(order))
	for _, id := range order {
		n := g.nodes[id]
		run := n.dirty || n.cache == nil
		if !run {
			for up := range n.upstreamIDs() {
				if needsRun[up] {
					run = true
					break
				}
			}
		}
		needsRun[id] = run
	}

	passCtx := ctx
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		passCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	builder := report.NewBuilder()
	logger.Debug("Starting evaluation pass.",
		"runID", builder.RunID(), "nodes", len(order), "workers", opts.Workers)

	if opts.Workers <= 1 {
		for _, id := range order {
			outcome := g.evalNode(passCtx, g.nodes[id], needsRun[id], builder.Get)
			builder.Set(id, outcome)
		}
	} else {
		g.evalParallel(passCtx, order, needsRun, builder, opts.Workers)
	}

	rep := builder.Build()
	logger.Debug("Evaluation pass complete.", "runID", rep.RunID())
	return rep, nil
}

// topoOrder computes a topological order with Kahn's algorithm, draining
// ready nodes in ascending identifier order so scheduling is deterministic.
// Leftover nodes mean the connect-time cycle guard was bypassed.
func (g *Graph) topoOrder() ([]nodeid.ID, error) {
	pending := make(map[nodeid.ID]int, len(g.nodes))
	ready := &idHeap{}
	for id, n := range g.nodes {
		deps := len(n.upstreamIDs())
		pending[id] = deps
		if deps == 0 {
			heap.Push(ready, id)
		}
	}

	order := make([]nodeid.ID, 0, len(g.nodes))
	for ready.Len() > 0 {
		id := heap.Pop(ready).(nodeid.ID)
		order = append(order, id)
		for dep := range g.nodes[id].downstreamIDs() {
			pending[dep]--
			if pending[dep] == 0 {
				heap.Push(ready, dep)
			}
		}
	}

	if len(order) != len(g.nodes) {
		return nil, fmt.Errorf("%w: %d of %d nodes unreachable in topological sort",
			ErrCycleDetected, len(g.nodes)-len(order), len(g.nodes))
	}
	return order, nil
}

// evalNode produces the outcome for one node. Upstream outcomes for every
// dependency are available through the lookup by the time this runs.
func (g *Graph) evalNode(ctx context.Context, n *node, needsRun bool, upstream func(nodeid.ID) (report.Outcome, bool)) report.Outcome {
	if !needsRun {
		return report.Outcome{Status: report.Succeeded, Values: n.cache, FromCache: true}
	}

	// Nodes reached after cancellation are never invoked.
	if ctx.Err() == context.Canceled {
		return report.Outcome{Status: report.Skipped, Reason: report.Cancelled}
	}

	inputs := make(map[string]cty.Value, len(n.spec.Inputs))
	for _, in := range n.spec.Inputs {
		e, connected := n.in[in.Name]
		if !connected {
			switch {
			case in.Default != nil:
				inputs[in.Name] = *in.Default
			case in.Required:
				return report.Outcome{Status: report.Skipped, Reason: report.MissingInput}
			}
			continue
		}

		up, ok := upstream(e.SrcNode)
		if !ok {
			// Scheduler guarantees dependencies complete first.
			return report.Outcome{Status: report.Failed,
				Error: fmt.Sprintf("internal: upstream %s has no outcome", e.SrcNode)}
		}
		switch up.Status {
		case report.Failed:
			return report.Outcome{Status: report.Skipped, Reason: report.UpstreamFailed}
		case report.Skipped:
			return report.Outcome{Status: report.Skipped, Reason: report.UpstreamSkipped}
		}
		v, ok := up.Values[e.SrcPort]
		if !ok {
			return report.Outcome{Status: report.Skipped, Reason: report.MissingInput}
		}
		inputs[in.Name] = v
	}

	outs, runErr := n.impl.Run(ctx, inputs, op.Config(n.config))

	// The pass deadline and cancellation take precedence over whatever the
	// operation returned: a result produced after the deadline passed is
	// not cached or reported as success.
	switch ctx.Err() {
	case context.DeadlineExceeded:
		n.cache = nil
		n.dirty = false
		return report.Outcome{Status: report.Failed, Error: "operation timed out"}
	case context.Canceled:
		return report.Outcome{Status: report.Skipped, Reason: report.Cancelled}
	}

	if runErr != nil {
		n.cache = nil
		n.dirty = false
		return report.Outcome{Status: report.Failed, Error: runErr.Error()}
	}

	if err := checkOutputs(n.spec, outs); err != nil {
		n.cache = nil
		n.dirty = false
		return report.Outcome{Status: report.Failed, Error: err.Error()}
	}

	cached := make(map[string]cty.Value, len(outs))
	for k, v := range outs {
		cached[k] = v
	}
	n.cache = cached
	n.dirty = false
	return report.Outcome{Status: report.Succeeded, Values: cached}
}

// checkOutputs verifies the operation produced exactly its declared output
// ports with conforming values.
func checkOutputs(spec op.Spec, outs map[string]cty.Value) error {
	for _, out := range spec.Outputs {
		v, ok := outs[out.Name]
		if !ok {
			return fmt.Errorf("operation %q produced no value for output %q", spec.ID, out.Name)
		}
		if !ptype.Conforms(v, out.Type) {
			return fmt.Errorf("operation %q output %q does not conform to %s", spec.ID, out.Name, out.Type)
		}
	}
	for name := range outs {
		if _, ok := spec.Output(name); !ok {
			return fmt.Errorf("operation %q produced undeclared output %q", spec.ID, name)
		}
	}
	return nil
}

// evalParallel drains the topological order with a bounded worker pool.
// Synchronization covers only the ready-queue, the pending counters, and
// report aggregation; each node's cache has a single writer per pass.
func (g *Graph) evalParallel(ctx context.Context, order []nodeid.ID, needsRun map[nodeid.ID]bool, builder *report.Builder, workers int) {
	s := &sched{
		ready:   &idHeap{},
		pending: make(map[nodeid.ID]int, len(order)),
		left:    len(order),
	}
	s.cond = sync.NewCond(&s.mu)

	for _, id := range order {
		n := g.nodes[id]
		deps := len(n.upstreamIDs())
		s.pending[id] = deps
		if deps == 0 {
			heap.Push(s.ready, id)
		}
	}

	var rmu sync.Mutex
	lookup := func(id nodeid.ID) (report.Outcome, bool) {
		rmu.Lock()
		defer rmu.Unlock()
		return builder.Get(id)
	}

	if workers > len(order) {
		workers = len(order)
	}

	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for {
				id, ok := s.next()
				if !ok {
					return
				}
				n := g.nodes[id]
				outcome := g.evalNode(ctx, n, needsRun[id], lookup)

				rmu.Lock()
				builder.Set(id, outcome)
				rmu.Unlock()

				s.complete(id, n.downstreamIDs())
			}
		}()
	}
	wg.Wait()
}

// sched is the shared state of the parallel pass: a deterministic ready
// queue plus dependency counters.
type sched struct {
	mu      sync.Mutex
	cond    *sync.Cond
	ready   *idHeap
	pending map[nodeid.ID]int
	left    int
}

// next blocks until a node is ready or the pass has drained.
func (s *sched) next() (nodeid.ID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.ready.Len() == 0 {
		if s.left == 0 {
			return nodeid.None, false
		}
		s.cond.Wait()
	}
	return heap.Pop(s.ready).(nodeid.ID), true
}

// complete records a finished node and releases dependents whose last
// dependency just resolved.
func (s *sched) complete(id nodeid.ID, dependents map[nodeid.ID]struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.left--
	for dep := range dependents {
		s.pending[dep]--
		if s.pending[dep] == 0 {
			heap.Push(s.ready, dep)
		}
	}
	s.cond.Broadcast()
}

// idHeap is a min-heap of node identifiers, giving the ascending-ID
// tie-break for simultaneously ready nodes.
type idHeap []nodeid.ID

func (h idHeap) Len() int            { return len(h) }
func (h idHeap) Less(i, j int) bool  { return h[i] < h[j] }
func (h idHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *idHeap) Push(x any)         { *h = append(*h, x.(nodeid.ID)) }
func (h *idHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
