package dag

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"

	"github.com/vk/byteflow/internal/nodeid"
	"github.com/vk/byteflow/internal/op"
	"github.com/vk/byteflow/internal/ptype"
	"github.com/vk/byteflow/internal/registry"
	"github.com/vk/byteflow/internal/report"
	"github.com/vk/byteflow/internal/testutil"
)

func bytesOutcome(t *testing.T, rep *report.Report, id nodeid.ID, port string) []byte {
	t.Helper()
	out, ok := rep.Outcome(id)
	require.True(t, ok, "report must cover %s", id)
	require.Equal(t, report.Succeeded, out.Status, "node %s: %s %s", id, out.Error, out.Reason)
	data, err := ptype.AsBytes(out.Values[port])
	require.NoError(t, err)
	return data
}

func TestEvaluateChain(t *testing.T) {
	r := registry.New()
	src := testutil.RegisterBytesSource(t, r, "src", []byte("abc"))
	rev := testutil.RegisterBytesTransform(t, r, "rev", func(b []byte) []byte {
		out := make([]byte, len(b))
		for i, c := range b {
			out[len(b)-1-i] = c
		}
		return out
	})

	g := New(r)
	a, _ := g.AddNode("src", nil)
	b, _ := g.AddNode("rev", nil)
	require.NoError(t, g.Connect(a, "output", b, "data"))

	rep, err := g.Evaluate(context.Background(), Options{})
	require.NoError(t, err)
	require.Equal(t, g.Len(), rep.Len(), "report covers every node")

	assert.Equal(t, []byte("cba"), bytesOutcome(t, rep, b, "output"))
	assert.Equal(t, int64(1), src.Invocations.Load())
	assert.Equal(t, int64(1), rev.Invocations.Load())
	assert.NotEmpty(t, rep.RunID())
}

func TestEvaluateIdempotent(t *testing.T) {
	r := registry.New()
	src := testutil.RegisterBytesSource(t, r, "src", []byte("x"))
	echo := testutil.RegisterBytesTransform(t, r, "echo", func(b []byte) []byte { return b })

	g := New(r)
	a, _ := g.AddNode("src", nil)
	b, _ := g.AddNode("echo", nil)
	require.NoError(t, g.Connect(a, "output", b, "data"))

	first, err := g.Evaluate(context.Background(), Options{})
	require.NoError(t, err)

	second, err := g.Evaluate(context.Background(), Options{})
	require.NoError(t, err)

	// Second pass performs zero invocations; everything is cache-served.
	assert.Equal(t, int64(1), src.Invocations.Load())
	assert.Equal(t, int64(1), echo.Invocations.Load())
	for _, id := range second.NodeIDs() {
		out, _ := second.Outcome(id)
		assert.True(t, out.FromCache, "%s must be served from cache", id)
	}

	assert.Equal(t, bytesOutcome(t, first, b, "output"), bytesOutcome(t, second, b, "output"))
}

func TestEvaluateIncremental(t *testing.T) {
	r := registry.New()
	srcA := testutil.RegisterBytesSource(t, r, "srcA", []byte("a"))
	midB := testutil.RegisterBytesTransform(t, r, "midB", func(b []byte) []byte { return b })
	tailC := testutil.RegisterBytesTransform(t, r, "tailC", func(b []byte) []byte { return b })
	lonerD := testutil.RegisterBytesSource(t, r, "lonerD", []byte("d"))

	g := New(r)
	a, _ := g.AddNode("srcA", nil)
	b, _ := g.AddNode("midB", nil)
	c, _ := g.AddNode("tailC", nil)
	d, _ := g.AddNode("lonerD", nil)
	require.NoError(t, g.Connect(a, "output", b, "data"))
	require.NoError(t, g.Connect(b, "output", c, "data"))

	_, err := g.Evaluate(context.Background(), Options{})
	require.NoError(t, err)

	// Touch only A; its descendants re-run, the disconnected sibling does not.
	require.NoError(t, g.SetConfig(a, "seed", cty.NumberIntVal(1)))

	rep, err := g.Evaluate(context.Background(), Options{})
	require.NoError(t, err)

	assert.Equal(t, int64(2), srcA.Invocations.Load())
	assert.Equal(t, int64(2), midB.Invocations.Load())
	assert.Equal(t, int64(2), tailC.Invocations.Load())
	assert.Equal(t, int64(1), lonerD.Invocations.Load())

	outD, _ := rep.Outcome(d)
	assert.True(t, outD.FromCache)
}

func TestEvaluateFanOut(t *testing.T) {
	r := registry.New()
	shared := testutil.RegisterBytesSource(t, r, "shared", []byte("s"))
	testutil.RegisterBytesTransform(t, r, "left", func(b []byte) []byte { return b })
	testutil.RegisterBytesTransform(t, r, "right", func(b []byte) []byte { return b })

	g := New(r)
	s, _ := g.AddNode("shared", nil)
	l, _ := g.AddNode("left", nil)
	rt, _ := g.AddNode("right", nil)
	require.NoError(t, g.Connect(s, "output", l, "data"))
	require.NoError(t, g.Connect(s, "output", rt, "data"))

	rep, err := g.Evaluate(context.Background(), Options{})
	require.NoError(t, err)

	// One output port feeding two inputs delivers the identical value.
	assert.Equal(t, bytesOutcome(t, rep, l, "output"), bytesOutcome(t, rep, rt, "output"))
	assert.Equal(t, int64(1), shared.Invocations.Load())

	// Mutating one consumer never re-invokes the shared upstream.
	require.NoError(t, g.SetConfig(l, "seed", cty.NumberIntVal(9)))
	rep, err = g.Evaluate(context.Background(), Options{})
	require.NoError(t, err)

	assert.Equal(t, int64(1), shared.Invocations.Load())
	outR, _ := rep.Outcome(rt)
	assert.True(t, outR.FromCache)
}

func TestEvaluateDiamond(t *testing.T) {
	r := registry.New()
	testutil.RegisterBytesSource(t, r, "head", []byte{1, 2, 3})
	testutil.RegisterBytesTransform(t, r, "append4", func(b []byte) []byte {
		return append(append([]byte{}, b...), 4)
	})
	testutil.RegisterBytesTransform(t, r, "append5", func(b []byte) []byte {
		return append(append([]byte{}, b...), 5)
	})
	join := testutil.RegisterJoin(t, r, "join")

	g := New(r)
	a, _ := g.AddNode("head", nil)
	b, _ := g.AddNode("append4", nil)
	c, _ := g.AddNode("append5", nil)
	d, _ := g.AddNode("join", nil)
	require.NoError(t, g.Connect(a, "output", b, "data"))
	require.NoError(t, g.Connect(a, "output", c, "data"))
	require.NoError(t, g.Connect(b, "output", d, "left"))
	require.NoError(t, g.Connect(c, "output", d, "right"))

	rep, err := g.Evaluate(context.Background(), Options{})
	require.NoError(t, err)

	assert.Equal(t, []byte{1, 2, 3, 4}, bytesOutcome(t, rep, b, "output"))
	assert.Equal(t, []byte{1, 2, 3, 5}, bytesOutcome(t, rep, c, "output"))
	assert.Equal(t, []byte{1, 2, 3, 4, 1, 2, 3, 5}, bytesOutcome(t, rep, d, "output"))
	assert.Equal(t, int64(1), join.Invocations.Load(), "join runs exactly once per pass")
}

func TestEvaluateSkipPropagation(t *testing.T) {
	r := registry.New()
	testutil.RegisterBytesSource(t, r, "src", []byte("x"))
	failing := testutil.RegisterBytesTransform(t, r, "failing", func(b []byte) []byte { return b })
	consumer := testutil.RegisterBytesTransform(t, r, "consumer", func(b []byte) []byte { return b })
	sink := testutil.RegisterSink(t, r, "sink")

	g := New(r)
	a, _ := g.AddNode("src", nil)
	b, _ := g.AddNode("failing", nil)
	c, _ := g.AddNode("consumer", nil)
	d, _ := g.AddNode("sink", nil)
	require.NoError(t, g.Connect(a, "output", b, "data"))
	require.NoError(t, g.Connect(b, "output", c, "data"))
	require.NoError(t, g.Connect(c, "output", d, "input"))

	failing.Err = errors.New("decode blew up")

	rep, err := g.Evaluate(context.Background(), Options{})
	require.NoError(t, err, "per-node failures never abort the pass")

	outB, _ := rep.Outcome(b)
	assert.Equal(t, report.Failed, outB.Status)
	assert.Contains(t, outB.Error, "decode blew up")

	outC, _ := rep.Outcome(c)
	assert.Equal(t, report.Skipped, outC.Status)
	assert.Equal(t, report.UpstreamFailed, outC.Reason)
	assert.Equal(t, int64(0), consumer.Invocations.Load(), "skipped node is never invoked")

	outD, _ := rep.Outcome(d)
	assert.Equal(t, report.Skipped, outD.Status)
	assert.Equal(t, report.UpstreamSkipped, outD.Reason)
	assert.Equal(t, int64(0), sink.Invocations.Load())

	// A failed node is retried on the next pass and recovers.
	failing.Err = nil
	rep, err = g.Evaluate(context.Background(), Options{})
	require.NoError(t, err)
	outB, _ = rep.Outcome(b)
	assert.Equal(t, report.Succeeded, outB.Status)
	assert.Equal(t, int64(1), consumer.Invocations.Load())
}

func TestEvaluateMissingRequiredInput(t *testing.T) {
	r := registry.New()
	orphan := testutil.RegisterBytesTransform(t, r, "orphan", func(b []byte) []byte { return b })

	g := New(r)
	n, _ := g.AddNode("orphan", nil)

	rep, err := g.Evaluate(context.Background(), Options{})
	require.NoError(t, err)

	out, _ := rep.Outcome(n)
	assert.Equal(t, report.Skipped, out.Status)
	assert.Equal(t, report.MissingInput, out.Reason)
	assert.Equal(t, int64(0), orphan.Invocations.Load())
}

func TestEvaluateOptionalInputDefault(t *testing.T) {
	r := registry.New()
	def := ptype.BytesVal([]byte{0xAA})
	testutil.RegisterSpy(t, r, "defaulted",
		[]op.PortSpec{{Name: "data", Type: ptype.Bytes, Default: &def}},
		[]op.PortSpec{{Name: "output", Type: ptype.Bytes}},
		func(_ context.Context, in map[string]cty.Value, _ op.Config) (map[string]cty.Value, error) {
			return map[string]cty.Value{"output": in["data"]}, nil
		})

	g := New(r)
	n, _ := g.AddNode("defaulted", nil)

	rep, err := g.Evaluate(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, []byte{0xAA}, bytesOutcome(t, rep, n, "output"))
}

func TestEvaluateDeterministicOrder(t *testing.T) {
	r := registry.New()
	var mu sync.Mutex
	var seen []string
	record := func(name string) func([]byte) []byte {
		return func(b []byte) []byte {
			mu.Lock()
			seen = append(seen, name)
			mu.Unlock()
			return b
		}
	}
	for _, name := range []string{"one", "two", "three"} {
		name := name
		testutil.RegisterSpy(t, r, name, nil,
			[]op.PortSpec{{Name: "output", Type: ptype.Bytes}},
			func(context.Context, map[string]cty.Value, op.Config) (map[string]cty.Value, error) {
				return map[string]cty.Value{"output": ptype.BytesVal(record(name)(nil))}, nil
			})
	}

	g := New(r)
	_, _ = g.AddNode("one", nil)
	_, _ = g.AddNode("two", nil)
	_, _ = g.AddNode("three", nil)

	_, err := g.Evaluate(context.Background(), Options{})
	require.NoError(t, err)

	// Simultaneously ready nodes run in ascending identifier order.
	assert.Equal(t, []string{"one", "two", "three"}, seen)
}

func TestEvaluateParallelMatchesSequential(t *testing.T) {
	build := func(t *testing.T) (*Graph, []nodeid.ID) {
		r := registry.New()
		testutil.RegisterBytesSource(t, r, "head", []byte{7})
		testutil.RegisterBytesTransform(t, r, "inc", func(b []byte) []byte {
			out := append([]byte{}, b...)
			for i := range out {
				out[i]++
			}
			return out
		})
		testutil.RegisterBytesTransform(t, r, "dup", func(b []byte) []byte {
			return append(append([]byte{}, b...), b...)
		})
		testutil.RegisterJoin(t, r, "join")

		g := New(r)
		a, _ := g.AddNode("head", nil)
		b, _ := g.AddNode("inc", nil)
		c, _ := g.AddNode("dup", nil)
		d, _ := g.AddNode("join", nil)
		require.NoError(t, g.Connect(a, "output", b, "data"))
		require.NoError(t, g.Connect(a, "output", c, "data"))
		require.NoError(t, g.Connect(b, "output", d, "left"))
		require.NoError(t, g.Connect(c, "output", d, "right"))
		return g, []nodeid.ID{a, b, c, d}
	}

	seqGraph, ids := build(t)
	seq, err := seqGraph.Evaluate(context.Background(), Options{Workers: 1})
	require.NoError(t, err)

	parGraph, _ := build(t)
	par, err := parGraph.Evaluate(context.Background(), Options{Workers: 4})
	require.NoError(t, err)

	for _, id := range ids {
		so, _ := seq.Outcome(id)
		po, _ := par.Outcome(id)
		assert.Equal(t, so.Status, po.Status, "node %s", id)
		assert.Equal(t, so.FromCache, po.FromCache, "node %s", id)
		for port, sv := range so.Values {
			pv, ok := po.Values[port]
			require.True(t, ok)
			sb, err := ptype.AsBytes(sv)
			require.NoError(t, err)
			pb, err := ptype.AsBytes(pv)
			require.NoError(t, err)
			assert.Equal(t, sb, pb, "node %s port %s", id, port)
		}
	}
}

func TestEvaluateTimeout(t *testing.T) {
	r := registry.New()
	slow := testutil.RegisterBytesSource(t, r, "slow", []byte("late"))
	slow.Delay = 500 * time.Millisecond
	downstream := testutil.RegisterBytesTransform(t, r, "down", func(b []byte) []byte { return b })

	g := New(r)
	a, _ := g.AddNode("slow", nil)
	b, _ := g.AddNode("down", nil)
	require.NoError(t, g.Connect(a, "output", b, "data"))

	rep, err := g.Evaluate(context.Background(), Options{Timeout: 25 * time.Millisecond})
	require.NoError(t, err, "timeout is an outcome, not a fault")

	outA, _ := rep.Outcome(a)
	assert.Equal(t, report.Failed, outA.Status)
	assert.Contains(t, outA.Error, "timed out")

	outB, _ := rep.Outcome(b)
	assert.Equal(t, report.Skipped, outB.Status)
	assert.Equal(t, report.UpstreamFailed, outB.Reason)
	assert.Equal(t, int64(0), downstream.Invocations.Load())
}

func TestEvaluateCancellation(t *testing.T) {
	r := registry.New()
	testutil.RegisterBytesSource(t, r, "fast", []byte("done"))
	slow := testutil.RegisterBytesTransform(t, r, "stall", func(b []byte) []byte { return b })
	slow.Delay = 5 * time.Second
	tail := testutil.RegisterBytesTransform(t, r, "after", func(b []byte) []byte { return b })

	g := New(r)
	a, _ := g.AddNode("fast", nil)
	b, _ := g.AddNode("stall", nil)
	c, _ := g.AddNode("after", nil)
	require.NoError(t, g.Connect(a, "output", b, "data"))
	require.NoError(t, g.Connect(b, "output", c, "data"))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-slow.Started
		cancel()
	}()

	rep, err := g.Evaluate(ctx, Options{})
	require.NoError(t, err, "cancellation is an outcome, not a fault")

	// The completed node's outcome is preserved.
	outA, _ := rep.Outcome(a)
	assert.Equal(t, report.Succeeded, outA.Status)

	// The in-flight node is abandoned, the not-yet-started node never runs.
	outB, _ := rep.Outcome(b)
	assert.Equal(t, report.Skipped, outB.Status)
	assert.Equal(t, report.Cancelled, outB.Reason)

	outC, _ := rep.Outcome(c)
	assert.Equal(t, report.Skipped, outC.Status)
	assert.Equal(t, report.Cancelled, outC.Reason)
	assert.Equal(t, int64(0), tail.Invocations.Load())
}

func TestEvaluateDefensiveCycleDetection(t *testing.T) {
	r := registry.New()
	testutil.RegisterBytesTransform(t, r, "echo", func(b []byte) []byte { return b })

	g := New(r)
	a, _ := g.AddNode("echo", nil)
	b, _ := g.AddNode("echo", nil)

	// Corrupt the edge set behind the mutation guard's back to simulate an
	// internal consistency bug.
	ab := Edge{SrcNode: a, SrcPort: "output", DstNode: b, DstPort: "data"}
	ba := Edge{SrcNode: b, SrcPort: "output", DstNode: a, DstPort: "data"}
	g.nodes[b].in["data"] = ab
	g.nodes[a].out[endpoint{node: b, port: "data"}] = ab
	g.nodes[a].in["data"] = ba
	g.nodes[b].out[endpoint{node: a, port: "data"}] = ba

	rep, err := g.Evaluate(context.Background(), Options{})
	assert.Nil(t, rep)
	assert.ErrorIs(t, err, ErrCycleDetected)
}
