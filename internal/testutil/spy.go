// Package testutil provides spy operations and registry helpers shared by
// engine and integration tests. Spies count invocations so tests can assert
// exactly which nodes were re-executed in a pass.
package testutil

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"

	"github.com/vk/byteflow/internal/op"
	"github.com/vk/byteflow/internal/ptype"
	"github.com/vk/byteflow/internal/registry"
	"github.com/vk/byteflow/internal/schema"
)

// Spy observes one registered operation across all nodes instantiating it.
type Spy struct {
	// Invocations counts how many times the operation body ran.
	Invocations atomic.Int64

	// Err, when set before a pass, makes every invocation fail with it.
	Err error

	// Delay, when set, makes the operation wait before producing output,
	// honoring context cancellation and deadlines.
	Delay time.Duration

	// Started receives one signal per invocation start (buffered; extra
	// signals are dropped). Used by cancellation tests.
	Started chan struct{}
}

// spySchema gives every spy a mutable knob so tests can dirty nodes through
// SetConfig without affecting behavior.
func spySchema() *schema.Schema {
	return schema.New(schema.Attribute{
		Name:    "seed",
		Type:    cty.Number,
		Default: schema.DefaultInt(0),
	})
}

// RegisterSpy registers an operation with the given ports whose body is fn,
// wrapped with invocation counting, optional delay, and failure injection.
func RegisterSpy(t *testing.T, r *registry.Registry, id string, inputs, outputs []op.PortSpec,
	fn func(ctx context.Context, in map[string]cty.Value, cfg op.Config) (map[string]cty.Value, error)) *Spy {
	t.Helper()

	s := &Spy{Started: make(chan struct{}, 64)}
	run := func(ctx context.Context, in map[string]cty.Value, cfg op.Config) (map[string]cty.Value, error) {
		s.Invocations.Add(1)
		select {
		case s.Started <- struct{}{}:
		default:
		}
		if s.Delay > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(s.Delay):
			}
		}
		if s.Err != nil {
			return nil, s.Err
		}
		return fn(ctx, in, cfg)
	}

	spec := op.Spec{
		ID:          id,
		DisplayName: id,
		Category:    "test",
		Inputs:      inputs,
		Outputs:     outputs,
		Config:      spySchema(),
	}
	require.NoError(t, r.Register(spec, func() op.Operation { return op.Func(run) }))
	return s
}

// RegisterBytesSource registers a zero-input operation emitting data on the
// "output" port.
func RegisterBytesSource(t *testing.T, r *registry.Registry, id string, data []byte) *Spy {
	t.Helper()
	return RegisterSpy(t, r, id,
		nil,
		[]op.PortSpec{{Name: "output", Type: ptype.Bytes}},
		func(context.Context, map[string]cty.Value, op.Config) (map[string]cty.Value, error) {
			return map[string]cty.Value{"output": ptype.BytesVal(data)}, nil
		})
}

// RegisterBytesTransform registers a bytes->bytes operation applying fn to
// the required "data" input, emitting on "output".
func RegisterBytesTransform(t *testing.T, r *registry.Registry, id string, fn func([]byte) []byte) *Spy {
	t.Helper()
	return RegisterSpy(t, r, id,
		[]op.PortSpec{{Name: "data", Type: ptype.Bytes, Required: true}},
		[]op.PortSpec{{Name: "output", Type: ptype.Bytes}},
		func(_ context.Context, in map[string]cty.Value, _ op.Config) (map[string]cty.Value, error) {
			data, err := ptype.AsBytes(in["data"])
			if err != nil {
				return nil, err
			}
			return map[string]cty.Value{"output": ptype.BytesVal(fn(data))}, nil
		})
}

// RegisterJoin registers an operation with two required bytes inputs "left"
// and "right", concatenated onto "output".
func RegisterJoin(t *testing.T, r *registry.Registry, id string) *Spy {
	t.Helper()
	return RegisterSpy(t, r, id,
		[]op.PortSpec{
			{Name: "left", Type: ptype.Bytes, Required: true},
			{Name: "right", Type: ptype.Bytes, Required: true},
		},
		[]op.PortSpec{{Name: "output", Type: ptype.Bytes}},
		func(_ context.Context, in map[string]cty.Value, _ op.Config) (map[string]cty.Value, error) {
			left, err := ptype.AsBytes(in["left"])
			if err != nil {
				return nil, err
			}
			right, err := ptype.AsBytes(in["right"])
			if err != nil {
				return nil, err
			}
			joined := make([]byte, 0, len(left)+len(right))
			joined = append(joined, left...)
			joined = append(joined, right...)
			return map[string]cty.Value{"output": ptype.BytesVal(joined)}, nil
		})
}

// RegisterSink registers a terminal operation with a required any-typed
// "input" port and no outputs.
func RegisterSink(t *testing.T, r *registry.Registry, id string) *Spy {
	t.Helper()
	return RegisterSpy(t, r, id,
		[]op.PortSpec{{Name: "input", Type: ptype.Any, Required: true}},
		nil,
		func(context.Context, map[string]cty.Value, op.Config) (map[string]cty.Value, error) {
			return map[string]cty.Value{}, nil
		})
}

// RegisterTextSource registers a zero-input operation emitting text.
func RegisterTextSource(t *testing.T, r *registry.Registry, id, text string) *Spy {
	t.Helper()
	return RegisterSpy(t, r, id,
		nil,
		[]op.PortSpec{{Name: "output", Type: ptype.Text}},
		func(context.Context, map[string]cty.Value, op.Config) (map[string]cty.Value, error) {
			return map[string]cty.Value{"output": ptype.TextVal(text)}, nil
		})
}
