package dag

import (
	"errors"

	"github.com/vk/byteflow/internal/registry"
	"github.com/vk/byteflow/internal/schema"
)

var (
	// ErrNodeNotFound is returned when a node identifier is not in the graph.
	ErrNodeNotFound = errors.New("node not found")

	// ErrPortNotFound is returned when a named port does not exist on the
	// node, or exists with the wrong direction.
	ErrPortNotFound = errors.New("port not found")

	// ErrPortTypeMismatch is returned when the source and destination port
	// types are incompatible. Values are never coerced.
	ErrPortTypeMismatch = errors.New("port type mismatch")

	// ErrInputAlreadyConnected is returned when a destination input port
	// already has an incoming edge; input fan-in is limited to one.
	ErrInputAlreadyConnected = errors.New("input port already connected")

	// ErrNoSuchConnection is returned by Disconnect when the input port has
	// no incoming edge.
	ErrNoSuchConnection = errors.New("no such connection")

	// ErrWouldCreateCycle is returned when adding an edge would make the
	// source reachable from itself.
	ErrWouldCreateCycle = errors.New("connection would create a cycle")

	// ErrCycleDetected indicates the evaluator found a cycle despite the
	// connect-time guard. This is an internal consistency fault, not a user
	// error; the evaluation pass aborts entirely.
	ErrCycleDetected = errors.New("cycle detected during evaluation")

	// ErrUnknownOperationID mirrors the registry sentinel for callers that
	// only import this package.
	ErrUnknownOperationID = registry.ErrUnknownOperationID

	// ErrInvalidConfigValue mirrors the schema sentinel for callers that
	// only import this package.
	ErrInvalidConfigValue = schema.ErrInvalidConfigValue
)
