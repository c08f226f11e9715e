// Package dag owns the dataflow graph: typed nodes wrapping operation
// instances, directed edges between ports, topology validation, and the
// evaluator that runs dirty nodes in dependency order.
//
// The graph is the single owner of all node and edge state. Callers hold
// only opaque node identifiers and read results through accessor methods
// and execution reports, never through direct references. Mutations are
// validated fully before any state changes, so a rejected call leaves the
// graph exactly as it was.
package dag
