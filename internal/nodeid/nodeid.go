// Package nodeid defines the stable identifier assigned to every node in a
// graph. Identifiers are allocated monotonically and never reused, so they
// double as a deterministic ordering for scheduling and report rendering.
package nodeid

import (
	"fmt"
	"slices"
)

// ID identifies a single node within one graph instance.
type ID int64

// None is the zero ID; no node ever carries it.
const None ID = 0

// String renders the identifier in the form used by logs and error messages.
func (id ID) String() string {
	return fmt.Sprintf("node#%d", int64(id))
}

// Sorted returns a new slice with the given IDs in ascending order.
func Sorted(ids []ID) []ID {
	out := slices.Clone(ids)
	slices.Sort(out)
	return out
}
