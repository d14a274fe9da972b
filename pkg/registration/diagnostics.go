package registration

import "fmt"

// WarningKind classifies a non-fatal registration problem.
type WarningKind int

const (
	// WarnExcessiveShift marks an edge whose correction exceeded the bound
	WarnExcessiveShift WarningKind = iota
	// WarnCorrelationFailed marks an edge whose overlap could not be correlated
	WarnCorrelationFailed
	// WarnDisconnected marks a cycle resolved as several components
	WarnDisconnected
	// WarnCycleRejected marks a cycle translation discarded for exceeding the bound
	WarnCycleRejected
	// WarnCycleClamped marks a cycle translation limited to the bound
	WarnCycleClamped
	// WarnCycleFailed marks a cycle whose mosaic could not be correlated
	WarnCycleFailed
)

func (k WarningKind) String() string {
	switch k {
	case WarnExcessiveShift:
		return "excessive-shift"
	case WarnCorrelationFailed:
		return "correlation-failed"
	case WarnDisconnected:
		return "disconnected"
	case WarnCycleRejected:
		return "cycle-rejected"
	case WarnCycleClamped:
		return "cycle-clamped"
	case WarnCycleFailed:
		return "cycle-failed"
	default:
		return fmt.Sprintf("WarningKind(%d)", int(k))
	}
}

// Warning is a diagnostic a caller can inspect programmatically.
type Warning struct {
	Kind  WarningKind
	Cycle int

	// Tile is the tile index involved, -1 when the warning is not about
	// a single tile
	Tile int

	// Edge is the edge id in the cycle's graph, -1 when not applicable
	Edge int

	Message string
}

func (w Warning) String() string {
	return fmt.Sprintf("cycle %d: %s: %s", w.Cycle, w.Kind, w.Message)
}

// Diagnostics summarises the registration of one cycle.
type Diagnostics struct {
	// Edges is the number of overlap edges in the tile graph
	Edges int

	// Rejected counts edges invalidated by the maximum shift
	Rejected int

	// Failed counts edges whose correlation failed
	Failed int

	// Fallback counts spanning tree edges placed with nominal offsets
	Fallback int

	// Components is the number of independently resolved components. More
	// than one means part of the layout is only nominally positioned.
	Components int

	Warnings []Warning
}

// Disconnected reports whether the cycle was stitched from several
// components using nominal offsets.
func (d *Diagnostics) Disconnected() bool {
	return d.Components > 1
}

func (d *Diagnostics) add(w Warning) {
	d.Warnings = append(d.Warnings, w)
}

// Count returns the number of warnings of the given kind.
func (d *Diagnostics) Count(kind WarningKind) int {
	n := 0
	for _, w := range d.Warnings {
		if w.Kind == kind {
			n++
		}
	}
	return n
}
