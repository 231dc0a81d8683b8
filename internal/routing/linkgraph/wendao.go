package linkgraph

import (
	"context"
	"fmt"
)

// WendaoAdapter is the Go analogue of the original port's
// WendaoLinkGraphBackend: a thin Backend shell meant to bridge to the
// external native graph engine ("xiuxian_wendao_py" in the original). That
// native engine has no Go equivalent anywhere in this codebase, so every
// method here returns ErrBackendUnavailable rather than faking graph data -
// constructing a WendaoAdapter is how a caller opts into "no native graph
// store configured" while still satisfying the Backend contract, and it is
// the one code path that reliably drives Planner.Plan's "backend_unavailable"
// reason.
type WendaoAdapter struct {
	name string
}

// NewWendaoAdapter creates an always-unavailable Backend named name (for
// telemetry/cache-key purposes only; it never answers a query).
func NewWendaoAdapter(name string) *WendaoAdapter {
	if name == "" {
		name = "wendao"
	}
	return &WendaoAdapter{name: name}
}

// BackendName implements Backend.
func (w *WendaoAdapter) BackendName() string { return w.name }

func (w *WendaoAdapter) unavailable(op string) error {
	return fmt.Errorf("linkgraph: wendao backend %q: %s: %w", w.name, op, ErrBackendUnavailable)
}

// SearchPlanned implements Backend.
func (w *WendaoAdapter) SearchPlanned(context.Context, string, int, SearchOptions) (SearchPayload, error) {
	return SearchPayload{}, w.unavailable("search_planned")
}

// Neighbors implements Backend.
func (w *WendaoAdapter) Neighbors(context.Context, string, Direction, int, int) ([]Neighbor, error) {
	return nil, w.unavailable("neighbors")
}

// Metadata implements Backend.
func (w *WendaoAdapter) Metadata(context.Context, string) (Metadata, error) {
	return Metadata{}, w.unavailable("metadata")
}

// Related implements Backend.
func (w *WendaoAdapter) Related(context.Context, RelatedOptions, []string) ([]Hit, error) {
	return nil, w.unavailable("related")
}

// TOC implements Backend.
func (w *WendaoAdapter) TOC(context.Context, string, int) (TOCEntry, error) {
	return TOCEntry{}, w.unavailable("toc")
}

// Stats implements Backend/StatsProvider.
func (w *WendaoAdapter) Stats(context.Context) (Stats, error) {
	return Stats{}, w.unavailable("stats")
}

// RefreshWithDelta implements Backend.
func (w *WendaoAdapter) RefreshWithDelta(context.Context, []DeltaChange) error {
	return w.unavailable("refresh_with_delta")
}

// CreateNote implements Backend.
func (w *WendaoAdapter) CreateNote(context.Context, NoteDraft) error {
	return w.unavailable("create_note")
}
