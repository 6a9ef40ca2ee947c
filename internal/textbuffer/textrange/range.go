// Package textrange implements auto-tracking ranges (component E): a pair
// of cursors plus attribute/feedback/view-affinity metadata.
package textrange

import (
	"sync/atomic"

	"github.com/dshills/katecore/internal/textbuffer/cursor"
)

// EmptyBehavior controls whether a range self-invalidates when it collapses.
type EmptyBehavior int

const (
	// AllowEmpty keeps a collapsed range alive, snapping end to start.
	AllowEmpty EmptyBehavior = iota
	// InvalidateIfEmpty invalidates a range the moment start == end.
	InvalidateIfEmpty
)

// Feedback receives notifications when a range transitions validity,
// emptiness, or content under it changes. Implementations must not
// re-enter the owning buffer, which holds its lock while feedback runs.
type Feedback interface {
	OnRangeInvalid(r *Range)
	OnRangeEmpty(r *Range)
	OnRangeContentChanged(r *Range)
}

var nextID uint64

// Range is a pair of auto-tracking cursors with attached metadata.
type Range struct {
	id            uint64
	start         *cursor.Cursor
	end           *cursor.Cursor
	emptyBehavior EmptyBehavior
	attribute     any
	feedback      Feedback
	viewID        string // empty means visible in every view
	attrOnlyViews bool
	zDepth        int

	valid               bool
	lastEmpty           bool // emptiness as of the last Revalidate, for transition detection
	spansMultipleBlocks bool
	revalidationPending bool
}

// New constructs a Range with both endpoints created fresh using the given
// insert-behavior policies.
func New(startBehavior, endBehavior cursor.InsertBehavior, emptyBehavior EmptyBehavior) *Range {
	start := cursor.New(startBehavior)
	end := cursor.New(endBehavior)
	start.SetOwnedByRange(true)
	end.SetOwnedByRange(true)
	r := &Range{
		id:            atomic.AddUint64(&nextID, 1),
		start:         start,
		end:           end,
		emptyBehavior: emptyBehavior,
	}
	return r
}

// ID returns the range's stable identity, used as the key of the buffer's
// multi-block range index.
func (r *Range) ID() uint64 { return r.id }

// Start returns the start endpoint cursor.
func (r *Range) Start() *cursor.Cursor { return r.start }

// End returns the end endpoint cursor.
func (r *Range) End() *cursor.Cursor { return r.end }

// EmptyBehavior returns the configured empty-collapse policy.
func (r *Range) EmptyBehavior() EmptyBehavior { return r.emptyBehavior }

// Valid reports whether both endpoints currently resolve to a block.
func (r *Range) Valid() bool { return r.valid }

// IsEmpty reports whether the two endpoints coincide.
func (r *Range) IsEmpty() bool { return cursor.Equal(r.start, r.end) }

// SpansMultipleBlocks reports whether the endpoints live in different blocks.
func (r *Range) SpansMultipleBlocks() bool { return r.spansMultipleBlocks }

// SetSpansMultipleBlocks is set by the owning buffer/block after relocating
// an endpoint, to drive membership in the multi-block range index.
func (r *Range) SetSpansMultipleBlocks(v bool) { r.spansMultipleBlocks = v }

// Attribute returns the opaque attribute payload attached to the range.
func (r *Range) Attribute() any { return r.attribute }

// SetAttribute attaches an opaque attribute payload.
func (r *Range) SetAttribute(a any) { r.attribute = a }

// HasAttribute reports whether an attribute payload is attached.
func (r *Range) HasAttribute() bool { return r.attribute != nil }

// Feedback returns the attached feedback receiver, if any.
func (r *Range) Feedback() Feedback { return r.feedback }

// SetFeedback attaches a feedback receiver.
func (r *Range) SetFeedback(f Feedback) { r.feedback = f }

// ViewID returns the view this range is restricted to, or "" for every view.
func (r *Range) ViewID() string { return r.viewID }

// SetViewID restricts the range's attribute visibility to a single view.
func (r *Range) SetViewID(id string) { r.viewID = id }

// AttributeOnlyForViews reports whether the attribute is only meaningful
// when rendered by a view (as opposed to headless consumers).
func (r *Range) AttributeOnlyForViews() bool { return r.attrOnlyViews }

// SetAttributeOnlyForViews sets the view-only attribute flag.
func (r *Range) SetAttributeOnlyForViews(v bool) { r.attrOnlyViews = v }

// ZDepth returns the rendering Z-depth used to order overlapping ranges.
func (r *Range) ZDepth() int { return r.zDepth }

// SetZDepth sets the rendering Z-depth.
func (r *Range) SetZDepth(z int) { r.zDepth = z }

// MarkRevalidationRequired flags the range as needing a Revalidate pass.
// Block/buffer code calls this once per touched range per edit and defers
// the actual Revalidate call until the edit's cursor/range fixup loop
// completes, avoiding duplicate notifications for a range touched by more
// than one moved cursor in the same primitive.
func (r *Range) MarkRevalidationRequired() { r.revalidationPending = true }

// RevalidationPending reports whether Revalidate still needs to run.
func (r *Range) RevalidationPending() bool { return r.revalidationPending }

// Revalidate applies the validity rules after endpoint motion:
//   - if either endpoint is invalid, both become invalid;
//   - if emptyBehavior is InvalidateIfEmpty and start >= end, both invalidate;
//   - if AllowEmpty and start > end, end snaps to start.
//
// becameInvalid reports a valid-to-invalid transition on this call, after
// which the caller drops the range from block/buffer indexes; becameEmpty
// reports that a range which stays valid collapsed to empty on this call.
func (r *Range) Revalidate() (becameInvalid, becameEmpty bool) {
	r.revalidationPending = false

	wasValid := r.valid
	wasEmpty := wasValid && r.lastEmpty

	if !r.start.Valid() || !r.end.Valid() {
		r.invalidate()
		return wasValid, false
	}

	if cursor.Less(r.end, r.start) {
		if r.emptyBehavior == AllowEmpty {
			r.end.Relocate(r.start.BlockIndex(), r.start.Line(), r.start.Column())
		} else {
			r.invalidate()
			return wasValid, false
		}
	}

	r.valid = true
	empty := r.IsEmpty()
	r.lastEmpty = empty
	if empty && r.emptyBehavior == InvalidateIfEmpty {
		r.invalidate()
		return wasValid, false
	}

	if !wasEmpty && empty && r.feedback != nil {
		r.feedback.OnRangeEmpty(r)
	}
	if r.feedback != nil {
		r.feedback.OnRangeContentChanged(r)
	}
	return false, empty && !wasEmpty
}

func (r *Range) invalidate() {
	wasValid := r.valid
	r.start.Invalidate()
	r.end.Invalidate()
	r.valid = false
	if wasValid && r.feedback != nil {
		r.feedback.OnRangeInvalid(r)
	}
}

// Less orders two ranges by their start cursor.
func Less(a, b *Range) bool {
	return cursor.Less(a.start, b.start)
}

// Contains reports whether r strictly contains other (other's endpoints
// are both within r's span and the spans are not identical).
func Contains(r, other *Range) bool {
	return !cursor.Less(other.start, r.start) && !cursor.Less(r.end, other.end) &&
		(cursor.Less(r.start, other.start) || cursor.Less(other.end, r.end))
}

// Overlaps reports whether r and other share any span without one strictly
// containing the other.
func Overlaps(r, other *Range) bool {
	disjoint := !cursor.Less(r.start, other.end) || !cursor.Less(other.start, r.end)
	if disjoint {
		return false
	}
	return !Contains(r, other) && !Contains(other, r) && !(cursor.Equal(r.start, other.start) && cursor.Equal(r.end, other.end))
}
