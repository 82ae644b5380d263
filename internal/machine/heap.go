package machine

import (
	"fmt"
	"slices"

	"github.com/roach88/causality/internal/ir"
)

// ResourceState is the lifecycle state of a heap resource.
type ResourceState uint8

const (
	Active ResourceState = iota + 1
	Locked
	Frozen
	Archived
	Consumed
)

func (s ResourceState) String() string {
	switch s {
	case Active:
		return "active"
	case Locked:
		return "locked"
	case Frozen:
		return "frozen"
	case Archived:
		return "archived"
	case Consumed:
		return "consumed"
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

// ParseResourceState parses a lowercase state name.
func ParseResourceState(s string) (ResourceState, error) {
	for st := Active; st <= Consumed; st++ {
		if st.String() == s {
			return st, nil
		}
	}
	return 0, fmt.Errorf("unknown resource state %q", s)
}

// CanTransition reports whether from → to is an explicit lifecycle edge.
// Consumed is terminal; every other state returns only to Active.
func CanTransition(from, to ResourceState) bool {
	switch from {
	case Active:
		return to == Locked || to == Frozen || to == Archived || to == Consumed
	case Locked, Frozen, Archived:
		return to == Active
	}
	return false
}

// Resource is an owned heap value. Its id is the hash of the canonical
// fields; the nonce makes two allocations of equal values distinct.
type Resource struct {
	ID        ir.ResourceID
	Type      ir.TypeTag
	Linearity ir.Linearity
	Value     ir.Value
	State     ResourceState
	Nonce     uint64
}

type resourceFields struct{ r *Resource }

func (f resourceFields) HashDomain() string { return ir.DomainResource }

func (f resourceFields) EncodeTo(e *ir.Encoder) {
	f.r.Type.EncodeTo(e)
	e.U8(uint8(f.r.Linearity))
	ir.EncodeValue(e, f.r.Value)
	e.U64(f.r.Nonce)
}

// EncodeTo writes the resource including its id and state.
func (r *Resource) EncodeTo(e *ir.Encoder) {
	e.ID(r.ID.Entity())
	resourceFields{r}.EncodeTo(e)
	e.U8(uint8(r.State))
}

// ResourceEventKind classifies a heap change.
type ResourceEventKind uint8

const (
	EventAlloc ResourceEventKind = iota + 1
	EventConsume
	EventTransition
	EventRelease
)

func (k ResourceEventKind) String() string {
	switch k {
	case EventAlloc:
		return "alloc"
	case EventConsume:
		return "consume"
	case EventTransition:
		return "transition"
	case EventRelease:
		return "release"
	}
	return fmt.Sprintf("event(%d)", uint8(k))
}

// ResourceEvent records one heap change for the trace.
type ResourceEvent struct {
	Kind     ResourceEventKind
	Resource ir.ResourceID
	From     ResourceState
	To       ResourceState
}

// EncodeTo implements ir.Canonical.
func (ev ResourceEvent) EncodeTo(e *ir.Encoder) {
	e.Tag(byte(ev.Kind))
	e.ID(ev.Resource.Entity())
	e.U8(uint8(ev.From))
	e.U8(uint8(ev.To))
}

func (ev ResourceEvent) String() string {
	if ev.Kind == EventTransition {
		return fmt.Sprintf("%s %s %s->%s", ev.Kind, ev.Resource.Short(), ev.From, ev.To)
	}
	return fmt.Sprintf("%s %s", ev.Kind, ev.Resource.Short())
}

// DecodeResourceEvent reads an event written by EncodeTo.
func DecodeResourceEvent(d *ir.Decoder) ResourceEvent {
	var ev ResourceEvent
	ev.Kind = ResourceEventKind(d.Tag())
	ev.Resource = ir.ResourceID(d.ID())
	ev.From = ResourceState(d.U8())
	ev.To = ResourceState(d.U8())
	return ev
}

// Heap maps resource ids to live resources. Consumed resources leave the
// live map and are remembered as tombstones so they cannot be resurrected.
type Heap struct {
	live       map[ir.ResourceID]*Resource
	tombstones map[ir.ResourceID]struct{}
	nonce      uint64
}

// NewHeap creates an empty heap.
func NewHeap() *Heap {
	return &Heap{
		live:       make(map[ir.ResourceID]*Resource),
		tombstones: make(map[ir.ResourceID]struct{}),
	}
}

// Len returns the number of live resources.
func (h *Heap) Len() int { return len(h.live) }

// IDs returns live resource ids in byte order.
func (h *Heap) IDs() []ir.ResourceID {
	return sortedIDs(h.live)
}

func sortedIDs[V any](m map[ir.ResourceID]V) []ir.ResourceID {
	ids := make([]ir.ResourceID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, func(a, b ir.ResourceID) int {
		return a.Entity().Compare(b.Entity())
	})
	return ids
}

// Alloc creates an Active resource.
func (h *Heap) Alloc(t ir.TypeTag, l ir.Linearity, v ir.Value) (*Resource, error) {
	r := &Resource{Type: t, Linearity: l, Value: v, State: Active, Nonce: h.nonce}
	id, err := ir.Hash(resourceFields{r})
	if err != nil {
		return nil, fmt.Errorf("hash resource: %w", err)
	}
	r.ID = ir.ResourceID(id)
	h.nonce++
	h.live[r.ID] = r
	return r, nil
}

// Insert places an existing resource in the heap, used to seed initial
// heaps. The resource must not already be known.
func (h *Heap) Insert(r *Resource) error {
	if _, ok := h.live[r.ID]; ok {
		return &Error{Code: ErrCodeInvalidTransition, Message: "resource " + r.ID.Short() + " already live"}
	}
	if _, ok := h.tombstones[r.ID]; ok {
		return &Error{Code: ErrCodeAlreadyConsumed, Message: "resource " + r.ID.Short() + " was consumed"}
	}
	cp := *r
	h.live[r.ID] = &cp
	if r.Nonce >= h.nonce {
		h.nonce = r.Nonce + 1
	}
	return nil
}

// Get returns a live resource.
func (h *Heap) Get(id ir.ResourceID) (*Resource, error) {
	if r, ok := h.live[id]; ok {
		return r, nil
	}
	if _, ok := h.tombstones[id]; ok {
		return nil, &Error{Code: ErrCodeAlreadyConsumed, Message: "resource " + id.Short() + " already consumed"}
	}
	return nil, &Error{Code: ErrCodeUnknownResource, Message: "resource " + id.Short() + " not in heap"}
}

// StateOf returns the lifecycle state of id, including Consumed for
// tombstones.
func (h *Heap) StateOf(id ir.ResourceID) (ResourceState, bool) {
	if r, ok := h.live[id]; ok {
		return r.State, true
	}
	if _, ok := h.tombstones[id]; ok {
		return Consumed, true
	}
	return 0, false
}

// Consume removes an Active resource and returns it.
func (h *Heap) Consume(id ir.ResourceID) (*Resource, error) {
	r, err := h.Get(id)
	if err != nil {
		return nil, err
	}
	if r.State != Active {
		return nil, invalidTransition(id, r.State, Consumed)
	}
	delete(h.live, id)
	h.tombstones[id] = struct{}{}
	out := *r
	out.State = Consumed
	return &out, nil
}

// Transition moves a live resource along an explicit lifecycle edge.
// Consumption goes through Consume.
func (h *Heap) Transition(id ir.ResourceID, to ResourceState) (ResourceEvent, error) {
	r, err := h.Get(id)
	if err != nil {
		return ResourceEvent{}, err
	}
	if to == Consumed || !CanTransition(r.State, to) {
		return ResourceEvent{}, invalidTransition(id, r.State, to)
	}
	ev := ResourceEvent{Kind: EventTransition, Resource: id, From: r.State, To: to}
	r.State = to
	return ev, nil
}

func invalidTransition(id ir.ResourceID, from, to ResourceState) *Error {
	return &Error{
		Code:    ErrCodeInvalidTransition,
		Message: fmt.Sprintf("resource %s cannot move %s -> %s", id.Short(), from, to),
	}
}

// Clone deep-copies the heap.
func (h *Heap) Clone() *Heap {
	out := &Heap{
		live:       make(map[ir.ResourceID]*Resource, len(h.live)),
		tombstones: make(map[ir.ResourceID]struct{}, len(h.tombstones)),
		nonce:      h.nonce,
	}
	for id, r := range h.live {
		cp := *r
		out.live[id] = &cp
	}
	for id := range h.tombstones {
		out.tombstones[id] = struct{}{}
	}
	return out
}

// EncodeTo writes live resources and tombstones in id order.
func (h *Heap) EncodeTo(e *ir.Encoder) {
	ids := h.IDs()
	e.Len(len(ids))
	for _, id := range ids {
		h.live[id].EncodeTo(e)
	}
	dead := sortedIDs(h.tombstones)
	e.Len(len(dead))
	for _, id := range dead {
		e.ID(id.Entity())
	}
	e.U64(h.nonce)
}
