package teg

import (
	"bytes"
	"cmp"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/causality/internal/effect"
	"github.com/roach88/causality/internal/ir"
	"github.com/roach88/causality/internal/machine"
)

// ResourceState is the graph-level state of a resource node.
type ResourceState uint8

const (
	StateActive ResourceState = iota + 1
	StateFrozen
	StateLocked
	StateInactive
)

func (s ResourceState) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateFrozen:
		return "frozen"
	case StateLocked:
		return "locked"
	case StateInactive:
		return "inactive"
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

// EdgeKind discriminates edges. Values are wire tags.
type EdgeKind uint8

const (
	EdgeDataFlow EdgeKind = iota + 1
	EdgeBefore
	EdgeConcurrent
	EdgeDependency
	EdgeSequence
	EdgeConsumes
	EdgeProduces
)

var edgeNames = map[EdgeKind]string{
	EdgeDataFlow:   "data-flow",
	EdgeBefore:     "before",
	EdgeConcurrent: "concurrent",
	EdgeDependency: "dependency",
	EdgeSequence:   "sequence",
	EdgeConsumes:   "consumes",
	EdgeProduces:   "produces",
}

func (k EdgeKind) String() string {
	if n, ok := edgeNames[k]; ok {
		return n
	}
	return fmt.Sprintf("edge(%d)", uint8(k))
}

// Ordering reports whether k constrains the schedule.
func (k EdgeKind) Ordering() bool {
	switch k {
	case EdgeDataFlow, EdgeBefore, EdgeDependency, EdgeSequence:
		return true
	}
	return false
}

// EffectNode is one step of the computation, or a label nested inside a
// step when Parent is set. Nested labels carry no code.
type EffectNode struct {
	ID      ir.NodeID
	Step    int
	Tag     string
	Label   string
	Parent  ir.NodeID
	Inputs  []ir.NodeID
	Outputs []ir.NodeID
	Domain  ir.DomainID
	Code    *effect.Fragment
}

// Hash returns the node's content id.
func (n *EffectNode) Hash() ir.ContentID { return ir.ContentID(n.ID) }

// TopLevel reports whether n is a schedulable step.
func (n *EffectNode) TopLevel() bool { return n.Parent.IsZero() }

func (n *EffectNode) encodeFields(e *ir.Encoder) {
	e.Tag(nodeEffect)
	e.Index(n.Step)
	e.String(n.Tag)
	e.String(n.Label)
	e.ID(ir.EntityID(n.Parent))
	e.IDs(nodeEntities(n.Inputs))
	e.IDs(nodeEntities(n.Outputs))
	e.ID(ir.EntityID(n.Domain))
	e.Option(n.Code != nil)
	if n.Code != nil {
		encodeFragment(e, *n.Code)
	}
}

// ResourceNode is a resource allocated by a step, or an input resource
// that exists before the graph runs.
type ResourceNode struct {
	ID        ir.NodeID
	Step      int
	Ordinal   int
	Type      ir.TypeTag
	Linearity ir.Linearity
	State     ResourceState
	Domain    ir.DomainID
}

// Hash returns the node's content id.
func (n *ResourceNode) Hash() ir.ContentID { return ir.ContentID(n.ID) }

func (n *ResourceNode) encodeFields(e *ir.Encoder) {
	e.Tag(nodeResource)
	e.Index(n.Step)
	e.Index(n.Ordinal)
	n.Type.EncodeTo(e)
	e.U8(uint8(n.Linearity))
	e.U8(uint8(n.State))
	e.ID(ir.EntityID(n.Domain))
}

const (
	nodeEffect   byte = 1
	nodeResource byte = 2
)

type nodeFields interface {
	encodeFields(e *ir.Encoder)
}

type nodeEntity struct{ n nodeFields }

func (nodeEntity) HashDomain() string       { return ir.DomainNode }
func (x nodeEntity) EncodeTo(e *ir.Encoder) { x.n.encodeFields(e) }

func nodeID(n nodeFields) (ir.NodeID, error) {
	id, err := ir.Hash(nodeEntity{n})
	return ir.NodeID(id), err
}

// Edge is a typed, directed edge between two nodes.
type Edge struct {
	Kind EdgeKind
	From ir.NodeID
	To   ir.NodeID
}

func (e Edge) String() string {
	return fmt.Sprintf("%s -%s-> %s", e.From.Short(), e.Kind, e.To.Short())
}

func compareEdges(a, b Edge) int {
	if c := bytes.Compare(a.From[:], b.From[:]); c != 0 {
		return c
	}
	if c := bytes.Compare(a.To[:], b.To[:]); c != 0 {
		return c
	}
	return cmp.Compare(a.Kind, b.Kind)
}

func compareNodes(a, b ir.NodeID) int { return bytes.Compare(a[:], b[:]) }

func nodeEntities(ids []ir.NodeID) []ir.EntityID {
	out := make([]ir.EntityID, len(ids))
	for i, id := range ids {
		out[i] = ir.EntityID(id)
	}
	return out
}

// Graph is a temporal effect graph. Result names the step whose output is
// the program result.
type Graph struct {
	Effects   map[ir.NodeID]*EffectNode
	Resources map[ir.NodeID]*ResourceNode
	Edges     []Edge
	Result    ir.NodeID
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{
		Effects:   map[ir.NodeID]*EffectNode{},
		Resources: map[ir.NodeID]*ResourceNode{},
	}
}

// AddEffect hashes n, stores it and returns its id. Inputs and Outputs
// are sorted first.
func (g *Graph) AddEffect(n *EffectNode) (ir.NodeID, error) {
	slices.SortFunc(n.Inputs, compareNodes)
	slices.SortFunc(n.Outputs, compareNodes)
	id, err := nodeID(n)
	if err != nil {
		return ir.NodeID{}, fmt.Errorf("hash effect node: %w", err)
	}
	n.ID = id
	g.Effects[id] = n
	return id, nil
}

// AddResource hashes n, stores it and returns its id.
func (g *Graph) AddResource(n *ResourceNode) (ir.NodeID, error) {
	id, err := nodeID(n)
	if err != nil {
		return ir.NodeID{}, fmt.Errorf("hash resource node: %w", err)
	}
	n.ID = id
	g.Resources[id] = n
	return id, nil
}

// AddEdge appends an edge unless an identical one exists.
func (g *Graph) AddEdge(kind EdgeKind, from, to ir.NodeID) {
	e := Edge{Kind: kind, From: from, To: to}
	if !slices.Contains(g.Edges, e) {
		g.Edges = append(g.Edges, e)
	}
}

// EffectIDs returns effect node ids in canonical order.
func (g *Graph) EffectIDs() []ir.NodeID { return sortedKeys(g.Effects) }

// ResourceIDs returns resource node ids in canonical order.
func (g *Graph) ResourceIDs() []ir.NodeID { return sortedKeys(g.Resources) }

func sortedKeys[V any](m map[ir.NodeID]V) []ir.NodeID {
	ids := make([]ir.NodeID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, compareNodes)
	return ids
}

// SortedEdges returns a copy of the edges in canonical order.
func (g *Graph) SortedEdges() []Edge {
	edges := slices.Clone(g.Edges)
	slices.SortFunc(edges, compareEdges)
	return edges
}

// EdgesOf returns edges of the given kind in canonical order.
func (g *Graph) EdgesOf(kind EdgeKind) []Edge {
	var out []Edge
	for _, e := range g.SortedEdges() {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

// Label returns the node carrying the given label.
func (g *Graph) Label(name string) (*EffectNode, bool) {
	for _, id := range g.EffectIDs() {
		if n := g.Effects[id]; n.Label == name {
			return n, true
		}
	}
	return nil, false
}

// Steps returns the top-level effect nodes in source order.
func (g *Graph) Steps() []*EffectNode {
	var out []*EffectNode
	for _, n := range g.Effects {
		if n.TopLevel() {
			out = append(out, n)
		}
	}
	slices.SortFunc(out, func(a, b *EffectNode) int { return cmp.Compare(a.Step, b.Step) })
	return out
}

// HashDomain implements ir.Entity.
func (g *Graph) HashDomain() string { return ir.DomainGraph }

// EncodeTo implements ir.Canonical: nodes sorted by id, then edges sorted
// by (from, to, kind), then the result node.
func (g *Graph) EncodeTo(e *ir.Encoder) {
	ids := append(g.EffectIDs(), g.ResourceIDs()...)
	slices.SortFunc(ids, compareNodes)
	e.Len(len(ids))
	var prev []byte
	for _, id := range ids {
		e.Ascending(prev, id[:])
		prev = id[:]
		if n, ok := g.Effects[id]; ok {
			n.encodeFields(e)
		} else {
			g.Resources[id].encodeFields(e)
		}
	}
	edges := g.SortedEdges()
	e.Len(len(edges))
	for i, ed := range edges {
		if i > 0 && compareEdges(edges[i-1], ed) == 0 {
			e.Fail("duplicate edge %s", ed)
		}
		e.Tag(byte(ed.Kind))
		e.ID(ir.EntityID(ed.From))
		e.ID(ir.EntityID(ed.To))
	}
	e.ID(ir.EntityID(g.Result))
}

// ID returns the graph's content id.
func (g *Graph) ID() (ir.ContentID, error) { return ir.Hash(g) }

// Bytes returns the canonical encoding.
func (g *Graph) Bytes() ([]byte, error) { return ir.Encode(g) }

// DecodeGraph reads a graph written by EncodeTo. Node ids are recomputed
// from their fields.
func DecodeGraph(data []byte) (*Graph, error) {
	d := ir.NewDecoder(data)
	g := ReadGraph(d)
	if err := d.Finish(); err != nil {
		return nil, err
	}
	return g, nil
}

// ReadGraph reads a graph from a decoder positioned at one.
func ReadGraph(d *ir.Decoder) *Graph {
	g := New()
	n := d.Len()
	for i := 0; i < n && d.Err() == nil; i++ {
		switch kind := d.Tag(); kind {
		case nodeEffect:
			node := &EffectNode{
				Step:    d.Index(),
				Tag:     d.String(),
				Label:   d.String(),
				Parent:  ir.NodeID(d.ID()),
				Inputs:  decodeNodeIDs(d),
				Outputs: decodeNodeIDs(d),
				Domain:  ir.DomainID(d.ID()),
			}
			if d.Option() {
				f := decodeFragment(d)
				node.Code = &f
			}
			if d.Err() == nil {
				if _, err := g.AddEffect(node); err != nil {
					d.Fail("%v", err)
				}
			}
		case nodeResource:
			node := &ResourceNode{
				Step:      d.Index(),
				Ordinal:   d.Index(),
				Type:      ir.DecodeType(d),
				Linearity: ir.Linearity(d.U8()),
				State:     ResourceState(d.U8()),
				Domain:    ir.DomainID(d.ID()),
			}
			if !node.Linearity.Valid() || node.State < StateActive || node.State > StateInactive {
				d.Fail("invalid resource node")
			}
			if d.Err() == nil {
				if _, err := g.AddResource(node); err != nil {
					d.Fail("%v", err)
				}
			}
		default:
			d.Fail("unknown node kind %d", kind)
		}
	}
	if d.Err() == nil && len(g.Effects)+len(g.Resources) != n {
		d.Fail("duplicate node")
	}
	n = d.Len()
	for i := 0; i < n && d.Err() == nil; i++ {
		kind := EdgeKind(d.Tag())
		if _, ok := edgeNames[kind]; !ok {
			d.Fail("unknown edge kind %d", kind)
		}
		ed := Edge{Kind: kind, From: ir.NodeID(d.ID()), To: ir.NodeID(d.ID())}
		if i > 0 && compareEdges(g.Edges[i-1], ed) >= 0 {
			d.Fail("edges out of canonical order")
		}
		g.Edges = append(g.Edges, ed)
	}
	g.Result = ir.NodeID(d.ID())
	return g
}

func decodeNodeIDs(d *ir.Decoder) []ir.NodeID {
	ids := d.IDs()
	if len(ids) == 0 {
		return nil
	}
	out := make([]ir.NodeID, len(ids))
	for i, id := range ids {
		out[i] = ir.NodeID(id)
	}
	return out
}

func encodeFragment(e *ir.Encoder, f effect.Fragment) {
	(&machine.Program{Code: f.Code, Constants: f.Constants}).EncodeTo(e)
	e.U32(uint32(f.Output))
}

func decodeFragment(d *ir.Decoder) effect.Fragment {
	p := machine.ReadProgram(d)
	return effect.Fragment{Code: p.Code, Constants: p.Constants, Output: machine.RegisterID(d.U32())}
}

// String renders the graph for debugging, one node or edge per line.
func (g *Graph) String() string {
	var b strings.Builder
	for _, n := range g.Steps() {
		fmt.Fprintf(&b, "step %d %s %s", n.Step, n.ID.Short(), n.Tag)
		if n.Label != "" {
			fmt.Fprintf(&b, " [%s]", n.Label)
		}
		b.WriteByte('\n')
	}
	for _, id := range g.EffectIDs() {
		if n := g.Effects[id]; !n.TopLevel() {
			fmt.Fprintf(&b, "label %s %s in %s\n", n.ID.Short(), n.Label, n.Parent.Short())
		}
	}
	for _, id := range g.ResourceIDs() {
		r := g.Resources[id]
		fmt.Fprintf(&b, "resource %s %s %s %s\n", id.Short(), r.Linearity, r.Type, r.State)
	}
	for _, e := range g.SortedEdges() {
		fmt.Fprintf(&b, "edge %s\n", e)
	}
	return b.String()
}
