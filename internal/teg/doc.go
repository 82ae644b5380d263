// Package teg implements the Temporal Effect Graph: a content-addressed
// DAG of effect and resource nodes joined by data-flow, temporal, causal
// and resource-flow edges.
//
// A graph is built from an effect expression one top-level step at a
// time. Each step becomes an EffectNode carrying its lowered code; labels
// nested inside a step become child nodes with no code of their own.
// Resources allocated by a step become ResourceNodes linked by Produces
// and Consumes edges.
//
// CRITICAL PATTERNS:
//
// CP-1: Flat indirection. Nodes reference each other by id only; the
// graph is a map of id to node plus a list of id-keyed edges. There are
// no pointer cycles.
//
// CP-2: Canonical order. Nodes are hashed sorted by id bytes, edges
// sorted by (from, to, kind). Map iteration never reaches an encoder.
//
// CP-3: Deterministic schedule. ToProgram orders steps topologically and
// breaks ties by node id bytes.
package teg
