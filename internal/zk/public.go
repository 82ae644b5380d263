package zk

import (
	"encoding/json"
	"maps"
	"slices"

	"github.com/roach88/causality/internal/executor"
	"github.com/roach88/causality/internal/ir"
	"github.com/roach88/causality/internal/machine"
)

// PublicInputs are the values a proof is verified against. Maps are
// encoded key-sorted, so two equal input sets hash identically however
// they were built.
type PublicInputs struct {
	Domain    ir.DomainID
	Resources map[ir.ResourceID]ir.ContentID
	Effects   map[string]ir.ContentID
	Custom    map[string][]byte
}

// NewPublicInputs returns empty public inputs for domain.
func NewPublicInputs(domain ir.DomainID) *PublicInputs {
	return &PublicInputs{
		Domain:    domain,
		Resources: map[ir.ResourceID]ir.ContentID{},
		Effects:   map[string]ir.ContentID{},
		Custom:    map[string][]byte{},
	}
}

// SetCustom stores a custom key. It returns pi for chaining.
func (pi *PublicInputs) SetCustom(key string, value []byte) *PublicInputs {
	if pi.Custom == nil {
		pi.Custom = map[string][]byte{}
	}
	pi.Custom[key] = slices.Clone(value)
	return pi
}

// CommitRun builds public inputs from a finished run: one commitment per
// live resource in heap and one per effect tag performed in trace.
func CommitRun(domain ir.DomainID, trace *executor.Trace, heap *machine.Heap) (*PublicInputs, error) {
	pi := NewPublicInputs(domain)
	if heap != nil {
		for _, id := range heap.IDs() {
			r, err := heap.Get(id)
			if err != nil {
				return nil, err
			}
			data, err := ir.Encode(r)
			if err != nil {
				return nil, err
			}
			pi.Resources[id] = ir.SumBytes(ir.DomainResource, data)
		}
	}
	performed := map[string]*ir.Encoder{}
	for _, ev := range trace.Events {
		if ev.Kind != executor.EventPerform {
			continue
		}
		enc, ok := performed[ev.Subject]
		if !ok {
			enc = ir.NewEncoder()
			performed[ev.Subject] = enc
		}
		ev.EncodeTo(enc)
	}
	for tag, enc := range performed {
		data, err := enc.Bytes()
		if err != nil {
			return nil, err
		}
		pi.Effects[tag] = ir.SumBytes(ir.DomainEffect, data)
	}
	return pi, nil
}

// HashDomain implements ir.Entity.
func (*PublicInputs) HashDomain() string { return ir.DomainPublic }

// EncodeTo implements ir.Canonical.
func (pi *PublicInputs) EncodeTo(e *ir.Encoder) {
	e.ID(pi.Domain.Entity())
	ids := slices.SortedFunc(maps.Keys(pi.Resources), func(a, b ir.ResourceID) int {
		return a.Entity().Compare(b.Entity())
	})
	e.Len(len(ids))
	for _, id := range ids {
		e.ID(id.Entity())
		e.ID(pi.Resources[id])
	}
	tags := slices.Sorted(maps.Keys(pi.Effects))
	e.Len(len(tags))
	for _, t := range tags {
		e.String(t)
		e.ID(pi.Effects[t])
	}
	keys := slices.Sorted(maps.Keys(pi.Custom))
	e.Len(len(keys))
	for _, k := range keys {
		e.String(k)
		e.Blob(pi.Custom[k])
	}
}

// Digest returns the content id of the inputs.
func (pi *PublicInputs) Digest() (ir.ContentID, error) { return ir.Hash(pi) }

// Bytes returns the canonical encoding.
func (pi *PublicInputs) Bytes() ([]byte, error) { return ir.Encode(pi) }

// DecodePublicInputs reads public inputs written by Bytes. Keys must be
// strictly ascending.
func DecodePublicInputs(data []byte) (*PublicInputs, error) {
	d := ir.NewDecoder(data)
	pi := NewPublicInputs(ir.DomainID(d.ID()))
	var prev []byte
	n := d.Len()
	for i := 0; i < n && d.Err() == nil; i++ {
		id := d.ID()
		d.Ascending(prev, id[:])
		prev = id[:]
		pi.Resources[ir.ResourceID(id)] = d.ID()
	}
	prev = nil
	n = d.Len()
	for i := 0; i < n && d.Err() == nil; i++ {
		t := d.String()
		d.Ascending(prev, []byte(t))
		prev = []byte(t)
		pi.Effects[t] = d.ID()
	}
	prev = nil
	n = d.Len()
	for i := 0; i < n && d.Err() == nil; i++ {
		k := d.String()
		d.Ascending(prev, []byte(k))
		prev = []byte(k)
		pi.Custom[k] = d.Blob()
	}
	if err := d.Finish(); err != nil {
		return nil, newError(ErrCodeInvalidProofData, err, "decode public inputs")
	}
	return pi, nil
}

// MarshalJSON renders ids as hex for human-facing dumps. The canonical
// encoding, not JSON, determines the digest.
func (pi *PublicInputs) MarshalJSON() ([]byte, error) {
	res := make(map[string]string, len(pi.Resources))
	for id, c := range pi.Resources {
		res[id.String()] = c.Hex()
	}
	eff := make(map[string]string, len(pi.Effects))
	for t, c := range pi.Effects {
		eff[t] = c.Hex()
	}
	return json.Marshal(struct {
		Domain    string            `json:"domain"`
		Resources map[string]string `json:"resources"`
		Effects   map[string]string `json:"effects"`
		Custom    map[string][]byte `json:"custom"`
	}{pi.Domain.String(), res, eff, pi.Custom})
}
