package zk

import (
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr/mimc"

	"github.com/roach88/causality/internal/ir"
)

// idElement reduces a 32-byte id into the BN254 scalar field.
func idElement(id ir.EntityID) fr.Element {
	var e fr.Element
	e.SetBytes(id[:])
	return e
}

// valueElement maps a machine value into the scalar field. Integers map to
// themselves modulo r, so range constraints see their natural order; other
// values map to their reduced content hash.
func valueElement(v ir.Value) (fr.Element, error) {
	var e fr.Element
	switch x := v.(type) {
	case ir.Int:
		e.SetInt64(int64(x))
	case ir.Bool:
		if x {
			e.SetOne()
		}
	case ir.Unit:
	default:
		id, err := ir.ValueHash(v)
		if err != nil {
			return e, fmt.Errorf("hash %s: %w", ir.KindName(v), err)
		}
		e = idElement(id)
	}
	return e, nil
}

func toBig(e fr.Element) *big.Int {
	return e.BigInt(new(big.Int))
}

// commit computes the MiMC digest the circuit recomputes over its public
// program and inputs followed by the private values.
func commit(elems ...fr.Element) (fr.Element, error) {
	h := mimc.NewMiMC()
	for _, e := range elems {
		b := e.Bytes()
		if _, err := h.Write(b[:]); err != nil {
			return fr.Element{}, err
		}
	}
	var out fr.Element
	out.SetBytes(h.Sum(nil))
	return out, nil
}
