package zk

import (
	"bytes"
	"context"
	"io"
	"math/big"
	"sync"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"
	gnarklogger "github.com/consensys/gnark/logger"
	"github.com/consensys/gnark/std/hash/mimc"
	"github.com/rs/zerolog"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/roach88/causality/internal/ir"
)

// Groth16Name is the backend name recorded in Groth16 proofs.
const Groth16Name = "groth16-bn254"

// ruleCircuit proves that every value satisfies its rules and that the
// public commitment hashes the program, public inputs and values.
type ruleCircuit struct {
	Program    frontend.Variable `gnark:",public"`
	Public     frontend.Variable `gnark:",public"`
	Commitment frontend.Variable `gnark:",public"`
	Values     []frontend.Variable

	Rules [][]Rule `gnark:"-"`
}

func (c *ruleCircuit) Define(api frontend.API) error {
	for i, x := range c.Values {
		for _, r := range c.Rules[i] {
			switch r.Kind {
			case RuleRange:
				span := new(big.Int).Sub(big.NewInt(r.Max), big.NewInt(r.Min))
				api.AssertIsLessOrEqual(api.Sub(x, r.Min), span)
			case RuleNonZero:
				api.AssertIsDifferent(x, 0)
			case RuleBoolean:
				api.AssertIsBoolean(x)
			}
		}
	}
	h, err := mimc.NewMiMC(api)
	if err != nil {
		return err
	}
	h.Write(c.Program, c.Public)
	h.Write(c.Values...)
	api.AssertIsEqual(h.Sum(), c.Commitment)
	return nil
}

type groth16Keys struct {
	ccs constraint.ConstraintSystem
	pk  groth16.ProvingKey
	vk  []byte
}

// Groth16Backend proves witness rules with Groth16 over BN254. Circuits
// and keys are set up once per rule layout and cached.
type Groth16Backend struct {
	log       *zap.Logger
	maxInputs int

	mu    sync.Mutex
	keys  map[string]*groth16Keys
	setup singleflight.Group
}

// Groth16Option configures a Groth16Backend.
type Groth16Option func(*Groth16Backend)

// WithGroth16Logger sets the backend's logger.
func WithGroth16Logger(l *zap.Logger) Groth16Option {
	return func(b *Groth16Backend) { b.log = l }
}

// WithMaxInputs bounds the number of private inputs one proof may carry.
// Larger witnesses fail with INSUFFICIENT_RESOURCES. Zero means no bound.
func WithMaxInputs(n int) Groth16Option {
	return func(b *Groth16Backend) { b.maxInputs = n }
}

var quietGnark sync.Once

// NewGroth16Backend returns a Groth16 backend.
func NewGroth16Backend(opts ...Groth16Option) *Groth16Backend {
	quietGnark.Do(func() {
		gnarklogger.Set(zerolog.New(io.Discard).Level(zerolog.Disabled))
	})
	b := &Groth16Backend{log: zap.NewNop(), keys: map[string]*groth16Keys{}}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Name implements Backend.
func (b *Groth16Backend) Name() string { return Groth16Name }

func layoutKey(rules [][]Rule) (string, error) {
	e := ir.NewEncoder()
	e.Len(len(rules))
	for _, rs := range rules {
		e.Len(len(rs))
		for _, r := range rs {
			r.EncodeTo(e)
		}
	}
	data, err := e.Bytes()
	return string(data), err
}

// circuitRules drops Custom rules, which have no constraints (CP-3).
func circuitRules(rules [][]Rule) [][]Rule {
	out := make([][]Rule, len(rules))
	for i, rs := range rules {
		for _, r := range rs {
			if r.Kind != RuleCustom {
				out[i] = append(out[i], r)
			}
		}
	}
	return out
}

func (b *Groth16Backend) keysFor(rules [][]Rule) (*groth16Keys, error) {
	key, err := layoutKey(rules)
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	k, ok := b.keys[key]
	b.mu.Unlock()
	if ok {
		return k, nil
	}
	v, err, _ := b.setup.Do(key, func() (any, error) {
		circuit := &ruleCircuit{Values: make([]frontend.Variable, len(rules)), Rules: rules}
		ccs, err := frontend.Compile(ecc.BN254.ScalarField(), r1cs.NewBuilder, circuit)
		if err != nil {
			return nil, err
		}
		pk, vk, err := groth16.Setup(ccs)
		if err != nil {
			return nil, err
		}
		var buf bytes.Buffer
		if _, err := vk.WriteTo(&buf); err != nil {
			return nil, err
		}
		k := &groth16Keys{ccs: ccs, pk: pk, vk: buf.Bytes()}
		b.mu.Lock()
		b.keys[key] = k
		b.mu.Unlock()
		b.log.Debug("groth16 setup",
			zap.Int("inputs", len(rules)),
			zap.Int("constraints", ccs.GetNbConstraints()))
		return k, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*groth16Keys), nil
}

// Prove implements Backend.
func (b *Groth16Backend) Prove(ctx context.Context, w *Witness, schema *Schema, public *PublicInputs) (*Proof, error) {
	digest, err := prepare(ctx, w, schema, public)
	if err != nil {
		return nil, err
	}
	values := w.Values()
	if b.maxInputs > 0 && len(values) > b.maxInputs {
		return nil, newError(ErrCodeInsufficientMemory, nil, "%d private inputs exceed the limit of %d", len(values), b.maxInputs)
	}
	elems := []fr.Element{idElement(ir.EntityID(w.Program)), idElement(digest)}
	assignment := &ruleCircuit{Values: make([]frontend.Variable, len(values))}
	for i, v := range values {
		e, err := valueElement(v)
		if err != nil {
			return nil, newError(ErrCodeProofGeneration, err, "input %d", i)
		}
		elems = append(elems, e)
		assignment.Values[i] = toBig(e)
	}
	c, err := commit(elems...)
	if err != nil {
		return nil, newError(ErrCodeProofGeneration, err, "commit witness")
	}
	assignment.Program, assignment.Public, assignment.Commitment = toBig(elems[0]), toBig(elems[1]), toBig(c)

	keys, err := b.keysFor(circuitRules(schema.Rules()))
	if err != nil {
		return nil, newError(ErrCodeProofGeneration, err, "circuit setup")
	}

	type result struct {
		data []byte
		err  error
	}
	done := make(chan result, 1)
	go func() {
		full, err := frontend.NewWitness(assignment, ecc.BN254.ScalarField())
		if err != nil {
			done <- result{err: err}
			return
		}
		proof, err := groth16.Prove(keys.ccs, keys.pk, full)
		if err != nil {
			done <- result{err: err}
			return
		}
		var buf bytes.Buffer
		_, err = proof.WriteTo(&buf)
		done <- result{data: buf.Bytes(), err: err}
	}()
	var res result
	select {
	case <-ctx.Done():
		return nil, newError(ErrCodeTimeout, ctx.Err(), "groth16 prove")
	case res = <-done:
	}
	if res.err != nil {
		return nil, newError(ErrCodeProofGeneration, res.err, "groth16 prove")
	}
	cb := c.Bytes()
	p := &Proof{
		Program:      w.Program,
		Backend:      Groth16Name,
		Public:       digest,
		Commitment:   cb[:],
		Data:         res.data,
		VerifyingKey: bytes.Clone(keys.vk),
	}
	b.log.Debug("groth16 proof",
		zap.Stringer("program", w.Program),
		zap.Int("inputs", len(values)),
		zap.Int("bytes", len(res.data)))
	return p, nil
}

// Verify implements Backend.
func (b *Groth16Backend) Verify(ctx context.Context, p *Proof, public *PublicInputs, program ir.ProgramID) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, newError(ErrCodeTimeout, err, "groth16 verify")
	}
	digest, ok, err := checkBinding(Groth16Name, p, public, program)
	if err != nil || !ok {
		return false, err
	}
	vk := groth16.NewVerifyingKey(ecc.BN254)
	if _, err := vk.ReadFrom(bytes.NewReader(p.VerifyingKey)); err != nil {
		return false, newError(ErrCodeInvalidProofData, err, "read verifying key")
	}
	proof := groth16.NewProof(ecc.BN254)
	if _, err := proof.ReadFrom(bytes.NewReader(p.Data)); err != nil {
		return false, newError(ErrCodeInvalidProofData, err, "read proof")
	}
	if len(p.Commitment) != fr.Bytes {
		return false, newError(ErrCodeInvalidProofData, nil, "commitment is %d bytes", len(p.Commitment))
	}
	var c fr.Element
	c.SetBytes(p.Commitment)
	pub := &ruleCircuit{
		Program:    toBig(idElement(ir.EntityID(program))),
		Public:     toBig(idElement(digest)),
		Commitment: toBig(c),
	}
	pw, err := frontend.NewWitness(pub, ecc.BN254.ScalarField(), frontend.PublicOnly())
	if err != nil {
		return false, newError(ErrCodeInvalidProofData, err, "public witness")
	}
	if err := groth16.Verify(proof, vk, pw); err != nil {
		b.log.Debug("groth16 rejected", zap.Stringer("program", program), zap.Error(err))
		return false, nil
	}
	return true, nil
}
