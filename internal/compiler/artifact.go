package compiler

import (
	"fmt"

	"github.com/roach88/causality/internal/effect"
	"github.com/roach88/causality/internal/ir"
	"github.com/roach88/causality/internal/machine"
	"github.com/roach88/causality/internal/teg"
)

// Artifact is the content-addressed output of one compilation.
type Artifact struct {
	Source  string
	SExpr   SExpr
	Expr    effect.Expr
	Graph   *teg.Graph
	Program *machine.Program
	ID      ir.ContentID
}

// HashDomain implements ir.Entity.
func (a *Artifact) HashDomain() string { return ir.DomainArtifact }

// EncodeTo implements ir.Canonical. The id is derived, not encoded.
func (a *Artifact) EncodeTo(e *ir.Encoder) {
	e.String(a.Source)
	a.SExpr.EncodeTo(e)
	if a.Expr == nil || a.Graph == nil || a.Program == nil {
		e.Fail("incomplete artifact")
		return
	}
	a.Expr.EncodeTo(e)
	a.Graph.EncodeTo(e)
	a.Program.EncodeTo(e)
}

// Bytes returns the canonical encoding.
func (a *Artifact) Bytes() ([]byte, error) { return ir.Encode(a) }

// ProgramID returns the id of the compiled program.
func (a *Artifact) ProgramID() ir.ProgramID { return a.Program.MustID() }

// DecodeArtifact reads an artifact and recomputes its id.
func DecodeArtifact(data []byte) (*Artifact, error) {
	d := ir.NewDecoder(data)
	a := &Artifact{Source: d.String()}
	a.SExpr = DecodeSExpr(d)
	a.Expr = effect.DecodeExpr(d)
	a.Graph = teg.ReadGraph(d)
	a.Program = machine.ReadProgram(d)
	if err := d.Finish(); err != nil {
		return nil, fmt.Errorf("decode artifact: %w", err)
	}
	id, err := ir.Hash(a)
	if err != nil {
		return nil, fmt.Errorf("hash artifact: %w", err)
	}
	a.ID = id
	return a, nil
}

// SourceID is the cache key of a source text.
func SourceID(src string) ir.ContentID {
	return ir.SumBytes(ir.DomainSource, []byte(src))
}

// Compile runs the whole pipeline on src. It never returns a partial
// artifact.
func Compile(src string) (*Artifact, error) {
	form, err := ReadOne(src)
	if err != nil {
		return nil, err
	}
	x, err := Analyze(form)
	if err != nil {
		return nil, err
	}
	g, err := teg.Build(x)
	if err != nil {
		return nil, &CompileError{Code: ErrCodeLowering, Message: "build effect graph", Pos: form.Pos, Cause: err}
	}
	p, err := g.ToProgram()
	if err != nil {
		return nil, &CompileError{Code: ErrCodeLowering, Message: "schedule effect graph", Pos: form.Pos, Cause: err}
	}
	a := &Artifact{Source: src, SExpr: form, Expr: x, Graph: g, Program: p}
	if a.ID, err = ir.Hash(a); err != nil {
		return nil, &CompileError{Code: ErrCodeLowering, Message: "hash artifact", Cause: err}
	}
	return a, nil
}
