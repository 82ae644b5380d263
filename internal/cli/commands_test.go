package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/causality/internal/compiler"
	"github.com/roach88/causality/internal/ir"
	"github.com/roach88/causality/internal/store"
	"github.com/roach88/causality/internal/testutil"
)

func TestCompile(t *testing.T) {
	src := writeFile(t, t.TempDir(), "p.cl", testutil.SourceAllocConsume)

	out, err := execRoot(t, "compile", src)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Compiled")
	assert.Contains(t, out, "artifact")

	out, err = execRoot(t, "--format", "json", "compile", "--listing", src)
	require.NoError(t, err)
	var res CompileResult
	resp := decodeResponse(t, out, &res)
	assert.Equal(t, "ok", resp.Status)
	assert.Len(t, res.Artifact, 64)
	assert.Positive(t, res.Instructions)
	assert.Contains(t, res.Listing, "alloc")
}

func TestCompile_Deterministic(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.cl", testutil.SourceArith)
	b := writeFile(t, dir, "b.cl", testutil.SourceArith)

	var first, second CompileResult
	out, err := execRoot(t, "--format", "json", "compile", a)
	require.NoError(t, err)
	decodeResponse(t, out, &first)
	out, err = execRoot(t, "--format", "json", "compile", b)
	require.NoError(t, err)
	decodeResponse(t, out, &second)

	assert.Equal(t, first.Artifact, second.Artifact)
	assert.Equal(t, first.Program, second.Program)
}

func TestCompile_OutputFile(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, dir, "p.cl", testutil.SourceAllocConsume)
	artifact := filepath.Join(dir, "p.art")

	out, err := execRoot(t, "--format", "json", "compile", src, "-o", artifact)
	require.NoError(t, err)
	var res CompileResult
	decodeResponse(t, out, &res)

	data, err := os.ReadFile(artifact)
	require.NoError(t, err)
	a, err := compiler.DecodeArtifact(data)
	require.NoError(t, err)
	assert.Equal(t, res.Artifact, a.ID.Hex())
}

func TestCompile_ParseError(t *testing.T) {
	src := writeFile(t, t.TempDir(), "bad.cl", "(let r")

	out, err := execRoot(t, "--format", "json", "compile", src)
	require.Error(t, err)
	assert.Equal(t, ExitValidation, ExitCodeFor(err))
	resp := decodeResponse(t, out, nil)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "PARSE_ERROR", resp.Error.Code)
}

func TestCompile_MissingFile(t *testing.T) {
	out, err := execRoot(t, "compile", filepath.Join(t.TempDir(), "missing.cl"))
	require.Error(t, err)
	assert.Equal(t, ExitValidation, ExitCodeFor(err))
	assert.Contains(t, out, "LOAD_ERROR")
}

func TestValidate(t *testing.T) {
	src := writeFile(t, t.TempDir(), "p.cl", testutil.SourceAllocConsume)

	out, err := execRoot(t, "--format", "json", "validate", src)
	require.NoError(t, err)
	var res ValidateResult
	decodeResponse(t, out, &res)
	assert.True(t, res.Valid)
	assert.Equal(t, 2, res.Steps)

	out, err = execRoot(t, "validate", writeFile(t, t.TempDir(), "q.cl", "(pure (lambda (x) x))"))
	require.Error(t, err)
	assert.Equal(t, ExitValidation, ExitCodeFor(err))
	assert.Contains(t, out, "NOT_IMPLEMENTED")
}

func TestRun(t *testing.T) {
	src := writeFile(t, t.TempDir(), "p.cl", testutil.SourceAllocConsume)

	out, err := execRoot(t, "run", src)
	require.NoError(t, err)
	assert.Contains(t, out, "= 42")

	out, err = execRoot(t, "--format", "json", "run", src)
	require.NoError(t, err)
	var res RunResult
	decodeResponse(t, out, &res)
	assert.Equal(t, "42", res.Value)
	assert.Empty(t, res.Failure)
	assert.Empty(t, res.RunID)
	assert.Positive(t, res.Stats.GasUsed)
}

func TestRun_Stdin(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(buf)
	cmd.SetIn(strings.NewReader(testutil.SourceArith))
	cmd.SetArgs([]string{"--color", "off", "run", "-"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "= 15")
}

func TestRun_Handlers(t *testing.T) {
	src := writeFile(t, t.TempDir(), "p.cl", testutil.SourceEffect)

	out, err := execRoot(t, "--format", "json", "run", src, "--handler", "f=incr")
	require.NoError(t, err)
	var res RunResult
	decodeResponse(t, out, &res)
	assert.Equal(t, "3", res.Value)
	assert.Equal(t, 2, res.Stats.Effects)

	out, err = execRoot(t, "--format", "json", "run", src, "--handler", "f=const:9")
	require.NoError(t, err)
	decodeResponse(t, out, &res)
	assert.Equal(t, "9", res.Value)
}

func TestRun_OutOfGas(t *testing.T) {
	src := writeFile(t, t.TempDir(), "p.cl", testutil.SourceAllocConsume)

	out, err := execRoot(t, "--format", "json", "run", src, "--gas", "1")
	require.Error(t, err)
	assert.Equal(t, ExitResourceState, ExitCodeFor(err))

	resp := decodeResponse(t, out, nil)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "OUT_OF_GAS", resp.Error.Code)
	assert.Equal(t, "resource_state", resp.Error.Category)
}

func TestTrace(t *testing.T) {
	src := writeFile(t, t.TempDir(), "p.cl", testutil.SourceEffect)

	out, err := execRoot(t, "--format", "json", "trace", src, "--handler", "f=echo")
	require.NoError(t, err)
	var res TraceResult
	decodeResponse(t, out, &res)
	assert.NotEmpty(t, res.Entries)

	performs := 0
	for _, ev := range res.Events {
		if ev.Kind == "perform" {
			performs++
			assert.Equal(t, "f", ev.Subject)
		}
	}
	assert.Equal(t, 2, performs)

	out, err = execRoot(t, "trace", src, "--handler", "f=echo")
	require.NoError(t, err)
	assert.Contains(t, out, "Entries:")
	assert.Contains(t, out, "Events:")
}

func TestTrace_NeedsOneSource(t *testing.T) {
	_, err := execRoot(t, "trace")
	require.Error(t, err)
	assert.Equal(t, ExitValidation, ExitCodeFor(err))

	_, err = execRoot(t, "trace", "x.cl", "--run", uuid.NewString())
	require.Error(t, err)
	assert.Equal(t, ExitValidation, ExitCodeFor(err))

	_, err = execRoot(t, "trace", "--run", uuid.NewString())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sqlite")
}

func TestRunReplayTrace_SQLite(t *testing.T) {
	dir := t.TempDir()
	cfg := sqliteConfig(t, dir)
	src := writeFile(t, dir, "p.cl", testutil.SourceEffect)

	_, err := execRoot(t, "--config", cfg, "replay", src, "--handler", "f=incr")
	require.Error(t, err)
	assert.Equal(t, ExitValidation, ExitCodeFor(err))

	out, err := execRoot(t, "--config", cfg, "--format", "json", "run", src, "--handler", "f=incr")
	require.NoError(t, err)
	var run RunResult
	decodeResponse(t, out, &run)
	require.NotEmpty(t, run.RunID)

	out, err = execRoot(t, "--config", cfg, "--format", "json", "replay", src, "--handler", "f=incr")
	require.NoError(t, err)
	var rep ReplayResult
	decodeResponse(t, out, &rep)
	assert.True(t, rep.Deterministic)
	assert.Equal(t, run.Trace, rep.Trace)

	_, err = execRoot(t, "--config", cfg, "replay", src, "--handler", "f=const:5")
	require.Error(t, err)
	assert.Equal(t, ExitResourceState, ExitCodeFor(err))

	out, err = execRoot(t, "--config", cfg, "--format", "json", "trace", "--run", run.RunID)
	require.NoError(t, err)
	var tr TraceResult
	decodeResponse(t, out, &tr)
	assert.Equal(t, run.Trace, tr.Trace)
	assert.Equal(t, run.RunID, tr.RunID)
	assert.Len(t, tr.Entries, run.Entries)
}

func TestProveVerify(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, dir, "p.cl", testutil.SourceAllocConsume)
	out := filepath.Join(dir, "proof")

	stdout, err := execRoot(t, "--format", "json", "prove", src, "--out", out)
	require.NoError(t, err)
	var proved ProveResult
	decodeResponse(t, stdout, &proved)
	assert.Equal(t, "attest-secp256k1", proved.Backend)
	assert.FileExists(t, filepath.Join(out, ProofFile))
	assert.FileExists(t, filepath.Join(out, PublicFile))

	stdout, err = execRoot(t, "--format", "json", "verify", out)
	require.NoError(t, err)
	var verified VerifyResult
	decodeResponse(t, stdout, &verified)
	assert.True(t, verified.Valid)
	assert.Equal(t, proved.Program, verified.Program)
	assert.Equal(t, proved.Public, verified.Public)

	_, err = execRoot(t, "verify", out, "--program", src, "--trusted")
	require.NoError(t, err)
}

func TestVerify_Rejects(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, dir, "p.cl", testutil.SourceAllocConsume)
	other := writeFile(t, dir, "q.cl", testutil.SourceArith)
	out := filepath.Join(dir, "proof")
	_, err := execRoot(t, "prove", src, "--out", out)
	require.NoError(t, err)

	stdout, err := execRoot(t, "--format", "json", "verify", out, "--program", other)
	require.Error(t, err)
	assert.Equal(t, ExitResourceState, ExitCodeFor(err))
	resp := decodeResponse(t, stdout, nil)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "VERIFICATION_FAILED", resp.Error.Code)

	cfg := writeFile(t, dir, "seed.toml", "[zk]\nseed = \"someone-else\"\n")
	_, err = execRoot(t, "--config", cfg, "verify", out, "--trusted")
	require.Error(t, err)
	assert.Equal(t, ExitResourceState, ExitCodeFor(err))

	_, err = execRoot(t, "verify", filepath.Join(dir, "nowhere"))
	require.Error(t, err)
	assert.Equal(t, ExitValidation, ExitCodeFor(err))
}

func TestSubmit(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, dir, "p.cl", testutil.SourceAllocConsume)

	out, err := execRoot(t, "--format", "json", "submit", src, "--dry-run")
	require.NoError(t, err)
	var dry SubmitResult
	decodeResponse(t, out, &dry)
	assert.True(t, dry.DryRun)
	assert.Positive(t, dry.GasEstimate)
	assert.Empty(t, dry.TxID)

	out, err = execRoot(t, "--format", "json", "submit", src)
	require.NoError(t, err)
	var res SubmitResult
	decodeResponse(t, out, &res)
	assert.False(t, res.DryRun)
	assert.Len(t, res.TxID, 64)
	assert.Equal(t, uint64(1), res.BlockNumber)
	assert.Equal(t, 1, res.States)
}

func TestSubmit_InsufficientGas(t *testing.T) {
	src := writeFile(t, t.TempDir(), "p.cl", testutil.SourceAllocConsume)

	out, err := execRoot(t, "--format", "json", "submit", src, "--gas-limit", "1")
	require.Error(t, err)
	assert.Equal(t, ExitBoundary, ExitCodeFor(err))
	resp := decodeResponse(t, out, nil)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "INSUFFICIENT_RESOURCES", resp.Error.Code)
}

func TestSubmit_StoresReceipt(t *testing.T) {
	dir := t.TempDir()
	cfg := sqliteConfig(t, dir)
	src := writeFile(t, dir, "p.cl", testutil.SourceAllocConsume)

	out, err := execRoot(t, "--config", cfg, "--format", "json", "submit", src)
	require.NoError(t, err)
	var res SubmitResult
	decodeResponse(t, out, &res)

	st, err := store.Open(filepath.Join(dir, "causality.db"))
	require.NoError(t, err)
	defer st.Close()

	tx, err := ir.ParseID(res.TxID)
	require.NoError(t, err)
	rc, err := st.ReadReceipt(context.Background(), tx)
	require.NoError(t, err)
	assert.Equal(t, res.BlockNumber, rc.BlockNumber)

	proofs, err := st.Objects(context.Background(), store.KindProof)
	require.NoError(t, err)
	assert.Len(t, proofs, 1)
}

func TestTestCommand(t *testing.T) {
	scenarios := filepath.Join("..", "harness", "testdata", "scenarios")

	out, err := execRoot(t, "test", scenarios)
	require.NoError(t, err, out)
	assert.Contains(t, out, "✓ alloc-consume")
	assert.Contains(t, out, "0 failed")

	out, err = execRoot(t, "--format", "json", "test", scenarios, "--filter", "double-*")
	require.NoError(t, err)
	var sum TestSummary
	decodeResponse(t, out, &sum)
	assert.Equal(t, 1, sum.Total)
	assert.Equal(t, 1, sum.Passed)
}

func TestTestCommand_Failures(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "wrong.yaml", "name: wrong\nsource: \"(pure 1)\"\nexpect:\n  value: \"2\"\n")
	writeFile(t, dir, "broken.yaml", "name: [\n")

	out, err := execRoot(t, "test", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, ExitCodeFor(err))
	assert.Contains(t, out, "✗ wrong")
	assert.Contains(t, out, "expected value 2, got 1")
	assert.Contains(t, out, "2 failed")
}

func TestTestCommand_Empty(t *testing.T) {
	_, err := execRoot(t, "test", t.TempDir())
	require.Error(t, err)
	assert.Equal(t, ExitValidation, ExitCodeFor(err))
}
