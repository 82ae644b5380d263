package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/causality/internal/compiler"
	"github.com/roach88/causality/internal/domain"
	"github.com/roach88/causality/internal/executor"
	"github.com/roach88/causality/internal/ir"
	"github.com/roach88/causality/internal/zk"
)

func TestOpen_Pragmas(t *testing.T) {
	s := createTestStore(t)
	assert.NoError(t, s.verifyPragma("journal_mode", "wal"))
	assert.NoError(t, s.verifyPragma("foreign_keys", "1"))
	assert.NoError(t, s.verifyPragma("user_version", "1"))
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "twice.db")
	s1, err := Open(path)
	require.NoError(t, err)
	id := ir.SumBytes(ir.DomainArtifact, []byte("x"))
	require.NoError(t, s1.PutBlob(context.Background(), id, []byte("x")))
	require.NoError(t, s1.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()
	data, err := s2.GetBlob(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, []byte("x"), data)
}

func TestStore_Blobs(t *testing.T) {
	blobStoreContract(t, createTestStore(t))
}

func TestStore_Objects(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	schema, err := zk.NewSchema(ir.ProgramID{1}, zk.Step{PC: 0, Inputs: []zk.InputSpec{{}}})
	require.NoError(t, err)

	id, err := s.Put(ctx, KindSchema, schema)
	require.NoError(t, err)
	want, err := schema.ID()
	require.NoError(t, err)
	assert.Equal(t, want, id, "stored objects are keyed by content id")

	data, kind, err := s.GetObject(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, KindSchema, kind)
	back, err := zk.DecodeSchema(data)
	require.NoError(t, err)
	assert.Equal(t, schema.Program, back.Program)

	other := ir.SumBytes(ir.DomainProof, []byte("p"))
	require.NoError(t, s.PutObject(ctx, other, KindProof, []byte("p")))
	ids, err := s.Objects(ctx, KindSchema)
	require.NoError(t, err)
	assert.Equal(t, []ir.ContentID{id}, ids)

	ids, err = s.Objects(ctx, KindWitness)
	require.NoError(t, err)
	assert.NotNil(t, ids)
	assert.Empty(t, ids)
}

func TestStore_Runs(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	p := allocProgram(42)
	ex := execute(t, p)

	id1, err := s.WriteRun(ctx, ex.Trace(), ex.Stats())
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), id1.Version())
	id2, err := s.WriteRun(ctx, execute(t, p).Trace(), ex.Stats())
	require.NoError(t, err)
	assert.NotEqual(t, id1, id2)

	run, err := s.ReadRun(ctx, id1)
	require.NoError(t, err)
	want, err := ex.Trace().Hash()
	require.NoError(t, err)
	assert.Equal(t, want, run.TraceID)
	got, err := run.Trace.Hash()
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, ex.Stats(), run.Stats)
	assert.Equal(t, p.MustID(), run.Program)

	runs, err := s.RunsForProgram(ctx, p.MustID())
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, id1, runs[0].ID)
	assert.Equal(t, id2, runs[1].ID)
	assert.Less(t, runs[0].Seq, runs[1].Seq)

	latest, err := s.LatestRun(ctx, p.MustID())
	require.NoError(t, err)
	assert.Equal(t, id2, latest.ID)

	_, err = s.ReadRun(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrRunNotFound)
	_, err = s.LatestRun(ctx, ir.ProgramID{9})
	assert.ErrorIs(t, err, ErrRunNotFound)

	runs, err = s.RunsForProgram(ctx, ir.ProgramID{9})
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestStore_FailedRun(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	p := allocProgram(1)
	p.Code = p.Code[:1]
	ex, err := executor.New(p)
	require.NoError(t, err)
	_, err = ex.Execute(ctx)
	require.Error(t, err)

	id, err := s.WriteRun(ctx, ex.Trace(), ex.Stats())
	require.NoError(t, err)
	run, err := s.ReadRun(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "UNUSED_LINEAR", run.Failure)
	assert.True(t, run.Trace.Failed())
}

func TestStore_Replay(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	p := allocProgram(42)
	ex := execute(t, p)
	id, err := s.WriteRun(ctx, ex.Trace(), ex.Stats())
	require.NoError(t, err)

	tr, err := s.ReplayRun(ctx, id, p)
	require.NoError(t, err)
	want, _ := ex.Trace().Hash()
	got, _ := tr.Hash()
	assert.Equal(t, want, got)

	_, err = s.ReplayLatest(ctx, p)
	require.NoError(t, err)

	_, err = s.ReplayRun(ctx, id, allocProgram(7))
	assert.Error(t, err, "a different program cannot replay the run")
}

func TestStore_Receipts(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	rc := &domain.Receipt{TxID: ir.SumBytes(ir.DomainSubmitKey, []byte("tx")), GasUsed: 21000, GasEstimate: 21000, BlockNumber: 3}

	require.NoError(t, s.WriteReceipt(ctx, domain.LocalID("local"), ir.ProgramID{1}, rc))
	require.NoError(t, s.WriteReceipt(ctx, domain.LocalID("local"), ir.ProgramID{1}, rc))
	got, err := s.ReadReceipt(ctx, rc.TxID)
	require.NoError(t, err)
	assert.Equal(t, rc, got)

	dry := &domain.Receipt{TxID: ir.ContentID{7}, DryRun: true, GasEstimate: 5}
	require.NoError(t, s.WriteReceipt(ctx, domain.LocalID("local"), ir.ProgramID{1}, dry))
	_, err = s.ReadReceipt(ctx, dry.TxID)
	assert.True(t, domain.IsCode(err, domain.ErrCodeJobNotFound))
}

func TestBadgerStore(t *testing.T) {
	b, err := OpenBadger(t.TempDir(), nil)
	require.NoError(t, err)
	defer b.Close()
	blobStoreContract(t, b)
	n, err := b.Len()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestMemoryStore(t *testing.T) {
	m := NewMemoryStore()
	blobStoreContract(t, m)
	assert.Equal(t, 1, m.Len())
}

func TestCachedStore(t *testing.T) {
	ctx := context.Background()
	backing := NewMemoryStore()
	c, err := NewCachedStore(backing, 8)
	require.NoError(t, err)
	defer c.Close()
	blobStoreContract(t, c)

	id := ir.SumBytes(ir.DomainArtifact, []byte("direct"))
	require.NoError(t, backing.PutBlob(ctx, id, []byte("v")))
	for range 2 {
		data, err := c.GetBlob(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, []byte("v"), data)
	}
	assert.Positive(t, c.Stats().Hits)
}

func TestCachedStore_DuplicatePutKeepsFirst(t *testing.T) {
	ctx := context.Background()
	backing := NewMemoryStore()
	c, err := NewCachedStore(backing, 8)
	require.NoError(t, err)
	defer c.Close()

	id := ir.SumBytes(ir.DomainArtifact, []byte("dup"))
	require.NoError(t, backing.PutBlob(ctx, id, []byte("first")))
	data, err := c.GetBlob(ctx, id)
	require.NoError(t, err)
	require.Equal(t, []byte("first"), data)

	require.NoError(t, c.PutBlob(ctx, id, []byte("second")))
	data, err = c.GetBlob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []byte("first"), data, "cache agrees with the backing store")
	stored, err := backing.GetBlob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, stored, data)
}

func TestStore_BacksArtifactCache(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	first := compiler.NewArtifactCache(compiler.WithBlobStore(s))
	a, err := first.Compile(ctx, "(pure 42)")
	require.NoError(t, err)

	second := compiler.NewArtifactCache(compiler.WithBlobStore(s))
	b, err := second.Compile(ctx, "(pure 42)")
	require.NoError(t, err)
	assert.Equal(t, a.ID, b.ID)
	assert.Equal(t, uint64(0), second.Stats().Compilations, "loaded from the store")
}
