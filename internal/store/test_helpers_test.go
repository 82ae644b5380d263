package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/causality/internal/compiler"
	"github.com/roach88/causality/internal/executor"
	"github.com/roach88/causality/internal/ir"
	"github.com/roach88/causality/internal/machine"
)

// createTestStore creates a new file-backed store in a temp dir.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// allocProgram allocates init as a linear Int and consumes it into r0.
func allocProgram(init int64) *machine.Program {
	return &machine.Program{
		Constants: []machine.Constant{
			{Register: 2, Value: ir.Int(init)},
			{Register: 3, Value: ir.TypeDesc{Type: ir.IntType, Linearity: ir.Linear}},
		},
		Code: []machine.Op{
			machine.Alloc{Type: 3, Init: 2, Output: 1},
			machine.Consume{Resource: 1, Output: 0},
		},
	}
}

func execute(t *testing.T, p *machine.Program) *executor.Executor {
	t.Helper()
	ex, err := executor.New(p)
	require.NoError(t, err)
	_, err = ex.Execute(context.Background())
	require.NoError(t, err)
	return ex
}

// blobStoreContract checks the BlobStore behaviour every backend shares.
func blobStoreContract(t *testing.T, s interface {
	GetBlob(context.Context, ir.ContentID) ([]byte, error)
	PutBlob(context.Context, ir.ContentID, []byte) error
}) {
	t.Helper()
	ctx := context.Background()
	id := ir.SumBytes(ir.DomainArtifact, []byte("a"))

	_, err := s.GetBlob(ctx, id)
	require.ErrorIs(t, err, compiler.ErrBlobNotFound)

	require.NoError(t, s.PutBlob(ctx, id, []byte("first")))
	require.NoError(t, s.PutBlob(ctx, id, []byte("second")), "duplicate puts are ignored")

	data, err := s.GetBlob(ctx, id)
	require.NoError(t, err)
	require.Equal(t, []byte("first"), data)
}
