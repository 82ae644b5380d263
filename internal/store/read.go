package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/roach88/causality/internal/compiler"
	"github.com/roach88/causality/internal/domain"
	"github.com/roach88/causality/internal/executor"
	"github.com/roach88/causality/internal/ir"
)

// ErrRunNotFound is returned when no run has the requested id.
var ErrRunNotFound = errors.New("run not found")

// GetObject returns the data and kind stored under id. A missing id
// returns compiler.ErrBlobNotFound.
func (s *Store) GetObject(ctx context.Context, id ir.ContentID) ([]byte, string, error) {
	var (
		data []byte
		kind string
	)
	err := s.db.QueryRowContext(ctx, `SELECT data, kind FROM objects WHERE id = ?`, id.Bytes()).Scan(&data, &kind)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, "", compiler.ErrBlobNotFound
	}
	if err != nil {
		return nil, "", fmt.Errorf("get object %s: %w", id.Short(), err)
	}
	return data, kind, nil
}

// GetBlob implements compiler.BlobStore.
func (s *Store) GetBlob(ctx context.Context, id ir.ContentID) ([]byte, error) {
	data, _, err := s.GetObject(ctx, id)
	return data, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	var (
		id, failure, stats string
		program, tid, data []byte
		seq                int64
	)
	if err := row.Scan(&id, &program, &tid, &data, &failure, &stats, &seq); err != nil {
		return nil, err
	}
	r := &Run{Failure: failure, Seq: seq}
	var err error
	if r.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse run id: %w", err)
	}
	copy(r.Program[:], program)
	copy(r.TraceID[:], tid)
	if r.Trace, err = executor.DecodeTrace(data); err != nil {
		return nil, err
	}
	if r.Stats, err = unmarshalStats(stats); err != nil {
		return nil, err
	}
	return r, nil
}

const runColumns = `id, program_id, trace_id, trace, failure, stats, seq`

// ReadRun returns the run with the given id.
func (s *Store) ReadRun(ctx context.Context, id uuid.UUID) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id.String())
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read run %s: %w", id, err)
	}
	return r, nil
}

// ReadReceipt returns the receipt stored for a transaction id.
func (s *Store) ReadReceipt(ctx context.Context, tx ir.ContentID) (*domain.Receipt, error) {
	var text string
	err := s.db.QueryRowContext(ctx, `SELECT receipt FROM receipts WHERE tx_id = ?`, tx.Bytes()).Scan(&text)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &domain.Error{Code: domain.ErrCodeJobNotFound, Message: "no receipt for " + tx.Short()}
	}
	if err != nil {
		return nil, fmt.Errorf("read receipt: %w", err)
	}
	return unmarshalReceipt(text)
}
