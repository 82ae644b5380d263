package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/roach88/causality/internal/domain"
	"github.com/roach88/causality/internal/executor"
	"github.com/roach88/causality/internal/ir"
)

// Object kinds recorded alongside blobs.
const (
	KindBlob     = "blob"
	KindArtifact = "artifact"
	KindSchema   = "schema"
	KindWitness  = "witness"
	KindProof    = "proof"
	KindPublic   = "public"
)

// PutObject stores data under id. Duplicate ids are silently ignored
// (CP-1).
func (s *Store) PutObject(ctx context.Context, id ir.ContentID, kind string, data []byte) error {
	return s.inTx(ctx, "put object", func(tx *sql.Tx) error {
		seq, err := nextSeq(ctx, tx, "objects")
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO objects (id, kind, data, seq)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(id) DO NOTHING
		`, id.Bytes(), kind, data, seq)
		return err
	})
}

// PutBlob implements compiler.BlobStore.
func (s *Store) PutBlob(ctx context.Context, id ir.ContentID, data []byte) error {
	return s.PutObject(ctx, id, KindBlob, data)
}

// Put stores an entity under its content id and returns the id.
func (s *Store) Put(ctx context.Context, kind string, v ir.Entity) (ir.ContentID, error) {
	data, err := ir.Encode(v)
	if err != nil {
		return ir.ContentID{}, fmt.Errorf("put %s: %w", kind, err)
	}
	id := ir.SumBytes(v.HashDomain(), data)
	if err := s.PutObject(ctx, id, kind, data); err != nil {
		return ir.ContentID{}, err
	}
	return id, nil
}

// Run is a stored execution run.
type Run struct {
	ID      uuid.UUID
	Program ir.ProgramID
	TraceID ir.ContentID
	Trace   *executor.Trace
	Failure string
	Stats   executor.Stats
	Seq     int64
}

// WriteRun stores a finalized trace under a new run id, UUIDv7 unless
// WithRunIDs says otherwise.
func (s *Store) WriteRun(ctx context.Context, trace *executor.Trace, stats executor.Stats) (uuid.UUID, error) {
	id, err := s.newRun()
	if err != nil {
		return uuid.Nil, fmt.Errorf("write run: %w", err)
	}
	data, err := trace.Bytes()
	if err != nil {
		return uuid.Nil, fmt.Errorf("write run: %w", err)
	}
	tid, err := trace.Hash()
	if err != nil {
		return uuid.Nil, fmt.Errorf("write run: %w", err)
	}
	statsJSON, err := marshalStats(stats)
	if err != nil {
		return uuid.Nil, fmt.Errorf("write run: %w", err)
	}
	err = s.inTx(ctx, "write run", func(tx *sql.Tx) error {
		seq, err := nextSeq(ctx, tx, "runs")
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO runs (id, program_id, trace_id, trace, failure, stats, seq)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, id.String(), ir.EntityID(trace.Program).Bytes(), tid.Bytes(), data, trace.Failure, statsJSON, seq)
		return err
	})
	if err != nil {
		return uuid.Nil, err
	}
	s.log.Debug("run stored",
		zap.String("run", id.String()),
		zap.String("program", trace.Program.Short()),
		zap.String("trace", tid.Short()))
	return id, nil
}

// WriteReceipt stores a receipt from domain for program. Duplicate
// transaction ids are silently ignored. Dry-run receipts are not stored.
func (s *Store) WriteReceipt(ctx context.Context, dom ir.DomainID, program ir.ProgramID, rc *domain.Receipt) error {
	if rc.DryRun {
		return nil
	}
	text, err := marshalReceipt(rc)
	if err != nil {
		return fmt.Errorf("write receipt: %w", err)
	}
	return s.inTx(ctx, "write receipt", func(tx *sql.Tx) error {
		seq, err := nextSeq(ctx, tx, "receipts")
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO receipts (tx_id, domain_id, program_id, block_number, gas_used, receipt, seq)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(tx_id) DO NOTHING
		`, rc.TxID.Bytes(), dom.Entity().Bytes(), ir.EntityID(program).Bytes(), rc.BlockNumber, rc.GasUsed, text, seq)
		return err
	})
}

func (s *Store) inTx(ctx context.Context, op string, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
