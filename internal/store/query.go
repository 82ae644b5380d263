package store

import (
	"context"
	"fmt"

	"github.com/roach88/causality/internal/ir"
	"github.com/roach88/causality/internal/queryir"
)

// Tables is the query catalog of the SQLite schema.
var Tables = queryir.Catalog{
	"objects":  {"id", "kind", "data", "seq"},
	"runs":     {"id", "program_id", "trace_id", "trace", "failure", "stats", "seq"},
	"receipts": {"tx_id", "domain_id", "program_id", "block_number", "gas_used", "receipt", "seq"},
}

var runColumnList = []string{"id", "program_id", "trace_id", "trace", "failure", "stats", "seq"}

// RunFilter selects stored runs. Zero fields match everything.
type RunFilter struct {
	Program ir.ProgramID
	// Failure matches one failure tag exactly.
	Failure string
	// FailedOnly and SucceededOnly are exclusive.
	FailedOnly    bool
	SucceededOnly bool
	Newest        bool
	Limit         int
}

func (f RunFilter) query() (queryir.Select, map[string]any, error) {
	if f.FailedOnly && f.SucceededOnly {
		return queryir.Select{}, nil, fmt.Errorf("run filter: failed and succeeded are exclusive")
	}
	var (
		preds []queryir.Predicate
		bound = map[string]any{}
	)
	if !f.Program.Entity().IsZero() {
		preds = append(preds, queryir.BoundEquals{Field: "program_id", BoundVar: "program"})
		bound["program"] = f.Program
	}
	switch {
	case f.Failure != "":
		preds = append(preds, queryir.Equals{Field: "failure", Value: f.Failure})
	case f.FailedOnly:
		preds = append(preds, queryir.Not{Predicate: queryir.Equals{Field: "failure", Value: ""}})
	case f.SucceededOnly:
		preds = append(preds, queryir.Equals{Field: "failure", Value: ""})
	}
	q := queryir.Select{From: "runs", Columns: runColumnList, Newest: f.Newest, Limit: f.Limit}
	if len(preds) > 0 {
		q.Filter = queryir.And{Predicates: preds}
	}
	return q, bound, nil
}

// FindRuns returns the runs matching f in storage order, or newest first
// when f.Newest is set. Returns an empty slice, not nil, when there are
// none.
func (s *Store) FindRuns(ctx context.Context, f RunFilter) ([]*Run, error) {
	q, bound, err := f.query()
	if err != nil {
		return nil, err
	}
	rows, err := s.Select(ctx, q, bound)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []*Run{}
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// RunsForProgram returns every run of program in the order they were
// stored (CP-4).
func (s *Store) RunsForProgram(ctx context.Context, program ir.ProgramID) ([]*Run, error) {
	return s.FindRuns(ctx, RunFilter{Program: program})
}

// LatestRun returns the most recently stored run of program.
func (s *Store) LatestRun(ctx context.Context, program ir.ProgramID) (*Run, error) {
	runs, err := s.FindRuns(ctx, RunFilter{Program: program, Newest: true, Limit: 1})
	if err != nil {
		return nil, fmt.Errorf("latest run: %w", err)
	}
	if len(runs) == 0 {
		return nil, ErrRunNotFound
	}
	return runs[0], nil
}

// Objects lists the ids of every object of kind in insertion order (CP-4).
func (s *Store) Objects(ctx context.Context, kind string) ([]ir.ContentID, error) {
	rows, err := s.Select(ctx, queryir.Select{
		From:    "objects",
		Columns: []string{"id"},
		Filter:  queryir.Equals{Field: "kind", Value: kind},
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("query objects: %w", err)
	}
	defer rows.Close()

	ids := []ir.ContentID{}
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan object: %w", err)
		}
		var id ir.ContentID
		copy(id[:], raw)
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate objects: %w", err)
	}
	return ids, nil
}
