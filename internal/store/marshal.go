package store

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/causality/internal/domain"
	"github.com/roach88/causality/internal/executor"
	"github.com/roach88/causality/internal/ir"
)

// marshalStats converts run statistics to canonical JSON TEXT for storage.
func marshalStats(st executor.Stats) (string, error) {
	data, err := ir.MarshalCanonical(map[string]any{
		"instructions":  st.Instructions,
		"directives":    st.Directives,
		"effects":       st.Effects,
		"suspensions":   st.Suspensions,
		"tasks":         st.Tasks,
		"cancellations": st.Cancellations,
		"rollbacks":     st.Rollbacks,
		"gas_used":      st.GasUsed,
	})
	if err != nil {
		return "", fmt.Errorf("marshal stats: %w", err)
	}
	return string(data), nil
}

// unmarshalStats parses statistics written by marshalStats.
func unmarshalStats(text string) (executor.Stats, error) {
	var st executor.Stats
	if err := json.Unmarshal([]byte(text), &st); err != nil {
		return st, fmt.Errorf("unmarshal stats: %w", err)
	}
	return st, nil
}

// marshalReceipt converts a receipt to canonical JSON TEXT for storage.
func marshalReceipt(rc *domain.Receipt) (string, error) {
	data, err := ir.MarshalCanonical(map[string]any{
		"tx_id":        rc.TxID.Hex(),
		"gas_used":     rc.GasUsed,
		"gas_estimate": rc.GasEstimate,
		"block_number": rc.BlockNumber,
		"dry_run":      rc.DryRun,
	})
	if err != nil {
		return "", fmt.Errorf("marshal receipt: %w", err)
	}
	return string(data), nil
}

// unmarshalReceipt parses a receipt written by marshalReceipt.
func unmarshalReceipt(text string) (*domain.Receipt, error) {
	var rc domain.Receipt
	if err := json.Unmarshal([]byte(text), &rc); err != nil {
		return nil, fmt.Errorf("unmarshal receipt: %w", err)
	}
	return &rc, nil
}
