package app

import (
	"context"
	"fmt"

	"integrity-go/internal/integrity"
	"integrity-go/internal/model"
)

const (
	statusSuccess = "success"
	statusError   = "error"
)

// Operation tracks a CLI operation that may mutate the ledger.
// Operations are created in memory with ID=0. Only ledger-mutating commands
// persist them (giving them an auto-increment ID from the ledger).
type Operation struct {
	ID         int64
	Operation  string
	Parameters string
	Status     string // "success" or "error"
}

// NewOperation creates a new in-memory operation.
func NewOperation(operation, parameters string) *Operation {
	return &Operation{
		Operation:  operation,
		Parameters: parameters,
		Status:     statusSuccess,
	}
}

// Persisted returns true if this operation has been saved to the ledger.
func (op *Operation) Persisted() bool {
	return op.ID != 0
}

// persist records the start of op in the ledger. Persisting twice is a no-op.
func (op *Operation) persist(ctx context.Context, ledger integrity.Ledger, startedAt model.Timestamp) error {
	if op.Persisted() {
		return nil
	}
	tx, err := ledger.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	rec := &model.Operation{
		StartedAt:  startedAt,
		Operation:  op.Operation,
		Parameters: op.Parameters,
	}
	id, err := tx.CreateOperation(ctx, rec)
	if err != nil {
		return fmt.Errorf("persisting operation: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	op.ID = id
	return nil
}

// finish records the outcome of a persisted op.
func (op *Operation) finish(ctx context.Context, ledger integrity.Ledger, finishedAt model.Timestamp) error {
	tx, err := ledger.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := tx.FinishOperation(ctx, op.ID, op.Status, finishedAt); err != nil {
		return fmt.Errorf("finishing operation: %w", err)
	}
	return tx.Commit()
}
