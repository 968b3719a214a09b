package app

import (
	"context"
	"testing"
	"time"

	"integrity-go/internal/model"
	"integrity-go/internal/testutil"
)

func TestNewOperation(t *testing.T) {
	tests := []struct {
		name       string
		operation  string
		parameters string
	}{
		{
			name:       "with parameters",
			operation:  "add",
			parameters: "file sha256 /home/user/docs",
		},
		{
			name:       "empty parameters",
			operation:  "full_check",
			parameters: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op := NewOperation(tt.operation, tt.parameters)

			if op.Operation != tt.operation {
				t.Errorf("Operation = %q, want %q", op.Operation, tt.operation)
			}
			if op.Parameters != tt.parameters {
				t.Errorf("Parameters = %q, want %q", op.Parameters, tt.parameters)
			}
			if op.Status != "success" {
				t.Errorf("Status = %q, want %q", op.Status, "success")
			}
			if op.ID != 0 {
				t.Errorf("ID = %d, want 0", op.ID)
			}
		})
	}
}

func TestOperation_Persisted(t *testing.T) {
	tests := []struct {
		name string
		id   int64
		want bool
	}{
		{name: "not persisted when ID is 0", id: 0, want: false},
		{name: "persisted when ID is positive", id: 1, want: true},
		{name: "persisted when ID is large", id: 99999, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op := &Operation{ID: tt.id}
			if got := op.Persisted(); got != tt.want {
				t.Errorf("Persisted() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestOperation_PersistAndFinish(t *testing.T) {
	ledger := testutil.NewTestLedger(t)
	ctx := context.Background()
	started := model.NewTimestamp(time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC))

	op := NewOperation("check", "file /tmp/a.txt")
	if err := op.persist(ctx, ledger, started); err != nil {
		t.Fatalf("persist() error = %v", err)
	}
	id := op.ID
	if !op.Persisted() {
		t.Fatal("Persisted() = false after persist")
	}
	if err := op.persist(ctx, ledger, started); err != nil || op.ID != id {
		t.Errorf("second persist() = %v, ID %d, want no-op", err, op.ID)
	}

	op.Status = "error"
	if err := op.finish(ctx, ledger, model.NewTimestamp(started.Add(time.Minute))); err != nil {
		t.Fatalf("finish() error = %v", err)
	}

	tx, err := ledger.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	defer tx.Rollback()
	ops, err := tx.Operations(ctx, 10)
	if err != nil {
		t.Fatalf("Operations() error = %v", err)
	}
	if len(ops) != 1 {
		t.Fatalf("len(Operations()) = %d, want 1", len(ops))
	}
	got := ops[0]
	if got.Operation != "check" || got.Parameters != "file /tmp/a.txt" || got.Status != "error" {
		t.Errorf("operation = %+v", got)
	}
	if !got.FinishedAt.Valid || !got.FinishedAt.V.Equal(started.Add(time.Minute)) {
		t.Errorf("FinishedAt = %+v, want %v", got.FinishedAt, started.Add(time.Minute))
	}
}
