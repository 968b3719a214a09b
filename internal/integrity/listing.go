package integrity

import (
	"context"
	"fmt"
	"strings"

	"integrity-go/internal/model"
	"integrity-go/internal/render"
)

// ListIncorrect lists the incorrect objects of one kind with the time of
// their latest error event, ordered by id. While connected, tables are
// limited to the current database. An empty list is not an error.
func (e *Engine) ListIncorrect(ctx context.Context, plural string) Result {
	if plural == "" {
		return e.fail("list_incorrect", ParamError("insufficient parameters for %q", "list_incorrect"))
	}
	kind, ok := model.ParsePluralKind(plural)
	if !ok {
		return e.fail("list_incorrect", ParamError("%q is not a valid argument for %q", plural, "list_incorrect"))
	}

	var entries []model.IncorrectEntry
	err := e.readOnly(ctx, func(tx LedgerTx) error {
		var err error
		entries, err = tx.Incorrect(ctx, kind, e.databaseID)
		return err
	})
	if err != nil {
		return e.fail("list_incorrect", err)
	}

	rows := make([][]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.LastCheckedAt.Valid {
			continue
		}
		rows = append(rows, []string{entry.Name, render.Time(entry.LastCheckedAt.V)})
	}
	if len(rows) == 0 {
		return Result{Message: fmt.Sprintf("no incorrect %s", kind.Plural())}
	}

	header := "File"
	if kind == model.KindTable {
		header = "Table"
	}
	return Result{Message: render.Table([]string{header, "Checked at"}, rows)}
}

// ListAlgorithms lists the algorithm catalog.
func (e *Engine) ListAlgorithms(ctx context.Context) Result {
	var algs []model.Algorithm
	err := e.readOnly(ctx, func(tx LedgerTx) error {
		var err error
		algs, err = tx.Algorithms(ctx)
		return err
	})
	if err != nil {
		return e.fail("list_algorithms", err)
	}

	var b strings.Builder
	b.WriteString("available algorithms:")
	for _, a := range algs {
		b.WriteString("\n- ")
		b.WriteString(a.Name)
	}
	return Result{Message: b.String()}
}

// ListPage selects one page of a listing. Page numbers start at 1.
type ListPage struct {
	Page          int
	PageSize      int
	OnlyIncorrect bool
}

// DefaultPageSize is the page size of listings when none is given.
const DefaultPageSize = 10

// List renders one page of registered objects. It only reads, and the
// transaction it runs in is rolled back.
func (e *Engine) List(ctx context.Context, plural string, page ListPage) Result {
	if plural == "" {
		return e.fail("list", ParamError("insufficient parameters for %q", "list"))
	}
	kind, ok := model.ParsePluralKind(plural)
	if !ok {
		return e.fail("list", ParamError("%q is not a valid argument for %q", plural, "list"))
	}
	if page.Page < 1 || page.PageSize < 1 {
		return e.fail("list", ParamError("invalid page %d of size %d", page.Page, page.PageSize))
	}

	var total int64
	var entries []model.ListEntry
	err := e.readOnly(ctx, func(tx LedgerTx) error {
		var err error
		if total, err = tx.Count(ctx, kind); err != nil {
			return err
		}
		entries, err = tx.List(ctx, model.ListQuery{
			Kind:          kind,
			Limit:         page.PageSize,
			Offset:        (page.Page - 1) * page.PageSize,
			DatabaseID:    e.databaseID,
			OnlyIncorrect: page.OnlyIncorrect,
		})
		return err
	})
	if err != nil {
		return e.fail("list", err)
	}

	rows := make([][]string, 0, len(entries))
	for _, entry := range entries {
		rows = append(rows, []string{
			entry.Name,
			entry.Algorithm,
			entry.Checksum,
			render.Bool(entry.IsCorrect),
			render.Time(entry.CalculatedAt),
			render.OptionalTime(entry.LastCheckedAt),
		})
	}

	pages := (total-1)/int64(page.PageSize) + 1
	if total == 0 {
		pages = 1
	}
	table := render.Table([]string{"Name", "Algorithm", "Checksum", "Correct", "Calculated at", "Last checked"}, rows)
	return Result{Message: fmt.Sprintf("%s\npage %d of %d, total records: %d", table, page.Page, pages, total)}
}
