package store

import (
	"context"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/google/uuid"
)

const (
	dialectPostgres = "postgres"
	colID           = "id"
	colDeletedAt    = "deleted_at"
	colUpdatedAt    = "updated_at"
)

var builder = goqu.Dialect(dialectPostgres)

// live restricts a dataset to rows without a tombstone
func live(opts ListOptions) goqu.Ex {
	if opts.IncludeDeleted {
		return goqu.Ex{}
	}
	return goqu.Ex{colDeletedAt: nil}
}

// SoftDelete sets the tombstone on a live row. Deleting twice is a no-op.
func (t *pgTx) SoftDelete(ctx context.Context, entity Entity, id uuid.UUID) error {
	stmt := builder.Update(string(entity)).Prepared(true).
		Set(goqu.Record{colDeletedAt: goqu.L("NOW()"), colUpdatedAt: goqu.L("NOW()")}).
		Where(goqu.Ex{colID: id.String(), colDeletedAt: nil})

	return t.tombstone(ctx, entity, id, stmt)
}

// Restore clears the tombstone. Restoring a live row is a no-op.
func (t *pgTx) Restore(ctx context.Context, entity Entity, id uuid.UUID) error {
	stmt := builder.Update(string(entity)).Prepared(true).
		Set(goqu.Record{colDeletedAt: nil, colUpdatedAt: goqu.L("NOW()")}).
		Where(goqu.Ex{colID: id.String(), colDeletedAt: goqu.Op{"isNot": nil}})

	return t.tombstone(ctx, entity, id, stmt)
}

func (t *pgTx) tombstone(ctx context.Context, entity Entity, id uuid.UUID, stmt *goqu.UpdateDataset) error {
	if !entity.Valid() {
		return fmt.Errorf("unknown entity %q", entity)
	}

	query, args, err := stmt.ToSQL()
	if err != nil {
		return fmt.Errorf("failed to build %s update: %w", entity, err)
	}

	res, err := t.q.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	return t.exists(ctx, entity, id)
}

// HardDelete physically removes the row. Orders keep their identity forever.
func (t *pgTx) HardDelete(ctx context.Context, entity Entity, id uuid.UUID) error {
	if !entity.Valid() {
		return fmt.Errorf("unknown entity %q", entity)
	}
	if entity == EntityOrders {
		return fmt.Errorf("orders cannot be hard deleted: %w", ErrConflict)
	}

	query, args, err := builder.Delete(string(entity)).Prepared(true).
		Where(goqu.Ex{colID: id.String()}).
		ToSQL()
	if err != nil {
		return fmt.Errorf("failed to build %s delete: %w", entity, err)
	}

	res, err := t.q.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// exists distinguishes an idempotent no-op from a missing row
func (q queries) exists(ctx context.Context, entity Entity, id uuid.UUID) error {
	query, args, err := builder.From(string(entity)).Prepared(true).
		Select(goqu.COUNT(goqu.Star())).
		Where(goqu.Ex{colID: id.String()}).
		ToSQL()
	if err != nil {
		return err
	}

	var count int
	if err := q.get(ctx, &count, query, args...); err != nil {
		return err
	}
	if count == 0 {
		return ErrNotFound
	}
	return nil
}
