package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/psbthsm/internal/model"
	"github.com/roach88/psbthsm/internal/policy"
)

// Entry is a stored policy with its identifier.
type Entry struct {
	ID     policy.ID
	Policy policy.Policy
}

// PolicyLoader receives policies from the catalog. *vault.Unsealed
// implements it.
type PolicyLoader interface {
	LoadPolicy(p policy.Policy) (policy.ID, error)
}

// Put validates and stores p. Storing a policy that is already present is
// a no-op; inserted reports whether a row was written.
func (c *Catalog) Put(ctx context.Context, p policy.Policy) (id policy.ID, inserted bool, err error) {
	if err := p.Validate(); err != nil {
		return policy.ID{}, false, err
	}
	id = p.ID()

	// WHERE true disambiguates INSERT ... SELECT from the upsert clause.
	res, err := c.db.ExecContext(ctx, `
		INSERT INTO policies (id, kind, script, added_seq)
		SELECT ?, ?, ?, COALESCE(MAX(added_seq), 0) + 1 FROM policies WHERE true
		ON CONFLICT(id) DO NOTHING
	`, id.String(), int64(p.Kind), p.Script)
	if err != nil {
		return id, false, fmt.Errorf("put policy %s: %w", id.Short(), err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return id, false, fmt.Errorf("put policy %s: %w", id.Short(), err)
	}
	return id, n == 1, nil
}

// Delete removes the policy with identifier id.
// Returns ErrNotFound if absent.
func (c *Catalog) Delete(ctx context.Context, id policy.ID) error {
	res, err := c.db.ExecContext(ctx, `DELETE FROM policies WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("delete policy %s: %w", id.Short(), err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete policy %s: %w", id.Short(), err)
	}
	if n == 0 {
		return model.ErrNotFound
	}
	return nil
}

// Get returns the policy with identifier id.
// Returns ErrNotFound if absent.
func (c *Catalog) Get(ctx context.Context, id policy.ID) (policy.Policy, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT id, kind, script FROM policies WHERE id = ?
	`, id.String())

	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return policy.Policy{}, model.ErrNotFound
	}
	if err != nil {
		return policy.Policy{}, err
	}
	return e.Policy, nil
}

// List returns every stored policy in the order it was added.
func (c *Catalog) List(ctx context.Context) ([]Entry, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, kind, script FROM policies ORDER BY added_seq ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list policies: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list policies: %w", err)
	}
	return entries, nil
}

// LoadInto copies every stored policy into dst, in insertion order, and
// returns the number loaded. Policies dst already holds are skipped.
func (c *Catalog) LoadInto(ctx context.Context, dst PolicyLoader) (int, error) {
	entries, err := c.List(ctx)
	if err != nil {
		return 0, err
	}

	loaded := 0
	for _, e := range entries {
		_, err := dst.LoadPolicy(e.Policy)
		if errors.Is(err, model.ErrDuplicateEntry) {
			continue
		}
		if err != nil {
			return loaded, fmt.Errorf("load policy %s: %w", e.ID.Short(), err)
		}
		loaded++
	}
	return loaded, nil
}

type scanner interface {
	Scan(dest ...any) error
}

// scanEntry reads one row and checks that the stored identifier matches
// the content.
func scanEntry(s scanner) (Entry, error) {
	var (
		stored string
		kind   int64
		script string
	)
	if err := s.Scan(&stored, &kind, &script); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, err
		}
		return Entry{}, fmt.Errorf("scan policy: %w", err)
	}

	p := policy.Policy{Kind: model.SigType(kind), Script: script}
	if p.ID().String() != stored {
		return Entry{}, model.NewError(model.CodeInvalidPolicy,
			fmt.Sprintf("catalog row %s does not match its content", stored))
	}
	return Entry{ID: p.ID(), Policy: p}, nil
}
