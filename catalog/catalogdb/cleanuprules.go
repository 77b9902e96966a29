// Copyright (C) 2025 Goeswatch Authors.
// See LICENSE for copying information.

package catalogdb

import (
	"context"
	"time"

	"github.com/zeebo/errs"
	"storj.io/common/uuid"

	"github.com/goeswatch/goeswatch/catalog"
)

type cleanuprules struct {
	db *DB
}

func (c *cleanuprules) Create(ctx context.Context, rule *catalog.CleanupRule) (err error) {
	defer mon.Task()(&ctx)(&err)

	if rule.Value <= 0 {
		return Error.New("rule value must be positive, got %v", rule.Value)
	}
	if rule.ID.IsZero() {
		if rule.ID, err = uuid.New(); err != nil {
			return Error.Wrap(err)
		}
	}
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = time.Now().UTC()
	}
	_, err = c.db.db.ExecContext(ctx, c.db.rebind(`
		INSERT INTO cleanup_rules (id, rule_type, value, protect_collections, is_active, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`),
		rule.ID.String(), string(rule.RuleType), rule.Value,
		rule.ProtectCollections, rule.IsActive, rule.CreatedAt.UTC())
	return Error.Wrap(err)
}

func (c *cleanuprules) List(ctx context.Context) (_ []catalog.CleanupRule, err error) {
	defer mon.Task()(&ctx)(&err)
	return c.query(ctx, `SELECT id, rule_type, value, protect_collections, is_active, created_at
		FROM cleanup_rules ORDER BY created_at ASC`)
}

func (c *cleanuprules) Active(ctx context.Context) (_ []catalog.CleanupRule, err error) {
	defer mon.Task()(&ctx)(&err)
	return c.query(ctx, `SELECT id, rule_type, value, protect_collections, is_active, created_at
		FROM cleanup_rules WHERE is_active ORDER BY created_at ASC`)
}

func (c *cleanuprules) query(ctx context.Context, query string) (_ []catalog.CleanupRule, err error) {
	rows, err := c.db.db.QueryContext(ctx, query)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, rows.Close()) }()

	var result []catalog.CleanupRule
	for rows.Next() {
		var (
			rule    catalog.CleanupRule
			idText  string
			created time.Time
		)
		err := rows.Scan(&idText, &rule.RuleType, &rule.Value,
			&rule.ProtectCollections, &rule.IsActive, &created)
		if err != nil {
			return nil, Error.Wrap(err)
		}
		if rule.ID, err = uuid.FromString(idText); err != nil {
			return nil, Error.Wrap(err)
		}
		rule.CreatedAt = created.UTC()
		result = append(result, rule)
	}
	return result, Error.Wrap(rows.Err())
}

func (c *cleanuprules) Update(ctx context.Context, rule *catalog.CleanupRule) (err error) {
	defer mon.Task()(&ctx)(&err)

	if rule.Value <= 0 {
		return Error.New("rule value must be positive, got %v", rule.Value)
	}
	res, err := c.db.db.ExecContext(ctx, c.db.rebind(`
		UPDATE cleanup_rules
		SET rule_type = ?, value = ?, protect_collections = ?, is_active = ?
		WHERE id = ?`),
		string(rule.RuleType), rule.Value, rule.ProtectCollections,
		rule.IsActive, rule.ID.String())
	if err != nil {
		return Error.Wrap(err)
	}
	return requireAffected(res, "cleanup rule %s", rule.ID)
}

func (c *cleanuprules) Delete(ctx context.Context, id uuid.UUID) (err error) {
	defer mon.Task()(&ctx)(&err)

	res, err := c.db.db.ExecContext(ctx, c.db.rebind(
		`DELETE FROM cleanup_rules WHERE id = ?`), id.String())
	if err != nil {
		return Error.Wrap(err)
	}
	return requireAffected(res, "cleanup rule %s", id)
}
