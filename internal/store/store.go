// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package store persists administrator rules in SQLite.
package store

import (
	"context"
	"database/sql"
	"time"

	_ "modernc.org/sqlite"

	"grimm.is/flowgate/internal/errors"
	"grimm.is/flowgate/internal/rules"
)

// Store is the rule database.
type Store struct {
	db *sql.DB
}

// Open opens or creates the rule database at path.
func Open(path string) (*Store, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	if path == ":memory:" {
		dsn = "file::memory:?cache=shared"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindStorage, "failed to open rules db")
	}
	// SQLite allows one writer; serialize through a single connection.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, errors.KindStorage, "failed to initialize rules schema")
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return errors.Wrap(err, errors.KindStorage, "rules db unreachable")
	}
	return nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS rules (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		source_ip TEXT NOT NULL,
		dest_ip TEXT NOT NULL,
		source_port TEXT NOT NULL DEFAULT '*',
		dest_port TEXT NOT NULL DEFAULT '*',
		action TEXT NOT NULL,
		protocol TEXT NOT NULL DEFAULT 'any',
		usage_count INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_rules_key ON rules(source_ip, dest_ip, dest_port);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Create inserts r and returns it with its assigned id and creation time.
func (s *Store) Create(ctx context.Context, r rules.Rule) (rules.Rule, error) {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	spec := r.Spec()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO rules (source_ip, dest_ip, source_port, dest_port, action, protocol, usage_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		spec.SourceIP, spec.DestIP, spec.SourcePort, spec.DestPort, spec.Action, spec.Protocol,
		int64(r.UsageCount), r.CreatedAt.Unix(),
	)
	if err != nil {
		return r, errors.Wrap(err, errors.KindStorage, "failed to insert rule")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return r, errors.Wrap(err, errors.KindStorage, "failed to read rule id")
	}
	r.ID = id
	r.CreatedAt = time.Unix(r.CreatedAt.Unix(), 0).UTC()
	return r, nil
}

// Get returns the rule with the given id.
func (s *Store) Get(ctx context.Context, id int64) (rules.Rule, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, source_ip, dest_ip, source_port, dest_port, action, protocol, usage_count, created_at
		FROM rules WHERE id = ?`, id)
	r, err := scanRule(row)
	if err == sql.ErrNoRows {
		return r, errors.Attr(errors.Errorf(errors.KindNotFound, "rule %d not found", id), "rule_id", id)
	}
	if err != nil {
		return r, errors.Wrapf(err, errors.KindStorage, "failed to read rule %d", id)
	}
	return r, nil
}

// Delete removes the rule with the given id.
func (s *Store) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM rules WHERE id = ?`, id)
	if err != nil {
		return errors.Wrapf(err, errors.KindStorage, "failed to delete rule %d", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrapf(err, errors.KindStorage, "failed to delete rule %d", id)
	}
	if n == 0 {
		return errors.Attr(errors.Errorf(errors.KindNotFound, "rule %d not found", id), "rule_id", id)
	}
	return nil
}

// List returns every rule ordered by id.
func (s *Store) List(ctx context.Context) ([]rules.Rule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source_ip, dest_ip, source_port, dest_port, action, protocol, usage_count, created_at
		FROM rules ORDER BY id ASC`)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindStorage, "failed to list rules")
	}
	defer rows.Close()

	var out []rules.Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.KindStorage, "failed to scan rule")
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.KindStorage, "failed to list rules")
	}
	return out, nil
}

// AddUsage adds hit counts to the persisted usage counters in one
// transaction. Ids that no longer exist are skipped.
func (s *Store) AddUsage(ctx context.Context, hits map[int64]uint64) error {
	if len(hits) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, errors.KindStorage, "failed to begin usage update")
	}
	stmt, err := tx.PrepareContext(ctx, `UPDATE rules SET usage_count = usage_count + ? WHERE id = ?`)
	if err != nil {
		tx.Rollback()
		return errors.Wrap(err, errors.KindStorage, "failed to prepare usage update")
	}
	defer stmt.Close()

	for id, n := range hits {
		if _, err := stmt.ExecContext(ctx, int64(n), id); err != nil {
			tx.Rollback()
			return errors.Wrapf(err, errors.KindStorage, "failed to update usage of rule %d", id)
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, errors.KindStorage, "failed to commit usage update")
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRule(sc scanner) (rules.Rule, error) {
	var (
		spec      rules.Spec
		id        int64
		usage     int64
		createdAt int64
	)
	if err := sc.Scan(&id, &spec.SourceIP, &spec.DestIP, &spec.SourcePort, &spec.DestPort,
		&spec.Action, &spec.Protocol, &usage, &createdAt); err != nil {
		return rules.Rule{}, err
	}

	r, err := spec.Validate()
	if err != nil {
		return rules.Rule{}, errors.Wrapf(err, errors.KindStorage, "stored rule %d is invalid", id)
	}
	r.ID = id
	r.UsageCount = uint64(usage)
	r.CreatedAt = time.Unix(createdAt, 0).UTC()
	return r, nil
}
