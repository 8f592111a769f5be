// Package entities stores the crawl inventory:
// parent scopes and the child entities discovered under them.
// The sweep builder walks this inventory to infer the universe
// of collectible facts for a sweep.
package entities

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// Parent is one parent scope (e.g. a seller, channel or account).
// Meta is an opaque auxiliary payload carried next to the parent's
// jobs as queue side-data.
type Parent struct {
	ID        string    `db:"parent_id"`
	Namespace string    `db:"namespace"`
	Meta      string    `db:"meta"`
	FoundT    time.Time `db:"found_t"`
}

// Entity is one child entity of a parent scope.
type Entity struct {
	Parent string    `db:"parent_id"`
	Kind   string    `db:"kind"`
	ID     string    `db:"entity_id"`
	FoundT time.Time `db:"found_t"`
}

// Store keeps the inventory in MariaDB/MySQL.
type Store struct {
	DB           *sqlx.DB
	ParentsTable string
	EntityTable  string
}

// CreateTables creates the parents and entities tables.
func (s *Store) CreateTables(ctx context.Context) error {
	// language=MariaDB
	const parents = `CREATE TABLE %s (
	parent_id VARCHAR(128) NOT NULL PRIMARY KEY,
	namespace VARCHAR(64) NOT NULL,
	meta VARCHAR(1024) DEFAULT '' NOT NULL,
	found_t DATETIME NOT NULL
);`
	if _, err := s.DB.ExecContext(ctx, fmt.Sprintf(parents, s.ParentsTable)); err != nil {
		return err
	}
	// language=MariaDB
	const entity = `CREATE TABLE %s (
	parent_id VARCHAR(128) NOT NULL,
	kind VARCHAR(64) NOT NULL,
	entity_id VARCHAR(128) NOT NULL,
	found_t DATETIME NOT NULL,
	PRIMARY KEY (parent_id, kind, entity_id)
);`
	_, err := s.DB.ExecContext(ctx, fmt.Sprintf(entity, s.EntityTable))
	return err
}

// UpsertParents inserts newly found parent scopes,
// refreshing the meta payload of known ones.
func (s *Store) UpsertParents(ctx context.Context, parents []Parent) error {
	if len(parents) == 0 {
		return nil
	}
	// language=MariaDB
	const stmt = `INSERT INTO %s (parent_id, namespace, meta, found_t)
VALUES (:parent_id, :namespace, :meta, :found_t)
ON DUPLICATE KEY UPDATE meta = VALUES(meta);`
	_, err := s.DB.NamedExecContext(ctx, fmt.Sprintf(stmt, s.ParentsTable), parents)
	return err
}

// InsertDiscovered inserts newly found entities.
// Entities that already exist are left untouched.
func (s *Store) InsertDiscovered(ctx context.Context, ents []Entity) error {
	if len(ents) == 0 {
		return nil
	}
	// language=MariaDB
	const stmt = `INSERT IGNORE INTO %s (parent_id, kind, entity_id, found_t)
VALUES (:parent_id, :kind, :entity_id, :found_t);`
	_, err := s.DB.NamedExecContext(ctx, fmt.Sprintf(stmt, s.EntityTable), ents)
	return err
}

// Parents scans parent scopes in batches, in primary key order.
// afterID is exclusive; pass an empty string to start from the beginning.
func (s *Store) Parents(ctx context.Context, afterID string, limit uint) ([]Parent, error) {
	// language=MariaDB
	const stmt = `SELECT parent_id, namespace, meta, found_t FROM %s
WHERE parent_id > ? ORDER BY parent_id LIMIT ?;`
	var out []Parent
	err := s.DB.SelectContext(ctx, &out, fmt.Sprintf(stmt, s.ParentsTable), afterID, limit)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to scan parents: %w", err)
	}
	return out, nil
}

// EntitiesOf scans the child entities of a parent scope in batches.
func (s *Store) EntitiesOf(ctx context.Context, parent, afterID string, limit uint) ([]Entity, error) {
	// language=MariaDB
	const stmt = `SELECT parent_id, kind, entity_id, found_t FROM %s
WHERE parent_id = ? AND entity_id > ? ORDER BY entity_id LIMIT ?;`
	var out []Entity
	err := s.DB.SelectContext(ctx, &out, fmt.Sprintf(stmt, s.EntityTable), parent, afterID, limit)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to scan entities: %w", err)
	}
	return out, nil
}
