package vector

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"

	"noteweave/internal/models"
)

func init() {
	sqlite_vec.Auto()
}

// SQLiteVecBackend is a durable single-process backend built on SQLite with
// the sqlite-vec extension. Each named vector gets its own vec0 virtual table
// so every name can carry its own dimensionality.
type SQLiteVecBackend struct {
	db     *sql.DB
	schema Schema
}

// NewSQLiteVecBackend opens or creates the database at dbPath and initializes
// the schema. Parent directories are created if needed.
func NewSQLiteVecBackend(dbPath string, schema Schema) (*SQLiteVecBackend, error) {
	if len(schema) == 0 {
		return nil, fmt.Errorf("schema must define at least one named vector")
	}
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	b := &SQLiteVecBackend{db: db, schema: schema}
	if err := b.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return b, nil
}

func (b *SQLiteVecBackend) initSchema() error {
	ddl := `
CREATE TABLE IF NOT EXISTS items (
    rowid      INTEGER PRIMARY KEY AUTOINCREMENT,
    id         TEXT NOT NULL UNIQUE,
    owner_path TEXT NOT NULL,
    payload    TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_items_owner ON items(owner_path);
`
	if _, err := b.db.Exec(ddl); err != nil {
		return err
	}
	for name, dim := range b.schema {
		if dim <= 0 {
			return fmt.Errorf("dimension for %q must be positive", name)
		}
		stmt := fmt.Sprintf(
			"CREATE VIRTUAL TABLE IF NOT EXISTS %s USING vec0(item_rowid INTEGER PRIMARY KEY, embedding float[%d] distance_metric=cosine)",
			vecTable(name), dim,
		)
		if _, err := b.db.Exec(stmt); err != nil {
			return fmt.Errorf("create vec table for %q: %w", name, err)
		}
	}
	return nil
}

// vecTable maps a vector name to its table. Names come from the configured
// schema, not user input, but are sanitized anyway.
func vecTable(name models.VectorName) string {
	safe := strings.Map(func(r rune) rune {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '_' {
			return r
		}
		return '_'
	}, strings.ToLower(string(name)))
	return "vec_" + safe
}

// Upsert stores or replaces the item. An existing item's vector rows are
// deleted first so the replacement is whole-item.
func (b *SQLiteVecBackend) Upsert(ctx context.Context, item *models.Item) error {
	if err := b.schema.Validate(item); err != nil {
		return err
	}
	payload, err := json.Marshal(item.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var rowid int64
	err = tx.QueryRowContext(ctx, "SELECT rowid FROM items WHERE id = ?", item.ID).Scan(&rowid)
	switch {
	case err == sql.ErrNoRows:
		res, err := tx.ExecContext(ctx,
			"INSERT INTO items (id, owner_path, payload) VALUES (?, ?, ?)",
			item.ID, item.OwnerPath, string(payload))
		if err != nil {
			return err
		}
		if rowid, err = res.LastInsertId(); err != nil {
			return err
		}
	case err != nil:
		return err
	default:
		if _, err := tx.ExecContext(ctx,
			"UPDATE items SET owner_path = ?, payload = ? WHERE rowid = ?",
			item.OwnerPath, string(payload), rowid); err != nil {
			return err
		}
		for name := range b.schema {
			if _, err := tx.ExecContext(ctx,
				fmt.Sprintf("DELETE FROM %s WHERE item_rowid = ?", vecTable(name)), rowid); err != nil {
				return err
			}
		}
	}

	for name, vec := range item.Vectors {
		blob, err := sqlite_vec.SerializeFloat32(vec)
		if err != nil {
			return fmt.Errorf("serialize %q vector: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx,
			fmt.Sprintf("INSERT INTO %s (item_rowid, embedding) VALUES (?, ?)", vecTable(name)),
			rowid, blob); err != nil {
			return fmt.Errorf("insert %q vector: %w", name, err)
		}
	}
	return tx.Commit()
}

// Delete removes the item with the given id. Unknown ids are a no-op success.
func (b *SQLiteVecBackend) Delete(ctx context.Context, id string) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var rowid int64
	err = tx.QueryRowContext(ctx, "SELECT rowid FROM items WHERE id = ?", id).Scan(&rowid)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return err
	}
	for name := range b.schema {
		if _, err := tx.ExecContext(ctx,
			fmt.Sprintf("DELETE FROM %s WHERE item_rowid = ?", vecTable(name)), rowid); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM items WHERE rowid = ?", rowid); err != nil {
		return err
	}
	return tx.Commit()
}

// IDsByOwner returns the ids of all items owned by ownerPath, sorted.
func (b *SQLiteVecBackend) IDsByOwner(ctx context.Context, ownerPath string) ([]string, error) {
	rows, err := b.db.QueryContext(ctx, "SELECT id FROM items WHERE owner_path = ?", ownerPath)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Strings(ids)
	return ids, nil
}

// SearchSingle runs a KNN query against one named vector's table.
// Score is 1 - cosine distance, so higher is more similar.
func (b *SQLiteVecBackend) SearchSingle(ctx context.Context, name models.VectorName, query []float32, k int) ([]*models.SearchResult, error) {
	dim, ok := b.schema[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownVectorName, name)
	}
	if len(query) != dim {
		return nil, fmt.Errorf("%w: query for %q has %d dimensions, schema expects %d",
			ErrDimensionMismatch, name, len(query), dim)
	}
	if k <= 0 {
		return nil, nil
	}
	blob, err := sqlite_vec.SerializeFloat32(query)
	if err != nil {
		return nil, fmt.Errorf("serialize query vector: %w", err)
	}
	rows, err := b.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT i.id, v.distance, i.payload
		FROM %s v
		JOIN items i ON i.rowid = v.item_rowid
		WHERE v.embedding MATCH ?
		ORDER BY v.distance, i.id
		LIMIT ?
	`, vecTable(name)), blob, k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*models.SearchResult
	for rows.Next() {
		var (
			id          string
			distance    float64
			payloadJSON string
		)
		if err := rows.Scan(&id, &distance, &payloadJSON); err != nil {
			return nil, err
		}
		payload := make(map[string]string)
		if err := json.Unmarshal([]byte(payloadJSON), &payload); err != nil {
			return nil, fmt.Errorf("unmarshal payload for %q: %w", id, err)
		}
		results = append(results, &models.SearchResult{ID: id, Score: 1 - distance, Payload: payload})
	}
	return results, rows.Err()
}

// Clear removes all items and vectors.
func (b *SQLiteVecBackend) Clear(ctx context.Context) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for name := range b.schema {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s", vecTable(name))); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM items"); err != nil {
		return err
	}
	return tx.Commit()
}

// Stats returns the item count.
func (b *SQLiteVecBackend) Stats(ctx context.Context) (*Stats, error) {
	var count int
	if err := b.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM items").Scan(&count); err != nil {
		return nil, err
	}
	return &Stats{TotalItems: count, Backend: "sqlite-vec"}, nil
}

// Close closes the underlying database.
func (b *SQLiteVecBackend) Close() error {
	return b.db.Close()
}
