// Package sqlitestore persists funnel trees in SQLite through the pure-Go
// modernc.org/sqlite driver.
//
// Orders are enforced by UNIQUE (funnel_id, position) on steps and
// UNIQUE (step_id, position) on components. Deleting a step deletes its
// components in the same statement batch; the foreign key cascade is a
// second line of enforcement.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/pluqqy/funnelkit/pkg/idgen"
	"github.com/pluqqy/funnelkit/pkg/models"
	"github.com/pluqqy/funnelkit/pkg/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS funnels (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	theme      TEXT,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS steps (
	id        TEXT PRIMARY KEY,
	funnel_id TEXT NOT NULL REFERENCES funnels(id) ON DELETE CASCADE,
	title     TEXT NOT NULL,
	position  INTEGER NOT NULL,
	UNIQUE (funnel_id, position)
);

CREATE TABLE IF NOT EXISTS components (
	id       TEXT PRIMARY KEY,
	step_id  TEXT NOT NULL REFERENCES steps(id) ON DELETE CASCADE,
	type     TEXT NOT NULL,
	position INTEGER NOT NULL,
	data     TEXT NOT NULL,
	UNIQUE (step_id, position)
);

CREATE INDEX IF NOT EXISTS idx_components_step ON components(step_id);
`

type config struct {
	busyTimeout int
	newID       idgen.Generator
	now         func() time.Time
}

// Option customises Open behaviour.
type Option func(*config)

// WithBusyTimeout sets PRAGMA busy_timeout in milliseconds. Default: 10000.
func WithBusyTimeout(ms int) Option { return func(c *config) { c.busyTimeout = ms } }

// WithIDGenerator sets the generator for persisted ids. Default: UUIDv7.
func WithIDGenerator(gen idgen.Generator) Option { return func(c *config) { c.newID = gen } }

// WithClock sets the time source for timestamps.
func WithClock(now func() time.Time) Option { return func(c *config) { c.now = now } }

// Store is a storage.Repository backed by one SQLite database.
type Store struct {
	db    *sql.DB
	newID idgen.Generator
	now   func() time.Time
}

var _ storage.Repository = (*Store)(nil)

// Open opens (creating if needed) the database at path and applies the
// schema. Use ":memory:" for a throwaway database.
func Open(path string, opts ...Option) (*Store, error) {
	cfg := config{busyTimeout: 10_000, newID: idgen.Persisted, now: time.Now}
	for _, o := range opts {
		o(&cfg)
	}

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("sqlitestore: mkdir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(%d)", path, cfg.busyTimeout)
	if path != ":memory:" {
		dsn += "&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: open: %w", err)
	}
	// One connection: writes are serialized and ":memory:" stays one database.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlitestore: schema: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlitestore: ping: %w", err)
	}

	return &Store{db: db, newID: cfg.newID, now: cfg.now}, nil
}

// Close closes the database. Safe on a nil db.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) CreateFunnel(ctx context.Context, name string, theme json.RawMessage) (*models.Funnel, error) {
	now := s.now().UTC()
	f := &models.Funnel{ID: s.newID(), Name: name, Theme: theme, CreatedAt: now, UpdatedAt: now, Steps: []models.StepTree{}}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO funnels (id, name, theme, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		f.ID, f.Name, nullableJSON(theme), now.UnixNano(), now.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("insert funnel: %w", mapErr(err))
	}
	return f, nil
}

func (s *Store) ListFunnels(ctx context.Context) ([]models.FunnelSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT f.id, f.name, f.created_at, f.updated_at,
		       (SELECT COUNT(*) FROM steps s WHERE s.funnel_id = f.id)
		FROM funnels f
		ORDER BY f.created_at, f.id`)
	if err != nil {
		return nil, fmt.Errorf("list funnels: %w", err)
	}
	defer rows.Close()

	var out []models.FunnelSummary
	for rows.Next() {
		var f models.FunnelSummary
		var created, updated int64
		if err := rows.Scan(&f.ID, &f.Name, &created, &updated, &f.Steps); err != nil {
			return nil, fmt.Errorf("scan funnel: %w", err)
		}
		f.CreatedAt = time.Unix(0, created).UTC()
		f.UpdatedAt = time.Unix(0, updated).UTC()
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *Store) LoadFunnel(ctx context.Context, funnelID string) (*models.Funnel, error) {
	var f models.Funnel
	var theme sql.NullString
	var created, updated int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, theme, created_at, updated_at FROM funnels WHERE id = ?`, funnelID).
		Scan(&f.ID, &f.Name, &theme, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("funnel %s: %w", funnelID, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load funnel: %w", err)
	}
	if theme.Valid {
		f.Theme = json.RawMessage(theme.String)
	}
	f.CreatedAt = time.Unix(0, created).UTC()
	f.UpdatedAt = time.Unix(0, updated).UTC()

	f.Steps, err = loadTree(ctx, s.db, funnelID)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// Update runs fn in one SQLite transaction.
func (s *Store) Update(ctx context.Context, fn func(tx storage.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&tx{tx: sqlTx, newID: s.newID}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func loadTree(ctx context.Context, q querier, funnelID string) ([]models.StepTree, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, title, position FROM steps WHERE funnel_id = ? ORDER BY position`, funnelID)
	if err != nil {
		return nil, fmt.Errorf("load steps: %w", err)
	}
	var steps []models.StepTree
	index := map[string]int{}
	for rows.Next() {
		var st models.StepTree
		if err := rows.Scan(&st.ID, &st.Title, &st.Order); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan step: %w", err)
		}
		st.Components = []models.Component{}
		index[st.ID] = len(steps)
		steps = append(steps, st)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load steps: %w", err)
	}

	rows, err = q.QueryContext(ctx, `
		SELECT c.id, c.step_id, c.type, c.position, c.data
		FROM components c JOIN steps s ON s.id = c.step_id
		WHERE s.funnel_id = ?
		ORDER BY c.step_id, c.position`, funnelID)
	if err != nil {
		return nil, fmt.Errorf("load components: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var c models.Component
		var stepID, raw string
		if err := rows.Scan(&c.ID, &stepID, &c.Type, &c.Order, &raw); err != nil {
			return nil, fmt.Errorf("scan component: %w", err)
		}
		if c.Data, err = models.DecodeData(c.Type, []byte(raw)); err != nil {
			return nil, fmt.Errorf("component %s: %w", c.ID, err)
		}
		i := index[stepID]
		steps[i].Components = append(steps[i].Components, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load components: %w", err)
	}
	if steps == nil {
		steps = []models.StepTree{}
	}
	return steps, nil
}

type tx struct {
	tx    *sql.Tx
	newID idgen.Generator
}

func (t *tx) FunnelExists(ctx context.Context, funnelID string) (bool, error) {
	var n int
	err := t.tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM funnels WHERE id = ?`, funnelID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check funnel: %w", err)
	}
	return n > 0, nil
}

func (t *tx) LoadTree(ctx context.Context, funnelID string) ([]models.StepTree, error) {
	return loadTree(ctx, t.tx, funnelID)
}

func (t *tx) DeleteStep(ctx context.Context, stepID string) error {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM components WHERE step_id = ?`, stepID); err != nil {
		return fmt.Errorf("delete components of step %s: %w", stepID, err)
	}
	return t.execOne(ctx, "delete step "+stepID, `DELETE FROM steps WHERE id = ?`, stepID)
}

func (t *tx) ParkSteps(ctx context.Context, funnelID string) error {
	_, err := t.tx.ExecContext(ctx, `UPDATE steps SET position = -position - 1 WHERE funnel_id = ?`, funnelID)
	if err != nil {
		return fmt.Errorf("park steps: %w", mapErr(err))
	}
	return nil
}

func (t *tx) CreateStep(ctx context.Context, funnelID string, step models.Step) (string, error) {
	id := t.newID()
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO steps (id, funnel_id, title, position) VALUES (?, ?, ?, ?)`,
		id, funnelID, step.Title, step.Order)
	if err != nil {
		return "", fmt.Errorf("insert step: %w", mapErr(err))
	}
	return id, nil
}

func (t *tx) UpdateStep(ctx context.Context, step models.Step) error {
	return t.execOne(ctx, "update step "+step.ID,
		`UPDATE steps SET title = ?, position = ? WHERE id = ?`, step.Title, step.Order, step.ID)
}

func (t *tx) DeleteComponent(ctx context.Context, componentID string) error {
	return t.execOne(ctx, "delete component "+componentID, `DELETE FROM components WHERE id = ?`, componentID)
}

func (t *tx) ParkComponents(ctx context.Context, stepID string) error {
	_, err := t.tx.ExecContext(ctx, `UPDATE components SET position = -position - 1 WHERE step_id = ?`, stepID)
	if err != nil {
		return fmt.Errorf("park components: %w", mapErr(err))
	}
	return nil
}

func (t *tx) CreateComponent(ctx context.Context, stepID string, c models.Component) (string, error) {
	raw, err := json.Marshal(c.Data)
	if err != nil {
		return "", fmt.Errorf("encode component data: %w", err)
	}
	id := t.newID()
	_, err = t.tx.ExecContext(ctx,
		`INSERT INTO components (id, step_id, type, position, data) VALUES (?, ?, ?, ?, ?)`,
		id, stepID, string(c.Type), c.Order, string(raw))
	if err != nil {
		return "", fmt.Errorf("insert component: %w", mapErr(err))
	}
	return id, nil
}

func (t *tx) UpdateComponent(ctx context.Context, stepID string, c models.Component) error {
	raw, err := json.Marshal(c.Data)
	if err != nil {
		return fmt.Errorf("encode component data: %w", err)
	}
	return t.execOne(ctx, "update component "+c.ID,
		`UPDATE components SET step_id = ?, type = ?, position = ?, data = ? WHERE id = ?`,
		stepID, string(c.Type), c.Order, string(raw), c.ID)
}

func (t *tx) TouchFunnel(ctx context.Context, funnelID string, theme json.RawMessage, at time.Time) error {
	if theme != nil {
		return t.execOne(ctx, "touch funnel "+funnelID,
			`UPDATE funnels SET theme = ?, updated_at = ? WHERE id = ?`, string(theme), at.UTC().UnixNano(), funnelID)
	}
	return t.execOne(ctx, "touch funnel "+funnelID,
		`UPDATE funnels SET updated_at = ? WHERE id = ?`, at.UTC().UnixNano(), funnelID)
}

// execOne runs a statement that must affect exactly one row.
func (t *tx) execOne(ctx context.Context, what, query string, args ...any) error {
	res, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", what, mapErr(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, storage.ErrNotFound)
	}
	return nil
}

func nullableJSON(raw json.RawMessage) any {
	if raw == nil {
		return nil
	}
	return string(raw)
}

func mapErr(err error) error {
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT:
			return fmt.Errorf("%w: %v", storage.ErrConflict, err)
		case sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
			return fmt.Errorf("%w: %v", storage.ErrNotFound, err)
		}
	}
	return err
}
