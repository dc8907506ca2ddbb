// Package store persists templates, completion records and alert
// dismissals. The evaluation pipeline only reads snapshots from it.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"opscal/internal/model"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("store: not found")

// SQLite wraps the SQLite database connection.
type SQLite struct {
	conn *sql.DB
}

// Open creates (if needed) and migrates the database at path.
func Open(path string) (*SQLite, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create db directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite3", path+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps ":memory:" databases coherent.
	conn.SetMaxOpenConns(1)

	db := &SQLite{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return db, nil
}

// Close closes the database connection.
func (db *SQLite) Close() error {
	return db.conn.Close()
}

func (db *SQLite) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS templates (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		kind TEXT NOT NULL DEFAULT 'other',
		frequency TEXT NOT NULL,
		assign_role TEXT NOT NULL DEFAULT '',
		assign_category TEXT NOT NULL DEFAULT '',
		assign_staff_id TEXT NOT NULL DEFAULT '',
		assign_department_id TEXT NOT NULL DEFAULT '',
		priority TEXT NOT NULL DEFAULT 'medium',
		estimated_minutes INTEGER NOT NULL DEFAULT 0,
		start_at DATETIME,
		end_at DATETIME,
		due_at DATETIME,
		status TEXT NOT NULL DEFAULT '',
		tenant_id TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS completions (
		id TEXT PRIMARY KEY,
		template_id TEXT NOT NULL,
		completed_by TEXT NOT NULL DEFAULT '',
		completed_at DATETIME NOT NULL,
		period_start DATETIME,
		period_end DATETIME,
		notes TEXT NOT NULL DEFAULT '',
		FOREIGN KEY (template_id) REFERENCES templates(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_completions_template_id ON completions(template_id);

	CREATE TABLE IF NOT EXISTS dismissals (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// PutTemplate inserts or replaces a template.
func (db *SQLite) PutTemplate(ctx context.Context, t model.Template) error {
	if t.ID == "" {
		return errors.New("store: template id is empty")
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	_, err := db.conn.ExecContext(ctx, `
		INSERT OR REPLACE INTO templates (id, name, kind, frequency, assign_role, assign_category, assign_staff_id, assign_department_id,
			priority, estimated_minutes, start_at, end_at, due_at, status, tenant_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.Name, t.Kind.String(), string(t.Frequency), t.Assignment.Role, t.Assignment.Category, t.Assignment.StaffID, t.Assignment.DepartmentID,
		string(t.Priority), int64(t.EstimatedDuration/time.Minute), nullTime(t.Start), nullTime(t.End), nullTime(t.DueDate), t.Status, t.TenantID, t.CreatedAt)
	return err
}

// DeleteTemplate removes a template and, by cascade, its completions.
func (db *SQLite) DeleteTemplate(ctx context.Context, id string) error {
	res, err := db.conn.ExecContext(ctx, "DELETE FROM templates WHERE id = ?", id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// ListTemplates returns all templates ordered by creation time, then id.
func (db *SQLite) ListTemplates(ctx context.Context) ([]model.Template, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, name, kind, frequency, assign_role, assign_category, assign_staff_id, assign_department_id,
			priority, estimated_minutes, start_at, end_at, due_at, status, tenant_id, created_at
		FROM templates ORDER BY created_at, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]model.Template, 0)
	for rows.Next() {
		var (
			t                 model.Template
			kind, freq, prio  string
			minutes           int64
			start, end, dueAt sql.NullTime
		)
		err := rows.Scan(&t.ID, &t.Name, &kind, &freq, &t.Assignment.Role, &t.Assignment.Category, &t.Assignment.StaffID, &t.Assignment.DepartmentID,
			&prio, &minutes, &start, &end, &dueAt, &t.Status, &t.TenantID, &t.CreatedAt)
		if err != nil {
			return nil, err
		}
		t.Kind = model.ParseSourceKind(kind)
		t.Frequency = model.Frequency(freq)
		t.Priority = model.Priority(prio)
		t.EstimatedDuration = time.Duration(minutes) * time.Minute
		t.Start = timePtr(start)
		t.End = timePtr(end)
		t.DueDate = timePtr(dueAt)
		out = append(out, t)
	}
	return out, rows.Err()
}

// CreateCompletion stores a completion record, assigning an id if empty,
// and returns the stored record.
func (db *SQLite) CreateCompletion(ctx context.Context, c model.Completion) (model.Completion, error) {
	if c.TemplateID == "" {
		return c, errors.New("store: completion template id is empty")
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO completions (id, template_id, completed_by, completed_at, period_start, period_end, notes)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, c.ID, c.TemplateID, c.CompletedBy, c.CompletedAt, zeroAsNull(c.PeriodStart), zeroAsNull(c.PeriodEnd), c.Notes)
	if err != nil {
		return c, err
	}
	return c, nil
}

// DeleteCompletion removes a completion record (the "undo" action).
func (db *SQLite) DeleteCompletion(ctx context.Context, id string) error {
	res, err := db.conn.ExecContext(ctx, "DELETE FROM completions WHERE id = ?", id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// ListCompletions returns all completion records in insertion order.
func (db *SQLite) ListCompletions(ctx context.Context) ([]model.Completion, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, template_id, completed_by, completed_at, period_start, period_end, notes
		FROM completions ORDER BY rowid
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]model.Completion, 0)
	for rows.Next() {
		var (
			c          model.Completion
			start, end sql.NullTime
		)
		if err := rows.Scan(&c.ID, &c.TemplateID, &c.CompletedBy, &c.CompletedAt, &start, &end, &c.Notes); err != nil {
			return nil, err
		}
		if start.Valid {
			c.PeriodStart = start.Time
		}
		if end.Valid {
			c.PeriodEnd = end.Time
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Snapshot reads templates and completions for one pipeline run.
func (db *SQLite) Snapshot(ctx context.Context) (model.Snapshot, error) {
	templates, err := db.ListTemplates(ctx)
	if err != nil {
		return model.Snapshot{}, fmt.Errorf("list templates: %w", err)
	}
	completions, err := db.ListCompletions(ctx)
	if err != nil {
		return model.Snapshot{}, fmt.Errorf("list completions: %w", err)
	}
	return model.Snapshot{Templates: templates, Completions: completions}, nil
}

// Import writes every template and completion of snap, replacing
// templates with the same id and skipping completions whose id exists.
func (db *SQLite) Import(ctx context.Context, snap model.Snapshot) error {
	for _, t := range snap.Templates {
		if err := db.PutTemplate(ctx, t); err != nil {
			return fmt.Errorf("import template %s: %w", t.ID, err)
		}
	}
	for _, c := range snap.Completions {
		if c.ID != "" {
			var exists int
			err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM completions WHERE id = ?", c.ID).Scan(&exists)
			if err != nil {
				return err
			}
			if exists > 0 {
				continue
			}
		}
		if _, err := db.CreateCompletion(ctx, c); err != nil {
			return fmt.Errorf("import completion %s: %w", c.ID, err)
		}
	}
	return nil
}

// Dismissals returns the dismissal key-value view of the database.
func (db *SQLite) Dismissals() *Dismissals {
	return &Dismissals{db: db}
}

// Dismissals implements alert.Store on the dismissals table.
type Dismissals struct {
	db *SQLite
}

func (d *Dismissals) Get(key string) (string, bool, error) {
	var value string
	err := d.db.conn.QueryRow("SELECT value FROM dismissals WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (d *Dismissals) Set(key, value string) error {
	_, err := d.db.conn.Exec("INSERT OR REPLACE INTO dismissals (key, value) VALUES (?, ?)", key, value)
	return err
}

func (d *Dismissals) List() (map[string]string, error) {
	rows, err := d.db.conn.Query("SELECT key, value FROM dismissals")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil || t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func zeroAsNull(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
