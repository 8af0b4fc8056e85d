package backing

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"workshop-sync/internal/models"
	"workshop-sync/internal/util"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

var identPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Postgres implements Store over a Postgres database.
type Postgres struct {
	db *sqlx.DB
}

// NewPostgres connects to the database and verifies the connection.
func NewPostgres(databaseURL string) (*Postgres, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Postgres{db: db}, nil
}

// Close closes the database connection.
func (p *Postgres) Close() error {
	return p.db.Close()
}

// Select reads rows from a table according to opts.
func (p *Postgres) Select(ctx context.Context, table string, opts SelectOptions) ([]models.Row, error) {
	ctx, span := util.StartSpan(ctx, "backing.Select")
	defer span.End()

	if !identPattern.MatchString(table) {
		return nil, fmt.Errorf("%w: %q", ErrBadIdentifier, table)
	}
	util.FetchesTotal.WithLabelValues(table).Inc()

	var (
		clauses []string
		args    []any
	)

	for _, col := range sortedKeys(opts.Filter) {
		if !identPattern.MatchString(col) {
			return nil, fmt.Errorf("%w: %q", ErrBadIdentifier, col)
		}
		clauses = append(clauses, col+" = ?")
		args = append(args, opts.Filter[col])
	}
	for _, col := range sortedKeys(opts.In) {
		if !identPattern.MatchString(col) {
			return nil, fmt.Errorf("%w: %q", ErrBadIdentifier, col)
		}
		clauses = append(clauses, col+" IN (?)")
		args = append(args, opts.In[col])
	}
	for _, col := range sortedKeys(opts.Match) {
		if !identPattern.MatchString(col) {
			return nil, fmt.Errorf("%w: %q", ErrBadIdentifier, col)
		}
		clauses = append(clauses, col+"::text ILIKE ?")
		args = append(args, "%"+opts.Match[col]+"%")
	}
	if r := opts.Range; r != nil {
		if !identPattern.MatchString(r.Column) {
			return nil, fmt.Errorf("%w: %q", ErrBadIdentifier, r.Column)
		}
		if !r.Start.IsZero() {
			clauses = append(clauses, r.Column+" >= ?")
			args = append(args, r.Start)
		}
		if !r.End.IsZero() {
			clauses = append(clauses, r.Column+" < ?")
			args = append(args, r.End)
		}
	}

	query := "SELECT * FROM " + table
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	if opts.OrderBy != "" {
		if !identPattern.MatchString(opts.OrderBy) {
			return nil, fmt.Errorf("%w: %q", ErrBadIdentifier, opts.OrderBy)
		}
		query += " ORDER BY " + opts.OrderBy
		if opts.Descending {
			query += " DESC"
		}
	}
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", opts.Limit)
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", opts.Offset)
	}

	query, expanded, err := sqlx.In(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to expand query: %w", err)
	}
	query = p.db.Rebind(query)

	rows, err := p.db.QueryxContext(ctx, query, expanded...)
	if err != nil {
		util.FetchFailuresTotal.WithLabelValues(table).Inc()
		return nil, fmt.Errorf("select from %s failed: %w", table, err)
	}
	defer rows.Close()

	var out []models.Row
	for rows.Next() {
		row := models.Row{}
		if err := rows.MapScan(row); err != nil {
			return nil, fmt.Errorf("failed to scan row from %s: %w", table, err)
		}
		normalizeRow(row)
		out = append(out, row)
	}
	return out, rows.Err()
}

// Insert writes a new row and returns it as committed.
func (p *Postgres) Insert(ctx context.Context, table string, payload models.Row) (models.Row, error) {
	ctx, span := util.StartSpan(ctx, "backing.Insert")
	defer span.End()

	if !identPattern.MatchString(table) {
		return nil, fmt.Errorf("%w: %q", ErrBadIdentifier, table)
	}

	cols := sortedKeys(payload)
	placeholders := make([]string, 0, len(cols))
	args := make([]any, 0, len(cols))
	for _, col := range cols {
		if !identPattern.MatchString(col) {
			return nil, fmt.Errorf("%w: %q", ErrBadIdentifier, col)
		}
		placeholders = append(placeholders, "?")
		args = append(args, bindValue(payload[col]))
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING *",
		table, strings.Join(cols, ", "), strings.Join(placeholders, ", "))
	query = p.db.Rebind(query)

	row := models.Row{}
	if err := p.db.QueryRowxContext(ctx, query, args...).MapScan(row); err != nil {
		return nil, fmt.Errorf("insert into %s failed: %w", table, err)
	}
	normalizeRow(row)
	return row, nil
}

// Update applies a sparse patch to one row and returns the full committed row.
func (p *Postgres) Update(ctx context.Context, table string, id string, patch models.Row) (models.Row, error) {
	ctx, span := util.StartSpan(ctx, "backing.Update")
	defer span.End()

	if !identPattern.MatchString(table) {
		return nil, fmt.Errorf("%w: %q", ErrBadIdentifier, table)
	}

	sets := make([]string, 0, len(patch)+1)
	args := make([]any, 0, len(patch)+2)
	for _, col := range sortedKeys(patch) {
		if !identPattern.MatchString(col) {
			return nil, fmt.Errorf("%w: %q", ErrBadIdentifier, col)
		}
		sets = append(sets, col+" = ?")
		args = append(args, bindValue(patch[col]))
	}
	sets = append(sets, "updated_at = NOW()")
	args = append(args, id)

	query := fmt.Sprintf("UPDATE %s SET %s WHERE id = ? RETURNING *",
		table, strings.Join(sets, ", "))
	query = p.db.Rebind(query)

	row := models.Row{}
	err := p.db.QueryRowxContext(ctx, query, args...).MapScan(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, table, id)
		}
		return nil, fmt.Errorf("update of %s/%s failed: %w", table, id, err)
	}
	normalizeRow(row)
	return row, nil
}

// Delete removes one row by id.
func (p *Postgres) Delete(ctx context.Context, table string, id string) error {
	ctx, span := util.StartSpan(ctx, "backing.Delete")
	defer span.End()

	if !identPattern.MatchString(table) {
		return fmt.Errorf("%w: %q", ErrBadIdentifier, table)
	}

	query := p.db.Rebind("DELETE FROM " + table + " WHERE id = ?")
	res, err := p.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete of %s/%s failed: %w", table, id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, table, id)
	}
	return nil
}

// normalizeRow rewrites driver byte slices so rows survive a JSON round trip:
// jsonb columns become decoded values, everything else becomes a string.
func normalizeRow(row models.Row) {
	for col, v := range row {
		b, ok := v.([]byte)
		if !ok {
			continue
		}
		trimmed := strings.TrimSpace(string(b))
		if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
			var decoded any
			if err := json.Unmarshal(b, &decoded); err == nil {
				row[col] = decoded
				continue
			}
		}
		row[col] = string(b)
	}
}

// bindValue marshals composite values to JSON so they bind as jsonb.
func bindValue(v any) any {
	switch v.(type) {
	case nil, string, bool, int, int64, float64, time.Time:
		return v
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return v
	}
	return raw
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
