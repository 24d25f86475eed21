// Package sqlite provides a SQLite store backend. Criteria expressions
// are translated to parameterized WHERE clauses; table structure is
// introspected through PRAGMA table_info and feeds the structure
// registry of repositories bound to this store.
package sqlite

import (
	"database/sql"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"repomap"
	"repomap/criteria"
	"repomap/schema"
)

// Store is a SQLite-backed repomap.Store.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ repomap.Store = (*Store)(nil)

// Open opens (or creates) the SQLite database at path and configures it
// for concurrent access.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to execute %s: %w", pragma, err)
		}
	}

	return &Store{
		db:     db,
		logger: slog.Default().With("store", "sqlite", "path", path),
	}, nil
}

// DB exposes the underlying database handle, e.g. for schema setup in
// tests.
func (s *Store) DB() *sql.DB { return s.db }

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// quoteIdent validates and quotes a collection or field name. Names
// come from structure declarations and criteria keys, so they are
// checked rather than trusted.
func quoteIdent(name string) (string, error) {
	if !identifierPattern.MatchString(name) {
		return "", fmt.Errorf("invalid identifier %q", name)
	}
	return `"` + name + `"`, nil
}

// buildWhere translates a criteria expression into a WHERE fragment
// with ? placeholders, appending bind values to args. A nil expression
// matches everything.
func buildWhere(expr *criteria.Expression, args *[]any) (string, error) {
	if expr == nil {
		return "1=1", nil
	}

	if expr.IsLogic() {
		parts := make([]string, 0, len(expr.Children))
		for _, child := range expr.Children {
			part, err := buildWhere(child, args)
			if err != nil {
				return "", err
			}
			parts = append(parts, part)
		}
		joiner := " AND "
		if expr.Op == criteria.OpOr {
			joiner = " OR "
		}
		return "(" + strings.Join(parts, joiner) + ")", nil
	}

	column, err := quoteIdent(expr.Field)
	if err != nil {
		return "", err
	}

	switch expr.Op {
	case criteria.OpEq:
		if expr.Value == nil {
			return column + " IS NULL", nil
		}
		*args = append(*args, expr.Value)
		return column + " = ?", nil
	case criteria.OpNeq:
		if expr.Value == nil {
			return column + " IS NOT NULL", nil
		}
		*args = append(*args, expr.Value)
		return column + " <> ?", nil
	case criteria.OpGt:
		*args = append(*args, expr.Value)
		return column + " > ?", nil
	case criteria.OpGte:
		*args = append(*args, expr.Value)
		return column + " >= ?", nil
	case criteria.OpLt:
		*args = append(*args, expr.Value)
		return column + " < ?", nil
	case criteria.OpLte:
		*args = append(*args, expr.Value)
		return column + " <= ?", nil
	case criteria.OpLike:
		*args = append(*args, expr.Value)
		return column + " LIKE ?", nil
	case criteria.OpIn, criteria.OpNin:
		values, ok := expr.Value.([]any)
		if !ok {
			return "", fmt.Errorf("%s on %q requires a set value", expr.Op, expr.Field)
		}
		if len(values) == 0 {
			// Empty set: IN matches nothing, NOT IN matches everything.
			if expr.Op == criteria.OpIn {
				return "1=0", nil
			}
			return "1=1", nil
		}
		placeholders := make([]string, len(values))
		for i, v := range values {
			*args = append(*args, v)
			placeholders[i] = "?"
		}
		keyword := " IN "
		if expr.Op == criteria.OpNin {
			keyword = " NOT IN "
		}
		return column + keyword + "(" + strings.Join(placeholders, ", ") + ")", nil
	}
	return "", fmt.Errorf("unsupported operator %q", expr.Op)
}

func buildTail(params repomap.Params) (string, error) {
	var tail strings.Builder
	if len(params.OrderBy) > 0 {
		clauses := make([]string, 0, len(params.OrderBy))
		for _, clause := range params.OrderBy {
			column, err := quoteIdent(clause.Field)
			if err != nil {
				return "", err
			}
			direction := "ASC"
			if clause.Descending {
				direction = "DESC"
			}
			clauses = append(clauses, column+" "+direction)
		}
		tail.WriteString(" ORDER BY " + strings.Join(clauses, ", "))
	}
	if params.Limit > 0 {
		fmt.Fprintf(&tail, " LIMIT %d", params.Limit)
	}
	if params.Offset > 0 {
		if params.Limit <= 0 {
			tail.WriteString(" LIMIT -1")
		}
		fmt.Fprintf(&tail, " OFFSET %d", params.Offset)
	}
	return tail.String(), nil
}

func (s *Store) Find(collection string, expr *criteria.Expression, params repomap.Params) ([]map[string]any, error) {
	table, err := quoteIdent(collection)
	if err != nil {
		return nil, err
	}
	var args []any
	where, err := buildWhere(expr, &args)
	if err != nil {
		return nil, err
	}
	tail, err := buildTail(params)
	if err != nil {
		return nil, err
	}

	query := "SELECT * FROM " + table + " WHERE " + where + tail
	s.logger.Debug("find", "query", query)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	results := make([]map[string]any, 0)
	for rows.Next() {
		values := make([]any, len(columns))
		pointers := make([]any, len(columns))
		for i := range values {
			pointers[i] = &values[i]
		}
		if err := rows.Scan(pointers...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		record := make(map[string]any, len(columns))
		for i, column := range columns {
			if b, ok := values[i].([]byte); ok {
				record[column] = string(b)
				continue
			}
			record[column] = values[i]
		}
		results = append(results, record)
	}
	return results, rows.Err()
}

func (s *Store) FindOne(collection string, expr *criteria.Expression, params repomap.Params) (map[string]any, error) {
	params.Limit = 1
	records, err := s.Find(collection, expr, params)
	if err != nil || len(records) == 0 {
		return nil, err
	}
	return records[0], nil
}

func (s *Store) Count(collection string, expr *criteria.Expression) (int64, error) {
	table, err := quoteIdent(collection)
	if err != nil {
		return 0, err
	}
	var args []any
	where, err := buildWhere(expr, &args)
	if err != nil {
		return 0, err
	}

	var count int64
	row := s.db.QueryRow("SELECT COUNT(*) FROM "+table+" WHERE "+where, args...)
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count: %w", err)
	}
	return count, nil
}

func (s *Store) Add(collection string, record map[string]any) (any, error) {
	table, err := quoteIdent(collection)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(record))
	for name := range record {
		names = append(names, name)
	}
	sort.Strings(names)

	columns := make([]string, 0, len(names))
	placeholders := make([]string, 0, len(names))
	args := make([]any, 0, len(names))
	for _, name := range names {
		column, err := quoteIdent(name)
		if err != nil {
			return nil, err
		}
		columns = append(columns, column)
		placeholders = append(placeholders, "?")
		args = append(args, record[name])
	}

	query := "INSERT INTO " + table + " (" + strings.Join(columns, ", ") + ") VALUES (" + strings.Join(placeholders, ", ") + ")"
	result, err := s.db.Exec(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to insert: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read inserted id: %w", err)
	}
	return id, nil
}

func (s *Store) Update(collection string, expr *criteria.Expression, record map[string]any) (int64, error) {
	table, err := quoteIdent(collection)
	if err != nil {
		return 0, err
	}

	names := make([]string, 0, len(record))
	for name := range record {
		names = append(names, name)
	}
	sort.Strings(names)

	assignments := make([]string, 0, len(names))
	args := make([]any, 0, len(names))
	for _, name := range names {
		column, err := quoteIdent(name)
		if err != nil {
			return 0, err
		}
		assignments = append(assignments, column+" = ?")
		args = append(args, record[name])
	}

	where, err := buildWhere(expr, &args)
	if err != nil {
		return 0, err
	}

	query := "UPDATE " + table + " SET " + strings.Join(assignments, ", ") + " WHERE " + where
	result, err := s.db.Exec(query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to update: %w", err)
	}
	return result.RowsAffected()
}

func (s *Store) Delete(collection string, expr *criteria.Expression) (int64, error) {
	table, err := quoteIdent(collection)
	if err != nil {
		return 0, err
	}
	var args []any
	where, err := buildWhere(expr, &args)
	if err != nil {
		return 0, err
	}

	result, err := s.db.Exec("DELETE FROM "+table+" WHERE "+where, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete: %w", err)
	}
	return result.RowsAffected()
}

// Structure introspects the table's columns through PRAGMA table_info.
// Column types map onto field kinds; NOT NULL columns become required
// fields. An unknown table yields an empty structure.
func (s *Store) Structure(collection string) (schema.Structure, error) {
	table, err := quoteIdent(collection)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.Query("PRAGMA table_info(" + table + ")")
	if err != nil {
		return nil, fmt.Errorf("failed to introspect %s: %w", collection, err)
	}
	defer func() { _ = rows.Close() }()

	structure := schema.Structure{}
	for rows.Next() {
		var (
			cid          int
			name, ctype  string
			notNull, pk  int
			defaultValue sql.NullString
		)
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &defaultValue, &pk); err != nil {
			return nil, fmt.Errorf("failed to scan column info: %w", err)
		}

		field := schema.Field{
			Name:     name,
			Kind:     kindOfColumnType(ctype),
			Required: notNull == 1 && pk == 0,
		}
		if defaultValue.Valid {
			field.Default = defaultValue.String
		}
		structure[name] = field
	}
	return structure, rows.Err()
}

func kindOfColumnType(ctype string) schema.Kind {
	ctype = strings.ToUpper(ctype)
	switch {
	case strings.Contains(ctype, "INT"):
		return schema.Int
	case strings.Contains(ctype, "CHAR"), strings.Contains(ctype, "TEXT"), strings.Contains(ctype, "CLOB"):
		return schema.String
	case strings.Contains(ctype, "REAL"), strings.Contains(ctype, "FLOA"), strings.Contains(ctype, "DOUB"), strings.Contains(ctype, "NUMERIC"), strings.Contains(ctype, "DECIMAL"):
		return schema.Float
	case strings.Contains(ctype, "BOOL"):
		return schema.Bool
	}
	return schema.Other
}

// DidBindToRepository verifies the bound collection exists as a table.
func (s *Store) DidBindToRepository(r *repomap.Repository) error {
	var count int
	row := s.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", r.Collection())
	if err := row.Scan(&count); err != nil {
		return err
	}
	if count == 0 {
		s.logger.Warn("bound to missing table", "collection", r.Collection())
	}
	return nil
}
