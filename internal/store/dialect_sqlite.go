package store

import (
	"fmt"
	"strings"
)

// SQLiteDialect implements Dialect for SQLite via modernc.org/sqlite.
type SQLiteDialect struct{}

func (d *SQLiteDialect) Name() string       { return "sqlite" }
func (d *SQLiteDialect) DriverName() string { return "sqlite" }

func (d *SQLiteDialect) NewParamBuilder() ParamBuilder {
	return &sqliteParamBuilder{}
}

func (d *SQLiteDialect) NowExpr() string    { return "datetime('now')" }
func (d *SQLiteDialect) NeedsBoolFix() bool { return true }

// SQLite's scalar max() takes multiple arguments and behaves like greatest.
func (d *SQLiteDialect) GreatestExpr(args []string) string {
	if len(args) == 1 {
		return args[0]
	}
	return "max(" + strings.Join(args, ", ") + ")"
}

// SQLite stores timestamps as ISO-8601 text, which compares correctly
// as-is; the cast keeps the expression shape uniform across dialects.
func (d *SQLiteDialect) CastTimestamp(expr string) string {
	return "cast(" + expr + " as text)"
}

func (d *SQLiteDialect) InExpr(field string, pb ParamBuilder, values []any) string {
	if len(values) == 0 {
		return "1=0"
	}
	phs := make([]string, len(values))
	for i, v := range values {
		phs[i] = pb.Add(v)
	}
	return fmt.Sprintf("%s IN (%s)", field, strings.Join(phs, ", "))
}

func (d *SQLiteDialect) NotInExpr(field string, pb ParamBuilder, values []any) string {
	if len(values) == 0 {
		return "1=1"
	}
	phs := make([]string, len(values))
	for i, v := range values {
		phs[i] = pb.Add(v)
	}
	return fmt.Sprintf("%s NOT IN (%s)", field, strings.Join(phs, ", "))
}

func (d *SQLiteDialect) InfoTableSQL() string {
	return `CREATE TABLE IF NOT EXISTS infos (
	id TEXT PRIMARY KEY,
	created_at DATETIME,
	created_by TEXT,
	updated_at DATETIME,
	updated_by TEXT,
	deleted_at DATETIME,
	deleted_by TEXT
)`
}

func (d *SQLiteDialect) MapError(err error) error {
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return fmt.Errorf("%w: %v", ErrUniqueViolation, err)
	}
	return err
}
