package db

import (
	"fmt"
	"strings"

	"gorm.io/gorm"
)

// Dialect identifiers supported by the database layer.
const (
	// DialectPostgres is the PostgreSQL dialect name.
	DialectPostgres = "postgres"
	// DialectSQLite is the SQLite dialect name.
	DialectSQLite = "sqlite"
)

// DialectName returns the active database dialect name.
func DialectName(conn *gorm.DB) string {
	if conn == nil || conn.Dialector == nil {
		return ""
	}
	return conn.Dialector.Name()
}

// IsSQLite reports whether the connection uses SQLite.
func IsSQLite(conn *gorm.DB) bool {
	return DialectName(conn) == DialectSQLite
}

// CaseInsensitiveLikeExpr returns a SQL expression for case-insensitive LIKE.
func CaseInsensitiveLikeExpr(conn *gorm.DB, column string) string {
	if IsSQLite(conn) {
		return fmt.Sprintf("LOWER(%s) LIKE ?", column)
	}
	return fmt.Sprintf("%s ILIKE ?", column)
}

// NormalizeLikePattern normalizes a LIKE pattern for the current dialect.
func NormalizeLikePattern(conn *gorm.DB, pattern string) string {
	if IsSQLite(conn) {
		return strings.ToLower(pattern)
	}
	return pattern
}

// bucketFormats maps a calendar unit to the dialect-specific format
// strings that render a timestamp column as its bucket label. Both
// dialects produce the same canonical label for the same instant.
var bucketFormats = map[string]struct {
	sqlite   string // strftime format
	postgres string // to_char format
}{
	"month":  {"%Y-%m", "YYYY-MM"},
	"day":    {"%Y-%m-%d", "YYYY-MM-DD"},
	"hour":   {"%Y-%m-%d %H", "YYYY-MM-DD HH24"},
	"minute": {"%Y-%m-%d %H:%M", "YYYY-MM-DD HH24:MI"},
	"second": {"%Y-%m-%d %H:%M:%S", "YYYY-MM-DD HH24:MI:SS"},
}

// BucketExpr returns a SQL expression that truncates a timestamp column
// to the given calendar unit and renders it as a canonical string
// label, e.g. "2026-08-31 14" for unit "hour". Supported units are
// month, day, hour, minute, and second.
func BucketExpr(conn *gorm.DB, column, unit string) (string, error) {
	formats, ok := bucketFormats[unit]
	if !ok {
		return "", fmt.Errorf("db: unsupported bucket unit: %s", unit)
	}
	if IsSQLite(conn) {
		return fmt.Sprintf("strftime('%s', %s)", formats.sqlite, column), nil
	}
	return fmt.Sprintf("to_char(date_trunc('%s', %s), '%s')", unit, column, formats.postgres), nil
}
