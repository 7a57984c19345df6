package db

import (
	"encoding/json"
	"strings"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Dialect names as reported by the gorm dialectors.
const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"
)

// DialectName returns the dialect of conn, or "" when conn is nil.
func DialectName(conn *gorm.DB) string {
	if conn == nil || conn.Dialector == nil {
		return ""
	}
	return conn.Dialector.Name()
}

// IsSQLite reports whether conn talks to SQLite.
func IsSQLite(conn *gorm.DB) bool {
	return DialectName(conn) == DialectSQLite
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// MatchAny builds a case-insensitive substring filter over columns. The search
// text is matched literally; LIKE wildcards in it are escaped.
func MatchAny(conn *gorm.DB, search string, columns ...string) (string, []any) {
	search = strings.TrimSpace(search)
	if search == "" || len(columns) == 0 {
		return "", nil
	}
	op := "ILIKE"
	if IsSQLite(conn) {
		op = "LIKE"
		search = strings.ToLower(search)
	}
	pattern := "%" + likeEscaper.Replace(search) + "%"

	terms := make([]string, 0, len(columns))
	args := make([]any, 0, len(columns))
	for _, column := range columns {
		if IsSQLite(conn) {
			column = "LOWER(" + column + ")"
		}
		terms = append(terms, column+" "+op+` ? ESCAPE '\'`)
		args = append(args, pattern)
	}
	return "(" + strings.Join(terms, " OR ") + ")", args
}

// HasTag builds a filter matching rows whose JSON string array column holds tag.
func HasTag(conn *gorm.DB, column, tag string) (string, any) {
	if IsSQLite(conn) {
		return "EXISTS (SELECT 1 FROM json_each(" + column + ") WHERE value = ?)", tag
	}
	encoded, _ := json.Marshal([]string{tag})
	return column + " @> ?", datatypes.JSON(encoded)
}

// WithRowLock adds SELECT ... FOR UPDATE where the dialect supports it.
// SQLite serializes writers instead.
func WithRowLock(conn *gorm.DB) *gorm.DB {
	if IsSQLite(conn) {
		return conn
	}
	return conn.Clauses(clause.Locking{Strength: "UPDATE"})
}
