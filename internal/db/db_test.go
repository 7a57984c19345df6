package db

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/casedesk/casedesk-api/internal/models"
)

func TestOpenAndMigrate_SQLite(t *testing.T) {
	dsn := "file:" + filepath.Join(t.TempDir(), "casedesk.db")
	conn, err := Open(dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if !IsSQLite(conn) {
		t.Fatalf("expected sqlite dialect, got %q", DialectName(conn))
	}
	if errMigrate := Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	// Migrations are re-runnable.
	if errMigrate := Migrate(conn); errMigrate != nil {
		t.Fatalf("second migrate: %v", errMigrate)
	}
	for _, model := range []any{&models.Profile{}, &models.Client{}, &models.Case{}, &models.Document{}, &models.Invoice{}, &models.SweepRun{}} {
		if !conn.Migrator().HasTable(model) {
			t.Fatalf("expected table for %T", model)
		}
	}
}

func TestBuildSQLiteDSN(t *testing.T) {
	got := BuildSQLiteDSN("data/casedesk.db")
	if !strings.HasPrefix(got, "file:data/casedesk.db?") {
		t.Fatalf("unexpected dsn prefix: %q", got)
	}
	if !strings.Contains(got, "_pragma=busy_timeout(5000)") {
		t.Fatalf("expected busy timeout pragma: %q", got)
	}

	withQuery := BuildSQLiteDSN("file:x.db?mode=rwc")
	if !strings.Contains(withQuery, "?mode=rwc&_pragma=") {
		t.Fatalf("expected pragmas appended with &: %q", withQuery)
	}

	explicit := "file:x.db?_pragma=busy_timeout(100)"
	if BuildSQLiteDSN(explicit) != explicit {
		t.Fatalf("expected explicit pragmas to be kept")
	}
}

func TestIsSQLiteDSN(t *testing.T) {
	cases := map[string]bool{
		"file:casedesk.db":                 true,
		"./casedesk.sqlite":                true,
		"postgres://u:p@localhost:5432/db": false,
		"host=localhost user=u dbname=d":   false,
	}
	for dsn, want := range cases {
		if got := IsSQLiteDSN(dsn); got != want {
			t.Fatalf("IsSQLiteDSN(%q)=%v, want %v", dsn, got, want)
		}
	}
}

func TestMatchAnyAndHasTag_SQLite(t *testing.T) {
	conn, err := Open("file:" + filepath.Join(t.TempDir(), "filters.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if errMigrate := Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	for _, name := range []string{"50% Off Ltd", "500 Offices", "Acme"} {
		if errCreate := conn.Create(&models.Client{ProfileID: "p1", Name: name}).Error; errCreate != nil {
			t.Fatalf("create client: %v", errCreate)
		}
	}

	expr, args := MatchAny(conn, "50%", "name", "company")
	var names []string
	if errFind := conn.Model(&models.Client{}).Where(expr, args...).Pluck("name", &names).Error; errFind != nil {
		t.Fatalf("match: %v", errFind)
	}
	if len(names) != 1 || names[0] != "50% Off Ltd" {
		t.Fatalf("expected literal %% match only, got %v", names)
	}

	expr, args = MatchAny(conn, "ACME", "name")
	var count int64
	if errCount := conn.Model(&models.Client{}).Where(expr, args...).Count(&count).Error; errCount != nil {
		t.Fatalf("count: %v", errCount)
	}
	if count != 1 {
		t.Fatalf("expected case-insensitive match, got %d", count)
	}

	if expr, _ := MatchAny(conn, "  "); expr != "" {
		t.Fatalf("expected empty filter for blank search, got %q", expr)
	}

	doc := models.Document{ProfileID: "p1", Name: "retainer.pdf", Tags: []byte(`["contract","signed"]`)}
	if errCreate := conn.Create(&doc).Error; errCreate != nil {
		t.Fatalf("create document: %v", errCreate)
	}
	tagExpr, tagArg := HasTag(conn, "tags", "signed")
	if errCount := conn.Model(&models.Document{}).Where(tagExpr, tagArg).Count(&count).Error; errCount != nil {
		t.Fatalf("tag count: %v", errCount)
	}
	if count != 1 {
		t.Fatalf("expected tagged document, got %d", count)
	}
}
