package db

import (
	"errors"
	"testing"

	"github.com/router-for-me/CreditLedger/internal/models"
)

func TestMigrateCreatesLedgerTables(t *testing.T) {
	conn, errOpen := Open(":memory:")
	if errOpen != nil {
		t.Fatalf("open db: %v", errOpen)
	}
	if errMigrate := Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}

	for _, table := range []string{
		"users", "wallets", "credit_transactions", "model_rates", "usage_events",
		"limits", "postpaid_cycles", "referrals", "grants", "payment_events", "settings",
	} {
		if !conn.Migrator().HasTable(table) {
			t.Fatalf("missing table %s", table)
		}
	}
	if !conn.Migrator().HasColumn("wallets", "version") {
		t.Fatalf("wallets missing version column")
	}
}

func TestIsUniqueViolation(t *testing.T) {
	conn, errOpen := Open(":memory:")
	if errOpen != nil {
		t.Fatalf("open db: %v", errOpen)
	}
	if errMigrate := Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	requestID := "req-1"
	first := models.UsageEvent{UserID: 1, ModelID: "m", RequestID: &requestID, Status: models.UsageEventStatusUnbilled}
	if errCreate := conn.Create(&first).Error; errCreate != nil {
		t.Fatalf("create first: %v", errCreate)
	}
	second := models.UsageEvent{UserID: 2, ModelID: "m", RequestID: &requestID, Status: models.UsageEventStatusUnbilled}
	errCreate := conn.Create(&second).Error
	if !IsUniqueViolation(errCreate) {
		t.Fatalf("expected unique violation, got %v", errCreate)
	}
	if IsUniqueViolation(nil) || IsUniqueViolation(errors.New("boom")) {
		t.Fatalf("unrelated errors must not match")
	}
}

func TestMigrateIsRepeatable(t *testing.T) {
	conn, errOpen := Open(":memory:")
	if errOpen != nil {
		t.Fatalf("open db: %v", errOpen)
	}
	for i := 0; i < 2; i++ {
		if errMigrate := Migrate(conn); errMigrate != nil {
			t.Fatalf("migrate run %d: %v", i+1, errMigrate)
		}
	}
}

func TestDetectDialectFromDSN(t *testing.T) {
	cases := []struct {
		dsn  string
		want string
	}{
		{"postgres://u:p@localhost:5432/ledger", DialectPostgres},
		{"host=localhost user=u dbname=ledger", DialectPostgres},
		{"file:data/ledger.db", DialectSQLite},
		{"sqlite://data/ledger.db", DialectSQLite},
		{":memory:", DialectSQLite},
		{"data/ledger.db", DialectSQLite},
	}
	for _, tc := range cases {
		got, err := detectDialectFromDSN(tc.dsn)
		if err != nil {
			t.Fatalf("detect %q: %v", tc.dsn, err)
		}
		if got != tc.want {
			t.Fatalf("detect %q: expected %s, got %s", tc.dsn, tc.want, got)
		}
	}
	if _, err := detectDialectFromDSN("mysql://localhost/ledger"); err == nil {
		t.Fatalf("expected error for unsupported dsn")
	}
}

func TestSQLitePathFromDSN(t *testing.T) {
	if got := sqlitePathFromDSN("file:data/ledger.db?_pragma=busy_timeout(5000)"); got != "data/ledger.db" {
		t.Fatalf("expected data/ledger.db, got %q", got)
	}
	if got := sqlitePathFromDSN(":memory:"); got != "" {
		t.Fatalf("expected empty path for memory dsn, got %q", got)
	}
}
