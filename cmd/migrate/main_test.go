package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFilePattern(t *testing.T) {
	tests := []struct {
		filename string
		valid    bool
		version  string
		name     string
	}{
		{"0001_init.sql", true, "0001", "init"},
		{"002_add_pollers.sql", true, "002", "add_pollers"},
		{"0010_backfill_audit.sql", true, "0010", "backfill_audit"},
		{"01_too_short.sql", false, "", ""},
		{"0001_missing_ext", false, "", ""},
		{"0001.sql", false, "", ""},
		{"init_0001.sql", false, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			matches := filePattern.FindStringSubmatch(tt.filename)
			if (matches != nil) != tt.valid {
				t.Fatalf("match = %v, want valid = %v", matches != nil, tt.valid)
			}
			if !tt.valid {
				return
			}
			if matches[1] != tt.version || matches[2] != tt.name {
				t.Errorf("parsed (%s, %s), want (%s, %s)", matches[1], matches[2], tt.version, tt.name)
			}
		})
	}
}

func TestReadMigrations(t *testing.T) {
	dir := t.TempDir()
	write := func(name, sql string) {
		t.Helper()
		if err := os.WriteFile(filepath.Join(dir, name), []byte(sql), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}

	// Out of lexical order on purpose; versions must still come back sorted.
	write("0010_add_pollers.sql", "CREATE TABLE statement_pollers (id UUID PRIMARY KEY);")
	write("0001_init.sql", "CREATE TABLE payments (id UUID PRIMARY KEY);")
	write("README.md", "not a migration")
	write("0002_init.sql", "CREATE TABLE groups (id UUID PRIMARY KEY);")

	migrations, err := readMigrations(dir)
	if err != nil {
		t.Fatalf("readMigrations: %v", err)
	}
	if len(migrations) != 3 {
		t.Fatalf("got %d migrations, want 3", len(migrations))
	}

	wantOrder := []int{1, 2, 10}
	for i, m := range migrations {
		if m.Version != wantOrder[i] {
			t.Errorf("migrations[%d].Version = %d, want %d", i, m.Version, wantOrder[i])
		}
		if m.Checksum == "" || len(m.Checksum) != 64 {
			t.Errorf("migrations[%d] checksum %q, want 64 hex chars", i, m.Checksum)
		}
	}
	if migrations[0].Name != "init" {
		t.Errorf("first migration name = %s, want init", migrations[0].Name)
	}
	if migrations[0].Checksum == migrations[2].Checksum {
		t.Error("different migration contents produced the same checksum")
	}
}

func TestReadMigrations_ChecksumStable(t *testing.T) {
	sql := "CREATE TABLE ledger_entries (id UUID PRIMARY KEY);"

	dirA := t.TempDir()
	dirB := t.TempDir()
	for _, dir := range []string{dirA, dirB} {
		if err := os.WriteFile(filepath.Join(dir, "0001_init.sql"), []byte(sql), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	a, err := readMigrations(dirA)
	if err != nil {
		t.Fatalf("readMigrations: %v", err)
	}
	b, err := readMigrations(dirB)
	if err != nil {
		t.Fatalf("readMigrations: %v", err)
	}
	if a[0].Checksum != b[0].Checksum {
		t.Errorf("checksums differ for identical content: %s vs %s", a[0].Checksum, b[0].Checksum)
	}
}
