package db

import (
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
)

func TestExtractDuplicateKeyName(t *testing.T) {
	tests := []struct {
		msg  string
		want string
	}{
		{"Duplicate entry '3-7' for key 'ranks.PRIMARY'", "ranks.PRIMARY"},
		{"Duplicate entry 'x' for key `uniq_name`", "uniq_name"},
		{"something else", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := ExtractDuplicateKeyName(tt.msg); got != tt.want {
			t.Fatalf("ExtractDuplicateKeyName(%q) = %q, want %q", tt.msg, got, tt.want)
		}
	}
}

func TestErrorClassification(t *testing.T) {
	dup := fmt.Errorf("exec failed: %w", &mysql.MySQLError{Number: 1062, Message: "Duplicate entry '1' for key 'PRIMARY'"})
	if key, ok := UniqueViolation(dup); !ok || key != "PRIMARY" {
		t.Fatalf("UniqueViolation = %q, %v", key, ok)
	}
	if IsRetryable(dup) {
		t.Fatalf("duplicate key must not be retryable")
	}
	if !IsRetryable(fmt.Errorf("commit failed: %w", &mysql.MySQLError{Number: 1213})) {
		t.Fatalf("deadlock must be retryable")
	}
	if !IsNoRows(fmt.Errorf("scan failed: %w", sql.ErrNoRows)) {
		t.Fatalf("wrapped ErrNoRows not detected")
	}
}

func TestNormalizeDSN(t *testing.T) {
	dsn, err := NormalizeDSN("simoj:secret@tcp(127.0.0.1:3306)/simoj")
	if err != nil {
		t.Fatalf("NormalizeDSN: %v", err)
	}
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		t.Fatalf("reparse: %v", err)
	}
	if !cfg.ParseTime || cfg.Loc != time.UTC {
		t.Fatalf("parseTime/loc not forced: %+v", cfg)
	}
	if _, err := NormalizeDSN("not a dsn"); err == nil {
		t.Fatalf("expected error for malformed dsn")
	}
}

func TestConvertTxOptions(t *testing.T) {
	if ConvertTxOptions(nil) != nil {
		t.Fatalf("nil options must stay nil")
	}
	got := ConvertTxOptions(&TxOptions{Isolation: IsolationSerializable, ReadOnly: true})
	if got.Isolation != sql.LevelSerializable || !got.ReadOnly {
		t.Fatalf("unexpected options: %+v", got)
	}
}
