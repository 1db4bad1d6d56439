package migrations

import (
	"io/fs"
	"strings"
	"testing"
)

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	entries, err := fs.ReadDir(files, ".")
	if err != nil {
		t.Fatalf("read embedded dir: %v", err)
	}
	ups := map[string]bool{}
	downs := map[string]bool{}
	for _, e := range entries {
		name := e.Name()
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		}
	}
	if len(ups) == 0 {
		t.Fatalf("no migrations embedded")
	}
	for name := range ups {
		if !downs[name] {
			t.Fatalf("migration %s has no down file", name)
		}
	}
}

func TestInitSchemaUsesInnoDBAndSeedsRoot(t *testing.T) {
	data, err := fs.ReadFile(files, "000001_init_schema.up.sql")
	if err != nil {
		t.Fatalf("read init schema: %v", err)
	}
	sql := string(data)
	if strings.Count(sql, "CREATE TABLE") != strings.Count(sql, "ENGINE=InnoDB") {
		t.Fatalf("every table must use InnoDB")
	}
	if !strings.Contains(sql, "INSERT IGNORE INTO `rounds`") {
		t.Fatalf("root round seed missing")
	}
}
