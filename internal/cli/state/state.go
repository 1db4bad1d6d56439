package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Identity is the user the CLI acts as between sessions.
type Identity struct {
	UserID int64 `json:"user_id"`
}

func Load(path string) (Identity, error) {
	var id Identity
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return id, nil
		}
		return id, fmt.Errorf("read identity state failed: %w", err)
	}
	if len(data) == 0 {
		return id, nil
	}
	if err := json.Unmarshal(data, &id); err != nil {
		return id, fmt.Errorf("parse identity state failed: %w", err)
	}
	return id, nil
}

func Save(path string, id Identity) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create identity state dir failed: %w", err)
	}
	data, err := json.MarshalIndent(id, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal identity state failed: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write identity state failed: %w", err)
	}
	return nil
}

func Clear(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove identity state failed: %w", err)
	}
	return nil
}
